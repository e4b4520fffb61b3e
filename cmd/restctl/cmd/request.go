package cmd

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/spf13/cobra"

	"github.com/ryhazerus/restlimit"
	"github.com/ryhazerus/restlimit/config"
)

type requestFlags struct {
	body     string
	query    []string
	headers  []string
	files    []string
	reason   string
	noAuth   bool
	front    bool
	count    int
	parallel bool
	stats    bool
}

func newRequestCmd(load func() (*config.Config, error)) *cobra.Command {
	var f requestFlags

	c := &cobra.Command{
		Use:   "request METHOD PATH",
		Short: "Send one or more requests and print the responses",
		Long: `Send METHOD PATH through the rate limiter and print each JSON response.

PATH is relative to the versioned API root, e.g. /channels/123/messages.
With --count the request is repeated, sequentially or with --parallel all at
once, so the bucket and global limits can be watched in action.

Example:
  restctl request POST /channels/123456789012345678/messages \
    --body '{"content":"hello"}' --file ./report.txt`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRequest(cmd, load, f, strings.ToUpper(args[0]), args[1])
		},
	}

	fl := c.Flags()
	fl.StringVar(&f.body, "body", "", "JSON request body")
	fl.StringArrayVar(&f.query, "query", nil, "query parameter as key=value (repeatable)")
	fl.StringArrayVar(&f.headers, "header", nil, "extra header as Key: value (repeatable)")
	fl.StringArrayVar(&f.files, "file", nil, "file to attach as a multipart part (repeatable)")
	fl.StringVar(&f.reason, "reason", "", "audit log reason")
	fl.BoolVar(&f.noAuth, "no-auth", false, "send without the Authorization header")
	fl.BoolVar(&f.front, "front", false, "queue ahead of waiting requests")
	fl.IntVar(&f.count, "count", 1, "number of times to send the request")
	fl.BoolVar(&f.parallel, "parallel", false, "send all --count requests at once")
	fl.BoolVar(&f.stats, "stats", false, "print bucket state when done")
	return c
}

func runRequest(cmd *cobra.Command, load func() (*config.Config, error), f requestFlags, method, path string) error {
	if f.count < 1 {
		return errors.New("--count must be at least 1")
	}
	opts, err := f.requestOptions()
	if err != nil {
		return err
	}

	cfg, err := load()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
	defer stop()

	stderr := cmd.ErrOrStderr()
	client, err := cfg.NewClient(ctx, stderr,
		restlimit.WithRateLimitListener(func(d restlimit.RateLimitData) {
			scope := "bucket"
			if d.Global {
				scope = "global"
			}
			fmt.Fprintf(stderr, "rate limited (%s) on %s, waiting %s\n", scope, d.Route, d.Timeout.Round(time.Millisecond))
		}),
	)
	if err != nil {
		return err
	}
	defer client.Close()

	var (
		mu    sync.Mutex
		first error
	)
	out := cmd.OutOrStdout()
	send := func() {
		body, err := client.Request(ctx, method, path, opts)

		mu.Lock()
		defer mu.Unlock()
		if err != nil {
			fmt.Fprintln(stderr, err)
			if first == nil {
				first = err
			}
			return
		}
		printBody(out, body)
	}

	if f.parallel {
		var wg sync.WaitGroup
		for i := 0; i < f.count; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				send()
			}()
		}
		wg.Wait()
	} else {
		for i := 0; i < f.count && ctx.Err() == nil; i++ {
			send()
		}
	}

	if f.stats {
		printStats(stderr, client.Snapshot())
	}
	return first
}

func (f requestFlags) requestOptions() (restlimit.RequestOptions, error) {
	opts := restlimit.RequestOptions{
		NoAuth: f.noAuth,
		Reason: f.reason,
		Front:  f.front,
	}

	if f.body != "" {
		if !json.Valid([]byte(f.body)) {
			return opts, errors.New("--body is not valid JSON")
		}
		opts.Body = json.RawMessage(f.body)
	}

	if len(f.query) > 0 {
		opts.Query = url.Values{}
		for _, kv := range f.query {
			k, v, ok := strings.Cut(kv, "=")
			if !ok {
				return opts, fmt.Errorf("--query %q: want key=value", kv)
			}
			opts.Query.Add(k, v)
		}
	}

	if len(f.headers) > 0 {
		opts.Header = http.Header{}
		for _, kv := range f.headers {
			k, v, ok := strings.Cut(kv, ":")
			if !ok {
				return opts, fmt.Errorf("--header %q: want Key: value", kv)
			}
			opts.Header.Add(strings.TrimSpace(k), strings.TrimSpace(v))
		}
	}

	for _, p := range f.files {
		data, err := os.ReadFile(p)
		if err != nil {
			return opts, fmt.Errorf("--file: %w", err)
		}
		opts.Files = append(opts.Files, restlimit.File{Name: filepath.Base(p), Data: data})
	}
	return opts, nil
}

func printBody(w io.Writer, body json.RawMessage) {
	if body == nil {
		fmt.Fprintln(w, "(no content)")
		return
	}
	var buf bytes.Buffer
	if err := json.Indent(&buf, body, "", "  "); err != nil {
		w.Write(body)
		fmt.Fprintln(w)
		return
	}
	buf.WriteByte('\n')
	buf.WriteTo(w)
}

func printStats(w io.Writer, snap restlimit.Snapshot) {
	if snap.GlobalBlocked {
		fmt.Fprintf(w, "global limit in force until %s\n", snap.GlobalReset.Format(time.RFC3339Nano))
	}
	for _, b := range snap.Buckets {
		reset := "-"
		if !b.Reset.IsZero() {
			reset = time.Until(b.Reset).Round(time.Millisecond).String()
		}
		fmt.Fprintf(w, "%-60s %d/%d reset %s\n", b.ID, b.Remaining, b.Limit, reset)
	}
}
