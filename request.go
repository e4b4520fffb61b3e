package restlimit

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"net/url"
	"strconv"
	"strings"

	"github.com/google/uuid"
)

// File is one binary part of a multipart request.
type File struct {
	// FieldName defaults to "files[n]" where n is the file's index.
	FieldName   string
	Name        string
	ContentType string
	Data        []byte
}

// RequestOptions describe everything about a call besides its method and
// path. The zero value sends an authenticated request without a body.
type RequestOptions struct {
	// Body is encoded as JSON. With files it is sent as the payload_json part.
	Body any

	Query url.Values
	Files []File

	// NoAuth omits the Authorization header.
	NoAuth bool

	// Reason is sent URL-encoded as the audit log reason.
	Reason string

	// Multipart forces multipart encoding even without files.
	Multipart bool

	// Front queues the request ahead of everything already waiting on its
	// bucket.
	Front bool

	Header http.Header
}

// request is one queued call. It is immutable after newRequest; the encoded
// body is reused by every attempt.
type request struct {
	id     string
	method string
	path   string
	route  RouteData
	opts   RequestOptions

	body        []byte
	contentType string

	site callSite
}

func newRequest(method, path string, opts RequestOptions, route RouteData, site callSite) (*request, error) {
	r := &request{
		id:     uuid.NewString(),
		method: strings.ToUpper(method),
		path:   path,
		route:  route,
		opts:   opts,
		site:   site,
	}
	if err := r.encode(); err != nil {
		return nil, err
	}
	return r, nil
}

func (r *request) auth() bool {
	return !r.opts.NoAuth
}

func (r *request) encode() error {
	if len(r.opts.Files) == 0 && !r.opts.Multipart {
		if r.opts.Body == nil {
			return nil
		}
		b, err := json.Marshal(r.opts.Body)
		if err != nil {
			return fmt.Errorf("restlimit: encode body: %w", err)
		}
		r.body, r.contentType = b, "application/json"
		return nil
	}

	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	for i, f := range r.opts.Files {
		field := f.FieldName
		if field == "" {
			field = "files[" + strconv.Itoa(i) + "]"
		}
		h := make(textproto.MIMEHeader)
		h.Set("Content-Disposition", fmt.Sprintf(`form-data; name="%s"; filename="%s"`,
			escapeQuotes(field), escapeQuotes(f.Name)))
		ct := f.ContentType
		if ct == "" {
			ct = http.DetectContentType(f.Data)
		}
		h.Set("Content-Type", ct)

		part, err := w.CreatePart(h)
		if err != nil {
			return fmt.Errorf("restlimit: encode file %s: %w", f.Name, err)
		}
		if _, err := part.Write(f.Data); err != nil {
			return fmt.Errorf("restlimit: encode file %s: %w", f.Name, err)
		}
	}
	if r.opts.Body != nil {
		b, err := json.Marshal(r.opts.Body)
		if err != nil {
			return fmt.Errorf("restlimit: encode body: %w", err)
		}
		if err := w.WriteField("payload_json", string(b)); err != nil {
			return fmt.Errorf("restlimit: encode body: %w", err)
		}
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("restlimit: encode multipart: %w", err)
	}
	r.body, r.contentType = buf.Bytes(), w.FormDataContentType()
	return nil
}

var quoteEscaper = strings.NewReplacer("\\", "\\\\", `"`, "\\\"")

func escapeQuotes(s string) string {
	return quoteEscaper.Replace(s)
}

// httpRequest builds a fresh *http.Request for one attempt.
func (c *Client) httpRequest(ctx context.Context, r *request) (*http.Request, error) {
	u, err := url.Parse(c.endpoint(r.path))
	if err != nil {
		return nil, fmt.Errorf("restlimit: parse url: %w", err)
	}
	if len(r.opts.Query) > 0 {
		q := u.Query()
		for k, vs := range r.opts.Query {
			for _, v := range vs {
				q.Add(k, v)
			}
		}
		u.RawQuery = q.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, r.method, u.String(), bytes.NewReader(r.body))
	if err != nil {
		return nil, fmt.Errorf("restlimit: build request: %w", err)
	}

	for k, vs := range r.opts.Header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	req.Header.Set("User-Agent", c.userAgent)
	if r.contentType != "" {
		req.Header.Set("Content-Type", r.contentType)
	}
	if r.auth() {
		req.Header.Set("Authorization", c.authorization())
	}
	if r.opts.Reason != "" {
		req.Header.Set("X-Audit-Log-Reason", url.PathEscape(r.opts.Reason))
	}
	return req, nil
}

func (c *Client) endpoint(path string) string {
	base := strings.TrimRight(c.baseURL, "/")
	if c.version > 0 {
		base += "/v" + strconv.Itoa(c.version)
	}
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	return base + path
}

func (c *Client) authorization() string {
	if c.authPrefix == "" {
		return c.token
	}
	return c.authPrefix + " " + c.token
}

func (r *request) fileNames() []string {
	if len(r.opts.Files) == 0 {
		return nil
	}
	names := make([]string, len(r.opts.Files))
	for i, f := range r.opts.Files {
		names[i] = f.Name
	}
	return names
}
