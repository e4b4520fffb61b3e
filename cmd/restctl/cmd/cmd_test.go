package cmd

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "restlimit.yaml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

func run(t *testing.T, args ...string) (string, string, error) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	root := NewRootCmd()
	root.SetOut(&stdout)
	root.SetErr(&stderr)
	root.SetArgs(args)
	err := root.Execute()
	return stdout.String(), stderr.String(), err
}

func TestRequestCommand(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		if r.URL.Path != "/v10/channels/123456789012345678/messages" {
			t.Errorf("path = %q", r.URL.Path)
		}
		if r.Header.Get("Authorization") != "Bot secret" {
			t.Errorf("Authorization = %q", r.Header.Get("Authorization"))
		}
		if r.URL.Query().Get("limit") != "2" {
			t.Errorf("query = %v", r.URL.Query())
		}
		var body map[string]string
		json.NewDecoder(r.Body).Decode(&body)
		if body["content"] != "hi" {
			t.Errorf("body = %v", body)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("X-RateLimit-Bucket", "b1")
		w.Write([]byte(`{"id":"1"}`))
	}))
	defer srv.Close()

	cfg := writeConfig(t, "api:\n  base_url: "+srv.URL+"\n  token: secret\n")
	stdout, stderr, err := run(t, "--config", cfg, "request", "post",
		"/channels/123456789012345678/messages",
		"--body", `{"content":"hi"}`, "--query", "limit=2", "--count", "2", "--stats")
	if err != nil {
		t.Fatalf("err = %v, stderr = %s", err, stderr)
	}

	if calls.Load() != 2 {
		t.Errorf("calls = %d, want 2", calls.Load())
	}
	if strings.Count(stdout, `"id": "1"`) != 2 {
		t.Errorf("stdout = %q", stdout)
	}
	if !strings.Contains(stderr, "POST:/channels/:id/messages:123456789012345678") {
		t.Errorf("stats missing from stderr: %q", stderr)
	}
}

func TestRequestCommandRejected(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusForbidden)
		w.Write([]byte(`{"code":50013,"message":"Missing Permissions"}`))
	}))
	defer srv.Close()

	cfg := writeConfig(t, "api:\n  base_url: "+srv.URL+"\n  token: secret\n")
	_, _, err := run(t, "--config", cfg, "request", "DELETE", "/channels/123456789012345678")
	if err == nil || !strings.Contains(err.Error(), "Missing Permissions") {
		t.Fatalf("err = %v, want the server's message", err)
	}
}

func TestRequestCommandBadFlags(t *testing.T) {
	cfg := writeConfig(t, "")
	tests := [][]string{
		{"request", "GET", "/x", "--body", "{nope"},
		{"request", "GET", "/x", "--query", "novalue"},
		{"request", "GET", "/x", "--header", "NoColon"},
		{"request", "GET", "/x", "--count", "0"},
		{"request", "GET"},
	}
	for _, args := range tests {
		if _, _, err := run(t, append([]string{"--config", cfg}, args...)...); err == nil {
			t.Errorf("%v: expected error", args)
		}
	}
}

func TestConfigCommandRedacts(t *testing.T) {
	cfg := writeConfig(t, "api:\n  token: secret\nstore:\n  type: memory\n")

	stdout, _, err := run(t, "--config", cfg, "config")
	if err != nil {
		t.Fatal(err)
	}
	if strings.Contains(stdout, "secret") || !strings.Contains(stdout, "token: <redacted>") {
		t.Errorf("token not redacted:\n%s", stdout)
	}
	if !strings.Contains(stdout, "request_timeout: 15s") {
		t.Errorf("durations not printed as strings:\n%s", stdout)
	}

	stdout, _, err = run(t, "--config", cfg, "config", "--show-secrets")
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(stdout, "token: secret") {
		t.Errorf("--show-secrets hid the token:\n%s", stdout)
	}
}

func TestVersionCommand(t *testing.T) {
	stdout, _, err := run(t, "version")
	if err != nil {
		t.Fatal(err)
	}
	if !strings.HasPrefix(stdout, "restctl "+Version) {
		t.Errorf("stdout = %q", stdout)
	}
}
