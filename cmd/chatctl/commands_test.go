package main

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func newFakeService(t *testing.T) (*httptest.Server, *string) {
	t.Helper()
	var received string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodPost && r.URL.Path == "/chat_history":
			if err := r.ParseForm(); err != nil {
				t.Errorf("ParseForm: %v", err)
			}
			received = r.PostForm.Get("chat_history")
			w.Header().Set("Content-Type", "text/plain; charset=utf-8")
			w.Write([]byte("Chat history saved successfully!"))
		case r.Method == http.MethodGet && r.URL.Path == "/chat_history":
			if r.URL.Query().Get("after_id") != "7" || r.URL.Query().Get("limit") != "2" {
				t.Errorf("unexpected query %s", r.URL.RawQuery)
			}
			w.Header().Set("Content-Type", "application/json")
			w.Write([]byte(`{"entries":[{"id":8,"sender":"user","message":"hi","tts_audio_link":null}],"next_after_id":8}`))
		default:
			http.Error(w, "not found", http.StatusNotFound)
		}
	}))
	t.Cleanup(srv.Close)
	return srv, &received
}

func TestSubmitCommand(t *testing.T) {
	srv, received := newFakeService(t)

	path := filepath.Join(t.TempDir(), "transcript.json")
	payload := `[{"sender":"user","message":"hi"}]`
	if err := os.WriteFile(path, []byte(payload), 0o644); err != nil {
		t.Fatalf("write transcript: %v", err)
	}

	var out bytes.Buffer
	cmd := newRootCmd()
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"submit", "--server", srv.URL, "--file", path})
	if err := cmd.Execute(); err != nil {
		t.Fatalf("Execute: %v", err)
	}

	if *received != payload {
		t.Fatalf("expected payload %q, got %q", payload, *received)
	}
	if strings.TrimSpace(out.String()) != "Chat history saved successfully!" {
		t.Fatalf("unexpected output %q", out.String())
	}
}

func TestSubmitCommandReadsStdin(t *testing.T) {
	srv, received := newFakeService(t)

	cmd := newRootCmd()
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetIn(strings.NewReader(`[]`))
	cmd.SetArgs([]string{"submit", "--server", srv.URL})
	if err := cmd.Execute(); err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if *received != "[]" {
		t.Fatalf("expected stdin payload, got %q", *received)
	}
}

func TestListCommand(t *testing.T) {
	srv, _ := newFakeService(t)

	var out bytes.Buffer
	cmd := newRootCmd()
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"list", "--server", srv.URL, "--after-id", "7", "--limit", "2"})
	if err := cmd.Execute(); err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if !strings.Contains(out.String(), `"next_after_id": 8`) {
		t.Fatalf("unexpected output %s", out.String())
	}
}

func TestSubmitReportsHTTPErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "Connection failed: refused", http.StatusInternalServerError)
	}))
	defer srv.Close()

	cmd := newRootCmd()
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetIn(strings.NewReader(`[{"sender":"user","message":"hi"}]`))
	cmd.SetArgs([]string{"submit", "--server", srv.URL})
	err := cmd.Execute()
	if err == nil || !strings.Contains(err.Error(), "Connection failed") {
		t.Fatalf("expected connection failure error, got %v", err)
	}
}
