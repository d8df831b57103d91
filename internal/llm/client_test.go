package llm

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestCompleteParsesContentAndTruncation(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chat/completions" {
			t.Errorf("path = %s", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer k" {
			t.Errorf("auth header = %q", got)
		}
		w.Write([]byte(`{"choices":[{"message":{"role":"assistant","content":"partial"},"finish_reason":"length"}]}`))
	}))
	defer srv.Close()

	c, err := NewClient(srv.URL, "test-model", "k", 0)
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	resp, err := c.Complete(context.Background(), []Message{{Role: "user", Content: "hi"}})
	if err != nil {
		t.Fatalf("complete: %v", err)
	}
	if resp.Content != "partial" {
		t.Errorf("content = %q", resp.Content)
	}
	if !resp.Truncated {
		t.Error("finish_reason=length should report truncated")
	}
}

func TestCompleteProviderErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	c, err := NewClient(srv.URL, "test-model", "", 0)
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	_, err = c.Complete(context.Background(), nil)
	if !errors.Is(err, ErrProvider) {
		t.Fatalf("err = %v, want ErrProvider", err)
	}
}

func TestNewClientValidation(t *testing.T) {
	if _, err := NewClient("", "m", "", 0); err == nil {
		t.Error("expected error for empty base url")
	}
	if _, err := NewClient("http://x", "", "", 0); err == nil {
		t.Error("expected error for empty model name")
	}
}
