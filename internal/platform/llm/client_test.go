package llm

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestClient_Complete(t *testing.T) {
	var got chatRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer secret" {
			t.Errorf("unexpected auth header %q", r.Header.Get("Authorization"))
		}
		if r.Header.Get("Content-Type") != "application/json" {
			t.Errorf("unexpected content type %q", r.Header.Get("Content-Type"))
		}
		_ = json.NewDecoder(r.Body).Decode(&got)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"choices":[{"message":{"content":"  1) Assessment ...  "}}]}`))
	}))
	defer srv.Close()

	c := NewClient(Config{URL: srv.URL, APIKey: "secret", Model: "google/gemini-2.5-flash"})
	out, err := c.Complete(context.Background(), []Message{
		{Role: "system", Content: "sys"},
		{Role: "user", Content: "Patient symptoms: toothache"},
	})
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if out != "1) Assessment ..." {
		t.Errorf("unexpected content %q", out)
	}
	if got.Model != "google/gemini-2.5-flash" || len(got.Messages) != 2 {
		t.Errorf("unexpected request %+v", got)
	}
	if got.Messages[1].Content != "Patient symptoms: toothache" {
		t.Errorf("unexpected user message %q", got.Messages[1].Content)
	}
}

func TestClient_NotConfigured(t *testing.T) {
	c := NewClient(Config{URL: "http://127.0.0.1:1"})
	if _, err := c.Complete(context.Background(), nil); !errors.Is(err, ErrNotConfigured) {
		t.Fatalf("expected ErrNotConfigured, got %v", err)
	}
}

func TestClient_StatusError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "rate limited", http.StatusTooManyRequests)
	}))
	defer srv.Close()

	c := NewClient(Config{URL: srv.URL, APIKey: "k"})
	_, err := c.Complete(context.Background(), nil)
	var se *StatusError
	if !errors.As(err, &se) {
		t.Fatalf("expected StatusError, got %v", err)
	}
	if se.StatusCode != http.StatusTooManyRequests {
		t.Errorf("expected 429, got %d", se.StatusCode)
	}
}

func TestClient_EmptyChoices(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"choices":[]}`))
	}))
	defer srv.Close()

	c := NewClient(Config{URL: srv.URL, APIKey: "k"})
	if _, err := c.Complete(context.Background(), nil); !errors.Is(err, ErrEmptyResponse) {
		t.Fatalf("expected ErrEmptyResponse, got %v", err)
	}
}

func TestClient_Timeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
	}))
	defer srv.Close()

	c := NewClient(Config{URL: srv.URL, APIKey: "k", Timeout: 20 * time.Millisecond})
	if _, err := c.Complete(context.Background(), nil); err == nil {
		t.Fatal("expected timeout error")
	}
}
