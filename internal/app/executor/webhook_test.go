package executor

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/workforce-ai/compute/internal/domain"
)

func TestWebhookBackend_Success(t *testing.T) {
	var got webhookRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("method = %s", r.Method)
		}
		if ct := r.Header.Get("Content-Type"); ct != "application/json" {
			t.Errorf("Content-Type = %q", ct)
		}
		json.NewDecoder(r.Body).Decode(&got)
		w.Write([]byte(`{"text":"done"}`))
	}))
	defer srv.Close()

	b := NewWebhookBackend(srv.URL)
	out, err := b.Execute(context.Background(), domain.Job{
		ID: "j1", Identity: "alice", Feature: "writing", Tier: "long",
		Input: map[string]any{"prompt": "essay"},
	})
	if err != nil {
		t.Fatalf("Execute() error: %v", err)
	}
	if string(out) != `{"text":"done"}` {
		t.Errorf("body = %s", out)
	}
	if got.JobID != "j1" || got.Feature != "writing" || got.Input["prompt"] != "essay" {
		t.Errorf("request = %+v", got)
	}
}

func TestWebhookBackend_Non2xx(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "model overloaded", http.StatusBadGateway)
	}))
	defer srv.Close()

	_, err := NewWebhookBackend(srv.URL).Execute(context.Background(), domain.Job{Feature: "tts"})
	if err == nil {
		t.Fatal("expected error for 502")
	}
	if !strings.Contains(err.Error(), "502") || !strings.Contains(err.Error(), "model overloaded") {
		t.Errorf("error = %v", err)
	}
}

func TestWebhookBackend_ContextTimeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(time.Second):
		}
	}))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if _, err := NewWebhookBackend(srv.URL).Execute(ctx, domain.Job{Feature: "tts"}); err == nil {
		t.Error("expected timeout error")
	}
}
