package openai

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/voxloop/voxloop/pkg/adapters/reply"
	"github.com/voxloop/voxloop/pkg/resilience"
)

func newTestReplier(url string) *Replier {
	r := NewReplier("test-key", "test-model")
	r.BaseURL = url
	r.Retry = resilience.NewRetryPolicy(1, time.Millisecond)
	return r
}

func TestGetReplyExtractsContent(t *testing.T) {
	var gotAuth string
	var gotBody map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		_ = json.NewDecoder(r.Body).Decode(&gotBody)
		_ = json.NewEncoder(w).Encode(map[string]any{
			"choices": []map[string]any{
				{"message": map[string]any{"content": "  The answer.  "}},
			},
		})
	}))
	defer srv.Close()

	r := newTestReplier(srv.URL)
	r.BasePrompt = "be brief"
	answer, err := r.GetReply(context.Background(), "question", []reply.Turn{
		{Role: reply.RoleUser, Text: "question"},
	})
	if err != nil {
		t.Fatalf("get reply: %v", err)
	}
	if answer != "The answer." {
		t.Fatalf("unexpected answer %q", answer)
	}
	if gotAuth != "Bearer test-key" {
		t.Fatalf("unexpected auth header %q", gotAuth)
	}
	msgs := gotBody["messages"].([]any)
	if len(msgs) != 2 {
		t.Fatalf("expected system prompt plus user turn, got %d messages", len(msgs))
	}
	first := msgs[0].(map[string]any)
	if first["role"] != "system" || first["content"] != "be brief" {
		t.Fatalf("missing system prompt: %+v", first)
	}
}

func TestGetReplyUpstreamError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "model overloaded", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	_, err := newTestReplier(srv.URL).GetReply(context.Background(), "hi", nil)
	var upstream reply.UpstreamError
	if !errors.As(err, &upstream) {
		t.Fatalf("expected UpstreamError, got %v", err)
	}
	if upstream.Status != http.StatusServiceUnavailable {
		t.Fatalf("unexpected status %d", upstream.Status)
	}
}

func TestGetReplyNetworkError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	srv.Close()

	_, err := newTestReplier(srv.URL).GetReply(context.Background(), "hi", nil)
	var netErr reply.NetworkError
	if !errors.As(err, &netErr) {
		t.Fatalf("expected NetworkError, got %v", err)
	}
}

func TestGetReplyRetriesTransportFailures(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			// Kill the first connection mid-request.
			hj, ok := w.(http.Hijacker)
			if !ok {
				t.Fatal("hijack unsupported")
			}
			conn, _, _ := hj.Hijack()
			_ = conn.Close()
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"choices": []map[string]any{
				{"message": map[string]any{"content": "recovered"}},
			},
		})
	}))
	defer srv.Close()

	answer, err := newTestReplier(srv.URL).GetReply(context.Background(), "hi", nil)
	if err != nil {
		t.Fatalf("expected retry to recover: %v", err)
	}
	if answer != "recovered" {
		t.Fatalf("unexpected answer %q", answer)
	}
	if calls.Load() != 2 {
		t.Fatalf("expected 2 attempts, got %d", calls.Load())
	}
}

func TestGetReplyRejectsEmptyCompletion(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{"choices": []map[string]any{}})
	}))
	defer srv.Close()

	_, err := newTestReplier(srv.URL).GetReply(context.Background(), "hi", nil)
	var upstream reply.UpstreamError
	if !errors.As(err, &upstream) {
		t.Fatalf("expected UpstreamError on empty choices, got %v", err)
	}
}
