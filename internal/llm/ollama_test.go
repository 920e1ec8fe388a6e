package llm

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func newLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
}

func TestOllamaGeneratorStreams(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/generate" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		io.WriteString(w, `{"response":"Hola, ","done":false}`+"\n")
		io.WriteString(w, `{"response":"¿cómo estás?","done":false}`+"\n")
		io.WriteString(w, `{"response":"","done":true,"eval_count":7,"prompt_eval_count":12}`+"\n")
	}))
	defer srv.Close()

	gen := NewOllamaGenerator(srv.URL, "granite3-dense:latest")

	var parts []string
	var finalTokens int
	err := gen.Generate(context.Background(), Request{Prompt: "hola"}, func(chunk Chunk) error {
		parts = append(parts, chunk.Content)
		if chunk.Done {
			finalTokens = chunk.CompletionTokens
		}
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := strings.Join(parts, ""); got != "Hola, ¿cómo estás?" {
		t.Fatalf("unexpected accumulated reply: %q", got)
	}
	if finalTokens != 7 {
		t.Fatalf("expected eval count on final chunk, got %d", finalTokens)
	}
}

func TestOllamaGeneratorRejectsErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "model not found", http.StatusNotFound)
	}))
	defer srv.Close()

	gen := NewOllamaGenerator(srv.URL, "missing:latest")
	err := gen.Generate(context.Background(), Request{Prompt: "hola"}, func(Chunk) error { return nil })
	if err == nil {
		t.Fatal("expected error for non-2xx status")
	}
}

func TestWaitReadySucceeds(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/tags" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		io.WriteString(w, `{"models":[{"name":"granite3-dense:latest"}]}`)
	}))
	defer srv.Close()

	if err := WaitReady(context.Background(), srv.URL, 3, newLogger()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestWaitReadyExhaustsRetries(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "warming up", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	if err := WaitReady(context.Background(), srv.URL, 1, newLogger()); err == nil {
		t.Fatal("expected error once retries are exhausted")
	}
}
