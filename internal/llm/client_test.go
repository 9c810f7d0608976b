package llm_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"shelftamer/internal/llm"
	"shelftamer/internal/services"
)

func newTestClient(t *testing.T, handler http.HandlerFunc, opts ...llm.Option) *llm.Client {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	opts = append([]llm.Option{llm.WithHTTPClient(server.Client())}, opts...)
	return llm.NewClient(llm.Config{
		BaseURL:           server.URL,
		TimeoutSeconds:    5,
		MaxInFlight:       2,
		RequestsPerMinute: 6000,
	}, opts...)
}

func TestInvokeReturnsContent(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/chat" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		w.Write([]byte(`{"message":{"role":"assistant","content":"{\"title\":\"Dune\"}"},"done":true}`))
	})

	content, err := client.Invoke(context.Background(), "llama3.2", "system", "user")
	if err != nil {
		t.Fatalf("Invoke: %v", err)
	}
	if content != `{"title":"Dune"}` {
		t.Fatalf("content = %q", content)
	}
}

func TestInvokeServerErrorIsUnavailable(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "overloaded", http.StatusInternalServerError)
	})

	_, err := client.Invoke(context.Background(), "llama3.2", "", "user")
	if !errors.Is(err, services.ErrModelUnavailable) {
		t.Fatalf("expected unavailable marker, got %v", err)
	}
}

func TestInvokeGarbageBodyIsInvalidResponse(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("not json at all"))
	})

	_, err := client.Invoke(context.Background(), "llama3.2", "", "user")
	if !errors.Is(err, services.ErrInvalidResponse) {
		t.Fatalf("expected invalid-response marker, got %v", err)
	}
}

func TestInvokeEmptyContentIsInvalidResponse(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"message":{"content":""},"done":true}`))
	})

	_, err := client.Invoke(context.Background(), "llama3.2", "", "user")
	if !errors.Is(err, services.ErrInvalidResponse) {
		t.Fatalf("expected invalid-response marker, got %v", err)
	}
}

func TestSuspendedAfterConsecutiveTransportFailures(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "down", http.StatusServiceUnavailable)
	}, llm.WithSuspendThreshold(2))

	if client.Suspended() {
		t.Fatal("fresh client should not be suspended")
	}
	for i := 0; i < 2; i++ {
		if _, err := client.Invoke(context.Background(), "m", "", "u"); err == nil {
			t.Fatal("expected failure")
		}
	}
	if !client.Suspended() {
		t.Fatal("client should suspend after threshold failures")
	}
}

func TestSuccessClearsSuspension(t *testing.T) {
	var fail atomic.Bool
	fail.Store(true)
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if fail.Load() {
			http.Error(w, "down", http.StatusServiceUnavailable)
			return
		}
		w.Write([]byte(`{"message":{"content":"{}"},"done":true}`))
	}, llm.WithSuspendThreshold(1))

	client.Invoke(context.Background(), "m", "", "u")
	if !client.Suspended() {
		t.Fatal("should suspend after failure")
	}
	fail.Store(false)
	if _, err := client.Invoke(context.Background(), "m", "", "u"); err != nil {
		t.Fatalf("Invoke: %v", err)
	}
	if client.Suspended() {
		t.Fatal("success should clear suspension")
	}
}

func TestHealthCheck(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/api/tags" {
			w.Write([]byte(`{"models":[]}`))
			return
		}
		http.NotFound(w, r)
	})
	if err := client.HealthCheck(context.Background()); err != nil {
		t.Fatalf("HealthCheck: %v", err)
	}
}

func TestDecodeJSONHandlesFencesAndProse(t *testing.T) {
	var payload struct {
		Title string `json:"title"`
	}
	cases := []string{
		`{"title":"Dune"}`,
		"```json\n{\"title\":\"Dune\"}\n```",
		`Sure! Here is the JSON you asked for: {"title":"Dune"} Hope that helps.`,
	}
	for _, raw := range cases {
		payload.Title = ""
		if err := llm.DecodeJSON(raw, &payload); err != nil {
			t.Fatalf("DecodeJSON(%q): %v", raw, err)
		}
		if payload.Title != "Dune" {
			t.Fatalf("DecodeJSON(%q) = %q", raw, payload.Title)
		}
	}

	if err := llm.DecodeJSON("no json here", &payload); err == nil {
		t.Fatal("expected decode failure for non-JSON payload")
	}
}
