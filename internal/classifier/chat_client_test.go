package classifier

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/lexiqai/encounter-scribe/internal/encounter"
	"github.com/lexiqai/encounter-scribe/internal/resilience"
)

func testResilience(maxFailures int) Resilience {
	return Resilience{
		Retry: &resilience.RetryConfig{
			MaxAttempts:       2,
			InitialBackoff:    time.Millisecond,
			MaxBackoff:        5 * time.Millisecond,
			BackoffMultiplier: 2.0,
		},
		MaxFailures:  maxFailures,
		ResetTimeout: time.Minute,
	}
}

func writeContent(w http.ResponseWriter, content string) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{
		"choices": []map[string]any{
			{"message": map[string]string{"content": content}},
		},
	})
}

func TestChatClient_Classify(t *testing.T) {
	var got chatRequest
	var auth, path string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		auth = r.Header.Get("Authorization")
		path = r.URL.Path
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("Failed to decode request: %v", err)
		}
		writeContent(w, "END")
	}))
	defer server.Close()

	client := NewChatClient(ChatConfig{
		BaseURL: server.URL + "/v1/",
		APIKey:  "secret",
		Model:   "llama3",
		Timeout: time.Second,
	}, testResilience(3))
	defer client.Close()

	verdict, err := client.Classify(context.Background(), "prompt text")
	if err != nil {
		t.Fatalf("Classify failed: %v", err)
	}
	if verdict != encounter.VerdictEnd {
		t.Errorf("Expected END, got %q", verdict)
	}
	if path != "/v1/chat/completions" {
		t.Errorf("Expected /v1/chat/completions, got %s", path)
	}
	if auth != "Bearer secret" {
		t.Errorf("Expected bearer auth, got %q", auth)
	}
	if got.Model != "llama3" || got.Temperature != 0 || got.Stream {
		t.Errorf("Unexpected request %+v", got)
	}
	if len(got.Messages) != 2 || got.Messages[0].Role != "system" || got.Messages[1].Content != "prompt text" {
		t.Errorf("Unexpected messages %+v", got.Messages)
	}
}

func TestChatClient_RetriesServerError(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			http.Error(w, "overloaded", http.StatusServiceUnavailable)
			return
		}
		writeContent(w, "CONTINUE")
	}))
	defer server.Close()

	client := NewChatClient(ChatConfig{BaseURL: server.URL}, testResilience(3))

	verdict, err := client.Classify(context.Background(), "prompt")
	if err != nil {
		t.Fatalf("Classify failed: %v", err)
	}
	if verdict != encounter.VerdictContinue {
		t.Errorf("Expected CONTINUE, got %q", verdict)
	}
	if calls.Load() != 2 {
		t.Errorf("Expected 2 requests, got %d", calls.Load())
	}
}

func TestChatClient_ClientErrorNotRetried(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.Error(w, "bad model", http.StatusBadRequest)
	}))
	defer server.Close()

	client := NewChatClient(ChatConfig{BaseURL: server.URL}, testResilience(3))

	if _, err := client.Classify(context.Background(), "prompt"); err == nil {
		t.Fatal("Expected error for 400 response")
	}
	if calls.Load() != 1 {
		t.Errorf("Expected 1 request, got %d", calls.Load())
	}
}

func TestChatClient_NoVerdict(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeContent(w, "I am not sure")
	}))
	defer server.Close()

	client := NewChatClient(ChatConfig{BaseURL: server.URL}, testResilience(3))

	_, err := client.Classify(context.Background(), "prompt")
	if !errors.Is(err, ErrNoVerdict) {
		t.Errorf("Expected ErrNoVerdict, got %v", err)
	}
}

func TestChatClient_BreakerOpens(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.Error(w, "unauthorized", http.StatusUnauthorized)
	}))
	defer server.Close()

	client := NewChatClient(ChatConfig{BaseURL: server.URL}, testResilience(2))

	for i := 0; i < 2; i++ {
		if _, err := client.Classify(context.Background(), "prompt"); err == nil {
			t.Fatalf("Expected error on call %d", i+1)
		}
	}

	_, err := client.Classify(context.Background(), "prompt")
	if !errors.Is(err, resilience.ErrCircuitOpen) {
		t.Errorf("Expected ErrCircuitOpen, got %v", err)
	}
	if calls.Load() != 2 {
		t.Errorf("Expected 2 requests before the breaker opened, got %d", calls.Load())
	}

	healthy, _ := client.HealthCheck(context.Background())
	if healthy {
		t.Error("Expected unhealthy while the breaker is open")
	}
}
