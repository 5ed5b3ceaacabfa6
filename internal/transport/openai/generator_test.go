package openai

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/kailas-cloud/tenderlens/internal/domain"
)

func TestGenerator_Chat(t *testing.T) {
	var got map[string]any
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chat/completions" {
			t.Errorf("unexpected path: %s", r.URL.Path)
		}
		json.NewDecoder(r.Body).Decode(&got)

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{
			"id":     "chatcmpl-1",
			"object": "chat.completion",
			"choices": []map[string]any{{
				"index":         0,
				"message":       map[string]any{"role": "assistant", "content": `{"score": 70}`},
				"finish_reason": "stop",
			}},
			"usage": map[string]any{"prompt_tokens": 12, "completion_tokens": 4, "total_tokens": 16},
		})
	}))
	defer server.Close()

	gen, err := NewGenerator(&Config{APIKey: "test-key", BaseURL: server.URL, Model: "chat-model", Provider: "test"}, "")
	if err != nil {
		t.Fatalf("NewGenerator: %v", err)
	}

	res, err := gen.Generate(context.Background(), domain.GenerationRequest{
		System:          "Be strict.",
		Prompt:          "Score this.",
		MaxOutputTokens: 64,
		JSON:            true,
	})
	if err != nil {
		t.Fatalf("Generate failed: %v", err)
	}
	if res.Text != `{"score": 70}` {
		t.Errorf("unexpected text %q", res.Text)
	}
	if res.PromptTokens != 12 || res.CompletionTokens != 4 {
		t.Errorf("unexpected usage %d/%d", res.PromptTokens, res.CompletionTokens)
	}

	msgs, _ := got["messages"].([]any)
	if len(msgs) != 2 {
		t.Fatalf("expected system and user messages, got %v", got["messages"])
	}
	format, _ := got["response_format"].(map[string]any)
	if format["type"] != "json_object" {
		t.Errorf("expected json_object response format, got %v", got["response_format"])
	}
	// Zero temperature must reach the API instead of being dropped as empty.
	temp, ok := got["temperature"].(float64)
	if !ok || temp <= 0 || temp > 1e-6 {
		t.Errorf("expected near-zero temperature to be sent, got %v", got["temperature"])
	}
}

func TestGenerator_Completion(t *testing.T) {
	var got map[string]any
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/completions" {
			t.Errorf("unexpected path: %s", r.URL.Path)
		}
		json.NewDecoder(r.Body).Decode(&got)

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{
			"id":      "cmpl-1",
			"object":  "text_completion",
			"choices": []map[string]any{{"index": 0, "text": `{"value": "x"}`, "finish_reason": "stop"}},
			"usage":   map[string]any{"prompt_tokens": 9, "completion_tokens": 3, "total_tokens": 12},
		})
	}))
	defer server.Close()

	gen, err := NewGenerator(&Config{APIKey: "test-key", BaseURL: server.URL, Model: "granite", Provider: "test"}, ModeCompletion)
	if err != nil {
		t.Fatalf("NewGenerator: %v", err)
	}

	formatted := "<|system|>s\n<|user|>u\n<|assistant|>"
	res, err := gen.Generate(context.Background(), domain.GenerationRequest{System: "s", Prompt: "u", Formatted: formatted})
	if err != nil {
		t.Fatalf("Generate failed: %v", err)
	}
	if res.Text != `{"value": "x"}` {
		t.Errorf("unexpected text %q", res.Text)
	}
	if got["prompt"] != formatted {
		t.Errorf("expected formatted prompt to be sent verbatim, got %v", got["prompt"])
	}
}

func TestGenerator_ServerErrorIsTransient(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadGateway)
		w.Write([]byte(`{"error": {"message": "upstream down", "type": "server_error"}}`))
	}))
	defer server.Close()

	gen, err := NewGenerator(&Config{APIKey: "test-key", BaseURL: server.URL, Model: "chat-model", Provider: "test"}, ModeChat)
	if err != nil {
		t.Fatalf("NewGenerator: %v", err)
	}

	_, err = gen.Generate(context.Background(), domain.GenerationRequest{Prompt: "hi"})
	if !errors.Is(err, domain.ErrTransientProvider) {
		t.Fatalf("expected transient error, got %v", err)
	}
}

func TestGenerator_CanceledContext(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	gen, err := NewGenerator(&Config{APIKey: "test-key", BaseURL: server.URL, Model: "chat-model", Provider: "test"}, ModeChat)
	if err != nil {
		t.Fatalf("NewGenerator: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = gen.Generate(ctx, domain.GenerationRequest{Prompt: "hi"})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestNewGenerator_UnknownMode(t *testing.T) {
	_, err := NewGenerator(&Config{APIKey: "k", Model: "m"}, "stream")
	if !errors.Is(err, domain.ErrConfiguration) {
		t.Fatalf("expected configuration error, got %v", err)
	}
}
