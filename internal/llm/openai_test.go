package llm

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/vizquery/vizquery/config"
)

func testProviderConfig(baseURL string, maxRetries int) config.LLMProvider {
	return config.LLMProvider{
		Type:       "openai",
		APIKey:     "test-key",
		BaseURL:    baseURL,
		MaxRetries: maxRetries,
		Timeout:    5 * time.Second,
		Models: map[string]config.LLMModel{
			"gen": {Name: "gen", APIName: "gpt-test", MaxTokens: 256},
		},
	}
}

func chatResponse(content string) map[string]interface{} {
	return map[string]interface{}{
		"choices": []map[string]interface{}{
			{"message": map[string]interface{}{"content": content}},
		},
		"usage": map[string]interface{}{"prompt_tokens": 12, "completion_tokens": 7},
	}
}

func TestGenerateWithTokensParsesUsage(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chat/completions" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer test-key" {
			t.Errorf("missing auth header, got %q", got)
		}
		var body map[string]interface{}
		_ = json.NewDecoder(r.Body).Decode(&body)
		if body["model"] != "gpt-test" {
			t.Errorf("expected api name on the wire, got %v", body["model"])
		}
		_ = json.NewEncoder(w).Encode(chatResponse("hello"))
	}))
	defer srv.Close()

	p := NewOpenAIProvider(testProviderConfig(srv.URL, 0))
	text, inTok, outTok, err := p.GenerateWithTokens(context.Background(), "hi", "gen", nil)
	if err != nil {
		t.Fatalf("GenerateWithTokens failed: %v", err)
	}
	if text != "hello" || inTok != 12 || outTok != 7 {
		t.Fatalf("unexpected result: %q %d %d", text, inTok, outTok)
	}
}

func TestGenerateRetriesOnRateLimit(t *testing.T) {
	var calls int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt64(&calls, 1) < 3 {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		_ = json.NewEncoder(w).Encode(chatResponse("recovered"))
	}))
	defer srv.Close()

	p := NewOpenAIProvider(testProviderConfig(srv.URL, 3))
	text, err := p.Generate(context.Background(), "hi", "gen", nil)
	if err != nil {
		t.Fatalf("expected recovery after rate limits: %v", err)
	}
	if text != "recovered" || atomic.LoadInt64(&calls) != 3 {
		t.Fatalf("unexpected result %q after %d calls", text, calls)
	}
}

func TestGenerateDoesNotRetryClientErrors(t *testing.T) {
	var calls int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt64(&calls, 1)
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer srv.Close()

	p := NewOpenAIProvider(testProviderConfig(srv.URL, 3))
	if _, err := p.Generate(context.Background(), "hi", "gen", nil); err == nil {
		t.Fatalf("expected error for 400 response")
	}
	if atomic.LoadInt64(&calls) != 1 {
		t.Fatalf("client errors must not be retried, got %d calls", calls)
	}
}

func TestGenerateUnknownModel(t *testing.T) {
	p := NewOpenAIProvider(testProviderConfig("http://unused", 0))
	if _, err := p.Generate(context.Background(), "hi", "nope", nil); err == nil {
		t.Fatalf("expected error for unconfigured model")
	}
}

func TestNewProviderSelection(t *testing.T) {
	if _, err := NewProvider(config.LLMConfig{}); err == nil {
		t.Fatalf("expected error with no providers configured")
	}
	if _, err := NewProvider(config.LLMConfig{Providers: map[string]config.LLMProvider{
		"x": {Type: "carrier-pigeon"},
	}}); err == nil {
		t.Fatalf("expected error for unsupported provider type")
	}
	p, err := NewProvider(config.LLMConfig{Providers: map[string]config.LLMProvider{
		"openai": {Type: "openai", APIKey: "k"},
	}})
	if err != nil || p == nil {
		t.Fatalf("expected openai provider, got %v", err)
	}
}
