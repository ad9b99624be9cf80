package llm

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestAnthropicProvider_Generate_Success(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/messages" {
			t.Errorf("Expected path /v1/messages, got %s", r.URL.Path)
		}
		if r.Header.Get("x-api-key") != "test-key" {
			t.Errorf("Expected x-api-key header test-key, got %s", r.Header.Get("x-api-key"))
		}
		if r.Header.Get("anthropic-version") != "2023-06-01" {
			t.Errorf("Expected anthropic-version header 2023-06-01, got %s", r.Header.Get("anthropic-version"))
		}

		var req anthropicRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("decode request: %v", err)
		}
		if !strings.HasPrefix(req.System, "split stories") || !strings.Contains(req.System, "JSON object") {
			t.Errorf("Unexpected system prompt %q", req.System)
		}
		if req.MaxTokens != 512 {
			t.Errorf("Expected max tokens 512, got %d", req.MaxTokens)
		}

		_, _ = w.Write([]byte(`{
			"content":[{"type":"text","text":"{\"stories\":"},{"type":"text","text":"[]}"}],
			"model":"claude-test","usage":{"input_tokens":50,"output_tokens":7}}`))
	}))
	defer server.Close()

	provider, err := NewAnthropicProvider(Config{APIKey: "test-key", BaseURL: server.URL + "/", MaxTokens: 512})
	if err != nil {
		t.Fatalf("Failed to create provider: %v", err)
	}

	resp, err := provider.Generate(context.Background(), Request{System: "split stories", Prompt: "email", JSON: true})
	if err != nil {
		t.Fatalf("Generate failed: %v", err)
	}
	if resp.Text != `{"stories":[]}` {
		t.Errorf("Unexpected text: %q", resp.Text)
	}
	if resp.TokensUsed != 57 || resp.Model != "claude-test" {
		t.Errorf("Unexpected usage %d or model %s", resp.TokensUsed, resp.Model)
	}
}

func TestAnthropicProvider_Generate_Errors(t *testing.T) {
	tests := []struct {
		name       string
		status     int
		retryAfter string
		want       ErrorKind
		wantDelay  time.Duration
	}{
		{"overloaded", 529, "", KindUnavailable, 0},
		{"rate limited", http.StatusTooManyRequests, "7", KindRateLimited, 7 * time.Second},
		{"forbidden", http.StatusForbidden, "", KindAuth, 0},
		{"bad request", http.StatusBadRequest, "", KindInvalid, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				if tt.retryAfter != "" {
					w.Header().Set("Retry-After", tt.retryAfter)
				}
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(`{"type":"error","error":{"type":"some_error","message":"nope"}}`))
			}))
			defer server.Close()

			provider, _ := NewAnthropicProvider(Config{APIKey: "test-key", BaseURL: server.URL})
			_, err := provider.Generate(context.Background(), Request{Prompt: "x"})

			var me *ModelError
			if !errors.As(err, &me) {
				t.Fatalf("Expected ModelError, got %v", err)
			}
			if me.Kind != tt.want || me.StatusCode != tt.status || me.RetryAfter != tt.wantDelay {
				t.Errorf("Got kind %s status %d delay %v", me.Kind, me.StatusCode, me.RetryAfter)
			}
			if !strings.Contains(me.Error(), "some_error: nope") {
				t.Errorf("Expected API message in error, got %q", me.Error())
			}
		})
	}
}

func TestAnthropicProvider_EmptyContent(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"content":[],"model":"claude-test"}`))
	}))
	defer server.Close()

	provider, _ := NewAnthropicProvider(Config{APIKey: "test-key", BaseURL: server.URL})
	_, err := provider.Generate(context.Background(), Request{Prompt: "x"})
	if !IsTransient(err) {
		t.Errorf("Expected transient error for empty content, got %v", err)
	}
}
