package ai

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/IMBotPlatform/IMBotGuard/pkg/botcore"
)

const chatCompletionBody = `{
  "id": "chatcmpl-1",
  "object": "chat.completion",
  "created": 1700000000,
  "model": "gpt-4o",
  "choices": [{"index": 0, "message": {"role": "assistant", "content": "PTO accrues monthly."}, "finish_reason": "stop"}],
  "usage": {"prompt_tokens": 5, "completion_tokens": 12, "total_tokens": 17}
}`

// openAIStub 记录收到的请求体并返回固定响应。
type openAIStub struct {
	mu     sync.Mutex
	bodies []map[string]any
	status int
}

func (s *openAIStub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	raw, _ := io.ReadAll(r.Body)
	var body map[string]any
	_ = json.Unmarshal(raw, &body)
	s.mu.Lock()
	s.bodies = append(s.bodies, body)
	s.mu.Unlock()

	w.Header().Set("Content-Type", "application/json")
	if s.status != 0 && s.status != http.StatusOK {
		w.WriteHeader(s.status)
		_, _ = w.Write([]byte(`{"error":{"message":"upstream exploded","type":"server_error"}}`))
		return
	}
	_, _ = w.Write([]byte(chatCompletionBody))
}

func (s *openAIStub) lastBody(t *testing.T) map[string]any {
	t.Helper()
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.bodies) == 0 {
		t.Fatalf("no request captured")
	}
	return s.bodies[len(s.bodies)-1]
}

func newOpenAIProvider(t *testing.T, stub *openAIStub, model string) botcore.Completer {
	t.Helper()
	srv := httptest.NewServer(stub)
	t.Cleanup(srv.Close)
	f := NewFactory(WithBaseURL(EngineOpenAI, srv.URL))
	p, err := f.New(context.Background(), EngineOpenAI, model, "sk-test")
	if err != nil {
		t.Fatalf("new provider: %v", err)
	}
	return p
}

func maxTokensOf(body map[string]any) float64 {
	for _, key := range []string{"max_tokens", "max_completion_tokens"} {
		if v, ok := body[key].(float64); ok && v != 0 {
			return v
		}
	}
	return 0
}

func TestOpenAIProviderCompletion(t *testing.T) {
	stub := &openAIStub{}
	p := newOpenAIProvider(t, stub, "gpt-4o")

	got, err := p.Complete(context.Background(), []botcore.Message{botcore.UserMessage("What is PTO accrual?")})
	if err != nil {
		t.Fatalf("complete: %v", err)
	}
	if got.Text != "PTO accrues monthly." {
		t.Fatalf("unexpected text: %q", got.Text)
	}
	if got.CompletionTokens != 12 {
		t.Fatalf("expected 12 completion tokens, got %d", got.CompletionTokens)
	}
	if n := maxTokensOf(stub.lastBody(t)); n != 0 {
		t.Fatalf("uncapped model sent max tokens %v", n)
	}
}

func TestOpenAIProviderCapsInstructModel(t *testing.T) {
	stub := &openAIStub{}
	p := newOpenAIProvider(t, stub, "gpt-3.5-turbo-instruct")

	if _, err := p.Complete(context.Background(), []botcore.Message{botcore.UserMessage("hi")}); err != nil {
		t.Fatalf("complete: %v", err)
	}
	if n := maxTokensOf(stub.lastBody(t)); n != instructMaxTokens {
		t.Fatalf("expected max tokens %d, got %v", instructMaxTokens, n)
	}
}

func TestOpenAIProviderUpstreamFailure(t *testing.T) {
	stub := &openAIStub{status: http.StatusInternalServerError}
	p := newOpenAIProvider(t, stub, "gpt-4o")

	_, err := p.Complete(context.Background(), []botcore.Message{botcore.UserMessage("hi")})
	var compErr *botcore.CompletionError
	if !errors.As(err, &compErr) {
		t.Fatalf("expected CompletionError, got %v", err)
	}
	if compErr.Engine != "openai" || compErr.Model != "gpt-4o" {
		t.Fatalf("error lacks engine/model: %#v", compErr)
	}
}

func TestFactoryRejectsUnknownEngine(t *testing.T) {
	_, err := NewFactory().New(context.Background(), Engine("cohere"), "command-r", "k")
	var cfgErr *botcore.ConfigurationError
	if !errors.As(err, &cfgErr) {
		t.Fatalf("expected ConfigurationError, got %v", err)
	}
}

func TestCompletionTokensToleratesKeysAndTypes(t *testing.T) {
	cases := []struct {
		info map[string]any
		want int
	}{
		{map[string]any{"CompletionTokens": 12}, 12},
		{map[string]any{"OutputTokens": int64(7)}, 7},
		{map[string]any{"output_tokens": int32(3)}, 3},
		{map[string]any{"completion_tokens": float64(9)}, 9},
		{map[string]any{"PromptTokens": 4}, 0},
		{nil, 0},
	}
	for _, tc := range cases {
		if got := completionTokens(tc.info); got != tc.want {
			t.Fatalf("completionTokens(%v) = %d, want %d", tc.info, got, tc.want)
		}
	}
}

func TestFactoryBaseURLOverrides(t *testing.T) {
	f := NewFactory(
		WithBaseURL(EngineOpenAI, "http://gateway.local/v1"),
		WithBaseURL(EngineAnthropic, ""),
		WithBaseURL(EngineGoogle, "http://ignored.local"),
	)
	if f.baseURLs[EngineOpenAI] != "http://gateway.local/v1" {
		t.Fatalf("openai override not stored: %v", f.baseURLs)
	}
	if _, ok := f.baseURLs[EngineAnthropic]; ok {
		t.Fatalf("empty override stored")
	}
	if _, ok := f.baseURLs[EngineGoogle]; ok {
		t.Fatalf("google engine has no endpoint override")
	}
}
