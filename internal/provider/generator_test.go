package provider

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
)

// fakeChatModel records the last call and returns a canned reply.
type fakeChatModel struct {
	reply    *schema.Message
	err      error
	gotMsgs  []*schema.Message
	gotModel string
}

func (f *fakeChatModel) Generate(_ context.Context, msgs []*schema.Message, opts ...model.Option) (*schema.Message, error) {
	f.gotMsgs = msgs
	if o := model.GetCommonOptions(nil, opts...); o.Model != nil {
		f.gotModel = *o.Model
	}
	return f.reply, f.err
}

func (f *fakeChatModel) Stream(context.Context, []*schema.Message, ...model.Option) (*schema.StreamReader[*schema.Message], error) {
	return nil, errors.New("not implemented")
}

func TestChatGenerator_Generate(t *testing.T) {
	t.Parallel()

	fake := &fakeChatModel{reply: schema.AssistantMessage("Blue.", nil)}
	g := NewChatGenerator(fake)

	got, err := g.Generate(context.Background(), "llama3", "What color is the sky?")
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if got != "Blue." {
		t.Errorf("want %q, got %q", "Blue.", got)
	}
	if len(fake.gotMsgs) != 1 || fake.gotMsgs[0].Role != schema.User || fake.gotMsgs[0].Content != "What color is the sky?" {
		t.Errorf("unexpected messages: %+v", fake.gotMsgs)
	}
	if fake.gotModel != "llama3" {
		t.Errorf("model option: want llama3, got %q", fake.gotModel)
	}
}

func TestChatGenerator_PropagatesError(t *testing.T) {
	t.Parallel()

	cause := errors.New("503 from upstream")
	g := NewChatGenerator(&fakeChatModel{err: cause})
	if _, err := g.Generate(context.Background(), "", "hi"); !errors.Is(err, cause) {
		t.Errorf("want wrapped cause, got %v", err)
	}
}

func TestChatGenerator_NilResponse(t *testing.T) {
	t.Parallel()

	g := NewChatGenerator(&fakeChatModel{})
	if _, err := g.Generate(context.Background(), "", "hi"); err == nil {
		t.Error("expected error for nil response")
	}
}

func TestOllamaHealthCheck(t *testing.T) {
	t.Parallel()

	ok := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/tags" {
			http.NotFound(w, r)
			return
		}
		_, _ = w.Write([]byte(`{"models":[]}`))
	}))
	defer ok.Close()

	if err := (&OllamaHealthCheck{Host: ok.URL + "/"}).HealthCheck(context.Background()); err != nil {
		t.Errorf("healthy server: %v", err)
	}

	down := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer down.Close()

	if err := (&OllamaHealthCheck{Host: down.URL}).HealthCheck(context.Background()); err == nil {
		t.Error("expected error for 500 response")
	}
}

func TestHealthCheckFor(t *testing.T) {
	t.Parallel()

	if HealthCheckFor(&Config{Backend: BackendOllama}) == nil {
		t.Error("ollama should have a health check")
	}
	if HealthCheckFor(&Config{Backend: BackendOpenAI}) != nil {
		t.Error("openai has no zero-cost health check")
	}
}

func TestConfigFromEnv(t *testing.T) {
	t.Setenv("MODEL_PROVIDER", "openai")
	t.Setenv("OPENAI_API_KEY", "sk-test")
	t.Setenv("OPENAI_MODEL", "gpt-4o-mini")
	t.Setenv("MODEL_MAX_TOKENS", "256")
	t.Setenv("MODEL_TEMPERATURE", "not-a-float")

	cfg := ConfigFromEnv()
	if cfg.Backend != BackendOpenAI {
		t.Errorf("backend: want openai, got %q", cfg.Backend)
	}
	if cfg.ModelName() != "gpt-4o-mini" {
		t.Errorf("model: want gpt-4o-mini, got %q", cfg.ModelName())
	}
	if cfg.Tuning.MaxTokens != 256 {
		t.Errorf("max tokens: want 256, got %d", cfg.Tuning.MaxTokens)
	}
	if cfg.Tuning.Temperature != 0.2 {
		t.Errorf("temperature: want fallback 0.2, got %v", cfg.Tuning.Temperature)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("validate: %v", err)
	}
}

func TestNew_RejectsInvalidConfig(t *testing.T) {
	t.Parallel()

	_, err := New(context.Background(), &Config{Backend: BackendOpenAI})
	if err == nil {
		t.Fatal("expected validation error")
	}
}
