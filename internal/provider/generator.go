package provider

import (
	"context"
	"fmt"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
)

// ChatGenerator adapts an eino chat model to a single-prompt completion call.
// It satisfies rag.Generator.
type ChatGenerator struct {
	model model.BaseChatModel
}

// NewChatGenerator wraps m.
func NewChatGenerator(m model.BaseChatModel) *ChatGenerator {
	return &ChatGenerator{model: m}
}

// Generate sends prompt as a single user message and returns the reply text.
// name is forwarded as the per-call model override; empty keeps the model
// the chat model was constructed with.
func (g *ChatGenerator) Generate(ctx context.Context, name, prompt string) (string, error) {
	var opts []model.Option
	if name != "" {
		opts = append(opts, model.WithModel(name))
	}
	resp, err := g.model.Generate(ctx, []*schema.Message{schema.UserMessage(prompt)}, opts...)
	if err != nil {
		return "", fmt.Errorf("provider: generate: %w", err)
	}
	if resp == nil {
		return "", fmt.Errorf("provider: generate: empty response")
	}
	return resp.Content, nil
}
