package raptor

import (
	"context"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
)

// EinoChatLLM adapts an eino ToolCallingChatModel to the ChatLLM capability
// the Summarizer depends on, keeping the orchestrator free of any concrete
// provider SDK.
//
// Temperature and max-output-tokens are baked into the underlying
// ChatModelConfig at construction time rather than passed as eino
// model.Option values at call time, since the summarizer always wants a
// single fixed profile (temperature 0.2) and eino-ext's per-call option set
// varies by provider.
type EinoChatLLM struct {
	model model.ToolCallingChatModel
}

// NewEinoChatLLM wraps an already-configured chat model.
func NewEinoChatLLM(m model.ToolCallingChatModel) *EinoChatLLM {
	return &EinoChatLLM{model: m}
}

// Summarize issues one Generate call with a single user-role message
// carrying the prompt, and returns the assistant message's content.
// maxTokens and temperature are accepted for interface parity; callers
// relying on per-call control should construct a dedicated model instance,
// since the underlying eino ChatModelConfig fixes them per model.
func (l *EinoChatLLM) Summarize(ctx context.Context, prompt string, maxTokens int, temperature float64) (string, error) {
	msg, err := l.model.Generate(ctx, []*schema.Message{
		{Role: schema.User, Content: prompt},
	})
	if err != nil {
		return "", err
	}
	if msg == nil {
		return "", nil
	}
	return msg.Content, nil
}
