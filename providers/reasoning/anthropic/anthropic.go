// Package anthropic adapts the Anthropic Messages API to the bridge's
// reasoning backend contract.
package anthropic

import (
	"context"
	"fmt"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/tiger/persona-bridge/internal/bridge/contracts"
	"github.com/tiger/persona-bridge/internal/persona"
	"github.com/tiger/persona-bridge/providers/reasoning"
)

const defaultModel = "claude-sonnet-4-20250514"

// Options configures the adapter.
type Options struct {
	APIKey string
	Model  string
}

// Backend drives one persona's conversations through Claude.
type Backend struct {
	client  *anthropic.Client
	model   anthropic.Model
	persona persona.Config
	system  string
}

// New builds a backend bound to one persona.
func New(opts Options, cfg persona.Config) (*Backend, error) {
	if opts.APIKey == "" {
		return nil, fmt.Errorf("anthropic: api key is required")
	}
	model := opts.Model
	if model == "" {
		model = defaultModel
	}
	client := anthropic.NewClient(option.WithAPIKey(opts.APIKey))
	return &Backend{
		client:  &client,
		model:   anthropic.Model(model),
		persona: cfg,
		system:  reasoning.SystemPrompt(cfg.SystemPrompt),
	}, nil
}

// Generate runs one turn and parses the emotion tag out of the reply.
func (b *Backend) Generate(ctx context.Context, req contracts.GenerateRequest) (contracts.GenerateResult, error) {
	if err := req.Validate(); err != nil {
		return contracts.GenerateResult{}, err
	}
	params := reasoning.ResolveParams(b.persona, req.MaxTokens, req.Temperature)

	msg := anthropic.MessageNewParams{
		Model:     b.model,
		MaxTokens: int64(params.MaxTokens),
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(req.Text)),
		},
		System: []anthropic.TextBlockParam{{Text: b.system}},
	}
	if params.HasTemp {
		msg.Temperature = anthropic.Float(params.Temperature)
	}

	resp, err := b.client.Messages.New(ctx, msg)
	if err != nil {
		return contracts.GenerateResult{}, fmt.Errorf("anthropic generate: %w", err)
	}

	var text string
	for _, block := range resp.Content {
		if block.Type == "text" {
			text += block.AsText().Text
		}
	}
	if err := reasoning.ValidateReply(text); err != nil {
		return contracts.GenerateResult{}, fmt.Errorf("anthropic generate: %w", err)
	}

	label, confidence, clean := reasoning.ParseEmotion(text)
	return contracts.GenerateResult{
		Text:         clean,
		EmotionLabel: label,
		Confidence:   confidence,
	}, nil
}

// Ping issues a one-token call so health probes exercise the real path.
func (b *Backend) Ping(ctx context.Context) error {
	_, err := b.client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     b.model,
		MaxTokens: 1,
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock("ping")),
		},
	})
	if err != nil {
		return fmt.Errorf("anthropic ping: %w", err)
	}
	return nil
}

// Close is a no-op; the client holds no persistent connection state.
func (b *Backend) Close() error {
	return nil
}
