// Package openai adapts the OpenAI Chat Completions API to the bridge's
// reasoning backend contract.
package openai

import (
	"context"
	"fmt"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/tiger/persona-bridge/internal/bridge/contracts"
	"github.com/tiger/persona-bridge/internal/persona"
	"github.com/tiger/persona-bridge/providers/reasoning"
)

const defaultModel = "gpt-4o"

// Options configures the adapter.
type Options struct {
	APIKey string
	Model  string
}

// Backend drives one persona's conversations through Chat Completions.
type Backend struct {
	client  *openai.Client
	model   openai.ChatModel
	persona persona.Config
	system  string
}

// New builds a backend bound to one persona.
func New(opts Options, cfg persona.Config) (*Backend, error) {
	if opts.APIKey == "" {
		return nil, fmt.Errorf("openai: api key is required")
	}
	model := opts.Model
	if model == "" {
		model = defaultModel
	}
	client := openai.NewClient(option.WithAPIKey(opts.APIKey))
	return &Backend{
		client:  &client,
		model:   openai.ChatModel(model),
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

	completion := openai.ChatCompletionNewParams{
		Model: b.model,
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(b.system),
			openai.UserMessage(req.Text),
		},
		MaxCompletionTokens: openai.Int(int64(params.MaxTokens)),
	}
	if params.HasTemp {
		completion.Temperature = openai.Float(params.Temperature)
	}

	resp, err := b.client.Chat.Completions.New(ctx, completion)
	if err != nil {
		return contracts.GenerateResult{}, fmt.Errorf("openai generate: %w", err)
	}
	if len(resp.Choices) == 0 {
		return contracts.GenerateResult{}, fmt.Errorf("openai generate: no choices returned")
	}

	text := resp.Choices[0].Message.Content
	if err := reasoning.ValidateReply(text); err != nil {
		return contracts.GenerateResult{}, fmt.Errorf("openai generate: %w", err)
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
	_, err := b.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Model: b.model,
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.UserMessage("ping"),
		},
		MaxCompletionTokens: openai.Int(1),
	})
	if err != nil {
		return fmt.Errorf("openai ping: %w", err)
	}
	return nil
}

// Close is a no-op; the client holds no persistent connection state.
func (b *Backend) Close() error {
	return nil
}
