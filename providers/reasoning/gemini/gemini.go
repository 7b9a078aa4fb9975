// Package gemini adapts the Google GenAI API to the bridge's reasoning
// backend contract.
package gemini

import (
	"context"
	"fmt"

	"google.golang.org/genai"

	"github.com/tiger/persona-bridge/internal/bridge/contracts"
	"github.com/tiger/persona-bridge/internal/persona"
	"github.com/tiger/persona-bridge/providers/reasoning"
)

const defaultModel = "gemini-2.0-flash"

// Options configures the adapter.
type Options struct {
	APIKey string
	Model  string
}

// Backend drives one persona's conversations through Gemini.
type Backend struct {
	client  *genai.Client
	model   string
	persona persona.Config
	system  string
}

// New builds a backend bound to one persona.
func New(ctx context.Context, opts Options, cfg persona.Config) (*Backend, error) {
	if opts.APIKey == "" {
		return nil, fmt.Errorf("gemini: api key is required")
	}
	model := opts.Model
	if model == "" {
		model = defaultModel
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{APIKey: opts.APIKey})
	if err != nil {
		return nil, fmt.Errorf("gemini: create client: %w", err)
	}
	return &Backend{
		client:  client,
		model:   model,
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

	cfg := &genai.GenerateContentConfig{
		MaxOutputTokens:   int32(params.MaxTokens),
		SystemInstruction: genai.NewContentFromText(b.system, genai.RoleUser),
	}
	if params.HasTemp {
		cfg.Temperature = genai.Ptr(float32(params.Temperature))
	}

	contents := []*genai.Content{
		genai.NewContentFromText(req.Text, genai.RoleUser),
	}
	resp, err := b.client.Models.GenerateContent(ctx, b.model, contents, cfg)
	if err != nil {
		return contracts.GenerateResult{}, fmt.Errorf("gemini generate: %w", err)
	}

	text := resp.Text()
	if err := reasoning.ValidateReply(text); err != nil {
		return contracts.GenerateResult{}, fmt.Errorf("gemini generate: %w", err)
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
	contents := []*genai.Content{
		genai.NewContentFromText("ping", genai.RoleUser),
	}
	_, err := b.client.Models.GenerateContent(ctx, b.model, contents, &genai.GenerateContentConfig{
		MaxOutputTokens: 1,
	})
	if err != nil {
		return fmt.Errorf("gemini ping: %w", err)
	}
	return nil
}

// Close is a no-op; the client holds no persistent connection state.
func (b *Backend) Close() error {
	return nil
}
