package core

import (
	"context"
	"fmt"
	"strings"

	"github.com/rs/zerolog"
	openai "github.com/sashabaranov/go-openai"
)

const defaultMistralModel = "mistral-large-latest"

// MistralProvider answers text-only questions through Mistral's
// OpenAI-compatible chat completions endpoint.
type MistralProvider struct {
	client *openai.Client
	model  string
	log    zerolog.Logger
}

func NewMistralProvider(apiKey, baseURL, model string, log zerolog.Logger) *MistralProvider {
	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = strings.TrimRight(baseURL, "/")
	}
	if model == "" {
		model = defaultMistralModel
	}
	return &MistralProvider{
		client: openai.NewClientWithConfig(cfg),
		model:  model,
		log:    log.With().Str("component", "mistral").Logger(),
	}
}

func (p *MistralProvider) Name() string { return "mistral" }

func (p *MistralProvider) Produce(ctx context.Context, prompt Prompt) (string, error) {
	req := openai.ChatCompletionRequest{
		Model: p.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: withHistory(prompt.SystemPrompt, prompt.History)},
			{Role: openai.ChatMessageRoleUser, Content: prompt.Question},
		},
	}

	resp, err := p.client.CreateChatCompletion(ctx, req)
	if err != nil {
		return "", fmt.Errorf("mistral chat completion failed: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", permanentf("mistral returned no choices")
	}

	text := resp.Choices[0].Message.Content
	p.log.Debug().Int("chars", len(text)).Str("model", p.model).Msg("mistral completion received")
	return text, nil
}
