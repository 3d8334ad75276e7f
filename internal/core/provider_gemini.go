package core

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/generative-ai-go/genai"
	"github.com/rs/zerolog"
	"google.golang.org/api/option"
)

const defaultVisionModelName = "gemini-2.0-flash-exp"

// contentGenerator is the slice of *genai.GenerativeModel the provider uses.
type contentGenerator interface {
	GenerateContent(ctx context.Context, parts ...genai.Part) (*genai.GenerateContentResponse, error)
}

// GeminiProvider answers image-bearing questions with a Gemini vision model.
type GeminiProvider struct {
	client  *genai.Client
	model   contentGenerator
	fetcher *ImageFetcher
	log     zerolog.Logger
}

func NewGeminiProvider(ctx context.Context, apiKey, modelName string, fetcher *ImageFetcher, log zerolog.Logger) (*GeminiProvider, error) {
	client, err := genai.NewClient(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		return nil, fmt.Errorf("failed to create GenAI client: %w", err)
	}
	if modelName == "" {
		modelName = defaultVisionModelName
	}
	return &GeminiProvider{
		client:  client,
		model:   client.GenerativeModel(modelName),
		fetcher: fetcher,
		log:     log.With().Str("component", "gemini").Logger(),
	}, nil
}

func (p *GeminiProvider) Name() string { return "gemini" }

func (p *GeminiProvider) Close() {
	if p.client != nil {
		if err := p.client.Close(); err != nil {
			p.log.Warn().Err(err).Msg("error closing GenAI client")
		}
	}
}

func (p *GeminiProvider) Produce(ctx context.Context, prompt Prompt) (string, error) {
	if prompt.ImageURL == "" {
		return "", permanentf("gemini provider requires an image")
	}

	img, err := p.fetcher.Fetch(ctx, prompt.ImageURL)
	if err != nil {
		return "", fmt.Errorf("error processing image at %s: %w", prompt.ImageURL, err)
	}

	resp, err := p.model.GenerateContent(ctx,
		genai.Text(visionPrompt(prompt)),
		genai.Blob{MIMEType: img.MIMEType, Data: img.Data},
	)
	if err != nil {
		return "", fmt.Errorf("gemini generate content failed: %w", err)
	}
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return "", permanentf("gemini returned no candidates")
	}

	var text strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if txt, ok := part.(genai.Text); ok {
			text.WriteString(string(txt))
		} else {
			p.log.Debug().Str("part_type", fmt.Sprintf("%T", part)).Msg("skipping non-text part")
		}
	}
	return text.String(), nil
}

func visionPrompt(p Prompt) string {
	return "Here is an image. " + p.Question + " " + withHistory(p.SystemPrompt, p.History)
}
