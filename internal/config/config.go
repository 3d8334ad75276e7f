package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

const DefaultSystemPrompt = "You are a medical professional providing clinical advice to a patient. " +
	"Be direct, professional, and informative. Provide clear medical information including: " +
	"what the condition likely is, expected timeline for resolution, recommended treatments or interventions, " +
	"when professional medical care is necessary, and relevant prevention measures. " +
	"Use medical terminology appropriately but ensure explanations remain accessible. " +
	"Be concise and focus on actionable medical guidance."

type Config struct {
	DatabaseURL     string        `env:"DATABASE_URL,notEmpty"`
	HTTPPort        string        `env:"HTTP_PORT" envDefault:"8080"`
	LogLevel        string        `env:"LOG_LEVEL" envDefault:"info"`
	LogFormat       string        `env:"LOG_FORMAT" envDefault:"text"` // "text" or "json"
	ShutdownTimeout time.Duration `env:"SHUTDOWN_TIMEOUT" envDefault:"30s"`

	// Text provider (OpenAI-compatible chat completions)
	MistralKey     string `env:"MISTRAL_KEY,notEmpty"`
	MistralModel   string `env:"MISTRAL_MODEL" envDefault:"mistral-large-latest"`
	MistralBaseURL string `env:"MISTRAL_BASE_URL" envDefault:"https://api.mistral.ai/v1"`

	// Vision provider
	GeminiKey   string `env:"GEMINI_KEY,notEmpty"`
	GeminiModel string `env:"GEMINI_MODEL" envDefault:"gemini-2.0-flash-exp"`

	SystemPrompt      string        `env:"SYSTEM_PROMPT"`
	AITimeout         time.Duration `env:"AI_TIMEOUT" envDefault:"60s"`
	AIRetryDelay      time.Duration `env:"AI_RETRY_DELAY" envDefault:"500ms"`
	ImageFetchTimeout time.Duration `env:"IMAGE_FETCH_TIMEOUT" envDefault:"15s"`
	MaxImageBytes     int64         `env:"MAX_IMAGE_BYTES" envDefault:"20971520"`
}

// Load reads an optional .env file and then parses the environment. The
// returned bool reports whether a .env file was found.
func Load() (*Config, bool, error) {
	dotenv := godotenv.Load() == nil

	cfg, err := env.ParseAs[Config]()
	if err != nil {
		return nil, dotenv, fmt.Errorf("failed to parse configuration: %w", err)
	}
	if cfg.SystemPrompt == "" {
		cfg.SystemPrompt = DefaultSystemPrompt
	}
	return &cfg, dotenv, nil
}
