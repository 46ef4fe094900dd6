package cmd

import (
	"context"
	"errors"
	"fmt"

	"github.com/dukex/paperdigest/pkg/llm"
	"github.com/dukex/paperdigest/pkg/llm/anthropic"
	"github.com/dukex/paperdigest/pkg/llm/gemini"
	"github.com/dukex/paperdigest/pkg/llm/openai"
)

// LLMConfig selects and authenticates a model provider.
type LLMConfig struct {
	Provider string
	APIKey   string
	Model    string

	// BaseURL points the openai provider at a compatible endpoint.
	BaseURL string
}

// NewLLMClient builds the configured client. The returned close function
// releases provider resources and is never nil.
func NewLLMClient(ctx context.Context, cfg LLMConfig) (llm.Client, func() error, error) {
	noop := func() error { return nil }

	if cfg.APIKey == "" && cfg.Provider != "mock" {
		return nil, noop, errors.New("an API key is required for the LLM provider")
	}

	switch cfg.Provider {
	case "anthropic", "":
		client, err := anthropic.NewFromAPIKey(cfg.APIKey, cfg.Model)
		if err != nil {
			return nil, noop, err
		}

		return client, noop, nil
	case "openai", "deepseek":
		client, err := openai.NewFromAPIKey(cfg.APIKey, cfg.BaseURL, cfg.Model)
		if err != nil {
			return nil, noop, err
		}

		return client, noop, nil
	case "gemini":
		client, err := gemini.New(ctx, cfg.APIKey, cfg.Model)
		if err != nil {
			return nil, noop, err
		}

		return client, client.Close, nil
	case "mock":
		return &llm.Mock{ModelName: "mock"}, noop, nil
	default:
		return nil, noop, fmt.Errorf("unsupported LLM provider: %s", cfg.Provider)
	}
}
