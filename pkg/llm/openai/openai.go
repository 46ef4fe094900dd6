// Package openai adapts the Chat Completions API to llm.Client. A custom
// base URL serves OpenAI-compatible providers such as DeepSeek.
package openai

import (
	"context"
	"errors"

	"github.com/dukex/paperdigest/pkg/llm"
	sdk "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/shared"
)

const DefaultModel = "gpt-4o-mini"

// CompletionsClient is the subset of the SDK used here; *sdk.ChatCompletionService satisfies it.
type CompletionsClient interface {
	New(ctx context.Context, body sdk.ChatCompletionNewParams, opts ...option.RequestOption) (*sdk.ChatCompletion, error)
}

type Client struct {
	completions CompletionsClient
	model       string
}

func New(completions CompletionsClient, model string) (*Client, error) {
	if completions == nil {
		return nil, errors.New("openai completions client is required")
	}

	if model == "" {
		model = DefaultModel
	}

	return &Client{completions: completions, model: model}, nil
}

// NewFromAPIKey builds a client; baseURL may be empty for api.openai.com.
func NewFromAPIKey(apiKey, baseURL, model string) (*Client, error) {
	if apiKey == "" {
		return nil, errors.New("openai api key is required")
	}

	opts := []option.RequestOption{option.WithAPIKey(apiKey)}
	if baseURL != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
	}

	client := sdk.NewClient(opts...)

	return New(&client.Chat.Completions, model)
}

func (c *Client) Model() string { return c.model }

func (c *Client) Complete(ctx context.Context, req llm.Request) (llm.Response, error) {
	model := req.Model
	if model == "" {
		model = c.model
	}

	messages := make([]sdk.ChatCompletionMessageParamUnion, 0, 2)
	if req.System != "" {
		messages = append(messages, sdk.SystemMessage(req.System))
	}

	messages = append(messages, sdk.UserMessage(req.Prompt))

	params := sdk.ChatCompletionNewParams{
		Model:               shared.ChatModel(model),
		Messages:            messages,
		MaxCompletionTokens: sdk.Int(int64(req.MaxTokensOrDefault())),
	}

	if req.Temperature > 0 {
		params.Temperature = sdk.Float(req.Temperature)
	}

	if req.JSON {
		params.ResponseFormat = sdk.ChatCompletionNewParamsResponseFormatUnion{
			OfJSONObject: sdk.Ptr(shared.NewResponseFormatJSONObjectParam()),
		}
	}

	completion, err := c.completions.New(ctx, params)
	if err != nil {
		return llm.Response{}, translateError(err)
	}

	if len(completion.Choices) == 0 || completion.Choices[0].Message.Content == "" {
		return llm.Response{}, llm.ErrEmptyResponse
	}

	usedModel := completion.Model
	if usedModel == "" {
		usedModel = model
	}

	return llm.Response{
		Text: completion.Choices[0].Message.Content,
		Usage: llm.Usage{
			Model:          usedModel,
			InputTokens:    completion.Usage.PromptTokens,
			OutputTokens:   completion.Usage.CompletionTokens,
			CacheHitTokens: completion.Usage.PromptTokensDetails.CachedTokens,
		},
	}, nil
}

func translateError(err error) error {
	var apiErr *sdk.Error
	if errors.As(err, &apiErr) {
		return &llm.APIError{Provider: "openai", StatusCode: apiErr.StatusCode, Err: err}
	}

	return err
}
