// Package anthropic adapts the Claude Messages API to llm.Client.
package anthropic

import (
	"context"
	"errors"
	"strings"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/dukex/paperdigest/pkg/llm"
)

// DefaultModel is used when no model is configured.
const DefaultModel = "claude-3-5-haiku-latest"

// MessagesClient is the subset of the SDK used here; *sdk.MessageService satisfies it.
type MessagesClient interface {
	New(ctx context.Context, body sdk.MessageNewParams, opts ...option.RequestOption) (*sdk.Message, error)
}

type Client struct {
	msg   MessagesClient
	model string
}

// New wraps an existing messages client.
func New(msg MessagesClient, model string) (*Client, error) {
	if msg == nil {
		return nil, errors.New("anthropic messages client is required")
	}

	if model == "" {
		model = DefaultModel
	}

	return &Client{msg: msg, model: model}, nil
}

// NewFromAPIKey builds a client on the default HTTP transport.
func NewFromAPIKey(apiKey, model string) (*Client, error) {
	if apiKey == "" {
		return nil, errors.New("anthropic api key is required")
	}

	client := sdk.NewClient(option.WithAPIKey(apiKey))

	return New(&client.Messages, model)
}

func (c *Client) Model() string { return c.model }

func (c *Client) Complete(ctx context.Context, req llm.Request) (llm.Response, error) {
	model := req.Model
	if model == "" {
		model = c.model
	}

	params := sdk.MessageNewParams{
		Model:     sdk.Model(model),
		MaxTokens: int64(req.MaxTokensOrDefault()),
		Messages: []sdk.MessageParam{
			sdk.NewUserMessage(sdk.NewTextBlock(req.Prompt)),
		},
	}

	if req.System != "" {
		params.System = []sdk.TextBlockParam{{Text: req.System}}
	}

	if req.Temperature > 0 {
		params.Temperature = sdk.Float(req.Temperature)
	}

	msg, err := c.msg.New(ctx, params)
	if err != nil {
		return llm.Response{}, translateError(err)
	}

	var text strings.Builder

	for _, block := range msg.Content {
		if block.Type == "text" {
			text.WriteString(block.Text)
		}
	}

	if text.Len() == 0 {
		return llm.Response{}, llm.ErrEmptyResponse
	}

	usedModel := string(msg.Model)
	if usedModel == "" {
		usedModel = model
	}

	return llm.Response{
		Text: text.String(),
		Usage: llm.Usage{
			Model:          usedModel,
			InputTokens:    msg.Usage.InputTokens,
			OutputTokens:   msg.Usage.OutputTokens,
			CacheHitTokens: msg.Usage.CacheReadInputTokens,
		},
	}, nil
}

func translateError(err error) error {
	var apiErr *sdk.Error
	if errors.As(err, &apiErr) {
		return &llm.APIError{Provider: "anthropic", StatusCode: apiErr.StatusCode, Err: err}
	}

	return err
}
