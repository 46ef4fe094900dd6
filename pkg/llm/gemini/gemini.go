// Package gemini adapts the Gemini generative API to llm.Client.
package gemini

import (
	"context"
	"errors"
	"strings"

	"github.com/dukex/paperdigest/pkg/llm"
	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
)

const DefaultModel = "gemini-1.5-flash"

type Client struct {
	client *genai.Client
	model  string
}

// New opens a Gemini client. Call Close when done.
func New(ctx context.Context, apiKey, model string) (*Client, error) {
	if apiKey == "" {
		return nil, errors.New("gemini api key is required")
	}

	if model == "" {
		model = DefaultModel
	}

	client, err := genai.NewClient(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		return nil, err
	}

	return &Client{client: client, model: model}, nil
}

func (c *Client) Model() string { return c.model }

func (c *Client) Close() error {
	return c.client.Close()
}

func (c *Client) Complete(ctx context.Context, req llm.Request) (llm.Response, error) {
	name := req.Model
	if name == "" {
		name = c.model
	}

	model := c.client.GenerativeModel(name)
	configure(model, req)

	resp, err := model.GenerateContent(ctx, genai.Text(req.Prompt))
	if err != nil {
		return llm.Response{}, translateError(err)
	}

	return translate(resp, name)
}

func configure(model *genai.GenerativeModel, req llm.Request) {
	model.SetMaxOutputTokens(int32(req.MaxTokensOrDefault()))

	if req.Temperature > 0 {
		model.SetTemperature(float32(req.Temperature))
	}

	if req.System != "" {
		model.SystemInstruction = &genai.Content{Parts: []genai.Part{genai.Text(req.System)}}
	}

	if req.JSON {
		model.ResponseMIMEType = "application/json"
	}
}

func translate(resp *genai.GenerateContentResponse, model string) (llm.Response, error) {
	if resp == nil {
		return llm.Response{}, llm.ErrEmptyResponse
	}

	var text strings.Builder

	if len(resp.Candidates) > 0 && resp.Candidates[0].Content != nil {
		for _, part := range resp.Candidates[0].Content.Parts {
			if t, ok := part.(genai.Text); ok {
				text.WriteString(string(t))
			}
		}
	}

	if text.Len() == 0 {
		return llm.Response{}, llm.ErrEmptyResponse
	}

	out := llm.Response{Text: text.String(), Usage: llm.Usage{Model: model}}

	if u := resp.UsageMetadata; u != nil {
		out.Usage.InputTokens = int64(u.PromptTokenCount)
		out.Usage.OutputTokens = int64(u.CandidatesTokenCount)
		out.Usage.CacheHitTokens = int64(u.CachedContentTokenCount)
	}

	return out, nil
}

func translateError(err error) error {
	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) {
		return &llm.APIError{Provider: "gemini", StatusCode: apiErr.Code, Err: err}
	}

	return err
}
