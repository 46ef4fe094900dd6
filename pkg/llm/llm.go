// Package llm is the language-model boundary of the pipeline. Steps talk to a
// Client; provider adapters live in the subpackages.
package llm

import "context"

// DefaultMaxTokens caps completions when a request does not set MaxTokens.
const DefaultMaxTokens = 2048

// Request is one single-turn completion.
type Request struct {
	System      string
	Prompt      string
	Model       string
	MaxTokens   int
	Temperature float64
	// JSON asks the provider for a JSON object when it supports a JSON mode.
	JSON bool
}

// Usage is the token accounting of one call.
type Usage struct {
	Model          string
	InputTokens    int64
	OutputTokens   int64
	CacheHitTokens int64
}

// Response is the text a model produced and what it cost.
type Response struct {
	Text  string
	Usage Usage
}

// Client completes prompts. Implementations are safe for concurrent use.
type Client interface {
	Complete(ctx context.Context, req Request) (Response, error)
	// Model is the default model name, used for cost lookup.
	Model() string
}

// MaxTokensOrDefault returns r.MaxTokens or DefaultMaxTokens.
func (r Request) MaxTokensOrDefault() int {
	if r.MaxTokens > 0 {
		return r.MaxTokens
	}

	return DefaultMaxTokens
}
