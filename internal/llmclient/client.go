// Package llmclient provides the uniform surface over text-generation
// backends. Providers focus on the API call itself; cross-cutting concerns
// (logging, retries) are applied via Middleware, and retry policy for
// generation lives with the orchestrator.
package llmclient

import "context"

// SizeParams bounds a single generation call.
type SizeParams struct {
	MaxTokens   int
	Temperature float32
}

// Client is a text-generation backend bound to one model. Implementations
// must be safe for use by concurrent requests.
type Client interface {
	Name() string
	// GenerateStream invokes the backend in streaming mode, forwarding each
	// chunk to onChunk as it arrives, and returns the assembled text.
	GenerateStream(ctx context.Context, prompt, systemPrompt string, p SizeParams, onChunk func(chunk string)) (string, error)
	TestConnection(ctx context.Context) error
	ListModels(ctx context.Context) ([]string, error)
	CountTokens(text string) int
	// TokenCapacity is the model's context window in tokens.
	TokenCapacity() int
	// MaxOutputTokens is the largest single response the model can produce.
	MaxOutputTokens() int
	Close() error
}

// Middleware wraps a Client with a cross-cutting concern.
type Middleware func(Client) Client

// Wrap applies middlewares so the first listed is outermost.
func Wrap(c Client, mws ...Middleware) Client {
	for i := len(mws) - 1; i >= 0; i-- {
		c = mws[i](c)
	}
	return c
}
