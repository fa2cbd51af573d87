package llmclient

import (
	"context"
	"strings"

	genai "google.golang.org/genai"
)

// GeminiClient is a thin wrapper around the official genai client. The SDK
// call is not chunked here: the assembled response is forwarded as a
// single chunk, which keeps the streaming contract uniform across
// providers.
type GeminiClient struct {
	cli    *genai.Client
	model  string
	limits Limits
}

func NewGeminiClient(ctx context.Context, model string) (*GeminiClient, error) {
	// The genai client reads its API key from the environment.
	cli, err := genai.NewClient(ctx, &genai.ClientConfig{Backend: genai.BackendGeminiAPI})
	if err != nil {
		return nil, err
	}
	return &GeminiClient{cli: cli, model: model, limits: LimitsFor("gemini", model)}, nil
}

func (g *GeminiClient) Name() string             { return "Gemini:" + g.model }
func (g *GeminiClient) Close() error             { return nil }
func (g *GeminiClient) CountTokens(s string) int { return CountTokens(s) }
func (g *GeminiClient) TokenCapacity() int       { return g.limits.Context }
func (g *GeminiClient) MaxOutputTokens() int     { return g.limits.Output }

func (g *GeminiClient) GenerateStream(ctx context.Context, prompt, systemPrompt string, p SizeParams, onChunk func(string)) (string, error) {
	full := systemPrompt + "\n\n" + prompt
	resp, err := g.cli.Models.GenerateContent(ctx, g.model,
		[]*genai.Content{{Parts: []*genai.Part{{Text: full}}}},
		&genai.GenerateContentConfig{},
	)
	if err != nil {
		return "", classifyGeminiError(err)
	}
	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return "", &BackendError{Kind: ErrUnavailable, Err: errEmptyResponse}
	}
	var b strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if part != nil && part.Text != "" {
			b.WriteString(part.Text)
		}
	}
	text := b.String()
	if onChunk != nil && text != "" {
		onChunk(text)
	}
	return text, nil
}

func (g *GeminiClient) ListModels(ctx context.Context) ([]string, error) {
	// The generative-language API has no cheap listing endpoint in this
	// SDK surface; advertise the models the catalog knows limits for.
	out := make([]string, 0, len(geminiLimits))
	for m := range geminiLimits {
		out = append(out, m)
	}
	return out, nil
}

func (g *GeminiClient) TestConnection(ctx context.Context) error {
	_, err := g.GenerateStream(ctx, "ping", "Reply with one word.", SizeParams{MaxTokens: 8}, nil)
	return err
}

func classifyGeminiError(err error) error {
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "429") || strings.Contains(msg, "quota") || strings.Contains(msg, "rate"):
		return &BackendError{Kind: ErrRateLimited, Err: err}
	case strings.Contains(msg, "401") || strings.Contains(msg, "403") || strings.Contains(msg, "api key"):
		return &BackendError{Kind: ErrAuthFailure, Err: err}
	case strings.Contains(msg, "token") && strings.Contains(msg, "exceed"):
		return &BackendError{Kind: ErrContextTooLarge, Err: err}
	case strings.Contains(msg, "deadline"):
		return &BackendError{Kind: ErrTimeout, Err: err}
	}
	return &BackendError{Kind: ErrUnavailable, Err: err}
}
