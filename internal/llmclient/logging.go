package llmclient

import (
	"context"
	"errors"
	"log"
	"time"
)

var errEmptyResponse = errors.New("empty response from backend")

// Logging wraps a client with call timing and failure logs.
func Logging() Middleware {
	return func(next Client) Client {
		return &logging{next: next}
	}
}

type logging struct {
	next Client
}

func (l *logging) Name() string             { return l.next.Name() }
func (l *logging) Close() error             { return l.next.Close() }
func (l *logging) CountTokens(s string) int { return l.next.CountTokens(s) }
func (l *logging) TokenCapacity() int       { return l.next.TokenCapacity() }
func (l *logging) MaxOutputTokens() int     { return l.next.MaxOutputTokens() }

func (l *logging) GenerateStream(ctx context.Context, prompt, systemPrompt string, p SizeParams, onChunk func(string)) (string, error) {
	start := time.Now()
	out, err := l.next.GenerateStream(ctx, prompt, systemPrompt, p, onChunk)
	if err != nil {
		log.Printf("%s generate failed after %s: %v", l.next.Name(), time.Since(start).Round(time.Millisecond), err)
		return out, err
	}
	log.Printf("%s generated %d tokens in %s", l.next.Name(), l.next.CountTokens(out), time.Since(start).Round(time.Millisecond))
	return out, nil
}

func (l *logging) TestConnection(ctx context.Context) error {
	return l.next.TestConnection(ctx)
}

func (l *logging) ListModels(ctx context.Context) ([]string, error) {
	return l.next.ListModels(ctx)
}
