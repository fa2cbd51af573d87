package llmclient

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"
)

// GroqClient calls the Groq Chat Completions API (OpenAI-compatible) in
// SSE streaming mode. See: https://console.groq.com/docs/api-reference
type GroqClient struct {
	http    *http.Client
	apiKey  string
	model   string
	baseURL string
	limits  Limits
}

// NewGroqClient creates a Groq client. If apiKey is empty, it falls back
// to the GROQ_API_KEY env var.
func NewGroqClient(apiKey, model string) *GroqClient {
	if apiKey == "" {
		apiKey = os.Getenv("GROQ_API_KEY")
	}
	return &GroqClient{
		http:    &http.Client{Timeout: 5 * time.Minute},
		apiKey:  apiKey,
		model:   model,
		baseURL: "https://api.groq.com/openai/v1",
		limits:  LimitsFor("groq", model),
	}
}

func (g *GroqClient) Name() string              { return "Groq:" + g.model }
func (g *GroqClient) Close() error              { return nil }
func (g *GroqClient) CountTokens(s string) int  { return CountTokens(s) }
func (g *GroqClient) TokenCapacity() int        { return g.limits.Context }
func (g *GroqClient) MaxOutputTokens() int      { return g.limits.Output }

type groqChatReq struct {
	Model       string        `json:"model"`
	Messages    []groqMessage `json:"messages"`
	Temperature float32       `json:"temperature,omitempty"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
	Stream      bool          `json:"stream"`
}

type groqMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type groqStreamChunk struct {
	Choices []struct {
		Delta struct {
			Content string `json:"content"`
		} `json:"delta"`
	} `json:"choices"`
}

func (g *GroqClient) GenerateStream(ctx context.Context, prompt, systemPrompt string, p SizeParams, onChunk func(string)) (string, error) {
	reqBody := groqChatReq{
		Model: g.model,
		Messages: []groqMessage{
			{Role: "system", Content: systemPrompt},
			{Role: "user", Content: prompt},
		},
		Temperature: p.Temperature,
		MaxTokens:   p.MaxTokens,
		Stream:      true,
	}
	b, _ := json.Marshal(reqBody)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.baseURL+"/chat/completions", bytes.NewReader(b))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	if g.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+g.apiKey)
	}

	resp, err := g.http.Do(req)
	if err != nil {
		return "", classifyTransportError(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", classifyHTTPError(resp)
	}

	var full strings.Builder
	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		select {
		case <-ctx.Done():
			return full.String(), &BackendError{Kind: ErrTimeout, Err: ctx.Err()}
		default:
		}
		line := strings.TrimSpace(scanner.Text())
		if !strings.HasPrefix(line, "data:") {
			continue
		}
		payload := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		if payload == "" || payload == "[DONE]" {
			continue
		}
		var chunk groqStreamChunk
		if err := json.Unmarshal([]byte(payload), &chunk); err != nil {
			continue
		}
		if len(chunk.Choices) == 0 {
			continue
		}
		if delta := chunk.Choices[0].Delta.Content; delta != "" {
			full.WriteString(delta)
			if onChunk != nil {
				onChunk(delta)
			}
		}
	}
	if err := scanner.Err(); err != nil {
		return full.String(), classifyTransportError(err)
	}
	return full.String(), nil
}

type groqModelList struct {
	Data []struct {
		ID string `json:"id"`
	} `json:"data"`
}

// preferredGroqModels come first in listings.
var preferredGroqModels = []string{
	"llama-3.3-70b-versatile",
	"llama-3.1-8b-instant",
	"deepseek-r1-distill-llama-70b",
	"qwen-qwq-32b",
	"meta-llama/llama-4-scout-17b-16e-instruct",
}

func (g *GroqClient) ListModels(ctx context.Context) ([]string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, g.baseURL+"/models", nil)
	if err != nil {
		return nil, err
	}
	if g.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+g.apiKey)
	}
	resp, err := g.http.Do(req)
	if err != nil {
		return nil, classifyTransportError(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, classifyHTTPError(resp)
	}
	var list groqModelList
	if err := json.NewDecoder(resp.Body).Decode(&list); err != nil {
		return nil, err
	}
	available := make([]string, 0, len(list.Data))
	for _, m := range list.Data {
		available = append(available, m.ID)
	}
	return orderPreferred(available, preferredGroqModels), nil
}

func (g *GroqClient) TestConnection(ctx context.Context) error {
	_, err := g.ListModels(ctx)
	return err
}

// orderPreferred sorts preferred models (in order) ahead of the rest.
func orderPreferred(available, preferred []string) []string {
	out := make([]string, 0, len(available))
	used := make(map[string]bool, len(available))
	for _, pref := range preferred {
		for _, m := range available {
			if !used[m] && strings.Contains(m, pref) {
				out = append(out, m)
				used[m] = true
			}
		}
	}
	for _, m := range available {
		if !used[m] {
			out = append(out, m)
		}
	}
	return out
}

func classifyHTTPError(resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
	err := fmt.Errorf("unexpected status %s: %s", resp.Status, body)
	switch {
	case resp.StatusCode == http.StatusUnauthorized, resp.StatusCode == http.StatusForbidden:
		return &BackendError{Kind: ErrAuthFailure, Err: err}
	case resp.StatusCode == http.StatusTooManyRequests:
		var after time.Duration
		if secs, convErr := strconv.Atoi(resp.Header.Get("Retry-After")); convErr == nil && secs > 0 {
			after = time.Duration(secs) * time.Second
		}
		return &BackendError{Kind: ErrRateLimited, RetryAfter: after, Err: err}
	case resp.StatusCode == http.StatusBadRequest && bytes.Contains(body, []byte("context_length_exceeded")):
		return &BackendError{Kind: ErrContextTooLarge, Err: err}
	case resp.StatusCode == http.StatusRequestEntityTooLarge:
		return &BackendError{Kind: ErrContextTooLarge, Err: err}
	case resp.StatusCode >= 500:
		return &BackendError{Kind: ErrUnavailable, Err: err}
	}
	return &BackendError{Kind: ErrUnavailable, Err: err}
}

func classifyTransportError(err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return &BackendError{Kind: ErrTimeout, Err: err}
	}
	var ne interface{ Timeout() bool }
	if errors.As(err, &ne) && ne.Timeout() {
		return &BackendError{Kind: ErrTimeout, Err: err}
	}
	return &BackendError{Kind: ErrUnavailable, Err: err}
}
