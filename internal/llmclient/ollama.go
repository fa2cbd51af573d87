package llmclient

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// defaultOllamaContext raises Ollama's context window. Ollama defaults to
// 4K tokens regardless of what the model supports, so the caller-facing
// window must be set explicitly on every request.
const defaultOllamaContext = 32768

// OllamaClient streams from a locally hosted Ollama server.
type OllamaClient struct {
	http    *http.Client
	baseURL string
	model   string
	numCtx  int
	limits  Limits
}

func NewOllamaClient(baseURL, model string, contextTokens int) *OllamaClient {
	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if baseURL == "" {
		baseURL = "http://localhost:11434"
	}
	if contextTokens <= 0 {
		contextTokens = defaultOllamaContext
	}
	limits := LimitsFor("ollama", model)
	limits.Context = contextTokens
	return &OllamaClient{
		http:    &http.Client{Timeout: 10 * time.Minute},
		baseURL: baseURL,
		model:   model,
		numCtx:  contextTokens,
		limits:  limits,
	}
}

func (o *OllamaClient) Name() string             { return "Ollama:" + o.model }
func (o *OllamaClient) Close() error             { return nil }
func (o *OllamaClient) CountTokens(s string) int { return CountTokens(s) }
func (o *OllamaClient) TokenCapacity() int       { return o.limits.Context }
func (o *OllamaClient) MaxOutputTokens() int     { return o.limits.Output }

type ollamaChatReq struct {
	Model    string         `json:"model"`
	Messages []groqMessage  `json:"messages"`
	Stream   bool           `json:"stream"`
	Options  ollamaChatOpts `json:"options"`
}

type ollamaChatOpts struct {
	Temperature float32 `json:"temperature"`
	NumCtx      int     `json:"num_ctx"`
	NumPredict  int     `json:"num_predict,omitempty"`
}

type ollamaChatLine struct {
	Error   string `json:"error,omitempty"`
	Message struct {
		Content string `json:"content"`
	} `json:"message"`
	Done bool `json:"done"`
}

func (o *OllamaClient) GenerateStream(ctx context.Context, prompt, systemPrompt string, p SizeParams, onChunk func(string)) (string, error) {
	reqBody := ollamaChatReq{
		Model: o.model,
		Messages: []groqMessage{
			{Role: "system", Content: systemPrompt},
			{Role: "user", Content: prompt},
		},
		Stream: true,
		Options: ollamaChatOpts{
			Temperature: p.Temperature,
			NumCtx:      o.numCtx,
			NumPredict:  p.MaxTokens,
		},
	}
	b, _ := json.Marshal(reqBody)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, o.baseURL+"/api/chat", bytes.NewReader(b))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := o.http.Do(req)
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
		if line == "" {
			continue
		}
		var chunk ollamaChatLine
		if err := json.Unmarshal([]byte(line), &chunk); err != nil {
			continue
		}
		if chunk.Error != "" {
			return full.String(), &BackendError{Kind: ErrUnavailable, Err: fmt.Errorf("ollama: %s", chunk.Error)}
		}
		if chunk.Message.Content != "" {
			full.WriteString(chunk.Message.Content)
			if onChunk != nil {
				onChunk(chunk.Message.Content)
			}
		}
		if chunk.Done {
			break
		}
	}
	if err := scanner.Err(); err != nil {
		return full.String(), classifyTransportError(err)
	}
	return full.String(), nil
}

type ollamaTags struct {
	Models []struct {
		Name string `json:"name"`
	} `json:"models"`
}

func (o *OllamaClient) ListModels(ctx context.Context) ([]string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, o.baseURL+"/api/tags", nil)
	if err != nil {
		return nil, err
	}
	resp, err := o.http.Do(req)
	if err != nil {
		return nil, classifyTransportError(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, classifyHTTPError(resp)
	}
	var tags ollamaTags
	if err := json.NewDecoder(resp.Body).Decode(&tags); err != nil {
		return nil, err
	}
	out := make([]string, 0, len(tags.Models))
	for _, m := range tags.Models {
		if m.Name != "" {
			out = append(out, m.Name)
		}
	}
	return out, nil
}

func (o *OllamaClient) TestConnection(ctx context.Context) error {
	_, err := o.ListModels(ctx)
	return err
}
