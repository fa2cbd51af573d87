package llmclient

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"reflect"
	"testing"
	"time"
)

func newGroqAgainst(srv *httptest.Server) *GroqClient {
	c := NewGroqClient("test-key", "llama-3.3-70b-versatile")
	c.baseURL = srv.URL
	return c
}

func TestGroq_GenerateStream(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		w.Write([]byte(`data: {"choices":[{"delta":{"content":"Hello"}}]}` + "\n\n"))
		w.Write([]byte(`data: {"choices":[{"delta":{"content":" world"}}]}` + "\n\n"))
		w.Write([]byte("data: [DONE]\n\n"))
	}))
	defer srv.Close()

	var chunks []string
	got, err := newGroqAgainst(srv).GenerateStream(context.Background(), "p", "s",
		SizeParams{MaxTokens: 100}, func(c string) { chunks = append(chunks, c) })
	if err != nil {
		t.Fatal(err)
	}
	if got != "Hello world" {
		t.Fatalf("assembled: %q", got)
	}
	if !reflect.DeepEqual(chunks, []string{"Hello", " world"}) {
		t.Fatalf("chunks: %v", chunks)
	}
}

func TestGroq_ErrorClassification(t *testing.T) {
	cases := []struct {
		status int
		header map[string]string
		body   string
		kind   ErrorKind
		after  time.Duration
	}{
		{status: 401, kind: ErrAuthFailure},
		{status: 429, header: map[string]string{"Retry-After": "11"}, kind: ErrRateLimited, after: 11 * time.Second},
		{status: 400, body: `{"error":{"code":"context_length_exceeded"}}`, kind: ErrContextTooLarge},
		{status: 503, kind: ErrUnavailable},
	}
	for _, c := range cases {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			for k, v := range c.header {
				w.Header().Set(k, v)
			}
			w.WriteHeader(c.status)
			w.Write([]byte(c.body))
		}))
		_, err := newGroqAgainst(srv).GenerateStream(context.Background(), "p", "s", SizeParams{}, nil)
		srv.Close()

		var be *BackendError
		if !errors.As(err, &be) || be.Kind != c.kind {
			t.Fatalf("status %d: got %v, want kind %s", c.status, err, c.kind)
		}
		if be.RetryAfter != c.after {
			t.Fatalf("status %d: retry-after %v", c.status, be.RetryAfter)
		}
	}
}

func TestGroq_ListModelsPreferredFirst(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/models" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.Write([]byte(`{"data":[{"id":"zeta-model"},{"id":"llama-3.1-8b-instant"},{"id":"llama-3.3-70b-versatile"}]}`))
	}))
	defer srv.Close()

	models, err := newGroqAgainst(srv).ListModels(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	want := []string{"llama-3.3-70b-versatile", "llama-3.1-8b-instant", "zeta-model"}
	if !reflect.DeepEqual(models, want) {
		t.Fatalf("got %v", models)
	}
}

func TestRetryable(t *testing.T) {
	if !Retryable(&BackendError{Kind: ErrRateLimited}) || !Retryable(&BackendError{Kind: ErrTimeout}) {
		t.Fatal("transient kinds must be retryable")
	}
	if Retryable(&BackendError{Kind: ErrAuthFailure}) || Retryable(&BackendError{Kind: ErrContextTooLarge}) {
		t.Fatal("permanent kinds must not be retryable")
	}
	if Retryable(errors.New("plain")) {
		t.Fatal("unclassified errors are not retryable")
	}
}

func TestCountTokens(t *testing.T) {
	if got := CountTokens("one two three"); got != 3 {
		t.Fatalf("words: %d", got)
	}
	if got := CountTokens(""); got != 0 {
		t.Fatalf("empty: %d", got)
	}
}
