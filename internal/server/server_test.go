package server

import (
	"bytes"
	"context"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"strategist/internal/artifact"
	"strategist/internal/config"
	"strategist/internal/history"
	"strategist/internal/llmclient"
	"strategist/internal/orchestrator"
	"strategist/internal/tracker"
)

type stubBackend struct {
	reply string
}

func (b *stubBackend) GenerateStream(ctx context.Context, prompt, sys string, p llmclient.SizeParams, on func(string)) (string, error) {
	if on != nil {
		on(b.reply)
	}
	return b.reply, nil
}
func (b *stubBackend) Name() string                                 { return "stub" }
func (b *stubBackend) TestConnection(context.Context) error         { return nil }
func (b *stubBackend) ListModels(context.Context) ([]string, error) { return []string{"m1", "m2"}, nil }
func (b *stubBackend) CountTokens(s string) int                     { return llmclient.CountTokens(s) }
func (b *stubBackend) TokenCapacity() int                           { return 131072 }
func (b *stubBackend) MaxOutputTokens() int                         { return 100000 }
func (b *stubBackend) Close() error                                 { return nil }

type stubFetcher struct {
	tickets  []tracker.Ticket
	failures []tracker.Failure
	connErr  error
}

func (f *stubFetcher) FetchTickets(ctx context.Context, keys []string) ([]tracker.Ticket, []tracker.Failure) {
	return f.tickets, f.failures
}
func (f *stubFetcher) Expand(ctx context.Context, tickets []tracker.Ticket) []tracker.Ticket {
	return tickets
}
func (f *stubFetcher) TestConnection(ctx context.Context) error { return f.connErr }

func testConfig() *config.Config {
	return &config.Config{
		Tracker: config.TrackerConfig{
			BaseURL:  "https://example.atlassian.net",
			Email:    "qa@example.com",
			APIToken: "tok-secret-value-123",
		},
		Backends: config.BackendConfig{
			GroqAPIKey: "gsk_abcdefghijklmnop",
			GroqModel:  "llama-3.3-70b-versatile",
		},
	}
}

func newTestServer(t *testing.T) *Server {
	t.Helper()
	return New(testConfig(), history.New(), artifact.NewMemStore(), &stubFetcher{
		tickets: []tracker.Ticket{
			{Key: "EP-1", Title: "Checkout", Kind: "Epic", Priority: "High"},
			{Key: "ST-1", Title: "Card capture", Kind: "Story", ParentKey: "EP-1"},
		},
	}, func(provider, model string) (llmclient.Client, error) {
		return &stubBackend{reply: "# Strategy\ngenerated body"}, nil
	})
}

func TestSettings_MasksSecrets(t *testing.T) {
	srv := newTestServer(t)
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/settings", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status %d", rec.Code)
	}
	body := rec.Body.String()
	if strings.Contains(body, "tok-secret-value-123") || strings.Contains(body, "gsk_abcdefghijklmnop") {
		t.Fatal("settings leaked a full credential")
	}
	if !strings.Contains(body, "tok-") || !strings.Contains(body, "-123") {
		t.Fatal("masked token must keep first and last four characters")
	}
}

func TestValidateTracker(t *testing.T) {
	srv := newTestServer(t)
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/validate/tracker", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status %d: %s", rec.Code, rec.Body)
	}

	authFail := New(testConfig(), history.New(), artifact.NewMemStore(),
		&stubFetcher{connErr: &tracker.FetchError{Kind: tracker.FetchAuthFailure}},
		func(string, string) (llmclient.Client, error) { return &stubBackend{}, nil })
	rec = httptest.NewRecorder()
	authFail.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/validate/tracker", nil))
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status %d", rec.Code)
	}
}

func TestListModels(t *testing.T) {
	srv := newTestServer(t)
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/models?provider=groq", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status %d", rec.Code)
	}
	var out struct {
		Models []string `json:"models"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatal(err)
	}
	if len(out.Models) != 2 {
		t.Fatalf("models: %v", out.Models)
	}
}

func TestHistoryEndpoints(t *testing.T) {
	srv := newTestServer(t)
	e, err := srv.hist.Add(context.Background(), history.Entry{Title: "Doc", Content: "# Doc body"})
	if err != nil {
		t.Fatal(err)
	}

	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/history", nil))
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), "Doc") {
		t.Fatalf("list: %d %s", rec.Code, rec.Body)
	}
	if strings.Contains(rec.Body.String(), "# Doc body") {
		t.Fatal("listing must not include full content")
	}

	rec = httptest.NewRecorder()
	srv.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/history/"+e.ID, nil))
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), "# Doc body") {
		t.Fatalf("get: %d", rec.Code)
	}

	rec = httptest.NewRecorder()
	srv.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/history/"+e.ID+"/export", nil))
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), "<h1") {
		t.Fatalf("export: %d %s", rec.Code, rec.Body)
	}

	rec = httptest.NewRecorder()
	srv.ServeHTTP(rec, httptest.NewRequest(http.MethodDelete, "/api/history/"+e.ID, nil))
	if rec.Code != http.StatusNoContent {
		t.Fatalf("delete: %d", rec.Code)
	}

	rec = httptest.NewRecorder()
	srv.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/history/"+e.ID, nil))
	if rec.Code != http.StatusNotFound {
		t.Fatalf("get after delete: %d", rec.Code)
	}
}

func TestTemplatePreview_PlainText(t *testing.T) {
	srv := newTestServer(t)

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	fw, err := mw.CreateFormFile("template", "template.txt")
	if err != nil {
		t.Fatal(err)
	}
	_, _ = fw.Write([]byte("1. Alpha Section\n2. Beta Section\nprose in between\n"))
	_ = mw.Close()

	req := httptest.NewRequest(http.MethodPost, "/api/template/preview", &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("status %d: %s", rec.Code, rec.Body)
	}
	var out struct {
		Sections int  `json:"sections"`
		Fallback bool `json:"fallback"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatal(err)
	}
	// Two headings are below the confirmation threshold, so the preview
	// reports the default hierarchy.
	if !out.Fallback || out.Sections == 0 {
		t.Fatalf("preview: %+v", out)
	}
}

func TestGenerateWS_StreamsAndPersists(t *testing.T) {
	srv := newTestServer(t)
	ts := httptest.NewServer(srv)
	defer ts.Close()

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws/generate"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatal(err)
	}
	defer conn.Close()

	if err := conn.WriteJSON(GenerateRequest{
		TicketKeys: []string{"EP-1"},
		Provider:   "groq",
		Model:      "llama-3.3-70b-versatile",
		Depth:      "detailed",
	}); err != nil {
		t.Fatal(err)
	}

	var sawChunk, sawDone bool
	var finalContent string
	for !sawDone {
		var e orchestrator.Event
		if err := conn.ReadJSON(&e); err != nil {
			t.Fatalf("read: %v (chunk=%v)", err, sawChunk)
		}
		switch e.Kind {
		case orchestrator.EventTextChunk:
			sawChunk = true
		case orchestrator.EventRequestDone:
			sawDone = true
			finalContent = e.Content
		case orchestrator.EventRequestError:
			t.Fatalf("request_error: %s", e.Error)
		}
	}
	if !sawChunk {
		t.Error("no text_chunk events streamed")
	}
	if !strings.Contains(finalContent, "generated body") {
		t.Errorf("final content: %q", finalContent)
	}

	// The handler persists after the final event and then closes; drain
	// until the close frame so the history write has happened.
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			break
		}
	}

	list, err := srv.hist.List(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if len(list) != 1 {
		t.Fatalf("finished run not persisted: %d entries", len(list))
	}
}
