// Package server exposes the HTTP surface: REST endpoints for settings,
// validation, templates and history, and a websocket that streams
// generation progress.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"strategist/internal/artifact"
	"strategist/internal/config"
	"strategist/internal/export"
	"strategist/internal/history"
	"strategist/internal/llmclient"
	"strategist/internal/template"
	"strategist/internal/tracker"
)

// BackendFactory builds a client for a provider/model pair. Provider and
// model are per-request values; the server holds no current-provider
// state.
type BackendFactory func(provider, model string) (llmclient.Client, error)

// TicketFetcher is the slice of the tracker client the server needs.
type TicketFetcher interface {
	FetchTickets(ctx context.Context, keys []string) ([]tracker.Ticket, []tracker.Failure)
	Expand(ctx context.Context, tickets []tracker.Ticket) []tracker.Ticket
	TestConnection(ctx context.Context) error
}

type Server struct {
	router     chi.Router
	cfg        *config.Config
	hist       *history.Store
	artifacts  artifact.Store
	newBackend BackendFactory
	fetcher    TicketFetcher
	uploadDir  string
}

func New(cfg *config.Config, hist *history.Store, artifacts artifact.Store, fetcher TicketFetcher, newBackend BackendFactory) *Server {
	s := &Server{
		cfg:        cfg,
		hist:       hist,
		artifacts:  artifacts,
		fetcher:    fetcher,
		newBackend: newBackend,
		uploadDir:  os.TempDir(),
	}
	s.setupRoutes()
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) setupRoutes() {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)

	r.Get("/health", s.handleHealth)
	r.Get("/api/settings", s.handleSettings)
	r.Post("/api/validate/tracker", s.handleValidateTracker)
	r.Post("/api/validate/backend", s.handleValidateBackend)
	r.Get("/api/models", s.handleListModels)
	r.Post("/api/template/preview", s.handleTemplatePreview)

	r.Get("/api/history", s.handleHistoryList)
	r.Get("/api/history/{id}", s.handleHistoryGet)
	r.Delete("/api/history/{id}", s.handleHistoryDelete)
	r.Get("/api/history/{id}/export", s.handleHistoryExport)

	r.Get("/ws/generate", s.handleGenerateWS)

	s.router = r
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleSettings reports configuration with credentials masked; full
// secrets never leave the process.
func (s *Server) handleSettings(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"tracker": map[string]any{
			"base_url":    s.cfg.Tracker.BaseURL,
			"email":       s.cfg.Tracker.Email,
			"api_token":   config.MaskSecret(s.cfg.Tracker.APIToken),
			"child_depth": s.cfg.Tracker.ChildDepth,
		},
		"backends": map[string]any{
			"groq_api_key":   config.MaskSecret(s.cfg.Backends.GroqAPIKey),
			"groq_model":     s.cfg.Backends.GroqModel,
			"ollama_url":     s.cfg.Backends.OllamaURL,
			"ollama_model":   s.cfg.Backends.OllamaModel,
			"gemini_api_key": config.MaskSecret(s.cfg.Backends.GeminiAPIKey),
			"gemini_model":   s.cfg.Backends.GeminiModel,
		},
	})
}

func (s *Server) handleValidateTracker(w http.ResponseWriter, r *http.Request) {
	if s.fetcher == nil {
		writeError(w, http.StatusServiceUnavailable, "tracker is not configured")
		return
	}
	if err := s.fetcher.TestConnection(r.Context()); err != nil {
		var fe *tracker.FetchError
		if errors.As(err, &fe) && fe.Kind == tracker.FetchAuthFailure {
			writeError(w, http.StatusUnauthorized, err.Error())
			return
		}
		writeError(w, http.StatusBadGateway, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

func (s *Server) handleValidateBackend(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Provider string `json:"provider"`
		Model    string `json:"model"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	client, err := s.newBackend(req.Provider, req.Model)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	defer client.Close()
	if err := client.TestConnection(r.Context()); err != nil {
		writeError(w, http.StatusBadGateway, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

func (s *Server) handleListModels(w http.ResponseWriter, r *http.Request) {
	provider := strings.TrimSpace(r.URL.Query().Get("provider"))
	client, err := s.newBackend(provider, "")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	defer client.Close()
	models, err := client.ListModels(r.Context())
	if err != nil {
		writeError(w, http.StatusBadGateway, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"provider": provider, "models": models})
}

// handleTemplatePreview parses an uploaded template and returns the
// detected outline, flagging when parsing degraded to the default.
func (s *Server) handleTemplatePreview(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(16 << 20); err != nil {
		writeError(w, http.StatusBadRequest, "invalid multipart form")
		return
	}
	file, header, err := r.FormFile("template")
	if err != nil {
		writeError(w, http.StatusBadRequest, "template file is required")
		return
	}
	defer file.Close()

	tmp, err := os.CreateTemp(s.uploadDir, "template-*"+filepath.Ext(header.Filename))
	if err != nil {
		writeError(w, http.StatusInternalServerError, "could not buffer upload")
		return
	}
	defer os.Remove(tmp.Name())
	if _, err := io.Copy(tmp, file); err != nil {
		tmp.Close()
		writeError(w, http.StatusInternalServerError, "could not buffer upload")
		return
	}
	tmp.Close()

	res, err := template.Parse(tmp.Name())
	if err != nil {
		log.Printf("template preview degraded to default: %v", err)
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"sections": res.Total,
		"fallback": res.Fallback,
		"outline":  template.HierarchyText(res.Sections),
	})
}

func (s *Server) handleHistoryList(w http.ResponseWriter, r *http.Request) {
	list, err := s.hist.List(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if list == nil {
		list = []history.Summary{}
	}
	writeJSON(w, http.StatusOK, list)
}

func (s *Server) handleHistoryGet(w http.ResponseWriter, r *http.Request) {
	e, err := s.hist.Get(r.Context(), chi.URLParam(r, "id"))
	if errors.Is(err, history.ErrNotFound) {
		writeError(w, http.StatusNotFound, "not found")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, e)
}

func (s *Server) handleHistoryDelete(w http.ResponseWriter, r *http.Request) {
	err := s.hist.Delete(r.Context(), chi.URLParam(r, "id"))
	if errors.Is(err, history.ErrNotFound) {
		writeError(w, http.StatusNotFound, "not found")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleHistoryExport renders a stored document to HTML, persists both
// formats, and serves the page.
func (s *Server) handleHistoryExport(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	e, err := s.hist.Get(r.Context(), id)
	if errors.Is(err, history.ErrNotFound) {
		writeError(w, http.StatusNotFound, "not found")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if err := export.Save(r.Context(), s.artifacts, e.ID, e.Title, e.Content); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	page, err := s.artifacts.Get(r.Context(), e.ID, "strategy.html")
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", e.Title+".html"))
	_, _ = w.Write(page)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
