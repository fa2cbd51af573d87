package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"strategist/internal/artifact"
	"strategist/internal/config"
	"strategist/internal/history"
	"strategist/internal/llmclient"
	"strategist/internal/server"
	"strategist/internal/tracker"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	hist := history.NewFromEnv()
	defer hist.Close()

	var artifacts artifact.Store
	if cfg.Artifact.Enabled {
		s3, err := artifact.NewS3Store(artifact.S3Config{
			Endpoint:  cfg.Artifact.Endpoint,
			Region:    cfg.Artifact.Region,
			AccessKey: cfg.Artifact.AccessKey,
			SecretKey: cfg.Artifact.SecretKey,
			Bucket:    cfg.Artifact.Bucket,
			UseSSL:    cfg.Artifact.UseSSL,
		})
		if err != nil {
			log.Printf("artifact store unavailable, using memory: %v", err)
			artifacts = artifact.NewMemStore()
		} else {
			artifacts = s3
		}
	} else {
		artifacts = artifact.NewMemStore()
	}

	var fetcher server.TicketFetcher
	if cfg.Tracker.BaseURL != "" {
		tc, err := tracker.NewClient(cfg.Tracker.BaseURL, cfg.Tracker.Email, cfg.Tracker.APIToken,
			cfg.Tracker.Fields, tracker.WithChildDepth(cfg.Tracker.ChildDepth))
		if err != nil {
			log.Fatalf("Failed to build tracker client: %v", err)
		}
		fetcher = tc
	}

	srv := server.New(cfg, hist, artifacts, fetcher, backendFactory(cfg))

	httpSrv := &http.Server{
		Addr:              cfg.Port,
		Handler:           srv,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		log.Printf("listening on %s", cfg.Port)
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Printf("Server error: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := httpSrv.Shutdown(ctx); err != nil {
		log.Fatalf("Server forced to shutdown: %v", err)
	}

	log.Println("Server exiting")
}

// backendFactory resolves a provider name to a client. Provider and
// model are chosen per request; nothing here is sticky.
func backendFactory(cfg *config.Config) server.BackendFactory {
	return func(provider, model string) (llmclient.Client, error) {
		switch strings.ToLower(strings.TrimSpace(provider)) {
		case "groq":
			if cfg.Backends.GroqAPIKey == "" {
				return nil, fmt.Errorf("GROQ_API_KEY is not configured")
			}
			if model == "" {
				model = cfg.Backends.GroqModel
			}
			return llmclient.Wrap(llmclient.NewGroqClient(cfg.Backends.GroqAPIKey, model), llmclient.Logging()), nil
		case "ollama":
			if model == "" {
				model = cfg.Backends.OllamaModel
			}
			return llmclient.Wrap(llmclient.NewOllamaClient(cfg.Backends.OllamaURL, model, cfg.Backends.OllamaContext), llmclient.Logging()), nil
		case "gemini":
			if cfg.Backends.GeminiAPIKey == "" {
				return nil, fmt.Errorf("GEMINI_API_KEY is not configured")
			}
			if model == "" {
				model = cfg.Backends.GeminiModel
			}
			c, err := llmclient.NewGeminiClient(context.Background(), model)
			if err != nil {
				return nil, err
			}
			return llmclient.Wrap(c, llmclient.Logging()), nil
		default:
			return nil, fmt.Errorf("unknown provider %q", provider)
		}
	}
}
