// Package config loads runtime configuration from flags and the
// environment, with .env support for local development.
package config

import (
	"flag"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"

	"strategist/internal/tracker"
)

type Config struct {
	Port     string
	Env      string
	Tracker  TrackerConfig
	Backends BackendConfig
	Artifact ArtifactConfig
}

type TrackerConfig struct {
	BaseURL    string
	Email      string
	APIToken   string
	ChildDepth int
	Fields     tracker.FieldMap
}

type BackendConfig struct {
	GroqAPIKey    string
	GroqModel     string
	OllamaURL     string
	OllamaModel   string
	OllamaContext int
	GeminiAPIKey  string
	GeminiModel   string
}

type ArtifactConfig struct {
	Enabled   bool
	Endpoint  string
	Region    string
	AccessKey string
	SecretKey string
	Bucket    string
	UseSSL    bool
}

func Load() (*Config, error) {
	_ = godotenv.Load()

	port := flag.String("port", ":8080", "server port")
	flag.Parse()

	if envPort := os.Getenv("PORT"); envPort != "" {
		if strings.HasPrefix(envPort, ":") {
			*port = envPort
		} else {
			*port = ":" + envPort
		}
	}

	env := strings.TrimSpace(os.Getenv("APP_ENV"))
	if env == "" {
		env = "local"
	}

	return &Config{
		Port:     *port,
		Env:      env,
		Tracker:  loadTrackerConfig(),
		Backends: loadBackendConfig(),
		Artifact: loadArtifactConfig(env),
	}, nil
}

func loadTrackerConfig() TrackerConfig {
	fields := tracker.DefaultFieldMap()
	if v := strings.TrimSpace(os.Getenv("TRACKER_FIELD_ACCEPTANCE_CRITERIA")); v != "" {
		fields.AcceptanceCriteria = v
	}
	if v := strings.TrimSpace(os.Getenv("TRACKER_FIELD_SPRINT")); v != "" {
		fields.Sprint = v
	}
	if v := strings.TrimSpace(os.Getenv("TRACKER_FIELD_EPIC_LINK")); v != "" {
		fields.EpicLink = v
	}
	return TrackerConfig{
		BaseURL:    strings.TrimRight(strings.TrimSpace(os.Getenv("TRACKER_BASE_URL")), "/"),
		Email:      strings.TrimSpace(os.Getenv("TRACKER_EMAIL")),
		APIToken:   strings.TrimSpace(os.Getenv("TRACKER_API_TOKEN")),
		ChildDepth: intEnv("TRACKER_CHILD_DEPTH", 1),
		Fields:     fields,
	}
}

func loadBackendConfig() BackendConfig {
	return BackendConfig{
		GroqAPIKey:    strings.TrimSpace(os.Getenv("GROQ_API_KEY")),
		GroqModel:     firstNonEmpty(os.Getenv("GROQ_MODEL"), "llama-3.3-70b-versatile"),
		OllamaURL:     firstNonEmpty(os.Getenv("OLLAMA_URL"), "http://localhost:11434"),
		OllamaModel:   firstNonEmpty(os.Getenv("OLLAMA_MODEL"), "llama3.1"),
		OllamaContext: intEnv("OLLAMA_CONTEXT_TOKENS", 0),
		GeminiAPIKey:  strings.TrimSpace(os.Getenv("GEMINI_API_KEY")),
		GeminiModel:   firstNonEmpty(os.Getenv("GEMINI_MODEL"), "gemini-2.0-flash"),
	}
}

func loadArtifactConfig(env string) ArtifactConfig {
	endpoint := resolveArtifactEndpoint(env)
	return ArtifactConfig{
		Enabled:   endpoint != "",
		Endpoint:  endpoint,
		Region:    firstNonEmpty(os.Getenv("ARTIFACT_S3_REGION"), "us-east-1"),
		AccessKey: firstNonEmpty(os.Getenv("ARTIFACT_S3_ACCESS_KEY"), os.Getenv("MINIO_ROOT_USER")),
		SecretKey: firstNonEmpty(os.Getenv("ARTIFACT_S3_SECRET_KEY"), os.Getenv("MINIO_ROOT_PASSWORD")),
		Bucket:    firstNonEmpty(os.Getenv("ARTIFACT_S3_BUCKET"), "strategist-artifacts"),
		UseSSL:    resolveArtifactUseSSL(env),
	}
}

func resolveArtifactEndpoint(env string) string {
	if strings.EqualFold(strings.TrimSpace(env), "local") {
		return strings.TrimSpace(os.Getenv("ARTIFACT_MINIO_ENDPOINT"))
	}
	return strings.TrimSpace(os.Getenv("ARTIFACT_S3_ENDPOINT"))
}

func resolveArtifactUseSSL(env string) bool {
	if strings.EqualFold(strings.TrimSpace(env), "local") {
		return false
	}
	raw := strings.TrimSpace(os.Getenv("ARTIFACT_S3_USE_SSL"))
	if raw == "" {
		return true
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		return true
	}
	return v
}

// MaskSecret hides the middle of a credential, keeping the first and
// last four characters for recognition. Short values mask entirely.
func MaskSecret(s string) string {
	if s == "" {
		return ""
	}
	if len(s) <= 8 {
		return strings.Repeat("*", len(s))
	}
	return s[:4] + strings.Repeat("*", len(s)-8) + s[len(s)-4:]
}

func intEnv(key string, def int) int {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return def
	}
	return v
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return strings.TrimSpace(v)
		}
	}
	return ""
}
