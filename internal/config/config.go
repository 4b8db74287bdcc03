// Package config collects runtime settings from the environment. Each cmd
// loads .env first (godotenv), then reads the SCRIBE_* variables here.
package config

import (
	"os"
	"strconv"
	"time"
)

// Config holds everything the binaries need to wire the record components.
type Config struct {
	// StatePath is the root directory for records, audit trail, and caches.
	StatePath string

	// Ollama backend for summarization and embeddings.
	OllamaURL  string
	EmbedModel string
	GenModel   string

	// MergeThreshold is the semantic similarity bound for merge candidacy.
	MergeThreshold float64

	// SummarizeTimeout bounds the unification call per merge group.
	SummarizeTimeout time.Duration

	// ArchiveMaxAge ages active records into the archive; zero disables
	// age-based archiving.
	ArchiveMaxAge time.Duration

	// AuditMaxAge prunes rotated audit archives older than this.
	AuditMaxAge time.Duration
}

// FromEnv builds a config from the environment with defaults.
func FromEnv() *Config {
	cfg := &Config{
		StatePath:        envOr("SCRIBE_STATE_PATH", "state"),
		OllamaURL:        os.Getenv("OLLAMA_URL"),
		EmbedModel:       os.Getenv("SCRIBE_EMBED_MODEL"),
		GenModel:         os.Getenv("SCRIBE_GEN_MODEL"),
		MergeThreshold:   envFloat("SCRIBE_MERGE_THRESHOLD", 0.75),
		SummarizeTimeout: envDuration("SCRIBE_SUMMARIZE_TIMEOUT", 30*time.Second),
		ArchiveMaxAge:    envDuration("SCRIBE_ARCHIVE_MAX_AGE", 0),
		AuditMaxAge:      envDuration("SCRIBE_AUDIT_MAX_AGE", 90*24*time.Hour),
	}
	return cfg
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envFloat(key string, fallback float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return fallback
}

func envDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}
