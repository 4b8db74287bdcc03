package main

import (
	"log"
	"os"

	"github.com/joho/godotenv"
	"github.com/mark3labs/mcp-go/server"

	"github.com/vthunder/scribe/internal/audit"
	"github.com/vthunder/scribe/internal/capability"
	"github.com/vthunder/scribe/internal/config"
	"github.com/vthunder/scribe/internal/embedcache"
	"github.com/vthunder/scribe/internal/index"
	"github.com/vthunder/scribe/internal/integrity"
	"github.com/vthunder/scribe/internal/merge"
	"github.com/vthunder/scribe/internal/quality"
	"github.com/vthunder/scribe/internal/store"
	"github.com/vthunder/scribe/internal/tools"
)

func main() {
	// Log to stderr so stdout is clean for JSON-RPC
	log.SetOutput(os.Stderr)
	log.SetPrefix("[scribe-mcp] ")

	// Load .env file if present (don't error if missing)
	if err := godotenv.Load(); err == nil {
		log.Println("Loaded .env file")
	}

	cfg := config.FromEnv()
	log.Printf("State path: %s", cfg.StatePath)

	st, err := store.Open(cfg.StatePath)
	if err != nil {
		log.Fatalf("Failed to open record store: %v", err)
	}

	trail := audit.New(cfg.StatePath)
	st.SetAuditTrail(trail)

	idx := index.New()
	idx.Rebuild(st.ListActive())
	log.Printf("Indexed %d active records", idx.Len())

	ollama := capability.NewOllama(cfg.OllamaURL, cfg.EmbedModel, cfg.GenModel)
	var summarizer capability.Summarizer
	var embedder capability.Embedder
	if ollama.Available() {
		summarizer = ollama
		embedder = ollama
		log.Printf("Ollama available, semantic merge enabled (model %s)", ollama.Model())
	} else {
		log.Println("Ollama unavailable, merges fall back to file overlap + concatenation")
	}

	coord := merge.NewCoordinator(st, idx, summarizer, embedder)
	coord.Trail = trail
	coord.SummarizeTimeout = cfg.SummarizeTimeout
	if cache, err := embedcache.Open(cfg.StatePath); err != nil {
		log.Printf("Embedding cache unavailable: %v", err)
	} else {
		coord.Cache = cache
		defer cache.Close()
	}

	deps := &tools.Dependencies{
		Store:          st,
		Index:          idx,
		Coordinator:    coord,
		Scorer:         quality.NewScorer(st),
		Auditor:        integrity.NewAuditor(st, trail),
		Trail:          trail,
		MergeThreshold: cfg.MergeThreshold,
		Actor:          "mcp",
	}

	s := server.NewMCPServer(
		"scribe",
		"1.0.0",
		server.WithToolCapabilities(true),
	)
	tools.Register(s, deps)

	log.Println("Starting MCP server on stdio...")
	if err := server.ServeStdio(s); err != nil {
		log.Fatalf("Server error: %v", err)
	}
}
