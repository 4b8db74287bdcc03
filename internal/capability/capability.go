// Package capability models the external summarization and embedding
// collaborators behind probe-able interfaces: one adapter per backend plus a
// pure-function fallback that is always present, so callers never branch on
// runtime feature detection.
package capability

import (
	"context"
	"math"
	"strings"
)

// Summarizer unifies text fragments into one summary.
type Summarizer interface {
	// Available probes the backend; implementations must answer quickly
	// (bounded by a short timeout) and never block the merge pipeline.
	Available() bool
	Summarize(ctx context.Context, fragments []string) (string, error)
}

// Embedder turns text into a semantic vector.
type Embedder interface {
	Available() bool
	Embed(ctx context.Context, text string) ([]float64, error)
	// Model names the embedding model, recorded on merged records.
	Model() string
}

// FallbackSummarizer is the deterministic degradation path: literal
// concatenation of the fragments. Always available.
type FallbackSummarizer struct {
	// MaxLen caps the concatenated output; 0 means no cap.
	MaxLen int
}

func (f *FallbackSummarizer) Available() bool { return true }

func (f *FallbackSummarizer) Summarize(_ context.Context, fragments []string) (string, error) {
	joined := strings.Join(fragments, "\n\n")
	if f.MaxLen > 0 && len(joined) > f.MaxLen {
		joined = joined[:f.MaxLen-3] + "..."
	}
	return joined, nil
}

// CosineSimilarity computes similarity between two embeddings (-1 to 1).
// Returns 0 on empty or mismatched vectors.
func CosineSimilarity(a, b []float64) float64 {
	if len(a) == 0 || len(b) == 0 || len(a) != len(b) {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += a[i] * b[i]
		normA += a[i] * a[i]
		normB += b[i] * b[i]
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}
