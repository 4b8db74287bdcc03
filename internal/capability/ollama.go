package capability

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/vthunder/scribe/internal/types"
)

// Ollama adapts a local Ollama instance as both Summarizer and Embedder.
type Ollama struct {
	baseURL    string
	embedModel string
	genModel   string
	client     *http.Client

	// probeTimeout bounds the Available check (default 2s).
	probeTimeout time.Duration
}

// NewOllama creates an Ollama adapter. Empty arguments fall back to the
// local default instance and models.
func NewOllama(baseURL, embedModel, genModel string) *Ollama {
	if baseURL == "" {
		baseURL = "http://localhost:11434"
	}
	if embedModel == "" {
		embedModel = "nomic-embed-text" // good default, 768 dims
	}
	if genModel == "" {
		genModel = "llama3.2"
	}
	return &Ollama{
		baseURL:      baseURL,
		embedModel:   embedModel,
		genModel:     genModel,
		probeTimeout: 2 * time.Second,
		client: &http.Client{
			Timeout: 60 * time.Second, // generation can take longer
		},
	}
}

// Model returns the embedding model name.
func (o *Ollama) Model() string { return o.embedModel }

// Available probes the instance with a short GET; false on any failure.
func (o *Ollama) Available() bool {
	ctx, cancel := context.WithTimeout(context.Background(), o.probeTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, o.baseURL+"/api/tags", nil)
	if err != nil {
		return false
	}
	resp, err := o.client.Do(req)
	if err != nil {
		return false
	}
	resp.Body.Close()
	return resp.StatusCode == http.StatusOK
}

type embeddingRequest struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
}

type embeddingResponse struct {
	Embedding []float64 `json:"embedding"`
}

// Embed generates an embedding for the given text.
func (o *Ollama) Embed(ctx context.Context, text string) ([]float64, error) {
	if text == "" {
		return nil, fmt.Errorf("empty text")
	}
	var result embeddingResponse
	err := o.post(ctx, "/api/embeddings", embeddingRequest{Model: o.embedModel, Prompt: text}, &result)
	if err != nil {
		return nil, err
	}
	if len(result.Embedding) == 0 {
		return nil, fmt.Errorf("empty embedding returned: %w", types.ErrUnavailable)
	}
	return result.Embedding, nil
}

type generateRequest struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
	Stream bool   `json:"stream"`
}

type generateResponse struct {
	Response string `json:"response"`
	Done     bool   `json:"done"`
}

// Summarize asks the generation model to unify implementation-note fragments
// into one coherent record body.
func (o *Ollama) Summarize(ctx context.Context, fragments []string) (string, error) {
	if len(fragments) == 0 {
		return "", fmt.Errorf("no fragments to summarize")
	}

	var prompt strings.Builder
	prompt.WriteString(`Unify these implementation-history notes into a single coherent note.

Guidelines:
- Keep every distinct fact, decision, and file reference
- Remove repetition between overlapping notes
- Keep the result in plain prose, ordered oldest change first
- Output ONLY the unified note, no commentary

Notes:
`)
	for i, f := range fragments {
		fmt.Fprintf(&prompt, "\n--- note %d ---\n%s\n", i+1, f)
	}
	prompt.WriteString("\nUnified note:")

	var result generateResponse
	err := o.post(ctx, "/api/generate", generateRequest{Model: o.genModel, Prompt: prompt.String(), Stream: false}, &result)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(result.Response), nil
}

func (o *Ollama) post(ctx context.Context, path string, payload, out any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, o.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := o.client.Do(req)
	if err != nil {
		return fmt.Errorf("ollama request: %w: %v", types.ErrUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		data, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("ollama error (status %d): %s: %w", resp.StatusCode, string(data), types.ErrUnavailable)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
