package embedding

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/ollama/ollama/api"
)

// OllamaBackend computes embeddings with a model served by Ollama.
type OllamaBackend struct {
	client *api.Client
	model  string
}

// NewOllamaBackend creates a backend for the server at baseURL
func NewOllamaBackend(baseURL, model string, timeout time.Duration) (*OllamaBackend, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid ollama url: %w", err)
	}
	return &OllamaBackend{
		client: api.NewClient(u, &http.Client{Timeout: timeout}),
		model:  model,
	}, nil
}

// Load checks that the model is available on the server.
func (b *OllamaBackend) Load(ctx context.Context) error {
	if _, err := b.client.Show(ctx, &api.ShowRequest{Model: b.model}); err != nil {
		return fmt.Errorf("model %s unavailable: %w", b.model, err)
	}
	return nil
}

func (b *OllamaBackend) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	resp, err := b.client.Embed(ctx, &api.EmbedRequest{
		Model: b.model,
		Input: texts,
	})
	if err != nil {
		return nil, err
	}
	return resp.Embeddings, nil
}
