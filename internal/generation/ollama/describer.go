// Package ollama describes generated images with a local vision model.
package ollama

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/ollama/ollama/api"

	"github.com/cuongbtq/asset-forge/internal/domain"
)

const (
	serviceName    = "ollama-vision"
	describePrompt = "Describe this image in detail for a search index. " +
		"Focus on the main subject, style, lighting, colors and any visible text."
)

// Describer asks a multimodal Ollama model for a description. It only
// handles images; other media types are rejected as non-retryable.
type Describer struct {
	client *api.Client
	model  string
}

// NewDescriber creates a Describer against the server at baseURL
func NewDescriber(baseURL, model string, timeout time.Duration) (*Describer, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid ollama url: %w", err)
	}
	return &Describer{
		client: api.NewClient(u, &http.Client{Timeout: timeout}),
		model:  model,
	}, nil
}

func (d *Describer) Describe(ctx context.Context, data []byte, mediaType string) (string, error) {
	if !strings.HasPrefix(mediaType, "image/") {
		return "", domain.NewValidationError("vision model cannot describe %s", mediaType)
	}

	stream := false
	var sb strings.Builder
	err := d.client.Generate(ctx, &api.GenerateRequest{
		Model:  d.model,
		Prompt: describePrompt,
		Images: []api.ImageData{data},
		Stream: &stream,
	}, func(resp api.GenerateResponse) error {
		sb.WriteString(resp.Response)
		return nil
	})
	if err != nil {
		return "", domain.NewExternalServiceError(serviceName, err)
	}

	text := strings.TrimSpace(sb.String())
	if text == "" {
		return "", domain.NewExternalServiceError(serviceName, errors.New("empty description"))
	}
	return text, nil
}

var _ domain.Describer = (*Describer)(nil)
