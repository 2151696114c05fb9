// Package vertex calls Vertex AI publisher models over REST: Imagen for
// images, Veo for videos (long-running operations) and Gemini for descriptions.
package vertex

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"golang.org/x/oauth2/google"

	"github.com/cuongbtq/asset-forge/internal/domain"
)

const (
	serviceName    = "vertex"
	cloudScope     = "https://www.googleapis.com/auth/cloud-platform"
	describePrompt = "Describe this image/video in detail for generating a search index. " +
		"Focus on the main subject, style, lighting, colors, and any text present. (Answer in English)"
)

// Config selects the project, region and models.
type Config struct {
	ProjectID     string
	Region        string
	ImageModel    string
	VideoModel    string
	DescribeModel string
	PollInterval  time.Duration
	// BaseURL overrides https://{region}-aiplatform.googleapis.com/v1.
	BaseURL string
}

// Client implements both generation and description against Vertex AI.
type Client struct {
	http    *http.Client
	cfg     Config
	logger  *slog.Logger
	tracker domain.RequestTracker
}

// NewClient authenticates with Application Default Credentials.
func NewClient(ctx context.Context, cfg Config, logger *slog.Logger) (*Client, error) {
	httpClient, err := google.DefaultClient(ctx, cloudScope)
	if err != nil {
		return nil, fmt.Errorf("failed to load google credentials: %w", err)
	}
	return NewClientWithHTTP(httpClient, cfg, logger), nil
}

// NewClientWithHTTP uses the given, already authenticated, HTTP client.
func NewClientWithHTTP(httpClient *http.Client, cfg Config, logger *slog.Logger) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = fmt.Sprintf("https://%s-aiplatform.googleapis.com/v1", cfg.Region)
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 5 * time.Second
	}
	if cfg.ImageModel == "" {
		cfg.ImageModel = domain.ImageModel
	}
	if cfg.VideoModel == "" {
		cfg.VideoModel = domain.VideoModel
	}
	if cfg.DescribeModel == "" {
		cfg.DescribeModel = "gemini-2.0-flash"
	}
	return &Client{http: httpClient, cfg: cfg, logger: logger}
}

// WithTracker counts every provider call through t.
func (c *Client) WithTracker(t domain.RequestTracker) *Client {
	c.tracker = t
	return c
}

// track marks one provider call as started and returns the matching finish.
func (c *Client) track(ctx context.Context) func() {
	if c.tracker == nil {
		return func() {}
	}
	c.tracker.Start(ctx)
	return func() { c.tracker.Finish(ctx) }
}

func (c *Client) modelResource(model string) string {
	return fmt.Sprintf("projects/%s/locations/%s/publishers/google/models/%s", c.cfg.ProjectID, c.cfg.Region, model)
}

type mediaBlob struct {
	BytesBase64Encoded string `json:"bytesBase64Encoded,omitempty"`
	MimeType           string `json:"mimeType,omitempty"`
}

type instance struct {
	Prompt string     `json:"prompt"`
	Image  *mediaBlob `json:"image,omitempty"`
}

type predictRequest struct {
	Instances  []instance     `json:"instances"`
	Parameters map[string]any `json:"parameters"`
}

func (c *Client) GenerateImage(ctx context.Context, prompt string) ([]byte, error) {
	defer c.track(ctx)()

	req := predictRequest{
		Instances: []instance{{Prompt: prompt}},
		Parameters: map[string]any{
			"sampleCount":       1,
			"aspectRatio":       "1:1",
			"safetyFilterLevel": "block_some",
		},
	}

	var resp struct {
		Predictions []mediaBlob `json:"predictions"`
	}
	url := c.cfg.BaseURL + "/" + c.modelResource(c.cfg.ImageModel) + ":predict"
	if err := c.post(ctx, url, req, &resp); err != nil {
		return nil, err
	}
	if len(resp.Predictions) == 0 || resp.Predictions[0].BytesBase64Encoded == "" {
		return nil, domain.NewExternalServiceError(serviceName, errors.New("image response has no predictions"))
	}

	data, err := base64.StdEncoding.DecodeString(resp.Predictions[0].BytesBase64Encoded)
	if err != nil {
		return nil, domain.NewExternalServiceError(serviceName, fmt.Errorf("decode image: %w", err))
	}
	return data, nil
}

func (c *Client) GenerateVideo(ctx context.Context, prompt string) ([]byte, error) {
	return c.generateVideo(ctx, instance{Prompt: prompt})
}

func (c *Client) GenerateVideoFromImage(ctx context.Context, prompt string, image []byte, mimeType string) ([]byte, error) {
	return c.generateVideo(ctx, instance{
		Prompt: prompt,
		Image: &mediaBlob{
			BytesBase64Encoded: base64.StdEncoding.EncodeToString(image),
			MimeType:           mimeType,
		},
	})
}

func (c *Client) generateVideo(ctx context.Context, in instance) ([]byte, error) {
	defer c.track(ctx)()

	req := predictRequest{
		Instances: []instance{in},
		Parameters: map[string]any{
			"sampleCount": 1,
			"videoLength": "5s",
			"aspectRatio": "16:9",
		},
	}

	var op struct {
		Name string `json:"name"`
	}
	url := c.cfg.BaseURL + "/" + c.modelResource(c.cfg.VideoModel) + ":predictLongRunning"
	if err := c.post(ctx, url, req, &op); err != nil {
		return nil, err
	}
	if op.Name == "" {
		return nil, domain.NewExternalServiceError(serviceName, errors.New("video response missing operation name"))
	}

	c.logger.Info("Video operation submitted", slog.String("operation", op.Name))
	result, err := c.pollOperation(ctx, op.Name)
	if err != nil {
		return nil, err
	}
	return extractVideo(result)
}

// operation is the fetchPredictOperation payload.
type operation struct {
	Done     bool            `json:"done"`
	Error    json.RawMessage `json:"error,omitempty"`
	Response json.RawMessage `json:"response,omitempty"`
}

func (c *Client) pollOperation(ctx context.Context, name string) (operation, error) {
	// projects/P/locations/L/publishers/google/models/M/operations/ID -> model resource
	parts := strings.Split(name, "/")
	if len(parts) < 3 {
		return operation{}, domain.NewExternalServiceError(serviceName, fmt.Errorf("malformed operation name %q", name))
	}
	url := c.cfg.BaseURL + "/" + strings.Join(parts[:len(parts)-2], "/") + ":fetchPredictOperation"
	body := map[string]string{"operationName": name}

	ticker := time.NewTicker(c.cfg.PollInterval)
	defer ticker.Stop()

	for {
		var op operation
		if err := c.post(ctx, url, body, &op); err != nil {
			return operation{}, err
		}
		if len(op.Error) > 0 && string(op.Error) != "null" {
			return operation{}, domain.NewExternalServiceError(serviceName, fmt.Errorf("operation failed: %s", op.Error))
		}
		if op.Done {
			return op, nil
		}

		c.logger.Debug("Video operation still running", slog.String("operation", name))
		select {
		case <-ctx.Done():
			return operation{}, domain.NewExternalServiceError(serviceName, ctx.Err())
		case <-ticker.C:
		}
	}
}

// extractVideo accepts the response shapes Veo has returned over time.
func extractVideo(op operation) ([]byte, error) {
	var resp struct {
		Predictions []struct {
			BytesBase64Encoded string     `json:"bytesBase64Encoded"`
			Video              *mediaBlob `json:"video"`
		} `json:"predictions"`
		Videos             []mediaBlob `json:"videos"`
		Video              *mediaBlob  `json:"video"`
		BytesBase64Encoded string      `json:"bytesBase64Encoded"`
	}
	if len(op.Response) > 0 {
		if err := json.Unmarshal(op.Response, &resp); err != nil {
			return nil, domain.NewExternalServiceError(serviceName, fmt.Errorf("decode operation response: %w", err))
		}
	}

	var encoded string
	switch {
	case len(resp.Predictions) > 0 && resp.Predictions[0].BytesBase64Encoded != "":
		encoded = resp.Predictions[0].BytesBase64Encoded
	case len(resp.Predictions) > 0 && resp.Predictions[0].Video != nil:
		encoded = resp.Predictions[0].Video.BytesBase64Encoded
	case len(resp.Videos) > 0:
		encoded = resp.Videos[0].BytesBase64Encoded
	case resp.Video != nil:
		encoded = resp.Video.BytesBase64Encoded
	default:
		encoded = resp.BytesBase64Encoded
	}
	if encoded == "" {
		return nil, domain.NewExternalServiceError(serviceName, errors.New("operation finished without video content"))
	}

	data, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, domain.NewExternalServiceError(serviceName, fmt.Errorf("decode video: %w", err))
	}
	return data, nil
}

// Describe asks Gemini for a search-oriented description of the media.
func (c *Client) Describe(ctx context.Context, data []byte, mediaType string) (string, error) {
	defer c.track(ctx)()

	if mediaType == "" {
		mediaType = "application/octet-stream"
	}

	req := map[string]any{
		"contents": []map[string]any{{
			"role": "user",
			"parts": []map[string]any{
				{"text": describePrompt},
				{"inlineData": map[string]string{
					"mimeType": mediaType,
					"data":     base64.StdEncoding.EncodeToString(data),
				}},
			},
		}},
		"generationConfig": map[string]any{
			"temperature":     0.0,
			"maxOutputTokens": 2048,
		},
	}

	var resp struct {
		Candidates []struct {
			Content struct {
				Parts []struct {
					Text string `json:"text"`
				} `json:"parts"`
			} `json:"content"`
		} `json:"candidates"`
	}
	url := c.cfg.BaseURL + "/" + c.modelResource(c.cfg.DescribeModel) + ":generateContent"
	if err := c.post(ctx, url, req, &resp); err != nil {
		return "", err
	}

	var sb strings.Builder
	if len(resp.Candidates) > 0 {
		for _, p := range resp.Candidates[0].Content.Parts {
			sb.WriteString(p.Text)
		}
	}
	text := strings.TrimSpace(sb.String())
	if text == "" {
		return "", domain.NewExternalServiceError(serviceName, errors.New("empty description"))
	}
	return text, nil
}

func (c *Client) post(ctx context.Context, url string, body, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json; charset=utf-8")

	resp, err := c.http.Do(req)
	if err != nil {
		return domain.NewExternalServiceError(serviceName, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return domain.NewExternalServiceError(serviceName, fmt.Errorf("read response: %w", err))
	}
	if resp.StatusCode != http.StatusOK {
		c.logger.Error("Vertex request failed",
			slog.Int("status", resp.StatusCode),
			slog.String("body", truncate(string(raw), 200)),
		)
		return domain.NewExternalServiceError(serviceName, fmt.Errorf("HTTP %d", resp.StatusCode))
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return domain.NewExternalServiceError(serviceName, fmt.Errorf("decode response: %w", err))
	}
	return nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

var (
	_ domain.Generator = (*Client)(nil)
	_ domain.Describer = (*Client)(nil)
)
