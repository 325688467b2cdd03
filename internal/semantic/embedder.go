package semantic

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"go.uber.org/zap"

	"github.com/shubhsaxena/discovery-engine/internal/config"
)

// Client calls the external embedding service. The same vectors are used
// at index time for product documents and at query time for semantic
// retrieval.
type Client struct {
	httpClient *http.Client
	cfg        config.EmbeddingConfig
	logger     *zap.Logger
}

func NewClient(cfg config.EmbeddingConfig, logger *zap.Logger) *Client {
	return &Client{
		httpClient: &http.Client{Timeout: cfg.RequestTimeout},
		cfg:        cfg,
		logger:     logger,
	}
}

// Enabled reports whether an embedding endpoint is configured. Without
// one the semantic fallback stage is skipped entirely.
func (c *Client) Enabled() bool {
	return c.cfg.Endpoint != ""
}

type embedRequest struct {
	Model string `json:"model"`
	Input string `json:"input"`
}

type embedResponse struct {
	Data []struct {
		Embedding []float32 `json:"embedding"`
	} `json:"data"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

// Embed returns the dense vector for a piece of text.
func (c *Client) Embed(ctx context.Context, text string) ([]float32, error) {
	if !c.Enabled() {
		return nil, fmt.Errorf("embedding endpoint not configured")
	}

	payload, err := json.Marshal(embedRequest{
		Model: c.cfg.Model,
		Input: text,
	})
	if err != nil {
		return nil, fmt.Errorf("marshaling embed request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.Endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("building embed request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("calling embedding service: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("embedding service status %d: %s", resp.StatusCode, string(body))
	}

	var decoded embedResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return nil, fmt.Errorf("decoding embed response: %w", err)
	}
	if decoded.Error != nil {
		return nil, fmt.Errorf("embedding service error: %s", decoded.Error.Message)
	}
	if len(decoded.Data) == 0 || len(decoded.Data[0].Embedding) == 0 {
		return nil, fmt.Errorf("embedding service returned no vector")
	}

	return decoded.Data[0].Embedding, nil
}
