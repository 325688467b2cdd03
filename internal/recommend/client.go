package recommend

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"

	"go.uber.org/zap"

	"github.com/shubhsaxena/discovery-engine/internal/config"
)

// Client calls the external recommendation service for personalized
// product IDs. It is a fallback data source only, so every failure is
// soft.
type Client struct {
	httpClient *http.Client
	cfg        config.RecommenderConfig
	logger     *zap.Logger
}

func NewClient(cfg config.RecommenderConfig, logger *zap.Logger) *Client {
	return &Client{
		httpClient: &http.Client{Timeout: cfg.RequestTimeout},
		cfg:        cfg,
		logger:     logger,
	}
}

// Enabled reports whether a recommender endpoint is configured.
func (c *Client) Enabled() bool {
	return c.cfg.Endpoint != ""
}

type recommendResponse struct {
	ProductIDs []string `json:"product_ids"`
}

// ForUser returns recommended product IDs for a user. An empty user ID
// asks the service for its popularity-based defaults.
func (c *Client) ForUser(ctx context.Context, userID string, limit int) ([]string, error) {
	if !c.Enabled() {
		return nil, fmt.Errorf("recommender endpoint not configured")
	}
	if limit <= 0 {
		limit = c.cfg.DefaultLimit
	}

	endpoint, err := url.Parse(c.cfg.Endpoint)
	if err != nil {
		return nil, fmt.Errorf("parsing recommender endpoint: %w", err)
	}
	q := endpoint.Query()
	if userID != "" {
		q.Set("user_id", userID)
	}
	q.Set("limit", strconv.Itoa(limit))
	endpoint.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("building recommender request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("calling recommender: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("recommender status %d: %s", resp.StatusCode, string(body))
	}

	var decoded recommendResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return nil, fmt.Errorf("decoding recommender response: %w", err)
	}

	if len(decoded.ProductIDs) > limit {
		decoded.ProductIDs = decoded.ProductIDs[:limit]
	}
	return decoded.ProductIDs, nil
}
