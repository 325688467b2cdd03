package elasticsearch

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/elastic/go-elasticsearch/v8"
	"github.com/sony/gobreaker"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/shubhsaxena/discovery-engine/internal/config"
	"github.com/shubhsaxena/discovery-engine/internal/models"
	"github.com/shubhsaxena/discovery-engine/internal/observability"
	"github.com/shubhsaxena/discovery-engine/internal/resilience"
)

type Client struct {
	es       *elasticsearch.Client
	cb       *gobreaker.CircuitBreaker
	cfg      config.ElasticsearchConfig
	retryCfg resilience.RetryConfig
	logger   *zap.Logger
}

func NewClient(cfg config.ElasticsearchConfig, searchCfg config.SearchConfig, logger *zap.Logger) (*Client, error) {
	esCfg := elasticsearch.Config{
		Addresses:  cfg.Addresses,
		Username:   cfg.Username,
		Password:   cfg.Password,
		MaxRetries: cfg.MaxRetries,
	}

	es, err := elasticsearch.NewClient(esCfg)
	if err != nil {
		return nil, fmt.Errorf("creating elasticsearch client: %w", err)
	}

	res, err := es.Ping()
	if err != nil {
		return nil, fmt.Errorf("pinging elasticsearch: %w", err)
	}
	defer res.Body.Close()

	if res.IsError() {
		return nil, fmt.Errorf("elasticsearch ping returned status: %s", res.Status())
	}

	cb := resilience.NewCircuitBreaker("elasticsearch-primary", searchCfg.CircuitBreaker, logger)

	logger.Info("elasticsearch client connected", zap.Strings("addresses", cfg.Addresses))

	return &Client{
		es:  es,
		cb:  cb,
		cfg: cfg,
		retryCfg: resilience.RetryConfig{
			MaxAttempts: searchCfg.Retry.MaxAttempts,
			InitialWait: searchCfg.Retry.InitialWait,
			MaxWait:     searchCfg.Retry.MaxWait,
			Multiplier:  searchCfg.Retry.Multiplier,
		},
		logger: logger,
	}, nil
}

// SearchResult carries the decoded hits of one index query. Hit scores
// come from the index; the caller tags the source.
type SearchResult struct {
	Hits     []models.ScoredProduct
	Total    int64
	TookMs   int64
	TimedOut bool
}

// SearchProducts runs a full-text product search against the fast index.
// The query body is built by BuildProductQuery; failures surface through
// the circuit breaker so the orchestrator can fail over to the durable
// store.
func (c *Client) SearchProducts(ctx context.Context, normalized string, req *models.SearchRequest, limit int) (*SearchResult, error) {
	query := BuildProductQuery(normalized, req, limit)
	return c.search(ctx, "search", query)
}

// KNNSearch retrieves the nearest products to an embedding vector. Used by
// the semantic fallback stage only.
func (c *Client) KNNSearch(ctx context.Context, vector []float32, k int) (*SearchResult, error) {
	query := BuildKNNQuery(vector, k)
	return c.search(ctx, "knn", query)
}

func (c *Client) search(ctx context.Context, operation string, query map[string]any) (*SearchResult, error) {
	ctx, span := observability.StartSpan(ctx, "es.search",
		attribute.String("es.index", c.cfg.Index),
		attribute.String("es.operation", operation),
	)
	defer span.End()

	start := time.Now()

	cbResult, err := c.cb.Execute(func() (any, error) {
		var retryResult *SearchResult
		retryErr := resilience.Retry(ctx, c.retryCfg, func() error {
			var execErr error
			retryResult, execErr = c.executeSearch(ctx, query)
			return execErr
		})
		return retryResult, retryErr
	})

	duration := time.Since(start)
	if err != nil {
		observability.ESQueryDuration.WithLabelValues(operation, "error").Observe(duration.Seconds())
		return nil, fmt.Errorf("es %s (index=%s): %w", operation, c.cfg.Index, err)
	}

	result, ok := cbResult.(*SearchResult)
	if !ok || result == nil {
		observability.ESQueryDuration.WithLabelValues(operation, "error").Observe(duration.Seconds())
		return nil, fmt.Errorf("es %s (index=%s): unexpected nil result from circuit breaker", operation, c.cfg.Index)
	}
	observability.ESQueryDuration.WithLabelValues(operation, "success").Observe(duration.Seconds())

	return result, nil
}

func (c *Client) executeSearch(ctx context.Context, query map[string]any) (*SearchResult, error) {
	body, err := json.Marshal(query)
	if err != nil {
		return nil, fmt.Errorf("marshaling es query: %w", err)
	}

	res, err := c.es.Search(
		c.es.Search.WithContext(ctx),
		c.es.Search.WithIndex(c.cfg.Index),
		c.es.Search.WithBody(bytes.NewReader(body)),
		c.es.Search.WithTimeout(c.cfg.RequestTimeout),
		c.es.Search.WithTrackTotalHits(true),
	)
	if err != nil {
		return nil, fmt.Errorf("executing es search: %w", err)
	}
	defer res.Body.Close()

	if res.IsError() {
		bodyBytes, _ := io.ReadAll(res.Body)
		return nil, fmt.Errorf("es search error status=%s body=%s", res.Status(), string(bodyBytes))
	}

	var esResp esSearchResponse
	if err := json.NewDecoder(res.Body).Decode(&esResp); err != nil {
		return nil, fmt.Errorf("decoding es response: %w", err)
	}

	hits := make([]models.ScoredProduct, 0, len(esResp.Hits.Hits))
	for _, h := range esResp.Hits.Hits {
		var p models.Product
		if err := json.Unmarshal(h.Source, &p); err != nil {
			c.logger.Warn("skipping undecodable hit", zap.String("id", h.ID), zap.Error(err))
			continue
		}
		if p.ID == "" {
			p.ID = h.ID
		}
		hits = append(hits, models.ScoredProduct{Product: p, Score: h.Score})
	}

	return &SearchResult{
		Hits:     hits,
		Total:    esResp.Hits.Total.Value,
		TookMs:   esResp.Took,
		TimedOut: esResp.TimedOut,
	}, nil
}

func (c *Client) BulkIndex(ctx context.Context, actions []models.IndexAction) error {
	if len(actions) == 0 {
		return nil
	}

	ctx, span := observability.StartSpan(ctx, "es.bulk_index",
		attribute.Int("batch_size", len(actions)),
	)
	defer span.End()

	var buf bytes.Buffer
	for _, action := range actions {
		index := action.Index
		if index == "" {
			index = c.cfg.Index
		}
		meta := map[string]any{
			action.Action: map[string]any{
				"_index": index,
				"_id":    action.ID,
			},
		}

		metaLine, err := json.Marshal(meta)
		if err != nil {
			return fmt.Errorf("marshaling bulk meta: %w", err)
		}
		buf.Write(metaLine)
		buf.WriteByte('\n')

		if action.Action != "delete" && action.Body != nil {
			bodyLine, err := json.Marshal(action.Body)
			if err != nil {
				return fmt.Errorf("marshaling bulk body: %w", err)
			}
			buf.Write(bodyLine)
			buf.WriteByte('\n')
		}
	}

	res, err := c.es.Bulk(
		bytes.NewReader(buf.Bytes()),
		c.es.Bulk.WithContext(ctx),
	)
	if err != nil {
		return fmt.Errorf("executing bulk request: %w", err)
	}
	defer res.Body.Close()

	if res.IsError() {
		bodyBytes, _ := io.ReadAll(res.Body)
		return fmt.Errorf("bulk request error status=%s body=%s", res.Status(), string(bodyBytes))
	}

	var bulkResp bulkResponse
	if err := json.NewDecoder(res.Body).Decode(&bulkResp); err != nil {
		return fmt.Errorf("decoding bulk response: %w", err)
	}

	if bulkResp.Errors {
		var errMsgs []string
		for _, item := range bulkResp.Items {
			for _, result := range item {
				if result.Error != nil {
					errMsgs = append(errMsgs, fmt.Sprintf("id=%s: %s", result.ID, result.Error.Reason))
				}
			}
		}
		return fmt.Errorf("bulk indexing had errors: %s", strings.Join(errMsgs, "; "))
	}

	return nil
}

func (c *Client) HealthCheck(ctx context.Context) (string, error) {
	res, err := c.es.Cluster.Health(
		c.es.Cluster.Health.WithContext(ctx),
	)
	if err != nil {
		return "red", fmt.Errorf("es health check: %w", err)
	}
	defer res.Body.Close()

	var health struct {
		Status string `json:"status"`
	}
	if err := json.NewDecoder(res.Body).Decode(&health); err != nil {
		return "red", fmt.Errorf("decoding health response: %w", err)
	}
	return health.Status, nil
}

func (c *Client) Close() error {
	return nil
}

// ES response types

type esSearchResponse struct {
	Took     int64 `json:"took"`
	TimedOut bool  `json:"timed_out"`
	Hits     struct {
		Total struct {
			Value    int64  `json:"value"`
			Relation string `json:"relation"`
		} `json:"total"`
		Hits []esHit `json:"hits"`
	} `json:"hits"`
}

type esHit struct {
	Index  string          `json:"_index"`
	ID     string          `json:"_id"`
	Score  float64         `json:"_score"`
	Source json.RawMessage `json:"_source"`
}

type bulkResponse struct {
	Errors bool                        `json:"errors"`
	Items  []map[string]bulkItemResult `json:"items"`
}

type bulkItemResult struct {
	ID     string `json:"_id"`
	Status int    `json:"status"`
	Error  *struct {
		Type   string `json:"type"`
		Reason string `json:"reason"`
	} `json:"error,omitempty"`
}
