package indexing

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/shubhsaxena/discovery-engine/internal/cache"
	"github.com/shubhsaxena/discovery-engine/internal/config"
	"github.com/shubhsaxena/discovery-engine/internal/elasticsearch"
	"github.com/shubhsaxena/discovery-engine/internal/models"
	"github.com/shubhsaxena/discovery-engine/internal/observability"
	"github.com/shubhsaxena/discovery-engine/internal/query"
)

// Embedder computes a dense vector for a piece of product text. Nil means
// semantic retrieval is disabled and documents are indexed without
// vectors.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// StreamProcessor turns catalog change events into bulk index actions.
// Actions buffer until the batch fills or the flush interval fires.
type StreamProcessor struct {
	esClient *elasticsearch.Client
	cache    *cache.RedisCache
	embedder Embedder
	esCfg    config.ElasticsearchConfig
	logger   *zap.Logger

	mu     sync.Mutex
	buffer []models.IndexAction
	ticker *time.Ticker
	done   chan struct{}

	// Highest version applied per product, for dropping out-of-order
	// events from the change feed.
	versionMu sync.Mutex
	versions  map[string]int64
}

// maxVersionEntries bounds the stale-detection map. A reset after a full
// window only risks re-indexing, never losing data.
const maxVersionEntries = 100000

func NewStreamProcessor(
	esClient *elasticsearch.Client,
	cache *cache.RedisCache,
	embedder Embedder,
	esCfg config.ElasticsearchConfig,
	logger *zap.Logger,
) *StreamProcessor {
	sp := &StreamProcessor{
		esClient: esClient,
		cache:    cache,
		embedder: embedder,
		esCfg:    esCfg,
		logger:   logger,
		buffer:   make([]models.IndexAction, 0, esCfg.BulkSize),
		ticker:   time.NewTicker(esCfg.BulkFlushInterval),
		done:     make(chan struct{}),
		versions: make(map[string]int64),
	}

	go sp.flushLoop()

	return sp
}

func (sp *StreamProcessor) HandleEvent(ctx context.Context, event *models.ChangeEvent) error {
	if sp.stale(event) {
		observability.IndexingEventsTotal.WithLabelValues(event.Type, "stale").Inc()
		sp.logger.Debug("dropping stale change event",
			zap.String("product_id", event.ProductID),
			zap.Int64("version", event.Version),
		)
		return nil
	}

	action, err := sp.transformEvent(ctx, event)
	if err != nil {
		return fmt.Errorf("transforming event: %w", err)
	}

	sp.mu.Lock()
	sp.buffer = append(sp.buffer, *action)
	shouldFlush := len(sp.buffer) >= sp.esCfg.BulkSize
	sp.mu.Unlock()

	if shouldFlush {
		if err := sp.flush(ctx); err != nil {
			sp.logger.Error("flush on buffer full failed", zap.Error(err))
		}
	}

	// Stale cached responses may reference the changed product.
	go func() {
		cacheCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := sp.cache.InvalidatePattern(cacheCtx, invalidationPatterns()); err != nil {
			sp.logger.Warn("cache invalidation failed",
				zap.String("product_id", event.ProductID),
				zap.Error(err),
			)
		}
	}()

	return nil
}

// stale reports whether a versioned event is older than one already
// applied for the same product, and records the version otherwise.
// Unversioned events (version 0) always pass.
func (sp *StreamProcessor) stale(event *models.ChangeEvent) bool {
	if event.Version <= 0 {
		return false
	}

	sp.versionMu.Lock()
	defer sp.versionMu.Unlock()

	if last, ok := sp.versions[event.ProductID]; ok && event.Version <= last {
		return true
	}
	if len(sp.versions) >= maxVersionEntries {
		sp.versions = make(map[string]int64)
	}
	sp.versions[event.ProductID] = event.Version
	return false
}

// indexDoc is the fast-index document shape: the product plus the
// denormalized lookup fields and optional embedding vector.
type indexDoc struct {
	models.Product
	TitleLower string    `json:"title_lower"`
	Keywords   []string  `json:"keywords,omitempty"`
	Embedding  []float32 `json:"embedding,omitempty"`
	UpdatedAt  time.Time `json:"updated_at"`
}

func (sp *StreamProcessor) transformEvent(ctx context.Context, event *models.ChangeEvent) (*models.IndexAction, error) {
	action := &models.IndexAction{
		ID:        event.ProductID,
		Index:     sp.esCfg.Index,
		Timestamp: event.Timestamp,
	}

	switch event.Type {
	case "CREATE", "UPDATE":
		if event.Product == nil {
			return nil, fmt.Errorf("event %s has no product payload", event.ProductID)
		}
		doc := indexDoc{
			Product:    *event.Product,
			TitleLower: strings.ToLower(event.Product.Title),
			Keywords:   productKeywords(event.Product),
			UpdatedAt:  time.Now().UTC(),
		}
		if sp.embedder != nil {
			vector, err := sp.embedder.Embed(ctx, embeddingText(event.Product))
			if err != nil {
				// Index without the vector rather than stalling the stream.
				sp.logger.Warn("embedding failed, indexing without vector",
					zap.String("product_id", event.ProductID),
					zap.Error(err),
				)
			} else {
				doc.Embedding = vector
			}
		}
		action.Action = "index"
		action.Body = doc
	case "DELETE":
		action.Action = "delete"
	default:
		return nil, fmt.Errorf("unknown event type: %s", event.Type)
	}

	return action, nil
}

// productKeywords derives the keyword set used for durable-store candidate
// matching: title and tag tokens plus the brand and category name.
func productKeywords(p *models.Product) []string {
	seen := make(map[string]struct{})
	var keywords []string

	add := func(token string) {
		if len(token) < 2 || query.IsStopWord(token) {
			return
		}
		if _, ok := seen[token]; ok {
			return
		}
		seen[token] = struct{}{}
		keywords = append(keywords, token)
	}

	for _, tok := range query.Tokenize(query.Normalize(p.Title)) {
		add(tok)
	}
	if p.Brand != "" {
		add(strings.ToLower(p.Brand))
	}
	for _, tag := range p.Tags {
		add(strings.ToLower(tag))
	}
	for _, tok := range query.Tokenize(query.Normalize(p.CategoryName)) {
		add(tok)
	}

	return keywords
}

func embeddingText(p *models.Product) string {
	parts := []string{p.Title}
	if p.Brand != "" {
		parts = append(parts, p.Brand)
	}
	if p.CategoryName != "" {
		parts = append(parts, p.CategoryName)
	}
	if p.Description != "" {
		parts = append(parts, p.Description)
	}
	return strings.Join(parts, " ")
}

func (sp *StreamProcessor) flushLoop() {
	for {
		select {
		case <-sp.ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			if err := sp.flush(ctx); err != nil {
				sp.logger.Error("periodic flush failed", zap.Error(err))
			}
			cancel()
		case <-sp.done:
			return
		}
	}
}

func (sp *StreamProcessor) flush(ctx context.Context) error {
	sp.mu.Lock()
	if len(sp.buffer) == 0 {
		sp.mu.Unlock()
		return nil
	}
	batch := make([]models.IndexAction, len(sp.buffer))
	copy(batch, sp.buffer)
	sp.buffer = sp.buffer[:0]
	sp.mu.Unlock()

	start := time.Now()
	if err := sp.esClient.BulkIndex(ctx, batch); err != nil {
		// Put failed items back into buffer for retry
		sp.mu.Lock()
		sp.buffer = append(batch, sp.buffer...)
		sp.mu.Unlock()

		observability.IndexingEventsTotal.WithLabelValues("bulk", "error").Inc()
		return fmt.Errorf("bulk index flush: %w", err)
	}

	observability.IndexingEventsTotal.WithLabelValues("bulk", "success").Add(float64(len(batch)))
	sp.logger.Info("bulk flush completed",
		zap.Int("count", len(batch)),
		zap.Duration("duration", time.Since(start)),
	)

	return nil
}

func (sp *StreamProcessor) Stop() error {
	sp.ticker.Stop()
	close(sp.done)

	// Final flush
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	return sp.flush(ctx)
}

func invalidationPatterns() []string {
	// Cached responses and suggestion lists both embed product data.
	return []string{"sr:*", "sg:*"}
}
