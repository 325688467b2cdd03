package search

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/shubhsaxena/discovery-engine/internal/config"
	"github.com/shubhsaxena/discovery-engine/internal/elasticsearch"
	"github.com/shubhsaxena/discovery-engine/internal/missledger"
	"github.com/shubhsaxena/discovery-engine/internal/models"
	"github.com/shubhsaxena/discovery-engine/internal/observability"
	"github.com/shubhsaxena/discovery-engine/internal/query"
)

const (
	trendingWindow24h = "24h"
	suggestionCount   = 5
	categoryCacheTTL  = 5 * time.Minute
)

// Index is the fast full-text index surface.
type Index interface {
	SearchProducts(ctx context.Context, normalized string, req *models.SearchRequest, limit int) (*elasticsearch.SearchResult, error)
	KNNSearch(ctx context.Context, vector []float32, k int) (*elasticsearch.SearchResult, error)
}

// Catalog is the durable product store surface.
type Catalog interface {
	QueryCandidates(ctx context.Context, keywords []string, req *models.SearchRequest, limit int) ([]models.Product, error)
	QueryOrdered(ctx context.Context, keywords []string, req *models.SearchRequest, offset, limit int) ([]models.Product, int64, error)
	GetProducts(ctx context.Context, ids []string) ([]models.Product, error)
	TopByCategory(ctx context.Context, categoryID string, limit int) ([]models.Product, error)
	ListCategories(ctx context.Context) ([]models.Category, error)
}

// ResponseCache caches whole search responses keyed by normalized query
// plus active filters.
type ResponseCache interface {
	GetSearchResults(ctx context.Context, normalized string, req *models.SearchRequest) (*models.SearchResponse, error)
	SetSearchResults(ctx context.Context, normalized string, req *models.SearchRequest, resp *models.SearchResponse) error
}

// TrendingReader records attempts and serves the suggestion board.
type TrendingReader interface {
	Record(ctx context.Context, normalized, region string)
	GetTrending(ctx context.Context, region, window string, limit int) ([]models.TrendingScore, error)
}

// MissRecorder persists zero-result queries.
type MissRecorder interface {
	Record(ctx context.Context, miss missledger.Miss) error
}

// Recommender returns ranked product IDs from the external engine.
type Recommender interface {
	Enabled() bool
	ForUser(ctx context.Context, userID string, limit int) ([]string, error)
}

// Embedder turns query text into a vector for semantic retrieval.
type Embedder interface {
	Enabled() bool
	Embed(ctx context.Context, text string) ([]float32, error)
}

// Submitter detaches side effects from the response path.
type Submitter interface {
	Submit(name string, fn func(ctx context.Context) error) bool
}

// Orchestrator runs the full search pipeline: cache, fast index, durable
// store with in-memory scoring, then the zero-result fallback chain.
type Orchestrator struct {
	index       Index
	catalog     Catalog
	cache       ResponseCache
	trending    TrendingReader
	misses      MissRecorder
	recommender Recommender
	embedder    Embedder
	tasks       Submitter
	classifier  *query.Classifier
	slowQuery   *observability.SlowQueryDetector
	stages      []fallbackStage
	cfg         config.SearchConfig
	logger      *zap.Logger

	// Category list cache for miss inference.
	mu          sync.Mutex
	categories  []models.Category
	categoriesT time.Time
}

func New(
	index Index,
	catalog Catalog,
	responseCache ResponseCache,
	trending TrendingReader,
	misses MissRecorder,
	recommender Recommender,
	embedder Embedder,
	tasks Submitter,
	slowQuery *observability.SlowQueryDetector,
	cfg config.SearchConfig,
	logger *zap.Logger,
) *Orchestrator {
	o := &Orchestrator{
		index:       index,
		catalog:     catalog,
		cache:       responseCache,
		trending:    trending,
		misses:      misses,
		recommender: recommender,
		embedder:    embedder,
		tasks:       tasks,
		classifier:  query.NewClassifier(),
		slowQuery:   slowQuery,
		cfg:         cfg,
		logger:      logger,
	}
	o.stages = o.fallbackStages()
	return o
}

func (o *Orchestrator) Search(ctx context.Context, req *models.SearchRequest) (*models.SearchResponse, error) {
	start := time.Now()
	ctx, span := observability.StartSpan(ctx, "search.orchestrate",
		attribute.String("query", req.Query),
	)
	defer span.End()

	o.clampRequest(req)
	normalized := query.Normalize(req.Query)
	intent, confidence := o.classifier.Classify(normalized)

	// Cache hit still counts as interest: record trending, then return
	// the stored payload untouched so repeats are identical.
	cached, err := o.cache.GetSearchResults(ctx, normalized, req)
	if err != nil {
		o.logger.Warn("cache lookup error", zap.Error(err))
	}
	if cached != nil {
		o.recordTrending(normalized, req.Region)
		observability.SearchRequestsTotal.WithLabelValues(intent.String(), "cache_hit").Inc()
		return cached, nil
	}

	resp := o.execute(ctx, normalized, req)

	resp.Meta.Intent = intent.String()
	resp.Meta.Confidence = confidence
	resp.Meta.Page = req.Page
	resp.Meta.LastPage = lastPage(resp.Meta.Total, req.Limit)
	resp.Meta.RequestID = req.RequestID
	resp.Meta.TookMs = time.Since(start).Milliseconds()

	o.recordTrending(normalized, req.Region)

	if cacheable(resp) {
		// The stored copy is only ever served as a hit, so it carries
		// the hit flag and no requester-specific ID.
		snapshot := *resp
		snapshot.Meta.CacheHit = true
		snapshot.Meta.RequestID = ""
		if err := o.cache.SetSearchResults(ctx, normalized, req, &snapshot); err != nil {
			o.logger.Warn("cache set error", zap.Error(err))
		}
	}

	observability.SearchRequestsTotal.WithLabelValues(intent.String(), "success").Inc()
	observability.SearchRequestDuration.WithLabelValues(intent.String(), resp.Meta.Source, "success").Observe(time.Since(start).Seconds())
	o.slowQuery.Intercept(ctx, normalized, intent.String(), resp.Meta.Source, time.Since(start), resp.Meta.Total)

	return resp, nil
}

func (o *Orchestrator) clampRequest(req *models.SearchRequest) {
	if req.Page < 1 {
		req.Page = 1
	}
	if req.Limit <= 0 {
		req.Limit = o.cfg.DefaultPageSize
	}
	if req.Limit > o.cfg.MaxPageSize {
		req.Limit = o.cfg.MaxPageSize
	}
	if req.Sort == "" || !models.ValidSort(req.Sort) {
		req.Sort = models.SortRelevance
	}
	if req.Region == "" {
		req.Region = query.ResolveRegion(req.Lat, req.Lng, req.Pincode, req.RegionHint)
	}
}

// execute runs the retrieval stages in order. It never returns an error:
// every backend failure degrades to the next stage and the terminal stage
// always produces a response.
func (o *Orchestrator) execute(ctx context.Context, normalized string, req *models.SearchRequest) *models.SearchResponse {
	if resp := o.indexSearch(ctx, normalized, req); resp != nil {
		return resp
	}

	if resp := o.storeSearch(ctx, normalized, req); resp != nil {
		return resp
	}

	return o.handleMiss(ctx, normalized, req)
}

// indexSearch is the primary path. It gets a tight timeout: when the
// index is slow it is treated the same as down.
func (o *Orchestrator) indexSearch(ctx context.Context, normalized string, req *models.SearchRequest) *models.SearchResponse {
	idxCtx, cancel := context.WithTimeout(ctx, o.cfg.QueryTimeout)
	defer cancel()

	result, err := o.index.SearchProducts(idxCtx, normalized, req, req.Limit)
	if err != nil {
		o.logger.Warn("index search failed, falling back to store",
			zap.String("query", normalized),
			zap.Error(err),
		)
		return nil
	}
	if len(result.Hits) == 0 {
		return nil
	}

	data := result.Hits
	for i := range data {
		data[i].Source = models.SourceIndex
	}

	return &models.SearchResponse{
		Data: data,
		Meta: models.SearchMeta{
			Total:  result.Total,
			Source: string(models.SourceIndex),
		},
	}
}

// storeSearch is the durable fallback. An explicit sort is pushed down
// to the store as a server-side order-by with offset pagination; the
// relevance sort fetches a bounded candidate set and scores it in
// memory.
func (o *Orchestrator) storeSearch(ctx context.Context, normalized string, req *models.SearchRequest) *models.SearchResponse {
	keywords := query.Keywords(normalized)

	if storeSortPushdown(req) {
		if resp := o.storeOrdered(ctx, normalized, keywords, req); resp != nil {
			return resp
		}
		// Ordered query failed or matched nothing: the candidate scan
		// below is the degraded path.
	}

	candidates, err := o.catalog.QueryCandidates(ctx, keywords, req, o.cfg.CandidateLimit)
	if err != nil {
		o.logger.Warn("store candidate query failed",
			zap.String("query", normalized),
			zap.Error(err),
		)
		return nil
	}
	if len(candidates) == 0 {
		return nil
	}

	var scored []models.ScoredProduct
	if req.Sort == models.SortRelevance {
		scored = ScoreProducts(normalized, candidates)
	} else {
		scored = SortProducts(candidates, req.Sort)
	}

	page := paginate(scored, req.Page, req.Limit)
	if len(page) == 0 && req.Page > 1 {
		// Past the end of the candidate set: an empty page of real
		// matches, not a miss.
		page = []models.ScoredProduct{}
	}

	return &models.SearchResponse{
		Data: page,
		Meta: models.SearchMeta{
			Total:  int64(len(scored)),
			Source: string(models.SourceStore),
		},
	}
}

// storeOrdered runs the pushed-down explicit sort. A response comes back
// only when the store succeeded and something matched; nil sends the
// caller to the degraded in-memory path.
func (o *Orchestrator) storeOrdered(ctx context.Context, normalized string, keywords []string, req *models.SearchRequest) *models.SearchResponse {
	offset := (req.Page - 1) * req.Limit
	products, total, err := o.catalog.QueryOrdered(ctx, keywords, req, offset, req.Limit)
	if err != nil {
		o.logger.Warn("store ordered query failed",
			zap.String("query", normalized),
			zap.String("sort", req.Sort),
			zap.Error(err),
		)
		return nil
	}
	if total == 0 {
		return nil
	}

	data := make([]models.ScoredProduct, 0, len(products))
	for _, p := range products {
		data = append(data, models.ScoredProduct{Product: p, Source: models.SourceStore})
	}

	return &models.SearchResponse{
		Data: data,
		Meta: models.SearchMeta{
			Total:  total,
			Source: string(models.SourceStore),
		},
	}
}

// storeSortPushdown reports whether the store can honor the requested
// order server-side. Price bounds pin the first order-by to the price
// field, so they only combine with the price sorts.
func storeSortPushdown(req *models.SearchRequest) bool {
	switch req.Sort {
	case models.SortPriceLow, models.SortPriceHigh:
		return true
	case models.SortRating, models.SortNewest:
		return req.MinPrice == nil && req.MaxPrice == nil
	}
	return false
}

// handleMiss logs the zero-result query and walks the fallback chain. The
// miss is recorded before any fallback runs so the ledger sees every
// unmet demand, even ones a fallback papers over.
func (o *Orchestrator) handleMiss(ctx context.Context, normalized string, req *models.SearchRequest) *models.SearchResponse {
	keywords := query.Keywords(normalized)
	category := InferCategory(keywords, o.listCategories(ctx))

	miss := missledger.Miss{
		Query:      req.Query,
		Normalized: normalized,
		UserID:     req.UserID,
		Region:     req.Region,
	}
	if category != nil {
		miss.CategoryID = category.ID
		miss.CategoryName = category.Name
	}
	if normalized != "" {
		o.tasks.Submit("miss_ledger_write", func(taskCtx context.Context) error {
			return o.misses.Record(taskCtx, miss)
		})
	}

	return o.runFallbacks(ctx, &fallbackContext{
		normalized: normalized,
		req:        req,
		category:   category,
	})
}

func (o *Orchestrator) recordTrending(normalized, region string) {
	if normalized == "" {
		return
	}
	o.tasks.Submit("trending_record", func(taskCtx context.Context) error {
		o.trending.Record(taskCtx, normalized, region)
		return nil
	})
}

// listCategories serves the category set from a short-lived in-process
// cache; miss inference does not need a fresh list per request.
func (o *Orchestrator) listCategories(ctx context.Context) []models.Category {
	o.mu.Lock()
	if o.categories != nil && time.Since(o.categoriesT) < categoryCacheTTL {
		cats := o.categories
		o.mu.Unlock()
		return cats
	}
	o.mu.Unlock()

	cats, err := o.catalog.ListCategories(ctx)
	if err != nil {
		o.logger.Warn("category list unavailable", zap.Error(err))
		return nil
	}

	o.mu.Lock()
	o.categories = cats
	o.categoriesT = time.Now()
	o.mu.Unlock()

	return cats
}

// cacheable keeps fallback and empty responses out of the cache: only
// genuine index or store results are worth replaying.
func cacheable(resp *models.SearchResponse) bool {
	if resp.Meta.Fallback != "" {
		return false
	}
	if len(resp.Data) == 0 {
		return false
	}
	switch resp.Meta.Source {
	case string(models.SourceIndex), string(models.SourceStore):
		return true
	}
	return false
}
