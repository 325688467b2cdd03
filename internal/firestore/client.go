package firestore

import (
	"context"
	"fmt"
	"time"

	"cloud.google.com/go/firestore"
	"cloud.google.com/go/firestore/apiv1/firestorepb"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"

	"github.com/shubhsaxena/discovery-engine/internal/config"
	"github.com/shubhsaxena/discovery-engine/internal/models"
	"github.com/shubhsaxena/discovery-engine/internal/observability"
)

// prefixEnd is the sentinel used with >= / < pairs to express a prefix
// scan over a string field.
const prefixEnd = "\uf8ff"

type Client struct {
	client *firestore.Client
	cfg    config.FirestoreConfig
	logger *zap.Logger
}

func NewClient(ctx context.Context, cfg config.FirestoreConfig, logger *zap.Logger) (*Client, error) {
	var opts []option.ClientOption
	if cfg.CredentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(cfg.CredentialsFile))
	}

	client, err := firestore.NewClient(ctx, cfg.ProjectID, opts...)
	if err != nil {
		return nil, fmt.Errorf("creating firestore client: %w", err)
	}

	logger.Info("firestore client connected", zap.String("project", cfg.ProjectID))

	return &Client{
		client: client,
		cfg:    cfg,
		logger: logger,
	}, nil
}

// QueryCandidates fetches products whose denormalized keyword set overlaps
// the query keywords. Equality filters run server-side; price bounds are
// applied in memory because Firestore allows only one range field per
// query and last_seen style indexes stay simpler without it.
func (c *Client) QueryCandidates(ctx context.Context, keywords []string, req *models.SearchRequest, limit int) ([]models.Product, error) {
	if len(keywords) == 0 {
		return nil, nil
	}

	ctx, span := observability.StartSpan(ctx, "firestore.query_candidates",
		attribute.Int("keywords", len(keywords)),
		attribute.Int("limit", limit),
	)
	defer span.End()

	ctx, cancel := context.WithTimeout(ctx, c.cfg.RequestTimeout)
	defer cancel()

	// array-contains-any accepts at most 10 values.
	if len(keywords) > 10 {
		keywords = keywords[:10]
	}

	start := time.Now()
	q := c.client.Collection(c.cfg.ProductsCollection).
		Query.
		Where("keywords", "array-contains-any", keywords)

	if req.CategoryID != "" {
		q = q.Where("category_id", "==", req.CategoryID)
	}
	if req.InStock != nil {
		q = q.Where("in_stock", "==", *req.InStock)
	}

	products, err := c.collectProducts(q.Limit(limit).Documents(ctx))
	observeStore("query_candidates", start, err)
	if err != nil {
		return nil, fmt.Errorf("firestore candidate query: %w", err)
	}

	if req.MinPrice != nil || req.MaxPrice != nil {
		filtered := products[:0]
		for _, p := range products {
			if req.MinPrice != nil && p.Price < *req.MinPrice {
				continue
			}
			if req.MaxPrice != nil && p.Price > *req.MaxPrice {
				continue
			}
			filtered = append(filtered, p)
		}
		products = filtered
	}

	return products, nil
}

// QueryOrdered serves an explicit sort order straight from the store:
// ordering, offset, and limit all run server-side, and the total comes
// from a count aggregation over the same filtered set so page math stays
// correct past the fetched page. Price bounds ride along only on the
// price sorts because a range filter and the first order-by must share a
// field.
func (c *Client) QueryOrdered(ctx context.Context, keywords []string, req *models.SearchRequest, offset, limit int) ([]models.Product, int64, error) {
	if len(keywords) == 0 {
		return nil, 0, nil
	}

	ctx, span := observability.StartSpan(ctx, "firestore.query_ordered",
		attribute.String("sort", req.Sort),
		attribute.Int("offset", offset),
		attribute.Int("limit", limit),
	)
	defer span.End()

	ctx, cancel := context.WithTimeout(ctx, c.cfg.RequestTimeout)
	defer cancel()

	if len(keywords) > 10 {
		keywords = keywords[:10]
	}

	q := c.client.Collection(c.cfg.ProductsCollection).
		Query.
		Where("keywords", "array-contains-any", keywords)

	if req.CategoryID != "" {
		q = q.Where("category_id", "==", req.CategoryID)
	}
	if req.InStock != nil {
		q = q.Where("in_stock", "==", *req.InStock)
	}
	if req.MinPrice != nil {
		q = q.Where("price", ">=", *req.MinPrice)
	}
	if req.MaxPrice != nil {
		q = q.Where("price", "<=", *req.MaxPrice)
	}

	switch req.Sort {
	case models.SortPriceLow:
		q = q.OrderBy("price", firestore.Asc)
	case models.SortPriceHigh:
		q = q.OrderBy("price", firestore.Desc)
	case models.SortRating:
		q = q.OrderBy("rating", firestore.Desc)
	case models.SortNewest:
		q = q.OrderBy("created_at", firestore.Desc)
	default:
		return nil, 0, fmt.Errorf("sort %q has no store ordering", req.Sort)
	}

	start := time.Now()
	total, err := c.countMatches(ctx, q)
	if err != nil {
		observeStore("query_ordered", start, err)
		return nil, 0, fmt.Errorf("firestore ordered count: %w", err)
	}

	products, err := c.collectProducts(q.Offset(offset).Limit(limit).Documents(ctx))
	observeStore("query_ordered", start, err)
	if err != nil {
		return nil, 0, fmt.Errorf("firestore ordered query: %w", err)
	}

	return products, total, nil
}

func (c *Client) countMatches(ctx context.Context, q firestore.Query) (int64, error) {
	results, err := q.NewAggregationQuery().WithCount("total").Get(ctx)
	if err != nil {
		return 0, err
	}
	raw, ok := results["total"]
	if !ok {
		return 0, fmt.Errorf("count aggregation returned no total")
	}
	value, ok := raw.(*firestorepb.Value)
	if !ok {
		return 0, fmt.Errorf("unexpected count result type %T", raw)
	}
	return value.GetIntegerValue(), nil
}

// GetProducts resolves product IDs to full documents, batching to respect
// the GetAll limit. Missing IDs are silently dropped.
func (c *Client) GetProducts(ctx context.Context, ids []string) ([]models.Product, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	ctx, span := observability.StartSpan(ctx, "firestore.get_products",
		attribute.Int("count", len(ids)),
	)
	defer span.End()

	batchSize := c.cfg.MaxBatchSize
	if batchSize <= 0 {
		batchSize = 100
	}

	products := make([]models.Product, 0, len(ids))
	for i := 0; i < len(ids); i += batchSize {
		end := i + batchSize
		if end > len(ids) {
			end = len(ids)
		}
		batch := ids[i:end]

		// Each batch gets its own timeout so sequential batches don't starve.
		batchCtx, batchCancel := context.WithTimeout(ctx, c.cfg.RequestTimeout)

		refs := make([]*firestore.DocumentRef, len(batch))
		for j, id := range batch {
			refs[j] = c.client.Collection(c.cfg.ProductsCollection).Doc(id)
		}

		docs, err := c.client.GetAll(batchCtx, refs)
		batchCancel()
		if err != nil {
			return nil, fmt.Errorf("firestore get_all batch %d: %w", i/batchSize, err)
		}

		for _, doc := range docs {
			if !doc.Exists() {
				continue
			}
			var p models.Product
			if err := doc.DataTo(&p); err != nil {
				c.logger.Warn("skipping undecodable product", zap.String("id", doc.Ref.ID), zap.Error(err))
				continue
			}
			if p.ID == "" {
				p.ID = doc.Ref.ID
			}
			products = append(products, p)
		}
	}

	return products, nil
}

// TopByCategory returns the most popular products of a category, used by
// the category fallback stage.
func (c *Client) TopByCategory(ctx context.Context, categoryID string, limit int) ([]models.Product, error) {
	ctx, span := observability.StartSpan(ctx, "firestore.top_by_category",
		attribute.String("category_id", categoryID),
	)
	defer span.End()

	ctx, cancel := context.WithTimeout(ctx, c.cfg.RequestTimeout)
	defer cancel()

	start := time.Now()
	iter := c.client.Collection(c.cfg.ProductsCollection).
		Query.
		Where("category_id", "==", categoryID).
		OrderBy("popularity_score", firestore.Desc).
		Limit(limit).
		Documents(ctx)

	products, err := c.collectProducts(iter)
	observeStore("top_by_category", start, err)
	if err != nil {
		return nil, fmt.Errorf("firestore top by category: %w", err)
	}
	return products, nil
}

// TitlePrefix returns products whose lowercased title starts with prefix.
func (c *Client) TitlePrefix(ctx context.Context, prefix string, limit int) ([]models.Product, error) {
	ctx, span := observability.StartSpan(ctx, "firestore.title_prefix")
	defer span.End()

	ctx, cancel := context.WithTimeout(ctx, c.cfg.RequestTimeout)
	defer cancel()

	start := time.Now()
	iter := c.client.Collection(c.cfg.ProductsCollection).
		Query.
		Where("title_lower", ">=", prefix).
		Where("title_lower", "<", prefix+prefixEnd).
		Limit(limit).
		Documents(ctx)

	products, err := c.collectProducts(iter)
	observeStore("title_prefix", start, err)
	if err != nil {
		return nil, fmt.Errorf("firestore title prefix: %w", err)
	}
	return products, nil
}

// CategoriesByPrefix returns categories whose lowercased name starts with
// prefix.
func (c *Client) CategoriesByPrefix(ctx context.Context, prefix string, limit int) ([]models.Category, error) {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.RequestTimeout)
	defer cancel()

	start := time.Now()
	iter := c.client.Collection(c.cfg.CategoriesCollection).
		Query.
		Where("name_lower", ">=", prefix).
		Where("name_lower", "<", prefix+prefixEnd).
		Limit(limit).
		Documents(ctx)
	defer iter.Stop()

	var categories []models.Category
	for {
		doc, err := iter.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			observeStore("categories_by_prefix", start, err)
			return nil, fmt.Errorf("firestore categories by prefix: %w", err)
		}
		var cat models.Category
		if err := doc.DataTo(&cat); err != nil {
			continue
		}
		if cat.ID == "" {
			cat.ID = doc.Ref.ID
		}
		categories = append(categories, cat)
	}
	observeStore("categories_by_prefix", start, nil)

	return categories, nil
}

// ListCategories returns the full category set. The catalog carries at
// most a few hundred categories, so callers keep the result in memory.
func (c *Client) ListCategories(ctx context.Context) ([]models.Category, error) {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.RequestTimeout)
	defer cancel()

	iter := c.client.Collection(c.cfg.CategoriesCollection).Documents(ctx)
	defer iter.Stop()

	var categories []models.Category
	for {
		doc, err := iter.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("firestore list categories: %w", err)
		}
		var cat models.Category
		if err := doc.DataTo(&cat); err != nil {
			continue
		}
		if cat.ID == "" {
			cat.ID = doc.Ref.ID
		}
		categories = append(categories, cat)
	}

	return categories, nil
}

func (c *Client) collectProducts(iter *firestore.DocumentIterator) ([]models.Product, error) {
	defer iter.Stop()

	var products []models.Product
	for {
		doc, err := iter.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, err
		}
		var p models.Product
		if err := doc.DataTo(&p); err != nil {
			c.logger.Warn("skipping undecodable product", zap.String("id", doc.Ref.ID), zap.Error(err))
			continue
		}
		if p.ID == "" {
			p.ID = doc.Ref.ID
		}
		products = append(products, p)
	}
	return products, nil
}

func observeStore(operation string, start time.Time, err error) {
	status := "success"
	if err != nil {
		status = "error"
	}
	observability.StoreQueryDuration.WithLabelValues(operation, status).Observe(time.Since(start).Seconds())
}

type ChangeListener struct {
	client     *firestore.Client
	collection string
	logger     *zap.Logger
	handler    func(context.Context, *models.ChangeEvent) error
}

// NewChangeListener watches the products collection and feeds catalog
// mutations to handler. Used by deployments without a change topic; the
// Kafka consumer is the primary feed.
func (c *Client) NewChangeListener(handler func(context.Context, *models.ChangeEvent) error) *ChangeListener {
	return &ChangeListener{
		client:     c.client,
		collection: c.cfg.ProductsCollection,
		logger:     c.logger,
		handler:    handler,
	}
}

func (cl *ChangeListener) Listen(ctx context.Context) error {
	snapIter := cl.client.Collection(cl.collection).Snapshots(ctx)
	defer snapIter.Stop()

	for {
		snap, err := snapIter.Next()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			cl.logger.Error("snapshot iterator error", zap.Error(err))
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(time.Second):
			}
			continue
		}

		for _, change := range snap.Changes {
			var eventType string
			switch change.Kind {
			case firestore.DocumentAdded:
				eventType = "CREATE"
			case firestore.DocumentModified:
				eventType = "UPDATE"
			case firestore.DocumentRemoved:
				eventType = "DELETE"
			}

			event := &models.ChangeEvent{
				Type:      eventType,
				ProductID: change.Doc.Ref.ID,
				Timestamp: time.Now().UTC(),
				// Server update time is monotonic per document, which
				// is what the stale-event check downstream needs.
				Version: change.Doc.UpdateTime.UnixNano(),
			}
			if eventType != "DELETE" {
				var p models.Product
				if err := change.Doc.DataTo(&p); err != nil {
					cl.logger.Error("undecodable change document",
						zap.String("doc_id", change.Doc.Ref.ID),
						zap.Error(err),
					)
					continue
				}
				if p.ID == "" {
					p.ID = change.Doc.Ref.ID
				}
				event.Product = &p
			}

			if err := cl.handler(ctx, event); err != nil {
				cl.logger.Error("change event handler error",
					zap.String("product_id", event.ProductID),
					zap.String("type", eventType),
					zap.Error(err),
				)
			}
		}
	}
}

func (c *Client) HealthCheck(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	iter := c.client.Collection(c.cfg.ProductsCollection).Limit(1).Documents(ctx)
	defer iter.Stop()

	_, err := iter.Next()
	// iterator.Done means the collection is empty, Firestore is reachable.
	if err != nil && err != iterator.Done {
		return fmt.Errorf("firestore health check: %w", err)
	}
	return nil
}

func (c *Client) Close() error {
	return c.client.Close()
}
