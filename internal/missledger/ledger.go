package missledger

import (
	"context"
	"fmt"
	"sort"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/shubhsaxena/discovery-engine/internal/config"
	"github.com/shubhsaxena/discovery-engine/internal/models"
	"github.com/shubhsaxena/discovery-engine/internal/observability"
	"github.com/shubhsaxena/discovery-engine/internal/query"
)

// Store is the persistence surface behind the ledger, backed by the
// durable document store.
type Store interface {
	FindRecentMiss(ctx context.Context, normalized string, since time.Time) (*models.SearchMiss, error)
	CreateMiss(ctx context.Context, miss *models.SearchMiss) (string, error)
	TouchMiss(ctx context.Context, id string, lastSeen time.Time, categoryID, categoryName string, hasCategory bool) error
	GetMiss(ctx context.Context, id string) (*models.SearchMiss, error)
	ResolveMiss(ctx context.Context, id, productID string) error
	MissesSince(ctx context.Context, since time.Time) ([]models.SearchMiss, error)
}

// Ledger records zero-result searches and answers the demand-gap
// questions merchandising asks of them.
type Ledger struct {
	store  Store
	cfg    config.MissConfig
	logger *zap.Logger
}

func NewLedger(store Store, cfg config.MissConfig, logger *zap.Logger) *Ledger {
	return &Ledger{
		store:  store,
		cfg:    cfg,
		logger: logger,
	}
}

// Miss captures one zero-result search before fallbacks run.
type Miss struct {
	Query        string
	Normalized   string
	UserID       string
	Region       string
	CategoryID   string
	CategoryName string
}

// Record logs a miss, deduplicating against the live record for the same
// normalized query inside the dedup window: duplicates bump the counter
// and only adopt the category when the record has none yet.
func (l *Ledger) Record(ctx context.Context, miss Miss) error {
	ctx, span := observability.StartSpan(ctx, "missledger.record")
	defer span.End()

	if miss.Normalized == "" {
		return fmt.Errorf("miss has empty normalized query")
	}

	now := time.Now().UTC()
	since := now.Add(-l.cfg.DedupWindow)

	existing, err := l.store.FindRecentMiss(ctx, miss.Normalized, since)
	if err != nil {
		return fmt.Errorf("looking up recent miss: %w", err)
	}

	if existing != nil {
		return l.store.TouchMiss(ctx, existing.ID, now, miss.CategoryID, miss.CategoryName, existing.CategoryID != "")
	}

	record := &models.SearchMiss{
		Query:        miss.Query,
		Normalized:   miss.Normalized,
		UserID:       miss.UserID,
		Region:       miss.Region,
		Count:        1,
		Keywords:     query.Keywords(miss.Normalized),
		CategoryID:   miss.CategoryID,
		CategoryName: miss.CategoryName,
		LastSeen:     now,
		CreatedAt:    now,
	}
	if _, err := l.store.CreateMiss(ctx, record); err != nil {
		return fmt.Errorf("creating miss record: %w", err)
	}
	return nil
}

// Resolve marks a miss as satisfied by a product. Resolving twice is a
// no-op so admin retries are safe.
func (l *Ledger) Resolve(ctx context.Context, missID, productID string) error {
	ctx, span := observability.StartSpan(ctx, "missledger.resolve",
		attribute.String("miss_id", missID),
	)
	defer span.End()

	if productID == "" {
		return fmt.Errorf("resolve requires a product id")
	}

	existing, err := l.store.GetMiss(ctx, missID)
	if err != nil {
		return fmt.Errorf("loading miss %s: %w", missID, err)
	}
	if existing.Resolved {
		return nil
	}

	return l.store.ResolveMiss(ctx, missID, productID)
}

// Analytics aggregates the ledger over a lookback period: the most
// demanded unmet queries, per-category demand gaps priced by expected
// conversion, and overall resolution counts.
func (l *Ledger) Analytics(ctx context.Context, period time.Duration, topN int) (*models.MissAnalytics, error) {
	ctx, span := observability.StartSpan(ctx, "missledger.analytics")
	defer span.End()

	if topN <= 0 {
		topN = 20
	}

	since := time.Now().UTC().Add(-period)
	misses, err := l.store.MissesSince(ctx, since)
	if err != nil {
		return nil, fmt.Errorf("loading misses: %w", err)
	}

	analytics := &models.MissAnalytics{
		Summary: summarize(misses),
		Period:  period,
	}

	sorted := make([]models.SearchMiss, len(misses))
	copy(sorted, misses)
	sort.Slice(sorted, func(i, j int) bool {
		if sorted[i].Count != sorted[j].Count {
			return sorted[i].Count > sorted[j].Count
		}
		return sorted[i].Normalized < sorted[j].Normalized
	})
	if len(sorted) > topN {
		sorted = sorted[:topN]
	}
	analytics.TopMisses = sorted

	analytics.DemandGaps = l.demandGaps(misses)

	return analytics, nil
}

func (l *Ledger) demandGaps(misses []models.SearchMiss) []models.DemandGap {
	type bucket struct {
		id    string
		name  string
		count int64
	}
	buckets := make(map[string]*bucket)

	for _, m := range misses {
		if m.Resolved {
			continue
		}
		name := m.CategoryName
		if name == "" {
			name = "uncategorized"
		}
		key := m.CategoryID + "|" + name
		b, ok := buckets[key]
		if !ok {
			b = &bucket{id: m.CategoryID, name: name}
			buckets[key] = b
		}
		b.count += m.Count
	}

	gaps := make([]models.DemandGap, 0, len(buckets))
	for _, b := range buckets {
		gaps = append(gaps, models.DemandGap{
			CategoryID:         b.id,
			CategoryName:       b.name,
			MissCount:          b.count,
			RevenueOpportunity: float64(b.count) * l.cfg.ConversionRate * l.cfg.AverageOrderValue,
		})
	}

	sort.Slice(gaps, func(i, j int) bool {
		if gaps[i].MissCount != gaps[j].MissCount {
			return gaps[i].MissCount > gaps[j].MissCount
		}
		return gaps[i].CategoryName < gaps[j].CategoryName
	})

	return gaps
}

func summarize(misses []models.SearchMiss) models.MissSummary {
	var s models.MissSummary
	for _, m := range misses {
		s.TotalMisses += m.Count
		s.UniqueQueries++
		if m.Resolved {
			s.ResolvedCount++
		}
	}
	if s.UniqueQueries > 0 {
		s.ResolutionRate = float64(s.ResolvedCount) / float64(s.UniqueQueries)
	}
	return s
}
