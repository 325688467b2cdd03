package autocomplete

import (
	"context"
	"sort"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/shubhsaxena/discovery-engine/internal/config"
	"github.com/shubhsaxena/discovery-engine/internal/models"
	"github.com/shubhsaxena/discovery-engine/internal/observability"
	"github.com/shubhsaxena/discovery-engine/internal/query"
)

// Source priorities. Merged candidates sort by priority descending, so a
// product match always outranks a category match outranks a trending
// query.
const (
	priorityProduct  = 100
	priorityCategory = 90
	priorityTrending = 80
)

const trendingWindow = "24h"

// Catalog serves prefix lookups against the durable product store.
type Catalog interface {
	TitlePrefix(ctx context.Context, prefix string, limit int) ([]models.Product, error)
	CategoriesByPrefix(ctx context.Context, prefix string, limit int) ([]models.Category, error)
}

// Trending serves the ranked query board used for trending and popular
// suggestions.
type Trending interface {
	GetTrending(ctx context.Context, region, window string, limit int) ([]models.TrendingScore, error)
}

// SuggestionCache caches assembled suggestion lists per (prefix, region).
type SuggestionCache interface {
	GetSuggestions(ctx context.Context, prefix, region string) ([]models.Suggestion, error)
	SetSuggestions(ctx context.Context, prefix, region string, results []models.Suggestion) error
}

// Aggregator fans a prefix out to every suggestion source concurrently
// and merges the candidates into one ranked, deduplicated list.
type Aggregator struct {
	catalog  Catalog
	trending Trending
	cache    SuggestionCache
	cfg      config.SuggestConfig
	logger   *zap.Logger
}

func NewAggregator(catalog Catalog, trending Trending, suggestionCache SuggestionCache, cfg config.SuggestConfig, logger *zap.Logger) *Aggregator {
	return &Aggregator{
		catalog:  catalog,
		trending: trending,
		cache:    suggestionCache,
		cfg:      cfg,
		logger:   logger,
	}
}

// Suggest returns up to limit suggestions for the prefix. Prefixes
// shorter than the configured minimum skip the fan-out and return the
// region's most popular queries instead of nothing.
func (a *Aggregator) Suggest(ctx context.Context, prefix, region string, limit int) ([]models.Suggestion, error) {
	ctx, span := observability.StartSpan(ctx, "autocomplete.suggest")
	defer span.End()

	prefix = strings.ToLower(strings.TrimSpace(prefix))
	if limit <= 0 {
		limit = a.cfg.DefaultLimit
	}
	if limit > a.cfg.MaxLimit {
		limit = a.cfg.MaxLimit
	}
	if region == "" {
		region = query.RegionGlobal
	}

	if len([]rune(prefix)) < a.cfg.MinPrefixLength {
		return a.popular(ctx, region, limit), nil
	}

	if cached, err := a.cache.GetSuggestions(ctx, prefix, region); err != nil {
		a.logger.Warn("suggestion cache lookup failed", zap.Error(err))
	} else if cached != nil {
		return cached, nil
	}

	candidates := a.fanOut(ctx, prefix, region, limit)
	suggestions := merge(candidates, limit)

	if len(suggestions) > 0 {
		if err := a.cache.SetSuggestions(ctx, prefix, region, suggestions); err != nil {
			a.logger.Warn("suggestion cache store failed", zap.Error(err))
		}
	}

	return suggestions, nil
}

// popular is the short-prefix branch: the trending board as-is, relabeled
// as popular suggestions.
func (a *Aggregator) popular(ctx context.Context, region string, limit int) []models.Suggestion {
	scores, err := a.trending.GetTrending(ctx, region, trendingWindow, limit)
	if err != nil {
		a.logger.Warn("popular suggestions unavailable", zap.Error(err))
		return []models.Suggestion{}
	}

	suggestions := make([]models.Suggestion, 0, len(scores))
	for _, s := range scores {
		suggestions = append(suggestions, models.Suggestion{
			Text: s.Query,
			Type: models.SuggestionPopular,
		})
		if len(suggestions) == limit {
			break
		}
	}
	return suggestions
}

// fanOut queries every source concurrently. A slow or failing source
// contributes nothing; the others still answer.
func (a *Aggregator) fanOut(ctx context.Context, prefix, region string, limit int) []models.SuggestionCandidate {
	ctx, cancel := context.WithTimeout(ctx, a.cfg.FanoutTimeout)
	defer cancel()

	var mu sync.Mutex
	var wg sync.WaitGroup
	var candidates []models.SuggestionCandidate

	collect := func(batch []models.SuggestionCandidate) {
		mu.Lock()
		candidates = append(candidates, batch...)
		mu.Unlock()
	}

	wg.Add(3)

	go func() {
		defer wg.Done()
		products, err := a.catalog.TitlePrefix(ctx, prefix, limit)
		if err != nil {
			a.logger.Warn("product prefix lookup failed", zap.Error(err))
			return
		}
		batch := make([]models.SuggestionCandidate, 0, len(products))
		for _, p := range products {
			batch = append(batch, models.SuggestionCandidate{
				Suggestion: models.Suggestion{
					Text:     p.Title,
					Type:     models.SuggestionProduct,
					Category: p.CategoryName,
					Brand:    p.Brand,
				},
				Priority: priorityProduct,
			})
		}
		collect(batch)
	}()

	go func() {
		defer wg.Done()
		categories, err := a.catalog.CategoriesByPrefix(ctx, prefix, limit)
		if err != nil {
			a.logger.Warn("category prefix lookup failed", zap.Error(err))
			return
		}
		batch := make([]models.SuggestionCandidate, 0, len(categories))
		for _, c := range categories {
			batch = append(batch, models.SuggestionCandidate{
				Suggestion: models.Suggestion{
					Text: c.Name,
					Type: models.SuggestionCategory,
				},
				Priority: priorityCategory,
			})
		}
		collect(batch)
	}()

	go func() {
		defer wg.Done()
		scores, err := a.trending.GetTrending(ctx, region, trendingWindow, a.cfg.MaxLimit)
		if err != nil {
			a.logger.Warn("trending prefix lookup failed", zap.Error(err))
			return
		}
		var batch []models.SuggestionCandidate
		for _, s := range scores {
			if !strings.HasPrefix(strings.ToLower(s.Query), prefix) {
				continue
			}
			batch = append(batch, models.SuggestionCandidate{
				Suggestion: models.Suggestion{
					Text: s.Query,
					Type: models.SuggestionTrending,
				},
				Priority: priorityTrending,
			})
		}
		collect(batch)
	}()

	wg.Wait()
	return candidates
}

// merge ranks candidates by priority, dedupes case-insensitively with
// first-wins semantics inside a tier, and strips the merge priority.
func merge(candidates []models.SuggestionCandidate, limit int) []models.Suggestion {
	ordered := make([]models.SuggestionCandidate, len(candidates))
	copy(ordered, candidates)

	// Stable so insertion order breaks ties within a priority tier.
	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].Priority > ordered[j].Priority
	})

	seen := make(map[string]struct{}, len(ordered))
	suggestions := make([]models.Suggestion, 0, limit)
	for _, c := range ordered {
		key := strings.ToLower(c.Text)
		if key == "" {
			continue
		}
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		suggestions = append(suggestions, c.Suggestion)
		if len(suggestions) == limit {
			break
		}
	}
	return suggestions
}
