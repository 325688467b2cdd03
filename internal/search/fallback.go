package search

import (
	"context"

	"go.uber.org/zap"

	"github.com/shubhsaxena/discovery-engine/internal/models"
	"github.com/shubhsaxena/discovery-engine/internal/observability"
)

// fallbackContext carries everything a stage needs to decide whether it
// can answer a zero-result query.
type fallbackContext struct {
	normalized string
	req        *models.SearchRequest
	category   *models.Category
}

// fallbackStage is one step of the zero-result escalation. A stage
// returns nil to pass; the first non-nil response wins. The order of the
// stage list is the escalation policy.
type fallbackStage struct {
	name string
	run  func(ctx context.Context, fc *fallbackContext) *models.SearchResponse
}

func (o *Orchestrator) fallbackStages() []fallbackStage {
	return []fallbackStage{
		{name: "category", run: o.categoryFallback},
		{name: "recommendations", run: o.recommendationFallback},
		{name: "semantic", run: o.semanticFallback},
	}
}

func (o *Orchestrator) runFallbacks(ctx context.Context, fc *fallbackContext) *models.SearchResponse {
	for _, stage := range o.stages {
		if resp := stage.run(ctx, fc); resp != nil {
			observability.FallbackCounter.WithLabelValues(stage.name).Inc()
			return resp
		}
	}
	observability.FallbackCounter.WithLabelValues("empty").Inc()
	return o.emptyResponse(ctx, fc)
}

// categoryFallback serves the inferred category's most popular products.
func (o *Orchestrator) categoryFallback(ctx context.Context, fc *fallbackContext) *models.SearchResponse {
	if fc.category == nil {
		return nil
	}

	products, err := o.catalog.TopByCategory(ctx, fc.category.ID, fc.req.Limit)
	if err != nil {
		o.logger.Warn("category fallback query failed",
			zap.String("category_id", fc.category.ID),
			zap.Error(err),
		)
		return nil
	}
	if len(products) == 0 {
		return nil
	}

	data := make([]models.ScoredProduct, 0, len(products))
	for _, p := range products {
		data = append(data, models.ScoredProduct{Product: p, Source: models.SourceCategory})
	}

	return &models.SearchResponse{
		Data: data,
		Meta: models.SearchMeta{
			Total:             int64(len(data)),
			Source:            string(models.SourceCategory),
			Fallback:          "category",
			SuggestedCategory: fc.category.Name,
			OriginalQuery:     fc.req.Query,
		},
	}
}

// recommendationFallback asks the external recommender for product IDs
// and hydrates them from the catalog.
func (o *Orchestrator) recommendationFallback(ctx context.Context, fc *fallbackContext) *models.SearchResponse {
	if o.recommender == nil || !o.recommender.Enabled() {
		return nil
	}

	ids, err := o.recommender.ForUser(ctx, fc.req.UserID, fc.req.Limit)
	if err != nil {
		o.logger.Warn("recommendation fallback failed", zap.Error(err))
		return nil
	}
	if len(ids) == 0 {
		return nil
	}

	products, err := o.catalog.GetProducts(ctx, ids)
	if err != nil {
		o.logger.Warn("recommendation hydration failed", zap.Error(err))
		return nil
	}
	if len(products) == 0 {
		return nil
	}

	data := make([]models.ScoredProduct, 0, len(products))
	for _, p := range products {
		data = append(data, models.ScoredProduct{Product: p, Source: models.SourceRecommendation})
	}

	return &models.SearchResponse{
		Data: data,
		Meta: models.SearchMeta{
			Total:         int64(len(data)),
			Source:        string(models.SourceRecommendation),
			Fallback:      "recommendations",
			OriginalQuery: fc.req.Query,
			Message:       "No direct matches found, showing recommendations",
		},
	}
}

// semanticFallback runs embedding-based retrieval. It only applies on the
// relevance branch: an explicit sort order promises an ordering semantic
// retrieval cannot honor. Its responses are never cached.
func (o *Orchestrator) semanticFallback(ctx context.Context, fc *fallbackContext) *models.SearchResponse {
	if o.embedder == nil || !o.embedder.Enabled() {
		return nil
	}
	if fc.req.Sort != models.SortRelevance {
		return nil
	}
	if fc.normalized == "" {
		return nil
	}

	vector, err := o.embedder.Embed(ctx, fc.normalized)
	if err != nil {
		o.logger.Warn("semantic embedding failed", zap.Error(err))
		return nil
	}

	result, err := o.index.KNNSearch(ctx, vector, fc.req.Limit)
	if err != nil {
		o.logger.Warn("semantic retrieval failed", zap.Error(err))
		return nil
	}
	if len(result.Hits) == 0 {
		return nil
	}

	data := result.Hits
	for i := range data {
		data[i].Source = models.SourceSemantic
	}

	return &models.SearchResponse{
		Data: data,
		Meta: models.SearchMeta{
			Total:         int64(len(data)),
			Source:        string(models.SourceSemantic),
			Fallback:      "semantic",
			OriginalQuery: fc.req.Query,
		},
	}
}

// emptyResponse is the terminal stage: nothing matched anywhere, so hand
// back an empty page with a few trending queries to pivot to.
func (o *Orchestrator) emptyResponse(ctx context.Context, fc *fallbackContext) *models.SearchResponse {
	var suggestions []string
	if scores, err := o.trending.GetTrending(ctx, fc.req.Region, trendingWindow24h, suggestionCount); err == nil {
		for _, s := range scores {
			suggestions = append(suggestions, s.Query)
			if len(suggestions) == suggestionCount {
				break
			}
		}
	} else {
		o.logger.Warn("trending suggestions unavailable", zap.Error(err))
	}

	return &models.SearchResponse{
		Data: []models.ScoredProduct{},
		Meta: models.SearchMeta{
			Total:         0,
			Fallback:      "empty",
			Message:       "No products matched your search",
			OriginalQuery: fc.req.Query,
			Suggestions:   suggestions,
		},
	}
}
