package elasticsearch

import (
	"github.com/shubhsaxena/discovery-engine/internal/models"
)

// BuildProductQuery assembles the fast-index query body for a normalized
// search. Text relevance comes from a fuzzy multi_match weighted toward
// title and brand; request filters narrow the candidate set before
// scoring.
func BuildProductQuery(normalized string, req *models.SearchRequest, limit int) map[string]any {
	boolQuery := map[string]any{
		"must": []map[string]any{
			{
				"multi_match": map[string]any{
					"query":       normalized,
					"type":        "best_fields",
					"fields":      []string{"title^3", "brand^2", "tags^1.5", "description"},
					"fuzziness":   "AUTO",
					"tie_breaker": 0.3,
				},
			},
		},
	}

	if filters := buildFilters(req); len(filters) > 0 {
		boolQuery["filter"] = filters
	}

	query := map[string]any{
		"query": map[string]any{
			"bool": boolQuery,
		},
		"size": limit,
	}
	if req.Page > 1 {
		query["from"] = (req.Page - 1) * limit
	}

	if sort := buildSort(req.Sort); sort != nil {
		query["sort"] = sort
	}

	return query
}

// BuildKNNQuery assembles a nearest-neighbour query over the product
// embedding field. Request filters do not apply here; the semantic stage
// only runs after filtered retrieval came back empty.
func BuildKNNQuery(vector []float32, k int) map[string]any {
	return map[string]any{
		"knn": map[string]any{
			"field":          "embedding",
			"query_vector":   vector,
			"k":              k,
			"num_candidates": k * 10,
		},
		"size": k,
	}
}

func buildFilters(req *models.SearchRequest) []map[string]any {
	var filters []map[string]any

	if req.CategoryID != "" {
		filters = append(filters, map[string]any{
			"term": map[string]any{"category_id": req.CategoryID},
		})
	}

	if req.MinPrice != nil || req.MaxPrice != nil {
		rangeBody := make(map[string]any)
		if req.MinPrice != nil {
			rangeBody["gte"] = *req.MinPrice
		}
		if req.MaxPrice != nil {
			rangeBody["lte"] = *req.MaxPrice
		}
		filters = append(filters, map[string]any{
			"range": map[string]any{"price": rangeBody},
		})
	}

	if req.InStock != nil {
		filters = append(filters, map[string]any{
			"term": map[string]any{"in_stock": *req.InStock},
		})
	}

	return filters
}

func buildSort(sort string) []map[string]any {
	switch sort {
	case models.SortPriceLow:
		return []map[string]any{
			{"price": map[string]any{"order": "asc"}},
			{"_score": map[string]any{"order": "desc"}},
		}
	case models.SortPriceHigh:
		return []map[string]any{
			{"price": map[string]any{"order": "desc"}},
			{"_score": map[string]any{"order": "desc"}},
		}
	case models.SortRating:
		return []map[string]any{
			{"rating": map[string]any{"order": "desc"}},
			{"_score": map[string]any{"order": "desc"}},
		}
	case models.SortNewest:
		return []map[string]any{
			{"created_at": map[string]any{"order": "desc"}},
			{"_score": map[string]any{"order": "desc"}},
		}
	default:
		// relevance: default ES score order
		return nil
	}
}
