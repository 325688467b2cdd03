package search

import (
	"sort"
	"strings"

	"github.com/shubhsaxena/discovery-engine/internal/models"
)

// Relevance weights for the in-memory store scorer. Component scores are
// on a 0-100 scale; the weights sum to 0.9, so 90 is the ceiling.
const (
	weightText         = 0.45
	weightPopularity   = 0.20
	weightPrice        = 0.15
	weightAvailability = 0.10
)

// ScoreProducts computes the weighted relevance score for every candidate
// and returns them sorted by score descending, title ascending as a
// deterministic tiebreak. The input order does not matter.
func ScoreProducts(normalized string, products []models.Product) []models.ScoredProduct {
	scored := make([]models.ScoredProduct, 0, len(products))
	for _, p := range products {
		scored = append(scored, models.ScoredProduct{
			Product: p,
			Score:   relevanceScore(normalized, p),
			Source:  models.SourceStore,
		})
	}

	sort.SliceStable(scored, func(i, j int) bool {
		if scored[i].Score != scored[j].Score {
			return scored[i].Score > scored[j].Score
		}
		return scored[i].Title < scored[j].Title
	})

	return scored
}

func relevanceScore(normalized string, p models.Product) float64 {
	return weightText*textMatchScore(normalized, p) +
		weightPopularity*clamp(p.PopularityScore, 0, 100) +
		weightPrice*p.DiscountPercent() +
		weightAvailability*availabilityScore(p.Stock)
}

// textMatchScore ranks match quality by field: title containment beats a
// brand match beats an exact tag hit.
func textMatchScore(normalized string, p models.Product) float64 {
	if normalized == "" {
		return 0
	}
	if strings.Contains(strings.ToLower(p.Title), normalized) {
		return 100
	}
	if brand := strings.ToLower(p.Brand); brand != "" {
		if brand == normalized || strings.Contains(normalized, brand) {
			return 80
		}
	}
	for _, tag := range p.Tags {
		if strings.EqualFold(tag, normalized) {
			return 70
		}
	}
	return 0
}

func availabilityScore(stock int) float64 {
	switch {
	case stock > 10:
		return 100
	case stock > 0:
		return 50
	default:
		return 0
	}
}

// SortProducts orders candidates by an explicit non-relevance sort. Score
// is left at zero; the ordering itself is the contract.
func SortProducts(products []models.Product, sortOrder string) []models.ScoredProduct {
	scored := make([]models.ScoredProduct, 0, len(products))
	for _, p := range products {
		scored = append(scored, models.ScoredProduct{Product: p, Source: models.SourceStore})
	}

	sort.SliceStable(scored, func(i, j int) bool {
		switch sortOrder {
		case models.SortPriceLow:
			return scored[i].Price < scored[j].Price
		case models.SortPriceHigh:
			return scored[i].Price > scored[j].Price
		case models.SortRating:
			return scored[i].Rating > scored[j].Rating
		case models.SortNewest:
			return scored[i].CreatedAt.After(scored[j].CreatedAt)
		default:
			return false
		}
	})

	return scored
}

// paginate slices one page out of an already-ordered result set.
func paginate(scored []models.ScoredProduct, page, limit int) []models.ScoredProduct {
	if page < 1 {
		page = 1
	}
	start := (page - 1) * limit
	if start >= len(scored) {
		return nil
	}
	end := start + limit
	if end > len(scored) {
		end = len(scored)
	}
	return scored[start:end]
}

func lastPage(total int64, limit int) int {
	if limit <= 0 || total <= 0 {
		return 1
	}
	pages := int((total + int64(limit) - 1) / int64(limit))
	if pages < 1 {
		return 1
	}
	return pages
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
