package search

import (
	"testing"
	"time"

	"github.com/shubhsaxena/discovery-engine/internal/models"
)

func TestTextMatchScore_Tiers(t *testing.T) {
	tests := []struct {
		name    string
		product models.Product
		want    float64
	}{
		{"title contains query", models.Product{Title: "Apple iPhone 15 Case"}, 100},
		{"brand match", models.Product{Title: "Galaxy S24", Brand: "iphone"}, 80},
		{"exact tag match", models.Product{Title: "Phone Cover", Tags: []string{"iphone"}}, 70},
		{"no match", models.Product{Title: "Washing Machine"}, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := textMatchScore("iphone", tt.product); got != tt.want {
				t.Errorf("textMatchScore = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestTextMatchScore_EmptyBrandNeverMatches(t *testing.T) {
	p := models.Product{Title: "Washing Machine", Brand: ""}
	if got := textMatchScore("iphone", p); got != 0 {
		t.Errorf("empty brand should not match, got %v", got)
	}
}

func TestAvailabilityScore(t *testing.T) {
	tests := []struct {
		stock int
		want  float64
	}{
		{11, 100},
		{10, 50},
		{1, 50},
		{0, 0},
		{-1, 0},
	}
	for _, tt := range tests {
		if got := availabilityScore(tt.stock); got != tt.want {
			t.Errorf("availabilityScore(%d) = %v, want %v", tt.stock, got, tt.want)
		}
	}
}

func TestScoreProducts_TitleBeatsTag(t *testing.T) {
	products := []models.Product{
		{ID: "tag", Title: "Smartphone Cover", Tags: []string{"iphone"}, Stock: 20, PopularityScore: 50},
		{ID: "title", Title: "iphone 15 pro", Stock: 20, PopularityScore: 50},
	}

	scored := ScoreProducts("iphone", products)

	if scored[0].ID != "title" {
		t.Errorf("title match should rank first, got %s", scored[0].ID)
	}
	if scored[0].Score <= scored[1].Score {
		t.Errorf("title score %v should exceed tag score %v", scored[0].Score, scored[1].Score)
	}
}

func TestScoreProducts_WeightedSum(t *testing.T) {
	p := models.Product{
		Title:           "iphone 15",
		Price:           80,
		OriginalPrice:   100,
		Stock:           20,
		PopularityScore: 50,
	}

	scored := ScoreProducts("iphone", []models.Product{p})

	// 0.45*100 + 0.20*50 + 0.15*20 + 0.10*100 = 68
	if scored[0].Score != 68 {
		t.Errorf("expected score 68, got %v", scored[0].Score)
	}
	if scored[0].Source != models.SourceStore {
		t.Errorf("store scorer should tag source store, got %s", scored[0].Source)
	}
}

func TestSortProducts(t *testing.T) {
	now := time.Now()
	products := []models.Product{
		{ID: "a", Price: 300, Rating: 3, CreatedAt: now.Add(-time.Hour)},
		{ID: "b", Price: 100, Rating: 5, CreatedAt: now},
		{ID: "c", Price: 200, Rating: 4, CreatedAt: now.Add(-2 * time.Hour)},
	}

	tests := []struct {
		sort  string
		first string
	}{
		{models.SortPriceLow, "b"},
		{models.SortPriceHigh, "a"},
		{models.SortRating, "b"},
		{models.SortNewest, "b"},
	}

	for _, tt := range tests {
		t.Run(tt.sort, func(t *testing.T) {
			scored := SortProducts(products, tt.sort)
			if scored[0].ID != tt.first {
				t.Errorf("expected %s first, got %s", tt.first, scored[0].ID)
			}
		})
	}
}

func TestPaginate(t *testing.T) {
	scored := make([]models.ScoredProduct, 25)
	for i := range scored {
		scored[i].ID = string(rune('a' + i))
	}

	page := paginate(scored, 2, 10)
	if len(page) != 10 {
		t.Errorf("expected 10 items on page 2, got %d", len(page))
	}

	page = paginate(scored, 3, 10)
	if len(page) != 5 {
		t.Errorf("expected 5 items on page 3, got %d", len(page))
	}

	if paginate(scored, 4, 10) != nil {
		t.Error("page past the end should be empty")
	}
}

func TestLastPage(t *testing.T) {
	tests := []struct {
		total int64
		limit int
		want  int
	}{
		{0, 20, 1},
		{1, 20, 1},
		{20, 20, 1},
		{21, 20, 2},
		{100, 20, 5},
	}
	for _, tt := range tests {
		if got := lastPage(tt.total, tt.limit); got != tt.want {
			t.Errorf("lastPage(%d, %d) = %d, want %d", tt.total, tt.limit, got, tt.want)
		}
	}
}
