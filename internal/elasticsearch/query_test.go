package elasticsearch

import (
	"testing"

	"github.com/shubhsaxena/discovery-engine/internal/models"
)

func TestBuildProductQuery_Basic(t *testing.T) {
	req := &models.SearchRequest{Limit: 20}
	query := BuildProductQuery("iphone 15", req, 100)

	if query["size"] != 100 {
		t.Errorf("expected size 100, got %v", query["size"])
	}

	boolQuery := extractBool(t, query)
	if _, hasFilter := boolQuery["filter"]; hasFilter {
		t.Error("expected no filters for bare request")
	}

	must := boolQuery["must"].([]map[string]any)
	mm := must[0]["multi_match"].(map[string]any)
	if mm["query"] != "iphone 15" {
		t.Errorf("expected query text, got %v", mm["query"])
	}
}

func TestBuildProductQuery_Filters(t *testing.T) {
	minPrice := 100.0
	maxPrice := 500.0
	inStock := true
	req := &models.SearchRequest{
		CategoryID: "electronics",
		MinPrice:   &minPrice,
		MaxPrice:   &maxPrice,
		InStock:    &inStock,
	}

	query := BuildProductQuery("laptop", req, 100)
	boolQuery := extractBool(t, query)

	filters, ok := boolQuery["filter"].([]map[string]any)
	if !ok {
		t.Fatal("expected filter clause")
	}
	if len(filters) != 3 {
		t.Fatalf("expected 3 filters, got %d", len(filters))
	}

	rangeBody := filters[1]["range"].(map[string]any)["price"].(map[string]any)
	if rangeBody["gte"] != 100.0 || rangeBody["lte"] != 500.0 {
		t.Errorf("unexpected price range: %v", rangeBody)
	}
}

func TestBuildProductQuery_SortMapping(t *testing.T) {
	tests := []struct {
		sort      string
		wantField string
		wantOrder string
	}{
		{models.SortPriceLow, "price", "asc"},
		{models.SortPriceHigh, "price", "desc"},
		{models.SortRating, "rating", "desc"},
		{models.SortNewest, "created_at", "desc"},
	}

	for _, tt := range tests {
		t.Run(tt.sort, func(t *testing.T) {
			req := &models.SearchRequest{Sort: tt.sort}
			query := BuildProductQuery("laptop", req, 100)

			sort, ok := query["sort"].([]map[string]any)
			if !ok || len(sort) == 0 {
				t.Fatal("expected sort clause")
			}
			field, ok := sort[0][tt.wantField].(map[string]any)
			if !ok {
				t.Fatalf("expected primary sort on %s, got %v", tt.wantField, sort[0])
			}
			if field["order"] != tt.wantOrder {
				t.Errorf("expected order %s, got %v", tt.wantOrder, field["order"])
			}
		})
	}
}

func TestBuildProductQuery_RelevanceHasNoSort(t *testing.T) {
	req := &models.SearchRequest{Sort: models.SortRelevance}
	query := BuildProductQuery("laptop", req, 100)

	if _, ok := query["sort"]; ok {
		t.Error("relevance sort should use the default score order")
	}
}

func TestBuildKNNQuery(t *testing.T) {
	query := BuildKNNQuery([]float32{0.1, 0.2, 0.3}, 20)

	knn, ok := query["knn"].(map[string]any)
	if !ok {
		t.Fatal("expected knn clause")
	}
	if knn["field"] != "embedding" {
		t.Errorf("unexpected knn field: %v", knn["field"])
	}
	if knn["k"] != 20 || knn["num_candidates"] != 200 {
		t.Errorf("unexpected k/num_candidates: %v / %v", knn["k"], knn["num_candidates"])
	}
}

func extractBool(t *testing.T, query map[string]any) map[string]any {
	t.Helper()
	outer, ok := query["query"].(map[string]any)
	if !ok {
		t.Fatal("missing query clause")
	}
	boolQuery, ok := outer["bool"].(map[string]any)
	if !ok {
		t.Fatal("missing bool clause")
	}
	return boolQuery
}
