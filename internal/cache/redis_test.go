package cache

import (
	"strings"
	"testing"

	"github.com/shubhsaxena/discovery-engine/internal/models"
)

func TestHashString(t *testing.T) {
	// Deterministic
	h1 := hashString("test")
	h2 := hashString("test")
	if h1 != h2 {
		t.Errorf("hashString not deterministic: %q != %q", h1, h2)
	}

	// Different inputs produce different hashes
	h3 := hashString("other")
	if h1 == h3 {
		t.Error("different inputs should produce different hashes")
	}

	// Empty string is valid
	if hashString("") == "" {
		t.Error("hash of empty string should not be empty")
	}
}

func fptr(v float64) *float64 { return &v }
func bptr(v bool) *bool       { return &v }

func TestBuildSearchKey_Deterministic(t *testing.T) {
	req := &models.SearchRequest{
		Query: "laptop",
		Page:  1,
		Limit: 20,
		Sort:  models.SortRelevance,
	}

	k1 := BuildSearchKey("laptop", req)
	k2 := BuildSearchKey("laptop", req)
	if k1 != k2 {
		t.Errorf("BuildSearchKey not deterministic: %q != %q", k1, k2)
	}
	if !strings.HasPrefix(k1, "sr:") {
		t.Errorf("expected 'sr:' prefix, got %q", k1)
	}
}

func TestBuildSearchKey_DifferentQueriesProduceDifferentKeys(t *testing.T) {
	req := &models.SearchRequest{Limit: 20}

	k1 := BuildSearchKey("laptop", req)
	k2 := BuildSearchKey("desktop", req)
	if k1 == k2 {
		t.Error("different queries should produce different keys")
	}
}

func TestBuildSearchKey_DifferentPagesProduceDifferentKeys(t *testing.T) {
	req1 := &models.SearchRequest{Page: 1, Limit: 20}
	req2 := &models.SearchRequest{Page: 2, Limit: 20}

	if BuildSearchKey("laptop", req1) == BuildSearchKey("laptop", req2) {
		t.Error("different pages should produce different keys")
	}
}

func TestBuildSearchKey_FiltersAffectKey(t *testing.T) {
	base := &models.SearchRequest{Limit: 20}

	variants := []*models.SearchRequest{
		{Limit: 20, CategoryID: "electronics"},
		{Limit: 20, MinPrice: fptr(100)},
		{Limit: 20, MaxPrice: fptr(500)},
		{Limit: 20, InStock: bptr(true)},
		{Limit: 20, Sort: models.SortPriceLow},
	}

	baseKey := BuildSearchKey("laptop", base)
	for i, v := range variants {
		if BuildSearchKey("laptop", v) == baseKey {
			t.Errorf("variant %d should produce a different key", i)
		}
	}
}

func TestBuildSearchKey_NilAndZeroPriceDiffer(t *testing.T) {
	req1 := &models.SearchRequest{Limit: 20}
	req2 := &models.SearchRequest{Limit: 20, MinPrice: fptr(0)}

	if BuildSearchKey("laptop", req1) == BuildSearchKey("laptop", req2) {
		t.Error("absent and explicit zero min price should produce different keys")
	}
}

func TestCounterKey(t *testing.T) {
	key := counterKey("pin:560001", "24h")
	if key != "tc:pin:560001:24h" {
		t.Errorf("unexpected counter key %q", key)
	}
}

func TestSuggestionKey_RegionScoped(t *testing.T) {
	k1 := suggestionKey("lap", "global")
	k2 := suggestionKey("lap", "pin:560001")
	if k1 == k2 {
		t.Error("suggestion keys should be region scoped")
	}
}
