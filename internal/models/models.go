package models

import "time"

type Intent int

const (
	IntentExploratory Intent = iota
	IntentTransactional
)

func (i Intent) String() string {
	switch i {
	case IntentTransactional:
		return "transactional"
	case IntentExploratory:
		return "exploratory"
	default:
		return "unknown"
	}
}

// Source identifies which retrieval path produced a scored product.
type Source string

const (
	SourceIndex          Source = "index"
	SourceStore          Source = "store"
	SourceSemantic       Source = "semantic"
	SourceRecommendation Source = "recommendation"
	SourceCategory       Source = "category"
)

type Product struct {
	ID              string    `json:"id" firestore:"id"`
	Title           string    `json:"title" firestore:"title"`
	Description     string    `json:"description,omitempty" firestore:"description,omitempty"`
	Brand           string    `json:"brand,omitempty" firestore:"brand,omitempty"`
	CategoryID      string    `json:"category_id,omitempty" firestore:"category_id,omitempty"`
	CategoryName    string    `json:"category_name,omitempty" firestore:"category_name,omitempty"`
	Tags            []string  `json:"tags,omitempty" firestore:"tags,omitempty"`
	Price           float64   `json:"price" firestore:"price"`
	OriginalPrice   float64   `json:"original_price,omitempty" firestore:"original_price,omitempty"`
	Rating          float64   `json:"rating,omitempty" firestore:"rating,omitempty"`
	Stock           int       `json:"stock" firestore:"stock"`
	InStock         bool      `json:"in_stock" firestore:"in_stock"`
	PopularityScore float64   `json:"popularity_score,omitempty" firestore:"popularity_score,omitempty"`
	CreatedAt       time.Time `json:"created_at,omitempty" firestore:"created_at,omitempty"`

	// Denormalized lookup fields maintained by the indexing pipeline.
	// Never serialized in API responses.
	TitleLower string   `json:"-" firestore:"title_lower,omitempty"`
	Keywords   []string `json:"-" firestore:"keywords,omitempty"`
}

// DiscountPercent returns the discount relative to the original price,
// capped at 100.
func (p Product) DiscountPercent() float64 {
	if p.OriginalPrice <= 0 || p.Price >= p.OriginalPrice {
		return 0
	}
	pct := (p.OriginalPrice - p.Price) / p.OriginalPrice * 100
	if pct > 100 {
		return 100
	}
	return pct
}

// ScoredProduct is a catalog product annotated with a per-request relevance
// score. It is never persisted.
type ScoredProduct struct {
	Product
	Score  float64 `json:"score"`
	Source Source  `json:"source"`
}

type Category struct {
	ID        string `json:"id" firestore:"id"`
	Name      string `json:"name" firestore:"name"`
	NameLower string `json:"-" firestore:"name_lower,omitempty"`
}

type SearchRequest struct {
	Query      string   `json:"q"`
	CategoryID string   `json:"category_id,omitempty"`
	MinPrice   *float64 `json:"min_price,omitempty"`
	MaxPrice   *float64 `json:"max_price,omitempty"`
	InStock    *bool    `json:"in_stock,omitempty"`
	Sort       string   `json:"sort,omitempty"`
	Page       int      `json:"page"`
	Limit      int      `json:"limit"`
	UserID     string   `json:"user_id,omitempty"`

	// Region derivation inputs, resolved in priority order by the region
	// resolver before the orchestrator runs.
	Lat        *float64 `json:"lat,omitempty"`
	Lng        *float64 `json:"lng,omitempty"`
	Pincode    string   `json:"pincode,omitempty"`
	RegionHint string   `json:"region,omitempty"`

	Region    string `json:"-"`
	RequestID string `json:"-"`
}

// Sort options. Each non-relevance option maps to one deterministic
// order-by on the durable store.
const (
	SortRelevance = "relevance"
	SortPriceLow  = "price_low"
	SortPriceHigh = "price_high"
	SortRating    = "rating"
	SortNewest    = "newest"
)

func ValidSort(sort string) bool {
	switch sort {
	case "", SortRelevance, SortPriceLow, SortPriceHigh, SortRating, SortNewest:
		return true
	}
	return false
}

type SearchMeta struct {
	Total             int64    `json:"total"`
	Page              int      `json:"page"`
	LastPage          int      `json:"last_page"`
	Intent            string   `json:"intent,omitempty"`
	Confidence        float64  `json:"confidence,omitempty"`
	Source            string   `json:"source,omitempty"`
	Fallback          string   `json:"fallback,omitempty"`
	SuggestedCategory string   `json:"suggested_category,omitempty"`
	Message           string   `json:"message,omitempty"`
	OriginalQuery     string   `json:"original_query,omitempty"`
	Suggestions       []string `json:"suggestions,omitempty"`
	CacheHit          bool     `json:"cache_hit"`
	TookMs            int64    `json:"took_ms"`
	RequestID         string   `json:"request_id,omitempty"`
}

type SearchResponse struct {
	Data []ScoredProduct `json:"data"`
	Meta SearchMeta      `json:"meta"`
}

// SearchMiss is one distinct (normalized query, time window) zero-result
// event. Within a rolling dedup window at most one live record exists per
// normalized query.
type SearchMiss struct {
	ID                string    `json:"id" firestore:"-"`
	Query             string    `json:"query" firestore:"query"`
	Normalized        string    `json:"normalized" firestore:"normalized"`
	UserID            string    `json:"user_id,omitempty" firestore:"user_id,omitempty"`
	Region            string    `json:"region" firestore:"region"`
	Count             int64     `json:"count" firestore:"count"`
	Keywords          []string  `json:"keywords,omitempty" firestore:"keywords"`
	CategoryID        string    `json:"category_id,omitempty" firestore:"category_id,omitempty"`
	CategoryName      string    `json:"category_name,omitempty" firestore:"category_name,omitempty"`
	Resolved          bool      `json:"resolved" firestore:"resolved"`
	ResolvedProductID string    `json:"resolved_product_id,omitempty" firestore:"resolved_product_id,omitempty"`
	LastSeen          time.Time `json:"last_seen" firestore:"last_seen"`
	CreatedAt         time.Time `json:"created_at" firestore:"created_at"`
}

// TrendingEntry is the durable popularity aggregate for a (query, region)
// pair. The fast window counters reconcile into this eventually.
type TrendingEntry struct {
	Query    string    `json:"query"`
	Region   string    `json:"region"`
	Count    int64     `json:"count"`
	LastSeen time.Time `json:"last_seen"`
}

// TrendingScore is a ranked trending row as returned to callers, with the
// window decay multiplier already applied to Score.
type TrendingScore struct {
	Query         string   `json:"query"`
	Count         int64    `json:"count"`
	Score         float64  `json:"score"`
	Trend         string   `json:"trend,omitempty"`
	ChangePercent *float64 `json:"change_percent,omitempty"`
	HasSupply     *bool    `json:"has_supply,omitempty"`
}

// Suggestion is one autocomplete row. The merge-time priority lives on
// SuggestionCandidate and is stripped before the response is returned.
type Suggestion struct {
	Text     string `json:"text"`
	Type     string `json:"type"`
	Category string `json:"category,omitempty"`
	Brand    string `json:"brand,omitempty"`
}

const (
	SuggestionProduct  = "product"
	SuggestionCategory = "category"
	SuggestionTrending = "trending"
	SuggestionPopular  = "popular"
)

type SuggestionCandidate struct {
	Suggestion
	Priority float64 `json:"-"`
}

// ChangeEvent is one catalog mutation pushed by the external dispatcher
// onto the change topic. Version is the dispatcher's monotonic revision
// for the product; the processor drops events that arrive out of order.
type ChangeEvent struct {
	Type      string    `json:"type"` // CREATE, UPDATE, DELETE
	ProductID string    `json:"product_id"`
	Product   *Product  `json:"product,omitempty"`
	Timestamp time.Time `json:"timestamp"`
	Version   int64     `json:"version"`
}

type IndexAction struct {
	Action    string    `json:"action"` // index, delete
	Index     string    `json:"index"`
	ID        string    `json:"id"`
	Body      any       `json:"body,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// MissAnalytics is the admin view over the miss ledger.
type MissAnalytics struct {
	TopMisses  []SearchMiss  `json:"top_misses"`
	DemandGaps []DemandGap   `json:"demand_gaps"`
	Summary    MissSummary   `json:"summary"`
	Period     time.Duration `json:"-"`
}

type DemandGap struct {
	CategoryID         string  `json:"category_id,omitempty"`
	CategoryName       string  `json:"category_name"`
	MissCount          int64   `json:"miss_count"`
	RevenueOpportunity float64 `json:"revenue_opportunity"`
}

type MissSummary struct {
	TotalMisses    int64   `json:"total_misses"`
	UniqueQueries  int64   `json:"unique_queries"`
	ResolvedCount  int64   `json:"resolved_count"`
	ResolutionRate float64 `json:"resolution_rate"`
}
