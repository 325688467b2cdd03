package search

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/shubhsaxena/discovery-engine/internal/cache"
	"github.com/shubhsaxena/discovery-engine/internal/config"
	"github.com/shubhsaxena/discovery-engine/internal/elasticsearch"
	"github.com/shubhsaxena/discovery-engine/internal/missledger"
	"github.com/shubhsaxena/discovery-engine/internal/models"
	"github.com/shubhsaxena/discovery-engine/internal/observability"
)

type fakeIndex struct {
	result    *elasticsearch.SearchResult
	err       error
	knnResult *elasticsearch.SearchResult
	knnErr    error
	calls     int
	knnCalls  int
}

func (f *fakeIndex) SearchProducts(ctx context.Context, normalized string, req *models.SearchRequest, limit int) (*elasticsearch.SearchResult, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	if f.result == nil {
		return &elasticsearch.SearchResult{}, nil
	}
	return f.result, nil
}

func (f *fakeIndex) KNNSearch(ctx context.Context, vector []float32, k int) (*elasticsearch.SearchResult, error) {
	f.knnCalls++
	if f.knnErr != nil {
		return nil, f.knnErr
	}
	if f.knnResult == nil {
		return &elasticsearch.SearchResult{}, nil
	}
	return f.knnResult, nil
}

type fakeCatalog struct {
	candidates    []models.Product
	candidatesErr error
	ordered       []models.Product
	orderedTotal  int64
	orderedErr    error
	topProducts   []models.Product
	categories    []models.Category
	byID          map[string]models.Product
	queryCalls    int
	orderedCalls  int
	lastOffset    int
	lastLimit     int
}

func (f *fakeCatalog) QueryCandidates(ctx context.Context, keywords []string, req *models.SearchRequest, limit int) ([]models.Product, error) {
	f.queryCalls++
	return f.candidates, f.candidatesErr
}

func (f *fakeCatalog) QueryOrdered(ctx context.Context, keywords []string, req *models.SearchRequest, offset, limit int) ([]models.Product, int64, error) {
	f.orderedCalls++
	f.lastOffset = offset
	f.lastLimit = limit
	if f.orderedErr != nil {
		return nil, 0, f.orderedErr
	}
	page := f.ordered
	if offset >= len(page) {
		page = nil
	} else {
		page = page[offset:]
	}
	if len(page) > limit {
		page = page[:limit]
	}
	return page, f.orderedTotal, nil
}

func (f *fakeCatalog) GetProducts(ctx context.Context, ids []string) ([]models.Product, error) {
	var out []models.Product
	for _, id := range ids {
		if p, ok := f.byID[id]; ok {
			out = append(out, p)
		}
	}
	return out, nil
}

func (f *fakeCatalog) TopByCategory(ctx context.Context, categoryID string, limit int) ([]models.Product, error) {
	return f.topProducts, nil
}

func (f *fakeCatalog) ListCategories(ctx context.Context) ([]models.Category, error) {
	return f.categories, nil
}

type fakeCache struct {
	stored   map[string]*models.SearchResponse
	setCalls int
}

func (f *fakeCache) key(normalized string, req *models.SearchRequest) string {
	return cache.BuildSearchKey(normalized, req)
}

func (f *fakeCache) GetSearchResults(ctx context.Context, normalized string, req *models.SearchRequest) (*models.SearchResponse, error) {
	if f.stored == nil {
		return nil, nil
	}
	return f.stored[f.key(normalized, req)], nil
}

func (f *fakeCache) SetSearchResults(ctx context.Context, normalized string, req *models.SearchRequest, resp *models.SearchResponse) error {
	f.setCalls++
	if f.stored == nil {
		f.stored = make(map[string]*models.SearchResponse)
	}
	f.stored[f.key(normalized, req)] = resp
	return nil
}

type fakeTrending struct {
	recorded []string
	scores   []models.TrendingScore
}

func (f *fakeTrending) Record(ctx context.Context, normalized, region string) {
	f.recorded = append(f.recorded, normalized)
}

func (f *fakeTrending) GetTrending(ctx context.Context, region, window string, limit int) ([]models.TrendingScore, error) {
	return f.scores, nil
}

type fakeMisses struct {
	recorded []missledger.Miss
}

func (f *fakeMisses) Record(ctx context.Context, miss missledger.Miss) error {
	f.recorded = append(f.recorded, miss)
	return nil
}

type fakeRecommender struct {
	enabled bool
	ids     []string
}

func (f *fakeRecommender) Enabled() bool { return f.enabled }

func (f *fakeRecommender) ForUser(ctx context.Context, userID string, limit int) ([]string, error) {
	return f.ids, nil
}

type fakeEmbedder struct {
	enabled bool
	vector  []float32
	calls   int
}

func (f *fakeEmbedder) Enabled() bool { return f.enabled }

func (f *fakeEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	f.calls++
	return f.vector, nil
}

// syncSubmitter runs detached work inline so tests can assert on its
// effects without sleeping.
type syncSubmitter struct{}

func (syncSubmitter) Submit(name string, fn func(ctx context.Context) error) bool {
	_ = fn(context.Background())
	return true
}

type orchestratorFixture struct {
	orch        *Orchestrator
	index       *fakeIndex
	catalog     *fakeCatalog
	cache       *fakeCache
	trending    *fakeTrending
	misses      *fakeMisses
	recommender *fakeRecommender
	embedder    *fakeEmbedder
}

func newFixture() *orchestratorFixture {
	f := &orchestratorFixture{
		index:       &fakeIndex{},
		catalog:     &fakeCatalog{},
		cache:       &fakeCache{},
		trending:    &fakeTrending{},
		misses:      &fakeMisses{},
		recommender: &fakeRecommender{},
		embedder:    &fakeEmbedder{},
	}

	cfg := config.SearchConfig{
		DefaultPageSize: 20,
		MaxPageSize:     100,
		CandidateLimit:  100,
		QueryTimeout:    200 * time.Millisecond,
	}
	slow := observability.NewSlowQueryDetector(time.Second, 5*time.Second, zap.NewNop())

	f.orch = New(
		f.index, f.catalog, f.cache, f.trending, f.misses,
		f.recommender, f.embedder, syncSubmitter{}, slow, cfg, zap.NewNop(),
	)
	return f
}

func indexHits(titles ...string) *elasticsearch.SearchResult {
	result := &elasticsearch.SearchResult{Total: int64(len(titles))}
	for i, title := range titles {
		result.Hits = append(result.Hits, models.ScoredProduct{
			Product: models.Product{ID: title, Title: title},
			Score:   float64(100 - i),
		})
	}
	return result
}

func TestSearch_IndexPath(t *testing.T) {
	f := newFixture()
	f.index.result = indexHits("iPhone 15", "iPhone 15 Pro")

	resp, err := f.orch.Search(context.Background(), &models.SearchRequest{Query: "iphone"})
	if err != nil {
		t.Fatal(err)
	}

	if resp.Meta.Source != string(models.SourceIndex) {
		t.Errorf("expected index source, got %s", resp.Meta.Source)
	}
	for _, p := range resp.Data {
		if p.Source != models.SourceIndex {
			t.Errorf("hit %s not tagged with index source", p.ID)
		}
	}
	if f.catalog.queryCalls != 0 {
		t.Error("store should not be queried when the index answers")
	}
	if f.cache.setCalls != 1 {
		t.Errorf("successful index response should be cached, setCalls = %d", f.cache.setCalls)
	}
	if len(f.trending.recorded) != 1 || f.trending.recorded[0] != "iphone" {
		t.Errorf("trending not recorded: %v", f.trending.recorded)
	}
}

func TestSearch_CacheHitSkipsBackendsButRecordsTrending(t *testing.T) {
	f := newFixture()
	f.index.result = indexHits("iPhone 15")

	req := &models.SearchRequest{Query: "iphone"}
	first, err := f.orch.Search(context.Background(), req)
	if err != nil {
		t.Fatal(err)
	}
	if first.Meta.CacheHit {
		t.Error("first request should not be a cache hit")
	}

	second, err := f.orch.Search(context.Background(), &models.SearchRequest{Query: "iphone"})
	if err != nil {
		t.Fatal(err)
	}

	if !second.Meta.CacheHit {
		t.Error("second request should be served from cache")
	}
	if f.index.calls != 1 {
		t.Errorf("index queried %d times, cache hit should not reach it", f.index.calls)
	}
	if len(f.trending.recorded) != 2 {
		t.Errorf("cache hits must still record trending, got %d records", len(f.trending.recorded))
	}
}

func TestSearch_CacheHitPayloadUnchanged(t *testing.T) {
	f := newFixture()
	f.index.result = indexHits("iPhone 15")

	first, err := f.orch.Search(context.Background(), &models.SearchRequest{Query: "iphone", RequestID: "req-1"})
	if err != nil {
		t.Fatal(err)
	}
	if first.Meta.CacheHit {
		t.Error("first response must be computed")
	}
	if first.Meta.RequestID != "req-1" {
		t.Errorf("computed response keeps its request id, got %q", first.Meta.RequestID)
	}

	second, err := f.orch.Search(context.Background(), &models.SearchRequest{Query: "iphone", RequestID: "req-2"})
	if err != nil {
		t.Fatal(err)
	}
	third, err := f.orch.Search(context.Background(), &models.SearchRequest{Query: "iphone", RequestID: "req-3"})
	if err != nil {
		t.Fatal(err)
	}

	if !second.Meta.CacheHit {
		t.Error("repeat must serve the stored payload")
	}
	if second.Meta.RequestID != "" {
		t.Errorf("stored payload carries no requester id, got %q", second.Meta.RequestID)
	}
	if !reflect.DeepEqual(second, third) {
		t.Error("repeated hits must return the payload unchanged")
	}
}

func TestSearch_IndexFailureFallsBackToStore(t *testing.T) {
	f := newFixture()
	f.index.err = errors.New("breaker open")
	f.catalog.candidates = []models.Product{
		{ID: "p1", Title: "iphone 15", Stock: 20, PopularityScore: 50},
		{ID: "p2", Title: "Phone Cover", Tags: []string{"iphone"}, Stock: 20},
	}

	resp, err := f.orch.Search(context.Background(), &models.SearchRequest{Query: "iphone"})
	if err != nil {
		t.Fatal(err)
	}

	if resp.Meta.Source != string(models.SourceStore) {
		t.Errorf("expected store source, got %s", resp.Meta.Source)
	}
	if len(resp.Data) != 2 {
		t.Fatalf("expected 2 results, got %d", len(resp.Data))
	}
	if resp.Data[0].ID != "p1" {
		t.Errorf("title match should outrank tag match, got %s first", resp.Data[0].ID)
	}
	if f.cache.setCalls != 1 {
		t.Error("store responses should be cached")
	}
}

func TestSearch_StoreExplicitSortPushedToStore(t *testing.T) {
	f := newFixture()
	f.index.err = errors.New("unavailable")

	// More matches than the relevance candidate cap; the store hands
	// back pre-ordered pages, cheapest priced 99.
	var all []models.Product
	for i := 0; i <= 100; i++ {
		all = append(all, models.Product{
			ID:    fmt.Sprintf("p%d", i),
			Title: "iphone",
			Price: float64(99 + i),
		})
	}
	f.catalog.ordered = all
	f.catalog.orderedTotal = int64(len(all))

	resp, err := f.orch.Search(context.Background(), &models.SearchRequest{Query: "iphone", Sort: models.SortPriceLow})
	if err != nil {
		t.Fatal(err)
	}

	if f.catalog.orderedCalls != 1 {
		t.Fatal("explicit sort must run as an ordered store query")
	}
	if f.catalog.queryCalls != 0 {
		t.Error("candidate scan should not run when the store orders the page")
	}
	if f.catalog.lastOffset != 0 || f.catalog.lastLimit != 20 {
		t.Errorf("expected offset 0 limit 20, got %d/%d", f.catalog.lastOffset, f.catalog.lastLimit)
	}
	if len(resp.Data) != 20 {
		t.Fatalf("expected a full page, got %d", len(resp.Data))
	}
	if resp.Data[0].Price != 99 {
		t.Errorf("page 1 must start at the overall cheapest, got %v", resp.Data[0].Price)
	}
	if resp.Meta.Total != 101 {
		t.Errorf("total must count all matches, got %d", resp.Meta.Total)
	}
	if f.embedder.calls != 0 {
		t.Error("embedder must not run on a served store response")
	}

	page2, err := f.orch.Search(context.Background(), &models.SearchRequest{Query: "iphone", Sort: models.SortPriceLow, Page: 2})
	if err != nil {
		t.Fatal(err)
	}
	if f.catalog.lastOffset != 20 {
		t.Errorf("page 2 must query offset 20, got %d", f.catalog.lastOffset)
	}
	if page2.Data[0].Price != 119 {
		t.Errorf("page 2 must continue the store order, got %v", page2.Data[0].Price)
	}
}

func TestSearch_PriceBoundedRatingSortScansCandidates(t *testing.T) {
	f := newFixture()
	f.index.err = errors.New("unavailable")
	minPrice := 100.0
	f.catalog.candidates = []models.Product{
		{ID: "low", Title: "iphone", Rating: 3.0, Price: 500},
		{ID: "high", Title: "iphone pro", Rating: 4.8, Price: 900},
	}

	resp, err := f.orch.Search(context.Background(), &models.SearchRequest{
		Query: "iphone", Sort: models.SortRating, MinPrice: &minPrice,
	})
	if err != nil {
		t.Fatal(err)
	}

	if f.catalog.orderedCalls != 0 {
		t.Error("price bounds cannot combine with a rating order-by in the store")
	}
	if resp.Data[0].ID != "high" {
		t.Errorf("rating sort should put high first, got %s", resp.Data[0].ID)
	}
}

func TestSearch_OrderedQueryFailureDegradesToCandidateScan(t *testing.T) {
	f := newFixture()
	f.index.err = errors.New("unavailable")
	f.catalog.orderedErr = errors.New("missing composite index")
	f.catalog.candidates = []models.Product{
		{ID: "expensive", Title: "iphone pro", Price: 900},
		{ID: "cheap", Title: "iphone mini", Price: 400},
	}

	resp, err := f.orch.Search(context.Background(), &models.SearchRequest{Query: "iphone", Sort: models.SortPriceLow})
	if err != nil {
		t.Fatal(err)
	}
	if f.catalog.queryCalls != 1 {
		t.Error("ordered failure should degrade to the candidate scan")
	}
	if resp.Data[0].ID != "cheap" {
		t.Errorf("degraded path still sorts, got %s first", resp.Data[0].ID)
	}
}

func TestSearch_MissLogsLedgerAndFallsBackToCategory(t *testing.T) {
	f := newFixture()
	f.catalog.categories = []models.Category{{ID: "c1", Name: "Smartphones"}}
	f.catalog.topProducts = []models.Product{{ID: "top1", Title: "Galaxy S24"}}

	resp, err := f.orch.Search(context.Background(), &models.SearchRequest{Query: "iphone 99 ultra"})
	if err != nil {
		t.Fatal(err)
	}

	if resp.Meta.Fallback != "category" {
		t.Errorf("expected category fallback, got %q", resp.Meta.Fallback)
	}
	if resp.Meta.SuggestedCategory != "Smartphones" {
		t.Errorf("expected suggested category, got %q", resp.Meta.SuggestedCategory)
	}
	if len(f.misses.recorded) != 1 {
		t.Fatalf("expected 1 miss, got %d", len(f.misses.recorded))
	}
	miss := f.misses.recorded[0]
	if miss.Normalized != "iphone 99 ultra" {
		t.Errorf("unexpected normalized miss query %q", miss.Normalized)
	}
	if miss.CategoryID != "c1" {
		t.Errorf("inferred category should ride on the miss, got %q", miss.CategoryID)
	}
	if f.cache.setCalls != 0 {
		t.Error("fallback responses must never be cached")
	}
}

func TestSearch_SemanticFallbackOnlyOnRelevanceSort(t *testing.T) {
	f := newFixture()
	f.embedder.enabled = true
	f.embedder.vector = []float32{0.1, 0.2}
	f.index.knnResult = indexHits("Semantic Hit")

	resp, err := f.orch.Search(context.Background(), &models.SearchRequest{Query: "cozy winter thing"})
	if err != nil {
		t.Fatal(err)
	}
	if resp.Meta.Fallback != "semantic" {
		t.Fatalf("expected semantic fallback, got %q", resp.Meta.Fallback)
	}
	if resp.Data[0].Source != models.SourceSemantic {
		t.Error("semantic hits should be tagged with semantic source")
	}
	if f.cache.setCalls != 0 {
		t.Error("semantic responses must never be cached")
	}

	// An explicit sort order promises an ordering semantic retrieval
	// cannot honor, so the stage must be skipped.
	f2 := newFixture()
	f2.embedder.enabled = true
	f2.embedder.vector = []float32{0.1}
	f2.index.knnResult = indexHits("Semantic Hit")

	resp2, err := f2.orch.Search(context.Background(), &models.SearchRequest{Query: "cozy winter thing", Sort: models.SortPriceLow})
	if err != nil {
		t.Fatal(err)
	}
	if resp2.Meta.Fallback != "empty" {
		t.Errorf("semantic should be skipped on explicit sort, got fallback %q", resp2.Meta.Fallback)
	}
	if f2.embedder.calls != 0 {
		t.Error("embedder should not run on explicit sort")
	}
}

func TestSearch_RecommendationFallback(t *testing.T) {
	f := newFixture()
	f.recommender.enabled = true
	f.recommender.ids = []string{"r1", "r2"}
	f.catalog.byID = map[string]models.Product{
		"r1": {ID: "r1", Title: "Pick One"},
		"r2": {ID: "r2", Title: "Pick Two"},
	}

	resp, err := f.orch.Search(context.Background(), &models.SearchRequest{Query: "nonexistent gadget"})
	if err != nil {
		t.Fatal(err)
	}
	if resp.Meta.Fallback != "recommendations" {
		t.Errorf("expected recommendations fallback, got %q", resp.Meta.Fallback)
	}
	if len(resp.Data) != 2 {
		t.Errorf("expected 2 hydrated products, got %d", len(resp.Data))
	}
}

func TestSearch_EmptyResponseCarriesTrendingSuggestions(t *testing.T) {
	f := newFixture()
	f.trending.scores = []models.TrendingScore{
		{Query: "iphone 15"}, {Query: "running shoes"}, {Query: "laptop"},
	}

	resp, err := f.orch.Search(context.Background(), &models.SearchRequest{Query: "qqqq zzzz"})
	if err != nil {
		t.Fatal(err)
	}

	if resp.Meta.Fallback != "empty" {
		t.Fatalf("expected empty fallback, got %q", resp.Meta.Fallback)
	}
	if len(resp.Data) != 0 {
		t.Errorf("empty response should carry no products, got %d", len(resp.Data))
	}
	if len(resp.Meta.Suggestions) != 3 {
		t.Errorf("expected 3 trending suggestions, got %v", resp.Meta.Suggestions)
	}
	if resp.Meta.Message == "" {
		t.Error("empty response should carry a user-facing message")
	}
	if f.cache.setCalls != 0 {
		t.Error("empty responses must never be cached")
	}
}

func TestClampRequest(t *testing.T) {
	f := newFixture()

	req := &models.SearchRequest{Query: "x", Page: 0, Limit: 0, Sort: "bogus", RegionHint: "Bangalore Urban!!"}
	f.orch.clampRequest(req)

	if req.Page != 1 {
		t.Errorf("page clamped to %d, want 1", req.Page)
	}
	if req.Limit != 20 {
		t.Errorf("limit defaulted to %d, want 20", req.Limit)
	}
	if req.Sort != models.SortRelevance {
		t.Errorf("invalid sort should fall back to relevance, got %q", req.Sort)
	}
	if req.Region == "" {
		t.Error("region should be resolved from the hint")
	}

	over := &models.SearchRequest{Query: "x", Limit: 500}
	f.orch.clampRequest(over)
	if over.Limit != 100 {
		t.Errorf("limit capped to %d, want 100", over.Limit)
	}
}

func TestCacheable(t *testing.T) {
	tests := []struct {
		name string
		resp models.SearchResponse
		want bool
	}{
		{
			"index response with data",
			models.SearchResponse{
				Data: []models.ScoredProduct{{}},
				Meta: models.SearchMeta{Source: string(models.SourceIndex)},
			},
			true,
		},
		{
			"store response with data",
			models.SearchResponse{
				Data: []models.ScoredProduct{{}},
				Meta: models.SearchMeta{Source: string(models.SourceStore)},
			},
			true,
		},
		{
			"fallback never cached",
			models.SearchResponse{
				Data: []models.ScoredProduct{{}},
				Meta: models.SearchMeta{Source: string(models.SourceSemantic), Fallback: "semantic"},
			},
			false,
		},
		{
			"empty data never cached",
			models.SearchResponse{
				Data: nil,
				Meta: models.SearchMeta{Source: string(models.SourceIndex)},
			},
			false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := cacheable(&tt.resp); got != tt.want {
				t.Errorf("cacheable = %v, want %v", got, tt.want)
			}
		})
	}
}
