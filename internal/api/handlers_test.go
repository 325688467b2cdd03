package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/shubhsaxena/discovery-engine/internal/models"
)

type stubSearcher struct {
	resp    *models.SearchResponse
	err     error
	lastReq *models.SearchRequest
}

func (s *stubSearcher) Search(ctx context.Context, req *models.SearchRequest) (*models.SearchResponse, error) {
	s.lastReq = req
	if s.err != nil {
		return nil, s.err
	}
	if s.resp == nil {
		return &models.SearchResponse{Data: []models.ScoredProduct{}}, nil
	}
	return s.resp, nil
}

type stubSuggester struct {
	suggestions []models.Suggestion
	err         error
}

func (s *stubSuggester) Suggest(ctx context.Context, prefix, region string, limit int) ([]models.Suggestion, error) {
	return s.suggestions, s.err
}

type stubTrending struct {
	scores []models.TrendingScore
	err    error
}

func (s *stubTrending) GetTrending(ctx context.Context, region, window string, limit int) ([]models.TrendingScore, error) {
	return s.scores, s.err
}

func (s *stubTrending) GetTrendingWithDelta(ctx context.Context, region string, limit int) ([]models.TrendingScore, error) {
	return s.scores, s.err
}

type stubMissAdmin struct {
	analytics  *models.MissAnalytics
	resolveErr error
	resolved   [][2]string
}

func (s *stubMissAdmin) Analytics(ctx context.Context, period time.Duration, topN int) (*models.MissAnalytics, error) {
	if s.analytics == nil {
		return &models.MissAnalytics{}, nil
	}
	return s.analytics, nil
}

func (s *stubMissAdmin) Resolve(ctx context.Context, missID, productID string) error {
	s.resolved = append(s.resolved, [2]string{missID, productID})
	return s.resolveErr
}

type stubCatalog struct {
	products []models.Product
}

func (s *stubCatalog) QueryCandidates(ctx context.Context, keywords []string, req *models.SearchRequest, limit int) ([]models.Product, error) {
	return s.products, nil
}

type handlerFixture struct {
	handler  *Handler
	searcher *stubSearcher
	trending *stubTrending
	misses   *stubMissAdmin
	catalog  *stubCatalog
}

func newHandlerFixture() *handlerFixture {
	f := &handlerFixture{
		searcher: &stubSearcher{},
		trending: &stubTrending{},
		misses:   &stubMissAdmin{},
		catalog:  &stubCatalog{},
	}
	f.handler = NewHandler(f.searcher, &stubSuggester{}, f.trending, f.misses, f.catalog, zap.NewNop())
	return f
}

func TestParseSearchRequest_GET(t *testing.T) {
	f := newHandlerFixture()

	req := httptest.NewRequest(http.MethodGet,
		"/search?q=laptop&page=2&limit=30&sort=newest&user_id=u123&category_id=c9&min_price=100&max_price=900&in_stock=true&pincode=560001&region=bangalore", nil)

	sr, err := f.handler.parseSearchRequest(req)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if sr.Query != "laptop" {
		t.Errorf("expected query 'laptop', got %q", sr.Query)
	}
	if sr.Page != 2 || sr.Limit != 30 {
		t.Errorf("expected page 2 limit 30, got %d/%d", sr.Page, sr.Limit)
	}
	if sr.Sort != "newest" || sr.UserID != "u123" || sr.CategoryID != "c9" {
		t.Errorf("sort/user/category parsed wrong: %+v", sr)
	}
	if sr.MinPrice == nil || *sr.MinPrice != 100 {
		t.Errorf("min_price not parsed: %v", sr.MinPrice)
	}
	if sr.MaxPrice == nil || *sr.MaxPrice != 900 {
		t.Errorf("max_price not parsed: %v", sr.MaxPrice)
	}
	if sr.InStock == nil || !*sr.InStock {
		t.Errorf("in_stock not parsed: %v", sr.InStock)
	}
	if sr.Pincode != "560001" || sr.RegionHint != "bangalore" {
		t.Errorf("region inputs parsed wrong: %+v", sr)
	}
}

func TestParseSearchRequest_GET_Coordinates(t *testing.T) {
	f := newHandlerFixture()

	req := httptest.NewRequest(http.MethodGet, "/search?q=laptop&lat=12.97&lng=77.59", nil)
	sr, err := f.handler.parseSearchRequest(req)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if sr.Lat == nil || sr.Lng == nil {
		t.Fatal("coordinates not parsed")
	}
	if *sr.Lat != 12.97 || *sr.Lng != 77.59 {
		t.Errorf("coordinates = %v/%v", *sr.Lat, *sr.Lng)
	}

	// A lone latitude is unusable.
	req = httptest.NewRequest(http.MethodGet, "/search?q=laptop&lat=12.97", nil)
	sr, _ = f.handler.parseSearchRequest(req)
	if sr.Lat != nil {
		t.Error("lat without lng should be ignored")
	}
}

func TestParseSearchRequest_POST(t *testing.T) {
	f := newHandlerFixture()

	body := `{"q":"wireless earbuds","sort":"price_low","limit":5,"pincode":"110001"}`
	req := httptest.NewRequest(http.MethodPost, "/search", strings.NewReader(body))

	sr, err := f.handler.parseSearchRequest(req)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if sr.Query != "wireless earbuds" || sr.Sort != "price_low" || sr.Limit != 5 || sr.Pincode != "110001" {
		t.Errorf("POST body parsed wrong: %+v", sr)
	}
}

func TestSearchHandler_MissingQuery(t *testing.T) {
	f := newHandlerFixture()

	req := httptest.NewRequest(http.MethodGet, "/api/v1/search", nil)
	rec := httptest.NewRecorder()
	f.handler.Search(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", rec.Code)
	}
	var body map[string]string
	json.NewDecoder(rec.Body).Decode(&body)
	if body["code"] != "missing_query" {
		t.Errorf("expected missing_query code, got %q", body["code"])
	}
	if f.searcher.lastReq != nil {
		t.Error("search pipeline should not run without a query")
	}
}

func TestSearchHandler_Success(t *testing.T) {
	f := newHandlerFixture()
	f.searcher.resp = &models.SearchResponse{
		Data: []models.ScoredProduct{{Product: models.Product{ID: "p1", Title: "Laptop"}}},
		Meta: models.SearchMeta{Total: 1, Source: "index"},
	}

	req := httptest.NewRequest(http.MethodGet, "/api/v1/search?q=laptop", nil)
	rec := httptest.NewRecorder()
	f.handler.Search(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var resp models.SearchResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatal(err)
	}
	if len(resp.Data) != 1 || resp.Data[0].ID != "p1" {
		t.Errorf("unexpected payload: %+v", resp)
	}
}

func TestSearchHandler_BackendError(t *testing.T) {
	f := newHandlerFixture()
	f.searcher.err = errors.New("boom")

	req := httptest.NewRequest(http.MethodGet, "/api/v1/search?q=laptop", nil)
	rec := httptest.NewRecorder()
	f.handler.Search(rec, req)

	if rec.Code != http.StatusInternalServerError {
		t.Errorf("expected 500, got %d", rec.Code)
	}
}

func TestSuggestHandler(t *testing.T) {
	f := newHandlerFixture()
	suggester := &stubSuggester{suggestions: []models.Suggestion{
		{Text: "iphone 15", Type: models.SuggestionProduct},
	}}
	f.handler = NewHandler(f.searcher, suggester, f.trending, f.misses, f.catalog, zap.NewNop())

	req := httptest.NewRequest(http.MethodGet, "/api/v1/suggest?q=iph&pincode=560001", nil)
	rec := httptest.NewRecorder()
	f.handler.Suggest(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var body struct {
		Suggestions []models.Suggestion `json:"suggestions"`
		Region      string              `json:"region"`
	}
	json.NewDecoder(rec.Body).Decode(&body)
	if len(body.Suggestions) != 1 || body.Suggestions[0].Text != "iphone 15" {
		t.Errorf("unexpected suggestions: %+v", body.Suggestions)
	}
	if body.Region != "pin:560001" {
		t.Errorf("expected pincode region, got %q", body.Region)
	}
}

func TestTrendingHandler_DefaultsToGlobal24h(t *testing.T) {
	f := newHandlerFixture()
	f.trending.scores = []models.TrendingScore{{Query: "iphone 15", Count: 10, Score: 9.5}}

	req := httptest.NewRequest(http.MethodGet, "/api/v1/trending", nil)
	rec := httptest.NewRecorder()
	f.handler.Trending(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var body struct {
		Region string `json:"region"`
		Window string `json:"window"`
	}
	json.NewDecoder(rec.Body).Decode(&body)
	if body.Region != "global" || body.Window != "24h" {
		t.Errorf("expected global/24h defaults, got %s/%s", body.Region, body.Window)
	}
}

func TestAdminTrending_AnnotatesSupply(t *testing.T) {
	f := newHandlerFixture()
	f.trending.scores = []models.TrendingScore{{Query: "iphone 15", Count: 10}}
	f.catalog.products = []models.Product{{ID: "p1"}}

	req := httptest.NewRequest(http.MethodGet, "/api/v1/admin/trending", nil)
	rec := httptest.NewRecorder()
	f.handler.AdminTrending(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var body struct {
		Trending []models.TrendingScore `json:"trending"`
	}
	json.NewDecoder(rec.Body).Decode(&body)
	if len(body.Trending) != 1 {
		t.Fatalf("expected 1 row, got %d", len(body.Trending))
	}
	if body.Trending[0].HasSupply == nil || !*body.Trending[0].HasSupply {
		t.Errorf("expected supply annotation true, got %v", body.Trending[0].HasSupply)
	}
}

func TestResolveMissHandler(t *testing.T) {
	f := newHandlerFixture()

	r := chi.NewRouter()
	r.Post("/api/v1/admin/misses/{id}/resolve", f.handler.ResolveMiss)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/admin/misses/m42/resolve",
		strings.NewReader(`{"product_id":"p7"}`))
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if len(f.misses.resolved) != 1 || f.misses.resolved[0] != [2]string{"m42", "p7"} {
		t.Errorf("resolve not forwarded: %v", f.misses.resolved)
	}
}

func TestResolveMissHandler_MissingProductID(t *testing.T) {
	f := newHandlerFixture()

	r := chi.NewRouter()
	r.Post("/api/v1/admin/misses/{id}/resolve", f.handler.ResolveMiss)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/admin/misses/m42/resolve",
		strings.NewReader(`{}`))
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", rec.Code)
	}
	if len(f.misses.resolved) != 0 {
		t.Error("resolve should not be called without a product_id")
	}
}

func TestMissAnalyticsHandler_InvalidPeriod(t *testing.T) {
	f := newHandlerFixture()

	req := httptest.NewRequest(http.MethodGet, "/api/v1/admin/misses?period=banana", nil)
	rec := httptest.NewRecorder()
	f.handler.MissAnalytics(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for invalid period, got %d", rec.Code)
	}
}
