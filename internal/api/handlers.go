package api

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/shubhsaxena/discovery-engine/internal/models"
	"github.com/shubhsaxena/discovery-engine/internal/query"
)

const (
	maxRequestBodySize = 1 << 20 // 1 MB
	maxQueryLen        = 200
	maxPrefixLen       = 100

	defaultMissPeriod = 7 * 24 * time.Hour
	defaultMissTopN   = 20
)

// Searcher runs the full search pipeline.
type Searcher interface {
	Search(ctx context.Context, req *models.SearchRequest) (*models.SearchResponse, error)
}

// Suggester assembles autocomplete suggestions for a prefix.
type Suggester interface {
	Suggest(ctx context.Context, prefix, region string, limit int) ([]models.Suggestion, error)
}

// TrendingBoard serves ranked trending queries per region and window.
type TrendingBoard interface {
	GetTrending(ctx context.Context, region, window string, limit int) ([]models.TrendingScore, error)
	GetTrendingWithDelta(ctx context.Context, region string, limit int) ([]models.TrendingScore, error)
}

// MissAdmin exposes the miss ledger to operators.
type MissAdmin interface {
	Analytics(ctx context.Context, period time.Duration, topN int) (*models.MissAnalytics, error)
	Resolve(ctx context.Context, missID, productID string) error
}

// SupplyChecker answers whether the catalog has anything for a query.
// Used to annotate the admin trending view.
type SupplyChecker interface {
	QueryCandidates(ctx context.Context, keywords []string, req *models.SearchRequest, limit int) ([]models.Product, error)
}

type Handler struct {
	search    Searcher
	suggester Suggester
	trending  TrendingBoard
	misses    MissAdmin
	catalog   SupplyChecker
	logger    *zap.Logger
}

func NewHandler(search Searcher, suggester Suggester, trending TrendingBoard, misses MissAdmin, catalog SupplyChecker, logger *zap.Logger) *Handler {
	return &Handler{
		search:    search,
		suggester: suggester,
		trending:  trending,
		misses:    misses,
		catalog:   catalog,
		logger:    logger,
	}
}

func (h *Handler) Search(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := RequestIDFromContext(ctx)

	req, err := h.parseSearchRequest(r)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	if strings.TrimSpace(req.Query) == "" {
		h.writeError(w, http.StatusBadRequest, "missing_query", "Query parameter 'q' is required")
		return
	}
	if len(req.Query) > maxQueryLen {
		req.Query = req.Query[:maxQueryLen]
	}
	req.RequestID = requestID

	resp, err := h.search.Search(ctx, req)
	if err != nil {
		h.logger.Error("search failed",
			zap.String("request_id", requestID),
			zap.String("query", req.Query),
			zap.Error(err),
		)
		h.writeError(w, http.StatusInternalServerError, "search_error", "Search service temporarily unavailable")
		return
	}

	h.writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) Suggest(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	q := r.URL.Query()

	prefix := q.Get("q")
	if len(prefix) > maxPrefixLen {
		prefix = prefix[:maxPrefixLen]
	}

	limit := parseIntParam(q.Get("limit"), 0)
	region := resolveRegionParams(q)

	suggestions, err := h.suggester.Suggest(ctx, prefix, region, limit)
	if err != nil {
		h.logger.Error("suggest failed", zap.String("prefix", prefix), zap.Error(err))
		h.writeError(w, http.StatusInternalServerError, "suggest_error", "Suggestion service temporarily unavailable")
		return
	}
	if suggestions == nil {
		suggestions = []models.Suggestion{}
	}

	h.writeJSON(w, http.StatusOK, map[string]any{
		"suggestions": suggestions,
		"region":      region,
	})
}

func (h *Handler) Trending(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	q := r.URL.Query()

	region := resolveRegionParams(q)
	window := q.Get("window")
	if window == "" {
		window = "24h"
	}
	limit := parseIntParam(q.Get("limit"), 10)

	scores, err := h.trending.GetTrending(ctx, region, window, limit)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid_window", err.Error())
		return
	}
	if scores == nil {
		scores = []models.TrendingScore{}
	}

	h.writeJSON(w, http.StatusOK, map[string]any{
		"trending": scores,
		"region":   region,
		"window":   window,
	})
}

// AdminTrending is the operator view: the 24h board with rise/fall deltas
// plus a supply annotation showing which trending queries the catalog can
// actually satisfy.
func (h *Handler) AdminTrending(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	q := r.URL.Query()

	region := resolveRegionParams(q)
	limit := parseIntParam(q.Get("limit"), 10)

	scores, err := h.trending.GetTrendingWithDelta(ctx, region, limit)
	if err != nil {
		h.logger.Error("admin trending failed", zap.Error(err))
		h.writeError(w, http.StatusInternalServerError, "trending_error", "Trending analytics unavailable")
		return
	}

	for i := range scores {
		supply := h.hasSupply(ctx, scores[i].Query)
		scores[i].HasSupply = &supply
	}

	h.writeJSON(w, http.StatusOK, map[string]any{
		"trending": scores,
		"region":   region,
	})
}

func (h *Handler) hasSupply(ctx context.Context, text string) bool {
	keywords := query.Keywords(query.Normalize(text))
	if len(keywords) == 0 {
		return false
	}
	products, err := h.catalog.QueryCandidates(ctx, keywords, &models.SearchRequest{}, 1)
	if err != nil {
		h.logger.Warn("supply check failed", zap.String("query", text), zap.Error(err))
		return false
	}
	return len(products) > 0
}

func (h *Handler) MissAnalytics(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	q := r.URL.Query()

	period := defaultMissPeriod
	if p := q.Get("period"); p != "" {
		parsed, err := time.ParseDuration(p)
		if err != nil || parsed <= 0 {
			h.writeError(w, http.StatusBadRequest, "invalid_period", "period must be a positive duration, e.g. 24h")
			return
		}
		period = parsed
	}
	topN := parseIntParam(q.Get("top"), defaultMissTopN)

	analytics, err := h.misses.Analytics(ctx, period, topN)
	if err != nil {
		h.logger.Error("miss analytics failed", zap.Error(err))
		h.writeError(w, http.StatusInternalServerError, "analytics_error", "Miss analytics unavailable")
		return
	}

	h.writeJSON(w, http.StatusOK, analytics)
}

type resolveMissRequest struct {
	ProductID string `json:"product_id"`
}

func (h *Handler) ResolveMiss(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	missID := chi.URLParam(r, "id")
	if missID == "" {
		h.writeError(w, http.StatusBadRequest, "missing_id", "Miss ID is required")
		return
	}

	var body resolveMissRequest
	limited := io.LimitReader(r.Body, maxRequestBodySize)
	if err := json.NewDecoder(limited).Decode(&body); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid_body", "Request body must be JSON with a product_id field")
		return
	}
	if body.ProductID == "" {
		h.writeError(w, http.StatusBadRequest, "missing_product_id", "product_id is required")
		return
	}

	if err := h.misses.Resolve(ctx, missID, body.ProductID); err != nil {
		h.logger.Error("miss resolution failed",
			zap.String("miss_id", missID),
			zap.String("product_id", body.ProductID),
			zap.Error(err),
		)
		h.writeError(w, http.StatusInternalServerError, "resolve_error", "Could not resolve miss")
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]string{
		"status":     "resolved",
		"miss_id":    missID,
		"product_id": body.ProductID,
	})
}

func (h *Handler) parseSearchRequest(r *http.Request) (*models.SearchRequest, error) {
	if r.Method == http.MethodPost {
		var req models.SearchRequest
		limited := io.LimitReader(r.Body, maxRequestBodySize)
		if err := json.NewDecoder(limited).Decode(&req); err != nil {
			return nil, err
		}
		return &req, nil
	}

	q := r.URL.Query()
	req := &models.SearchRequest{
		Query:      q.Get("q"),
		CategoryID: q.Get("category_id"),
		Sort:       q.Get("sort"),
		UserID:     q.Get("user_id"),
		Pincode:    q.Get("pincode"),
		RegionHint: q.Get("region"),
		Page:       parseIntParam(q.Get("page"), 0),
		Limit:      parseIntParam(q.Get("limit"), 0),
	}

	if v := q.Get("min_price"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil && f >= 0 {
			req.MinPrice = &f
		}
	}
	if v := q.Get("max_price"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil && f >= 0 {
			req.MaxPrice = &f
		}
	}
	if v := q.Get("in_stock"); v != "" {
		inStock := v == "true" || v == "1"
		req.InStock = &inStock
	}
	if lat, lng := q.Get("lat"), q.Get("lng"); lat != "" && lng != "" {
		fLat, errLat := strconv.ParseFloat(lat, 64)
		fLng, errLng := strconv.ParseFloat(lng, 64)
		if errLat == nil && errLng == nil {
			req.Lat = &fLat
			req.Lng = &fLng
		}
	}

	return req, nil
}

// resolveRegionParams derives the region bucket from the same inputs the
// search endpoint accepts.
func resolveRegionParams(q url.Values) string {
	var lat, lng *float64
	if a, b := q.Get("lat"), q.Get("lng"); a != "" && b != "" {
		fLat, errLat := strconv.ParseFloat(a, 64)
		fLng, errLng := strconv.ParseFloat(b, 64)
		if errLat == nil && errLng == nil {
			lat, lng = &fLat, &fLng
		}
	}

	return query.ResolveRegion(lat, lng, q.Get("pincode"), q.Get("region"))
}

func parseIntParam(s string, fallback int) int {
	if s == "" {
		return fallback
	}
	n, err := strconv.Atoi(s)
	if err != nil || n < 0 {
		return fallback
	}
	return n
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Error("writing json response", zap.Error(err))
	}
}

func (h *Handler) writeError(w http.ResponseWriter, status int, code, message string) {
	h.writeJSON(w, status, map[string]string{
		"error": message,
		"code":  code,
	})
}
