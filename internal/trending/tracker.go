package trending

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/shubhsaxena/discovery-engine/internal/config"
	"github.com/shubhsaxena/discovery-engine/internal/models"
	"github.com/shubhsaxena/discovery-engine/internal/observability"
	"github.com/shubhsaxena/discovery-engine/internal/query"
)

// Trending windows. Every increment lands in both so period switches
// never wait for counters to warm up.
const (
	Window24h = "24h"
	Window7d  = "7d"
)

// Decay multipliers flatten raw counts so a stale burst does not pin the
// board. The longer window decays harder.
const (
	decay24h = 0.95
	decay7d  = 0.85
)

// stableBand is the relative change, in percent, within which a query is
// reported as stable rather than up or down.
const stableBand = 5.0

// Counters is the fast window-counter surface backed by Redis sorted
// sets.
type Counters interface {
	IncrementCounter(ctx context.Context, region, window, q string, windowLen time.Duration) error
	TopCounters(ctx context.Context, region, window string, limit int) ([]models.TrendingEntry, error)
	GetTrending(ctx context.Context, region, period string) ([]models.TrendingScore, error)
	SetTrending(ctx context.Context, region, period string, scores []models.TrendingScore) error
}

// Store is the durable aggregate behind the counters. It only needs to
// answer windowed questions, so it can be append-only.
type Store interface {
	Increment(ctx context.Context, q, region string, at time.Time) error
	TopN(ctx context.Context, region string, from, to time.Time, limit int) ([]models.TrendingEntry, error)
	SnapshotCount(ctx context.Context, q, region string, from, to time.Time) (int64, error)
	PurgeBefore(ctx context.Context, cutoff time.Time) error
}

// Submitter detaches slow side effects from the request path.
type Submitter interface {
	Submit(name string, fn func(ctx context.Context) error) bool
}

type Tracker struct {
	counters Counters
	store    Store
	tasks    Submitter
	cfg      config.TrendingConfig
	logger   *zap.Logger
}

func NewTracker(counters Counters, store Store, tasks Submitter, cfg config.TrendingConfig, logger *zap.Logger) *Tracker {
	return &Tracker{
		counters: counters,
		store:    store,
		tasks:    tasks,
		cfg:      cfg,
		logger:   logger,
	}
}

// Record counts one search occurrence for both windows in the caller's
// region and the global mirror. Queries below the minimum length are
// rejected so single characters never trend. The durable insert is
// detached; the fast counters are written inline but failures only log.
func (t *Tracker) Record(ctx context.Context, normalized, region string) {
	normalized = strings.TrimSpace(normalized)
	if len(normalized) < t.cfg.MinQueryLength {
		return
	}

	regions := []string{query.RegionGlobal}
	if region != "" && region != query.RegionGlobal {
		regions = append(regions, region)
	}

	for _, reg := range regions {
		for _, w := range []struct {
			name string
			len  time.Duration
		}{
			{Window24h, 24 * time.Hour},
			{Window7d, 7 * 24 * time.Hour},
		} {
			if err := t.counters.IncrementCounter(ctx, reg, w.name, normalized, w.len); err != nil {
				t.logger.Warn("trending counter increment failed",
					zap.String("region", reg),
					zap.String("window", w.name),
					zap.Error(err),
				)
			}
		}
		observability.TrendingIncrementsTotal.WithLabelValues(reg).Inc()
	}

	now := time.Now().UTC()
	for _, reg := range regions {
		reg := reg
		t.tasks.Submit("trending_durable_insert", func(taskCtx context.Context) error {
			return t.store.Increment(taskCtx, normalized, reg, now)
		})
	}
}

// GetTrending returns the decayed top queries for a region and window.
// Results are cached briefly; the board tolerates a minute of staleness.
func (t *Tracker) GetTrending(ctx context.Context, region, window string, limit int) ([]models.TrendingScore, error) {
	ctx, span := observability.StartSpan(ctx, "trending.get",
		attribute.String("region", region),
		attribute.String("window", window),
	)
	defer span.End()

	if window != Window24h && window != Window7d {
		return nil, fmt.Errorf("unknown trending window %q", window)
	}
	if limit <= 0 {
		limit = t.cfg.DefaultLimit
	}
	if region == "" {
		region = query.RegionGlobal
	}

	if cached, err := t.counters.GetTrending(ctx, region, window); err == nil && cached != nil {
		return truncate(cached, limit), nil
	}

	// The cached board is always computed at the max depth so one
	// small request cannot freeze a shallow board for the TTL.
	scores, err := t.computeScores(ctx, region, window, t.cfg.MaxLimit)
	if err != nil {
		return nil, err
	}

	if len(scores) > 0 {
		if err := t.counters.SetTrending(ctx, region, window, scores); err != nil {
			t.logger.Warn("trending cache write failed", zap.Error(err))
		}
	}

	return truncate(scores, limit), nil
}

func (t *Tracker) computeScores(ctx context.Context, region, window string, limit int) ([]models.TrendingScore, error) {
	entries, err := t.counters.TopCounters(ctx, region, window, limit)
	if err != nil {
		return nil, fmt.Errorf("trending top counters: %w", err)
	}

	// Cold counters after a restart: rebuild the board from the durable
	// event log for the same window.
	if len(entries) == 0 {
		windowLen := 24 * time.Hour
		if window == Window7d {
			windowLen = 7 * 24 * time.Hour
		}
		now := time.Now().UTC()
		entries, err = t.store.TopN(ctx, region, now.Add(-windowLen), now, limit)
		if err != nil {
			t.logger.Warn("trending durable rebuild failed",
				zap.String("region", region),
				zap.Error(err),
			)
			entries = nil
		}
	}

	decay := decay24h
	if window == Window7d {
		decay = decay7d
	}

	scores := make([]models.TrendingScore, 0, len(entries))
	for _, e := range entries {
		scores = append(scores, models.TrendingScore{
			Query: e.Query,
			Count: e.Count,
			Score: float64(e.Count) * decay,
		})
	}
	return scores, nil
}

// GetTrendingWithDelta augments the board with direction against the
// previous day. It fetches twice the requested depth so movement just
// outside the public board is still visible to the admin view. The
// baseline is the durable count in the window two days back to one day
// back, so today's partial day compares against a full one.
func (t *Tracker) GetTrendingWithDelta(ctx context.Context, region string, limit int) ([]models.TrendingScore, error) {
	if region == "" {
		region = query.RegionGlobal
	}
	if limit <= 0 {
		limit = t.cfg.DefaultLimit
	}

	scores, err := t.computeScores(ctx, region, Window24h, limit*2)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	from := now.Add(-48 * time.Hour)
	to := now.Add(-24 * time.Hour)

	for i := range scores {
		baseline, err := t.store.SnapshotCount(ctx, scores[i].Query, region, from, to)
		if err != nil {
			t.logger.Warn("trending baseline lookup failed",
				zap.String("query", scores[i].Query),
				zap.Error(err),
			)
			continue
		}
		applyDelta(&scores[i], baseline)
	}

	return scores, nil
}

// applyDelta classifies the change against baseline. A zero baseline is a
// newcomer: direction is up but no percentage is reported because the
// ratio is undefined.
func applyDelta(score *models.TrendingScore, baseline int64) {
	if baseline <= 0 {
		if score.Count > 0 {
			score.Trend = "up"
		} else {
			score.Trend = "stable"
		}
		return
	}

	change := (float64(score.Count) - float64(baseline)) / float64(baseline) * 100
	score.ChangePercent = &change

	switch {
	case change > stableBand:
		score.Trend = "up"
	case change < -stableBand:
		score.Trend = "down"
	default:
		score.Trend = "stable"
	}
}

// RunRetention purges durable rows past the retention horizon on a fixed
// interval until ctx is canceled.
func (t *Tracker) RunRetention(ctx context.Context) {
	ticker := time.NewTicker(t.cfg.RetentionInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			cutoff := time.Now().UTC().AddDate(0, 0, -t.cfg.RetentionDays)
			if err := t.store.PurgeBefore(ctx, cutoff); err != nil {
				t.logger.Error("trending retention purge failed", zap.Error(err))
			} else {
				t.logger.Info("trending retention purge completed", zap.Time("cutoff", cutoff))
			}
		}
	}
}

func truncate(scores []models.TrendingScore, limit int) []models.TrendingScore {
	if len(scores) > limit {
		return scores[:limit]
	}
	return scores
}

// NoopStore stands in when the analytics backend is unavailable. Fast
// counters keep the board alive; deltas report every query as a newcomer
// and retention has nothing to purge.
type NoopStore struct{}

func (NoopStore) Increment(context.Context, string, string, time.Time) error { return nil }

func (NoopStore) TopN(context.Context, string, time.Time, time.Time, int) ([]models.TrendingEntry, error) {
	return nil, nil
}

func (NoopStore) SnapshotCount(context.Context, string, string, time.Time, time.Time) (int64, error) {
	return 0, nil
}

func (NoopStore) PurgeBefore(context.Context, time.Time) error { return nil }
