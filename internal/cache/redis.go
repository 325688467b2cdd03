package cache

import (
	"context"
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/shubhsaxena/discovery-engine/internal/config"
	"github.com/shubhsaxena/discovery-engine/internal/models"
	"github.com/shubhsaxena/discovery-engine/internal/observability"
)

type RedisCache struct {
	client redis.UniversalClient
	ttl    config.CacheTTLConfig
	logger *zap.Logger
}

func NewRedisCache(cfg config.RedisConfig, logger *zap.Logger) (*RedisCache, error) {
	var client redis.UniversalClient

	if len(cfg.Addresses) > 1 {
		client = redis.NewClusterClient(&redis.ClusterOptions{
			Addrs:        cfg.Addresses,
			Password:     cfg.Password,
			PoolSize:     cfg.PoolSize,
			MinIdleConns: cfg.MinIdleConns,
			DialTimeout:  cfg.DialTimeout,
			ReadTimeout:  cfg.ReadTimeout,
			WriteTimeout: cfg.WriteTimeout,
		})
	} else {
		client = redis.NewClient(&redis.Options{
			Addr:         cfg.Addresses[0],
			Password:     cfg.Password,
			DB:           cfg.DB,
			PoolSize:     cfg.PoolSize,
			MinIdleConns: cfg.MinIdleConns,
			DialTimeout:  cfg.DialTimeout,
			ReadTimeout:  cfg.ReadTimeout,
			WriteTimeout: cfg.WriteTimeout,
		})
	}

	ctx, cancel := context.WithTimeout(context.Background(), cfg.DialTimeout)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}

	logger.Info("redis cache connected", zap.Strings("addresses", cfg.Addresses))

	return &RedisCache{
		client: client,
		ttl:    cfg.TTL,
		logger: logger,
	}, nil
}

// GetSearchResults returns the cached response for the normalized query and
// active filters, or nil on a miss.
func (rc *RedisCache) GetSearchResults(ctx context.Context, normalized string, req *models.SearchRequest) (*models.SearchResponse, error) {
	val, err := rc.client.Get(ctx, BuildSearchKey(normalized, req)).Result()
	if err == redis.Nil {
		observability.CacheMisses.Inc()
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("cache get: %w", err)
	}

	observability.CacheHits.Inc()
	var resp models.SearchResponse
	if err := json.Unmarshal([]byte(val), &resp); err != nil {
		return nil, fmt.Errorf("cache unmarshal: %w", err)
	}
	return &resp, nil
}

func (rc *RedisCache) SetSearchResults(ctx context.Context, normalized string, req *models.SearchRequest, resp *models.SearchResponse) error {
	data, err := json.Marshal(resp)
	if err != nil {
		return fmt.Errorf("cache marshal: %w", err)
	}
	return rc.client.Set(ctx, BuildSearchKey(normalized, req), data, rc.ttl.SearchResults).Err()
}

func (rc *RedisCache) GetSuggestions(ctx context.Context, prefix, region string) ([]models.Suggestion, error) {
	key := suggestionKey(prefix, region)
	val, err := rc.client.Get(ctx, key).Result()
	if err == redis.Nil {
		observability.CacheMisses.Inc()
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("cache get suggestions: %w", err)
	}
	observability.CacheHits.Inc()
	var results []models.Suggestion
	if err := json.Unmarshal([]byte(val), &results); err != nil {
		return nil, fmt.Errorf("cache unmarshal suggestions: %w", err)
	}
	return results, nil
}

func (rc *RedisCache) SetSuggestions(ctx context.Context, prefix, region string, results []models.Suggestion) error {
	data, err := json.Marshal(results)
	if err != nil {
		return fmt.Errorf("cache marshal suggestions: %w", err)
	}
	return rc.client.Set(ctx, suggestionKey(prefix, region), data, rc.ttl.Suggestions).Err()
}

func (rc *RedisCache) GetTrending(ctx context.Context, region, period string) ([]models.TrendingScore, error) {
	key := fmt.Sprintf("trend:%s:%s", region, period)
	val, err := rc.client.Get(ctx, key).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("cache get trending: %w", err)
	}
	var results []models.TrendingScore
	if err := json.Unmarshal([]byte(val), &results); err != nil {
		return nil, fmt.Errorf("cache unmarshal trending: %w", err)
	}
	return results, nil
}

func (rc *RedisCache) SetTrending(ctx context.Context, region, period string, scores []models.TrendingScore) error {
	data, err := json.Marshal(scores)
	if err != nil {
		return fmt.Errorf("cache marshal trending: %w", err)
	}
	key := fmt.Sprintf("trend:%s:%s", region, period)
	return rc.client.Set(ctx, key, data, rc.ttl.Trending).Err()
}

// IncrementCounter bumps the windowed popularity counter for a query within
// a (region, window) bucket. The bucket expires at twice the window length
// so a quiet bucket eventually disappears on its own.
func (rc *RedisCache) IncrementCounter(ctx context.Context, region, window, query string, windowLen time.Duration) error {
	key := counterKey(region, window)
	pipe := rc.client.TxPipeline()
	pipe.ZIncrBy(ctx, key, 1, query)
	pipe.Expire(ctx, key, 2*windowLen)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("counter increment: %w", err)
	}
	return nil
}

// TopCounters returns the highest-count queries in a (region, window)
// bucket, count descending.
func (rc *RedisCache) TopCounters(ctx context.Context, region, window string, limit int) ([]models.TrendingEntry, error) {
	key := counterKey(region, window)
	rows, err := rc.client.ZRevRangeWithScores(ctx, key, 0, int64(limit-1)).Result()
	if err != nil {
		return nil, fmt.Errorf("counter top: %w", err)
	}

	entries := make([]models.TrendingEntry, 0, len(rows))
	for _, row := range rows {
		member, ok := row.Member.(string)
		if !ok {
			continue
		}
		entries = append(entries, models.TrendingEntry{
			Query:  member,
			Region: region,
			Count:  int64(row.Score),
		})
	}
	return entries, nil
}

// CounterValue returns the current count for one query in a bucket, 0 when
// absent.
func (rc *RedisCache) CounterValue(ctx context.Context, region, window, query string) (int64, error) {
	score, err := rc.client.ZScore(ctx, counterKey(region, window), query).Result()
	if err == redis.Nil {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("counter value: %w", err)
	}
	return int64(score), nil
}

// InvalidatePattern removes all keys matching the given patterns, used by
// the indexing pipeline when catalog rows change.
func (rc *RedisCache) InvalidatePattern(ctx context.Context, patterns []string) error {
	for _, pattern := range patterns {
		iter := rc.client.Scan(ctx, 0, pattern, 100).Iterator()
		var keys []string
		for iter.Next(ctx) {
			keys = append(keys, iter.Val())
		}
		if err := iter.Err(); err != nil {
			rc.logger.Warn("cache scan error", zap.String("pattern", pattern), zap.Error(err))
			continue
		}
		if len(keys) > 0 {
			if err := rc.client.Del(ctx, keys...).Err(); err != nil {
				rc.logger.Warn("cache delete error", zap.Strings("keys", keys), zap.Error(err))
			}
		}
	}
	return nil
}

func (rc *RedisCache) HealthCheck(ctx context.Context) error {
	return rc.client.Ping(ctx).Err()
}

func (rc *RedisCache) Close() error {
	return rc.client.Close()
}

// BuildSearchKey derives the response cache key from the normalized query
// and every active filter, so two requests share an entry only when their
// results are interchangeable.
func BuildSearchKey(normalized string, req *models.SearchRequest) string {
	var b strings.Builder
	b.WriteString(normalized)
	b.WriteByte('|')
	b.WriteString(req.CategoryID)
	b.WriteByte('|')
	if req.MinPrice != nil {
		b.WriteString(strconv.FormatFloat(*req.MinPrice, 'f', 2, 64))
	}
	b.WriteByte('|')
	if req.MaxPrice != nil {
		b.WriteString(strconv.FormatFloat(*req.MaxPrice, 'f', 2, 64))
	}
	b.WriteByte('|')
	if req.InStock != nil {
		b.WriteString(strconv.FormatBool(*req.InStock))
	}
	b.WriteByte('|')
	b.WriteString(req.Sort)
	b.WriteByte('|')
	b.WriteString(strconv.Itoa(req.Page))
	b.WriteByte('|')
	b.WriteString(strconv.Itoa(req.Limit))

	return "sr:" + hashString(b.String())
}

func suggestionKey(prefix, region string) string {
	return fmt.Sprintf("sg:%s:%s", region, hashString(prefix))
}

func counterKey(region, window string) string {
	return fmt.Sprintf("tc:%s:%s", region, window)
}

func hashString(s string) string {
	h := sha256.Sum256([]byte(s))
	return fmt.Sprintf("%x", h[:8])
}
