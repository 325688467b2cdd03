package clickhouse

import (
	"context"
	"fmt"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/shubhsaxena/discovery-engine/internal/config"
	"github.com/shubhsaxena/discovery-engine/internal/models"
	"github.com/shubhsaxena/discovery-engine/internal/observability"
)

// Client is the durable trending aggregate store. Increments land as
// append-only event rows; every read aggregates over a time window, which
// sidesteps upsert semantics entirely.
type Client struct {
	conn   driver.Conn
	logger *zap.Logger
}

func NewClient(cfg config.ClickHouseConfig, logger *zap.Logger) (*Client, error) {
	conn, err := clickhouse.Open(&clickhouse.Options{
		Addr: cfg.Addresses,
		Auth: clickhouse.Auth{
			Database: cfg.Database,
			Username: cfg.Username,
			Password: cfg.Password,
		},
		Settings: clickhouse.Settings{
			"max_execution_time": int(cfg.QueryTimeout.Seconds()),
		},
		DialTimeout:  cfg.DialTimeout,
		MaxOpenConns: cfg.MaxOpenConns,
		MaxIdleConns: cfg.MaxIdleConns,
	})
	if err != nil {
		return nil, fmt.Errorf("opening clickhouse connection: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), cfg.DialTimeout)
	defer cancel()

	if err := conn.Ping(ctx); err != nil {
		return nil, fmt.Errorf("pinging clickhouse: %w", err)
	}

	logger.Info("clickhouse client connected", zap.Strings("addresses", cfg.Addresses))

	return &Client{
		conn:   conn,
		logger: logger,
	}, nil
}

// Increment records one search occurrence for a (query, region) pair.
func (c *Client) Increment(ctx context.Context, query, region string, at time.Time) error {
	start := time.Now()
	err := c.conn.Exec(ctx, `
		INSERT INTO trending_events (query, region, occurred_at)
		VALUES (?, ?, ?)
	`, query, region, at)
	observeTrending("increment", start, err)
	if err != nil {
		return fmt.Errorf("ch trending increment: %w", err)
	}
	return nil
}

// TopN returns the most-searched queries for a region within a window,
// ordered by count descending then query ascending for determinism.
func (c *Client) TopN(ctx context.Context, region string, from, to time.Time, limit int) ([]models.TrendingEntry, error) {
	ctx, span := observability.StartSpan(ctx, "ch.trending_topn",
		attribute.String("region", region),
		attribute.Int("limit", limit),
	)
	defer span.End()

	start := time.Now()
	rows, err := c.conn.Query(ctx, `
		SELECT
			query,
			count() AS cnt,
			max(occurred_at) AS last_seen
		FROM trending_events
		WHERE region = ? AND occurred_at >= ? AND occurred_at < ?
		GROUP BY query
		ORDER BY cnt DESC, query ASC
		LIMIT ?
	`, region, from, to, limit)
	if err != nil {
		observeTrending("topn", start, err)
		return nil, fmt.Errorf("ch trending topn: %w", err)
	}
	defer rows.Close()

	var entries []models.TrendingEntry
	for rows.Next() {
		var e models.TrendingEntry
		var cnt uint64
		if err := rows.Scan(&e.Query, &cnt, &e.LastSeen); err != nil {
			return nil, fmt.Errorf("scanning trending row: %w", err)
		}
		e.Count = int64(cnt)
		e.Region = region
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating trending rows: %w", err)
	}

	observeTrending("topn", start, nil)
	return entries, nil
}

// SnapshotCount returns how many times a single query was searched in a
// region within a window. Used as the delta baseline.
func (c *Client) SnapshotCount(ctx context.Context, query, region string, from, to time.Time) (int64, error) {
	start := time.Now()
	row := c.conn.QueryRow(ctx, `
		SELECT count()
		FROM trending_events
		WHERE query = ? AND region = ? AND occurred_at >= ? AND occurred_at < ?
	`, query, region, from, to)

	var cnt uint64
	err := row.Scan(&cnt)
	observeTrending("snapshot", start, err)
	if err != nil {
		return 0, fmt.Errorf("ch trending snapshot: %w", err)
	}
	return int64(cnt), nil
}

// PurgeBefore drops event rows older than cutoff. Partitions are daily,
// so the delete is a cheap partition-level mutation.
func (c *Client) PurgeBefore(ctx context.Context, cutoff time.Time) error {
	start := time.Now()
	err := c.conn.Exec(ctx, `
		ALTER TABLE trending_events DELETE WHERE occurred_at < ?
	`, cutoff)
	observeTrending("purge", start, err)
	if err != nil {
		return fmt.Errorf("ch trending purge: %w", err)
	}
	return nil
}

func (c *Client) HealthCheck(ctx context.Context) error {
	return c.conn.Ping(ctx)
}

func (c *Client) Close() error {
	return c.conn.Close()
}

func (c *Client) EnsureTables(ctx context.Context) error {
	ddl := `CREATE TABLE IF NOT EXISTS trending_events (
		query String,
		region String,
		occurred_at DateTime
	) ENGINE = MergeTree()
	PARTITION BY toDate(occurred_at)
	ORDER BY (region, query, occurred_at)`

	if err := c.conn.Exec(ctx, ddl); err != nil {
		return fmt.Errorf("creating trending_events table: %w", err)
	}

	c.logger.Info("clickhouse tables ensured")
	return nil
}

func observeTrending(operation string, start time.Time, err error) {
	status := "success"
	if err != nil {
		status = "error"
	}
	observability.TrendingQueryDuration.WithLabelValues(operation, status).Observe(time.Since(start).Seconds())
}
