package firestore

import (
	"context"
	"fmt"
	"time"

	"cloud.google.com/go/firestore"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
	"google.golang.org/api/iterator"

	"github.com/shubhsaxena/discovery-engine/internal/models"
	"github.com/shubhsaxena/discovery-engine/internal/observability"
)

// FindRecentMiss returns the live miss record for a normalized query seen
// at or after since, or nil when none exists.
func (c *Client) FindRecentMiss(ctx context.Context, normalized string, since time.Time) (*models.SearchMiss, error) {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.RequestTimeout)
	defer cancel()

	iter := c.client.Collection(c.cfg.MissesCollection).
		Query.
		Where("normalized", "==", normalized).
		Where("last_seen", ">=", since).
		OrderBy("last_seen", firestore.Desc).
		Limit(1).
		Documents(ctx)
	defer iter.Stop()

	doc, err := iter.Next()
	if err == iterator.Done {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("firestore find recent miss: %w", err)
	}

	var miss models.SearchMiss
	if err := doc.DataTo(&miss); err != nil {
		return nil, fmt.Errorf("decoding miss %s: %w", doc.Ref.ID, err)
	}
	miss.ID = doc.Ref.ID
	return &miss, nil
}

// CreateMiss inserts a fresh miss record and returns its document ID.
func (c *Client) CreateMiss(ctx context.Context, miss *models.SearchMiss) (string, error) {
	ctx, span := observability.StartSpan(ctx, "firestore.create_miss")
	defer span.End()

	ctx, cancel := context.WithTimeout(ctx, c.cfg.RequestTimeout)
	defer cancel()

	ref, _, err := c.client.Collection(c.cfg.MissesCollection).Add(ctx, miss)
	if err != nil {
		observability.MissLedgerWritesTotal.WithLabelValues("create", "error").Inc()
		return "", fmt.Errorf("firestore create miss: %w", err)
	}
	observability.MissLedgerWritesTotal.WithLabelValues("create", "success").Inc()
	return ref.ID, nil
}

// TouchMiss bumps the counter on an existing miss record. The category is
// only written when the record has none yet, so the first categorization
// sticks.
func (c *Client) TouchMiss(ctx context.Context, id string, lastSeen time.Time, categoryID, categoryName string, hasCategory bool) error {
	ctx, span := observability.StartSpan(ctx, "firestore.touch_miss",
		attribute.String("miss_id", id),
	)
	defer span.End()

	ctx, cancel := context.WithTimeout(ctx, c.cfg.RequestTimeout)
	defer cancel()

	updates := []firestore.Update{
		{Path: "count", Value: firestore.Increment(1)},
		{Path: "last_seen", Value: lastSeen},
	}
	if !hasCategory && categoryID != "" {
		updates = append(updates,
			firestore.Update{Path: "category_id", Value: categoryID},
			firestore.Update{Path: "category_name", Value: categoryName},
		)
	}

	_, err := c.client.Collection(c.cfg.MissesCollection).Doc(id).Update(ctx, updates)
	if err != nil {
		observability.MissLedgerWritesTotal.WithLabelValues("touch", "error").Inc()
		return fmt.Errorf("firestore touch miss %s: %w", id, err)
	}
	observability.MissLedgerWritesTotal.WithLabelValues("touch", "success").Inc()
	return nil
}

// ResolveMiss marks a miss as satisfied by a product. Resolving an
// already-resolved miss is a no-op at the data level.
func (c *Client) ResolveMiss(ctx context.Context, id, productID string) error {
	ctx, span := observability.StartSpan(ctx, "firestore.resolve_miss",
		attribute.String("miss_id", id),
	)
	defer span.End()

	ctx, cancel := context.WithTimeout(ctx, c.cfg.RequestTimeout)
	defer cancel()

	_, err := c.client.Collection(c.cfg.MissesCollection).Doc(id).Update(ctx, []firestore.Update{
		{Path: "resolved", Value: true},
		{Path: "resolved_product_id", Value: productID},
	})
	if err != nil {
		observability.MissLedgerWritesTotal.WithLabelValues("resolve", "error").Inc()
		return fmt.Errorf("firestore resolve miss %s: %w", id, err)
	}
	observability.MissLedgerWritesTotal.WithLabelValues("resolve", "success").Inc()
	return nil
}

// GetMiss loads a single miss record by ID.
func (c *Client) GetMiss(ctx context.Context, id string) (*models.SearchMiss, error) {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.RequestTimeout)
	defer cancel()

	doc, err := c.client.Collection(c.cfg.MissesCollection).Doc(id).Get(ctx)
	if err != nil {
		return nil, fmt.Errorf("firestore get miss %s: %w", id, err)
	}

	var miss models.SearchMiss
	if err := doc.DataTo(&miss); err != nil {
		return nil, fmt.Errorf("decoding miss %s: %w", id, err)
	}
	miss.ID = doc.Ref.ID
	return &miss, nil
}

// MissesSince streams all miss records last seen at or after since. The
// analytics layer aggregates over the full window in memory.
func (c *Client) MissesSince(ctx context.Context, since time.Time) ([]models.SearchMiss, error) {
	ctx, span := observability.StartSpan(ctx, "firestore.misses_since")
	defer span.End()

	ctx, cancel := context.WithTimeout(ctx, c.cfg.RequestTimeout)
	defer cancel()

	iter := c.client.Collection(c.cfg.MissesCollection).
		Query.
		Where("last_seen", ">=", since).
		Documents(ctx)
	defer iter.Stop()

	var misses []models.SearchMiss
	for {
		doc, err := iter.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("firestore misses since: %w", err)
		}
		var miss models.SearchMiss
		if err := doc.DataTo(&miss); err != nil {
			c.logger.Warn("skipping undecodable miss", zap.String("id", doc.Ref.ID), zap.Error(err))
			continue
		}
		miss.ID = doc.Ref.ID
		misses = append(misses, miss)
	}

	return misses, nil
}
