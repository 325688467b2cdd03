package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/shubhsaxena/discovery-engine/internal/config"
	"github.com/shubhsaxena/discovery-engine/internal/models"
	"github.com/shubhsaxena/discovery-engine/internal/observability"
	"github.com/shubhsaxena/discovery-engine/internal/resilience"
)

// EventHandler applies one catalog change to the index pipeline.
type EventHandler func(ctx context.Context, event *models.ChangeEvent) error

// Consumer reads catalog change events off the change topic and hands
// them to the indexing pipeline. Poison messages and retry-exhausted
// events go to the DLQ; either way the offset commits so one bad product
// never wedges the partition.
type Consumer struct {
	reader   *kafka.Reader
	dlq      *kafka.Writer
	handler  EventHandler
	retryCfg resilience.RetryConfig
	cfg      config.KafkaConfig
	logger   *zap.Logger
	wg       sync.WaitGroup
	cancel   context.CancelFunc
}

func NewConsumer(cfg config.KafkaConfig, handler EventHandler, logger *zap.Logger) *Consumer {
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:        cfg.Brokers,
		Topic:          cfg.TopicChanges,
		GroupID:        cfg.ConsumerGroup,
		MinBytes:       1e3,  // 1KB
		MaxBytes:       10e6, // 10MB
		MaxWait:        500 * time.Millisecond,
		CommitInterval: time.Second,
		StartOffset:    kafka.LastOffset,
	})

	dlq := &kafka.Writer{
		Addr:     kafka.TCP(cfg.Brokers...),
		Topic:    cfg.TopicDLQ,
		Balancer: &kafka.Hash{},
	}

	logger.Info("change feed consumer created",
		zap.Strings("brokers", cfg.Brokers),
		zap.String("topic", cfg.TopicChanges),
		zap.String("group", cfg.ConsumerGroup),
	)

	return &Consumer{
		reader:  reader,
		dlq:     dlq,
		handler: handler,
		retryCfg: resilience.RetryConfig{
			MaxAttempts: cfg.MaxRetries,
			InitialWait: 100 * time.Millisecond,
			MaxWait:     2 * time.Second,
			Multiplier:  2.0,
		},
		cfg:    cfg,
		logger: logger,
	}
}

func (c *Consumer) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	c.cancel = cancel

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		c.run(ctx)
	}()

	c.logger.Info("change feed consumer started")
	return nil
}

func (c *Consumer) run(ctx context.Context) {
	for {
		msg, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				c.logger.Info("change feed consumer shutting down")
				return
			}
			c.logger.Error("fetching change message", zap.Error(err))
			time.Sleep(time.Second)
			continue
		}

		c.handleMessage(ctx, msg)
	}
}

func (c *Consumer) handleMessage(ctx context.Context, msg kafka.Message) {
	event, err := decodeChangeEvent(msg.Value)
	if err != nil {
		c.logger.Error("poison change message",
			zap.Error(err),
			zap.Int64("offset", msg.Offset),
			zap.Int("partition", msg.Partition),
		)
		observability.IndexingEventsTotal.WithLabelValues("unknown", "poison").Inc()
		c.deadLetter(ctx, msg, err.Error())
		c.commit(ctx, msg)
		return
	}

	if !event.Timestamp.IsZero() {
		observability.IndexingLag.Set(time.Since(event.Timestamp).Seconds())
	}

	err = resilience.Retry(ctx, c.retryCfg, func() error {
		return c.handler(ctx, event)
	})
	if err != nil {
		c.logger.Error("change handler exhausted retries",
			zap.Error(err),
			zap.String("product_id", event.ProductID),
			zap.String("type", event.Type),
		)
		observability.IndexingEventsTotal.WithLabelValues(event.Type, "dlq").Inc()
		c.deadLetter(ctx, msg, fmt.Sprintf("handler failed: %v", err))
	} else {
		observability.IndexingEventsTotal.WithLabelValues(event.Type, "success").Inc()
	}

	c.commit(ctx, msg)
}

// decodeChangeEvent parses and validates a change payload. Anything that
// fails here can never succeed on retry, so the caller dead-letters it.
func decodeChangeEvent(value []byte) (*models.ChangeEvent, error) {
	var event models.ChangeEvent
	if err := json.Unmarshal(value, &event); err != nil {
		return nil, fmt.Errorf("unmarshaling change event: %w", err)
	}
	if event.ProductID == "" {
		return nil, errors.New("change event has no product id")
	}
	return &event, nil
}

func (c *Consumer) deadLetter(ctx context.Context, msg kafka.Message, reason string) {
	dlqMsg := kafka.Message{
		Key:   msg.Key,
		Value: msg.Value,
		Headers: append(msg.Headers,
			kafka.Header{Key: "dlq_reason", Value: []byte(reason)},
			kafka.Header{Key: "origin_topic", Value: []byte(c.cfg.TopicChanges)},
			kafka.Header{Key: "origin_offset", Value: []byte(fmt.Sprintf("%d/%d", msg.Partition, msg.Offset))},
		),
	}

	if err := c.dlq.WriteMessages(ctx, dlqMsg); err != nil {
		c.logger.Error("dead-letter write failed",
			zap.Error(err),
			zap.Int64("offset", msg.Offset),
		)
	}
}

func (c *Consumer) commit(ctx context.Context, msg kafka.Message) {
	if err := c.reader.CommitMessages(ctx, msg); err != nil {
		c.logger.Error("committing change message",
			zap.Error(err),
			zap.Int64("offset", msg.Offset),
		)
	}
}

func (c *Consumer) HealthCheck(ctx context.Context) error {
	conn, err := kafka.DialContext(ctx, "tcp", c.cfg.Brokers[0])
	if err != nil {
		return fmt.Errorf("kafka health check dial: %w", err)
	}
	defer conn.Close()

	if _, err := conn.Brokers(); err != nil {
		return fmt.Errorf("kafka health check brokers: %w", err)
	}
	return nil
}

func (c *Consumer) Stop() error {
	if c.cancel != nil {
		c.cancel()
	}
	c.wg.Wait()

	var errs []error
	if err := c.reader.Close(); err != nil {
		errs = append(errs, fmt.Errorf("closing reader: %w", err))
	}
	if err := c.dlq.Close(); err != nil {
		errs = append(errs, fmt.Errorf("closing dlq writer: %w", err))
	}

	if len(errs) > 0 {
		return fmt.Errorf("consumer close errors: %v", errs)
	}
	return nil
}
