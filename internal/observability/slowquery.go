package observability

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
)

// SlowQueryDetector logs searches that exceed the warning threshold. Fast
// queries return immediately with zero overhead.
type SlowQueryDetector struct {
	warningThreshold  time.Duration
	criticalThreshold time.Duration
	logger            *zap.Logger
}

func NewSlowQueryDetector(warning, critical time.Duration, logger *zap.Logger) *SlowQueryDetector {
	return &SlowQueryDetector{
		warningThreshold:  warning,
		criticalThreshold: critical,
		logger:            logger,
	}
}

func (sqd *SlowQueryDetector) Intercept(ctx context.Context, normalized, intent, source string, duration time.Duration, total int64) {
	if duration <= sqd.warningThreshold {
		return
	}

	severity := sqd.classifySeverity(duration)
	SlowQueryCounter.WithLabelValues(severity, intent).Inc()

	sqd.logger.Warn("slow query detected",
		zap.String("trace_id", TraceIDFromContext(ctx)),
		zap.String("query_hash", hashQueryForLog(normalized)),
		zap.String("intent", intent),
		zap.String("source", source),
		zap.Float64("duration_ms", float64(duration.Milliseconds())),
		zap.Int64("total_hits", total),
		zap.String("severity", severity),
	)
}

func (sqd *SlowQueryDetector) classifySeverity(d time.Duration) string {
	if d > sqd.criticalThreshold {
		return "critical"
	}
	if d > sqd.warningThreshold {
		return "warning"
	}
	return "normal"
}

func hashQueryForLog(q string) string {
	return fmt.Sprintf("%016x", hashUint64(q))
}

func hashUint64(s string) uint64 {
	h := uint64(0)
	for _, c := range s {
		h = h*31 + uint64(c)
	}
	return h
}
