package telemetry

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/archon-research/liquidity-manager/internal/ports/outbound"
)

// Compile-time check that Metrics implements outbound.MetricsRecorder
var _ outbound.MetricsRecorder = (*Metrics)(nil)

// Metrics implements outbound.MetricsRecorder on OpenTelemetry instruments.
type Metrics struct {
	tranches          metric.Int64Counter
	rewards           metric.Int64Counter
	processingLatency metric.Float64Histogram
	activeOrders      metric.Int64Gauge
	totalOrders       metric.Int64Gauge
}

// NewMetrics creates the instruments on the global meter provider.
func NewMetrics(meterName string) (*Metrics, error) {
	return NewMetricsWithMeter(otel.Meter(meterName))
}

// NewMetricsWithMeter creates the instruments on meter.
func NewMetricsWithMeter(meter metric.Meter) (*Metrics, error) {
	tranches, err := meter.Int64Counter(
		"keeper.tranches.total",
		metric.WithDescription("Execution requests handled by keepers, by outcome"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create keeper.tranches.total counter: %w", err)
	}

	rewards, err := meter.Int64Counter(
		"keeper.reward.total",
		metric.WithDescription("Shift tokens paid to keepers"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create keeper.reward.total counter: %w", err)
	}

	latency, err := meter.Float64Histogram(
		"keeper.processing_duration_seconds",
		metric.WithDescription("Time taken to handle one execution request"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create keeper.processing_duration_seconds histogram: %w", err)
	}

	active, err := meter.Int64Gauge(
		"tracker.orders.active",
		metric.WithDescription("Active whale orders seen in the last poll"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create tracker.orders.active gauge: %w", err)
	}

	total, err := meter.Int64Gauge(
		"tracker.orders.total",
		metric.WithDescription("Whale orders seen in the last poll"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create tracker.orders.total gauge: %w", err)
	}

	return &Metrics{
		tranches:          tranches,
		rewards:           rewards,
		processingLatency: latency,
		activeOrders:      active,
		totalOrders:       total,
	}, nil
}

// RecordTranche counts one keeper outcome.
func (m *Metrics) RecordTranche(ctx context.Context, status string, reward uint64) {
	m.tranches.Add(ctx, 1, metric.WithAttributes(attribute.String("status", status)))
	if reward > 0 {
		m.rewards.Add(ctx, int64(reward))
	}
}

// RecordProcessingLatency records the duration of one request.
func (m *Metrics) RecordProcessingLatency(ctx context.Context, duration time.Duration, status string) {
	m.processingLatency.Record(ctx, duration.Seconds(), metric.WithAttributes(attribute.String("status", status)))
}

// RecordOrdersObserved sets the order gauges.
func (m *Metrics) RecordOrdersObserved(ctx context.Context, active, total int) {
	m.activeOrders.Record(ctx, int64(active))
	m.totalOrders.Record(ctx, int64(total))
}
