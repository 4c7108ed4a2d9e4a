package outbound

import (
	"context"
	"time"
)

// MetricsRecorder provides an interface for recording application metrics.
// This allows the application layer to record metrics without depending on
// specific telemetry implementations.
type MetricsRecorder interface {
	// RecordTranche counts a keeper outcome ("executed", "skipped", "failed"
	// or "contended") and adds the keeper reward earned.
	RecordTranche(ctx context.Context, status string, reward uint64)

	// RecordProcessingLatency records how long one request took.
	RecordProcessingLatency(ctx context.Context, duration time.Duration, status string)

	// RecordOrdersObserved records how many orders a tracker poll saw.
	RecordOrdersObserved(ctx context.Context, active, total int)
}
