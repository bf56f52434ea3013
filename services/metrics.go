package services

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

type ingestMetrics struct {
	batches  metric.Int64Counter
	saved    metric.Int64Counter
	duration metric.Float64Histogram
}

func newIngestMetrics(meter metric.Meter) (*ingestMetrics, error) {
	batches, err := meter.Int64Counter(
		"chat_history.batches",
		metric.WithDescription("Chat history batches received, by outcome"),
	)
	if err != nil {
		return nil, fmt.Errorf("batches counter: %w", err)
	}

	saved, err := meter.Int64Counter(
		"chat_history.entries.saved",
		metric.WithDescription("Chat history rows inserted"),
	)
	if err != nil {
		return nil, fmt.Errorf("saved counter: %w", err)
	}

	duration, err := meter.Float64Histogram(
		"chat_history.save.duration",
		metric.WithDescription("Time spent handling one batch"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return nil, fmt.Errorf("duration histogram: %w", err)
	}

	return &ingestMetrics{batches: batches, saved: saved, duration: duration}, nil
}

func (m *ingestMetrics) record(ctx context.Context, outcome string, saved int, elapsed time.Duration) {
	attrs := metric.WithAttributes(attribute.String("outcome", outcome))
	m.batches.Add(ctx, 1, attrs)
	if saved > 0 {
		m.saved.Add(ctx, int64(saved))
	}
	m.duration.Record(ctx, float64(elapsed.Microseconds())/1000, attrs)
}
