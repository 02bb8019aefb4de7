package metrics

import (
	"go.opentelemetry.io/otel/metric"
)

// StorageMetrics holds the metric instruments for the buffer pool.
type StorageMetrics struct {
	PoolHitCounter      metric.Int64Counter
	PoolMissCounter     metric.Int64Counter
	EvictionCounter     metric.Int64Counter
	FlushCounter        metric.Int64Counter
	PinnedUpDownCounter metric.Int64UpDownCounter
}

// NewStorageMetrics creates and registers the buffer pool instruments.
func NewStorageMetrics(meter metric.Meter) (*StorageMetrics, error) {
	poolHitCounter, err := meter.Int64Counter(
		"sakuradb.bufferpool.hits_total",
		metric.WithDescription("Page fetches served from the pool."),
		metric.WithUnit("1"),
	)
	if err != nil {
		return nil, err
	}

	poolMissCounter, err := meter.Int64Counter(
		"sakuradb.bufferpool.misses_total",
		metric.WithDescription("Page fetches that went to disk."),
		metric.WithUnit("1"),
	)
	if err != nil {
		return nil, err
	}

	evictionCounter, err := meter.Int64Counter(
		"sakuradb.bufferpool.evictions_total",
		metric.WithDescription("Pages evicted from frames."),
		metric.WithUnit("1"),
	)
	if err != nil {
		return nil, err
	}

	flushCounter, err := meter.Int64Counter(
		"sakuradb.bufferpool.flushes_total",
		metric.WithDescription("Pages written back to disk."),
		metric.WithUnit("1"),
	)
	if err != nil {
		return nil, err
	}

	pinnedUpDownCounter, err := meter.Int64UpDownCounter(
		"sakuradb.bufferpool.pinned_frames",
		metric.WithDescription("Frames currently holding a pinned page."),
		metric.WithUnit("1"),
	)
	if err != nil {
		return nil, err
	}

	return &StorageMetrics{
		PoolHitCounter:      poolHitCounter,
		PoolMissCounter:     poolMissCounter,
		EvictionCounter:     evictionCounter,
		FlushCounter:        flushCounter,
		PinnedUpDownCounter: pinnedUpDownCounter,
	}, nil
}
