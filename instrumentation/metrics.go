package instrumentation

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Read outcome values for the cache.read.total counter.
const (
	ReadResultHit      = "hit"
	ReadResultMiss     = "miss"
	ReadResultExtended = "extended"
)

// Metrics holds all metric instruments for the token cache library.
type Metrics struct {
	// Cache operation metrics
	CacheReadsTotal        metric.Int64Counter
	CacheWritesTotal       metric.Int64Counter
	CacheOperationDuration metric.Float64Histogram
	LockWaitDuration       metric.Float64Histogram

	// Serialization metrics
	SerializationTotal metric.Int64Counter

	// Storage size gauges, observed via RegisterItemCountsCallback
	ItemsAccessTokens  metric.Int64ObservableGauge
	ItemsRefreshTokens metric.Int64ObservableGauge
	ItemsIDTokens      metric.Int64ObservableGauge
	ItemsAccounts      metric.Int64ObservableGauge
	ItemsAppMetadata   metric.Int64ObservableGauge
}

// newMetrics creates and registers all metric instruments.
func newMetrics(inst *Instrumentation) (*Metrics, error) {
	m := &Metrics{}
	cacheMeter := inst.Meter("cache")
	storageMeter := inst.Meter("storage")

	var err error
	m.CacheReadsTotal, err = cacheMeter.Int64Counter(
		"cache.read.total",
		metric.WithDescription("Cache lookups by credential type and outcome"),
		metric.WithUnit("{lookup}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create cache.read.total counter: %w", err)
	}

	m.CacheWritesTotal, err = cacheMeter.Int64Counter(
		"cache.write.total",
		metric.WithDescription("Credential records written"),
		metric.WithUnit("{record}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create cache.write.total counter: %w", err)
	}

	m.CacheOperationDuration, err = cacheMeter.Float64Histogram(
		"cache.operation.duration",
		metric.WithDescription("Guarded cache operation duration in milliseconds, including notification callbacks"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create cache.operation.duration histogram: %w", err)
	}

	m.LockWaitDuration, err = cacheMeter.Float64Histogram(
		"cache.lock.wait.duration",
		metric.WithDescription("Time spent waiting for the cache lock in milliseconds"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create cache.lock.wait.duration histogram: %w", err)
	}

	m.SerializationTotal, err = cacheMeter.Int64Counter(
		"cache.serialization.total",
		metric.WithDescription("Serialization layer invocations by schema, direction, and result"),
		metric.WithUnit("{operation}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create cache.serialization.total counter: %w", err)
	}

	m.ItemsAccessTokens, err = storageMeter.Int64ObservableGauge(
		"cache.items.access_tokens",
		metric.WithDescription("Current number of stored access tokens"),
		metric.WithUnit("{record}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create cache.items.access_tokens gauge: %w", err)
	}
	m.ItemsRefreshTokens, err = storageMeter.Int64ObservableGauge(
		"cache.items.refresh_tokens",
		metric.WithDescription("Current number of stored refresh tokens"),
		metric.WithUnit("{record}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create cache.items.refresh_tokens gauge: %w", err)
	}
	m.ItemsIDTokens, err = storageMeter.Int64ObservableGauge(
		"cache.items.id_tokens",
		metric.WithDescription("Current number of stored ID tokens"),
		metric.WithUnit("{record}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create cache.items.id_tokens gauge: %w", err)
	}
	m.ItemsAccounts, err = storageMeter.Int64ObservableGauge(
		"cache.items.accounts",
		metric.WithDescription("Current number of stored accounts"),
		metric.WithUnit("{record}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create cache.items.accounts gauge: %w", err)
	}
	m.ItemsAppMetadata, err = storageMeter.Int64ObservableGauge(
		"cache.items.app_metadata",
		metric.WithDescription("Current number of stored app metadata records"),
		metric.WithUnit("{record}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create cache.items.app_metadata gauge: %w", err)
	}

	return m, nil
}

// Helper methods for common metric recording patterns

// RecordCacheRead records one cache lookup. result is one of ReadResultHit,
// ReadResultMiss, or ReadResultExtended.
func (m *Metrics) RecordCacheRead(ctx context.Context, credentialType, result string) {
	m.CacheReadsTotal.Add(ctx, 1, metric.WithAttributes(
		attribute.String("credential_type", credentialType),
		attribute.String("result", result),
	))
}

// RecordCacheWrite records n records written for one credential type.
func (m *Metrics) RecordCacheWrite(ctx context.Context, credentialType string, n int64) {
	m.CacheWritesTotal.Add(ctx, n, metric.WithAttributes(
		attribute.String("credential_type", credentialType),
	))
}

// RecordOperation records the duration of one guarded cache operation.
func (m *Metrics) RecordOperation(ctx context.Context, operation string, durationMs float64) {
	m.CacheOperationDuration.Record(ctx, durationMs, metric.WithAttributes(
		attribute.String("operation", operation),
	))
}

// RecordLockWait records time spent acquiring the cache lock.
func (m *Metrics) RecordLockWait(ctx context.Context, durationMs float64) {
	m.LockWaitDuration.Record(ctx, durationMs)
}

// RecordSerialization records one serialization-layer call.
func (m *Metrics) RecordSerialization(ctx context.Context, schema, direction string, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.SerializationTotal.Add(ctx, 1, metric.WithAttributes(
		attribute.String("schema", schema),
		attribute.String("direction", direction),
		attribute.String("result", result),
	))
}
