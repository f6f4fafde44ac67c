package instrumentation

import (
	"context"
	"fmt"
	"sync"

	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/sdk/resource"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
	tracenoop "go.opentelemetry.io/otel/trace/noop"
)

const (
	// DefaultServiceName is used when the host names no service.
	DefaultServiceName = "tokencache"

	// DefaultServiceVersion is the default service version used when none is
	// provided.
	DefaultServiceVersion = "unknown"
)

// Config holds instrumentation configuration.
type Config struct {
	// ServiceName is the name of the consuming service.
	ServiceName string

	// ServiceVersion is the version of the consuming service.
	ServiceVersion string

	// Enabled controls whether instrumentation is active. When false, no-op
	// providers are used (zero overhead). Default: false.
	Enabled bool

	// Resource allows custom resource attributes. If nil, a default resource
	// is created from the service name and version.
	Resource *resource.Resource
}

// Instrumentation provides OpenTelemetry instrumentation components.
type Instrumentation struct {
	config   Config
	resource *resource.Resource

	meterProvider  metric.MeterProvider
	tracerProvider trace.TracerProvider

	metrics *Metrics

	// Shutdown functions are registered during New() only; not thread-safe
	// to mutate after initialization.
	shutdownFuncs []func(context.Context) error
	shutdownOnce  sync.Once
}

// New creates a new instrumentation instance.
func New(config Config) (*Instrumentation, error) {
	if config.ServiceName == "" {
		config.ServiceName = DefaultServiceName
	}
	if config.ServiceVersion == "" {
		config.ServiceVersion = DefaultServiceVersion
	}

	var res *resource.Resource
	var err error
	if config.Resource != nil {
		res = config.Resource
	} else {
		res, err = resource.New(
			context.Background(),
			resource.WithAttributes(
				semconv.ServiceName(config.ServiceName),
				semconv.ServiceVersion(config.ServiceVersion),
			),
		)
		if err != nil {
			return nil, fmt.Errorf("failed to create resource: %w", err)
		}
	}

	inst := &Instrumentation{
		config:   config,
		resource: res,
	}

	if config.Enabled {
		if err := inst.initializeProviders(); err != nil {
			return nil, fmt.Errorf("failed to initialize providers: %w", err)
		}
	} else {
		inst.meterProvider = noop.NewMeterProvider()
		inst.tracerProvider = tracenoop.NewTracerProvider()
	}

	inst.metrics, err = newMetrics(inst)
	if err != nil {
		return nil, fmt.Errorf("failed to create metrics: %w", err)
	}

	return inst, nil
}

// initializeProviders initializes metric and trace providers.
// Currently uses no-op providers; actual exporters (Prometheus, OTLP,
// stdout) can be added in a backward-compatible way.
func (i *Instrumentation) initializeProviders() error {
	i.meterProvider = noop.NewMeterProvider()
	i.tracerProvider = tracenoop.NewTracerProvider()
	return nil
}

// Shutdown gracefully shuts down all instrumentation providers. Idempotent.
func (i *Instrumentation) Shutdown(ctx context.Context) error {
	var shutdownErr error

	i.shutdownOnce.Do(func() {
		for _, fn := range i.shutdownFuncs {
			if err := fn(ctx); err != nil {
				// Capture the first error but keep shutting down.
				if shutdownErr == nil {
					shutdownErr = err
				}
			}
		}
	})

	return shutdownErr
}

// Meter returns a named meter for the given scope. Scopes are layer names
// like "cache", "storage", "codec". The full name will be
// "github.com/identitykit/tokencache/{scope}".
func (i *Instrumentation) Meter(scope string) metric.Meter {
	return i.meterProvider.Meter("github.com/identitykit/tokencache/" + scope)
}

// Tracer returns a named tracer for the given scope, named the same way as
// Meter.
func (i *Instrumentation) Tracer(scope string) trace.Tracer {
	return i.tracerProvider.Tracer("github.com/identitykit/tokencache/" + scope)
}

// Metrics returns the metrics holder for recording metric values.
func (i *Instrumentation) Metrics() *Metrics {
	return i.metrics
}

// TracerProvider returns the underlying tracer provider.
func (i *Instrumentation) TracerProvider() trace.TracerProvider {
	return i.tracerProvider
}

// MeterProvider returns the underlying meter provider.
func (i *Instrumentation) MeterProvider() metric.MeterProvider {
	return i.meterProvider
}

// ItemCountsCallback reports the current per-collection record counts of a
// credential store.
type ItemCountsCallback func() (accessTokens, refreshTokens, idTokens, accounts, appMetadata int64)

// RegisterItemCountsCallback registers a gauge callback exposing the live
// size of each credential collection.
//
// Example:
//
//	inst.RegisterItemCountsCallback(func() (int64, int64, int64, int64, int64) {
//	    c := store.ItemCounts()
//	    return int64(c.AccessTokens), int64(c.RefreshTokens),
//	        int64(c.IDTokens), int64(c.Accounts), int64(c.AppMetadata)
//	})
func (i *Instrumentation) RegisterItemCountsCallback(counts ItemCountsCallback) error {
	if i.meterProvider == nil {
		return fmt.Errorf("meter provider not initialized")
	}
	if counts == nil {
		return fmt.Errorf("counts callback is nil")
	}

	meter := i.Meter("storage")
	_, err := meter.RegisterCallback(
		func(ctx context.Context, observer metric.Observer) error {
			ats, rts, idts, accs, mds := counts()
			observer.ObserveInt64(i.metrics.ItemsAccessTokens, ats)
			observer.ObserveInt64(i.metrics.ItemsRefreshTokens, rts)
			observer.ObserveInt64(i.metrics.ItemsIDTokens, idts)
			observer.ObserveInt64(i.metrics.ItemsAccounts, accs)
			observer.ObserveInt64(i.metrics.ItemsAppMetadata, mds)
			return nil
		},
		i.metrics.ItemsAccessTokens,
		i.metrics.ItemsRefreshTokens,
		i.metrics.ItemsIDTokens,
		i.metrics.ItemsAccounts,
		i.metrics.ItemsAppMetadata,
	)
	return err
}
