// Package instrumentation provides OpenTelemetry (OTEL) instrumentation for
// the token cache library.
//
// Metrics cover the cache's hot paths: read hit/miss rates per credential
// type, write volume, serialization activity, lock wait time, and live
// per-collection item counts. Tracers are available per scope for hosts that
// want spans around cache operations.
//
// # Quick Start
//
//	inst, err := instrumentation.New(instrumentation.Config{
//		ServiceName:    "my-app",
//		ServiceVersion: "1.0.0",
//		Enabled:        true,
//	})
//	if err != nil {
//		log.Fatal(err)
//	}
//	defer inst.Shutdown(context.Background())
//
//	cache := tokencache.New(tokencache.Config{Instrumentation: inst})
//
// # Available Metrics
//
//   - cache.read.total{credential_type, result} - Cache lookups by outcome
//     (hit, miss, extended)
//   - cache.write.total{credential_type} - Records written
//   - cache.operation.duration{operation} - Full guarded-operation duration
//     in milliseconds, including notification callbacks
//   - cache.lock.wait.duration - Time spent waiting for the cache lock in
//     milliseconds
//   - cache.serialization.total{schema, direction, result} - Marshal and
//     unmarshal calls per schema
//   - cache.items{collection} - Current per-collection record counts
//
// # Performance
//
// When instrumentation is not configured or disabled, no-op providers are
// used: no allocations, no latency impact. Never record secrets as metric
// attributes or span attributes; only metadata (types, outcomes, counts)
// belongs in observability data.
//
// # Thread Safety
//
// All operations are safe for concurrent use.
package instrumentation
