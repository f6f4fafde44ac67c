package audit

// Event type constants for cache audit logging.
// These constants ensure consistency across the codebase and prevent typos
// when logging cache-relevant events.
const (
	// Token lifecycle events

	// EventTokenCached is logged when a token response is saved to the cache
	EventTokenCached = "token_cached"

	// EventCacheHit is logged when a silent request is served from the cache
	EventCacheHit = "cache_hit"

	// EventCacheHitExtended is logged when an expired token is served under
	// extended-lifetime mode
	EventCacheHitExtended = "cache_hit_extended"

	// EventCacheMiss is logged when a silent request finds nothing usable
	EventCacheMiss = "cache_miss"

	// Account lifecycle events

	// EventAccountRemoved is logged when an account and its credentials are
	// evicted from the cache
	EventAccountRemoved = "account_removed"

	// Serialization boundary events

	// EventCacheLoaded is logged when external bytes replace the cache contents
	EventCacheLoaded = "cache_loaded"

	// EventCacheExported is logged when the cache is serialized for external
	// storage
	EventCacheExported = "cache_exported"
)
