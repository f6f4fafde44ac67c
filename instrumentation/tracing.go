package instrumentation

import (
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Common span attribute keys.
//
// SECURITY WARNING: Never log actual credential values (access tokens,
// refresh tokens, ID tokens, assertions) in traces or metrics. Only log
// metadata such as credential types, expiry times, family IDs, and match
// outcomes. Traces are persisted, replicated, and read by wider audiences
// than the cache itself.
const (
	// Cache operation attributes - metadata only
	AttrClientID       = "cache.client_id"        // Client identifier (non-secret)
	AttrCredentialType = "cache.credential_type"  // AccessToken, RefreshToken, IdToken, Account, AppMetadata
	AttrEnvironment    = "cache.environment"      // Authority host
	AttrRealm          = "cache.realm"            // Tenant identifier
	AttrScope          = "cache.scope"            // Requested scopes
	AttrFamilyID       = "cache.family_id"        //nolint:gosec // Refresh token family identifier, not a token
	AttrMatchResult    = "cache.match_result"     // hit, miss, extended
	AttrExtendedMatch  = "cache.extended_match"   // Whether the hit used the extended window (boolean)
	AttrStateChanged   = "cache.state_changed"    // Whether the operation mutated the store (boolean)
	AttrCorrelationID  = "cache.correlation_id"   // Operation correlation id
	AttrSchema         = "cache.schema"           // Serialization schema name
	AttrHasTokens      = "cache.has_tokens"       //nolint:gosec // Whether any tokens exist (boolean), never a value
	AttrSuggestedKey   = "cache.suggested_key"    // Partitioning key suggested to the host
	AttrAppCache       = "cache.application"      // Whether this is the app (client-credential) cache

	// RESERVED - DO NOT USE: never set these to actual credential values;
	// use boolean presence flags instead.
	AttrAccessToken  = "cache.access_token"  //nolint:gosec // RESERVED - use presence flags
	AttrRefreshToken = "cache.refresh_token" //nolint:gosec // RESERVED - use presence flags
	AttrAssertion    = "cache.assertion"     // RESERVED - use the assertion hash's presence, never its input
)

// RecordError records an error on a span with proper status codes (nil-safe).
func RecordError(span trace.Span, err error) {
	if span != nil && err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
}

// SetSpanSuccess marks a span as successful (nil-safe).
func SetSpanSuccess(span trace.Span) {
	if span != nil {
		span.SetStatus(codes.Ok, "")
	}
}

// SetSpanError sets an error status on a span (nil-safe).
func SetSpanError(span trace.Span, message string) {
	if span != nil {
		span.SetStatus(codes.Error, message)
	}
}

// SetSpanAttributes sets attributes on a span (nil-safe).
func SetSpanAttributes(span trace.Span, attrs ...attribute.KeyValue) {
	if span != nil {
		span.SetAttributes(attrs...)
	}
}

// AddCacheOperationAttributes adds common cache operation attributes to a
// span (nil-safe).
func AddCacheOperationAttributes(span trace.Span, clientID, environment, realm string) {
	if clientID != "" {
		SetSpanAttributes(span, attribute.String(AttrClientID, clientID))
	}
	if environment != "" {
		SetSpanAttributes(span, attribute.String(AttrEnvironment, environment))
	}
	if realm != "" {
		SetSpanAttributes(span, attribute.String(AttrRealm, realm))
	}
}

// AddMatchAttributes adds match outcome attributes to a span (nil-safe).
func AddMatchAttributes(span trace.Span, credentialType, result string, extended bool) {
	SetSpanAttributes(span,
		attribute.String(AttrCredentialType, credentialType),
		attribute.String(AttrMatchResult, result),
		attribute.Bool(AttrExtendedMatch, extended),
	)
}

// AddSerializationAttributes adds serialization attributes to a span
// (nil-safe).
func AddSerializationAttributes(span trace.Span, schema string, stateChanged bool) {
	SetSpanAttributes(span,
		attribute.String(AttrSchema, schema),
		attribute.Bool(AttrStateChanged, stateChanged),
	)
}
