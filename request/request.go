// Package request defines the transient parameter object a single logical
// token operation carries into the cache engine: the resolved authority, the
// requested scope set, the client, the target account, and for on-behalf-of
// flows the inbound user assertion.
package request

import (
	"crypto/sha256"
	"encoding/base64"

	"github.com/google/uuid"

	"github.com/identitykit/tokencache/authority"
	"github.com/identitykit/tokencache/credential"
)

// Flow classifies the token acquisition flow, which decides how the cache
// partitions and matches credentials.
type Flow int

const (
	// FlowUser is an interactive or silent flow on behalf of a signed-in
	// user account.
	FlowUser Flow = iota

	// FlowClientCredentials is an app-only flow with no user account.
	FlowClientCredentials

	// FlowOnBehalfOf exchanges an inbound user assertion; cached tokens are
	// bound to the hash of that assertion.
	FlowOnBehalfOf
)

// reservedScopes are always requested so a refresh token and ID token come
// back with every response. They are implied, never counted against scope
// matching by callers who omit them.
var reservedScopes = credential.NewScopeSet("openid", "profile", "offline_access")

// Params carries everything the cache engine needs to know about one logical
// operation. It is constructed once per operation and never persisted.
type Params struct {
	Authority authority.Info
	ClientID  string

	// Scopes is the requested scope set, already unioned with the reserved
	// scopes by New.
	Scopes credential.ScopeSet

	// Account is the target account for silent user flows; zero for
	// app-only flows.
	Account credential.Account

	// HomeAccountID is the account's composite id; empty for app-only.
	HomeAccountID string

	LoginHint string

	// UserAssertion is the inbound caller assertion for on-behalf-of flows.
	UserAssertion string

	// Claims is a requested-claims JSON challenge. Its presence forces a
	// network call; its hash travels with the cached token.
	Claims string

	Flow Flow

	// KeyID is set for proof-of-possession requests and must match the
	// cached token's key id.
	KeyID string

	// CorrelationID ties cache operations to the wider request in logs.
	CorrelationID uuid.UUID

	// ExtraQueryParams pass through to the transport; the cache ignores
	// them but keeps them with the operation for logging parity.
	ExtraQueryParams map[string]string
}

// New builds request parameters for one operation. The requested scopes are
// unioned with the reserved openid/profile/offline_access scopes and a fresh
// correlation id is assigned.
func New(clientID string, auth authority.Info, scopes ...string) Params {
	return Params{
		Authority:     auth,
		ClientID:      clientID,
		Scopes:        credential.NewScopeSet(scopes...).Union(reservedScopes),
		CorrelationID: uuid.New(),
	}
}

// WithAccount returns a copy of p targeting the given account.
func (p Params) WithAccount(account credential.Account) Params {
	p.Account = account
	p.HomeAccountID = account.HomeAccountID
	return p
}

// WithUserAssertion returns a copy of p bound to an inbound assertion,
// marking the flow on-behalf-of.
func (p Params) WithUserAssertion(assertion string) Params {
	p.UserAssertion = assertion
	p.Flow = FlowOnBehalfOf
	return p
}

// CacheScopes returns the requested scopes with the reserved scopes
// stripped. Cache matching ignores the reserved scopes on the request side:
// every grant implies them, so requiring them would make a request miss
// tokens cached from responses that did not echo them back.
func (p Params) CacheScopes() credential.ScopeSet {
	return p.Scopes.Without(reservedScopes)
}

// AppOnly reports whether this is a client-credential (no user) operation.
func (p Params) AppOnly() bool {
	return p.Flow == FlowClientCredentials
}

// AssertionHash returns the binding hash of the inbound user assertion:
// SHA-256, base64url without padding. Empty when the flow carries no
// assertion.
func (p Params) AssertionHash() string {
	if p.UserAssertion == "" {
		return ""
	}
	return hashString(p.UserAssertion)
}

// ClaimsHash returns the hash of the requested-claims challenge, empty when
// no claims were requested.
func (p Params) ClaimsHash() string {
	if p.Claims == "" {
		return ""
	}
	return hashString(p.Claims)
}

func hashString(s string) string {
	sum := sha256.Sum256([]byte(s))
	return base64.RawURLEncoding.EncodeToString(sum[:])
}
