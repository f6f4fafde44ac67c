// Package cache implements the token cache engine's read and write paths:
// finding the best cached access token, refresh token, and account for a
// request, and persisting a token response as credential records. It
// performs no locking and fires no host notifications; the public cache
// type wrapping it does both.
package cache

import (
	"context"
	"log/slog"
	"sort"
	"time"

	"github.com/identitykit/tokencache/authority"
	"github.com/identitykit/tokencache/credential"
	"github.com/identitykit/tokencache/request"
	"github.com/identitykit/tokencache/storage"
)

// Config tunes a Manager.
type Config struct {
	// ExtendedLifetimeEnabled allows returning a token past its normal
	// expiry while still inside its extended-expiry window, flagged as
	// such. Off by default; an outage-resilience opt-in.
	ExtendedLifetimeEnabled bool

	// Clock overrides the time source, for tests. Nil means time.Now.
	Clock func() time.Time
}

// Manager is the matching engine and save pipeline over a credential store.
// It is not safe for unsynchronized concurrent use with external
// serialization; the owning token cache serializes all access.
type Manager struct {
	store    storage.Accessor
	resolver *authority.Resolver
	logger   *slog.Logger

	extendedLifetime bool
	now              func() time.Time
}

// NewManager creates a Manager over the given store and alias resolver.
// A nil config uses defaults; a nil logger uses slog.Default().
func NewManager(store storage.Accessor, resolver *authority.Resolver, cfg *Config, logger *slog.Logger) *Manager {
	if cfg == nil {
		cfg = &Config{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	now := cfg.Clock
	if now == nil {
		now = time.Now
	}
	return &Manager{
		store:            store,
		resolver:         resolver,
		logger:           logger,
		extendedLifetime: cfg.ExtendedLifetimeEnabled,
		now:              now,
	}
}

// MatchedAccessToken is a cache hit. ExtendedLifetime marks a token
// returned past its normal expiry under extended-lifetime mode.
type MatchedAccessToken struct {
	credential.AccessToken
	ExtendedLifetime bool
}

// ReadAccessToken returns the best cached access token for the request, or
// (nil, nil) when nothing matches. A match requires:
//
//   - same client id and an alias-equivalent environment
//   - same realm; user flows additionally require the request account's
//     home account id, app-only flows match on realm alone
//   - the cached scope set is a superset of the requested set
//   - exact assertion binding: both sides carry the same assertion hash,
//     or neither carries one
//   - same proof-of-possession key id and requested-claims hash
//   - not expired, or inside the extended window with extended-lifetime
//     mode enabled
//
// Ties are broken by most recent CachedAt, then by key order, so repeated
// reads against a cache holding duplicates stay deterministic.
func (m *Manager) ReadAccessToken(ctx context.Context, params request.Params) (*MatchedAccessToken, error) {
	aliases, err := m.resolver.Aliases(ctx, params.Authority.Host)
	if err != nil {
		return nil, err
	}

	ats, err := m.store.AccessTokens()
	if err != nil {
		return nil, err
	}

	realm := params.Authority.Tenant
	assertionHash := params.AssertionHash()
	claimsHash := params.ClaimsHash()
	requested := params.CacheScopes()

	var candidates []credential.AccessToken
	for _, at := range ats {
		if at.ClientID != params.ClientID || !hasAlias(at.Environment, aliases) {
			continue
		}
		if at.Realm != realm {
			continue
		}
		if !params.AppOnly() && at.HomeAccountID != params.HomeAccountID {
			continue
		}
		if at.UserAssertionHash != assertionHash {
			continue
		}
		if at.KeyID != params.KeyID || at.RequestedClaimsHash != claimsHash {
			continue
		}
		if !requested.IsSubsetOf(at.Scopes()) {
			continue
		}
		candidates = append(candidates, at)
	}
	if len(candidates) == 0 {
		return nil, nil
	}

	if len(candidates) > 1 {
		// Duplicates are tolerated but picked deterministically: newest
		// CachedAt wins, key order settles exact ties.
		sort.Slice(candidates, func(i, j int) bool {
			ti, tj := candidates[i].CachedAt.T, candidates[j].CachedAt.T
			if !ti.Equal(tj) {
				return ti.After(tj)
			}
			return candidates[i].Key() < candidates[j].Key()
		})
		m.logger.Debug("multiple access tokens matched, using newest",
			"count", len(candidates),
			"client_id", params.ClientID,
			"correlation_id", params.CorrelationID)
	}

	now := m.now()
	for _, at := range candidates {
		if now.Before(at.ExpiresOn.T) {
			return &MatchedAccessToken{AccessToken: at}, nil
		}
		if m.extendedLifetime && now.Before(at.ExtendedExpiresOn.T) {
			m.logger.Info("returning access token under extended lifetime",
				"client_id", params.ClientID,
				"expires_on", at.ExpiresOn.T,
				"extended_expires_on", at.ExtendedExpiresOn.T,
				"correlation_id", params.CorrelationID)
			return &MatchedAccessToken{AccessToken: at, ExtendedLifetime: true}, nil
		}
	}
	return nil, nil
}

// ReadRefreshToken returns the refresh token for the request, or (nil, nil)
// when none exists. Refresh tokens are not scope- or realm-scoped. The
// client's own token is preferred; when the client has none and app
// metadata does not rule out family membership, a family refresh token from
// a sibling client is returned instead.
func (m *Manager) ReadRefreshToken(ctx context.Context, params request.Params) (*credential.RefreshToken, error) {
	aliases, err := m.resolver.Aliases(ctx, params.Authority.Host)
	if err != nil {
		return nil, err
	}

	rts, err := m.store.RefreshTokens()
	if err != nil {
		return nil, err
	}

	assertionHash := params.AssertionHash()
	matches := func(rt credential.RefreshToken) bool {
		return rt.HomeAccountID == params.HomeAccountID &&
			hasAlias(rt.Environment, aliases) &&
			rt.UserAssertionHash == assertionHash
	}

	for _, rt := range rts {
		if matches(rt) && rt.ClientID == params.ClientID {
			return &rt, nil
		}
	}

	familyID, known, err := m.familyMembership(ctx, params, aliases)
	if err != nil {
		return nil, err
	}
	if known && familyID == "" {
		// Confirmed non-member: a sibling's family token is off limits.
		return nil, nil
	}

	for _, rt := range rts {
		if !matches(rt) || rt.FamilyID == "" {
			continue
		}
		if known && rt.FamilyID != familyID {
			continue
		}
		return &rt, nil
	}
	return nil, nil
}

// IsFamilyMember reports whether the requesting client belongs to the given
// refresh token family. known is false when no app metadata exists yet, in
// which case membership is undetermined and callers should still attempt
// the silent path.
func (m *Manager) IsFamilyMember(ctx context.Context, params request.Params, familyID string) (member, known bool, err error) {
	aliases, err := m.resolver.Aliases(ctx, params.Authority.Host)
	if err != nil {
		return false, false, err
	}
	got, known, err := m.familyMembership(ctx, params, aliases)
	if err != nil {
		return false, false, err
	}
	return known && got == familyID && familyID != "", known, nil
}

// familyMembership finds the requesting client's app metadata across
// alias-equivalent environments. known is false when no record exists.
func (m *Manager) familyMembership(_ context.Context, params request.Params, aliases []string) (familyID string, known bool, err error) {
	mds, err := m.store.AppMetadata()
	if err != nil {
		return "", false, err
	}
	for _, md := range mds {
		if md.ClientID == params.ClientID && hasAlias(md.Environment, aliases) {
			return md.FamilyID, true, nil
		}
	}
	return "", false, nil
}

// ReadAccount returns the stored account for the request's home account id
// and realm across alias-equivalent environments, or (nil, nil).
func (m *Manager) ReadAccount(ctx context.Context, params request.Params) (*credential.Account, error) {
	if params.HomeAccountID == "" {
		return nil, nil
	}
	aliases, err := m.resolver.Aliases(ctx, params.Authority.Host)
	if err != nil {
		return nil, err
	}
	accs, err := m.store.Accounts()
	if err != nil {
		return nil, err
	}
	realm := params.Authority.Tenant
	for _, acc := range accs {
		if acc.HomeAccountID == params.HomeAccountID && hasAlias(acc.Environment, aliases) && acc.Realm == realm {
			return &acc, nil
		}
	}
	return nil, nil
}

// ReadIDToken returns the stored ID token for the request's home account
// id, client, and realm across alias-equivalent environments, or (nil, nil).
// On-behalf-of requests only see tokens bound to the same assertion.
func (m *Manager) ReadIDToken(ctx context.Context, params request.Params) (*credential.IDToken, error) {
	if params.HomeAccountID == "" {
		return nil, nil
	}
	aliases, err := m.resolver.Aliases(ctx, params.Authority.Host)
	if err != nil {
		return nil, err
	}
	idts, err := m.store.IDTokens()
	if err != nil {
		return nil, err
	}
	realm := params.Authority.Tenant
	assertionHash := params.AssertionHash()
	for _, idt := range idts {
		if idt.HomeAccountID == params.HomeAccountID &&
			idt.ClientID == params.ClientID &&
			hasAlias(idt.Environment, aliases) &&
			idt.Realm == realm &&
			idt.UserAssertionHash == assertionHash {
			return &idt, nil
		}
	}
	return nil, nil
}

// Accounts lists every stored account, sorted by key for stable output.
func (m *Manager) Accounts(ctx context.Context) ([]credential.Account, error) {
	accs, err := m.store.Accounts()
	if err != nil {
		return nil, err
	}
	sort.Slice(accs, func(i, j int) bool { return accs[i].Key() < accs[j].Key() })
	return accs, nil
}

func hasAlias(env string, aliases []string) bool {
	for _, a := range aliases {
		if env == a {
			return true
		}
	}
	return false
}
