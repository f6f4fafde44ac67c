// Package tokencache is an OAuth2/OIDC credential cache: it stores, indexes,
// matches, and evicts the access tokens, refresh tokens, ID tokens, accounts,
// and app metadata a client application accumulates across token-acquisition
// flows.
//
// The TokenCache type is the public surface. It serializes every operation
// through a per-instance single-writer lock and brackets each one with the
// host's before/after-access persistence hooks, so an external blob can be
// swapped in and out around every read and write. The matching and save
// semantics live in the cache package; the wire formats in codec; the
// ADAL-compatible fallback in legacy.
package tokencache

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/identitykit/tokencache/audit"
	"github.com/identitykit/tokencache/authority"
	"github.com/identitykit/tokencache/cache"
	"github.com/identitykit/tokencache/codec"
	"github.com/identitykit/tokencache/credential"
	"github.com/identitykit/tokencache/instrumentation"
	"github.com/identitykit/tokencache/legacy"
	"github.com/identitykit/tokencache/request"
	"github.com/identitykit/tokencache/response"
	"github.com/identitykit/tokencache/storage"
	"github.com/identitykit/tokencache/storage/memory"
)

// appCacheKeySuffix builds the suggested partitioning key for the
// application (client-credential) cache.
const appCacheKeySuffix = "_AppTokenCache"

// Config configures a TokenCache.
type Config struct {
	// ClientID is the client application this cache serves. Required.
	ClientID string

	// IsApplicationCache marks this instance as the app (client-credential)
	// token cache. A user cache and an app cache are independent instances
	// with independent locks.
	IsApplicationCache bool

	// ExtendedLifetimeEnabled opts in to returning expired tokens still
	// inside their extended-expiry window, flagged as such.
	ExtendedLifetimeEnabled bool

	// Store is the backing credential store. Nil means a fresh in-memory
	// store.
	Store storage.Accessor

	// Discoverer resolves environment alias sets. Nil means every
	// environment aliases only itself.
	Discoverer authority.InstanceDiscoverer

	// Persister receives the before/after-access notifications. Nil means
	// the cache is purely in-memory and fires no notifications.
	Persister Persister

	// Instrumentation provides meters and tracers. Nil means no-op.
	Instrumentation *instrumentation.Instrumentation

	// Auditor receives PII-hashed cache lifecycle events. Nil disables
	// auditing.
	Auditor *audit.Auditor

	// Logger for cache diagnostics. Nil means slog.Default().
	Logger *slog.Logger

	// Clock overrides the time source, for tests.
	Clock func() time.Time
}

// TokenCache is one logical token cache instance. All methods are safe for
// concurrent use; a single-writer lock serializes every operation, including
// the persistence hooks, so hosts never observe a half-written external
// blob.
type TokenCache struct {
	mu sync.Mutex

	clientID   string
	isAppCache bool

	store    storage.Accessor
	manager  *cache.Manager
	resolver *authority.Resolver
	bridge   *legacy.Bridge

	persister Persister
	logger    *slog.Logger
	metrics   *instrumentation.Metrics
	auditor   *audit.Auditor
}

// New creates a token cache from the config.
func New(cfg Config) (*TokenCache, error) {
	if cfg.ClientID == "" {
		return nil, fmt.Errorf("token cache requires a client id")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	store := cfg.Store
	if store == nil {
		store = memory.New()
	}
	inst := cfg.Instrumentation
	if inst == nil {
		var err error
		inst, err = instrumentation.New(instrumentation.Config{Enabled: false})
		if err != nil {
			return nil, fmt.Errorf("failed to create no-op instrumentation: %w", err)
		}
	}

	if cfg.Instrumentation != nil {
		err := inst.RegisterItemCountsCallback(func() (int64, int64, int64, int64, int64) {
			counts := store.ItemCounts()
			return int64(counts.AccessTokens), int64(counts.RefreshTokens),
				int64(counts.IDTokens), int64(counts.Accounts), int64(counts.AppMetadata)
		})
		if err != nil {
			return nil, fmt.Errorf("failed to register item count gauges: %w", err)
		}
	}

	resolver := authority.NewResolver(cfg.Discoverer, logger)
	manager := cache.NewManager(store, resolver, &cache.Config{
		ExtendedLifetimeEnabled: cfg.ExtendedLifetimeEnabled,
		Clock:                   cfg.Clock,
	}, logger)

	return &TokenCache{
		clientID:   cfg.ClientID,
		isAppCache: cfg.IsApplicationCache,
		store:      store,
		manager:    manager,
		resolver:   resolver,
		bridge:     legacy.NewBridge(logger),
		persister:  cfg.Persister,
		logger:     logger,
		metrics:    inst.Metrics(),
		auditor:    cfg.Auditor,
	}, nil
}

// ============================================================================
// Concurrency Guard
// ============================================================================

// serializerView exposes the store to persistence hooks without taking the
// lock; the guard already holds it when a hook runs.
type serializerView struct {
	store storage.Accessor
}

func (v serializerView) Marshal() ([]byte, error) {
	return codec.JSON{}.Marshal(v.store)
}

func (v serializerView) Unmarshal(data []byte) error {
	_, err := codec.JSON{}.Unmarshal(data, v.store)
	return err
}

// guarded runs op inside the critical section: lock, before-access hook, op,
// after-access hook, unlock. The context is honored only before lock
// acquisition; once inside, the operation runs to completion so the external
// store is never left half-notified. The lock is released on every path.
// Hook errors abort the operation and surface unchanged.
//
// A failed op reports no state change even if it wrote to the store before
// failing: partial writes from a failed operation are deliberately not
// offered for persistence, and the next successful operation's snapshot
// supersedes them.
func (c *TokenCache) guarded(ctx context.Context, operation string, args NotificationArgs, op func() (stateChanged bool, err error)) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	lockStart := time.Now()
	c.mu.Lock()
	defer c.mu.Unlock()
	c.metrics.RecordLockWait(ctx, float64(time.Since(lockStart).Microseconds())/1000)

	opStart := time.Now()
	defer func() {
		c.metrics.RecordOperation(ctx, operation, float64(time.Since(opStart).Microseconds())/1000)
	}()

	view := serializerView{store: c.store}
	if c.persister != nil {
		args.HasTokens = c.hasTokens()
		if err := c.persister.BeforeAccess(ctx, view, args); err != nil {
			return fmt.Errorf("before-access hook: %w", err)
		}
	}

	changed, opErr := op()

	if c.persister != nil {
		args.HasStateChanged = changed
		args.HasTokens = c.hasTokens()
		if err := c.persister.AfterAccess(ctx, view, args); err != nil && opErr == nil {
			opErr = fmt.Errorf("after-access hook: %w", err)
		}
	}
	return opErr
}

// hasTokens reports whether any access or refresh token is stored. Called
// under the lock.
func (c *TokenCache) hasTokens() bool {
	counts := c.store.ItemCounts()
	return counts.AccessTokens > 0 || counts.RefreshTokens > 0
}

// notificationArgs builds the hook arguments for one operation.
func (c *TokenCache) notificationArgs(params request.Params) NotificationArgs {
	return NotificationArgs{
		ClientID: c.clientID,
		Account: Account{
			HomeAccountID:     params.Account.HomeAccountID,
			Environment:       params.Account.Environment,
			Realm:             params.Account.Realm,
			PreferredUsername: params.Account.PreferredUsername,
		},
		IsApplicationCache: c.isAppCache,
		SuggestedCacheKey:  c.suggestedCacheKey(params),
	}
}

// suggestedCacheKey partitions external blobs by principal: assertion hash
// for on-behalf-of, client id for app-only, home account id for user flows.
func (c *TokenCache) suggestedCacheKey(params request.Params) string {
	switch {
	case params.UserAssertion != "":
		return params.AssertionHash()
	case params.AppOnly() || c.isAppCache:
		return c.clientID + appCacheKeySuffix
	default:
		return params.HomeAccountID
	}
}

// bareArgs builds hook arguments for operations with no request context
// (enumeration, serialization).
func (c *TokenCache) bareArgs() NotificationArgs {
	args := NotificationArgs{
		ClientID:           c.clientID,
		IsApplicationCache: c.isAppCache,
	}
	if c.isAppCache {
		args.SuggestedCacheKey = c.clientID + appCacheKeySuffix
	}
	return args
}

// ============================================================================
// Read path
// ============================================================================

// ReadAccessToken returns the best cached access token for the request, or
// (nil, nil) when nothing usable is cached. A silent user request with no
// resource scopes cannot be served and fails with a scopes-required error
// instead of silently missing forever.
func (c *TokenCache) ReadAccessToken(ctx context.Context, params request.Params) (*Result, error) {
	if !params.AppOnly() && len(params.CacheScopes()) == 0 {
		return nil, cache.ErrScopesRequired("silent request carries no resource scopes")
	}

	var result *Result
	err := c.guarded(ctx, "read_access_token", c.notificationArgs(params), func() (bool, error) {
		match, err := c.manager.ReadAccessToken(ctx, params)
		if err != nil {
			return false, err
		}
		if match == nil {
			c.metrics.RecordCacheRead(ctx, credential.TypeAccessToken, instrumentation.ReadResultMiss)
			c.auditor.LogCacheRead(params.HomeAccountID, c.clientID, credential.TypeAccessToken, false, false)
			return false, nil
		}
		outcome := instrumentation.ReadResultHit
		if match.ExtendedLifetime {
			outcome = instrumentation.ReadResultExtended
		}
		c.metrics.RecordCacheRead(ctx, credential.TypeAccessToken, outcome)
		c.auditor.LogCacheRead(params.HomeAccountID, c.clientID, credential.TypeAccessToken, true, match.ExtendedLifetime)

		account, err := c.manager.ReadAccount(ctx, params)
		if err != nil {
			return false, err
		}
		var acc credential.Account
		if account != nil {
			acc = *account
		}
		idToken := ""
		if idt, err := c.manager.ReadIDToken(ctx, params); err != nil {
			return false, err
		} else if idt != nil {
			idToken = idt.Secret
		}
		r := resultFromMatch(match, idToken, acc)
		result = &r
		return false, nil
	})
	return result, err
}

// ReadRefreshToken returns the cached refresh token for the request,
// including the family fallback, or (nil, nil) on a miss.
func (c *TokenCache) ReadRefreshToken(ctx context.Context, params request.Params) (*credential.RefreshToken, error) {
	var rt *credential.RefreshToken
	err := c.guarded(ctx, "read_refresh_token", c.notificationArgs(params), func() (bool, error) {
		var err error
		rt, err = c.manager.ReadRefreshToken(ctx, params)
		if err != nil {
			return false, err
		}
		outcome := instrumentation.ReadResultMiss
		if rt != nil {
			outcome = instrumentation.ReadResultHit
		}
		c.metrics.RecordCacheRead(ctx, credential.TypeRefreshToken, outcome)
		return false, nil
	})
	return rt, err
}

// Accounts lists every account the cache knows, including those recovered
// from the legacy flat cache, sorted by key.
func (c *TokenCache) Accounts(ctx context.Context) ([]credential.Account, error) {
	var accs []credential.Account
	err := c.guarded(ctx, "accounts", c.bareArgs(), func() (bool, error) {
		primary, err := c.manager.Accounts(ctx)
		if err != nil {
			return false, err
		}
		accs = c.bridge.MergeAccounts(primary)
		return false, nil
	})
	return accs, err
}

// ============================================================================
// Write path
// ============================================================================

// SaveTokenResponse validates and persists a token response, returning the
// caller-facing result. On success the equivalent legacy flat entry is
// written through as well, except for B2C authorities and app-only flows,
// which the flat format cannot represent.
func (c *TokenCache) SaveTokenResponse(ctx context.Context, params request.Params, tr response.TokenResponse) (Result, error) {
	var result Result
	err := c.guarded(ctx, "save_token_response", c.notificationArgs(params), func() (bool, error) {
		sr, err := c.manager.SaveTokenResponse(ctx, params, tr)
		if err != nil {
			return false, err
		}
		result = resultFromSave(sr)

		if sr.AccessToken != nil {
			c.metrics.RecordCacheWrite(ctx, credential.TypeAccessToken, 1)
		}
		if tr.RefreshToken != "" {
			c.metrics.RecordCacheWrite(ctx, credential.TypeRefreshToken, 1)
		}

		c.writeLegacyEntry(params, tr)
		c.auditor.LogTokenCached(sr.Account.HomeAccountID, sr.Account.PreferredUsername, c.clientID, tr.GrantedScopes.Target())
		return true, nil
	})
	return result, err
}

// writeLegacyEntry mirrors a saved response into the ADAL-compatible flat
// store. Called under the lock.
func (c *TokenCache) writeLegacyEntry(params request.Params, tr response.TokenResponse) {
	if params.AppOnly() || params.Authority.Type == authority.TypeB2C {
		return
	}
	if tr.RefreshToken == "" || tr.ClientInfo.IsZero() {
		return
	}
	c.bridge.Add(legacy.Entry{
		Authority:     params.Authority.URI(),
		Resource:      tr.GrantedScopes.Target(),
		ClientID:      params.ClientID,
		SubjectType:   legacy.SubjectTypeUser,
		UniqueID:      tr.ClientInfo.UID,
		DisplayableID: tr.IDToken.PreferredUsername,
		RefreshToken:  tr.RefreshToken,
		FamilyID:      tr.FamilyID,
		TenantID:      tr.ClientInfo.UTID,
	})
}

// RemoveAccount deletes the account's credentials from the cache and its
// entries from the legacy flat store. Refresh tokens belonging to unrelated
// clients survive.
func (c *TokenCache) RemoveAccount(ctx context.Context, account credential.Account) error {
	params := request.Params{ClientID: c.clientID, Account: account, HomeAccountID: account.HomeAccountID}
	return c.guarded(ctx, "remove_account", c.notificationArgs(params), func() (bool, error) {
		if err := c.manager.RemoveAccount(ctx, account, c.clientID); err != nil {
			return false, err
		}
		aliases, err := c.resolver.Aliases(ctx, account.Environment)
		if err != nil {
			return false, err
		}
		c.bridge.RemoveAccount(uidOf(account.HomeAccountID), aliases)
		c.auditor.LogAccountRemoved(account.HomeAccountID, account.PreferredUsername, c.clientID)
		return true, nil
	})
}

// uidOf returns the object-id half of a home account id.
func uidOf(homeAccountID string) string {
	for i := len(homeAccountID) - 1; i >= 0; i-- {
		if homeAccountID[i] == '.' {
			return homeAccountID[:i]
		}
	}
	return homeAccountID
}

// ============================================================================
// Serialization boundary
// ============================================================================

// Marshal renders the cache under the given schema.
func (c *TokenCache) Marshal(ctx context.Context, schema codec.Schema) ([]byte, error) {
	cd, err := codecFor(schema)
	if err != nil {
		return nil, err
	}
	var data []byte
	err = c.guarded(ctx, "marshal", c.bareArgs(), func() (bool, error) {
		data, err = cd.Marshal(c.store)
		c.metrics.RecordSerialization(ctx, string(schema), "marshal", err)
		if err == nil {
			c.auditor.LogCacheExported(c.clientID, string(schema))
		}
		return false, err
	})
	return data, err
}

// Unmarshal replaces the cache contents with the decoded bytes. Empty or
// null input yields an empty cache and does not count as a state change;
// actual content does.
func (c *TokenCache) Unmarshal(ctx context.Context, data []byte, schema codec.Schema) error {
	cd, err := codecFor(schema)
	if err != nil {
		return err
	}
	return c.guarded(ctx, "unmarshal", c.bareArgs(), func() (bool, error) {
		changed, err := cd.Unmarshal(data, c.store)
		c.metrics.RecordSerialization(ctx, string(schema), "unmarshal", err)
		if err == nil {
			c.auditor.LogCacheLoaded(c.clientID, string(schema), changed)
		}
		return changed, err
	})
}

// MarshalLegacy renders the ADAL-compatible flat store.
func (c *TokenCache) MarshalLegacy(ctx context.Context) ([]byte, error) {
	var data []byte
	err := c.guarded(ctx, "marshal_legacy", c.bareArgs(), func() (bool, error) {
		var err error
		data, err = c.bridge.Marshal()
		return false, err
	})
	return data, err
}

// UnmarshalLegacy loads the ADAL-compatible flat store, collapsing duplicate
// entries. Loading is establishing the baseline, not changing it, so it
// never sets the state-changed flag.
func (c *TokenCache) UnmarshalLegacy(ctx context.Context, data []byte) error {
	return c.guarded(ctx, "unmarshal_legacy", c.bareArgs(), func() (bool, error) {
		return false, c.bridge.Unmarshal(data)
	})
}

func codecFor(schema codec.Schema) (codec.Codec, error) {
	switch schema {
	case codec.SchemaCurrent:
		return codec.JSON{}, nil
	case codec.SchemaLegacyDictionary:
		return codec.LegacyDictionary{}, nil
	default:
		return nil, fmt.Errorf("unknown cache schema %q", schema)
	}
}
