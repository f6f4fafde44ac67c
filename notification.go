package tokencache

import (
	"context"
)

// NotificationArgs describes one guarded cache access to the host's
// persistence hooks.
type NotificationArgs struct {
	// ClientID is the client application the cache serves.
	ClientID string

	// Account is the target account of the operation, when one is known.
	Account Account

	// HasStateChanged reports whether the operation mutated the cache. Hosts
	// should persist in the after-access hook if and only if this is set.
	// Read operations never set it; deserializing empty content does not
	// set it either. A failed operation never sets it: any partial writes it
	// made are not offered for persistence.
	HasStateChanged bool

	// IsApplicationCache marks the app (client-credential) token cache as
	// opposed to the user token cache.
	IsApplicationCache bool

	// HasTokens reports whether the cache currently holds at least one
	// access or refresh token.
	HasTokens bool

	// SuggestedCacheKey is a partitioning key for hosts that keep one blob
	// per principal: the home account id for user flows, the client id with
	// an "_AppTokenCache" suffix for app-only flows, and the assertion hash
	// for on-behalf-of flows.
	SuggestedCacheKey string
}

// Account identifies the account an operation targets, in host-friendly
// form.
type Account struct {
	HomeAccountID     string
	Environment       string
	Realm             string
	PreferredUsername string
}

// Marshaler renders the cache contents. Passed to after-access hooks; calling
// it does not take the cache lock, the hook already runs under it.
type Marshaler interface {
	Marshal() ([]byte, error)
}

// Unmarshaler replaces the cache contents. Passed to before-access hooks;
// calling it does not take the cache lock, the hook already runs under it.
type Unmarshaler interface {
	Unmarshal(data []byte) error
}

// Persister is implemented by hosts that keep the cache in external storage.
// BeforeAccess runs inside the critical section before the operation and may
// load bytes into the cache; AfterAccess runs after the operation and may
// persist the cache when args.HasStateChanged is set. Errors from either
// hook abort the operation and surface to the caller unchanged.
//
// Both hooks block every other operation on the same cache instance for
// their duration. A hung hook hangs the cache.
type Persister interface {
	BeforeAccess(ctx context.Context, cache Unmarshaler, args NotificationArgs) error
	AfterAccess(ctx context.Context, cache Marshaler, args NotificationArgs) error
}
