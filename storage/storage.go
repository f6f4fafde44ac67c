// Package storage defines the keyed store the token cache engine reads and
// writes credential records through. The five credential collections form a
// closed set; each gets its own typed CRUD surface so backends never need
// reflection or type switches over an open universe.
//
// An Accessor performs no synchronization beyond its own internal consistency
// and fires no notifications. Cross-operation atomicity and the host
// before/after-access protocol are the responsibility of the cache layer
// wrapping it.
package storage

import (
	"encoding/json"

	"github.com/identitykit/tokencache/credential"
)

// AccessTokenStore is the access token collection.
type AccessTokenStore interface {
	// SaveAccessToken upserts by the record's Key().
	SaveAccessToken(at credential.AccessToken) error

	// AccessTokens returns every stored access token in no particular order.
	AccessTokens() ([]credential.AccessToken, error)

	// DeleteAccessToken removes the record stored under key. Deleting an
	// absent key is not an error.
	DeleteAccessToken(key string) error
}

// RefreshTokenStore is the refresh token collection.
type RefreshTokenStore interface {
	SaveRefreshToken(rt credential.RefreshToken) error
	RefreshTokens() ([]credential.RefreshToken, error)
	DeleteRefreshToken(key string) error
}

// IDTokenStore is the ID token collection.
type IDTokenStore interface {
	SaveIDToken(idt credential.IDToken) error
	IDTokens() ([]credential.IDToken, error)
	DeleteIDToken(key string) error
}

// AccountStore is the account collection.
type AccountStore interface {
	SaveAccount(acc credential.Account) error
	Accounts() ([]credential.Account, error)
	DeleteAccount(key string) error
}

// AppMetadataStore is the app metadata collection.
type AppMetadataStore interface {
	SaveAppMetadata(md credential.AppMetadata) error
	AppMetadata() ([]credential.AppMetadata, error)
	DeleteAppMetadata(key string) error
}

// Accessor is the full credential store: all five collections plus bulk
// operations used at the serialization boundary and in tests.
type Accessor interface {
	AccessTokenStore
	RefreshTokenStore
	IDTokenStore
	AccountStore
	AppMetadataStore

	// Clear drops every record from all five collections.
	Clear() error

	// ItemCounts reports per-collection sizes, for diagnostics and tests.
	ItemCounts() ItemCounts
}

// ItemCounts is a per-collection size snapshot.
type ItemCounts struct {
	AccessTokens  int
	RefreshTokens int
	IDTokens      int
	Accounts      int
	AppMetadata   int
}

// Total sums all collections.
func (c ItemCounts) Total() int {
	return c.AccessTokens + c.RefreshTokens + c.IDTokens + c.Accounts + c.AppMetadata
}

// UnknownSectionStore is implemented by accessors that can hold top-level
// sections of the persisted schema this version does not recognize, so they
// survive a deserialize/serialize round-trip. The serialization layer probes
// for it with a type assertion.
type UnknownSectionStore interface {
	SetUnknownSections(sections map[string]json.RawMessage)
	UnknownSections() map[string]json.RawMessage
}
