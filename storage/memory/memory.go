// Package memory provides the map-backed in-memory Accessor. It is the
// default backing store for a token cache instance and the working set that
// external persistence is deserialized into.
package memory

import (
	"encoding/json"
	"sync"

	"github.com/identitykit/tokencache/credential"
	"github.com/identitykit/tokencache/storage"
)

// Store is an in-memory implementation of storage.Accessor. It is safe for
// concurrent use; each operation locks independently. Callers needing
// multi-operation atomicity must serialize access themselves, which the
// cache layer above this package does.
type Store struct {
	mu sync.RWMutex

	accessTokens  map[string]credential.AccessToken
	refreshTokens map[string]credential.RefreshToken
	idTokens      map[string]credential.IDToken
	accounts      map[string]credential.Account
	appMetadata   map[string]credential.AppMetadata

	// unknownSections carries top-level schema sections this version does
	// not recognize, preserved across serialize round-trips.
	unknownSections map[string]json.RawMessage
}

// Compile-time interface checks.
var (
	_ storage.Accessor            = (*Store)(nil)
	_ storage.UnknownSectionStore = (*Store)(nil)
)

// New creates an empty in-memory store.
func New() *Store {
	return &Store{
		accessTokens:  make(map[string]credential.AccessToken),
		refreshTokens: make(map[string]credential.RefreshToken),
		idTokens:      make(map[string]credential.IDToken),
		accounts:      make(map[string]credential.Account),
		appMetadata:   make(map[string]credential.AppMetadata),
	}
}

// ============================================================
// Access tokens
// ============================================================

// SaveAccessToken upserts by the record's key.
func (s *Store) SaveAccessToken(at credential.AccessToken) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.accessTokens[at.Key()] = at
	return nil
}

// AccessTokens returns all stored access tokens.
func (s *Store) AccessTokens() ([]credential.AccessToken, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]credential.AccessToken, 0, len(s.accessTokens))
	for _, at := range s.accessTokens {
		out = append(out, at)
	}
	return out, nil
}

// DeleteAccessToken removes the record under key, if any.
func (s *Store) DeleteAccessToken(key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.accessTokens, key)
	return nil
}

// ============================================================
// Refresh tokens
// ============================================================

func (s *Store) SaveRefreshToken(rt credential.RefreshToken) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.refreshTokens[rt.Key()] = rt
	return nil
}

func (s *Store) RefreshTokens() ([]credential.RefreshToken, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]credential.RefreshToken, 0, len(s.refreshTokens))
	for _, rt := range s.refreshTokens {
		out = append(out, rt)
	}
	return out, nil
}

func (s *Store) DeleteRefreshToken(key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.refreshTokens, key)
	return nil
}

// ============================================================
// ID tokens
// ============================================================

func (s *Store) SaveIDToken(idt credential.IDToken) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.idTokens[idt.Key()] = idt
	return nil
}

func (s *Store) IDTokens() ([]credential.IDToken, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]credential.IDToken, 0, len(s.idTokens))
	for _, idt := range s.idTokens {
		out = append(out, idt)
	}
	return out, nil
}

func (s *Store) DeleteIDToken(key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.idTokens, key)
	return nil
}

// ============================================================
// Accounts
// ============================================================

func (s *Store) SaveAccount(acc credential.Account) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.accounts[acc.Key()] = acc
	return nil
}

func (s *Store) Accounts() ([]credential.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]credential.Account, 0, len(s.accounts))
	for _, acc := range s.accounts {
		out = append(out, acc)
	}
	return out, nil
}

func (s *Store) DeleteAccount(key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.accounts, key)
	return nil
}

// ============================================================
// App metadata
// ============================================================

func (s *Store) SaveAppMetadata(md credential.AppMetadata) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.appMetadata[md.Key()] = md
	return nil
}

func (s *Store) AppMetadata() ([]credential.AppMetadata, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]credential.AppMetadata, 0, len(s.appMetadata))
	for _, md := range s.appMetadata {
		out = append(out, md)
	}
	return out, nil
}

func (s *Store) DeleteAppMetadata(key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.appMetadata, key)
	return nil
}

// ============================================================
// Bulk operations
// ============================================================

// Clear drops every record and any preserved unknown sections.
func (s *Store) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.accessTokens = make(map[string]credential.AccessToken)
	s.refreshTokens = make(map[string]credential.RefreshToken)
	s.idTokens = make(map[string]credential.IDToken)
	s.accounts = make(map[string]credential.Account)
	s.appMetadata = make(map[string]credential.AppMetadata)
	s.unknownSections = nil
	return nil
}

// ItemCounts reports per-collection sizes.
func (s *Store) ItemCounts() storage.ItemCounts {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return storage.ItemCounts{
		AccessTokens:  len(s.accessTokens),
		RefreshTokens: len(s.refreshTokens),
		IDTokens:      len(s.idTokens),
		Accounts:      len(s.accounts),
		AppMetadata:   len(s.appMetadata),
	}
}

// SetUnknownSections stores unrecognized top-level schema sections.
func (s *Store) SetUnknownSections(sections map[string]json.RawMessage) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.unknownSections = sections
}

// UnknownSections returns the preserved unrecognized sections.
func (s *Store) UnknownSections() map[string]json.RawMessage {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.unknownSections
}
