// Package legacy bridges the cache to the flat ADAL-compatible format older
// clients still read and write, keeping single sign-on working across the
// generation boundary. The bridge holds a single array of flat entries,
// written through on every eligible save and merged into account enumeration
// on read. It has no hidden state: bytes in, entries out, merged accounts
// out.
package legacy

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/url"
	"sort"
	"strings"

	"github.com/identitykit/tokencache/credential"
	"github.com/identitykit/tokencache/internal/util"
)

// SubjectTypeUser tags entries written for signed-in user flows, the only
// kind the flat format can represent.
const SubjectTypeUser = "user"

// Entry is one record of the flat format. The sextuple (authority, resource,
// client id, subject type, unique id, displayable id) identifies it.
type Entry struct {
	Authority     string `json:"authority"`
	Resource      string `json:"resource"`
	ClientID      string `json:"client_id"`
	SubjectType   string `json:"subject_type"`
	UniqueID      string `json:"unique_id"`
	DisplayableID string `json:"displayable_id"`

	RefreshToken string `json:"refresh_token"`
	FamilyID     string `json:"family_id,omitempty"`
	TenantID     string `json:"tenant_id,omitempty"`
}

// Key returns the entry's identifying sextuple in joined form.
func (e Entry) Key() string {
	return strings.ToLower(strings.Join([]string{
		e.Authority, e.Resource, e.ClientID, e.SubjectType, e.UniqueID, e.DisplayableID,
	}, "-"))
}

// compatibilityKey collapses entries that differ only in scope-string
// spelling. The resource string is re-parsed as a scope set, so two entries
// whose resources are the same scopes in different order or case share one
// key and one account.
func (e Entry) compatibilityKey() string {
	host := e.Authority
	if u, err := url.Parse(e.Authority); err == nil && u.Host != "" {
		host = u.Host
	}
	return strings.ToLower(strings.Join([]string{
		host, e.UniqueID, e.DisplayableID, credential.ParseTarget(e.Resource).Target(),
	}, "-"))
}

// Bridge is the in-memory flat store. It performs no locking; the owning
// token cache serializes access the same way it does for the primary store.
type Bridge struct {
	entries map[string]Entry
	logger  *slog.Logger
}

// NewBridge creates an empty bridge. A nil logger defaults to slog.Default().
func NewBridge(logger *slog.Logger) *Bridge {
	if logger == nil {
		logger = slog.Default()
	}
	return &Bridge{
		entries: make(map[string]Entry),
		logger:  logger,
	}
}

// Add upserts an entry by its identifying sextuple.
func (b *Bridge) Add(e Entry) {
	if e.SubjectType == "" {
		e.SubjectType = SubjectTypeUser
	}
	b.entries[e.Key()] = e
}

// Entries returns the stored entries sorted by key.
func (b *Bridge) Entries() []Entry {
	out := make([]Entry, 0, len(b.entries))
	for _, e := range b.entries {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key() < out[j].Key() })
	return out
}

// Len returns the number of stored entries.
func (b *Bridge) Len() int {
	return len(b.entries)
}

// Clear drops every entry.
func (b *Bridge) Clear() {
	b.entries = make(map[string]Entry)
}

// Marshal renders the entries as the flat single-array document.
func (b *Bridge) Marshal() ([]byte, error) {
	return json.Marshal(b.Entries())
}

// Unmarshal replaces the bridge contents with the decoded entries,
// collapsing duplicates that share a compatibility key. Older writers
// produced one entry per resource spelling; re-parsed equivalents keep only
// the last occurrence rather than fanning out into duplicate accounts.
// Empty input yields an empty bridge without error.
func (b *Bridge) Unmarshal(data []byte) error {
	b.entries = make(map[string]Entry)
	trimmed := strings.TrimSpace(string(data))
	if trimmed == "" || trimmed == "null" {
		return nil
	}

	var raw []Entry
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("cannot parse legacy flat cache: %w", err)
	}

	seen := make(map[string]string) // compatibility key -> entry key
	for _, e := range raw {
		compat := e.compatibilityKey()
		if prior, ok := seen[compat]; ok {
			// Recovered internally, never surfaced as an error.
			b.logger.Debug("collapsing duplicate legacy cache entry",
				"client_id", e.ClientID,
				"refresh_token_prefix", util.SafeTruncate(e.RefreshToken, 8))
			delete(b.entries, prior)
		}
		seen[compat] = e.Key()
		b.entries[e.Key()] = e
	}
	return nil
}

// Accounts derives account records from the stored entries, for merging into
// the primary cache's enumeration. Entries without a unique id carry no
// usable identity and are skipped.
func (b *Bridge) Accounts() []credential.Account {
	byKey := make(map[string]credential.Account)
	for _, e := range b.entries {
		if e.UniqueID == "" {
			continue
		}
		host := e.Authority
		if u, err := url.Parse(e.Authority); err == nil && u.Host != "" {
			host = u.Host
		}
		acc := credential.NewAccount(
			credential.HomeAccountID(e.UniqueID, e.TenantID),
			host, e.TenantID, e.UniqueID,
			credential.AccountTypeMSSTS, e.DisplayableID,
		)
		byKey[acc.Key()] = acc
	}
	out := make([]credential.Account, 0, len(byKey))
	for _, acc := range byKey {
		out = append(out, acc)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key() < out[j].Key() })
	return out
}

// MergeAccounts unions the primary cache's accounts with the bridge-derived
// ones. Primary records win on key collisions; they carry strictly more
// information than a flat entry.
func (b *Bridge) MergeAccounts(primary []credential.Account) []credential.Account {
	byKey := make(map[string]credential.Account, len(primary))
	for _, acc := range b.Accounts() {
		byKey[acc.Key()] = acc
	}
	for _, acc := range primary {
		byKey[acc.Key()] = acc
	}
	out := make([]credential.Account, 0, len(byKey))
	for _, acc := range byKey {
		out = append(out, acc)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key() < out[j].Key() })
	return out
}

// RemoveAccount drops every entry belonging to the given unique id across
// the alias-equivalent hosts.
func (b *Bridge) RemoveAccount(uniqueID string, aliases []string) {
	for key, e := range b.entries {
		if !strings.EqualFold(e.UniqueID, uniqueID) {
			continue
		}
		host := e.Authority
		if u, err := url.Parse(e.Authority); err == nil && u.Host != "" {
			host = u.Host
		}
		for _, a := range aliases {
			if strings.EqualFold(host, a) {
				delete(b.entries, key)
				break
			}
		}
	}
}
