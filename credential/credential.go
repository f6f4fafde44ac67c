package credential

import (
	"encoding/json"
	"strings"
	"time"
)

// Credential type discriminators as they appear in the persisted schema.
const (
	TypeAccessToken  = "AccessToken"
	TypeRefreshToken = "RefreshToken"
	TypeIDToken      = "IdToken"
)

// Account authority type tags.
const (
	AccountTypeMSSTS = "MSSTS"
	AccountTypeADFS  = "ADFS"
	AccountTypeB2C   = "B2C"
)

// keyDelimiter joins the identifying fields of a record into its cache key.
const keyDelimiter = "-"

// homeAccountSeparator joins the object id and tenant id halves of a home
// account id.
const homeAccountSeparator = "."

// HomeAccountID composes the composite <object-id>.<tenant-id> identifier
// that uniquely identifies a user across tenants.
func HomeAccountID(uniqueID, tenantID string) string {
	if uniqueID == "" && tenantID == "" {
		return ""
	}
	return uniqueID + homeAccountSeparator + tenantID
}

func joinKey(parts ...string) string {
	return strings.ToLower(strings.Join(parts, keyDelimiter))
}

// AccessToken is a cached access token. The tuple (environment, client id,
// realm, target, user assertion hash) identifies it; duplicates are tolerated
// by readers and resolved deterministically.
type AccessToken struct {
	HomeAccountID       string   `json:"home_account_id,omitempty"`
	Environment         string   `json:"environment,omitempty"`
	Realm               string   `json:"realm,omitempty"`
	CredentialType      string   `json:"credential_type,omitempty"`
	ClientID            string   `json:"client_id,omitempty"`
	Secret              string   `json:"secret,omitempty"`
	Target              string   `json:"target,omitempty"`
	CachedAt            UnixTime `json:"cached_at,omitempty"`
	ExpiresOn           UnixTime `json:"expires_on,omitempty"`
	ExtendedExpiresOn   UnixTime `json:"extended_expires_on,omitempty"`
	TokenType           string   `json:"token_type,omitempty"`
	UserAssertionHash   string   `json:"user_assertion_hash,omitempty"`
	KeyID               string   `json:"key_id,omitempty"`
	RequestedClaimsHash string   `json:"requested_claims_hash,omitempty"`

	// AdditionalFields holds per-object fields this version does not
	// recognize. They round-trip verbatim.
	AdditionalFields map[string]json.RawMessage `json:"-"`
}

// NewAccessToken builds an access token record from a token response.
// tokenType defaults to Bearer when empty.
func NewAccessToken(homeAccountID, environment, realm, clientID string, cachedAt, expiresOn, extendedExpiresOn time.Time, scopes ScopeSet, secret, tokenType string) AccessToken {
	if tokenType == "" {
		tokenType = "Bearer"
	}
	return AccessToken{
		HomeAccountID:     homeAccountID,
		Environment:       environment,
		Realm:             realm,
		CredentialType:    TypeAccessToken,
		ClientID:          clientID,
		Secret:            secret,
		Target:            scopes.Target(),
		CachedAt:          NewUnixTime(cachedAt),
		ExpiresOn:         NewUnixTime(expiresOn),
		ExtendedExpiresOn: NewUnixTime(extendedExpiresOn),
		TokenType:         tokenType,
	}
}

// Key returns the canonical cache key. The assertion hash participates when
// present so that on-behalf-of tokens bound to different inbound assertions
// never collide.
func (a AccessToken) Key() string {
	parts := []string{a.HomeAccountID, a.Environment, TypeAccessToken, a.ClientID, a.Realm, a.Target}
	if a.UserAssertionHash != "" {
		parts = append(parts, a.UserAssertionHash)
	}
	return joinKey(parts...)
}

// Scopes parses the persisted target field into a set.
func (a AccessToken) Scopes() ScopeSet {
	return ParseTarget(a.Target)
}

// RefreshToken is a cached refresh token. Refresh tokens are not scoped to a
// realm or target; one exists per (environment, client id, home account id),
// or per family when FamilyID is set.
type RefreshToken struct {
	HomeAccountID     string `json:"home_account_id,omitempty"`
	Environment       string `json:"environment,omitempty"`
	CredentialType    string `json:"credential_type,omitempty"`
	ClientID          string `json:"client_id,omitempty"`
	FamilyID          string `json:"family_id,omitempty"`
	Secret            string `json:"secret,omitempty"`
	UserAssertionHash string `json:"user_assertion_hash,omitempty"`

	AdditionalFields map[string]json.RawMessage `json:"-"`
}

// NewRefreshToken builds a refresh token record.
func NewRefreshToken(homeAccountID, environment, clientID, secret, familyID string) RefreshToken {
	return RefreshToken{
		HomeAccountID:  homeAccountID,
		Environment:    environment,
		CredentialType: TypeRefreshToken,
		ClientID:       clientID,
		FamilyID:       familyID,
		Secret:         secret,
	}
}

// Key returns the canonical cache key. Family refresh tokens key on the
// family id rather than the owning client id, so sibling clients overwrite a
// single shared entry.
func (r RefreshToken) Key() string {
	fourth := r.ClientID
	if r.FamilyID != "" {
		fourth = r.FamilyID
	}
	return joinKey(r.HomeAccountID, r.Environment, TypeRefreshToken, fourth)
}

// IDToken is a cached raw ID token JWT, replaced alongside its access token
// sibling.
type IDToken struct {
	HomeAccountID     string `json:"home_account_id,omitempty"`
	Environment       string `json:"environment,omitempty"`
	Realm             string `json:"realm,omitempty"`
	CredentialType    string `json:"credential_type,omitempty"`
	ClientID          string `json:"client_id,omitempty"`
	Secret            string `json:"secret,omitempty"`
	UserAssertionHash string `json:"user_assertion_hash,omitempty"`

	AdditionalFields map[string]json.RawMessage `json:"-"`
}

// NewIDToken builds an ID token record.
func NewIDToken(homeAccountID, environment, realm, clientID, rawJWT string) IDToken {
	return IDToken{
		HomeAccountID:  homeAccountID,
		Environment:    environment,
		Realm:          realm,
		CredentialType: TypeIDToken,
		ClientID:       clientID,
		Secret:         rawJWT,
	}
}

// Key returns the canonical cache key.
func (i IDToken) Key() string {
	return joinKey(i.HomeAccountID, i.Environment, TypeIDToken, i.ClientID, i.Realm)
}

// IsZero reports whether the record is empty.
func (i IDToken) IsZero() bool {
	return i.Secret == "" && i.HomeAccountID == "" && i.ClientID == ""
}

// Account is the displayable identity a set of tokens belongs to. It is
// upserted on every successful save and only removed by explicit account
// removal.
type Account struct {
	HomeAccountID    string `json:"home_account_id,omitempty"`
	Environment      string `json:"environment,omitempty"`
	Realm            string `json:"realm,omitempty"`
	LocalAccountID   string `json:"local_account_id,omitempty"`
	AuthorityType    string `json:"authority_type,omitempty"`
	PreferredUsername string `json:"username,omitempty"`

	// BrokerAccountIDs maps a client id to the account id a platform broker
	// (native SSO plugin) knows this account by.
	BrokerAccountIDs map[string]string `json:"broker_account_ids,omitempty"`

	AdditionalFields map[string]json.RawMessage `json:"-"`
}

// NewAccount builds an account record.
func NewAccount(homeAccountID, environment, realm, localAccountID, authorityType, username string) Account {
	return Account{
		HomeAccountID:     homeAccountID,
		Environment:       environment,
		Realm:             realm,
		LocalAccountID:    localAccountID,
		AuthorityType:     authorityType,
		PreferredUsername: username,
	}
}

// Key returns the canonical cache key.
func (a Account) Key() string {
	return joinKey(a.HomeAccountID, a.Environment, a.Realm)
}

// IsZero reports whether the record is empty.
func (a Account) IsZero() bool {
	return a.HomeAccountID == "" && a.Environment == "" && a.Realm == ""
}

// AppMetadata records whether a client application belongs to a family of
// clients that may share a family refresh token. Absence of a record means
// family membership is unknown; a record with an empty FamilyID means the
// client is confirmed not to be a member.
type AppMetadata struct {
	ClientID    string `json:"client_id,omitempty"`
	Environment string `json:"environment,omitempty"`
	FamilyID    string `json:"family_id,omitempty"`

	AdditionalFields map[string]json.RawMessage `json:"-"`
}

// NewAppMetadata builds an app metadata record.
func NewAppMetadata(familyID, clientID, environment string) AppMetadata {
	return AppMetadata{
		ClientID:    clientID,
		Environment: environment,
		FamilyID:    familyID,
	}
}

// Key returns the canonical cache key.
func (a AppMetadata) Key() string {
	return joinKey("appmetadata", a.Environment, a.ClientID)
}
