// Package response models the token endpoint response the cache engine
// consumes: the three secrets, the client-info identity blob, granted
// scopes, and lifetimes. The transport that produced it is out of scope; a
// response can also be adapted from a golang.org/x/oauth2 Token.
package response

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"golang.org/x/oauth2"

	"github.com/identitykit/tokencache/credential"
)

// ErrMalformedIDToken marks an id_token that could not be decoded. Callers
// can map it to the cache error taxonomy's malformed_id_token code with
// errors.Is.
var ErrMalformedIDToken = errors.New("malformed id token")

// ClientInfo is the uid/utid pair identifying the authenticated user, sent
// by the token endpoint as base64url-encoded JSON.
type ClientInfo struct {
	UID  string `json:"uid"`
	UTID string `json:"utid"`
}

// ParseClientInfo decodes the raw client_info value. Empty input yields a
// zero ClientInfo without error; the save pipeline decides whether that is
// fatal for the flow at hand.
func ParseClientInfo(raw string) (ClientInfo, error) {
	if raw == "" {
		return ClientInfo{}, nil
	}
	b, err := base64.RawURLEncoding.DecodeString(strings.TrimRight(raw, "="))
	if err != nil {
		return ClientInfo{}, fmt.Errorf("client_info is not base64url: %w", err)
	}
	var ci ClientInfo
	if err := json.Unmarshal(b, &ci); err != nil {
		return ClientInfo{}, fmt.Errorf("client_info is not valid JSON: %w", err)
	}
	return ci, nil
}

// IsZero reports whether no identity was present.
func (c ClientInfo) IsZero() bool {
	return c.UID == "" && c.UTID == ""
}

// HomeAccountID composes the <uid>.<utid> home account identifier.
func (c ClientInfo) HomeAccountID() string {
	return credential.HomeAccountID(c.UID, c.UTID)
}

// IDToken is the subset of ID token claims the cache engine needs. The
// signature is not verified here; the protocol layer already did that, the
// cache only derives identity and realm from the payload.
type IDToken struct {
	RawToken          string `json:"-"`
	Issuer            string `json:"iss"`
	Subject           string `json:"sub"`
	ObjectID          string `json:"oid"`
	TenantID          string `json:"tid"`
	PreferredUsername string `json:"preferred_username"`
	Name              string `json:"name"`
}

// ParseIDToken decodes the payload segment of a raw JWT. An empty input
// yields a zero IDToken without error.
func ParseIDToken(raw string) (IDToken, error) {
	if raw == "" {
		return IDToken{}, nil
	}
	parts := strings.Split(raw, ".")
	if len(parts) != 3 {
		return IDToken{}, fmt.Errorf("%w: must have 3 segments, has %d", ErrMalformedIDToken, len(parts))
	}
	payload, err := base64.RawURLEncoding.DecodeString(strings.TrimRight(parts[1], "="))
	if err != nil {
		return IDToken{}, fmt.Errorf("%w: payload is not base64url: %v", ErrMalformedIDToken, err)
	}
	var idt IDToken
	if err := json.Unmarshal(payload, &idt); err != nil {
		return IDToken{}, fmt.Errorf("%w: payload is not valid JSON: %v", ErrMalformedIDToken, err)
	}
	idt.RawToken = raw
	return idt, nil
}

// IsZero reports whether the response carried no ID token.
func (i IDToken) IsZero() bool {
	return i.RawToken == ""
}

// LocalAccountID is the tenant-local account identifier: the oid claim,
// falling back to sub.
func (i IDToken) LocalAccountID() string {
	if i.ObjectID != "" {
		return i.ObjectID
	}
	return i.Subject
}

// TokenResponse is a normalized, parsed token endpoint response.
type TokenResponse struct {
	AccessToken  string
	RefreshToken string
	IDToken      IDToken
	ClientInfo   ClientInfo

	// GrantedScopes is the scope set the server actually granted; when the
	// server echoes nothing it defaults to the requested set.
	GrantedScopes credential.ScopeSet

	ExpiresOn    time.Time
	ExtExpiresOn time.Time
	TokenType    string

	// FamilyID marks the returned refresh token as a family refresh token
	// shared across the named family of client ids.
	FamilyID string
}

// wireTokenResponse mirrors the JSON shape a token endpoint returns.
type wireTokenResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	IDToken      string `json:"id_token"`
	ClientInfo   string `json:"client_info"`
	Scope        string `json:"scope"`
	ExpiresIn    int64  `json:"expires_in"`
	ExtExpiresIn int64  `json:"ext_expires_in"`
	TokenType    string `json:"token_type"`
	FamilyID     string `json:"foci"`
}

// Parse decodes raw token endpoint JSON. requestedScopes backfills
// GrantedScopes when the server omits the scope field; now anchors the
// expires_in/ext_expires_in conversion.
func Parse(raw []byte, requestedScopes credential.ScopeSet, now time.Time) (TokenResponse, error) {
	var w wireTokenResponse
	if err := json.Unmarshal(raw, &w); err != nil {
		return TokenResponse{}, fmt.Errorf("token response is not valid JSON: %w", err)
	}

	idt, err := ParseIDToken(w.IDToken)
	if err != nil {
		return TokenResponse{}, err
	}
	ci, err := ParseClientInfo(w.ClientInfo)
	if err != nil {
		return TokenResponse{}, err
	}

	granted := credential.ParseTarget(w.Scope)
	if len(granted) == 0 {
		granted = requestedScopes
	}

	tr := TokenResponse{
		AccessToken:   w.AccessToken,
		RefreshToken:  w.RefreshToken,
		IDToken:       idt,
		ClientInfo:    ci,
		GrantedScopes: granted,
		TokenType:     w.TokenType,
		FamilyID:      w.FamilyID,
	}
	if w.ExpiresIn > 0 {
		tr.ExpiresOn = now.Add(time.Duration(w.ExpiresIn) * time.Second)
	}
	if w.ExtExpiresIn > 0 {
		tr.ExtExpiresOn = now.Add(time.Duration(w.ExtExpiresIn) * time.Second)
	}
	return tr, nil
}

// FromOAuth2Token adapts a golang.org/x/oauth2 token, including the id_token,
// client_info, scope and foci extras carried on it, into a TokenResponse.
func FromOAuth2Token(t *oauth2.Token, requestedScopes credential.ScopeSet) (TokenResponse, error) {
	if t == nil {
		return TokenResponse{}, fmt.Errorf("oauth2 token is nil")
	}

	extraString := func(key string) string {
		s, _ := t.Extra(key).(string)
		return s
	}

	idt, err := ParseIDToken(extraString("id_token"))
	if err != nil {
		return TokenResponse{}, err
	}
	ci, err := ParseClientInfo(extraString("client_info"))
	if err != nil {
		return TokenResponse{}, err
	}

	granted := credential.ParseTarget(extraString("scope"))
	if len(granted) == 0 {
		granted = requestedScopes
	}

	return TokenResponse{
		AccessToken:   t.AccessToken,
		RefreshToken:  t.RefreshToken,
		IDToken:       idt,
		ClientInfo:    ci,
		GrantedScopes: granted,
		ExpiresOn:     t.Expiry,
		TokenType:     t.TokenType,
		FamilyID:      extraString("foci"),
	}, nil
}
