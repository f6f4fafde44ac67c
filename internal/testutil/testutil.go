// Package testutil provides fixtures and helpers shared by the token cache
// tests: a controllable clock, JWT/client-info builders, and canned token
// responses.
package testutil

import (
	"encoding/base64"
	"fmt"
	"time"

	"github.com/identitykit/tokencache/credential"
	"github.com/identitykit/tokencache/response"
)

// MockTime provides a controllable time source for deterministic expiry
// testing.
type MockTime struct {
	now time.Time
}

// NewMockTime creates a mock clock starting at t.
func NewMockTime(t time.Time) *MockTime {
	return &MockTime{now: t}
}

// Now returns the current mock time.
func (m *MockTime) Now() time.Time {
	return m.now
}

// Advance moves the mock time forward by d.
func (m *MockTime) Advance(d time.Duration) {
	m.now = m.now.Add(d)
}

// Set pins the mock time to t.
func (m *MockTime) Set(t time.Time) {
	m.now = t
}

// B64 encodes s as unpadded base64url, the encoding used by JWT segments
// and the client_info blob.
func B64(s string) string {
	return base64.RawURLEncoding.EncodeToString([]byte(s))
}

// JWT builds an unsigned JWT carrying the given payload JSON.
func JWT(payload string) string {
	return fmt.Sprintf("%s.%s.%s", B64(`{"alg":"none"}`), B64(payload), B64("sig"))
}

// IDTokenJWT builds an ID token for the given identity claims.
func IDTokenJWT(oid, tid, username string) string {
	return JWT(fmt.Sprintf(`{"oid":%q,"tid":%q,"preferred_username":%q,"sub":"sub-%s"}`, oid, tid, username, oid))
}

// ClientInfo builds an encoded client_info blob for the given uid/utid.
func ClientInfo(uid, utid string) string {
	return B64(fmt.Sprintf(`{"uid":%q,"utid":%q}`, uid, utid))
}

// TokenResponseOptions tweaks the canned response built by NewTokenResponse.
type TokenResponseOptions struct {
	NoAccessToken  bool
	NoRefreshToken bool
	NoIDToken      bool
	NoClientInfo   bool
	FamilyID       string
	Scopes         []string
	ExpiresIn      time.Duration
	ExtExpiresIn   time.Duration
}

// NewTokenResponse builds a parsed token response for the identity
// (uid, utid) as of now, with sane defaults: a bearer access token for the
// given scopes, a refresh token, an ID token, and client info.
func NewTokenResponse(now time.Time, uid, utid, username string, opts TokenResponseOptions) response.TokenResponse {
	if opts.ExpiresIn == 0 {
		opts.ExpiresIn = time.Hour
	}
	if opts.ExtExpiresIn == 0 {
		opts.ExtExpiresIn = 2 * time.Hour
	}
	if opts.Scopes == nil {
		opts.Scopes = []string{"user.read"}
	}

	tr := response.TokenResponse{
		GrantedScopes: credential.NewScopeSet(opts.Scopes...),
		ExpiresOn:     now.Add(opts.ExpiresIn),
		ExtExpiresOn:  now.Add(opts.ExtExpiresIn),
		TokenType:     "Bearer",
		FamilyID:      opts.FamilyID,
	}
	if !opts.NoAccessToken {
		tr.AccessToken = "at-" + uid
	}
	if !opts.NoRefreshToken {
		tr.RefreshToken = "rt-" + uid
	}
	if !opts.NoIDToken {
		idt, err := response.ParseIDToken(IDTokenJWT(uid, utid, username))
		if err != nil {
			panic(err)
		}
		tr.IDToken = idt
	}
	if !opts.NoClientInfo {
		ci, err := response.ParseClientInfo(ClientInfo(uid, utid))
		if err != nil {
			panic(err)
		}
		tr.ClientInfo = ci
	}
	return tr
}
