package tokencache

import (
	"time"

	"golang.org/x/oauth2"

	"github.com/identitykit/tokencache/cache"
	"github.com/identitykit/tokencache/credential"
)

// TokenSource says where a result's access token came from.
type TokenSource string

const (
	// SourceCache marks a token served from the cache without a network
	// exchange.
	SourceCache TokenSource = "cache"

	// SourceIdentityProvider marks a token that was just saved from a fresh
	// token response.
	SourceIdentityProvider TokenSource = "identity_provider"
)

// Result is the caller-facing outcome of a silent read or a save. A save of
// a response without an access token (the B2C zero-scope flow) yields an
// empty AccessToken and a zero ExpiresOn alongside a valid Account.
type Result struct {
	AccessToken   string
	TokenType     string
	ExpiresOn     time.Time
	GrantedScopes []string
	IDToken       string
	Account       credential.Account
	Source        TokenSource

	// ExtendedLifetime marks a token returned past its normal expiry under
	// extended-lifetime mode.
	ExtendedLifetime bool
}

// OAuth2Token exports the result as an x/oauth2 token for use with that
// ecosystem's clients. Returns nil when the result carries no access token.
func (r Result) OAuth2Token() *oauth2.Token {
	if r.AccessToken == "" {
		return nil
	}
	return &oauth2.Token{
		AccessToken: r.AccessToken,
		TokenType:   r.TokenType,
		Expiry:      r.ExpiresOn,
	}
}

func resultFromMatch(m *cache.MatchedAccessToken, idToken string, account credential.Account) Result {
	return Result{
		AccessToken:      m.Secret,
		TokenType:        m.TokenType,
		ExpiresOn:        m.ExpiresOn.T,
		GrantedScopes:    m.Scopes().Slice(),
		IDToken:          idToken,
		Account:          account,
		Source:           SourceCache,
		ExtendedLifetime: m.ExtendedLifetime,
	}
}

func resultFromSave(sr cache.SaveResult) Result {
	r := Result{
		Account: sr.Account,
		Source:  SourceIdentityProvider,
	}
	if sr.AccessToken != nil {
		r.AccessToken = sr.AccessToken.Secret
		r.TokenType = sr.AccessToken.TokenType
		r.ExpiresOn = sr.AccessToken.ExpiresOn.T
		r.GrantedScopes = sr.AccessToken.Scopes().Slice()
	}
	if sr.IDToken != nil {
		r.IDToken = sr.IDToken.Secret
	}
	return r
}
