package cache

import (
	"context"
	"strings"

	"github.com/identitykit/tokencache/authority"
	"github.com/identitykit/tokencache/credential"
	"github.com/identitykit/tokencache/request"
	"github.com/identitykit/tokencache/response"
)

// SaveResult is what a successful save produced. AccessToken is nil when
// the response carried none (the B2C zero-scope flow); ExpiresOn is then
// the zero value on the caller's side.
type SaveResult struct {
	AccessToken *credential.AccessToken
	IDToken     *credential.IDToken
	Account     credential.Account
}

// SaveTokenResponse validates a token response against the request, then
// persists the access token, ID token, account, refresh token, and app
// metadata records derived from it. Validation happens before any write: a
// user-mismatch or missing-client-info failure leaves the store untouched.
func (m *Manager) SaveTokenResponse(ctx context.Context, params request.Params, tr response.TokenResponse) (SaveResult, error) {
	isB2C := params.Authority.Type == authority.TypeB2C

	// All validation precedes all writes.
	if !params.AppOnly() {
		if tr.ClientInfo.IsZero() {
			// A B2C policy flow with no scopes returns no access token and
			// may return no client_info; that response still carries a
			// usable ID token and account.
			if !(isB2C && tr.AccessToken == "") {
				return SaveResult{}, ErrMissingClientInfo("token response carried no client info on a user flow")
			}
		}
		// The realm correction and account record both come from the ID
		// token. A user-flow response without one would persist credentials
		// no account can ever be derived for.
		if tr.IDToken.IsZero() {
			return SaveResult{}, ErrMalformedIDToken("token response carried no usable id token on a user flow")
		}
		if err := validateReturnedAccount(params, tr, isB2C); err != nil {
			return SaveResult{}, err
		}
	}

	// Replace a placeholder tenant (common/organizations/consumers) with
	// the tenant the ID token proves the user is in.
	auth := params.Authority.TenantCorrected(tr.IDToken.TenantID)
	environment := auth.Host
	realm := auth.Tenant

	homeAccountID := homeAccountID(tr, auth, params)
	assertionHash := params.AssertionHash()
	now := m.now()

	var result SaveResult

	if tr.AccessToken != "" {
		at := credential.NewAccessToken(
			homeAccountID, environment, realm, params.ClientID,
			now, tr.ExpiresOn, tr.ExtExpiresOn,
			tr.GrantedScopes, tr.AccessToken, tr.TokenType,
		)
		at.UserAssertionHash = assertionHash
		at.KeyID = params.KeyID
		at.RequestedClaimsHash = params.ClaimsHash()

		// A fresh grant supersedes every prior token for the same
		// identity tuple, whatever the scope overlap. Leaving older,
		// narrower grants behind fragments the cache and makes future
		// matches ambiguous.
		if err := m.deleteSupersededAccessTokens(ctx, at); err != nil {
			return SaveResult{}, err
		}
		if err := m.store.SaveAccessToken(at); err != nil {
			return SaveResult{}, err
		}
		result.AccessToken = &at
	}

	if !tr.IDToken.IsZero() {
		idt := credential.NewIDToken(homeAccountID, environment, realm, params.ClientID, tr.IDToken.RawToken)
		idt.UserAssertionHash = assertionHash
		if err := m.store.SaveIDToken(idt); err != nil {
			return SaveResult{}, err
		}
		result.IDToken = &idt

		account := credential.NewAccount(
			homeAccountID, environment, realm,
			tr.IDToken.LocalAccountID(),
			accountType(auth),
			tr.IDToken.PreferredUsername,
		)
		if err := m.store.SaveAccount(account); err != nil {
			return SaveResult{}, err
		}
		result.Account = account
	}

	if tr.RefreshToken != "" {
		rt := credential.NewRefreshToken(homeAccountID, environment, params.ClientID, tr.RefreshToken, tr.FamilyID)
		if params.Flow == request.FlowOnBehalfOf {
			rt.UserAssertionHash = assertionHash
		}
		// The new token replaces any prior one for this (environment,
		// client, home account) outright, even when the old and new
		// entries key differently because family membership changed.
		if err := m.deleteReplacedRefreshTokens(ctx, rt); err != nil {
			return SaveResult{}, err
		}
		if err := m.store.SaveRefreshToken(rt); err != nil {
			return SaveResult{}, err
		}
	}

	// Written on every save, not just family responses: an empty family id
	// records confirmed non-membership, which is different information
	// than having no record at all.
	md := credential.NewAppMetadata(tr.FamilyID, params.ClientID, environment)
	if err := m.store.SaveAppMetadata(md); err != nil {
		return SaveResult{}, err
	}

	m.logger.Debug("token response saved",
		"client_id", params.ClientID,
		"environment", environment,
		"realm", realm,
		"has_access_token", result.AccessToken != nil,
		"has_refresh_token", tr.RefreshToken != "",
		"family_id", tr.FamilyID,
		"correlation_id", params.CorrelationID)

	return result, nil
}

// validateReturnedAccount enforces that the identity the token endpoint
// returned is the identity the caller asked for. For B2C authorities only
// the tenant halves must agree; policy-specific object ids differ by
// design there.
func validateReturnedAccount(params request.Params, tr response.TokenResponse, isB2C bool) error {
	if params.Account.IsZero() || tr.ClientInfo.IsZero() {
		return nil
	}
	uid, utid := splitHomeAccountID(params.Account.HomeAccountID)
	if isB2C {
		if utid != "" && !strings.EqualFold(utid, tr.ClientInfo.UTID) {
			return ErrUserMismatch("returned tenant does not match the requested account")
		}
		return nil
	}
	if !strings.EqualFold(uid, tr.ClientInfo.UID) || !strings.EqualFold(utid, tr.ClientInfo.UTID) {
		return ErrUserMismatch("returned user does not match the requested account")
	}
	return nil
}

// homeAccountID derives the composite account id the records are stored
// under. App-only tokens have none. B2C object ids are suffixed with the
// policy so each policy's identity stays distinct.
func homeAccountID(tr response.TokenResponse, auth authority.Info, params request.Params) string {
	if params.AppOnly() {
		return ""
	}
	uid, utid := tr.ClientInfo.UID, tr.ClientInfo.UTID
	if uid == "" && utid == "" {
		return ""
	}
	if auth.Type == authority.TypeB2C && auth.Policy != "" && !strings.HasSuffix(uid, "-"+auth.Policy) {
		uid = uid + "-" + auth.Policy
	}
	return credential.HomeAccountID(uid, utid)
}

// deleteSupersededAccessTokens removes every access token sharing the new
// token's identity tuple (environment aliases, client, realm, home account,
// assertion binding, key id).
func (m *Manager) deleteSupersededAccessTokens(ctx context.Context, at credential.AccessToken) error {
	aliases, err := m.resolver.Aliases(ctx, at.Environment)
	if err != nil {
		return err
	}
	existing, err := m.store.AccessTokens()
	if err != nil {
		return err
	}
	for _, old := range existing {
		if old.ClientID != at.ClientID || old.Realm != at.Realm {
			continue
		}
		if !hasAlias(old.Environment, aliases) {
			continue
		}
		if old.HomeAccountID != at.HomeAccountID || old.UserAssertionHash != at.UserAssertionHash {
			continue
		}
		if old.KeyID != at.KeyID {
			continue
		}
		if err := m.store.DeleteAccessToken(old.Key()); err != nil {
			return err
		}
	}
	return nil
}

// deleteReplacedRefreshTokens removes prior refresh tokens for the new
// token's (environment, client, home account) tuple.
func (m *Manager) deleteReplacedRefreshTokens(ctx context.Context, rt credential.RefreshToken) error {
	aliases, err := m.resolver.Aliases(ctx, rt.Environment)
	if err != nil {
		return err
	}
	existing, err := m.store.RefreshTokens()
	if err != nil {
		return err
	}
	for _, old := range existing {
		if old.ClientID != rt.ClientID || old.HomeAccountID != rt.HomeAccountID {
			continue
		}
		if !hasAlias(old.Environment, aliases) {
			continue
		}
		if old.UserAssertionHash != rt.UserAssertionHash {
			continue
		}
		if err := m.store.DeleteRefreshToken(old.Key()); err != nil {
			return err
		}
	}
	return nil
}

func accountType(auth authority.Info) string {
	switch auth.Type {
	case authority.TypeADFS:
		return credential.AccountTypeADFS
	case authority.TypeB2C:
		return credential.AccountTypeB2C
	default:
		return credential.AccountTypeMSSTS
	}
}

func splitHomeAccountID(id string) (uid, utid string) {
	i := strings.LastIndex(id, ".")
	if i < 0 {
		return id, ""
	}
	return id[:i], id[i+1:]
}
