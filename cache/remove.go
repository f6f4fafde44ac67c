package cache

import (
	"context"

	"github.com/identitykit/tokencache/credential"
)

// RemoveAccount deletes the account's access tokens, ID tokens, and account
// rows across alias-equivalent environments, plus its refresh tokens when
// they are owned by the given client or shared through a family. Access and
// ID tokens skip the ownership check: non-family apps are not supposed to
// share a cache, and if they do, their refresh tokens survive so SSO still
// works.
func (m *Manager) RemoveAccount(ctx context.Context, account credential.Account, clientID string) error {
	aliases, err := m.resolver.Aliases(ctx, account.Environment)
	if err != nil {
		return err
	}
	homeID := account.HomeAccountID

	rts, err := m.store.RefreshTokens()
	if err != nil {
		return err
	}
	for _, rt := range rts {
		if rt.HomeAccountID != homeID || !hasAlias(rt.Environment, aliases) {
			continue
		}
		if rt.ClientID != clientID && rt.FamilyID == "" {
			continue
		}
		if err := m.store.DeleteRefreshToken(rt.Key()); err != nil {
			return err
		}
	}

	ats, err := m.store.AccessTokens()
	if err != nil {
		return err
	}
	for _, at := range ats {
		if at.HomeAccountID == homeID && hasAlias(at.Environment, aliases) {
			if err := m.store.DeleteAccessToken(at.Key()); err != nil {
				return err
			}
		}
	}

	idts, err := m.store.IDTokens()
	if err != nil {
		return err
	}
	for _, idt := range idts {
		if idt.HomeAccountID == homeID && hasAlias(idt.Environment, aliases) {
			if err := m.store.DeleteIDToken(idt.Key()); err != nil {
				return err
			}
		}
	}

	accs, err := m.store.Accounts()
	if err != nil {
		return err
	}
	for _, acc := range accs {
		if acc.HomeAccountID == homeID && hasAlias(acc.Environment, aliases) {
			if err := m.store.DeleteAccount(acc.Key()); err != nil {
				return err
			}
		}
	}

	m.logger.Debug("account removed from cache",
		"environment", account.Environment,
		"realm", account.Realm)
	return nil
}
