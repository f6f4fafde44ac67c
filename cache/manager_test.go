package cache

import (
	"context"
	"testing"
	"time"

	"github.com/identitykit/tokencache/authority"
	"github.com/identitykit/tokencache/credential"
	"github.com/identitykit/tokencache/internal/testutil"
	"github.com/identitykit/tokencache/request"
	"github.com/identitykit/tokencache/storage/memory"
)

const (
	testEnv      = "login.microsoftonline.com"
	testEnvAlias = "login.windows.net"
	testRealm    = "contoso"
	testClientID = "client-1"
	testHomeID   = "uid.utid"
)

type aliasDiscoverer struct{}

func (aliasDiscoverer) InstanceDiscovery(_ context.Context, _ string) (authority.DiscoveryResponse, error) {
	return authority.DiscoveryResponse{
		Metadata: []authority.InstanceMetadata{
			{
				PreferredNetwork: testEnv,
				PreferredCache:   testEnv,
				Aliases:          []string{testEnv, testEnvAlias},
			},
		},
	}, nil
}

type managerFixture struct {
	manager *Manager
	store   *memory.Store
	clock   *testutil.MockTime
}

func newFixture(t *testing.T, cfg *Config) *managerFixture {
	t.Helper()
	clock := testutil.NewMockTime(time.Unix(1700000000, 0))
	if cfg == nil {
		cfg = &Config{}
	}
	cfg.Clock = clock.Now
	store := memory.New()
	resolver := authority.NewResolver(aliasDiscoverer{}, nil)
	return &managerFixture{
		manager: NewManager(store, resolver, cfg, nil),
		store:   store,
		clock:   clock,
	}
}

func (f *managerFixture) params(t *testing.T, scopes ...string) request.Params {
	t.Helper()
	info, err := authority.Parse("https://" + testEnv + "/" + testRealm)
	if err != nil {
		t.Fatal(err)
	}
	p := request.New(testClientID, info, scopes...)
	p.HomeAccountID = testHomeID
	return p
}

// seedAccessToken writes a token valid for one hour from the fixture clock.
func (f *managerFixture) seedAccessToken(t *testing.T, target string) credential.AccessToken {
	t.Helper()
	now := f.clock.Now()
	at := credential.NewAccessToken(
		testHomeID, testEnv, testRealm, testClientID,
		now, now.Add(time.Hour), now.Add(2*time.Hour),
		credential.ParseTarget(target), "at-secret", "Bearer",
	)
	if err := f.store.SaveAccessToken(at); err != nil {
		t.Fatal(err)
	}
	return at
}

func TestReadAccessToken_ScopeSupersetLaw(t *testing.T) {
	tests := []struct {
		name      string
		cached    string
		requested []string
		wantHit   bool
	}{
		{
			name:      "exact scopes",
			cached:    "r1/scope1",
			requested: []string{"r1/scope1"},
			wantHit:   true,
		},
		{
			name:      "cached superset",
			cached:    "r1/scope1 r1/scope2",
			requested: []string{"r1/scope1"},
			wantHit:   true,
		},
		{
			name:      "intersection only misses",
			cached:    "r1/scope1 r1/scope2",
			requested: []string{"r1/scope1", "non-existent-scope"},
			wantHit:   false,
		},
		{
			name:      "disjoint misses",
			cached:    "r1/scope1",
			requested: []string{"r2/other"},
			wantHit:   false,
		},
		{
			name:      "case insensitive",
			cached:    "r1/scope1",
			requested: []string{"R1/SCOPE1"},
			wantHit:   true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, nil)
			f.seedAccessToken(t, tt.cached)

			got, err := f.manager.ReadAccessToken(context.Background(), f.params(t, tt.requested...))
			if err != nil {
				t.Fatalf("ReadAccessToken() error = %v", err)
			}
			if (got != nil) != tt.wantHit {
				t.Errorf("ReadAccessToken() hit = %v, want %v", got != nil, tt.wantHit)
			}
		})
	}
}

func TestReadAccessToken_EnvironmentAlias(t *testing.T) {
	f := newFixture(t, nil)

	// Token cached under the alias environment, request uses the primary.
	now := f.clock.Now()
	at := credential.NewAccessToken(
		testHomeID, testEnvAlias, testRealm, testClientID,
		now, now.Add(time.Hour), now.Add(2*time.Hour),
		credential.NewScopeSet("s"), "secret", "Bearer",
	)
	if err := f.store.SaveAccessToken(at); err != nil {
		t.Fatal(err)
	}

	got, err := f.manager.ReadAccessToken(context.Background(), f.params(t, "s"))
	if err != nil {
		t.Fatalf("ReadAccessToken() error = %v", err)
	}
	if got == nil {
		t.Fatal("ReadAccessToken() = nil, want alias-environment hit")
	}
}

func TestReadAccessToken_WrongAccountMisses(t *testing.T) {
	f := newFixture(t, nil)
	f.seedAccessToken(t, "s")

	p := f.params(t, "s")
	p.HomeAccountID = "other.account"
	got, err := f.manager.ReadAccessToken(context.Background(), p)
	if err != nil {
		t.Fatalf("ReadAccessToken() error = %v", err)
	}
	if got != nil {
		t.Error("ReadAccessToken() matched another account's token")
	}
}

func TestReadAccessToken_AssertionBindingExact(t *testing.T) {
	f := newFixture(t, nil)

	bound := f.params(t, "s").WithUserAssertion("inbound-assertion")

	at := f.seedAccessToken(t, "s")
	at.UserAssertionHash = bound.AssertionHash()
	if err := f.store.SaveAccessToken(at); err != nil {
		t.Fatal(err)
	}
	// The store now holds one unbound and one bound token for the tuple.

	got, err := f.manager.ReadAccessToken(context.Background(), bound)
	if err != nil {
		t.Fatalf("ReadAccessToken() error = %v", err)
	}
	if got == nil {
		t.Fatal("ReadAccessToken() = nil for matching assertion")
	}
	if got.UserAssertionHash != bound.AssertionHash() {
		t.Error("ReadAccessToken() returned the unbound token for an assertion-bound request")
	}

	// A different assertion must not see the bound token.
	other, err := f.manager.ReadAccessToken(context.Background(), f.params(t, "s").WithUserAssertion("different"))
	if err != nil {
		t.Fatalf("ReadAccessToken() error = %v", err)
	}
	if other != nil {
		t.Error("ReadAccessToken() matched a token bound to a different assertion")
	}

	// A plain request must only see the unbound token.
	plain, err := f.manager.ReadAccessToken(context.Background(), f.params(t, "s"))
	if err != nil {
		t.Fatalf("ReadAccessToken() error = %v", err)
	}
	if plain == nil {
		t.Fatal("ReadAccessToken() = nil for unbound request")
	}
	if plain.UserAssertionHash != "" {
		t.Error("ReadAccessToken() returned an assertion-bound token to an unbound request")
	}
}

func TestReadAccessToken_ExtendedLifetime(t *testing.T) {
	run := func(t *testing.T, enabled bool) *MatchedAccessToken {
		f := newFixture(t, &Config{ExtendedLifetimeEnabled: enabled})
		f.seedAccessToken(t, "s")
		// Past expires_on, inside extended_expires_on.
		f.clock.Advance(90 * time.Minute)

		got, err := f.manager.ReadAccessToken(context.Background(), f.params(t, "s"))
		if err != nil {
			t.Fatalf("ReadAccessToken() error = %v", err)
		}
		return got
	}

	t.Run("disabled", func(t *testing.T) {
		if got := run(t, false); got != nil {
			t.Error("ReadAccessToken() returned an expired token with extended lifetime disabled")
		}
	})

	t.Run("enabled", func(t *testing.T) {
		got := run(t, true)
		if got == nil {
			t.Fatal("ReadAccessToken() = nil, want extended-lifetime hit")
		}
		if !got.ExtendedLifetime {
			t.Error("ExtendedLifetime flag not set")
		}
	})

	t.Run("past extended window", func(t *testing.T) {
		f := newFixture(t, &Config{ExtendedLifetimeEnabled: true})
		f.seedAccessToken(t, "s")
		f.clock.Advance(3 * time.Hour)
		got, err := f.manager.ReadAccessToken(context.Background(), f.params(t, "s"))
		if err != nil {
			t.Fatal(err)
		}
		if got != nil {
			t.Error("ReadAccessToken() returned a token past its extended window")
		}
	})
}

func TestReadAccessToken_DuplicateTieBreak(t *testing.T) {
	f := newFixture(t, nil)

	// Two tokens that both satisfy the request: different targets, both
	// supersets. The newer CachedAt must win, on every call.
	older := f.seedAccessToken(t, "s extra-old")
	newer := credential.NewAccessToken(
		testHomeID, testEnv, testRealm, testClientID,
		f.clock.Now().Add(time.Minute), f.clock.Now().Add(time.Hour), f.clock.Now().Add(2*time.Hour),
		credential.NewScopeSet("s", "extra-new"), "newer-secret", "Bearer",
	)
	if err := f.store.SaveAccessToken(newer); err != nil {
		t.Fatal(err)
	}

	for i := 0; i < 5; i++ {
		got, err := f.manager.ReadAccessToken(context.Background(), f.params(t, "s"))
		if err != nil {
			t.Fatalf("ReadAccessToken() error = %v", err)
		}
		if got == nil {
			t.Fatal("ReadAccessToken() = nil")
		}
		if got.Secret != "newer-secret" {
			t.Fatalf("ReadAccessToken() returned %q, want the newest token (older was %q)", got.Secret, older.Secret)
		}
	}
}

func TestReadAccessToken_AppOnlyIgnoresHomeAccount(t *testing.T) {
	f := newFixture(t, nil)

	now := f.clock.Now()
	at := credential.NewAccessToken(
		"", testEnv, testRealm, testClientID,
		now, now.Add(time.Hour), now.Add(2*time.Hour),
		credential.NewScopeSet("app/.default"), "app-secret", "Bearer",
	)
	if err := f.store.SaveAccessToken(at); err != nil {
		t.Fatal(err)
	}

	p := f.params(t, "app/.default")
	p.Flow = request.FlowClientCredentials
	p.HomeAccountID = ""
	got, err := f.manager.ReadAccessToken(context.Background(), p)
	if err != nil {
		t.Fatalf("ReadAccessToken() error = %v", err)
	}
	if got == nil || got.Secret != "app-secret" {
		t.Errorf("ReadAccessToken() = %v, want app token", got)
	}
}

func TestReadIDToken(t *testing.T) {
	f := newFixture(t, nil)

	// Stored under the alias environment; a sibling client's token and a
	// foreign realm's token must not surface.
	mine := credential.NewIDToken(testHomeID, testEnvAlias, testRealm, testClientID, "idt-mine")
	if err := f.store.SaveIDToken(mine); err != nil {
		t.Fatal(err)
	}
	other := credential.NewIDToken(testHomeID, testEnv, testRealm, "other-client", "idt-other")
	if err := f.store.SaveIDToken(other); err != nil {
		t.Fatal(err)
	}
	foreign := credential.NewIDToken(testHomeID, testEnv, "fabrikam", testClientID, "idt-foreign")
	if err := f.store.SaveIDToken(foreign); err != nil {
		t.Fatal(err)
	}

	got, err := f.manager.ReadIDToken(context.Background(), f.params(t, "s"))
	if err != nil {
		t.Fatalf("ReadIDToken() error = %v", err)
	}
	if got == nil || got.Secret != "idt-mine" {
		t.Fatalf("ReadIDToken() = %+v, want the alias-stored token", got)
	}

	p := f.params(t, "s")
	p.HomeAccountID = "someone-else.utid"
	got, err = f.manager.ReadIDToken(context.Background(), p)
	if err != nil {
		t.Fatal(err)
	}
	if got != nil {
		t.Errorf("ReadIDToken() = %+v for a foreign account, want nil", got)
	}
}

func TestReadRefreshToken_ClientMatch(t *testing.T) {
	f := newFixture(t, nil)

	rt := credential.NewRefreshToken(testHomeID, testEnvAlias, testClientID, "rt-secret", "")
	if err := f.store.SaveRefreshToken(rt); err != nil {
		t.Fatal(err)
	}

	got, err := f.manager.ReadRefreshToken(context.Background(), f.params(t, "s"))
	if err != nil {
		t.Fatalf("ReadRefreshToken() error = %v", err)
	}
	if got == nil || got.Secret != "rt-secret" {
		t.Errorf("ReadRefreshToken() = %v, want alias-environment client match", got)
	}
}

func TestReadRefreshToken_FamilyFallback(t *testing.T) {
	seedFamilyRT := func(t *testing.T, f *managerFixture) {
		t.Helper()
		// Only sibling client-2 ever saved a (family) refresh token.
		rt := credential.NewRefreshToken(testHomeID, testEnv, "client-2", "frt-secret", "1")
		if err := f.store.SaveRefreshToken(rt); err != nil {
			t.Fatal(err)
		}
	}

	t.Run("confirmed member gets sibling token", func(t *testing.T) {
		f := newFixture(t, nil)
		seedFamilyRT(t, f)
		if err := f.store.SaveAppMetadata(credential.NewAppMetadata("1", testClientID, testEnv)); err != nil {
			t.Fatal(err)
		}

		got, err := f.manager.ReadRefreshToken(context.Background(), f.params(t, "s"))
		if err != nil {
			t.Fatalf("ReadRefreshToken() error = %v", err)
		}
		if got == nil || got.Secret != "frt-secret" {
			t.Errorf("ReadRefreshToken() = %v, want family fallback hit", got)
		}
	})

	t.Run("unknown membership still tries family", func(t *testing.T) {
		f := newFixture(t, nil)
		seedFamilyRT(t, f)

		got, err := f.manager.ReadRefreshToken(context.Background(), f.params(t, "s"))
		if err != nil {
			t.Fatalf("ReadRefreshToken() error = %v", err)
		}
		if got == nil {
			t.Error("ReadRefreshToken() = nil; unknown membership should not block the family fallback")
		}
	})

	t.Run("confirmed non-member is blocked", func(t *testing.T) {
		f := newFixture(t, nil)
		seedFamilyRT(t, f)
		// Empty family id: explicitly not a member.
		if err := f.store.SaveAppMetadata(credential.NewAppMetadata("", testClientID, testEnv)); err != nil {
			t.Fatal(err)
		}

		got, err := f.manager.ReadRefreshToken(context.Background(), f.params(t, "s"))
		if err != nil {
			t.Fatalf("ReadRefreshToken() error = %v", err)
		}
		if got != nil {
			t.Error("ReadRefreshToken() returned a family token to a confirmed non-member")
		}
	})

	t.Run("different family is not shared", func(t *testing.T) {
		f := newFixture(t, nil)
		seedFamilyRT(t, f)
		if err := f.store.SaveAppMetadata(credential.NewAppMetadata("2", testClientID, testEnv)); err != nil {
			t.Fatal(err)
		}

		got, err := f.manager.ReadRefreshToken(context.Background(), f.params(t, "s"))
		if err != nil {
			t.Fatalf("ReadRefreshToken() error = %v", err)
		}
		if got != nil {
			t.Error("ReadRefreshToken() crossed family boundaries")
		}
	})
}

func TestReadRefreshToken_NoMatchIsNil(t *testing.T) {
	f := newFixture(t, nil)
	got, err := f.manager.ReadRefreshToken(context.Background(), f.params(t, "s"))
	if err != nil {
		t.Fatalf("ReadRefreshToken() error = %v", err)
	}
	if got != nil {
		t.Errorf("ReadRefreshToken() = %v, want nil miss", got)
	}
}

func TestIsFamilyMember(t *testing.T) {
	f := newFixture(t, nil)

	// No metadata yet: unknown.
	member, known, err := f.manager.IsFamilyMember(context.Background(), f.params(t), "1")
	if err != nil {
		t.Fatal(err)
	}
	if known || member {
		t.Errorf("IsFamilyMember() = (%v, %v), want unknown", member, known)
	}

	if err := f.store.SaveAppMetadata(credential.NewAppMetadata("1", testClientID, testEnv)); err != nil {
		t.Fatal(err)
	}
	member, known, err = f.manager.IsFamilyMember(context.Background(), f.params(t), "1")
	if err != nil {
		t.Fatal(err)
	}
	if !known || !member {
		t.Errorf("IsFamilyMember() = (%v, %v), want confirmed member", member, known)
	}

	if err := f.store.SaveAppMetadata(credential.NewAppMetadata("", "client-3", testEnv)); err != nil {
		t.Fatal(err)
	}
	p := f.params(t)
	p.ClientID = "client-3"
	member, known, err = f.manager.IsFamilyMember(context.Background(), p, "1")
	if err != nil {
		t.Fatal(err)
	}
	if !known || member {
		t.Errorf("IsFamilyMember() = (%v, %v), want confirmed non-member", member, known)
	}
}

func TestRemoveAccount(t *testing.T) {
	f := newFixture(t, nil)

	f.seedAccessToken(t, "s")
	if err := f.store.SaveRefreshToken(credential.NewRefreshToken(testHomeID, testEnv, testClientID, "rt", "")); err != nil {
		t.Fatal(err)
	}
	// A foreign client's non-family RT for the same account must survive.
	if err := f.store.SaveRefreshToken(credential.NewRefreshToken(testHomeID, testEnv, "other-client", "other-rt", "")); err != nil {
		t.Fatal(err)
	}
	if err := f.store.SaveIDToken(credential.NewIDToken(testHomeID, testEnv, testRealm, testClientID, "jwt")); err != nil {
		t.Fatal(err)
	}
	acc := credential.NewAccount(testHomeID, testEnvAlias, testRealm, "oid", credential.AccountTypeMSSTS, "u@x")
	if err := f.store.SaveAccount(acc); err != nil {
		t.Fatal(err)
	}

	if err := f.manager.RemoveAccount(context.Background(), acc, testClientID); err != nil {
		t.Fatalf("RemoveAccount() error = %v", err)
	}

	counts := f.store.ItemCounts()
	if counts.AccessTokens != 0 || counts.IDTokens != 0 || counts.Accounts != 0 {
		t.Errorf("account artifacts remain: %+v", counts)
	}
	if counts.RefreshTokens != 1 {
		t.Errorf("RefreshTokens = %d, want 1 (foreign client RT preserved)", counts.RefreshTokens)
	}
}
