package codec

import (
	"encoding/json"
	"errors"
	"sort"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"

	"github.com/identitykit/tokencache/credential"
	"github.com/identitykit/tokencache/storage"
	"github.com/identitykit/tokencache/storage/memory"
)

// populatedStore builds a store holding one record of each kind.
func populatedStore(t *testing.T) *memory.Store {
	t.Helper()
	s := memory.New()
	now := time.Unix(1700000000, 0).UTC()

	at := credential.NewAccessToken(
		"uid.utid", "login.microsoftonline.com", "contoso", "client-1",
		now, now.Add(time.Hour), now.Add(2*time.Hour),
		credential.NewScopeSet("user.read", "mail.read"), "at-secret", "Bearer",
	)
	if err := s.SaveAccessToken(at); err != nil {
		t.Fatal(err)
	}
	if err := s.SaveRefreshToken(credential.NewRefreshToken(
		"uid.utid", "login.microsoftonline.com", "client-1", "rt-secret", "1")); err != nil {
		t.Fatal(err)
	}
	if err := s.SaveIDToken(credential.NewIDToken(
		"uid.utid", "login.microsoftonline.com", "contoso", "client-1", "header.payload.sig")); err != nil {
		t.Fatal(err)
	}
	if err := s.SaveAccount(credential.NewAccount(
		"uid.utid", "login.microsoftonline.com", "contoso", "oid",
		credential.AccountTypeMSSTS, "user@contoso.com")); err != nil {
		t.Fatal(err)
	}
	if err := s.SaveAppMetadata(credential.NewAppMetadata(
		"1", "client-1", "login.microsoftonline.com")); err != nil {
		t.Fatal(err)
	}
	return s
}

// diffStores compares two stores collection by collection, order-insensitive.
func diffStores(t *testing.T, want, got storage.Accessor) string {
	t.Helper()
	opts := cmp.Options{cmpopts.EquateEmpty()}

	wantATs, _ := want.AccessTokens()
	gotATs, _ := got.AccessTokens()
	sortByKey(wantATs, credential.AccessToken.Key)
	sortByKey(gotATs, credential.AccessToken.Key)
	if d := cmp.Diff(wantATs, gotATs, opts); d != "" {
		return "access tokens: " + d
	}

	wantRTs, _ := want.RefreshTokens()
	gotRTs, _ := got.RefreshTokens()
	sortByKey(wantRTs, credential.RefreshToken.Key)
	sortByKey(gotRTs, credential.RefreshToken.Key)
	if d := cmp.Diff(wantRTs, gotRTs, opts); d != "" {
		return "refresh tokens: " + d
	}

	wantIDTs, _ := want.IDTokens()
	gotIDTs, _ := got.IDTokens()
	sortByKey(wantIDTs, credential.IDToken.Key)
	sortByKey(gotIDTs, credential.IDToken.Key)
	if d := cmp.Diff(wantIDTs, gotIDTs, opts); d != "" {
		return "id tokens: " + d
	}

	wantAccs, _ := want.Accounts()
	gotAccs, _ := got.Accounts()
	sortByKey(wantAccs, credential.Account.Key)
	sortByKey(gotAccs, credential.Account.Key)
	if d := cmp.Diff(wantAccs, gotAccs, opts); d != "" {
		return "accounts: " + d
	}

	wantMDs, _ := want.AppMetadata()
	gotMDs, _ := got.AppMetadata()
	sortByKey(wantMDs, credential.AppMetadata.Key)
	sortByKey(gotMDs, credential.AppMetadata.Key)
	if d := cmp.Diff(wantMDs, gotMDs, opts); d != "" {
		return "app metadata: " + d
	}
	return ""
}

func sortByKey[T any](s []T, key func(T) string) {
	sort.Slice(s, func(i, j int) bool { return key(s[i]) < key(s[j]) })
}

func TestRoundTrip(t *testing.T) {
	codecs := map[string]Codec{
		"current":           JSON{},
		"legacy dictionary": LegacyDictionary{},
	}
	for name, c := range codecs {
		t.Run(name, func(t *testing.T) {
			src := populatedStore(t)

			data, err := c.Marshal(src)
			if err != nil {
				t.Fatalf("Marshal() error = %v", err)
			}
			dst := memory.New()
			changed, err := c.Unmarshal(data, dst)
			if err != nil {
				t.Fatalf("Unmarshal() error = %v", err)
			}
			if !changed {
				t.Error("Unmarshal() changed = false for non-empty content")
			}
			if d := diffStores(t, src, dst); d != "" {
				t.Errorf("store mismatch after round trip:\n%s", d)
			}

			// A second cycle is a fixed point.
			data2, err := c.Marshal(dst)
			if err != nil {
				t.Fatal(err)
			}
			dst2 := memory.New()
			if _, err := c.Unmarshal(data2, dst2); err != nil {
				t.Fatal(err)
			}
			if got, want := dst2.ItemCounts().Total(), src.ItemCounts().Total(); got != want {
				t.Errorf("second cycle item count = %d, want %d", got, want)
			}
		})
	}
}

func TestUnmarshal_EmptyPayload(t *testing.T) {
	for name, c := range map[string]Codec{"current": JSON{}, "legacy dictionary": LegacyDictionary{}} {
		for _, payload := range [][]byte{nil, {}, []byte("  "), []byte("null")} {
			t.Run(name, func(t *testing.T) {
				s := populatedStore(t)
				changed, err := c.Unmarshal(payload, s)
				if err != nil {
					t.Fatalf("Unmarshal(%q) error = %v", payload, err)
				}
				if changed {
					t.Errorf("Unmarshal(%q) changed = true, want false", payload)
				}
				if n := s.ItemCounts().Total(); n != 0 {
					t.Errorf("store holds %d records, want empty cache", n)
				}
			})
		}
	}
}

func TestJSON_PreservesUnknownData(t *testing.T) {
	raw := []byte(`{
		"AccessToken": [{
			"home_account_id": "uid.utid",
			"environment": "login.microsoftonline.com",
			"realm": "contoso",
			"credential_type": "AccessToken",
			"client_id": "client-1",
			"secret": "s",
			"target": "user.read",
			"cached_at": "1700000000",
			"expires_on": "1700003600",
			"token_binding": "future-field"
		}],
		"RefreshToken": [],
		"IdToken": [],
		"Account": [],
		"AppMetadata": [],
		"FutureSection": {"anything": ["goes", 1]}
	}`)

	s := memory.New()
	if _, err := (JSON{}).Unmarshal(raw, s); err != nil {
		t.Fatalf("Unmarshal() error = %v", err)
	}

	out, err := (JSON{}).Marshal(s)
	if err != nil {
		t.Fatalf("Marshal() error = %v", err)
	}

	var doc map[string]json.RawMessage
	if err := json.Unmarshal(out, &doc); err != nil {
		t.Fatal(err)
	}
	if _, ok := doc["FutureSection"]; !ok {
		t.Error("unknown top-level section dropped on round trip")
	}
	var ats []map[string]json.RawMessage
	if err := json.Unmarshal(doc["AccessToken"], &ats); err != nil {
		t.Fatal(err)
	}
	if len(ats) != 1 {
		t.Fatalf("AccessToken section holds %d records, want 1", len(ats))
	}
	if _, ok := ats[0]["token_binding"]; !ok {
		t.Error("unknown per-record field dropped on round trip")
	}
}

func TestJSON_RejectsLegacyDictionaryBytes(t *testing.T) {
	legacy, err := LegacyDictionary{}.Marshal(populatedStore(t))
	if err != nil {
		t.Fatal(err)
	}

	s := memory.New()
	_, err = (JSON{}).Unmarshal(legacy, s)
	if err == nil {
		t.Fatal("Unmarshal() error = nil, want wrong-format rejection")
	}
	var perr *ParseError
	if !errors.As(err, &perr) {
		t.Fatalf("error = %T, want *ParseError", err)
	}
	if perr.Schema != SchemaCurrent || perr.Hint == "" {
		t.Errorf("ParseError = {Schema: %s, Hint: %q}, want current schema with a legacy hint", perr.Schema, perr.Hint)
	}
	if n := s.ItemCounts().Total(); n != 0 {
		t.Errorf("store mutated by failed decode: %d records", n)
	}
}

func TestLegacyDictionary_RejectsCurrentBytes(t *testing.T) {
	current, err := JSON{}.Marshal(populatedStore(t))
	if err != nil {
		t.Fatal(err)
	}

	_, err = LegacyDictionary{}.Unmarshal(current, memory.New())
	if err == nil {
		t.Fatal("Unmarshal() error = nil, want wrong-format rejection")
	}
	var perr *ParseError
	if !errors.As(err, &perr) {
		t.Fatalf("error = %T, want *ParseError", err)
	}
	if perr.Schema != SchemaLegacyDictionary || perr.Hint == "" {
		t.Errorf("ParseError = {Schema: %s, Hint: %q}, want legacy schema with a current hint", perr.Schema, perr.Hint)
	}
}

func TestUnmarshal_MalformedBytes(t *testing.T) {
	for name, c := range map[string]Codec{"current": JSON{}, "legacy dictionary": LegacyDictionary{}} {
		t.Run(name, func(t *testing.T) {
			s := populatedStore(t)
			before := s.ItemCounts()

			_, err := c.Unmarshal([]byte(`{"truncated`), s)
			var perr *ParseError
			if !errors.As(err, &perr) {
				t.Fatalf("error = %v, want *ParseError", err)
			}
			if perr.Hint != "" {
				t.Errorf("Hint = %q for corrupt bytes, want empty (no alternate schema to suggest)", perr.Hint)
			}
			if s.ItemCounts() != before {
				t.Error("store mutated by failed decode")
			}
		})
	}
}
