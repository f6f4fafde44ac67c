package credential

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
)

func TestAccessToken_Key(t *testing.T) {
	at := NewAccessToken(
		"uid.utid",
		"login.microsoftonline.com",
		"contoso",
		"client-1",
		time.Unix(1000, 0), time.Unix(2000, 0), time.Unix(3000, 0),
		NewScopeSet("User.Read", "openid"),
		"secret-value",
		"",
	)

	want := "uid.utid-login.microsoftonline.com-accesstoken-client-1-contoso-openid user.read"
	if got := at.Key(); got != want {
		t.Errorf("Key() = %q, want %q", got, want)
	}

	// Replacing the secret must not change the key.
	at.Secret = "different-secret"
	if got := at.Key(); got != want {
		t.Errorf("Key() after secret change = %q, want %q", got, want)
	}
}

func TestAccessToken_Key_AssertionBound(t *testing.T) {
	at := NewAccessToken("uid.utid", "env", "realm", "client",
		time.Unix(0, 0), time.Unix(0, 0), time.Unix(0, 0),
		NewScopeSet("s"), "secret", "Bearer")

	plain := at.Key()
	at.UserAssertionHash = "HASH"
	if at.Key() == plain {
		t.Error("assertion-bound token must not share a key with the unbound token")
	}
}

func TestRefreshToken_Key_FamilyOverridesClient(t *testing.T) {
	rt := NewRefreshToken("uid.utid", "env", "client-a", "rt-secret", "")
	frt := NewRefreshToken("uid.utid", "env", "client-a", "rt-secret", "1")

	if rt.Key() != "uid.utid-env-refreshtoken-client-a" {
		t.Errorf("Key() = %q", rt.Key())
	}
	if frt.Key() != "uid.utid-env-refreshtoken-1" {
		t.Errorf("family Key() = %q", frt.Key())
	}

	// Sibling family clients collapse onto one key.
	sibling := NewRefreshToken("uid.utid", "env", "client-b", "other", "1")
	if sibling.Key() != frt.Key() {
		t.Errorf("sibling family keys differ: %q vs %q", sibling.Key(), frt.Key())
	}
}

func TestAccount_Key(t *testing.T) {
	acc := NewAccount("uid.utid", "Login.Windows.Net", "Contoso", "oid", AccountTypeMSSTS, "user@contoso.com")
	if got, want := acc.Key(), "uid.utid-login.windows.net-contoso"; got != want {
		t.Errorf("Key() = %q, want %q", got, want)
	}
}

func TestAppMetadata_Key(t *testing.T) {
	md := NewAppMetadata("1", "Client-ID", "env")
	if got, want := md.Key(), "appmetadata-env-client-id"; got != want {
		t.Errorf("Key() = %q, want %q", got, want)
	}
}

func TestHomeAccountID(t *testing.T) {
	if got := HomeAccountID("oid", "tid"); got != "oid.tid" {
		t.Errorf("HomeAccountID() = %q, want %q", got, "oid.tid")
	}
	if got := HomeAccountID("", ""); got != "" {
		t.Errorf("HomeAccountID() for empty ids = %q, want empty", got)
	}
}

func TestAccessToken_UnknownFieldsRoundTrip(t *testing.T) {
	raw := `{
		"home_account_id": "uid.utid",
		"environment": "env",
		"realm": "realm",
		"credential_type": "AccessToken",
		"client_id": "client",
		"secret": "at-secret",
		"target": "s1 s2",
		"cached_at": "1700000000",
		"expires_on": "1700003600",
		"extended_expires_on": "1700007200",
		"token_type": "Bearer",
		"enrollment_id": "some-intune-value",
		"nested_extra": {"a": 1}
	}`

	var at AccessToken
	if err := json.Unmarshal([]byte(raw), &at); err != nil {
		t.Fatalf("Unmarshal() error = %v", err)
	}

	if at.Secret != "at-secret" {
		t.Errorf("Secret = %q, want %q", at.Secret, "at-secret")
	}
	if at.ExpiresOn.T.Unix() != 1700003600 {
		t.Errorf("ExpiresOn = %d, want 1700003600", at.ExpiresOn.T.Unix())
	}
	if len(at.AdditionalFields) != 2 {
		t.Fatalf("AdditionalFields has %d entries, want 2: %v", len(at.AdditionalFields), at.AdditionalFields)
	}

	out, err := json.Marshal(at)
	if err != nil {
		t.Fatalf("Marshal() error = %v", err)
	}

	var got, want map[string]any
	if err := json.Unmarshal(out, &got); err != nil {
		t.Fatalf("re-Unmarshal() error = %v", err)
	}
	if err := json.Unmarshal([]byte(raw), &want); err != nil {
		t.Fatalf("Unmarshal(raw) error = %v", err)
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("round-trip mismatch (-want +got):\n%s", diff)
	}
}

func TestUnixTime_AcceptsBareNumbers(t *testing.T) {
	var u UnixTime
	if err := json.Unmarshal([]byte(`1700000000`), &u); err != nil {
		t.Fatalf("Unmarshal(number) error = %v", err)
	}
	if u.T.Unix() != 1700000000 {
		t.Errorf("T = %d, want 1700000000", u.T.Unix())
	}

	if err := json.Unmarshal([]byte(`"not-a-number"`), &u); err == nil {
		t.Error("Unmarshal(garbage) should return error")
	}
}

func TestUnixTime_ZeroRoundTripsAsEmptyString(t *testing.T) {
	raw, err := json.Marshal(UnixTime{})
	if err != nil {
		t.Fatalf("Marshal(zero) error = %v", err)
	}
	if string(raw) != `""` {
		t.Errorf("Marshal(zero) = %s, want an empty string, not a unix instant", raw)
	}

	var u UnixTime
	if err := json.Unmarshal(raw, &u); err != nil {
		t.Fatalf("Unmarshal(%s) error = %v", raw, err)
	}
	if !u.IsZero() {
		t.Errorf("round-tripped zero timestamp = %v, want zero", u.T)
	}
}
