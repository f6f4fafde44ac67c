package persistence

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/identitykit/tokencache"
	"github.com/identitykit/tokencache/authority"
	"github.com/identitykit/tokencache/internal/testutil"
	"github.com/identitykit/tokencache/request"
)

const (
	testClientID   = "client-1"
	testPassphrase = "correct horse battery staple"
)

func newFileCache(t *testing.T, path, passphrase string) (*tokencache.TokenCache, *testutil.MockTime) {
	t.Helper()
	f, err := NewFile(FileConfig{Path: path, Passphrase: passphrase})
	if err != nil {
		t.Fatalf("NewFile() error = %v", err)
	}
	clock := testutil.NewMockTime(time.Unix(1700000000, 0))
	tc, err := tokencache.New(tokencache.Config{
		ClientID:  testClientID,
		Persister: f,
		Clock:     clock.Now,
	})
	if err != nil {
		t.Fatalf("tokencache.New() error = %v", err)
	}
	return tc, clock
}

func userParams(t *testing.T, scopes ...string) request.Params {
	t.Helper()
	info, err := authority.Parse("https://login.microsoftonline.com/contoso")
	if err != nil {
		t.Fatal(err)
	}
	return request.New(testClientID, info, scopes...)
}

func TestNewFile_Validation(t *testing.T) {
	if _, err := NewFile(FileConfig{Passphrase: "p"}); err == nil {
		t.Error("NewFile() without a path succeeded")
	}
	if _, err := NewFile(FileConfig{Path: "/tmp/x"}); err == nil {
		t.Error("NewFile() without a passphrase succeeded")
	}
}

func TestFile_RoundTrip(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "nested", "cache.bin")

	src, clock := newFileCache(t, path, testPassphrase)
	tr := testutil.NewTokenResponse(clock.Now(), "uid", "utid", "user@contoso.com", testutil.TokenResponseOptions{
		Scopes: []string{"user.read"},
	})
	saved, err := src.SaveTokenResponse(ctx, userParams(t, "user.read"), tr)
	if err != nil {
		t.Fatalf("SaveTokenResponse() error = %v", err)
	}

	fi, err := os.Stat(path)
	if err != nil {
		t.Fatalf("cache file not written: %v", err)
	}
	if perm := fi.Mode().Perm(); perm != 0o600 {
		t.Errorf("cache file mode = %o, want 600", perm)
	}

	// The ciphertext must not leak the token.
	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if strings.Contains(string(raw), saved.AccessToken) {
		t.Error("cache file contains the access token in the clear")
	}

	// A second instance sharing only the file sees the token.
	dst, _ := newFileCache(t, path, testPassphrase)
	params := userParams(t, "user.read")
	params.HomeAccountID = "uid.utid"
	got, err := dst.ReadAccessToken(ctx, params)
	if err != nil {
		t.Fatalf("ReadAccessToken() error = %v", err)
	}
	if got == nil || got.AccessToken != saved.AccessToken {
		t.Fatalf("ReadAccessToken() = %+v, want the persisted token", got)
	}
}

func TestFile_WrongPassphraseFailsClosed(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "cache.bin")

	src, clock := newFileCache(t, path, testPassphrase)
	tr := testutil.NewTokenResponse(clock.Now(), "uid", "utid", "u@x", testutil.TokenResponseOptions{
		Scopes: []string{"user.read"},
	})
	if _, err := src.SaveTokenResponse(ctx, userParams(t, "user.read"), tr); err != nil {
		t.Fatal(err)
	}

	dst, _ := newFileCache(t, path, "not the passphrase")
	params := userParams(t, "user.read")
	params.HomeAccountID = "uid.utid"
	if _, err := dst.ReadAccessToken(ctx, params); err == nil {
		t.Fatal("ReadAccessToken() with the wrong passphrase succeeded")
	}

	// The file survives the failed read.
	if _, err := os.Stat(path); err != nil {
		t.Errorf("cache file missing after failed decrypt: %v", err)
	}
}

func TestFile_MissingFileIsEmptyCache(t *testing.T) {
	ctx := context.Background()
	tc, _ := newFileCache(t, filepath.Join(t.TempDir(), "absent.bin"), testPassphrase)

	params := userParams(t, "user.read")
	params.HomeAccountID = "uid.utid"
	got, err := tc.ReadAccessToken(ctx, params)
	if err != nil {
		t.Fatalf("ReadAccessToken() error = %v", err)
	}
	if got != nil {
		t.Errorf("ReadAccessToken() = %+v on an empty cache, want nil", got)
	}
}

func TestFile_ReadsDoNotWrite(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "cache.bin")
	tc, _ := newFileCache(t, path, testPassphrase)

	if _, err := tc.Accounts(ctx); err != nil {
		t.Fatalf("Accounts() error = %v", err)
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Errorf("read operation created the cache file (stat err = %v)", err)
	}
}

func TestFile_EncryptDecrypt(t *testing.T) {
	f, err := NewFile(FileConfig{Path: "unused", Passphrase: testPassphrase})
	if err != nil {
		t.Fatal(err)
	}

	plaintext := []byte(`{"AccessToken":{}}`)
	blob, err := f.encrypt(plaintext)
	if err != nil {
		t.Fatalf("encrypt() error = %v", err)
	}
	if len(blob) <= fileNonceSize+fileSaltSize {
		t.Fatalf("blob length = %d, want header plus ciphertext", len(blob))
	}

	got, err := f.decrypt(blob)
	if err != nil {
		t.Fatalf("decrypt() error = %v", err)
	}
	if string(got) != string(plaintext) {
		t.Errorf("decrypt() = %q, want %q", got, plaintext)
	}

	// Truncated input is rejected, not sliced out of range.
	if _, err := f.decrypt(blob[:10]); err == nil {
		t.Error("decrypt() accepted a truncated blob")
	}

	// Flipping a ciphertext byte fails authentication.
	blob[len(blob)-1] ^= 0xff
	if _, err := f.decrypt(blob); err == nil {
		t.Error("decrypt() accepted a tampered blob")
	}
}
