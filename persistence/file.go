package persistence

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"

	"golang.org/x/crypto/nacl/secretbox"
	"golang.org/x/crypto/scrypt"

	"github.com/identitykit/tokencache"
)

const (
	fileKeySize   = 32
	fileNonceSize = 24
	fileSaltSize  = 8

	// scrypt cost parameters. N is the work factor; changing it invalidates
	// existing cache files because the salt alone does not record the cost.
	scryptN = 1 << 15
	scryptR = 8
	scryptP = 1
)

// FileConfig configures an encrypted file persister.
type FileConfig struct {
	// Path is the cache file location (required). Parent directories are
	// created on first write with mode 0700.
	Path string

	// Passphrase protects the file at rest (required). The encryption key is
	// derived from it with scrypt using a per-write random salt.
	Passphrase string

	// Logger is the optional structured logger (default: slog.Default()).
	Logger *slog.Logger
}

// File persists the cache as a single encrypted file.
//
// The file layout is nonce (24 bytes) || salt (8 bytes) || ciphertext, where
// the ciphertext is the NaCl secretbox sealing of the serialized cache under
// a scrypt-derived key. Every write uses a fresh nonce and salt. Writes go
// through a temp file and rename so a crash never leaves a torn cache file.
type File struct {
	path       string
	passphrase string
	logger     *slog.Logger
}

var _ tokencache.Persister = (*File)(nil)

// NewFile creates an encrypted file persister.
func NewFile(cfg FileConfig) (*File, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("file persister requires a path")
	}
	if cfg.Passphrase == "" {
		return nil, fmt.Errorf("file persister requires a passphrase")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &File{
		path:       cfg.Path,
		passphrase: cfg.Passphrase,
		logger:     logger,
	}, nil
}

// BeforeAccess loads the file into the cache. A missing file is an empty
// cache, not an error; a file that fails to decrypt aborts the operation so
// a wrong passphrase never silently drops the user's tokens.
func (f *File) BeforeAccess(_ context.Context, cache tokencache.Unmarshaler, _ tokencache.NotificationArgs) error {
	data, err := os.ReadFile(f.path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to read cache file: %w", err)
	}

	plaintext, err := f.decrypt(data)
	if err != nil {
		return err
	}
	if err := cache.Unmarshal(plaintext); err != nil {
		return fmt.Errorf("failed to load cache file %s: %w", f.path, err)
	}
	return nil
}

// AfterAccess writes the cache back when the operation changed it.
func (f *File) AfterAccess(_ context.Context, cache tokencache.Marshaler, args tokencache.NotificationArgs) error {
	if !args.HasStateChanged {
		return nil
	}

	plaintext, err := cache.Marshal()
	if err != nil {
		return fmt.Errorf("failed to serialize cache: %w", err)
	}
	blob, err := f.encrypt(plaintext)
	if err != nil {
		return err
	}

	dir := filepath.Dir(f.path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("failed to create cache directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".tokencache-*")
	if err != nil {
		return fmt.Errorf("failed to create temp cache file: %w", err)
	}
	tmpName := tmp.Name()
	if err := tmp.Chmod(0o600); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("failed to restrict cache file mode: %w", err)
	}
	if _, err := tmp.Write(blob); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("failed to write cache file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to close cache file: %w", err)
	}
	if err := os.Rename(tmpName, f.path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to replace cache file: %w", err)
	}

	f.logger.Debug("Persisted token cache file",
		"path", f.path,
		"bytes", len(blob))
	return nil
}

func (f *File) encrypt(plaintext []byte) ([]byte, error) {
	var nonce [fileNonceSize]byte
	if _, err := rand.Read(nonce[:]); err != nil {
		return nil, fmt.Errorf("failed to generate nonce: %w", err)
	}
	salt := make([]byte, fileSaltSize)
	if _, err := rand.Read(salt); err != nil {
		return nil, fmt.Errorf("failed to generate salt: %w", err)
	}

	key, err := f.deriveKey(salt)
	if err != nil {
		return nil, err
	}

	blob := make([]byte, 0, fileNonceSize+fileSaltSize+len(plaintext)+secretbox.Overhead)
	blob = append(blob, nonce[:]...)
	blob = append(blob, salt...)
	return secretbox.Seal(blob, plaintext, &nonce, key), nil
}

func (f *File) decrypt(data []byte) ([]byte, error) {
	if len(data) < fileNonceSize+fileSaltSize {
		return nil, fmt.Errorf("cache file %s is truncated", f.path)
	}
	var nonce [fileNonceSize]byte
	copy(nonce[:], data[:fileNonceSize])
	salt := data[fileNonceSize : fileNonceSize+fileSaltSize]

	key, err := f.deriveKey(salt)
	if err != nil {
		return nil, err
	}

	plaintext, ok := secretbox.Open(nil, data[fileNonceSize+fileSaltSize:], &nonce, key)
	if !ok {
		return nil, fmt.Errorf("failed to decrypt cache file %s: wrong passphrase or corrupt file", f.path)
	}
	return plaintext, nil
}

func (f *File) deriveKey(salt []byte) (*[fileKeySize]byte, error) {
	kb, err := scrypt.Key([]byte(f.passphrase), salt, scryptN, scryptR, scryptP, fileKeySize)
	if err != nil {
		return nil, fmt.Errorf("failed to derive encryption key: %w", err)
	}
	var key [fileKeySize]byte
	copy(key[:], kb)
	return &key, nil
}
