package persistence

import (
	"context"
	"crypto/tls"
	"fmt"
	"log/slog"
	"time"

	valkeygo "github.com/valkey-io/valkey-go"

	"github.com/identitykit/tokencache"
)

const (
	// DefaultValkeyKeyPrefix is the default prefix for all cache blob keys.
	DefaultValkeyKeyPrefix = "tokencache:"

	// fallbackBlobKey names the blob for operations that carry no suggested
	// cache key, such as account enumeration on a user cache.
	fallbackBlobKey = "default"

	// connectionVerifyTimeout bounds the initial PING.
	connectionVerifyTimeout = 5 * time.Second
)

// ValkeyConfig configures a Valkey-backed persister.
type ValkeyConfig struct {
	// Address is the Valkey server address (required), e.g. "localhost:6379".
	Address string

	// Password is the optional password for authentication.
	Password string

	// DB is the optional database number (default 0).
	DB int

	// KeyPrefix is the prefix for all keys (default "tokencache:").
	KeyPrefix string

	// TLS is the optional TLS configuration for encrypted connections.
	TLS *tls.Config

	// TTL is the optional expiry applied on every write. Zero means the
	// blobs never expire.
	TTL time.Duration

	// Logger is the optional structured logger (default: slog.Default()).
	Logger *slog.Logger
}

// Valkey persists the cache as one serialized blob per suggested cache key,
// so a multi-tenant host naturally partitions by principal: one blob per home
// account id, one per app cache, one per on-behalf-of assertion.
type Valkey struct {
	client valkeygo.Client
	prefix string
	ttl    time.Duration
	logger *slog.Logger
}

var _ tokencache.Persister = (*Valkey)(nil)

// NewValkey creates a Valkey-backed persister. Returns an error if the
// connection cannot be established.
func NewValkey(cfg ValkeyConfig) (*Valkey, error) {
	if cfg.Address == "" {
		return nil, fmt.Errorf("valkey address is required")
	}

	prefix := cfg.KeyPrefix
	if prefix == "" {
		prefix = DefaultValkeyKeyPrefix
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	opts := valkeygo.ClientOption{
		InitAddress: []string{cfg.Address},
		SelectDB:    cfg.DB,
	}
	if cfg.Password != "" {
		opts.Password = cfg.Password
	}
	if cfg.TLS != nil {
		opts.TLSConfig = cfg.TLS
	}

	client, err := valkeygo.NewClient(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to create valkey client: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), connectionVerifyTimeout)
	defer cancel()
	if err := client.Do(ctx, client.B().Ping().Build()).Error(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to valkey: %w", err)
	}

	logger.Info("Connected to Valkey cache persistence",
		"address", cfg.Address,
		"db", cfg.DB,
		"prefix", prefix)

	return &Valkey{
		client: client,
		prefix: prefix,
		ttl:    cfg.TTL,
		logger: logger,
	}, nil
}

// Close releases the underlying client.
func (v *Valkey) Close() {
	v.client.Close()
}

// BeforeAccess loads the blob for the operation's partition into the cache.
// A missing key is an empty cache.
func (v *Valkey) BeforeAccess(ctx context.Context, cache tokencache.Unmarshaler, args tokencache.NotificationArgs) error {
	key := v.blobKey(args)
	data, err := v.client.Do(ctx, v.client.B().Get().Key(key).Build()).ToString()
	if err != nil {
		if valkeygo.IsValkeyNil(err) {
			return nil
		}
		return fmt.Errorf("failed to load cache blob: %w", err)
	}
	if err := cache.Unmarshal([]byte(data)); err != nil {
		return fmt.Errorf("failed to load cache blob %s: %w", key, err)
	}
	return nil
}

// AfterAccess writes the blob back when the operation changed the cache.
func (v *Valkey) AfterAccess(ctx context.Context, cache tokencache.Marshaler, args tokencache.NotificationArgs) error {
	if !args.HasStateChanged {
		return nil
	}

	data, err := cache.Marshal()
	if err != nil {
		return fmt.Errorf("failed to serialize cache: %w", err)
	}

	key := v.blobKey(args)
	set := v.client.B().Set().Key(key).Value(string(data))
	var cmd valkeygo.Completed
	if v.ttl > 0 {
		cmd = set.Ex(v.ttl).Build()
	} else {
		cmd = set.Build()
	}
	if err := v.client.Do(ctx, cmd).Error(); err != nil {
		return fmt.Errorf("failed to store cache blob: %w", err)
	}

	v.logger.Debug("Persisted token cache blob",
		"key", key,
		"bytes", len(data))
	return nil
}

func (v *Valkey) blobKey(args tokencache.NotificationArgs) string {
	k := args.SuggestedCacheKey
	if k == "" {
		k = fallbackBlobKey
	}
	return v.prefix + k
}
