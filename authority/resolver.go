package authority

import (
	"context"
	"log/slog"
	"sync"

	"golang.org/x/time/rate"
)

// InstanceDiscoverer fetches environment alias metadata from the cloud's
// instance-discovery endpoint. Implemented by the transport layer; faked in
// tests.
type InstanceDiscoverer interface {
	InstanceDiscovery(ctx context.Context, host string) (DiscoveryResponse, error)
}

// InstanceMetadata describes one alias-equivalent set of environments.
type InstanceMetadata struct {
	PreferredNetwork string   `json:"preferred_network"`
	PreferredCache   string   `json:"preferred_cache"`
	Aliases          []string `json:"aliases"`
}

// DiscoveryResponse is the instance-discovery document.
type DiscoveryResponse struct {
	TenantDiscoveryEndpoint string             `json:"tenant_discovery_endpoint"`
	Metadata                []InstanceMetadata `json:"metadata"`
}

const (
	// Discovery documents change rarely; one call per few seconds per
	// resolver is plenty even when many hosts miss the cache at once.
	discoveryRatePerSecond = 1
	discoveryBurst         = 5
)

// Resolver resolves an environment host to its alias set, caching discovery
// results for the resolver's lifetime. It is an injected service with an
// explicit Clear for test isolation, never a process-global.
//
// A nil discoverer degrades gracefully: every host aliases only itself,
// which is also the fallback when discovery omits the asked-for host.
type Resolver struct {
	mu    sync.RWMutex
	cache map[string]InstanceMetadata

	discoverer InstanceDiscoverer
	limiter    *rate.Limiter
	logger     *slog.Logger
}

// NewResolver creates a resolver over the given discoverer. A nil logger
// defaults to slog.Default().
func NewResolver(discoverer InstanceDiscoverer, logger *slog.Logger) *Resolver {
	if logger == nil {
		logger = slog.Default()
	}
	return &Resolver{
		cache:      make(map[string]InstanceMetadata),
		discoverer: discoverer,
		limiter:    rate.NewLimiter(rate.Limit(discoveryRatePerSecond), discoveryBurst),
		logger:     logger,
	}
}

// Metadata returns the alias metadata entry for host, consulting the
// discovery service on a cache miss.
func (r *Resolver) Metadata(ctx context.Context, host string) (InstanceMetadata, error) {
	r.mu.RLock()
	md, ok := r.cache[host]
	r.mu.RUnlock()
	if ok {
		return md, nil
	}
	return r.discover(ctx, host)
}

// Aliases returns every host name alias-equivalent to host, always
// including host itself.
func (r *Resolver) Aliases(ctx context.Context, host string) ([]string, error) {
	md, err := r.Metadata(ctx, host)
	if err != nil {
		return nil, err
	}
	for _, a := range md.Aliases {
		if a == host {
			return md.Aliases, nil
		}
	}
	return append([]string{host}, md.Aliases...), nil
}

// Clear drops all cached discovery metadata.
func (r *Resolver) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cache = make(map[string]InstanceMetadata)
}

func (r *Resolver) discover(ctx context.Context, host string) (InstanceMetadata, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	// Another caller may have populated the entry while we waited.
	if md, ok := r.cache[host]; ok {
		return md, nil
	}

	self := InstanceMetadata{
		PreferredNetwork: host,
		PreferredCache:   host,
		Aliases:          []string{host},
	}
	if r.discoverer == nil {
		r.cache[host] = self
		return self, nil
	}

	if err := r.limiter.Wait(ctx); err != nil {
		return InstanceMetadata{}, err
	}
	resp, err := r.discoverer.InstanceDiscovery(ctx, host)
	if err != nil {
		return InstanceMetadata{}, err
	}

	for _, entry := range resp.Metadata {
		for _, alias := range entry.Aliases {
			r.cache[alias] = entry
		}
	}
	// Hosts the discovery document does not mention still need an entry so
	// lookups against them keep working; they alias only themselves.
	if _, ok := r.cache[host]; !ok {
		r.logger.Debug("host absent from instance discovery response, self-aliasing",
			"host", host)
		r.cache[host] = self
	}
	return r.cache[host], nil
}
