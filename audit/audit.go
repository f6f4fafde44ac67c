// Package audit provides cache event logging with PII protection. Account
// identifiers and usernames are hashed before they reach the log stream, so
// audit trails stay useful without scattering personal data across log
// aggregators.
package audit

import (
	"crypto/sha256"
	"encoding/hex"
	"log/slog"
	"time"
)

// Auditor handles cache event logging with PII protection.
type Auditor struct {
	logger  *slog.Logger
	enabled bool
}

// NewAuditor creates a new cache auditor
func NewAuditor(logger *slog.Logger, enabled bool) *Auditor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Auditor{
		logger:  logger,
		enabled: enabled,
	}
}

// Event represents a cache audit event
type Event struct {
	Type          string
	HomeAccountID string
	Username      string
	ClientID      string
	Details       map[string]any
	Timestamp     time.Time
}

// LogEvent logs a cache event with hashed PII. A nil or disabled auditor is
// silent, so call sites never need to guard.
func (a *Auditor) LogEvent(event Event) {
	if a == nil || !a.enabled {
		return
	}

	event.Timestamp = time.Now()

	a.logger.Info("cache_audit",
		"event_type", event.Type,
		"home_account_id_hash", hashForLogging(event.HomeAccountID),
		"username_hash", hashForLogging(event.Username),
		"client_id", event.ClientID,
		"details", event.Details,
		"timestamp", event.Timestamp,
	)
}

// LogTokenCached logs a token response being saved
func (a *Auditor) LogTokenCached(homeAccountID, username, clientID, scope string) {
	a.LogEvent(Event{
		Type:          EventTokenCached,
		HomeAccountID: homeAccountID,
		Username:      username,
		ClientID:      clientID,
		Details: map[string]any{
			"scope": scope,
		},
	})
}

// LogCacheRead logs the outcome of a silent read
func (a *Auditor) LogCacheRead(homeAccountID, clientID, credentialType string, hit, extended bool) {
	eventType := EventCacheMiss
	switch {
	case hit && extended:
		eventType = EventCacheHitExtended
	case hit:
		eventType = EventCacheHit
	}
	a.LogEvent(Event{
		Type:          eventType,
		HomeAccountID: homeAccountID,
		ClientID:      clientID,
		Details: map[string]any{
			"credential_type": credentialType,
		},
	})
}

// LogAccountRemoved logs an account eviction
func (a *Auditor) LogAccountRemoved(homeAccountID, username, clientID string) {
	a.LogEvent(Event{
		Type:          EventAccountRemoved,
		HomeAccountID: homeAccountID,
		Username:      username,
		ClientID:      clientID,
	})
}

// LogCacheLoaded logs external bytes replacing the cache contents
func (a *Auditor) LogCacheLoaded(clientID, schema string, changed bool) {
	a.LogEvent(Event{
		Type:     EventCacheLoaded,
		ClientID: clientID,
		Details: map[string]any{
			"schema":  schema,
			"changed": changed,
		},
	})
}

// LogCacheExported logs the cache being serialized for external storage
func (a *Auditor) LogCacheExported(clientID, schema string) {
	a.LogEvent(Event{
		Type:     EventCacheExported,
		ClientID: clientID,
		Details: map[string]any{
			"schema": schema,
		},
	})
}

// hashForLogging creates a SHA256 hash of sensitive data for logging
func hashForLogging(sensitive string) string {
	if sensitive == "" {
		return "<empty>"
	}
	hash := sha256.Sum256([]byte(sensitive))
	return hex.EncodeToString(hash[:])[:16]
}
