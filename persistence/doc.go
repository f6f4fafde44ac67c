// Package persistence provides ready-made Persister implementations for
// hosting a token cache outside process memory.
//
// File keeps the cache in a single encrypted file on disk, suitable for CLI
// tools that share tokens across invocations. Valkey keeps one blob per
// suggested cache key in a Valkey (or Redis-compatible) server, suitable for
// services that share a cache across replicas.
//
// Both implementations persist only when the after-access notification
// reports a state change, so pure reads never touch the backing store twice.
package persistence
