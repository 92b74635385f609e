// Package storage provides the persistent key-value and full-text-search
// abstraction the evolutionary tuner's profile store is built on
// (internal/evolution.ProfileStore). Orchestrator profiles and their scored
// results are JSON-encoded Records keyed by "profile/<id>" and
// "profile_result/<id>" respectively — this package knows nothing
// about profiles, only bytes and keys.
package storage

import (
	"context"
	"time"
)

// Record is a stored document with metadata.
type Record struct {
	Key       string            `json:"key"`
	Value     []byte            `json:"value"`
	Metadata  map[string]string `json:"metadata,omitempty"`
	CreatedAt time.Time         `json:"created_at"`
	UpdatedAt time.Time         `json:"updated_at"`
	ExpiresAt time.Time         `json:"expires_at,omitempty"` // Zero means no expiry.
}

// Store is the persistent storage interface.
type Store interface {
	// Get retrieves a record by key. Returns nil if not found.
	Get(ctx context.Context, key string) (*Record, error)

	// Put stores a record (upsert).
	Put(ctx context.Context, rec Record) error

	// Delete removes a record by key.
	Delete(ctx context.Context, key string) error

	// List returns the keys matching a prefix, at most limit of them.
	List(ctx context.Context, prefix string, limit int) ([]string, error)

	// Search performs full-text search on values. Returns matching records.
	Search(ctx context.Context, query string, limit int) ([]Record, error)

	// Count returns the total number of records.
	Count(ctx context.Context) (int, error)

	// PurgeExpired deletes every record whose ExpiresAt has passed and
	// returns how many were removed. Records saved with a zero ExpiresAt
	// never expire; ProfileStore's SaveResult sets none.
	PurgeExpired(ctx context.Context) (int, error)

	// Close shuts down the store.
	Close() error
}
