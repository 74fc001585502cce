// Package docstore provides a minimal document store: JSON documents
// grouped in collections, addressed by key and ordered by timestamp.
package docstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// ErrNotFound is returned when a document does not exist.
var ErrNotFound = errors.New("document not found")

// Document is one stored JSON document.
type Document struct {
	Key       string
	Data      []byte
	Timestamp time.Time
}

// Query selects documents of a collection ordered by timestamp. Documents
// with equal timestamps are ordered by key. A zero Limit means no limit.
type Query struct {
	Descending bool
	Limit      int
}

// Store is the document store contract used by the persistence gateway.
type Store interface {
	// Get returns the document at collection/key or ErrNotFound.
	Get(ctx context.Context, collection, key string) (Document, error)

	// Set writes the document at collection/key, replacing any previous one.
	Set(ctx context.Context, collection, key string, data []byte, ts time.Time) error

	// Add stores data under a generated key and returns the key.
	Add(ctx context.Context, collection string, data []byte, ts time.Time) (string, error)

	// Update replaces the data of an existing document, keeping its
	// timestamp. Returns ErrNotFound if the document does not exist.
	Update(ctx context.Context, collection, key string, data []byte) error

	// Delete removes the document. Deleting a missing document is not an error.
	Delete(ctx context.Context, collection, key string) error

	// Query lists documents of a collection.
	Query(ctx context.Context, collection string, q Query) ([]Document, error)

	// Ping verifies connectivity to the backend.
	Ping(ctx context.Context) error

	// Close releases backend resources.
	Close() error
}

// Backend names accepted by Open.
const (
	BackendSQLite = "sqlite"
	BackendRedis  = "redis"
)

// Options configures Open.
type Options struct {
	Backend       string
	SQLitePath    string
	RedisAddr     string
	RedisPassword string
	RedisDB       int
}

// Open creates the store for the configured backend.
func Open(ctx context.Context, opts Options) (Store, error) {
	switch opts.Backend {
	case BackendSQLite, "":
		return NewSQLite(opts.SQLitePath)
	case BackendRedis:
		return NewRedis(ctx, RedisOptions{
			Addr:     opts.RedisAddr,
			Password: opts.RedisPassword,
			DB:       opts.RedisDB,
		})
	default:
		return nil, fmt.Errorf("unknown store backend %q", opts.Backend)
	}
}

// newKey returns a time-ordered key so that keys of documents added in
// the same instant still sort in insertion order.
func newKey() (string, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return "", fmt.Errorf("generate key: %w", err)
	}
	return id.String(), nil
}
