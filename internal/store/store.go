// Package store persists indexed passages. A Repository is an append-only
// collection supporting single inserts and a full, ordered scan; re-seeding
// replaces the whole collection via Reset.
//
// Three backends are provided: SQLite (default, a single local file), bbolt
// (embedded key/value file) and Qdrant (remote collection).
package store

import (
	"context"
	"errors"
	"fmt"
)

// ErrRepository marks every failure to read from or write to a Repository.
// Callers test for it with errors.Is.
var ErrRepository = errors.New("repository error")

// Passage is one indexed unit of text. Embedding always has the configured
// context-window width once it has been stored.
type Passage struct {
	// Text is the chunk text as it was ingested.
	Text string `json:"text"`
	// Tokens are the padded/truncated token strings parallel to Embedding.
	Tokens []string `json:"tokens"`
	// Embedding is the fixed-width vector of vocabulary token ids.
	Embedding []uint32 `json:"embedding"`
}

// Repository persists passages. Implementations must be safe for concurrent
// Insert calls.
type Repository interface {
	// Insert appends a single passage.
	Insert(ctx context.Context, p Passage) error
	// Scan calls fn for every stored passage in insertion order. A non-nil
	// error from fn stops the scan and is returned unchanged.
	Scan(ctx context.Context, fn func(Passage) error) error
	// Count returns the number of stored passages.
	Count(ctx context.Context) (int, error)
	// Reset removes every stored passage.
	Reset(ctx context.Context) error
	// Ping reports whether the backend is reachable.
	Ping(ctx context.Context) error
	// Close releases any resources held by the repository.
	Close() error
}

// Backend names accepted by Open.
const (
	BackendSQLite = "sqlite"
	BackendBolt   = "bolt"
	BackendQdrant = "qdrant"
)

// Config selects and configures a Repository backend.
type Config struct {
	// Backend is one of BackendSQLite (default), BackendBolt or BackendQdrant.
	Backend string
	// Path is the database file for the sqlite and bolt backends.
	Path string
	// Qdrant configures the qdrant backend.
	Qdrant QdrantConfig
}

// Open constructs the Repository selected by cfg.Backend.
func Open(ctx context.Context, cfg Config) (Repository, error) {
	switch cfg.Backend {
	case "", BackendSQLite:
		return OpenSQLite(cfg.Path)
	case BackendBolt:
		return OpenBolt(cfg.Path)
	case BackendQdrant:
		return OpenQdrant(ctx, cfg.Qdrant)
	default:
		return nil, fmt.Errorf("store: unknown backend %q (valid: sqlite, bolt, qdrant)", cfg.Backend)
	}
}

// repoErr wraps err so that it matches ErrRepository.
func repoErr(op string, err error) error {
	return fmt.Errorf("store: %s: %w: %w", op, ErrRepository, err)
}
