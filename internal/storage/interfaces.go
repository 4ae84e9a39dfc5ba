// Package storage provides composable storage interfaces for the mnemo
// memory engine.
//
// The storage layer is designed with small, focused interfaces that can be
// implemented independently and composed as needed. This follows the Interface
// Segregation Principle and allows for flexible backend implementations.
package storage

import (
	"context"

	"github.com/natefox/mnemo/pkg/types"
)

// MemoryStore provides CRUD operations and pagination for memory entries.
// Implementations must keep the lexical index, and the vector index when an
// embedding is present, in lockstep with the base record: each write happens
// inside one transactional boundary, so no partially-indexed entry is ever
// observable.
type MemoryStore interface {
	// Put stores a new memory entry. Put is insert-only: content and
	// content type are immutable, so storing an entry whose ID already
	// exists is an error, as is any validation failure. Both wrap
	// ErrInvalidInput, and nothing is persisted on failure.
	Put(ctx context.Context, entry *types.MemoryEntry) error

	// Get retrieves a memory entry by ID, including its embedding metadata.
	// Returns ErrNotFound if the entry doesn't exist.
	Get(ctx context.Context, id string) (*types.MemoryEntry, error)

	// List retrieves entries with pagination and filtering.
	List(ctx context.Context, opts ListOptions) (*PaginatedResult[*types.MemoryEntry], error)

	// Delete permanently removes an entry together with its index rows.
	// Returns ErrNotFound if the entry doesn't exist.
	Delete(ctx context.Context, id string) error

	// Archive marks an entry as archived. Archived entries are excluded
	// from search but remain readable by ID.
	// Returns ErrNotFound if the entry doesn't exist.
	Archive(ctx context.Context, id string) error

	// RecordAccess increments the entry's access count and stamps the
	// access time. Callers treat it as best-effort bookkeeping: its failure
	// must never fail the read that triggered it.
	// Returns ErrNotFound if the entry doesn't exist.
	RecordAccess(ctx context.Context, id string) error

	// Close releases the underlying database resources.
	Close() error
}

// SearchProvider provides the two ranked index queries that the retrieval
// engine fuses. Both exclude archived entries and honor the content-type
// filter in the options.
type SearchProvider interface {
	// FullTextSearch performs ranked lexical search over entry content and
	// keywords. An empty query yields an empty result, not an error.
	FullTextSearch(ctx context.Context, query string, opts SearchOptions) (*PaginatedResult[*types.MemoryEntry], error)

	// VectorSearch performs nearest-neighbor search over stored embeddings,
	// ranked by descending similarity to the query vector.
	VectorSearch(ctx context.Context, query []float32, opts SearchOptions) (*PaginatedResult[*types.MemoryEntry], error)
}

// VectorIndex exposes direct access to vector index rows. Its consumers are
// consistency checks and tests asserting that the index stays in lockstep
// with the base table.
type VectorIndex interface {
	// GetEmbedding returns the stored vector and the model that produced it.
	// Returns ErrNotFound if no vector index row exists for the ID.
	GetEmbedding(ctx context.Context, memoryID string) ([]float32, string, error)

	// HasEmbedding reports whether a vector index row exists for the ID.
	HasEmbedding(ctx context.Context, memoryID string) (bool, error)
}

// SettingsStore persists small key/value configuration settings, such as the
// retrieval tuning parameters.
type SettingsStore interface {
	// GetSetting returns the value stored under key.
	// Returns ErrNotFound if the key has never been set.
	GetSetting(ctx context.Context, key string) (string, error)

	// SetSetting stores value under key, replacing any previous value.
	SetSetting(ctx context.Context, key, value string) error
}
