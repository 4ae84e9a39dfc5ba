// Package engine provides the memory engine that coordinates storage,
// embedding generation, and hybrid retrieval for the mnemo memory system.
package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/natefox/mnemo/pkg/types"
)

// RetrievalTuning holds the parameters of reciprocal rank fusion. All four
// knobs can be changed at runtime through the settings store without code
// changes.
type RetrievalTuning struct {
	// RRFK is the rank-smoothing constant k in 1/(k + rank) (default: 60).
	RRFK int `json:"rrf_k"`

	// TextWeight scales the lexical source's contribution (default: 1.0).
	TextWeight float64 `json:"text_weight"`

	// VectorWeight scales the vector source's contribution (default: 1.0).
	VectorWeight float64 `json:"vector_weight"`

	// CandidatesPerSource is the minimum number of candidates fetched from
	// each index before fusion (default: 10). Searches with a larger limit
	// fetch limit candidates instead.
	CandidatesPerSource int `json:"candidates_per_source"`
}

// DefaultRetrievalTuning returns the standard fusion parameters.
func DefaultRetrievalTuning() RetrievalTuning {
	return RetrievalTuning{
		RRFK:                60,
		TextWeight:          1.0,
		VectorWeight:        1.0,
		CandidatesPerSource: 10,
	}
}

// Validate checks that the tuning parameters are usable.
func (t *RetrievalTuning) Validate() error {
	if t.RRFK < 0 {
		return fmt.Errorf("rrf_k %d must not be negative", t.RRFK)
	}
	if t.TextWeight < 0 {
		return fmt.Errorf("text weight %f must not be negative", t.TextWeight)
	}
	if t.VectorWeight < 0 {
		return fmt.Errorf("vector weight %f must not be negative", t.VectorWeight)
	}
	if t.CandidatesPerSource < 1 {
		return fmt.Errorf("candidates per source %d must be at least 1", t.CandidatesPerSource)
	}
	return nil
}

// Config holds configuration for the memory engine.
type Config struct {
	// Tuning holds the retrieval fusion parameters.
	Tuning RetrievalTuning
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		Tuning: DefaultRetrievalTuning(),
	}
}

// Validate checks the configuration.
func (c *Config) Validate() error {
	return c.Tuning.Validate()
}

// StoreRequest describes one entry to ingest.
type StoreRequest struct {
	// Content is the raw text to remember. Required.
	Content string

	// ContentType classifies the content. Required.
	ContentType types.ContentType

	// ContentFormat describes the content encoding (default: text).
	ContentFormat types.ContentFormat

	// Keywords are caller-supplied search hints. Optional.
	Keywords []string

	// Checkpoint carries work-item state for checkpoint entries. Optional;
	// requires ContentType context.
	Checkpoint *types.CheckpointInfo
}

// StoreResult reports the outcome of a store operation.
type StoreResult struct {
	// MemoryID is the generated ID of the stored entry.
	MemoryID string

	// EmbeddingGenerated reports whether a vector was stored alongside the
	// entry. False when no embedder is configured or the provider failed;
	// the entry is still stored and remains lexically searchable.
	EmbeddingGenerated bool
}

// SearchRequest describes one hybrid retrieval query.
type SearchRequest struct {
	// Query is the search text. An empty query matches nothing.
	Query string

	// ContentType restricts results to one content type. Empty means all.
	ContentType types.ContentType

	// Limit is the maximum number of results (default: 10, max: 100).
	Limit int
}

// SearchResult is one fused retrieval hit with rank provenance.
type SearchResult struct {
	MemoryID    string
	Content     string
	ContentType types.ContentType

	// Score is the fused reciprocal-rank score. Scores are comparable only
	// within a single result list.
	Score float64

	// CreatedAt is when the entry was stored.
	CreatedAt time.Time

	// TextRank is the 1-based rank in the lexical source, nil when the entry
	// was not a lexical candidate.
	TextRank *int

	// VectorRank is the 1-based rank in the vector source, nil when the
	// entry was not a vector candidate.
	VectorRank *int
}

// Checkpointer triggers an out-of-band checkpoint cycle and reports how many
// work items were checkpointed. The checkpoint scheduler satisfies this.
type Checkpointer interface {
	TriggerImmediate(ctx context.Context, reason types.CheckpointReason) (int, error)
}

// ErrNoCheckpointer is returned by TriggerCheckpoint when no checkpoint
// scheduler has been registered with the engine.
var ErrNoCheckpointer = errors.New("no checkpoint scheduler registered")
