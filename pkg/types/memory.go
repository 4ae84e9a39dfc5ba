package types

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// MemoryEntry is the atomic unit of storage in the memory engine. Entries are
// created once via ingestion; the only post-creation mutations are access
// bookkeeping (AccessCount, LastAccessedAt) and archival (IsArchived).
// Content and ContentType never change after creation; corrections are
// written as new entries.
type MemoryEntry struct {
	// Core identification fields
	ID            string        `json:"id"`                 // Unique identifier (UUID)
	Content       string        `json:"content"`            // Raw entry content, never empty
	ContentType   ContentType   `json:"content_type"`       // Classification, immutable
	ContentFormat ContentFormat `json:"content_format"`     // Encoding of Content (default: text)
	Keywords      []string      `json:"keywords,omitempty"` // Ordered, de-duplicated keywords

	// Embedding fields. Both are set or both are empty; a vector index row
	// exists exactly when they are set.
	Embedding      []float32 `json:"embedding,omitempty"`       // Vector embedding for semantic search
	EmbeddingModel string    `json:"embedding_model,omitempty"` // Model that produced Embedding

	// Quality signals
	RelevanceScore float64    `json:"relevance_score"`            // Write-time heuristic score in [0,1]
	AccessCount    int        `json:"access_count"`               // Incremented by reads only
	LastAccessedAt *time.Time `json:"last_accessed_at,omitempty"` // Time of the most recent access

	// Lifecycle
	CreatedAt  time.Time `json:"created_at"`
	IsArchived bool      `json:"is_archived"` // Archived entries are hidden from search, readable by ID

	// Checkpoint metadata, set only on checkpoint entries (ContentType context).
	Checkpoint *CheckpointInfo `json:"checkpoint,omitempty"`
}

// HasEmbedding reports whether the entry carries a vector embedding.
func (m *MemoryEntry) HasEmbedding() bool {
	return len(m.Embedding) > 0
}

// Validate checks the structural invariants of the entry. It returns a plain
// error describing the first violation found; callers in the storage layer
// wrap it with their invalid-input sentinel.
func (m *MemoryEntry) Validate() error {
	if m.ID == "" {
		return errors.New("id must not be empty")
	}
	if strings.TrimSpace(m.Content) == "" {
		return errors.New("content must not be empty")
	}
	if !IsValidContentType(m.ContentType) {
		return fmt.Errorf("unknown content type %q", m.ContentType)
	}
	if !IsValidContentFormat(m.ContentFormat) {
		return fmt.Errorf("unknown content format %q", m.ContentFormat)
	}
	if m.RelevanceScore < 0 || m.RelevanceScore > 1 {
		return fmt.Errorf("relevance score %f out of range [0,1]", m.RelevanceScore)
	}
	if m.AccessCount < 0 {
		return fmt.Errorf("access count %d must not be negative", m.AccessCount)
	}

	// Embedding and model are all-or-nothing.
	if m.HasEmbedding() && m.EmbeddingModel == "" {
		return errors.New("embedding present without embedding model")
	}
	if !m.HasEmbedding() && m.EmbeddingModel != "" {
		return errors.New("embedding model present without embedding")
	}

	if m.Checkpoint != nil {
		if m.ContentType != ContentTypeContext {
			return fmt.Errorf("checkpoint metadata requires content type %q, got %q", ContentTypeContext, m.ContentType)
		}
		if err := m.Checkpoint.Validate(); err != nil {
			return err
		}
	}
	return nil
}
