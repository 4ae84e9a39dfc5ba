package postgres

import (
	"context"
	"database/sql"
	"encoding/binary"
	"errors"
	"fmt"
	"math"

	pgvector "github.com/pgvector/pgvector-go"

	"github.com/natefox/mnemo/internal/storage"
)

// GetEmbedding returns the stored vector and the model that produced it.
// Returns ErrNotFound when the entry has no embedding.
func (s *MemoryStore) GetEmbedding(ctx context.Context, id string) ([]float32, string, error) {
	if id == "" {
		return nil, "", fmt.Errorf("%w: id must not be empty", storage.ErrInvalidInput)
	}

	var (
		blob  []byte
		model string
	)
	err := s.db.QueryRowContext(ctx,
		"SELECT embedding, model FROM embeddings WHERE memory_id = $1", id,
	).Scan(&blob, &model)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, "", fmt.Errorf("%w: no embedding for memory %s", storage.ErrNotFound, id)
		}
		return nil, "", fmt.Errorf("failed to get embedding: %w", err)
	}

	vec, err := deserializeVector(blob)
	if err != nil {
		return nil, "", fmt.Errorf("failed to deserialize embedding: %w", err)
	}
	return vec, model, nil
}

// HasEmbedding reports whether an embedding row exists for the entry.
func (s *MemoryStore) HasEmbedding(ctx context.Context, id string) (bool, error) {
	if id == "" {
		return false, fmt.Errorf("%w: id must not be empty", storage.ErrInvalidInput)
	}

	var exists bool
	err := s.db.QueryRowContext(ctx,
		"SELECT EXISTS(SELECT 1 FROM embeddings WHERE memory_id = $1)", id,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check embedding: %w", err)
	}
	return exists, nil
}

// pgvectorValue wraps a vector for the embedding_vec column.
func pgvectorValue(vec []float32) pgvector.Vector {
	return pgvector.NewVector(vec)
}

// serializeVector packs a vector as little-endian float32 values.
func serializeVector(vec []float32) []byte {
	buf := make([]byte, len(vec)*4)
	for i, v := range vec {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(v))
	}
	return buf
}

// deserializeVector unpacks a little-endian float32 blob.
func deserializeVector(blob []byte) ([]float32, error) {
	if len(blob)%4 != 0 {
		return nil, fmt.Errorf("embedding blob length %d is not a multiple of 4", len(blob))
	}
	vec := make([]float32, len(blob)/4)
	for i := range vec {
		vec[i] = math.Float32frombits(binary.LittleEndian.Uint32(blob[i*4:]))
	}
	return vec, nil
}
