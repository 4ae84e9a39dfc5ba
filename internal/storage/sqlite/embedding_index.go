package sqlite

import (
	"context"
	"database/sql"
	"encoding/binary"
	"fmt"
	"math"

	"github.com/natefox/mnemo/internal/storage"
)

// GetEmbedding returns the stored vector and the model that produced it.
// Returns ErrNotFound if no vector index row exists for the ID.
func (s *MemoryStore) GetEmbedding(ctx context.Context, memoryID string) ([]float32, string, error) {
	if memoryID == "" {
		return nil, "", fmt.Errorf("%w: memory id must not be empty", storage.ErrInvalidInput)
	}

	var (
		blob  []byte
		model string
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT embedding, model FROM embeddings WHERE memory_id = ?`, memoryID).
		Scan(&blob, &model)
	if err == sql.ErrNoRows {
		return nil, "", fmt.Errorf("%w: embedding for memory %s", storage.ErrNotFound, memoryID)
	}
	if err != nil {
		return nil, "", fmt.Errorf("failed to get embedding: %w", err)
	}

	vec, err := deserializeVector(blob)
	if err != nil {
		return nil, "", fmt.Errorf("failed to deserialize embedding: %w", err)
	}
	return vec, model, nil
}

// HasEmbedding reports whether a vector index row exists for the ID.
func (s *MemoryStore) HasEmbedding(ctx context.Context, memoryID string) (bool, error) {
	if memoryID == "" {
		return false, fmt.Errorf("%w: memory id must not be empty", storage.ErrInvalidInput)
	}

	var exists int
	err := s.db.QueryRowContext(ctx,
		`SELECT EXISTS(SELECT 1 FROM embeddings WHERE memory_id = ?)`, memoryID).
		Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check embedding: %w", err)
	}
	return exists != 0, nil
}

// serializeVector packs a float32 slice into a little-endian byte blob.
func serializeVector(vec []float32) []byte {
	buf := make([]byte, len(vec)*4)
	for i, v := range vec {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(v))
	}
	return buf
}

// deserializeVector unpacks a little-endian byte blob into a float32 slice.
func deserializeVector(data []byte) ([]float32, error) {
	if len(data)%4 != 0 {
		return nil, fmt.Errorf("embedding blob length %d is not a multiple of 4", len(data))
	}
	vec := make([]float32, len(data)/4)
	for i := range vec {
		vec[i] = math.Float32frombits(binary.LittleEndian.Uint32(data[i*4:]))
	}
	return vec, nil
}
