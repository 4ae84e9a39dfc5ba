package postgres

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/natefox/mnemo/internal/storage"
	"github.com/natefox/mnemo/pkg/types"
)

// Ensure *MemoryStore implements storage.SearchProvider at compile time.
var _ storage.SearchProvider = (*MemoryStore)(nil)

// vectorSearchMaxCandidates bounds the fallback in-process scan when pgvector
// is unavailable. Newest entries are scored first.
const vectorSearchMaxCandidates = 10_000

// FullTextSearch performs tsvector full-text search over content and
// keywords, ranked by ts_rank. Queries that reduce to nothing (empty or all
// stop words) produce an empty tsquery and therefore an empty result page.
func (s *MemoryStore) FullTextSearch(ctx context.Context, query string, opts storage.SearchOptions) (*storage.PaginatedResult[*types.MemoryEntry], error) {
	opts.Normalize()

	if strings.TrimSpace(query) == "" {
		return &storage.PaginatedResult[*types.MemoryEntry]{
			Items:    []*types.MemoryEntry{},
			Page:     1,
			PageSize: opts.Limit,
		}, nil
	}

	args := []interface{}{query}
	conditions := []string{"m.content_tsv @@ plainto_tsquery('english', $1)"}
	if !opts.IncludeArchived {
		conditions = append(conditions, "m.is_archived = FALSE")
	}
	if opts.ContentType != "" {
		args = append(args, string(opts.ContentType))
		conditions = append(conditions, fmt.Sprintf("m.content_type = $%d", len(args)))
	}
	whereClause := strings.Join(conditions, " AND ")

	var total int
	countQuery := "SELECT COUNT(*) FROM memories m WHERE " + whereClause
	if err := s.db.QueryRowContext(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, fmt.Errorf("failed to count search results: %w", err)
	}

	searchQuery := fmt.Sprintf(`
		SELECT %s
		FROM memories m
		%s
		WHERE %s
		ORDER BY ts_rank(m.content_tsv, plainto_tsquery('english', $1)) DESC
		LIMIT $%d OFFSET $%d`,
		entryColumns, entryJoins, whereClause, len(args)+1, len(args)+2)
	args = append(args, opts.Limit, opts.Offset)

	rows, err := s.db.QueryContext(ctx, searchQuery, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to search entries: %w", err)
	}
	defer rows.Close()

	var items []*types.MemoryEntry
	for rows.Next() {
		entry, err := scanEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan search result: %w", err)
		}
		items = append(items, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate search results: %w", err)
	}

	return &storage.PaginatedResult[*types.MemoryEntry]{
		Items:    items,
		Total:    total,
		Page:     opts.Offset/opts.Limit + 1,
		PageSize: opts.Limit,
		HasMore:  opts.Offset+len(items) < total,
	}, nil
}

// VectorSearch performs nearest-neighbor search over stored embeddings,
// ranked by descending cosine similarity. When the pgvector extension is
// available the database orders candidates by cosine distance; otherwise
// embeddings stream out of the BYTEA column and are scored in Go.
func (s *MemoryStore) VectorSearch(ctx context.Context, query []float32, opts storage.SearchOptions) (*storage.PaginatedResult[*types.MemoryEntry], error) {
	opts.Normalize()

	if len(query) == 0 {
		return nil, fmt.Errorf("%w: query vector must not be empty", storage.ErrInvalidInput)
	}

	if s.pgvectorAvailable {
		return s.vectorSearchPgvector(ctx, query, opts)
	}
	return s.vectorSearchFallback(ctx, query, opts)
}

// vectorSearchPgvector ranks candidates in the database using the <=>
// cosine-distance operator. Rows whose dimension differs from the query are
// filtered out so the operator never sees mismatched vectors.
func (s *MemoryStore) vectorSearchPgvector(ctx context.Context, query []float32, opts storage.SearchOptions) (*storage.PaginatedResult[*types.MemoryEntry], error) {
	args := []interface{}{len(query)}
	conditions := []string{"e.embedding_vec IS NOT NULL", "e.dimension = $1"}
	if !opts.IncludeArchived {
		conditions = append(conditions, "m.is_archived = FALSE")
	}
	if opts.ContentType != "" {
		args = append(args, string(opts.ContentType))
		conditions = append(conditions, fmt.Sprintf("e.content_type = $%d", len(args)))
	}
	whereClause := strings.Join(conditions, " AND ")

	var total int
	countQuery := `
		SELECT COUNT(*)
		FROM memories m
		JOIN embeddings e ON e.memory_id = m.id
		WHERE ` + whereClause
	if err := s.db.QueryRowContext(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, fmt.Errorf("failed to count vector results: %w", err)
	}

	searchQuery := fmt.Sprintf(`
		SELECT %s
		FROM memories m
		JOIN embeddings e ON e.memory_id = m.id
		WHERE %s
		ORDER BY e.embedding_vec <=> $%d::vector
		LIMIT $%d OFFSET $%d`,
		entryColumns, whereClause, len(args)+1, len(args)+2, len(args)+3)
	args = append(args, pgvectorValue(query), opts.Limit, opts.Offset)

	rows, err := s.db.QueryContext(ctx, searchQuery, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to run vector search: %w", err)
	}
	defer rows.Close()

	var items []*types.MemoryEntry
	for rows.Next() {
		entry, err := scanEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan vector result: %w", err)
		}
		items = append(items, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate vector results: %w", err)
	}

	return &storage.PaginatedResult[*types.MemoryEntry]{
		Items:    items,
		Total:    total,
		Page:     opts.Offset/opts.Limit + 1,
		PageSize: opts.Limit,
		HasMore:  opts.Offset+len(items) < total,
	}, nil
}

// vectorSearchFallback scores the packed BYTEA embeddings in Go, newest
// candidates first, bounded by vectorSearchMaxCandidates.
func (s *MemoryStore) vectorSearchFallback(ctx context.Context, query []float32, opts storage.SearchOptions) (*storage.PaginatedResult[*types.MemoryEntry], error) {
	var conditions []string
	var args []interface{}
	if !opts.IncludeArchived {
		conditions = append(conditions, "m.is_archived = FALSE")
	}
	if opts.ContentType != "" {
		args = append(args, string(opts.ContentType))
		conditions = append(conditions, fmt.Sprintf("e.content_type = $%d", len(args)))
	}
	whereClause := ""
	if len(conditions) > 0 {
		whereClause = "WHERE " + strings.Join(conditions, " AND ")
	}
	args = append(args, vectorSearchMaxCandidates)

	candidateQuery := fmt.Sprintf(`
		SELECT e.memory_id, e.embedding
		FROM embeddings e
		JOIN memories m ON m.id = e.memory_id
		%s
		ORDER BY m.created_at DESC
		LIMIT $%d`, whereClause, len(args))

	rows, err := s.db.QueryContext(ctx, candidateQuery, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to load embedding candidates: %w", err)
	}
	defer rows.Close()

	type scoredID struct {
		id    string
		score float64
	}
	var scored []scoredID

	for rows.Next() {
		var (
			id   string
			blob []byte
		)
		if err := rows.Scan(&id, &blob); err != nil {
			return nil, fmt.Errorf("failed to scan embedding candidate: %w", err)
		}
		vec, err := deserializeVector(blob)
		if err != nil || len(vec) != len(query) {
			// Corrupt or dimension-mismatched rows never rank.
			continue
		}
		scored = append(scored, scoredID{id: id, score: cosineSimilarity(query, vec)})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate embedding candidates: %w", err)
	}

	sort.Slice(scored, func(i, j int) bool {
		return scored[i].score > scored[j].score
	})

	total := len(scored)
	start := opts.Offset
	if start > total {
		start = total
	}
	end := start + opts.Limit
	if end > total {
		end = total
	}

	items := make([]*types.MemoryEntry, 0, end-start)
	for _, sc := range scored[start:end] {
		entry, err := s.Get(ctx, sc.id)
		if err != nil {
			// The row vanished between scoring and fetch; skip it.
			continue
		}
		items = append(items, entry)
	}

	return &storage.PaginatedResult[*types.MemoryEntry]{
		Items:    items,
		Total:    total,
		Page:     opts.Offset/opts.Limit + 1,
		PageSize: opts.Limit,
		HasMore:  end < total,
	}, nil
}

// cosineSimilarity computes the cosine of the angle between two equal-length
// vectors, accumulating in float64 for stability. Zero-norm vectors score 0.
func cosineSimilarity(a, b []float32) float64 {
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}
