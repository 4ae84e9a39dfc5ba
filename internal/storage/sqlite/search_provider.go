package sqlite

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/natefox/mnemo/internal/storage"
	"github.com/natefox/mnemo/pkg/types"
)

// Compile-time assertion that MemoryStore satisfies the SearchProvider interface.
var _ storage.SearchProvider = (*MemoryStore)(nil)

// vectorSearchMaxCandidates bounds how many stored embeddings a single
// vector search will score. Candidates are taken newest-first, so on very
// large databases the oldest entries fall out of the scan window.
const vectorSearchMaxCandidates = 10_000

// FullTextSearch performs ranked lexical search over entry content and
// keywords using the FTS5 index. The query is sanitised into prefix terms
// joined with OR; an empty or all-stop-word query yields an empty result.
func (s *MemoryStore) FullTextSearch(ctx context.Context, query string, opts storage.SearchOptions) (*storage.PaginatedResult[*types.MemoryEntry], error) {
	opts.Normalize()

	sanitised := sanitiseFTSQuery(query)
	if sanitised == "" {
		return &storage.PaginatedResult[*types.MemoryEntry]{
			Items:    nil,
			Total:    0,
			Page:     1,
			PageSize: opts.Limit,
		}, nil
	}

	conditions := []string{"memories_fts MATCH ?"}
	args := []interface{}{sanitised}

	if !opts.IncludeArchived {
		conditions = append(conditions, "m.is_archived = 0")
	}
	if opts.ContentType != "" {
		conditions = append(conditions, "m.content_type = ?")
		args = append(args, string(opts.ContentType))
	}
	where := strings.Join(conditions, " AND ")

	var total int
	countQuery := fmt.Sprintf(`
		SELECT COUNT(*)
		FROM memories_fts fts
		JOIN memories m ON m.rowid = fts.rowid
		WHERE %s`, where)
	if err := s.db.QueryRowContext(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, fmt.Errorf("failed to count search results: %w", err)
	}

	// rank is bm25-based and negative, so ascending order puts the best
	// match first.
	searchQuery := fmt.Sprintf(`
		SELECT %s
		FROM memories_fts fts
		JOIN memories m ON m.rowid = fts.rowid
		%s
		WHERE %s
		ORDER BY rank
		LIMIT ? OFFSET ?`, entryColumns, entryJoins, where)
	args = append(args, opts.Limit, opts.Offset)

	rows, err := s.db.QueryContext(ctx, searchQuery, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to execute full-text search: %w", err)
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
// ranked by descending cosine similarity to the query vector. Embeddings are
// scored in Go: candidates stream out of the embeddings table newest-first,
// bounded by vectorSearchMaxCandidates.
func (s *MemoryStore) VectorSearch(ctx context.Context, query []float32, opts storage.SearchOptions) (*storage.PaginatedResult[*types.MemoryEntry], error) {
	opts.Normalize()

	if len(query) == 0 {
		return nil, fmt.Errorf("%w: query vector must not be empty", storage.ErrInvalidInput)
	}

	var conditions []string
	var args []interface{}
	if !opts.IncludeArchived {
		conditions = append(conditions, "m.is_archived = 0")
	}
	if opts.ContentType != "" {
		conditions = append(conditions, "e.content_type = ?")
		args = append(args, string(opts.ContentType))
	}
	where := ""
	if len(conditions) > 0 {
		where = "WHERE " + strings.Join(conditions, " AND ")
	}
	args = append(args, vectorSearchMaxCandidates)

	candidateQuery := fmt.Sprintf(`
		SELECT e.memory_id, e.embedding
		FROM embeddings e
		JOIN memories m ON m.id = e.memory_id
		%s
		ORDER BY m.created_at DESC
		LIMIT ?`, where)

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

// stopWords are dropped from FTS queries; matching on them produces noise
// rather than relevance.
var stopWords = map[string]bool{
	"a": true, "an": true, "and": true, "are": true, "as": true, "at": true,
	"be": true, "by": true, "for": true, "from": true, "has": true, "he": true,
	"in": true, "is": true, "it": true, "its": true, "of": true, "on": true,
	"or": true, "that": true, "the": true, "to": true, "was": true, "were": true,
	"will": true, "with": true,
}

// ftsReplacer strips characters that carry syntactic meaning in FTS5 query
// expressions so user text cannot break the MATCH parser.
var ftsReplacer = strings.NewReplacer(
	`"`, " ", `'`, " ", `(`, " ", `)`, " ", `*`, " ",
	`-`, " ", `^`, " ", `?`, " ", `:`, " ", `.`, " ",
	`,`, " ", `;`, " ", `=`, " ",
)

// sanitiseFTSQuery turns free text into a safe FTS5 query: terms are
// lowercased, stop words removed, and the remainder joined as OR'd prefix
// matches. Returns "" when nothing searchable remains.
func sanitiseFTSQuery(query string) string {
	cleaned := ftsReplacer.Replace(strings.ToLower(query))

	var terms []string
	for _, word := range strings.Fields(cleaned) {
		if len(word) < 2 || stopWords[word] {
			continue
		}
		terms = append(terms, word+"*")
	}
	return strings.Join(terms, " OR ")
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
