package engine

import (
	"context"
	"slices"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/natefox/mnemo/internal/llm"
	"github.com/natefox/mnemo/internal/storage"
	"github.com/natefox/mnemo/pkg/types"
)

// recordAccessTimeout bounds each post-search bookkeeping write.
const recordAccessTimeout = 5 * time.Second

// AccessRecorder is the slice of the memory store the retriever needs for
// post-search access bookkeeping.
type AccessRecorder interface {
	RecordAccess(ctx context.Context, id string) error
}

// Retriever performs hybrid retrieval: ranked candidates from the lexical
// and vector indexes are fused with reciprocal rank fusion.
//
// The vector source is best-effort. When no embedder is configured, the
// query embedding fails, or the vector index errors, the search degrades to
// lexical-only results instead of failing. A lexical index error does fail
// the search; without it there is nothing left to rank.
type Retriever struct {
	provider storage.SearchProvider
	recorder AccessRecorder
	embedder llm.EmbeddingGenerator
	tuning   RetrievalTuning
	logger   zerolog.Logger
}

// NewRetriever creates a retriever over the given indexes. embedder may be
// nil for lexical-only deployments.
func NewRetriever(provider storage.SearchProvider, recorder AccessRecorder, embedder llm.EmbeddingGenerator, tuning RetrievalTuning, logger zerolog.Logger) *Retriever {
	return &Retriever{
		provider: provider,
		recorder: recorder,
		embedder: embedder,
		tuning:   tuning,
		logger:   logger.With().Str("component", "retriever").Logger(),
	}
}

// fusedCandidate accumulates one entry's evidence from both sources.
// Candidates are owned by the id-keyed fusion map; ranks are 0 until the
// entry shows up in the corresponding source.
type fusedCandidate struct {
	entry      *types.MemoryEntry
	score      float64
	textRank   int
	vectorRank int
}

// Search runs one hybrid retrieval query. Zero candidates from both sources
// yield an empty slice, not an error.
func (r *Retriever) Search(ctx context.Context, req SearchRequest) ([]SearchResult, error) {
	limit := req.Limit
	if limit <= 0 {
		limit = 10
	}
	if limit > 100 {
		limit = 100
	}

	if strings.TrimSpace(req.Query) == "" {
		return []SearchResult{}, nil
	}

	opts := storage.SearchOptions{
		Limit:       max(limit, r.tuning.CandidatesPerSource),
		ContentType: req.ContentType,
	}

	textPage, err := r.provider.FullTextSearch(ctx, req.Query, opts)
	if err != nil {
		return nil, err
	}

	vectorItems := r.vectorCandidates(ctx, req.Query, opts)

	candidates := make(map[string]*fusedCandidate, len(textPage.Items)+len(vectorItems))
	for i, entry := range textPage.Items {
		rank := i + 1
		candidates[entry.ID] = &fusedCandidate{
			entry:    entry,
			textRank: rank,
			score:    r.tuning.TextWeight / float64(r.tuning.RRFK+rank),
		}
	}
	for i, entry := range vectorItems {
		rank := i + 1
		c, ok := candidates[entry.ID]
		if !ok {
			c = &fusedCandidate{entry: entry}
			candidates[entry.ID] = c
		}
		c.vectorRank = rank
		c.score += r.tuning.VectorWeight / float64(r.tuning.RRFK+rank)
	}

	fused := make([]*fusedCandidate, 0, len(candidates))
	for _, c := range candidates {
		fused = append(fused, c)
	}

	// Score descending, ties broken by most-recent creation, then by ID so
	// the order is deterministic.
	slices.SortFunc(fused, func(a, b *fusedCandidate) int {
		if a.score != b.score {
			if a.score > b.score {
				return -1
			}
			return 1
		}
		if !a.entry.CreatedAt.Equal(b.entry.CreatedAt) {
			if a.entry.CreatedAt.After(b.entry.CreatedAt) {
				return -1
			}
			return 1
		}
		return strings.Compare(a.entry.ID, b.entry.ID)
	})

	if len(fused) > limit {
		fused = fused[:limit]
	}

	results := make([]SearchResult, 0, len(fused))
	ids := make([]string, 0, len(fused))
	for _, c := range fused {
		results = append(results, SearchResult{
			MemoryID:    c.entry.ID,
			Content:     c.entry.Content,
			ContentType: c.entry.ContentType,
			Score:       c.score,
			CreatedAt:   c.entry.CreatedAt,
			TextRank:    rankPtr(c.textRank),
			VectorRank:  rankPtr(c.vectorRank),
		})
		ids = append(ids, c.entry.ID)
	}

	r.recordAccesses(ids)

	return results, nil
}

// vectorCandidates returns the ranked vector candidates for the query, or
// nil when the vector source is unavailable.
func (r *Retriever) vectorCandidates(ctx context.Context, query string, opts storage.SearchOptions) []*types.MemoryEntry {
	if r.embedder == nil {
		return nil
	}

	vec, err := r.embedder.Embed(ctx, query)
	if err != nil {
		r.logger.Warn().Err(err).Msg("query embedding failed, degrading to lexical-only search")
		return nil
	}

	page, err := r.provider.VectorSearch(ctx, vec, opts)
	if err != nil {
		r.logger.Warn().Err(err).Msg("vector search failed, degrading to lexical-only search")
		return nil
	}
	return page.Items
}

// recordAccesses bumps access bookkeeping for every returned entry on a
// detached context. The search result is already on its way back to the
// caller; a bookkeeping failure is logged and dropped.
func (r *Retriever) recordAccesses(ids []string) {
	if len(ids) == 0 {
		return
	}
	go func() {
		for _, id := range ids {
			ctx, cancel := context.WithTimeout(context.Background(), recordAccessTimeout)
			err := r.recorder.RecordAccess(ctx, id)
			cancel()
			if err != nil {
				r.logger.Debug().Err(err).Str("memory_id", id).Msg("access bookkeeping failed")
			}
		}
	}()
}

// rankPtr converts an internal 0-means-absent rank to result provenance.
func rankPtr(rank int) *int {
	if rank == 0 {
		return nil
	}
	return &rank
}
