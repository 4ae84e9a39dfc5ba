package engine

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/natefox/mnemo/internal/llm"
	"github.com/natefox/mnemo/internal/storage"
	"github.com/natefox/mnemo/pkg/types"
)

// MemoryEngine is the facade over storage, embedding, and retrieval. All
// operations require the engine to be started; Start and Shutdown guard the
// lifecycle so a stopped engine fails fast instead of touching a closed
// store.
type MemoryEngine struct {
	memoryStore storage.MemoryStore
	retriever   *Retriever
	scorer      *RelevanceScorer
	embedder    llm.EmbeddingGenerator
	config      Config
	logger      zerolog.Logger

	mu           sync.RWMutex
	started      bool
	checkpointer Checkpointer
}

// NewMemoryEngine creates a new memory engine over the given store. embedder
// may be nil; the engine then stores and searches lexically only. The store
// must also implement storage.SearchProvider.
func NewMemoryEngine(store storage.MemoryStore, embedder llm.EmbeddingGenerator, config Config, logger zerolog.Logger) (*MemoryEngine, error) {
	if store == nil {
		return nil, fmt.Errorf("memory store is required")
	}
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	provider, ok := store.(storage.SearchProvider)
	if !ok {
		return nil, fmt.Errorf("memory store does not provide search")
	}

	engineLogger := logger.With().Str("component", "engine").Logger()

	return &MemoryEngine{
		memoryStore: store,
		retriever:   NewRetriever(provider, store, embedder, config.Tuning, logger),
		scorer:      NewRelevanceScorer(),
		embedder:    embedder,
		config:      config,
		logger:      engineLogger,
	}, nil
}

// Start marks the engine as running. It returns an error if the engine is
// already started.
func (e *MemoryEngine) Start(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.started {
		return fmt.Errorf("engine already started")
	}
	e.started = true

	e.logger.Info().
		Int("rrf_k", e.config.Tuning.RRFK).
		Bool("embedding_enabled", e.embedder != nil).
		Msg("memory engine started")
	return nil
}

// Shutdown marks the engine as stopped. Operations issued afterwards fail
// with "engine not started". The store itself is closed by the owner that
// opened it.
func (e *MemoryEngine) Shutdown(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.started {
		return fmt.Errorf("engine not started")
	}
	e.started = false

	e.logger.Info().Msg("memory engine stopped")
	return nil
}

// requireStarted returns an error unless the engine is running.
func (e *MemoryEngine) requireStarted() error {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if !e.started {
		return fmt.Errorf("engine not started")
	}
	return nil
}

// Store validates, scores, embeds, and persists one new entry. Embedding is
// best-effort: when the provider fails the entry is stored without a vector
// and the result reports EmbeddingGenerated false.
func (e *MemoryEngine) Store(ctx context.Context, req StoreRequest) (*StoreResult, error) {
	if err := e.requireStarted(); err != nil {
		return nil, err
	}

	format := req.ContentFormat
	if format == "" {
		format = types.FormatText
	}

	entry := &types.MemoryEntry{
		ID:            uuid.NewString(),
		Content:       req.Content,
		ContentType:   req.ContentType,
		ContentFormat: format,
		Keywords:      normalizeKeywords(req.Keywords),
		CreatedAt:     time.Now().UTC(),
		Checkpoint:    req.Checkpoint,
	}
	entry.RelevanceScore = e.scorer.Score(entry.Content, entry.ContentType, entry.Keywords)

	// Reject invalid requests before spending an embedding call on them.
	if err := storage.ValidateEntry(entry); err != nil {
		return nil, err
	}

	embedded := false
	if e.embedder != nil {
		vec, err := e.embedder.Embed(ctx, entry.Content)
		if err != nil {
			e.logger.Warn().Err(err).
				Str("memory_id", entry.ID).
				Msg("embedding generation failed, storing without vector")
		} else {
			entry.Embedding = vec
			entry.EmbeddingModel = e.embedder.GetModel()
			embedded = true
		}
	}

	if err := e.memoryStore.Put(ctx, entry); err != nil {
		return nil, err
	}

	e.logger.Debug().
		Str("memory_id", entry.ID).
		Str("content_type", string(entry.ContentType)).
		Bool("embedded", embedded).
		Msg("stored memory entry")

	return &StoreResult{MemoryID: entry.ID, EmbeddingGenerated: embedded}, nil
}

// Get retrieves one entry by ID and bumps its access bookkeeping without
// blocking the read.
func (e *MemoryEngine) Get(ctx context.Context, id string) (*types.MemoryEntry, error) {
	if err := e.requireStarted(); err != nil {
		return nil, err
	}

	entry, err := e.memoryStore.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	e.retriever.recordAccesses([]string{entry.ID})
	return entry, nil
}

// Search runs one hybrid retrieval query.
func (e *MemoryEngine) Search(ctx context.Context, req SearchRequest) ([]SearchResult, error) {
	if err := e.requireStarted(); err != nil {
		return nil, err
	}
	return e.retriever.Search(ctx, req)
}

// List retrieves entries with pagination and filtering.
func (e *MemoryEngine) List(ctx context.Context, opts storage.ListOptions) (*storage.PaginatedResult[*types.MemoryEntry], error) {
	if err := e.requireStarted(); err != nil {
		return nil, err
	}
	return e.memoryStore.List(ctx, opts)
}

// Delete permanently removes an entry and its index rows.
func (e *MemoryEngine) Delete(ctx context.Context, id string) error {
	if err := e.requireStarted(); err != nil {
		return err
	}
	return e.memoryStore.Delete(ctx, id)
}

// Archive hides an entry from search while keeping it readable by ID.
func (e *MemoryEngine) Archive(ctx context.Context, id string) error {
	if err := e.requireStarted(); err != nil {
		return err
	}
	return e.memoryStore.Archive(ctx, id)
}

// SetCheckpointer registers the checkpoint scheduler that TriggerCheckpoint
// delegates to.
func (e *MemoryEngine) SetCheckpointer(cp Checkpointer) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.checkpointer = cp
}

// TriggerCheckpoint runs one out-of-band checkpoint cycle through the
// registered scheduler and returns the number of work items checkpointed.
// Returns ErrNoCheckpointer when no scheduler is registered.
func (e *MemoryEngine) TriggerCheckpoint(ctx context.Context, reason types.CheckpointReason) (int, error) {
	if err := e.requireStarted(); err != nil {
		return 0, err
	}

	e.mu.RLock()
	cp := e.checkpointer
	e.mu.RUnlock()

	if cp == nil {
		return 0, ErrNoCheckpointer
	}
	return cp.TriggerImmediate(ctx, reason)
}

// StoreCheckpoint writes one checkpoint entry for a tracked work item and
// returns the new entry's ID. It satisfies the checkpoint service's entry
// sink: the entry is a regular context-typed memory carrying the work item's
// state, so checkpoints flow through the same validation, scoring, and
// indexing as every other entry.
func (e *MemoryEngine) StoreCheckpoint(ctx context.Context, item types.WorkItem, reason types.CheckpointReason, at time.Time) (string, error) {
	elapsed := at.Sub(item.StartedAt)
	if item.StartedAt.IsZero() || elapsed < 0 {
		elapsed = 0
	}

	res, err := e.Store(ctx, StoreRequest{
		Content:     checkpointContent(item, elapsed),
		ContentType: types.ContentTypeContext,
		Keywords:    []string{"checkpoint", item.ID, item.Status},
		Checkpoint: &types.CheckpointInfo{
			WorkItemID:     item.ID,
			WorkItemStatus: item.Status,
			Elapsed:        elapsed,
			Reason:         reason,
			Timestamp:      at,
		},
	})
	if err != nil {
		return "", fmt.Errorf("checkpoint for work item %s: %w", item.ID, err)
	}
	return res.MemoryID, nil
}

// checkpointContent renders the human-readable body of a checkpoint entry.
func checkpointContent(item types.WorkItem, elapsed time.Duration) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Checkpoint for work item %s", item.ID)
	if item.Title != "" {
		fmt.Fprintf(&b, " (%s)", item.Title)
	}
	fmt.Fprintf(&b, ": status %s, %s elapsed since start.", item.Status, elapsed.Round(time.Second))
	return b.String()
}

// normalizeKeywords trims, drops empties, and de-duplicates while preserving
// first-occurrence order.
func normalizeKeywords(keywords []string) []string {
	if len(keywords) == 0 {
		return nil
	}

	seen := make(map[string]struct{}, len(keywords))
	out := make([]string, 0, len(keywords))
	for _, kw := range keywords {
		kw = strings.TrimSpace(kw)
		if kw == "" {
			continue
		}
		if _, ok := seen[kw]; ok {
			continue
		}
		seen[kw] = struct{}{}
		out = append(out, kw)
	}
	if len(out) == 0 {
		return nil
	}
	return out
}
