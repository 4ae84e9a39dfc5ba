package postgres_test

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/natefox/mnemo/internal/storage"
	"github.com/natefox/mnemo/internal/storage/postgres"
	"github.com/natefox/mnemo/pkg/types"
)

// postgresTestDSN returns the DSN for the test database.
// If MNEMO_TEST_POSTGRES_DSN is not set, tests are skipped.
func postgresTestDSN(t *testing.T) string {
	t.Helper()

	dsn := os.Getenv("MNEMO_TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("MNEMO_TEST_POSTGRES_DSN not set; skipping PostgreSQL integration tests")
	}
	return dsn
}

// newTestStore creates a fresh MemoryStore connected to the test database,
// truncates any leftover rows, and registers cleanup.
func newTestStore(t *testing.T) *postgres.MemoryStore {
	t.Helper()

	dsn := postgresTestDSN(t)

	store, err := postgres.NewMemoryStore(dsn, zerolog.Nop())
	require.NoError(t, err, "NewMemoryStore should succeed")

	require.NoError(t, store.TruncateForTest(context.Background()), "truncate before test")

	t.Cleanup(func() {
		_ = store.Close()
	})

	return store
}

// newTestEntry builds a minimal valid entry for use in tests.
func newTestEntry(id, content string) *types.MemoryEntry {
	return &types.MemoryEntry{
		ID:            id,
		Content:       content,
		ContentType:   types.ContentTypeContext,
		ContentFormat: types.FormatText,
		CreatedAt:     time.Now().UTC().Truncate(time.Second),
	}
}

func TestPutAndGetRoundTrip(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	entry := newTestEntry("pg-roundtrip-1", "switched the ingest path to batched writes")
	entry.ContentType = types.ContentTypeDecision
	entry.Keywords = []string{"ingest", "batching"}
	entry.Embedding = []float32{0.25, -0.5, 0.75}
	entry.EmbeddingModel = "nomic-embed-text"
	entry.RelevanceScore = 0.9

	require.NoError(t, store.Put(ctx, entry), "Put should succeed")

	got, err := store.Get(ctx, entry.ID)
	require.NoError(t, err, "Get should succeed")

	assert.Equal(t, entry.Content, got.Content)
	assert.Equal(t, types.ContentTypeDecision, got.ContentType)
	assert.Equal(t, entry.Keywords, got.Keywords)
	assert.Equal(t, entry.Embedding, got.Embedding)
	assert.Equal(t, "nomic-embed-text", got.EmbeddingModel)
	assert.InDelta(t, 0.9, got.RelevanceScore, 1e-9)
	assert.False(t, got.IsArchived)
	assert.Nil(t, got.Checkpoint)
}

func TestPutCheckpointRoundTrip(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	at := time.Now().UTC().Truncate(time.Second)
	entry := newTestEntry("pg-cp-1", "checkpoint: migration work item paused for review")
	entry.Checkpoint = &types.CheckpointInfo{
		WorkItemID:     "wi-migration",
		WorkItemStatus: "active",
		Elapsed:        90 * time.Minute,
		Reason:         types.ReasonShutdown,
		Timestamp:      at,
	}

	require.NoError(t, store.Put(ctx, entry), "Put should succeed")

	got, err := store.Get(ctx, entry.ID)
	require.NoError(t, err, "Get should succeed")
	require.NotNil(t, got.Checkpoint, "checkpoint metadata should round-trip")

	assert.Equal(t, "wi-migration", got.Checkpoint.WorkItemID)
	assert.Equal(t, "active", got.Checkpoint.WorkItemStatus)
	assert.Equal(t, 90*time.Minute, got.Checkpoint.Elapsed)
	assert.Equal(t, types.ReasonShutdown, got.Checkpoint.Reason)
	assert.True(t, got.Checkpoint.Timestamp.Equal(at))
}

func TestPutDuplicateID(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	entry := newTestEntry("pg-dup", "original")
	require.NoError(t, store.Put(ctx, entry))

	err := store.Put(ctx, newTestEntry("pg-dup", "replacement"))
	assert.ErrorIs(t, err, storage.ErrInvalidInput, "duplicate IDs are rejected")

	got, err := store.Get(ctx, "pg-dup")
	require.NoError(t, err)
	assert.Equal(t, "original", got.Content, "the original entry is untouched")
}

func TestIndexLockstep(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	withVec := newTestEntry("pg-vec", "entry with a vector attached")
	withVec.Embedding = []float32{0.1, 0.2, 0.3}
	withVec.EmbeddingModel = "nomic-embed-text"
	require.NoError(t, store.Put(ctx, withVec))

	withoutVec := newTestEntry("pg-novec", "entry without a vector")
	require.NoError(t, store.Put(ctx, withoutVec))

	has, err := store.HasEmbedding(ctx, withVec.ID)
	require.NoError(t, err)
	assert.True(t, has)

	vec, model, err := store.GetEmbedding(ctx, withVec.ID)
	require.NoError(t, err)
	assert.Equal(t, []float32{0.1, 0.2, 0.3}, vec)
	assert.Equal(t, "nomic-embed-text", model)

	has, err = store.HasEmbedding(ctx, withoutVec.ID)
	require.NoError(t, err)
	assert.False(t, has)

	_, _, err = store.GetEmbedding(ctx, withoutVec.ID)
	assert.ErrorIs(t, err, storage.ErrNotFound)

	// Delete removes the base row and the embedding row together.
	require.NoError(t, store.Delete(ctx, withVec.ID))

	_, err = store.Get(ctx, withVec.ID)
	assert.ErrorIs(t, err, storage.ErrNotFound)

	has, err = store.HasEmbedding(ctx, withVec.ID)
	require.NoError(t, err)
	assert.False(t, has, "embedding row must cascade with the entry")
}

func TestRecordAccess(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	entry := newTestEntry("pg-access", "counted entry")
	require.NoError(t, store.Put(ctx, entry))

	for i := 0; i < 3; i++ {
		require.NoError(t, store.RecordAccess(ctx, entry.ID))
	}

	got, err := store.Get(ctx, entry.ID)
	require.NoError(t, err)
	assert.Equal(t, 3, got.AccessCount)
	assert.NotNil(t, got.LastAccessedAt)

	assert.ErrorIs(t, store.RecordAccess(ctx, "pg-missing"), storage.ErrNotFound)
}

func TestFullTextSearch(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	sql := newTestEntry("pg-sql", "SELECT * FROM users WHERE age > 21")
	sql.ContentType = types.ContentTypeCode
	sql.Keywords = []string{"sql", "query"}
	require.NoError(t, store.Put(ctx, sql))

	decoy := newTestEntry("pg-decoy", "rewired the retry budget for outbound calls")
	require.NoError(t, store.Put(ctx, decoy))

	result, err := store.FullTextSearch(ctx, "SELECT users", storage.SearchOptions{Limit: 10})
	require.NoError(t, err)
	require.NotEmpty(t, result.Items, "lexical search should find the SQL entry")
	assert.Equal(t, "pg-sql", result.Items[0].ID)

	// Keywords are part of the indexed text.
	result, err = store.FullTextSearch(ctx, "query", storage.SearchOptions{Limit: 10})
	require.NoError(t, err)
	require.NotEmpty(t, result.Items)
	assert.Equal(t, "pg-sql", result.Items[0].ID)

	// Empty and stop-word-only queries return an empty page.
	for _, q := range []string{"", "   ", "the of a"} {
		result, err = store.FullTextSearch(ctx, q, storage.SearchOptions{Limit: 10})
		require.NoError(t, err)
		assert.Empty(t, result.Items, "query %q should match nothing", q)
	}
}

func TestFullTextSearchExcludesArchived(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	entry := newTestEntry("pg-arch", "archived searchable entry")
	require.NoError(t, store.Put(ctx, entry))
	require.NoError(t, store.Archive(ctx, entry.ID))

	result, err := store.FullTextSearch(ctx, "archived searchable", storage.SearchOptions{Limit: 10})
	require.NoError(t, err)
	assert.Empty(t, result.Items)

	result, err = store.FullTextSearch(ctx, "archived searchable", storage.SearchOptions{Limit: 10, IncludeArchived: true})
	require.NoError(t, err)
	assert.Len(t, result.Items, 1)
}

func TestVectorSearch(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	seed := map[string][]float32{
		"pg-v-exact":      {1, 0, 0},
		"pg-v-near":       {0.9, 0.1, 0},
		"pg-v-orthogonal": {0, 1, 0},
	}
	for id, vec := range seed {
		e := newTestEntry(id, "vector entry "+id)
		e.Embedding = vec
		e.EmbeddingModel = "test-model"
		require.NoError(t, store.Put(ctx, e))
	}

	result, err := store.VectorSearch(ctx, []float32{1, 0, 0}, storage.SearchOptions{Limit: 2})
	require.NoError(t, err)
	require.Len(t, result.Items, 2)
	assert.Equal(t, "pg-v-exact", result.Items[0].ID)
	assert.Equal(t, "pg-v-near", result.Items[1].ID)

	_, err = store.VectorSearch(ctx, nil, storage.SearchOptions{Limit: 2})
	assert.ErrorIs(t, err, storage.ErrInvalidInput)
}

func TestListPaginationAndFilters(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	base := time.Now().UTC().Truncate(time.Second).Add(-time.Hour)
	for i, id := range []string{"pg-l1", "pg-l2", "pg-l3"} {
		e := newTestEntry(id, "listable entry "+id)
		e.ContentType = types.ContentTypeCode
		e.CreatedAt = base.Add(time.Duration(i) * time.Minute)
		require.NoError(t, store.Put(ctx, e))
	}

	result, err := store.List(ctx, storage.ListOptions{ContentType: types.ContentTypeCode, Limit: 2})
	require.NoError(t, err)
	assert.Equal(t, 3, result.Total)
	require.Len(t, result.Items, 2)
	assert.Equal(t, "pg-l3", result.Items[0].ID, "newest first by default")
	assert.True(t, result.HasMore)

	result, err = store.List(ctx, storage.ListOptions{ContentType: types.ContentTypeCode, Page: 2, Limit: 2})
	require.NoError(t, err)
	require.Len(t, result.Items, 1)
	assert.Equal(t, "pg-l1", result.Items[0].ID)
	assert.False(t, result.HasMore)
}

func TestSettingsRoundTrip(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	_, err := store.GetSetting(ctx, "retrieval.tuning")
	assert.ErrorIs(t, err, storage.ErrNotFound)

	require.NoError(t, store.SetSetting(ctx, "retrieval.tuning", `{"rrf_k":60}`))

	got, err := store.GetSetting(ctx, "retrieval.tuning")
	require.NoError(t, err)
	assert.Equal(t, `{"rrf_k":60}`, got)

	require.NoError(t, store.SetSetting(ctx, "retrieval.tuning", `{"rrf_k":30}`))
	got, err = store.GetSetting(ctx, "retrieval.tuning")
	require.NoError(t, err)
	assert.Equal(t, `{"rrf_k":30}`, got)
}

func TestErrNotFoundPaths(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	_, err := store.Get(ctx, "pg-missing")
	assert.ErrorIs(t, err, storage.ErrNotFound)
	assert.True(t, errors.Is(store.Delete(ctx, "pg-missing"), storage.ErrNotFound))
	assert.True(t, errors.Is(store.Archive(ctx, "pg-missing"), storage.ErrNotFound))
}
