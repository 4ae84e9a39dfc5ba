package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite" // pure-Go sqlite driver

	"github.com/natefox/mnemo/internal/storage"
	"github.com/natefox/mnemo/pkg/types"
)

// Compile-time assertions that MemoryStore satisfies the storage interfaces.
var (
	_ storage.MemoryStore   = (*MemoryStore)(nil)
	_ storage.VectorIndex   = (*MemoryStore)(nil)
	_ storage.SettingsStore = (*MemoryStore)(nil)
)

// MemoryStore is a SQLite-backed store for memory entries. A store owns one
// database file (or an in-memory database) and keeps the base table, the FTS
// index, and the embeddings table in lockstep.
type MemoryStore struct {
	db   *sql.DB
	path string
}

// NewMemoryStore opens (creating if necessary) the SQLite database at path
// and initialises the schema. Pass ":memory:" for an ephemeral store.
func NewMemoryStore(path string) (*MemoryStore, error) {
	if path == "" {
		return nil, fmt.Errorf("%w: database path must not be empty", storage.ErrInvalidInput)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Single-writer discipline: one connection serialises writers while WAL
	// keeps readers unblocked.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA foreign_keys=ON",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("failed to set %s: %w", pragma, err)
		}
	}

	if _, err := db.Exec(Schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to initialise schema: %w", err)
	}

	return &MemoryStore{db: db, path: path}, nil
}

// entryColumns is the column list shared by every query that scans full
// entries; it expects the memories table aliased m and entryJoins applied.
const entryColumns = `m.id, m.content, m.content_type, m.content_format, m.keywords,
	m.relevance_score, m.access_count, m.last_accessed_at, m.created_at, m.is_archived,
	m.checkpoint_work_item_id, m.checkpoint_status, m.checkpoint_elapsed_seconds,
	m.checkpoint_reason, m.checkpoint_at,
	e.embedding, e.model`

// entryJoins pulls in the vector index row, when one exists.
const entryJoins = `LEFT JOIN embeddings e ON e.memory_id = m.id`

// Put stores a new memory entry. The base row and, when an embedding is
// present, the vector index row are written in one transaction; the FTS row
// is maintained by triggers inside the same transaction. Put is insert-only:
// a duplicate ID is rejected with ErrInvalidInput.
func (s *MemoryStore) Put(ctx context.Context, entry *types.MemoryEntry) error {
	if err := storage.ValidateEntry(entry); err != nil {
		return err
	}

	keywordsJSON, err := json.Marshal(entry.Keywords)
	if err != nil {
		return fmt.Errorf("failed to marshal keywords: %w", err)
	}

	var cpItemID, cpStatus, cpElapsed, cpReason, cpAt interface{}
	if entry.Checkpoint != nil {
		cpItemID = entry.Checkpoint.WorkItemID
		cpStatus = entry.Checkpoint.WorkItemStatus
		cpElapsed = entry.Checkpoint.Elapsed.Seconds()
		cpReason = string(entry.Checkpoint.Reason)
		cpAt = entry.Checkpoint.Timestamp.UTC()
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO memories (
			id, content, content_type, content_format, keywords,
			relevance_score, access_count, last_accessed_at, created_at, is_archived,
			checkpoint_work_item_id, checkpoint_status, checkpoint_elapsed_seconds,
			checkpoint_reason, checkpoint_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		entry.ID,
		entry.Content,
		string(entry.ContentType),
		string(entry.ContentFormat),
		string(keywordsJSON),
		entry.RelevanceScore,
		entry.AccessCount,
		nullableTime(entry.LastAccessedAt),
		entry.CreatedAt.UTC(),
		boolToInt(entry.IsArchived),
		cpItemID, cpStatus, cpElapsed, cpReason, cpAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: entry %s already exists", storage.ErrInvalidInput, entry.ID)
		}
		return fmt.Errorf("failed to insert memory: %w", err)
	}

	if entry.HasEmbedding() {
		_, err = tx.ExecContext(ctx, `
			INSERT INTO embeddings (memory_id, embedding, dimension, model, content_type, created_at)
			VALUES (?, ?, ?, ?, ?, ?)`,
			entry.ID,
			serializeVector(entry.Embedding),
			len(entry.Embedding),
			entry.EmbeddingModel,
			string(entry.ContentType),
			entry.CreatedAt.UTC(),
		)
		if err != nil {
			return fmt.Errorf("failed to insert embedding: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// Get retrieves a memory entry by ID, including its embedding when one is
// stored. Returns ErrNotFound if the entry doesn't exist.
func (s *MemoryStore) Get(ctx context.Context, id string) (*types.MemoryEntry, error) {
	if id == "" {
		return nil, fmt.Errorf("%w: id must not be empty", storage.ErrInvalidInput)
	}

	row := s.db.QueryRowContext(ctx, fmt.Sprintf(`
		SELECT %s FROM memories m %s WHERE m.id = ?`, entryColumns, entryJoins), id)

	entry, err := scanEntry(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: memory %s", storage.ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get memory: %w", err)
	}
	return entry, nil
}

// List retrieves entries with pagination and filtering.
func (s *MemoryStore) List(ctx context.Context, opts storage.ListOptions) (*storage.PaginatedResult[*types.MemoryEntry], error) {
	opts.Normalize()

	var conditions []string
	var args []interface{}

	if !opts.IncludeArchived {
		conditions = append(conditions, "m.is_archived = 0")
	}
	if opts.ContentType != "" {
		conditions = append(conditions, "m.content_type = ?")
		args = append(args, string(opts.ContentType))
	}
	if opts.WorkItemID != "" {
		conditions = append(conditions, "m.checkpoint_work_item_id = ?")
		args = append(args, opts.WorkItemID)
	}

	where := ""
	if len(conditions) > 0 {
		where = "WHERE " + strings.Join(conditions, " AND ")
	}

	var total int
	countQuery := fmt.Sprintf("SELECT COUNT(*) FROM memories m %s", where)
	if err := s.db.QueryRowContext(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, fmt.Errorf("failed to count memories: %w", err)
	}

	// SortBy and SortOrder are whitelist-validated by Normalize.
	query := fmt.Sprintf(`
		SELECT %s FROM memories m %s
		%s
		ORDER BY m.%s %s
		LIMIT ? OFFSET ?`, entryColumns, entryJoins, where, opts.SortBy, strings.ToUpper(opts.SortOrder))
	args = append(args, opts.Limit, opts.Offset())

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list memories: %w", err)
	}
	defer rows.Close()

	var items []*types.MemoryEntry
	for rows.Next() {
		entry, err := scanEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan memory: %w", err)
		}
		items = append(items, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate memories: %w", err)
	}

	return &storage.PaginatedResult[*types.MemoryEntry]{
		Items:    items,
		Total:    total,
		Page:     opts.Page,
		PageSize: opts.Limit,
		HasMore:  opts.Offset()+len(items) < total,
	}, nil
}

// Delete permanently removes an entry. The FK cascade drops the vector index
// row and the delete trigger drops the FTS row, all inside the DELETE's own
// transaction. Returns ErrNotFound if the entry doesn't exist.
func (s *MemoryStore) Delete(ctx context.Context, id string) error {
	if id == "" {
		return fmt.Errorf("%w: id must not be empty", storage.ErrInvalidInput)
	}

	result, err := s.db.ExecContext(ctx, `DELETE FROM memories WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete memory: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check delete result: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("%w: memory %s", storage.ErrNotFound, id)
	}
	return nil
}

// Archive marks an entry as archived, hiding it from search while keeping it
// readable by ID. Returns ErrNotFound if the entry doesn't exist.
func (s *MemoryStore) Archive(ctx context.Context, id string) error {
	if id == "" {
		return fmt.Errorf("%w: id must not be empty", storage.ErrInvalidInput)
	}

	result, err := s.db.ExecContext(ctx, `UPDATE memories SET is_archived = 1 WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to archive memory: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check archive result: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("%w: memory %s", storage.ErrNotFound, id)
	}
	return nil
}

// RecordAccess increments the access count and stamps the access time.
// Returns ErrNotFound if the entry doesn't exist.
func (s *MemoryStore) RecordAccess(ctx context.Context, id string) error {
	if id == "" {
		return fmt.Errorf("%w: id must not be empty", storage.ErrInvalidInput)
	}

	result, err := s.db.ExecContext(ctx, `
		UPDATE memories
		SET access_count = access_count + 1, last_accessed_at = ?
		WHERE id = ?`,
		time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("failed to record access: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check access result: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("%w: memory %s", storage.ErrNotFound, id)
	}
	return nil
}

// Close checkpoints the WAL and closes the database.
func (s *MemoryStore) Close() error {
	if _, err := s.db.Exec("PRAGMA wal_checkpoint(TRUNCATE)"); err != nil {
		_ = s.db.Close()
		return fmt.Errorf("failed to checkpoint WAL: %w", err)
	}
	return s.db.Close()
}

// rowScanner abstracts *sql.Row and *sql.Rows for scanEntry.
type rowScanner interface {
	Scan(dest ...interface{}) error
}

// scanEntry reads one entry from a row produced with entryColumns.
func scanEntry(row rowScanner) (*types.MemoryEntry, error) {
	var (
		entry          types.MemoryEntry
		contentType    string
		contentFormat  string
		keywordsJSON   sql.NullString
		lastAccessedAt sql.NullTime
		isArchived     int
		cpItemID       sql.NullString
		cpStatus       sql.NullString
		cpElapsed      sql.NullFloat64
		cpReason       sql.NullString
		cpAt           sql.NullTime
		embedding      []byte
		model          sql.NullString
	)

	err := row.Scan(
		&entry.ID,
		&entry.Content,
		&contentType,
		&contentFormat,
		&keywordsJSON,
		&entry.RelevanceScore,
		&entry.AccessCount,
		&lastAccessedAt,
		&entry.CreatedAt,
		&isArchived,
		&cpItemID,
		&cpStatus,
		&cpElapsed,
		&cpReason,
		&cpAt,
		&embedding,
		&model,
	)
	if err != nil {
		return nil, err
	}

	entry.ContentType = types.ContentType(contentType)
	entry.ContentFormat = types.ContentFormat(contentFormat)
	entry.IsArchived = isArchived != 0

	if keywordsJSON.Valid && keywordsJSON.String != "" && keywordsJSON.String != "null" {
		if err := json.Unmarshal([]byte(keywordsJSON.String), &entry.Keywords); err != nil {
			return nil, fmt.Errorf("failed to unmarshal keywords: %w", err)
		}
	}
	if lastAccessedAt.Valid {
		t := lastAccessedAt.Time
		entry.LastAccessedAt = &t
	}

	if len(embedding) > 0 {
		vec, err := deserializeVector(embedding)
		if err != nil {
			return nil, fmt.Errorf("failed to deserialize embedding: %w", err)
		}
		entry.Embedding = vec
		entry.EmbeddingModel = model.String
	}

	if cpItemID.Valid {
		entry.Checkpoint = &types.CheckpointInfo{
			WorkItemID:     cpItemID.String,
			WorkItemStatus: cpStatus.String,
			Elapsed:        time.Duration(cpElapsed.Float64 * float64(time.Second)),
			Reason:         types.CheckpointReason(cpReason.String),
			Timestamp:      cpAt.Time,
		}
	}

	return &entry, nil
}

// nullableTime converts an optional time into a driver value.
func nullableTime(t *time.Time) interface{} {
	if t == nil {
		return nil
	}
	return t.UTC()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// isUniqueViolation reports whether err is a primary key or unique
// constraint failure from the sqlite driver.
func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}
