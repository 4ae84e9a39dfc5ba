// Package postgres provides a PostgreSQL implementation of the storage
// interfaces, with tsvector full-text search and optional pgvector
// acceleration for similarity queries.
package postgres

// Schema contains the SQL statements to create the database schema for
// PostgreSQL. All statements are idempotent.
const Schema = `
-- Memories table: core entry storage
CREATE TABLE IF NOT EXISTS memories (
    id TEXT PRIMARY KEY,
    content TEXT NOT NULL,
    content_type TEXT NOT NULL,
    content_format TEXT NOT NULL DEFAULT 'text',

    -- Keywords (JSON array of strings)
    keywords JSONB,

    -- Quality signal fields
    relevance_score DOUBLE PRECISION NOT NULL DEFAULT 0,
    access_count INTEGER NOT NULL DEFAULT 0,
    last_accessed_at TIMESTAMP,

    created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
    is_archived BOOLEAN NOT NULL DEFAULT FALSE,

    -- Checkpoint provenance (set only for checkpoint entries)
    checkpoint_work_item_id TEXT,
    checkpoint_status TEXT,
    checkpoint_elapsed_seconds DOUBLE PRECISION,
    checkpoint_reason TEXT,
    checkpoint_at TIMESTAMP
);

-- Embeddings table: vector embeddings with dimension tracking.
-- An embeddings row exists exactly when the entry carries a vector.
CREATE TABLE IF NOT EXISTS embeddings (
    memory_id TEXT PRIMARY KEY,
    embedding BYTEA NOT NULL, -- packed little-endian float32 array
    dimension INTEGER NOT NULL,
    model TEXT NOT NULL,
    content_type TEXT NOT NULL, -- copied from memories for filtered scans

    created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,

    FOREIGN KEY (memory_id) REFERENCES memories(id) ON DELETE CASCADE
);

-- Settings table: persistent key-value store for tuning state
CREATE TABLE IF NOT EXISTS settings (
    key   TEXT PRIMARY KEY,
    value TEXT NOT NULL,

    created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
    updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
);

-- Indexes for list and filter queries
CREATE INDEX IF NOT EXISTS idx_memories_created_at ON memories(created_at DESC);
CREATE INDEX IF NOT EXISTS idx_memories_content_type ON memories(content_type);
CREATE INDEX IF NOT EXISTS idx_memories_is_archived ON memories(is_archived);
CREATE INDEX IF NOT EXISTS idx_memories_last_accessed_at ON memories(last_accessed_at);
CREATE INDEX IF NOT EXISTS idx_memories_checkpoint_work_item ON memories(checkpoint_work_item_id);

-- Embedding lookups
CREATE INDEX IF NOT EXISTS idx_embeddings_model ON embeddings(model);
CREATE INDEX IF NOT EXISTS idx_embeddings_content_type ON embeddings(content_type);
`

// MigrationFTS contains SQL to add full-text search support to the memories
// table using PostgreSQL's built-in tsvector/GIN approach. The tsvector covers
// content and keywords; the trigger fires only when either changes, so access
// bookkeeping updates never recompute the index. Safe to run multiple times.
const MigrationFTS = `
-- Add tsvector column for full-text search if it doesn't already exist.
-- A regular tsvector column (not GENERATED ALWAYS AS) for maximum
-- compatibility across PostgreSQL versions.
DO $$
BEGIN
    IF NOT EXISTS (
        SELECT 1 FROM information_schema.columns
        WHERE table_name = 'memories' AND column_name = 'content_tsv'
    ) THEN
        ALTER TABLE memories ADD COLUMN content_tsv tsvector;
    END IF;
END
$$;

-- Populate the tsvector column for any existing rows.
UPDATE memories
SET content_tsv = to_tsvector('english',
    COALESCE(content, '') || ' ' ||
    COALESCE((SELECT string_agg(kw, ' ') FROM jsonb_array_elements_text(COALESCE(keywords, '[]'::jsonb)) AS kw), ''))
WHERE content_tsv IS NULL;

-- Create a GIN index for fast FTS queries.
CREATE INDEX IF NOT EXISTS idx_memories_content_tsv ON memories USING GIN(content_tsv);

-- Create trigger to auto-populate content_tsv on INSERT and on UPDATE of the
-- indexed columns only.
CREATE OR REPLACE FUNCTION memories_tsv_update()
RETURNS TRIGGER AS $$
BEGIN
    NEW.content_tsv := to_tsvector('english',
        COALESCE(NEW.content, '') || ' ' ||
        COALESCE((SELECT string_agg(kw, ' ') FROM jsonb_array_elements_text(COALESCE(NEW.keywords, '[]'::jsonb)) AS kw), ''));
    RETURN NEW;
END;
$$ LANGUAGE plpgsql;

DROP TRIGGER IF EXISTS memories_tsv_trigger ON memories;
CREATE TRIGGER memories_tsv_trigger
    BEFORE INSERT OR UPDATE OF content, keywords
    ON memories
    FOR EACH ROW
    EXECUTE FUNCTION memories_tsv_update();
`

// MigrationPgvector contains SQL to add pgvector support to the embeddings
// table. This migration is only applied when the vector extension is
// available. Safe to run multiple times.
//
// The column is declared without dimensions because the dimension depends on
// the configured embedding model. ivfflat/hnsw indexes require a typed
// dimension, so none is created here; queries run as exact scans, and
// operators of large deployments can add a typed index once the model (and
// therefore the dimension) is fixed.
const MigrationPgvector = `
-- Add embedding_vec column if it doesn't already exist.
DO $$
BEGIN
    IF NOT EXISTS (
        SELECT 1 FROM information_schema.columns
        WHERE table_name = 'embeddings' AND column_name = 'embedding_vec'
    ) THEN
        ALTER TABLE embeddings ADD COLUMN embedding_vec vector;
    END IF;
END
$$;
`
