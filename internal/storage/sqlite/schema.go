// Package sqlite provides SQLite-backed implementations of the storage
// interfaces using a pure-Go driver. It is the default embedded backend.
package sqlite

// Schema contains the SQL statements to create the database schema.
// All statements are idempotent (IF NOT EXISTS) and run on every open.
//
// The lexical index is an external-content FTS5 table kept in lockstep with
// the memories table by the triggers below; because triggers fire inside the
// writing transaction, no statement can observe a base row without its index
// row. The vector index lives in the embeddings table, written in the same
// transaction as the base row and removed via ON DELETE CASCADE.
const Schema = `
-- Memories table: base records for every memory entry
CREATE TABLE IF NOT EXISTS memories (
    id TEXT PRIMARY KEY,
    content TEXT NOT NULL,
    content_type TEXT NOT NULL,
    content_format TEXT NOT NULL DEFAULT 'text',

    -- Ordered keyword list (JSON array)
    keywords TEXT,

    -- Quality signals
    relevance_score REAL NOT NULL DEFAULT 0,
    access_count INTEGER NOT NULL DEFAULT 0,
    last_accessed_at TIMESTAMP,

    created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
    is_archived INTEGER NOT NULL DEFAULT 0,

    -- Checkpoint metadata, set only on entries written by the checkpoint
    -- service (content_type 'context'); all five are NULL otherwise
    checkpoint_work_item_id TEXT,
    checkpoint_status TEXT,
    checkpoint_elapsed_seconds REAL,
    checkpoint_reason TEXT,
    checkpoint_at TIMESTAMP
);

-- Embeddings table: vector index, one row per entry that has an embedding.
-- content_type is copied from the owning entry so filtered vector search
-- never touches the base table.
CREATE TABLE IF NOT EXISTS embeddings (
    memory_id TEXT PRIMARY KEY,
    embedding BLOB NOT NULL, -- packed little-endian float32 array
    dimension INTEGER NOT NULL,
    model TEXT NOT NULL,
    content_type TEXT NOT NULL,

    created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,

    FOREIGN KEY (memory_id) REFERENCES memories(id) ON DELETE CASCADE
);

-- Settings table: persistent key-value store for tuning parameters
CREATE TABLE IF NOT EXISTS settings (
    key   TEXT PRIMARY KEY,
    value TEXT NOT NULL,

    created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
    updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
);

-- Indexes for performance

CREATE INDEX IF NOT EXISTS idx_memories_content_type ON memories(content_type);
CREATE INDEX IF NOT EXISTS idx_memories_created_at ON memories(created_at);
CREATE INDEX IF NOT EXISTS idx_memories_is_archived ON memories(is_archived);
CREATE INDEX IF NOT EXISTS idx_memories_checkpoint_item ON memories(checkpoint_work_item_id);

CREATE INDEX IF NOT EXISTS idx_embeddings_content_type ON embeddings(content_type);
CREATE INDEX IF NOT EXISTS idx_embeddings_model ON embeddings(model);

-- Lexical index: external-content FTS5 table over content and keywords
CREATE VIRTUAL TABLE IF NOT EXISTS memories_fts USING fts5(
    content,
    keywords,
    content='memories',
    content_rowid='rowid'
);

-- Lockstep triggers for the FTS index. The UPDATE trigger fires only on the
-- indexed columns, so access bookkeeping and archival never re-index.
CREATE TRIGGER IF NOT EXISTS memories_fts_ai AFTER INSERT ON memories BEGIN
    INSERT INTO memories_fts(rowid, content, keywords)
    VALUES (new.rowid, new.content, new.keywords);
END;

CREATE TRIGGER IF NOT EXISTS memories_fts_ad AFTER DELETE ON memories BEGIN
    INSERT INTO memories_fts(memories_fts, rowid, content, keywords)
    VALUES ('delete', old.rowid, old.content, old.keywords);
END;

CREATE TRIGGER IF NOT EXISTS memories_fts_au AFTER UPDATE OF content, keywords ON memories BEGIN
    INSERT INTO memories_fts(memories_fts, rowid, content, keywords)
    VALUES ('delete', old.rowid, old.content, old.keywords);
    INSERT INTO memories_fts(rowid, content, keywords)
    VALUES (new.rowid, new.content, new.keywords);
END;
`
