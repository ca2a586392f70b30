// Package postgres provides PostgreSQL implementations of storage interfaces.
package postgres

// ChatSchema contains the SQL statements to create the chat record schema.
// All statements are idempotent so the schema can be applied on every start.
//
// The UNIQUE (owner_id, signature) constraint is what makes saves idempotent
// under concurrency: two racing inserts of the same content cannot both
// commit, and the loser is folded into a lookup of the winner.
const ChatSchema = `
-- Chat records: saved conversation transcripts and free-form notes
CREATE TABLE IF NOT EXISTS chat_records (
    id TEXT PRIMARY KEY,
    owner_id TEXT NOT NULL,
    title TEXT NOT NULL,
    kind TEXT NOT NULL DEFAULT 'chat',

    -- Content: turns for kind=chat, raw text for kind=note
    turns JSONB,
    content TEXT,

    -- Deduplication
    signature TEXT NOT NULL,

    -- Embedding bookkeeping (the vector column is added by the pgvector
    -- migration so the base schema works without the extension)
    embedding_model TEXT,
    embedding_dimension INTEGER,

    -- Provenance
    source TEXT,

    -- Timestamps
    created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
    updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,

    UNIQUE (owner_id, signature)
);

-- Owner-scoped listing is the hot path; recency ordering rides this index.
CREATE INDEX IF NOT EXISTS idx_chat_records_owner_created
    ON chat_records(owner_id, created_at DESC);
`

// ChatMigrationPgvector adds the vector column and ANN index. Applied only
// when the pgvector extension is available.
const ChatMigrationPgvector = `
ALTER TABLE chat_records ADD COLUMN IF NOT EXISTS embedding vector(1536);

CREATE INDEX IF NOT EXISTS idx_chat_records_embedding
    ON chat_records USING ivfflat (embedding vector_cosine_ops) WITH (lists = 100);
`
