// Package sqlite provides a ChatStore backed by a local SQLite database.
// It is the zero-dependency deployment option: a single file on disk, no
// server to run. Similarity search loads embeddings into Go memory and
// ranks by cosine similarity, which is fine for personal-scale datasets;
// larger deployments should use the PostgreSQL store with pgvector.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"sort"
	"time"

	sqlite "modernc.org/sqlite"

	"github.com/scrypster/chatkeep/internal/storage"
	"github.com/scrypster/chatkeep/pkg/types"
)

// SQLite extended result codes for unique constraint failures.
const (
	sqliteConstraintUnique     = 2067
	sqliteConstraintPrimaryKey = 1555
)

// chatSchema is idempotent and applied on every start.
const chatSchema = `
CREATE TABLE IF NOT EXISTS chat_records (
    id TEXT PRIMARY KEY,
    owner_id TEXT NOT NULL,
    title TEXT NOT NULL,
    kind TEXT NOT NULL,
    turns TEXT,
    content TEXT,
    signature TEXT NOT NULL,
    embedding BLOB,
    embedding_model TEXT,
    embedding_dimension INTEGER,
    source TEXT,
    created_at TIMESTAMP NOT NULL,
    updated_at TIMESTAMP NOT NULL,
    UNIQUE(owner_id, signature)
);

CREATE INDEX IF NOT EXISTS idx_chat_records_owner_created
    ON chat_records(owner_id, created_at DESC);
`

// searchMaxCandidates caps the number of embeddings loaded into memory
// during a similarity search. Candidates are selected newest first.
const searchMaxCandidates = 10_000

// ChatStore implements storage.ChatStore using SQLite.
type ChatStore struct {
	db *sql.DB
}

// NewChatStore opens (or creates) the database at dsn and applies the schema.
// Use ":memory:" for an ephemeral store in tests.
func NewChatStore(dsn string) (*ChatStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("sqlite: failed to open database: %w", err)
	}

	// SQLite only supports one concurrent writer. A single open connection
	// serialises writes and avoids SQLITE_BUSY errors under concurrent load.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite: failed to enable WAL mode: %w", err)
	}

	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite: failed to set busy timeout: %w", err)
	}

	if _, err := db.Exec(chatSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite: failed to create schema: %w", err)
	}

	return &ChatStore{db: db}, nil
}

// Close releases the underlying database handle.
func (s *ChatStore) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// chatSelectColumns is the column list shared by every row-returning query.
// The embedding blob is only read during similarity search.
const chatSelectColumns = `id, owner_id, title, kind, turns, content, signature,
	embedding_model, embedding_dimension, source, created_at, updated_at`

// Insert creates a new chat record.
// A collision on the (owner, signature) constraint returns storage.ErrDuplicate.
func (s *ChatStore) Insert(ctx context.Context, record *types.ChatRecord) error {
	if record == nil {
		return storage.ErrInvalidInput
	}
	if record.ID == "" {
		return fmt.Errorf("%w: record ID is required", storage.ErrInvalidInput)
	}
	if record.OwnerID == "" {
		return fmt.Errorf("%w: owner ID is required", storage.ErrInvalidInput)
	}
	if record.Signature == "" {
		return fmt.Errorf("%w: signature is required", storage.ErrInvalidInput)
	}

	turnsJSON, err := marshalTurns(record.Turns)
	if err != nil {
		return err
	}

	now := time.Now().UTC()
	if record.CreatedAt.IsZero() {
		record.CreatedAt = now
	}
	record.UpdatedAt = now

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO chat_records (id, owner_id, title, kind, turns, content, signature,
			embedding, embedding_model, embedding_dimension, source, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		record.ID,
		record.OwnerID,
		record.Title,
		string(record.Kind),
		turnsJSON,
		nullableString(record.Content),
		record.Signature,
		serializeEmbedding(record.Embedding),
		nullableString(record.EmbeddingModel),
		nullableInt(record.EmbeddingDimension),
		nullableString(record.Source),
		record.CreatedAt,
		record.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return storage.ErrDuplicate
		}
		return fmt.Errorf("sqlite: failed to insert record: %w", err)
	}

	return nil
}

// Get retrieves a record by owner and ID.
func (s *ChatStore) Get(ctx context.Context, ownerID, id string) (*types.ChatRecord, error) {
	if ownerID == "" || id == "" {
		return nil, storage.ErrInvalidInput
	}

	query := fmt.Sprintf(`SELECT %s FROM chat_records WHERE owner_id = ? AND id = ?`, chatSelectColumns)

	record, err := scanChatRow(s.db.QueryRowContext(ctx, query, ownerID, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("sqlite: failed to get record: %w", err)
	}
	return record, nil
}

// FindBySignature looks up a record by its content signature.
func (s *ChatStore) FindBySignature(ctx context.Context, ownerID, signature string) (*types.ChatRecord, error) {
	if ownerID == "" || signature == "" {
		return nil, storage.ErrInvalidInput
	}

	query := fmt.Sprintf(`SELECT %s FROM chat_records WHERE owner_id = ? AND signature = ?`, chatSelectColumns)

	record, err := scanChatRow(s.db.QueryRowContext(ctx, query, ownerID, signature))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("sqlite: failed to find record by signature: %w", err)
	}
	return record, nil
}

// List retrieves the owner's records ordered by recency (newest first).
func (s *ChatStore) List(ctx context.Context, ownerID string, opts storage.ListOptions) (*storage.PaginatedResult[types.ChatRecord], error) {
	if ownerID == "" {
		return nil, storage.ErrInvalidInput
	}
	opts.Normalize()

	total, err := s.CountByOwner(ctx, ownerID)
	if err != nil {
		return nil, err
	}

	query := fmt.Sprintf(`
		SELECT %s FROM chat_records
		WHERE owner_id = ?
		ORDER BY created_at DESC, id DESC
		LIMIT ? OFFSET ?
	`, chatSelectColumns)

	rows, err := s.db.QueryContext(ctx, query, ownerID, opts.Limit, opts.Offset())
	if err != nil {
		return nil, fmt.Errorf("sqlite: failed to list records: %w", err)
	}
	defer rows.Close()

	items, err := scanChatRows(rows)
	if err != nil {
		return nil, err
	}

	return storage.NewPaginatedResult(items, total, opts), nil
}

// SearchByVector retrieves the owner's records ordered by cosine similarity to
// the query embedding, nearest first. Records without an embedding are
// excluded from both the results and the total. Embeddings are ranked in Go
// memory; the candidate pool is capped at searchMaxCandidates, newest first.
func (s *ChatStore) SearchByVector(ctx context.Context, ownerID string, query []float32, opts storage.ListOptions) (*storage.PaginatedResult[types.ChatRecord], error) {
	if ownerID == "" {
		return nil, storage.ErrInvalidInput
	}
	if len(query) == 0 {
		return nil, fmt.Errorf("%w: query vector is empty", storage.ErrInvalidInput)
	}
	opts.Normalize()

	sqlQuery := fmt.Sprintf(`
		SELECT %s, embedding FROM chat_records
		WHERE owner_id = ? AND embedding IS NOT NULL
		ORDER BY created_at DESC, id DESC
		LIMIT ?
	`, chatSelectColumns)

	rows, err := s.db.QueryContext(ctx, sqlQuery, ownerID, searchMaxCandidates)
	if err != nil {
		return nil, fmt.Errorf("sqlite: vector search failed: %w", err)
	}
	defer rows.Close()

	type scored struct {
		record types.ChatRecord
		score  float64
	}
	var candidates []scored

	for rows.Next() {
		var blob []byte
		record, err := scanChatRowExtra(rows, &blob)
		if err != nil {
			return nil, fmt.Errorf("sqlite: failed to scan record: %w", err)
		}
		embedding, err := deserializeEmbedding(blob)
		if err != nil {
			return nil, fmt.Errorf("sqlite: failed to decode embedding for %s: %w", record.ID, err)
		}
		candidates = append(candidates, scored{*record, cosineSimilarity(query, embedding)})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite: row iteration failed: %w", err)
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].score > candidates[j].score
	})

	total := len(candidates)
	offset := opts.Offset()
	items := make([]types.ChatRecord, 0)
	if offset < total {
		end := offset + opts.Limit
		if end > total {
			end = total
		}
		for _, c := range candidates[offset:end] {
			items = append(items, c.record)
		}
	}

	return storage.NewPaginatedResult(items, total, opts), nil
}

// UpdateTitle changes a record's title in place.
func (s *ChatStore) UpdateTitle(ctx context.Context, ownerID, id, title string) error {
	if ownerID == "" || id == "" {
		return storage.ErrInvalidInput
	}
	if title == "" || len(title) > types.MaxTitleLength {
		return fmt.Errorf("%w: title must be 1..%d characters", storage.ErrInvalidInput, types.MaxTitleLength)
	}

	result, err := s.db.ExecContext(ctx,
		`UPDATE chat_records SET title = ?, updated_at = ? WHERE owner_id = ? AND id = ?`,
		title, time.Now().UTC(), ownerID, id,
	)
	if err != nil {
		return fmt.Errorf("sqlite: failed to update title: %w", err)
	}
	return requireRowAffected(result)
}

// UpdateContent replaces a record's turns or note content together with the
// regenerated signature and embedding in a single statement.
func (s *ChatStore) UpdateContent(ctx context.Context, record *types.ChatRecord) error {
	if record == nil || record.OwnerID == "" || record.ID == "" {
		return storage.ErrInvalidInput
	}
	if record.Signature == "" {
		return fmt.Errorf("%w: signature is required", storage.ErrInvalidInput)
	}

	turnsJSON, err := marshalTurns(record.Turns)
	if err != nil {
		return err
	}

	record.UpdatedAt = time.Now().UTC()

	result, err := s.db.ExecContext(ctx, `
		UPDATE chat_records SET turns = ?, content = ?, signature = ?,
			embedding = ?, embedding_model = ?, embedding_dimension = ?, updated_at = ?
		WHERE owner_id = ? AND id = ?`,
		turnsJSON,
		nullableString(record.Content),
		record.Signature,
		serializeEmbedding(record.Embedding),
		nullableString(record.EmbeddingModel),
		nullableInt(record.EmbeddingDimension),
		record.UpdatedAt,
		record.OwnerID,
		record.ID,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return storage.ErrDuplicate
		}
		return fmt.Errorf("sqlite: failed to update content: %w", err)
	}
	return requireRowAffected(result)
}

// Delete removes a record permanently.
func (s *ChatStore) Delete(ctx context.Context, ownerID, id string) error {
	if ownerID == "" || id == "" {
		return storage.ErrInvalidInput
	}

	result, err := s.db.ExecContext(ctx,
		`DELETE FROM chat_records WHERE owner_id = ? AND id = ?`, ownerID, id)
	if err != nil {
		return fmt.Errorf("sqlite: failed to delete record: %w", err)
	}
	return requireRowAffected(result)
}

// CountByOwner returns the owner's total record count.
func (s *ChatStore) CountByOwner(ctx context.Context, ownerID string) (int, error) {
	if ownerID == "" {
		return 0, storage.ErrInvalidInput
	}

	var total int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM chat_records WHERE owner_id = ?`, ownerID).Scan(&total)
	if err != nil {
		return 0, fmt.Errorf("sqlite: failed to count records: %w", err)
	}
	return total, nil
}

// isUniqueViolation reports whether err is a SQLite unique constraint failure.
func isUniqueViolation(err error) bool {
	var serr *sqlite.Error
	if !errors.As(err, &serr) {
		return false
	}
	code := serr.Code()
	return code == sqliteConstraintUnique || code == sqliteConstraintPrimaryKey
}

// requireRowAffected maps a zero-row UPDATE/DELETE to ErrNotFound.
func requireRowAffected(result sql.Result) error {
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("sqlite: failed to get rows affected: %w", err)
	}
	if n == 0 {
		return storage.ErrNotFound
	}
	return nil
}

// marshalTurns serializes turns to a JSON text column, or NULL when empty.
func marshalTurns(turns []types.Turn) (interface{}, error) {
	if len(turns) == 0 {
		return nil, nil
	}
	data, err := json.Marshal(turns)
	if err != nil {
		return nil, fmt.Errorf("sqlite: failed to marshal turns: %w", err)
	}
	return string(data), nil
}

// nullableString converts empty strings to SQL NULL.
func nullableString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

// nullableInt converts zero to SQL NULL.
func nullableInt(n int) sql.NullInt64 {
	return sql.NullInt64{Int64: int64(n), Valid: n != 0}
}

// serializeEmbedding converts a vector to a little-endian float32 BLOB,
// or NULL when the vector is empty.
func serializeEmbedding(embedding []float32) interface{} {
	if len(embedding) == 0 {
		return nil
	}
	buf := make([]byte, len(embedding)*4)
	for i, v := range embedding {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(v))
	}
	return buf
}

// deserializeEmbedding converts a little-endian float32 BLOB back to a vector.
func deserializeEmbedding(buf []byte) ([]float32, error) {
	if len(buf)%4 != 0 {
		return nil, fmt.Errorf("embedding blob length %d is not a multiple of 4", len(buf))
	}
	embedding := make([]float32, len(buf)/4)
	for i := range embedding {
		embedding[i] = math.Float32frombits(binary.LittleEndian.Uint32(buf[i*4:]))
	}
	return embedding, nil
}

// cosineSimilarity computes cosine similarity between two vectors.
// Mismatched lengths or zero vectors score 0.
func cosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
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

// rowScanner covers both *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...interface{}) error
}

// scanChatRow scans a single chat record from a row using chatSelectColumns.
func scanChatRow(row rowScanner) (*types.ChatRecord, error) {
	return scanChatRowExtra(row)
}

// scanChatRowExtra scans a chat record plus any extra trailing columns.
func scanChatRowExtra(row rowScanner, extra ...interface{}) (*types.ChatRecord, error) {
	var (
		record    types.ChatRecord
		kind      string
		turnsJSON sql.NullString
		content   sql.NullString
		model     sql.NullString
		dimension sql.NullInt64
		source    sql.NullString
	)

	dest := []interface{}{
		&record.ID,
		&record.OwnerID,
		&record.Title,
		&kind,
		&turnsJSON,
		&content,
		&record.Signature,
		&model,
		&dimension,
		&source,
		&record.CreatedAt,
		&record.UpdatedAt,
	}
	dest = append(dest, extra...)

	if err := row.Scan(dest...); err != nil {
		return nil, err
	}

	record.Kind = types.ChatKind(kind)
	record.Content = content.String
	record.EmbeddingModel = model.String
	record.EmbeddingDimension = int(dimension.Int64)
	record.Source = source.String

	if turnsJSON.Valid && turnsJSON.String != "" {
		if err := json.Unmarshal([]byte(turnsJSON.String), &record.Turns); err != nil {
			return nil, fmt.Errorf("sqlite: failed to unmarshal turns: %w", err)
		}
	}

	return &record, nil
}

// scanChatRows drains a result set into a slice of records.
func scanChatRows(rows *sql.Rows) ([]types.ChatRecord, error) {
	items := make([]types.ChatRecord, 0)
	for rows.Next() {
		record, err := scanChatRow(rows)
		if err != nil {
			return nil, fmt.Errorf("sqlite: failed to scan record: %w", err)
		}
		items = append(items, *record)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite: row iteration failed: %w", err)
	}
	return items, nil
}
