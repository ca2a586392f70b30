// Package types defines the core domain types shared across the chatkeep
// system: chat records, conversation turns, and deferred-save jobs.
package types

import "time"

// ChatKind distinguishes structured conversations from free-form notes.
type ChatKind string

const (
	// KindChat is a structured conversation with at least one prompt/response turn.
	KindChat ChatKind = "chat"

	// KindNote is free-form pasted content that could not be parsed into turns.
	KindNote ChatKind = "note"
)

// Turn is a single exchange in a conversation. Response is empty only for
// records of kind "note" (which carry no turns at all); a chat turn always
// has a non-empty Prompt.
type Turn struct {
	Prompt   string `json:"prompt"`
	Response string `json:"response,omitempty"`
}

// ChatRecord is a persisted conversation transcript (v1 with vector search).
// Records are created by the save pipeline and mutated only by in-place
// title/turn updates, which never change the ID or CreatedAt.
type ChatRecord struct {
	// Core identification
	ID      string   `json:"id"`       // Unique identifier (uuid)
	OwnerID string   `json:"owner_id"` // Account that owns this record
	Title   string   `json:"title"`    // Display title (max 2048 chars)
	Kind    ChatKind `json:"kind"`     // chat | note

	// Content
	Turns   []Turn `json:"turns,omitempty"`   // Ordered exchanges (chat only)
	Content string `json:"content,omitempty"` // Raw text (note only)

	// Semantic search
	Embedding          []float32 `json:"embedding,omitempty"`           // Vector embedding of the combined transcript
	EmbeddingModel     string    `json:"embedding_model,omitempty"`     // Model that produced the embedding
	EmbeddingDimension int       `json:"embedding_dimension,omitempty"` // Length of the embedding vector

	// Deduplication
	Signature string `json:"signature,omitempty"` // Deterministic hash of (owner, title, turns)

	// Provenance
	Source string `json:"source,omitempty"` // Where the save originated (e.g. "widget", "manual", "job")

	// Timestamps
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// MaxTitleLength is the upper bound on record titles.
const MaxTitleLength = 2048

// TurnCount returns the number of turns; zero for notes.
func (r *ChatRecord) TurnCount() int {
	return len(r.Turns)
}

// HasEmbedding reports whether the record carries a non-empty embedding
// vector and therefore participates in similarity search.
func (r *ChatRecord) HasEmbedding() bool {
	return len(r.Embedding) > 0
}
