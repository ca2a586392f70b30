// Package storage provides composable storage interfaces for the chatkeep system.
//
// The storage layer is designed with small, focused interfaces that can be
// implemented independently and composed as needed. This keeps backends
// swappable and makes the save and retrieval pipelines easy to test against
// in-memory fakes.
package storage

import (
	"context"

	"github.com/scrypster/chatkeep/pkg/types"
)

// ChatStore provides CRUD operations and pagination for chat records.
// All operations are scoped to an owner; a record is never visible to a
// different owner, including lookups by ID.
type ChatStore interface {
	// Insert creates a new chat record. It returns ErrDuplicate when a
	// record with the same (owner, signature) pair already exists.
	Insert(ctx context.Context, record *types.ChatRecord) error

	// Get retrieves a record by owner and ID.
	// Returns ErrNotFound if the record doesn't exist or belongs to another owner.
	Get(ctx context.Context, ownerID, id string) (*types.ChatRecord, error)

	// FindBySignature looks up a record by its content signature.
	// Returns ErrNotFound when no record with that signature exists for the owner.
	FindBySignature(ctx context.Context, ownerID, signature string) (*types.ChatRecord, error)

	// List retrieves the owner's records ordered by recency (newest first).
	List(ctx context.Context, ownerID string, opts ListOptions) (*PaginatedResult[types.ChatRecord], error)

	// SearchByVector retrieves the owner's records ordered by vector
	// distance to the query embedding, nearest first. Records without an
	// embedding are excluded.
	SearchByVector(ctx context.Context, ownerID string, query []float32, opts ListOptions) (*PaginatedResult[types.ChatRecord], error)

	// UpdateTitle changes a record's title in place.
	// Returns ErrNotFound if the record doesn't exist.
	UpdateTitle(ctx context.Context, ownerID, id, title string) error

	// UpdateContent replaces a record's turns or note content and its
	// regenerated embedding and signature in a single statement.
	// Returns ErrNotFound if the record doesn't exist.
	UpdateContent(ctx context.Context, record *types.ChatRecord) error

	// Delete removes a record permanently.
	// Returns ErrNotFound if the record doesn't exist.
	Delete(ctx context.Context, ownerID, id string) error

	// CountByOwner returns the owner's total record count, used for quota
	// enforcement before inserts.
	CountByOwner(ctx context.Context, ownerID string) (int, error)

	// Close releases any resources held by the store.
	Close() error
}

// SessionStore tracks live protocol sessions. Implementations must be safe
// for concurrent use; the HTTP transport calls into the store from every
// request goroutine.
type SessionStore interface {
	// Create registers a new session and returns its ID.
	Create(ctx context.Context, ownerID string) (string, error)

	// Get retrieves a session by ID.
	// Returns ErrNotFound for unknown or expired sessions.
	Get(ctx context.Context, id string) (*Session, error)

	// Touch records activity on a session, extending its idle deadline.
	Touch(ctx context.Context, id string) error

	// Delete removes a session. Deleting an unknown session is not an error.
	Delete(ctx context.Context, id string) error
}
