package engine

import (
	"context"
	"fmt"
	"strings"

	"github.com/scrypster/chatkeep/internal/storage"
	"github.com/scrypster/chatkeep/pkg/types"
)

// ListInput describes a retrieval request. Pages are zero-indexed; Limit is
// clamped to the configured maximum and a non-positive value falls back to
// the configured default.
type ListInput struct {
	OwnerID string
	Query   string // optional free-text query
	Page    int
	Limit   int
}

// List returns a page of the owner's records. With a query, candidates are
// embedded and ordered by ascending vector distance (nearest first),
// restricted to records that carry an embedding; without one, records are
// ordered by creation time descending. A page past the end returns an empty
// list with correct totals.
func (e *ChatEngine) List(ctx context.Context, input ListInput) (*storage.PaginatedResult[types.ChatRecord], error) {
	if input.OwnerID == "" {
		return nil, fmt.Errorf("%w: owner is required", storage.ErrInvalidInput)
	}

	opts := storage.ListOptions{Page: input.Page, Limit: input.Limit}
	opts.NormalizeWith(e.defaultPageSize, e.maxPageSize)

	query := strings.TrimSpace(input.Query)
	if query == "" {
		return e.store.List(ctx, input.OwnerID, opts)
	}

	vector, err := e.embedder.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("engine: query embedding failed: %w", err)
	}

	return e.store.SearchByVector(ctx, input.OwnerID, vector, opts)
}

// Get returns a single record by owner and ID.
func (e *ChatEngine) Get(ctx context.Context, ownerID, id string) (*types.ChatRecord, error) {
	return e.store.Get(ctx, ownerID, id)
}

// Count returns the owner's total record count.
func (e *ChatEngine) Count(ctx context.Context, ownerID string) (int, error) {
	return e.store.CountByOwner(ctx, ownerID)
}

// Quota returns the configured per-owner record cap; zero means unlimited.
func (e *ChatEngine) Quota() int {
	return e.maxRecordsPerOwner
}
