package engine

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scrypster/chatkeep/internal/storage"
	"github.com/scrypster/chatkeep/pkg/types"
)

func seedRecords(t *testing.T, eng *ChatEngine, ownerID string, n int) []string {
	t.Helper()
	ids := make([]string, 0, n)
	for i := 0; i < n; i++ {
		result, err := eng.Save(context.Background(), SaveInput{
			OwnerID: ownerID,
			Title:   fmt.Sprintf("chat %02d", i),
			Turns:   []types.Turn{{Prompt: fmt.Sprintf("question number %02d", i)}},
		})
		require.NoError(t, err)
		ids = append(ids, result.Record.ID)
	}
	return ids
}

func TestList_RecencyOrdering(t *testing.T) {
	eng, _, _ := newTestEngine(t)
	ids := seedRecords(t, eng, "owner-1", 3)

	page, err := eng.List(context.Background(), ListInput{OwnerID: "owner-1"})
	require.NoError(t, err)
	require.Len(t, page.Items, 3)

	// Newest first.
	assert.Equal(t, ids[2], page.Items[0].ID)
	assert.Equal(t, ids[1], page.Items[1].ID)
	assert.Equal(t, ids[0], page.Items[2].ID)
}

func TestList_Pagination(t *testing.T) {
	eng, _, _ := newTestEngine(t)
	seedRecords(t, eng, "owner-1", 15)
	ctx := context.Background()

	first, err := eng.List(ctx, ListInput{OwnerID: "owner-1", Page: 0, Limit: 10})
	require.NoError(t, err)
	assert.Len(t, first.Items, 10)
	assert.Equal(t, 15, first.Total)
	assert.Equal(t, 2, first.TotalPages)
	assert.True(t, first.HasMore)

	second, err := eng.List(ctx, ListInput{OwnerID: "owner-1", Page: 1, Limit: 10})
	require.NoError(t, err)
	assert.Len(t, second.Items, 5)
	assert.Equal(t, 2, second.TotalPages)
	assert.False(t, second.HasMore)
}

func TestList_PagePastEnd(t *testing.T) {
	eng, _, _ := newTestEngine(t)
	seedRecords(t, eng, "owner-1", 5)

	page, err := eng.List(context.Background(), ListInput{OwnerID: "owner-1", Page: 9, Limit: 10})
	require.NoError(t, err)
	assert.Empty(t, page.Items)
	assert.Equal(t, 5, page.Total)
	assert.Equal(t, 1, page.TotalPages)
	assert.False(t, page.HasMore)
}

func TestList_NegativePageNormalized(t *testing.T) {
	eng, _, _ := newTestEngine(t)
	seedRecords(t, eng, "owner-1", 3)

	page, err := eng.List(context.Background(), ListInput{OwnerID: "owner-1", Page: -2})
	require.NoError(t, err)
	assert.Equal(t, 0, page.Page)
	assert.Len(t, page.Items, 3)
}

func TestList_OwnerIsolation(t *testing.T) {
	eng, _, _ := newTestEngine(t)
	seedRecords(t, eng, "owner-a", 3)
	seedRecords(t, eng, "owner-b", 2)

	page, err := eng.List(context.Background(), ListInput{OwnerID: "owner-b"})
	require.NoError(t, err)
	assert.Equal(t, 2, page.Total)
}

func TestList_QuerySimilarityOrdering(t *testing.T) {
	eng, _, embedder := newTestEngine(t)
	ctx := context.Background()

	// Pin embeddings so the distance ordering is known in advance.
	embedder.vectors["near prompt"] = []float32{1, 0, 0}
	embedder.vectors["far prompt"] = []float32{10, 0, 0}
	embedder.vectors["the query"] = []float32{0, 0, 0}

	far, err := eng.Save(ctx, SaveInput{OwnerID: "o", Title: "far", Turns: []types.Turn{{Prompt: "far prompt"}}})
	require.NoError(t, err)
	near, err := eng.Save(ctx, SaveInput{OwnerID: "o", Title: "near", Turns: []types.Turn{{Prompt: "near prompt"}}})
	require.NoError(t, err)

	page, err := eng.List(ctx, ListInput{OwnerID: "o", Query: "the query"})
	require.NoError(t, err)
	require.Len(t, page.Items, 2)

	// Nearest first, regardless of recency.
	assert.Equal(t, near.Record.ID, page.Items[0].ID)
	assert.Equal(t, far.Record.ID, page.Items[1].ID)
}

func TestList_BlankQueryFallsBackToRecency(t *testing.T) {
	eng, _, embedder := newTestEngine(t)
	ids := seedRecords(t, eng, "o", 2)
	before := embedder.callCount()

	page, err := eng.List(context.Background(), ListInput{OwnerID: "o", Query: "   "})
	require.NoError(t, err)
	require.Len(t, page.Items, 2)
	assert.Equal(t, ids[1], page.Items[0].ID)

	// A blank query never reaches the embedding service.
	assert.Equal(t, before, embedder.callCount())
}

func TestList_MissingOwner(t *testing.T) {
	eng, _, _ := newTestEngine(t)

	_, err := eng.List(context.Background(), ListInput{})
	assert.ErrorIs(t, err, storage.ErrInvalidInput)
}

func TestList_ConfiguredPageSizes(t *testing.T) {
	eng, _, _ := newTestEngine(t, WithPageSizes(5, 20))
	seedRecords(t, eng, "o", 30)

	// No limit requested: the configured default applies.
	page, err := eng.List(context.Background(), ListInput{OwnerID: "o"})
	require.NoError(t, err)
	assert.Len(t, page.Items, 5)
	assert.Equal(t, 5, page.Limit)
	assert.Equal(t, 6, page.TotalPages)

	// An oversized limit is clamped to the configured maximum.
	page, err = eng.List(context.Background(), ListInput{OwnerID: "o", Limit: 500})
	require.NoError(t, err)
	assert.Len(t, page.Items, 20)
	assert.Equal(t, 20, page.Limit)
}

func TestCountAndQuota(t *testing.T) {
	eng, _, _ := newTestEngine(t, WithQuota(50))
	seedRecords(t, eng, "o", 4)

	count, err := eng.Count(context.Background(), "o")
	require.NoError(t, err)
	assert.Equal(t, 4, count)
	assert.Equal(t, 50, eng.Quota())
}
