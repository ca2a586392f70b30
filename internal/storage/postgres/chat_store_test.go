package postgres_test

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scrypster/chatkeep/internal/storage"
	"github.com/scrypster/chatkeep/internal/storage/postgres"
	"github.com/scrypster/chatkeep/pkg/types"
)

// postgresTestDSN returns the DSN for the test database.
// If POSTGRES_TEST_DSN is not set, tests are skipped.
func postgresTestDSN(t *testing.T) string {
	t.Helper()

	dsn := os.Getenv("POSTGRES_TEST_DSN")
	if dsn == "" {
		t.Skip("POSTGRES_TEST_DSN not set; skipping PostgreSQL integration tests")
	}
	return dsn
}

// newTestStore creates a fresh ChatStore connected to the test database,
// applies the schema and registers cleanup. Each test starts from an empty
// chat_records table.
func newTestStore(t *testing.T) *postgres.ChatStore {
	t.Helper()

	store, err := postgres.NewChatStore(postgresTestDSN(t))
	require.NoError(t, err, "NewChatStore should succeed")

	require.NoError(t, store.TruncateForTest(context.Background()))

	t.Cleanup(func() {
		store.Close()
	})

	return store
}

func chatRecord(owner string, seq int) *types.ChatRecord {
	return &types.ChatRecord{
		ID:        fmt.Sprintf("record-%d", seq),
		OwnerID:   owner,
		Title:     fmt.Sprintf("chat %d", seq),
		Kind:      types.KindChat,
		Turns:     []types.Turn{{Prompt: fmt.Sprintf("question %d", seq), Response: fmt.Sprintf("answer %d", seq)}},
		Signature: fmt.Sprintf("sig-%d", seq),
		Source:    "widget",
		CreatedAt: time.Date(2026, 8, 1, 0, 0, seq, 0, time.UTC),
	}
}

func TestChatStore_InsertGetRoundTrip(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	record := chatRecord("owner-1", 1)
	record.Content = "a side note"
	require.NoError(t, store.Insert(ctx, record))

	got, err := store.Get(ctx, "owner-1", "record-1")
	require.NoError(t, err)
	assert.Equal(t, "chat 1", got.Title)
	assert.Equal(t, types.KindChat, got.Kind)
	require.Len(t, got.Turns, 1)
	assert.Equal(t, "question 1", got.Turns[0].Prompt)
	assert.Equal(t, "a side note", got.Content)
	assert.Equal(t, "sig-1", got.Signature)
	assert.Equal(t, "widget", got.Source)
}

func TestChatStore_DuplicateSignature(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.Insert(ctx, chatRecord("owner-1", 1)))

	dup := chatRecord("owner-1", 1)
	dup.ID = "record-other"
	assert.ErrorIs(t, store.Insert(ctx, dup), storage.ErrDuplicate)

	// The same signature under a different owner is a distinct record.
	other := chatRecord("owner-2", 1)
	other.ID = "record-owner2"
	assert.NoError(t, store.Insert(ctx, other))

	found, err := store.FindBySignature(ctx, "owner-1", "sig-1")
	require.NoError(t, err)
	assert.Equal(t, "record-1", found.ID)
}

func TestChatStore_ListAndPagination(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	for seq := 1; seq <= 15; seq++ {
		require.NoError(t, store.Insert(ctx, chatRecord("owner-1", seq)))
	}
	require.NoError(t, store.Insert(ctx, chatRecord("owner-2", 99)))

	first, err := store.List(ctx, "owner-1", storage.ListOptions{Page: 0, Limit: 10})
	require.NoError(t, err)
	assert.Len(t, first.Items, 10)
	assert.Equal(t, 15, first.Total)
	assert.Equal(t, 2, first.TotalPages)
	assert.True(t, first.HasMore)
	assert.Equal(t, "record-15", first.Items[0].ID)

	second, err := store.List(ctx, "owner-1", storage.ListOptions{Page: 1, Limit: 10})
	require.NoError(t, err)
	assert.Len(t, second.Items, 5)
	assert.False(t, second.HasMore)
}

func TestChatStore_UpdateAndDelete(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	record := chatRecord("owner-1", 1)
	require.NoError(t, store.Insert(ctx, record))

	require.NoError(t, store.UpdateTitle(ctx, "owner-1", "record-1", "renamed"))

	record.Turns = []types.Turn{{Prompt: "revised question", Response: "revised answer"}}
	record.Signature = "sig-revised"
	require.NoError(t, store.UpdateContent(ctx, record))

	got, err := store.Get(ctx, "owner-1", "record-1")
	require.NoError(t, err)
	assert.Equal(t, "renamed", got.Title)
	assert.Equal(t, "sig-revised", got.Signature)

	require.NoError(t, store.Delete(ctx, "owner-1", "record-1"))
	assert.ErrorIs(t, store.Delete(ctx, "owner-1", "record-1"), storage.ErrNotFound)
}

func TestChatStore_SimilaritySearch(t *testing.T) {
	store := newTestStore(t)
	if !store.VectorSearchAvailable() {
		t.Skip("pgvector extension not available; skipping similarity search test")
	}
	ctx := context.Background()

	near := chatRecord("owner-1", 1)
	near.Embedding = []float32{1, 0, 0}
	near.EmbeddingModel = "test-model"
	near.EmbeddingDimension = 3
	require.NoError(t, store.Insert(ctx, near))

	far := chatRecord("owner-1", 2)
	far.Embedding = []float32{0, 1, 0}
	far.EmbeddingModel = "test-model"
	far.EmbeddingDimension = 3
	require.NoError(t, store.Insert(ctx, far))

	// No embedding, excluded from search.
	require.NoError(t, store.Insert(ctx, chatRecord("owner-1", 3)))

	result, err := store.SearchByVector(ctx, "owner-1", []float32{1, 0, 0}, storage.ListOptions{Page: 0, Limit: 10})
	require.NoError(t, err)
	require.Len(t, result.Items, 2)
	assert.Equal(t, "record-1", result.Items[0].ID)
	assert.Equal(t, "record-2", result.Items[1].ID)
	assert.Equal(t, 2, result.Total)
}
