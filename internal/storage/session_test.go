package storage

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSessionStore_CreateAndGet(t *testing.T) {
	store := NewInMemorySessionStore(time.Minute)
	ctx := context.Background()

	id, err := store.Create(ctx, "owner-1")
	require.NoError(t, err)
	require.NotEmpty(t, id)

	sess, err := store.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, id, sess.ID)
	assert.Equal(t, "owner-1", sess.OwnerID)
}

func TestSessionStore_GetUnknown(t *testing.T) {
	store := NewInMemorySessionStore(time.Minute)

	_, err := store.Get(context.Background(), "nope")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestSessionStore_IdleExpiry(t *testing.T) {
	store := NewInMemorySessionStore(10 * time.Minute)
	ctx := context.Background()

	now := time.Now()
	store.now = func() time.Time { return now }

	id, err := store.Create(ctx, "owner-1")
	require.NoError(t, err)

	// Still alive just inside the TTL.
	now = now.Add(9 * time.Minute)
	_, err = store.Get(ctx, id)
	require.NoError(t, err)

	// Past the TTL the session is gone.
	now = now.Add(2 * time.Minute)
	_, err = store.Get(ctx, id)
	assert.ErrorIs(t, err, ErrNotFound)
	assert.Equal(t, 0, store.Len())
}

func TestSessionStore_TouchExtendsDeadline(t *testing.T) {
	store := NewInMemorySessionStore(10 * time.Minute)
	ctx := context.Background()

	now := time.Now()
	store.now = func() time.Time { return now }

	id, err := store.Create(ctx, "owner-1")
	require.NoError(t, err)

	now = now.Add(9 * time.Minute)
	require.NoError(t, store.Touch(ctx, id))

	// Without the touch this would be 11 minutes idle.
	now = now.Add(2 * time.Minute)
	_, err = store.Get(ctx, id)
	assert.NoError(t, err)
}

func TestSessionStore_TouchUnknown(t *testing.T) {
	store := NewInMemorySessionStore(time.Minute)
	err := store.Touch(context.Background(), "nope")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestSessionStore_Delete(t *testing.T) {
	store := NewInMemorySessionStore(time.Minute)
	ctx := context.Background()

	id, err := store.Create(ctx, "owner-1")
	require.NoError(t, err)

	require.NoError(t, store.Delete(ctx, id))
	_, err = store.Get(ctx, id)
	assert.ErrorIs(t, err, ErrNotFound)

	// Deleting again is not an error.
	assert.NoError(t, store.Delete(ctx, id))
}

func TestSessionStore_ConcurrentGetAndTouch(t *testing.T) {
	store := NewInMemorySessionStore(time.Minute)
	ctx := context.Background()

	id, err := store.Create(ctx, "owner-1")
	require.NoError(t, err)

	// Same-session requests may interleave, so Get and Touch must be safe
	// to run against each other.
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			for j := 0; j < 20; j++ {
				_, _ = store.Get(ctx, id)
			}
		}()
		go func() {
			defer wg.Done()
			for j := 0; j < 20; j++ {
				_ = store.Touch(ctx, id)
			}
		}()
	}
	wg.Wait()

	_, err = store.Get(ctx, id)
	assert.NoError(t, err)
}

func TestSessionStore_EvictCallback(t *testing.T) {
	store := NewInMemorySessionStore(10 * time.Minute)
	ctx := context.Background()

	now := time.Now()
	store.now = func() time.Time { return now }

	var evicted []string
	store.OnEvict(func(id string) { evicted = append(evicted, id) })

	expiring, err := store.Create(ctx, "owner-1")
	require.NoError(t, err)
	deleted, err := store.Create(ctx, "owner-1")
	require.NoError(t, err)

	require.NoError(t, store.Delete(ctx, deleted))
	assert.Equal(t, []string{deleted}, evicted)

	// Deleting an unknown session fires nothing.
	require.NoError(t, store.Delete(ctx, "nope"))
	assert.Len(t, evicted, 1)

	// Idle expiry during Get fires the callback too.
	now = now.Add(11 * time.Minute)
	_, err = store.Get(ctx, expiring)
	assert.ErrorIs(t, err, ErrNotFound)
	assert.Equal(t, []string{deleted, expiring}, evicted)
}
