package jobs

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scrypster/chatkeep/pkg/types"
)

func newTestQueue(t *testing.T) *SQLiteQueue {
	t.Helper()
	queue, err := NewSQLiteQueue(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { queue.Close() })
	return queue
}

func chatPayload(owner string) types.JobPayload {
	return types.JobPayload{
		OwnerID: owner,
		Title:   "deferred chat",
		Kind:    types.KindChat,
		Turns:   []types.Turn{{Prompt: "queued question", Response: "queued answer"}},
		Source:  "widget",
	}
}

func TestQueue_EnqueueAndGetStatus(t *testing.T) {
	queue := newTestQueue(t)
	ctx := context.Background()

	jobID, err := queue.Enqueue(ctx, chatPayload("owner-1"))
	require.NoError(t, err)
	require.NotEmpty(t, jobID)

	job, err := queue.GetStatus(ctx, jobID)
	require.NoError(t, err)
	assert.Equal(t, jobID, job.ID)
	assert.Equal(t, "owner-1", job.OwnerID)
	assert.Equal(t, types.JobPending, job.Status)
	assert.Equal(t, 0, job.Attempts)
	assert.False(t, job.Terminal())
	assert.Equal(t, "deferred chat", job.Payload.Title)
	require.Len(t, job.Payload.Turns, 1)
	assert.Equal(t, "queued question", job.Payload.Turns[0].Prompt)
}

func TestQueue_EnqueueRequiresOwner(t *testing.T) {
	queue := newTestQueue(t)

	_, err := queue.Enqueue(context.Background(), types.JobPayload{Title: "no owner"})
	assert.Error(t, err)
}

func TestQueue_GetStatusUnknown(t *testing.T) {
	queue := newTestQueue(t)

	_, err := queue.GetStatus(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrJobNotFound)

	_, err = queue.GetStatus(context.Background(), "")
	assert.ErrorIs(t, err, ErrJobNotFound)
}

func TestQueue_ClaimNextOrdersByAge(t *testing.T) {
	queue := newTestQueue(t)
	ctx := context.Background()

	first, err := queue.Enqueue(ctx, chatPayload("owner-1"))
	require.NoError(t, err)
	time.Sleep(5 * time.Millisecond)
	_, err = queue.Enqueue(ctx, chatPayload("owner-2"))
	require.NoError(t, err)

	claimed, err := queue.claimNext(ctx, time.Minute)
	require.NoError(t, err)
	require.NotNil(t, claimed)
	assert.Equal(t, first, claimed.ID)
	assert.Equal(t, 1, claimed.Attempts)
}

func TestQueue_ClaimedJobInvisible(t *testing.T) {
	queue := newTestQueue(t)
	ctx := context.Background()

	jobID, err := queue.Enqueue(ctx, chatPayload("owner-1"))
	require.NoError(t, err)

	claimed, err := queue.claimNext(ctx, time.Minute)
	require.NoError(t, err)
	require.Equal(t, jobID, claimed.ID)

	// The claimed job stays invisible inside the visibility window.
	again, err := queue.claimNext(ctx, time.Minute)
	require.NoError(t, err)
	assert.Nil(t, again)
}

func TestQueue_StaleClaimReclaimed(t *testing.T) {
	queue := newTestQueue(t)
	ctx := context.Background()

	jobID, err := queue.Enqueue(ctx, chatPayload("owner-1"))
	require.NoError(t, err)

	_, err = queue.claimNext(ctx, time.Minute)
	require.NoError(t, err)

	// A zero visibility window makes the claim immediately stale.
	reclaimed, err := queue.claimNext(ctx, 0)
	require.NoError(t, err)
	require.NotNil(t, reclaimed)
	assert.Equal(t, jobID, reclaimed.ID)
	assert.Equal(t, 2, reclaimed.Attempts)
}

func TestQueue_EmptyClaim(t *testing.T) {
	queue := newTestQueue(t)

	job, err := queue.claimNext(context.Background(), time.Minute)
	require.NoError(t, err)
	assert.Nil(t, job)
}

func TestQueue_MarkComplete(t *testing.T) {
	queue := newTestQueue(t)
	ctx := context.Background()

	jobID, err := queue.Enqueue(ctx, chatPayload("owner-1"))
	require.NoError(t, err)

	require.NoError(t, queue.markComplete(ctx, jobID, "record-42"))

	job, err := queue.GetStatus(ctx, jobID)
	require.NoError(t, err)
	assert.Equal(t, types.JobComplete, job.Status)
	assert.Equal(t, "record-42", job.RecordID)
	assert.True(t, job.Terminal())
}

func TestQueue_MarkFailed(t *testing.T) {
	queue := newTestQueue(t)
	ctx := context.Background()

	jobID, err := queue.Enqueue(ctx, chatPayload("owner-1"))
	require.NoError(t, err)

	require.NoError(t, queue.markFailed(ctx, jobID, "embedding unavailable"))

	job, err := queue.GetStatus(ctx, jobID)
	require.NoError(t, err)
	assert.Equal(t, types.JobFailed, job.Status)
	assert.Equal(t, "embedding unavailable", job.Error)
	assert.True(t, job.Terminal())
}

func TestQueue_Requeue(t *testing.T) {
	queue := newTestQueue(t)
	ctx := context.Background()

	jobID, err := queue.Enqueue(ctx, chatPayload("owner-1"))
	require.NoError(t, err)

	_, err = queue.claimNext(ctx, time.Minute)
	require.NoError(t, err)
	require.NoError(t, queue.requeue(ctx, jobID))

	claimed, err := queue.claimNext(ctx, time.Minute)
	require.NoError(t, err)
	require.NotNil(t, claimed)
	assert.Equal(t, jobID, claimed.ID)
}

// stubSaver is a controllable Saver for worker tests.
type stubSaver struct {
	mu       sync.Mutex
	failures int // fail this many calls before succeeding
	calls    int
	recordID string
}

func (s *stubSaver) SaveFromJob(ctx context.Context, payload types.JobPayload) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if s.calls <= s.failures {
		return "", errors.New("save failed")
	}
	if s.recordID == "" {
		return fmt.Sprintf("record-%d", s.calls), nil
	}
	return s.recordID, nil
}

func (s *stubSaver) callCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

// waitForTerminal polls a job until it leaves the pending state.
func waitForTerminal(t *testing.T, queue *SQLiteQueue, jobID string) *types.Job {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		job, err := queue.GetStatus(context.Background(), jobID)
		require.NoError(t, err)
		if job.Terminal() {
			return job
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("job %s never reached a terminal state", jobID)
	return nil
}

func TestWorker_ProcessesJobToComplete(t *testing.T) {
	queue := newTestQueue(t)
	saver := &stubSaver{recordID: "record-1"}

	var mu sync.Mutex
	var terminal []string
	worker := NewWorker(queue, saver, WorkerConfig{PollInterval: 10 * time.Millisecond})
	worker.OnTerminal(func(jobID, ownerID, recordID, status string) {
		mu.Lock()
		terminal = append(terminal, status+":"+recordID)
		mu.Unlock()
	})

	jobID, err := queue.Enqueue(context.Background(), chatPayload("owner-1"))
	require.NoError(t, err)

	worker.Start()
	defer worker.Stop()

	job := waitForTerminal(t, queue, jobID)
	assert.Equal(t, types.JobComplete, job.Status)
	assert.Equal(t, "record-1", job.RecordID)

	worker.Stop()
	mu.Lock()
	defer mu.Unlock()
	require.Len(t, terminal, 1)
	assert.Equal(t, "complete:record-1", terminal[0])
}

func TestWorker_RetriesThenSucceeds(t *testing.T) {
	queue := newTestQueue(t)
	saver := &stubSaver{failures: 2, recordID: "record-1"}

	worker := NewWorker(queue, saver, WorkerConfig{
		PollInterval: 10 * time.Millisecond,
		MaxAttempts:  3,
	})

	jobID, err := queue.Enqueue(context.Background(), chatPayload("owner-1"))
	require.NoError(t, err)

	worker.Start()
	defer worker.Stop()

	job := waitForTerminal(t, queue, jobID)
	assert.Equal(t, types.JobComplete, job.Status)
	assert.Equal(t, 3, saver.callCount())
}

func TestWorker_FailsAfterMaxAttempts(t *testing.T) {
	queue := newTestQueue(t)
	saver := &stubSaver{failures: 100}

	worker := NewWorker(queue, saver, WorkerConfig{
		PollInterval: 10 * time.Millisecond,
		MaxAttempts:  2,
	})

	jobID, err := queue.Enqueue(context.Background(), chatPayload("owner-1"))
	require.NoError(t, err)

	worker.Start()
	defer worker.Stop()

	job := waitForTerminal(t, queue, jobID)
	assert.Equal(t, types.JobFailed, job.Status)
	assert.Equal(t, "save failed", job.Error)
	assert.Equal(t, 2, saver.callCount())
}

func TestWorkerConfig_Defaults(t *testing.T) {
	worker := NewWorker(newTestQueue(t), &stubSaver{}, WorkerConfig{})
	assert.Equal(t, time.Second, worker.config.PollInterval)
	assert.Equal(t, 5*time.Minute, worker.config.Visibility)
	assert.Equal(t, 3, worker.config.MaxAttempts)
}
