// Package jobs provides the durable queue for deferred save work: a thin
// client contract, a SQLite-backed implementation, and a worker that drains
// pending jobs through the save pipeline.
package jobs

import (
	"context"
	"errors"

	"github.com/scrypster/chatkeep/pkg/types"
)

// ErrJobNotFound is returned when a job ID is unknown to the queue.
var ErrJobNotFound = errors.New("jobs: job not found")

// Queue is the client contract the save pipeline depends on. Enqueue is
// fire-and-forget from the pipeline's perspective; status transitions are
// driven by a worker, not the enqueuer.
type Queue interface {
	// Enqueue records a new pending job and returns its ID.
	Enqueue(ctx context.Context, payload types.JobPayload) (string, error)

	// GetStatus returns the current job state.
	// Returns ErrJobNotFound for unknown job IDs.
	GetStatus(ctx context.Context, jobID string) (*types.Job, error)

	// Close releases any resources held by the queue.
	Close() error
}

// Saver is what the worker invokes for each claimed job. The save pipeline
// implements it; the indirection keeps the queue free of pipeline imports.
type Saver interface {
	// SaveFromJob runs the synchronous save pipeline on a deferred payload
	// and returns the resulting record ID.
	SaveFromJob(ctx context.Context, payload types.JobPayload) (string, error)
}
