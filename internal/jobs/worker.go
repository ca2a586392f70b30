package jobs

import (
	"context"
	"log"
	"sync"
	"time"
)

// WorkerConfig tunes the background queue worker.
type WorkerConfig struct {
	// PollInterval is how long the worker sleeps when the queue is empty.
	// Default: 1 second.
	PollInterval time.Duration

	// Visibility is how long a claimed job stays invisible before it is
	// considered abandoned and reclaimed. Default: 5 minutes.
	Visibility time.Duration

	// MaxAttempts is the attempt count after which a job is marked failed
	// instead of requeued. Default: 3.
	MaxAttempts int
}

// Worker drains pending jobs from a SQLiteQueue through the save pipeline.
// A job transitions exactly once from pending to a terminal state.
type Worker struct {
	queue  *SQLiteQueue
	saver  Saver
	config WorkerConfig

	// onTerminal, when set, is invoked after a job reaches a terminal
	// state. Used to broadcast job completion events.
	onTerminal func(jobID, ownerID, recordID, status string)

	wg     sync.WaitGroup
	cancel context.CancelFunc
}

// NewWorker creates a worker over the given queue and saver.
func NewWorker(queue *SQLiteQueue, saver Saver, config WorkerConfig) *Worker {
	if config.PollInterval <= 0 {
		config.PollInterval = time.Second
	}
	if config.Visibility <= 0 {
		config.Visibility = 5 * time.Minute
	}
	if config.MaxAttempts <= 0 {
		config.MaxAttempts = 3
	}
	return &Worker{
		queue:  queue,
		saver:  saver,
		config: config,
	}
}

// OnTerminal registers a callback fired after each job reaches a terminal
// state. Must be called before Start.
func (w *Worker) OnTerminal(fn func(jobID, ownerID, recordID, status string)) {
	w.onTerminal = fn
}

// Start launches the worker loop. It runs until Stop is called.
func (w *Worker) Start() {
	ctx, cancel := context.WithCancel(context.Background())
	w.cancel = cancel

	w.wg.Add(1)
	go w.run(ctx)

	log.Printf("jobs: worker started (poll=%s, visibility=%s, maxAttempts=%d)",
		w.config.PollInterval, w.config.Visibility, w.config.MaxAttempts)
}

// Stop signals the worker to exit and waits for the in-flight job to finish.
func (w *Worker) Stop() {
	if w.cancel != nil {
		w.cancel()
	}
	w.wg.Wait()
	log.Printf("jobs: worker stopped")
}

func (w *Worker) run(ctx context.Context) {
	defer w.wg.Done()

	for {
		job, err := w.queue.claimNext(ctx, w.config.Visibility)
		if err != nil {
			log.Printf("jobs: claim failed: %v", err)
		}

		if job == nil {
			select {
			case <-ctx.Done():
				return
			case <-time.After(w.config.PollInterval):
			}
			continue
		}

		w.process(ctx, job.ID, job.OwnerID, job.Attempts)

		select {
		case <-ctx.Done():
			return
		default:
		}
	}
}

// process runs a single claimed job to a terminal state or a requeue.
func (w *Worker) process(ctx context.Context, jobID, ownerID string, attempt int) {
	job, err := w.queue.GetStatus(ctx, jobID)
	if err != nil {
		log.Printf("jobs: lost claimed job %s: %v", jobID, err)
		return
	}

	// Exponential backoff between retries of the same job.
	if attempt > 1 {
		backoff := time.Duration((attempt-1)*(attempt-1)) * 100 * time.Millisecond
		select {
		case <-ctx.Done():
			return
		case <-time.After(backoff):
		}
	}

	recordID, err := w.saver.SaveFromJob(ctx, job.Payload)
	if err != nil {
		log.Printf("jobs: job %s attempt %d failed: %v", jobID, attempt, err)
		if attempt >= w.config.MaxAttempts {
			if markErr := w.queue.markFailed(ctx, jobID, err.Error()); markErr != nil {
				log.Printf("jobs: failed to mark job %s failed: %v", jobID, markErr)
				return
			}
			w.notify(jobID, ownerID, "", "failed")
			return
		}
		if reqErr := w.queue.requeue(ctx, jobID); reqErr != nil {
			log.Printf("jobs: failed to requeue job %s: %v", jobID, reqErr)
		}
		return
	}

	if err := w.queue.markComplete(ctx, jobID, recordID); err != nil {
		log.Printf("jobs: failed to mark job %s complete: %v", jobID, err)
		return
	}
	w.notify(jobID, ownerID, recordID, "complete")
}

func (w *Worker) notify(jobID, ownerID, recordID, status string) {
	if w.onTerminal != nil {
		w.onTerminal(jobID, ownerID, recordID, status)
	}
}
