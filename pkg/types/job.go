package types

import "time"

// JobStatus is the lifecycle state of a deferred save job.
type JobStatus string

const (
	// JobPending means the job is queued or currently being processed.
	JobPending JobStatus = "pending"

	// JobComplete means the save pipeline finished and RecordID is set.
	JobComplete JobStatus = "complete"

	// JobFailed means the save pipeline returned an error; Error is set.
	JobFailed JobStatus = "failed"
)

// JobPayload is the work item a deferred save carries: the same inputs a
// synchronous save would receive.
type JobPayload struct {
	OwnerID string   `json:"owner_id"`
	Title   string   `json:"title"`
	Kind    ChatKind `json:"kind"`
	Turns   []Turn   `json:"turns,omitempty"`
	Content string   `json:"content,omitempty"`
	Source  string   `json:"source,omitempty"`
}

// Job is a deferred save tracked through the durable queue. A job is
// terminal once Status is complete or failed; terminal jobs never change.
type Job struct {
	ID        string     `json:"id"`
	OwnerID   string     `json:"owner_id"`
	Status    JobStatus  `json:"status"`
	Payload   JobPayload `json:"payload"`
	RecordID  string     `json:"record_id,omitempty"` // Set when Status is complete
	Error     string     `json:"error,omitempty"`     // Set when Status is failed
	Attempts  int        `json:"attempts"`
	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
}

// Terminal reports whether the job has reached a final state.
func (j *Job) Terminal() bool {
	return j.Status == JobComplete || j.Status == JobFailed
}
