package storage

import (
	"errors"
	"time"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("not found")

// Job statuses. A job is created queued, transitions to processing when a
// worker claims it, and ends completed or failed. Only the claiming worker
// mutates it after the claim.
const (
	JobQueued     = "queued"
	JobProcessing = "processing"
	JobCompleted  = "completed"
	JobFailed     = "failed"
)

// Submission is one unique piece of submitted code. The content hash maps to
// exactly one submission id; resubmitting identical code reuses the row.
type Submission struct {
	ID        int64
	CodeHash  string
	BlobKey   string
	CreatedAt time.Time
}

// Job is one unit of review work handed from the gateway to a worker.
type Job struct {
	ID           string
	SubmissionID int64
	Payload      string // raw submitted code
	Status       string
	Error        string
	EnqueuedAt   time.Time
	UpdatedAt    time.Time
}

// FeedbackRecord holds the persisted review result for a submission.
// At most one row exists per submission id.
type FeedbackRecord struct {
	SubmissionID int64
	FeedbackJSON string
	ContextKey   string // blob key of the retrieved context used for the review
}
