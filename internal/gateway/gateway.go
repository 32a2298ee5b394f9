// Package gateway accepts raw code submissions, deduplicates them by content
// fingerprint, and hands new work to the job queue.
package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/kalambet/reviewd/internal/blob"
	"github.com/kalambet/reviewd/internal/review"
	"github.com/kalambet/reviewd/internal/storage"
)

// ErrEmptySubmission is returned for a submission with no code. It is
// rejected before deduplication and never enqueued.
var ErrEmptySubmission = errors.New("empty submission")

// Submission states reported to callers.
const (
	StateQueued     = "queued"
	StateProcessing = "processing"
	StateDone       = "done"
	StateFailed     = "failed"
)

// Receipt is the result of accepting a submission.
type Receipt struct {
	SubmissionID int64
	Status       string
}

// Status is the result of a feedback query.
type Status struct {
	SubmissionID int64
	State        string
	Findings     []review.Finding
	Diagnostic   string
}

// Gateway wires the dedup store, blob storage, and job queue.
type Gateway struct {
	store  *storage.Store
	blobs  blob.Store
	notify Notifier
	logger *slog.Logger
}

// Notifier wakes in-process consumers after an enqueue. May be nil when only
// polling consumers exist.
type Notifier interface {
	Notify()
}

// New creates a Gateway.
func New(store *storage.Store, blobs blob.Store, notify Notifier) *Gateway {
	return &Gateway{store: store, blobs: blobs, notify: notify, logger: slog.Default()}
}

// Submit accepts raw code and returns a receipt. Byte-identical submissions
// map to the same submission id, and at most one job is ever active per id:
// duplicates enqueue nothing unless both the job and the feedback for the id
// are gone (a consumer crashed mid-job), in which case the resubmission
// re-enqueues the work.
func (g *Gateway) Submit(ctx context.Context, code string) (Receipt, error) {
	if code == "" {
		return Receipt{}, ErrEmptySubmission
	}

	hash := storage.Fingerprint([]byte(code))
	id, isNew, err := g.store.ReserveSubmission(hash)
	if err != nil {
		return Receipt{}, fmt.Errorf("reserving submission: %w", err)
	}

	if !isNew {
		return g.resubmit(ctx, id, code)
	}

	key, err := g.blobs.Put(ctx, fmt.Sprintf("submissions/%d", id), []byte(code))
	if err != nil {
		return Receipt{}, fmt.Errorf("storing submission %d: %w", id, err)
	}
	if err := g.store.SetSubmissionBlobKey(id, key); err != nil {
		return Receipt{}, fmt.Errorf("recording blob key for submission %d: %w", id, err)
	}

	if err := g.enqueue(id, code); err != nil {
		return Receipt{}, err
	}
	g.logger.Info("submission accepted", "submission_id", id)
	return Receipt{SubmissionID: id, Status: StateQueued}, nil
}

// resubmit handles a known fingerprint. If feedback already exists the caller
// gets the done state; if the job for the id vanished without feedback (lost
// to a crash), the work is re-enqueued.
func (g *Gateway) resubmit(ctx context.Context, id int64, code string) (Receipt, error) {
	if _, err := g.store.GetFeedback(id); err == nil {
		return Receipt{SubmissionID: id, Status: StateDone}, nil
	} else if !errors.Is(err, storage.ErrNotFound) {
		return Receipt{}, fmt.Errorf("checking feedback for submission %d: %w", id, err)
	}

	active, err := g.store.HasActiveJob(id)
	if err != nil {
		return Receipt{}, fmt.Errorf("checking jobs for submission %d: %w", id, err)
	}
	if !active {
		if err := g.enqueue(id, code); err != nil {
			return Receipt{}, err
		}
		g.logger.Info("submission re-enqueued", "submission_id", id)
	}
	return Receipt{SubmissionID: id, Status: StateQueued}, nil
}

// enqueue durably appends a job and wakes consumers. An enqueue failure is
// surfaced to the caller; the gateway never reports success for a submission
// that is not in the queue.
func (g *Gateway) enqueue(id int64, code string) error {
	job := storage.Job{
		ID:           uuid.New().String(),
		SubmissionID: id,
		Payload:      code,
	}
	if err := g.store.EnqueueJob(job); err != nil {
		return fmt.Errorf("enqueuing job for submission %d: %w", id, err)
	}
	if g.notify != nil {
		g.notify.Notify()
	}
	return nil
}

// Status reports where a submission is in its lifecycle. Feedback present
// means done; a known submission without feedback is processing (the store
// does not distinguish queued from in-flight); an unknown id is ErrNotFound.
func (g *Gateway) Status(ctx context.Context, id int64) (Status, error) {
	rec, err := g.store.GetFeedback(id)
	if err == nil {
		var findings []review.Finding
		if err := json.Unmarshal([]byte(rec.FeedbackJSON), &findings); err != nil {
			return Status{}, fmt.Errorf("decoding feedback for submission %d: %w", id, err)
		}
		return Status{SubmissionID: id, State: StateDone, Findings: findings}, nil
	}
	if !errors.Is(err, storage.ErrNotFound) {
		return Status{}, fmt.Errorf("loading feedback for submission %d: %w", id, err)
	}

	if _, err := g.store.GetSubmission(id); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return Status{}, storage.ErrNotFound
		}
		return Status{}, fmt.Errorf("loading submission %d: %w", id, err)
	}
	return Status{SubmissionID: id, State: StateProcessing}, nil
}
