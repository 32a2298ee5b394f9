// Package worker drives the review state machine: claim a job, retrieve
// context, generate feedback, persist it exactly once per submission.
package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/kalambet/reviewd/internal/blob"
	"github.com/kalambet/reviewd/internal/queue"
	"github.com/kalambet/reviewd/internal/review"
	"github.com/kalambet/reviewd/internal/storage"
)

// contextSeparator joins retrieved chunks in rank order.
const contextSeparator = "\n\n"

// ResultStore persists job outcomes and feedback.
type ResultStore interface {
	UpsertFeedback(submissionID int64, feedbackJSON, contextKey string) error
	CompleteJob(id string) error
	FailJob(id string, errMsg string) error
	DeleteJob(id string) error
}

// Embedder turns submitted code into a query vector.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// Searcher answers top-k queries over the vector index.
type Searcher interface {
	Search(query []float32, k int) ([]int, error)
}

// TextGetter resolves ordinals to corpus texts.
type TextGetter interface {
	Get(ordinals []int) ([]string, error)
}

// Generator produces findings for code plus retrieved context.
type Generator interface {
	Generate(ctx context.Context, code, contextText string) ([]review.Finding, error)
}

// Worker consumes review jobs. Multiple workers may run against the same
// queue; the claim transaction guarantees each job has one owner.
type Worker struct {
	consumer    queue.Consumer
	store       ResultStore
	embedder    Embedder
	index       Searcher
	corpus      TextGetter
	generator   Generator
	blobs       blob.Store
	topK        int
	callTimeout time.Duration
	logger      *slog.Logger
}

// Config collects the worker's dependencies.
type Config struct {
	Consumer  queue.Consumer
	Store     ResultStore
	Embedder  Embedder
	Index     Searcher
	Corpus    TextGetter
	Generator Generator
	Blobs     blob.Store

	// TopK is the number of context chunks to retrieve; <= 0 defaults to 5.
	TopK int

	// CallTimeout bounds each external call (embedding, generation);
	// <= 0 defaults to 60s.
	CallTimeout time.Duration
}

// New creates a Worker.
func New(cfg Config) *Worker {
	if cfg.TopK <= 0 {
		cfg.TopK = 5
	}
	if cfg.CallTimeout <= 0 {
		cfg.CallTimeout = 60 * time.Second
	}
	return &Worker{
		consumer:    cfg.Consumer,
		store:       cfg.Store,
		embedder:    cfg.Embedder,
		index:       cfg.Index,
		corpus:      cfg.Corpus,
		generator:   cfg.Generator,
		blobs:       cfg.Blobs,
		topK:        cfg.TopK,
		callTimeout: cfg.CallTimeout,
		logger:      slog.Default(),
	}
}

// Run consumes jobs until ctx is cancelled.
func (w *Worker) Run(ctx context.Context) {
	for {
		job, err := w.consumer.Next(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			w.logger.Error("claiming job failed", "error", err)
			continue
		}
		w.Process(ctx, job)
	}
}

// Process runs one claimed job through the state machine. Structural errors
// (embedding, index, corpus, persistence) mark the job failed with the
// diagnostic captured; generation errors degrade into synthetic findings and
// the job still completes.
func (w *Worker) Process(ctx context.Context, job *storage.Job) {
	if err := w.process(ctx, job); err != nil {
		w.logger.Warn("job failed", "job_id", job.ID, "submission_id", job.SubmissionID, "error", err)
		if failErr := w.store.FailJob(job.ID, err.Error()); failErr != nil {
			w.logger.Error("failed to mark job as failed", "job_id", job.ID, "error", failErr)
		}
		return
	}

	if err := w.store.CompleteJob(job.ID); err != nil {
		w.logger.Error("failed to mark job as completed", "job_id", job.ID, "error", err)
		return
	}
	// Feedback is the durable record now; the job row is no longer needed.
	if err := w.store.DeleteJob(job.ID); err != nil {
		w.logger.Warn("failed to prune completed job", "job_id", job.ID, "error", err)
	}
	w.logger.Info("job completed", "job_id", job.ID, "submission_id", job.SubmissionID)
}

func (w *Worker) process(ctx context.Context, job *storage.Job) error {
	// Retrieving: embed the submission and look up its nearest corpus chunks.
	embedCtx, cancel := context.WithTimeout(ctx, w.callTimeout)
	vec, err := w.embedder.Embed(embedCtx, job.Payload)
	cancel()
	if err != nil {
		return fmt.Errorf("embedding submission %d: %w", job.SubmissionID, err)
	}

	ordinals, err := w.index.Search(vec, w.topK)
	if err != nil {
		return fmt.Errorf("searching index for submission %d: %w", job.SubmissionID, err)
	}
	texts, err := w.corpus.Get(ordinals)
	if err != nil {
		return fmt.Errorf("loading context for submission %d: %w", job.SubmissionID, err)
	}
	contextText := strings.Join(texts, contextSeparator)

	contextKey, err := w.blobs.Put(ctx, fmt.Sprintf("rag_cache/submission_%d.txt", job.SubmissionID), []byte(contextText))
	if err != nil {
		return fmt.Errorf("storing context for submission %d: %w", job.SubmissionID, err)
	}

	// Generating: failures here are recoverable as degraded feedback, except
	// a timeout, which fails the job with the diagnostic captured.
	genCtx, cancel := context.WithTimeout(ctx, w.callTimeout)
	findings, err := w.generator.Generate(genCtx, job.Payload, contextText)
	cancel()
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || ctx.Err() != nil {
			return fmt.Errorf("generating feedback for submission %d: %w", job.SubmissionID, err)
		}
		w.logger.Warn("generation failed, persisting synthetic finding", "submission_id", job.SubmissionID, "error", err)
		findings = review.Synthetic(err.Error())
	}

	feedbackJSON, err := json.Marshal(findings)
	if err != nil {
		return fmt.Errorf("encoding feedback for submission %d: %w", job.SubmissionID, err)
	}

	// Persisted: the upsert makes replays of the same submission idempotent.
	if err := w.store.UpsertFeedback(job.SubmissionID, string(feedbackJSON), contextKey); err != nil {
		return fmt.Errorf("persisting feedback for submission %d: %w", job.SubmissionID, err)
	}
	return nil
}
