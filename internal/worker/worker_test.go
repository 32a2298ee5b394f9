package worker

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/kalambet/reviewd/internal/blob"
	"github.com/kalambet/reviewd/internal/index"
	"github.com/kalambet/reviewd/internal/review"
	"github.com/kalambet/reviewd/internal/storage"
)

// recordingStore captures the persistence calls made while processing a job.
type recordingStore struct {
	feedbackJSON string
	contextKey   string
	completed    []string
	failed       map[string]string
	deleted      []string
}

func newRecordingStore() *recordingStore {
	return &recordingStore{failed: map[string]string{}}
}

func (r *recordingStore) UpsertFeedback(submissionID int64, feedbackJSON, contextKey string) error {
	r.feedbackJSON = feedbackJSON
	r.contextKey = contextKey
	return nil
}

func (r *recordingStore) CompleteJob(id string) error {
	r.completed = append(r.completed, id)
	return nil
}

func (r *recordingStore) FailJob(id string, errMsg string) error {
	r.failed[id] = errMsg
	return nil
}

func (r *recordingStore) DeleteJob(id string) error {
	r.deleted = append(r.deleted, id)
	return nil
}

type stubEmbedder struct {
	vec []float32
	err error
}

func (s *stubEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	return s.vec, s.err
}

type stubGenerator struct {
	findings []review.Finding
	err      error
	slow     bool

	gotCode    string
	gotContext string
}

func (s *stubGenerator) Generate(ctx context.Context, code, contextText string) ([]review.Finding, error) {
	s.gotCode = code
	s.gotContext = contextText
	if s.slow {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	return s.findings, s.err
}

func testIndex(t *testing.T) (*index.Index, *index.Corpus) {
	t.Helper()
	ix, err := index.New(2)
	if err != nil {
		t.Fatalf("New index: %v", err)
	}
	if err := ix.Add([][]float32{{0, 0}, {1, 1}, {9, 9}}); err != nil {
		t.Fatalf("Add: %v", err)
	}
	c := index.NewCorpus()
	c.Append([]string{"guideline zero", "guideline one", "guideline nine"})
	return ix, c
}

func TestProcess_PersistsFeedbackAndPrunesJob(t *testing.T) {
	store := newRecordingStore()
	ix, corpus := testIndex(t)
	blobs := blob.NewFS(t.TempDir())
	line := 2
	gen := &stubGenerator{findings: []review.Finding{{
		Line: &line, Severity: review.SeverityLow, Message: "nit", Reasoning: "style",
	}}}

	w := New(Config{
		Consumer:  nil,
		Store:     store,
		Embedder:  &stubEmbedder{vec: []float32{0, 0}},
		Index:     ix,
		Corpus:    corpus,
		Generator: gen,
		Blobs:     blobs,
		TopK:      2,
	})

	job := &storage.Job{ID: "job-1", SubmissionID: 5, Payload: "def f(): pass"}
	w.Process(context.Background(), job)

	if len(store.failed) != 0 {
		t.Fatalf("job failed unexpectedly: %v", store.failed)
	}
	if len(store.completed) != 1 || store.completed[0] != "job-1" {
		t.Errorf("completed jobs = %v, want [job-1]", store.completed)
	}
	if len(store.deleted) != 1 || store.deleted[0] != "job-1" {
		t.Errorf("completed job not pruned, deleted = %v", store.deleted)
	}

	var findings []review.Finding
	if err := json.Unmarshal([]byte(store.feedbackJSON), &findings); err != nil {
		t.Fatalf("persisted feedback is not valid JSON: %v", err)
	}
	if len(findings) != 1 || findings[0].Message != "nit" {
		t.Errorf("persisted findings = %+v", findings)
	}

	// The retrieved context was joined in rank order and archived.
	wantContext := "guideline zero\n\nguideline one"
	if gen.gotContext != wantContext {
		t.Errorf("generator context = %q, want %q", gen.gotContext, wantContext)
	}
	if store.contextKey != "rag_cache/submission_5.txt" {
		t.Errorf("context key = %q, want rag_cache/submission_5.txt", store.contextKey)
	}
	data, err := blobs.Get(context.Background(), store.contextKey)
	if err != nil {
		t.Fatalf("reading archived context: %v", err)
	}
	if string(data) != wantContext {
		t.Errorf("archived context = %q, want %q", data, wantContext)
	}
}

func TestProcess_EmbedErrorFailsJob(t *testing.T) {
	store := newRecordingStore()
	ix, corpus := testIndex(t)

	w := New(Config{
		Store:     store,
		Embedder:  &stubEmbedder{err: errors.New("embedding backend unreachable")},
		Index:     ix,
		Corpus:    corpus,
		Generator: &stubGenerator{},
		Blobs:     blob.NewFS(t.TempDir()),
	})

	job := &storage.Job{ID: "job-2", SubmissionID: 6, Payload: "code"}
	w.Process(context.Background(), job)

	diag, ok := store.failed["job-2"]
	if !ok {
		t.Fatal("embed error did not fail the job")
	}
	if !strings.Contains(diag, "embedding backend unreachable") {
		t.Errorf("failure diagnostic = %q, want the embed error captured", diag)
	}
	if len(store.completed) != 0 {
		t.Errorf("failed job was also completed: %v", store.completed)
	}
	if store.feedbackJSON != "" {
		t.Error("failed job persisted feedback")
	}
}

func TestProcess_EmptyIndexFailsJob(t *testing.T) {
	store := newRecordingStore()
	ix, err := index.New(2)
	if err != nil {
		t.Fatalf("New index: %v", err)
	}

	w := New(Config{
		Store:     store,
		Embedder:  &stubEmbedder{vec: []float32{0, 0}},
		Index:     ix,
		Corpus:    index.NewCorpus(),
		Generator: &stubGenerator{},
		Blobs:     blob.NewFS(t.TempDir()),
	})

	job := &storage.Job{ID: "job-3", SubmissionID: 7, Payload: "code"}
	w.Process(context.Background(), job)

	if _, ok := store.failed["job-3"]; !ok {
		t.Fatal("search over an empty index did not fail the job")
	}
}

func TestProcess_GenerationErrorDegradesToSyntheticFinding(t *testing.T) {
	store := newRecordingStore()
	ix, corpus := testIndex(t)

	w := New(Config{
		Store:     store,
		Embedder:  &stubEmbedder{vec: []float32{0, 0}},
		Index:     ix,
		Corpus:    corpus,
		Generator: &stubGenerator{err: errors.New("model crashed")},
		Blobs:     blob.NewFS(t.TempDir()),
	})

	job := &storage.Job{ID: "job-4", SubmissionID: 8, Payload: "code"}
	w.Process(context.Background(), job)

	if len(store.failed) != 0 {
		t.Fatalf("generation error should not fail the job, got %v", store.failed)
	}
	if len(store.completed) != 1 {
		t.Fatal("job with degraded feedback did not complete")
	}

	var findings []review.Finding
	if err := json.Unmarshal([]byte(store.feedbackJSON), &findings); err != nil {
		t.Fatalf("unmarshal feedback: %v", err)
	}
	if len(findings) != 1 {
		t.Fatalf("degraded feedback has %d findings, want 1", len(findings))
	}
	if findings[0].Severity != review.SeverityMedium {
		t.Errorf("synthetic severity = %q, want medium", findings[0].Severity)
	}
	if !strings.Contains(findings[0].Message, "model crashed") {
		t.Errorf("synthetic message = %q, want the raw error text", findings[0].Message)
	}
}

func TestProcess_GenerationTimeoutFailsJob(t *testing.T) {
	store := newRecordingStore()
	ix, corpus := testIndex(t)

	w := New(Config{
		Store:       store,
		Embedder:    &stubEmbedder{vec: []float32{0, 0}},
		Index:       ix,
		Corpus:      corpus,
		Generator:   &stubGenerator{slow: true},
		Blobs:       blob.NewFS(t.TempDir()),
		CallTimeout: 20 * time.Millisecond,
	})

	job := &storage.Job{ID: "job-5", SubmissionID: 9, Payload: "code"}
	w.Process(context.Background(), job)

	diag, ok := store.failed["job-5"]
	if !ok {
		t.Fatal("generation timeout did not fail the job")
	}
	if !strings.Contains(diag, context.DeadlineExceeded.Error()) {
		t.Errorf("failure diagnostic = %q, want deadline exceeded captured", diag)
	}
}
