// Package storage persists submissions, review feedback, and the durable job
// queue in a single SQLite database.
package storage

import (
	"crypto/sha256"
	"database/sql"
	"embed"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Store wraps a SQLite database with methods for submissions, feedback, and jobs.
type Store struct {
	db *sql.DB
}

// Open opens (or creates) a SQLite database in dataDir and runs pending migrations.
// Pass ":memory:" as dataDir for an in-memory database (used by tests).
func Open(dataDir string) (*Store, error) {
	var dsn string
	if dataDir == ":memory:" {
		dsn = ":memory:"
	} else {
		if err := os.MkdirAll(dataDir, 0o755); err != nil {
			return nil, fmt.Errorf("creating data directory: %w", err)
		}
		dsn = filepath.Join(dataDir, "reviewd.db")
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	// Limit to single connection to avoid "database is locked" errors.
	db.SetMaxOpenConns(1)

	// Set busy timeout so concurrent access waits briefly instead of failing immediately.
	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting busy timeout: %w", err)
	}

	// Enable WAL mode so a standalone worker process can read alongside the server.
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting journal mode: %w", err)
	}

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	return s, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// DB exposes the underlying database handle for tests.
func (s *Store) DB() *sql.DB {
	return s.db
}

// migrate reads embedded SQL migration files and applies any that haven't been run yet.
func (s *Store) migrate() error {
	// Ensure schema_version table exists (bootstrap).
	if _, err := s.db.Exec(`CREATE TABLE IF NOT EXISTS schema_version (
		version INTEGER PRIMARY KEY,
		applied_at DATETIME DEFAULT CURRENT_TIMESTAMP
	)`); err != nil {
		return fmt.Errorf("creating schema_version table: %w", err)
	}

	entries, err := migrationsFS.ReadDir("migrations")
	if err != nil {
		return fmt.Errorf("reading migrations directory: %w", err)
	}

	// Sort by filename to guarantee ascending order.
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Name() < entries[j].Name()
	})

	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".sql") {
			continue
		}

		version, err := parseMigrationVersion(entry.Name())
		if err != nil {
			return err
		}

		var exists int
		if err := s.db.QueryRow("SELECT COUNT(*) FROM schema_version WHERE version = ?", version).Scan(&exists); err != nil {
			return fmt.Errorf("checking migration %d: %w", version, err)
		}
		if exists > 0 {
			continue
		}

		content, err := migrationsFS.ReadFile("migrations/" + entry.Name())
		if err != nil {
			return fmt.Errorf("reading migration %s: %w", entry.Name(), err)
		}

		tx, err := s.db.Begin()
		if err != nil {
			return fmt.Errorf("beginning transaction for migration %d: %w", version, err)
		}

		if _, err := tx.Exec(string(content)); err != nil {
			tx.Rollback()
			return fmt.Errorf("applying migration %d: %w", version, err)
		}

		if _, err := tx.Exec("INSERT INTO schema_version (version) VALUES (?)", version); err != nil {
			tx.Rollback()
			return fmt.Errorf("recording migration %d: %w", version, err)
		}

		if err := tx.Commit(); err != nil {
			return fmt.Errorf("committing migration %d: %w", version, err)
		}
	}

	return nil
}

func parseMigrationVersion(filename string) (int, error) {
	var version int
	if _, err := fmt.Sscanf(filename, "%d_", &version); err != nil {
		return 0, fmt.Errorf("parsing migration version from %q: %w", filename, err)
	}
	return version, nil
}

// Fingerprint returns the deduplication fingerprint for raw submission
// content: a hex-encoded SHA-256 digest, stable across restarts.
func Fingerprint(code []byte) string {
	sum := sha256.Sum256(code)
	return hex.EncodeToString(sum[:])
}

// --- Submissions ---

// ReserveSubmission returns the submission id for the given fingerprint,
// allocating the next id if the fingerprint is unknown. The check and the
// insert run in one transaction over a single connection, so two concurrent
// first submissions of the same content cannot both observe isNew=true.
func (s *Store) ReserveSubmission(codeHash string) (id int64, isNew bool, err error) {
	tx, err := s.db.Begin()
	if err != nil {
		return 0, false, fmt.Errorf("beginning reserve transaction: %w", err)
	}
	defer tx.Rollback()

	err = tx.QueryRow("SELECT id FROM submissions WHERE code_hash = ?", codeHash).Scan(&id)
	if err == nil {
		return id, false, tx.Commit()
	}
	if err != sql.ErrNoRows {
		return 0, false, fmt.Errorf("looking up fingerprint: %w", err)
	}

	res, err := tx.Exec(
		"INSERT INTO submissions (code_hash, created_at) VALUES (?, ?)",
		codeHash, time.Now().UTC().Format(time.RFC3339),
	)
	if err != nil {
		return 0, false, fmt.Errorf("inserting submission: %w", err)
	}
	id, err = res.LastInsertId()
	if err != nil {
		return 0, false, fmt.Errorf("reading new submission id: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return 0, false, fmt.Errorf("committing reserve: %w", err)
	}
	return id, true, nil
}

// SetSubmissionBlobKey records the blob storage reference for the raw code.
func (s *Store) SetSubmissionBlobKey(id int64, key string) error {
	res, err := s.db.Exec("UPDATE submissions SET blob_key = ? WHERE id = ?", key, id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// GetSubmission returns the submission with the given id.
func (s *Store) GetSubmission(id int64) (Submission, error) {
	var sub Submission
	var createdAt string
	err := s.db.QueryRow(
		"SELECT id, code_hash, blob_key, created_at FROM submissions WHERE id = ?", id,
	).Scan(&sub.ID, &sub.CodeHash, &sub.BlobKey, &createdAt)
	if err == sql.ErrNoRows {
		return Submission{}, ErrNotFound
	}
	if err != nil {
		return Submission{}, err
	}
	t, err := time.Parse(time.RFC3339, createdAt)
	if err != nil {
		return Submission{}, fmt.Errorf("parsing created_at: %w", err)
	}
	sub.CreatedAt = t
	return sub, nil
}

// CountSubmissions returns the number of unique submissions.
func (s *Store) CountSubmissions() (int, error) {
	var count int
	err := s.db.QueryRow("SELECT COUNT(*) FROM submissions").Scan(&count)
	return count, err
}

// --- Jobs ---

// EnqueueJob durably appends a job to the queue. Once it returns nil the job
// is visible to any future consumer, including one in another process.
func (s *Store) EnqueueJob(job Job) error {
	now := time.Now().UTC().Format(time.RFC3339)
	_, err := s.db.Exec(`
		INSERT INTO jobs (id, submission_id, payload, status, enqueued_at, updated_at)
		VALUES (?, ?, ?, 'queued', ?, ?)`,
		job.ID, job.SubmissionID, job.Payload, now, now,
	)
	return err
}

// ClaimNextJob atomically claims the oldest queued job, transitioning it to
// processing. Returns nil when no job is available. Ownership transfers to
// the caller at claim time; no other consumer will observe the job as queued.
func (s *Store) ClaimNextJob() (*Job, error) {
	tx, err := s.db.Begin()
	if err != nil {
		return nil, fmt.Errorf("beginning claim transaction: %w", err)
	}

	var j Job
	var enqueuedAt, updatedAt string
	err = tx.QueryRow(`
		SELECT id, submission_id, payload, status, error, enqueued_at, updated_at
		FROM jobs
		WHERE status = 'queued'
		ORDER BY enqueued_at ASC, rowid ASC
		LIMIT 1`,
	).Scan(&j.ID, &j.SubmissionID, &j.Payload, &j.Status, &j.Error, &enqueuedAt, &updatedAt)
	if err == sql.ErrNoRows {
		tx.Rollback()
		return nil, nil
	}
	if err != nil {
		tx.Rollback()
		return nil, fmt.Errorf("selecting next job: %w", err)
	}

	now := time.Now().UTC().Format(time.RFC3339)
	res, err := tx.Exec(`UPDATE jobs SET status = 'processing', updated_at = ? WHERE id = ? AND status = 'queued'`, now, j.ID)
	if err != nil {
		tx.Rollback()
		return nil, fmt.Errorf("updating job status: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		tx.Rollback()
		return nil, fmt.Errorf("checking updated job rows: %w", err)
	}
	if n != 1 {
		tx.Rollback()
		return nil, nil
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("committing claim: %w", err)
	}

	j.Status = JobProcessing
	if j.EnqueuedAt, err = time.Parse(time.RFC3339, enqueuedAt); err != nil {
		return nil, fmt.Errorf("parsing enqueued_at for job %s: %w", j.ID, err)
	}
	if j.UpdatedAt, err = time.Parse(time.RFC3339, now); err != nil {
		return nil, fmt.Errorf("parsing updated_at for job %s: %w", j.ID, err)
	}
	return &j, nil
}

// CompleteJob marks a job completed.
func (s *Store) CompleteJob(id string) error {
	now := time.Now().UTC().Format(time.RFC3339)
	res, err := s.db.Exec(`UPDATE jobs SET status = 'completed', updated_at = ? WHERE id = ?`, now, id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// FailJob marks a job failed, capturing the diagnostic. Failed jobs are
// terminal; retry, if any, happens through resubmission.
func (s *Store) FailJob(id string, errMsg string) error {
	now := time.Now().UTC().Format(time.RFC3339)
	res, err := s.db.Exec(`UPDATE jobs SET status = 'failed', error = ?, updated_at = ? WHERE id = ?`, errMsg, now, id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// DeleteJob removes a job row. Called once feedback for the submission is
// persisted; the feedback table is the durable record from then on.
func (s *Store) DeleteJob(id string) error {
	_, err := s.db.Exec("DELETE FROM jobs WHERE id = ?", id)
	return err
}

// HasActiveJob reports whether a queued or processing job exists for the
// submission. Used by the gateway to re-enqueue work lost to a consumer crash.
func (s *Store) HasActiveJob(submissionID int64) (bool, error) {
	var count int
	err := s.db.QueryRow(
		"SELECT COUNT(*) FROM jobs WHERE submission_id = ? AND status IN ('queued', 'processing')",
		submissionID,
	).Scan(&count)
	return count > 0, err
}

// GetJob returns the job with the given id.
func (s *Store) GetJob(id string) (Job, error) {
	var j Job
	var enqueuedAt, updatedAt string
	err := s.db.QueryRow(`
		SELECT id, submission_id, payload, status, error, enqueued_at, updated_at
		FROM jobs WHERE id = ?`, id,
	).Scan(&j.ID, &j.SubmissionID, &j.Payload, &j.Status, &j.Error, &enqueuedAt, &updatedAt)
	if err == sql.ErrNoRows {
		return Job{}, ErrNotFound
	}
	if err != nil {
		return Job{}, err
	}
	if j.EnqueuedAt, err = time.Parse(time.RFC3339, enqueuedAt); err != nil {
		return Job{}, fmt.Errorf("parsing enqueued_at: %w", err)
	}
	if j.UpdatedAt, err = time.Parse(time.RFC3339, updatedAt); err != nil {
		return Job{}, fmt.Errorf("parsing updated_at: %w", err)
	}
	return j, nil
}

// --- Feedback ---

// UpsertFeedback writes the review result for a submission. Replays replace
// the prior row, so a job processed twice leaves exactly one record.
func (s *Store) UpsertFeedback(submissionID int64, feedbackJSON, contextKey string) error {
	_, err := s.db.Exec(`
		INSERT INTO feedback (submission_id, feedback_json, context_key) VALUES (?, ?, ?)
		ON CONFLICT(submission_id) DO UPDATE SET
			feedback_json = excluded.feedback_json,
			context_key = excluded.context_key`,
		submissionID, feedbackJSON, contextKey,
	)
	return err
}

// GetFeedback returns the feedback for a submission, or ErrNotFound if the
// review has not been persisted yet.
func (s *Store) GetFeedback(submissionID int64) (FeedbackRecord, error) {
	var rec FeedbackRecord
	err := s.db.QueryRow(
		"SELECT submission_id, feedback_json, context_key FROM feedback WHERE submission_id = ?",
		submissionID,
	).Scan(&rec.SubmissionID, &rec.FeedbackJSON, &rec.ContextKey)
	if err == sql.ErrNoRows {
		return FeedbackRecord{}, ErrNotFound
	}
	if err != nil {
		return FeedbackRecord{}, err
	}
	return rec, nil
}

// CountFeedback returns the number of completed reviews.
func (s *Store) CountFeedback() (int, error) {
	var count int
	err := s.db.QueryRow("SELECT COUNT(*) FROM feedback").Scan(&count)
	return count, err
}
