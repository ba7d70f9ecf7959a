// Package capq implements the capture job queue backed by SQLite.
//
// Rows are invisible to the consumer for a configurable duration after
// being claimed. If the worker finishes a capture it acks (deletes) the
// row. If the worker crashes or exceeds the timeout the row reappears
// automatically and is retried, up to MaxAttempts; past that the job is
// marked dead and kept for inspection instead of being redelivered.
//
// The engine serializes captures, so the queue runs a single consumer —
// one claim in flight at a time. The queue is pure SQLite: no external
// broker.
//
// Expected schema (created automatically by EnsureTable):
//
//	CREATE TABLE IF NOT EXISTS capture_jobs (
//	    id          TEXT PRIMARY KEY,
//	    payload     BLOB,
//	    visible_at  INTEGER NOT NULL DEFAULT 0,  -- milliseconds since epoch
//	    created_at  INTEGER NOT NULL,             -- milliseconds since epoch
//	    attempts    INTEGER NOT NULL DEFAULT 0,
//	    dead        INTEGER NOT NULL DEFAULT 0
//	);
package capq

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"time"
)

// Job is a row in the queue.
type Job struct {
	ID        string
	Payload   []byte
	VisibleAt time.Time
	CreatedAt time.Time
	Attempts  int
}

// Options configures queue behaviour.
type Options struct {
	// Visibility is how long a claimed job stays invisible. Should exceed
	// the capture total timeout so a live capture is never redelivered.
	// Default: 2m.
	Visibility time.Duration
	// PollInterval is the delay between claim attempts in the Run loop.
	// Default: 1s.
	PollInterval time.Duration
	// MaxAttempts limits how many times a job can be delivered before
	// being marked dead. 0 means unlimited. Default: 3.
	MaxAttempts int
	// Logger overrides the default slog logger.
	Logger *slog.Logger
}

func (o *Options) defaults() {
	if o.Visibility <= 0 {
		o.Visibility = 2 * time.Minute
	}
	if o.PollInterval <= 0 {
		o.PollInterval = time.Second
	}
	if o.MaxAttempts == 0 {
		o.MaxAttempts = 3
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
}

// Q is the queue handle.
type Q struct {
	db   *sql.DB
	opts Options
}

// New creates a queue handle. Call EnsureTable once at startup, then
// Publish and Claim (or Run) as needed.
func New(db *sql.DB, opts Options) *Q {
	opts.defaults()
	return &Q{db: db, opts: opts}
}

// EnsureTable creates the capture_jobs table and index if they don't exist.
func (q *Q) EnsureTable(ctx context.Context) error {
	_, err := q.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS capture_jobs (
			id          TEXT PRIMARY KEY,
			payload     BLOB,
			visible_at  INTEGER NOT NULL DEFAULT 0,
			created_at  INTEGER NOT NULL,
			attempts    INTEGER NOT NULL DEFAULT 0,
			dead        INTEGER NOT NULL DEFAULT 0
		);
		CREATE INDEX IF NOT EXISTS idx_capture_jobs_visible ON capture_jobs (dead, visible_at);
	`)
	return err
}

// Publish inserts a job that is immediately visible.
func (q *Q) Publish(ctx context.Context, id string, payload []byte) error {
	now := time.Now().UnixMilli()
	_, err := q.db.ExecContext(ctx,
		`INSERT INTO capture_jobs (id, payload, visible_at, created_at) VALUES (?,?,?,?)`,
		id, payload, now, now,
	)
	return err
}

// Claim atomically picks the oldest visible job, marks it invisible for
// the configured visibility duration, and returns it. Returns nil, nil
// if no job is available.
func (q *Q) Claim(ctx context.Context) (*Job, error) {
	now := time.Now()
	hideUntil := now.Add(q.opts.Visibility).UnixMilli()

	row := q.db.QueryRowContext(ctx, `
		UPDATE capture_jobs
		SET visible_at = ?, attempts = attempts + 1
		WHERE id = (
			SELECT id FROM capture_jobs
			WHERE dead = 0 AND visible_at <= ?
			ORDER BY visible_at ASC
			LIMIT 1
		)
		RETURNING id, payload, visible_at, created_at, attempts`,
		hideUntil, now.UnixMilli(),
	)

	var j Job
	var visAt, creAt int64
	err := row.Scan(&j.ID, &j.Payload, &visAt, &creAt, &j.Attempts)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	j.VisibleAt = time.UnixMilli(visAt)
	j.CreatedAt = time.UnixMilli(creAt)
	return &j, nil
}

// Ack deletes a successfully processed job.
func (q *Q) Ack(ctx context.Context, id string) error {
	_, err := q.db.ExecContext(ctx,
		`DELETE FROM capture_jobs WHERE id = ?`, id,
	)
	return err
}

// Nack makes a job immediately visible again so it can be retried.
func (q *Q) Nack(ctx context.Context, id string) error {
	_, err := q.db.ExecContext(ctx,
		`UPDATE capture_jobs SET visible_at = 0 WHERE id = ?`, id,
	)
	return err
}

// Extend pushes the visibility timeout forward for a job whose capture
// needs more time (heartbeat pattern).
func (q *Q) Extend(ctx context.Context, id string, extra time.Duration) error {
	hideUntil := time.Now().Add(extra).UnixMilli()
	_, err := q.db.ExecContext(ctx,
		`UPDATE capture_jobs SET visible_at = ? WHERE id = ?`,
		hideUntil, id,
	)
	return err
}

// Bury marks a job dead. Dead jobs are never claimed again but stay in
// the table for inspection until Purge.
func (q *Q) Bury(ctx context.Context, id string) error {
	_, err := q.db.ExecContext(ctx,
		`UPDATE capture_jobs SET dead = 1 WHERE id = ?`, id,
	)
	return err
}

// Purge deletes all jobs, dead ones included.
func (q *Q) Purge(ctx context.Context) error {
	_, err := q.db.ExecContext(ctx, `DELETE FROM capture_jobs`)
	return err
}

// Len returns the number of live jobs (visible + invisible, not dead).
func (q *Q) Len(ctx context.Context) (int, error) {
	var n int
	err := q.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM capture_jobs WHERE dead = 0`,
	).Scan(&n)
	return n, err
}

// DeadLen returns the number of dead jobs.
func (q *Q) DeadLen(ctx context.Context) (int, error) {
	var n int
	err := q.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM capture_jobs WHERE dead = 1`,
	).Scan(&n)
	return n, err
}

// Handler processes a claimed job. Return nil to ack, non-nil to nack.
type Handler func(ctx context.Context, job *Job) error

// Run polls for visible jobs and calls handler for each one, serially.
// It blocks until ctx is cancelled.
func (q *Q) Run(ctx context.Context, handler Handler) {
	log := q.opts.Logger
	log.Info("capq: consumer started", "visibility", q.opts.Visibility, "poll", q.opts.PollInterval)

	ticker := time.NewTicker(q.opts.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Info("capq: consumer stopped")
			return
		case <-ticker.C:
			q.poll(ctx, handler, log)
		}
	}
}

func (q *Q) poll(ctx context.Context, handler Handler, log *slog.Logger) {
	for {
		job, err := q.Claim(ctx)
		if err != nil {
			if ctx.Err() == nil {
				log.Warn("capq: claim failed", "error", err)
			}
			return
		}
		if job == nil {
			return // nothing visible
		}

		// Bury if max attempts exceeded.
		if q.opts.MaxAttempts > 0 && job.Attempts > q.opts.MaxAttempts {
			log.Warn("capq: job exceeded max attempts, burying",
				"id", job.ID, "attempts", job.Attempts)
			_ = q.Bury(ctx, job.ID)
			continue
		}

		if err := handler(ctx, job); err != nil {
			log.Warn("capq: handler failed, nacking", "id", job.ID, "error", err)
			_ = q.Nack(ctx, job.ID)
		} else {
			_ = q.Ack(ctx, job.ID)
		}
	}
}
