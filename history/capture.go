package history

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// Capture states as stored in the captures table.
const (
	StateQueued   = "queued"
	StateRunning  = "running"
	StateDone     = "done"
	StateFailed   = "failed"
	StateCanceled = "canceled"
)

// Capture is one row of capture history.
type Capture struct {
	ID         string
	URL        string
	Mode       string // "full_page", "area", "embed"
	State      string
	MIME       string
	Width      int
	Height     int
	Truncated  bool
	Segments   int
	Bytes      int
	BlobPath   string
	Error      string
	DurationMs int64
	CreatedAt  int64 // milliseconds since epoch
	FinishedAt *int64
}

// Event is one entry of a capture's progress trail.
type Event struct {
	CaptureID string
	State     string
	Segment   int
	Total     int
	Detail    string
	CreatedAt int64
}

// InsertCapture records a new queued capture.
func (s *Store) InsertCapture(ctx context.Context, id, url, mode string) error {
	_, err := s.DB.ExecContext(ctx,
		`INSERT INTO captures (id, url, mode, state, created_at) VALUES (?,?,?,?,?)`,
		id, url, mode, StateQueued, time.Now().UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("history: insert capture: %w", err)
	}
	return nil
}

// MarkRunning transitions a capture to the running state.
func (s *Store) MarkRunning(ctx context.Context, id string) error {
	_, err := s.DB.ExecContext(ctx,
		`UPDATE captures SET state=? WHERE id=?`, StateRunning, id)
	if err != nil {
		return fmt.Errorf("history: mark running: %w", err)
	}
	return nil
}

// FinishCapture records a completed capture: the image blob is written
// to the blob directory and the row gets the result metadata.
func (s *Store) FinishCapture(ctx context.Context, id string, image []byte, mime string, width, height, segments int, truncated bool, elapsed time.Duration) error {
	path, err := s.writeBlob(id, mime, image)
	if err != nil {
		return err
	}
	now := time.Now().UnixMilli()
	_, err = s.DB.ExecContext(ctx, `
		UPDATE captures
		SET state=?, mime=?, width=?, height=?, truncated=?, segments=?,
		    bytes=?, blob_path=?, duration_ms=?, finished_at=?
		WHERE id=?`,
		StateDone, mime, width, height, truncated, segments,
		len(image), path, elapsed.Milliseconds(), now, id,
	)
	if err != nil {
		return fmt.Errorf("history: finish capture: %w", err)
	}
	return nil
}

// FailCapture records a terminal failure or cancellation.
func (s *Store) FailCapture(ctx context.Context, id, state, errMsg string, elapsed time.Duration) error {
	now := time.Now().UnixMilli()
	_, err := s.DB.ExecContext(ctx,
		`UPDATE captures SET state=?, error=?, duration_ms=?, finished_at=? WHERE id=?`,
		state, errMsg, elapsed.Milliseconds(), now, id,
	)
	if err != nil {
		return fmt.Errorf("history: fail capture: %w", err)
	}
	return nil
}

// GetCapture retrieves a capture by ID. Returns nil, nil when not found.
func (s *Store) GetCapture(ctx context.Context, id string) (*Capture, error) {
	row := s.DB.QueryRowContext(ctx, `
		SELECT id, url, mode, state, mime, width, height, truncated, segments,
		       bytes, blob_path, error, duration_ms, created_at, finished_at
		FROM captures WHERE id = ?`, id)
	return scanCapture(row)
}

// ListCaptures returns the most recent captures, newest first.
func (s *Store) ListCaptures(ctx context.Context, limit int) ([]*Capture, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.DB.QueryContext(ctx, `
		SELECT id, url, mode, state, mime, width, height, truncated, segments,
		       bytes, blob_path, error, duration_ms, created_at, finished_at
		FROM captures ORDER BY created_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var caps []*Capture
	for rows.Next() {
		c, err := scanCaptureRows(rows)
		if err != nil {
			return nil, err
		}
		caps = append(caps, c)
	}
	return caps, rows.Err()
}

// AppendEvent adds one entry to a capture's progress trail.
func (s *Store) AppendEvent(ctx context.Context, ev Event) error {
	if ev.CreatedAt == 0 {
		ev.CreatedAt = time.Now().UnixMilli()
	}
	_, err := s.DB.ExecContext(ctx,
		`INSERT INTO capture_events (capture_id, state, segment, total, detail, created_at)
		 VALUES (?,?,?,?,?,?)`,
		ev.CaptureID, ev.State, ev.Segment, ev.Total, ev.Detail, ev.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("history: append event: %w", err)
	}
	return nil
}

// ListEvents returns a capture's progress trail in insertion order.
func (s *Store) ListEvents(ctx context.Context, captureID string) ([]Event, error) {
	rows, err := s.DB.QueryContext(ctx,
		`SELECT capture_id, state, segment, total, detail, created_at
		 FROM capture_events WHERE capture_id = ? ORDER BY id ASC`, captureID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var evs []Event
	for rows.Next() {
		var ev Event
		if err := rows.Scan(&ev.CaptureID, &ev.State, &ev.Segment, &ev.Total, &ev.Detail, &ev.CreatedAt); err != nil {
			return nil, err
		}
		evs = append(evs, ev)
	}
	return evs, rows.Err()
}

// ReadImage returns the stored image blob for a capture.
func (s *Store) ReadImage(ctx context.Context, id string) ([]byte, string, error) {
	c, err := s.GetCapture(ctx, id)
	if err != nil {
		return nil, "", err
	}
	if c == nil || c.BlobPath == "" {
		return nil, "", fmt.Errorf("history: no image for capture %s", id)
	}
	data, err := os.ReadFile(c.BlobPath)
	if err != nil {
		return nil, "", fmt.Errorf("history: read blob: %w", err)
	}
	return data, c.MIME, nil
}

// Prune deletes captures older than the retention window, blobs
// included. Returns the number of deleted rows.
func (s *Store) Prune(ctx context.Context, retention time.Duration) (int, error) {
	cutoff := time.Now().Add(-retention).UnixMilli()

	rows, err := s.DB.QueryContext(ctx,
		`SELECT blob_path FROM captures WHERE created_at < ? AND blob_path != ''`, cutoff)
	if err != nil {
		return 0, err
	}
	var paths []string
	for rows.Next() {
		var p string
		if err := rows.Scan(&p); err != nil {
			rows.Close()
			return 0, err
		}
		paths = append(paths, p)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return 0, err
	}

	res, err := s.DB.ExecContext(ctx, `DELETE FROM captures WHERE created_at < ?`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("history: prune: %w", err)
	}
	n, _ := res.RowsAffected()

	for _, p := range paths {
		os.Remove(p)
	}
	return int(n), nil
}

func (s *Store) writeBlob(id, mime string, data []byte) (string, error) {
	ext := ".png"
	if mime == "image/jpeg" {
		ext = ".jpg"
	}
	path := filepath.Join(s.blobDir, id+ext)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", fmt.Errorf("history: write blob: %w", err)
	}
	return path, nil
}

func scanCapture(row *sql.Row) (*Capture, error) {
	var c Capture
	var truncated int
	err := row.Scan(
		&c.ID, &c.URL, &c.Mode, &c.State, &c.MIME, &c.Width, &c.Height,
		&truncated, &c.Segments, &c.Bytes, &c.BlobPath, &c.Error,
		&c.DurationMs, &c.CreatedAt, &c.FinishedAt,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("scan capture: %w", err)
	}
	c.Truncated = truncated != 0
	return &c, nil
}

func scanCaptureRows(rows *sql.Rows) (*Capture, error) {
	var c Capture
	var truncated int
	err := rows.Scan(
		&c.ID, &c.URL, &c.Mode, &c.State, &c.MIME, &c.Width, &c.Height,
		&truncated, &c.Segments, &c.Bytes, &c.BlobPath, &c.Error,
		&c.DurationMs, &c.CreatedAt, &c.FinishedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("scan capture: %w", err)
	}
	c.Truncated = truncated != 0
	return &c, nil
}
