// Package history is the capture history store: one SQLite row per
// capture session with its lifecycle trail, plus the composed image
// blobs on disk under a data directory keyed by capture id.
package history

import (
	"database/sql"
	"fmt"
	"os"
)

// Store wraps the history database and the blob directory.
type Store struct {
	DB      *sql.DB
	blobDir string
}

// NewStore creates a Store from an already-opened database connection.
// The blob directory is created if it does not exist.
func NewStore(db *sql.DB, blobDir string) (*Store, error) {
	if err := os.MkdirAll(blobDir, 0o755); err != nil {
		return nil, fmt.Errorf("history: create blob dir: %w", err)
	}
	return &Store{DB: db, blobDir: blobDir}, nil
}
