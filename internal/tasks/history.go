package tasks

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/panelworks/insight/internal/analysis"
)

const historySchema = `
CREATE TABLE IF NOT EXISTS task_history (
	id           TEXT PRIMARY KEY,
	book_id      TEXT NOT NULL,
	kind         TEXT NOT NULL,
	status       TEXT NOT NULL,
	error        TEXT NOT NULL DEFAULT '',
	failed_pages TEXT NOT NULL DEFAULT '[]',
	created_at   TIMESTAMP NOT NULL,
	started_at   TIMESTAMP,
	completed_at TIMESTAMP
);
CREATE INDEX IF NOT EXISTS idx_task_history_book ON task_history(book_id, created_at DESC);
`

// History archives terminal task snapshots in SQLite so past runs survive
// restarts. Live tasks stay in the controller's in-memory registry.
type History struct {
	db *sql.DB
}

// OpenHistory opens (creating if needed) the history database at path.
func OpenHistory(path string) (*History, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening history database: %w", err)
	}
	// modernc.org/sqlite serializes access itself; a single connection
	// avoids SQLITE_BUSY under concurrent workers.
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(historySchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("initializing history schema: %w", err)
	}
	return &History{db: db}, nil
}

// Record upserts a terminal snapshot.
func (h *History) Record(snap Snapshot) error {
	failed, err := json.Marshal(snap.FailedPages)
	if err != nil {
		return fmt.Errorf("encoding failed pages: %w", err)
	}
	var started, completed any
	if !snap.StartedAt.IsZero() {
		started = snap.StartedAt
	}
	if !snap.CompletedAt.IsZero() {
		completed = snap.CompletedAt
	}
	_, err = h.db.Exec(`
		INSERT INTO task_history (id, book_id, kind, status, error, failed_pages, created_at, started_at, completed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			status = excluded.status,
			error = excluded.error,
			failed_pages = excluded.failed_pages,
			started_at = excluded.started_at,
			completed_at = excluded.completed_at`,
		snap.ID, snap.BookID, string(snap.Kind), string(snap.Status),
		snap.Error, string(failed), snap.CreatedAt, started, completed)
	if err != nil {
		return fmt.Errorf("recording task %s: %w", snap.ID, err)
	}
	return nil
}

// ListForBook returns the book's archived tasks, newest first. limit <= 0
// means no limit.
func (h *History) ListForBook(bookID string, limit int) ([]Snapshot, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := h.db.Query(`
		SELECT id, book_id, kind, status, error, failed_pages, created_at, started_at, completed_at
		FROM task_history WHERE book_id = ?
		ORDER BY created_at DESC LIMIT ?`, bookID, limit)
	if err != nil {
		return nil, fmt.Errorf("listing history for book %s: %w", bookID, err)
	}
	defer rows.Close()

	var snaps []Snapshot
	for rows.Next() {
		var snap Snapshot
		var kind, status, failed string
		var started, completed sql.NullTime
		if err := rows.Scan(&snap.ID, &snap.BookID, &kind, &status, &snap.Error,
			&failed, &snap.CreatedAt, &started, &completed); err != nil {
			return nil, fmt.Errorf("scanning history row: %w", err)
		}
		snap.Kind = analysis.Kind(kind)
		snap.Status = Status(status)
		if err := json.Unmarshal([]byte(failed), &snap.FailedPages); err != nil {
			return nil, fmt.Errorf("decoding failed pages of task %s: %w", snap.ID, err)
		}
		if started.Valid {
			snap.StartedAt = started.Time
		}
		if completed.Valid {
			snap.CompletedAt = completed.Time
		}
		snaps = append(snaps, snap)
	}
	return snaps, rows.Err()
}

// Prune deletes archived tasks created before cutoff and returns the count.
func (h *History) Prune(cutoff time.Time) (int64, error) {
	res, err := h.db.Exec(`DELETE FROM task_history WHERE created_at < ?`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("pruning history: %w", err)
	}
	return res.RowsAffected()
}

func (h *History) Close() error {
	return h.db.Close()
}
