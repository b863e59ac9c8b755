// Package tasks owns analysis task records and their lifecycle: creation,
// start, cooperative pause/resume/cancel, progress reporting, and the
// terminal-task history.
package tasks

import (
	"time"

	"github.com/panelworks/insight/internal/analysis"
)

// Status is a task's lifecycle state.
type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusPaused    Status = "paused"
	StatusCancelled Status = "cancelled"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// Terminal reports whether the status has no outgoing transitions.
func (s Status) Terminal() bool {
	switch s {
	case StatusCancelled, StatusCompleted, StatusFailed:
		return true
	}
	return false
}

// Task is one analysis task record. Fields are mutated only by the
// controller and its worker; external readers get a Snapshot.
type Task struct {
	id        string
	bookID    string
	kind      analysis.Kind
	chapters  []string
	pages     []int
	force     bool
	status    Status
	progress  analysis.Progress
	failed    []int
	errMsg    string
	createdAt time.Time
	startedAt time.Time
	doneAt    time.Time
	gate      *Gate
}

// Snapshot is a point-in-time copy of a task, safe to hand to callers.
type Snapshot struct {
	ID          string            `json:"id"`
	BookID      string            `json:"book_id"`
	Kind        analysis.Kind     `json:"kind"`
	Status      Status            `json:"status"`
	Progress    analysis.Progress `json:"progress"`
	Chapters    []string          `json:"chapters,omitempty"`
	Pages       []int             `json:"pages,omitempty"`
	Force       bool              `json:"force,omitempty"`
	FailedPages []int             `json:"failed_pages,omitempty"`
	Error       string            `json:"error,omitempty"`
	CreatedAt   time.Time         `json:"created_at"`
	StartedAt   time.Time         `json:"started_at,omitzero"`
	CompletedAt time.Time         `json:"completed_at,omitzero"`
}

// snapshot copies the task. Caller holds the controller lock.
func (t *Task) snapshot() Snapshot {
	return Snapshot{
		ID:          t.id,
		BookID:      t.bookID,
		Kind:        t.kind,
		Status:      t.status,
		Progress:    t.progress,
		Chapters:    append([]string(nil), t.chapters...),
		Pages:       append([]int(nil), t.pages...),
		Force:       t.force,
		FailedPages: append([]int(nil), t.failed...),
		Error:       t.errMsg,
		CreatedAt:   t.createdAt,
		StartedAt:   t.startedAt,
		CompletedAt: t.doneAt,
	}
}
