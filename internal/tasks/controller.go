package tasks

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/panelworks/insight/internal/analysis"
)

// Policy rejections surfaced at the API boundary.
var (
	ErrNotFound       = errors.New("task not found")
	ErrAlreadyRunning = errors.New("task is already running")
	ErrBookBusy       = errors.New("another task is running for this book")
	ErrNotRunning     = errors.New("task is not running")
	ErrNotPaused      = errors.New("task is not paused")
	ErrFinished       = errors.New("task already finished")
)

// Runner executes a task body. The production runner drives the analysis
// pipeline; tests substitute their own.
type Runner interface {
	Run(ctx context.Context, task Snapshot, gate analysis.Gate, onProgress func(analysis.Progress)) (*analysis.Result, error)
}

// RunnerFunc adapts a function to the Runner interface.
type RunnerFunc func(ctx context.Context, task Snapshot, gate analysis.Gate, onProgress func(analysis.Progress)) (*analysis.Result, error)

func (f RunnerFunc) Run(ctx context.Context, task Snapshot, gate analysis.Gate, onProgress func(analysis.Progress)) (*analysis.Result, error) {
	return f(ctx, task, gate, onProgress)
}

// Controller is the task registry: it owns every task record and is the
// only writer of task state. One instance is created at process start and
// passed to the route layer.
type Controller struct {
	runner  Runner
	history *History // optional
	logger  *slog.Logger

	mu          sync.Mutex
	tasks       map[string]*Task
	byBook      map[string][]string
	subscribers map[string][]func(Snapshot)

	wg sync.WaitGroup
}

// NewController creates a controller. history may be nil to skip archiving.
func NewController(runner Runner, history *History, logger *slog.Logger) *Controller {
	if logger == nil {
		logger = slog.Default()
	}
	return &Controller{
		runner:      runner,
		history:     history,
		logger:      logger.With("component", "tasks"),
		tasks:       make(map[string]*Task),
		byBook:      make(map[string][]string),
		subscribers: make(map[string][]func(Snapshot)),
	}
}

// CreateRequest describes a task to allocate.
type CreateRequest struct {
	BookID   string
	Kind     analysis.Kind
	Chapters []string
	Pages    []int
	Force    bool
}

// Create allocates a Pending task and returns its snapshot.
func (c *Controller) Create(req CreateRequest) (Snapshot, error) {
	if req.BookID == "" {
		return Snapshot{}, fmt.Errorf("book ID is required")
	}
	switch req.Kind {
	case analysis.KindFullBook, analysis.KindIncremental:
	case analysis.KindSingleChapter:
		if len(req.Chapters) == 0 {
			return Snapshot{}, fmt.Errorf("chapter tasks need at least one chapter")
		}
	case analysis.KindReanalyze:
		if len(req.Pages) == 0 {
			return Snapshot{}, fmt.Errorf("re-analysis tasks need at least one page")
		}
	default:
		return Snapshot{}, fmt.Errorf("unknown task kind %q", req.Kind)
	}

	task := &Task{
		id:        uuid.New().String(),
		bookID:    req.BookID,
		kind:      req.Kind,
		chapters:  req.Chapters,
		pages:     req.Pages,
		force:     req.Force,
		status:    StatusPending,
		createdAt: time.Now().UTC(),
		gate:      NewGate(),
	}

	c.mu.Lock()
	c.tasks[task.id] = task
	c.byBook[task.bookID] = append(c.byBook[task.bookID], task.id)
	snap := task.snapshot()
	c.mu.Unlock()

	c.logger.Info("task created", "task_id", task.id, "book_id", task.bookID, "kind", task.kind)
	return snap, nil
}

// Start launches the task's worker. At most one task per book may be
// Running; the check is a scan under the registry lock, best-effort by
// design.
func (c *Controller) Start(taskID string) error {
	c.mu.Lock()
	task, ok := c.tasks[taskID]
	if !ok {
		c.mu.Unlock()
		return ErrNotFound
	}
	if task.status == StatusRunning {
		c.mu.Unlock()
		return ErrAlreadyRunning
	}
	if task.status.Terminal() || task.status == StatusPaused {
		c.mu.Unlock()
		return fmt.Errorf("cannot start task in state %q", task.status)
	}
	for _, otherID := range c.byBook[task.bookID] {
		if other := c.tasks[otherID]; other != nil && other.id != taskID &&
			(other.status == StatusRunning || other.status == StatusPaused) {
			c.mu.Unlock()
			return fmt.Errorf("%w: %s", ErrBookBusy, otherID)
		}
	}

	task.status = StatusRunning
	task.startedAt = time.Now().UTC()
	snap := task.snapshot()
	c.mu.Unlock()

	c.wg.Add(1)
	go c.runWorker(task, snap)

	c.logger.Info("task started", "task_id", taskID, "book_id", snap.BookID)
	return nil
}

// Pause closes the task's gate; the worker parks at its next checkpoint.
func (c *Controller) Pause(taskID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	task, ok := c.tasks[taskID]
	if !ok {
		return ErrNotFound
	}
	if task.status != StatusRunning {
		return ErrNotRunning
	}
	task.status = StatusPaused
	task.gate.Pause()
	c.logger.Info("task paused", "task_id", taskID)
	return nil
}

// Resume reopens a paused task's gate.
func (c *Controller) Resume(taskID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	task, ok := c.tasks[taskID]
	if !ok {
		return ErrNotFound
	}
	if task.status != StatusPaused {
		return ErrNotPaused
	}
	task.status = StatusRunning
	task.gate.Resume()
	c.logger.Info("task resumed", "task_id", taskID)
	return nil
}

// Cancel stops a Pending, Running, or Paused task. A paused worker is woken
// so it observes the cancellation instead of resuming; already-persisted
// results are left intact.
func (c *Controller) Cancel(taskID string) error {
	c.mu.Lock()
	task, ok := c.tasks[taskID]
	if !ok {
		c.mu.Unlock()
		return ErrNotFound
	}
	if task.status.Terminal() {
		c.mu.Unlock()
		return ErrFinished
	}

	wasPending := task.status == StatusPending
	task.status = StatusCancelled
	task.doneAt = time.Now().UTC()
	task.gate.Cancel()
	snap := task.snapshot()
	c.mu.Unlock()

	if wasPending {
		c.archive(snap)
	}
	c.notify(snap)
	c.logger.Info("task cancelled", "task_id", taskID)
	return nil
}

// Get returns the task's current snapshot.
func (c *Controller) Get(taskID string) (Snapshot, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	task, ok := c.tasks[taskID]
	if !ok {
		return Snapshot{}, ErrNotFound
	}
	return task.snapshot(), nil
}

// ListForBook returns the book's tasks, newest first.
func (c *Controller) ListForBook(bookID string) []Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	var snaps []Snapshot
	for _, id := range c.byBook[bookID] {
		if task := c.tasks[id]; task != nil {
			snaps = append(snaps, task.snapshot())
		}
	}
	sort.Slice(snaps, func(i, j int) bool { return snaps[i].CreatedAt.After(snaps[j].CreatedAt) })
	return snaps
}

// Subscribe registers a progress callback for the task. Delivery is
// fire-and-forget: a panicking callback is logged and does not affect task
// state.
func (c *Controller) Subscribe(taskID string, fn func(Snapshot)) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.tasks[taskID]; !ok {
		return ErrNotFound
	}
	c.subscribers[taskID] = append(c.subscribers[taskID], fn)
	return nil
}

// Wait blocks until every launched worker has returned. Used by shutdown
// and tests.
func (c *Controller) Wait() {
	c.wg.Wait()
}

// runWorker drives the task body and records the terminal state.
func (c *Controller) runWorker(task *Task, snap Snapshot) {
	defer c.wg.Done()

	defer func() {
		if r := recover(); r != nil {
			c.logger.Error("task worker panicked", "task_id", task.id, "panic", r)
			c.finish(task, StatusFailed, fmt.Sprintf("worker panic: %v", r), nil)
		}
	}()

	onProgress := func(p analysis.Progress) {
		c.mu.Lock()
		task.progress = p
		progressSnap := task.snapshot()
		c.mu.Unlock()
		c.notify(progressSnap)
	}

	// Workers run to completion or cancellation; the gate, not the
	// context, is the stop mechanism so in-flight calls are never cut off.
	res, err := c.runner.Run(context.Background(), snap, task.gate, onProgress)

	var failed []int
	if res != nil {
		failed = res.FailedPages
	}

	switch {
	case errors.Is(err, analysis.ErrCancelled):
		c.finish(task, StatusCancelled, "", failed)
	case err != nil:
		c.logger.Error("task failed", "task_id", task.id, "error", err)
		c.finish(task, StatusFailed, err.Error(), failed)
	case task.gate.Cancelled():
		// Cancel arrived after the last checkpoint.
		c.finish(task, StatusCancelled, "", failed)
	default:
		c.finish(task, StatusCompleted, "", failed)
	}
}

func (c *Controller) finish(task *Task, status Status, errMsg string, failed []int) {
	c.mu.Lock()
	// Cancel may have already recorded the terminal state.
	if !task.status.Terminal() {
		task.status = status
		task.doneAt = time.Now().UTC()
	}
	task.errMsg = errMsg
	task.failed = failed
	snap := task.snapshot()
	c.mu.Unlock()

	c.archive(snap)
	c.notify(snap)
	c.logger.Info("task finished", "task_id", snap.ID, "status", snap.Status, "failed_pages", len(snap.FailedPages))
}

func (c *Controller) archive(snap Snapshot) {
	if c.history == nil {
		return
	}
	if err := c.history.Record(snap); err != nil {
		c.logger.Error("failed to archive task", "task_id", snap.ID, "error", err)
	}
}

func (c *Controller) notify(snap Snapshot) {
	c.mu.Lock()
	subs := append(([]func(Snapshot))(nil), c.subscribers[snap.ID]...)
	c.mu.Unlock()

	for _, fn := range subs {
		func() {
			defer func() {
				if r := recover(); r != nil {
					c.logger.Warn("progress callback panicked", "task_id", snap.ID, "panic", r)
				}
			}()
			fn(snap)
		}()
	}
}
