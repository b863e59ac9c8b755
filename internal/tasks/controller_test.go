package tasks

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/panelworks/insight/internal/analysis"
)

// checkpointRunner imitates a pipeline worker: it consults the gate in a
// loop until released or stopped.
type checkpointRunner struct {
	started chan struct{} // receives once per Run invocation
	release chan struct{} // close to let Run return successfully
	result  *analysis.Result
	err     error
}

func newCheckpointRunner() *checkpointRunner {
	return &checkpointRunner{
		started: make(chan struct{}, 8),
		release: make(chan struct{}),
		result:  &analysis.Result{},
	}
}

func (r *checkpointRunner) Run(ctx context.Context, task Snapshot, gate analysis.Gate, onProgress func(analysis.Progress)) (*analysis.Result, error) {
	r.started <- struct{}{}
	for {
		if err := gate.Wait(ctx); err != nil {
			return r.result, err
		}
		select {
		case <-r.release:
			return r.result, r.err
		case <-time.After(5 * time.Millisecond):
		}
	}
}

func waitStarted(t *testing.T, r *checkpointRunner) {
	t.Helper()
	select {
	case <-r.started:
	case <-time.After(2 * time.Second):
		t.Fatal("runner was never invoked")
	}
}

func mustCreate(t *testing.T, c *Controller, bookID string) Snapshot {
	t.Helper()
	snap, err := c.Create(CreateRequest{BookID: bookID, Kind: analysis.KindFullBook})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	return snap
}

func TestCreateValidation(t *testing.T) {
	c := NewController(newCheckpointRunner(), nil, nil)

	if _, err := c.Create(CreateRequest{Kind: analysis.KindFullBook}); err == nil {
		t.Error("expected error for missing book ID")
	}
	if _, err := c.Create(CreateRequest{BookID: "b", Kind: analysis.KindSingleChapter}); err == nil {
		t.Error("expected error for chapter task without chapters")
	}
	if _, err := c.Create(CreateRequest{BookID: "b", Kind: analysis.KindReanalyze}); err == nil {
		t.Error("expected error for re-analysis task without pages")
	}
	if _, err := c.Create(CreateRequest{BookID: "b", Kind: "bogus"}); err == nil {
		t.Error("expected error for unknown kind")
	}

	snap, err := c.Create(CreateRequest{BookID: "b", Kind: analysis.KindSingleChapter, Chapters: []string{"ch1"}})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if snap.Status != StatusPending {
		t.Errorf("new task status = %q, want %q", snap.Status, StatusPending)
	}
	if snap.ID == "" {
		t.Error("new task has empty ID")
	}
}

func TestTaskRunsToCompletion(t *testing.T) {
	runner := newCheckpointRunner()
	runner.result = &analysis.Result{FailedPages: []int{7, 8}, Batches: 4}
	c := NewController(runner, nil, nil)

	snap := mustCreate(t, c, "book1")
	if err := c.Start(snap.ID); err != nil {
		t.Fatalf("Start: %v", err)
	}
	waitStarted(t, runner)

	got, err := c.Get(snap.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Status != StatusRunning {
		t.Fatalf("status = %q, want %q", got.Status, StatusRunning)
	}
	if got.StartedAt.IsZero() {
		t.Error("StartedAt not set on running task")
	}

	close(runner.release)
	c.Wait()

	got, _ = c.Get(snap.ID)
	if got.Status != StatusCompleted {
		t.Fatalf("status = %q, want %q", got.Status, StatusCompleted)
	}
	if len(got.FailedPages) != 2 || got.FailedPages[0] != 7 {
		t.Errorf("FailedPages = %v, want [7 8]", got.FailedPages)
	}
	if got.CompletedAt.IsZero() {
		t.Error("CompletedAt not set on completed task")
	}
}

func TestPauseThenCancelEndsCancelled(t *testing.T) {
	runner := newCheckpointRunner()
	c := NewController(runner, nil, nil)

	snap := mustCreate(t, c, "book1")
	if err := c.Start(snap.ID); err != nil {
		t.Fatalf("Start: %v", err)
	}
	waitStarted(t, runner)

	if err := c.Pause(snap.ID); err != nil {
		t.Fatalf("Pause: %v", err)
	}
	got, _ := c.Get(snap.ID)
	if got.Status != StatusPaused {
		t.Fatalf("status after pause = %q, want %q", got.Status, StatusPaused)
	}

	if err := c.Cancel(snap.ID); err != nil {
		t.Fatalf("Cancel: %v", err)
	}
	got, _ = c.Get(snap.ID)
	if got.Status != StatusCancelled {
		t.Fatalf("status after cancel = %q, want %q", got.Status, StatusCancelled)
	}

	// The paused worker must wake into the cancellation, never back to
	// running.
	c.Wait()
	got, _ = c.Get(snap.ID)
	if got.Status != StatusCancelled {
		t.Fatalf("final status = %q, want %q", got.Status, StatusCancelled)
	}

	if err := c.Resume(snap.ID); !errors.Is(err, ErrNotPaused) {
		t.Errorf("Resume after cancel = %v, want ErrNotPaused", err)
	}
}

func TestPauseResumeRoundTrip(t *testing.T) {
	runner := newCheckpointRunner()
	c := NewController(runner, nil, nil)

	snap := mustCreate(t, c, "book1")
	if err := c.Start(snap.ID); err != nil {
		t.Fatalf("Start: %v", err)
	}
	waitStarted(t, runner)

	if err := c.Pause(snap.ID); err != nil {
		t.Fatalf("Pause: %v", err)
	}
	if err := c.Pause(snap.ID); !errors.Is(err, ErrNotRunning) {
		t.Errorf("second Pause = %v, want ErrNotRunning", err)
	}
	if err := c.Resume(snap.ID); err != nil {
		t.Fatalf("Resume: %v", err)
	}
	got, _ := c.Get(snap.ID)
	if got.Status != StatusRunning {
		t.Fatalf("status after resume = %q, want %q", got.Status, StatusRunning)
	}

	close(runner.release)
	c.Wait()
	got, _ = c.Get(snap.ID)
	if got.Status != StatusCompleted {
		t.Fatalf("final status = %q, want %q", got.Status, StatusCompleted)
	}
}

func TestOneActiveTaskPerBook(t *testing.T) {
	runner := newCheckpointRunner()
	c := NewController(runner, nil, nil)

	first := mustCreate(t, c, "book1")
	second := mustCreate(t, c, "book1")
	other := mustCreate(t, c, "book2")

	if err := c.Start(first.ID); err != nil {
		t.Fatalf("Start first: %v", err)
	}
	waitStarted(t, runner)

	if err := c.Start(second.ID); !errors.Is(err, ErrBookBusy) {
		t.Errorf("Start second for same book = %v, want ErrBookBusy", err)
	}
	// A different book is unaffected.
	if err := c.Start(other.ID); err != nil {
		t.Fatalf("Start other book: %v", err)
	}
	waitStarted(t, runner)

	close(runner.release)
	c.Wait()

	if err := c.Start(second.ID); err != nil {
		t.Fatalf("Start second after first finished: %v", err)
	}
}

func TestRunnerErrorMarksFailed(t *testing.T) {
	runner := newCheckpointRunner()
	runner.err = errors.New("vision provider unreachable")
	c := NewController(runner, nil, nil)

	snap := mustCreate(t, c, "book1")
	if err := c.Start(snap.ID); err != nil {
		t.Fatalf("Start: %v", err)
	}
	waitStarted(t, runner)
	close(runner.release)
	c.Wait()

	got, _ := c.Get(snap.ID)
	if got.Status != StatusFailed {
		t.Fatalf("status = %q, want %q", got.Status, StatusFailed)
	}
	if got.Error != "vision provider unreachable" {
		t.Errorf("Error = %q", got.Error)
	}
}

func TestCancelPendingTask(t *testing.T) {
	c := NewController(newCheckpointRunner(), nil, nil)

	snap := mustCreate(t, c, "book1")
	if err := c.Cancel(snap.ID); err != nil {
		t.Fatalf("Cancel: %v", err)
	}
	got, _ := c.Get(snap.ID)
	if got.Status != StatusCancelled {
		t.Fatalf("status = %q, want %q", got.Status, StatusCancelled)
	}
	if err := c.Start(snap.ID); err == nil {
		t.Error("expected error starting a cancelled task")
	}
	if err := c.Cancel(snap.ID); !errors.Is(err, ErrFinished) {
		t.Errorf("second Cancel = %v, want ErrFinished", err)
	}
}

func TestUnknownTaskIsNotFound(t *testing.T) {
	c := NewController(newCheckpointRunner(), nil, nil)
	for name, fn := range map[string]func(string) error{
		"Start":  c.Start,
		"Pause":  c.Pause,
		"Resume": c.Resume,
		"Cancel": c.Cancel,
	} {
		if err := fn("nope"); !errors.Is(err, ErrNotFound) {
			t.Errorf("%s(unknown) = %v, want ErrNotFound", name, err)
		}
	}
	if _, err := c.Get("nope"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Get(unknown) = %v, want ErrNotFound", err)
	}
}

func TestListForBookNewestFirst(t *testing.T) {
	c := NewController(newCheckpointRunner(), nil, nil)

	first := mustCreate(t, c, "book1")
	time.Sleep(2 * time.Millisecond)
	second := mustCreate(t, c, "book1")
	mustCreate(t, c, "book2")

	snaps := c.ListForBook("book1")
	if len(snaps) != 2 {
		t.Fatalf("got %d tasks, want 2", len(snaps))
	}
	if snaps[0].ID != second.ID || snaps[1].ID != first.ID {
		t.Errorf("order = [%s %s], want newest first", snaps[0].ID, snaps[1].ID)
	}
	if got := c.ListForBook("unknown"); len(got) != 0 {
		t.Errorf("ListForBook(unknown) returned %d tasks", len(got))
	}
}

func TestSubscribeDeliversTerminalSnapshot(t *testing.T) {
	runner := newCheckpointRunner()
	c := NewController(runner, nil, nil)

	snap := mustCreate(t, c, "book1")

	var mu sync.Mutex
	var seen []Status
	if err := c.Subscribe(snap.ID, func(s Snapshot) {
		mu.Lock()
		seen = append(seen, s.Status)
		mu.Unlock()
	}); err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	// A panicking subscriber must not take the worker down.
	if err := c.Subscribe(snap.ID, func(Snapshot) { panic("boom") }); err != nil {
		t.Fatalf("Subscribe: %v", err)
	}

	if err := c.Start(snap.ID); err != nil {
		t.Fatalf("Start: %v", err)
	}
	waitStarted(t, runner)
	close(runner.release)
	c.Wait()

	mu.Lock()
	defer mu.Unlock()
	if len(seen) == 0 {
		t.Fatal("subscriber received no snapshots")
	}
	if last := seen[len(seen)-1]; last != StatusCompleted {
		t.Errorf("last delivered status = %q, want %q", last, StatusCompleted)
	}

	got, _ := c.Get(snap.ID)
	if got.Status != StatusCompleted {
		t.Fatalf("task status = %q, want %q", got.Status, StatusCompleted)
	}
}

func TestPanickingRunnerMarksFailed(t *testing.T) {
	runner := RunnerFunc(func(context.Context, Snapshot, analysis.Gate, func(analysis.Progress)) (*analysis.Result, error) {
		panic("exploded")
	})
	c := NewController(runner, nil, nil)

	snap := mustCreate(t, c, "book1")
	if err := c.Start(snap.ID); err != nil {
		t.Fatalf("Start: %v", err)
	}
	c.Wait()

	got, _ := c.Get(snap.ID)
	if got.Status != StatusFailed {
		t.Fatalf("status = %q, want %q", got.Status, StatusFailed)
	}
}
