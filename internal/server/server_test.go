package server

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/panelworks/insight/internal/analysis"
	"github.com/panelworks/insight/internal/home"
	"github.com/panelworks/insight/internal/store"
	"github.com/panelworks/insight/internal/tasks"
)

// gateLoopRunner consults the gate until released, like the real pipeline.
type gateLoopRunner struct {
	release chan struct{}
	result  *analysis.Result
}

func newGateLoopRunner() *gateLoopRunner {
	return &gateLoopRunner{release: make(chan struct{}), result: &analysis.Result{}}
}

func (r *gateLoopRunner) Run(ctx context.Context, task tasks.Snapshot, gate analysis.Gate, onProgress func(analysis.Progress)) (*analysis.Result, error) {
	for {
		if err := gate.Wait(ctx); err != nil {
			return r.result, err
		}
		select {
		case <-r.release:
			return r.result, nil
		case <-time.After(5 * time.Millisecond):
		}
	}
}

type testEnv struct {
	srv        *httptest.Server
	homeDir    *home.Dir
	controller *tasks.Controller
	runner     *gateLoopRunner
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	homeDir, err := home.New(t.TempDir())
	if err != nil {
		t.Fatalf("home.New: %v", err)
	}
	if err := homeDir.EnsureExists(); err != nil {
		t.Fatalf("EnsureExists: %v", err)
	}

	history, err := tasks.OpenHistory(homeDir.HistoryDBPath())
	if err != nil {
		t.Fatalf("OpenHistory: %v", err)
	}
	t.Cleanup(func() { history.Close() })

	runner := newGateLoopRunner()
	controller := tasks.NewController(runner, history, nil)

	s, err := New(Config{
		HomeDir:    homeDir,
		Controller: controller,
		History:    history,
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	srv := httptest.NewServer(s.httpServer.Handler)
	t.Cleanup(srv.Close)
	t.Cleanup(controller.Wait)

	return &testEnv{srv: srv, homeDir: homeDir, controller: controller, runner: runner}
}

func (e *testEnv) addBook(t *testing.T, bookID string, pages int) {
	t.Helper()
	dir := filepath.Join(e.homeDir.BookPath(bookID), "chapter_001")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatal(err)
	}
	for i := 1; i <= pages; i++ {
		path := filepath.Join(dir, fmt.Sprintf("page_%03d.png", i))
		if err := os.WriteFile(path, []byte("png"), 0o644); err != nil {
			t.Fatal(err)
		}
	}
}

func (e *testEnv) post(t *testing.T, path string, body any) *http.Response {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatal(err)
		}
	}
	resp, err := http.Post(e.srv.URL+path, "application/json", &buf)
	if err != nil {
		t.Fatalf("POST %s: %v", path, err)
	}
	return resp
}

func (e *testEnv) get(t *testing.T, path string) *http.Response {
	t.Helper()
	resp, err := http.Get(e.srv.URL + path)
	if err != nil {
		t.Fatalf("GET %s: %v", path, err)
	}
	return resp
}

func decodeJSON[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	defer resp.Body.Close()
	var v T
	if err := json.NewDecoder(resp.Body).Decode(&v); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
	return v
}

func TestHealthEndpoint(t *testing.T) {
	env := newTestEnv(t)

	resp := env.get(t, "/health")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want %d", resp.StatusCode, http.StatusOK)
	}
	health := decodeJSON[HealthResponse](t, resp)
	if health.Status != "ok" {
		t.Errorf("health.Status = %q, want %q", health.Status, "ok")
	}
}

func TestTaskLifecycleOverHTTP(t *testing.T) {
	env := newTestEnv(t)

	resp := env.post(t, "/api/books/book1/tasks", CreateTaskRequest{Kind: "full_book"})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create status = %d, want %d", resp.StatusCode, http.StatusCreated)
	}
	snap := decodeJSON[tasks.Snapshot](t, resp)
	if snap.Status != tasks.StatusPending {
		t.Fatalf("created status = %q, want %q", snap.Status, tasks.StatusPending)
	}

	base := "/api/tasks/" + snap.ID

	resp = env.post(t, base+"/start", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("start status = %d", resp.StatusCode)
	}
	if got := decodeJSON[tasks.Snapshot](t, resp); got.Status != tasks.StatusRunning {
		t.Fatalf("status after start = %q, want %q", got.Status, tasks.StatusRunning)
	}

	resp = env.post(t, base+"/pause", nil)
	if got := decodeJSON[tasks.Snapshot](t, resp); got.Status != tasks.StatusPaused {
		t.Fatalf("status after pause = %q, want %q", got.Status, tasks.StatusPaused)
	}

	resp = env.post(t, base+"/resume", nil)
	if got := decodeJSON[tasks.Snapshot](t, resp); got.Status != tasks.StatusRunning {
		t.Fatalf("status after resume = %q, want %q", got.Status, tasks.StatusRunning)
	}

	resp = env.post(t, base+"/cancel", nil)
	if got := decodeJSON[tasks.Snapshot](t, resp); got.Status != tasks.StatusCancelled {
		t.Fatalf("status after cancel = %q, want %q", got.Status, tasks.StatusCancelled)
	}

	// Cancelled is terminal: further lifecycle actions conflict.
	resp = env.post(t, base+"/resume", nil)
	if resp.StatusCode != http.StatusConflict {
		t.Errorf("resume after cancel status = %d, want %d", resp.StatusCode, http.StatusConflict)
	}
	resp.Body.Close()

	env.controller.Wait()
	resp = env.get(t, base)
	if got := decodeJSON[tasks.Snapshot](t, resp); got.Status != tasks.StatusCancelled {
		t.Fatalf("final status = %q, want %q", got.Status, tasks.StatusCancelled)
	}
}

func TestCreateTaskValidation(t *testing.T) {
	env := newTestEnv(t)

	resp := env.post(t, "/api/books/book1/tasks", CreateTaskRequest{Kind: "bogus"})
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("bogus kind status = %d, want %d", resp.StatusCode, http.StatusBadRequest)
	}
	resp.Body.Close()

	resp = env.post(t, "/api/books/book1/tasks", CreateTaskRequest{Kind: "single_chapter"})
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("chapterless status = %d, want %d", resp.StatusCode, http.StatusBadRequest)
	}
	resp.Body.Close()
}

func TestUnknownTaskReturns404(t *testing.T) {
	env := newTestEnv(t)

	for _, path := range []string{"/api/tasks/nope", "/api/tasks/nope/events"} {
		resp := env.get(t, path)
		if resp.StatusCode != http.StatusNotFound {
			t.Errorf("GET %s status = %d, want %d", path, resp.StatusCode, http.StatusNotFound)
		}
		resp.Body.Close()
	}
	resp := env.post(t, "/api/tasks/nope/start", nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("start status = %d, want %d", resp.StatusCode, http.StatusNotFound)
	}
	resp.Body.Close()
}

func TestListTasksForBook(t *testing.T) {
	env := newTestEnv(t)

	env.post(t, "/api/books/book1/tasks", nil).Body.Close()
	env.post(t, "/api/books/book1/tasks", nil).Body.Close()
	env.post(t, "/api/books/book2/tasks", nil).Body.Close()

	resp := env.get(t, "/api/books/book1/tasks")
	if got := decodeJSON[[]tasks.Snapshot](t, resp); len(got) != 2 {
		t.Errorf("book1 has %d tasks, want 2", len(got))
	}
	resp = env.get(t, "/api/books/empty/tasks")
	if got := decodeJSON[[]tasks.Snapshot](t, resp); len(got) != 0 {
		t.Errorf("empty book has %d tasks, want 0", len(got))
	}
}

func TestListBooks(t *testing.T) {
	env := newTestEnv(t)
	env.addBook(t, "alpha", 2)
	env.addBook(t, "beta", 3)

	resp := env.get(t, "/api/books")
	books := decodeJSON[[]string](t, resp)
	if len(books) != 2 {
		t.Fatalf("got %d books, want 2", len(books))
	}
}

func TestReadSideEndpoints(t *testing.T) {
	env := newTestEnv(t)

	st := store.New(env.homeDir.AnalysisPath("book1"))
	batch := analysis.BatchResult{
		Range:   analysis.PageRange{Start: 1, End: 5},
		Summary: "第一批剧情",
	}
	if err := st.Put(store.BatchKey(1, 5), batch); err != nil {
		t.Fatal(err)
	}
	seg := analysis.SegmentResult{ID: "tier1_group_000", Tier: 1, Range: analysis.PageRange{Start: 1, End: 5}, Synopsis: "段落总结"}
	if err := st.Put(store.SegmentPrefix+seg.ID, seg); err != nil {
		t.Fatal(err)
	}
	ch := analysis.SegmentResult{ID: "ch1", ChapterID: "ch1", Range: analysis.PageRange{Start: 1, End: 5}, Synopsis: "章节总结"}
	if err := st.Put(store.ChapterKey("ch1"), ch); err != nil {
		t.Fatal(err)
	}
	overview := analysis.BookOverview{BookID: "book1", TotalPages: 5, Synopsis: "全书概览", Source: "segments"}
	if err := st.Put(store.OverviewKey, overview); err != nil {
		t.Fatal(err)
	}
	page := analysis.PageRecord{PageNumber: 3, Summary: "第3页摘要", BatchRange: analysis.PageRange{Start: 1, End: 5}}
	if err := st.Put(store.PageKey(3), page); err != nil {
		t.Fatal(err)
	}

	resp := env.get(t, "/api/books/book1/overview")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("overview status = %d", resp.StatusCode)
	}
	if got := decodeJSON[analysis.BookOverview](t, resp); got.Synopsis != "全书概览" {
		t.Errorf("overview synopsis = %q", got.Synopsis)
	}

	resp = env.get(t, "/api/books/book1/batches")
	if got := decodeJSON[[]analysis.BatchResult](t, resp); len(got) != 1 || got[0].Summary != "第一批剧情" {
		t.Errorf("batches = %+v", got)
	}

	resp = env.get(t, "/api/books/book1/pages")
	if got := decodeJSON[[]analysis.PageRecord](t, resp); len(got) != 1 || got[0].PageNumber != 3 {
		t.Errorf("pages = %+v", got)
	}

	resp = env.get(t, "/api/books/book1/segments")
	segs := decodeJSON[SegmentsResponse](t, resp)
	if len(segs.Segments) != 1 || segs.Segments[0].Synopsis != "段落总结" {
		t.Errorf("segments = %+v", segs.Segments)
	}
	if len(segs.Chapters) != 1 || segs.Chapters[0].ChapterID != "ch1" {
		t.Errorf("chapters = %+v", segs.Chapters)
	}

	resp = env.get(t, "/api/books/unanalyzed/overview")
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("missing overview status = %d, want %d", resp.StatusCode, http.StatusNotFound)
	}
	resp.Body.Close()

	resp = env.get(t, "/api/books/unanalyzed/batches")
	if got := decodeJSON[[]analysis.BatchResult](t, resp); len(got) != 0 {
		t.Errorf("unanalyzed batches = %+v", got)
	}
}

func TestHistoryEndpoint(t *testing.T) {
	env := newTestEnv(t)

	snap := decodeJSON[tasks.Snapshot](t, env.post(t, "/api/books/book1/tasks", CreateTaskRequest{Start: true}))
	close(env.runner.release)
	env.controller.Wait()

	resp := env.get(t, "/api/books/book1/history")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("history status = %d", resp.StatusCode)
	}
	archived := decodeJSON[[]tasks.Snapshot](t, resp)
	if len(archived) != 1 {
		t.Fatalf("got %d archived tasks, want 1", len(archived))
	}
	if archived[0].ID != snap.ID || archived[0].Status != tasks.StatusCompleted {
		t.Errorf("archived = %+v", archived[0])
	}
}

func TestTaskEventsStream(t *testing.T) {
	env := newTestEnv(t)

	snap := decodeJSON[tasks.Snapshot](t, env.post(t, "/api/books/book1/tasks", CreateTaskRequest{Start: true}))
	close(env.runner.release)
	env.controller.Wait()

	// The task is already terminal: the stream sends one snapshot and closes.
	resp := env.get(t, "/api/tasks/"+snap.ID+"/events")
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("events status = %d", resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); ct != "text/event-stream" {
		t.Errorf("Content-Type = %q", ct)
	}

	var eventLine, dataLine string
	scanner := bufio.NewScanner(resp.Body)
	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case strings.HasPrefix(line, "event: "):
			eventLine = strings.TrimPrefix(line, "event: ")
		case strings.HasPrefix(line, "data: "):
			dataLine = strings.TrimPrefix(line, "data: ")
		}
	}
	if eventLine != string(tasks.StatusCompleted) {
		t.Errorf("event = %q, want %q", eventLine, tasks.StatusCompleted)
	}
	var streamed tasks.Snapshot
	if err := json.Unmarshal([]byte(dataLine), &streamed); err != nil {
		t.Fatalf("decoding streamed snapshot: %v", err)
	}
	if streamed.ID != snap.ID || streamed.Status != tasks.StatusCompleted {
		t.Errorf("streamed = %+v", streamed)
	}
}
