package server

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/panelworks/insight/internal/analysis"
	"github.com/panelworks/insight/internal/tasks"
)

// CreateTaskRequest is the request body for creating a task.
type CreateTaskRequest struct {
	// Kind selects the task: full_book (default), single_chapter,
	// incremental, or reanalyze.
	Kind string `json:"kind,omitempty"`
	// Chapters targets specific chapters (single_chapter).
	Chapters []string `json:"chapters,omitempty"`
	// Pages targets specific pages (reanalyze).
	Pages []int `json:"pages,omitempty"`
	// Force bypasses cached batch results.
	Force bool `json:"force,omitempty"`
	// Start launches the task immediately after creation.
	Start bool `json:"start,omitempty"`
}

func (s *Server) handleCreateTask(w http.ResponseWriter, r *http.Request) {
	bookID := r.PathValue("bookID")

	var req CreateTaskRequest
	if r.Body != nil && r.ContentLength > 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
	}
	kind := analysis.Kind(req.Kind)
	if req.Kind == "" {
		kind = analysis.KindFullBook
	}

	snap, err := s.controller.Create(tasks.CreateRequest{
		BookID:   bookID,
		Kind:     kind,
		Chapters: req.Chapters,
		Pages:    req.Pages,
		Force:    req.Force,
	})
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	if req.Start {
		if err := s.controller.Start(snap.ID); err != nil {
			writeTaskError(w, err)
			return
		}
		snap, _ = s.controller.Get(snap.ID)
	}

	writeJSON(w, http.StatusCreated, snap)
}

func (s *Server) handleListTasks(w http.ResponseWriter, r *http.Request) {
	snaps := s.controller.ListForBook(r.PathValue("bookID"))
	if snaps == nil {
		snaps = []tasks.Snapshot{}
	}
	writeJSON(w, http.StatusOK, snaps)
}

func (s *Server) handleGetTask(w http.ResponseWriter, r *http.Request) {
	snap, err := s.controller.Get(r.PathValue("taskID"))
	if err != nil {
		writeTaskError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

func (s *Server) handleStartTask(w http.ResponseWriter, r *http.Request) {
	s.lifecycleAction(w, r, s.controller.Start)
}

func (s *Server) handlePauseTask(w http.ResponseWriter, r *http.Request) {
	s.lifecycleAction(w, r, s.controller.Pause)
}

func (s *Server) handleResumeTask(w http.ResponseWriter, r *http.Request) {
	s.lifecycleAction(w, r, s.controller.Resume)
}

func (s *Server) handleCancelTask(w http.ResponseWriter, r *http.Request) {
	s.lifecycleAction(w, r, s.controller.Cancel)
}

func (s *Server) lifecycleAction(w http.ResponseWriter, r *http.Request, action func(string) error) {
	taskID := r.PathValue("taskID")
	if err := action(taskID); err != nil {
		writeTaskError(w, err)
		return
	}
	snap, err := s.controller.Get(taskID)
	if err != nil {
		writeTaskError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

// writeTaskError maps controller errors to HTTP statuses: unknown tasks are
// 404, rejected transitions are 409.
func writeTaskError(w http.ResponseWriter, err error) {
	if errors.Is(err, tasks.ErrNotFound) {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	writeError(w, http.StatusConflict, err.Error())
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	if s.history == nil {
		writeError(w, http.StatusServiceUnavailable, "task history not configured")
		return
	}
	snaps, err := s.history.ListForBook(r.PathValue("bookID"), 50)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if snaps == nil {
		snaps = []tasks.Snapshot{}
	}
	writeJSON(w, http.StatusOK, snaps)
}
