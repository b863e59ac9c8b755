package server

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/panelworks/insight/internal/tasks"
)

// handleTaskEvents streams task snapshots as server-sent events. The current
// snapshot is sent immediately; subsequent progress and state changes follow
// until the task reaches a terminal state or the client disconnects.
func (s *Server) handleTaskEvents(w http.ResponseWriter, r *http.Request) {
	taskID := r.PathValue("taskID")

	snap, err := s.controller.Get(taskID)
	if err != nil {
		writeTaskError(w, err)
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	// Slow clients drop intermediate updates rather than blocking the worker.
	events := make(chan tasks.Snapshot, 16)
	if err := s.controller.Subscribe(taskID, func(s tasks.Snapshot) {
		select {
		case events <- s:
		default:
		}
	}); err != nil {
		writeTaskError(w, err)
		return
	}

	// Re-read after subscribing: a task that went terminal in between would
	// never notify again.
	if snap, err = s.controller.Get(taskID); err != nil {
		writeTaskError(w, err)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	writeEvent(w, snap)
	flusher.Flush()
	if snap.Status.Terminal() {
		return
	}

	for {
		select {
		case <-r.Context().Done():
			return
		case snap = <-events:
			writeEvent(w, snap)
			flusher.Flush()
			if snap.Status.Terminal() {
				return
			}
		}
	}
}

func writeEvent(w http.ResponseWriter, snap tasks.Snapshot) {
	data, err := json.Marshal(snap)
	if err != nil {
		return
	}
	fmt.Fprintf(w, "event: %s\n", snap.Status)
	fmt.Fprintf(w, "data: %s\n\n", data)
}
