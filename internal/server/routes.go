package server

import (
	"encoding/json"
	"net/http"
)

// registerRoutes sets up all HTTP routes.
func (s *Server) registerRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /health", s.handleHealth)

	mux.HandleFunc("GET /api/books", s.handleListBooks)
	mux.HandleFunc("POST /api/books/{bookID}/tasks", s.handleCreateTask)
	mux.HandleFunc("GET /api/books/{bookID}/tasks", s.handleListTasks)
	mux.HandleFunc("GET /api/books/{bookID}/history", s.handleHistory)
	mux.HandleFunc("GET /api/books/{bookID}/overview", s.handleOverview)
	mux.HandleFunc("GET /api/books/{bookID}/batches", s.handleBatches)
	mux.HandleFunc("GET /api/books/{bookID}/pages", s.handlePages)
	mux.HandleFunc("GET /api/books/{bookID}/segments", s.handleSegments)

	mux.HandleFunc("GET /api/tasks/{taskID}", s.handleGetTask)
	mux.HandleFunc("POST /api/tasks/{taskID}/start", s.handleStartTask)
	mux.HandleFunc("POST /api/tasks/{taskID}/pause", s.handlePauseTask)
	mux.HandleFunc("POST /api/tasks/{taskID}/resume", s.handleResumeTask)
	mux.HandleFunc("POST /api/tasks/{taskID}/cancel", s.handleCancelTask)
	mux.HandleFunc("GET /api/tasks/{taskID}/events", s.handleTaskEvents)
}

// HealthResponse is the response for the health check endpoint.
type HealthResponse struct {
	Status string `json:"status"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, HealthResponse{Status: "ok"})
}

// ErrorResponse is the JSON error body.
type ErrorResponse struct {
	Error string `json:"error"`
}

// writeJSON writes a JSON response.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, ErrorResponse{Error: msg})
}
