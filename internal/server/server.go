// Package server exposes the analysis pipeline over HTTP: task lifecycle
// endpoints, read-side endpoints over the result store, an SSE progress
// stream, and optional cron-scheduled incremental analysis.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/panelworks/insight/internal/analysis"
	"github.com/panelworks/insight/internal/config"
	"github.com/panelworks/insight/internal/home"
	"github.com/panelworks/insight/internal/library"
	"github.com/panelworks/insight/internal/tasks"
)

// Server is the insight HTTP server.
type Server struct {
	httpServer *http.Server
	controller *tasks.Controller
	history    *tasks.History
	library    *library.FSProvider
	homeDir    *home.Dir
	configMgr  *config.Manager
	cron       *cron.Cron
	logger     *slog.Logger

	mu      sync.RWMutex
	running bool
}

// Config holds server configuration.
type Config struct {
	// Host is the address to bind to (default: 127.0.0.1)
	Host string
	// Port is the port to listen on (default: 8080)
	Port string
	// HomeDir is the insight home directory
	HomeDir *home.Dir
	// ConfigManager provides configuration with hot-reload support
	ConfigManager *config.Manager
	// Controller owns the task registry
	Controller *tasks.Controller
	// History is the terminal-task archive (optional)
	History *tasks.History
	// Logger is the structured logger to use
	Logger *slog.Logger
}

// New creates a new Server with the given configuration.
func New(cfg Config) (*Server, error) {
	if cfg.Host == "" {
		cfg.Host = "127.0.0.1"
	}
	if cfg.Port == "" {
		cfg.Port = "8080"
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.HomeDir == nil {
		return nil, errors.New("home directory is required")
	}
	if cfg.Controller == nil {
		return nil, errors.New("task controller is required")
	}

	s := &Server{
		controller: cfg.Controller,
		history:    cfg.History,
		library:    library.NewFSProvider(cfg.HomeDir),
		homeDir:    cfg.HomeDir,
		configMgr:  cfg.ConfigManager,
		logger:     cfg.Logger,
	}

	mux := http.NewServeMux()
	s.registerRoutes(mux)

	s.httpServer = &http.Server{
		Addr:         net.JoinHostPort(cfg.Host, cfg.Port),
		Handler:      mux,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 0, // SSE connections stay open
		IdleTimeout:  120 * time.Second,
	}

	return s, nil
}

// Start starts the server. It blocks until the context is cancelled or an
// error occurs.
func (s *Server) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return errors.New("server already running")
	}
	s.running = true
	s.mu.Unlock()

	if err := s.startIncrementalCron(); err != nil {
		s.setNotRunning()
		return err
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("starting HTTP server", "addr", s.httpServer.Addr)
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		s.logger.Info("shutdown signal received")
	case err := <-errCh:
		if err != nil {
			_ = s.shutdown()
			return fmt.Errorf("HTTP server error: %w", err)
		}
	}

	return s.shutdown()
}

// shutdown drains the HTTP server, stops the cron scheduler, and waits for
// running task workers.
func (s *Server) shutdown() error {
	s.logger.Info("shutting down server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		s.logger.Error("HTTP server shutdown error", "error", err)
	}

	if s.cron != nil {
		<-s.cron.Stop().Done()
	}

	s.controller.Wait()

	s.setNotRunning()
	s.logger.Info("server stopped")
	return nil
}

func (s *Server) setNotRunning() {
	s.mu.Lock()
	s.running = false
	s.mu.Unlock()
}

// IsRunning returns whether the server is currently running.
func (s *Server) IsRunning() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.running
}

// Addr returns the server's listen address.
func (s *Server) Addr() string {
	return s.httpServer.Addr
}

// startIncrementalCron schedules incremental analysis sweeps when
// analysis.incremental_schedule is configured.
func (s *Server) startIncrementalCron() error {
	if s.configMgr == nil {
		return nil
	}
	schedule := s.configMgr.Get().Analysis.IncrementalSchedule
	if schedule == "" {
		return nil
	}

	s.cron = cron.New()
	if _, err := s.cron.AddFunc(schedule, s.runIncrementalSweep); err != nil {
		return fmt.Errorf("invalid incremental schedule %q: %w", schedule, err)
	}
	s.cron.Start()
	s.logger.Info("incremental analysis scheduled", "schedule", schedule)
	return nil
}

// runIncrementalSweep creates and starts an incremental task for every book
// in the library. Books with a task already in flight are skipped.
func (s *Server) runIncrementalSweep() {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	books, err := s.library.ListBooks(ctx)
	if err != nil {
		s.logger.Error("incremental sweep failed to list books", "error", err)
		return
	}

	for _, bookID := range books {
		snap, err := s.controller.Create(tasks.CreateRequest{
			BookID: bookID,
			Kind:   analysis.KindIncremental,
		})
		if err != nil {
			s.logger.Error("incremental sweep failed to create task", "book_id", bookID, "error", err)
			continue
		}
		if err := s.controller.Start(snap.ID); err != nil {
			if errors.Is(err, tasks.ErrBookBusy) {
				s.logger.Info("incremental sweep skipping busy book", "book_id", bookID)
				_ = s.controller.Cancel(snap.ID)
				continue
			}
			s.logger.Error("incremental sweep failed to start task", "task_id", snap.ID, "error", err)
		}
	}
}
