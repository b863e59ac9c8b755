package tasks

import (
	"context"
	"sync"

	"github.com/panelworks/insight/internal/analysis"
)

// Gate is the cooperative pause/cancel token a worker consults at every
// batch and group boundary. Pausing blocks the next Wait; cancelling makes
// Wait return analysis.ErrCancelled, waking a paused worker so it observes
// the cancellation instead of resuming work.
type Gate struct {
	mu        sync.Mutex
	paused    bool
	cancelled bool
	resume    chan struct{} // open while paused, closed on resume/cancel
}

// NewGate creates a gate in the running state.
func NewGate() *Gate {
	return &Gate{}
}

// Wait implements analysis.Gate. It returns immediately while the gate is
// open, blocks while paused, and returns ErrCancelled once cancelled. The
// cancel flag is re-checked after every wake so a cancel that arrived
// during a pause is never missed.
func (g *Gate) Wait(ctx context.Context) error {
	for {
		g.mu.Lock()
		if g.cancelled {
			g.mu.Unlock()
			return analysis.ErrCancelled
		}
		if !g.paused {
			g.mu.Unlock()
			return ctx.Err()
		}
		resume := g.resume
		g.mu.Unlock()

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-resume:
		}
	}
}

// Pause closes the gate at the next checkpoint. In-flight work is not
// interrupted.
func (g *Gate) Pause() {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.paused || g.cancelled {
		return
	}
	g.paused = true
	g.resume = make(chan struct{})
}

// Resume reopens the gate.
func (g *Gate) Resume() {
	g.mu.Lock()
	defer g.mu.Unlock()
	if !g.paused {
		return
	}
	g.paused = false
	close(g.resume)
}

// Cancel marks the gate cancelled and wakes a paused waiter.
func (g *Gate) Cancel() {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.cancelled {
		return
	}
	g.cancelled = true
	if g.paused {
		g.paused = false
		close(g.resume)
	}
}

// Cancelled reports whether Cancel was called.
func (g *Gate) Cancelled() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.cancelled
}
