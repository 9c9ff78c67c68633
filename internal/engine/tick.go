// Package engine provides the segregation model and the tick loop driving it.
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/talgya/econ-schelling/internal/metrics"
)

// pausePoll is how often a paused engine checks for resumption.
const pausePoll = 100 * time.Millisecond

// StopReason says why Run returned.
type StopReason string

const (
	StopConverged StopReason = "converged" // Every live agent was happy in the same tick
	StopTickCap   StopReason = "tick_cap"  // MaxTicks reached without convergence
	StopCanceled  StopReason = "canceled"  // Context canceled
	StopError     StopReason = "error"     // OnTick returned an error
)

// EngineConfig controls pacing.
type EngineConfig struct {
	Interval time.Duration // Base tick interval; 0 runs as fast as possible
	Speed    float64       // Multiplier: 1.0 = one tick per Interval, 0 = paused
	MaxTicks uint64        // Stop after this many ticks; 0 = unbounded
}

// Engine drives a Simulation forward and serializes access to it, so readers
// such as the HTTP API can observe the model while it runs.
type Engine struct {
	// OnTick is called after every tick with that tick's snapshot, outside the
	// model lock. An error stops the run.
	OnTick func(snap metrics.Snapshot) error

	mu       sync.RWMutex
	sim      *Simulation
	interval time.Duration
	speed    float64
	maxTicks uint64
	running  bool
}

// NewEngine wraps sim with the given pacing.
func NewEngine(sim *Simulation, cfg EngineConfig) *Engine {
	return &Engine{
		sim:      sim,
		interval: cfg.Interval,
		speed:    cfg.Speed,
		maxTicks: cfg.MaxTicks,
	}
}

// Run steps the simulation until it converges, hits the tick cap, the
// context is canceled, or OnTick fails.
func (e *Engine) Run(ctx context.Context) (StopReason, error) {
	e.setRunning(true)
	defer e.setRunning(false)

	startTick := e.CurrentTick()
	slog.Info("simulation engine started", "tick", startTick, "speed", e.Speed(), "max_ticks", e.maxTicks)

	for {
		if ctx.Err() != nil {
			slog.Info("simulation engine stopped", "tick", e.CurrentTick(), "reason", StopCanceled)
			return StopCanceled, nil
		}

		speed := e.Speed()
		if speed <= 0 {
			// Paused; check again shortly.
			sleepCtx(ctx, pausePoll)
			continue
		}

		start := time.Now()
		snap, converged := e.step()

		if e.OnTick != nil {
			if err := e.OnTick(snap); err != nil {
				slog.Error("tick callback failed", "tick", snap.Tick, "error", err)
				return StopError, fmt.Errorf("tick %d: %w", snap.Tick, err)
			}
		}

		if converged {
			slog.Info("simulation engine stopped", "tick", snap.Tick, "reason", StopConverged, "happy", snap.Happy)
			return StopConverged, nil
		}
		if e.maxTicks > 0 && snap.Tick-startTick >= e.maxTicks {
			slog.Warn("simulation engine stopped before convergence",
				"tick", snap.Tick,
				"reason", StopTickCap,
				"happy", snap.Happy,
				"total", snap.Total,
			)
			return StopTickCap, nil
		}

		// Sleep for the remainder of the tick interval, adjusted for speed.
		if e.interval > 0 {
			target := time.Duration(float64(e.interval) / speed)
			if elapsed := time.Since(start); elapsed < target {
				sleepCtx(ctx, target-elapsed)
			}
		}
	}
}

// step advances the model one tick under the write lock.
func (e *Engine) step() (metrics.Snapshot, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.sim.Step()
	snap, _ := e.sim.Metrics().Latest()
	return snap, !e.sim.Running()
}

// Step advances one tick outside Run and returns its snapshot.
func (e *Engine) Step() metrics.Snapshot {
	snap, _ := e.step()
	return snap
}

// View runs fn with read access to the simulation.
func (e *Engine) View(fn func(sim *Simulation)) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	fn(e.sim)
}

// CurrentTick returns the most recently processed tick.
func (e *Engine) CurrentTick() uint64 {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.sim.Tick()
}

// Speed returns the pacing multiplier.
func (e *Engine) Speed() float64 {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.speed
}

// SetSpeed changes the pacing multiplier; 0 pauses.
func (e *Engine) SetSpeed(speed float64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.speed = speed
}

// Running reports whether Run is active.
func (e *Engine) Running() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.running
}

func (e *Engine) setRunning(v bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.running = v
}

// sleepCtx waits for d or until ctx is done. It reports whether the full
// duration elapsed.
func sleepCtx(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}
