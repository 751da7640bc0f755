// Package progress implements the synthetic upload progress signal. The
// signal advances on a timer independently of the real network call and is
// only driven to completion by an explicit Finalize.
package progress

import (
	"context"
	"errors"
	"math"
	"math/rand"
	"sync"
	"time"
)

// DefaultTick is the interval between signal advances.
const DefaultTick = 120 * time.Millisecond

// The tick advance is a random increment in [minIncrement, maxIncrement),
// and the signal self-caps at holdPercent until finalized.
const (
	minIncrement = 0.5
	maxIncrement = 3.5
	holdPercent  = 95
)

// ErrNotRunning is returned by Finalize when Start was never called.
var ErrNotRunning = errors.New("progress animator is not running")

// State models the animator lifecycle: Idle -> Running -> Completing ->
// Completed, with Stop branching any live state to Stopped. A stopped
// animator can be restarted, which zeroes the signal.
type State int

const (
	Idle State = iota
	Running
	Completing
	Stopped
	Completed
)

// Animator owns one attempt's progress signal and its ticker goroutine.
// Stop is idempotent and callable from any non-Idle state; the last value is
// kept until the owner resets or discards the animator.
type Animator struct {
	mu        sync.Mutex
	state     State
	percent   float64
	startedAt time.Time
	tick      time.Duration
	stopCh    chan struct{}
}

// New builds an Animator. A non-positive tick falls back to DefaultTick.
func New(tick time.Duration) *Animator {
	if tick <= 0 {
		tick = DefaultTick
	}
	return &Animator{tick: tick}
}

// Start resets the signal to zero, records the start timestamp and begins
// periodic ticks. Calling Start on an already running animator is a no-op.
func (a *Animator) Start() {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.state == Running {
		return
	}
	a.percent = 0
	a.startedAt = time.Now()
	a.state = Running
	a.stopCh = make(chan struct{})
	go a.run(a.stopCh)
}

func (a *Animator) run(stop <-chan struct{}) {
	ticker := time.NewTicker(a.tick)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			a.advance()
		}
	}
}

func (a *Animator) advance() {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.state != Running {
		return
	}
	if a.percent < holdPercent {
		increment := rand.Float64()*(maxIncrement-minIncrement) + minIncrement
		a.percent = math.Min(holdPercent, a.percent+increment)
	}
}

// Stop halts ticking without resetting the signal value.
func (a *Animator) Stop() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.stopLocked()
	if a.state == Running || a.state == Completing {
		a.state = Stopped
	}
}

func (a *Animator) stopLocked() {
	if a.stopCh != nil {
		close(a.stopCh)
		a.stopCh = nil
	}
}

// Finalize waits out the remainder of the minimum perceived duration since
// Start, then snaps the signal to 100 and marks the animator Completed. It
// returns early with the context error if ctx is cancelled during the wait.
func (a *Animator) Finalize(ctx context.Context, floor time.Duration) error {
	a.mu.Lock()
	if a.state == Idle || a.state == Stopped {
		a.mu.Unlock()
		return ErrNotRunning
	}
	a.state = Completing
	remaining := floor - time.Since(a.startedAt)
	a.mu.Unlock()

	if remaining > 0 {
		timer := time.NewTimer(remaining)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-timer.C:
		}
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	a.stopLocked()
	a.percent = 100
	a.state = Completed
	return nil
}

// Percent returns the current signal value in [0,100].
func (a *Animator) Percent() float64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.percent
}

// State returns the current lifecycle state.
func (a *Animator) State() State {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.state
}

// Elapsed reports the time since Start, or zero when never started.
func (a *Animator) Elapsed() time.Duration {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.startedAt.IsZero() {
		return 0
	}
	return time.Since(a.startedAt)
}
