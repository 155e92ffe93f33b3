package ingest

import (
	"context"
	"sync"
	"time"

	"github.com/JonMunkholm/checkin/internal/core"
)

// Limiter defaults.
const (
	DefaultMaxConcurrentRuns = 2
	DefaultMaxWait           = 30 * time.Second
)

// RunLimiter bounds how many files are ingested at once. Each run already
// fans out to its own worker pool, so the limit is on files, not rows.
type RunLimiter struct {
	slots   chan struct{}
	maxWait time.Duration

	mu      sync.Mutex
	running map[string]struct{}
}

// NewRunLimiter allows maxConcurrent runs; callers wait up to maxWait for a slot.
func NewRunLimiter(maxConcurrent int, maxWait time.Duration) *RunLimiter {
	if maxConcurrent <= 0 {
		maxConcurrent = DefaultMaxConcurrentRuns
	}
	if maxWait <= 0 {
		maxWait = DefaultMaxWait
	}
	return &RunLimiter{
		slots:   make(chan struct{}, maxConcurrent),
		maxWait: maxWait,
		running: make(map[string]struct{}),
	}
}

// Acquire takes a slot for fileID. It fails with core.ErrTooManyRuns when
// no slot frees up within the wait, or when fileID is already running in
// this process. Release must be called after a successful Acquire.
func (l *RunLimiter) Acquire(ctx context.Context, fileID string) error {
	if !l.track(fileID) {
		return core.ErrTooManyRuns
	}

	waitCtx, cancel := context.WithTimeout(ctx, l.maxWait)
	defer cancel()

	select {
	case l.slots <- struct{}{}:
		return nil
	case <-waitCtx.Done():
		l.untrack(fileID)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return core.ErrTooManyRuns
	}
}

// Release frees the slot held for fileID.
func (l *RunLimiter) Release(fileID string) {
	l.untrack(fileID)
	<-l.slots
}

func (l *RunLimiter) track(fileID string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, busy := l.running[fileID]; busy {
		return false
	}
	l.running[fileID] = struct{}{}
	return true
}

func (l *RunLimiter) untrack(fileID string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.running, fileID)
}

// Active returns the number of runs holding a slot.
func (l *RunLimiter) Active() int {
	return len(l.slots)
}

// LimiterStatus is a snapshot of a RunLimiter.
type LimiterStatus struct {
	Active        int `json:"active"`
	Available     int `json:"available"`
	MaxConcurrent int `json:"max_concurrent"`
}

// Status returns the limiter state for the admin API.
func (l *RunLimiter) Status() LimiterStatus {
	active := len(l.slots)
	return LimiterStatus{
		Active:        active,
		Available:     cap(l.slots) - active,
		MaxConcurrent: cap(l.slots),
	}
}

// WaitForDrain blocks until no run holds a slot or ctx is done. Used on
// shutdown so in-flight runs can commit their last batch.
func (l *RunLimiter) WaitForDrain(ctx context.Context) error {
	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()

	for {
		if l.Active() == 0 {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}
