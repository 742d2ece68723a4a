package radio

import (
	"context"
	"sync"
	"time"
)

// SystemTimer implements Timer using the monotonic system clock.
type SystemTimer struct {
	mu    sync.RWMutex
	start time.Time
}

// NewSystemTimer creates a new SystemTimer.
func NewSystemTimer() *SystemTimer {
	return &SystemTimer{
		start: time.Now(),
	}
}

// Reset implements Timer.
func (t *SystemTimer) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.start = time.Now()
}

// Elapsed implements Timer.
func (t *SystemTimer) Elapsed() time.Duration {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return time.Since(t.start)
}

// SuspendUntil implements Timer.
func (t *SystemTimer) SuspendUntil(ctx context.Context, deadline time.Duration) error {
	return t.SuspendFor(ctx, deadline-t.Elapsed())
}

// SuspendFor implements Timer.
func (t *SystemTimer) SuspendFor(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
