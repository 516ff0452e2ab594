package repository

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/paulofpaiva/realtime-trading-simulator/pkg/models"
)

const defaultSaveTimeout = 2 * time.Second

// AsyncMirror keeps only the newest pending snapshot per instrument and writes them
// from its own goroutine, so a slow or unreachable Redis never holds up the caller.
type AsyncMirror struct {
	mirror  SnapshotMirror
	logger  *zap.Logger
	timeout time.Duration

	mu      sync.Mutex
	pending map[string]models.Snapshot

	wake chan struct{}
	done chan struct{}
}

func NewAsyncMirror(mirror SnapshotMirror, logger *zap.Logger, timeout time.Duration) *AsyncMirror {
	if timeout <= 0 {
		timeout = defaultSaveTimeout
	}
	return &AsyncMirror{
		mirror:  mirror,
		logger:  logger,
		timeout: timeout,
		pending: make(map[string]models.Snapshot),
		wake:    make(chan struct{}, 1),
		done:    make(chan struct{}),
	}
}

// Save never blocks; a newer snapshot replaces a pending one for the same instrument
func (a *AsyncMirror) Save(snap models.Snapshot) {
	a.mu.Lock()
	if prev, ok := a.pending[snap.Instrument]; !ok || !snap.AsOf.Before(prev.AsOf) {
		a.pending[snap.Instrument] = snap
	}
	a.mu.Unlock()

	select {
	case a.wake <- struct{}{}:
	default:
	}
}

// Pending is the number of instruments waiting to be written
func (a *AsyncMirror) Pending() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.pending)
}

// Run writes pending snapshots until ctx is cancelled, then flushes once more
func (a *AsyncMirror) Run(ctx context.Context) {
	defer close(a.done)
	for {
		select {
		case <-ctx.Done():
			a.flush()
			return
		case <-a.wake:
			a.flush()
		}
	}
}

// Wait blocks until Run has returned
func (a *AsyncMirror) Wait() {
	<-a.done
}

func (a *AsyncMirror) flush() {
	a.mu.Lock()
	if len(a.pending) == 0 {
		a.mu.Unlock()
		return
	}
	batch := a.pending
	a.pending = make(map[string]models.Snapshot, len(batch))
	a.mu.Unlock()

	// One deadline per flush bounds a Redis outage to a single timeout
	ctx, cancel := context.WithTimeout(context.Background(), a.timeout)
	defer cancel()

	failed := 0
	var lastErr error
	for _, snap := range batch {
		if err := a.mirror.Save(ctx, snap); err != nil {
			failed++
			lastErr = err
		}
	}
	if failed > 0 {
		a.logger.Warn("Failed to mirror snapshots", zap.Int("failed", failed), zap.Int("batch", len(batch)), zap.Error(lastErr))
	}
}
