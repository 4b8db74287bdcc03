// Package budget keeps long-running background work polite. The pairwise
// similarity scan is O(n²) over the active set; the throttler watches system
// CPU and makes the scan yield while the host is busy with foreground work.
package budget

import (
	"context"
	"sync"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"

	"github.com/vthunder/scribe/internal/logging"
)

// Throttler samples total CPU usage and gates scan progress on it.
type Throttler struct {
	pollInterval  time.Duration // CPU sample window (default 2s)
	busyThreshold float64       // CPU % above which scans pause (default 75%)
	backoff       time.Duration // how long Wait sleeps while busy

	mu       sync.Mutex
	busy     bool
	running  bool
	stopChan chan struct{}
}

// NewThrottler creates a throttler with defaults.
func NewThrottler() *Throttler {
	return &Throttler{
		pollInterval:  2 * time.Second,
		busyThreshold: 75.0,
		backoff:       250 * time.Millisecond,
	}
}

// SetThreshold overrides the busy CPU percentage.
func (t *Throttler) SetThreshold(pct float64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.busyThreshold = pct
}

// Start begins sampling in the background. Safe to call twice.
func (t *Throttler) Start() {
	t.mu.Lock()
	if t.running {
		t.mu.Unlock()
		return
	}
	t.running = true
	t.stopChan = make(chan struct{})
	t.mu.Unlock()

	go t.watchLoop()
	logging.Debug("budget", "throttler started (poll=%v, busy>%.0f%%)", t.pollInterval, t.busyThreshold)
}

// Stop halts sampling; Wait becomes a no-op.
func (t *Throttler) Stop() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.running {
		close(t.stopChan)
		t.running = false
		t.busy = false
	}
}

func (t *Throttler) watchLoop() {
	for {
		select {
		case <-t.stopChan:
			return
		default:
		}

		// cpu.Percent blocks for the sample window.
		percents, err := cpu.Percent(t.pollInterval, false)
		if err != nil || len(percents) == 0 {
			continue
		}

		t.mu.Lock()
		wasBusy := t.busy
		t.busy = percents[0] >= t.busyThreshold
		if t.busy != wasBusy {
			logging.Debug("budget", "cpu %.0f%%, busy=%v", percents[0], t.busy)
		}
		t.mu.Unlock()
	}
}

// Wait blocks while the host is busy, returning early if ctx is cancelled.
// A nil receiver or stopped throttler returns immediately.
func (t *Throttler) Wait(ctx context.Context) error {
	if t == nil {
		return ctx.Err()
	}
	for {
		t.mu.Lock()
		busy := t.running && t.busy
		t.mu.Unlock()
		if !busy {
			return ctx.Err()
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(t.backoff):
		}
	}
}
