// Package audit is the append-only event sink the record components write to.
// Events are one JSON object per line in audit.jsonl; the file rotates into
// timestamped archives past a size threshold and old archives are pruned.
package audit

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"
)

// Impact classifies how consequential an audited action was.
type Impact string

const (
	ImpactLow    Impact = "low"
	ImpactMedium Impact = "medium"
	ImpactHigh   Impact = "high"
)

// Event is a single audit trail entry.
type Event struct {
	Timestamp time.Time      `json:"timestamp"`
	Action    string         `json:"action"`
	Actor     string         `json:"actor"`
	Details   map[string]any `json:"details,omitempty"`
	Impact    Impact         `json:"impact"`
}

const (
	trailFilename = "audit.jsonl"

	// DefaultMaxBytes rotates the trail past 1MB.
	DefaultMaxBytes = 1 << 20
)

// Trail writes audit events to <dir>/audit.jsonl.
type Trail struct {
	dir      string
	path     string
	maxBytes int64
	mu       sync.Mutex
}

// New creates a trail writing under dir with the default rotation threshold.
func New(dir string) *Trail {
	return &Trail{
		dir:      dir,
		path:     filepath.Join(dir, trailFilename),
		maxBytes: DefaultMaxBytes,
	}
}

// SetMaxBytes overrides the rotation threshold (tests use small values).
func (t *Trail) SetMaxBytes(n int64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.maxBytes = n
}

// Log appends an event to the trail, rotating first if the file is over the
// size threshold. A zero timestamp is filled in with the current time.
func (t *Trail) Log(ev Event) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now()
	}
	if ev.Impact == "" {
		ev.Impact = ImpactLow
	}

	if err := t.rotateLocked(); err != nil {
		return err
	}

	if err := os.MkdirAll(t.dir, 0755); err != nil {
		return err
	}
	f, err := os.OpenFile(t.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return err
	}
	defer f.Close()

	data, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	_, err = f.Write(append(data, '\n'))
	return err
}

// Record is shorthand for Log with the common fields.
func (t *Trail) Record(action, actor string, impact Impact, details map[string]any) error {
	return t.Log(Event{Action: action, Actor: actor, Impact: impact, Details: details})
}

// rotateLocked renames the trail to a timestamped archive when it exceeds
// maxBytes. Caller holds t.mu.
func (t *Trail) rotateLocked() error {
	info, err := os.Stat(t.path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return err
	}
	if info.Size() < t.maxBytes {
		return nil
	}
	archive := filepath.Join(t.dir, fmt.Sprintf("audit-%s.jsonl", time.Now().Format("20060102-150405")))
	return os.Rename(t.path, archive)
}

// Recent returns the last n events from the current trail file. Malformed
// lines are skipped.
func (t *Trail) Recent(n int) ([]Event, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	data, err := os.ReadFile(t.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	var events []Event
	for _, line := range strings.Split(string(data), "\n") {
		if line == "" {
			continue
		}
		var ev Event
		if err := json.Unmarshal([]byte(line), &ev); err != nil {
			continue
		}
		events = append(events, ev)
	}
	if n < len(events) {
		events = events[len(events)-n:]
	}
	return events, nil
}

// Prune deletes rotated archives older than maxAge. Returns how many files
// were removed. The live trail file is never pruned.
func (t *Trail) Prune(maxAge time.Duration) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	matches, err := filepath.Glob(filepath.Join(t.dir, "audit-*.jsonl"))
	if err != nil {
		return 0, err
	}
	sort.Strings(matches)

	cutoff := time.Now().Add(-maxAge)
	removed := 0
	for _, path := range matches {
		info, err := os.Stat(path)
		if err != nil {
			continue
		}
		if info.ModTime().Before(cutoff) {
			if err := os.Remove(path); err == nil {
				removed++
			}
		}
	}
	return removed, nil
}
