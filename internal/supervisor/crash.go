// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package supervisor

import (
	"sync"
	"time"
)

// crashTracker counts how many times a single queue's goroutine has died
// within a sliding window. It only classifies; a dead worker is reported,
// not automatically restarted, the same division of responsibility the
// process-based supervisor this package replaces drew between
// ShouldEnterSafeMode/RecordExit (classification) and whatever restarts
// the process (systemd).
type crashTracker struct {
	mu        sync.Mutex
	threshold int
	window    time.Duration
	events    []time.Time
}

func newCrashTracker(threshold int, window time.Duration) *crashTracker {
	if threshold <= 0 {
		threshold = DefaultCrashThreshold
	}
	if window <= 0 {
		window = DefaultCrashWindow
	}
	return &crashTracker{threshold: threshold, window: window}
}

// record adds one crash event at the current time and prunes events that
// have aged out of the window.
func (c *crashTracker) record() {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := time.Now()
	c.events = append(c.events, now)
	c.prune(now)
}

// shouldEnterSafeMode reports whether the queue has crashed threshold or
// more times within the tracking window, the signal a higher-level
// supervisor (outside this process) would use to decide whether to keep
// restarting it at all.
func (c *crashTracker) shouldEnterSafeMode() bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.prune(time.Now())
	return len(c.events) >= c.threshold
}

func (c *crashTracker) prune(now time.Time) {
	cutoff := now.Add(-c.window)
	filtered := c.events[:0]
	for _, e := range c.events {
		if e.After(cutoff) {
			filtered = append(filtered, e)
		}
	}
	c.events = filtered
}
