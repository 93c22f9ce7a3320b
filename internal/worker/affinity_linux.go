// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

//go:build linux

package worker

import "golang.org/x/sys/unix"

// pinToCore pins the calling OS thread to core (queueID mod numCores),
// matching §4.3's CPU affinity requirement. Go's runtime schedules
// goroutines onto OS threads, so this locks the affinity of whichever
// thread is currently running this goroutine; it is advisory, not a hard
// per-goroutine pin, and failure is always non-fatal.
func pinToCore(queueID, numCores int) error {
	if numCores <= 0 {
		numCores = 1
	}
	core := queueID % numCores

	var set unix.CPUSet
	set.Zero()
	set.Set(core)
	return unix.SchedSetaffinity(0, &set)
}
