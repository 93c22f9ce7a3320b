// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

//go:build !linux

package worker

import "fmt"

// pinToCore is unsupported outside Linux; CPU affinity pinning always
// fails non-fatally on other platforms.
func pinToCore(queueID, numCores int) error {
	return fmt.Errorf("cpu affinity pinning is only supported on Linux")
}
