// Copyright (c) 2025 The Keel Authors.
// Licensed under the Apache License, Version 2.0.

//go:build unix

package lock

import (
	"os"
	"syscall"
)

// isProcessAlive probes liveness with a zero signal (spec §5: "on
// POSIX, liveness is probed by a zero-signal existence check").
func isProcessAlive(pid int) bool {
	if pid <= 0 {
		return false
	}
	process, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	return process.Signal(syscall.Signal(0)) == nil
}
