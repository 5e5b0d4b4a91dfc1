// Copyright (c) 2025 The Keel Authors.
// Licensed under the Apache License, Version 2.0.

//go:build !unix

package lock

// isProcessAlive has no portable liveness probe outside POSIX; the
// 2-second wait timeout substitutes (spec §5: "on other platforms, the
// 2-second timeout substitutes"). Treating every PID as alive here means
// that, whenever a lock file exists, Acquire waits out its timeout and
// then fails with ErrCompileLocked; a stale lock is not reclaimed on
// these platforms.
func isProcessAlive(pid int) bool {
	return true
}
