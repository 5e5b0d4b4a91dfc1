// Copyright (c) 2025 The Keel Authors.
// Licensed under the Apache License, Version 2.0.

// Package lock implements the compile advisory lock (spec §4.4
// "Concurrent compile protection", §5): a PID file in the control
// directory. A live holder makes new compiles wait up to a timeout,
// polling at a fixed interval; a dead holder's lock is reclaimed. The
// liveness check is grounded in the teacher's
// services/trace/lock/locker.go IsProcessAlive convention (POSIX
// zero-signal existence check).
package lock

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/keel-dev/keel/internal/keelerr"
)

// DefaultWaitTimeout and DefaultPollInterval match spec §4.4: "waits up
// to 2 seconds, polling every 100 ms".
const (
	DefaultWaitTimeout  = 2 * time.Second
	DefaultPollInterval = 100 * time.Millisecond
)

// Lock is an acquired advisory lock; Release must be called to remove
// the PID file.
type Lock struct {
	path string
}

// Acquire takes the compile advisory lock at path, waiting up to
// timeout for a live holder to release it and reclaiming a lock held by
// a dead PID immediately (spec §4.4, §5).
func Acquire(path string, timeout time.Duration, pollInterval time.Duration) (*Lock, error) {
	deadline := time.Now().Add(timeout)
	for {
		ok, err := tryAcquire(path)
		if err != nil {
			return nil, err
		}
		if ok {
			return &Lock{path: path}, nil
		}
		if time.Now().After(deadline) {
			return nil, fmt.Errorf("%w: %s held past %s timeout", keelerr.ErrCompileLocked, path, timeout)
		}
		time.Sleep(pollInterval)
	}
}

// tryAcquire makes one attempt: if no lock file exists, or it names a
// dead PID, it writes the current PID and succeeds. If it names a live
// PID, it reports false without blocking.
func tryAcquire(path string) (bool, error) {
	data, err := os.ReadFile(path)
	if err == nil {
		if pid, perr := strconv.Atoi(strings.TrimSpace(string(data))); perr == nil && isProcessAlive(pid) {
			return false, nil
		}
		// Stale lock: dead PID, reclaim it.
	} else if !os.IsNotExist(err) {
		return false, fmt.Errorf("lock: read %s: %w", path, err)
	}

	pid := os.Getpid()
	if err := os.WriteFile(path, []byte(strconv.Itoa(pid)), 0o640); err != nil {
		return false, fmt.Errorf("lock: write %s: %w", path, err)
	}
	return true, nil
}

// Release removes the lock file. Safe to call once per successful
// Acquire.
func (l *Lock) Release() error {
	if err := os.Remove(l.path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("lock: release %s: %w", l.path, err)
	}
	return nil
}
