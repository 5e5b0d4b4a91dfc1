// Copyright (c) 2025 The Keel Authors.
// Licensed under the Apache License, Version 2.0.

// Package keelerr defines the error taxonomy shared across Keel's core
// subsystems (see spec §7). Each sentinel maps to a CLI exit code; callers
// should wrap these with fmt.Errorf("%w: ...") to add context rather than
// inventing new error values.
package keelerr

import "errors"

// Sentinel errors for the core error taxonomy. Kind, not class: callers
// compare with errors.Is, never type-assert.
var (
	// ErrNotInitialized means the control directory (.keel/) is missing.
	ErrNotInitialized = errors.New("keel: project not initialized (run `keel init`)")

	// ErrAlreadyInitialized means init ran against an existing control
	// directory without --merge.
	ErrAlreadyInitialized = errors.New("keel: project already initialized (use --merge to reset)")

	// ErrStoreOpenFailed means the GraphStore could not be opened.
	ErrStoreOpenFailed = errors.New("keel: failed to open graph store")

	// ErrStoreIO means a GraphStore read/write failed.
	ErrStoreIO = errors.New("keel: graph store io error")

	// ErrIncompatibleSchema means the on-disk schema is newer than this
	// binary supports.
	ErrIncompatibleSchema = errors.New("keel: graph store schema is newer than this binary supports")

	// ErrCompileLocked means another compile holds the advisory lock past
	// the wait timeout.
	ErrCompileLocked = errors.New("keel: another compile is already running")

	// ErrParseFailed means a single file could not be parsed; compile
	// continues with that file skipped.
	ErrParseFailed = errors.New("keel: parse failed")

	// ErrTier2Timeout means a Tier-2 semantic subprocess exceeded its
	// timeout; the reference degrades to a Tier-1 result.
	ErrTier2Timeout = errors.New("keel: tier-2 resolver timed out")

	// ErrTier2Missing means a Tier-2 tool is not installed/available.
	ErrTier2Missing = errors.New("keel: tier-2 resolver unavailable")

	// ErrNotFound means a query target is absent from the graph, after
	// checking previous_hashes.
	ErrNotFound = errors.New("keel: not found")

	// ErrViolations means a compile completed with E-class findings.
	ErrViolations = errors.New("keel: compile completed with errors")
)

// ExitCode maps an error (checked with errors.Is against the sentinels
// above) to the process exit code documented in spec §6/§7. Unrecognized
// errors return 2 (treated as an internal failure).
func ExitCode(err error) int {
	if err == nil {
		return 0
	}
	switch {
	case errors.Is(err, ErrViolations):
		return 1
	case errors.Is(err, ErrNotFound),
		errors.Is(err, ErrNotInitialized),
		errors.Is(err, ErrAlreadyInitialized),
		errors.Is(err, ErrStoreOpenFailed),
		errors.Is(err, ErrStoreIO),
		errors.Is(err, ErrIncompatibleSchema),
		errors.Is(err, ErrCompileLocked):
		return 2
	default:
		return 2
	}
}
