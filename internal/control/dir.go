// Copyright (c) 2025 The Keel Authors.
// Licensed under the Apache License, Version 2.0.

// Package control owns the layout of the <project-root>/.keel control
// directory: where the graph store, configuration, locks, and batch/delta
// state live. Every other core package that needs to find one of these
// files goes through Dir rather than hard-coding a path.
package control

import (
	"os"
	"path/filepath"
)

// DirName is the control directory's name, always a direct child of the
// project root.
const DirName = ".keel"

// Dir resolves the paths of every file Keel persists under the control
// directory for a given project root.
type Dir struct {
	Root string
}

// New returns a Dir rooted at <projectRoot>/.keel.
func New(projectRoot string) Dir {
	return Dir{Root: filepath.Join(projectRoot, DirName)}
}

// GraphDB is the embedded relational/KV store holding nodes, edges,
// module profiles, and the schema version.
func (d Dir) GraphDB() string { return filepath.Join(d.Root, "graph.db") }

// Config is keel.json: version, languages, project_id.
func (d Dir) Config() string { return filepath.Join(d.Root, "keel.json") }

// CompileLock is the advisory PID lockfile guarding store mutation.
func (d Dir) CompileLock() string { return filepath.Join(d.Root, "compile.lock") }

// BatchState is batch.state: presence indicates active batch mode;
// contents are the deferred ViolationKey set.
func (d Dir) BatchState() string { return filepath.Join(d.Root, "batch.state") }

// LastViolations is last_violations.json: the ViolationKey set from the
// previous compile, used to compute the next CompileDelta.
func (d Dir) LastViolations() string { return filepath.Join(d.Root, "last_violations.json") }

// CircuitBreakers is circuit_breakers.json: (rule_code, hash) -> (count,
// window_start).
func (d Dir) CircuitBreakers() string { return filepath.Join(d.Root, "circuit_breakers.json") }

// PostEditHook is the optional hooks/post-edit.sh script installed at init.
func (d Dir) PostEditHook() string { return filepath.Join(d.Root, "hooks", "post-edit.sh") }

// LogDir is where klog writes file sinks, if enabled.
func (d Dir) LogDir() string { return filepath.Join(d.Root, "logs") }

// Exists reports whether the control directory has been initialized.
func (d Dir) Exists() bool {
	info, err := os.Stat(d.Root)
	return err == nil && info.IsDir()
}
