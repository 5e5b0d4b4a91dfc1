// Copyright (c) 2025 The Keel Authors.
// Licensed under the Apache License, Version 2.0.

package engine

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/keel-dev/keel/internal/violation"
)

// loadViolationKeys reads last_violations.json (spec §6). A missing file
// means no prior compile ran; that is not an error.
func loadViolationKeys(path string) ([]violation.Key, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("engine: read %s: %w", path, err)
	}
	var keys []violation.Key
	if err := json.Unmarshal(data, &keys); err != nil {
		return nil, fmt.Errorf("engine: parse %s: %w", path, err)
	}
	return keys, nil
}

// saveViolationKeys atomically persists the emitted ViolationKey set for
// the next compile's delta (mirrors config.Save's write-then-rename
// convention).
func saveViolationKeys(path string, keys []violation.Key) error {
	data, err := json.MarshalIndent(keys, "", "  ")
	if err != nil {
		return fmt.Errorf("engine: marshal: %w", err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o640); err != nil {
		return fmt.Errorf("engine: write %s: %w", tmp, err)
	}
	return os.Rename(tmp, path)
}

// batchState is batch.state's on-disk shape: the non-structural
// violations accumulated since the batch opened (spec §4.4 "Batch
// mode").
type batchState struct {
	Deferred []violation.Violation `json:"deferred"`
}

func loadBatchState(path string) (batchState, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return batchState{}, nil
	}
	if err != nil {
		return batchState{}, fmt.Errorf("engine: read %s: %w", path, err)
	}
	var s batchState
	if err := json.Unmarshal(data, &s); err != nil {
		return batchState{}, fmt.Errorf("engine: parse %s: %w", path, err)
	}
	return s, nil
}

func saveBatchState(path string, s batchState) error {
	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return fmt.Errorf("engine: marshal: %w", err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o640); err != nil {
		return fmt.Errorf("engine: write %s: %w", tmp, err)
	}
	return os.Rename(tmp, path)
}

// applyBatchMode splits found into structural (always surfaced) and
// non-structural findings, deferring the latter to batch.state while a
// batch is open (spec §4.4: "E001/E004/E005 always surface; the rest
// may be deferred until `compile --batch-end`"). It returns the
// violations to actually emit this run and whether a batch remains open
// afterward.
func (e *Engine) applyBatchMode(found []violation.Violation, opts Options) ([]violation.Violation, bool, error) {
	path := e.Dir.BatchState()
	_, statErr := os.Stat(path)
	active := statErr == nil || opts.BatchStart

	var structural, nonStructural []violation.Violation
	for _, v := range found {
		if structuralCodes[v.Code] {
			structural = append(structural, v)
		} else {
			nonStructural = append(nonStructural, v)
		}
	}

	if !active {
		return found, false, nil
	}

	state, err := loadBatchState(path)
	if err != nil {
		return nil, false, err
	}

	if opts.BatchEnd {
		emitted := append(append([]violation.Violation{}, structural...), state.Deferred...)
		emitted = append(emitted, nonStructural...)
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			return nil, false, fmt.Errorf("engine: remove %s: %w", path, err)
		}
		return emitted, false, nil
	}

	state.Deferred = append(state.Deferred, nonStructural...)
	if err := saveBatchState(path, state); err != nil {
		return nil, false, err
	}
	return structural, true, nil
}
