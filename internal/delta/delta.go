// Copyright (c) 2025 The Keel Authors.
// Licensed under the Apache License, Version 2.0.

// Package delta computes the identity-keyed diff between two compile
// runs' ViolationKey sets and classifies the resulting Pressure (spec
// §3 "CompileDelta", §4.4 step 6).
package delta

import "github.com/keel-dev/keel/internal/violation"

// Pressure is the aggregate direction of a CompileDelta (spec §3, GLOSSARY).
type Pressure string

const (
	PressureRelieving Pressure = "relieving"
	PressureNeutral   Pressure = "neutral"
	PressureBuilding  Pressure = "building"
	PressureCritical  Pressure = "critical"
)

// Delta is CompileDelta (spec §3).
type Delta struct {
	NewErrors        []violation.Key
	ResolvedErrors   []violation.Key
	NewWarnings      []violation.Key
	ResolvedWarnings []violation.Key
	NetErrors        int
	NetWarnings      int
	Pressure         Pressure
	TotalErrors      int
	TotalWarnings    int
}

// Compute diffs the current run's violations against the previous run's
// ViolationKey set (spec §4.4 step 6, §8 "Delta idempotence": diffing A
// against itself yields empty new_*/resolved_* sets).
func Compute(previous map[violation.Key]bool, current []violation.Violation) Delta {
	curSet := make(map[violation.Key]violation.Violation, len(current))
	for _, v := range current {
		curSet[v.Key()] = v
	}

	var d Delta
	for k, v := range curSet {
		if previous[k] {
			continue
		}
		if violation.IsError(v.Code) {
			d.NewErrors = append(d.NewErrors, k)
		} else {
			d.NewWarnings = append(d.NewWarnings, k)
		}
	}
	for k := range previous {
		if _, stillPresent := curSet[k]; stillPresent {
			continue
		}
		if violation.IsError(k.Code) {
			d.ResolvedErrors = append(d.ResolvedErrors, k)
		} else {
			d.ResolvedWarnings = append(d.ResolvedWarnings, k)
		}
	}

	d.NetErrors = len(d.NewErrors) - len(d.ResolvedErrors)
	d.NetWarnings = len(d.NewWarnings) - len(d.ResolvedWarnings)
	d.Pressure = classify(d)
	for k := range curSet {
		if violation.IsError(k.Code) {
			d.TotalErrors++
		} else {
			d.TotalWarnings++
		}
	}
	return d
}

// classify derives Pressure from the net error/warning movement. Errors
// dominate: any net increase in errors is Critical regardless of
// warnings, since an E-class regression is the condition the engine
// exists to catch. Building/Relieving/Neutral otherwise follow the
// combined net movement.
func classify(d Delta) Pressure {
	switch {
	case d.NetErrors > 0:
		return PressureCritical
	case d.NetErrors < 0 && d.NetWarnings <= 0:
		return PressureRelieving
	case d.NetErrors == 0 && d.NetWarnings == 0:
		return PressureNeutral
	case d.NetWarnings > 0:
		return PressureBuilding
	default:
		return PressureRelieving
	}
}

// ToSet converts a ViolationKey slice (as persisted in
// last_violations.json) into the set Compute expects.
func ToSet(keys []violation.Key) map[violation.Key]bool {
	set := make(map[violation.Key]bool, len(keys))
	for _, k := range keys {
		set[k] = true
	}
	return set
}

// Keys extracts the ViolationKey set of a completed run, for persisting
// to last_violations.json.
func Keys(vs []violation.Violation) []violation.Key {
	out := make([]violation.Key, 0, len(vs))
	for _, v := range vs {
		out = append(out, v.Key())
	}
	return out
}
