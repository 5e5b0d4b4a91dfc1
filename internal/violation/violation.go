// Copyright (c) 2025 The Keel Authors.
// Licensed under the Apache License, Version 2.0.

// Package violation holds the Violation/ViolationKey/CompileResult
// shapes shared by the enforcement rules, the delta/pressure model, and
// the CLI's JSON result schema (spec §3, §6).
package violation

import "sort"

// Code is one of the enforcement rule codes (spec §4.5).
type Code string

const (
	CodeBrokenCaller     Code = "E001"
	CodeMissingTypeHints Code = "E002"
	CodeMissingDocstring Code = "E003"
	CodeFunctionRemoved  Code = "E004"
	CodeArityMismatch    Code = "E005"
	CodePlacement        Code = "W001"
	CodeDuplicateName    Code = "W002"
)

// priority is the display/sort order of spec §4.5: "E004 < E001 < E005
// < E002 < E003 < W001 < W002 (lower number = higher priority)".
var priority = map[Code]int{
	CodeFunctionRemoved:  0,
	CodeBrokenCaller:     1,
	CodeArityMismatch:    2,
	CodeMissingTypeHints: 3,
	CodeMissingDocstring: 4,
	CodePlacement:        5,
	CodeDuplicateName:    6,
}

// Priority returns the sort priority of a code; unknown codes sort last.
func Priority(c Code) int {
	if p, ok := priority[c]; ok {
		return p
	}
	return len(priority)
}

// IsError reports whether a code is E-class (vs. W-class).
func IsError(c Code) bool {
	return len(c) > 0 && c[0] == 'E'
}

// AffectedRef is one caller/callee reference an E-class finding cites
// (spec §3 "Violation.affected").
type AffectedRef struct {
	FilePath string
	Line     int
	Hash     string
}

// Violation is a single finding (spec §3 "Violation").
type Violation struct {
	Code           Code
	Category       string
	Hash           string
	File           string
	Line           int
	Confidence     float64
	ResolutionTier int
	Affected       []AffectedRef
	FixHint        string
}

// Key returns the ViolationKey identity for delta diffing (spec §3
// "ViolationKey").
func (v Violation) Key() Key {
	return Key{Code: v.Code, Hash: v.Hash, File: v.File, Line: v.Line}
}

// Demote applies spec §3's invariant: "confidence < 0.5 demotes an
// E-class finding to a W-class warning". Only E001 (broken_caller) is
// demoted by confidence per spec §4.5 ("Demoted to a warning if
// confidence of the calling edge < 0.5"); callers invoke Demote only
// for rules where a confidence-bearing edge backs the finding.
func (v Violation) Demote() Violation {
	if IsError(v.Code) && v.Confidence < 0.5 {
		v.Code = Code("W-" + string(v.Code))
	}
	return v
}

// Key is the (code, hash, file, line) identity tuple (spec §3
// "ViolationKey").
type Key struct {
	Code Code
	Hash string
	File string
	Line int
}

// Sort orders violations by priority bucket, then deterministically by
// (file, line, hash) within a bucket (spec §8 "Priority sort": "stable
// and monotone").
func Sort(vs []Violation) {
	sort.SliceStable(vs, func(i, j int) bool {
		pi, pj := Priority(vs[i].Code), Priority(vs[j].Code)
		if pi != pj {
			return pi < pj
		}
		if vs[i].File != vs[j].File {
			return vs[i].File < vs[j].File
		}
		if vs[i].Line != vs[j].Line {
			return vs[i].Line < vs[j].Line
		}
		return vs[i].Hash < vs[j].Hash
	})
}

// Split partitions a sorted violation list into errors and warnings
// (spec §3 "CompileResult": "errors, warnings").
func Split(vs []Violation) (errors []Violation, warnings []Violation) {
	for _, v := range vs {
		if IsError(v.Code) {
			errors = append(errors, v)
		} else {
			warnings = append(warnings, v)
		}
	}
	return
}

// CircuitBreakerTrip names one (rule_code, hash) pair muted during a
// compile (spec §3 CompileResult.circuit_breakers_triggered;
// SPEC_FULL.md supplemented detail).
type CircuitBreakerTrip struct {
	RuleCode Code
	Hash     string
}

// Result is CompileResult (spec §3): emitted findings plus counts.
type Result struct {
	Errors                   []Violation
	Warnings                 []Violation
	NodesUpdated             int
	EdgesUpdated             int
	BatchMode                bool
	CircuitBreakersTriggered []CircuitBreakerTrip
}
