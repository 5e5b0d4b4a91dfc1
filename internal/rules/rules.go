// Copyright (c) 2025 The Keel Authors.
// Licensed under the Apache License, Version 2.0.

// Package rules implements the enforcement rules E001-E005/W001-W002
// (spec §4.5): each consumes the GraphStore plus the touched
// neighborhood computed by Engine.Compile and emits zero or more
// Violations, after applying suppression comments and the circuit
// breaker's per-(rule_code, hash) mute budget.
package rules

import (
	"fmt"
	"strings"
	"time"

	"github.com/keel-dev/keel/internal/astmodel"
	"github.com/keel-dev/keel/internal/circuitbreaker"
	"github.com/keel-dev/keel/internal/graphstore"
	"github.com/keel-dev/keel/internal/violation"
)

// RemovedNode is a node that disappeared this compile without a
// matching rename (spec §4.5 E004), captured before removal so its
// incoming edges can still be inspected.
type RemovedNode struct {
	OldID          int64
	OldHash        string
	FilePath       string
	IncomingCallers []graphstore.GraphEdge
}

// ModifiedNode is a node whose hash changed this compile at the same
// identity (spec §4.5 E001: "a node's signature changed").
type ModifiedNode struct {
	NodeID  int64
	OldHash string
}

// Context is everything the rules need beyond the store itself: the
// touched-neighborhood bookkeeping Engine.Compile assembles during its
// diff/apply steps (spec §4.4 step 5 "Enforce").
type Context struct {
	Store graphstore.Store
	Now   time.Time

	// TouchedFiles is every file_path included in this compile's input.
	TouchedFiles map[string]bool

	// AddedNodes are nodes newly inserted this compile (drives W001/W002).
	AddedNodes []graphstore.GraphNode

	// ModifiedNodes are nodes whose hash changed at an unchanged
	// identity this compile (drives E001).
	ModifiedNodes []ModifiedNode

	// RemovedNodes are nodes removed this compile that were not
	// rename-matched to any added node (drives E004).
	RemovedNodes []RemovedNode

	Breaker *circuitbreaker.Breaker
}

// suppressed reports whether node carries a `keel: allow <code>`
// suppression for code (spec §4.5 "Suppression").
func suppressed(n graphstore.GraphNode, code violation.Code) bool {
	for _, s := range n.Suppressions {
		if strings.EqualFold(s, string(code)) {
			return true
		}
	}
	return false
}

// allow runs the violation through the circuit breaker and reports
// whether it should still be emitted this run.
func allow(ctx Context, code violation.Code, hash string) bool {
	if ctx.Breaker == nil {
		return true
	}
	return ctx.Breaker.Allow(string(code), hash, ctx.Now)
}

// Run executes every enforcement rule over ctx and returns the combined,
// priority-sorted Violation list (spec §4.5, §4.4 step 5).
func Run(ctx Context) []violation.Violation {
	var out []violation.Violation
	out = append(out, BrokenCaller(ctx)...)
	out = append(out, FunctionRemoved(ctx)...)
	out = append(out, ArityMismatch(ctx)...)
	out = append(out, MissingTypeHints(ctx)...)
	out = append(out, MissingDocstring(ctx)...)
	out = append(out, Placement(ctx)...)
	out = append(out, DuplicateName(ctx)...)
	violation.Sort(out)
	return out
}

// BrokenCaller implements E001 (spec §4.5): a node's signature changed
// and at least one caller whose file was not reparsed this compile
// still holds a stale call edge into it — that caller's own file would
// need to be recompiled to confirm the new signature still fits.
// Demoted to a warning if the calling edge's confidence is below 0.5.
func BrokenCaller(ctx Context) []violation.Violation {
	var out []violation.Violation
	for _, mod := range ctx.ModifiedNodes {
		node, ok, err := ctx.Store.GetNodeByID(mod.NodeID)
		if err != nil || !ok {
			continue
		}
		if suppressed(node, violation.CodeBrokenCaller) {
			continue
		}
		edges, err := ctx.Store.GetEdges(mod.NodeID, graphstore.Incoming)
		if err != nil {
			continue
		}
		var affected []violation.AffectedRef
		var minConfidence float64 = 1.0
		for _, e := range edges {
			if e.Kind != graphstore.EdgeCalls {
				continue
			}
			caller, ok, err := ctx.Store.GetNodeByID(e.SrcID)
			if err != nil || !ok {
				continue
			}
			if ctx.TouchedFiles[caller.FilePath] {
				// The caller was reparsed this compile against the new
				// signature; arity/removal rules already cover it.
				continue
			}
			affected = append(affected, violation.AffectedRef{FilePath: caller.FilePath, Line: e.CallLine, Hash: caller.Hash})
			if e.Confidence < minConfidence {
				minConfidence = e.Confidence
			}
		}
		if len(affected) == 0 {
			continue
		}
		if !allow(ctx, violation.CodeBrokenCaller, node.Hash) {
			continue
		}
		v := violation.Violation{
			Code:           violation.CodeBrokenCaller,
			Category:       "broken_caller",
			Hash:           node.Hash,
			File:           node.FilePath,
			Line:           node.LineStart,
			Confidence:     minConfidence,
			ResolutionTier: 1,
			Affected:       affected,
			FixHint:        fmt.Sprintf("callers reference the previous signature of %s; new signature: %s", node.Name, node.Signature),
		}.Demote()
		out = append(out, v)
	}
	return out
}

// FunctionRemoved implements E004 (spec §4.5): a node was removed this
// compile and not replaced via rename, yet at least one live caller
// still references its hash or any previous hash.
func FunctionRemoved(ctx Context) []violation.Violation {
	var out []violation.Violation
	for _, rem := range ctx.RemovedNodes {
		var affected []violation.AffectedRef
		for _, e := range rem.IncomingCallers {
			if e.Kind != graphstore.EdgeCalls {
				continue
			}
			caller, ok, err := ctx.Store.GetNodeByID(e.SrcID)
			if err != nil || !ok {
				continue
			}
			affected = append(affected, violation.AffectedRef{FilePath: caller.FilePath, Line: e.CallLine, Hash: caller.Hash})
		}
		if len(affected) == 0 {
			continue
		}
		if !allow(ctx, violation.CodeFunctionRemoved, rem.OldHash) {
			continue
		}
		out = append(out, violation.Violation{
			Code:           violation.CodeFunctionRemoved,
			Category:       "function_removed",
			Hash:           rem.OldHash,
			File:           rem.FilePath,
			Confidence:     1.0,
			ResolutionTier: 1,
			Affected:       affected,
			FixHint:        "the called definition no longer exists in the graph",
		})
	}
	return out
}

// ArityMismatch implements E005 (spec §4.5): a caller's call site
// passes an argument count outside the callee's accepted range.
func ArityMismatch(ctx Context) []violation.Violation {
	var out []violation.Violation
	seen := make(map[int64]bool)
	consider := func(nodeID int64) {
		if seen[nodeID] {
			return
		}
		seen[nodeID] = true
		callee, ok, err := ctx.Store.GetNodeByID(nodeID)
		if err != nil || !ok {
			return
		}
		if callee.MaxArity == 0 && callee.MinArity == 0 {
			return
		}
		if suppressed(callee, violation.CodeArityMismatch) {
			return
		}
		edges, err := ctx.Store.GetEdges(nodeID, graphstore.Incoming)
		if err != nil {
			return
		}
		for _, e := range edges {
			if e.Kind != graphstore.EdgeCalls {
				continue
			}
			caller, ok, err := ctx.Store.GetNodeByID(e.SrcID)
			if err != nil || !ok {
				continue
			}
			argCount := e.ArgCount
			if argCount < callee.MinArity || (callee.MaxArity >= 0 && argCount > callee.MaxArity) {
				if !allow(ctx, violation.CodeArityMismatch, callee.Hash) {
					continue
				}
				v := violation.Violation{
					Code:           violation.CodeArityMismatch,
					Category:       "arity_mismatch",
					Hash:           callee.Hash,
					File:           callee.FilePath,
					Line:           callee.LineStart,
					Confidence:     e.Confidence,
					ResolutionTier: e.ResolutionTier,
					Affected:       []violation.AffectedRef{{FilePath: caller.FilePath, Line: e.CallLine, Hash: caller.Hash}},
					FixHint:        fmt.Sprintf("%s accepts %s arguments", callee.Name, arityRange(callee.MinArity, callee.MaxArity)),
				}
				out = append(out, v)
			}
		}
	}
	for _, n := range ctx.AddedNodes {
		consider(n.ID)
	}
	for _, m := range ctx.ModifiedNodes {
		consider(m.NodeID)
	}
	return out
}

func arityRange(min, max int) string {
	if max < 0 {
		return fmt.Sprintf("at least %d", min)
	}
	if min == max {
		return fmt.Sprintf("exactly %d", min)
	}
	return fmt.Sprintf("%d-%d", min, max)
}

// MissingTypeHints implements E002 (spec §4.5): a public function has
// at least one parameter lacking a type annotation.
func MissingTypeHints(ctx Context) []violation.Violation {
	var out []violation.Violation
	for _, n := range ctx.AddedNodes {
		out = append(out, checkTypeHints(ctx, n)...)
	}
	for _, m := range ctx.ModifiedNodes {
		node, ok, err := ctx.Store.GetNodeByID(m.NodeID)
		if err != nil || !ok {
			continue
		}
		out = append(out, checkTypeHints(ctx, node)...)
	}
	return out
}

func checkTypeHints(ctx Context, n graphstore.GraphNode) []violation.Violation {
	if !n.IsPublic || n.HasTypeHints {
		return nil
	}
	if n.Kind != astmodel.KindFunction && n.Kind != astmodel.KindMethod {
		return nil
	}
	if suppressed(n, violation.CodeMissingTypeHints) {
		return nil
	}
	if !allow(ctx, violation.CodeMissingTypeHints, n.Hash) {
		return nil
	}
	return []violation.Violation{{
		Code:           violation.CodeMissingTypeHints,
		Category:       "missing_type_hints",
		Hash:           n.Hash,
		File:           n.FilePath,
		Line:           n.LineStart,
		Confidence:     1.0,
		ResolutionTier: 1,
		FixHint:        fmt.Sprintf("annotate every parameter of %s", n.Name),
	}}
}

// MissingDocstring implements E003 (spec §4.5): public function with an
// empty docstring.
func MissingDocstring(ctx Context) []violation.Violation {
	var out []violation.Violation
	check := func(n graphstore.GraphNode) {
		if !n.IsPublic || n.HasDocstring {
			return
		}
		if n.Kind != astmodel.KindFunction && n.Kind != astmodel.KindMethod {
			return
		}
		if suppressed(n, violation.CodeMissingDocstring) {
			return
		}
		if !allow(ctx, violation.CodeMissingDocstring, n.Hash) {
			return
		}
		out = append(out, violation.Violation{
			Code:           violation.CodeMissingDocstring,
			Category:       "missing_docstring",
			Hash:           n.Hash,
			File:           n.FilePath,
			Line:           n.LineStart,
			Confidence:     1.0,
			ResolutionTier: 1,
			FixHint:        fmt.Sprintf("document the public function %s", n.Name),
		})
	}
	for _, n := range ctx.AddedNodes {
		check(n)
	}
	for _, m := range ctx.ModifiedNodes {
		if node, ok, err := ctx.Store.GetNodeByID(m.NodeID); err == nil && ok {
			check(node)
		}
	}
	return out
}

// Placement implements W001 (spec §4.5): a new function's first
// identifier token matches the dominant prefix of a different module.
// Never fires within the node's own module.
func Placement(ctx Context) []violation.Violation {
	var out []violation.Violation
	for _, n := range ctx.AddedNodes {
		if n.Kind != astmodel.KindFunction {
			continue
		}
		prefix := firstToken(n.Name)
		if prefix == "" {
			continue
		}
		modules, err := ctx.Store.FindModulesByPrefix(prefix, n.FilePath)
		if err != nil || len(modules) == 0 {
			continue
		}
		var best graphstore.ModuleProfile
		found := false
		for _, mod := range modules {
			top := 0
			for _, c := range mod.FunctionNamePrefixes {
				if c > top {
					top = c
				}
			}
			if mod.FunctionNamePrefixes[prefix] == top {
				best, found = mod, true
				break
			}
		}
		if !found {
			continue
		}
		if suppressed(n, violation.CodePlacement) {
			continue
		}
		if !allow(ctx, violation.CodePlacement, n.Hash) {
			continue
		}
		out = append(out, violation.Violation{
			Code:           violation.CodePlacement,
			Category:       "placement",
			Hash:           n.Hash,
			File:           n.FilePath,
			Line:           n.LineStart,
			Confidence:     0.6,
			ResolutionTier: 3,
			FixHint:        fmt.Sprintf("%s() shares a prefix with functions in %s; consider moving it there", n.Name, best.ModulePath),
		})
	}
	return out
}

// firstToken extracts the first lowercase word of an identifier after
// case-normalization (spec §9 open question: "the spec's intent is to
// use the first lowercase word after case-normalization"). snake_case
// splits on "_"; camelCase splits before an uppercase letter.
func firstToken(name string) string {
	if name == "" {
		return ""
	}
	if i := strings.IndexByte(name, '_'); i > 0 {
		return strings.ToLower(name[:i])
	}
	for i, r := range name {
		if i > 0 && r >= 'A' && r <= 'Z' {
			return strings.ToLower(name[:i])
		}
	}
	return strings.ToLower(name)
}

// DuplicateName implements W002 (spec §4.5): same (name, kind) exists
// in two or more files; emit once per duplicate group against the
// secondary occurrences.
func DuplicateName(ctx Context) []violation.Violation {
	var out []violation.Violation
	for _, n := range ctx.AddedNodes {
		dupes, err := ctx.Store.FindNodesByName(n.Name, n.Kind, n.FilePath)
		if err != nil || len(dupes) == 0 {
			continue
		}
		if suppressed(n, violation.CodeDuplicateName) {
			continue
		}
		if !allow(ctx, violation.CodeDuplicateName, n.Hash) {
			continue
		}
		out = append(out, violation.Violation{
			Code:           violation.CodeDuplicateName,
			Category:       "duplicate_name",
			Hash:           n.Hash,
			File:           n.FilePath,
			Line:           n.LineStart,
			Confidence:     1.0,
			ResolutionTier: 1,
			FixHint:        fmt.Sprintf("%s is also defined in %s", n.Name, dupes[0].FilePath),
		})
	}
	return out
}
