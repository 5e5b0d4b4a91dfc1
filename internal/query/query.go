// Copyright (c) 2025 The Keel Authors.
// Licensed under the Apache License, Version 2.0.

// Package query implements Keel's read-path operations over the
// GraphStore: discover (neighborhood BFS), where (callers), explain
// (why a violation fired), analyze (per-file code smells and refactor
// suggestions), check (node risk/health), and name (naming-collision
// lookup for a proposed new definition) — spec §4.7 and the
// SUPPLEMENTED FEATURES refactor-rationale extension.
package query

import (
	"fmt"
	"sort"

	"github.com/keel-dev/keel/internal/astmodel"
	"github.com/keel-dev/keel/internal/graphstore"
	"github.com/keel-dev/keel/internal/rules"
	"github.com/keel-dev/keel/internal/violation"
)

// NeighborEdge is one hop discovered from a root node.
type NeighborEdge struct {
	Node  graphstore.GraphNode
	Edge  graphstore.GraphEdge
	Depth int
}

// Discover walks the graph outward (both directions) from hash up to
// depth hops, returning every node reached with the edge that reached
// it (spec §4.7 "discover(hash, depth)").
func Discover(store graphstore.Store, hash string, depth int) ([]NeighborEdge, error) {
	root, ok, err := store.GetNode(hash)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("query: %w: %s", errNotFoundSentinel, hash)
	}

	visited := map[int64]bool{root.ID: true}
	frontier := []int64{root.ID}
	var out []NeighborEdge

	for d := 1; d <= depth && len(frontier) > 0; d++ {
		var next []int64
		for _, id := range frontier {
			for _, dir := range []graphstore.Direction{graphstore.Outgoing, graphstore.Incoming} {
				edges, err := store.GetEdges(id, dir)
				if err != nil {
					continue
				}
				for _, e := range edges {
					otherID := e.DstID
					if dir == graphstore.Incoming {
						otherID = e.SrcID
					}
					if visited[otherID] {
						continue
					}
					visited[otherID] = true
					node, ok, err := store.GetNodeByID(otherID)
					if err != nil || !ok {
						continue
					}
					out = append(out, NeighborEdge{Node: node, Edge: e, Depth: d})
					next = append(next, otherID)
				}
			}
		}
		frontier = next
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Depth != out[j].Depth {
			return out[i].Depth < out[j].Depth
		}
		return out[i].Node.FilePath < out[j].Node.FilePath
	})
	return out, nil
}

// Where returns every live caller of hash (spec §4.7 "where(hash)").
func Where(store graphstore.Store, hash string) ([]graphstore.GraphNode, error) {
	node, ok, err := store.GetNode(hash)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("query: %w: %s", errNotFoundSentinel, hash)
	}
	edges, err := store.GetEdges(node.ID, graphstore.Incoming)
	if err != nil {
		return nil, err
	}
	var callers []graphstore.GraphNode
	seen := make(map[int64]bool)
	for _, e := range edges {
		if e.Kind != graphstore.EdgeCalls || seen[e.SrcID] {
			continue
		}
		seen[e.SrcID] = true
		n, ok, err := store.GetNodeByID(e.SrcID)
		if err == nil && ok {
			callers = append(callers, n)
		}
	}
	sort.Slice(callers, func(i, j int) bool { return callers[i].FilePath < callers[j].FilePath })
	return callers, nil
}

// Explain re-derives why rule code fired for hash right now, in human
// terms (spec §4.7 "explain(code, hash)"). It is read-only: no circuit
// breaker consultation, no suppression check — explain shows the raw
// condition regardless of whether it would currently be muted or
// suppressed, since the point is diagnosing the rule's reasoning.
func Explain(store graphstore.Store, code violation.Code, hash string) (string, error) {
	node, ok, err := store.GetNode(hash)
	if err != nil {
		return "", err
	}
	if !ok {
		return "", fmt.Errorf("query: %w: %s", errNotFoundSentinel, hash)
	}

	switch code {
	case violation.CodeFunctionRemoved:
		return fmt.Sprintf("%s (%s) still exists at %s:%d; this code is not currently violated for it", node.Name, hash, node.FilePath, node.LineStart), nil
	case violation.CodeBrokenCaller:
		edges, err := store.GetEdges(node.ID, graphstore.Incoming)
		if err != nil {
			return "", err
		}
		var lines []string
		for _, e := range edges {
			if e.Kind != graphstore.EdgeCalls {
				continue
			}
			caller, ok, _ := store.GetNodeByID(e.SrcID)
			if !ok {
				continue
			}
			lines = append(lines, fmt.Sprintf("  %s:%d calls %s (confidence %.2f, tier %d)", caller.FilePath, e.CallLine, node.Name, e.Confidence, e.ResolutionTier))
		}
		if len(lines) == 0 {
			return fmt.Sprintf("%s has no recorded callers; broken_caller would not fire", node.Name), nil
		}
		explanation := fmt.Sprintf("%s's signature is %s. Callers recorded against it:\n", node.Name, node.Signature)
		for _, l := range lines {
			explanation += l + "\n"
		}
		return explanation, nil
	case violation.CodeArityMismatch:
		return fmt.Sprintf("%s accepts %s arguments; inspect call sites via `where` to find the mismatched one", node.Name, arityRange(node.MinArity, node.MaxArity)), nil
	case violation.CodeMissingTypeHints:
		return fmt.Sprintf("%s is public (%v) and has_type_hints=%v", node.Name, node.IsPublic, node.HasTypeHints), nil
	case violation.CodeMissingDocstring:
		return fmt.Sprintf("%s is public (%v) and has_docstring=%v", node.Name, node.IsPublic, node.HasDocstring), nil
	case violation.CodePlacement, violation.CodeDuplicateName:
		return fmt.Sprintf("%s is a %s-class heuristic; re-run `analyze` on %s for the current suggestion", code, code, node.FilePath), nil
	default:
		return "", fmt.Errorf("query: unknown rule code %s", code)
	}
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

// Smell is a code-smell flagged for a file (SPEC_FULL.md supplemented
// "analyze" detail).
type Smell struct {
	Kind   string
	Detail string
}

// RefactorSuggestion is a proposed restructuring with its rationale
// (SPEC_FULL.md supplemented "refactor rationale strings").
type RefactorSuggestion struct {
	Kind      string
	Rationale string
}

// AnalyzeResult is what `keel analyze <file>` reports.
type AnalyzeResult struct {
	Smells      []Smell
	Refactors   []RefactorSuggestion
	NodeCount   int
	ExternalAPI int
}

const (
	monolithThreshold  = 25 // functions in one file
	oversizedLineCount = 400
	highFanInThreshold = 15
	highFanOut         = 15
)

// Analyze reports smells and refactor suggestions for filePath (spec
// §4.7 "analyze(file)"; SUPPLEMENTED FEATURES refactor rationale).
func Analyze(store graphstore.Store, filePath string) (AnalyzeResult, error) {
	nodes, err := store.GetNodesInFile(filePath)
	if err != nil {
		return AnalyzeResult{}, err
	}
	var result AnalyzeResult
	result.NodeCount = len(nodes)

	funcCount := 0
	maxLine := 0
	for _, n := range nodes {
		if n.Kind == astmodel.KindFunction || n.Kind == astmodel.KindMethod {
			funcCount++
		}
		if n.LineEnd > maxLine {
			maxLine = n.LineEnd
		}
		if !n.HasDocstring && n.IsPublic {
			result.Smells = append(result.Smells, Smell{Kind: "NoDocstring", Detail: n.Name})
		}
		if !n.HasTypeHints && n.IsPublic {
			result.Smells = append(result.Smells, Smell{Kind: "NoTypeHints", Detail: n.Name})
		}

		in, _ := store.GetEdges(n.ID, graphstore.Incoming)
		out, _ := store.GetEdges(n.ID, graphstore.Outgoing)
		if len(in) == 0 && n.IsPublic {
			result.Smells = append(result.Smells, Smell{Kind: "Isolated", Detail: n.Name})
		}
		if len(in) >= highFanInThreshold {
			result.Smells = append(result.Smells, Smell{Kind: "HighFanIn", Detail: fmt.Sprintf("%s (%d callers)", n.Name, len(in))})
			result.Refactors = append(result.Refactors, RefactorSuggestion{
				Kind:      "StabilizeApi",
				Rationale: fmt.Sprintf("%s has %d callers; signature changes ripple widely, consider freezing it behind a stable wrapper", n.Name, len(in)),
			})
		}
		if len(out) >= highFanOut {
			result.Smells = append(result.Smells, Smell{Kind: "HighFanOut", Detail: fmt.Sprintf("%s (%d dependencies)", n.Name, len(out))})
			result.Refactors = append(result.Refactors, RefactorSuggestion{
				Kind:      "ExtractFunction",
				Rationale: fmt.Sprintf("%s calls out to %d other definitions; splitting it may separate distinct responsibilities", n.Name, len(out)),
			})
		}
	}

	if funcCount >= monolithThreshold {
		result.Smells = append(result.Smells, Smell{Kind: "Monolith", Detail: fmt.Sprintf("%d functions in one file", funcCount)})
		result.Refactors = append(result.Refactors, RefactorSuggestion{
			Kind:      "SplitFile",
			Rationale: fmt.Sprintf("%s holds %d functions; splitting by responsibility keeps future diffs smaller", filePath, funcCount),
		})
	}
	if maxLine >= oversizedLineCount {
		result.Smells = append(result.Smells, Smell{Kind: "Oversized", Detail: fmt.Sprintf("spans to line %d", maxLine)})
	}

	// The store keys ModuleProfiles by file path.
	profile, ok, err := store.GetModuleProfile(filePath)
	if err == nil && ok {
		result.ExternalAPI = len(profile.ExternalEndpoints)
	}

	return result, nil
}

// CheckResult is a node's health summary (spec §4.7 "check(hash)").
type CheckResult struct {
	Node        graphstore.GraphNode
	CallerCount int
	Violations  []violation.Violation
}

// Check reports a node's current caller count and re-evaluates the
// single-node rules against it live, for a quick "is this safe to
// touch" read (spec §4.7 "check(hash)").
func Check(store graphstore.Store, hash string) (CheckResult, error) {
	node, ok, err := store.GetNode(hash)
	if err != nil {
		return CheckResult{}, err
	}
	if !ok {
		return CheckResult{}, fmt.Errorf("query: %w: %s", errNotFoundSentinel, hash)
	}
	edges, err := store.GetEdges(node.ID, graphstore.Incoming)
	if err != nil {
		return CheckResult{}, err
	}

	ctx := rules.Context{Store: store, TouchedFiles: map[string]bool{}, AddedNodes: []graphstore.GraphNode{node}}
	var vs []violation.Violation
	vs = append(vs, rules.MissingTypeHints(ctx)...)
	vs = append(vs, rules.MissingDocstring(ctx)...)
	violation.Sort(vs)

	return CheckResult{Node: node, CallerCount: len(edges), Violations: vs}, nil
}

// Name checks whether description's normalized token collides with an
// existing module's dominant prefix, helping a caller pick a
// placement-clean name before writing code (spec §4.7 "name(description,
// module?, kind?)"; mirrors the W001 placement heuristic).
func Name(store graphstore.Store, description, module string, kind astmodel.Kind) ([]graphstore.ModuleProfile, error) {
	return store.FindModulesByPrefix(firstToken(description), module)
}

func firstToken(s string) string {
	for i, r := range s {
		if r == ' ' || r == '_' || r == '-' {
			return lower(s[:i])
		}
		if i > 0 && r >= 'A' && r <= 'Z' {
			return lower(s[:i])
		}
	}
	return lower(s)
}

func lower(s string) string {
	b := []byte(s)
	for i, c := range b {
		if c >= 'A' && c <= 'Z' {
			b[i] = c + ('a' - 'A')
		}
	}
	return string(b)
}

var errNotFoundSentinel = graphstore.ErrNotFound
