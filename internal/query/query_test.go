// Copyright (c) 2025 The Keel Authors.
// Licensed under the Apache License, Version 2.0.

package query

import (
	"strings"
	"testing"

	"github.com/keel-dev/keel/internal/astmodel"
	"github.com/keel-dev/keel/internal/graphstore"
	"github.com/keel-dev/keel/internal/violation"
)

func addNode(t *testing.T, store graphstore.Store, n graphstore.GraphNode) graphstore.GraphNode {
	t.Helper()
	if err := store.UpdateNodes(graphstore.NodeBatch{Added: []graphstore.GraphNode{n}}); err != nil {
		t.Fatalf("UpdateNodes: %v", err)
	}
	got, ok, err := store.GetNode(n.Hash)
	if err != nil || !ok {
		t.Fatalf("GetNode(%s): ok=%v err=%v", n.Hash, ok, err)
	}
	return got
}

func TestDiscoverWalksBothDirections(t *testing.T) {
	store := graphstore.NewMemory()
	a := addNode(t, store, graphstore.GraphNode{Hash: "h0000000100", Name: "a", Kind: astmodel.KindFunction, FilePath: "a.go", LineStart: 1})
	b := addNode(t, store, graphstore.GraphNode{Hash: "h0000000101", Name: "b", Kind: astmodel.KindFunction, FilePath: "b.go", LineStart: 1})
	c := addNode(t, store, graphstore.GraphNode{Hash: "h0000000102", Name: "c", Kind: astmodel.KindFunction, FilePath: "c.go", LineStart: 1})

	if err := store.UpdateEdges(graphstore.EdgeBatch{Added: []graphstore.GraphEdge{
		{SrcID: a.ID, DstID: b.ID, Kind: graphstore.EdgeCalls, Confidence: 0.9},
		{SrcID: c.ID, DstID: a.ID, Kind: graphstore.EdgeCalls, Confidence: 0.9},
	}}); err != nil {
		t.Fatal(err)
	}

	neighbors, err := Discover(store, a.Hash, 1)
	if err != nil {
		t.Fatal(err)
	}
	if len(neighbors) != 2 {
		t.Fatalf("expected b and c as depth-1 neighbors, got %v", neighbors)
	}

	far, err := Discover(store, a.Hash, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(far) != 0 {
		t.Fatalf("expected no neighbors at depth 0, got %v", far)
	}
}

func TestDiscoverUnknownHash(t *testing.T) {
	store := graphstore.NewMemory()
	if _, err := Discover(store, "nosuchhash1", 1); err == nil {
		t.Fatal("expected an error for an unknown hash")
	}
}

func TestWhereListsLiveCallersOnly(t *testing.T) {
	store := graphstore.NewMemory()
	callee := addNode(t, store, graphstore.GraphNode{Hash: "h0000000110", Name: "add", Kind: astmodel.KindFunction, FilePath: "a.go", LineStart: 1})
	caller := addNode(t, store, graphstore.GraphNode{Hash: "h0000000111", Name: "main", Kind: astmodel.KindFunction, FilePath: "b.go", LineStart: 1})
	importer := addNode(t, store, graphstore.GraphNode{Hash: "h0000000112", Name: "mod", Kind: astmodel.KindModule, FilePath: "c.go", LineStart: 1})

	if err := store.UpdateEdges(graphstore.EdgeBatch{Added: []graphstore.GraphEdge{
		{SrcID: caller.ID, DstID: callee.ID, Kind: graphstore.EdgeCalls},
		{SrcID: importer.ID, DstID: callee.ID, Kind: graphstore.EdgeImports},
	}}); err != nil {
		t.Fatal(err)
	}

	callers, err := Where(store, callee.Hash)
	if err != nil {
		t.Fatal(err)
	}
	if len(callers) != 1 || callers[0].FilePath != "b.go" {
		t.Fatalf("expected only the Calls-kind caller b.go, got %v", callers)
	}
}

func TestExplainBrokenCallerListsCallers(t *testing.T) {
	store := graphstore.NewMemory()
	callee := addNode(t, store, graphstore.GraphNode{Hash: "h0000000120", Name: "add", Kind: astmodel.KindFunction, FilePath: "a.go", LineStart: 1, Signature: "add(a, b int) int"})
	caller := addNode(t, store, graphstore.GraphNode{Hash: "h0000000121", Name: "main", Kind: astmodel.KindFunction, FilePath: "b.go", LineStart: 1})
	_ = store.UpdateEdges(graphstore.EdgeBatch{Added: []graphstore.GraphEdge{
		{SrcID: caller.ID, DstID: callee.ID, Kind: graphstore.EdgeCalls, CallLine: 9, Confidence: 0.8},
	}})

	text, err := Explain(store, violation.CodeBrokenCaller, callee.Hash)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(text, "b.go") {
		t.Fatalf("expected explanation to cite b.go, got %q", text)
	}
}

func TestExplainUnknownCode(t *testing.T) {
	store := graphstore.NewMemory()
	n := addNode(t, store, graphstore.GraphNode{Hash: "h0000000130", Name: "x", Kind: astmodel.KindFunction, FilePath: "a.go", LineStart: 1})
	if _, err := Explain(store, violation.Code("E999"), n.Hash); err == nil {
		t.Fatal("expected an error for an unrecognized rule code")
	}
}

func TestAnalyzeFlagsMonolithAndIsolated(t *testing.T) {
	store := graphstore.NewMemory()
	var nodes []graphstore.GraphNode
	for i := 0; i < 26; i++ {
		nodes = append(nodes, graphstore.GraphNode{
			Hash:         hashFor(i),
			Name:         nameFor(i),
			Kind:         astmodel.KindFunction,
			FilePath:     "big.go",
			LineStart:    i + 1,
			IsPublic:     true,
			HasDocstring: true,
			HasTypeHints: true,
		})
	}
	if err := store.UpdateNodes(graphstore.NodeBatch{Added: nodes}); err != nil {
		t.Fatal(err)
	}

	result, err := Analyze(store, "big.go")
	if err != nil {
		t.Fatal(err)
	}
	foundMonolith := false
	foundIsolated := false
	for _, s := range result.Smells {
		if s.Kind == "Monolith" {
			foundMonolith = true
		}
		if s.Kind == "Isolated" {
			foundIsolated = true
		}
	}
	if !foundMonolith {
		t.Fatalf("expected a Monolith smell for 26 functions, got %v", result.Smells)
	}
	if !foundIsolated {
		t.Fatalf("expected every public, caller-less function to be Isolated, got %v", result.Smells)
	}
}

func TestCheckReportsCallerCountAndSingleNodeFindings(t *testing.T) {
	store := graphstore.NewMemory()
	n := addNode(t, store, graphstore.GraphNode{
		Hash: "h0000000140", Name: "Run", Kind: astmodel.KindFunction, FilePath: "a.go", LineStart: 1,
		IsPublic: true, HasDocstring: false, HasTypeHints: true,
	})
	result, err := Check(store, n.Hash)
	if err != nil {
		t.Fatal(err)
	}
	if result.CallerCount != 0 {
		t.Fatalf("expected zero callers, got %d", result.CallerCount)
	}
	found := false
	for _, v := range result.Violations {
		if v.Code == violation.CodeMissingDocstring {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected missing_docstring in Check's live findings, got %v", result.Violations)
	}
}

func TestNameFindsModulePrefixCollision(t *testing.T) {
	store := graphstore.NewMemory()
	addNode(t, store, graphstore.GraphNode{Hash: "h0000000150", Name: "parse_json", Kind: astmodel.KindFunction, FilePath: "json.go", LineStart: 1})

	profiles, err := Name(store, "parse widget", "other.go", astmodel.KindFunction)
	if err != nil {
		t.Fatal(err)
	}
	if len(profiles) != 1 || profiles[0].ModulePath != "json.go" {
		t.Fatalf("expected a collision with json.go, got %v", profiles)
	}
}

func hashFor(i int) string {
	const alphabet = "abcdefghijklmnopqrstuvwxyz0123456789"
	b := make([]byte, 11)
	for j := range b {
		b[j] = alphabet[(i*7+j)%len(alphabet)]
	}
	return string(b)
}

func nameFor(i int) string {
	return "fn" + string(rune('A'+i))
}
