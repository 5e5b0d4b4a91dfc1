// Copyright (c) 2025 The Keel Authors.
// Licensed under the Apache License, Version 2.0.

package rules

import (
	"testing"
	"time"

	"github.com/keel-dev/keel/internal/astmodel"
	"github.com/keel-dev/keel/internal/graphstore"
	"github.com/keel-dev/keel/internal/violation"
)

func mustNode(t *testing.T, store graphstore.Store, n graphstore.GraphNode) graphstore.GraphNode {
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

func TestBrokenCallerFiresForUntouchedCaller(t *testing.T) {
	store := graphstore.NewMemory()
	callee := mustNode(t, store, graphstore.GraphNode{Hash: "calleehash01", Name: "add", Kind: astmodel.KindFunction, FilePath: "a.go", LineStart: 1, Signature: "func add(a, b int) int"})
	caller := mustNode(t, store, graphstore.GraphNode{Hash: "callerhash01", Name: "main", Kind: astmodel.KindFunction, FilePath: "b.go", LineStart: 1})

	if err := store.UpdateEdges(graphstore.EdgeBatch{Added: []graphstore.GraphEdge{
		{SrcID: caller.ID, DstID: callee.ID, Kind: graphstore.EdgeCalls, Confidence: 0.9, ResolutionTier: 1, CallLine: 5},
	}}); err != nil {
		t.Fatal(err)
	}

	ctx := Context{
		Store:         store,
		Now:           time.Now(),
		TouchedFiles:  map[string]bool{"a.go": true}, // b.go (the caller) was not reparsed
		ModifiedNodes: []ModifiedNode{{NodeID: callee.ID, OldHash: "oldhash0001"}},
	}
	found := BrokenCaller(ctx)
	if len(found) != 1 {
		t.Fatalf("expected one broken_caller violation, got %v", found)
	}
	if found[0].Code != violation.CodeBrokenCaller {
		t.Fatalf("expected CodeBrokenCaller, got %s", found[0].Code)
	}
	if len(found[0].Affected) != 1 || found[0].Affected[0].FilePath != "b.go" {
		t.Fatalf("expected b.go as the affected caller, got %+v", found[0].Affected)
	}
}

func TestBrokenCallerSkipsTouchedCaller(t *testing.T) {
	store := graphstore.NewMemory()
	callee := mustNode(t, store, graphstore.GraphNode{Hash: "calleehash02", Name: "add", Kind: astmodel.KindFunction, FilePath: "a.go", LineStart: 1})
	caller := mustNode(t, store, graphstore.GraphNode{Hash: "callerhash02", Name: "main", Kind: astmodel.KindFunction, FilePath: "b.go", LineStart: 1})
	_ = store.UpdateEdges(graphstore.EdgeBatch{Added: []graphstore.GraphEdge{
		{SrcID: caller.ID, DstID: callee.ID, Kind: graphstore.EdgeCalls, Confidence: 0.9},
	}})

	ctx := Context{
		Store:         store,
		Now:           time.Now(),
		TouchedFiles:  map[string]bool{"a.go": true, "b.go": true},
		ModifiedNodes: []ModifiedNode{{NodeID: callee.ID, OldHash: "oldhash0002"}},
	}
	if found := BrokenCaller(ctx); len(found) != 0 {
		t.Fatalf("expected no violations when every caller file was reparsed, got %v", found)
	}
}

func TestBrokenCallerDemotesOnLowConfidence(t *testing.T) {
	store := graphstore.NewMemory()
	callee := mustNode(t, store, graphstore.GraphNode{Hash: "calleehash03", Name: "add", Kind: astmodel.KindFunction, FilePath: "a.go", LineStart: 1})
	caller := mustNode(t, store, graphstore.GraphNode{Hash: "callerhash03", Name: "main", Kind: astmodel.KindFunction, FilePath: "b.go", LineStart: 1})
	_ = store.UpdateEdges(graphstore.EdgeBatch{Added: []graphstore.GraphEdge{
		{SrcID: caller.ID, DstID: callee.ID, Kind: graphstore.EdgeCalls, Confidence: 0.3},
	}})

	ctx := Context{
		Store:         store,
		TouchedFiles:  map[string]bool{},
		ModifiedNodes: []ModifiedNode{{NodeID: callee.ID, OldHash: "oldhash0003"}},
	}
	found := BrokenCaller(ctx)
	if len(found) != 1 {
		t.Fatalf("expected one violation, got %v", found)
	}
	if found[0].Code != violation.Code("W-"+string(violation.CodeBrokenCaller)) {
		t.Fatalf("expected the demoted warning code, got %s", found[0].Code)
	}
}

func TestFunctionRemovedFiresForLiveCaller(t *testing.T) {
	store := graphstore.NewMemory()
	caller := mustNode(t, store, graphstore.GraphNode{Hash: "callerhash04", Name: "main", Kind: astmodel.KindFunction, FilePath: "b.go", LineStart: 1})

	ctx := Context{
		Store: store,
		RemovedNodes: []RemovedNode{{
			OldID:    999,
			OldHash:  "removedhash1",
			FilePath: "a.go",
			IncomingCallers: []graphstore.GraphEdge{
				{SrcID: caller.ID, DstID: 999, Kind: graphstore.EdgeCalls, CallLine: 7},
			},
		}},
	}
	found := FunctionRemoved(ctx)
	if len(found) != 1 || found[0].Code != violation.CodeFunctionRemoved {
		t.Fatalf("expected one function_removed violation, got %v", found)
	}
}

func TestFunctionRemovedSkipsWhenNoLiveCallers(t *testing.T) {
	store := graphstore.NewMemory()
	ctx := Context{
		Store: store,
		RemovedNodes: []RemovedNode{{
			OldID:    1,
			OldHash:  "removedhash2",
			FilePath: "a.go",
		}},
	}
	if found := FunctionRemoved(ctx); len(found) != 0 {
		t.Fatalf("expected no violations with no incoming callers, got %v", found)
	}
}

func TestArityMismatchFiresOutsideRange(t *testing.T) {
	store := graphstore.NewMemory()
	callee := mustNode(t, store, graphstore.GraphNode{Hash: "calleehash05", Name: "add", Kind: astmodel.KindFunction, FilePath: "a.go", LineStart: 1, MinArity: 2, MaxArity: 2})
	caller := mustNode(t, store, graphstore.GraphNode{Hash: "callerhash05", Name: "main", Kind: astmodel.KindFunction, FilePath: "b.go", LineStart: 1})
	_ = store.UpdateEdges(graphstore.EdgeBatch{Added: []graphstore.GraphEdge{
		{SrcID: caller.ID, DstID: callee.ID, Kind: graphstore.EdgeCalls, ArgCount: 3, Confidence: 0.9, ResolutionTier: 1},
	}})

	ctx := Context{Store: store, AddedNodes: []graphstore.GraphNode{callee}}
	found := ArityMismatch(ctx)
	if len(found) != 1 || found[0].Code != violation.CodeArityMismatch {
		t.Fatalf("expected one arity_mismatch violation, got %v", found)
	}
}

func TestArityMismatchAllowsInRange(t *testing.T) {
	store := graphstore.NewMemory()
	callee := mustNode(t, store, graphstore.GraphNode{Hash: "calleehash06", Name: "add", Kind: astmodel.KindFunction, FilePath: "a.go", LineStart: 1, MinArity: 1, MaxArity: 3})
	caller := mustNode(t, store, graphstore.GraphNode{Hash: "callerhash06", Name: "main", Kind: astmodel.KindFunction, FilePath: "b.go", LineStart: 1})
	_ = store.UpdateEdges(graphstore.EdgeBatch{Added: []graphstore.GraphEdge{
		{SrcID: caller.ID, DstID: callee.ID, Kind: graphstore.EdgeCalls, ArgCount: 2},
	}})

	ctx := Context{Store: store, AddedNodes: []graphstore.GraphNode{callee}}
	if found := ArityMismatch(ctx); len(found) != 0 {
		t.Fatalf("expected no violations within arity range, got %v", found)
	}
}

func TestMissingTypeHintsOnlyFlagsPublicFunctions(t *testing.T) {
	store := graphstore.NewMemory()
	pub := graphstore.GraphNode{Hash: "h0000000010", Name: "Run", Kind: astmodel.KindFunction, FilePath: "a.go", LineStart: 1, IsPublic: true, HasTypeHints: false}
	priv := graphstore.GraphNode{Hash: "h0000000011", Name: "run", Kind: astmodel.KindFunction, FilePath: "a.go", LineStart: 2, IsPublic: false, HasTypeHints: false}

	ctx := Context{Store: store, AddedNodes: []graphstore.GraphNode{pub, priv}}
	found := MissingTypeHints(ctx)
	if len(found) != 1 || found[0].Hash != pub.Hash {
		t.Fatalf("expected only the public node flagged, got %v", found)
	}
}

func TestMissingDocstringRespectsSuppression(t *testing.T) {
	store := graphstore.NewMemory()
	n := graphstore.GraphNode{
		Hash: "h0000000012", Name: "Run", Kind: astmodel.KindFunction, FilePath: "a.go", LineStart: 1,
		IsPublic: true, HasDocstring: false, Suppressions: []string{string(violation.CodeMissingDocstring)},
	}
	ctx := Context{Store: store, AddedNodes: []graphstore.GraphNode{n}}
	if found := MissingDocstring(ctx); len(found) != 0 {
		t.Fatalf("expected suppression to silence missing_docstring, got %v", found)
	}
}

func TestDuplicateNameFiresOnCollision(t *testing.T) {
	store := graphstore.NewMemory()
	existing := mustNode(t, store, graphstore.GraphNode{Hash: "h0000000020", Name: "Parse", Kind: astmodel.KindFunction, FilePath: "a.go", LineStart: 1})
	fresh := graphstore.GraphNode{Hash: "h0000000021", Name: "Parse", Kind: astmodel.KindFunction, FilePath: "b.go", LineStart: 1}

	ctx := Context{Store: store, AddedNodes: []graphstore.GraphNode{fresh}}
	found := DuplicateName(ctx)
	if len(found) != 1 || found[0].Code != violation.CodeDuplicateName {
		t.Fatalf("expected one duplicate_name violation, got %v", found)
	}
	if found[0].FixHint == "" {
		t.Fatalf("expected a fix hint naming %s", existing.FilePath)
	}
}

func TestFirstTokenSplitsSnakeAndCamel(t *testing.T) {
	cases := map[string]string{
		"parse_args": "parse",
		"ParseArgs":  "parse",
		"render":     "render",
	}
	for in, want := range cases {
		if got := firstToken(in); got != want {
			t.Errorf("firstToken(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestRunSortsByPriority(t *testing.T) {
	store := graphstore.NewMemory()
	pub := graphstore.GraphNode{Hash: "h0000000030", Name: "Run", Kind: astmodel.KindFunction, FilePath: "a.go", LineStart: 1, IsPublic: true}
	ctx := Context{Store: store, AddedNodes: []graphstore.GraphNode{pub}}
	found := Run(ctx)
	for i := 1; i < len(found); i++ {
		if violation.Priority(found[i-1].Code) > violation.Priority(found[i].Code) {
			t.Fatalf("Run() result not priority-sorted: %v", found)
		}
	}
}
