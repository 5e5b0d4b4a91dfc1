// Copyright (c) 2025 The Keel Authors.
// Licensed under the Apache License, Version 2.0.

package engine

import (
	"context"
	"os"
	"testing"

	"github.com/keel-dev/keel/internal/astmodel"
	"github.com/keel-dev/keel/internal/circuitbreaker"
	"github.com/keel-dev/keel/internal/control"
	"github.com/keel-dev/keel/internal/graphstore"
	"github.com/keel-dev/keel/internal/resolve"
	"github.com/keel-dev/keel/internal/resolveframework"
	"github.com/keel-dev/keel/internal/violation"
)

func newTestEngine(t *testing.T) (*Engine, graphstore.Store) {
	t.Helper()
	root := t.TempDir()
	dir := control.New(root)
	if err := os.MkdirAll(dir.Root, 0o750); err != nil {
		t.Fatalf("mkdir control dir: %v", err)
	}
	store := graphstore.NewMemory()
	table := resolve.NewTable()
	framework := resolveframework.New(table)
	breaker := circuitbreaker.New()
	e := New(store, table, framework, breaker, nil, dir, root)
	return e, store
}

// compile runs one Compile call, failing the test only on a genuine
// pipeline error (ErrViolations is expected whenever errors were found
// and is not itself a failure here).
func compile(t *testing.T, e *Engine, files []astmodel.FileIndex, opts Options) violation.Result {
	t.Helper()
	result, _, err := e.Compile(context.Background(), files, opts)
	if err != nil && len(result.Errors) == 0 {
		t.Fatalf("Compile: %v", err)
	}
	return result
}

func def(name string, kind astmodel.Kind, lineStart int, body string) astmodel.Definition {
	return astmodel.Definition{
		Name:      name,
		Kind:      kind,
		Location:  astmodel.Location{LineStart: lineStart, LineEnd: lineStart + 3},
		Signature: name + "()",
		Body:      body,
		IsPublic:  true,
	}
}

func TestCompileAddsNodesAndResolvesSameFileCall(t *testing.T) {
	e, store := newTestEngine(t)

	files := []astmodel.FileIndex{{
		FilePath: "a.go",
		Definitions: []astmodel.Definition{
			def("Add", astmodel.KindFunction, 1, "return a + b"),
			def("Main", astmodel.KindFunction, 10, "Add(1, 2)"),
		},
		References: []astmodel.Reference{{
			Name: "Add", Kind: astmodel.EdgeCalls, CallLine: 11, ArgCount: 2,
			FromDefinition: "Main", FromKind: astmodel.KindFunction,
		}},
	}}

	result := compile(t, e, files, Options{})
	if result.NodesUpdated != 2 {
		t.Fatalf("expected 2 nodes updated, got %d", result.NodesUpdated)
	}
	if result.EdgesUpdated != 1 {
		t.Fatalf("expected 1 edge resolved, got %d", result.EdgesUpdated)
	}

	nodes, err := store.GetNodesInFile("a.go")
	if err != nil || len(nodes) != 2 {
		t.Fatalf("expected 2 stored nodes, got %v (err=%v)", nodes, err)
	}
}

func TestCompileModifyTracksPreviousHash(t *testing.T) {
	e, store := newTestEngine(t)

	first := []astmodel.FileIndex{{
		FilePath:    "a.go",
		Definitions: []astmodel.Definition{def("Add", astmodel.KindFunction, 1, "return a + b")},
	}}
	compile(t, e, first, Options{})

	before, err := store.GetNodesInFile("a.go")
	if err != nil || len(before) != 1 {
		t.Fatalf("expected one node after first compile, got %v (err=%v)", before, err)
	}
	oldHash := before[0].Hash

	second := []astmodel.FileIndex{{
		FilePath:    "a.go",
		Definitions: []astmodel.Definition{def("Add", astmodel.KindFunction, 1, "return a + b + 1")},
	}}
	compile(t, e, second, Options{})

	after, err := store.GetNodesInFile("a.go")
	if err != nil || len(after) != 1 {
		t.Fatalf("expected one node after second compile, got %v", after)
	}
	if after[0].Hash == oldHash {
		t.Fatalf("expected the hash to change after body edit")
	}
	if len(after[0].PreviousHashes) == 0 || after[0].PreviousHashes[0] != oldHash {
		t.Fatalf("expected PreviousHashes[0] == old hash %s, got %v", oldHash, after[0].PreviousHashes)
	}
}

func TestCompileRemovalFiresFunctionRemoved(t *testing.T) {
	e, _ := newTestEngine(t)

	withCallee := []astmodel.FileIndex{
		{FilePath: "a.go", Definitions: []astmodel.Definition{def("Add", astmodel.KindFunction, 1, "return a + b")}},
		{
			FilePath:    "b.go",
			Definitions: []astmodel.Definition{def("Main", astmodel.KindFunction, 1, "Add(1, 2)")},
			References: []astmodel.Reference{{
				Name: "Add", Kind: astmodel.EdgeCalls, CallLine: 2, ArgCount: 2,
				FromDefinition: "Main", FromKind: astmodel.KindFunction,
			}},
		},
	}
	compile(t, e, withCallee, Options{})

	// Reparse a.go with Add removed, leaving b.go untouched so its call
	// edge to Add is still live when the diff runs.
	withoutCallee := []astmodel.FileIndex{
		{FilePath: "a.go", Definitions: nil},
	}
	result := compile(t, e, withoutCallee, Options{})

	found := false
	for _, v := range result.Errors {
		if v.Code == violation.CodeFunctionRemoved {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected an E004 function_removed violation, got %+v", result.Errors)
	}
}

func TestCompileBatchModeDefersNonStructural(t *testing.T) {
	e, _ := newTestEngine(t)

	files := []astmodel.FileIndex{{
		FilePath: "a.go",
		Definitions: []astmodel.Definition{
			{Name: "run", Kind: astmodel.KindFunction, Location: astmodel.Location{LineStart: 1, LineEnd: 2}, Signature: "run()", Body: "x", IsPublic: true, HasDocstring: false, HasTypeHints: true},
		},
	}}

	result := compile(t, e, files, Options{BatchStart: true})
	if !result.BatchMode {
		t.Fatalf("expected batch mode to remain active")
	}
	for _, v := range result.Errors {
		if v.Code == violation.CodeMissingDocstring {
			t.Fatalf("expected missing_docstring to be deferred while batch is open, got %+v", result.Errors)
		}
	}

	flush := compile(t, e, nil, Options{BatchEnd: true})
	if flush.BatchMode {
		t.Fatalf("expected batch mode to close on --batch-end")
	}
	found := false
	for _, v := range flush.Errors {
		if v.Code == violation.CodeMissingDocstring {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected the deferred missing_docstring to surface on --batch-end, got %+v", flush.Errors)
	}
}
