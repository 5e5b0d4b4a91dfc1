// Copyright (c) 2025 The Keel Authors.
// Licensed under the Apache License, Version 2.0.

package graphstore

import "testing"

func TestBadgerRoundTripAndReopen(t *testing.T) {
	dir := t.TempDir()

	b, err := Open(DefaultConfig(dir))
	if err != nil {
		t.Fatal(err)
	}
	if err := b.UpdateNodes(NodeBatch{Added: []GraphNode{
		{Hash: "aaaaaaaaaaa", Name: "add", Kind: "function", FilePath: "a.ts", LineStart: 1},
	}}); err != nil {
		t.Fatal(err)
	}
	if err := b.Close(); err != nil {
		t.Fatal(err)
	}

	b2, err := Open(DefaultConfig(dir))
	if err != nil {
		t.Fatal(err)
	}
	defer b2.Close()

	n, ok, err := b2.GetNode("aaaaaaaaaaa")
	if err != nil || !ok {
		t.Fatalf("expected node to survive reopen: ok=%v err=%v", ok, err)
	}
	if n.FilePath != "a.ts" {
		t.Fatalf("unexpected file path %q", n.FilePath)
	}
}

func TestBadgerInMemoryRejectsNewerSchema(t *testing.T) {
	cfg := Config{InMemory: true}
	b, err := Open(cfg)
	if err != nil {
		t.Fatal(err)
	}
	defer b.Close()

	if err := b.writeSchemaVersion(CurrentSchemaVersion + 1); err != nil {
		t.Fatal(err)
	}

	if err := b.loadOrInit(); err != ErrIncompatibleSchema {
		t.Fatalf("expected ErrIncompatibleSchema, got %v", err)
	}
}
