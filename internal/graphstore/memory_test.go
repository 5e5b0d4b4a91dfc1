// Copyright (c) 2025 The Keel Authors.
// Licensed under the Apache License, Version 2.0.

package graphstore

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryRoundTripNodeAndEdge(t *testing.T) {
	m := NewMemory()

	require.NoError(t, m.UpdateNodes(NodeBatch{Added: []GraphNode{
		{Hash: "aaaaaaaaaaa", Name: "add", Kind: "function", FilePath: "a.ts", LineStart: 1},
		{Hash: "bbbbbbbbbbb", Name: "main", Kind: "function", FilePath: "b.ts", LineStart: 1},
	}}))

	add, ok, err := m.GetNode("aaaaaaaaaaa")
	require.NoError(t, err)
	require.True(t, ok)
	main, ok, err := m.GetNode("bbbbbbbbbbb")
	require.NoError(t, err)
	require.True(t, ok)

	require.NoError(t, m.UpdateEdges(EdgeBatch{Added: []GraphEdge{
		{SrcID: main.ID, DstID: add.ID, Kind: EdgeCalls, Confidence: 0.8, ResolutionTier: 1, CallLine: 3},
	}}))

	outEdges, err := m.GetEdges(main.ID, Outgoing)
	require.NoError(t, err)
	require.Len(t, outEdges, 1)
	assert.Equal(t, add.ID, outEdges[0].DstID)

	inEdges, err := m.GetEdges(add.ID, Incoming)
	require.NoError(t, err)
	require.Len(t, inEdges, 1)
	assert.Equal(t, main.ID, inEdges[0].SrcID)
}

func TestMemoryRejectsSelfCallAndDuplicateEdge(t *testing.T) {
	m := NewMemory()
	require.NoError(t, m.UpdateNodes(NodeBatch{Added: []GraphNode{
		{Hash: "aaaaaaaaaaa", Name: "recurse", Kind: "function", FilePath: "a.go", LineStart: 1},
		{Hash: "bbbbbbbbbbb", Name: "helper", Kind: "function", FilePath: "a.go", LineStart: 10},
	}}))
	n, ok, err := m.GetNode("aaaaaaaaaaa")
	require.NoError(t, err)
	require.True(t, ok)

	require.NoError(t, m.UpdateEdges(EdgeBatch{Added: []GraphEdge{
		{SrcID: n.ID, DstID: n.ID, Kind: EdgeCalls},
		{SrcID: n.ID, DstID: n.ID, Kind: EdgeCalls},
	}}))
	edges, err := m.GetEdges(n.ID, Outgoing)
	require.NoError(t, err)
	assert.Empty(t, edges, "expected self-Calls edge to be rejected")

	helper, ok, err := m.GetNode("bbbbbbbbbbb")
	require.NoError(t, err)
	require.True(t, ok)
	require.NoError(t, m.UpdateEdges(EdgeBatch{Added: []GraphEdge{
		{SrcID: n.ID, DstID: helper.ID, Kind: EdgeCalls},
		{SrcID: n.ID, DstID: helper.ID, Kind: EdgeCalls},
	}}))
	edges, err = m.GetEdges(n.ID, Outgoing)
	require.NoError(t, err)
	require.Len(t, edges, 1, "expected the duplicate Calls edge to be rejected")
}

func TestMemoryRenamePreservesPreviousHashes(t *testing.T) {
	m := NewMemory()
	require.NoError(t, m.UpdateNodes(NodeBatch{Added: []GraphNode{
		{Hash: "oldhash0001", Name: "add", Kind: "function", FilePath: "a.ts", LineStart: 1},
	}}))

	// Move add from a.ts to c.ts with an identical body: same hash,
	// different file/line -> rename, not a new definition.
	err := m.UpdateNodes(NodeBatch{
		Removed: []NodeIdentity{{FilePath: "a.ts", Name: "add", Kind: "function", LineStart: 1}},
		Added: []GraphNode{
			{Hash: "oldhash0001", Name: "add", Kind: "function", FilePath: "c.ts", LineStart: 10},
		},
	})
	require.NoError(t, err)

	n, ok, err := m.GetNode("oldhash0001")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "c.ts", n.FilePath)
	assert.Contains(t, n.PreviousHashes, "oldhash0001")
}

func TestMemoryCollisionDisambiguates(t *testing.T) {
	m := NewMemory()
	require.NoError(t, m.UpdateNodes(NodeBatch{Added: []GraphNode{
		{Hash: "samehash001", Name: "foo", Kind: "function", FilePath: "a.go", LineStart: 1},
	}}))
	require.NoError(t, m.UpdateNodes(NodeBatch{Added: []GraphNode{
		{Hash: "samehash001", Name: "bar", Kind: "function", FilePath: "b.go", LineStart: 1},
	}}))

	foo, ok, err := m.GetNode("samehash001")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "foo", foo.Name, "expected original node to keep the base hash")

	all, err := m.FindNodesByName("bar", "function", "")
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.NotEqual(t, "samehash001", all[0].Hash, "expected colliding node to get a disambiguated hash")
}

func TestMemoryFindModulesByPrefix(t *testing.T) {
	m := NewMemory()
	require.NoError(t, m.UpdateNodes(NodeBatch{Added: []GraphNode{
		{Hash: "h0000000001", Name: "parse_json", Kind: "function", FilePath: "json.ts", LineStart: 1},
		{Hash: "h0000000002", Name: "parse_args", Kind: "function", FilePath: "json.ts", LineStart: 10},
	}}))

	profiles, err := m.FindModulesByPrefix("parse", "util.ts")
	require.NoError(t, err)
	require.Len(t, profiles, 1)
	assert.Equal(t, "json.ts", profiles[0].ModulePath)
}

func TestFirstTokenNormalizesCase(t *testing.T) {
	cases := map[string]string{
		"parse_json": "parse",
		"parseJSON":  "parse",
		"Render":     "render",
	}
	for name, want := range cases {
		assert.Equal(t, want, firstToken(name), "firstToken(%q)", name)
	}
}
