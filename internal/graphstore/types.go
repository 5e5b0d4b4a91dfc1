// Copyright (c) 2025 The Keel Authors.
// Licensed under the Apache License, Version 2.0.

// Package graphstore is the persistent, versioned graph store (spec
// §4.3): content-addressable GraphNodes, directed GraphEdges, derived
// ModuleProfiles, rename tracking, and batch transactional updates.
package graphstore

import (
	"errors"

	"github.com/keel-dev/keel/internal/astmodel"
)

// Kind is a type alias of astmodel.Kind, so a GraphNode's Kind is the
// same type the parsers produce.
type Kind = astmodel.Kind

// EdgeKind is the relation a GraphEdge represents.
type EdgeKind string

const (
	EdgeCalls      EdgeKind = "calls"
	EdgeImports    EdgeKind = "imports"
	EdgeImplements EdgeKind = "implements"
	EdgeReferences EdgeKind = "references"
	EdgeContains   EdgeKind = "contains"
)

// Direction selects which end of an edge GetEdges walks from.
type Direction int

const (
	Outgoing Direction = iota
	Incoming
)

// MaxPreviousHashes bounds GraphNode.PreviousHashes (spec §3: "length ≤ 3").
const MaxPreviousHashes = 3

// GraphNode is a single definition (spec §3 "GraphNode").
type GraphNode struct {
	ID       int64
	Hash     string
	Name     string
	Kind     Kind
	FilePath string

	LineStart int
	LineEnd   int
	Signature string

	IsPublic      bool
	HasDocstring  bool
	HasTypeHints  bool
	MinArity      int
	MaxArity      int

	// PreviousHashes is most-recent-first, length <= MaxPreviousHashes.
	PreviousHashes []string

	// Suppressions are the rule codes suppressed for this node (spec
	// §4.5 "Suppression").
	Suppressions []string
}

// Identity returns the tuple that uniquely identifies a node within a
// snapshot (spec §3 invariant on GraphNode).
func (n GraphNode) Identity() NodeIdentity {
	return NodeIdentity{FilePath: n.FilePath, Name: n.Name, Kind: n.Kind, LineStart: n.LineStart}
}

// NodeIdentity is the (file_path, name, kind, line_start) tuple.
type NodeIdentity struct {
	FilePath  string
	Name      string
	Kind      Kind
	LineStart int
}

// GraphEdge is a directed relation between two nodes (spec §3 "GraphEdge").
type GraphEdge struct {
	SrcID          int64
	DstID          int64
	Kind           EdgeKind
	Confidence     float64
	ResolutionTier int // 1, 2, or 3
	CallLine       int // only meaningful for EdgeCalls
	ArgCount       int // only meaningful for EdgeCalls; drives E005
}

// ModuleProfile is the derived per-module summary (spec §3
// "ModuleProfile").
type ModuleProfile struct {
	ModulePath             string
	FunctionNamePrefixes   map[string]int // prefix token -> multiplicity
	ResponsibilityKeywords []string       // top-N TF-IDF tokens
	FunctionCount          int
	ExternalEndpoints      []string
}

// NodeBatch describes one update_nodes transaction (spec §4.3 "Writes").
type NodeBatch struct {
	Added    []GraphNode
	Modified []GraphNode
	// Removed identifies nodes by identity, not id: the diff stage (spec
	// §4.4 step 1) matches on (name, kind) within a file, before ids are
	// known for newly-added replacements.
	Removed []NodeIdentity
}

// EdgeBatch describes one update_edges transaction.
type EdgeBatch struct {
	// DropFiles lists file paths whose outgoing edges (edges whose src
	// belongs to that file) are dropped before Added is inserted (spec
	// §4.4 step 3).
	DropFiles []string
	Added     []GraphEdge
}

var (
	// ErrIncompatibleSchema is returned by Open when the on-disk schema
	// version is newer than this binary supports.
	ErrIncompatibleSchema = errors.New("graphstore: on-disk schema is newer than this binary supports")
	// ErrNotFound is returned by a read when the target (and all of its
	// previous_hashes) are absent.
	ErrNotFound = errors.New("graphstore: not found")
)
