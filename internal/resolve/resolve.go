// Copyright (c) 2025 The Keel Authors.
// Licensed under the Apache License, Version 2.0.

// Package resolve defines the LanguageResolver contract (spec §4.1) and
// the dispatch table that maps a detected walker.Language to a concrete
// resolver instance. Individual languages live in sibling packages
// (golang, python, typescript, rust); this package only holds the shared
// shape and the tag-dispatch table described in spec §9
// ("Polymorphism over languages").
package resolve

import (
	"context"

	"github.com/keel-dev/keel/internal/astmodel"
)

// ResolvedEdge is what resolve_call_edge returns when a Tier-2 resolver
// can confirm or override a Tier-1 candidate (spec §4.1).
type ResolvedEdge struct {
	TargetHash string
	Confidence float64
	Tier       int
}

// LanguageResolver is the per-language capability set (spec §4.1, §9):
// language tag, Tier-1 syntactic parse, and an optional Tier-2 semantic
// call-edge resolution hook. Variants are tag-dispatched from Table, not
// inherited from a common base type.
type LanguageResolver interface {
	// Language returns the resolver's language tag ("go", "python",
	// "typescript", "rust").
	Language() string

	// ParseFile runs the Tier-1 syntactic pass over content and returns
	// every Definition/Reference/Import/ExternalEndpoint it can extract.
	// A malformed file returns ErrParseFailed; the caller skips it
	// rather than aborting compile (spec §4.1, §7).
	ParseFile(ctx context.Context, path string, content []byte) (astmodel.ParseResult, error)

	// ResolveCallEdge is the Tier-2 semantic hook. Resolvers with no
	// Tier-2 tool (Go's package-path heuristics are "sufficient without
	// Tier 2", spec §4.1) return (ResolvedEdge{}, false, nil).
	ResolveCallEdge(ctx context.Context, ref astmodel.Reference, fileContent []byte) (ResolvedEdge, bool, error)
}

// Table dispatches a walker.Language tag to its LanguageResolver
// instance. It is populated once by explicit Register calls (the CLI's
// buildTable registers every shipped resolver), then consulted by
// ResolverFramework — a flat map lookup, never a type switch, so adding
// a fifth language never touches this file.
type Table struct {
	resolvers map[string]LanguageResolver
}

// NewTable returns an empty dispatch table.
func NewTable() *Table {
	return &Table{resolvers: make(map[string]LanguageResolver)}
}

// Register adds or replaces the resolver for a language tag.
func (t *Table) Register(r LanguageResolver) {
	t.resolvers[r.Language()] = r
}

// Get returns the resolver registered for a language tag.
func (t *Table) Get(language string) (LanguageResolver, bool) {
	r, ok := t.resolvers[language]
	return r, ok
}
