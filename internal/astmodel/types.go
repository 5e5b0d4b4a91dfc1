// Copyright (c) 2025 The Keel Authors.
// Licensed under the Apache License, Version 2.0.

// Package astmodel holds the language-agnostic shapes a LanguageResolver
// produces: Definition, Reference, Import, ExternalEndpoint, and the
// FileIndex that bundles them for one file. Every resolver in
// internal/resolve/* normalizes its language's AST into these types so
// the rest of the engine never branches on language.
package astmodel

// Kind is the declaration kind a Definition carries. It doubles as the
// GraphNode.Kind enum once the definition is applied to the store.
type Kind string

const (
	KindModule    Kind = "module"
	KindFunction  Kind = "function"
	KindClass     Kind = "class"
	KindMethod    Kind = "method"
	KindStruct    Kind = "struct"
	KindTrait     Kind = "trait"
	KindInterface Kind = "interface"
	KindPackage   Kind = "package"
)

// EdgeKind mirrors GraphEdge.Kind; Reference carries enough to pick one
// once resolved.
type EdgeKind string

const (
	EdgeCalls      EdgeKind = "calls"
	EdgeImports    EdgeKind = "imports"
	EdgeImplements EdgeKind = "implements"
	EdgeReferences EdgeKind = "references"
	EdgeContains   EdgeKind = "contains"
)

// Location pins a span of source text to a file.
type Location struct {
	FilePath  string
	LineStart int
	LineEnd   int
}

// Param is one parameter of a Definition's signature, enough to check
// E002 (missing_type_hints) and E005 (arity_mismatch).
type Param struct {
	Name        string
	HasTypeHint bool
	HasDefault  bool
	IsVariadic  bool
}

// Suppression records a parsed `keel: allow <CODE>` comment attached to a
// Definition (spec §4.5 "Suppression").
type Suppression struct {
	Code string
}

// Definition is a function/class/method/module/struct/trait/interface/
// package declaration extracted by a parser. It carries enough to form a
// GraphNode once hashed and applied to the store.
type Definition struct {
	Name      string
	Kind      Kind
	Location  Location
	Signature string // canonical one-line form, used as hash input and display
	Body      string // normalized body text, used as hash input
	Docstring string

	IsPublic      bool
	HasDocstring  bool
	HasTypeHints  bool // true iff every Param.HasTypeHint is true
	Params        []Param
	MinArity      int // minimum accepted argument count (accounts for defaults)
	MaxArity      int // maximum accepted argument count (-1 = unbounded, variadic)
	Suppressions  []Suppression
}

// Reference is a call site or import site that needs resolution to a
// Definition.
type Reference struct {
	// Name is the identifier being referenced (the callee name, or the
	// imported symbol/module name).
	Name string
	Kind EdgeKind
	Location
	// CallLine is the source line of a Calls reference; zero for non-call
	// references.
	CallLine int
	// ArgCount is the number of arguments at a call site, used by E005.
	ArgCount int
	// FromDefinition is the name of the enclosing Definition, if any; the
	// empty string means the reference occurs at module scope.
	FromDefinition string
	FromKind       Kind
}

// Import is a module/package import statement.
type Import struct {
	Path     string // as written in source
	Alias    string
	Location Location
}

// ExternalEndpoint is a network/API surface a parser can detect heuristically
// (an HTTP route registration, an RPC method, and similar) and that
// ModuleProfile aggregates per module.
type ExternalEndpoint struct {
	Description string
	Location    Location
}

// ParseResult is what LanguageResolver.parse_file returns (spec §4.1).
type ParseResult struct {
	Definitions       []Definition
	References        []Reference
	Imports           []Import
	ExternalEndpoints []ExternalEndpoint
}

// FileIndex is the per-file parser output handed to Engine.Compile (spec
// §3). It is a transient message: once Engine applies it to the store it
// is discarded, never persisted itself.
type FileIndex struct {
	FilePath          string
	ContentHash       string
	Definitions       []Definition
	References        []Reference
	Imports           []Import
	ExternalEndpoints []ExternalEndpoint
	ParseDurationUs   int64
}
