// Copyright (c) 2025 The Keel Authors.
// Licensed under the Apache License, Version 2.0.

// Package rust is the Rust LanguageResolver (spec §4.1). Tier 1 is a
// tree-sitter syntactic pass; Tier 2 is a full semantic engine resolving
// `use`/`mod`/`impl` (spec §4.1), modeled as a pluggable Tier2Runner —
// the grammar import is grounded in the teacher's
// `services/trace/cli/tools/validate/syntax.go`, the only place in the
// retrieved pack that imports `github.com/smacker/go-tree-sitter/rust`.
package rust

import (
	"context"
	"fmt"
	"strings"
	"time"

	sitter "github.com/smacker/go-tree-sitter"
	"github.com/smacker/go-tree-sitter/rust"

	"github.com/keel-dev/keel/internal/astmodel"
	"github.com/keel-dev/keel/internal/hashid"
	"github.com/keel-dev/keel/internal/keelerr"
	"github.com/keel-dev/keel/internal/resolve"
)

// Tier2Runner is the semantic engine hook (spec §4.1).
type Tier2Runner interface {
	Resolve(ctx context.Context, ref astmodel.Reference, fileContent []byte, timeout time.Duration) (target string, confidence float64, ok bool)
}

// Resolver implements resolve.LanguageResolver for Rust.
type Resolver struct {
	Tier2   Tier2Runner
	Timeout time.Duration
}

// New returns a Rust LanguageResolver with no Tier-2 tool configured.
func New() *Resolver { return &Resolver{Timeout: 30 * time.Second} }

func (r *Resolver) Language() string { return "rust" }

func (r *Resolver) ParseFile(ctx context.Context, path string, content []byte) (astmodel.ParseResult, error) {
	parser := sitter.NewParser()
	parser.SetLanguage(rust.GetLanguage())

	tree, err := parser.ParseCtx(ctx, nil, content)
	if err != nil {
		return astmodel.ParseResult{}, fmt.Errorf("%w: %s: %v", keelerr.ErrParseFailed, path, err)
	}
	defer tree.Close()

	root := tree.RootNode()
	if root == nil {
		return astmodel.ParseResult{}, fmt.Errorf("%w: %s: no parse tree", keelerr.ErrParseFailed, path)
	}

	var result astmodel.ParseResult
	walkItems(root, content, path, "", &result)
	return result, nil
}

func (r *Resolver) ResolveCallEdge(ctx context.Context, ref astmodel.Reference, fileContent []byte) (resolve.ResolvedEdge, bool, error) {
	if r.Tier2 == nil {
		return resolve.ResolvedEdge{}, false, nil
	}
	runCtx, cancel := context.WithTimeout(ctx, r.Timeout)
	defer cancel()
	target, confidence, ok := r.Tier2.Resolve(runCtx, ref, fileContent, r.Timeout)
	if !ok {
		return resolve.ResolvedEdge{}, false, fmt.Errorf("%w", keelerr.ErrTier2Timeout)
	}
	return resolve.ResolvedEdge{TargetHash: target, Confidence: confidence, Tier: 2}, true, nil
}

func walk(n *sitter.Node, visit func(*sitter.Node) bool) {
	if n == nil {
		return
	}
	if !visit(n) {
		return
	}
	for i := 0; i < int(n.ChildCount()); i++ {
		walk(n.Child(i), visit)
	}
}

func loc(n *sitter.Node, path string) astmodel.Location {
	return astmodel.Location{FilePath: path, LineStart: int(n.StartPoint().Row) + 1, LineEnd: int(n.EndPoint().Row) + 1}
}

func walkItems(n *sitter.Node, content []byte, path, enclosingType string, result *astmodel.ParseResult) {
	if n == nil {
		return
	}
	for i := 0; i < int(n.ChildCount()); i++ {
		child := n.Child(i)
		switch child.Type() {
		case "use_declaration":
			extractUse(child, content, path, result)
		case "function_item":
			def := parseFunction(child, content, path, enclosingType)
			result.Definitions = append(result.Definitions, def)
			result.References = append(result.References, extractCalls(child, content, path, def)...)
		case "struct_item":
			result.Definitions = append(result.Definitions, parseTypeItem(child, content, path, astmodel.KindStruct))
		case "trait_item":
			result.Definitions = append(result.Definitions, parseTypeItem(child, content, path, astmodel.KindTrait))
			walkItems(child.ChildByFieldName("body"), content, path, nameOf(child, content), result)
		case "impl_item":
			typeName := implTypeName(child, content)
			walkItems(child.ChildByFieldName("body"), content, path, typeName, result)
		case "mod_item":
			walkItems(child.ChildByFieldName("body"), content, path, enclosingType, result)
		default:
			walkItems(child, content, path, enclosingType, result)
		}
	}
}

func nameOf(n *sitter.Node, content []byte) string {
	nameNode := n.ChildByFieldName("name")
	if nameNode == nil {
		return ""
	}
	return nameNode.Content(content)
}

func implTypeName(n *sitter.Node, content []byte) string {
	typeNode := n.ChildByFieldName("type")
	if typeNode == nil {
		return ""
	}
	return typeNode.Content(content)
}

func extractUse(n *sitter.Node, content []byte, path string, result *astmodel.ParseResult) {
	arg := n.ChildByFieldName("argument")
	if arg == nil {
		return
	}
	result.Imports = append(result.Imports, astmodel.Import{Path: arg.Content(content), Location: loc(n, path)})
}

func parseFunction(n *sitter.Node, content []byte, path, enclosingType string) astmodel.Definition {
	name := nameOf(n, content)
	kind := astmodel.KindFunction
	if enclosingType != "" {
		kind = astmodel.KindMethod
	}

	params := n.ChildByFieldName("parameters")
	paramList, minArity, maxArity := extractParams(params, content)

	docstring, suppressions := precedingDoc(n, content)

	bodyNode := n.ChildByFieldName("body")
	body := ""
	if bodyNode != nil {
		body = bodyNode.Content(content)
	}

	isPub := false
	for i := 0; i < int(n.ChildCount()); i++ {
		if n.Child(i).Type() == "visibility_modifier" {
			isPub = true
			break
		}
	}

	displayName := name
	if enclosingType != "" {
		displayName = enclosingType + "::" + name
	}
	sig := fmt.Sprintf("fn %s(%s)", displayName, paramsText(params, content))

	return astmodel.Definition{
		Name:         name,
		Kind:         kind,
		Location:     loc(n, path),
		Signature:    sig,
		Body:         hashid.CanonicalizeBody(body, hashid.IsCommentLine),
		Docstring:    docstring,
		IsPublic:     isPub,
		HasDocstring: docstring != "",
		HasTypeHints: true, // Rust requires static types on every parameter
		Params:       paramList,
		MinArity:     minArity,
		MaxArity:     maxArity,
		Suppressions: suppressions,
	}
}

func parseTypeItem(n *sitter.Node, content []byte, path string, kind astmodel.Kind) astmodel.Definition {
	name := nameOf(n, content)
	docstring, suppressions := precedingDoc(n, content)
	isPub := false
	for i := 0; i < int(n.ChildCount()); i++ {
		if n.Child(i).Type() == "visibility_modifier" {
			isPub = true
			break
		}
	}
	return astmodel.Definition{
		Name:         name,
		Kind:         kind,
		Location:     loc(n, path),
		Signature:    n.Type() + " " + name,
		Docstring:    docstring,
		IsPublic:     isPub,
		HasDocstring: docstring != "",
		HasTypeHints: true,
		Suppressions: suppressions,
	}
}

func paramsText(params *sitter.Node, content []byte) string {
	if params == nil {
		return ""
	}
	return params.Content(content)
}

func extractParams(params *sitter.Node, content []byte) ([]astmodel.Param, int, int) {
	if params == nil {
		return nil, 0, 0
	}
	var out []astmodel.Param
	for i := 0; i < int(params.NamedChildCount()); i++ {
		p := params.NamedChild(i)
		if p.Type() == "self_parameter" {
			continue
		}
		out = append(out, astmodel.Param{HasTypeHint: true})
	}
	return out, len(out), len(out)
}

// precedingDoc walks `///`/`//` comments immediately above an item and
// parses `keel: allow <CODE>` markers from them.
func precedingDoc(n *sitter.Node, content []byte) (string, []astmodel.Suppression) {
	parent := n.Parent()
	if parent == nil {
		return "", nil
	}
	idx := -1
	for i := 0; i < int(parent.ChildCount()); i++ {
		if parent.Child(i) == n {
			idx = i
			break
		}
	}
	var lines []string
	var suppressions []astmodel.Suppression
	for i := idx - 1; i >= 0; i-- {
		c := parent.Child(i)
		if c.Type() != "line_comment" && c.Type() != "block_comment" {
			break
		}
		text := strings.TrimPrefix(strings.TrimPrefix(c.Content(content), "///"), "//")
		text = strings.TrimSpace(text)
		lines = append([]string{text}, lines...)
		const marker = "keel: allow "
		if j := strings.Index(text, marker); j >= 0 {
			code := strings.TrimSpace(text[j+len(marker):])
			if code != "" {
				suppressions = append(suppressions, astmodel.Suppression{Code: strings.Fields(code)[0]})
			}
		}
	}
	return strings.Join(lines, "\n"), suppressions
}

func extractCalls(fn *sitter.Node, content []byte, path string, def astmodel.Definition) []astmodel.Reference {
	body := fn.ChildByFieldName("body")
	if body == nil {
		return nil
	}
	var refs []astmodel.Reference
	walk(body, func(n *sitter.Node) bool {
		if n.Type() != "call_expression" {
			return true
		}
		fnNode := n.ChildByFieldName("function")
		if fnNode == nil {
			return true
		}
		name := ""
		switch fnNode.Type() {
		case "identifier":
			name = fnNode.Content(content)
		case "field_expression":
			if field := fnNode.ChildByFieldName("field"); field != nil {
				name = field.Content(content)
			}
		case "scoped_identifier":
			if nm := fnNode.ChildByFieldName("name"); nm != nil {
				name = nm.Content(content)
			}
		default:
			return true
		}
		argCount := 0
		if args := n.ChildByFieldName("arguments"); args != nil {
			argCount = int(args.NamedChildCount())
		}
		refs = append(refs, astmodel.Reference{
			Name:           name,
			Kind:           astmodel.EdgeCalls,
			Location:       loc(n, path),
			CallLine:       int(n.StartPoint().Row) + 1,
			ArgCount:       argCount,
			FromDefinition: def.Name,
			FromKind:       def.Kind,
		})
		return true
	})
	return refs
}
