// Copyright (c) 2025 The Keel Authors.
// Licensed under the Apache License, Version 2.0.

// Package python is the Python LanguageResolver (spec §4.1). Tier 1 is a
// tree-sitter syntactic pass; Tier 2 is a subprocess tool resolving
// relative imports and __all__ (spec §4.1) — modeled here as a
// pluggable Tier2Runner so the default build has no hard dependency on
// an external interpreter, matching the teacher's pattern of lazily
// launching and caching a semantic tool (spec §4.1, §9).
package python

import (
	"context"
	"fmt"
	"strings"
	"time"

	sitter "github.com/smacker/go-tree-sitter"
	"github.com/smacker/go-tree-sitter/python"

	"github.com/keel-dev/keel/internal/astmodel"
	"github.com/keel-dev/keel/internal/hashid"
	"github.com/keel-dev/keel/internal/keelerr"
	"github.com/keel-dev/keel/internal/resolve"
)

// Tier2Runner abstracts the semantic subprocess tool (spec §4.1, §9
// "treat each tool as a black box"). The default resolver runs without
// one; supplying a Tier2Runner (e.g. a wrapper around a Python import
// resolver) upgrades confidence on references it confirms.
type Tier2Runner interface {
	// Resolve returns the fully-qualified target and a confidence in
	// [0,1], or ok=false if it cannot resolve the reference within
	// timeout.
	Resolve(ctx context.Context, ref astmodel.Reference, fileContent []byte, timeout time.Duration) (target string, confidence float64, ok bool)
}

// Resolver implements resolve.LanguageResolver for Python.
type Resolver struct {
	Tier2   Tier2Runner
	Timeout time.Duration
}

// New returns a Python LanguageResolver with no Tier-2 tool configured.
func New() *Resolver { return &Resolver{Timeout: 30 * time.Second} }

func (r *Resolver) Language() string { return "python" }

func (r *Resolver) ParseFile(ctx context.Context, path string, content []byte) (astmodel.ParseResult, error) {
	parser := sitter.NewParser()
	parser.SetLanguage(python.GetLanguage())

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
	extractImports(root, content, path, &result)
	walkDefs(root, content, path, "", &result)
	return result, nil
}

// ResolveCallEdge produces no edge on a missing or timed-out Tier-2
// tool, never aborting compile (spec §7 Tier2Timeout/Tier2Missing);
// ResolverFramework then keeps the Tier-1 result with its Tier-1
// confidence unchanged.
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

func extractImports(root *sitter.Node, content []byte, path string, result *astmodel.ParseResult) {
	walk(root, func(n *sitter.Node) bool {
		switch n.Type() {
		case "import_statement":
			for i := 0; i < int(n.NamedChildCount()); i++ {
				nm := n.NamedChild(i)
				if nm.Type() == "dotted_name" {
					result.Imports = append(result.Imports, astmodel.Import{
						Path:     nm.Content(content),
						Location: loc(n, path),
					})
				}
			}
			return false
		case "import_from_statement":
			moduleNode := n.ChildByFieldName("module_name")
			modulePath := ""
			if moduleNode != nil {
				modulePath = moduleNode.Content(content)
			}
			result.Imports = append(result.Imports, astmodel.Import{
				Path:     modulePath,
				Location: loc(n, path),
			})
			return false
		}
		return true
	})
}

func loc(n *sitter.Node, path string) astmodel.Location {
	return astmodel.Location{FilePath: path, LineStart: int(n.StartPoint().Row) + 1, LineEnd: int(n.EndPoint().Row) + 1}
}

func walkDefs(n *sitter.Node, content []byte, path, enclosingClass string, result *astmodel.ParseResult) {
	if n == nil {
		return
	}
	for i := 0; i < int(n.ChildCount()); i++ {
		child := n.Child(i)
		switch child.Type() {
		case "function_definition", "async_function_definition", "decorated_definition":
			fn := child
			if child.Type() == "decorated_definition" {
				fn = child.ChildByFieldName("definition")
				if fn == nil || (fn.Type() != "function_definition" && fn.Type() != "async_function_definition") {
					walkDefs(child, content, path, enclosingClass, result)
					continue
				}
			}
			def := parseFunctionDef(child, fn, content, path, enclosingClass)
			result.Definitions = append(result.Definitions, def)
			result.References = append(result.References, extractCalls(fn, content, path, def)...)
		case "class_definition":
			classDef := parseClassDef(child, content, path)
			result.Definitions = append(result.Definitions, classDef)
			body := child.ChildByFieldName("body")
			walkDefs(body, content, path, classDef.Name, result)
		default:
			walkDefs(child, content, path, enclosingClass, result)
		}
	}
}

func parseClassDef(n *sitter.Node, content []byte, path string) astmodel.Definition {
	nameNode := n.ChildByFieldName("name")
	name := ""
	if nameNode != nil {
		name = nameNode.Content(content)
	}
	docstring, suppressions := leadingDocstring(n.ChildByFieldName("body"), content)
	precDoc, precSupp := precedingComments(n, content)
	if docstring == "" {
		docstring = precDoc
	}
	suppressions = append(suppressions, precSupp...)
	return astmodel.Definition{
		Name:         name,
		Kind:         astmodel.KindClass,
		Location:     loc(n, path),
		Signature:    "class " + name,
		Docstring:    docstring,
		IsPublic:     !strings.HasPrefix(name, "_"),
		HasDocstring: docstring != "",
		HasTypeHints: true,
		Suppressions: suppressions,
	}
}

func parseFunctionDef(declNode, fn *sitter.Node, content []byte, path, enclosingClass string) astmodel.Definition {
	nameNode := fn.ChildByFieldName("name")
	name := ""
	if nameNode != nil {
		name = nameNode.Content(content)
	}
	kind := astmodel.KindFunction
	if enclosingClass != "" {
		kind = astmodel.KindMethod
	}

	params := fn.ChildByFieldName("parameters")
	paramList, minArity, maxArity, hasTypeHints := extractParams(params, content)

	docstring, dsSupp := leadingDocstring(fn.ChildByFieldName("body"), content)
	precDoc, precSupp := precedingComments(declNode, content)
	if docstring == "" {
		docstring = precDoc
	}
	suppressions := append(dsSupp, precSupp...)

	bodyNode := fn.ChildByFieldName("body")
	body := ""
	if bodyNode != nil {
		body = bodyNode.Content(content)
	}

	sig := fmt.Sprintf("def %s()", name)
	if params != nil {
		sig = fmt.Sprintf("def %s(%s)", name, params.Content(content))
	}

	return astmodel.Definition{
		Name:         name,
		Kind:         kind,
		Location:     loc(declNode, path),
		Signature:    sig,
		Body:         hashid.CanonicalizeBody(body, hashid.IsCommentLine),
		Docstring:    docstring,
		IsPublic:     !strings.HasPrefix(name, "_"),
		HasDocstring: docstring != "",
		HasTypeHints: hasTypeHints,
		Params:       paramList,
		MinArity:     minArity,
		MaxArity:     maxArity,
		Suppressions: suppressions,
	}
}

func extractParams(params *sitter.Node, content []byte) ([]astmodel.Param, int, int, bool) {
	if params == nil {
		return nil, 0, 0, true
	}
	var out []astmodel.Param
	allTyped := true
	for i := 0; i < int(params.NamedChildCount()); i++ {
		p := params.NamedChild(i)
		name := p.Content(content)
		switch p.Type() {
		case "identifier":
			if name == "self" || name == "cls" {
				continue
			}
			out = append(out, astmodel.Param{Name: name, HasTypeHint: false})
			allTyped = false
		case "typed_parameter":
			out = append(out, astmodel.Param{Name: name, HasTypeHint: true})
		case "default_parameter":
			out = append(out, astmodel.Param{Name: name, HasTypeHint: false, HasDefault: true})
			allTyped = false
		case "typed_default_parameter":
			out = append(out, astmodel.Param{Name: name, HasTypeHint: true, HasDefault: true})
		case "list_splat_pattern", "dictionary_splat_pattern":
			out = append(out, astmodel.Param{Name: name, HasTypeHint: true, IsVariadic: true})
		}
	}
	minArity := 0
	maxArity := 0
	variadic := false
	for _, p := range out {
		if p.IsVariadic {
			variadic = true
			continue
		}
		maxArity++
		if !p.HasDefault {
			minArity++
		}
	}
	if variadic {
		maxArity = -1
	}
	return out, minArity, maxArity, allTyped
}

// leadingDocstring reads a function/class body's first statement as its
// docstring when it is a bare string expression (Python convention),
// and parses `keel: allow <CODE>` comments within it.
func leadingDocstring(body *sitter.Node, content []byte) (string, []astmodel.Suppression) {
	if body == nil || body.NamedChildCount() == 0 {
		return "", nil
	}
	first := body.NamedChild(0)
	if first.Type() != "expression_statement" || first.NamedChildCount() == 0 {
		return "", nil
	}
	strNode := first.NamedChild(0)
	if strNode.Type() != "string" {
		return "", nil
	}
	text := strings.Trim(strNode.Content(content), "\"'")
	return strings.TrimSpace(text), parseSuppressions(text)
}

// precedingComments collects the contiguous `#`-comment block
// immediately above a definition (module-scope decorators/defs), for
// suppression parsing outside a docstring.
func precedingComments(n *sitter.Node, content []byte) (string, []astmodel.Suppression) {
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
		if c.Type() != "comment" {
			break
		}
		text := strings.TrimSpace(strings.TrimPrefix(c.Content(content), "#"))
		lines = append([]string{text}, lines...)
		suppressions = append(suppressions, parseSuppressions(text)...)
	}
	return strings.Join(lines, "\n"), suppressions
}

func parseSuppressions(text string) []astmodel.Suppression {
	var out []astmodel.Suppression
	for _, line := range strings.Split(text, "\n") {
		const marker = "keel: allow "
		idx := strings.Index(line, marker)
		if idx < 0 {
			continue
		}
		code := strings.TrimSpace(line[idx+len(marker):])
		if code == "" {
			continue
		}
		out = append(out, astmodel.Suppression{Code: strings.Fields(code)[0]})
	}
	return out
}

func extractCalls(fn *sitter.Node, content []byte, path string, def astmodel.Definition) []astmodel.Reference {
	body := fn.ChildByFieldName("body")
	if body == nil {
		return nil
	}
	var refs []astmodel.Reference
	walk(body, func(n *sitter.Node) bool {
		if n.Type() != "call" {
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
		case "attribute":
			if attr := fnNode.ChildByFieldName("attribute"); attr != nil {
				name = attr.Content(content)
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
