// Copyright (c) 2025 The Keel Authors.
// Licensed under the Apache License, Version 2.0.

// Package typescript is the TypeScript/JavaScript LanguageResolver (spec
// §4.1), covering ".ts/.tsx/.js/.jsx/.mts/.cts". Tier 1 is a tree-sitter
// syntactic pass selecting the tsx or typescript grammar by extension;
// Tier 2 is a semantic analyzer for imports and type resolution
// (spec §4.1), modeled as a pluggable Tier2Runner — the default build
// ships without one and falls back to Tier 1.
package typescript

import (
	"context"
	"fmt"
	"strings"
	"time"

	sitter "github.com/smacker/go-tree-sitter"
	"github.com/smacker/go-tree-sitter/typescript/tsx"
	"github.com/smacker/go-tree-sitter/typescript/typescript"

	"github.com/keel-dev/keel/internal/astmodel"
	"github.com/keel-dev/keel/internal/hashid"
	"github.com/keel-dev/keel/internal/keelerr"
	"github.com/keel-dev/keel/internal/resolve"
)

// Tier2Runner is the semantic analyzer hook (spec §4.1): import/type
// resolution beyond what the grammar alone can settle.
type Tier2Runner interface {
	Resolve(ctx context.Context, ref astmodel.Reference, fileContent []byte, timeout time.Duration) (target string, confidence float64, ok bool)
}

// Resolver implements resolve.LanguageResolver for TypeScript/JavaScript.
type Resolver struct {
	Tier2   Tier2Runner
	Timeout time.Duration
}

// New returns a TypeScript/JavaScript LanguageResolver with no Tier-2
// tool configured.
func New() *Resolver { return &Resolver{Timeout: 30 * time.Second} }

func (r *Resolver) Language() string { return "typescript" }

func (r *Resolver) ParseFile(ctx context.Context, path string, content []byte) (astmodel.ParseResult, error) {
	parser := sitter.NewParser()
	if strings.HasSuffix(path, ".tsx") || strings.HasSuffix(path, ".jsx") {
		parser.SetLanguage(tsx.GetLanguage())
	} else {
		parser.SetLanguage(typescript.GetLanguage())
	}

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
	walkProgram(root, content, path, "", &result)
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

func walkProgram(n *sitter.Node, content []byte, path, enclosingClass string, result *astmodel.ParseResult) {
	if n == nil {
		return
	}
	for i := 0; i < int(n.ChildCount()); i++ {
		child := n.Child(i)
		switch child.Type() {
		case "import_statement":
			extractImport(child, content, path, result)
		case "export_statement":
			walkProgram(child, content, path, enclosingClass, result)
		case "function_declaration", "generator_function_declaration":
			def := parseFunction(child, content, path, enclosingClass, false)
			result.Definitions = append(result.Definitions, def)
			result.References = append(result.References, extractCalls(child, content, path, def)...)
		case "class_declaration":
			classDef := parseClass(child, content, path)
			result.Definitions = append(result.Definitions, classDef)
			body := child.ChildByFieldName("body")
			walkClassBody(body, content, path, classDef.Name, result)
		case "interface_declaration":
			result.Definitions = append(result.Definitions, parseInterface(child, content, path))
		case "lexical_declaration", "variable_declaration":
			extractArrowAssignments(child, content, path, enclosingClass, result)
		default:
			walkProgram(child, content, path, enclosingClass, result)
		}
	}
}

func walkClassBody(body *sitter.Node, content []byte, path, className string, result *astmodel.ParseResult) {
	if body == nil {
		return
	}
	for i := 0; i < int(body.NamedChildCount()); i++ {
		child := body.NamedChild(i)
		if child.Type() != "method_definition" {
			continue
		}
		def := parseFunction(child, content, path, className, true)
		result.Definitions = append(result.Definitions, def)
		result.References = append(result.References, extractCalls(child, content, path, def)...)
	}
}

func extractImport(n *sitter.Node, content []byte, path string, result *astmodel.ParseResult) {
	var modulePath string
	for i := 0; i < int(n.NamedChildCount()); i++ {
		c := n.NamedChild(i)
		if c.Type() == "string" {
			modulePath = strings.Trim(c.Content(content), "'\"")
		}
	}
	if modulePath == "" {
		return
	}
	result.Imports = append(result.Imports, astmodel.Import{Path: modulePath, Location: loc(n, path)})
}

func parseFunction(n *sitter.Node, content []byte, path, className string, isMethod bool) astmodel.Definition {
	nameNode := n.ChildByFieldName("name")
	name := ""
	if nameNode != nil {
		name = nameNode.Content(content)
	}
	kind := astmodel.KindFunction
	if isMethod {
		kind = astmodel.KindMethod
	}

	params := n.ChildByFieldName("parameters")
	paramList, minArity, maxArity, hasTypeHints := extractParams(params, content)

	docstring, suppressions := jsDocComment(n, content)

	bodyNode := n.ChildByFieldName("body")
	body := ""
	if bodyNode != nil {
		body = bodyNode.Content(content)
	}

	sig := fmt.Sprintf("function %s(%s)", name, paramText(params, content))
	displayName := name
	if className != "" {
		displayName = className + "." + name
		sig = fmt.Sprintf("%s(%s)", displayName, paramText(params, content))
	}

	return astmodel.Definition{
		Name:         name,
		Kind:         kind,
		Location:     loc(n, path),
		Signature:    sig,
		Body:         hashid.CanonicalizeBody(body, isLineComment),
		Docstring:    docstring,
		IsPublic:     true, // module-level export analysis is beyond Tier-1 grammar scope; treated as public by default
		HasDocstring: docstring != "",
		HasTypeHints: hasTypeHints,
		Params:       paramList,
		MinArity:     minArity,
		MaxArity:     maxArity,
		Suppressions: suppressions,
	}
}

func parseClass(n *sitter.Node, content []byte, path string) astmodel.Definition {
	nameNode := n.ChildByFieldName("name")
	name := ""
	if nameNode != nil {
		name = nameNode.Content(content)
	}
	docstring, suppressions := jsDocComment(n, content)
	return astmodel.Definition{
		Name:         name,
		Kind:         astmodel.KindClass,
		Location:     loc(n, path),
		Signature:    "class " + name,
		Docstring:    docstring,
		IsPublic:     true,
		HasDocstring: docstring != "",
		HasTypeHints: true,
		Suppressions: suppressions,
	}
}

func parseInterface(n *sitter.Node, content []byte, path string) astmodel.Definition {
	nameNode := n.ChildByFieldName("name")
	name := ""
	if nameNode != nil {
		name = nameNode.Content(content)
	}
	docstring, suppressions := jsDocComment(n, content)
	return astmodel.Definition{
		Name:         name,
		Kind:         astmodel.KindInterface,
		Location:     loc(n, path),
		Signature:    "interface " + name,
		Docstring:    docstring,
		IsPublic:     true,
		HasDocstring: docstring != "",
		HasTypeHints: true,
		Suppressions: suppressions,
	}
}

// extractArrowAssignments handles `const foo = (x) => {...}` / `function
// expression` bindings, the dominant function-declaration idiom in
// modern TS/JS codebases alongside `function foo(){}`.
func extractArrowAssignments(n *sitter.Node, content []byte, path, className string, result *astmodel.ParseResult) {
	for i := 0; i < int(n.NamedChildCount()); i++ {
		decl := n.NamedChild(i)
		if decl.Type() != "variable_declarator" {
			continue
		}
		nameNode := decl.ChildByFieldName("name")
		valueNode := decl.ChildByFieldName("value")
		if nameNode == nil || valueNode == nil {
			continue
		}
		if valueNode.Type() != "arrow_function" && valueNode.Type() != "function_expression" {
			continue
		}
		name := nameNode.Content(content)
		params := valueNode.ChildByFieldName("parameters")
		paramList, minArity, maxArity, hasTypeHints := extractParams(params, content)
		docstring, suppressions := jsDocComment(n, content)
		bodyNode := valueNode.ChildByFieldName("body")
		body := ""
		if bodyNode != nil {
			body = bodyNode.Content(content)
		}
		def := astmodel.Definition{
			Name:         name,
			Kind:         astmodel.KindFunction,
			Location:     loc(decl, path),
			Signature:    fmt.Sprintf("const %s = (%s) =>", name, paramText(params, content)),
			Body:         hashid.CanonicalizeBody(body, isLineComment),
			Docstring:    docstring,
			IsPublic:     true,
			HasDocstring: docstring != "",
			HasTypeHints: hasTypeHints,
			Params:       paramList,
			MinArity:     minArity,
			MaxArity:     maxArity,
			Suppressions: suppressions,
		}
		result.Definitions = append(result.Definitions, def)
		result.References = append(result.References, extractCalls(valueNode, content, path, def)...)
	}
}

func paramText(params *sitter.Node, content []byte) string {
	if params == nil {
		return ""
	}
	return params.Content(content)
}

func extractParams(params *sitter.Node, content []byte) ([]astmodel.Param, int, int, bool) {
	if params == nil {
		return nil, 0, 0, true
	}
	var out []astmodel.Param
	allTyped := true
	for i := 0; i < int(params.NamedChildCount()); i++ {
		p := params.NamedChild(i)
		hasType := false
		hasDefault := false
		variadic := p.Type() == "rest_pattern"
		for j := 0; j < int(p.ChildCount()); j++ {
			switch p.Child(j).Type() {
			case "type_annotation":
				hasType = true
			case "=":
				hasDefault = true
			}
		}
		if !hasType {
			allTyped = false
		}
		out = append(out, astmodel.Param{HasTypeHint: hasType, HasDefault: hasDefault, IsVariadic: variadic})
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

func isLineComment(line string) bool {
	return strings.HasPrefix(line, "//") || strings.HasPrefix(line, "*") || strings.HasPrefix(line, "/*")
}

// jsDocComment reads the JSDoc/line-comment block immediately preceding
// a node and parses `keel: allow <CODE>` markers from it (spec §4.5,
// SPEC_FULL.md "Suppression comment parsing"). It only captures the raw
// text: E002 relies on the grammar's own type annotations
// (HasTypeHints), and JSDoc @param tags are not inspected anywhere.
func jsDocComment(n *sitter.Node, content []byte) (string, []astmodel.Suppression) {
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
	if idx <= 0 {
		return "", nil
	}
	prev := parent.Child(idx - 1)
	if prev.Type() != "comment" {
		return "", nil
	}
	text := prev.Content(content)
	cleaned := strings.TrimSpace(strings.Trim(text, "/*"))
	var suppressions []astmodel.Suppression
	for _, line := range strings.Split(text, "\n") {
		const marker = "keel: allow "
		i := strings.Index(line, marker)
		if i < 0 {
			continue
		}
		code := strings.TrimSpace(line[i+len(marker):])
		if code == "" {
			continue
		}
		suppressions = append(suppressions, astmodel.Suppression{Code: strings.Fields(code)[0]})
	}
	return cleaned, suppressions
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
		case "member_expression":
			if prop := fnNode.ChildByFieldName("property"); prop != nil {
				name = prop.Content(content)
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
