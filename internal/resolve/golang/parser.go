// Copyright (c) 2025 The Keel Authors.
// Licensed under the Apache License, Version 2.0.

// Package golang is the Go LanguageResolver (spec §4.1): a tree-sitter
// Tier-1 syntactic pass over ".go" files. Go has no Tier-2 resolver —
// "package-path heuristics are sufficient without Tier 2" (spec §4.1) —
// so ResolveCallEdge always reports a miss and ResolverFramework falls
// back to the Tier-1 candidate.
package golang

import (
	"context"
	"fmt"
	"strings"

	sitter "github.com/smacker/go-tree-sitter"
	"github.com/smacker/go-tree-sitter/golang"

	"github.com/keel-dev/keel/internal/astmodel"
	"github.com/keel-dev/keel/internal/hashid"
	"github.com/keel-dev/keel/internal/keelerr"
	"github.com/keel-dev/keel/internal/resolve"
)

// Resolver implements resolve.LanguageResolver for Go.
type Resolver struct{}

// New returns a Go LanguageResolver.
func New() *Resolver { return &Resolver{} }

func (r *Resolver) Language() string { return "go" }

func (r *Resolver) ParseFile(ctx context.Context, path string, content []byte) (astmodel.ParseResult, error) {
	parser := sitter.NewParser()
	parser.SetLanguage(golang.GetLanguage())

	tree, err := parser.ParseCtx(ctx, nil, content)
	if err != nil {
		return astmodel.ParseResult{}, fmt.Errorf("%w: %s: %v", keelerr.ErrParseFailed, path, err)
	}
	defer tree.Close()

	root := tree.RootNode()
	if root == nil || root.HasError() && root.ChildCount() == 0 {
		return astmodel.ParseResult{}, fmt.Errorf("%w: %s: no parse tree", keelerr.ErrParseFailed, path)
	}

	var result astmodel.ParseResult
	packageName := extractPackage(root, content)
	result.Definitions = append(result.Definitions, astmodel.Definition{
		Name:         packageName,
		Kind:         astmodel.KindPackage,
		Location:     astmodel.Location{FilePath: path, LineStart: 1, LineEnd: 1},
		Signature:    "package " + packageName,
		IsPublic:     true,
		HasDocstring: true,
		HasTypeHints: true,
		MinArity:     0,
		MaxArity:     0,
	})

	extractImports(root, content, path, &result)
	walkFuncs(root, content, path, &result)

	return result, nil
}

// ResolveCallEdge always misses: Go resolves calls via package-path
// heuristics at Tier 1 and has no Tier-2 tool (spec §4.1).
func (r *Resolver) ResolveCallEdge(ctx context.Context, ref astmodel.Reference, fileContent []byte) (resolve.ResolvedEdge, bool, error) {
	return resolve.ResolvedEdge{}, false, nil
}

func extractPackage(root *sitter.Node, content []byte) string {
	for i := 0; i < int(root.ChildCount()); i++ {
		child := root.Child(i)
		if child.Type() == "package_clause" {
			if name := child.ChildByFieldName("name"); name != nil {
				return name.Content(content)
			}
		}
	}
	return "main"
}

func extractImports(root *sitter.Node, content []byte, path string, result *astmodel.ParseResult) {
	walk(root, func(n *sitter.Node) bool {
		if n.Type() != "import_spec" {
			return true
		}
		pathNode := n.ChildByFieldName("path")
		if pathNode == nil {
			return true
		}
		importPath := strings.Trim(pathNode.Content(content), "\"")
		alias := ""
		if name := n.ChildByFieldName("name"); name != nil {
			alias = name.Content(content)
		}
		result.Imports = append(result.Imports, astmodel.Import{
			Path:  importPath,
			Alias: alias,
			Location: astmodel.Location{
				FilePath:  path,
				LineStart: int(n.StartPoint().Row) + 1,
				LineEnd:   int(n.EndPoint().Row) + 1,
			},
		})
		return true
	})
}

// walk runs visit pre-order over every node in the tree; visit returns
// false to skip descending into that node's children.
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

func walkFuncs(root *sitter.Node, content []byte, path string, result *astmodel.ParseResult) {
	walk(root, func(n *sitter.Node) bool {
		switch n.Type() {
		case "function_declaration":
			def := parseFuncLike(n, content, path, astmodel.KindFunction, "")
			result.Definitions = append(result.Definitions, def)
			result.References = append(result.References, extractCalls(n, content, path, def)...)
			return false
		case "method_declaration":
			recv := receiverTypeName(n, content)
			def := parseFuncLike(n, content, path, astmodel.KindMethod, recv)
			result.Definitions = append(result.Definitions, def)
			result.References = append(result.References, extractCalls(n, content, path, def)...)
			return false
		case "type_spec":
			if body := n.ChildByFieldName("type"); body != nil && (body.Type() == "struct_type" || body.Type() == "interface_type") {
				kind := astmodel.KindStruct
				if body.Type() == "interface_type" {
					kind = astmodel.KindInterface
				}
				result.Definitions = append(result.Definitions, parseTypeSpec(n, content, path, kind))
			}
		}
		return true
	})
}

func receiverTypeName(n *sitter.Node, content []byte) string {
	recv := n.ChildByFieldName("receiver")
	if recv == nil {
		return ""
	}
	name := ""
	walk(recv, func(c *sitter.Node) bool {
		if c.Type() == "type_identifier" {
			name = c.Content(content)
			return false
		}
		return true
	})
	return name
}

func parseFuncLike(n *sitter.Node, content []byte, path string, kind astmodel.Kind, receiver string) astmodel.Definition {
	nameNode := n.ChildByFieldName("name")
	name := ""
	if nameNode != nil {
		name = nameNode.Content(content)
	}
	displayName := name
	if receiver != "" {
		displayName = receiver + "." + name
	}

	params := n.ChildByFieldName("parameters")
	paramList, minArity, maxArity := extractParams(params, content)

	docstring, suppressions := precedingDoc(n, content)

	bodyNode := n.ChildByFieldName("body")
	body := ""
	if bodyNode != nil {
		body = bodyNode.Content(content)
	}

	sig := fmt.Sprintf("func %s%s", displayName, paramsSignature(params, content))

	return astmodel.Definition{
		Name:         name,
		Kind:         kind,
		Location:     astmodel.Location{FilePath: path, LineStart: int(n.StartPoint().Row) + 1, LineEnd: int(n.EndPoint().Row) + 1},
		Signature:    sig,
		Body:         hashid.CanonicalizeBody(body, hashid.IsCommentLine),
		Docstring:    docstring,
		IsPublic:     isExported(nameNodeName(nameNode, content)),
		HasDocstring: docstring != "",
		HasTypeHints: true, // Go requires static types on every parameter
		Params:       paramList,
		MinArity:     minArity,
		MaxArity:     maxArity,
		Suppressions: suppressions,
	}
}

func nameNodeName(n *sitter.Node, content []byte) string {
	if n == nil {
		return ""
	}
	return n.Content(content)
}

func parseTypeSpec(n *sitter.Node, content []byte, path string, kind astmodel.Kind) astmodel.Definition {
	nameNode := n.ChildByFieldName("name")
	name := nameNodeName(nameNode, content)
	docstring, suppressions := precedingDoc(n.Parent(), content)
	return astmodel.Definition{
		Name:         name,
		Kind:         kind,
		Location:     astmodel.Location{FilePath: path, LineStart: int(n.StartPoint().Row) + 1, LineEnd: int(n.EndPoint().Row) + 1},
		Signature:    "type " + name,
		Docstring:    docstring,
		IsPublic:     isExported(name),
		HasDocstring: docstring != "",
		HasTypeHints: true,
		Suppressions: suppressions,
	}
}

func paramsSignature(params *sitter.Node, content []byte) string {
	if params == nil {
		return "()"
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
		if p.Type() != "parameter_declaration" && p.Type() != "variadic_parameter_declaration" {
			continue
		}
		variadic := p.Type() == "variadic_parameter_declaration"
		nameNodes := 0
		for j := 0; j < int(p.NamedChildCount()); j++ {
			if p.NamedChild(j).Type() == "identifier" {
				nameNodes++
			}
		}
		if nameNodes == 0 {
			nameNodes = 1
		}
		for k := 0; k < nameNodes; k++ {
			out = append(out, astmodel.Param{HasTypeHint: true, IsVariadic: variadic})
		}
	}
	minArity := 0
	maxArity := len(out)
	for _, p := range out {
		if p.IsVariadic {
			maxArity = -1
			break
		}
		minArity++
	}
	return out, minArity, maxArity
}

func isExported(name string) bool {
	if name == "" {
		return false
	}
	r := name[0]
	return r >= 'A' && r <= 'Z'
}

// precedingDoc walks the immediately preceding sibling comments: the
// last contiguous comment block above n is the docstring; a `keel:
// allow <CODE>` line within it becomes a Suppression (spec §4.5 and
// SPEC_FULL.md "Suppression comment parsing").
func precedingDoc(n *sitter.Node, content []byte) (string, []astmodel.Suppression) {
	if n == nil || n.Parent() == nil {
		return "", nil
	}
	parent := n.Parent()
	var lines []string
	var suppressions []astmodel.Suppression
	idx := -1
	for i := 0; i < int(parent.ChildCount()); i++ {
		if parent.Child(i) == n {
			idx = i
			break
		}
	}
	for i := idx - 1; i >= 0; i-- {
		c := parent.Child(i)
		if c.Type() != "comment" {
			break
		}
		text := strings.TrimPrefix(strings.TrimPrefix(c.Content(content), "//"), " ")
		lines = append([]string{text}, lines...)
		if code, ok := parseSuppressionComment(text); ok {
			suppressions = append(suppressions, astmodel.Suppression{Code: code})
		}
	}
	return strings.TrimSpace(strings.Join(lines, "\n")), suppressions
}

// parseSuppressionComment recognizes `keel: allow <CODE>` (spec §4.5).
func parseSuppressionComment(line string) (string, bool) {
	const marker = "keel: allow "
	idx := strings.Index(line, marker)
	if idx < 0 {
		return "", false
	}
	code := strings.TrimSpace(line[idx+len(marker):])
	if code == "" {
		return "", false
	}
	return strings.Fields(code)[0], true
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
		funcNode := n.ChildByFieldName("function")
		if funcNode == nil {
			return true
		}
		name := ""
		switch funcNode.Type() {
		case "identifier":
			name = funcNode.Content(content)
		case "selector_expression":
			if field := funcNode.ChildByFieldName("field"); field != nil {
				name = field.Content(content)
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
			Location:       astmodel.Location{FilePath: path, LineStart: int(n.StartPoint().Row) + 1, LineEnd: int(n.StartPoint().Row) + 1},
			CallLine:       int(n.StartPoint().Row) + 1,
			ArgCount:       argCount,
			FromDefinition: def.Name,
			FromKind:       def.Kind,
		})
		return true
	})
	return refs
}
