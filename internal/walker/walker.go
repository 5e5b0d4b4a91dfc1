// Copyright (c) 2025 The Keel Authors.
// Licensed under the Apache License, Version 2.0.

// Package walker enumerates source files under a project root for
// LanguageResolver dispatch (spec §2 FileWalker, §4.1 "Language
// extensions"). Directory traversal itself is plain filepath.WalkDir:
// none of the repo's retrieved examples carry an ignore-file library
// wired to a real component, so ignore patterns are plain filepath.Match
// globs rather than gitignore syntax from an unvetted dependency (see
// DESIGN.md).
package walker

import (
	"io/fs"
	"path/filepath"
	"strings"
)

// Language is a detected source language tag.
type Language string

const (
	LangGo         Language = "go"
	LangPython     Language = "python"
	LangTypeScript Language = "typescript"
	LangRust       Language = "rust"
)

// extensionTable is the detection table from spec §4.1. Anything absent
// is skipped silently.
var extensionTable = map[string]Language{
	".go":  LangGo,
	".py":  LangPython,
	".pyi": LangPython,
	".ts":  LangTypeScript,
	".tsx": LangTypeScript,
	".js":  LangTypeScript,
	".jsx": LangTypeScript,
	".mts": LangTypeScript,
	".cts": LangTypeScript,
	".rs":  LangRust,
}

// DetectLanguage returns the language for a file extension and whether
// it was recognized.
func DetectLanguage(path string) (Language, bool) {
	lang, ok := extensionTable[strings.ToLower(filepath.Ext(path))]
	return lang, ok
}

// defaultIgnoreDirs are pruned outright; walking never descends into them.
var defaultIgnoreDirs = map[string]bool{
	".git":         true,
	".keel":        true,
	"node_modules": true,
	"vendor":       true,
	"dist":         true,
	"build":        true,
	"__pycache__":  true,
	".venv":        true,
	"venv":         true,
	"target":       true, // rust build output
}

// File is one discovered source file.
type File struct {
	// Path is root-relative, forward-slash separated, matching
	// GraphNode.FilePath convention.
	Path     string
	Language Language
}

// Options configures a Walk.
type Options struct {
	// ExtraIgnoreDirs adds directory names pruned in addition to the
	// defaults (.git, .keel, node_modules, vendor, ...).
	ExtraIgnoreDirs []string
	// IgnoreGlobs are root-relative glob patterns (filepath.Match syntax)
	// matched against the root-relative path; a match excludes the file.
	IgnoreGlobs []string
}

// Walk enumerates every recognized source file under root, in
// lexicographic order (stable for the "order doesn't affect final graph
// state" property in spec §5 — deterministic input order makes that
// property easy to test, even though the merge itself is commutative).
func Walk(root string, opts Options) ([]File, error) {
	ignoreDirs := make(map[string]bool, len(defaultIgnoreDirs)+len(opts.ExtraIgnoreDirs))
	for k := range defaultIgnoreDirs {
		ignoreDirs[k] = true
	}
	for _, d := range opts.ExtraIgnoreDirs {
		ignoreDirs[d] = true
	}

	var files []File
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, relErr := filepath.Rel(root, path)
		if relErr != nil {
			return relErr
		}
		rel = filepath.ToSlash(rel)

		if d.IsDir() {
			if rel != "." && ignoreDirs[d.Name()] {
				return filepath.SkipDir
			}
			return nil
		}

		lang, ok := DetectLanguage(path)
		if !ok {
			return nil
		}
		if matchesAny(rel, opts.IgnoreGlobs) {
			return nil
		}
		files = append(files, File{Path: rel, Language: lang})
		return nil
	})
	if err != nil {
		return nil, err
	}
	return files, nil
}

func matchesAny(path string, globs []string) bool {
	for _, g := range globs {
		if ok, _ := filepath.Match(g, path); ok {
			return true
		}
		// also try matching the base name, so "*.generated.go" excludes
		// nested matches without requiring a full-path glob.
		if ok, _ := filepath.Match(g, filepath.Base(path)); ok {
			return true
		}
	}
	return false
}
