// Copyright (c) 2025 The Keel Authors.
// Licensed under the Apache License, Version 2.0.

package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/keel-dev/keel/internal/astmodel"
	"github.com/keel-dev/keel/internal/circuitbreaker"
	"github.com/keel-dev/keel/internal/config"
	"github.com/keel-dev/keel/internal/control"
	"github.com/keel-dev/keel/internal/engine"
	"github.com/keel-dev/keel/internal/graphstore"
	"github.com/keel-dev/keel/internal/hashid"
	"github.com/keel-dev/keel/internal/keelerr"
	"github.com/keel-dev/keel/internal/klog"
	"github.com/keel-dev/keel/internal/resolve"
	golangresolver "github.com/keel-dev/keel/internal/resolve/golang"
	pythonresolver "github.com/keel-dev/keel/internal/resolve/python"
	rustresolver "github.com/keel-dev/keel/internal/resolve/rust"
	typescriptresolver "github.com/keel-dev/keel/internal/resolve/typescript"
	"github.com/keel-dev/keel/internal/resolveframework"
	"github.com/keel-dev/keel/internal/walker"
	"golang.org/x/sync/errgroup"
)

// parseWorkers bounds the parser worker pool (spec §5: "a worker pool
// parses files concurrently, reducing into the single-writer store").
const parseWorkers = 8

// buildTable registers every shipped LanguageResolver (spec §4.1,
// §9 "Polymorphism over languages").
func buildTable() *resolve.Table {
	table := resolve.NewTable()
	table.Register(golangresolver.New())
	table.Register(pythonresolver.New())
	table.Register(typescriptresolver.New())
	table.Register(rustresolver.New())
	return table
}

// openEngine wires an Engine against projectRoot's control directory:
// opens the Badger-backed store, loads the circuit breaker state, and
// builds the resolver dispatch table (spec §4.3, §4.6).
func openEngine(dir control.Dir, root string) (*engine.Engine, graphstore.Store, error) {
	if !dir.Exists() {
		return nil, nil, keelerr.ErrNotInitialized
	}
	store, err := graphstore.Open(graphstore.DefaultConfig(dir.GraphDB()))
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %v", keelerr.ErrStoreOpenFailed, err)
	}

	breaker, err := circuitbreaker.Load(dir.CircuitBreakers())
	if err != nil {
		_ = store.Close()
		return nil, nil, err
	}

	table := buildTable()
	framework := resolveframework.New(table)
	logger := klog.New(klog.Config{Level: klog.LevelInfo, LogDir: dir.LogDir(), Service: "engine"})

	return engine.New(store, table, framework, breaker, logger, dir, root), store, nil
}

// parseFiles walks root (or, if paths is non-empty, just those
// root-relative paths) and runs each recognized file through its
// LanguageResolver, producing the FileIndex slice Engine.Compile expects
// (spec §2 "FileWalker -> LanguageResolver.parse_file -> FileIndex").
// Files that fail to parse are skipped with a warning, not fatal (spec
// §7 "ErrParseFailed ... compile continues with that file skipped").
func parseFiles(ctx context.Context, logger *klog.Logger, root string, table *resolve.Table, paths []string) ([]astmodel.FileIndex, error) {
	var files []walker.File
	if len(paths) == 0 {
		walked, err := walker.Walk(root, walker.Options{})
		if err != nil {
			return nil, fmt.Errorf("keel: walk %s: %w", root, err)
		}
		files = walked
	} else {
		for _, p := range paths {
			lang, ok := walker.DetectLanguage(p)
			if !ok {
				continue
			}
			files = append(files, walker.File{Path: filepath.ToSlash(p), Language: lang})
		}
	}

	// Each worker parses independently (tree-sitter parsers carry no
	// shared mutable state); results land in a fixed slot per input index
	// so the reduce step below stays deterministic regardless of which
	// worker finishes first, then single-threaded Engine.Compile does the
	// actual store mutation (spec §5 "single-writer store").
	slots := make([]*astmodel.FileIndex, len(files))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(parseWorkers)
	for i, f := range files {
		i, f := i, f
		g.Go(func() error {
			resolver, ok := table.Get(string(f.Language))
			if !ok {
				return nil
			}
			content, err := os.ReadFile(filepath.Join(root, f.Path))
			if err != nil {
				logger.Warn("read failed", "path", f.Path, "error", err)
				return nil
			}
			result, err := resolver.ParseFile(gctx, f.Path, content)
			if err != nil {
				logger.Warn("parse failed, skipping", "path", f.Path, "error", err)
				return nil
			}
			slots[i] = &astmodel.FileIndex{
				FilePath:          f.Path,
				ContentHash:       hashid.File(content),
				Definitions:       result.Definitions,
				References:        result.References,
				Imports:           result.Imports,
				ExternalEndpoints: result.ExternalEndpoints,
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	out := make([]astmodel.FileIndex, 0, len(files))
	for _, s := range slots {
		if s != nil {
			out = append(out, *s)
		}
	}
	return out, nil
}

// detectedLanguages returns the distinct walker.Language tags found
// under root, for populating keel.json on init.
func detectedLanguages(root string) ([]string, error) {
	files, err := walker.Walk(root, walker.Options{})
	if err != nil {
		return nil, err
	}
	seen := make(map[string]bool)
	var out []string
	for _, f := range files {
		lang := string(f.Language)
		if !seen[lang] {
			seen[lang] = true
			out = append(out, lang)
		}
	}
	return out, nil
}

// loadOrDefaultConfig is config.Load with the path already resolved
// from a control.Dir, for the commands that only need to read it.
func loadOrDefaultConfig(dir control.Dir) (config.Config, error) {
	return config.Load(dir.Config())
}
