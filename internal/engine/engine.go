// Copyright (c) 2025 The Keel Authors.
// Licensed under the Apache License, Version 2.0.

// Package engine implements Engine.Compile, the incremental pipeline
// that takes a batch of parsed FileIndexes and brings the GraphStore up
// to date: diff against the stored nodes, resolve references into
// edges, apply both in one set of atomic transactions, run the
// enforcement rules over the touched neighborhood, and emit a
// CompileResult plus the CompileDelta against the previous run (spec
// §4.4).
package engine

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/keel-dev/keel/internal/astmodel"
	"github.com/keel-dev/keel/internal/circuitbreaker"
	"github.com/keel-dev/keel/internal/control"
	"github.com/keel-dev/keel/internal/delta"
	"github.com/keel-dev/keel/internal/graphstore"
	"github.com/keel-dev/keel/internal/hashid"
	"github.com/keel-dev/keel/internal/keelerr"
	"github.com/keel-dev/keel/internal/klog"
	"github.com/keel-dev/keel/internal/lock"
	"github.com/keel-dev/keel/internal/resolve"
	"github.com/keel-dev/keel/internal/resolveframework"
	"github.com/keel-dev/keel/internal/rules"
	"github.com/keel-dev/keel/internal/telemetry"
	"github.com/keel-dev/keel/internal/violation"
)

// structuralCodes are never deferred in batch mode (spec §4.4 "Batch
// mode": "E001, E004, and E005 are structural and always surface
// immediately; E002/E003/W001/W002 may be deferred").
var structuralCodes = map[violation.Code]bool{
	violation.CodeBrokenCaller:    true,
	violation.CodeFunctionRemoved: true,
	violation.CodeArityMismatch:   true,
}

// Options controls one Compile invocation (spec §4.4 "Batch mode").
type Options struct {
	// BatchStart opens a new deferred-violation batch if one is not
	// already active.
	BatchStart bool
	// BatchEnd flushes and closes the active batch, surfacing every
	// violation deferred since BatchStart alongside this run's findings.
	BatchEnd bool
}

// Engine ties the GraphStore, the resolver dispatch table/framework, the
// circuit breaker, and the control directory together into one compile
// pipeline.
type Engine struct {
	Store     graphstore.Store
	Table     *resolve.Table
	Framework *resolveframework.Framework
	Breaker   *circuitbreaker.Breaker
	Logger    *klog.Logger
	Dir       control.Dir
	// Root is the project root FileIndex.FilePath entries are relative
	// to; used to re-read file bytes for Tier-2 resolution.
	Root string
}

// New returns an Engine. A nil logger defaults to klog.Default().
func New(store graphstore.Store, table *resolve.Table, framework *resolveframework.Framework, breaker *circuitbreaker.Breaker, logger *klog.Logger, dir control.Dir, root string) *Engine {
	if logger == nil {
		logger = klog.Default()
	}
	return &Engine{Store: store, Table: table, Framework: framework, Breaker: breaker, Logger: logger, Dir: dir, Root: root}
}

// pendingRemoval is a node captured just before it is removed from the
// store, so its pre-removal incoming edges remain available to E004.
type pendingRemoval struct {
	identity graphstore.NodeIdentity
	old      graphstore.GraphNode
	incoming []graphstore.GraphEdge
}

// Compile runs one full diff/resolve/apply/enforce/emit cycle over
// files (spec §4.4). files is the parser output for every file included
// in this run (the full tree for a cold compile, just the changed set
// for `compile --changed`).
func (e *Engine) Compile(ctx context.Context, files []astmodel.FileIndex, opts Options) (violation.Result, delta.Delta, error) {
	start := time.Now()
	ctx, span := telemetry.StartSpan(ctx, "compile")
	defer span.End()

	l, err := lock.Acquire(e.Dir.CompileLock(), lock.DefaultWaitTimeout, lock.DefaultPollInterval)
	if err != nil {
		return violation.Result{}, delta.Delta{}, err
	}
	defer func() { _ = l.Release() }()

	touchedFiles := make(map[string]bool, len(files))
	for _, fi := range files {
		touchedFiles[fi.FilePath] = true
	}

	var (
		nodeBatch graphstore.NodeBatch
		modified  []rules.ModifiedNode
		pending   []pendingRemoval
		// fileDefHash tracks every definition's current hash in this
		// compile (unchanged, modified, or added), keyed per file, so the
		// resolve step can find same-file call targets without a store
		// round trip.
		fileDefHash = make(map[string]map[nameKind]string, len(files))
	)

	_, diffSpan := telemetry.StartSpan(ctx, "diff")
	for _, fi := range files {
		existing, err := e.Store.GetNodesInFile(fi.FilePath)
		if err != nil {
			diffSpan.End()
			return violation.Result{}, delta.Delta{}, fmt.Errorf("%w: %s: %v", keelerr.ErrStoreIO, fi.FilePath, err)
		}
		byIdentity := make(map[graphstore.NodeIdentity]graphstore.GraphNode, len(existing))
		for _, n := range existing {
			byIdentity[n.Identity()] = n
		}

		hashes := make(map[nameKind]string, len(fi.Definitions))
		fileDefHash[fi.FilePath] = hashes

		for _, def := range fi.Definitions {
			hash := hashid.Node(def.Signature, def.Body, def.Docstring)
			hashes[nameKind{def.Name, def.Kind}] = hash
			ident := graphstore.NodeIdentity{FilePath: fi.FilePath, Name: def.Name, Kind: def.Kind, LineStart: def.Location.LineStart}

			old, existed := byIdentity[ident]
			if existed {
				delete(byIdentity, ident)
			}

			switch {
			case !existed:
				nodeBatch.Added = append(nodeBatch.Added, nodeFromDefinition(def, fi.FilePath, hash, nil))
			case old.Hash == hash:
				// Unchanged: leave the stored node alone.
			default:
				prev := append([]string{old.Hash}, old.PreviousHashes...)
				if len(prev) > graphstore.MaxPreviousHashes {
					prev = prev[:graphstore.MaxPreviousHashes]
				}
				nodeBatch.Modified = append(nodeBatch.Modified, nodeFromDefinition(def, fi.FilePath, hash, prev))
				modified = append(modified, rules.ModifiedNode{NodeID: old.ID, OldHash: old.Hash})
				if e.Breaker != nil {
					e.Breaker.Reset(old.Hash)
				}
			}
		}

		// Whatever remains in byIdentity disappeared from this file.
		for ident, old := range byIdentity {
			incoming, err := e.Store.GetEdges(old.ID, graphstore.Incoming)
			if err != nil {
				incoming = nil
			}
			nodeBatch.Removed = append(nodeBatch.Removed, ident)
			pending = append(pending, pendingRemoval{identity: ident, old: old, incoming: incoming})
		}
	}
	diffSpan.End()

	if err := e.Store.UpdateNodes(nodeBatch); err != nil {
		return violation.Result{}, delta.Delta{}, fmt.Errorf("%w: update_nodes: %v", keelerr.ErrStoreIO, err)
	}

	_, resolveSpan := telemetry.StartSpan(ctx, "resolve")
	var edgeBatch graphstore.EdgeBatch
	for path := range touchedFiles {
		edgeBatch.DropFiles = append(edgeBatch.DropFiles, path)
	}
	sort.Strings(edgeBatch.DropFiles)

	fileContentCache := make(map[string][]byte)
	for _, fi := range files {
		srcIDs, err := e.idsByNameKind(fi.FilePath)
		if err != nil {
			resolveSpan.End()
			return violation.Result{}, delta.Delta{}, err
		}
		for _, ref := range fi.References {
			if ref.FromDefinition == "" {
				continue
			}
			srcID, ok := srcIDs[nameKind{ref.FromDefinition, ref.FromKind}]
			if !ok {
				continue
			}
			resolved, ok := e.resolveReference(ctx, fi, ref, fileDefHash, fileContentCache)
			if !ok {
				continue
			}
			target, ok, err := e.Store.GetNode(resolved.Winner.TargetHash)
			if err != nil || !ok {
				continue
			}
			edgeBatch.Added = append(edgeBatch.Added, graphstore.GraphEdge{
				SrcID:          srcID,
				DstID:          target.ID,
				Kind:           graphstore.EdgeKind(ref.Kind),
				Confidence:     resolved.Winner.Confidence,
				ResolutionTier: resolved.Winner.Tier,
				CallLine:       ref.CallLine,
				ArgCount:       ref.ArgCount,
			})
		}
	}
	resolveSpan.End()

	if err := e.Store.UpdateEdges(edgeBatch); err != nil {
		return violation.Result{}, delta.Delta{}, fmt.Errorf("%w: update_edges: %v", keelerr.ErrStoreIO, err)
	}

	// A removal is a genuine E004 candidate only if no surviving node
	// inherited its hash (the store's rename path stitches edges onto a
	// renamed node automatically; spec §4.3 "Rename tracking").
	var removedNodes []rules.RemovedNode
	for _, p := range pending {
		if _, stillLinked, _ := e.Store.GetNode(p.old.Hash); stillLinked {
			continue
		}
		removedNodes = append(removedNodes, rules.RemovedNode{
			OldID:           p.old.ID,
			OldHash:         p.old.Hash,
			FilePath:        p.identity.FilePath,
			IncomingCallers: p.incoming,
		})
	}

	if e.Breaker != nil {
		e.Breaker.StartRun()
	}
	enforceCtx := rules.Context{
		Store:         e.Store,
		Now:           time.Now(),
		TouchedFiles:  touchedFiles,
		AddedNodes:    nodeBatch.Added,
		ModifiedNodes: modified,
		RemovedNodes:  removedNodes,
		Breaker:       e.Breaker,
	}
	_, enforceSpan := telemetry.StartSpan(ctx, "enforce")
	found := rules.Run(enforceCtx)
	enforceSpan.End()

	for _, v := range found {
		telemetry.ObserveViolation(string(v.Code))
	}

	var trips []violation.CircuitBreakerTrip
	if e.Breaker != nil {
		for _, k := range e.Breaker.Triggered() {
			trips = append(trips, violation.CircuitBreakerTrip{RuleCode: violation.Code(k.RuleCode), Hash: k.Hash})
			telemetry.ObserveCircuitBreakerTrip(k.RuleCode)
		}
		if err := e.Breaker.Save(e.Dir.CircuitBreakers()); err != nil {
			e.Logger.Warn("circuit breaker save failed", "error", err)
		}
	}

	emitted, batchActive, err := e.applyBatchMode(found, opts)
	if err != nil {
		return violation.Result{}, delta.Delta{}, err
	}
	violation.Sort(emitted)
	errs, warns := violation.Split(emitted)

	previous, err := loadViolationKeys(e.Dir.LastViolations())
	if err != nil {
		e.Logger.Warn("last_violations load failed", "error", err)
	}
	d := delta.Compute(delta.ToSet(previous), emitted)
	if err := saveViolationKeys(e.Dir.LastViolations(), delta.Keys(emitted)); err != nil {
		e.Logger.Warn("last_violations save failed", "error", err)
	}

	result := violation.Result{
		Errors:                   errs,
		Warnings:                 warns,
		NodesUpdated:             len(nodeBatch.Added) + len(nodeBatch.Modified) + len(nodeBatch.Removed),
		EdgesUpdated:             len(edgeBatch.Added),
		BatchMode:                batchActive,
		CircuitBreakersTriggered: trips,
	}

	telemetry.ObserveCompile(time.Since(start).Seconds(), result.NodesUpdated, result.EdgesUpdated)

	if len(result.Errors) > 0 {
		err = keelerr.ErrViolations
	}
	return result, d, err
}

// nameKind is the (name, kind) key used to find a definition's current
// hash/id within one file without a line number, since References only
// carry their enclosing definition's name (astmodel.Reference.FromDefinition).
type nameKind struct {
	Name string
	Kind astmodel.Kind
}

// idsByNameKind looks up every node currently stored in path, keyed by
// (name, kind), after the node batch has been applied.
func (e *Engine) idsByNameKind(path string) (map[nameKind]int64, error) {
	nodes, err := e.Store.GetNodesInFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", keelerr.ErrStoreIO, path, err)
	}
	out := make(map[nameKind]int64, len(nodes))
	for _, n := range nodes {
		out[nameKind{n.Name, n.Kind}] = n.ID
	}
	return out, nil
}

// resolveReference runs one Reference through the tiered resolver: a
// same-file definition is the highest-confidence Tier-1 candidate,
// falling back to a graph-wide name search, then Tier 2 (spec §4.1,
// §4.2).
func (e *Engine) resolveReference(ctx context.Context, fi astmodel.FileIndex, ref astmodel.Reference, fileDefHash map[string]map[nameKind]string, contentCache map[string][]byte) (resolveframework.Resolution, bool) {
	var tier1Hash string
	var tier1Confidence float64

	if h, ok := fileDefHash[fi.FilePath][nameKind{ref.Name, astmodel.KindFunction}]; ok {
		tier1Hash, tier1Confidence = h, 0.9
	} else if h, ok := fileDefHash[fi.FilePath][nameKind{ref.Name, astmodel.KindMethod}]; ok {
		tier1Hash, tier1Confidence = h, 0.9
	} else {
		candidates, err := e.Store.FindNodesByName(ref.Name, astmodel.KindFunction, "")
		if err != nil {
			candidates = nil
		}
		methods, err := e.Store.FindNodesByName(ref.Name, astmodel.KindMethod, "")
		if err == nil {
			candidates = append(candidates, methods...)
		}
		switch len(candidates) {
		case 0:
			tier1Hash, tier1Confidence = "", 0.0
		case 1:
			tier1Hash, tier1Confidence = candidates[0].Hash, 0.6
		default:
			sort.Slice(candidates, func(i, j int) bool { return candidates[i].FilePath < candidates[j].FilePath })
			tier1Hash, tier1Confidence = candidates[0].Hash, 0.3
		}
	}

	language, ok := languageForPath(fi.FilePath)
	if !ok {
		if tier1Hash == "" {
			return resolveframework.Resolution{}, false
		}
		return resolveframework.Resolution{Winner: resolveframework.Candidate{TargetHash: tier1Hash, Confidence: tier1Confidence, Tier: 1}, Resolved: true}, true
	}

	content, ok := contentCache[fi.FilePath]
	if !ok {
		data, err := os.ReadFile(filepath.Join(e.Root, fi.FilePath))
		if err == nil {
			content = data
		}
		contentCache[fi.FilePath] = content
	}

	res := e.Framework.Resolve(ctx, language, ref, fi.ContentHash, content, tier1Hash, tier1Confidence)
	if !res.Resolved {
		return res, false
	}
	return res, true
}

// languageForPath maps a file extension back to the resolver language
// tag (spec §4.1 extension table), independent of package walker to
// avoid a dependency edge from engine to walker for one lookup.
func languageForPath(path string) (string, bool) {
	switch filepath.Ext(path) {
	case ".go":
		return "go", true
	case ".py", ".pyi":
		return "python", true
	case ".ts", ".tsx", ".js", ".jsx", ".mts", ".cts":
		return "typescript", true
	case ".rs":
		return "rust", true
	default:
		return "", false
	}
}

// nodeFromDefinition builds the GraphNode a diffed Definition maps to.
// id is left zero; graphstore.Memory/Badger assign or reuse one on
// UpdateNodes based on (file_path, name, kind, line_start) identity.
func nodeFromDefinition(def astmodel.Definition, filePath, hash string, previousHashes []string) graphstore.GraphNode {
	suppressions := make([]string, 0, len(def.Suppressions))
	for _, s := range def.Suppressions {
		suppressions = append(suppressions, s.Code)
	}
	return graphstore.GraphNode{
		Hash:           hash,
		Name:           def.Name,
		Kind:           def.Kind,
		FilePath:       filePath,
		LineStart:      def.Location.LineStart,
		LineEnd:        def.Location.LineEnd,
		Signature:      def.Signature,
		IsPublic:       def.IsPublic,
		HasDocstring:   def.HasDocstring,
		HasTypeHints:   def.HasTypeHints,
		MinArity:       def.MinArity,
		MaxArity:       def.MaxArity,
		PreviousHashes: previousHashes,
		Suppressions:   suppressions,
	}
}
