// Copyright (c) 2025 The Keel Authors.
// Licensed under the Apache License, Version 2.0.

// Package resolveframework is the tiered resolution dispatcher (spec
// §4.2 "ResolverFramework"): it routes a (language, Reference) pair to
// the right resolve.LanguageResolver, caches Tier-2 results keyed by
// (file_content_hash, reference_signature), and enforces a per-run
// budget on Tier-2 calls so a single file cannot dominate compile time.
package resolveframework

import (
	"context"
	"fmt"
	"sync"

	"github.com/keel-dev/keel/internal/astmodel"
	"github.com/keel-dev/keel/internal/resolve"
)

// DefaultTier2Budget bounds Tier-2 calls per compile run (spec §4.2).
const DefaultTier2Budget = 500

// Candidate is one resolution attempt's outcome, kept in the explain
// chain regardless of whether it won (spec §4.2 "keeping the loser in
// the explain chain").
type Candidate struct {
	TargetHash string
	Confidence float64
	Tier       int
	Source     string // "tier1" or "tier2"
}

// Resolution is the outcome of resolving one Reference: the winning
// candidate plus every candidate considered, for explain().
type Resolution struct {
	Winner     Candidate
	Candidates []Candidate
	Resolved   bool
}

// Framework dispatches references to LanguageResolvers and combines
// Tier-1/Tier-2 confidence per spec §4.2.
type Framework struct {
	table       *resolve.Table
	tier2Budget int

	mu          sync.Mutex
	tier2Cache  map[string]resolve.ResolvedEdge
	tier2Calls  int
	budgetWarns []string
}

// New returns a Framework dispatching through table, with the default
// per-run Tier-2 budget.
func New(table *resolve.Table) *Framework {
	return &Framework{
		table:       table,
		tier2Budget: DefaultTier2Budget,
		tier2Cache:  make(map[string]resolve.ResolvedEdge),
	}
}

// WithTier2Budget overrides the default per-run Tier-2 call budget.
func (f *Framework) WithTier2Budget(n int) *Framework {
	f.tier2Budget = n
	return f
}

// BudgetWarnings returns the overrun warnings accumulated so far this
// run (spec §4.2: "overruns emit a warning, not a failure").
func (f *Framework) BudgetWarnings() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.budgetWarns))
	copy(out, f.budgetWarns)
	return out
}

// Reset clears per-run state (the Tier-2 call counter and warnings);
// the cache itself is process-local and persists across compiles per
// spec §5 ("Tier-2 cache: process-local ... no cross-process sharing
// required").
func (f *Framework) Reset() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.tier2Calls = 0
	f.budgetWarns = nil
}

// cacheKey is (file_content_hash, reference_signature) per spec §4.2.
func cacheKey(fileContentHash string, ref astmodel.Reference) string {
	return fmt.Sprintf("%s|%s|%d", fileContentHash, ref.Name, ref.Kind[0])
}

// Resolve dispatches ref through the Tier-1 syntactic result (the
// caller already has tier1Confidence from the LanguageResolver's parse
// pass) and, if warranted, Tier 2, combining per spec §4.2: "max(c1,
// c2)" on agreement, both candidates kept on disagreement with the
// higher-confidence one winning.
func (f *Framework) Resolve(ctx context.Context, language string, ref astmodel.Reference, fileContentHash string, fileContent []byte, tier1Hash string, tier1Confidence float64) Resolution {
	tier1 := Candidate{TargetHash: tier1Hash, Confidence: tier1Confidence, Tier: 1, Source: "tier1"}
	res := Resolution{Winner: tier1, Candidates: []Candidate{tier1}, Resolved: tier1Hash != ""}

	resolver, ok := f.table.Get(language)
	if !ok {
		return res
	}

	// Tier 1 already confident enough: skip Tier 2 to conserve budget,
	// matching the spec's framing of Tier 2 as consulted "for
	// references Tier 1 cannot confidently resolve" (§4.1).
	if tier1Confidence >= 0.8 {
		return res
	}

	key := cacheKey(fileContentHash, ref)
	f.mu.Lock()
	if cached, ok := f.tier2Cache[key]; ok {
		f.mu.Unlock()
		return combine(res, cached)
	}
	if f.tier2Calls >= f.tier2Budget {
		f.budgetWarns = append(f.budgetWarns, fmt.Sprintf("tier-2 budget exhausted (%d calls); %s degraded to tier-1", f.tier2Budget, ref.Name))
		f.mu.Unlock()
		return res
	}
	f.tier2Calls++
	f.mu.Unlock()

	edge, ok, err := resolver.ResolveCallEdge(ctx, ref, fileContent)
	if err != nil || !ok {
		// Tier2Timeout/Tier2Missing: degrade silently to Tier 1 (spec §7).
		return res
	}

	f.mu.Lock()
	f.tier2Cache[key] = edge
	f.mu.Unlock()

	return combine(res, edge)
}

func combine(res Resolution, tier2 resolve.ResolvedEdge) Resolution {
	c2 := Candidate{TargetHash: tier2.TargetHash, Confidence: tier2.Confidence, Tier: tier2.Tier, Source: "tier2"}
	res.Candidates = append(res.Candidates, c2)

	if res.Winner.TargetHash == c2.TargetHash {
		// Agreement: max(c1, c2).
		if c2.Confidence > res.Winner.Confidence {
			res.Winner.Confidence = c2.Confidence
		}
		res.Resolved = res.Winner.TargetHash != ""
		return res
	}

	// Disagreement: choose the higher-confidence candidate, keep the
	// loser in Candidates for explain().
	if c2.Confidence > res.Winner.Confidence {
		res.Winner = c2
	}
	res.Resolved = res.Winner.TargetHash != ""
	return res
}
