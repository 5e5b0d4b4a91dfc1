// Copyright (c) 2025 The Keel Authors.
// Licensed under the Apache License, Version 2.0.

package main

import (
	"fmt"

	"github.com/keel-dev/keel/internal/astmodel"
	"github.com/keel-dev/keel/internal/control"
	"github.com/keel-dev/keel/internal/graphstore"
	"github.com/keel-dev/keel/internal/keelerr"
	"github.com/keel-dev/keel/internal/query"
	"github.com/keel-dev/keel/internal/violation"
	"github.com/spf13/cobra"
)

var discoverDepth int

var discoverCmd = &cobra.Command{
	Use:   "discover HASH",
	Short: "Walk the graph outward from a node",
	Args:  cobra.ExactArgs(1),
	RunE:  runDiscover,
}

var whereCmd = &cobra.Command{
	Use:   "where HASH",
	Short: "List every live caller of a node",
	Args:  cobra.ExactArgs(1),
	RunE:  runWhere,
}

var explainCmd = &cobra.Command{
	Use:   "explain CODE HASH",
	Short: "Explain why a rule fired for a node",
	Args:  cobra.ExactArgs(2),
	RunE:  runExplain,
}

var analyzeCmd = &cobra.Command{
	Use:   "analyze FILE",
	Short: "Report code smells and refactor suggestions for a file",
	Args:  cobra.ExactArgs(1),
	RunE:  runAnalyze,
}

var checkCmd = &cobra.Command{
	Use:   "check HASH",
	Short: "Report a node's caller count and current single-node findings",
	Args:  cobra.ExactArgs(1),
	RunE:  runCheck,
}

var nameKindFlag string
var nameModuleFlag string

var nameCmd = &cobra.Command{
	Use:   "name DESCRIPTION",
	Short: "Check a proposed name against existing module placement",
	Args:  cobra.ExactArgs(1),
	RunE:  runName,
}

func init() {
	discoverCmd.Flags().IntVar(&discoverDepth, "depth", 2, "neighborhood depth")
	nameCmd.Flags().StringVar(&nameKindFlag, "kind", string(astmodel.KindFunction), "declaration kind")
	nameCmd.Flags().StringVar(&nameModuleFlag, "module", "", "module the name would live in, to exclude self-matches")
}

func openStoreOnly(dir control.Dir) (graphstore.Store, error) {
	if !dir.Exists() {
		return nil, keelerr.ErrNotInitialized
	}
	store, err := graphstore.Open(graphstore.DefaultConfig(dir.GraphDB()))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", keelerr.ErrStoreOpenFailed, err)
	}
	return store, nil
}

func runDiscover(cmd *cobra.Command, args []string) error {
	dir := control.New(projectRoot)
	store, err := openStoreOnly(dir)
	if err != nil {
		return err
	}
	defer store.Close()

	neighbors, err := query.Discover(store, args[0], discoverDepth)
	if err != nil {
		return err
	}
	w := cmd.OutOrStdout()
	for _, n := range neighbors {
		fmt.Fprintf(w, "depth=%d %s:%d %s (%s, confidence %.2f, tier %d)\n",
			n.Depth, n.Node.FilePath, n.Node.LineStart, n.Node.Name, n.Edge.Kind, n.Edge.Confidence, n.Edge.ResolutionTier)
	}
	return nil
}

func runWhere(cmd *cobra.Command, args []string) error {
	dir := control.New(projectRoot)
	store, err := openStoreOnly(dir)
	if err != nil {
		return err
	}
	defer store.Close()

	callers, err := query.Where(store, args[0])
	if err != nil {
		return err
	}
	w := cmd.OutOrStdout()
	for _, c := range callers {
		fmt.Fprintf(w, "%s:%d %s\n", c.FilePath, c.LineStart, c.Name)
	}
	return nil
}

func runExplain(cmd *cobra.Command, args []string) error {
	dir := control.New(projectRoot)
	store, err := openStoreOnly(dir)
	if err != nil {
		return err
	}
	defer store.Close()

	text, err := query.Explain(store, violation.Code(args[0]), args[1])
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), text)
	return nil
}

func runAnalyze(cmd *cobra.Command, args []string) error {
	dir := control.New(projectRoot)
	store, err := openStoreOnly(dir)
	if err != nil {
		return err
	}
	defer store.Close()

	result, err := query.Analyze(store, args[0])
	if err != nil {
		return err
	}
	w := cmd.OutOrStdout()
	fmt.Fprintf(w, "%s: %d definitions, %d external endpoints\n", args[0], result.NodeCount, result.ExternalAPI)
	for _, s := range result.Smells {
		fmt.Fprintf(w, "  smell: %s %s\n", s.Kind, s.Detail)
	}
	for _, r := range result.Refactors {
		fmt.Fprintf(w, "  refactor: %s - %s\n", r.Kind, r.Rationale)
	}
	return nil
}

func runCheck(cmd *cobra.Command, args []string) error {
	dir := control.New(projectRoot)
	store, err := openStoreOnly(dir)
	if err != nil {
		return err
	}
	defer store.Close()

	result, err := query.Check(store, args[0])
	if err != nil {
		return err
	}
	w := cmd.OutOrStdout()
	fmt.Fprintf(w, "%s:%d %s - %d live callers\n", result.Node.FilePath, result.Node.LineStart, result.Node.Name, result.CallerCount)
	for _, v := range result.Violations {
		fmt.Fprintf(w, "  %s %s\n", v.Code, v.FixHint)
	}
	return nil
}

func runName(cmd *cobra.Command, args []string) error {
	dir := control.New(projectRoot)
	store, err := openStoreOnly(dir)
	if err != nil {
		return err
	}
	defer store.Close()

	matches, err := query.Name(store, args[0], nameModuleFlag, astmodel.Kind(nameKindFlag))
	if err != nil {
		return err
	}
	w := cmd.OutOrStdout()
	if len(matches) == 0 {
		fmt.Fprintln(w, "no placement conflicts found")
		return nil
	}
	for _, m := range matches {
		fmt.Fprintf(w, "conflicts with %s (%d matching functions)\n", m.ModulePath, m.FunctionCount)
	}
	return nil
}
