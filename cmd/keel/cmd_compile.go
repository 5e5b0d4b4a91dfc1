// Copyright (c) 2025 The Keel Authors.
// Licensed under the Apache License, Version 2.0.

package main

import (
	"github.com/keel-dev/keel/internal/control"
	"github.com/keel-dev/keel/internal/engine"
	"github.com/spf13/cobra"
)

var (
	compileChanged    bool
	compileBatchStart bool
	compileBatchEnd   bool
)

var compileCmd = &cobra.Command{
	Use:   "compile [files...]",
	Short: "Reparse the given files (or the whole project) and enforce the rules",
	Long: `compile re-parses the given files, applies the resulting diff to the
graph, resolves the new references into edges, and runs the
enforcement rules over everything that diff touched.

With no file arguments, compile walks and reparses the entire project
(equivalent to 'keel map'). With file arguments, only those files are
reparsed, whether or not --changed is given; the flag has no further
effect.`,
	RunE: runCompile,
}

func init() {
	compileCmd.Flags().BoolVar(&compileChanged, "changed", false, "treat the given files as the only changed set")
	compileCmd.Flags().BoolVar(&compileBatchStart, "batch-start", false, "open a batch, deferring non-structural findings")
	compileCmd.Flags().BoolVar(&compileBatchEnd, "batch-end", false, "close the active batch and surface deferred findings")
	registerFormatFlag(compileCmd)
}

func runCompile(cmd *cobra.Command, args []string) error {
	dir := control.New(projectRoot)
	eng, store, err := openEngine(dir, projectRoot)
	if err != nil {
		return err
	}
	defer store.Close()

	files, err := parseFiles(cmd.Context(), eng.Logger, projectRoot, eng.Table, args)
	if err != nil {
		return err
	}

	result, d, err := eng.Compile(cmd.Context(), files, engine.Options{
		BatchStart: compileBatchStart,
		BatchEnd:   compileBatchEnd,
	})
	if err != nil && result.Errors == nil && result.Warnings == nil {
		return err
	}
	printCompileResult(cmd, result, d)
	return compileExitErr(result)
}
