// Copyright (c) 2025 The Keel Authors.
// Licensed under the Apache License, Version 2.0.

package main

import (
	"fmt"
	"path/filepath"

	"github.com/keel-dev/keel/internal/control"
	"github.com/keel-dev/keel/internal/engine"
	"github.com/spf13/cobra"
)

var mapScope string

var mapCmd = &cobra.Command{
	Use:   "map",
	Short: "Build (or rebuild) the graph for the whole project",
	RunE:  runMap,
}

func init() {
	mapCmd.Flags().StringVar(&mapScope, "scope", "", "restrict the walk to a subdirectory of the project root")
	registerFormatFlag(mapCmd)
}

func runMap(cmd *cobra.Command, args []string) error {
	dir := control.New(projectRoot)
	eng, store, err := openEngine(dir, projectRoot)
	if err != nil {
		return err
	}
	defer store.Close()

	walkRoot := projectRoot
	if mapScope != "" {
		walkRoot = filepath.Join(projectRoot, mapScope)
	}

	files, err := parseFiles(cmd.Context(), eng.Logger, walkRoot, eng.Table, nil)
	if err != nil {
		return err
	}
	// parseFiles returns paths relative to walkRoot; re-root them to the
	// project root so GraphNode.FilePath stays stable regardless of
	// --scope, matching the identity every other command assumes.
	if mapScope != "" {
		for i := range files {
			files[i].FilePath = filepath.ToSlash(filepath.Join(mapScope, files[i].FilePath))
		}
	}

	result, d, err := eng.Compile(cmd.Context(), files, engine.Options{})
	if err != nil && result.Errors == nil && result.Warnings == nil {
		return err
	}
	printCompileResult(cmd, result, d)
	return compileExitErr(result)
}
