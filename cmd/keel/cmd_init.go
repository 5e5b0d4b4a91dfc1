// Copyright (c) 2025 The Keel Authors.
// Licensed under the Apache License, Version 2.0.

package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/google/uuid"
	"github.com/keel-dev/keel/internal/circuitbreaker"
	"github.com/keel-dev/keel/internal/config"
	"github.com/keel-dev/keel/internal/control"
	"github.com/keel-dev/keel/internal/engine"
	"github.com/keel-dev/keel/internal/keelerr"
	"github.com/spf13/cobra"
)

var initMerge bool

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize the control directory and build the initial graph",
	RunE:  runInit,
}

var deinitCmd = &cobra.Command{
	Use:   "deinit",
	Short: "Remove the control directory",
	RunE:  runDeinit,
}

func init() {
	initCmd.Flags().BoolVar(&initMerge, "merge", false, "reinitialize an existing project, resetting circuit breaker counters")
}

func runInit(cmd *cobra.Command, args []string) error {
	dir := control.New(projectRoot)
	if dir.Exists() && !initMerge {
		return keelerr.ErrAlreadyInitialized
	}
	if err := os.MkdirAll(dir.Root, 0o750); err != nil {
		return fmt.Errorf("keel: mkdir %s: %w", dir.Root, err)
	}

	languages, err := detectedLanguages(projectRoot)
	if err != nil {
		return err
	}
	cfg, err := config.Load(dir.Config())
	if err != nil {
		return err
	}
	cfg.Languages = languages
	if cfg.ProjectID == "" {
		cfg.ProjectID = uuid.NewString()
	}
	if err := config.Save(dir.Config(), cfg); err != nil {
		return err
	}

	if initMerge {
		breaker, err := circuitbreaker.Load(dir.CircuitBreakers())
		if err != nil {
			return err
		}
		breaker.ResetAll()
		if err := breaker.Save(dir.CircuitBreakers()); err != nil {
			return err
		}
	}

	// Build the initial graph with the same full-project parse and compile
	// that 'keel map' runs; findings are not printed and do not fail init.
	eng, store, err := openEngine(dir, projectRoot)
	if err != nil {
		return err
	}
	defer store.Close()
	files, err := parseFiles(cmd.Context(), eng.Logger, projectRoot, eng.Table, nil)
	if err != nil {
		return err
	}
	if _, _, err := eng.Compile(cmd.Context(), files, engine.Options{}); err != nil && !errors.Is(err, keelerr.ErrViolations) {
		return err
	}

	fmt.Fprintf(cmd.OutOrStdout(), "initialized %s (languages: %v)\n", dir.Root, languages)
	return nil
}

func runDeinit(cmd *cobra.Command, args []string) error {
	dir := control.New(projectRoot)
	if !dir.Exists() {
		return keelerr.ErrNotInitialized
	}
	if err := os.RemoveAll(dir.Root); err != nil {
		return fmt.Errorf("keel: remove %s: %w", dir.Root, err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "removed %s\n", dir.Root)
	return nil
}
