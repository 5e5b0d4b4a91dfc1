// Copyright (c) 2025 The Keel Authors.
// Licensed under the Apache License, Version 2.0.

package main

import (
	"github.com/spf13/cobra"
)

// projectRoot is the --root persistent flag; every subcommand resolves
// the control directory relative to it (spec §6, control.New).
var projectRoot string

var rootCmd = &cobra.Command{
	Use:   "keel",
	Short: "An incremental, cross-language code-graph engine",
	Long: `keel parses source files into a persistent graph of definitions and
references, then enforces a small set of rules against the edit that
just happened: did you break a caller, remove something still in use,
change an arity, or leave a new public function undocumented.

Run 'keel init' once per project, then 'keel compile' after every edit.`,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&projectRoot, "root", ".", "project root directory")

	rootCmd.AddCommand(initCmd)
	rootCmd.AddCommand(deinitCmd)
	rootCmd.AddCommand(mapCmd)
	rootCmd.AddCommand(compileCmd)
	rootCmd.AddCommand(discoverCmd)
	rootCmd.AddCommand(whereCmd)
	rootCmd.AddCommand(explainCmd)
	rootCmd.AddCommand(analyzeCmd)
	rootCmd.AddCommand(checkCmd)
	rootCmd.AddCommand(nameCmd)
}
