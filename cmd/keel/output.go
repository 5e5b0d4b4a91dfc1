// Copyright (c) 2025 The Keel Authors.
// Licensed under the Apache License, Version 2.0.

package main

import (
	"encoding/json"
	"fmt"

	"github.com/keel-dev/keel/internal/delta"
	"github.com/keel-dev/keel/internal/keelerr"
	"github.com/keel-dev/keel/internal/violation"
	"github.com/spf13/cobra"
)

// outputFormat is the --format flag shared by compile/map ("text" or
// "json"; spec §6 "CompileResult ... json or text").
var outputFormat string

func registerFormatFlag(cmd *cobra.Command) {
	cmd.Flags().StringVar(&outputFormat, "format", "text", "output format: text or json")
}

type jsonResult struct {
	Errors                   []violation.Violation         `json:"errors"`
	Warnings                 []violation.Violation         `json:"warnings"`
	NodesUpdated             int                            `json:"nodes_updated"`
	EdgesUpdated             int                            `json:"edges_updated"`
	BatchMode                bool                           `json:"batch_mode"`
	CircuitBreakersTriggered []violation.CircuitBreakerTrip `json:"circuit_breakers_triggered"`
	Delta                    delta.Delta                    `json:"delta"`
}

// printCompileResult renders a CompileResult+CompileDelta in the
// requested format (spec §6).
func printCompileResult(cmd *cobra.Command, result violation.Result, d delta.Delta) {
	w := cmd.OutOrStdout()
	if outputFormat == "json" {
		data, _ := json.MarshalIndent(jsonResult{
			Errors:                   result.Errors,
			Warnings:                 result.Warnings,
			NodesUpdated:             result.NodesUpdated,
			EdgesUpdated:             result.EdgesUpdated,
			BatchMode:                result.BatchMode,
			CircuitBreakersTriggered: result.CircuitBreakersTriggered,
			Delta:                    d,
		}, "", "  ")
		fmt.Fprintln(w, string(data))
		return
	}

	for _, v := range result.Errors {
		fmt.Fprintf(w, "ERROR %s %s:%d %s\n", v.Code, v.File, v.Line, v.FixHint)
	}
	for _, v := range result.Warnings {
		fmt.Fprintf(w, "WARN  %s %s:%d %s\n", v.Code, v.File, v.Line, v.FixHint)
	}
	fmt.Fprintf(w, "nodes_updated=%d edges_updated=%d batch_mode=%v pressure=%s net_errors=%d net_warnings=%d\n",
		result.NodesUpdated, result.EdgesUpdated, result.BatchMode, d.Pressure, d.NetErrors, d.NetWarnings)
	for _, t := range result.CircuitBreakersTriggered {
		fmt.Fprintf(w, "muted %s %s (budget exceeded)\n", t.RuleCode, t.Hash)
	}
}

// compileExitErr maps a completed compile's findings to the process
// exit code documented in spec §6/§7: errors present -> ErrViolations
// (exit 1), otherwise nil (exit 0). A compile that fails before
// producing any result has already returned its own error upstream.
func compileExitErr(result violation.Result) error {
	if len(result.Errors) > 0 {
		return keelerr.ErrViolations
	}
	return nil
}
