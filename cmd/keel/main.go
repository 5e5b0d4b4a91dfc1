// Copyright (c) 2025 The Keel Authors.
// Licensed under the Apache License, Version 2.0.

// Command keel is the CLI entrypoint: init/deinit/map/compile against
// the project's GraphStore, plus the discover/where/explain/analyze/
// check/name read-path (spec §6).
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/keel-dev/keel/internal/keelerr"
	"github.com/keel-dev/keel/internal/telemetry"
)

func main() {
	shutdown := telemetry.InitTracing()
	defer func() { _ = shutdown(context.Background()) }()

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "keel:", err)
		os.Exit(keelerr.ExitCode(err))
	}
}
