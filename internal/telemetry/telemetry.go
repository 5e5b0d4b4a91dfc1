// Copyright (c) 2025 The Keel Authors.
// Licensed under the Apache License, Version 2.0.

// Package telemetry wires Engine.Compile's observability surface:
// Prometheus counters/histograms for compile duration, nodes/edges
// touched, Tier-2 budget overruns, and circuit-breaker trips, plus an
// OpenTelemetry tracer for spans around each compile phase. Grounded in
// the teacher's services/trace/cache/staleness.go promauto/otel usage
// (SPEC_FULL.md DOMAIN STACK).
package telemetry

import (
	"context"
	"os"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
)

var tracer = otel.Tracer("keel.engine.compile")

// InitTracing installs a process-wide TracerProvider when KEEL_TRACE is
// set, exporting spans to stdout for local inspection of a compile run's
// phase timings. Grounded in the pack's services/orchestrator/main.go
// initTracer (same sdktrace.NewTracerProvider/otel.SetTracerProvider
// wiring), adapted from its OTLP-to-a-collector exporter to a stdout
// exporter: the core has no collector to push to and telemetry uploading
// is explicitly out of scope (spec.md §1). Returns a shutdown func that
// flushes buffered spans; it is a no-op when tracing was never enabled.
func InitTracing() func(context.Context) error {
	if os.Getenv("KEEL_TRACE") == "" {
		return func(context.Context) error { return nil }
	}

	exporter, err := stdouttrace.New(stdouttrace.WithPrettyPrint())
	if err != nil {
		return func(context.Context) error { return nil }
	}

	provider := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithSampler(sdktrace.AlwaysSample()),
	)
	otel.SetTracerProvider(provider)
	tracer = provider.Tracer("keel.engine.compile")

	return provider.Shutdown
}

var (
	compileDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "keel_compile_duration_seconds",
		Help:    "Wall-clock time of a full Engine.Compile invocation",
		Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
	})

	nodesTouched = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "keel_compile_nodes_touched",
		Help:    "Nodes added, modified, or removed per compile",
		Buckets: []float64{1, 5, 10, 50, 100, 500, 1000},
	})

	edgesTouched = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "keel_compile_edges_touched",
		Help:    "Edges inserted per compile",
		Buckets: []float64{1, 5, 10, 50, 100, 500, 1000, 5000},
	})

	violationsEmitted = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "keel_violations_emitted_total",
		Help: "Violations emitted by rule code",
	}, []string{"code"})

	tier2BudgetOverruns = promauto.NewCounter(prometheus.CounterOpts{
		Name: "keel_tier2_budget_overruns_total",
		Help: "Number of compiles in which the Tier-2 resolution budget was exhausted",
	})

	circuitBreakerTrips = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "keel_circuit_breaker_trips_total",
		Help: "Circuit breaker trips by rule code",
	}, []string{"code"})
)

// ObserveCompile records the duration and node/edge counts of one
// compile run.
func ObserveCompile(seconds float64, nodes, edges int) {
	compileDuration.Observe(seconds)
	nodesTouched.Observe(float64(nodes))
	edgesTouched.Observe(float64(edges))
}

// ObserveViolation increments the per-code violation counter.
func ObserveViolation(code string) {
	violationsEmitted.WithLabelValues(code).Inc()
}

// ObserveTier2BudgetOverrun records a Tier-2 budget exhaustion.
func ObserveTier2BudgetOverrun() {
	tier2BudgetOverruns.Inc()
}

// ObserveCircuitBreakerTrip increments the per-code trip counter.
func ObserveCircuitBreakerTrip(code string) {
	circuitBreakerTrips.WithLabelValues(code).Inc()
}

// StartSpan opens a span named "keel.compile.<phase>" (compile, diff,
// resolve, enforce) around one Engine.Compile step (spec
// SPEC_FULL.md DOMAIN STACK: "Tracer spans around Engine.Compile
// phases").
func StartSpan(ctx context.Context, phase string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return tracer.Start(ctx, "keel.compile."+phase, trace.WithAttributes(attrs...))
}
