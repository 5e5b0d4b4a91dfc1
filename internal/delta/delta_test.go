// Copyright (c) 2025 The Keel Authors.
// Licensed under the Apache License, Version 2.0.

package delta

import (
	"testing"

	"github.com/keel-dev/keel/internal/violation"
)

func v(code violation.Code, hash string) violation.Violation {
	return violation.Violation{Code: code, Hash: hash, File: "a.go", Line: 1}
}

// TestIdempotence is spec §8's "Delta idempotence": Compute(A, A)'s
// new_*/resolved_* sets must be empty.
func TestIdempotence(t *testing.T) {
	vs := []violation.Violation{
		v(violation.CodeFunctionRemoved, "h1"),
		v(violation.CodeMissingDocstring, "h2"),
	}
	prev := ToSet(Keys(vs))

	d := Compute(prev, vs)

	if len(d.NewErrors) != 0 || len(d.ResolvedErrors) != 0 {
		t.Fatalf("expected no new/resolved errors, got %+v", d)
	}
	if len(d.NewWarnings) != 0 || len(d.ResolvedWarnings) != 0 {
		t.Fatalf("expected no new/resolved warnings, got %+v", d)
	}
	if d.NetErrors != 0 || d.NetWarnings != 0 {
		t.Fatalf("expected zero net movement, got errors=%d warnings=%d", d.NetErrors, d.NetWarnings)
	}
	if d.Pressure != PressureNeutral {
		t.Fatalf("expected neutral pressure, got %s", d.Pressure)
	}
	if d.TotalErrors != 2 || d.TotalWarnings != 0 {
		t.Fatalf("expected totals 2/0, got %d/%d", d.TotalErrors, d.TotalWarnings)
	}
}

func TestNewErrorIsCritical(t *testing.T) {
	prev := map[violation.Key]bool{}
	d := Compute(prev, []violation.Violation{v(violation.CodeArityMismatch, "h1")})

	if len(d.NewErrors) != 1 {
		t.Fatalf("expected one new error, got %+v", d.NewErrors)
	}
	if d.Pressure != PressureCritical {
		t.Fatalf("expected critical pressure on a net-new error, got %s", d.Pressure)
	}
}

func TestResolvedErrorIsRelieving(t *testing.T) {
	prev := ToSet([]violation.Key{{Code: violation.CodeArityMismatch, Hash: "h1", File: "a.go", Line: 1}})
	d := Compute(prev, nil)

	if len(d.ResolvedErrors) != 1 {
		t.Fatalf("expected one resolved error, got %+v", d.ResolvedErrors)
	}
	if d.Pressure != PressureRelieving {
		t.Fatalf("expected relieving pressure, got %s", d.Pressure)
	}
	if d.TotalErrors != 0 {
		t.Fatalf("expected zero total errors after resolution, got %d", d.TotalErrors)
	}
}

func TestNewWarningOnlyIsBuilding(t *testing.T) {
	prev := map[violation.Key]bool{}
	d := Compute(prev, []violation.Violation{v(violation.CodePlacement, "h1")})

	if d.NetErrors != 0 {
		t.Fatalf("expected zero net errors, got %d", d.NetErrors)
	}
	if d.Pressure != PressureBuilding {
		t.Fatalf("expected building pressure on a net-new warning, got %s", d.Pressure)
	}
}
