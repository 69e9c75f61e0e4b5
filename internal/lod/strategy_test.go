package lod

import (
	"strings"
	"testing"
)

func TestForName(t *testing.T) {
	for _, name := range []string{"simple", "exact", "streaming"} {
		s, err := ForName(name)
		if err != nil {
			t.Errorf("ForName(%q) failed: %v", name, err)
		} else if s.Name() != name {
			t.Errorf("ForName(%q).Name() = %q", name, s.Name())
		}
	}
	if _, err := ForName("fancy"); err == nil {
		t.Error("expected error for unknown strategy")
	}
	// Empty selects the reference strategy.
	if s, err := ForName(""); err != nil || s.Name() != "exact" {
		t.Errorf("ForName(\"\") = %v, %v", s, err)
	}
}

func TestSimpleStrategy(t *testing.T) {
	v := gridTable(t).View()
	out, err := SimpleStrategy{}.Downsample(v, gridParams().withMaxPoints(100))
	if err != nil {
		t.Fatalf("Downsample failed: %v", err)
	}
	if out.Len() != 100 {
		t.Fatalf("expected 100 rows, got %d", out.Len())
	}
	// Purely rank-ordered: the 100 globally highest intensities, which in the
	// synthetic dataset are exactly the base-100 points.
	for i := 0; i < out.Len(); i++ {
		if out.Float("intensity", i) < 100 {
			t.Errorf("row %d: intensity %v below the global top-100 cut", i, out.Float("intensity", i))
		}
	}
}

func TestSimpleStrategyNoOp(t *testing.T) {
	v := gridTable(t).View()
	out, err := SimpleStrategy{}.Downsample(v, gridParams().withMaxPoints(10000))
	if err != nil {
		t.Fatalf("Downsample failed: %v", err)
	}
	if out.Len() != v.Len() {
		t.Errorf("downsample below total should be a no-op: %d != %d", out.Len(), v.Len())
	}
}

func TestExactStrategyAdaptiveCap(t *testing.T) {
	v := gridTable(t).View()

	// 100 bins x 5 points, budget 100: cap lands at k=1, the per-bin maximum.
	out, err := ExactStrategy{}.Downsample(v, gridParams().withMaxPoints(100))
	if err != nil {
		t.Fatalf("Downsample failed: %v", err)
	}
	if out.Len() != 100 {
		t.Fatalf("expected 100 rows, got %d", out.Len())
	}
	for i := 0; i < out.Len(); i++ {
		if out.Float("intensity", i) < 100 {
			t.Errorf("kept non-maximal point with intensity %v", out.Float("intensity", i))
		}
	}

	// Budget 250: k=2 fits (200 points), k=3 would need 300.
	out, err = ExactStrategy{}.Downsample(v, gridParams().withMaxPoints(250))
	if err != nil {
		t.Fatalf("Downsample failed: %v", err)
	}
	if out.Len() != 200 {
		t.Fatalf("expected 200 rows (top-2 per bin), got %d", out.Len())
	}
	for i := 0; i < out.Len(); i++ {
		if out.Float("intensity", i) < 80 {
			t.Errorf("kept point below per-bin top-2 with intensity %v", out.Float("intensity", i))
		}
	}
}

func TestExactStrategyGridBudgetError(t *testing.T) {
	v := gridTable(t).View()
	p := gridParams().withMaxPoints(100)
	p.Grid = &Grid{BinsX: 20, BinsY: 20}

	_, err := ExactStrategy{}.Downsample(v, p)
	if err == nil {
		t.Fatal("expected configuration error for grid larger than budget")
	}
	if !strings.Contains(err.Error(), "max_points") {
		t.Errorf("error should describe the budget conflict, got: %v", err)
	}
}

func TestStreamingStrategyUniformCap(t *testing.T) {
	v := gridTable(t).View()

	// Budget 100 over a 10x10 grid: one point per bin, the bin maximum.
	out, err := StreamingStrategy{}.Downsample(v, gridParams().withMaxPoints(100))
	if err != nil {
		t.Fatalf("Downsample failed: %v", err)
	}
	if out.Len() != 100 {
		t.Fatalf("expected 100 rows, got %d", out.Len())
	}
	for i := 0; i < out.Len(); i++ {
		if out.Float("intensity", i) < 100 {
			t.Errorf("kept non-maximal point with intensity %v", out.Float("intensity", i))
		}
	}
}

func TestStreamingStrategyEnforcesBudget(t *testing.T) {
	v := gridTable(t).View()

	// Budget below the occupied bin count: per-bin cap of 1 overshoots and
	// the rank-ordered head trims to the budget.
	out, err := StreamingStrategy{}.Downsample(v, gridParams().withMaxPoints(50))
	if err != nil {
		t.Fatalf("Downsample failed: %v", err)
	}
	if out.Len() != 50 {
		t.Fatalf("expected 50 rows, got %d", out.Len())
	}
	for i := 1; i < out.Len(); i++ {
		if out.Float("intensity", i) > out.Float("intensity", i-1) {
			t.Errorf("trimmed output not in rank order at %d", i)
		}
	}
}

func TestStreamingStrategyDerivesRanges(t *testing.T) {
	v := gridTable(t).View()
	p := gridParams().withMaxPoints(100)
	p.XRange = nil
	p.YRange = nil
	p.Grid = nil

	out, err := StreamingStrategy{}.Downsample(v, p)
	if err != nil {
		t.Fatalf("Downsample failed: %v", err)
	}
	if out.Len() == 0 || out.Len() > 100 {
		t.Errorf("expected 1..100 rows, got %d", out.Len())
	}
}

func TestStrategiesDeterministic(t *testing.T) {
	v := gridTable(t).View()
	for _, strat := range []Strategy{SimpleStrategy{}, ExactStrategy{}, StreamingStrategy{}} {
		a, err := strat.Downsample(v, gridParams().withMaxPoints(120))
		if err != nil {
			t.Fatalf("%s: Downsample failed: %v", strat.Name(), err)
		}
		b, err := strat.Downsample(v, gridParams().withMaxPoints(120))
		if err != nil {
			t.Fatalf("%s: Downsample failed: %v", strat.Name(), err)
		}
		if a.Len() != b.Len() {
			t.Fatalf("%s: runs differ in length: %d != %d", strat.Name(), a.Len(), b.Len())
		}
		for i := 0; i < a.Len(); i++ {
			if a.Int("id", i) != b.Int("id", i) {
				t.Errorf("%s: runs differ at %d: %d != %d", strat.Name(), i, a.Int("id", i), b.Int("id", i))
			}
		}
	}
}
