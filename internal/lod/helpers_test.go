package lod

import (
	"testing"

	"github.com/scatter-lod/server/internal/frame"
)

// gridTable builds the deterministic synthetic dataset used across the lod
// tests: a 10x10 grid of bins with 5 points each, intensities
// {100, 80, 60, 40, 20} plus a unique per-bin offset, and an alternating
// category label per bin.
func gridTable(t *testing.T) *frame.Table {
	t.Helper()

	const binsPerAxis = 10
	bases := []float64{100, 80, 60, 40, 20}
	n := binsPerAxis * binsPerAxis * len(bases)

	ids := make([]int64, 0, n)
	xs := make([]float64, 0, n)
	ys := make([]float64, 0, n)
	ranks := make([]float64, 0, n)
	cats := make([]string, 0, n)

	id := int64(0)
	for by := 0; by < binsPerAxis; by++ {
		for bx := 0; bx < binsPerAxis; bx++ {
			bin := by*binsPerAxis + bx
			cat := "even"
			if bin%2 == 1 {
				cat = "odd"
			}
			for _, base := range bases {
				ids = append(ids, id)
				xs = append(xs, float64(bx)+0.5)
				ys = append(ys, float64(by)+0.5)
				ranks = append(ranks, base+float64(bin)*0.001)
				cats = append(cats, cat)
				id++
			}
		}
	}

	tab, err := frame.NewTable(
		frame.IntCol("id", ids),
		frame.FloatCol("x", xs),
		frame.FloatCol("y", ys),
		frame.FloatCol("intensity", ranks),
		frame.StringCol("cat", cats),
	)
	if err != nil {
		t.Fatalf("failed to build synthetic table: %v", err)
	}
	return tab
}

// gridParams pins the synthetic dataset's extent and the 10x10 grid.
func gridParams() Params {
	xr := Range{Min: 0, Max: 10}
	yr := Range{Min: 0, Max: 10}
	g := Grid{BinsX: 10, BinsY: 10}
	return Params{
		XCol:    "x",
		YCol:    "y",
		RankCol: "intensity",
		XRange:  &xr,
		YRange:  &yr,
		Grid:    &g,
	}
}

// rankMultiset collects the ranking values of a view as a count map.
func rankMultiset(v frame.View) map[float64]int {
	out := make(map[float64]int, v.Len())
	for i := 0; i < v.Len(); i++ {
		out[v.Float("intensity", i)]++
	}
	return out
}
