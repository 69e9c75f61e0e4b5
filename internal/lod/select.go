package lod

import (
	"fmt"
	"math"

	"github.com/scatter-lod/server/internal/frame"
)

// Viewport is the rectangular region of interest in data space. A viewport
// with all four bounds negative is the "no viewport" sentinel meaning full
// extent.
type Viewport struct {
	X0, X1 float64
	Y0, Y1 float64
}

// NoViewport returns the full-extent sentinel.
func NoViewport() Viewport {
	return Viewport{X0: -1, X1: -1, Y0: -1, Y1: -1}
}

// IsNone reports whether vp is the full-extent sentinel.
func (vp Viewport) IsNone() bool {
	return vp.X0 < 0 && vp.X1 < 0 && vp.Y0 < 0 && vp.Y1 < 0
}

// XRange returns the viewport's x interval with bounds ordered.
func (vp Viewport) XRange() Range {
	return Range{Min: math.Min(vp.X0, vp.X1), Max: math.Max(vp.X0, vp.X1)}
}

// YRange returns the viewport's y interval with bounds ordered.
func (vp Viewport) YRange() Range {
	return Range{Min: math.Min(vp.Y0, vp.Y1), Max: math.Max(vp.Y0, vp.Y1)}
}

// Filter is an attribute-equality predicate applied alongside the viewport.
type Filter struct {
	Column string
	Value  string
}

// Selection is the result of a viewport query.
type Selection struct {
	// View holds the selected rows.
	View frame.View
	// LevelIndex is the ladder position the rows came from.
	LevelIndex int
	// Target is that level's target size (FullResolution for the last).
	Target uint64
	// Refined reports whether an overshoot re-binning pass ran.
	Refined bool
}

func applyFilters(v frame.View, filters []Filter) frame.View {
	for _, f := range filters {
		v = v.FilterEqual(f.Column, f.Value)
	}
	return v
}

// SelectForViewport walks the ladder from the smallest level upward and
// returns rows for the coarsest level that still yields at least minPoints
// rows inside the viewport (plus attribute filters). When the chosen level
// overshoots the budget, the filtered subset is re-binned against the
// viewport's own extent and downsampled to exactly minPoints. An empty
// viewport yields an empty selection, never an error.
func SelectForViewport(ladder *Ladder, vp Viewport, minPoints int, filters []Filter, strat Strategy, p Params) (Selection, error) {
	if vp.IsNone() {
		lv := ladder.Smallest()
		sub := applyFilters(lv.View, filters)
		sel := Selection{View: sub, LevelIndex: 0, Target: lv.Target}
		if len(filters) > 0 && sub.Len() > minPoints {
			xr, yr := resolveRanges(sub, p)
			return refine(sel, xr, yr, minPoints, strat, p)
		}
		return sel, nil
	}

	xr, yr := vp.XRange(), vp.YRange()
	last := len(ladder.Levels) - 1
	for idx, lv := range ladder.Levels {
		sub := lv.View.FilterRange(p.XCol, xr.Min, xr.Max).FilterRange(p.YCol, yr.Min, yr.Max)
		sub = applyFilters(sub, filters)

		count := sub.Len()
		if count < minPoints && idx != last {
			continue
		}

		sel := Selection{View: sub, LevelIndex: idx, Target: lv.Target}
		if count > minPoints {
			// Re-bin against the viewport itself, not the dataset extent, so
			// the grid is not wasted on bins outside the zoomed-in region.
			return refine(sel, xr, yr, minPoints, strat, p)
		}
		return sel, nil
	}

	// Unreachable for well-formed ladders.
	return Selection{}, fmt.Errorf("ladder has no levels")
}

// refine reduces an overshooting selection to exactly minPoints rows: the
// strategy keeps the top-ranked points per bin of the local grid, then any
// remaining budget is filled with the highest-ranked leftover rows.
func refine(sel Selection, xr, yr Range, minPoints int, strat Strategy, p Params) (Selection, error) {
	rp := p
	rp.MaxPoints = minPoints
	rp.XRange = &xr
	rp.YRange = &yr
	rp.Grid = nil

	out, err := strat.Downsample(sel.View, rp)
	if err != nil {
		return Selection{}, fmt.Errorf("failed to refine viewport selection: %w", err)
	}

	if out.Len() < minPoints {
		out = topUpByRank(sel.View, out, minPoints, p.RankCol)
	}

	sel.View = out
	sel.Refined = true
	return sel, nil
}

// topUpByRank extends chosen with the highest-ranked rows of pool that are
// not already chosen, until total rows reaches want.
func topUpByRank(pool, chosen frame.View, want int, rankCol string) frame.View {
	taken := make(map[int]struct{}, chosen.Len())
	rows := make([]int32, 0, want)
	for i := 0; i < chosen.Len(); i++ {
		r := chosen.Row(i)
		taken[r] = struct{}{}
		rows = append(rows, int32(r))
	}

	ranked := pool.SortBy(rankCol, true)
	for i := 0; i < ranked.Len() && len(rows) < want; i++ {
		r := ranked.Row(i)
		if _, ok := taken[r]; ok {
			continue
		}
		rows = append(rows, int32(r))
	}
	return pool.Table().SelectRows(rows)
}
