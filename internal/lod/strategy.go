package lod

import (
	"fmt"

	"github.com/scatter-lod/server/internal/frame"
)

// Params configures a downsampling pass.
type Params struct {
	// MaxPoints bounds the output row count.
	MaxPoints int
	// Column names for the two spatial axes and the ranking scalar.
	XCol, YCol, RankCol string
	// Optional pinned axis ranges. When nil they are computed from the
	// input. Build and query paths pin the same ranges so bin assignments
	// stay consistent across passes.
	XRange, YRange *Range
	// Optional pinned bin grid. When nil a grid is derived from MaxPoints
	// and the axis ranges.
	Grid *Grid
}

func (p Params) withMaxPoints(n int) Params {
	p.MaxPoints = n
	return p
}

// Strategy reduces a view to at most MaxPoints rows, biased toward the
// highest-ranked point per spatial bin. Implementations differ in fidelity
// and cost but honor the same contract; ties are broken deterministically by
// row order. A ladder must be built with a single strategy throughout.
type Strategy interface {
	Name() string
	Downsample(v frame.View, p Params) (frame.View, error)
}

// ForName returns the strategy registered under name.
func ForName(name string) (Strategy, error) {
	switch name {
	case "simple":
		return SimpleStrategy{}, nil
	case "exact", "":
		return ExactStrategy{}, nil
	case "streaming":
		return StreamingStrategy{}, nil
	}
	return nil, fmt.Errorf("unknown downsampling strategy: %s", name)
}

// resolveRanges returns the axis ranges to bin against, preferring pinned
// ranges over ranges computed from the view.
func resolveRanges(v frame.View, p Params) (Range, Range) {
	var xr, yr Range
	if p.XRange != nil {
		xr = *p.XRange
	} else if lo, hi, ok := v.MinMax(p.XCol); ok {
		xr = Range{Min: lo, Max: hi}
	}
	if p.YRange != nil {
		yr = *p.YRange
	} else if lo, hi, ok := v.MinMax(p.YCol); ok {
		yr = Range{Min: lo, Max: hi}
	}
	return xr, yr
}

func resolveGrid(p Params, xr, yr Range) Grid {
	if p.Grid != nil {
		return *p.Grid
	}
	return OptimalBins(p.MaxPoints, xr, yr)
}

// SimpleStrategy ignores spatial binning entirely: rank-descending sort plus
// head. Cheapest, no spatial spread guarantee.
type SimpleStrategy struct{}

func (SimpleStrategy) Name() string { return "simple" }

func (SimpleStrategy) Downsample(v frame.View, p Params) (frame.View, error) {
	if v.Len() <= p.MaxPoints {
		return v, nil
	}
	return v.SortBy(p.RankCol, true).Head(p.MaxPoints), nil
}

// ExactStrategy is the reference semantics: a full 2D histogram over the bin
// grid, then the largest per-bin cap k such that keeping the top-k ranked
// points of every bin stays at or under MaxPoints. Dense bins get more
// representatives while sparse bins keep everything they have.
type ExactStrategy struct{}

func (ExactStrategy) Name() string { return "exact" }

func (ExactStrategy) Downsample(v frame.View, p Params) (frame.View, error) {
	if v.Len() <= p.MaxPoints {
		return v, nil
	}

	xr, yr := resolveRanges(v, p)
	grid := resolveGrid(p, xr, yr)
	if grid.Bins() > p.MaxPoints {
		return frame.View{}, fmt.Errorf(
			"bin grid %dx%d has %d bins, more than max_points=%d: cannot keep one point per bin",
			grid.BinsX, grid.BinsY, grid.Bins(), p.MaxPoints)
	}

	// Histogram pass: bin occupancy over the full input.
	binSizes := make([]int32, grid.Bins())
	n := v.Len()
	for i := 0; i < n; i++ {
		key := grid.BinKey(v.Float(p.XCol, i), v.Float(p.YCol, i), xr, yr)
		binSizes[key]++
	}

	k := adaptivePerBinCap(binSizes, p.MaxPoints)
	if k == 0 {
		return v.Head(0), nil
	}

	sorted := v.SortBy(p.RankCol, true)
	return sorted.TopKPerGroup(func(i int) int64 {
		return grid.BinKey(sorted.Float(p.XCol, i), sorted.Float(p.YCol, i), xr, yr)
	}, k), nil
}

// adaptivePerBinCap finds the maximum per-bin cap k such that
// sum(min(size, k)) over all bins stays at or under maxPoints.
func adaptivePerBinCap(binSizes []int32, maxPoints int) int {
	maxSize := 0
	occur := make(map[int]int)
	for _, s := range binSizes {
		if s == 0 {
			continue
		}
		occur[int(s)]++
		if int(s) > maxSize {
			maxSize = int(s)
		}
	}

	// binsWithAtLeast[j] = number of bins holding >= j points.
	binsWithAtLeast := make([]int, maxSize+2)
	for size, cnt := range occur {
		binsWithAtLeast[size] += cnt
	}
	for j := maxSize - 1; j >= 1; j-- {
		binsWithAtLeast[j] += binsWithAtLeast[j+1]
	}

	kept := 0
	k := 0
	for k < maxSize {
		add := binsWithAtLeast[k+1]
		if add == 0 || kept+add > maxPoints {
			break
		}
		kept += add
		k++
	}
	return k
}

// StreamingStrategy approximates the exact semantics as a lazy pipeline:
// a uniform per-bin cap of max(1, MaxPoints/bins), expressed as bin-key
// assignment, rank-descending sort and grouped head. Axis ranges come from
// lazy min/max aggregation when not pinned; the input is never gathered.
type StreamingStrategy struct{}

func (StreamingStrategy) Name() string { return "streaming" }

func (StreamingStrategy) Downsample(v frame.View, p Params) (frame.View, error) {
	if v.Len() <= p.MaxPoints {
		return v, nil
	}

	xr, yr := resolveRanges(v, p)
	grid := resolveGrid(p, xr, yr)

	pointsPerBin := p.MaxPoints / grid.Bins()
	if pointsPerBin < 1 {
		pointsPerBin = 1
	}

	sorted := v.SortBy(p.RankCol, true)
	out := sorted.TopKPerGroup(func(i int) int64 {
		return grid.BinKey(sorted.Float(p.XCol, i), sorted.Float(p.YCol, i), xr, yr)
	}, pointsPerBin)

	// With a cap of 1 the grouped head can still exceed the budget when more
	// bins are occupied than MaxPoints; rows are already in rank order.
	if out.Len() > p.MaxPoints {
		out = out.Head(p.MaxPoints)
	}
	return out, nil
}
