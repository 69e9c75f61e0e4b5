package lod

import (
	"math"
)

// binEpsilon pads axis spans so points sitting exactly on the maximum edge
// fall into the last bin. The same constant is used at build time and during
// viewport refinement so bin assignments always agree.
const binEpsilon = 1e-10

// Aspect ratios are clamped so extreme axis spans (e.g. 1900:1 real-world
// datasets) cannot collapse one grid dimension to a single bin.
const (
	minAspect = 0.05
	maxAspect = 20.0
)

// Range is a closed [Min, Max] interval on one axis.
type Range struct {
	Min float64 `json:"min"`
	Max float64 `json:"max"`
}

// Span returns Max - Min.
func (r Range) Span() float64 { return r.Max - r.Min }

// Grid is a 2D bin grid over data space.
type Grid struct {
	BinsX int
	BinsY int
}

// Bins returns the total bin count.
func (g Grid) Bins() int { return g.BinsX * g.BinsY }

// OptimalBins computes a bin grid of roughly targetPoints bins (one point
// per bin on average) whose bins are roughly square in data space:
// binsX/binsY approximates the x/y span ratio.
func OptimalBins(targetPoints int, x, y Range) Grid {
	if targetPoints < 1 {
		targetPoints = 1
	}

	xSpan := x.Span()
	ySpan := y.Span()
	// Degenerate spans borrow the other axis, or 1.0 when both collapse.
	if xSpan <= binEpsilon && ySpan <= binEpsilon {
		xSpan, ySpan = 1.0, 1.0
	} else if xSpan <= binEpsilon {
		xSpan = ySpan
	} else if ySpan <= binEpsilon {
		ySpan = xSpan
	}

	aspect := xSpan / ySpan
	if aspect < minAspect {
		aspect = minAspect
	} else if aspect > maxAspect {
		aspect = maxAspect
	}

	binsX := int(math.Floor(math.Sqrt(float64(targetPoints) * aspect)))
	binsY := int(math.Floor(math.Sqrt(float64(targetPoints) / aspect)))
	if binsX < 1 {
		binsX = 1
	}
	if binsY < 1 {
		binsY = 1
	}
	return Grid{BinsX: binsX, BinsY: binsY}
}

// BinIndex maps a value to its bin on one axis, clamped to [0, bins-1].
func BinIndex(v float64, r Range, bins int) int {
	span := r.Span() + binEpsilon
	i := int(math.Floor((v - r.Min) / span * float64(bins)))
	if i < 0 {
		return 0
	}
	if i >= bins {
		return bins - 1
	}
	return i
}

// BinKey maps a point to its flat bin index in g.
func (g Grid) BinKey(x, y float64, xr, yr Range) int64 {
	bx := BinIndex(x, xr, g.BinsX)
	by := BinIndex(y, yr, g.BinsY)
	return int64(by)*int64(g.BinsX) + int64(bx)
}
