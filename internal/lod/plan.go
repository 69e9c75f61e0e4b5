// Package lod implements multi-resolution spatial downsampling and
// level-of-detail selection for large 2D point clouds. A dataset is reduced
// into a ladder of progressively coarser levels by spatial binning with
// per-bin ranking; at query time the coarsest level that still yields enough
// points inside the viewport is selected and refined.
package lod

import (
	"math"
)

// PlanLevels computes the ladder of target sizes for a dataset of the given
// total row count. Targets are ascending, one per power-of-ten decade,
// scaled so the smallest target equals minSize exactly. Targets at or above
// total are dropped; the full-resolution data is represented implicitly as
// the ladder's final level and never duplicated here.
//
// The result is never empty: datasets with total <= minSize get the single
// target [total] (no downsampling of already-small data). A minSize of zero
// is treated as 1; log10(0) would poison every derived size.
func PlanLevels(minSize, total uint64) []uint64 {
	if minSize < 1 {
		minSize = 1
	}
	if total <= minSize {
		return []uint64{total}
	}

	minPower := math.Floor(math.Log10(float64(minSize)))
	maxPower := math.Floor(math.Log10(float64(total)))
	if minPower >= maxPower {
		// total is within the same decade as minSize (up to 10x).
		return []uint64{minSize}
	}

	// Scale each decade so the smallest generated target equals minSize.
	scale := math.Pow(10, math.Log10(float64(minSize))-minPower)

	var sizes []uint64
	for p := minPower; p <= maxPower; p++ {
		size := uint64(math.Round(scale * math.Pow(10, p)))
		if size >= total {
			continue
		}
		sizes = append(sizes, size)
	}
	if len(sizes) == 0 {
		return []uint64{minSize}
	}
	// Rounding can drift the first decade off minSize; pin it.
	sizes[0] = minSize
	return sizes
}
