package lod

import (
	"fmt"
	"math"

	"github.com/scatter-lod/server/internal/frame"
)

// FullResolution marks the ladder's final, unbounded level.
const FullResolution = uint64(math.MaxUint64)

// Level is one rung of a ladder: a target size and the downsampled rows.
// The realized row count is at most Target (equal only when the input was
// already small enough).
type Level struct {
	Target uint64
	View   frame.View
}

// Ladder is an ordered sequence of levels, strictly increasing by target
// size, smallest first, ending with the untouched full-resolution data.
type Ladder struct {
	Levels []Level
}

// Smallest returns the coarsest level. Ladders always have at least the
// full-resolution level.
func (l *Ladder) Smallest() Level { return l.Levels[0] }

// Full returns the full-resolution level.
func (l *Ladder) Full() Level { return l.Levels[len(l.Levels)-1] }

// BuildMode selects how intermediate levels are derived.
type BuildMode int

const (
	// BuildDirect builds every level independently from the raw data.
	BuildDirect BuildMode = iota
	// BuildCascading builds each level from the next coarser one, chaining
	// largest to smallest. Requires the same ranking field and the same bin
	// partition at every step, which BuildLadder guarantees by pinning the
	// axis ranges and a single grid shared by every bounded level.
	BuildCascading
)

// ParseBuildMode maps a config string to a build mode.
func ParseBuildMode(s string) (BuildMode, error) {
	switch s {
	case "direct":
		return BuildDirect, nil
	case "cascading", "":
		return BuildCascading, nil
	}
	return 0, fmt.Errorf("unknown build mode: %s", s)
}

func (m BuildMode) String() string {
	if m == BuildDirect {
		return "direct"
	}
	return "cascading"
}

// BuildLadder builds the full ladder for raw data and the planned target
// sizes (ascending, as returned by PlanLevels). The raw data is appended as
// the final level with no bound applied. Axis ranges are computed once from
// the raw data and pinned for every level; when the caller supplies no grid,
// one grid sized for the coarsest target is pinned for every bounded level.
// Both are required for cascaded re-binning to compose with direct builds:
// per-level grids do not nest, so a point top-ranked in its coarse bin can
// straddle a bin boundary of a finer level's grid and be dropped there.
func BuildLadder(raw frame.View, sizes []uint64, mode BuildMode, strat Strategy, p Params) (*Ladder, error) {
	if p.XRange == nil || p.YRange == nil {
		xr, yr := resolveRanges(raw, p)
		p.XRange = &xr
		p.YRange = &yr
	}
	if p.Grid == nil && len(sizes) > 0 {
		g := OptimalBins(int(sizes[0]), *p.XRange, *p.YRange)
		p.Grid = &g
	}

	ladder := &Ladder{Levels: make([]Level, len(sizes)+1)}
	ladder.Levels[len(sizes)] = Level{Target: FullResolution, View: raw}

	switch mode {
	case BuildDirect:
		for i, size := range sizes {
			lv, err := strat.Downsample(raw, p.withMaxPoints(int(size)))
			if err != nil {
				return nil, fmt.Errorf("failed to build level %d (target %d): %w", i, size, err)
			}
			ladder.Levels[i] = Level{Target: size, View: lv}
		}
	case BuildCascading:
		prev := raw
		for i := len(sizes) - 1; i >= 0; i-- {
			size := sizes[i]
			lv, err := strat.Downsample(prev, p.withMaxPoints(int(size)))
			if err != nil {
				return nil, fmt.Errorf("failed to cascade level %d (target %d): %w", i, size, err)
			}
			ladder.Levels[i] = Level{Target: size, View: lv}
			prev = lv
		}
	default:
		return nil, fmt.Errorf("unknown build mode: %d", mode)
	}

	return ladder, nil
}
