package lod

import (
	"fmt"
	"sort"

	"github.com/scatter-lod/server/internal/frame"
)

// CategoryLadders maps each distinct value of one categorical column to its
// own precomputed ladder, so a viewer filtering to a single category still
// gets a bounded point count regardless of how the categories are sized. The
// global ladder remains the fallback for values without a partition.
type CategoryLadders struct {
	Column  string
	Ladders map[string]*Ladder
}

// Get returns the ladder for a category value, or nil when the value has no
// precomputed partition.
func (c *CategoryLadders) Get(value string) *Ladder {
	if c == nil {
		return nil
	}
	return c.Ladders[value]
}

// Values returns the partitioned category values, sorted.
func (c *CategoryLadders) Values() []string {
	if c == nil {
		return nil
	}
	vals := make([]string, 0, len(c.Ladders))
	for v := range c.Ladders {
		vals = append(vals, v)
	}
	sort.Strings(vals)
	return vals
}

// DistinctValues returns the distinct values of a string column over a view,
// sorted, with their row counts.
func DistinctValues(v frame.View, column string) ([]string, map[string]int) {
	counts := make(map[string]int)
	for i := 0; i < v.Len(); i++ {
		counts[v.Str(column, i)]++
	}
	vals := make([]string, 0, len(counts))
	for val := range counts {
		vals = append(vals, val)
	}
	sort.Strings(vals)
	return vals, counts
}

// BuildCategoryLadders builds one full ladder per distinct value of column,
// using the same planner, strategy and mode as the global ladder. maxValues
// caps the cardinality: above it no partitions are built and the caller
// falls back to the global ladder for every value.
func BuildCategoryLadders(
	raw frame.View,
	column string,
	minSize uint64,
	maxValues int,
	mode BuildMode,
	strat Strategy,
	p Params,
) (*CategoryLadders, error) {
	if !raw.Table().HasColumn(column) {
		return nil, fmt.Errorf("category column not found: %s", column)
	}
	values, _ := DistinctValues(raw, column)
	if maxValues > 0 && len(values) > maxValues {
		return nil, fmt.Errorf("category column %s has %d distinct values, limit is %d", column, len(values), maxValues)
	}

	out := &CategoryLadders{
		Column:  column,
		Ladders: make(map[string]*Ladder, len(values)),
	}
	for _, value := range values {
		part := raw.FilterEqual(column, value)
		sizes := PlanLevels(minSize, uint64(part.Len()))
		ladder, err := BuildLadder(part, sizes, mode, strat, p)
		if err != nil {
			return nil, fmt.Errorf("failed to build ladder for %s=%s: %w", column, value, err)
		}
		out.Ladders[value] = ladder
	}
	return out, nil
}
