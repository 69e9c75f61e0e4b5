//go:build tiledb

package points

import (
	"fmt"
	"os"

	tiledb "github.com/TileDB-Inc/TileDB-Go"

	"github.com/scatter-lod/server/internal/frame"
)

const tiledbSupported = true

// loadTileDB reads a sparse TileDB array holding one attribute per
// configured column. The whole non-empty domain is read in one unordered
// query; datasets are expected to fit the same memory envelope as the
// delimited loader.
func loadTileDB(spec Spec) (*frame.Table, error) {
	if _, err := os.Stat(spec.Path); err != nil {
		return nil, fmt.Errorf("tiledb array not found at %s: %w", spec.Path, err)
	}

	ctx, err := tiledb.NewContext(nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create TileDB context: %w", err)
	}
	defer ctx.Free()

	arr, err := tiledb.NewArray(ctx, spec.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to open array (%s): %w", spec.Path, err)
	}
	defer arr.Free()
	if err := arr.Open(tiledb.TILEDB_READ); err != nil {
		return nil, fmt.Errorf("failed to open array for read: %w", err)
	}
	defer arr.Close()

	// Size buffers from the row-id dimension's non-empty domain.
	ned, isEmpty, err := arr.NonEmptyDomainFromName("row")
	if err != nil {
		return nil, fmt.Errorf("failed to get non-empty domain: %w", err)
	}
	if isEmpty || ned == nil {
		return frame.NewTable(
			frame.IntCol(spec.IDColumnName(), nil),
			frame.FloatCol(spec.XColumn, nil),
			frame.FloatCol(spec.YColumn, nil),
			frame.FloatCol(spec.RankColumn, nil),
		)
	}
	bounds, ok := ned.Bounds.([]int64)
	if !ok || len(bounds) != 2 {
		return nil, fmt.Errorf("unexpected row domain bounds: %v", ned.Bounds)
	}
	n := int(bounds[1] - bounds[0] + 1)

	q, err := tiledb.NewQuery(ctx, arr)
	if err != nil {
		return nil, fmt.Errorf("failed to create query: %w", err)
	}
	defer q.Free()
	_ = q.SetLayout(tiledb.TILEDB_UNORDERED)

	sub, err := arr.NewSubarray()
	if err != nil {
		return nil, fmt.Errorf("failed to create subarray: %w", err)
	}
	defer sub.Free()
	if err := sub.AddRangeByName("row", tiledb.MakeRange[int64](bounds[0], bounds[1])); err != nil {
		return nil, fmt.Errorf("failed to add row range: %w", err)
	}
	if err := q.SetSubarray(sub); err != nil {
		return nil, fmt.Errorf("failed to set subarray: %w", err)
	}

	ids := make([]int64, n)
	xs := make([]float64, n)
	ys := make([]float64, n)
	ranks := make([]float64, n)

	if _, err := q.SetDataBuffer("row", ids); err != nil {
		return nil, fmt.Errorf("failed to set buffer row: %w", err)
	}
	if _, err := q.SetDataBuffer(spec.XColumn, xs); err != nil {
		return nil, fmt.Errorf("failed to set buffer %s: %w", spec.XColumn, err)
	}
	if _, err := q.SetDataBuffer(spec.YColumn, ys); err != nil {
		return nil, fmt.Errorf("failed to set buffer %s: %w", spec.YColumn, err)
	}
	if _, err := q.SetDataBuffer(spec.RankColumn, ranks); err != nil {
		return nil, fmt.Errorf("failed to set buffer %s: %w", spec.RankColumn, err)
	}

	var catOffsets []uint64
	var catData []byte
	if spec.CategoryColumn != "" {
		catOffsets = make([]uint64, n)
		catData = make([]byte, n*64)
		if _, err := q.SetDataBuffer(spec.CategoryColumn, catData); err != nil {
			return nil, fmt.Errorf("failed to set buffer %s: %w", spec.CategoryColumn, err)
		}
		if _, err := q.SetOffsetsBuffer(spec.CategoryColumn, catOffsets); err != nil {
			return nil, fmt.Errorf("failed to set offsets %s: %w", spec.CategoryColumn, err)
		}
	}

	if err := q.Submit(); err != nil {
		return nil, fmt.Errorf("query submit failed: %w", err)
	}
	status, err := q.Status()
	if err != nil {
		return nil, fmt.Errorf("query status failed: %w", err)
	}
	if status != tiledb.TILEDB_COMPLETED {
		return nil, fmt.Errorf("unexpected query status: %v", status)
	}

	elems, err := q.ResultBufferElements()
	if err != nil {
		return nil, fmt.Errorf("failed to get result buffer elements: %w", err)
	}
	got := int(elems["row"][1])
	if got > n {
		got = n
	}

	cols := []frame.Column{
		frame.IntCol(spec.IDColumnName(), ids[:got]),
		frame.FloatCol(spec.XColumn, xs[:got]),
		frame.FloatCol(spec.YColumn, ys[:got]),
		frame.FloatCol(spec.RankColumn, ranks[:got]),
	}
	if spec.CategoryColumn != "" {
		dataLen := int(elems[spec.CategoryColumn][1])
		cats := make([]string, got)
		for i := 0; i < got; i++ {
			start := int(catOffsets[i])
			end := dataLen
			if i+1 < got {
				end = int(catOffsets[i+1])
			}
			if start < 0 || end > len(catData) || start > end {
				return nil, fmt.Errorf("bad offsets for %s at row %d", spec.CategoryColumn, i)
			}
			cats[i] = string(catData[start:end])
		}
		cols = append(cols, frame.StringCol(spec.CategoryColumn, cats))
	}
	return frame.NewTable(cols...)
}
