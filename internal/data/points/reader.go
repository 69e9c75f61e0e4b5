// Package points loads 2D point-cloud datasets into columnar tables.
//
// Two source formats are supported: delimited text (CSV/TSV, transparently
// gunzipped) and, behind the "tiledb" build tag, TileDB arrays. The loaded
// table always carries a stable int64 id column for deterministic ranking
// tie-breaks; when the source has none, sequential ids are synthesized.
package points

import (
	"errors"
	"fmt"

	"github.com/scatter-lod/server/internal/frame"
)

// ErrUnsupported indicates this binary was built without TileDB support.
var ErrUnsupported = errors.New("tiledb support is not enabled in this build (build server with: go build -tags tiledb)")

// SyntheticIDColumn names the id column added when the source has none.
const SyntheticIDColumn = "row_id"

// Spec describes one dataset source.
type Spec struct {
	Path   string
	Format string // "csv" (default) or "tiledb"

	XColumn        string
	YColumn        string
	RankColumn     string
	IDColumn       string // optional; synthesized when empty
	CategoryColumn string // optional
}

// IDColumnName returns the effective id column of the loaded table.
func (s Spec) IDColumnName() string {
	if s.IDColumn != "" {
		return s.IDColumn
	}
	return SyntheticIDColumn
}

func (s Spec) requiredColumns() []string {
	cols := []string{s.XColumn, s.YColumn, s.RankColumn}
	if s.IDColumn != "" {
		cols = append(cols, s.IDColumn)
	}
	if s.CategoryColumn != "" {
		cols = append(cols, s.CategoryColumn)
	}
	return cols
}

// Load reads the dataset described by spec into a table.
func Load(spec Spec) (*frame.Table, error) {
	if spec.XColumn == "" || spec.YColumn == "" || spec.RankColumn == "" {
		return nil, fmt.Errorf("dataset %s: x, y and rank columns must be configured", spec.Path)
	}
	switch spec.Format {
	case "csv", "":
		return loadDelimited(spec)
	case "tiledb":
		return loadTileDB(spec)
	}
	return nil, fmt.Errorf("unknown dataset format: %s", spec.Format)
}

// TileDBSupported reports whether this binary can read TileDB sources.
func TileDBSupported() bool { return tiledbSupported }
