//go:build !tiledb

package points

import (
	"github.com/scatter-lod/server/internal/frame"
)

const tiledbSupported = false

// loadTileDB is a stub when built without "-tags tiledb". Format selection
// happens in config before any query runs, so this surfaces as a startup
// capability error rather than a runtime surprise.
func loadTileDB(spec Spec) (*frame.Table, error) {
	return nil, ErrUnsupported
}
