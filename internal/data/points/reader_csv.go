package points

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/klauspost/compress/gzip"

	"github.com/scatter-lod/server/internal/frame"
)

// loadDelimited reads a CSV or TSV file (optionally gzipped) into a table.
// The delimiter follows the extension: .tsv/.tab use tabs, everything else
// commas.
func loadDelimited(spec Spec) (*frame.Table, error) {
	f, err := os.Open(spec.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to open dataset: %w", err)
	}
	defer f.Close()

	var src io.Reader = f
	name := spec.Path
	if strings.HasSuffix(name, ".gz") {
		gz, err := gzip.NewReader(f)
		if err != nil {
			return nil, fmt.Errorf("failed to open gzip stream: %w", err)
		}
		defer gz.Close()
		src = gz
		name = strings.TrimSuffix(name, ".gz")
	}

	r := csv.NewReader(src)
	r.ReuseRecord = true
	switch filepath.Ext(name) {
	case ".tsv", ".tab":
		r.Comma = '\t'
	}

	header, err := r.Read()
	if err != nil {
		return nil, fmt.Errorf("failed to read header: %w", err)
	}
	colIdx := make(map[string]int, len(header))
	for i, h := range header {
		colIdx[strings.TrimSpace(h)] = i
	}
	for _, required := range spec.requiredColumns() {
		if _, ok := colIdx[required]; !ok {
			return nil, fmt.Errorf("column %q not found in %s (header: %v)", required, spec.Path, header)
		}
	}

	xi := colIdx[spec.XColumn]
	yi := colIdx[spec.YColumn]
	ri := colIdx[spec.RankColumn]
	ii, hasID := -1, spec.IDColumn != ""
	if hasID {
		ii = colIdx[spec.IDColumn]
	}
	ci, hasCat := -1, spec.CategoryColumn != ""
	if hasCat {
		ci = colIdx[spec.CategoryColumn]
	}

	var (
		ids   []int64
		xs    []float64
		ys    []float64
		ranks []float64
		cats  []string
	)

	line := 1
	for {
		rec, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read row %d: %w", line, err)
		}
		line++

		x, err := strconv.ParseFloat(rec[xi], 64)
		if err != nil {
			return nil, fmt.Errorf("row %d: bad %s value %q", line, spec.XColumn, rec[xi])
		}
		y, err := strconv.ParseFloat(rec[yi], 64)
		if err != nil {
			return nil, fmt.Errorf("row %d: bad %s value %q", line, spec.YColumn, rec[yi])
		}
		rank, err := strconv.ParseFloat(rec[ri], 64)
		if err != nil {
			return nil, fmt.Errorf("row %d: bad %s value %q", line, spec.RankColumn, rec[ri])
		}

		id := int64(len(ids))
		if hasID {
			id, err = strconv.ParseInt(rec[ii], 10, 64)
			if err != nil {
				return nil, fmt.Errorf("row %d: bad %s value %q", line, spec.IDColumn, rec[ii])
			}
		}

		ids = append(ids, id)
		xs = append(xs, x)
		ys = append(ys, y)
		ranks = append(ranks, rank)
		if hasCat {
			cats = append(cats, rec[ci])
		}
	}

	cols := []frame.Column{
		frame.IntCol(spec.IDColumnName(), ids),
		frame.FloatCol(spec.XColumn, xs),
		frame.FloatCol(spec.YColumn, ys),
		frame.FloatCol(spec.RankColumn, ranks),
	}
	if hasCat {
		cols = append(cols, frame.StringCol(spec.CategoryColumn, cats))
	}
	return frame.NewTable(cols...)
}
