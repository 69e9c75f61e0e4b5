package points

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/klauspost/compress/gzip"
)

func writeFile(t *testing.T, name, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(body), 0644); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}
	return path
}

func TestLoadCSV(t *testing.T) {
	path := writeFile(t, "points.csv", "mz,rt,intensity,charge\n100.5,10,900,2\n200.25,20,500,3\n")

	tab, err := Load(Spec{
		Path:           path,
		XColumn:        "mz",
		YColumn:        "rt",
		RankColumn:     "intensity",
		CategoryColumn: "charge",
	})
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if tab.NumRows() != 2 {
		t.Fatalf("expected 2 rows, got %d", tab.NumRows())
	}

	v := tab.View()
	if v.Float("mz", 1) != 200.25 {
		t.Errorf("mz[1] = %v, want 200.25", v.Float("mz", 1))
	}
	if v.Str("charge", 0) != "2" {
		t.Errorf("charge[0] = %q, want \"2\"", v.Str("charge", 0))
	}
	// Synthesized sequential ids.
	if !tab.HasColumn(SyntheticIDColumn) {
		t.Fatalf("expected synthesized id column %q", SyntheticIDColumn)
	}
	if v.Int(SyntheticIDColumn, 1) != 1 {
		t.Errorf("row_id[1] = %d, want 1", v.Int(SyntheticIDColumn, 1))
	}
}

func TestLoadTSVWithIDColumn(t *testing.T) {
	path := writeFile(t, "points.tsv", "idx\tx\ty\tsignal\n7\t1\t2\t3\n9\t4\t5\t6\n")

	tab, err := Load(Spec{
		Path:       path,
		XColumn:    "x",
		YColumn:    "y",
		RankColumn: "signal",
		IDColumn:   "idx",
	})
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if tab.View().Int("idx", 1) != 9 {
		t.Errorf("idx[1] = %d, want 9", tab.View().Int("idx", 1))
	}
	if tab.HasColumn(SyntheticIDColumn) {
		t.Error("should not synthesize ids when an id column is configured")
	}
}

func TestLoadGzippedCSV(t *testing.T) {
	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	gz.Write([]byte("x,y,intensity\n1,2,3\n"))
	gz.Close()

	path := filepath.Join(t.TempDir(), "points.csv.gz")
	if err := os.WriteFile(path, buf.Bytes(), 0644); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}

	tab, err := Load(Spec{Path: path, XColumn: "x", YColumn: "y", RankColumn: "intensity"})
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if tab.NumRows() != 1 || tab.View().Float("intensity", 0) != 3 {
		t.Errorf("gzipped load returned wrong data")
	}
}

func TestLoadErrors(t *testing.T) {
	path := writeFile(t, "points.csv", "x,y,intensity\n1,2,3\n")

	// Missing configured column.
	if _, err := Load(Spec{Path: path, XColumn: "x", YColumn: "y", RankColumn: "signal"}); err == nil {
		t.Error("expected error for missing rank column")
	}

	// Unparseable value.
	bad := writeFile(t, "bad.csv", "x,y,intensity\n1,2,oops\n")
	if _, err := Load(Spec{Path: bad, XColumn: "x", YColumn: "y", RankColumn: "intensity"}); err == nil {
		t.Error("expected error for bad numeric value")
	}

	// Missing required config.
	if _, err := Load(Spec{Path: path, XColumn: "x"}); err == nil {
		t.Error("expected error for incomplete column config")
	}

	// Unknown format.
	if _, err := Load(Spec{Path: path, Format: "parquet", XColumn: "x", YColumn: "y", RankColumn: "intensity"}); err == nil {
		t.Error("expected error for unknown format")
	}
}

func TestTileDBUnsupportedWithoutTag(t *testing.T) {
	if TileDBSupported() {
		t.Skip("built with tiledb support")
	}
	_, err := Load(Spec{Path: "whatever", Format: "tiledb", XColumn: "x", YColumn: "y", RankColumn: "intensity"})
	if err != ErrUnsupported {
		t.Errorf("expected ErrUnsupported, got %v", err)
	}
}
