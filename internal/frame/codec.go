package frame

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"os"

	"github.com/klauspost/compress/zstd"
)

// Columnar on-disk format for materialized LOD levels:
//
//	magic "SLOD" | uint32 header length | JSON header |
//	per column: uint32 compressed length | zstd block
//
// Float64/Int64 blocks are little-endian fixed-width values; String blocks
// are uint32 length-prefixed UTF-8. The format version is part of the
// header; a mismatch invalidates the file and forces a rebuild upstream.

const codecVersion = 1

var codecMagic = []byte("SLOD")

// ErrIncompatible indicates a level file written by a different format
// version. Callers treat it as a stale cache, not a hard failure.
var ErrIncompatible = errors.New("incompatible level file format")

type codecHeader struct {
	Version int           `json:"version"`
	NumRows int           `json:"num_rows"`
	Columns []codecColumn `json:"columns"`
}

type codecColumn struct {
	Name string `json:"name"`
	Type int    `json:"type"`
}

// WriteFile serializes a table to path.
func WriteFile(path string, t *Table) error {
	enc, err := zstd.NewWriter(nil)
	if err != nil {
		return fmt.Errorf("failed to create zstd encoder: %w", err)
	}
	defer enc.Close()

	hdr := codecHeader{Version: codecVersion, NumRows: t.NumRows()}
	for i := range t.cols {
		hdr.Columns = append(hdr.Columns, codecColumn{Name: t.cols[i].Name, Type: int(t.cols[i].Type)})
	}
	hdrBytes, err := json.Marshal(hdr)
	if err != nil {
		return fmt.Errorf("failed to encode header: %w", err)
	}

	var buf bytes.Buffer
	buf.Write(codecMagic)
	var lenBuf [4]byte
	binary.LittleEndian.PutUint32(lenBuf[:], uint32(len(hdrBytes)))
	buf.Write(lenBuf[:])
	buf.Write(hdrBytes)

	for i := range t.cols {
		raw := encodeColumn(&t.cols[i])
		block := enc.EncodeAll(raw, nil)
		binary.LittleEndian.PutUint32(lenBuf[:], uint32(len(block)))
		buf.Write(lenBuf[:])
		buf.Write(block)
	}

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, buf.Bytes(), 0644); err != nil {
		return fmt.Errorf("failed to write level file: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("failed to finalize level file: %w", err)
	}
	return nil
}

// ReadFile deserializes a table from path.
func ReadFile(path string) (*Table, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read level file: %w", err)
	}
	if len(data) < len(codecMagic)+4 || !bytes.Equal(data[:len(codecMagic)], codecMagic) {
		return nil, fmt.Errorf("%w: bad magic in %s", ErrIncompatible, path)
	}
	data = data[len(codecMagic):]

	hdrLen := int(binary.LittleEndian.Uint32(data[:4]))
	data = data[4:]
	if len(data) < hdrLen {
		return nil, fmt.Errorf("truncated level file: %s", path)
	}
	var hdr codecHeader
	if err := json.Unmarshal(data[:hdrLen], &hdr); err != nil {
		return nil, fmt.Errorf("failed to decode header: %w", err)
	}
	if hdr.Version != codecVersion {
		return nil, fmt.Errorf("%w: version %d, want %d", ErrIncompatible, hdr.Version, codecVersion)
	}
	data = data[hdrLen:]

	dec, err := zstd.NewReader(nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create zstd decoder: %w", err)
	}
	defer dec.Close()

	cols := make([]Column, 0, len(hdr.Columns))
	for _, cc := range hdr.Columns {
		if len(data) < 4 {
			return nil, fmt.Errorf("truncated level file: %s", path)
		}
		blockLen := int(binary.LittleEndian.Uint32(data[:4]))
		data = data[4:]
		if len(data) < blockLen {
			return nil, fmt.Errorf("truncated level file: %s", path)
		}
		raw, err := dec.DecodeAll(data[:blockLen], nil)
		if err != nil {
			return nil, fmt.Errorf("zstd decompress failed for column %s: %w", cc.Name, err)
		}
		data = data[blockLen:]

		col, err := decodeColumn(cc.Name, ColumnType(cc.Type), raw, hdr.NumRows)
		if err != nil {
			return nil, fmt.Errorf("failed to decode column %s: %w", cc.Name, err)
		}
		cols = append(cols, col)
	}

	return NewTable(cols...)
}

func encodeColumn(c *Column) []byte {
	switch c.Type {
	case Float64:
		raw := make([]byte, 8*len(c.Floats))
		for i, f := range c.Floats {
			binary.LittleEndian.PutUint64(raw[i*8:], math.Float64bits(f))
		}
		return raw
	case Int64:
		raw := make([]byte, 8*len(c.Ints))
		for i, n := range c.Ints {
			binary.LittleEndian.PutUint64(raw[i*8:], uint64(n))
		}
		return raw
	case String:
		var buf bytes.Buffer
		var lenBuf [4]byte
		for _, s := range c.Strings {
			binary.LittleEndian.PutUint32(lenBuf[:], uint32(len(s)))
			buf.Write(lenBuf[:])
			buf.WriteString(s)
		}
		return buf.Bytes()
	}
	return nil
}

func decodeColumn(name string, ct ColumnType, raw []byte, n int) (Column, error) {
	switch ct {
	case Float64:
		if len(raw) != 8*n {
			return Column{}, fmt.Errorf("expected %d bytes, got %d", 8*n, len(raw))
		}
		vals := make([]float64, n)
		for i := range vals {
			vals[i] = math.Float64frombits(binary.LittleEndian.Uint64(raw[i*8:]))
		}
		return FloatCol(name, vals), nil
	case Int64:
		if len(raw) != 8*n {
			return Column{}, fmt.Errorf("expected %d bytes, got %d", 8*n, len(raw))
		}
		vals := make([]int64, n)
		for i := range vals {
			vals[i] = int64(binary.LittleEndian.Uint64(raw[i*8:]))
		}
		return IntCol(name, vals), nil
	case String:
		vals := make([]string, 0, n)
		for len(vals) < n {
			if len(raw) < 4 {
				return Column{}, fmt.Errorf("truncated string block")
			}
			l := int(binary.LittleEndian.Uint32(raw[:4]))
			raw = raw[4:]
			if len(raw) < l {
				return Column{}, fmt.Errorf("truncated string block")
			}
			vals = append(vals, string(raw[:l]))
			raw = raw[l:]
		}
		return StringCol(name, vals), nil
	}
	return Column{}, fmt.Errorf("unknown column type %d", int(ct))
}
