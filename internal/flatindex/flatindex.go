// Package flatindex implements the exact-nearest-neighbor index the edge
// pipelines search against. The on-disk format is native to this package;
// consumers treat the bytes as opaque and verify them by hash only.
package flatindex

import (
	"encoding/binary"
	"fmt"
	"io"
	"math"
)

// File layout, little-endian:
//
//	magic   [4]byte "SKZF"
//	format  uint16  (currently 1)
//	dim     uint32
//	count   uint32
//	rows    count*dim float32
const (
	formatVersion = 1
	headerSize    = 4 + 2 + 4 + 4
)

var magic = [4]byte{'S', 'K', 'Z', 'F'}

type Index struct {
	dim  int
	rows [][]float32
}

// New creates an empty index for vectors of the given dimension.
func New(dim int) (*Index, error) {
	if dim <= 0 {
		return nil, fmt.Errorf("dimension must be positive, got %d", dim)
	}
	return &Index{dim: dim}, nil
}

func (idx *Index) Dim() int   { return idx.dim }
func (idx *Index) Count() int { return len(idx.rows) }

// Add appends a row. The row index of the vector is returned; sidecar records
// are keyed to it.
func (idx *Index) Add(vector []float32) (int, error) {
	if len(vector) != idx.dim {
		return 0, fmt.Errorf("expected %d components, got %d", idx.dim, len(vector))
	}
	row := make([]float32, idx.dim)
	copy(row, vector)
	idx.rows = append(idx.rows, row)
	return len(idx.rows) - 1, nil
}

// Search returns the row index and squared L2 distance of the nearest stored
// vector. Exact scan; the fleet-size catalogs this serves stay small enough
// that approximate structures are not warranted.
func (idx *Index) Search(query []float32) (int, float32, error) {
	if len(query) != idx.dim {
		return 0, 0, fmt.Errorf("expected %d components, got %d", idx.dim, len(query))
	}
	if len(idx.rows) == 0 {
		return 0, 0, fmt.Errorf("index is empty")
	}
	best := 0
	bestDist := float32(math.MaxFloat32)
	for i, row := range idx.rows {
		var dist float32
		for j, q := range query {
			d := q - row[j]
			dist += d * d
		}
		if dist < bestDist {
			best = i
			bestDist = dist
		}
	}
	return best, bestDist, nil
}

// WriteTo serializes the index in its native format.
func (idx *Index) WriteTo(w io.Writer) (int64, error) {
	header := make([]byte, headerSize)
	copy(header[0:4], magic[:])
	binary.LittleEndian.PutUint16(header[4:6], formatVersion)
	binary.LittleEndian.PutUint32(header[6:10], uint32(idx.dim))
	binary.LittleEndian.PutUint32(header[10:14], uint32(len(idx.rows)))

	written := int64(0)
	n, err := w.Write(header)
	written += int64(n)
	if err != nil {
		return written, err
	}

	buf := make([]byte, idx.dim*4)
	for _, row := range idx.rows {
		for j, v := range row {
			binary.LittleEndian.PutUint32(buf[j*4:], math.Float32bits(v))
		}
		n, err := w.Write(buf)
		written += int64(n)
		if err != nil {
			return written, err
		}
	}
	return written, nil
}

// Read deserializes an index written by WriteTo.
func Read(r io.Reader) (*Index, error) {
	header := make([]byte, headerSize)
	if _, err := io.ReadFull(r, header); err != nil {
		return nil, fmt.Errorf("reading index header: %w", err)
	}
	if [4]byte(header[0:4]) != magic {
		return nil, fmt.Errorf("not an index file")
	}
	if format := binary.LittleEndian.Uint16(header[4:6]); format != formatVersion {
		return nil, fmt.Errorf("unsupported index format %d", format)
	}
	dim := int(binary.LittleEndian.Uint32(header[6:10]))
	count := int(binary.LittleEndian.Uint32(header[10:14]))

	idx, err := New(dim)
	if err != nil {
		return nil, err
	}
	buf := make([]byte, dim*4)
	for i := 0; i < count; i++ {
		if _, err := io.ReadFull(r, buf); err != nil {
			return nil, fmt.Errorf("reading row %d: %w", i, err)
		}
		row := make([]float32, dim)
		for j := range row {
			row[j] = math.Float32frombits(binary.LittleEndian.Uint32(buf[j*4:]))
		}
		idx.rows = append(idx.rows, row)
	}
	return idx, nil
}
