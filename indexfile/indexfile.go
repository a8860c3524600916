package indexfile

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"hash/crc32"
	"io"
	"math"
	"sort"

	"github.com/RoaringBitmap/roaring/v2"
	"github.com/klauspost/compress/zstd"
	"github.com/lidarkit/cloudpipe/spatial"
)

const (
	magic   = "CPIX"
	version = uint16(1)
	// headerSize is magic, version, cell size, extent, points, cells, body
	// length and body CRC.
	headerSize = 4 + 2 + 8 + 4*8 + 8 + 4 + 8 + 4
)

// Extension is appended to a point file name to name its index.
const Extension = ".cpx"

var (
	// ErrNotComplete is returned by WriteTo before Complete.
	ErrNotComplete = errors.New("indexfile: writer not completed")
	// ErrCompleted is returned by Add after Complete.
	ErrCompleted = errors.New("indexfile: writer already completed")
	// ErrFormat is returned for data that is not an index file.
	ErrFormat = errors.New("indexfile: invalid format")
)

// ChecksumError is returned when the body CRC does not match.
type ChecksumError struct {
	Expected uint32
	Actual   uint32
}

func (e *ChecksumError) Error() string {
	return fmt.Sprintf("indexfile: checksum mismatch: expected 0x%08x, got 0x%08x", e.Expected, e.Actual)
}

var le = binary.LittleEndian

// CellSize returns the cell size for a file covering extent, chosen by the
// larger side of the extent.
func CellSize(extent spatial.BBox) float64 {
	side := max(extent.Width(), extent.Height())
	switch {
	case side < 1_000:
		return 10
	case side < 10_000:
		return 100
	case side < 100_000:
		return 1_000
	case side < 1_000_000:
		return 10_000
	default:
		return 100_000
	}
}

type cellKey struct {
	col, row int32
}

type cells struct {
	extent   spatial.BBox
	cellSize float64
	bitmaps  map[cellKey]*roaring.Bitmap
}

func (c *cells) key(x, y float64) cellKey {
	return cellKey{
		col: clampCell(math.Floor((x - c.extent.MinX) / c.cellSize)),
		row: clampCell(math.Floor((y - c.extent.MinY) / c.cellSize)),
	}
}

func clampCell(v float64) int32 {
	switch {
	case v != v:
		return 0
	case v < math.MinInt32:
		return math.MinInt32
	case v > math.MaxInt32:
		return math.MaxInt32
	}
	return int32(v)
}

func (c *cells) sortedKeys() []cellKey {
	keys := make([]cellKey, 0, len(c.bitmaps))
	for k := range c.bitmaps {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].row != keys[j].row {
			return keys[i].row < keys[j].row
		}
		return keys[i].col < keys[j].col
	})
	return keys
}

// Writer accumulates point ids per cell.
type Writer struct {
	cells
	points    uint64
	completed bool
}

// NewWriter creates a writer for a file covering extent using CellSize.
func NewWriter(extent spatial.BBox) *Writer {
	return NewWriterWithCellSize(extent, CellSize(extent))
}

// NewWriterWithCellSize creates a writer with an explicit cell size.
func NewWriterWithCellSize(extent spatial.BBox, cellSize float64) *Writer {
	if extent.IsEmpty() {
		extent = spatial.BBox{}
	}
	if !(cellSize > 0) {
		cellSize = CellSize(extent)
	}
	return &Writer{cells: cells{
		extent:   extent,
		cellSize: cellSize,
		bitmaps:  make(map[cellKey]*roaring.Bitmap),
	}}
}

// Add records point id at (x, y).
func (w *Writer) Add(x, y float64, id uint32) error {
	if w.completed {
		return ErrCompleted
	}
	k := w.key(x, y)
	bm, ok := w.bitmaps[k]
	if !ok {
		bm = roaring.New()
		w.bitmaps[k] = bm
	}
	bm.Add(id)
	w.points++
	return nil
}

// Points returns the number of ids added.
func (w *Writer) Points() uint64 { return w.points }

// Cells returns the number of occupied cells.
func (w *Writer) Cells() int { return len(w.bitmaps) }

// Complete compacts the cell sets. No points can be added afterwards.
func (w *Writer) Complete() {
	if w.completed {
		return
	}
	for _, bm := range w.bitmaps {
		bm.RunOptimize()
	}
	w.completed = true
}

// WriteTo serialises the index.
func (w *Writer) WriteTo(out io.Writer) (int64, error) {
	if !w.completed {
		return 0, ErrNotComplete
	}

	var body bytes.Buffer
	enc, err := zstd.NewWriter(&body, zstd.WithEncoderLevel(zstd.SpeedBetterCompression))
	if err != nil {
		return 0, err
	}
	var rec [12]byte
	for _, k := range w.sortedKeys() {
		bm := w.bitmaps[k]
		le.PutUint32(rec[0:], uint32(k.col))
		le.PutUint32(rec[4:], uint32(k.row))
		le.PutUint32(rec[8:], uint32(bm.GetSerializedSizeInBytes()))
		if _, err := enc.Write(rec[:]); err != nil {
			return 0, err
		}
		if _, err := bm.WriteTo(enc); err != nil {
			return 0, err
		}
	}
	if err := enc.Close(); err != nil {
		return 0, err
	}

	hdr := make([]byte, 0, headerSize)
	hdr = append(hdr, magic...)
	hdr = le.AppendUint16(hdr, version)
	hdr = le.AppendUint64(hdr, math.Float64bits(w.cellSize))
	for _, v := range []float64{w.extent.MinX, w.extent.MinY, w.extent.MaxX, w.extent.MaxY} {
		hdr = le.AppendUint64(hdr, math.Float64bits(v))
	}
	hdr = le.AppendUint64(hdr, w.points)
	hdr = le.AppendUint32(hdr, uint32(len(w.bitmaps)))
	hdr = le.AppendUint64(hdr, uint64(body.Len()))
	hdr = le.AppendUint32(hdr, crc32.ChecksumIEEE(body.Bytes()))

	n, err := out.Write(hdr)
	if err != nil {
		return int64(n), err
	}
	m, err := body.WriteTo(out)
	return int64(n) + m, err
}

// Index is a loaded index file. It is safe for concurrent queries.
type Index struct {
	cells
	points uint64
}

// Read parses an index written by Writer.WriteTo.
func Read(r io.Reader) (*Index, error) {
	hdr := make([]byte, headerSize)
	if _, err := io.ReadFull(r, hdr); err != nil {
		return nil, fmt.Errorf("%w: header: %v", ErrFormat, err)
	}
	if string(hdr[:4]) != magic {
		return nil, fmt.Errorf("%w: bad magic %q", ErrFormat, hdr[:4])
	}
	if v := le.Uint16(hdr[4:]); v != version {
		return nil, fmt.Errorf("%w: unsupported version %d", ErrFormat, v)
	}
	f64 := func(off int) float64 { return math.Float64frombits(le.Uint64(hdr[off:])) }
	ix := &Index{
		cells: cells{
			cellSize: f64(6),
			extent:   spatial.BBox{MinX: f64(14), MinY: f64(22), MaxX: f64(30), MaxY: f64(38)},
		},
		points: le.Uint64(hdr[46:]),
	}
	count := le.Uint32(hdr[54:])
	bodyLen := le.Uint64(hdr[58:])
	sum := le.Uint32(hdr[66:])
	if !(ix.cellSize > 0) {
		return nil, fmt.Errorf("%w: cell size %v", ErrFormat, ix.cellSize)
	}
	if bodyLen > math.MaxInt32 {
		return nil, fmt.Errorf("%w: body length %d", ErrFormat, bodyLen)
	}

	body := make([]byte, bodyLen)
	if _, err := io.ReadFull(r, body); err != nil {
		return nil, fmt.Errorf("%w: body: %v", ErrFormat, err)
	}
	if actual := crc32.ChecksumIEEE(body); actual != sum {
		return nil, &ChecksumError{Expected: sum, Actual: actual}
	}

	dec, err := zstd.NewReader(bytes.NewReader(body), zstd.WithDecoderConcurrency(1))
	if err != nil {
		return nil, err
	}
	defer dec.Close()

	ix.bitmaps = make(map[cellKey]*roaring.Bitmap, count)
	var rec [12]byte
	for range count {
		if _, err := io.ReadFull(dec, rec[:]); err != nil {
			return nil, fmt.Errorf("%w: cell record: %v", ErrFormat, err)
		}
		k := cellKey{col: int32(le.Uint32(rec[0:])), row: int32(le.Uint32(rec[4:]))}
		bm := roaring.New()
		if _, err := bm.ReadFrom(io.LimitReader(dec, int64(le.Uint32(rec[8:])))); err != nil {
			return nil, fmt.Errorf("%w: cell bitmap: %v", ErrFormat, err)
		}
		ix.bitmaps[k] = bm
	}
	return ix, nil
}

// CellSize returns the cell size.
func (ix *Index) CellSize() float64 { return ix.cellSize }

// Extent returns the extent the index was built for.
func (ix *Index) Extent() spatial.BBox { return ix.extent }

// Points returns the number of indexed points.
func (ix *Index) Points() uint64 { return ix.points }

// Cells returns the number of occupied cells.
func (ix *Index) Cells() int { return len(ix.bitmaps) }

// Query returns the ordered, disjoint id intervals of every cell touching b.
// The result is a superset of the ids inside b.
func (ix *Index) Query(b spatial.BBox) []spatial.Interval {
	if b.IsEmpty() {
		return nil
	}
	lo, hi := ix.key(b.MinX, b.MinY), ix.key(b.MaxX, b.MaxY)
	union := roaring.New()
	for k, bm := range ix.bitmaps {
		if k.col >= lo.col && k.col <= hi.col && k.row >= lo.row && k.row <= hi.row {
			union.Or(bm)
		}
	}
	return toIntervals(union)
}

func toIntervals(bm *roaring.Bitmap) []spatial.Interval {
	var out []spatial.Interval
	it := bm.Iterator()
	for it.HasNext() {
		id := it.Next()
		if n := len(out); n > 0 && out[n-1].End+1 == id {
			out[n-1].End = id
			continue
		}
		out = append(out, spatial.Interval{Start: id, End: id})
	}
	return out
}
