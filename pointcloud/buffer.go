package pointcloud

import (
	"fmt"
	"log/slog"

	"github.com/lidarkit/cloudpipe/spatial"
)

// Buffer is a growable array of fixed-stride point records indexed by a
// spatial grid as they are appended.
//
// A Buffer is owned by a single goroutine while it is being filled or
// mutated. Once filled, Read, XYZ and the index may be used concurrently by
// any number of readers as long as nothing mutates the buffer.
type Buffer struct {
	header *Header
	schema *Schema
	opts   bufferOptions
	logger *slog.Logger

	data     []byte
	n        int
	capacity int
	reserved int64

	grid   *spatial.Grid
	bounds spatial.BBox

	cursor  int
	current Point
}

// NewBuffer creates an empty buffer for the points described by h.
func NewBuffer(h *Header, opts ...BufferOption) (*Buffer, error) {
	o := bufferOptions{
		maxPoints:       MaxPoints,
		initialCapacity: InitialCapacity,
		logger:          slog.New(slog.DiscardHandler),
	}
	for _, fn := range opts {
		fn(&o)
	}

	if h.Schema == nil {
		h.Schema = NewSchema([3]float64{0.01, 0.01, 0.01}, [3]float64{})
	}

	cellSize := o.cellSize
	if cellSize <= 0 {
		cellSize = spatial.DefaultCellSize(h.Extent, int(min(h.PointCount, uint64(o.maxPoints))))
	}
	grid, err := spatial.NewGrid(h.Extent, cellSize)
	if err != nil {
		return nil, err
	}

	return &Buffer{
		header: h,
		schema: h.Schema,
		opts:   o,
		logger: o.logger,
		grid:   grid,
		bounds: spatial.EmptyBBox(),
		cursor: -1,
	}, nil
}

// Header returns the header the buffer was created for.
func (b *Buffer) Header() *Header { return b.header }

// Schema returns the current record layout.
func (b *Buffer) Schema() *Schema { return b.schema }

// Stride returns the current record size in bytes.
func (b *Buffer) Stride() int { return b.schema.Stride() }

// Len returns the number of points.
func (b *Buffer) Len() int { return b.n }

// Cap returns the number of records that fit without growing.
func (b *Buffer) Cap() int { return b.capacity }

// Index returns the spatial grid over the buffer ids.
func (b *Buffer) Index() *spatial.Grid { return b.grid }

// Bounds returns the bounding box of the appended points.
func (b *Buffer) Bounds() spatial.BBox { return b.bounds }

// Extent returns the header extent when known, otherwise Bounds.
func (b *Buffer) Extent() spatial.BBox {
	if b.header.Extent.Area() > 0 {
		return b.header.Extent
	}
	return b.bounds
}

// NewPoint returns a zeroed record in the buffer's current schema.
func (b *Buffer) NewPoint() *Point { return NewPoint(b.schema) }

// Append copies p into the buffer and returns its id. A point in another
// schema is converted by attribute name.
func (b *Buffer) Append(p *Point) (uint32, error) {
	if b.n >= b.opts.maxPoints {
		return 0, fmt.Errorf("%w: limit %d", ErrCapacity, b.opts.maxPoints)
	}
	if b.n == b.capacity {
		if err := b.grow(); err != nil {
			return 0, err
		}
	}

	id := b.n
	stride := b.schema.Stride()
	rec := Point{schema: b.schema, data: b.data[id*stride : (id+1)*stride]}
	if p.schema == b.schema || (p.schema.Stride() == stride && b.schema.Extends(p.schema)) {
		copy(rec.data, p.data)
	} else {
		p.Convert(&rec)
	}
	b.n++

	x, y := rec.X(), rec.Y()
	b.grid.Insert(x, y, uint32(id))
	b.bounds = b.bounds.Add(x, y)
	return uint32(id), nil
}

func (b *Buffer) nextCapacity() int {
	next := b.capacity * 2
	if b.capacity == 0 {
		next = b.opts.initialCapacity
	}
	// The announced point count bounds growth while it is still ahead of us.
	if hc := b.header.PointCount; hc > uint64(b.n) && uint64(next) > hc {
		next = int(hc)
	}
	if next > b.opts.maxPoints {
		next = b.opts.maxPoints
	}
	if next <= b.n {
		next = b.n + 1
	}
	return next
}

func (b *Buffer) grow() error {
	next := b.nextCapacity()
	stride := b.schema.Stride()
	need := int64(next) * int64(stride)

	if err := b.reserve(need, "grow"); err != nil {
		return err
	}

	data := make([]byte, next*stride)
	copy(data, b.data[:b.n*stride])
	b.data = data
	b.capacity = next
	b.current = Point{}
	b.logger.Debug("point buffer grown", "capacity", next, "bytes", need)
	return nil
}

// reserve adjusts the memory reservation to total bytes.
func (b *Buffer) reserve(total int64, op string) error {
	delta := total - b.reserved
	if delta > 0 && !b.opts.rc.TryAcquireMemory(delta) {
		return &AllocationError{Op: op, Bytes: total, Points: b.n, cause: fmt.Errorf("memory budget exhausted (%d bytes in use)", b.opts.rc.MemoryUsage())}
	}
	if delta < 0 {
		b.opts.rc.ReleaseMemory(-delta)
	}
	b.reserved = total
	return nil
}

// record returns a view of the record id.
func (b *Buffer) record(id int) Point {
	stride := b.schema.Stride()
	return Point{schema: b.schema, data: b.data[id*stride : (id+1)*stride : (id+1)*stride]}
}

// Seek moves the cursor to id. It returns false when id is out of range.
func (b *Buffer) Seek(id uint32) bool {
	if int64(id) >= int64(b.n) {
		return false
	}
	b.cursor = int(id)
	b.current = b.record(b.cursor)
	return true
}

// CurrentID returns the id under the cursor, or -1.
func (b *Buffer) CurrentID() int { return b.cursor }

// Current returns a view of the record under the cursor, or nil.
func (b *Buffer) Current() *Point {
	if b.cursor < 0 {
		return nil
	}
	if b.current.data == nil {
		b.current = b.record(b.cursor)
	}
	return &b.current
}

// UpdateCurrent overwrites the record under the cursor with p. When the point
// moves to another location the index is updated.
func (b *Buffer) UpdateCurrent(p *Point) error {
	cur := b.Current()
	if cur == nil {
		return ErrNoCurrent
	}
	if p == cur {
		return nil
	}
	ox, oy := cur.X(), cur.Y()
	if p.schema == b.schema {
		copy(cur.data, p.data)
	} else {
		p.Convert(cur)
	}
	nx, ny := cur.X(), cur.Y()
	if nx != ox || ny != oy {
		id := uint32(b.cursor)
		b.grid.Remove(ox, oy, id)
		b.grid.Insert(nx, ny, id)
		b.bounds = b.bounds.Add(nx, ny)
	}
	return nil
}

// Reindex refreshes the index entry of the record under the cursor after its
// coordinates were modified through the Current view.
func (b *Buffer) Reindex(oldX, oldY float64) error {
	cur := b.Current()
	if cur == nil {
		return ErrNoCurrent
	}
	id := uint32(b.cursor)
	b.grid.Remove(oldX, oldY, id)
	b.grid.Insert(cur.X(), cur.Y(), id)
	b.bounds = b.bounds.Add(cur.X(), cur.Y())
	return nil
}

// MarkWithheld flags the record under the cursor as logically deleted. The
// record stays in place so ids remain valid.
func (b *Buffer) MarkWithheld() error {
	cur := b.Current()
	if cur == nil {
		return ErrNoCurrent
	}
	cur.SetWithheld(true)
	return nil
}

// Read copies record id into dst, which must use the buffer's schema. It does
// not move the cursor and is safe for concurrent readers.
func (b *Buffer) Read(id uint32, dst *Point) bool {
	if int64(id) >= int64(b.n) {
		return false
	}
	stride := b.schema.Stride()
	if dst.schema != b.schema || len(dst.data) != stride {
		dst.schema = b.schema
		dst.data = make([]byte, stride)
	}
	copy(dst.data, b.data[int(id)*stride:])
	return true
}

// XYZ returns the coordinates of record id without copying it.
func (b *Buffer) XYZ(id uint32) (x, y, z float64) {
	p := b.record(int(id))
	return p.X(), p.Y(), p.Z()
}

// Withheld reports whether record id is flagged withheld.
func (b *Buffer) Withheld(id uint32) bool {
	return b.data[int(id)*b.schema.Stride()+posFlags]&flagWithheld != 0
}

// CountWithheld returns the number of withheld records.
func (b *Buffer) CountWithheld() int {
	n := 0
	for id := 0; id < b.n; id++ {
		if b.Withheld(uint32(id)) {
			n++
		}
	}
	return n
}

// Close releases the memory reservation. The buffer must not be used after.
func (b *Buffer) Close() error {
	b.opts.rc.ReleaseMemory(b.reserved)
	b.reserved = 0
	b.data = nil
	b.n = 0
	b.capacity = 0
	b.cursor = -1
	b.current = Point{}
	b.grid.Reset()
	return nil
}
