package reader

import (
	"bufio"
	"bytes"
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"

	"github.com/lidarkit/cloudpipe/blobstore"
	"github.com/lidarkit/cloudpipe/pointcloud"
	"github.com/lidarkit/cloudpipe/resource"
)

// DataLayout selects the PCD DATA section encoding.
type DataLayout int

const (
	LayoutBinary DataLayout = iota
	LayoutASCII
)

// ParseDataLayout parses "binary" or "ascii".
func ParseDataLayout(s string) (DataLayout, error) {
	switch strings.ToLower(s) {
	case "", "binary":
		return LayoutBinary, nil
	case "ascii":
		return LayoutASCII, nil
	}
	return 0, fmt.Errorf("%w: PCD layout %q", ErrUnsupportedFormat, s)
}

type column struct {
	handle pointcloud.Handle
	name   string
	typ    byte
	size   int
}

// PCDWriter writes records as a PCD file. The header needs the final point
// count, so records are staged in memory and written on Close.
type PCDWriter struct {
	dst    io.WriteCloser
	layout DataLayout
	schema *pointcloud.Schema
	cols   []column
	digits int

	body   bytes.Buffer
	rec    []byte
	line   []byte
	count  uint64
	extent [6]float64
	closed bool
}

// NewPCDWriter writes records of schema to dst. Close closes dst.
func NewPCDWriter(dst io.WriteCloser, schema *pointcloud.Schema, layout DataLayout) *PCDWriter {
	w := &PCDWriter{
		dst:    dst,
		layout: layout,
		schema: schema,
		extent: [6]float64{math.Inf(1), math.Inf(1), math.Inf(1), math.Inf(-1), math.Inf(-1), math.Inf(-1)},
	}
	for i, a := range schema.Attributes() {
		if i < 3 {
			continue
		}
		w.cols = append(w.cols, pcdColumn(pointcloud.Handle(i), a))
	}
	size := 24
	for _, c := range w.cols {
		size += c.size
	}
	w.rec = make([]byte, size)

	scale := min(schema.Scale()[0], schema.Scale()[1], schema.Scale()[2])
	w.digits = max(0, min(9, int(math.Ceil(-math.Log10(scale)-1e-9))))
	return w
}

func pcdColumn(h pointcloud.Handle, a pointcloud.Attribute) column {
	c := column{handle: h, name: a.Name}
	scaled := (a.Scale != 0 && a.Scale != 1) || a.Offset != 0
	switch {
	case scaled || a.Type == pointcloud.TypeFloat64:
		c.typ, c.size = 'F', 8
	case a.Type == pointcloud.TypeFloat32:
		c.typ, c.size = 'F', 4
	case a.Type == pointcloud.TypeUint8, a.Type == pointcloud.TypeUint16,
		a.Type == pointcloud.TypeUint32, a.Type == pointcloud.TypeUint64:
		c.typ, c.size = 'U', a.Type.Size()
	default:
		c.typ, c.size = 'I', a.Type.Size()
	}
	return c
}

// Write appends p. Withheld records are skipped.
func (w *PCDWriter) Write(p *pointcloud.Point) error {
	if w.closed {
		return io.ErrClosedPipe
	}
	if p.Withheld() {
		return nil
	}
	x, y, z := p.X(), p.Y(), p.Z()
	w.extent[0], w.extent[1], w.extent[2] = min(w.extent[0], x), min(w.extent[1], y), min(w.extent[2], z)
	w.extent[3], w.extent[4], w.extent[5] = max(w.extent[3], x), max(w.extent[4], y), max(w.extent[5], z)
	w.count++

	if w.layout == LayoutASCII {
		return w.writeASCII(p, x, y, z)
	}
	le := binary.LittleEndian
	le.PutUint64(w.rec[0:], math.Float64bits(x))
	le.PutUint64(w.rec[8:], math.Float64bits(y))
	le.PutUint64(w.rec[16:], math.Float64bits(z))
	off := 24
	for _, c := range w.cols {
		v := p.Value(c.handle)
		b := w.rec[off : off+c.size]
		switch {
		case c.typ == 'F' && c.size == 4:
			le.PutUint32(b, math.Float32bits(float32(v)))
		case c.typ == 'F':
			le.PutUint64(b, math.Float64bits(v))
		case c.typ == 'U':
			putUint(b, uint64(v))
		default:
			putUint(b, uint64(int64(v)))
		}
		off += c.size
	}
	_, err := w.body.Write(w.rec)
	return err
}

func putUint(b []byte, v uint64) {
	le := binary.LittleEndian
	switch len(b) {
	case 1:
		b[0] = byte(v)
	case 2:
		le.PutUint16(b, uint16(v))
	case 4:
		le.PutUint32(b, uint32(v))
	default:
		le.PutUint64(b, v)
	}
}

func (w *PCDWriter) writeASCII(p *pointcloud.Point, x, y, z float64) error {
	buf := w.line[:0]
	buf = strconv.AppendFloat(buf, x, 'f', w.digits, 64)
	buf = append(buf, ' ')
	buf = strconv.AppendFloat(buf, y, 'f', w.digits, 64)
	buf = append(buf, ' ')
	buf = strconv.AppendFloat(buf, z, 'f', w.digits, 64)
	for _, c := range w.cols {
		buf = append(buf, ' ')
		v := p.Value(c.handle)
		switch {
		case c.typ == 'F' && c.size == 4:
			buf = strconv.AppendFloat(buf, v, 'g', -1, 32)
		case c.typ == 'F':
			buf = strconv.AppendFloat(buf, v, 'g', -1, 64)
		default:
			buf = strconv.AppendFloat(buf, v, 'f', 0, 64)
		}
	}
	buf = append(buf, '\n')
	w.line = buf
	_, err := w.body.Write(buf)
	return err
}

// Count returns the number of records written so far.
func (w *PCDWriter) Count() uint64 { return w.count }

func (w *PCDWriter) writeHeader(out io.Writer) error {
	bw := bufio.NewWriter(out)
	fmt.Fprintln(bw, "# .PCD v0.7 - Point Cloud Data file format")
	if w.count > 0 {
		fmt.Fprintf(bw, "%s %s\n", extentComment, strings.Join([]string{
			strconv.FormatFloat(w.extent[0], 'f', -1, 64),
			strconv.FormatFloat(w.extent[1], 'f', -1, 64),
			strconv.FormatFloat(w.extent[2], 'f', -1, 64),
			strconv.FormatFloat(w.extent[3], 'f', -1, 64),
			strconv.FormatFloat(w.extent[4], 'f', -1, 64),
			strconv.FormatFloat(w.extent[5], 'f', -1, 64),
		}, " "))
	}
	fmt.Fprintln(bw, "VERSION 0.7")

	names, sizes, types, counts := []string{"x", "y", "z"}, []string{"8", "8", "8"}, []string{"F", "F", "F"}, []string{"1", "1", "1"}
	for _, c := range w.cols {
		names = append(names, c.name)
		sizes = append(sizes, strconv.Itoa(c.size))
		types = append(types, string(c.typ))
		counts = append(counts, "1")
	}
	fmt.Fprintf(bw, "FIELDS %s\n", strings.Join(names, " "))
	fmt.Fprintf(bw, "SIZE %s\n", strings.Join(sizes, " "))
	fmt.Fprintf(bw, "TYPE %s\n", strings.Join(types, " "))
	fmt.Fprintf(bw, "COUNT %s\n", strings.Join(counts, " "))
	fmt.Fprintf(bw, "WIDTH %d\nHEIGHT 1\n", w.count)
	fmt.Fprintln(bw, "VIEWPOINT 0 0 0 1 0 0 0")
	fmt.Fprintf(bw, "POINTS %d\n", w.count)
	if w.layout == LayoutASCII {
		fmt.Fprintln(bw, "DATA ascii")
	} else {
		fmt.Fprintln(bw, "DATA binary")
	}
	return bw.Flush()
}

// Close writes the file and closes the destination.
func (w *PCDWriter) Close() error {
	if w.closed {
		return nil
	}
	w.closed = true
	err := w.writeHeader(w.dst)
	if err == nil {
		_, err = w.body.WriteTo(w.dst)
	}
	if cerr := w.dst.Close(); err == nil {
		err = cerr
	}
	return err
}

// CreatePCD creates name in store and returns a writer for it. The
// compression is chosen by the .zst or .lz4 suffix of name.
func CreatePCD(ctx context.Context, store blobstore.BlobStore, name string, schema *pointcloud.Schema, layout DataLayout, rc *resource.Controller) (*PCDWriter, error) {
	comp, _ := SplitCompression(name)
	blob, err := store.Create(ctx, name)
	if err != nil {
		return nil, err
	}
	limited := &writeCloser{Writer: resource.NewRateLimitedWriter(ctx, blob, rc), Closer: blob}
	dst, err := compress(limited, comp)
	if err != nil {
		_ = blob.Close()
		return nil, err
	}
	return NewPCDWriter(dst, schema, layout), nil
}

type writeCloser struct {
	io.Writer
	io.Closer
}
