package reader

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"

	"github.com/lidarkit/cloudpipe/pointcloud"
	"github.com/lidarkit/cloudpipe/spatial"
)

// extentComment is the header comment carrying the bounding box of the
// records so readers can skip the extent pre-scan.
const extentComment = "# extent"

type pcdField struct {
	name  string
	size  int
	typ   byte
	count int
}

type pcdHeader struct {
	fields []pcdField
	points uint64
	binary bool
	// extent holds minx miny minz maxx maxy maxz when the file declares it.
	extent []float64
	lines  int
}

func (h *pcdHeader) recordSize() int {
	n := 0
	for _, f := range h.fields {
		n += f.size * f.count
	}
	return n
}

func (h *pcdHeader) width() int {
	n := 0
	for _, f := range h.fields {
		n += f.count
	}
	return n
}

func parsePCDHeader(br *bufio.Reader) (*pcdHeader, error) {
	h := &pcdHeader{}
	var sizes, counts []int
	var types []byte
	var width, height uint64
	var points = uint64(math.MaxUint64)

	for {
		line, err := br.ReadString('\n')
		if err != nil && (err != io.EOF || line == "") {
			if err == io.EOF {
				return nil, fmt.Errorf("%w: missing DATA line", ErrMalformedHeader)
			}
			return nil, err
		}
		h.lines++
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if strings.HasPrefix(line, "#") {
			if rest, ok := strings.CutPrefix(line, extentComment); ok {
				vals, perr := parseFloats(strings.Fields(rest))
				if perr == nil && len(vals) == 6 {
					h.extent = vals
				}
			}
			continue
		}

		tok := strings.Fields(line)
		key, args := strings.ToUpper(tok[0]), tok[1:]
		switch key {
		case "VERSION", "VIEWPOINT":
		case "FIELDS":
			for _, a := range args {
				h.fields = append(h.fields, pcdField{name: a})
			}
		case "SIZE":
			for _, a := range args {
				n, perr := strconv.Atoi(a)
				if perr != nil {
					return nil, fmt.Errorf("%w: SIZE %q", ErrMalformedHeader, a)
				}
				sizes = append(sizes, n)
			}
		case "TYPE":
			for _, a := range args {
				if len(a) != 1 || !strings.Contains("IUF", strings.ToUpper(a)) {
					return nil, fmt.Errorf("%w: TYPE %q", ErrMalformedHeader, a)
				}
				types = append(types, strings.ToUpper(a)[0])
			}
		case "COUNT":
			for _, a := range args {
				n, perr := strconv.Atoi(a)
				if perr != nil || n < 1 {
					return nil, fmt.Errorf("%w: COUNT %q", ErrMalformedHeader, a)
				}
				counts = append(counts, n)
			}
		case "WIDTH", "HEIGHT", "POINTS":
			if len(args) != 1 {
				return nil, fmt.Errorf("%w: %s", ErrMalformedHeader, key)
			}
			n, perr := strconv.ParseUint(args[0], 10, 64)
			if perr != nil {
				return nil, fmt.Errorf("%w: %s %q", ErrMalformedHeader, key, args[0])
			}
			switch key {
			case "WIDTH":
				width = n
			case "HEIGHT":
				height = n
			default:
				points = n
			}
		case "DATA":
			if len(args) != 1 {
				return nil, fmt.Errorf("%w: DATA", ErrMalformedHeader)
			}
			switch strings.ToLower(args[0]) {
			case "ascii":
			case "binary":
				h.binary = true
			default:
				return nil, fmt.Errorf("%w: DATA %s", ErrUnsupportedFormat, args[0])
			}
			if points == math.MaxUint64 {
				points = width * max(height, 1)
			}
			h.points = points
			return h, h.bind(sizes, types, counts)
		default:
			return nil, fmt.Errorf("%w: unknown keyword %q", ErrMalformedHeader, tok[0])
		}
	}
}

func (h *pcdHeader) bind(sizes []int, types []byte, counts []int) error {
	n := len(h.fields)
	if n == 0 || len(sizes) != n || len(types) != n {
		return fmt.Errorf("%w: FIELDS, SIZE and TYPE lengths differ", ErrMalformedHeader)
	}
	if counts != nil && len(counts) != n {
		return fmt.Errorf("%w: COUNT length differs from FIELDS", ErrMalformedHeader)
	}
	for i := range h.fields {
		f := &h.fields[i]
		f.size, f.typ, f.count = sizes[i], types[i], 1
		if counts != nil {
			f.count = counts[i]
		}
		switch f.typ {
		case 'F':
			if f.size != 4 && f.size != 8 {
				return fmt.Errorf("%w: field %s has float size %d", ErrMalformedHeader, f.name, f.size)
			}
		default:
			if f.size != 1 && f.size != 2 && f.size != 4 && f.size != 8 {
				return fmt.Errorf("%w: field %s has size %d", ErrMalformedHeader, f.name, f.size)
			}
		}
	}
	return nil
}

func parseFloats(tok []string) ([]float64, error) {
	out := make([]float64, len(tok))
	for i, t := range tok {
		v, err := strconv.ParseFloat(t, 64)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

func (f pcdField) attributeType() pointcloud.AttributeType {
	switch f.typ {
	case 'F':
		if f.size == 4 {
			return pointcloud.TypeFloat32
		}
		return pointcloud.TypeFloat64
	case 'U':
		switch f.size {
		case 1:
			return pointcloud.TypeUint8
		case 2:
			return pointcloud.TypeUint16
		case 4:
			return pointcloud.TypeUint32
		}
		return pointcloud.TypeUint64
	}
	switch f.size {
	case 1:
		return pointcloud.TypeInt8
	case 2:
		return pointcloud.TypeInt16
	case 4:
		return pointcloud.TypeInt32
	}
	return pointcloud.TypeInt64
}

// knownAttributes maps lower-cased field names to the attribute they fill.
var knownAttributes = func() map[string]pointcloud.Attribute {
	m := make(map[string]pointcloud.Attribute)
	for _, a := range pointcloud.StandardAttributes() {
		m[strings.ToLower(a.Name)] = a
	}
	for _, name := range []string{pointcloud.AttrR, pointcloud.AttrG, pointcloud.AttrB, pointcloud.AttrNIR} {
		m[strings.ToLower(name)] = pointcloud.Attribute{Name: name, Type: pointcloud.TypeUint16}
	}
	m["scannerchannel"] = pointcloud.Attribute{Name: pointcloud.AttrScannerChannel, Type: pointcloud.TypeUint8}
	m["label"] = m["classification"]
	m["ring"] = m["scannerchannel"]
	m["time"] = m["gpstime"]
	return m
}()

type elemKind uint8

const (
	elemSkip elemKind = iota
	elemCoord
	elemAttr
	elemColor
)

// element is one scalar column of a PCD record.
type element struct {
	field  pcdField
	offset int
	kind   elemKind
	coord  int
	handle pointcloud.Handle
}

type colorHandles struct {
	r, g, b pointcloud.Handle
}

// layout maps PCD columns onto a schema.
type layout struct {
	elems []element
	color colorHandles
}

func newLayout(h *pcdHeader, schema *pointcloud.Schema) (*layout, error) {
	l := &layout{}
	off := 0
	seen := [3]bool{}
	for _, f := range h.fields {
		for i := range f.count {
			e := element{field: f, offset: off}
			off += f.size
			name := f.name
			if f.count > 1 {
				name = fmt.Sprintf("%s_%d", f.name, i)
			}
			lower := strings.ToLower(name)
			switch {
			case f.count == 1 && (lower == "x" || lower == "y" || lower == "z"):
				e.kind, e.coord = elemCoord, int(lower[0]-'x')
				seen[e.coord] = true
			case schema == nil:
			case f.count == 1 && (lower == "rgb" || lower == "rgba") && f.size == 4:
				e.kind = elemColor
				l.color.r, _ = schema.Handle(pointcloud.AttrR)
				l.color.g, _ = schema.Handle(pointcloud.AttrG)
				l.color.b, _ = schema.Handle(pointcloud.AttrB)
			default:
				canonical := name
				if a, ok := knownAttributes[lower]; ok {
					canonical = a.Name
				}
				hd, err := schema.Handle(canonical)
				if err != nil {
					return nil, err
				}
				e.kind, e.handle = elemAttr, hd
			}
			l.elems = append(l.elems, e)
		}
	}
	if !seen[0] || !seen[1] || !seen[2] {
		return nil, fmt.Errorf("%w: fields x, y and z are required", ErrMalformedHeader)
	}
	return l, nil
}

func buildSchema(h *pcdHeader, scale float64, offset [3]float64) (*pointcloud.Schema, error) {
	s := pointcloud.NewSchema([3]float64{scale, scale, scale}, offset)
	add := func(a pointcloud.Attribute) error {
		if s.Has(a.Name) {
			return nil
		}
		return s.AddAttribute(a)
	}
	for _, f := range h.fields {
		lower := strings.ToLower(f.name)
		if f.count == 1 && (lower == "x" || lower == "y" || lower == "z") {
			continue
		}
		if f.count == 1 && (lower == "rgb" || lower == "rgba") && f.size == 4 {
			for _, c := range []string{pointcloud.AttrR, pointcloud.AttrG, pointcloud.AttrB} {
				if err := add(pointcloud.Attribute{Name: c, Type: pointcloud.TypeUint16}); err != nil {
					return nil, err
				}
			}
			continue
		}
		for i := range f.count {
			name := f.name
			if f.count > 1 {
				name = fmt.Sprintf("%s_%d", f.name, i)
			}
			a, ok := knownAttributes[strings.ToLower(name)]
			if !ok {
				a = pointcloud.Attribute{Name: name, Type: f.attributeType()}
			}
			if err := add(a); err != nil {
				return nil, err
			}
		}
	}
	return s, nil
}

func decodeBinary(f pcdField, b []byte) float64 {
	le := binary.LittleEndian
	switch f.typ {
	case 'F':
		if f.size == 4 {
			return float64(math.Float32frombits(le.Uint32(b)))
		}
		return math.Float64frombits(le.Uint64(b))
	case 'U':
		switch f.size {
		case 1:
			return float64(b[0])
		case 2:
			return float64(le.Uint16(b))
		case 4:
			return float64(le.Uint32(b))
		}
		return float64(le.Uint64(b))
	}
	switch f.size {
	case 1:
		return float64(int8(b[0]))
	case 2:
		return float64(int16(le.Uint16(b)))
	case 4:
		return float64(int32(le.Uint32(b)))
	}
	return float64(int64(le.Uint64(b)))
}

// row is one decoded record.
type row struct {
	vals []float64
	// bits holds the raw packed colour of elemColor columns.
	bits []uint32
}

// pcdDecoder reads records from the data section of a PCD stream.
type pcdDecoder struct {
	hdr    *pcdHeader
	br     *bufio.Reader
	layout *layout
	rec    []byte
	row    row
	line   int
	read   uint64
}

func newPCDDecoder(hdr *pcdHeader, br *bufio.Reader, l *layout) *pcdDecoder {
	n := len(l.elems)
	return &pcdDecoder{
		hdr:    hdr,
		br:     br,
		layout: l,
		rec:    make([]byte, hdr.recordSize()),
		row:    row{vals: make([]float64, n), bits: make([]uint32, n)},
		line:   hdr.lines,
	}
}

// next decodes the following record into d.row.
func (d *pcdDecoder) next() error {
	if d.read >= d.hdr.points {
		return io.EOF
	}
	if d.hdr.binary {
		if _, err := io.ReadFull(d.br, d.rec); err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
				return fmt.Errorf("%w: %d of %d points", ErrTruncated, d.read, d.hdr.points)
			}
			return err
		}
		for i, e := range d.layout.elems {
			b := d.rec[e.offset : e.offset+e.field.size]
			if e.kind == elemColor {
				d.row.bits[i] = binary.LittleEndian.Uint32(b)
				continue
			}
			d.row.vals[i] = decodeBinary(e.field, b)
		}
		d.read++
		return nil
	}

	for {
		line, err := d.br.ReadString('\n')
		if line == "" && err != nil {
			if err == io.EOF {
				return fmt.Errorf("%w: %d of %d points", ErrTruncated, d.read, d.hdr.points)
			}
			return err
		}
		d.line++
		line = strings.TrimSpace(line)
		if line == "" || line[0] == '#' {
			continue
		}
		tok := strings.Fields(line)
		if len(tok) != len(d.layout.elems) {
			return fmt.Errorf("%w: %d values, want %d", ErrMalformedRecord, len(tok), len(d.layout.elems))
		}
		for i, e := range d.layout.elems {
			if e.kind == elemSkip {
				continue
			}
			v, perr := strconv.ParseFloat(tok[i], 64)
			if perr != nil {
				return fmt.Errorf("%w: %q", ErrMalformedRecord, tok[i])
			}
			if e.kind == elemColor {
				if e.field.typ == 'F' {
					d.row.bits[i] = math.Float32bits(float32(v))
				} else {
					d.row.bits[i] = uint32(v)
				}
				continue
			}
			d.row.vals[i] = v
		}
		d.read++
		return nil
	}
}

func (d *pcdDecoder) xyz() (x, y, z float64) {
	var c [3]float64
	for i, e := range d.layout.elems {
		if e.kind == elemCoord {
			c[e.coord] = d.row.vals[i]
		}
	}
	return c[0], c[1], c[2]
}

func (d *pcdDecoder) fill(p *pointcloud.Point) {
	x, y, z := d.xyz()
	p.SetXYZ(x, y, z)
	for i, e := range d.layout.elems {
		switch e.kind {
		case elemAttr:
			p.SetValue(e.handle, d.row.vals[i])
		case elemColor:
			c := d.row.bits[i]
			p.SetValue(d.layout.color.r, float64((c>>16)&0xff)*256)
			p.SetValue(d.layout.color.g, float64((c>>8)&0xff)*256)
			p.SetValue(d.layout.color.b, float64(c&0xff)*256)
		}
	}
}

// opener returns a fresh decompressed stream over the whole file.
type opener func() (io.ReadCloser, error)

// PCDReader reads one PCD file.
type PCDReader struct {
	name   string
	stream io.ReadCloser
	dec    *pcdDecoder
	header *pointcloud.Header
	closer func() error
}

func newPCDReader(name string, open opener, o options) (*PCDReader, error) {
	stream, err := open()
	if err != nil {
		return nil, formatError(name, "open", 0, err)
	}
	br := bufio.NewReaderSize(stream, 64*1024)
	hdr, err := parsePCDHeader(br)
	if err != nil {
		_ = stream.Close()
		return nil, formatError(name, "header", 0, err)
	}

	var extent []float64
	if hdr.extent != nil {
		extent = hdr.extent
	} else {
		// Without a declared extent the records are scanned once to find it.
		extent, err = scanExtent(hdr, br)
		_ = stream.Close()
		if err != nil {
			return nil, formatError(name, "read", 0, err)
		}
		o.logger.Debug("pcd extent scanned", "file", name, "points", hdr.points)

		if stream, err = open(); err != nil {
			return nil, formatError(name, "open", 0, err)
		}
		br = bufio.NewReaderSize(stream, 64*1024)
		if hdr, err = parsePCDHeader(br); err != nil {
			_ = stream.Close()
			return nil, formatError(name, "header", 0, err)
		}
	}

	offset := [3]float64{}
	for i := range offset {
		offset[i] = math.Floor(extent[i]/1000) * 1000
		if math.IsInf(offset[i], 0) || math.IsNaN(offset[i]) {
			offset[i] = 0
		}
	}
	schema, err := buildSchema(hdr, o.scale, offset)
	if err != nil {
		_ = stream.Close()
		return nil, formatError(name, "header", 0, err)
	}
	l, err := newLayout(hdr, schema)
	if err != nil {
		_ = stream.Close()
		return nil, formatError(name, "header", 0, err)
	}

	h := &pointcloud.Header{
		Extent:     spatial.EmptyBBox(),
		MinZ:       extent[2],
		MaxZ:       extent[5],
		PointCount: hdr.points,
		Schema:     schema,
		Source:     name,
	}
	if hdr.points > 0 {
		h.Extent = spatial.BBox{MinX: extent[0], MinY: extent[1], MaxX: extent[3], MaxY: extent[4]}
	}

	return &PCDReader{
		name:   name,
		stream: stream,
		dec:    newPCDDecoder(hdr, br, l),
		header: h,
	}, nil
}

func scanExtent(hdr *pcdHeader, br *bufio.Reader) ([]float64, error) {
	l, err := newLayout(hdr, nil)
	if err != nil {
		return nil, err
	}
	d := newPCDDecoder(hdr, br, l)
	ext := []float64{math.Inf(1), math.Inf(1), math.Inf(1), math.Inf(-1), math.Inf(-1), math.Inf(-1)}
	for {
		err := d.next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, err
		}
		x, y, z := d.xyz()
		ext[0], ext[1], ext[2] = min(ext[0], x), min(ext[1], y), min(ext[2], z)
		ext[3], ext[4], ext[5] = max(ext[3], x), max(ext[4], y), max(ext[5], z)
	}
	if d.read == 0 {
		return []float64{0, 0, 0, 0, 0, 0}, nil
	}
	return ext, nil
}

// Header returns the file header.
func (r *PCDReader) Header() *pointcloud.Header { return r.header }

// ReadPoint decodes the next record into p.
func (r *PCDReader) ReadPoint(p *pointcloud.Point) error {
	if err := r.dec.next(); err != nil {
		if errors.Is(err, io.EOF) {
			return io.EOF
		}
		return formatError(r.name, "read", r.dec.line, err)
	}
	r.dec.fill(p)
	return nil
}

// Close releases the stream and the underlying blob.
func (r *PCDReader) Close() error {
	err := r.stream.Close()
	if r.closer != nil {
		if cerr := r.closer(); err == nil {
			err = cerr
		}
		r.closer = nil
	}
	return err
}
