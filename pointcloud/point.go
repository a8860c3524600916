package pointcloud

import (
	"encoding/binary"
	"math"
	"strings"
)

var le = binary.LittleEndian

// Largest float64 values that convert to uint64/int64 without overflow.
const (
	maxUint64Float = 18446744073709549568.0
	maxInt64Float  = 9223372036854774784.0
)

// Point is one record bound to a schema. A Point either owns its bytes or is
// a view into a Buffer; views are invalidated by Buffer growth and migration.
type Point struct {
	schema *Schema
	data   []byte
}

// NewPoint allocates a zeroed record for schema.
func NewPoint(schema *Schema) *Point {
	return &Point{schema: schema, data: make([]byte, schema.Stride())}
}

// Schema returns the layout the point is bound to.
func (p *Point) Schema() *Schema { return p.schema }

// Bytes returns the raw record.
func (p *Point) Bytes() []byte { return p.data }

// X returns the world x coordinate.
func (p *Point) X() float64 { return p.coord(0) }

// Y returns the world y coordinate.
func (p *Point) Y() float64 { return p.coord(1) }

// Z returns the world z coordinate.
func (p *Point) Z() float64 { return p.coord(2) }

func (p *Point) coord(i int) float64 {
	a := &p.schema.attrs[i]
	return float64(int32(le.Uint32(p.data[a.pos:])))*a.Scale + a.Offset
}

func (p *Point) setCoord(i int, v float64) {
	a := &p.schema.attrs[i]
	le.PutUint32(p.data[a.pos:], uint32(clampInt32(math.Round((v-a.Offset)/a.Scale))))
}

// SetXYZ writes the world coordinates.
func (p *Point) SetXYZ(x, y, z float64) {
	p.setCoord(0, x)
	p.setCoord(1, y)
	p.setCoord(2, z)
}

// Withheld reports whether the record is logically deleted.
func (p *Point) Withheld() bool {
	return p.data[posFlags]&flagWithheld != 0
}

// SetWithheld sets or clears the withheld flag.
func (p *Point) SetWithheld(v bool) {
	if v {
		p.data[posFlags] |= flagWithheld
	} else {
		p.data[posFlags] &^= flagWithheld
	}
}

// Value returns the scaled value of the attribute h.
func (p *Point) Value(h Handle) float64 {
	a := &p.schema.attrs[h]
	return decode(a, p.data[a.pos:])
}

// SetValue writes the attribute h. Integer types are rounded and saturated.
func (p *Point) SetValue(h Handle, v float64) {
	a := &p.schema.attrs[h]
	encode(a, p.data[a.pos:], v)
}

// Get returns the value of the attribute named name.
func (p *Point) Get(name string) (float64, bool) {
	h, ok := p.schema.index[strings.ToLower(name)]
	if !ok {
		return 0, false
	}
	return p.Value(h), true
}

// Set writes the attribute named name.
func (p *Point) Set(name string, v float64) error {
	h, err := p.schema.Handle(name)
	if err != nil {
		return err
	}
	p.SetValue(h, v)
	return nil
}

// CopyFrom copies the bytes of src, which must share p's stride.
func (p *Point) CopyFrom(src *Point) {
	copy(p.data, src.data)
}

// Clone returns a Point owning a copy of the record.
func (p *Point) Clone() *Point {
	c := &Point{schema: p.schema, data: make([]byte, len(p.data))}
	copy(c.data, p.data)
	return c
}

// Convert writes p into dst by attribute name. Attributes missing from p get
// their declared default in dst.
func (p *Point) Convert(dst *Point) {
	if p.schema == dst.schema {
		copy(dst.data, p.data)
		return
	}
	dst.data[posFlags] = p.data[posFlags]
	for i := range dst.schema.attrs {
		a := &dst.schema.attrs[i]
		if h, ok := p.schema.index[strings.ToLower(a.Name)]; ok {
			encode(a, dst.data[a.pos:], p.Value(h))
		} else {
			encode(a, dst.data[a.pos:], a.Default)
		}
	}
}

func decode(a *Attribute, b []byte) float64 {
	var raw float64
	switch a.Type {
	case TypeUint8:
		raw = float64(b[0])
	case TypeInt8:
		raw = float64(int8(b[0]))
	case TypeUint16:
		raw = float64(le.Uint16(b))
	case TypeInt16:
		raw = float64(int16(le.Uint16(b)))
	case TypeUint32:
		raw = float64(le.Uint32(b))
	case TypeInt32:
		raw = float64(int32(le.Uint32(b)))
	case TypeUint64:
		raw = float64(le.Uint64(b))
	case TypeInt64:
		raw = float64(int64(le.Uint64(b)))
	case TypeFloat32:
		raw = float64(math.Float32frombits(le.Uint32(b)))
	case TypeFloat64:
		raw = math.Float64frombits(le.Uint64(b))
	}
	return raw*a.scale() + a.Offset
}

func encode(a *Attribute, b []byte, v float64) {
	raw := (v - a.Offset) / a.scale()
	if a.Type.IsInteger() {
		raw = math.Round(raw)
	}
	switch a.Type {
	case TypeUint8:
		b[0] = uint8(clamp(raw, 0, math.MaxUint8))
	case TypeInt8:
		b[0] = uint8(int8(clamp(raw, math.MinInt8, math.MaxInt8)))
	case TypeUint16:
		le.PutUint16(b, uint16(clamp(raw, 0, math.MaxUint16)))
	case TypeInt16:
		le.PutUint16(b, uint16(int16(clamp(raw, math.MinInt16, math.MaxInt16))))
	case TypeUint32:
		le.PutUint32(b, uint32(clamp(raw, 0, math.MaxUint32)))
	case TypeInt32:
		le.PutUint32(b, uint32(clampInt32(raw)))
	case TypeUint64:
		le.PutUint64(b, uint64(clamp(raw, 0, maxUint64Float)))
	case TypeInt64:
		le.PutUint64(b, uint64(int64(clamp(raw, math.MinInt64, maxInt64Float))))
	case TypeFloat32:
		le.PutUint32(b, math.Float32bits(float32(raw)))
	case TypeFloat64:
		le.PutUint64(b, math.Float64bits(raw))
	}
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func clampInt32(v float64) int32 {
	return int32(clamp(v, math.MinInt32, math.MaxInt32))
}
