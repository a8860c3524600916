package pointcloud

import (
	"fmt"
	"strings"
)

const (
	posX     = 0
	posY     = 4
	posZ     = 8
	posFlags = 12
	coreSize = 13

	flagWithheld = 1 << 0
)

// Handle is a resolved attribute index within a Schema. Resolving names once
// and reading through handles avoids a map lookup per point.
type Handle int

// Schema describes the binary layout of a point record.
//
// The first three attributes are always X, Y and Z stored as int32 and scaled
// with the coordinate scale/offset. A hidden flags byte follows; user
// attributes are laid out after it in declaration order.
type Schema struct {
	attrs  []Attribute
	index  map[string]Handle
	stride int
}

// NewSchema creates a schema holding only the coordinates.
func NewSchema(scale, offset [3]float64) *Schema {
	for i := range scale {
		if scale[i] == 0 {
			scale[i] = 0.01
		}
	}
	s := &Schema{
		index:  make(map[string]Handle),
		stride: coreSize,
	}
	s.attrs = []Attribute{
		{Name: AttrX, Type: TypeInt32, Scale: scale[0], Offset: offset[0], pos: posX},
		{Name: AttrY, Type: TypeInt32, Scale: scale[1], Offset: offset[1], pos: posY},
		{Name: AttrZ, Type: TypeInt32, Scale: scale[2], Offset: offset[2], pos: posZ},
	}
	for i, a := range s.attrs {
		s.index[strings.ToLower(a.Name)] = Handle(i)
	}
	return s
}

// StandardSchema creates a schema with the coordinates and StandardAttributes.
func StandardSchema(scale, offset [3]float64) *Schema {
	s := NewSchema(scale, offset)
	for _, a := range StandardAttributes() {
		_ = s.AddAttribute(a)
	}
	return s
}

// AddAttribute appends an attribute to the layout. Names are case-insensitive.
func (s *Schema) AddAttribute(a Attribute) error {
	if a.Name == "" {
		return fmt.Errorf("%w: empty name", ErrInvalidAttribute)
	}
	if a.Type.Size() == 0 {
		return fmt.Errorf("%w: %q has unknown type %d", ErrInvalidAttribute, a.Name, a.Type)
	}
	key := strings.ToLower(a.Name)
	if _, ok := s.index[key]; ok {
		return fmt.Errorf("%w: %q", ErrDuplicateAttribute, a.Name)
	}
	a.pos = s.stride
	s.attrs = append(s.attrs, a)
	s.index[key] = Handle(len(s.attrs) - 1)
	s.stride += a.Type.Size()
	return nil
}

// Stride returns the size of one record in bytes.
func (s *Schema) Stride() int { return s.stride }

// Len returns the number of attributes including X, Y and Z.
func (s *Schema) Len() int { return len(s.attrs) }

// Attribute returns the attribute for h.
func (s *Schema) Attribute(h Handle) Attribute { return s.attrs[h] }

// Attributes returns a copy of the attribute list.
func (s *Schema) Attributes() []Attribute {
	out := make([]Attribute, len(s.attrs))
	copy(out, s.attrs)
	return out
}

// Has reports whether the schema contains an attribute named name.
func (s *Schema) Has(name string) bool {
	_, ok := s.index[strings.ToLower(name)]
	return ok
}

// Handle resolves name to a handle.
func (s *Schema) Handle(name string) (Handle, error) {
	h, ok := s.index[strings.ToLower(name)]
	if !ok {
		return 0, fmt.Errorf("%w: %q", ErrUnknownAttribute, name)
	}
	return h, nil
}

// Lookup returns the attribute named name.
func (s *Schema) Lookup(name string) (Attribute, bool) {
	h, ok := s.index[strings.ToLower(name)]
	if !ok {
		return Attribute{}, false
	}
	return s.attrs[h], true
}

// Scale returns the coordinate scale factors.
func (s *Schema) Scale() [3]float64 {
	return [3]float64{s.attrs[0].Scale, s.attrs[1].Scale, s.attrs[2].Scale}
}

// Offset returns the coordinate offsets.
func (s *Schema) Offset() [3]float64 {
	return [3]float64{s.attrs[0].Offset, s.attrs[1].Offset, s.attrs[2].Offset}
}

// Clone returns an independent copy that can be extended without affecting s.
func (s *Schema) Clone() *Schema {
	c := &Schema{
		attrs:  make([]Attribute, len(s.attrs)),
		index:  make(map[string]Handle, len(s.index)),
		stride: s.stride,
	}
	copy(c.attrs, s.attrs)
	for k, v := range s.index {
		c.index[k] = v
	}
	return c
}

// Extends reports whether every record of old is a byte-prefix of a record of
// s, which is the condition for migrating a buffer from old to s.
func (s *Schema) Extends(old *Schema) bool {
	if s.stride < old.stride || len(s.attrs) < len(old.attrs) {
		return false
	}
	for i, a := range old.attrs {
		b := s.attrs[i]
		if !strings.EqualFold(a.Name, b.Name) || a.Type != b.Type || a.pos != b.pos ||
			a.scale() != b.scale() || a.Offset != b.Offset {
			return false
		}
	}
	return true
}

func (s *Schema) String() string {
	var sb strings.Builder
	for i, a := range s.attrs {
		if i > 0 {
			sb.WriteString(", ")
		}
		fmt.Fprintf(&sb, "%s:%s", a.Name, a.Type)
	}
	return sb.String()
}
