package pointcloud

import "fmt"

// Migrate rewrites every record into the wider layout next, which must extend
// the current schema (see Schema.Extends). Existing fields keep their values
// and new attributes take their declared default.
//
// Records are rewritten from the highest id down to the lowest. When the
// existing allocation is large enough the rewrite happens in place: the
// destination of record i starts at i*newStride >= i*oldStride, so it never
// overlaps a source record that has not been read yet. Otherwise the records
// are copied into freshly allocated storage in the same order.
//
// Open cursor views are invalidated.
func (b *Buffer) Migrate(next *Schema) error {
	old := b.schema
	if next == old {
		return nil
	}
	if !next.Extends(old) {
		return fmt.Errorf("%w: %s -> %s", ErrIncompatibleSchema, old, next)
	}

	oldStride, ns := old.Stride(), next.Stride()
	defaults := NewPoint(next)
	for i := old.Len(); i < next.Len(); i++ {
		a := next.attrs[i]
		encode(&a, defaults.data[a.pos:], a.Default)
	}
	tail := defaults.data[oldStride:]

	// In place when the current allocation holds every record at the new
	// stride; the capacity then shrinks to what fits.
	fit := cap(b.data) / ns
	inPlace := fit >= b.n
	var dst []byte
	if inPlace {
		dst = b.data[:cap(b.data)]
		b.capacity = fit
	} else {
		need := int64(b.capacity) * int64(ns)
		if err := b.reserve(b.reserved+need, "migrate"); err != nil {
			return err
		}
		dst = make([]byte, b.capacity*ns)
	}

	for id := b.n - 1; id >= 0; id-- {
		copy(dst[id*ns:id*ns+oldStride], b.data[id*oldStride:(id+1)*oldStride])
		copy(dst[id*ns+oldStride:(id+1)*ns], tail)
	}

	if inPlace {
		b.data = dst[:b.capacity*ns]
	} else {
		b.data = dst
		if err := b.reserve(int64(b.capacity)*int64(ns), "migrate"); err != nil {
			return err
		}
	}

	b.schema = next
	b.header.Schema = next
	b.current = Point{}
	b.logger.Debug("point buffer migrated",
		"points", b.n, "old_stride", oldStride, "new_stride", ns, "in_place", inPlace)
	return nil
}

// AddAttribute extends the schema with a and migrates the records.
func (b *Buffer) AddAttribute(a Attribute) error {
	next := b.schema.Clone()
	if err := next.AddAttribute(a); err != nil {
		return err
	}
	return b.Migrate(next)
}

// AddColorChannels adds R, G and B (and NIR when nir is set) as uint16
// attributes. Channels already present are kept.
func (b *Buffer) AddColorChannels(nir bool) error {
	names := []string{AttrR, AttrG, AttrB}
	if nir {
		names = append(names, AttrNIR)
	}
	next := b.schema.Clone()
	added := false
	for _, name := range names {
		if next.Has(name) {
			continue
		}
		if err := next.AddAttribute(Attribute{Name: name, Type: TypeUint16}); err != nil {
			return err
		}
		added = true
	}
	if !added {
		return nil
	}
	return b.Migrate(next)
}
