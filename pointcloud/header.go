package pointcloud

import "github.com/lidarkit/cloudpipe/spatial"

// Header describes a point source before its records are read.
type Header struct {
	// Extent is the planimetric bounding box of the points.
	Extent     spatial.BBox
	MinZ, MaxZ float64
	// PointCount is the number of records announced by the source. It may be
	// zero when unknown.
	PointCount uint64
	Schema     *Schema
	// OriginalExtent is the unbuffered core of a chunk. It is nil when the
	// chunk was read without a buffer margin.
	OriginalExtent *spatial.BBox
	// Source names the file or query the header was produced for.
	Source string
}

// Clone returns a copy sharing nothing mutable with h except the schema,
// which is cloned as well.
func (h *Header) Clone() *Header {
	c := *h
	if h.Schema != nil {
		c.Schema = h.Schema.Clone()
	}
	if h.OriginalExtent != nil {
		e := *h.OriginalExtent
		c.OriginalExtent = &e
	}
	return &c
}

// Density returns points per square map unit over the extent, or 0 when it is
// unknown.
func (h *Header) Density() float64 {
	area := h.Extent.Area()
	if area <= 0 || h.PointCount == 0 {
		return 0
	}
	return float64(h.PointCount) / area
}

// IsBuffered reports whether the header carries an unbuffered core extent.
func (h *Header) IsBuffered() bool { return h.OriginalExtent != nil }

// InCore reports whether (x, y) lies in the unbuffered core. Without an
// original extent every point is in the core.
func (h *Header) InCore(x, y float64) bool {
	if h.OriginalExtent == nil {
		return true
	}
	return h.OriginalExtent.Contains(x, y)
}
