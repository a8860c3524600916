package spatial

import (
	"fmt"
	"math"
)

// Shape is a spatial predicate with a bounding box and an exact containment test.
type Shape interface {
	// BBox returns the planimetric bounding box of the shape.
	BBox() BBox
	// Contains reports whether the point lies inside the shape.
	Contains(x, y, z float64) bool
}

// Rectangle is an axis-aligned 2D rectangle. Z is ignored.
type Rectangle struct {
	MinX, MinY float64
	MaxX, MaxY float64
}

// NewRectangle returns a rectangle after normalising the corner order.
func NewRectangle(x1, y1, x2, y2 float64) Rectangle {
	return Rectangle{
		MinX: math.Min(x1, x2), MinY: math.Min(y1, y2),
		MaxX: math.Max(x1, x2), MaxY: math.Max(y1, y2),
	}
}

// RectangleFromBBox converts a box into a rectangle shape.
func RectangleFromBBox(b BBox) Rectangle {
	return Rectangle{MinX: b.MinX, MinY: b.MinY, MaxX: b.MaxX, MaxY: b.MaxY}
}

func (r Rectangle) BBox() BBox {
	return BBox{MinX: r.MinX, MinY: r.MinY, MaxX: r.MaxX, MaxY: r.MaxY}
}

func (r Rectangle) Contains(x, y, _ float64) bool {
	return x >= r.MinX && x <= r.MaxX && y >= r.MinY && y <= r.MaxY
}

func (r Rectangle) String() string {
	return fmt.Sprintf("rect(%g %g, %g %g)", r.MinX, r.MinY, r.MaxX, r.MaxY)
}

// Circle is a 2D disc. Z is ignored.
type Circle struct {
	X, Y   float64
	Radius float64
}

func (c Circle) BBox() BBox {
	return BBox{MinX: c.X - c.Radius, MinY: c.Y - c.Radius, MaxX: c.X + c.Radius, MaxY: c.Y + c.Radius}
}

func (c Circle) Contains(x, y, _ float64) bool {
	dx, dy := x-c.X, y-c.Y
	return dx*dx+dy*dy <= c.Radius*c.Radius
}

func (c Circle) String() string {
	return fmt.Sprintf("circle(%g %g, r=%g)", c.X, c.Y, c.Radius)
}

// Sphere is a 3D ball.
type Sphere struct {
	X, Y, Z float64
	Radius  float64
}

func (s Sphere) BBox() BBox {
	return BBox{MinX: s.X - s.Radius, MinY: s.Y - s.Radius, MaxX: s.X + s.Radius, MaxY: s.Y + s.Radius}
}

func (s Sphere) Contains(x, y, z float64) bool {
	dx, dy, dz := x-s.X, y-s.Y, z-s.Z
	return dx*dx+dy*dy+dz*dz <= s.Radius*s.Radius
}

func (s Sphere) String() string {
	return fmt.Sprintf("sphere(%g %g %g, r=%g)", s.X, s.Y, s.Z, s.Radius)
}

// Buffered returns shape grown by margin: rectangles expand along both axes,
// circles and spheres expand their radius.
func Buffered(shape Shape, margin float64) Shape {
	if margin == 0 {
		return shape
	}
	switch s := shape.(type) {
	case Rectangle:
		return Rectangle{MinX: s.MinX - margin, MinY: s.MinY - margin, MaxX: s.MaxX + margin, MaxY: s.MaxY + margin}
	case Circle:
		return Circle{X: s.X, Y: s.Y, Radius: s.Radius + margin}
	case Sphere:
		return Sphere{X: s.X, Y: s.Y, Z: s.Z, Radius: s.Radius + margin}
	default:
		return RectangleFromBBox(shape.BBox().Expand(margin))
	}
}
