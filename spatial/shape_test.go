package spatial

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestShapes(t *testing.T) {
	r := NewRectangle(10, 10, 0, 0)
	assert.Equal(t, BBox{MaxX: 10, MaxY: 10}, r.BBox())
	assert.True(t, r.Contains(10, 0, 1e9))
	assert.False(t, r.Contains(10.1, 0, 0))

	c := Circle{X: 0, Y: 0, Radius: 2}
	assert.Equal(t, BBox{MinX: -2, MinY: -2, MaxX: 2, MaxY: 2}, c.BBox())
	assert.True(t, c.Contains(2, 0, 100))
	assert.False(t, c.Contains(1.5, 1.5, 0))

	s := Sphere{Radius: 2}
	assert.True(t, s.Contains(0, 0, 2))
	assert.False(t, s.Contains(0, 0, 2.01))
	assert.False(t, s.Contains(1.5, 0, 1.5))
}

func TestBuffered(t *testing.T) {
	assert.Equal(t, Rectangle{MinX: -1, MinY: -1, MaxX: 11, MaxY: 11}, Buffered(Rectangle{MaxX: 10, MaxY: 10}, 1))
	assert.Equal(t, Circle{X: 1, Y: 1, Radius: 3}, Buffered(Circle{X: 1, Y: 1, Radius: 2}, 1))
	assert.Equal(t, Sphere{Radius: 2}, Buffered(Sphere{Radius: 2}, 0))
}

func TestBBox(t *testing.T) {
	e := EmptyBBox()
	assert.True(t, e.IsEmpty())
	e = e.Add(1, 2).Add(3, -1)
	assert.Equal(t, BBox{MinX: 1, MinY: -1, MaxX: 3, MaxY: 2}, e)
	assert.Equal(t, 6.0, e.Area())
	assert.True(t, e.Intersects(BBox{MinX: 3, MinY: 2, MaxX: 4, MaxY: 4}))
	assert.False(t, e.Intersects(EmptyBBox()))
	assert.True(t, e.Expand(1).ContainsBox(e))
}
