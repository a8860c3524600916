package spatial

import (
	"errors"
	"fmt"
	"math"
	"slices"
)

// ErrInvalidCellSize is returned when a grid is created with a non-positive or
// non-finite cell size.
var ErrInvalidCellSize = errors.New("spatial: cell size must be positive and finite")

type cellKey struct {
	ix, iy int32
}

// Grid is a uniform 2D grid mapping each occupied cell to the ids inserted
// into it, stored as ascending, disjoint, non-adjacent intervals.
//
// The grid is sparse: only occupied cells are materialised, so points lying
// outside the declared extent are still indexed correctly.
//
// Grid is not safe for concurrent mutation. Concurrent Query calls are safe as
// long as no Insert or Remove runs at the same time.
type Grid struct {
	extent   BBox
	cellSize float64
	cells    map[cellKey][]Interval
	count    int
}

// NewGrid creates a grid anchored at the lower-left corner of extent.
func NewGrid(extent BBox, cellSize float64) (*Grid, error) {
	if !(cellSize > 0) || math.IsInf(cellSize, 0) {
		return nil, fmt.Errorf("%w: %v", ErrInvalidCellSize, cellSize)
	}
	if extent.IsEmpty() {
		extent = BBox{}
	}
	return &Grid{
		extent:   extent,
		cellSize: cellSize,
		cells:    make(map[cellKey][]Interval),
	}, nil
}

// CellSize returns the edge length of a cell.
func (g *Grid) CellSize() float64 { return g.cellSize }

// Extent returns the declared extent the grid is anchored on.
func (g *Grid) Extent() BBox { return g.extent }

// Len returns the number of ids inserted.
func (g *Grid) Len() int { return g.count }

// Cells returns the number of occupied cells.
func (g *Grid) Cells() int { return len(g.cells) }

// Reset drops every cell but keeps the geometry.
func (g *Grid) Reset() {
	clear(g.cells)
	g.count = 0
}

func (g *Grid) cellCoord(v, origin float64) int32 {
	c := math.Floor((v - origin) / g.cellSize)
	if c > math.MaxInt32 {
		return math.MaxInt32
	}
	if c < math.MinInt32 {
		return math.MinInt32
	}
	return int32(c)
}

func (g *Grid) key(x, y float64) cellKey {
	return cellKey{ix: g.cellCoord(x, g.extent.MinX), iy: g.cellCoord(y, g.extent.MinY)}
}

// Insert records id in the cell containing (x, y). Ids arriving in ascending
// order extend the cell's last interval in O(1); out-of-order ids are merged
// into place.
func (g *Grid) Insert(x, y float64, id uint32) {
	k := g.key(x, y)
	ivs := g.cells[k]
	n := len(ivs)

	switch {
	case n == 0:
		ivs = append(ivs, Interval{Start: id, End: id})
	case uint64(id) == uint64(ivs[n-1].End)+1:
		ivs[n-1].End = id
	case id > ivs[n-1].End:
		ivs = append(ivs, Interval{Start: id, End: id})
	default:
		var added bool
		ivs, added = insertSorted(ivs, id)
		if !added {
			return
		}
	}
	g.cells[k] = ivs
	g.count++
}

// insertSorted places id into a sorted interval list. It reports false when
// id was already present.
func insertSorted(ivs []Interval, id uint32) ([]Interval, bool) {
	i, _ := slices.BinarySearchFunc(ivs, id, func(iv Interval, t uint32) int {
		if iv.End < t {
			return -1
		}
		if iv.Start > t {
			return 1
		}
		return 0
	})
	if i < len(ivs) && ivs[i].Contains(id) {
		return ivs, false
	}
	ivs = slices.Insert(ivs, i, Interval{Start: id, End: id})
	// Coalesce with neighbours.
	if i+1 < len(ivs) && ivs[i+1].Start == id+1 {
		ivs[i].End = ivs[i+1].End
		ivs = slices.Delete(ivs, i+1, i+2)
	}
	if i > 0 && ivs[i-1].End+1 == ivs[i].Start {
		ivs[i-1].End = ivs[i].End
		ivs = slices.Delete(ivs, i, i+1)
	}
	return ivs, true
}

// Remove deletes id from the cell containing (x, y). It reports whether the id
// was found there.
func (g *Grid) Remove(x, y float64, id uint32) bool {
	k := g.key(x, y)
	ivs := g.cells[k]
	i, found := slices.BinarySearchFunc(ivs, id, func(iv Interval, t uint32) int {
		if iv.End < t {
			return -1
		}
		if iv.Start > t {
			return 1
		}
		return 0
	})
	if !found {
		return false
	}

	iv := ivs[i]
	switch {
	case iv.Start == iv.End:
		ivs = slices.Delete(ivs, i, i+1)
	case id == iv.Start:
		ivs[i].Start++
	case id == iv.End:
		ivs[i].End--
	default:
		ivs[i].End = id - 1
		ivs = slices.Insert(ivs, i+1, Interval{Start: id + 1, End: iv.End})
	}

	if len(ivs) == 0 {
		delete(g.cells, k)
	} else {
		g.cells[k] = ivs
	}
	g.count--
	return true
}

// Query returns the ordered, disjoint intervals of every cell intersecting b.
// The result is a superset of the ids whose coordinates lie inside b.
func (g *Grid) Query(b BBox) []Interval {
	if b.IsEmpty() || len(g.cells) == 0 {
		return nil
	}

	lo := g.key(b.MinX, b.MinY)
	hi := g.key(b.MaxX, b.MaxY)
	span := (int64(hi.ix) - int64(lo.ix) + 1) * (int64(hi.iy) - int64(lo.iy) + 1)

	var out []Interval
	if span > int64(len(g.cells)) {
		for k, ivs := range g.cells {
			if k.ix >= lo.ix && k.ix <= hi.ix && k.iy >= lo.iy && k.iy <= hi.iy {
				out = append(out, ivs...)
			}
		}
	} else {
		for iy := lo.iy; ; iy++ {
			for ix := lo.ix; ; ix++ {
				out = append(out, g.cells[cellKey{ix: ix, iy: iy}]...)
				if ix == hi.ix {
					break
				}
			}
			if iy == hi.iy {
				break
			}
		}
	}
	return MergeIntervals(out)
}

// CellBBox returns the bounds of the cell containing (x, y).
func (g *Grid) CellBBox(x, y float64) BBox {
	k := g.key(x, y)
	minX := g.extent.MinX + float64(k.ix)*g.cellSize
	minY := g.extent.MinY + float64(k.iy)*g.cellSize
	return BBox{MinX: minX, MinY: minY, MaxX: minX + g.cellSize, MaxY: minY + g.cellSize}
}

// DefaultCellSize picks a cell size giving roughly eight points per cell for n
// points spread over extent, clamped to [0.5, 100] map units.
func DefaultCellSize(extent BBox, n int) float64 {
	const (
		pointsPerCell = 8
		minCell       = 0.5
		maxCell       = 100
		fallback      = 2
	)
	area := extent.Area()
	if n <= 0 || !(area > 0) || math.IsInf(area, 0) {
		return fallback
	}
	size := math.Sqrt(area * pointsPerCell / float64(n))
	return math.Max(minCell, math.Min(maxCell, size))
}
