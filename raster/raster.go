// Package raster provides the float32 grids produced and consumed by raster
// stages.
package raster

import (
	"bufio"
	"fmt"
	"io"
	"math"

	"github.com/lidarkit/cloudpipe/spatial"
)

// NoData marks an empty cell.
var NoData = float32(math.NaN())

// Raster is a north-up grid of float32 cells aligned on multiples of the
// resolution. Row 0 is the northernmost row.
type Raster struct {
	extent     spatial.BBox
	res        float64
	cols, rows int
	cells      []float32
}

// New creates a raster covering extent at resolution res. The extent is
// snapped outward to multiples of res. Every cell starts as NoData.
func New(extent spatial.BBox, res float64) (*Raster, error) {
	if !(res > 0) {
		return nil, fmt.Errorf("raster: resolution must be positive, got %v", res)
	}
	if extent.IsEmpty() {
		return nil, fmt.Errorf("raster: empty extent")
	}
	snapped := spatial.BBox{
		MinX: math.Floor(extent.MinX/res) * res,
		MinY: math.Floor(extent.MinY/res) * res,
		MaxX: math.Ceil(extent.MaxX/res) * res,
		MaxY: math.Ceil(extent.MaxY/res) * res,
	}
	cols := max(1, int(math.Round(snapped.Width()/res)))
	rows := max(1, int(math.Round(snapped.Height()/res)))
	snapped.MaxX = snapped.MinX + float64(cols)*res
	snapped.MaxY = snapped.MinY + float64(rows)*res

	cells := make([]float32, cols*rows)
	for i := range cells {
		cells[i] = NoData
	}
	return &Raster{extent: snapped, res: res, cols: cols, rows: rows, cells: cells}, nil
}

// Extent returns the snapped extent.
func (r *Raster) Extent() spatial.BBox { return r.extent }

// Resolution returns the cell edge length.
func (r *Raster) Resolution() float64 { return r.res }

// Cols returns the number of columns.
func (r *Raster) Cols() int { return r.cols }

// Rows returns the number of rows.
func (r *Raster) Rows() int { return r.rows }

// Len returns the number of cells.
func (r *Raster) Len() int { return len(r.cells) }

// Cell returns the cell index of (x, y), or -1 when outside.
func (r *Raster) Cell(x, y float64) int {
	if x < r.extent.MinX || x > r.extent.MaxX || y < r.extent.MinY || y > r.extent.MaxY {
		return -1
	}
	col := min(int((x-r.extent.MinX)/r.res), r.cols-1)
	row := min(int((r.extent.MaxY-y)/r.res), r.rows-1)
	return row*r.cols + col
}

// ColRow returns the column and row of cell.
func (r *Raster) ColRow(cell int) (col, row int) {
	return cell % r.cols, cell / r.cols
}

// CellIndex returns the cell at (col, row), or -1 when outside.
func (r *Raster) CellIndex(col, row int) int {
	if col < 0 || row < 0 || col >= r.cols || row >= r.rows {
		return -1
	}
	return row*r.cols + col
}

// Center returns the centre coordinates of cell.
func (r *Raster) Center(cell int) (x, y float64) {
	col, row := r.ColRow(cell)
	return r.extent.MinX + (float64(col)+0.5)*r.res, r.extent.MaxY - (float64(row)+0.5)*r.res
}

// Value returns the value of cell.
func (r *Raster) Value(cell int) float32 { return r.cells[cell] }

// Set writes the value of cell.
func (r *Raster) Set(cell int, v float32) { r.cells[cell] = v }

// At returns the value at (x, y) and whether it holds data.
func (r *Raster) At(x, y float64) (float32, bool) {
	c := r.Cell(x, y)
	if c < 0 || IsNoData(r.cells[c]) {
		return 0, false
	}
	return r.cells[c], true
}

// IsNoData reports whether v marks an empty cell.
func IsNoData(v float32) bool { return v != v }

// Clone returns a deep copy.
func (r *Raster) Clone() *Raster {
	c := *r
	c.cells = append([]float32(nil), r.cells...)
	return &c
}

// Crop returns a copy restricted to the cells intersecting b. It is used to
// drop the buffer margin of a chunk before writing.
func (r *Raster) Crop(b spatial.BBox) (*Raster, error) {
	out, err := New(b, r.res)
	if err != nil {
		return nil, err
	}
	for i := range out.cells {
		x, y := out.Center(i)
		if c := r.Cell(x, y); c >= 0 {
			out.cells[i] = r.cells[c]
		}
	}
	return out, nil
}

// Count returns the number of cells holding data.
func (r *Raster) Count() int {
	n := 0
	for _, v := range r.cells {
		if !IsNoData(v) {
			n++
		}
	}
	return n
}

// WriteASCII writes the raster as an ESRI ASCII grid.
func (r *Raster) WriteASCII(w io.Writer) error {
	const nodata = -9999
	bw := bufio.NewWriter(w)
	fmt.Fprintf(bw, "ncols %d\nnrows %d\nxllcorner %.6f\nyllcorner %.6f\ncellsize %g\nNODATA_value %d\n",
		r.cols, r.rows, r.extent.MinX, r.extent.MinY, r.res, nodata)
	for row := 0; row < r.rows; row++ {
		for col := 0; col < r.cols; col++ {
			if col > 0 {
				bw.WriteByte(' ')
			}
			v := r.cells[row*r.cols+col]
			if IsNoData(v) {
				fmt.Fprintf(bw, "%d", nodata)
			} else {
				fmt.Fprintf(bw, "%.3f", v)
			}
		}
		bw.WriteByte('\n')
	}
	return bw.Flush()
}
