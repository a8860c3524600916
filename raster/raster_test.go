package raster

import (
	"bytes"
	"strings"
	"testing"

	"github.com/lidarkit/cloudpipe/spatial"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_Snaps(t *testing.T) {
	r, err := New(spatial.BBox{MinX: 1.5, MinY: 2.2, MaxX: 9.1, MaxY: 7.9}, 2)
	require.NoError(t, err)
	assert.Equal(t, spatial.BBox{MinX: 0, MinY: 2, MaxX: 10, MaxY: 8}, r.Extent())
	assert.Equal(t, 5, r.Cols())
	assert.Equal(t, 3, r.Rows())
	assert.Equal(t, 0, r.Count())

	_, err = New(spatial.BBox{MaxX: 1, MaxY: 1}, 0)
	require.Error(t, err)
}

func TestRaster_CellMapping(t *testing.T) {
	r, err := New(spatial.BBox{MaxX: 4, MaxY: 4}, 1)
	require.NoError(t, err)

	c := r.Cell(0.5, 3.5)
	assert.Equal(t, 0, c, "north-west corner is cell 0")
	x, y := r.Center(c)
	assert.Equal(t, 0.5, x)
	assert.Equal(t, 3.5, y)

	assert.Equal(t, 15, r.Cell(4, 0), "east and south edges map to the last cell")
	assert.Equal(t, -1, r.Cell(4.1, 0))

	r.Set(r.Cell(2.5, 1.5), 7)
	v, ok := r.At(2.5, 1.5)
	require.True(t, ok)
	assert.Equal(t, float32(7), v)
	_, ok = r.At(0.5, 0.5)
	assert.False(t, ok)
}

func TestRaster_CropAndASCII(t *testing.T) {
	r, err := New(spatial.BBox{MaxX: 4, MaxY: 4}, 1)
	require.NoError(t, err)
	for i := 0; i < r.Len(); i++ {
		r.Set(i, float32(i))
	}

	c, err := r.Crop(spatial.BBox{MinX: 1, MinY: 1, MaxX: 3, MaxY: 3})
	require.NoError(t, err)
	assert.Equal(t, 2, c.Cols())
	assert.Equal(t, []float32{5, 6, 9, 10}, c.cells)

	c.Set(0, NoData)
	var buf bytes.Buffer
	require.NoError(t, c.WriteASCII(&buf))
	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 8)
	assert.Equal(t, "ncols 2", lines[0])
	assert.Equal(t, "-9999 6.000", lines[6])
	assert.Equal(t, "9.000 10.000", lines[7])
}
