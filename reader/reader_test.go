package reader

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/lidarkit/cloudpipe/blobstore"
	"github.com/lidarkit/cloudpipe/pointcloud"
	"github.com/lidarkit/cloudpipe/spatial"
	"github.com/lidarkit/cloudpipe/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeCloud(t *testing.T, store blobstore.BlobStore, name string, pts []testutil.XYZ, layout DataLayout) {
	t.Helper()
	schema := testutil.Schema()
	w, err := CreatePCD(t.Context(), store, name, schema, layout, nil)
	require.NoError(t, err)
	for _, p := range testutil.Points(schema, pts) {
		require.NoError(t, w.Write(p))
	}
	require.NoError(t, w.Close())
}

func assertBBox(t *testing.T, want, got spatial.BBox) {
	t.Helper()
	assert.InDelta(t, want.MinX, got.MinX, 1e-9)
	assert.InDelta(t, want.MinY, got.MinY, 1e-9)
	assert.InDelta(t, want.MaxX, got.MaxX, 1e-9)
	assert.InDelta(t, want.MaxY, got.MaxY, 1e-9)
}

func readAll(t *testing.T, r FormatReader) []*pointcloud.Point {
	t.Helper()
	var out []*pointcloud.Point
	for {
		p := pointcloud.NewPoint(r.Header().Schema)
		err := r.ReadPoint(p)
		if errors.Is(err, io.EOF) {
			return out
		}
		require.NoError(t, err)
		out = append(out, p)
	}
}

func TestPCD_RoundTrip(t *testing.T) {
	pts := testutil.NewRNG(7).UniformCloud(200, spatial.BBox{MinX: 1500, MinY: 2500, MaxX: 1550, MaxY: 2550}, 100, 120)
	for i := range pts {
		pts[i].Classification = uint8(i % 7)
		pts[i].Intensity = uint16(i * 13)
	}

	for _, name := range []string{"a.pcd", "a_ascii.pcd", "a.pcd.zst", "a.pcd.lz4"} {
		t.Run(name, func(t *testing.T) {
			store := blobstore.NewMemoryStore()
			layout := LayoutBinary
			if strings.Contains(name, "ascii") {
				layout = LayoutASCII
			}
			writeCloud(t, store, name, pts, layout)

			src := NewStoreSource(store)
			r, err := src.Open(t.Context(), name)
			require.NoError(t, err)
			defer r.Close()

			h := r.Header()
			assert.Equal(t, uint64(len(pts)), h.PointCount)
			assertBBox(t, testutil.Extent(pts), h.Extent)
			assert.Equal(t, [3]float64{1000, 2000, 0}, h.Schema.Offset())

			got := readAll(t, r)
			require.Len(t, got, len(pts))
			for i, p := range got {
				assert.InDelta(t, pts[i].X, p.X(), 1e-9)
				assert.InDelta(t, pts[i].Y, p.Y(), 1e-9)
				assert.InDelta(t, pts[i].Z, p.Z(), 1e-9)
				c, _ := p.Get(pointcloud.AttrClassification)
				in, _ := p.Get(pointcloud.AttrIntensity)
				assert.Equal(t, float64(pts[i].Classification), c)
				assert.Equal(t, float64(pts[i].Intensity), in)
			}
		})
	}
}

func TestPCD_ScansExtentWhenUndeclared(t *testing.T) {
	data := `# plain file
VERSION 0.7
FIELDS x y z intensity rgb
SIZE 4 4 4 2 4
TYPE F F F U U
COUNT 1 1 1 1 1
WIDTH 3
HEIGHT 1
VIEWPOINT 0 0 0 1 0 0 0
POINTS 3
DATA ascii
1 2 3 10 16711680
4 -5 6 20 65280

7 8 -9 30 255
`
	store := blobstore.NewMemoryStore()
	require.NoError(t, store.Put(t.Context(), "plain.pcd", []byte(data)))

	r, err := NewStoreSource(store, WithScale(0.01)).Open(t.Context(), "plain.pcd")
	require.NoError(t, err)
	defer r.Close()

	h := r.Header()
	assert.Equal(t, spatial.BBox{MinX: 1, MinY: -5, MaxX: 7, MaxY: 8}, h.Extent)
	assert.Equal(t, -9.0, h.MinZ)
	assert.Equal(t, 6.0, h.MaxZ)
	assert.Equal(t, [3]float64{0.01, 0.01, 0.01}, h.Schema.Scale())
	assert.True(t, h.Schema.Has(pointcloud.AttrR))

	got := readAll(t, r)
	require.Len(t, got, 3)
	red, _ := got[0].Get(pointcloud.AttrR)
	green, _ := got[1].Get(pointcloud.AttrG)
	blue, _ := got[2].Get(pointcloud.AttrB)
	assert.Equal(t, 255.0*256, red)
	assert.Equal(t, 255.0*256, green)
	assert.Equal(t, 255.0*256, blue)
	in, _ := got[2].Get(pointcloud.AttrIntensity)
	assert.Equal(t, 30.0, in)
}

func TestPCD_Errors(t *testing.T) {
	tests := []struct {
		name string
		data string
		want error
	}{
		{"missing data", "VERSION 0.7\nFIELDS x y z\n", ErrMalformedHeader},
		{"compressed", "FIELDS x y z\nSIZE 4 4 4\nTYPE F F F\nPOINTS 0\nDATA binary_compressed\n", ErrUnsupportedFormat},
		{"no z", "FIELDS x y\nSIZE 4 4\nTYPE F F\nPOINTS 0\nDATA ascii\n", ErrMalformedHeader},
		{"short record", "FIELDS x y z\nSIZE 4 4 4\nTYPE F F F\nPOINTS 1\nDATA ascii\n1 2\n", ErrMalformedRecord},
		{"truncated", "FIELDS x y z\nSIZE 4 4 4\nTYPE F F F\nPOINTS 2\nDATA ascii\n1 2 3\n", ErrTruncated},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := blobstore.NewMemoryStore()
			require.NoError(t, store.Put(t.Context(), "bad.pcd", []byte(tt.data)))
			r, err := NewStoreSource(store).Open(t.Context(), "bad.pcd")
			if err == nil {
				defer r.Close()
				p := pointcloud.NewPoint(r.Header().Schema)
				for err == nil {
					err = r.ReadPoint(p)
				}
			}
			var fe *FormatError
			require.ErrorAs(t, err, &fe)
			assert.Equal(t, "bad.pcd", fe.Name)
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestStoreSource_UnsupportedAndMissing(t *testing.T) {
	src := NewStoreSource(blobstore.NewMemoryStore())

	_, err := src.Open(context.Background(), "tile.las")
	assert.ErrorIs(t, err, ErrUnsupportedFormat)

	_, err = src.Open(context.Background(), "missing.pcd")
	var fe *FormatError
	require.ErrorAs(t, err, &fe)
	assert.ErrorIs(t, err, blobstore.ErrNotFound)

	assert.True(t, Supported("x.PCD.zst"))
	assert.False(t, Supported("x.laz"))
}

func TestOpen_MergesFilesAndRestricts(t *testing.T) {
	left := []testutil.XYZ{{X: 0, Y: 0, Z: 1}, {X: 5, Y: 5, Z: 2}, {X: 9, Y: 9, Z: 3}}
	right := []testutil.XYZ{{X: 10, Y: 0, Z: 4}, {X: 11, Y: 5, Z: 5}, {X: 19, Y: 9, Z: 6}}

	src := NewMemorySource()
	schema := testutil.Schema()
	src.Add("left", schema, testutil.Points(schema, left))
	src.Add("right", schema, testutil.Points(schema, right))
	assert.Equal(t, []string{"left", "right"}, src.Names())

	core := spatial.BBox{MinX: 0, MinY: 0, MaxX: 10, MaxY: 10}
	shape := spatial.RectangleFromBBox(core.Expand(1))
	r, err := Open(t.Context(), src, Request{Files: []string{"left", "right"}, Shape: shape, Core: &core})
	require.NoError(t, err)
	defer r.Close()

	h := r.Header()
	assert.Equal(t, uint64(6), h.PointCount)
	assert.Equal(t, spatial.BBox{MinX: 0, MinY: 0, MaxX: 11, MaxY: 9}, h.Extent)
	require.NotNil(t, h.OriginalExtent)
	assert.Equal(t, core, *h.OriginalExtent)
	assert.Equal(t, 1.0, h.MinZ)
	assert.Equal(t, 6.0, h.MaxZ)

	got := readAll(t, r)
	want := []float64{0, 5, 9, 10, 11}
	require.Len(t, got, len(want))
	for i, p := range got {
		assert.InDelta(t, want[i], p.X(), 1e-9)
	}

	_, err = Open(t.Context(), src, Request{})
	assert.ErrorIs(t, err, ErrNoFiles)
}

func TestProbe(t *testing.T) {
	store := blobstore.NewMemoryStore()
	pts := []testutil.XYZ{{X: 1, Y: 1, Z: 1}, {X: 3, Y: 4, Z: 2}}
	writeCloud(t, store, "p.pcd", pts, LayoutBinary)

	h, err := Probe(t.Context(), NewStoreSource(store), "p.pcd")
	require.NoError(t, err)
	assert.Equal(t, uint64(2), h.PointCount)
	assert.Equal(t, "p.pcd", h.Source)
	assertBBox(t, spatial.BBox{MinX: 1, MinY: 1, MaxX: 3, MaxY: 4}, h.Extent)
	assert.InDelta(t, 2.0/6.0, h.Density(), 1e-9)
}

func TestPCDWriter_SkipsWithheld(t *testing.T) {
	store := blobstore.NewMemoryStore()
	schema := testutil.Schema()
	w, err := CreatePCD(t.Context(), store, "w.pcd", schema, LayoutASCII, nil)
	require.NoError(t, err)

	pts := testutil.Points(schema, []testutil.XYZ{{X: 1, Y: 1}, {X: 2, Y: 2}})
	pts[1].SetWithheld(true)
	for _, p := range pts {
		require.NoError(t, w.Write(p))
	}
	assert.Equal(t, uint64(1), w.Count())
	require.NoError(t, w.Close())
	assert.ErrorIs(t, w.Write(pts[0]), io.ErrClosedPipe)

	data, err := blobstore.ReadAll(t.Context(), store, "w.pcd")
	require.NoError(t, err)
	assert.Contains(t, string(data), "POINTS 1\n")
	assert.Contains(t, string(data), "DATA ascii\n1.000 1.000 0.000 ")
}

func TestParseDataLayout(t *testing.T) {
	l, err := ParseDataLayout("ASCII")
	require.NoError(t, err)
	assert.Equal(t, LayoutASCII, l)
	_, err = ParseDataLayout("binary_compressed")
	assert.ErrorIs(t, err, ErrUnsupportedFormat)
}
