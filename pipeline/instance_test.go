package pipeline

import (
	"context"
	"errors"
	"io"
	"math"
	"strings"
	"testing"

	"github.com/lidarkit/cloudpipe/blobstore"
	"github.com/lidarkit/cloudpipe/indexfile"
	"github.com/lidarkit/cloudpipe/pointcloud"
	"github.com/lidarkit/cloudpipe/raster"
	"github.com/lidarkit/cloudpipe/reader"
	"github.com/lidarkit/cloudpipe/spatial"
	"github.com/lidarkit/cloudpipe/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fixture struct {
	src   *reader.MemorySource
	store *blobstore.MemoryStore
	pts   []testutil.XYZ
}

func newFixture(pts []testutil.XYZ) *fixture {
	src := reader.NewMemorySource()
	src.Add("a.pcd", testutil.Schema(), testutil.Points(testutil.Schema(), pts))
	return &fixture{src: src, store: blobstore.NewMemoryStore(), pts: pts}
}

func (f *fixture) input() ChunkInput {
	return ChunkInput{
		Name:    "a",
		Request: reader.Request{Files: []string{"a.pcd"}},
		Files:   []string{"a.pcd"},
		Source:  f.src,
		Store:   f.store,
	}
}

func run(t *testing.T, f *fixture, cfg Config, in ChunkInput) (*Instance, ChunkOutput) {
	t.Helper()
	g, err := Build(cfg)
	require.NoError(t, err)
	inst := g.Instantiate()
	out, err := inst.Execute(t.Context(), in)
	require.NoError(t, err)
	return inst, out
}

func readPCD(t *testing.T, store blobstore.BlobStore, name string) []*pointcloud.Point {
	t.Helper()
	r, err := reader.NewStoreSource(store).Open(t.Context(), name)
	require.NoError(t, err)
	defer r.Close()
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

func TestExecute_HeaderOnlyIndex(t *testing.T) {
	f := newFixture(testutil.NewRNG(1).Terrain(20, 1))
	_, out := run(t, f, pipe(NewStageConfig("reader", "", nil), NewStageConfig("write_index", "", nil)), f.input())

	assert.Equal(t, ModeHeaderOnly, out.Mode)
	assert.Zero(t, out.Points)
	assert.Equal(t, []string{"a.pcd" + indexfile.Extension}, out.Outputs)

	ix, err := indexfile.Load(t.Context(), f.store, "a.pcd")
	require.NoError(t, err)
	assert.Equal(t, uint64(400), ix.Points())

	// An existing index is kept unless overwrite is set.
	_, out = run(t, f, pipe(NewStageConfig("reader", "", nil), NewStageConfig("write_index", "", nil)), f.input())
	assert.Empty(t, out.Outputs)
	_, out = run(t, f, pipe(NewStageConfig("reader", "", nil), NewStageConfig("write_index", "", P{"overwrite": true})), f.input())
	assert.Len(t, out.Outputs, 1)
}

func TestExecute_StreamingRasterCounts(t *testing.T) {
	f := newFixture(testutil.NewRNG(2).Terrain(10, 1))
	inst, out := run(t, f, pipe(
		NewStageConfig("reader", "", nil),
		withOutput(NewStageConfig("rasterize", "", P{"res": 1, "method": "count"}), "count.asc"),
	), f.input())

	assert.Equal(t, ModeStreaming, out.Mode)
	assert.Equal(t, 100, out.Points)
	assert.Equal(t, []string{"count.asc"}, out.Outputs)

	r := inst.Stage(1).(*Rasterize).Raster()
	require.NotNil(t, r)
	total := 0.0
	for cell := range r.Len() {
		if v := r.Value(cell); !raster.IsNoData(v) {
			total += float64(v)
		}
	}
	assert.Equal(t, 100.0, total)

	data, err := blobstore.ReadAll(t.Context(), f.store, "count.asc")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(string(data), "ncols"))
}

func TestExecute_ReaderFilterAndSummary(t *testing.T) {
	pts := testutil.NewRNG(3).UniformCloud(300, spatial.BBox{MaxX: 30, MaxY: 30}, 0, 20)
	want := 0
	for _, p := range pts {
		if p.Classification == 2 {
			want++
		}
	}
	f := newFixture(pts)
	inst, out := run(t, f, pipe(
		withFilter(NewStageConfig("reader", "", nil), "-keep_class 2"),
		withOutput(NewStageConfig("summarise", "", nil), "summary.json"),
	), f.input())

	assert.Equal(t, ModeStreaming, out.Mode)
	assert.Equal(t, want, out.Points)
	sum := inst.Stage(1).(*Summarise).Summary()
	require.NotNil(t, sum)
	assert.Equal(t, want, sum.Points)
	assert.Equal(t, map[string]int{"2": want}, sum.Classification)
	require.NotNil(t, sum.Z)
	assert.LessOrEqual(t, sum.Z.Min, sum.Z.Q["0.5"])
	assert.LessOrEqual(t, sum.Z.Q["0.5"], sum.Z.Max)

	data, err := blobstore.ReadAll(t.Context(), f.store, "summary.json")
	require.NoError(t, err)
	assert.Contains(t, string(data), `"npoints"`)
}

func TestExecute_BufferedVoxelSampling(t *testing.T) {
	pts := testutil.NewRNG(4).UniformCloud(500, spatial.BBox{MaxX: 20, MaxY: 20}, 0, 6)
	f := newFixture(pts)

	voxels := map[voxelKey]bool{}
	for _, p := range testutil.Points(testutil.Schema(), pts) {
		voxels[voxelOf(p.X(), p.Y(), p.Z(), 2)] = true
	}

	_, out := run(t, f, pipe(
		NewStageConfig("reader", "", nil),
		NewStageConfig("sampling_voxel", "", P{"res": 2}),
		withOutput(NewStageConfig("write_pcd", "", nil), "thin.pcd"),
	), f.input())

	assert.Equal(t, ModeBuffered, out.Mode)
	assert.Equal(t, len(pts), out.Points)
	assert.Equal(t, len(pts)-len(voxels), out.Withheld)
	assert.Equal(t, []string{"thin.pcd"}, out.Outputs)

	kept := readPCD(t, f.store, "thin.pcd")
	assert.Len(t, kept, len(voxels))
	seen := map[voxelKey]bool{}
	for _, p := range kept {
		k := voxelOf(p.X(), p.Y(), p.Z(), 2)
		assert.False(t, seen[k], "voxel %v kept twice", k)
		seen[k] = true
	}
}

func TestExecute_OriginalExtent(t *testing.T) {
	f := newFixture(testutil.NewRNG(5).Terrain(10, 1))
	core := spatial.BBox{MaxX: 4, MaxY: 4}
	input := func(buffer float64) ChunkInput {
		in := f.input()
		in.Request.Core = &core
		in.Buffer = buffer
		return in
	}

	t.Run("zero buffer drops the core", func(t *testing.T) {
		// The reader was widened by Epsilon for neighbour files only.
		inst, _ := run(t, f, pipe(
			NewStageConfig("reader", "", nil),
			NewStageConfig("rasterize", "", P{"res": 1}),
		), input(0))
		assert.Equal(t, 9, inst.Stage(1).(*Rasterize).Raster().Cols())
	})

	t.Run("graph margin keeps the core", func(t *testing.T) {
		inst, _ := run(t, f, pipe(
			NewStageConfig("reader", "", nil),
			NewStageConfig("rasterize", "", P{"res": 1}),
			NewStageConfig("sampling_voxel", "", P{"res": 1}),
		), input(1))
		assert.Equal(t, 4, inst.Stage(1).(*Rasterize).Raster().Cols())
	})

	t.Run("reader buffer keeps the core", func(t *testing.T) {
		_, out := run(t, f, pipe(
			NewStageConfig("reader", "", P{"buffer": 5}),
			withOutput(NewStageConfig("write_pcd", "", P{"layout": "ascii"}), "core.pcd"),
		), input(5))
		assert.Equal(t, 100, out.Points)

		got := readPCD(t, f.store, "core.pcd")
		require.Len(t, got, 25)
		for _, p := range got {
			assert.True(t, core.Contains(p.X(), p.Y()), "%g %g", p.X(), p.Y())
		}
	})

	t.Run("zero buffer writes every point", func(t *testing.T) {
		run(t, f, pipe(
			NewStageConfig("reader", "", nil),
			withOutput(NewStageConfig("write_pcd", "", P{"layout": "ascii"}), "all.pcd"),
		), input(0))
		assert.Len(t, readPCD(t, f.store, "all.pcd"), 100)
	})
}

func TestExecute_Normalisation(t *testing.T) {
	ground := testutil.NewRNG(6).Terrain(15, 1)
	pts := append([]testutil.XYZ(nil), ground...)
	for _, i := range []int{16, 50, 112, 200} {
		g := ground[i]
		pts = append(pts, testutil.XYZ{X: g.X, Y: g.Y, Z: g.Z + 10, Classification: 5})
	}
	f := newFixture(pts)

	_, out := run(t, f, pipe(
		NewStageConfig("reader", "", nil),
		withFilter(NewStageConfig("triangulate", "dtm", P{"max_edge": 3}), "-keep_class 2"),
		NewStageConfig("transform_with_triangulation", "", P{"connect": "dtm"}),
		withOutput(NewStageConfig("write_pcd", "", P{"layout": "ascii"}), "norm.pcd"),
	), f.input())
	assert.Equal(t, ModeBuffered, out.Mode)

	got := readPCD(t, f.store, "norm.pcd")
	require.Len(t, got, len(pts))
	for _, p := range got {
		cls, _ := p.Get(pointcloud.AttrClassification)
		if cls == 2 {
			assert.InDelta(t, 0, p.Z(), 1e-6)
		} else {
			assert.InDelta(t, 10, p.Z(), 1e-6)
		}
	}
}

// cones returns a flat lattice with two conical crowns. The apex ids are
// returned as well.
func cones(n int) ([]testutil.XYZ, [2]uint32) {
	type cone struct{ x, y, h float64 }
	cs := []cone{{5, 5, 10}, {14, 14, 8}}
	var pts []testutil.XYZ
	var apex [2]uint32
	for i := range n {
		for j := range n {
			x, y := float64(i), float64(j)
			z := 0.0
			for k, c := range cs {
				d := math.Hypot(x-c.x, y-c.y)
				z = max(z, c.h-1.5*d)
				if d == 0 {
					apex[k] = uint32(len(pts))
				}
			}
			pts = append(pts, testutil.XYZ{X: x, Y: y, Z: math.Round(z*1000) / 1000})
		}
	}
	return pts, apex
}

func TestExecute_TreeSegmentation(t *testing.T) {
	pts, apex := cones(20)
	f := newFixture(pts)

	inst, out := run(t, f, pipe(
		NewStageConfig("reader", "", nil),
		NewStageConfig("rasterize", "chm", P{"res": 1}),
		withOutput(NewStageConfig("local_maximum", "lm", P{"ws": 3, "min_height": 2}), "seeds.csv"),
		withOutput(NewStageConfig("region_growing", "", P{"connect1": "lm", "connect2": "chm", "max_cr": 6}), "crowns.asc"),
	), f.input())
	assert.Equal(t, ModeBuffered, out.Mode)
	assert.Equal(t, []string{"seeds.csv", "crowns.asc"}, out.Outputs)

	seeds := inst.Stage(2).(*LocalMaximum).Seeds()
	require.Len(t, seeds, 2)
	assert.Equal(t, apex[0], seeds[0].ID)
	assert.Equal(t, apex[1], seeds[1].ID)

	crowns := inst.Stage(3).(*RegionGrowing).Raster()
	require.NotNil(t, crowns)
	assert.Equal(t, float32(apex[0]), crowns.Value(crowns.Cell(5, 5)))
	assert.Equal(t, float32(apex[1]), crowns.Value(crowns.Cell(14, 14)))
	assert.True(t, raster.IsNoData(crowns.Value(crowns.Cell(0, 19))))
}

func TestExecute_StreamingSchemaExtension(t *testing.T) {
	f := newFixture(testutil.NewRNG(7).Terrain(5, 2))
	_, out := run(t, f, pipe(
		NewStageConfig("reader", "", nil),
		NewStageConfig("add_extrabytes", "", P{"name": "HAG", "data_type": "float", "default": 1.5}),
		NewStageConfig("add_rgb", "", P{"nir": true}),
		withOutput(NewStageConfig("write_pcd", "", nil), "ext_*.pcd"),
	), f.input())
	assert.Equal(t, ModeStreaming, out.Mode)
	assert.Equal(t, []string{"ext_a.pcd"}, out.Outputs)

	got := readPCD(t, f.store, "ext_a.pcd")
	require.Len(t, got, 25)
	schema := got[0].Schema()
	for _, name := range []string{"HAG", pointcloud.AttrR, pointcloud.AttrG, pointcloud.AttrB, pointcloud.AttrNIR} {
		assert.True(t, schema.Has(name), name)
	}
	v, _ := got[0].Get("HAG")
	assert.InDelta(t, 1.5, v, 1e-6)
}

func TestExecute_BufferedSchemaExtension(t *testing.T) {
	f := newFixture(testutil.NewRNG(8).Terrain(5, 2))
	_, out := run(t, f, pipe(
		NewStageConfig("reader", "", nil),
		NewStageConfig("add_rgb", "", nil),
		NewStageConfig("classify_isolated_points", "", P{"res": 1, "n": 100, "class": 7}),
		withOutput(NewStageConfig("write_pcd", "", nil), "iso.pcd"),
	), f.input())
	assert.Equal(t, ModeBuffered, out.Mode)

	got := readPCD(t, f.store, "iso.pcd")
	require.Len(t, got, 25)
	for _, p := range got {
		assert.True(t, p.Schema().Has(pointcloud.AttrR))
		cls, _ := p.Get(pointcloud.AttrClassification)
		assert.Equal(t, 7.0, cls)
	}
}

func TestExecute_Interrupted(t *testing.T) {
	f := newFixture(testutil.NewRNG(9).Terrain(10, 1))
	g, err := Build(pipe(
		NewStageConfig("reader", "", nil),
		NewStageConfig("sampling_voxel", "", P{"res": 1}),
		withOutput(NewStageConfig("write_pcd", "", nil), "out.pcd"),
	))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(t.Context())
	cancel()
	out, err := g.Instantiate().Execute(ctx, f.input())
	require.NoError(t, err)
	assert.True(t, out.Interrupted)
	assert.Zero(t, out.Points)
	assert.Empty(t, out.Outputs)
}

func TestExecute_MissingFile(t *testing.T) {
	f := newFixture(nil)
	g, err := Build(pipe(NewStageConfig("reader", "", nil), NewStageConfig("rasterize", "", P{"res": 1})))
	require.NoError(t, err)

	in := f.input()
	in.Request.Files = []string{"missing.pcd"}
	_, err = g.Instantiate().Execute(t.Context(), in)
	var fe *reader.FormatError
	require.ErrorAs(t, err, &fe)
}

func TestExecute_AllocationFailureIsReturned(t *testing.T) {
	f := newFixture(testutil.NewRNG(10).Terrain(10, 1))
	in := f.input()
	in.BufferOptions = []pointcloud.BufferOption{pointcloud.WithMaxPoints(10)}

	g, err := Build(pipe(NewStageConfig("reader", "", nil), NewStageConfig("nothing", "", P{"read": true, "stream": false})))
	require.NoError(t, err)
	out, err := g.Instantiate().Execute(t.Context(), in)
	require.ErrorIs(t, err, pointcloud.ErrCapacity)
	assert.Equal(t, 10, out.Points)
}
