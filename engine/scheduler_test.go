package engine

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lidarkit/cloudpipe/blobstore"
	"github.com/lidarkit/cloudpipe/catalog"
	"github.com/lidarkit/cloudpipe/pipeline"
	"github.com/lidarkit/cloudpipe/pointcloud"
	"github.com/lidarkit/cloudpipe/reader"
	"github.com/lidarkit/cloudpipe/spatial"
	"github.com/lidarkit/cloudpipe/testutil"
)

type P = map[string]any

// fixture is a 2×2 grid of 20×20 tiles with 50 points each.
type fixture struct {
	src   *reader.MemorySource
	store *blobstore.MemoryStore
	cat   *catalog.Catalog
	pts   map[string][]testutil.XYZ
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{src: reader.NewMemorySource(), store: blobstore.NewMemoryStore(), pts: map[string][]testutil.XYZ{}}
	rng := testutil.NewRNG(42)
	schema := testutil.Schema()
	var names []string
	for i, name := range []string{"t_a.pcd", "t_b.pcd", "t_c.pcd", "t_d.pcd"} {
		x, y := float64(i%2)*20, float64(i/2)*20
		pts := rng.UniformCloud(50, spatial.BBox{MinX: x + 0.01, MinY: y + 0.01, MaxX: x + 19.99, MaxY: y + 19.99}, 0, 10)
		f.src.Add(name, schema, testutil.Points(schema, pts))
		f.pts[name] = pts
		names = append(names, name)
	}
	cat, err := catalog.Scan(t.Context(), f.src, names)
	require.NoError(t, err)
	f.cat = cat
	return f
}

func (f *fixture) scheduler(t *testing.T, cfg pipeline.Config, opts ...Option) *Scheduler {
	t.Helper()
	g, err := pipeline.Build(cfg)
	require.NoError(t, err)
	s, err := New(g, f.cat, f.src, f.store, opts...)
	require.NoError(t, err)
	return s
}

func writer(output string) pipeline.StageConfig {
	sc := pipeline.NewStageConfig("write_pcd", "", nil)
	sc.Output = output
	return sc
}

func pipe(stages ...pipeline.StageConfig) pipeline.Config {
	return pipeline.Config{Stages: stages}
}

func TestRun_PerFile(t *testing.T) {
	f := newFixture(t)
	s := f.scheduler(t, pipe(pipeline.NewStageConfig("reader", "", nil), writer("out/*.pcd")), WithThreads(3))
	require.Len(t, s.Chunks(), 4)

	rep, err := s.Run(t.Context())
	require.NoError(t, err)
	assert.NotEmpty(t, rep.RunID)
	assert.Equal(t, "streaming", rep.Mode)
	assert.False(t, rep.Interrupted)
	assert.Equal(t, 4, rep.Count(StatusDone))
	assert.Equal(t, 200, rep.Points())
	assert.Equal(t, []string{"out/t_a.pcd", "out/t_b.pcd", "out/t_c.pcd", "out/t_d.pcd"}, rep.Outputs())

	// Every core point is written exactly once.
	written, err := catalog.Scan(t.Context(), reader.NewStoreSource(f.store), rep.Outputs())
	require.NoError(t, err)
	assert.Equal(t, uint64(200), written.Points())
	assert.InDelta(t, f.cat.Extent().MinX, written.Extent().MinX, 1e-6)
	assert.InDelta(t, f.cat.Extent().MaxY, written.Extent().MaxY, 1e-6)
}

func TestRun_ReaderBufferWritesCoreOnly(t *testing.T) {
	f := newFixture(t)
	s := f.scheduler(t, pipe(pipeline.NewStageConfig("reader", "", P{"buffer": 5}), writer("out/*.pcd")))
	for _, ch := range s.Chunks() {
		assert.Equal(t, 5.0, ch.Buffer)
		assert.NotEmpty(t, ch.NeighborFiles)
	}

	rep, err := s.Run(t.Context())
	require.NoError(t, err)
	assert.Greater(t, rep.Points(), 200)

	written, err := catalog.Scan(t.Context(), reader.NewStoreSource(f.store), rep.Outputs())
	require.NoError(t, err)
	assert.Equal(t, uint64(200), written.Points())
}

func TestRun_Query(t *testing.T) {
	f := newFixture(t)
	s := f.scheduler(t, pipe(
		pipeline.NewStageConfig("reader", "", P{"xmin": 5, "ymin": 5, "xmax": 15, "ymax": 15}),
		writer("q_*.pcd"),
	))
	require.Len(t, s.Chunks(), 1)
	assert.Equal(t, "query_0", s.Chunks()[0].Name)

	rep, err := s.Run(t.Context())
	require.NoError(t, err)
	want := len(testutil.BruteForceRange(f.pts["t_a.pcd"], spatial.NewRectangle(5, 5, 15, 15)))
	assert.Equal(t, want, rep.Points())
	assert.Equal(t, []string{"q_query_0.pcd"}, rep.Outputs())
}

func TestRun_TilesWithBuffer(t *testing.T) {
	f := newFixture(t)
	s := f.scheduler(t, pipe(
		pipeline.NewStageConfig("reader", "", P{"chunk": 10}),
		pipeline.NewStageConfig("sampling_voxel", "", P{"res": 2}),
		writer("tiles/*.pcd"),
	))
	require.Len(t, s.Chunks(), 16)
	for _, ch := range s.Chunks() {
		assert.Equal(t, 2.0, ch.Buffer)
	}

	rep, err := s.Run(t.Context())
	require.NoError(t, err)
	assert.Equal(t, "buffered", rep.Mode)
	assert.Equal(t, 16, rep.Count(StatusDone))
	// Buffered chunks read their margin too.
	assert.Greater(t, rep.Points(), 200)
	assert.Len(t, rep.Chunks, 16)
}

func TestRun_FailedChunkDoesNotStopOthers(t *testing.T) {
	f := newFixture(t)
	files := append(f.cat.Files(), catalog.FileInfo{
		Name:   "gone.pcd",
		Extent: spatial.BBox{MinX: 500, MinY: 500, MaxX: 520, MaxY: 520},
		Points: 10,
	})
	f.cat = catalog.New(files...)
	obs := &countingObserver{stages: map[string]int{}}
	s := f.scheduler(t, pipe(pipeline.NewStageConfig("reader", "", nil), pipeline.NewStageConfig("summarise", "", nil)),
		WithThreads(2), WithMetricsObserver(obs))

	rep, err := s.Run(t.Context())
	require.Error(t, err)
	assert.Equal(t, 4, rep.Count(StatusDone))
	assert.Equal(t, 1, rep.Count(StatusFailed))
	assert.Equal(t, 5, obs.chunks)
	assert.Equal(t, 1, obs.errs)

	var ce *ChunkError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, "gone", ce.Chunk.Name)
	assert.Contains(t, ce.Error(), "[500 500, 520 520]")
	var fe *reader.FormatError
	require.ErrorAs(t, err, &fe)

	failed := rep.Chunks[4]
	assert.Equal(t, StatusFailed, failed.Status)
	assert.NotEmpty(t, failed.Error)
	assert.Equal(t, "gone.pcd", failed.Chunk().MainFiles[0])
}

func TestRun_AllocationFailure(t *testing.T) {
	f := newFixture(t)
	s := f.scheduler(t,
		pipe(pipeline.NewStageConfig("reader", "", nil), pipeline.NewStageConfig("nothing", "", P{"read": true, "stream": false})),
		WithBufferOptions(pointcloud.WithMaxPoints(10)),
	)

	rep, err := s.Run(t.Context())
	require.ErrorIs(t, err, pointcloud.ErrCapacity)
	require.Len(t, rep.Failed(), 4)
	for _, ce := range rep.Failed() {
		assert.Equal(t, 10, ce.Points)
	}
}

func TestRun_Canceled(t *testing.T) {
	f := newFixture(t)
	s := f.scheduler(t, pipe(pipeline.NewStageConfig("reader", "", nil), writer("*.pcd")))

	ctx, cancel := context.WithCancel(t.Context())
	cancel()
	rep, err := s.Run(ctx)
	require.NoError(t, err)
	assert.True(t, rep.Interrupted)
	assert.Equal(t, 4, rep.Count(StatusSkipped))
	assert.Empty(t, rep.Outputs())
}

type countingObserver struct {
	mu     sync.Mutex
	chunks int
	stages map[string]int
	errs   int
}

func (o *countingObserver) OnChunk(_ string, _ int, _ time.Duration, err error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.chunks++
	if err != nil {
		o.errs++
	}
}

func (o *countingObserver) OnStage(kind string, _ time.Duration) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.stages[kind]++
}

func (o *countingObserver) OnQueueDepth(int) {}

func TestRun_Observer(t *testing.T) {
	f := newFixture(t)
	obs := &countingObserver{stages: map[string]int{}}
	s := f.scheduler(t, pipe(pipeline.NewStageConfig("reader", "", nil), pipeline.NewStageConfig("sampling_voxel", "", P{"res": 1})),
		WithMetricsObserver(obs), WithThreads(4))

	_, err := s.Run(t.Context())
	require.NoError(t, err)
	assert.Equal(t, 4, obs.chunks)
	assert.Zero(t, obs.errs)
	assert.Positive(t, obs.stages["sampling_voxel"])
}

func TestNew_NoChunks(t *testing.T) {
	f := newFixture(t)
	g, err := pipeline.Build(pipe(pipeline.NewStageConfig("reader", "", P{"xcenter": 900, "ycenter": 900, "radius": 5})))
	require.NoError(t, err)

	_, err = New(g, f.cat, f.src, f.store)
	require.ErrorIs(t, err, ErrNoChunks)
}

func TestChunkError_Unwrap(t *testing.T) {
	cause := errors.New("boom")
	err := error(&ChunkError{Chunk: catalog.Chunk{ID: 3, Name: "x"}, Points: 7, Err: cause})
	require.ErrorIs(t, err, cause)
	assert.Contains(t, err.Error(), `chunk 3 "x"`)
	assert.Contains(t, err.Error(), "7 points")
}
