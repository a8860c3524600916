package pipeline

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type P = map[string]any

func pipe(stages ...StageConfig) Config { return Config{Stages: stages} }

func withFilter(sc StageConfig, f string) StageConfig {
	sc.Filter = f
	return sc
}

func withOutput(sc StageConfig, out string) StageConfig {
	sc.Output = out
	return sc
}

func TestBuild_Scenarios(t *testing.T) {
	t.Run("voxel sampler margin", func(t *testing.T) {
		g, err := Build(pipe(
			NewStageConfig("reader", "", nil),
			NewStageConfig("sampling_voxel", "", P{"res": 2.0}),
		))
		require.NoError(t, err)
		assert.Equal(t, 2.0, g.BufferMargin())
		assert.False(t, g.Streamable())
	})

	t.Run("unknown reference", func(t *testing.T) {
		_, err := Build(pipe(
			NewStageConfig("reader", "R", nil),
			NewStageConfig("rasterize", "", P{"res": 1, "connect": "T"}),
		))
		require.ErrorIs(t, err, ErrUIDNotFound)
		assert.Contains(t, err.Error(), "uid not found")

		var ce *ConfigError
		require.ErrorAs(t, err, &ce)
		assert.Equal(t, 1, ce.Index)
	})

	t.Run("gap filler on raster", func(t *testing.T) {
		g, err := Build(pipe(
			NewStageConfig("reader", "", nil),
			NewStageConfig("rasterize", "RB", P{"res": 10}),
			NewStageConfig("pit_fill", "", P{"connect": "RB"}),
		))
		require.NoError(t, err)
		h, ok := g.Lookup("RB")
		require.True(t, ok)
		assert.Equal(t, Handle(1), h)
		assert.Equal(t, h, g.Stage(2).(*PitFill).connect)
	})

	t.Run("gap filler on surface", func(t *testing.T) {
		_, err := Build(pipe(
			NewStageConfig("reader", "", nil),
			NewStageConfig("triangulate", "S", nil),
			NewStageConfig("pit_fill", "", P{"connect": "S"}),
		))
		require.ErrorIs(t, err, ErrIncompatibleStages)
		assert.Contains(t, err.Error(), "incompatible stage combination")
	})
}

func TestBuild_Rejections(t *testing.T) {
	tests := []struct {
		name  string
		cfg   Config
		want  error
		index int
	}{
		{"empty", pipe(), ErrNoReader, -1},
		{"rasterize first", pipe(NewStageConfig("rasterize", "", P{"res": 1})), ErrNoReader, 0},
		{"unknown first", pipe(NewStageConfig("las_reader", "", nil)), ErrNoReader, 0},
		{"second reader", pipe(NewStageConfig("reader", "", nil), NewStageConfig("reader", "", nil)), ErrReaderPosition, 1},
		{"unknown kind", pipe(NewStageConfig("reader", "", nil), NewStageConfig("colorize", "", nil)), ErrUnsupportedStage, 1},
		{"duplicate uid", pipe(
			NewStageConfig("reader", "a", nil),
			NewStageConfig("rasterize", "a", P{"res": 1}),
		), ErrDuplicateUID, 1},
		{"bad filter", pipe(
			NewStageConfig("reader", "", nil),
			withFilter(NewStageConfig("rasterize", "", P{"res": 1}), "-keep_banana 3"),
		), ErrInvalidParameter, 1},
		{"unknown param", pipe(
			NewStageConfig("reader", "", nil),
			NewStageConfig("rasterize", "", P{"resolution": 1}),
		), ErrInvalidParameter, 1},
		{"bad param value", pipe(
			NewStageConfig("reader", "", nil),
			NewStageConfig("sampling_voxel", "", P{"res": -1}),
		), ErrInvalidParameter, 1},
		{"missing output", pipe(
			NewStageConfig("reader", "", nil),
			NewStageConfig("write_pcd", "", nil),
		), ErrInvalidParameter, 1},
		{"reference to later stage", pipe(
			NewStageConfig("reader", "", nil),
			NewStageConfig("pit_fill", "", P{"connect": "r"}),
			NewStageConfig("rasterize", "r", P{"res": 1}),
		), ErrUIDNotFound, 1},
		{"region growing without seeds", pipe(
			NewStageConfig("reader", "", nil),
			NewStageConfig("rasterize", "chm", P{"res": 1}),
			NewStageConfig("region_growing", "", P{"connect1": "chm", "connect2": "chm"}),
		), ErrIncompatibleStages, 2},
		{"pit fill on pit fill", pipe(
			NewStageConfig("reader", "", nil),
			NewStageConfig("rasterize", "dsm", P{"res": 1}),
			NewStageConfig("pit_fill", "filled", P{"connect": "dsm"}),
			NewStageConfig("pit_fill", "", P{"connect": "filled"}),
		), ErrIncompatibleStages, 3},
		{"pit fill on region growing", pipe(
			NewStageConfig("reader", "", nil),
			NewStageConfig("rasterize", "chm", P{"res": 1}),
			NewStageConfig("local_maximum", "seeds", P{"ws": 3}),
			NewStageConfig("region_growing", "crowns", P{"connect1": "seeds", "connect2": "chm"}),
			NewStageConfig("pit_fill", "", P{"connect": "crowns"}),
		), ErrIncompatibleStages, 4},
		{"reader query lengths", pipe(
			NewStageConfig("reader", "", P{"xmin": []float64{0, 1}, "ymin": 0, "xmax": 10, "ymax": 10}),
		), ErrInvalidParameter, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g, err := Build(tt.cfg)
			require.Error(t, err)
			assert.Nil(t, g)
			assert.True(t, errors.Is(err, tt.want), "got %v", err)

			var ce *ConfigError
			require.ErrorAs(t, err, &ce)
			assert.Equal(t, tt.index, ce.Index)
		})
	}
}

func TestGraph_Aggregates(t *testing.T) {
	tests := []struct {
		name       string
		cfg        Config
		streamable bool
		margin     float64
		needs      bool
		mode       Mode
	}{
		{"reader only", pipe(NewStageConfig("reader", "", nil)), true, 0, false, ModeHeaderOnly},
		{"standalone raster", pipe(
			NewStageConfig("reader", "", nil),
			NewStageConfig("rasterize", "", P{"res": 1}),
		), true, 0, true, ModeStreaming},
		{"raster on surface", pipe(
			NewStageConfig("reader", "", nil),
			NewStageConfig("triangulate", "t", nil),
			NewStageConfig("rasterize", "", P{"res": 2, "connect": "t"}),
		), false, DefaultMaxEdge, true, ModeBuffered},
		{"largest margin wins", pipe(
			NewStageConfig("reader", "", nil),
			NewStageConfig("local_maximum", "", P{"ws": 3}),
			NewStageConfig("sampling_poisson", "", P{"distance": 0.5}),
			NewStageConfig("summarise", "", nil),
		), false, 3, true, ModeBuffered},
		{"index only", pipe(
			NewStageConfig("reader", "", nil),
			NewStageConfig("write_index", "", nil),
		), true, 0, false, ModeHeaderOnly},
		{"forced buffer", pipe(
			NewStageConfig("reader", "", nil),
			NewStageConfig("nothing", "", P{"read": true, "stream": false}),
		), false, 0, true, ModeBuffered},
		{"streaming chain", pipe(
			NewStageConfig("reader", "", nil),
			NewStageConfig("add_extrabytes", "", P{"name": "HAG"}),
			NewStageConfig("add_rgb", "", nil),
			withOutput(NewStageConfig("write_pcd", "", nil), "out.pcd"),
		), true, 0, true, ModeStreaming},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g, err := Build(tt.cfg)
			require.NoError(t, err)
			assert.Equal(t, tt.streamable, g.Streamable())
			assert.Equal(t, tt.margin, g.BufferMargin())
			assert.Equal(t, tt.needs, g.NeedsPoints())
			assert.Equal(t, tt.mode, g.Mode())

			streamable := true
			margin := 0.0
			for i := range g.Len() {
				s := g.Stage(Handle(i))
				streamable = streamable && s.Streamable()
				margin = max(margin, s.BufferMargin())
			}
			assert.Equal(t, streamable, g.Streamable())
			assert.Equal(t, margin, g.BufferMargin())
		})
	}
}

func TestBuild_AutoUIDs(t *testing.T) {
	g, err := Build(pipe(
		NewStageConfig("reader", "", nil),
		NewStageConfig("rasterize", "", P{"res": 1}),
		NewStageConfig("rasterize", "", P{"res": 2}),
	))
	require.NoError(t, err)
	assert.Equal(t, "reader#0", g.Stage(0).UID())
	assert.Equal(t, "rasterize#1", g.Stage(1).UID())
	assert.Equal(t, "rasterize#2", g.Stage(2).UID())
	assert.Contains(t, g.String(), "rasterize#2")
}

func TestReaderStage_Queries(t *testing.T) {
	g, err := Build(pipe(NewStageConfig("reader", "", P{
		"xmin": []float64{0, 100}, "ymin": []float64{0, 100},
		"xmax": []float64{10, 110}, "ymax": []float64{10, 110},
		"xcenter": 50, "ycenter": 60, "radius": 5,
		"chunk": 500, "buffer": 10,
	})))
	require.NoError(t, err)

	r := g.Reader()
	require.Len(t, r.Queries(), 3)
	assert.Equal(t, 500.0, r.ChunkSize())
	assert.Equal(t, 10.0, r.Buffer())
	assert.True(t, r.Queries()[2].Contains(52, 61, 0))
	assert.False(t, r.Queries()[0].Contains(50, 50, 0))
}

func TestParseConfig(t *testing.T) {
	yml := `
stages:
  - kind: reader
    id: r
    filter: -drop_class 7
    chunk: 250
  - kind: rasterize
    id: dtm
    res: 1
    method: min
    filter: -keep_class 2
    output: dtm_*.asc
  - kind: pit_fill
    connect: dtm
    lap_size: 5
`
	cfg, err := ParseConfig([]byte(yml))
	require.NoError(t, err)
	require.Len(t, cfg.Stages, 3)
	assert.Equal(t, "dtm_*.asc", cfg.Stages[1].Output)
	assert.Equal(t, "-keep_class 2", cfg.Stages[1].Filter)
	assert.Equal(t, 1, cfg.Stages[1].Params["res"])

	g, err := Build(cfg)
	require.NoError(t, err)
	assert.Equal(t, "-keep_class 2", g.Stage(1).Filter())
	assert.Equal(t, 250.0, g.Reader().ChunkSize())
	assert.Equal(t, 5, g.Stage(2).(*PitFill).lapSize)

	_, err = ParseConfig([]byte("stage: []\n"))
	require.Error(t, err)
}

func TestGraph_InstantiateClonesStages(t *testing.T) {
	g, err := Build(pipe(
		NewStageConfig("reader", "", nil),
		NewStageConfig("rasterize", "chm", P{"res": 1}),
		NewStageConfig("pit_fill", "", P{"connect": "chm"}),
	))
	require.NoError(t, err)

	a, b := g.Instantiate(), g.Instantiate()
	for i := range g.Len() {
		h := Handle(i)
		assert.NotSame(t, a.Stage(h), b.Stage(h))
		assert.NotSame(t, g.Stage(h), a.Stage(h))
		assert.Equal(t, g.Stage(h).UID(), a.Stage(h).UID())
	}
	rp, ok := AsRasterProducer(a.Stage(1))
	require.True(t, ok)
	assert.Nil(t, rp.Raster())

	_, ok = AsSurfaceProducer(a.Stage(1))
	assert.False(t, ok)
	_, ok = AsSeedProducer(nil)
	assert.False(t, ok)
}
