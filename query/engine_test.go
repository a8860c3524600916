package query

import (
	"context"
	"math"
	"testing"

	"github.com/lidarkit/cloudpipe/pointcloud"
	"github.com/lidarkit/cloudpipe/spatial"
	"github.com/lidarkit/cloudpipe/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestQuery_MatchesBruteForce(t *testing.T) {
	rng := testutil.NewRNG(11)
	pts := rng.UniformCloud(3000, spatial.BBox{MaxX: 200, MaxY: 200}, 0, 50)
	buf := testutil.FillBuffer(t, pts)
	e := NewEngine(buf)

	shapes := []spatial.Shape{
		spatial.NewRectangle(10, 10, 80, 40),
		spatial.Circle{X: 100, Y: 100, Radius: 33},
		spatial.Sphere{X: 50, Y: 150, Z: 25, Radius: 20},
		spatial.NewRectangle(-50, -50, 500, 500),
	}
	for _, shape := range shapes {
		res, err := e.Query(t.Context(), shape)
		require.NoError(t, err)
		assert.False(t, res.Interrupted)
		assert.Equal(t, testutil.BruteForceRange(pts, shape), res.IDs(), "%v", shape)
	}
}

func TestQuery_FilterAndTransform(t *testing.T) {
	pts := testutil.NewRNG(3).UniformCloud(500, spatial.BBox{MaxX: 50, MaxY: 50}, 0, 10)
	buf := testutil.FillBuffer(t, pts)
	e := NewEngine(buf)

	h, err := buf.Schema().Handle(pointcloud.AttrClassification)
	require.NoError(t, err)

	res, err := e.Query(t.Context(), spatial.NewRectangle(0, 0, 50, 50),
		WithFilter(func(p *pointcloud.Point) bool { return p.Value(h) == 2 }),
		WithTransform(func(p *pointcloud.Point) { p.SetXYZ(p.X(), p.Y(), p.Z()+100) }),
	)
	require.NoError(t, err)

	want := 0
	for _, p := range pts {
		if p.Classification == 2 {
			want++
		}
	}
	require.Equal(t, want, res.Len())
	for _, m := range res.Matches {
		assert.InDelta(t, pts[m.ID].Z+100, m.Point.Z(), 1e-9)
	}

	// The buffer itself is untouched.
	_, _, z := buf.XYZ(res.Matches[0].ID)
	assert.InDelta(t, pts[res.Matches[0].ID].Z, z, 1e-9)
}

func TestQuery_WithheldExcludedByDefault(t *testing.T) {
	pts := testutil.NewRNG(5).UniformCloud(200, spatial.BBox{MaxX: 20, MaxY: 20}, 0, 1)
	buf := testutil.FillBuffer(t, pts)
	e := NewEngine(buf)

	target := uint32(17)
	require.True(t, buf.Seek(target))
	require.NoError(t, buf.MarkWithheld())

	region := spatial.Circle{X: pts[target].X, Y: pts[target].Y, Radius: 1}

	res, err := e.Query(t.Context(), region)
	require.NoError(t, err)
	assert.NotContains(t, res.IDs(), target)

	res, err = e.Query(t.Context(), region, IncludeWithheld())
	require.NoError(t, err)
	assert.Contains(t, res.IDs(), target)

	_, ok := e.Get(target)
	assert.False(t, ok)
	p, ok := e.Get(target, IncludeWithheld())
	require.True(t, ok)
	assert.True(t, p.Withheld())
}

func TestQuery_Interrupted(t *testing.T) {
	pts := testutil.NewRNG(9).UniformCloud(100, spatial.BBox{MaxX: 10, MaxY: 10}, 0, 1)
	e := NewEngine(testutil.FillBuffer(t, pts))

	ctx, cancel := context.WithCancel(t.Context())
	cancel()

	res, err := e.Query(ctx, spatial.NewRectangle(0, 0, 10, 10))
	require.NoError(t, err)
	assert.True(t, res.Interrupted)
	assert.Empty(t, res.Matches)

	res, err = e.KNN(ctx, 5, 5, 0, 3, 10)
	require.NoError(t, err)
	assert.True(t, res.Interrupted)
}

func TestQueryIntervals(t *testing.T) {
	pts := testutil.NewRNG(2).UniformCloud(50, spatial.BBox{MaxX: 10, MaxY: 10}, 0, 1)
	buf := testutil.FillBuffer(t, pts)
	e := NewEngine(buf)

	buf.Seek(4)
	require.NoError(t, buf.MarkWithheld())

	res, err := e.QueryIntervals(t.Context(), []spatial.Interval{{Start: 8, End: 9}, {Start: 2, End: 5}, {Start: 48, End: 60}})
	require.NoError(t, err)
	assert.Equal(t, []uint32{2, 3, 5, 8, 9, 48, 49}, res.IDs())
}

func TestGet(t *testing.T) {
	pts := testutil.NewRNG(2).UniformCloud(10, spatial.BBox{MaxX: 10, MaxY: 10}, 0, 1)
	e := NewEngine(testutil.FillBuffer(t, pts))

	p, ok := e.Get(3)
	require.True(t, ok)
	assert.InDelta(t, pts[3].X, p.X(), 1e-9)

	_, ok = e.Get(10)
	assert.False(t, ok)
}

func TestKNN_Scenario(t *testing.T) {
	// 100 points on a jittered lattice over a 10×10 square: density 1.
	rng := testutil.NewRNG(21)
	var pts []testutil.XYZ
	for i := 0; i < 10; i++ {
		for j := 0; j < 10; j++ {
			pts = append(pts, testutil.XYZ{
				X: math.Round((float64(i)+rng.Float64())*1000) / 1000,
				Y: math.Round((float64(j)+rng.Float64())*1000) / 1000,
			})
		}
	}
	h := testutil.Header(pts)
	h.Extent = spatial.BBox{MaxX: 10, MaxY: 10}
	buf, err := pointcloud.NewBuffer(h)
	require.NoError(t, err)
	p := buf.NewPoint()
	for _, s := range pts {
		testutil.SetPoint(p, s)
		_, err := buf.Append(p)
		require.NoError(t, err)
	}
	e := NewEngine(buf)

	assert.InDelta(t, math.Sqrt(5/math.Pi)*1.5, e.InitialRadius(5), 1e-9)

	res, err := e.KNN(t.Context(), 5, 5, 0, 5, 50)
	require.NoError(t, err)
	require.Len(t, res.Matches, 5)

	want := testutil.BruteForceKNN(pts, 5, 5, 0, 5, 50)
	prev := -1.0
	for i, m := range res.Matches {
		d := math.Hypot(m.Point.X()-5, m.Point.Y()-5)
		assert.GreaterOrEqual(t, d, prev)
		assert.InDelta(t, want[i].Distance, d, 1e-9)
		prev = d
	}
}

func TestKNN_MatchesBruteForce(t *testing.T) {
	rng := testutil.NewRNG(77)
	pts := rng.UniformCloud(2000, spatial.BBox{MaxX: 100, MaxY: 100}, 0, 5)
	e := NewEngine(testutil.FillBuffer(t, pts))

	for q := 0; q < 30; q++ {
		x, y, z := rng.Float64()*100, rng.Float64()*100, rng.Float64()*5
		k := 1 + rng.Intn(20)
		maxR := 2 + rng.Float64()*20

		res, err := e.KNN(t.Context(), x, y, z, k, maxR)
		require.NoError(t, err)

		want := testutil.BruteForceKNN(pts, x, y, z, k, maxR)
		require.Len(t, res.Matches, len(want), "query %d", q)
		for i, m := range res.Matches {
			d := math.Sqrt((m.Point.X()-x)*(m.Point.X()-x) + (m.Point.Y()-y)*(m.Point.Y()-y) + (m.Point.Z()-z)*(m.Point.Z()-z))
			assert.LessOrEqual(t, d, maxR)
			assert.InDelta(t, want[i].Distance, d, 1e-9)
		}
	}
}

func TestKNN_FewerThanK(t *testing.T) {
	pts := []testutil.XYZ{{X: 0, Y: 0}, {X: 1, Y: 0}, {X: 2, Y: 0}, {X: 50, Y: 50}}
	e := NewEngine(testutil.FillBuffer(t, pts))

	res, err := e.KNN(t.Context(), 0, 0, 0, 10, 5)
	require.NoError(t, err)
	assert.Equal(t, []uint32{0, 1, 2}, res.IDs())
}

func TestKNN_FilterAndWithheld(t *testing.T) {
	pts := []testutil.XYZ{{X: 0}, {X: 1, Classification: 2}, {X: 2}, {X: 3, Classification: 2}, {X: 4}}
	buf := testutil.FillBuffer(t, pts)
	e := NewEngine(buf)

	buf.Seek(0)
	require.NoError(t, buf.MarkWithheld())

	res, err := e.KNN(t.Context(), 0, 0, 0, 2, 10)
	require.NoError(t, err)
	assert.Equal(t, []uint32{1, 2}, res.IDs())

	h, _ := buf.Schema().Handle(pointcloud.AttrClassification)
	res, err = e.KNN(t.Context(), 0, 0, 0, 5, 10, WithFilter(func(p *pointcloud.Point) bool { return p.Value(h) == 2 }))
	require.NoError(t, err)
	assert.Equal(t, []uint32{1, 3}, res.IDs())
}

func TestKNN_OrdersByTransformedCoordinates(t *testing.T) {
	var pts []testutil.XYZ
	for i := range 10 {
		pts = append(pts, testutil.XYZ{X: float64(i), Y: 0.1 * float64(i)})
	}
	e := NewEngine(testutil.FillBuffer(t, pts))

	mirror := WithTransform(func(p *pointcloud.Point) { p.SetXYZ(20-p.X(), p.Y(), p.Z()) })
	res, err := e.KNN(t.Context(), 0, 0, 0, 10, 20, mirror)
	require.NoError(t, err)
	require.Len(t, res.Matches, 10)
	for i, m := range res.Matches {
		assert.Equal(t, uint32(9-i), m.ID)
		assert.InDelta(t, 20-pts[m.ID].X, m.Point.X(), 1e-6)
	}
}

func TestKNN_InvalidArgs(t *testing.T) {
	e := NewEngine(testutil.FillBuffer(t, []testutil.XYZ{{}}))
	_, err := e.KNN(t.Context(), 0, 0, 0, 0, 1)
	require.ErrorIs(t, err, ErrInvalidK)
	_, err = e.KNN(t.Context(), 0, 0, 0, 1, 0)
	require.ErrorIs(t, err, ErrInvalidRadius)
}
