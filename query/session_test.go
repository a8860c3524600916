package query

import (
	"context"
	"testing"

	"github.com/lidarkit/cloudpipe/spatial"
	"github.com/lidarkit/cloudpipe/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSession_FullScan(t *testing.T) {
	pts := testutil.NewRNG(1).UniformCloud(40, spatial.BBox{MaxX: 10, MaxY: 10}, 0, 1)
	buf := testutil.FillBuffer(t, pts)
	s := NewEngine(buf).NewSession()

	assert.Equal(t, NotStarted, s.State())
	var ids []uint32
	for {
		id, p, ok := s.Next(t.Context())
		if !ok {
			break
		}
		assert.Equal(t, int(id), buf.CurrentID())
		assert.InDelta(t, pts[id].X, p.X(), 1e-9)
		ids = append(ids, id)
	}
	assert.Equal(t, Exhausted, s.State())
	assert.Len(t, ids, 40)
	for i, id := range ids {
		assert.Equal(t, uint32(i), id)
	}

	_, _, ok := s.Next(t.Context())
	assert.False(t, ok)
}

func TestSession_BoundShape(t *testing.T) {
	pts := testutil.NewRNG(8).UniformCloud(500, spatial.BBox{MaxX: 50, MaxY: 50}, 0, 1)
	e := NewEngine(testutil.FillBuffer(t, pts))
	s := e.NewSession()

	shape := spatial.Circle{X: 25, Y: 25, Radius: 10}
	require.NoError(t, s.Bind(shape))

	res := s.Collect(t.Context())
	assert.False(t, res.Interrupted)
	assert.Equal(t, testutil.BruteForceRange(pts, shape), res.IDs())

	require.ErrorIs(t, s.Bind(spatial.NewRectangle(0, 0, 1, 1)), ErrSessionActive)

	s.Reset()
	assert.Equal(t, NotStarted, s.State())
	rect := spatial.NewRectangle(0, 0, 10, 10)
	require.NoError(t, s.Bind(rect))
	assert.Equal(t, testutil.BruteForceRange(pts, rect), s.Collect(t.Context()).IDs())
}

func TestSession_MarkWithheldWhileScanning(t *testing.T) {
	pts := testutil.NewRNG(4).UniformCloud(100, spatial.BBox{MaxX: 10, MaxY: 10}, 0, 1)
	buf := testutil.FillBuffer(t, pts)
	e := NewEngine(buf)

	s := e.NewSession()
	for {
		id, _, ok := s.Next(t.Context())
		if !ok {
			break
		}
		if id%2 == 0 {
			require.NoError(t, buf.MarkWithheld())
		}
	}
	assert.Equal(t, 50, buf.CountWithheld())

	s.Reset()
	res := s.Collect(t.Context())
	assert.Len(t, res.Matches, 50)
	for _, m := range res.Matches {
		assert.Equal(t, uint32(1), m.ID%2)
	}
}

func TestSession_Intervals(t *testing.T) {
	pts := testutil.NewRNG(4).UniformCloud(20, spatial.BBox{MaxX: 10, MaxY: 10}, 0, 1)
	s := NewEngine(testutil.FillBuffer(t, pts)).NewSession()

	require.NoError(t, s.BindIntervals([]spatial.Interval{{Start: 15, End: 30}, {Start: 1, End: 2}}))
	assert.Equal(t, []uint32{1, 2, 15, 16, 17, 18, 19}, s.Collect(t.Context()).IDs())

	s.Reset()
	require.NoError(t, s.BindIntervals(nil))
	res := s.Collect(t.Context())
	assert.Empty(t, res.Matches)
	assert.False(t, res.Interrupted)
}

func TestSession_Interrupted(t *testing.T) {
	pts := testutil.NewRNG(4).UniformCloud(20, spatial.BBox{MaxX: 10, MaxY: 10}, 0, 1)
	s := NewEngine(testutil.FillBuffer(t, pts)).NewSession()

	ctx, cancel := context.WithCancel(t.Context())
	_, _, ok := s.Next(ctx)
	require.True(t, ok)
	cancel()

	res := s.Collect(ctx)
	assert.True(t, res.Interrupted)
	assert.Equal(t, Scanning, s.State())

	// The scan resumes where it stopped.
	res = s.Collect(t.Context())
	assert.Len(t, res.Matches, 19)
}

func TestSession_EmptyBuffer(t *testing.T) {
	s := NewEngine(testutil.FillBuffer(t, nil)).NewSession()
	_, _, ok := s.Next(t.Context())
	assert.False(t, ok)
	assert.Equal(t, Exhausted, s.State())
}
