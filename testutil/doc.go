// Package testutil provides testing utilities for cloudpipe.
//
// This package is intended for use in tests and benchmarks only.
// It provides a seeded RNG, synthetic point clouds, filled buffers and
// brute-force oracles for range and nearest-neighbour queries.
//
// # Synthetic clouds
//
//	rng := testutil.NewRNG(seed)
//	pts := rng.UniformCloud(1000, spatial.BBox{MaxX: 100, MaxY: 100}, 0, 30)
//	buf := testutil.FillBuffer(t, pts)
//
// # Ground truth
//
//	want := testutil.BruteForceKNN(pts, x, y, z, k, maxRadius)
package testutil
