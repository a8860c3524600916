package main

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lidarkit/cloudpipe/blobstore"
	"github.com/lidarkit/cloudpipe/reader"
	"github.com/lidarkit/cloudpipe/spatial"
	"github.com/lidarkit/cloudpipe/testutil"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(append(args, "--log-level", "error"))
	err := cmd.Execute()
	return out.String(), err
}

func dataDir(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	store := blobstore.NewLocalStore(dir)
	schema := testutil.Schema()
	rng := testutil.NewRNG(3)
	for i, name := range []string{"las/a.pcd", "las/b.pcd"} {
		x := float64(i) * 20
		pts := rng.UniformCloud(40, spatial.BBox{MinX: x + 0.01, MinY: 0.01, MaxX: x + 19.99, MaxY: 19.99}, 0, 5)
		w, err := reader.CreatePCD(t.Context(), store, name, schema, reader.LayoutASCII, nil)
		require.NoError(t, err)
		for _, p := range testutil.Points(schema, pts) {
			require.NoError(t, w.Write(p))
		}
		require.NoError(t, w.Close())
	}
	return dir
}

func TestVersionAndStages(t *testing.T) {
	out, err := execute(t, "version")
	require.NoError(t, err)
	assert.Contains(t, out, "cloudpipe v"+version)

	out, err = execute(t, "stages")
	require.NoError(t, err)
	assert.Contains(t, out, "rasterize")
	assert.Contains(t, out, "raster")
	assert.Contains(t, out, "local_maximum")
}

func TestInfo(t *testing.T) {
	dir := dataDir(t)
	out, err := execute(t, "info", "las/", "--root", dir)
	require.NoError(t, err)
	assert.Contains(t, out, "las/a.pcd")
	assert.Contains(t, out, "2 files, 80 points")

	out, err = execute(t, "info", "las/b.pcd", "--root", dir, "--json")
	require.NoError(t, err)
	assert.Contains(t, out, `"points": 40`)
}

func TestRun(t *testing.T) {
	dir := dataDir(t)
	job := fmt.Sprintf(`
inputs: [las/]
input: {type: local, root: %q}
threads: 2
report: report.json
pipeline:
  stages:
    - kind: reader
    - kind: rasterize
      res: 2
      method: count
      output: dem/*.asc
`, dir)
	path := filepath.Join(t.TempDir(), "job.yaml")
	require.NoError(t, os.WriteFile(path, []byte(job), 0o600))

	out, err := execute(t, "run", path)
	require.NoError(t, err)
	assert.Contains(t, out, "2 chunks, 0 failed, 80 points")
	assert.FileExists(t, filepath.Join(dir, "dem", "a.asc"))
	assert.FileExists(t, filepath.Join(dir, "dem", "b.asc"))
	assert.FileExists(t, filepath.Join(dir, "report.json"))

	out, err = execute(t, "run", path, "--dry-run")
	require.NoError(t, err)
	assert.Contains(t, out, "rasterize")
}

func TestRun_InvalidPipeline(t *testing.T) {
	job := "inputs: [a.pcd]\npipeline:\n  stages:\n    - kind: rasterize\n      res: 1\n"
	path := filepath.Join(t.TempDir(), "job.yaml")
	require.NoError(t, os.WriteFile(path, []byte(job), 0o600))

	_, err := execute(t, "run", path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "reader")
}

func TestIndexAndQuery(t *testing.T) {
	dir := dataDir(t)
	_, err := execute(t, "index", "las/", "--root", dir)
	require.NoError(t, err)
	assert.FileExists(t, filepath.Join(dir, "las", "a.pcd.cpx"))

	out, err := execute(t, "query", "las/", "--root", dir, "--bbox", "0,0,40,20")
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(out), "\n")
	assert.Equal(t, "id,x,y,z", lines[0])
	assert.Len(t, lines, 81)

	out, err = execute(t, "query", "las/", "--root", dir, "--knn", "10,10,2,30", "--k", "3")
	require.NoError(t, err)
	assert.Len(t, strings.Split(strings.TrimSpace(out), "\n"), 4)

	_, err = execute(t, "query", "las/", "--root", dir)
	require.Error(t, err)
}
