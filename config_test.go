package cloudpipe

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const job = `
inputs: [las/]
input:
  type: local
  root: /data
output:
  type: s3
  bucket: results
  prefix: run1/
threads: 4
memory_limit: 1073741824
report: report.json
pipeline:
  stages:
    - kind: reader
      filter: -drop_class 7
    - kind: triangulate
      id: dtm
      filter: -keep_class 2
    - kind: rasterize
      connect: dtm
      res: 1
      output: dtm/*.asc
`

func TestParseConfig(t *testing.T) {
	cfg, err := ParseConfig([]byte(job))
	require.NoError(t, err)

	assert.Equal(t, []string{"las/"}, cfg.Inputs)
	assert.Equal(t, "/data", cfg.Input.Root)
	assert.Equal(t, "results", cfg.OutputStore().Bucket)
	assert.Equal(t, 4, cfg.Threads)
	assert.Equal(t, int64(1<<30), cfg.MemoryLimit)
	require.Len(t, cfg.Pipeline.Stages, 3)
	assert.Equal(t, "dtm", cfg.Pipeline.Stages[2].Params["connect"])
	assert.Len(t, cfg.Options(), 5)

	o := applyOptions(cfg.Options())
	assert.Equal(t, 4, o.threads)
	assert.Equal(t, int64(1<<30), o.memoryLimit)
}

func TestParseConfig_Invalid(t *testing.T) {
	tests := []struct {
		name string
		yaml string
	}{
		{"unknown key", "inputs: [a.pcd]\nthreads_count: 2\npipeline: {stages: [{kind: reader}]}"},
		{"no inputs", "pipeline: {stages: [{kind: reader}]}"},
		{"empty pipeline", "inputs: [a.pcd]"},
		{"unknown store", "inputs: [a.pcd]\ninput: {type: ftp}\npipeline: {stages: [{kind: reader}]}"},
		{"bucket missing", "inputs: [a.pcd]\ninput: {type: s3}\npipeline: {stages: [{kind: reader}]}"},
		{"negative threads", "inputs: [a.pcd]\nthreads: -1\npipeline: {stages: [{kind: reader}]}"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseConfig([]byte(tt.yaml))
			require.ErrorIs(t, err, ErrConfig)
		})
	}
}

func TestLoadConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "job.yaml")
	require.NoError(t, os.WriteFile(path, []byte(job), 0o600))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, "report.json", cfg.Report)

	_, err = LoadConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
}
