package engine

import (
	"errors"
	"time"

	"github.com/lidarkit/cloudpipe/catalog"
)

// Status is the outcome of one chunk.
type Status string

const (
	StatusDone        Status = "done"
	StatusFailed      Status = "failed"
	StatusInterrupted Status = "interrupted"
	// StatusSkipped marks chunks never started because the job was
	// canceled.
	StatusSkipped Status = "skipped"
)

// ChunkResult is the outcome of one chunk.
type ChunkResult struct {
	ID       int           `json:"id"`
	Name     string        `json:"name"`
	Status   Status        `json:"status"`
	Mode     string        `json:"mode,omitempty"`
	Points   int           `json:"points"`
	Withheld int           `json:"withheld"`
	Outputs  []string      `json:"outputs,omitempty"`
	Duration time.Duration `json:"duration_ns"`
	Error    string        `json:"error,omitempty"`

	chunk catalog.Chunk
	err   *ChunkError
}

// Chunk returns the planned chunk.
func (r *ChunkResult) Chunk() catalog.Chunk { return r.chunk }

// Err returns the failure of the chunk, or nil.
func (r *ChunkResult) Err() error {
	if r.err == nil {
		return nil
	}
	return r.err
}

// Report summarises a job.
type Report struct {
	RunID       string        `json:"run_id"`
	Mode        string        `json:"mode"`
	Started     time.Time     `json:"started"`
	Duration    time.Duration `json:"duration_ns"`
	Interrupted bool          `json:"interrupted"`
	Chunks      []ChunkResult `json:"chunks"`
}

// Points returns the number of points read by all chunks.
func (r *Report) Points() int {
	n := 0
	for i := range r.Chunks {
		n += r.Chunks[i].Points
	}
	return n
}

// Outputs returns the outputs of every chunk in chunk order.
func (r *Report) Outputs() []string {
	var out []string
	for i := range r.Chunks {
		out = append(out, r.Chunks[i].Outputs...)
	}
	return out
}

// Failed returns the errors of the failed chunks in chunk order.
func (r *Report) Failed() []*ChunkError {
	var out []*ChunkError
	for i := range r.Chunks {
		if r.Chunks[i].err != nil {
			out = append(out, r.Chunks[i].err)
		}
	}
	return out
}

// Count returns the number of chunks with status st.
func (r *Report) Count(st Status) int {
	n := 0
	for i := range r.Chunks {
		if r.Chunks[i].Status == st {
			n++
		}
	}
	return n
}

// Err joins the chunk errors, or returns nil when no chunk failed.
func (r *Report) Err() error {
	failed := r.Failed()
	if len(failed) == 0 {
		return nil
	}
	errs := make([]error, len(failed))
	for i, e := range failed {
		errs[i] = e
	}
	return errors.Join(errs...)
}
