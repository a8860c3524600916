package cloudpipe

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/lidarkit/cloudpipe/engine"
)

// MetricsCollector defines an interface for collecting operational metrics.
// Implement this interface to integrate with monitoring systems; see
// metrics/prom for a Prometheus implementation.
type MetricsCollector interface {
	// RecordChunk is called when a chunk completes. mode is the execution
	// mode, points the number read, err is nil unless the chunk failed.
	RecordChunk(mode string, points int, duration time.Duration, err error)

	// RecordStage is called after each stage run of a chunk.
	RecordStage(kind string, duration time.Duration)

	// RecordQuery is called after each query on a loaded Cloud.
	RecordQuery(kind string, results int, duration time.Duration, err error)

	// RecordPending reports the number of chunks not yet started.
	RecordPending(chunks int)
}

// NoopMetricsCollector is a no-op implementation of MetricsCollector.
type NoopMetricsCollector struct{}

func (NoopMetricsCollector) RecordChunk(string, int, time.Duration, error) {}
func (NoopMetricsCollector) RecordStage(string, time.Duration)             {}
func (NoopMetricsCollector) RecordQuery(string, int, time.Duration, error) {}
func (NoopMetricsCollector) RecordPending(int)                             {}

// BasicMetricsCollector provides simple in-memory metrics collection.
type BasicMetricsCollector struct {
	ChunkCount      atomic.Int64
	ChunkErrors     atomic.Int64
	ChunkPoints     atomic.Int64
	ChunkTotalNanos atomic.Int64
	QueryCount      atomic.Int64
	QueryErrors     atomic.Int64
	QueryResults    atomic.Int64
	Pending         atomic.Int64

	mu     sync.Mutex
	stages map[string]*stageStats
}

type stageStats struct {
	runs  int64
	nanos int64
}

// RecordChunk implements MetricsCollector.
func (b *BasicMetricsCollector) RecordChunk(_ string, points int, duration time.Duration, err error) {
	b.ChunkCount.Add(1)
	b.ChunkPoints.Add(int64(points))
	b.ChunkTotalNanos.Add(duration.Nanoseconds())
	if err != nil {
		b.ChunkErrors.Add(1)
	}
}

// RecordStage implements MetricsCollector.
func (b *BasicMetricsCollector) RecordStage(kind string, duration time.Duration) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.stages == nil {
		b.stages = make(map[string]*stageStats)
	}
	s := b.stages[kind]
	if s == nil {
		s = &stageStats{}
		b.stages[kind] = s
	}
	s.runs++
	s.nanos += duration.Nanoseconds()
}

// RecordQuery implements MetricsCollector.
func (b *BasicMetricsCollector) RecordQuery(_ string, results int, _ time.Duration, err error) {
	b.QueryCount.Add(1)
	b.QueryResults.Add(int64(results))
	if err != nil {
		b.QueryErrors.Add(1)
	}
}

// RecordPending implements MetricsCollector.
func (b *BasicMetricsCollector) RecordPending(chunks int) {
	b.Pending.Store(int64(chunks))
}

// GetStats returns a snapshot of current metrics.
func (b *BasicMetricsCollector) GetStats() BasicMetricsStats {
	s := BasicMetricsStats{
		ChunkCount:   b.ChunkCount.Load(),
		ChunkErrors:  b.ChunkErrors.Load(),
		ChunkPoints:  b.ChunkPoints.Load(),
		QueryCount:   b.QueryCount.Load(),
		QueryErrors:  b.QueryErrors.Load(),
		QueryResults: b.QueryResults.Load(),
		StageRuns:    map[string]int64{},
	}
	if s.ChunkCount > 0 {
		s.ChunkAvgNanos = b.ChunkTotalNanos.Load() / s.ChunkCount
	}
	b.mu.Lock()
	for k, v := range b.stages {
		s.StageRuns[k] = v.runs
	}
	b.mu.Unlock()
	return s
}

// BasicMetricsStats is a snapshot of BasicMetricsCollector.
type BasicMetricsStats struct {
	ChunkCount    int64
	ChunkErrors   int64
	ChunkPoints   int64
	ChunkAvgNanos int64
	QueryCount    int64
	QueryErrors   int64
	QueryResults  int64
	StageRuns     map[string]int64
}

// observer forwards scheduler events to a MetricsCollector.
type observer struct {
	mc MetricsCollector
}

var _ engine.MetricsObserver = observer{}

func (o observer) OnChunk(mode string, points int, d time.Duration, err error) {
	o.mc.RecordChunk(mode, points, d, err)
}

func (o observer) OnStage(kind string, d time.Duration) { o.mc.RecordStage(kind, d) }

func (o observer) OnQueueDepth(depth int) { o.mc.RecordPending(depth) }
