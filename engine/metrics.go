package engine

import "time"

// MetricsObserver receives scheduler events.
type MetricsObserver interface {
	// OnChunk is called when a chunk completes, fails or is interrupted.
	OnChunk(mode string, points int, duration time.Duration, err error)

	// OnStage is called after every stage run of a chunk.
	OnStage(kind string, duration time.Duration)

	// OnQueueDepth reports the number of chunks not yet started.
	OnQueueDepth(depth int)
}

// NoopMetricsObserver is a no-op implementation of MetricsObserver.
type NoopMetricsObserver struct{}

func (NoopMetricsObserver) OnChunk(string, int, time.Duration, error) {}
func (NoopMetricsObserver) OnStage(string, time.Duration)           {}
func (NoopMetricsObserver) OnQueueDepth(int)                        {}
