package cloudpipe

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestBasicMetricsCollector(t *testing.T) {
	b := &BasicMetricsCollector{}

	var wg sync.WaitGroup
	for i := range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			var err error
			if i == 0 {
				err = errors.New("boom")
			}
			b.RecordChunk("buffered", 10, time.Millisecond, err)
			b.RecordStage("rasterize", time.Microsecond)
		}()
	}
	wg.Wait()
	b.RecordQuery("knn", 5, time.Microsecond, nil)
	b.RecordPending(3)

	s := b.GetStats()
	assert.Equal(t, int64(8), s.ChunkCount)
	assert.Equal(t, int64(1), s.ChunkErrors)
	assert.Equal(t, int64(80), s.ChunkPoints)
	assert.Equal(t, time.Millisecond.Nanoseconds(), s.ChunkAvgNanos)
	assert.Equal(t, int64(8), s.StageRuns["rasterize"])
	assert.Equal(t, int64(5), s.QueryResults)
	assert.Equal(t, int64(3), b.Pending.Load())
}

func TestObserverForwards(t *testing.T) {
	b := &BasicMetricsCollector{}
	o := observer{mc: b}
	o.OnChunk("streaming", 4, time.Second, nil)
	o.OnStage("write_pcd", time.Second)
	o.OnQueueDepth(2)

	assert.Equal(t, int64(1), b.ChunkCount.Load())
	assert.Equal(t, int64(2), b.Pending.Load())
	assert.Equal(t, int64(1), b.GetStats().StageRuns["write_pcd"])
}
