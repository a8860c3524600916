// Package prom implements cloudpipe.MetricsCollector with Prometheus
// metrics.
package prom

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/lidarkit/cloudpipe"
)

// Collector records chunk, stage and query metrics.
type Collector struct {
	chunkLatency *prometheus.HistogramVec
	chunkPoints  prometheus.Counter
	stageLatency *prometheus.HistogramVec
	queryLatency *prometheus.HistogramVec
	queryResults prometheus.Counter
	pending      prometheus.Gauge
}

var _ cloudpipe.MetricsCollector = (*Collector)(nil)

// New creates a Collector and registers its metrics with reg. A nil reg
// uses prometheus.DefaultRegisterer.
func New(reg prometheus.Registerer) *Collector {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	c := &Collector{
		chunkLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "cloudpipe_chunk_duration_seconds",
			Help:    "Processing time of chunks",
			Buckets: prometheus.ExponentialBuckets(0.01, 4, 10),
		}, []string{"mode", "status"}),
		chunkPoints: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "cloudpipe_points_read_total",
			Help: "Points read by all chunks, buffer margins included",
		}),
		stageLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "cloudpipe_stage_duration_seconds",
			Help:    "Run time of stages per chunk",
			Buckets: prometheus.ExponentialBuckets(0.001, 4, 10),
		}, []string{"kind"}),
		queryLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "cloudpipe_query_duration_seconds",
			Help:    "Latency of queries on loaded clouds",
			Buckets: prometheus.DefBuckets,
		}, []string{"kind", "status"}),
		queryResults: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "cloudpipe_query_results_total",
			Help: "Points returned by queries",
		}),
		pending: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "cloudpipe_chunks_pending",
			Help: "Chunks not yet started",
		}),
	}
	reg.MustRegister(c.chunkLatency, c.chunkPoints, c.stageLatency, c.queryLatency, c.queryResults, c.pending)
	return c
}

func status(err error) string {
	if err != nil {
		return "error"
	}
	return "success"
}

// RecordChunk implements cloudpipe.MetricsCollector.
func (c *Collector) RecordChunk(mode string, points int, d time.Duration, err error) {
	c.chunkLatency.WithLabelValues(mode, status(err)).Observe(d.Seconds())
	c.chunkPoints.Add(float64(points))
}

// RecordStage implements cloudpipe.MetricsCollector.
func (c *Collector) RecordStage(kind string, d time.Duration) {
	c.stageLatency.WithLabelValues(kind).Observe(d.Seconds())
}

// RecordQuery implements cloudpipe.MetricsCollector.
func (c *Collector) RecordQuery(kind string, results int, d time.Duration, err error) {
	c.queryLatency.WithLabelValues(kind, status(err)).Observe(d.Seconds())
	c.queryResults.Add(float64(results))
}

// RecordPending implements cloudpipe.MetricsCollector.
func (c *Collector) RecordPending(chunks int) {
	c.pending.Set(float64(chunks))
}
