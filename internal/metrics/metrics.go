// Package metrics exposes pipeline status as Prometheus metrics.
package metrics

import (
	"fmt"
	"io"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/common/expfmt"

	"github.com/rcliao/stream-fusion/internal/pipeline"
)

const namespace = "stream_fusion"

// SnapshotSource is anything that reports a pipeline snapshot.
type SnapshotSource interface {
	Snapshot() pipeline.Snapshot
}

// Collector reads a fresh snapshot on every scrape.
type Collector struct {
	src SnapshotSource

	storeSize          *prometheus.Desc
	compressed         *prometheus.Desc
	averageDecay       *prometheus.Desc
	associationDensity *prometheus.Desc
	queueDepth         *prometheus.Desc
	fusionBuffer       *prometheus.Desc
	fastBuffer         *prometheus.Desc
	handled            *prometheus.Desc
	slowRuns           *prometheus.Desc
	slowSkipped        *prometheus.Desc
	degraded           *prometheus.Desc
}

// NewCollector creates a collector over src.
func NewCollector(src SnapshotSource) *Collector {
	desc := func(subsystem, name, help string) *prometheus.Desc {
		return prometheus.NewDesc(prometheus.BuildFQName(namespace, subsystem, name), help, nil, nil)
	}
	return &Collector{
		src:                src,
		storeSize:          desc("memory", "items", "Items held by the associative store"),
		compressed:         desc("memory", "compressed_items", "Compressed items in the store"),
		averageDecay:       desc("memory", "average_decay", "Mean decay across stored items"),
		associationDensity: desc("memory", "association_density", "Association endpoints per item"),
		queueDepth:         desc("slow_path", "queue_depth", "Inputs waiting for the slow path"),
		fusionBuffer:       desc("fusion", "buffered_records", "Fusion records in the TTL buffer"),
		fastBuffer:         desc("fast_path", "buffered_results", "Fast results awaiting aggregation"),
		handled:            desc("pipeline", "inputs_total", "Inputs handled"),
		slowRuns:           desc("pipeline", "slow_runs_total", "Inputs that ran the slow path"),
		slowSkipped:        desc("pipeline", "slow_skipped_total", "Inputs that skipped the slow path"),
		degraded:           desc("pipeline", "slow_degraded_total", "Slow-path runs that degraded"),
	}
}

// Describe implements prometheus.Collector.
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	for _, d := range []*prometheus.Desc{
		c.storeSize, c.compressed, c.averageDecay, c.associationDensity,
		c.queueDepth, c.fusionBuffer, c.fastBuffer,
		c.handled, c.slowRuns, c.slowSkipped, c.degraded,
	} {
		ch <- d
	}
}

// Collect implements prometheus.Collector.
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	s := c.src.Snapshot()
	gauge := func(d *prometheus.Desc, v float64) {
		ch <- prometheus.MustNewConstMetric(d, prometheus.GaugeValue, v)
	}
	counter := func(d *prometheus.Desc, v uint64) {
		ch <- prometheus.MustNewConstMetric(d, prometheus.CounterValue, float64(v))
	}
	gauge(c.storeSize, float64(s.StoreSize))
	gauge(c.compressed, float64(s.CompressedItems))
	gauge(c.averageDecay, s.AverageDecay)
	gauge(c.associationDensity, s.AssociationDensity)
	gauge(c.queueDepth, float64(s.QueueDepth))
	gauge(c.fusionBuffer, float64(s.FusionBuffer))
	gauge(c.fastBuffer, float64(s.FastBuffer))
	counter(c.handled, s.Handled)
	counter(c.slowRuns, s.SlowRuns)
	counter(c.slowSkipped, s.SlowSkipped)
	counter(c.degraded, s.Degraded)
}

// Recorder tracks per-input latency and merge tiers.
type Recorder struct {
	// Latency is labelled by path: fast_only or fused.
	Latency *prometheus.HistogramVec
	// Tiers counts fusions by merge tier.
	Tiers *prometheus.CounterVec
}

// NewRecorder registers the recorder's metrics with reg.
func NewRecorder(reg prometheus.Registerer) *Recorder {
	f := promauto.With(reg)
	return &Recorder{
		Latency: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "pipeline",
			Name:      "latency_seconds",
			Help:      "End-to-end latency per input",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 5, 30},
		}, []string{"path"}),
		Tiers: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "fusion",
			Name:      "merges_total",
			Help:      "Fusions by merge tier",
		}, []string{"tier"}),
	}
}

// Observe records one handled input.
func (r *Recorder) Observe(out pipeline.Outcome) {
	path := "fast_only"
	if out.Fusion != nil {
		path = "fused"
		r.Tiers.WithLabelValues(out.Fusion.Tier.String()).Inc()
	}
	r.Latency.WithLabelValues(path).Observe(out.TotalLatency.Seconds())
}

// NewRegistry returns a registry holding a Collector over src and a
// Recorder.
func NewRegistry(src SnapshotSource) (*prometheus.Registry, *Recorder, error) {
	reg := prometheus.NewRegistry()
	if err := reg.Register(NewCollector(src)); err != nil {
		return nil, nil, fmt.Errorf("register collector: %w", err)
	}
	return reg, NewRecorder(reg), nil
}

// WriteText writes every gathered family in the Prometheus text format.
func WriteText(w io.Writer, g prometheus.Gatherer) error {
	families, err := g.Gather()
	if err != nil {
		return fmt.Errorf("gather: %w", err)
	}
	for _, mf := range families {
		if _, err := expfmt.MetricFamilyToText(w, mf); err != nil {
			return fmt.Errorf("write %s: %w", mf.GetName(), err)
		}
	}
	return nil
}
