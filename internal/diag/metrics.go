// Package diag exposes a heap's cumulative counters as Prometheus
// metrics, using prometheus/client_golang's collector API.
package diag

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/minimalisp-lang/heapgc/internal/gcbackend/common"
)

// Source is the narrow read-only surface the exporter pulls from on each
// scrape. pkg/heap.Heap and the bridge's HeapView both satisfy it.
type Source interface {
	BackendName() string
	Stats() common.Stats
	FragStats() common.FragStats
}

// Exporter implements prometheus.Collector over a heap's Stats/FragStats.
// Every scrape of /metrics reads a fresh snapshot from the source; no
// gauge state is cached between scrapes, so a Prometheus server that only
// ever hits /metrics still sees current values.
type Exporter struct {
	source Source

	collections    *prometheus.Desc
	allocatedBytes *prometheus.Desc
	freedBytes     *prometheus.Desc
	currentBytes   *prometheus.Desc
	survivalRate   *prometheus.Desc
	lastPauseMS    *prometheus.Desc
	avgPauseMS     *prometheus.Desc
	maxPauseMS     *prometheus.Desc
	fragIndex      *prometheus.Desc
	wastedBytes    *prometheus.Desc

	registry *prometheus.Registry
}

// NewExporter builds a fresh registry with one metric per counter in
// common.Stats/common.FragStats, labeled with the owning heap's backend
// name, and registers the exporter itself as the sole collector.
func NewExporter(source Source) *Exporter {
	labels := prometheus.Labels{"backend": source.BackendName()}
	newDesc := func(name, help string) *prometheus.Desc {
		return prometheus.NewDesc(prometheus.BuildFQName("heapgc", "", name), help, nil, labels)
	}

	e := &Exporter{
		source:         source,
		collections:    newDesc("collections_total", "Number of completed collection cycles."),
		allocatedBytes: newDesc("allocated_bytes_total", "Cumulative bytes handed out by Allocate."),
		freedBytes:     newDesc("freed_bytes_total", "Cumulative bytes reclaimed by collections."),
		currentBytes:   newDesc("current_live_bytes", "Live payload bytes, updated on every allocation and collection."),
		survivalRate:   newDesc("survival_rate", "Fraction of scanned objects that survived the last cycle."),
		lastPauseMS:    newDesc("last_pause_milliseconds", "Wall-clock duration of the most recent collection."),
		avgPauseMS:     newDesc("avg_pause_milliseconds", "Average collection pause duration."),
		maxPauseMS:     newDesc("max_pause_milliseconds", "Longest observed collection pause duration."),
		fragIndex:      newDesc("fragmentation_index", "1 - largest_free_block/total_free_memory."),
		wastedBytes:    newDesc("wasted_bytes", "Bytes lost to block-size rounding and header overhead."),
	}

	e.registry = prometheus.NewRegistry()
	e.registry.MustRegister(e)
	return e
}

// Describe implements prometheus.Collector.
func (e *Exporter) Describe(ch chan<- *prometheus.Desc) {
	ch <- e.collections
	ch <- e.allocatedBytes
	ch <- e.freedBytes
	ch <- e.currentBytes
	ch <- e.survivalRate
	ch <- e.lastPauseMS
	ch <- e.avgPauseMS
	ch <- e.maxPauseMS
	ch <- e.fragIndex
	ch <- e.wastedBytes
}

// Collect implements prometheus.Collector: it reads the source's current
// counters and emits them as const metrics for this scrape only. The
// monotonic totals go out as counters, everything else as gauges.
func (e *Exporter) Collect(ch chan<- prometheus.Metric) {
	stats := e.source.Stats()
	frag := e.source.FragStats()

	counter := func(desc *prometheus.Desc, v float64) {
		ch <- prometheus.MustNewConstMetric(desc, prometheus.CounterValue, v)
	}
	gauge := func(desc *prometheus.Desc, v float64) {
		ch <- prometheus.MustNewConstMetric(desc, prometheus.GaugeValue, v)
	}
	counter(e.collections, float64(stats.Collections))
	counter(e.allocatedBytes, float64(stats.AllocatedBytes))
	counter(e.freedBytes, float64(stats.FreedBytes))
	gauge(e.currentBytes, float64(stats.CurrentBytes))
	gauge(e.survivalRate, stats.SurvivalRate)
	gauge(e.lastPauseMS, stats.LastPauseMS)
	gauge(e.avgPauseMS, stats.AvgPauseMS)
	gauge(e.maxPauseMS, stats.MaxPauseMS)
	gauge(e.fragIndex, frag.FragmentationIndex)
	gauge(e.wastedBytes, float64(frag.WastedBytes))
}

// Registry returns the exporter's private registry, for wiring into
// promhttp.HandlerFor.
func (e *Exporter) Registry() *prometheus.Registry { return e.registry }
