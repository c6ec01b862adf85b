// Package metrics records scan statistics as Prometheus gauges and exports
// them as a node-exporter textfile.
package metrics

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"provtrace/internal/manifest"
	"provtrace/internal/scan"
)

// Metrics provides observability for scan runs.
// Each Metrics owns its registry so that repeated construction is safe.
type Metrics struct {
	registry *prometheus.Registry

	ScansTotal            prometheus.Counter
	WaysScanned           prometheus.Gauge
	WaysWithProvenance    prometheus.Gauge
	WaysWithoutProvenance prometheus.Gauge
	PolicySources         prometheus.Gauge
	ControlReferences     prometheus.Gauge
	ReadFailures          prometheus.Gauge
	DuplicateKeys         prometheus.Gauge
	ScanDuration          prometheus.Gauge
	LastRun               prometheus.Gauge
}

// New creates a Metrics instance with all scan metrics registered.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	f := promauto.With(reg)
	return &Metrics{
		registry: reg,
		ScansTotal: f.NewCounter(prometheus.CounterOpts{
			Name: "provtrace_scans_total",
			Help: "Total number of completed scans",
		}),
		WaysScanned: f.NewGauge(prometheus.GaugeOpts{
			Name: "provtrace_ways_scanned",
			Help: "Ways found by the last scan",
		}),
		WaysWithProvenance: f.NewGauge(prometheus.GaugeOpts{
			Name: "provtrace_ways_with_provenance",
			Help: "Ways carrying a provenance block in the last scan",
		}),
		WaysWithoutProvenance: f.NewGauge(prometheus.GaugeOpts{
			Name: "provtrace_ways_without_provenance",
			Help: "Ways without a provenance block in the last scan",
		}),
		PolicySources: f.NewGauge(prometheus.GaugeOpts{
			Name: "provtrace_policy_sources",
			Help: "Distinct policy URIs cited in the last scan",
		}),
		ControlReferences: f.NewGauge(prometheus.GaugeOpts{
			Name: "provtrace_control_references",
			Help: "Distinct control ids addressed in the last scan",
		}),
		ReadFailures: f.NewGauge(prometheus.GaugeOpts{
			Name: "provtrace_read_failures",
			Help: "Ways skipped because they could not be read",
		}),
		DuplicateKeys: f.NewGauge(prometheus.GaugeOpts{
			Name: "provtrace_duplicate_keys",
			Help: "Ways dropped because another way had the same domain/name",
		}),
		ScanDuration: f.NewGauge(prometheus.GaugeOpts{
			Name: "provtrace_scan_duration_seconds",
			Help: "Wall time of the last scan",
		}),
		LastRun: f.NewGauge(prometheus.GaugeOpts{
			Name: "provtrace_last_run_timestamp_seconds",
			Help: "Unix time the last scan finished",
		}),
	}
}

// Observe records one completed scan.
// Call with time.Now() taken at the start of the scan.
func (m *Metrics) Observe(res *scan.Result, man *manifest.Manifest, start time.Time) {
	now := time.Now()
	m.ScansTotal.Inc()
	m.WaysScanned.Set(float64(man.WaysScanned))
	m.WaysWithProvenance.Set(float64(man.WaysWithProvenance))
	m.WaysWithoutProvenance.Set(float64(man.WaysWithoutProvenance))
	m.PolicySources.Set(float64(len(man.Coverage.ByPolicy)))
	m.ControlReferences.Set(float64(len(man.Coverage.ByControl)))
	m.ReadFailures.Set(float64(len(res.Failures)))
	m.DuplicateKeys.Set(float64(len(res.Duplicates)))
	m.ScanDuration.Set(now.Sub(start).Seconds())
	m.LastRun.Set(float64(now.Unix()))
}

// Gatherer exposes the registry, e.g. for tests or an HTTP handler.
func (m *Metrics) Gatherer() prometheus.Gatherer {
	return m.registry
}

// WriteTextfile atomically writes all metrics to path in the Prometheus text
// format.
func (m *Metrics) WriteTextfile(path string) error {
	if err := prometheus.WriteToTextfile(path, m.registry); err != nil {
		return fmt.Errorf("write metrics: %w", err)
	}
	return nil
}
