// Package metrics exposes run statistics as a Prometheus textfile for the
// node exporter's textfile collector.
package metrics

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "eviid"

// Recorder holds the gauges of one run on a private registry.
type Recorder struct {
	registry *prometheus.Registry

	windows            prometheus.Gauge
	windowsMissingCore prometheus.Gauge
	quarantined        prometheus.Gauge
	linesSkipped       *prometheus.CounterVec
	findings           *prometheus.GaugeVec
	poamItems          *prometheus.GaugeVec
	resources          *prometheus.GaugeVec
	integrityFailures  *prometheus.GaugeVec
	controlCoverage    *prometheus.GaugeVec
}

// NewRecorder registers every metric on a fresh registry.
func NewRecorder() *Recorder {
	r := &Recorder{
		registry: prometheus.NewRegistry(),
		windows: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "windows",
			Help:      "Number of monitoring windows in the latest rollup.",
		}),
		windowsMissingCore: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "windows_missing_core_controls",
			Help:      "Windows in the latest rollup with at least one core control missing.",
		}),
		quarantined: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "quarantined_events",
			Help:      "Events excluded from windowing for lack of a timestamp.",
		}),
		linesSkipped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "log_lines_skipped_total",
			Help:      "Log lines dropped because they did not parse.",
		}, []string{"log"}),
		findings: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "findings",
			Help:      "Findings in the release assessment.",
		}, []string{"release"}),
		poamItems: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "poam_items",
			Help:      "Open POA&M items for the release.",
		}, []string{"release"}),
		resources: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "resources",
			Help:      "Evidence resources linked into the release documents.",
		}, []string{"release"}),
		integrityFailures: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "integrity_failures",
			Help:      "Resources that failed re-verification.",
		}, []string{"release"}),
		controlCoverage: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "control_coverage_ratio",
			Help:      "Fraction of catalog controls with evidence present.",
		}, []string{"release"}),
	}
	r.registry.MustRegister(
		r.windows, r.windowsMissingCore, r.quarantined, r.linesSkipped,
		r.findings, r.poamItems, r.resources, r.integrityFailures, r.controlCoverage,
	)
	return r
}

// Registry returns the underlying registry.
func (r *Recorder) Registry() *prometheus.Registry { return r.registry }

// RecordRollup sets the window gauges.
func (r *Recorder) RecordRollup(windows, missingCore, quarantined int) {
	r.windows.Set(float64(windows))
	r.windowsMissingCore.Set(float64(missingCore))
	r.quarantined.Set(float64(quarantined))
}

// RecordSkipped adds n dropped lines for log.
func (r *Recorder) RecordSkipped(log string, n int) {
	r.linesSkipped.WithLabelValues(log).Add(float64(n))
}

// RecordAssessment sets the per-release assessment gauges.
func (r *Recorder) RecordAssessment(release string, findings, poamItems, resources int, coverage float64) {
	r.findings.WithLabelValues(release).Set(float64(findings))
	r.poamItems.WithLabelValues(release).Set(float64(poamItems))
	r.resources.WithLabelValues(release).Set(float64(resources))
	r.controlCoverage.WithLabelValues(release).Set(coverage)
}

// RecordVerification sets the integrity failure gauge for release.
func (r *Recorder) RecordVerification(release string, failed int) {
	r.integrityFailures.WithLabelValues(release).Set(float64(failed))
}

// WriteTextfile writes every metric to path in the text exposition format.
func (r *Recorder) WriteTextfile(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create metrics directory: %w", err)
	}
	if err := prometheus.WriteToTextfile(path, r.registry); err != nil {
		return fmt.Errorf("failed to write metrics: %w", err)
	}
	return nil
}
