// Package metrics records stage timings and outcomes of recipe runs
package metrics

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/fclpkg/fclrecipe/pkg/types"
)

// Outcome label values
const (
	StatusSuccess = "success"
	StatusError   = "error"
)

// Recorder owns a private registry so a run's metrics can be written out
// as a node_exporter textfile without process-wide collectors
type Recorder struct {
	registry *prometheus.Registry

	stageDuration *prometheus.HistogramVec
	stageTotal    *prometheus.CounterVec
	runDuration   prometheus.Histogram
	libraries     prometheus.Gauge
}

// NewRecorder creates a recorder labelled with the recipe reference
func NewRecorder(reference string) *Recorder {
	registry := prometheus.NewRegistry()
	factory := promauto.With(prometheus.WrapRegistererWith(prometheus.Labels{"recipe": reference}, registry))

	return &Recorder{
		registry: registry,
		stageDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "fclrecipe_stage_duration_seconds",
				Help:    "Time taken by each lifecycle stage",
				Buckets: []float64{0.1, 1, 5, 30, 60, 300, 900, 1800},
			},
			[]string{"stage"},
		),
		stageTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "fclrecipe_stage_total",
				Help: "Total number of lifecycle stage executions",
			},
			[]string{"stage", "status"},
		),
		runDuration: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "fclrecipe_run_duration_seconds",
				Help:    "Time taken by a complete recipe run",
				Buckets: []float64{10, 60, 300, 900, 1800, 3600},
			},
		),
		libraries: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "fclrecipe_package_libraries",
				Help: "Number of library files in the last created package",
			},
		),
	}
}

// ObserveStage records one stage execution
func (r *Recorder) ObserveStage(stage types.Stage, duration time.Duration, err error) {
	status := StatusSuccess
	if err != nil {
		status = StatusError
	}
	r.stageDuration.WithLabelValues(string(stage)).Observe(duration.Seconds())
	r.stageTotal.WithLabelValues(string(stage), status).Inc()
}

// ObserveRun records a complete run
func (r *Recorder) ObserveRun(duration time.Duration) {
	r.runDuration.Observe(duration.Seconds())
}

// SetLibraries records the library count of the package
func (r *Recorder) SetLibraries(n int) {
	r.libraries.Set(float64(n))
}

// Registry exposes the collectors for inspection
func (r *Recorder) Registry() *prometheus.Registry {
	return r.registry
}

// WriteTextfile writes the metrics in the Prometheus text format
func (r *Recorder) WriteTextfile(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create metrics directory: %w", err)
	}
	if err := prometheus.WriteToTextfile(path, r.registry); err != nil {
		return fmt.Errorf("failed to write metrics: %w", err)
	}
	return nil
}
