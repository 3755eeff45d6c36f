package telemetry

import (
	"fmt"
	"strconv"

	"github.com/maxpert/dbreplace/cfg"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/zerolog/log"
)

const namespace = "dbreplace"

var (
	registry *prometheus.Registry
	// runLabels are attached to every series so textfiles from different runs
	// can be told apart
	runLabels prometheus.Labels
)

type Counter interface {
	Inc()
	Add(float64)
}

type Gauge interface {
	Set(float64)
}

type Histogram interface {
	Observe(float64)
}

type CounterVec interface {
	With(labels ...string) Counter
}

type HistogramVec interface {
	With(labels ...string) Histogram
}

// NoopStat stands in for every metric while telemetry is disabled
type NoopStat struct{}

func (NoopStat) Inc()            {}
func (NoopStat) Add(float64)     {}
func (NoopStat) Set(float64)     {}
func (NoopStat) Observe(float64) {}

type noopCounterVec struct{}
type noopHistogramVec struct{}

func (noopCounterVec) With(...string) Counter     { return NoopStat{} }
func (noopHistogramVec) With(...string) Histogram { return NoopStat{} }

// labeled adapts a prometheus vec to the narrow With(values...) interfaces
type labeled[T any] struct {
	with func(values ...string) T
}

func (l labeled[T]) With(values ...string) T { return l.with(values...) }

func register[C prometheus.Collector](c C) C {
	registry.MustRegister(c)
	return c
}

func counterOpts(name, help string) prometheus.CounterOpts {
	return prometheus.CounterOpts{Namespace: namespace, Name: name, Help: help, ConstLabels: runLabels}
}

func histogramOpts(name, help string, buckets []float64) prometheus.HistogramOpts {
	return prometheus.HistogramOpts{Namespace: namespace, Name: name, Help: help, ConstLabels: runLabels, Buckets: buckets}
}

func NewCounter(name, help string) Counter {
	if registry == nil {
		return NoopStat{}
	}
	return register(prometheus.NewCounter(counterOpts(name, help)))
}

func NewGauge(name, help string) Gauge {
	if registry == nil {
		return NoopStat{}
	}
	return register(prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace:   namespace,
		Name:        name,
		Help:        help,
		ConstLabels: runLabels,
	}))
}

func NewCounterVec(name, help string, labels []string) CounterVec {
	if registry == nil {
		return noopCounterVec{}
	}
	vec := register(prometheus.NewCounterVec(counterOpts(name, help), labels))
	return labeled[Counter]{with: func(values ...string) Counter {
		return vec.WithLabelValues(values...)
	}}
}

func NewHistogramVec(name, help string, labels []string, buckets []float64) HistogramVec {
	if registry == nil {
		return noopHistogramVec{}
	}
	vec := register(prometheus.NewHistogramVec(histogramOpts(name, help, buckets), labels))
	return labeled[Histogram]{with: func(values ...string) Histogram {
		return vec.WithLabelValues(values...)
	}}
}

// InitializeTelemetry creates the registry when metrics are enabled and binds
// every package metric. Without it all metrics are no-ops.
func InitializeTelemetry() {
	if !cfg.Config.Prometheus.Enabled {
		return
	}

	runLabels = prometheus.Labels{
		"driver":  string(cfg.Config.Database.Driver),
		"dry_run": strconv.FormatBool(cfg.Config.Scan.DryRun),
	}
	registry = prometheus.NewRegistry()
	registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	registry.MustRegister(collectors.NewGoCollector())

	InitializeMetrics()

	log.Info().Str("textfile", cfg.Config.Prometheus.Textfile).Msg("Prometheus metrics enabled")
}

// Enabled reports whether a registry is active
func Enabled() bool {
	return registry != nil
}

// WriteTextfile writes the current registry in the node exporter textfile
// format. It is a no-op when metrics are disabled.
func WriteTextfile(path string) error {
	if registry == nil || path == "" {
		return nil
	}
	if err := prometheus.WriteToTextfile(path, registry); err != nil {
		return fmt.Errorf("write metrics textfile: %w", err)
	}
	return nil
}

// Gather sums every series of each metric family, mainly for tests
func Gather() (map[string]float64, error) {
	out := map[string]float64{}
	if registry == nil {
		return out, nil
	}

	families, err := registry.Gather()
	if err != nil {
		return nil, err
	}
	for _, mf := range families {
		var total float64
		for _, m := range mf.GetMetric() {
			switch {
			case m.GetCounter() != nil:
				total += m.GetCounter().GetValue()
			case m.GetGauge() != nil:
				total += m.GetGauge().GetValue()
			case m.GetHistogram() != nil:
				total += float64(m.GetHistogram().GetSampleCount())
			}
		}
		out[mf.GetName()] = total
	}
	return out, nil
}

// Reset drops the registry and rebinds every metric to a no-op
func Reset() {
	registry = nil
	runLabels = nil
	InitializeMetrics()
}
