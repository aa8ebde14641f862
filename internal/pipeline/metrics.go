package pipeline

import (
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/Benny93/apigraph-go/internal/apierr"
	"github.com/Benny93/apigraph-go/internal/validation"
)

// Metrics records pipeline activity. A nil *Metrics records nothing.
type Metrics struct {
	runs          *prometheus.CounterVec
	stageDuration *prometheus.HistogramVec
	results       *prometheus.CounterVec
	nodes         prometheus.Histogram
}

// NewMetrics creates the pipeline metrics and registers them with reg.
// Collectors already registered by another runner are reused.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		return nil
	}

	m := &Metrics{
		runs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "apigraph_runs_total",
			Help: "Pipeline runs by dialect and outcome",
		}, []string{"dialect", "status"}),
		stageDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "apigraph_stage_duration_seconds",
			Help:    "Duration of each pipeline stage",
			Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1.0, 5.0, 30.0},
		}, []string{"stage"}),
		results: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "apigraph_validation_results_total",
			Help: "Validation results by profile and severity",
		}, []string{"profile", "severity"}),
		nodes: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "apigraph_model_nodes",
			Help:    "Number of nodes in resolved models",
			Buckets: prometheus.ExponentialBuckets(10, 4, 8),
		}),
	}
	m.runs = register(reg, m.runs)
	m.stageDuration = register(reg, m.stageDuration)
	m.results = register(reg, m.results)
	m.nodes = register(reg, m.nodes)
	return m
}

func register[C prometheus.Collector](reg prometheus.Registerer, c C) C {
	if err := reg.Register(c); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			if existing, ok := are.ExistingCollector.(C); ok {
				return existing
			}
		}
		panic(err)
	}
	return c
}

func (m *Metrics) recordRun(dialect string, err error) {
	if m == nil {
		return
	}
	status := "ok"
	if err != nil {
		status = apierr.Stage(err)
		if status == "" {
			status = "error"
		}
	}
	m.runs.WithLabelValues(dialect, status).Inc()
}

func (m *Metrics) observeStage(stage string, d time.Duration) {
	if m == nil {
		return
	}
	m.stageDuration.WithLabelValues(stage).Observe(d.Seconds())
}

func (m *Metrics) recordReport(r *validation.Report) {
	if m == nil {
		return
	}
	for _, res := range r.Results {
		m.results.WithLabelValues(string(r.Profile), string(res.Severity)).Inc()
	}
}

func (m *Metrics) observeNodes(n int) {
	if m == nil {
		return
	}
	m.nodes.Observe(float64(n))
}
