package observability

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics
type Metrics struct {
	// Inspection metrics
	InspectionsTotal   *prometheus.CounterVec
	InspectionDuration *prometheus.HistogramVec
	ModuleFailures     *prometheus.CounterVec
	RecordsCurrent     *prometheus.GaugeVec

	// Host metrics
	ModuleLoadsTotal   *prometheus.CounterVec
	ModuleLoadDuration prometheus.Histogram

	// Factory metrics
	InstancesTotal *prometheus.CounterVec

	// Registry metrics
	RepositoriesTotal prometheus.Gauge
}

// NewMetrics creates and registers all Prometheus metrics
func NewMetrics(registry prometheus.Registerer) *Metrics {
	m := &Metrics{
		InspectionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "hubcap_inspections_total",
				Help: "Total number of repository inspections",
			},
			[]string{"kind", "status"},
		),
		InspectionDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "hubcap_inspection_duration_seconds",
				Help:    "Repository inspection duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"kind"},
		),
		ModuleFailures: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "hubcap_module_inspection_failures_total",
				Help: "Total number of module files that failed isolated inspection",
			},
			[]string{"reason"},
		),
		RecordsCurrent: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "hubcap_records",
				Help: "Number of capability records in the current generation",
			},
			[]string{"kind", "source"},
		),
		ModuleLoadsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "hubcap_module_loads_total",
				Help: "Total number of modules loaded into the host process",
			},
			[]string{"status"},
		),
		ModuleLoadDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "hubcap_module_load_duration_seconds",
				Help:    "Module load duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
		),
		InstancesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "hubcap_instances_total",
				Help: "Total number of plugin instances constructed by factories",
			},
			[]string{"status"},
		),
		RepositoriesTotal: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "hubcap_repositories",
				Help: "Number of registered repositories",
			},
		),
	}

	if registry != nil {
		registry.MustRegister(
			m.InspectionsTotal,
			m.InspectionDuration,
			m.ModuleFailures,
			m.RecordsCurrent,
			m.ModuleLoadsTotal,
			m.ModuleLoadDuration,
			m.InstancesTotal,
			m.RepositoriesTotal,
		)
	}

	return m
}

// ObserveInspection records one repository inspection.
func (m *Metrics) ObserveInspection(kind, status string, d time.Duration) {
	if m == nil {
		return
	}
	m.InspectionsTotal.WithLabelValues(kind, status).Inc()
	m.InspectionDuration.WithLabelValues(kind).Observe(d.Seconds())
}

// ObserveModuleFailure records a module file that could not be inspected.
func (m *Metrics) ObserveModuleFailure(reason string) {
	if m == nil {
		return
	}
	m.ModuleFailures.WithLabelValues(reason).Inc()
}

// SetRecords publishes the size of a repository's current generation.
func (m *Metrics) SetRecords(kind, source string, n int) {
	if m == nil {
		return
	}
	m.RecordsCurrent.WithLabelValues(kind, source).Set(float64(n))
}

// ObserveModuleLoad records one module load into the host.
func (m *Metrics) ObserveModuleLoad(status string, d time.Duration) {
	if m == nil {
		return
	}
	m.ModuleLoadsTotal.WithLabelValues(status).Inc()
	m.ModuleLoadDuration.Observe(d.Seconds())
}

// ObserveInstance records one CreateInstance call.
func (m *Metrics) ObserveInstance(status string) {
	if m == nil {
		return
	}
	m.InstancesTotal.WithLabelValues(status).Inc()
}

// SetRepositories publishes the number of registered repositories.
func (m *Metrics) SetRepositories(n int) {
	if m == nil {
		return
	}
	m.RepositoriesTotal.Set(float64(n))
}

// Handler returns the HTTP handler serving metrics from gatherer.
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}
