// Package metrics defines the Registry interface the rest of sentrymon
// depends on (spec.md §9: "no hidden singletons — a dependency-injected
// Registry struct passed through construction"), plus the one concrete
// implementation backed by a dedicated Prometheus registry, adapted from
// the teacher's internal/observability.Metrics.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry is the metrics surface every internal package depends on.
// Tests inject a fake; production wires Prometheus.
type Registry interface {
	// EventRecorded increments the per-analyzer event counter.
	EventRecorded(eventType, containerName, severity string)

	// QueueFullIncrement increments the pipeline overflow counter (§4.7).
	QueueFullIncrement()

	// AlertSent increments the alert-delivery counter for a successful
	// delivery over deliveryMethod (currently always "webhook").
	AlertSent(deliveryMethod string)

	// AlertFailed increments the undelivered-alert counter: alerts whose
	// delivery failed (after retries, where the failure is retryable) and
	// alerts dropped by the rate limiter.
	AlertFailed(deliveryMethod string)

	// AnalysisErrorRecorded increments the analyzer panic/error counter.
	AnalysisErrorRecorded(source string)

	// ContainersMonitored sets the current gauge of actively monitored
	// containers.
	ContainersMonitored(n int)

	// ReportGenerated observes report-generation latency in seconds.
	ReportGenerated(durationSeconds float64)
}

// Prometheus is the production Registry, backed by a dedicated
// prometheus.Registry — never the global default registry, per spec.md §9.
type Prometheus struct {
	registry *prometheus.Registry

	eventsTotal          *prometheus.CounterVec
	queueFullTotal       prometheus.Counter
	alertSentTotal       *prometheus.CounterVec
	alertFailedTotal     *prometheus.CounterVec
	analysisErrorsTotal  *prometheus.CounterVec
	containersMonitored  prometheus.Gauge
	reportGenerationTime prometheus.Histogram
}

// New creates and registers all sentrymon Prometheus metrics on a fresh
// registry.
func New() *Prometheus {
	reg := prometheus.NewRegistry()

	p := &Prometheus{
		registry: reg,

		eventsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "sentrymon",
			Subsystem: "events",
			Name:      "processed_total",
			Help:      "Total security events emitted by the analyzers, by event type, container, and severity.",
		}, []string{"event_type", "container_name", "severity"}),

		queueFullTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "sentrymon",
			Subsystem: "pipeline",
			Name:      "queue_full_total",
			Help:      "Total events dropped because the event pipeline queue was full.",
		}),

		alertSentTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "sentrymon",
			Subsystem: "alert",
			Name:      "sent_total",
			Help:      "Total alerts successfully delivered, by delivery method.",
		}, []string{"delivery_method"}),

		alertFailedTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "sentrymon",
			Subsystem: "alert",
			Name:      "failed_total",
			Help:      "Total alerts not delivered (delivery failed or dropped by the rate limiter), by delivery method.",
		}, []string{"delivery_method"}),

		analysisErrorsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "sentrymon",
			Subsystem: "analyzer",
			Name:      "errors_total",
			Help:      "Total analyzer panics/errors converted to analysis_error events, by source.",
		}, []string{"source"}),

		containersMonitored: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "sentrymon",
			Subsystem: "runtime",
			Name:      "containers_monitored",
			Help:      "Current number of containers under active monitoring.",
		}),

		reportGenerationTime: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "sentrymon",
			Subsystem: "report",
			Name:      "generation_seconds",
			Help:      "Report generation latency in seconds.",
			Buckets:   prometheus.DefBuckets,
		}),
	}

	reg.MustRegister(
		p.eventsTotal,
		p.queueFullTotal,
		p.alertSentTotal,
		p.alertFailedTotal,
		p.analysisErrorsTotal,
		p.containersMonitored,
		p.reportGenerationTime,
		prometheus.NewGoCollector(),
		prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}),
	)

	return p
}

func (p *Prometheus) EventRecorded(eventType, containerName, severity string) {
	p.eventsTotal.WithLabelValues(eventType, containerName, severity).Inc()
}

func (p *Prometheus) QueueFullIncrement() {
	p.queueFullTotal.Inc()
}

func (p *Prometheus) AlertSent(deliveryMethod string) {
	p.alertSentTotal.WithLabelValues(deliveryMethod).Inc()
}

func (p *Prometheus) AlertFailed(deliveryMethod string) {
	p.alertFailedTotal.WithLabelValues(deliveryMethod).Inc()
}

func (p *Prometheus) AnalysisErrorRecorded(source string) {
	p.analysisErrorsTotal.WithLabelValues(source).Inc()
}

func (p *Prometheus) ContainersMonitored(n int) {
	p.containersMonitored.Set(float64(n))
}

func (p *Prometheus) ReportGenerated(durationSeconds float64) {
	p.reportGenerationTime.Observe(durationSeconds)
}

// Handler returns the promhttp handler for this registry's /metrics
// endpoint. Wired by cmd/sentrymon, which owns the HTTP surface.
func (p *Prometheus) Handler() http.Handler {
	return promhttp.HandlerFor(p.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
		ErrorHandling:     promhttp.ContinueOnError,
	})
}

var _ Registry = (*Prometheus)(nil)
