package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics is the process-wide instrumentation registry.
type Metrics struct {
	registry *prometheus.Registry

	EventsTotal      prometheus.Counter
	SuppressedTotal  *prometheus.CounterVec
	ViolationsTotal  *prometheus.CounterVec
	RestoredTotal    *prometheus.CounterVec
	SkippedTotal     prometheus.Counter
	ActiveRepairs    prometheus.Gauge
	ActiveQuarantine prometheus.Gauge
}

func New() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		registry: reg,
		EventsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "guildguard_events_total",
			Help: "Administrative action events evaluated.",
		}),
		SuppressedTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "guildguard_suppressed_total",
			Help: "Events short-circuited before quota evaluation, by reason.",
		}, []string{"reason"}),
		ViolationsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "guildguard_violations_total",
			Help: "Detected violations, by type.",
		}, []string{"type"}),
		RestoredTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "guildguard_restored_total",
			Help: "Objects restored, by source.",
		}, []string{"source"}),
		SkippedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "guildguard_skipped_total",
			Help: "Restore candidates skipped.",
		}),
		ActiveRepairs: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "guildguard_active_repairs",
			Help: "Guilds currently under repair.",
		}),
		ActiveQuarantine: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "guildguard_active_quarantines",
			Help: "Guilds currently quarantined.",
		}),
	}

	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.EventsTotal, m.SuppressedTotal, m.ViolationsTotal,
		m.RestoredTotal, m.SkippedTotal, m.ActiveRepairs, m.ActiveQuarantine,
	)
	return m
}

// Handler serves the registry in prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
