package server

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/common/expfmt"

	"github.com/bitranox/check-zpools-sub001/pkg/alerts"
	"github.com/bitranox/check-zpools-sub001/pkg/monitor"
)

// Metrics holds the instruments exposed at /metrics. A private registry
// keeps the default Go collectors out of the scrape.
type Metrics struct {
	registry *prometheus.Registry

	cycles        *prometheus.CounterVec
	cycleDuration prometheus.Histogram
	lastCycle     prometheus.Gauge
	overall       prometheus.Gauge
	activeAlerts  prometheus.Gauge
	notifications *prometheus.CounterVec

	poolPercent  *prometheus.GaugeVec
	poolHealthy  *prometheus.GaugeVec
	poolErrors   *prometheus.GaugeVec
	poolScrubAge *prometheus.GaugeVec
}

func NewMetrics(version string) *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		cycles: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "check_zpools_cycles_total",
				Help: "Total number of check cycles by result.",
			},
			[]string{"result"},
		),
		cycleDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "check_zpools_cycle_duration_seconds",
			Help:    "Duration of check cycles in seconds.",
			Buckets: prometheus.DefBuckets,
		}),
		lastCycle: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "check_zpools_last_cycle_timestamp_seconds",
			Help: "Unix timestamp of the last completed cycle.",
		}),
		overall: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "check_zpools_overall_severity",
			Help: "Overall severity of the last cycle (0 ok, 1 info, 2 warning, 3 critical).",
		}),
		activeAlerts: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "check_zpools_active_alerts",
			Help: "Number of currently active alerts.",
		}),
		notifications: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "check_zpools_notifications_total",
				Help: "Total number of alert decisions by action and delivery outcome.",
			},
			[]string{"action", "outcome"},
		),
		poolPercent: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "check_zpools_pool_percent_used",
				Help: "Capacity used per pool in percent.",
			},
			[]string{"pool"},
		),
		poolHealthy: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "check_zpools_pool_healthy",
				Help: "Whether the pool state is ONLINE (1) or not (0).",
			},
			[]string{"pool"},
		),
		poolErrors: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "check_zpools_pool_device_errors",
				Help: "Device error counters per pool as reported by the last cycle.",
			},
			[]string{"pool", "type"},
		),
		poolScrubAge: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "check_zpools_pool_scrub_age_days",
				Help: "Days since the last completed scrub per pool.",
			},
			[]string{"pool"},
		),
	}

	m.registry.MustRegister(
		m.cycles, m.cycleDuration, m.lastCycle, m.overall, m.activeAlerts,
		m.notifications, m.poolPercent, m.poolHealthy, m.poolErrors, m.poolScrubAge,
	)

	buildInfo := prometheus.NewGauge(prometheus.GaugeOpts{
		Name:        "check_zpools_build_info",
		Help:        "Build info.",
		ConstLabels: prometheus.Labels{"version": version},
	})
	m.registry.MustRegister(buildInfo)
	buildInfo.Set(1)

	return m
}

// ObserveCycle updates the cycle counters and, on success, the per-pool
// gauges. Pool gauges are reset first so removed pools disappear from the
// scrape instead of going stale.
func (m *Metrics) ObserveCycle(res monitor.CheckResult, dur time.Duration, err error) {
	m.cycleDuration.Observe(dur.Seconds())
	if err != nil {
		m.cycles.WithLabelValues("error").Inc()
		return
	}
	m.cycles.WithLabelValues("ok").Inc()
	m.lastCycle.Set(float64(res.Timestamp.Unix()))
	m.overall.Set(severityValue(res.Overall))

	m.poolPercent.Reset()
	m.poolHealthy.Reset()
	m.poolErrors.Reset()
	m.poolScrubAge.Reset()
	for _, p := range res.Pools {
		m.poolPercent.WithLabelValues(p.Name).Set(p.PercentUsed)
		healthy := 0.0
		if p.Health.IsHealthy() {
			healthy = 1
		}
		m.poolHealthy.WithLabelValues(p.Name).Set(healthy)
		m.poolErrors.WithLabelValues(p.Name, "read").Set(float64(p.ReadErrors))
		m.poolErrors.WithLabelValues(p.Name, "write").Set(float64(p.WriteErrors))
		m.poolErrors.WithLabelValues(p.Name, "checksum").Set(float64(p.ChecksumErrors))
		if p.LastScrub != nil {
			age := res.Timestamp.Sub(*p.LastScrub).Hours() / 24
			m.poolScrubAge.WithLabelValues(p.Name).Set(age)
		}
	}
}

// ObserveDecisions counts the engine decisions of one cycle.
func (m *Metrics) ObserveDecisions(decisions []alerts.Decision) {
	for _, d := range decisions {
		outcome := "sent"
		switch {
		case d.NotifyError != "":
			outcome = "failed"
		case !d.Notified:
			outcome = "skipped"
		}
		m.notifications.WithLabelValues(string(d.Action), outcome).Inc()
	}
}

func (m *Metrics) SetActiveAlerts(n int) {
	m.activeAlerts.Set(float64(n))
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mfs, err := m.registry.Gather()
		if err != nil {
			http.Error(w, "failed to gather metrics", http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "text/plain; version=0.0.4")
		enc := expfmt.NewEncoder(w, expfmt.FmtText)
		for _, mf := range mfs {
			_ = enc.Encode(mf)
		}
	})
}

func severityValue(s monitor.Severity) float64 {
	switch s {
	case monitor.SeverityCritical:
		return 3
	case monitor.SeverityWarning:
		return 2
	case monitor.SeverityInfo:
		return 1
	default:
		return 0
	}
}
