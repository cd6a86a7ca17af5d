// Package metrics exposes quota levels and fetch outcomes as Prometheus series.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/j-veylop/limitwatch/internal/models"
)

const namespace = "limitwatch"

// Fetch outcomes used as the result label.
const (
	ResultOK           = "ok"
	ResultError        = "error"
	ResultUnauthorized = "unauthorized"
)

// Metrics owns a private registry so several instances can coexist in tests.
type Metrics struct {
	registry *prometheus.Registry

	remaining     *prometheus.GaugeVec
	used          *prometheus.GaugeVec
	quotaErrors   *prometheus.GaugeVec
	fetchTotal    *prometheus.CounterVec
	fetchDuration *prometheus.HistogramVec
	alertsTotal   *prometheus.CounterVec
	lastRefresh   prometheus.Gauge
	accounts      prometheus.Gauge

	httpRequestDuration *prometheus.HistogramVec
	httpRequestsTotal   *prometheus.CounterVec
}

// New creates and registers every collector.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		remaining: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "quota_remaining_percent",
				Help:      "Remaining quota percentage per account and quota",
			},
			[]string{"account", "provider", "quota"},
		),
		used: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "quota_used",
				Help:      "Absolute usage reported by the provider",
			},
			[]string{"account", "provider", "quota"},
		),
		quotaErrors: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "quota_error_records",
				Help:      "Number of error records in the latest fetch",
			},
			[]string{"account", "provider"},
		),
		fetchTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "fetch_total",
				Help:      "Total number of account fetches by outcome",
			},
			[]string{"provider", "result"},
		),
		fetchDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "fetch_duration_seconds",
				Help:      "Time spent fetching one account",
				Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10},
			},
			[]string{"provider"},
		),
		alertsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "alerts_total",
				Help:      "Desktop alerts raised by kind",
			},
			[]string{"kind"},
		),
		lastRefresh: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "last_refresh_timestamp_seconds",
			Help:      "Unix time of the last completed refresh",
		}),
		accounts: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "accounts",
			Help:      "Number of accounts in the last refresh",
		}),
		httpRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "http_request_duration_seconds",
				Help:      "HTTP request duration in seconds",
				Buckets:   []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
			},
			[]string{"method", "path", "status"},
		),
		httpRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "http_requests_total",
				Help:      "Total number of HTTP requests",
			},
			[]string{"method", "path", "status"},
		),
	}

	m.registry.MustRegister(
		m.remaining,
		m.used,
		m.quotaErrors,
		m.fetchTotal,
		m.fetchDuration,
		m.alertsTotal,
		m.lastRefresh,
		m.accounts,
		m.httpRequestDuration,
		m.httpRequestsTotal,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// ObserveFetch records the outcome of one account fetch.
func (m *Metrics) ObserveFetch(provider models.ProviderType, result string, elapsed time.Duration) {
	m.fetchTotal.WithLabelValues(string(provider), result).Inc()
	m.fetchDuration.WithLabelValues(string(provider)).Observe(elapsed.Seconds())
}

// SetQuotas replaces the gauges of one account with the given records.
// Error records only count toward quota_error_records.
func (m *Metrics) SetQuotas(account string, provider models.ProviderType, records []models.QuotaRecord) {
	labels := prometheus.Labels{"account": account, "provider": string(provider)}
	m.remaining.DeletePartialMatch(labels)
	m.used.DeletePartialMatch(labels)

	errs := 0
	for _, q := range records {
		if q.IsError {
			errs++
			continue
		}
		if q.RemainingPct != nil {
			m.remaining.WithLabelValues(account, string(provider), q.Name).Set(*q.RemainingPct)
		}
		if q.Used != nil {
			m.used.WithLabelValues(account, string(provider), q.Name).Set(*q.Used)
		}
	}
	m.quotaErrors.WithLabelValues(account, string(provider)).Set(float64(errs))
}

// ObserveAlert counts a raised alert.
func (m *Metrics) ObserveAlert(kind string) {
	m.alertsTotal.WithLabelValues(kind).Inc()
}

// ObserveRefresh records a completed refresh over n accounts.
func (m *Metrics) ObserveRefresh(n int, at time.Time) {
	m.accounts.Set(float64(n))
	m.lastRefresh.Set(float64(at.Unix()))
}
