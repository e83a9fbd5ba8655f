package main

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the service collectors. A nil *Metrics is valid and records nothing.
type Metrics struct {
	reg *prometheus.Registry

	requests     *prometheus.CounterVec
	duration     *prometheus.HistogramVec
	listsCreated prometheus.Counter
	listsEvicted prometheus.Counter
	itemsCreated prometheus.Counter
	backups      *prometheus.CounterVec
}

func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	f := promauto.With(reg)
	return &Metrics{
		reg: reg,
		requests: f.NewCounterVec(prometheus.CounterOpts{
			Name: "priomatrix_http_requests_total",
			Help: "HTTP requests by route pattern and status",
		}, []string{"route", "status"}),
		duration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "priomatrix_http_request_duration_seconds",
			Help:    "HTTP request latency by route pattern",
			Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
		}, []string{"route"}),
		listsCreated: f.NewCounter(prometheus.CounterOpts{
			Name: "priomatrix_lists_created_total",
			Help: "Lists created",
		}),
		listsEvicted: f.NewCounter(prometheus.CounterOpts{
			Name: "priomatrix_lists_evicted_total",
			Help: "Lists deleted by the capacity policy",
		}),
		itemsCreated: f.NewCounter(prometheus.CounterOpts{
			Name: "priomatrix_items_created_total",
			Help: "Todo items created",
		}),
		backups: f.NewCounterVec(prometheus.CounterOpts{
			Name: "priomatrix_backup_operations_total",
			Help: "Backup operations by type and status",
		}, []string{"operation", "status"}),
	}
}

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.reg, promhttp.HandlerOpts{Registry: m.reg})
}

func (m *Metrics) observeRequest(route string, status int, d time.Duration) {
	if m == nil {
		return
	}
	if route == "" {
		route = "unmatched"
	}
	m.requests.WithLabelValues(route, strconv.Itoa(status)).Inc()
	m.duration.WithLabelValues(route).Observe(d.Seconds())
}

func (m *Metrics) listCreated() {
	if m != nil {
		m.listsCreated.Inc()
	}
}

func (m *Metrics) listEvicted() {
	if m != nil {
		m.listsEvicted.Inc()
	}
}

func (m *Metrics) itemCreated() {
	if m != nil {
		m.itemsCreated.Inc()
	}
}

func (m *Metrics) backup(op string, err error) {
	if m == nil {
		return
	}
	status := "ok"
	if err != nil {
		status = "error"
	}
	m.backups.WithLabelValues(op, status).Inc()
}
