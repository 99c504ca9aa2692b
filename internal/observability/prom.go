package observability

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "accounthub"

type Prom struct {
	registry prometheus.Gatherer

	RequestsTotal    *prometheus.CounterVec
	RequestsDuration *prometheus.HistogramVec
	InFlight         *prometheus.GaugeVec
	// DB
	DbQueryDuration *prometheus.HistogramVec
	DbErrorsTotal   *prometheus.CounterVec

	// Notifications
	NotificationsTotal   *prometheus.CounterVec
	NotificationDuration *prometheus.HistogramVec

	// Workflows
	WorkflowResults *prometheus.CounterVec
}

// NewProm registers every collector on reg. Passing a fresh registry keeps tests isolated.
func NewProm(reg *prometheus.Registry) *Prom {
	p := &Prom{
		registry: reg,
		RequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "http_requests_total",
				Help:      "Total HTTP requests processed",
			},
			[]string{"method", "route", "status"},
		),
		RequestsDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "http_request_duration_seconds",
				Help:      "HTTP request latency distributions.",
				Buckets:   []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10},
			},
			[]string{"method", "route", "status"},
		),
		InFlight: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "http_in_flight_requests",
				Help:      "Current number of in-flight HTTP requests.",
			},
			[]string{"method", "route"},
		),
		DbQueryDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "db",
				Name:      "query_duration_seconds",
				Help:      "DB operation latency (logical op, not raw SQL)",
				Buckets:   []float64{0.005, 0.01, 0.02, 0.05, 0.1, 0.2, 0.35, 0.5, 1, 2, 5},
			},
			[]string{"op", "status"},
		),
		DbErrorsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "db",
				Name:      "errors_total",
				Help:      "DB errors by logical op and class.",
			},
			[]string{"op", "class"},
		),
		NotificationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "notifications",
				Name:      "sent_total",
				Help:      "Verification email deliveries by provider and result.",
			},
			[]string{"provider", "result"}, // result=ok|error|circuit_open
		),
		NotificationDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "notifications",
				Name:      "duration_seconds",
				Help:      "Verification email delivery latency by provider.",
				Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10},
			},
			[]string{"provider"},
		),
		WorkflowResults: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "accounts",
				Name:      "workflow_results_total",
				Help:      "Account workflow outcomes by workflow and result.",
			},
			[]string{"workflow", "result"},
		),
	}

	reg.MustRegister(
		p.RequestsTotal, p.RequestsDuration, p.InFlight,
		p.DbQueryDuration, p.DbErrorsTotal,
		p.NotificationsTotal, p.NotificationDuration,
		p.WorkflowResults,
	)

	return p
}

func (p *Prom) GinHandleMiddleware() gin.HandlerFunc {
	return func(ctx *gin.Context) {
		start := time.Now()

		// route template is only available after routing; best effort:
		route := ctx.FullPath()

		if route == "" {
			route = "unmatched"
		}

		method := ctx.Request.Method
		p.InFlight.WithLabelValues(method, route).Inc()
		defer p.InFlight.WithLabelValues(method, route).Dec()
		ctx.Next()

		status := strconv.Itoa(ctx.Writer.Status())
		secs := time.Since(start).Seconds()

		p.RequestsTotal.WithLabelValues(method, route, status).Inc()
		p.RequestsDuration.WithLabelValues(method, route, status).Observe(secs)
	}
}

// Handler serves the registry in the Prometheus exposition format.
func (p *Prom) Handler() gin.HandlerFunc {
	return gin.WrapH(promhttp.HandlerFor(p.registry, promhttp.HandlerOpts{}))
}

func (p *Prom) ObserveNotification(provider string, d time.Duration, result string) {
	p.NotificationsTotal.WithLabelValues(provider, result).Inc()
	p.NotificationDuration.WithLabelValues(provider).Observe(d.Seconds())
}

func (p *Prom) ObserveWorkflow(workflow, result string) {
	p.WorkflowResults.WithLabelValues(workflow, result).Inc()
}
