package metrics

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "stoa"

type Metrics struct {
	registry *prometheus.Registry

	Publications    *prometheus.CounterVec
	Passes          prometheus.Counter
	PassDuration    prometheus.Histogram
	PendingQueue    prometheus.Gauge
	SchedulerUp     prometheus.Gauge
	Generations     *prometheus.CounterVec
	MaintenanceRuns *prometheus.CounterVec

	requests        *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
}

// New registers the service metrics together with the Go and process collectors.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		registry: reg,
		Publications: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "publications_total",
			Help:      "Publish attempts by post type and result.",
		}, []string{"post_type", "result"}),
		Passes: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "scheduler_passes_total",
			Help:      "Completed scheduler passes.",
		}),
		PassDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "scheduler_pass_duration_seconds",
			Help:      "Duration of scheduler passes.",
			Buckets:   prometheus.DefBuckets,
		}),
		PendingQueue: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "queue_pending_items",
			Help:      "Pending queue items seen by the last pass.",
		}),
		SchedulerUp: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "scheduler_running",
			Help:      "1 while the scheduler loop is running.",
		}),
		Generations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "generations_total",
			Help:      "Content generations by format and result.",
		}, []string{"format", "result"}),
		MaintenanceRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "maintenance_runs_total",
			Help:      "Maintenance task runs by task and result.",
		}, []string{"task", "result"}),
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests by method, route and status code.",
		}, []string{"method", "route", "code"}),
		requestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency by method and route.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route"}),
	}

	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.Publications,
		m.Passes,
		m.PassDuration,
		m.PendingQueue,
		m.SchedulerUp,
		m.Generations,
		m.MaintenanceRuns,
		m.requests,
		m.requestDuration,
	)
	return m
}

func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

func (m *Metrics) Handler() gin.HandlerFunc {
	return gin.WrapH(promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{}))
}

// Middleware records request counts and latency per matched route.
func (m *Metrics) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		m.requests.WithLabelValues(c.Request.Method, route, strconv.Itoa(c.Writer.Status())).Inc()
		m.requestDuration.WithLabelValues(c.Request.Method, route).Observe(time.Since(start).Seconds())
	}
}

func (m *Metrics) ObservePublication(postType, result string) {
	m.Publications.WithLabelValues(postType, result).Inc()
}

func (m *Metrics) ObservePass(d time.Duration, pending int) {
	m.Passes.Inc()
	m.PassDuration.Observe(d.Seconds())
	m.PendingQueue.Set(float64(pending))
}

func (m *Metrics) SetSchedulerRunning(running bool) {
	if running {
		m.SchedulerUp.Set(1)
		return
	}
	m.SchedulerUp.Set(0)
}

func (m *Metrics) ObserveGeneration(format, result string) {
	m.Generations.WithLabelValues(format, result).Inc()
}

func (m *Metrics) ObserveMaintenance(task, result string) {
	m.MaintenanceRuns.WithLabelValues(task, result).Inc()
}
