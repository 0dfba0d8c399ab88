// Package metrics holds the Prometheus collectors of the taskboard service.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics is safe to use through a nil pointer; every method is then a no-op.
type Metrics struct {
	gatherer prometheus.Gatherer

	gestures        *prometheus.CounterVec
	moves           *prometheus.CounterVec
	persistDuration prometheus.Histogram
	requests        *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
}

// New registers the collectors with reg. Passing a *prometheus.Registry also
// makes it the source for Handler.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	m := &Metrics{
		gestures: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "taskboard",
			Name:      "drag_gestures_total",
			Help:      "Drag gestures by how they ended.",
		}, []string{"outcome"}),
		moves: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "taskboard",
			Name:      "moves_settled_total",
			Help:      "Committed moves by persistence outcome.",
		}, []string{"outcome"}),
		persistDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: "taskboard",
			Name:      "move_persist_duration_seconds",
			Help:      "Time spent writing a move to the store.",
			Buckets:   prometheus.DefBuckets,
		}),
		requests: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "taskboard",
			Name:      "http_requests_total",
			Help:      "HTTP requests by route and status.",
		}, []string{"method", "route", "status"}),
		requestDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "taskboard",
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency by route.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route"}),
	}
	if g, ok := reg.(prometheus.Gatherer); ok {
		m.gatherer = g
	}
	return m
}

// GestureEnded counts a drag gesture: committed, cancelled, noop or rejected.
func (m *Metrics) GestureEnded(outcome string) {
	if m == nil {
		return
	}
	m.gestures.WithLabelValues(outcome).Inc()
}

// MoveSettled counts a move's persistence outcome.
func (m *Metrics) MoveSettled(outcome string) {
	if m == nil {
		return
	}
	m.moves.WithLabelValues(outcome).Inc()
}

func (m *Metrics) ObservePersist(d time.Duration) {
	if m == nil {
		return
	}
	m.persistDuration.Observe(d.Seconds())
}

// Middleware records request counts and latency keyed by the matched route.
func (m *Metrics) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if m == nil {
			c.Next()
			return
		}
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

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	if m == nil || m.gatherer == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}
