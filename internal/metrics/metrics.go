package metrics

import (
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Registry holds the application collectors.
	Registry = prometheus.NewRegistry()

	coreMutations = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "olive",
			Subsystem: "core",
			Name:      "mutations_total",
			Help:      "Box, session and safe mutations by outcome.",
		},
		[]string{"operation", "result"},
	)

	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "olive",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests handled.",
		},
		[]string{"method", "status"},
	)

	httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "olive",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Duration of HTTP requests.",
			Buckets:   prometheus.ExponentialBuckets(0.005, 2, 10),
		},
		[]string{"method"},
	)
)

func init() {
	Registry.MustRegister(coreMutations, httpRequests, httpDuration)
}

// RecordMutation counts one core operation; err == nil counts as success.
func RecordMutation(operation string, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	coreMutations.WithLabelValues(operation, result).Inc()
}

// Middleware records request counts and latencies.
func Middleware() fiber.Handler {
	return func(c *fiber.Ctx) error {
		start := time.Now()
		err := c.Next()
		status := c.Response().StatusCode()
		if fe, ok := err.(*fiber.Error); ok {
			status = fe.Code
		}
		httpRequests.WithLabelValues(c.Method(), strconv.Itoa(status)).Inc()
		httpDuration.WithLabelValues(c.Method()).Observe(time.Since(start).Seconds())
		return err
	}
}

// Handler exposes the registry in the Prometheus text format.
func Handler() fiber.Handler {
	return adaptor.HTTPHandler(promhttp.HandlerFor(Registry, promhttp.HandlerOpts{}))
}
