package middleware

import (
	"sync"

	"github.com/ansrivas/fiberprometheus/v2"
	"github.com/gofiber/fiber/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// RedisErrors counts failed Redis commands by command name.
	RedisErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "bloodbooth_redis_errors_total",
		Help: "Total number of Redis command errors",
	}, []string{"command"})

	// ActiveWebSockets is the number of open websocket event feeds.
	ActiveWebSockets = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "bloodbooth_active_websockets",
		Help: "Number of active WebSocket connections",
	})

	// RateLimitedRequests counts requests rejected by the per-route limiter.
	RateLimitedRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "bloodbooth_rate_limited_requests_total",
		Help: "Total number of requests rejected by route rate limits",
	}, []string{"resource"})
)

var (
	promOnce     sync.Once
	promInstance *fiberprometheus.FiberPrometheus
)

// InitMetrics creates the HTTP metrics middleware once per process.
// The prometheus default registry rejects duplicate collectors, so repeated calls share one instance.
func InitMetrics(serviceName string) *fiberprometheus.FiberPrometheus {
	promOnce.Do(func() {
		promInstance = fiberprometheus.New(serviceName)
	})
	return promInstance
}

// MetricsMiddleware records request count and latency, skipping the scrape endpoint itself.
func MetricsMiddleware(prom *fiberprometheus.FiberPrometheus) fiber.Handler {
	return func(c *fiber.Ctx) error {
		if c.Path() == "/metrics" {
			return c.Next()
		}
		return prom.Middleware(c)
	}
}
