package http

import (
	"context"
	"time"

	"intel_server/pkg/metrics"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Pinger is any dependency that can report its reachability.
type Pinger func(ctx context.Context) error

// PoolStats samples a connection pool.
type PoolStats func() metrics.DBPoolStats

type HealthHandler struct {
	checks   map[string]Pinger
	pools    map[string]PoolStats
	gatherer prometheus.Gatherer
}

// NewHealthHandler takes named readiness checks. gatherer may be nil to
// leave /metrics unmounted.
func NewHealthHandler(checks map[string]Pinger, gatherer prometheus.Gatherer) *HealthHandler {
	if checks == nil {
		checks = map[string]Pinger{}
	}
	return &HealthHandler{checks: checks, pools: map[string]PoolStats{}, gatherer: gatherer}
}

// AddPool reports the named pool on /ready. An exhausted pool makes the
// service not ready; a degraded one is only reported.
func (h *HealthHandler) AddPool(name string, stats PoolStats) *HealthHandler {
	h.pools[name] = stats
	return h
}

func (h *HealthHandler) Register(app *fiber.App) {
	app.Get("/health", h.Health)
	app.Get("/ready", h.Ready)
	if h.gatherer != nil {
		app.Get("/metrics", adaptor.HTTPHandler(promhttp.HandlerFor(h.gatherer, promhttp.HandlerOpts{})))
	}
}

func (h *HealthHandler) Health(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{
		"status":    "ok",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

func (h *HealthHandler) Ready(c *fiber.Ctx) error {
	ctx, cancel := context.WithTimeout(c.UserContext(), 5*time.Second)
	defer cancel()

	checks := make(map[string]string, len(h.checks))
	allHealthy := true
	for name, ping := range h.checks {
		if err := ping(ctx); err != nil {
			checks[name] = "unhealthy: " + err.Error()
			allHealthy = false
		} else {
			checks[name] = "healthy"
		}
	}

	pools := make(map[string]metrics.PoolHealth, len(h.pools))
	for name, stats := range h.pools {
		health := metrics.AssessDBPoolHealth(stats())
		pools[name] = health
		if health.Status == metrics.PoolUnhealthy {
			allHealthy = false
		}
	}

	status := "ready"
	statusCode := fiber.StatusOK
	if !allHealthy {
		status = "not ready"
		statusCode = fiber.StatusServiceUnavailable
	}

	return c.Status(statusCode).JSON(fiber.Map{
		"status":    status,
		"checks":    checks,
		"pools":     pools,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}
