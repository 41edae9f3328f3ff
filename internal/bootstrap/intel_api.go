package bootstrap

import (
	"context"
	"strings"
	"time"

	"intel_server/adapter/in/http"
	"intel_server/config"
	"intel_server/infra/database"
	"intel_server/infra/middleware"
	"intel_server/pkg/logger"
	"intel_server/pkg/metrics"
	"intel_server/pkg/ratelimit"

	"github.com/goccy/go-json"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/compress"
	"github.com/gofiber/fiber/v2/middleware/cors"
)

// NewAPI wires dependencies and returns the fiber app with all routes.
func NewAPI(ctx context.Context, cfg *config.Config) (*fiber.App, func(), error) {
	deps, cleanup, err := NewDependencies(ctx, cfg)
	if err != nil {
		logger.WithError(err).Error("Failed to initialize dependencies")
		return nil, nil, err
	}

	app := fiber.New(fiber.Config{
		ErrorHandler:          middleware.ErrorHandler(),
		DisableStartupMessage: cfg.IsProduction(),
		JSONEncoder:           json.Marshal,
		JSONDecoder:           json.Unmarshal,
		BodyLimit:             2 * 1024 * 1024,
		ServerHeader:          "",
	})

	app.Use(middleware.Recover())
	app.Use(middleware.RequestID())
	app.Use(middleware.RequestLogger())
	app.Use(compress.New(compress.Config{Level: compress.LevelBestSpeed}))

	allowOrigins := strings.Join(cfg.AllowedOrigins, ",")
	allowCredentials := allowOrigins != "" && allowOrigins != "*"
	if !allowCredentials && cfg.IsProduction() {
		allowOrigins = ""
	}
	app.Use(cors.New(cors.Config{
		AllowOrigins:     allowOrigins,
		AllowMethods:     "GET,POST,OPTIONS",
		AllowHeaders:     "Origin,Content-Type,Accept,Authorization,X-Request-ID",
		ExposeHeaders:    "X-Request-ID,X-RateLimit-Limit,Retry-After",
		AllowCredentials: allowCredentials,
	}))

	http.NewHealthHandler(healthChecks(deps), deps.Registry).
		AddPool("analysis", func() metrics.DBPoolStats { return metrics.GetDBPoolStats(deps.SQLDB.DB) }).
		AddPool("vectors", func() metrics.DBPoolStats { return database.GetPoolStats(deps.DB) }).
		Register(app)

	authCfg := middleware.AuthConfig{Secret: cfg.JWTSecret}
	if deps.Redis != nil {
		authCfg.Revoked = deps.Redis
	}
	api := app.Group("/api/v1", middleware.JWTAuth(authCfg))
	if deps.Redis != nil && cfg.APIRateLimit > 0 {
		limiter := ratelimit.NewSlidingWindowLimiter(deps.Redis, "intel", cfg.APIRateLimit, time.Minute)
		api.Use(middleware.RateLimit(limiter, "api"))
	}
	http.NewIntelHandler(deps.IngestionService, deps.RetrievalService).Register(api)

	return app, cleanup, nil
}

func healthChecks(deps *Dependencies) map[string]http.Pinger {
	checks := map[string]http.Pinger{
		"postgres": deps.DB.Ping,
	}
	if deps.Redis != nil {
		checks["redis"] = func(ctx context.Context) error { return deps.Redis.Ping(ctx).Err() }
	}
	if deps.MongoDB != nil {
		checks["mongodb"] = func(ctx context.Context) error { return deps.MongoDB.Ping(ctx, nil) }
	}
	if deps.Neo4j != nil {
		checks["neo4j"] = deps.Neo4j.VerifyConnectivity
	}
	return checks
}
