package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"intel_server/config"
	"intel_server/core/port/in"
	"intel_server/core/service/ingest"
	"intel_server/internal/bootstrap"
	"intel_server/pkg/logger"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/joho/godotenv"
)

const (
	shutdownTimeout = 30 * time.Second
)

func main() {
	// Load .env file if exists (for local development)
	envErr := godotenv.Load()

	mode := flag.String("mode", "api", "Run mode: api, ingest, all")
	owner := flag.String("owner", "", "Owner id for -mode=ingest")
	label := flag.String("label", "INBOX", "Label scope for -mode=ingest")
	days := flag.Int("days", 7, "Days back for -mode=ingest")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("Failed to load config: %v", err)
	}

	logger.Init(logger.Config{
		Level:   logger.ParseLevel(cfg.LogLevel),
		Service: "intel",
		Console: cfg.IsDevelopment(),
	})
	if envErr != nil {
		logger.Debug("No .env file found, using environment variables")
	}

	switch *mode {
	case "api", "all":
		runAPI(cfg)
	case "ingest":
		runIngest(cfg, *owner, *label, *days)
	default:
		logger.Fatal("Unknown mode: %s", *mode)
	}
}

func runAPI(cfg *config.Config) {
	app, cleanup, err := bootstrap.NewAPI(context.Background(), cfg)
	if err != nil {
		logger.Fatal("Failed to initialize API: %v", err)
	}
	defer cleanup()

	go func() {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
		<-sigChan

		logger.Info("Shutting down API server (timeout: %v)...", shutdownTimeout)
		if err := app.ShutdownWithTimeout(shutdownTimeout); err != nil {
			logger.Error("Error shutting down: %v", err)
		} else {
			logger.Info("API server shut down gracefully")
		}
	}()

	addr := ":" + cfg.Port
	logger.Info("Starting API server on %s", addr)
	if err := app.Listen(addr); err != nil {
		logger.Fatal("Failed to start server: %v", err)
	}
}

// runIngest performs one bulk ingestion and prints the summary as JSON.
// SIGINT stops it between messages with a cancelled summary.
func runIngest(cfg *config.Config, owner, label string, days int) {
	ownerID, err := uuid.Parse(owner)
	if err != nil {
		logger.Fatal("Invalid -owner %q: %v", owner, err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	deps, cleanup, err := bootstrap.NewDependencies(ctx, cfg)
	if err != nil {
		logger.Fatal("Failed to initialize dependencies: %v", err)
	}
	defer cleanup()

	result, err := deps.IngestionService.IngestBulk(ctx, ownerID, &in.BulkIngestRequest{
		LabelScope: label,
		DaysBack:   days,
	})
	if ingest.IsConflict(err) {
		logger.Warn("Another ingestion run holds the lock for owner %s, try again later", ownerID)
		cleanup()
		os.Exit(2)
	}
	if err != nil {
		logger.Error("Ingestion failed: %v", err)
		cleanup()
		os.Exit(1)
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(result); err != nil {
		logger.Error("Failed to write summary: %v", err)
	}
}
