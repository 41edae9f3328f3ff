package bootstrap

import (
	"context"
	"fmt"

	"intel_server/adapter/out/cache"
	"intel_server/adapter/out/graph"
	"intel_server/adapter/out/mongodb"
	"intel_server/adapter/out/persistence"
	"intel_server/adapter/out/provider"
	"intel_server/config"
	"intel_server/core/agent/llm"
	"intel_server/core/agent/rag"
	"intel_server/core/service/analysis"
	"intel_server/core/service/ingest"
	"intel_server/core/service/search"
	"intel_server/infra/database"
	rediscache "intel_server/pkg/cache"
	"intel_server/pkg/crypto"
	"intel_server/pkg/logger"
	"intel_server/pkg/metrics"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jmoiron/sqlx"
	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"go.mongodb.org/mongo-driver/mongo"
)

// Dependencies holds every wired component. Redis, MongoDB and Neo4j are
// optional; their fields stay nil when the URL is not configured.
type Dependencies struct {
	Config   *config.Config
	DB       *pgxpool.Pool
	SQLDB    *sqlx.DB
	Redis    *redis.Client
	MongoDB  *mongo.Client
	Neo4j    neo4j.DriverWithContext
	Registry *prometheus.Registry

	LLMClient *llm.Client
	Embedder  *rag.Embedder

	IngestionService *ingest.Service
	RetrievalService *search.RetrievalService
}

func NewDependencies(ctx context.Context, cfg *config.Config) (*Dependencies, func(), error) {
	deps := &Dependencies{Config: cfg, Registry: prometheus.NewRegistry()}
	var cleanups []func()
	cleanup := func() {
		for i := len(cleanups) - 1; i >= 0; i-- {
			cleanups[i]()
		}
	}
	fail := func(err error) (*Dependencies, func(), error) {
		cleanup()
		return nil, nil, err
	}

	deps.Registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	// PostgreSQL: pgxpool for vectors, sqlx for analysis rows and tokens.
	pgCfg := database.DefaultPostgresConfig()
	db, err := database.NewPostgres(ctx, cfg.DatabaseURL, pgCfg)
	if err != nil {
		return fail(err)
	}
	deps.DB = db
	cleanups = append(cleanups, db.Close)

	if err := database.EnsureSchema(ctx, db, cfg.EmbeddingDimensions); err != nil {
		return fail(err)
	}

	sqlDB, err := database.NewSQLX(cfg.DatabaseURL, pgCfg)
	if err != nil {
		return fail(err)
	}
	deps.SQLDB = sqlDB
	cleanups = append(cleanups, func() { sqlDB.Close() })
	metrics.RegisterDBPool(deps.Registry, "analysis", sqlDB.DB)

	// Optional stores
	if cfg.RedisURL != "" {
		client, err := database.NewRedis(ctx, cfg.RedisURL)
		if err != nil {
			logger.WithError(err).Warn("Redis unavailable, ingestion lock and query cache disabled")
		} else {
			deps.Redis = client
			cleanups = append(cleanups, func() { client.Close() })
		}
	}
	if cfg.MongoDBURL != "" {
		client, err := mongodb.NewClient(ctx, cfg.MongoDBURL)
		if err != nil {
			logger.WithError(err).Warn("MongoDB unavailable, run reports disabled")
		} else {
			deps.MongoDB = client
			cleanups = append(cleanups, func() { client.Disconnect(context.Background()) })
		}
	}
	if cfg.Neo4jURL != "" {
		driver, err := graph.NewDriver(ctx, cfg.Neo4jURL, cfg.Neo4jUsername, cfg.Neo4jPassword)
		if err != nil {
			logger.WithError(err).Warn("Neo4j unavailable, knowledge graph disabled")
		} else {
			deps.Neo4j = driver
			cleanups = append(cleanups, func() { driver.Close(context.Background()) })
		}
	}

	// Model provider
	llmClient, err := llm.NewClientWithConfig(llm.ClientConfig{
		APIKey:         cfg.OpenAIAPIKey,
		Model:          cfg.LLMModel,
		EmbeddingModel: cfg.EmbeddingModel,
		Dimensions:     cfg.EmbeddingDimensions,
		MaxTokens:      cfg.LLMMaxTokens,
		Temperature:    cfg.LLMTemperature,
		TimeoutSec:     cfg.LLMTimeoutSec,
	})
	if err != nil {
		return fail(err)
	}
	deps.LLMClient = llmClient

	var redisCache *rediscache.RedisCache
	if deps.Redis != nil {
		redisCache = rediscache.NewRedisCache(deps.Redis, "intel")
		deps.Embedder = rag.NewEmbedder(deps.LLMClient, cache.NewQueryEmbeddingCache(redisCache, cfg.QueryEmbedCacheTTL))
	} else {
		deps.Embedder = rag.NewEmbedder(deps.LLMClient, nil)
	}

	// Store and mailbox
	store := persistence.NewIntelStore(
		persistence.NewAnalysisAdapter(sqlDB),
		persistence.NewEmbeddingAdapter(db),
	)

	var encryptor *crypto.Encryptor
	if cfg.TokenEncryptionKey != "" {
		if encryptor, err = crypto.NewEncryptor(cfg.TokenEncryptionKey); err != nil {
			return fail(fmt.Errorf("token encryption: %w", err))
		}
	}
	mailbox := provider.NewGmailMailbox(&provider.GmailConfig{
		ClientID:     cfg.GoogleClientID,
		ClientSecret: cfg.GoogleClientSecret,
		RedirectURL:  cfg.GoogleRedirectURL,
	}, persistence.NewTokenAdapter(sqlDB, encryptor))

	// Services
	deps.RetrievalService = search.NewRetrievalService(store, store, deps.Embedder, search.RetrievalConfig{
		RelatedThreshold: cfg.SimilarThreshold,
		SearchThreshold:  cfg.SearchThreshold,
		DefaultLimit:     cfg.SearchLimit,
	})

	ingestion := ingest.NewService(mailbox, store, analysis.NewAugmenter(deps.LLMClient), deps.Embedder, ingest.Config{
		MessageDelay: cfg.IngestMessageDelay,
		ChunkSize:    cfg.IngestChunkSize,
		ChunkDelay:   cfg.IngestChunkDelay,
		MaxMessages:  cfg.IngestMaxMessages,
		LockTTL:      cfg.IngestLockTTL,
	})
	ingestion.SetMetrics(metrics.NewIngestMetrics(deps.Registry))
	if redisCache != nil {
		ingestion.SetLock(cache.NewIngestionLock(redisCache))
	}
	if deps.MongoDB != nil {
		runs := mongodb.NewRunAdapter(deps.MongoDB.Database(cfg.MongoDBName))
		if err := runs.EnsureIndexes(ctx); err != nil {
			logger.WithError(err).Warn("Failed to create ingestion run indexes")
		}
		ingestion.SetRunRepository(runs)
	}
	if deps.Neo4j != nil {
		kg := graph.NewKnowledgeGraphAdapter(deps.Neo4j, "")
		if err := kg.EnsureIndexes(ctx); err != nil {
			logger.WithError(err).Warn("Failed to create knowledge graph constraints")
		}
		ingestion.SetKnowledgeGraph(kg)
	}
	deps.IngestionService = ingestion

	return deps, cleanup, nil
}
