package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"intel_server/pkg/apperr"
)

// embeddingDimensions lists the embedding models the OpenAI client can
// request and the vector size each one returns.
var embeddingDimensions = map[string]int{
	"text-embedding-ada-002": 1536,
}

type Config struct {
	Port        string
	Environment string
	LogLevel    string

	// Database
	DatabaseURL string
	MongoDBURL  string
	MongoDBName string
	RedisURL    string

	// Neo4j
	Neo4jURL      string
	Neo4jUsername string
	Neo4jPassword string

	// JWT
	JWTSecret string

	// OpenAI
	OpenAIAPIKey        string
	LLMModel            string
	LLMMaxTokens        int
	LLMTemperature      float64
	LLMTimeoutSec       int
	EmbeddingModel      string
	EmbeddingDimensions int

	// OAuth - Google
	GoogleClientID     string
	GoogleClientSecret string
	GoogleRedirectURL  string
	TokenEncryptionKey string

	// Ingestion
	IngestMessageDelay time.Duration
	IngestChunkSize    int
	IngestChunkDelay   time.Duration
	IngestMaxMessages  int
	IngestLockTTL      time.Duration

	// Retrieval
	SimilarThreshold   float64
	SearchThreshold    float64
	SearchLimit        int
	QueryEmbedCacheTTL time.Duration

	// Per-user API requests per minute, 0 disables
	APIRateLimit int

	// CORS
	AllowedOrigins []string
}

// Load reads the environment and validates the settings the pipeline cannot
// start without.
func Load() (*Config, error) {
	cfg := &Config{
		Port:        getEnv("PORT", "8080"),
		Environment: getEnv("ENV", "development"),
		LogLevel:    getEnv("LOG_LEVEL", "info"),

		// Database
		DatabaseURL: getEnv("DATABASE_URL", ""),
		MongoDBURL:  getEnv("MONGODB_URL", ""),
		MongoDBName: getEnv("MONGODB_DATABASE", "intel"),
		RedisURL:    getEnv("REDIS_URL", ""),

		// Neo4j
		Neo4jURL:      getEnv("NEO4J_URL", ""),
		Neo4jUsername: getEnv("NEO4J_USERNAME", "neo4j"),
		Neo4jPassword: getEnv("NEO4J_PASSWORD", ""),

		// JWT
		JWTSecret: getEnv("JWT_SECRET", ""),

		// OpenAI
		OpenAIAPIKey:        getEnv("OPENAI_API_KEY", ""),
		LLMModel:            getEnv("LLM_MODEL", "gpt-4o-mini"),
		LLMMaxTokens:        getEnvInt("LLM_MAX_TOKENS", 2048),
		LLMTemperature:      getEnvFloat("LLM_TEMPERATURE", 0.2),
		LLMTimeoutSec:       getEnvInt("LLM_TIMEOUT_SEC", 60),
		EmbeddingModel:      getEnv("EMBEDDING_MODEL", "text-embedding-ada-002"),
		EmbeddingDimensions: getEnvInt("EMBEDDING_DIMENSIONS", 1536),

		// OAuth - Google
		GoogleClientID:     getEnv("GOOGLE_CLIENT_ID", ""),
		GoogleClientSecret: getEnv("GOOGLE_CLIENT_SECRET", ""),
		GoogleRedirectURL:  getEnv("GOOGLE_REDIRECT_URL", ""),
		TokenEncryptionKey: getEnv("TOKEN_ENCRYPTION_KEY", ""),

		// Ingestion
		IngestMessageDelay: getEnvDuration("INGEST_MESSAGE_DELAY_MS", 1000*time.Millisecond, time.Millisecond),
		IngestChunkSize:    getEnvInt("INGEST_CHUNK_SIZE", 5),
		IngestChunkDelay:   getEnvDuration("INGEST_CHUNK_DELAY_MS", 500*time.Millisecond, time.Millisecond),
		IngestMaxMessages:  getEnvInt("INGEST_MAX_MESSAGES", 500),
		IngestLockTTL:      getEnvDuration("INGEST_LOCK_TTL_SEC", 30*time.Minute, time.Second),

		// Retrieval
		SimilarThreshold:   getEnvFloat("SIMILAR_DEFAULT_THRESHOLD", 0.7),
		SearchThreshold:    getEnvFloat("SEARCH_DEFAULT_THRESHOLD", 0.5),
		SearchLimit:        getEnvInt("SEARCH_DEFAULT_LIMIT", 20),
		QueryEmbedCacheTTL: getEnvDuration("QUERY_EMBED_CACHE_TTL_MIN", time.Hour, time.Minute),

		APIRateLimit: getEnvInt("API_RATE_LIMIT_PER_MIN", 60),

		// CORS
		AllowedOrigins: getEnvSlice("ALLOWED_ORIGINS", []string{"http://localhost:3000", "http://localhost:5173"}),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate fails fast on missing provider credentials.
func (c *Config) Validate() error {
	if c.OpenAIAPIKey == "" {
		return apperr.ConfigError("OPENAI_API_KEY is required")
	}
	if c.DatabaseURL == "" {
		return apperr.ConfigError("DATABASE_URL is required")
	}
	dims, ok := embeddingDimensions[c.EmbeddingModel]
	if !ok {
		return apperr.ConfigError("EMBEDDING_MODEL is not supported: " + c.EmbeddingModel)
	}
	if c.EmbeddingDimensions != dims {
		return apperr.ConfigError("EMBEDDING_DIMENSIONS does not match " + c.EmbeddingModel + ", want " + strconv.Itoa(dims))
	}
	if c.IngestChunkSize <= 0 {
		return apperr.ConfigError("INGEST_CHUNK_SIZE must be positive")
	}
	if c.SimilarThreshold < 0 || c.SimilarThreshold > 1 || c.SearchThreshold < 0 || c.SearchThreshold > 1 {
		return apperr.ConfigError("similarity thresholds must be within [0,1]")
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatValue, err := strconv.ParseFloat(value, 64); err == nil {
			return floatValue
		}
	}
	return defaultValue
}

// getEnvDuration reads an integer count of unit.
func getEnvDuration(key string, defaultValue, unit time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if n, err := strconv.Atoi(value); err == nil && n >= 0 {
			return time.Duration(n) * unit
		}
	}
	return defaultValue
}

func getEnvSlice(key string, defaultValue []string) []string {
	if value := os.Getenv(key); value != "" {
		parts := strings.Split(value, ",")
		for i := range parts {
			parts[i] = strings.TrimSpace(parts[i])
		}
		return parts
	}
	return defaultValue
}

// IsDevelopment returns true if running in development mode
func (c *Config) IsDevelopment() bool {
	return c.Environment == "development"
}

// IsProduction returns true if running in production mode
func (c *Config) IsProduction() bool {
	return c.Environment == "production"
}
