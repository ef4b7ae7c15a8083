package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Server captures HTTP server level configuration.
type Server struct {
	Addr          string
	JWTSigningKey string
}

// Kafka captures broker addresses and the topics the pipeline touches.
type Kafka struct {
	Brokers       []string
	ConsumerGroup string
	// EnsureTopics creates missing topics on startup via the admin client.
	EnsureTopics bool
}

// Redis captures connection settings for the identifier index cache and the
// event dedupe keys.
type Redis struct {
	URL          string
	PoolSize     int
	MinIdleConns int
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	// DedupeTTL bounds how long a processed event_id is remembered.
	DedupeTTL time.Duration
}

// Postgres captures the profile store connection.
type Postgres struct {
	DSN          string
	QueryTimeout time.Duration
}

// Resolver exposes the tunable identity-resolution knobs. Thresholds are
// policy, not invariants, so they live in configuration.
type Resolver struct {
	MergeThreshold  float64
	ReviewThreshold float64
	NameWeight      float64
	LocationWeight  float64
	TemporalWeight  float64
	MaxRetries      int
	// StoreTimeout bounds every profile store read and write so a hung
	// backend fails the event into redelivery instead of stalling the
	// partition.
	StoreTimeout time.Duration
}

// Config aggregates all runtime configuration.
type Config struct {
	Server   Server
	Kafka    Kafka
	Redis    Redis
	Postgres Postgres
	Resolver Resolver
}

// FromEnv builds the full config from environment variables so main stays lean.
func FromEnv() Config {
	return Config{
		Server: Server{
			Addr:          envStr("UNIFY_ADDR", ":8080"),
			JWTSigningKey: envStr("UNIFY_JWT_SIGNING_KEY", "dev-secret-key-change-in-production"),
		},
		Kafka: Kafka{
			Brokers:       strings.Split(envStr("UNIFY_KAFKA_BROKERS", "localhost:9092"), ","),
			ConsumerGroup: envStr("UNIFY_KAFKA_GROUP", "unify-resolver"),
			EnsureTopics:  envStr("UNIFY_KAFKA_ENSURE_TOPICS", "true") == "true",
		},
		Redis: Redis{
			URL:          os.Getenv("UNIFY_REDIS_URL"),
			PoolSize:     envInt("UNIFY_REDIS_POOL_SIZE", 10),
			MinIdleConns: envInt("UNIFY_REDIS_MIN_IDLE", 2),
			DialTimeout:  envDuration("UNIFY_REDIS_DIAL_TIMEOUT", 5*time.Second),
			ReadTimeout:  envDuration("UNIFY_REDIS_READ_TIMEOUT", 500*time.Millisecond),
			WriteTimeout: envDuration("UNIFY_REDIS_WRITE_TIMEOUT", 500*time.Millisecond),
			DedupeTTL:    envDuration("UNIFY_DEDUPE_TTL", 24*time.Hour),
		},
		Postgres: Postgres{
			DSN:          os.Getenv("UNIFY_POSTGRES_DSN"),
			QueryTimeout: envDuration("UNIFY_POSTGRES_TIMEOUT", 2*time.Second),
		},
		Resolver: Resolver{
			MergeThreshold:  envFloat("UNIFY_MERGE_THRESHOLD", 0.85),
			ReviewThreshold: envFloat("UNIFY_REVIEW_THRESHOLD", 0.70),
			NameWeight:      envFloat("UNIFY_WEIGHT_NAME", 0.5),
			LocationWeight:  envFloat("UNIFY_WEIGHT_LOCATION", 0.3),
			TemporalWeight:  envFloat("UNIFY_WEIGHT_TEMPORAL", 0.2),
			MaxRetries:      envInt("UNIFY_RESOLVE_MAX_RETRIES", 3),
			StoreTimeout:    envDuration("UNIFY_STORE_TIMEOUT", 2*time.Second),
		},
	}
}

func envStr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func envFloat(key string, fallback float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return fallback
}

func envDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}
