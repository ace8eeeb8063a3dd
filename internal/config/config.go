package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config aggregates runtime configuration for the service.
type Config struct {
	App        AppConfig
	Postgres   PostgresConfig
	Redis      RedisConfig
	Logger     LoggerConfig
	Auth       AuthConfig
	Session    SessionConfig
	Kafka      KafkaConfig
	Management ManagementConfig
	WhatsApp   WhatsAppConfig
	Tenant     TenantConfig
	Dialogue   DialogueConfig
	Worker     WorkerConfig
}

// AppConfig controls server level behavior.
type AppConfig struct {
	Name                  string
	Env                   string
	Host                  string
	Port                  string
	Version               string
	RequestTimeoutSeconds int
}

// PostgresConfig holds DB connection values.
type PostgresConfig struct {
	DSN                string
	ApplicationName    string
	MaxConns           int32
	MinConns           int32
	RunMigrations      bool
	MigrationsDir      string
	ConnMaxIdleSec     int32
	ConnMaxLifeSec     int32
	StatementTimeoutMs int
}

// RedisConfig holds Redis connection values. More than one address selects
// cluster mode.
type RedisConfig struct {
	Addrs    []string
	Password string
	DB       int
	PoolSize int
}

// LoggerConfig configures logging behavior.
type LoggerConfig struct {
	Level string
}

// AuthConfig defines service token parameters.
type AuthConfig struct {
	JWTSecret             string
	Issuer                string
	ServiceName           string
	AccessTokenTTLMinutes int
}

// SessionConfig selects and tunes the dialogue snapshot store.
type SessionConfig struct {
	Backend         string
	RetentionHours  int
	LockTTLSeconds  int
	LockWaitSeconds int
	DynamoTable     string
	DynamoRegion    string
	DynamoEndpoint  string
}

// KafkaConfig holds broker and topic names.
type KafkaConfig struct {
	Enabled       bool
	Brokers       []string
	GroupID       string
	InboundTopic  string
	OutboundTopic string
	FreeTextTopic string
	EventsTopic   string
}

// ManagementConfig points at the tenant management API.
type ManagementConfig struct {
	BaseURL        string
	TimeoutSeconds int
}

// WhatsAppConfig configures the channel API and webhook ingress.
type WhatsAppConfig struct {
	GraphBaseURL   string
	VerifyToken    string
	AppSecret      string
	TimeoutSeconds int
	MediaBaseURL   string
}

// TenantConfig tunes the tenant metadata cache.
type TenantConfig struct {
	MetadataTTLHours int
}

// DialogueConfig tunes the dialogue engine.
type DialogueConfig struct {
	SettleTimeoutSeconds int
	PageSize             int
}

// WorkerConfig bounds inbound/outbound concurrency.
type WorkerConfig struct {
	MaxConcurrent      int64
	LaneIdleSeconds    int
	DispatchTimeoutSec int
}

// Load reads configuration from environment variables, applying defaults where possible.
func Load() (*Config, error) {
	_ = godotenv.Load()

	redisDB, err := strconv.Atoi(getEnv("REDIS_DB", "0"))
	if err != nil {
		return nil, fmt.Errorf("invalid REDIS_DB: %w", err)
	}

	maxConns := int32(getEnvAsInt("POSTGRES_MAX_CONNS", 10))
	minConns := int32(getEnvAsInt("POSTGRES_MIN_CONNS", 2))
	runMigrations := getEnvAsBool("POSTGRES_RUN_MIGRATIONS", true)
	connMaxIdle := int32(getEnvAsInt("POSTGRES_CONN_MAX_IDLE_SECONDS", 30))
	connMaxLife := int32(getEnvAsInt("POSTGRES_CONN_MAX_LIFE_SECONDS", 300))

	cfg := &Config{
		App: AppConfig{
			Name:                  getEnv("APP_NAME", "whatsapp-agent"),
			Env:                   getEnv("APP_ENV", "development"),
			Host:                  getEnv("APP_HOST", "0.0.0.0"),
			Port:                  getEnv("APP_PORT", "8080"),
			Version:               getEnv("APP_VERSION", "dev"),
			RequestTimeoutSeconds: getEnvAsInt("HTTP_REQUEST_TIMEOUT_SECONDS", 30),
		},
		Postgres: PostgresConfig{
			DSN:                os.Getenv("POSTGRES_DSN"),
			ApplicationName:    getEnv("APP_NAME", "whatsapp-agent"),
			MaxConns:           maxConns,
			MinConns:           minConns,
			RunMigrations:      runMigrations,
			MigrationsDir:      getEnv("POSTGRES_MIGRATIONS_DIR", "migrations"),
			ConnMaxIdleSec:     connMaxIdle,
			ConnMaxLifeSec:     connMaxLife,
			StatementTimeoutMs: getEnvAsInt("POSTGRES_STATEMENT_TIMEOUT_MS", 10000),
		},
		Redis: RedisConfig{
			Addrs:    getEnvAsList("REDIS_ADDR", []string{"127.0.0.1:6379"}),
			Password: os.Getenv("REDIS_PASSWORD"),
			DB:       redisDB,
			PoolSize: getEnvAsInt("REDIS_POOL_SIZE", 0),
		},
		Logger: LoggerConfig{
			Level: getEnv("LOG_LEVEL", "info"),
		},
		Auth: AuthConfig{
			JWTSecret:             getEnv("AUTH_JWT_SECRET", "dev-secret"),
			Issuer:                getEnv("AUTH_JWT_ISSUER", "thuso"),
			ServiceName:           getEnv("AUTH_SERVICE_NAME", "whatsapp-agent"),
			AccessTokenTTLMinutes: getEnvAsInt("AUTH_ACCESS_TOKEN_TTL_MINUTES", 60),
		},
		Session: SessionConfig{
			Backend:         getEnv("SESSION_BACKEND", "redis"),
			RetentionHours:  getEnvAsInt("SESSION_RETENTION_HOURS", 0),
			LockTTLSeconds:  getEnvAsInt("SESSION_LOCK_TTL_SECONDS", 30),
			LockWaitSeconds: getEnvAsInt("SESSION_LOCK_WAIT_SECONDS", 10),
			DynamoTable:     getEnv("SESSION_DYNAMODB_TABLE", "dialogue_snapshots"),
			DynamoRegion:    getEnv("AWS_REGION", "us-east-1"),
			DynamoEndpoint:  os.Getenv("SESSION_DYNAMODB_ENDPOINT"),
		},
		Kafka: KafkaConfig{
			Enabled:       getEnvAsBool("KAFKA_ENABLED", false),
			Brokers:       getEnvAsList("KAFKA_BROKERS", []string{"127.0.0.1:9092"}),
			GroupID:       getEnv("KAFKA_GROUP_ID", "whatsapp-agent"),
			InboundTopic:  getEnv("KAFKA_INBOUND_TOPIC", "whatsapp.inbound"),
			OutboundTopic: getEnv("KAFKA_OUTBOUND_TOPIC", "whatsapp.outbound"),
			FreeTextTopic: getEnv("KAFKA_FREETEXT_TOPIC", "whatsapp.freetext"),
			EventsTopic:   getEnv("KAFKA_EVENTS_TOPIC", "whatsapp.events"),
		},
		Management: ManagementConfig{
			BaseURL:        getEnv("MANAGEMENT_API_URL", "http://127.0.0.1:3001"),
			TimeoutSeconds: getEnvAsInt("MANAGEMENT_API_TIMEOUT_SECONDS", 10),
		},
		WhatsApp: WhatsAppConfig{
			GraphBaseURL:   getEnv("WHATSAPP_GRAPH_URL", "https://graph.facebook.com/v20.0"),
			VerifyToken:    os.Getenv("WHATSAPP_VERIFY_TOKEN"),
			AppSecret:      os.Getenv("WHATSAPP_APP_SECRET"),
			TimeoutSeconds: getEnvAsInt("WHATSAPP_TIMEOUT_SECONDS", 15),
			MediaBaseURL:   os.Getenv("MEDIA_BASE_URL"),
		},
		Tenant: TenantConfig{
			MetadataTTLHours: getEnvAsInt("TENANT_METADATA_TTL_HOURS", 6),
		},
		Dialogue: DialogueConfig{
			SettleTimeoutSeconds: getEnvAsInt("DIALOGUE_SETTLE_TIMEOUT_SECONDS", 15),
			PageSize:             getEnvAsInt("DIALOGUE_PAGE_SIZE", 7),
		},
		Worker: WorkerConfig{
			MaxConcurrent:      int64(getEnvAsInt("WORKER_MAX_CONCURRENT", 16)),
			LaneIdleSeconds:    getEnvAsInt("WORKER_LANE_IDLE_SECONDS", 60),
			DispatchTimeoutSec: getEnvAsInt("WORKER_DISPATCH_TIMEOUT_SECONDS", 60),
		},
	}

	if cfg.Session.Backend != "redis" && cfg.Session.Backend != "dynamodb" {
		return nil, fmt.Errorf("invalid SESSION_BACKEND %q", cfg.Session.Backend)
	}

	return cfg, nil
}

// Addr returns the HTTP bind address.
func (a AppConfig) Addr() string {
	return fmt.Sprintf("%s:%s", a.Host, a.Port)
}

// RequestTimeout returns the configured request timeout duration.
func (a AppConfig) RequestTimeout() time.Duration {
	if a.RequestTimeoutSeconds <= 0 {
		return 0
	}
	return time.Duration(a.RequestTimeoutSeconds) * time.Second
}

// Retention returns how long snapshots are kept; zero means forever.
func (s SessionConfig) Retention() time.Duration {
	if s.RetentionHours <= 0 {
		return 0
	}
	return time.Duration(s.RetentionHours) * time.Hour
}

// LockTTL returns the lease duration of the per-user snapshot lock.
func (s SessionConfig) LockTTL() time.Duration {
	return secondsOr(s.LockTTLSeconds, 30)
}

// LockWait returns how long an inbound event waits for the per-user lock.
func (s SessionConfig) LockWait() time.Duration {
	return secondsOr(s.LockWaitSeconds, 10)
}

// MetadataTTL returns the tenant metadata freshness window.
func (t TenantConfig) MetadataTTL() time.Duration {
	if t.MetadataTTLHours <= 0 {
		return 6 * time.Hour
	}
	return time.Duration(t.MetadataTTLHours) * time.Hour
}

// SettleTimeout bounds the wait for a dialogue leaf to settle.
func (d DialogueConfig) SettleTimeout() time.Duration {
	return secondsOr(d.SettleTimeoutSeconds, 15)
}

// LaneIdle returns how long an empty per-user lane lingers before reaping.
func (w WorkerConfig) LaneIdle() time.Duration {
	return secondsOr(w.LaneIdleSeconds, 60)
}

// DispatchTimeout bounds a single inbound or outbound job.
func (w WorkerConfig) DispatchTimeout() time.Duration {
	return secondsOr(w.DispatchTimeoutSec, 60)
}

func secondsOr(seconds, fallback int) time.Duration {
	if seconds <= 0 {
		seconds = fallback
	}
	return time.Duration(seconds) * time.Second
}

func getEnv(key, fallback string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return fallback
}

func getEnvAsInt(key string, fallback int) int {
	val := os.Getenv(key)
	if val == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(val)
	if err != nil {
		return fallback
	}
	return parsed
}

func getEnvAsBool(key string, fallback bool) bool {
	val := os.Getenv(key)
	if val == "" {
		return fallback
	}
	parsed, err := strconv.ParseBool(val)
	if err != nil {
		return fallback
	}
	return parsed
}

func getEnvAsList(key string, fallback []string) []string {
	val := os.Getenv(key)
	if val == "" {
		return fallback
	}
	var out []string
	for _, part := range strings.Split(val, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	if len(out) == 0 {
		return fallback
	}
	return out
}
