package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds the full runtime configuration, loaded from the environment.
type Config struct {
	Environment string

	Server     ServerConfig
	Redis      RedisConfig
	Scylla     ScyllaConfig
	Kafka      KafkaConfig
	Clickhouse ClickhouseConfig
	Elastic    ElasticConfig
	KMS        KMSConfig
	Logging    LoggingConfig
	Hashing    HashingConfig
	JWT        JWTConfig
	Pin        PinConfig
	Bucketing  BucketingConfig
}

type ServerConfig struct {
	Port         int
	TLSPort      int
	EnableTLS    bool
	AutoCert     bool
	AutoCertDir  string
	Domain       string
	Email        string
	CertFile     string
	KeyFile      string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
}

type RedisConfig struct {
	URL      string
	Password string
	DB       int
	PoolSize int
}

type ScyllaConfig struct {
	Nodes    []string
	Keyspace string
	Username string
	Password string
}

type KafkaConfig struct {
	Enabled bool
	Brokers []string
	Topic   string
}

type ClickhouseConfig struct {
	Enabled  bool
	URL      string
	Database string
	Username string
	Password string
}

type ElasticConfig struct {
	Enabled bool
	URL     string
	Index   string
}

type KMSConfig struct {
	Enabled bool
	KeyID   string
	Region  string
}

type LoggingConfig struct {
	Level  string
	Format string
}

type HashingConfig struct {
	Argon2MemoryCost   int
	Argon2TimeCost     int
	Argon2Parallelism  int
	PepperSecret       string
	PepperRotationDays int
}

type JWTConfig struct {
	SigningKey string
	Issuer     string
	AccessTTL  time.Duration
	RefreshTTL time.Duration
}

// PinConfig holds the PIN policy knobs: 4-6 digit PINs, 5 failures per
// 15 minute window, 15 minute lockout by default.
type PinConfig struct {
	MinLen      int
	MaxLen      int
	MaxFailures int
	Window      time.Duration
	Lockout     time.Duration
}

type BucketingConfig struct {
	UserBuckets  int
	EventBuckets int
}

// LoadConfig reads configuration from the environment, with .env support for
// local development.
func LoadConfig() *Config {
	_ = godotenv.Load()

	return &Config{
		Environment: getEnv("ENVIRONMENT", "development"),
		Server: ServerConfig{
			Port:         getEnvInt("SERVER_PORT", 8080),
			TLSPort:      getEnvInt("SERVER_TLS_PORT", 8443),
			EnableTLS:    getEnvBool("ENABLE_TLS", false),
			AutoCert:     getEnvBool("AUTO_CERT", false),
			AutoCertDir:  getEnv("AUTO_CERT_DIR", "/var/lib/pin-auth/certs"),
			Domain:       getEnv("SERVER_DOMAIN", "localhost"),
			Email:        getEnv("AUTO_CERT_EMAIL", ""),
			CertFile:     getEnv("TLS_CERT_FILE", ""),
			KeyFile:      getEnv("TLS_KEY_FILE", ""),
			ReadTimeout:  getEnvSeconds("SERVER_READ_TIMEOUT", 15*time.Second),
			WriteTimeout: getEnvSeconds("SERVER_WRITE_TIMEOUT", 30*time.Second),
			IdleTimeout:  getEnvSeconds("SERVER_IDLE_TIMEOUT", 120*time.Second),
		},
		Redis: RedisConfig{
			URL:      getEnv("REDIS_URL", "redis://localhost:6379"),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvInt("REDIS_DB", 0),
			PoolSize: getEnvInt("REDIS_POOL_SIZE", 50),
		},
		Scylla: ScyllaConfig{
			Nodes:    splitList(getEnv("SCYLLA_NODES", "localhost:9042")),
			Keyspace: getEnv("SCYLLA_KEYSPACE", "pin_auth"),
			Username: getEnv("SCYLLA_USERNAME", ""),
			Password: getEnv("SCYLLA_PASSWORD", ""),
		},
		Kafka: KafkaConfig{
			Enabled: getEnvBool("KAFKA_ENABLED", false),
			Brokers: splitList(getEnv("KAFKA_BROKERS", "localhost:9092")),
			Topic:   getEnv("KAFKA_SECURITY_TOPIC", "auth-security-events"),
		},
		Clickhouse: ClickhouseConfig{
			Enabled:  getEnvBool("CLICKHOUSE_ENABLED", false),
			URL:      getEnv("CLICKHOUSE_URL", "localhost:9000"),
			Database: getEnv("CLICKHOUSE_DATABASE", "auth_audit"),
			Username: getEnv("CLICKHOUSE_USERNAME", "default"),
			Password: getEnv("CLICKHOUSE_PASSWORD", ""),
		},
		Elastic: ElasticConfig{
			Enabled: getEnvBool("ELASTIC_ENABLED", false),
			URL:     getEnv("ELASTIC_URL", "http://localhost:9200"),
			Index:   getEnv("ELASTIC_SECURITY_INDEX", "auth-security-events"),
		},
		KMS: KMSConfig{
			Enabled: getEnvBool("KMS_ENABLED", false),
			KeyID:   getEnv("KMS_KEY_ID", ""),
			Region:  getEnv("AWS_REGION", "us-east-1"),
		},
		Logging: LoggingConfig{
			Level:  getEnv("LOG_LEVEL", "info"),
			Format: getEnv("LOG_FORMAT", "json"),
		},
		Hashing: HashingConfig{
			Argon2MemoryCost:   getEnvInt("ARGON2_MEMORY_COST", 64*1024),
			Argon2TimeCost:     getEnvInt("ARGON2_TIME_COST", 3),
			Argon2Parallelism:  getEnvInt("ARGON2_PARALLELISM", 2),
			PepperSecret:       getEnv("PEPPER_SECRET", ""),
			PepperRotationDays: getEnvInt("PEPPER_ROTATION_DAYS", 90),
		},
		JWT: JWTConfig{
			SigningKey: getEnv("JWT_SIGNING_KEY", ""),
			Issuer:     getEnv("JWT_ISSUER", "pin-auth-service"),
			AccessTTL:  getEnvSeconds("ACCESS_TTL_SECONDS", 900*time.Second),
			RefreshTTL: getEnvSeconds("REFRESH_TTL_SECONDS", 2592000*time.Second),
		},
		Pin: PinConfig{
			MinLen:      getEnvInt("PIN_MIN_LEN", 4),
			MaxLen:      getEnvInt("PIN_MAX_LEN", 6),
			MaxFailures: getEnvInt("MAX_FAILURES", 5),
			Window:      getEnvSeconds("WINDOW_SECONDS", 900*time.Second),
			Lockout:     getEnvSeconds("LOCKOUT_SECONDS", 900*time.Second),
		},
		Bucketing: BucketingConfig{
			UserBuckets:  getEnvInt("USER_BUCKETS", 64),
			EventBuckets: getEnvInt("EVENT_BUCKETS", 16),
		},
	}
}

// Validate rejects configurations that cannot run safely.
func (c *Config) Validate() error {
	if c.IsProduction() && c.JWT.SigningKey == "" {
		return fmt.Errorf("JWT_SIGNING_KEY is required in production")
	}
	if c.Pin.MinLen < 1 || c.Pin.MinLen > c.Pin.MaxLen {
		return fmt.Errorf("invalid PIN length bounds: min=%d max=%d", c.Pin.MinLen, c.Pin.MaxLen)
	}
	if c.Pin.MaxFailures < 1 {
		return fmt.Errorf("MAX_FAILURES must be at least 1")
	}
	return nil
}

func (c *Config) IsProduction() bool {
	return c.Environment == "production"
}

func (c *Config) IsDevelopment() bool {
	return c.Environment == "development"
}

func (c *Config) GetServerAddress() string {
	return fmt.Sprintf(":%d", c.Server.Port)
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if n, err := strconv.Atoi(value); err == nil {
			return n
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

// getEnvSeconds reads a duration expressed in whole seconds.
func getEnvSeconds(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if n, err := strconv.Atoi(value); err == nil {
			return time.Duration(n) * time.Second
		}
	}
	return defaultValue
}

func splitList(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
