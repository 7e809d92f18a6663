package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds application configuration.
type Config struct {
	AppName     string
	AppVersion  string
	Environment string
	HTTPAddr    string

	OTLPEndpoint string

	DBType            string
	DBHost            string
	DBPort            string
	DBName            string
	DBUser            string
	DBPassword        string
	DBSSLMode         string
	DBMaxIdleConn     int
	DBMaxOpenConn     int
	DBConnMaxLifetime int
	DBConnMaxIdleTime int

	Auth    AuthConfig
	Billing BillingConfig
	Storage StorageConfig
	Redis         RedisConfig
	Kafka         KafkaConfig
	Scheduler     SchedulerConfig
	Observability ObservabilityConfig
}

// AuthConfig configures bearer token verification. When PublicKeyPEM is set
// tokens are verified with RS256, otherwise with the HS256 secret.
type AuthConfig struct {
	JWTSecret    string
	PublicKeyPEM string
	Issuer       string
	Audience     string
}

type BillingConfig struct {
	Provider         string
	StripeSecretKey  string
	StripeWebhookKey string
	StripeAPIBase    string
	ProviderTimeout  time.Duration
	WebhookTolerance time.Duration
}

type StorageConfig struct {
	Driver        string
	Bucket        string
	Region        string
	Endpoint      string
	PublicBaseURL string
	LocalDir      string
	AccessKeyID   string
	SecretKey     string
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

type KafkaConfig struct {
	Brokers []string
	Topic   string
}

// ObservabilityConfig carries logging and OpenTelemetry settings. The OTLP
// endpoint lives on Config.OTLPEndpoint.
type ObservabilityConfig struct {
	LogLevel      string
	LogFormat     string
	OtelEnabled   bool
	OtelProtocol  string
	SamplingRatio float64
}

// SchedulerConfig controls the in-process reconciliation loop started by
// the serve command.
type SchedulerConfig struct {
	Enabled     bool
	RunInterval time.Duration
	JobTimeout  time.Duration
	EnabledJobs []string
}

// Load loads configuration from environment variables and .env file.
func Load() Config {
	_ = godotenv.Load()

	cfg := Config{
		AppName:      getenv("APP_SERVICE", "portal"),
		AppVersion:   getenv("APP_VERSION", "0.1.0"),
		Environment:  getenv("ENVIRONMENT", "development"),
		HTTPAddr:     getenv("HTTP_ADDR", ":8080"),
		OTLPEndpoint: getenv("OTEL_EXPORTER_OTLP_ENDPOINT", getenv("OTLP_ENDPOINT", "localhost:4317")),

		DBType:            getenv("DATABASE_TYPE", "postgres"),
		DBHost:            getenv("DATABASE_HOST", "localhost"),
		DBPort:            getenv("DATABASE_PORT", "5432"),
		DBName:            getenv("DATABASE_NAME", "portal"),
		DBUser:            getenv("DATABASE_USER", "postgres"),
		DBPassword:        getenv("DATABASE_PASSWORD", ""),
		DBSSLMode:         getenv("DATABASE_SSLMODE", "disable"),
		DBMaxIdleConn:     getenvInt("DATABASE_MAX_IDLE_CONN", 10),
		DBMaxOpenConn:     getenvInt("DATABASE_MAX_OPEN_CONN", 50),
		DBConnMaxLifetime: getenvInt("DATABASE_CONN_MAX_LIFETIME", 3600),
		DBConnMaxIdleTime: getenvInt("DATABASE_CONN_MAX_IDLE_TIME", 300),

		Auth: AuthConfig{
			JWTSecret:    strings.TrimSpace(getenv("AUTH_JWT_SECRET", "")),
			PublicKeyPEM: strings.TrimSpace(getenv("AUTH_JWT_PUBLIC_KEY", "")),
			Issuer:       strings.TrimSpace(getenv("AUTH_JWT_ISSUER", "")),
			Audience:     strings.TrimSpace(getenv("AUTH_JWT_AUDIENCE", "")),
		},
		Billing: BillingConfig{
			Provider:         strings.ToLower(getenv("BILLING_PROVIDER", "stripe")),
			StripeSecretKey:  strings.TrimSpace(getenv("STRIPE_SECRET_KEY", "")),
			StripeWebhookKey: strings.TrimSpace(getenv("STRIPE_WEBHOOK_SECRET", "")),
			StripeAPIBase:    strings.TrimSpace(getenv("STRIPE_API_BASE", "")),
			ProviderTimeout:  getenvDuration("BILLING_PROVIDER_TIMEOUT", 20*time.Second),
			WebhookTolerance: getenvDuration("BILLING_WEBHOOK_TOLERANCE", 5*time.Minute),
		},
		Storage: StorageConfig{
			Driver:        strings.ToLower(getenv("STORAGE_DRIVER", "local")),
			Bucket:        getenv("STORAGE_BUCKET", "invoices"),
			Region:        getenv("STORAGE_REGION", "us-east-1"),
			Endpoint:      strings.TrimSpace(getenv("STORAGE_ENDPOINT", "")),
			PublicBaseURL: strings.TrimRight(getenv("STORAGE_PUBLIC_BASE_URL", "http://localhost:8080/files"), "/"),
			LocalDir:      getenv("STORAGE_LOCAL_DIR", "./data/files"),
			AccessKeyID:   strings.TrimSpace(getenv("STORAGE_ACCESS_KEY_ID", "")),
			SecretKey:     strings.TrimSpace(getenv("STORAGE_SECRET_ACCESS_KEY", "")),
		},
		Redis: RedisConfig{
			Addr:     strings.TrimSpace(getenv("REDIS_ADDR", "")),
			Password: getenv("REDIS_PASSWORD", ""),
			DB:       getenvInt("REDIS_DB", 0),
		},
		Kafka: KafkaConfig{
			Brokers: parseList(getenv("KAFKA_BROKERS", "")),
			Topic:   getenv("KAFKA_INVOICE_TOPIC", "portal.invoice.events"),
		},
		Observability: ObservabilityConfig{
			LogLevel:      strings.ToLower(strings.TrimSpace(getenv("LOG_LEVEL", "info"))),
			LogFormat:     strings.ToLower(strings.TrimSpace(getenv("LOG_FORMAT", "json"))),
			OtelEnabled:   getenvBool("OTEL_ENABLED", false),
			OtelProtocol:  strings.ToLower(strings.TrimSpace(getenv("OTEL_EXPORTER_OTLP_PROTOCOL", "grpc"))),
			SamplingRatio: getenvFloat("OTEL_SAMPLING_RATIO", 0.1),
		},
		Scheduler: SchedulerConfig{
			Enabled:     getenvBool("SCHEDULER_ENABLED", true),
			RunInterval: getenvDuration("SCHEDULER_RUN_INTERVAL", 5*time.Minute),
			JobTimeout:  getenvDuration("SCHEDULER_JOB_TIMEOUT", time.Minute),
			EnabledJobs: parseList(getenv("SCHEDULER_JOBS", "")),
		},
	}

	return cfg
}

func (c Config) IsProduction() bool {
	return c.Environment == "production"
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getenvBool(key string, def bool) bool {
	value := strings.ToLower(strings.TrimSpace(os.Getenv(key)))
	if value == "" {
		return def
	}
	switch value {
	case "1", "true", "yes", "y", "on":
		return true
	case "0", "false", "no", "n", "off":
		return false
	default:
		return def
	}
}

func getenvInt(key string, def int) int {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return def
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return def
	}
	return parsed
}

func getenvFloat(key string, def float64) float64 {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return def
	}
	parsed, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return def
	}
	return parsed
}

func getenvDuration(key string, def time.Duration) time.Duration {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return def
	}
	parsed, err := time.ParseDuration(value)
	if err != nil || parsed <= 0 {
		return def
	}
	return parsed
}

func parseList(raw string) []string {
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		out = append(out, p)
	}
	return out
}
