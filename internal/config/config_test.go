package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestLoadReadsEnvironment(t *testing.T) {
	t.Setenv("HTTP_ADDR", ":9090")
	t.Setenv("STRIPE_WEBHOOK_SECRET", " whsec_test ")
	t.Setenv("KAFKA_BROKERS", "k1:9092, ,k2:9092")
	t.Setenv("SCHEDULER_ENABLED", "off")
	t.Setenv("SCHEDULER_RUN_INTERVAL", "90s")
	t.Setenv("OTEL_SAMPLING_RATIO", "0.5")
	t.Setenv("LOG_LEVEL", "DEBUG")

	cfg := Load()

	assert.Equal(t, ":9090", cfg.HTTPAddr)
	assert.Equal(t, "whsec_test", cfg.Billing.StripeWebhookKey)
	assert.Equal(t, []string{"k1:9092", "k2:9092"}, cfg.Kafka.Brokers)
	assert.False(t, cfg.Scheduler.Enabled)
	assert.Equal(t, 90*time.Second, cfg.Scheduler.RunInterval)
	assert.Equal(t, 0.5, cfg.Observability.SamplingRatio)
	assert.Equal(t, "debug", cfg.Observability.LogLevel)
}

func TestLoadFallsBackOnInvalidValues(t *testing.T) {
	t.Setenv("SCHEDULER_RUN_INTERVAL", "soon")
	t.Setenv("DATABASE_MAX_OPEN_CONN", "many")
	t.Setenv("OTEL_SAMPLING_RATIO", "half")

	cfg := Load()

	assert.Equal(t, 5*time.Minute, cfg.Scheduler.RunInterval)
	assert.Equal(t, 50, cfg.DBMaxOpenConn)
	assert.Equal(t, 0.1, cfg.Observability.SamplingRatio)
}
