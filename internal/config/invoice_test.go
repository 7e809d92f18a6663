package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestValidateInvoiceSettings(t *testing.T) {
	valid := DefaultInvoiceSettings()
	assert.NoError(t, validateInvoiceSettings(valid))

	noBrand := valid
	noBrand.BrandName = ""
	assert.Error(t, validateInvoiceSettings(noBrand))

	badDue := valid
	badDue.DefaultDueDays = 0
	assert.Error(t, validateInvoiceSettings(badDue))

	badCurrency := valid
	badCurrency.DefaultCurrency = "dollars"
	assert.Error(t, validateInvoiceSettings(badCurrency))

	badTimeout := valid
	badTimeout.ProviderTimeout = -time.Second
	assert.Error(t, validateInvoiceSettings(badTimeout))
}

func TestNormalizeInvoiceSettings(t *testing.T) {
	cfg := normalizeInvoiceSettings(InvoiceSettings{BrandName: "  Acme  ", DefaultCurrency: " EUR "})
	assert.Equal(t, "Acme", cfg.BrandName)
	assert.Equal(t, "eur", cfg.DefaultCurrency)
}

func TestNilHolderFallsBackToDefaults(t *testing.T) {
	var h *InvoiceSettingsHolder
	assert.Equal(t, 30, h.Get().DefaultDueDays)
}

func TestLoadReadsBillingEnvironment(t *testing.T) {
	t.Setenv("STRIPE_SECRET_KEY", " sk_test_123 ")
	t.Setenv("BILLING_PROVIDER_TIMEOUT", "5s")
	t.Setenv("KAFKA_BROKERS", "a:9092, b:9092,,")
	t.Setenv("DATABASE_MAX_OPEN_CONN", "not-a-number")

	cfg := Load()
	assert.Equal(t, "sk_test_123", cfg.Billing.StripeSecretKey)
	assert.Equal(t, 5*time.Second, cfg.Billing.ProviderTimeout)
	assert.Equal(t, []string{"a:9092", "b:9092"}, cfg.Kafka.Brokers)
	assert.Equal(t, 50, cfg.DBMaxOpenConn)
}
