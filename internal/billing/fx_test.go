package billing

import (
	"testing"

	billingdomain "github.com/smallbiznis/portal/internal/billing/domain"
	"github.com/smallbiznis/portal/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestNewProvider(t *testing.T) {
	cfg := config.Config{Billing: config.BillingConfig{Provider: "stripe"}}
	provider, err := NewProvider(cfg, zap.NewNop())
	require.NoError(t, err)
	assert.Equal(t, "stripe", provider.Name())

	cfg.Billing.Provider = "none"
	provider, err = NewProvider(cfg, zap.NewNop())
	require.NoError(t, err)
	assert.Equal(t, billingdomain.Noop{}, provider)

	cfg.Billing.Provider = "paypal"
	_, err = NewProvider(cfg, zap.NewNop())
	assert.Error(t, err)
}
