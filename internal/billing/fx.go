package billing

import (
	"fmt"
	"net/http"

	billingdomain "github.com/smallbiznis/portal/internal/billing/domain"
	"github.com/smallbiznis/portal/internal/billing/stripe"
	"github.com/smallbiznis/portal/internal/config"
	"github.com/smallbiznis/portal/internal/observability/tracing"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("billing.provider",
	fx.Provide(NewProvider),
)

func NewProvider(cfg config.Config, log *zap.Logger) (billingdomain.Provider, error) {
	switch cfg.Billing.Provider {
	case "", "stripe":
		return stripe.New(log, stripe.Config{
			SecretKey:  cfg.Billing.StripeSecretKey,
			APIBase:    cfg.Billing.StripeAPIBase,
			Timeout:    cfg.Billing.ProviderTimeout,
			HTTPClient: tracing.WrapHTTPClient(&http.Client{}),
		}), nil
	case "none":
		log.Info("billing provider disabled")
		return billingdomain.Noop{}, nil
	default:
		return nil, fmt.Errorf("unsupported billing provider %q", cfg.Billing.Provider)
	}
}
