package config

import (
	"errors"
	"strings"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

// InvoiceSettings carries the document branding and issuance defaults that
// operators can change without a restart.
type InvoiceSettings struct {
	BrandName       string        `mapstructure:"brandName"`
	BrandAddress    string        `mapstructure:"brandAddress"`
	BrandEmail      string        `mapstructure:"brandEmail"`
	FooterText      string        `mapstructure:"footerText"`
	DefaultDueDays  int           `mapstructure:"defaultDueDays"`
	DefaultCurrency string        `mapstructure:"defaultCurrency"`
	ProviderTimeout time.Duration `mapstructure:"providerTimeout"`
}

func DefaultInvoiceSettings() InvoiceSettings {
	return InvoiceSettings{
		BrandName:       "Client Portal",
		FooterText:      "Thank you for your business.",
		DefaultDueDays:  30,
		DefaultCurrency: "usd",
		ProviderTimeout: 20 * time.Second,
	}
}

type InvoiceSettingsHolder struct {
	current atomic.Value // holds InvoiceSettings
}

// NewStaticInvoiceSettings returns a holder that never reloads.
func NewStaticInvoiceSettings(s InvoiceSettings) *InvoiceSettingsHolder {
	holder := &InvoiceSettingsHolder{}
	holder.current.Store(s)
	return holder
}

func NewInvoiceSettingsHolder(log *zap.Logger) (*InvoiceSettingsHolder, error) {
	if log == nil {
		log = zap.NewNop()
	}
	log = log.Named("invoice.config")

	v := viper.New()
	v.SetConfigName("invoice")
	v.SetConfigType("yml")
	v.AddConfigPath("/var/lib/portal/config")
	v.AddConfigPath("/etc/portal")
	v.AddConfigPath(".")

	v.SetEnvPrefix("PORTAL")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	defaults := DefaultInvoiceSettings()
	v.SetDefault("invoice.brandName", defaults.BrandName)
	v.SetDefault("invoice.footerText", defaults.FooterText)
	v.SetDefault("invoice.defaultDueDays", defaults.DefaultDueDays)
	v.SetDefault("invoice.defaultCurrency", defaults.DefaultCurrency)
	v.SetDefault("invoice.providerTimeout", defaults.ProviderTimeout)

	fileLoaded := true
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
		fileLoaded = false
	}

	var cfg InvoiceSettings
	if err := v.UnmarshalKey("invoice", &cfg); err != nil {
		return nil, err
	}
	cfg = normalizeInvoiceSettings(cfg)
	if err := validateInvoiceSettings(cfg); err != nil {
		return nil, err
	}

	holder := &InvoiceSettingsHolder{}
	holder.current.Store(cfg)

	if !fileLoaded {
		return holder, nil
	}

	v.WatchConfig()
	v.OnConfigChange(func(e fsnotify.Event) {
		var updated InvoiceSettings
		if err := v.UnmarshalKey("invoice", &updated); err != nil {
			log.Warn("invoice settings reload failed", zap.Error(err))
			return
		}
		updated = normalizeInvoiceSettings(updated)
		if err := validateInvoiceSettings(updated); err != nil {
			log.Warn("invalid invoice settings ignored", zap.Error(err))
			return
		}
		holder.current.Store(updated)
		log.Info("invoice settings reloaded", zap.String("file", e.Name))
	})

	return holder, nil
}

func (h *InvoiceSettingsHolder) Get() InvoiceSettings {
	if h == nil {
		return DefaultInvoiceSettings()
	}
	return h.current.Load().(InvoiceSettings)
}

func normalizeInvoiceSettings(cfg InvoiceSettings) InvoiceSettings {
	cfg.BrandName = strings.TrimSpace(cfg.BrandName)
	cfg.DefaultCurrency = strings.ToLower(strings.TrimSpace(cfg.DefaultCurrency))
	return cfg
}

func validateInvoiceSettings(cfg InvoiceSettings) error {
	if cfg.BrandName == "" {
		return errors.New("invoice.brandName cannot be empty")
	}
	if cfg.DefaultDueDays <= 0 {
		return errors.New("invoice.defaultDueDays must be positive")
	}
	if len(cfg.DefaultCurrency) != 3 {
		return errors.New("invoice.defaultCurrency must be a 3-letter code")
	}
	if cfg.ProviderTimeout <= 0 {
		return errors.New("invoice.providerTimeout must be positive")
	}
	return nil
}
