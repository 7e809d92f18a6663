package storage

import (
	"context"
	"fmt"

	"github.com/smallbiznis/portal/internal/config"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("storage",
	fx.Provide(New),
)

func New(cfg config.Config, log *zap.Logger) (Store, error) {
	switch cfg.Storage.Driver {
	case "", "local":
		log.Info("using local storage", zap.String("dir", cfg.Storage.LocalDir))
		return NewLocalStore(cfg.Storage.LocalDir, cfg.Storage.PublicBaseURL)
	case "s3":
		log.Info("using s3 storage",
			zap.String("bucket", cfg.Storage.Bucket),
			zap.String("endpoint", cfg.Storage.Endpoint),
		)
		return NewS3Store(context.Background(), cfg.Storage)
	default:
		return nil, fmt.Errorf("unsupported storage driver %q", cfg.Storage.Driver)
	}
}
