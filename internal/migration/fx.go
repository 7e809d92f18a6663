package migration

import (
	"strings"

	"github.com/smallbiznis/portal/internal/config"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var Module = fx.Module("migrations",
	fx.Invoke(Apply),
)

// Apply runs the embedded migrations on Postgres and the bundled schema on
// SQLite.
func Apply(conn *gorm.DB, cfg config.Config, log *zap.Logger) error {
	switch strings.ToLower(cfg.DBType) {
	case "postgres", "postgresql":
		sqlDB, err := conn.DB()
		if err != nil {
			return err
		}
		if err := RunMigrations(sqlDB); err != nil {
			return err
		}
	case "sqlite", "sqlite3":
		if err := ApplySQLite(conn); err != nil {
			return err
		}
	default:
		log.Warn("skipping embedded migrations", zap.String("db_type", cfg.DBType))
		return nil
	}
	log.Info("migrations applied", zap.String("db_type", cfg.DBType))
	return nil
}
