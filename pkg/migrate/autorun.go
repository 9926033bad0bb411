package migrate

import (
	"context"
	"fmt"

	"github.com/rxdispatch/rxdispatch-backend/pkg/config"
	"github.com/rxdispatch/rxdispatch-backend/pkg/db"
	"github.com/rxdispatch/rxdispatch-backend/pkg/db/models"
	"github.com/rxdispatch/rxdispatch-backend/pkg/logger"
)

// MaybeRunDev migrates on startup when running in dev with RXD_AUTO_MIGRATE
// set. Postgres gets the embedded goose migrations; sqlite gets its schema
// from the gorm models.
func MaybeRunDev(ctx context.Context, cfg *config.Config, logg *logger.Logger, client *db.Client) error {
	if !cfg.App.IsDev() || !cfg.FeatureFlags.AutoMigrate {
		return nil
	}
	ctx = logg.WithFields(ctx, map[string]any{"env": cfg.App.Env, "driver": cfg.DB.Driver})

	if cfg.DB.IsSQLite() {
		logg.Info(ctx, "migrate.sqlite_automigrate")
		if err := AutoMigrateModels(client); err != nil {
			return fmt.Errorf("auto migrate sqlite: %w", err)
		}
		return nil
	}

	sqlDB, err := client.DB().DB()
	if err != nil {
		return fmt.Errorf("extracting sql.DB: %w", err)
	}
	migrator, err := NewMigrator(sqlDB, "")
	if err != nil {
		return err
	}
	applied, err := migrator.Up(ctx)
	if err != nil {
		return err
	}
	logg.Info(logg.WithField(ctx, "applied", len(applied)), "migrate.dev_autorun_completed")
	return nil
}

// AutoMigrateModels creates every table from its gorm model.
func AutoMigrateModels(client *db.Client) error {
	return client.DB().AutoMigrate(
		&models.User{},
		&models.Prescription{},
		&models.Pharmacy{},
		&models.PharmacyResponse{},
		&models.AuditLog{},
		&models.Notification{},
		&models.OutboxEvent{},
		&models.OutboxDLQ{},
	)
}
