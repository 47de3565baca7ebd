package database

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	"github.com/pressly/goose/v3"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// Migrate applies all pending schema versions against db.
func Migrate(ctx context.Context, db *gorm.DB) error {
	sqlDB, err := db.DB()
	if err != nil {
		return fmt.Errorf("failed to get sql.DB: %w", err)
	}

	provider, err := goose.NewProvider(goose.DialectPostgres, sqlDB, nil,
		goose.WithDisableGlobalRegistry(true),
		goose.WithGoMigrations(migrations()...),
	)
	if err != nil {
		return fmt.Errorf("failed to create migration provider: %w", err)
	}

	results, err := provider.Up(ctx)
	if err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}
	for _, r := range results {
		slog.Info("migration applied", "version", r.Source.Version, "duration", r.Duration)
	}
	return nil
}

func migrations() []*goose.Migration {
	return []*goose.Migration{
		goose.NewGoMigration(1,
			&goose.GoFunc{RunTx: upInitialSchema},
			&goose.GoFunc{RunTx: downInitialSchema},
		),
	}
}

func txGorm(tx *sql.Tx) (*gorm.DB, error) {
	return gorm.Open(postgres.New(postgres.Config{Conn: tx, PreferSimpleProtocol: true}), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
}

func upInitialSchema(ctx context.Context, tx *sql.Tx) error {
	gormDB, err := txGorm(tx)
	if err != nil {
		return err
	}
	if err := AutoMigrate(gormDB.WithContext(ctx)); err != nil {
		return err
	}

	// end_date must stay strictly after start_date for every row.
	return gormDB.WithContext(ctx).Exec(
		`ALTER TABLE subscriptions ADD CONSTRAINT chk_subscriptions_window CHECK (end_date > start_date)`,
	).Error
}

func downInitialSchema(ctx context.Context, tx *sql.Tx) error {
	gormDB, err := txGorm(tx)
	if err != nil {
		return err
	}
	m := gormDB.WithContext(ctx).Migrator()
	models := Models()
	for i := len(models) - 1; i >= 0; i-- {
		if err := m.DropTable(models[i]); err != nil {
			return err
		}
	}
	return nil
}
