// Package postgres implements the durable store: the fixed-expiry session
// mirror, one-time-use refresh token records, user accounts, and audit logs.
// Sensitive columns are sealed by the field cipher before they reach a row.
package postgres

import (
	"context"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/turtacn/credcore/internal/config"
	"github.com/turtacn/credcore/internal/domain/models"
	"github.com/turtacn/credcore/pkg/errors"
	"github.com/turtacn/credcore/pkg/logger"
)

// NewDB opens the PostgreSQL connection pool and verifies it. An unreachable
// durable store at startup is fatal.
func NewDB(ctx context.Context, cfg config.DatabaseConfig, log logger.Logger) (*gorm.DB, error) {
	db, err := gorm.Open(postgres.Open(cfg.DSN()), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, errors.ErrStoreUnreachable("postgres", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, errors.ErrStoreUnreachable("postgres", err)
	}
	sqlDB.SetMaxOpenConns(cfg.MaxConns)
	sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)
	sqlDB.SetConnMaxLifetime(time.Duration(cfg.ConnMaxLifetime) * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, time.Duration(cfg.ConnTimeout)*time.Second)
	defer cancel()
	if err := sqlDB.PingContext(pingCtx); err != nil {
		return nil, errors.ErrStoreUnreachable("postgres", err)
	}

	log.Info(ctx, "postgres connected",
		logger.String("host", cfg.Host),
		logger.String("database", cfg.Database),
		logger.Int("max_conns", cfg.MaxConns),
	)
	return db, nil
}

// Migrate creates or updates the schema for every durable model.
func Migrate(db *gorm.DB) error {
	if err := db.AutoMigrate(
		&models.User{},
		&models.UserSession{},
		&models.RefreshToken{},
		&models.AuditLog{},
	); err != nil {
		return errors.Wrap(err, errors.KindConfiguration, "schema migration failed")
	}
	return nil
}
