package store

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/pamdocs/docpipe/internal/common"
	"github.com/pamdocs/docpipe/internal/store/model"
)

// Open creates a pgx pool, wraps it for gorm, and returns both.
func Open(ctx context.Context, cfg common.DatabaseConfig, log *zap.SugaredLogger) (*gorm.DB, *pgxpool.Pool, error) {
	log.Infow("connecting to database")
	pc, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		log.Errorw("failed to parse database config", "error", err)
		return nil, nil, err
	}

	pc.MaxConns = cfg.MaxConns
	pc.MinConns = cfg.MinConns
	pc.MaxConnLifetime = cfg.MaxConnLifetime
	pc.MaxConnIdleTime = cfg.MaxConnIdleTime
	pc.ConnConfig.RuntimeParams["application_name"] = "docpipe"
	if cfg.StatementTimeout > 0 {
		pc.ConnConfig.RuntimeParams["statement_timeout"] = cfg.StatementTimeout.String()
	}

	dialCtx, cancel := context.WithTimeout(ctx, cfg.DialTimeout)
	defer cancel()
	pool, err := pgxpool.NewWithConfig(dialCtx, pc)
	if err != nil {
		log.Errorw("failed to connect to database", "error", err)
		return nil, nil, err
	}

	// Wrap pool as *sql.DB for gorm
	sqlDB := stdlib.OpenDBFromPool(pool)
	db, err := gorm.Open(postgres.New(postgres.Config{Conn: sqlDB}), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		pool.Close()
		return nil, nil, err
	}

	if err := db.AutoMigrate(&model.JobRecord{}); err != nil {
		pool.Close()
		return nil, nil, err
	}

	log.Infow("successfully connected to database")
	return db, pool, nil
}

// Close closes the database connections gracefully
func Close(pool *pgxpool.Pool, log *zap.SugaredLogger) {
	log.Infow("closing database connections")
	if pool != nil {
		pool.Close()
	}
	log.Infow("database connections closed")
}

// HealthCheck pings the pool to catch DSN issues early.
func HealthCheck(ctx context.Context, pool *pgxpool.Pool) error {
	return pool.Ping(ctx)
}
