package database

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/evidentta/controlverify/internal/infrastructure/config"
)

// Connect builds a pgx connection pool from configuration and verifies
// it with a ping before handing it out.
func Connect(ctx context.Context, cfg *config.DatabaseConfig, logger *zap.Logger) (*pgxpool.Pool, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("parsing database url: %w", err)
	}

	poolCfg.MaxConns = int32(cfg.MaxOpenConns)
	poolCfg.MinConns = int32(cfg.MinIdleConns)
	poolCfg.MaxConnLifetime = cfg.ConnMaxLifetime
	poolCfg.HealthCheckPeriod = 30 * time.Second

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("creating connection pool: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("database ping failed: %w", err)
	}

	logger.Info("database pool initialized",
		zap.Int32("max_conns", poolCfg.MaxConns),
		zap.Int32("min_conns", poolCfg.MinConns),
		zap.Duration("max_conn_lifetime", poolCfg.MaxConnLifetime))

	return pool, nil
}

// LogStats emits pool utilization at debug level; wired to a ticker by
// the caller when wanted.
func LogStats(pool *pgxpool.Pool, logger *zap.Logger) {
	s := pool.Stat()
	logger.Debug("database pool stats",
		zap.Int32("total_conns", s.TotalConns()),
		zap.Int32("idle_conns", s.IdleConns()),
		zap.Int32("acquired_conns", s.AcquiredConns()),
		zap.Int64("acquire_count", s.AcquireCount()))
}
