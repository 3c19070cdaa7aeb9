package database

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"chatrelay-backend/pkg/config"
	"chatrelay-backend/pkg/logger"
)

// SQLSTATE codes the repositories branch on
const (
	UniqueViolation   = "23505"
	SerializationFail = "40001"
)

// DB wraps the pgx pool used for the relational store
type DB struct {
	Pool *pgxpool.Pool
}

// NewCockroachDB opens a pool sized from config and verifies it with a ping
func NewCockroachDB(ctx context.Context, cfg config.DatabaseConfig) (*DB, error) {
	poolConfig, err := pgxpool.ParseConfig(cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("unable to parse database config: %w", err)
	}

	poolConfig.MaxConns = int32(cfg.MaxConns)
	poolConfig.MinConns = int32(cfg.MinConns)
	poolConfig.MaxConnLifetime = time.Hour
	poolConfig.MaxConnIdleTime = 5 * time.Minute
	poolConfig.HealthCheckPeriod = 30 * time.Second

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("unable to create connection pool: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &DB{Pool: pool}, nil
}

func (db *DB) Close() {
	db.Pool.Close()
	logger.Info("Database connection pool closed")
}

// WithTx runs fn in a transaction, retrying on CockroachDB serialization failures
func WithTx(ctx context.Context, pool *pgxpool.Pool, fn func(tx pgx.Tx) error) error {
	const maxRetries = 3

	var err error
	for attempt := 1; attempt <= maxRetries; attempt++ {
		err = pgx.BeginFunc(ctx, pool, fn)
		if !IsPgCode(err, SerializationFail) {
			return err
		}
		logger.Warn("Transaction retry after serialization failure", zap.Int("attempt", attempt))
	}
	return err
}

// IsPgCode reports whether err is a Postgres error with the given SQLSTATE
func IsPgCode(err error, code string) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == code
}

// IsUniqueViolation reports whether err came from a unique constraint
func IsUniqueViolation(err error) bool {
	return IsPgCode(err, UniqueViolation)
}
