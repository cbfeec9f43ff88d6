// Package database wraps a pgx connection pool with the transaction helper
// used by the repositories.
package database

import (
	"context"
	_ "embed"
	"fmt"
	"net/url"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

//go:embed schema.sql
var schemaSQL string

// Config holds pool settings.
type Config struct {
	Host        string
	Port        int
	User        string
	Password    string
	Database    string
	SSLMode     string
	MaxConns    int32
	MinConns    int32
	MaxConnTime time.Duration
	MaxIdleTime time.Duration
	HealthCheck time.Duration
}

// DSN renders the connection string.
func (c Config) DSN() string {
	u := url.URL{
		Scheme: "postgres",
		User:   url.UserPassword(c.User, c.Password),
		Host:   fmt.Sprintf("%s:%d", c.Host, c.Port),
		Path:   "/" + c.Database,
	}
	q := u.Query()
	if c.SSLMode != "" {
		q.Set("sslmode", c.SSLMode)
	}
	u.RawQuery = q.Encode()
	return u.String()
}

// DB is a thin wrapper over pgxpool.Pool.
type DB struct {
	Pool *pgxpool.Pool
}

// New creates a pool from Config and verifies connectivity.
func New(ctx context.Context, cfg Config) (*DB, error) {
	return Connect(ctx, cfg.DSN(), func(pc *pgxpool.Config) {
		if cfg.MaxConns > 0 {
			pc.MaxConns = cfg.MaxConns
		}
		pc.MinConns = cfg.MinConns
		if cfg.MaxConnTime > 0 {
			pc.MaxConnLifetime = cfg.MaxConnTime
		}
		if cfg.MaxIdleTime > 0 {
			pc.MaxConnIdleTime = cfg.MaxIdleTime
		}
		if cfg.HealthCheck > 0 {
			pc.HealthCheckPeriod = cfg.HealthCheck
		}
	})
}

// Connect creates a pool from a DSN. Optional tuners adjust the parsed pool config.
func Connect(ctx context.Context, dsn string, tune ...func(*pgxpool.Config)) (*DB, error) {
	poolCfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse database config: %w", err)
	}
	for _, fn := range tune {
		fn(poolCfg)
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("create connection pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return &DB{Pool: pool}, nil
}

// Close releases all pool connections.
func (db *DB) Close() {
	db.Pool.Close()
}

// Ping checks database liveness.
func (db *DB) Ping(ctx context.Context) error {
	return db.Pool.Ping(ctx)
}

func (db *DB) QueryRow(ctx context.Context, sql string, args ...any) pgx.Row {
	return db.Pool.QueryRow(ctx, sql, args...)
}

func (db *DB) Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error) {
	return db.Pool.Query(ctx, sql, args...)
}

func (db *DB) Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	return db.Pool.Exec(ctx, sql, args...)
}

// InTransaction runs fn inside a transaction. fn's error is returned unchanged
// after rollback so coded business errors survive the boundary.
func (db *DB) InTransaction(ctx context.Context, fn func(tx pgx.Tx) error) error {
	tx, err := db.Pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}

	if err := fn(tx); err != nil {
		_ = tx.Rollback(ctx)
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

// Migrate applies the embedded schema. Statements are idempotent.
func (db *DB) Migrate(ctx context.Context) error {
	if _, err := db.Pool.Exec(ctx, schemaSQL); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}

// Schema returns the embedded DDL, used by the CLI to print it.
func Schema() string {
	return schemaSQL
}
