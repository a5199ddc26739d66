package db

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

// Config holds database configuration
type Config struct {
	Host             string        `mapstructure:"host" validate:"required"`
	Port             int           `mapstructure:"port" validate:"min=1,max=65535"`
	User             string        `mapstructure:"user" validate:"required"`
	Password         string        `mapstructure:"password"`
	DBName           string        `mapstructure:"name" validate:"required"`
	SSLMode          string        `mapstructure:"sslmode" validate:"oneof=disable allow prefer require verify-ca verify-full"`
	MaxConns         int32         `mapstructure:"max_conns" validate:"min=1"`
	MinConns         int32         `mapstructure:"min_conns" validate:"min=0"`
	StatementTimeout time.Duration `mapstructure:"statement_timeout"`
}

// URL renders the configuration as a connection URL with the given scheme.
func (c Config) URL(scheme string) string {
	u := url.URL{
		Scheme:   scheme,
		User:     url.UserPassword(c.User, c.Password),
		Host:     c.Host + ":" + strconv.Itoa(c.Port),
		Path:     "/" + c.DBName,
		RawQuery: url.Values{"sslmode": {c.SSLMode}}.Encode(),
	}
	return u.String()
}

// Connection wraps the database connection pool
type Connection struct {
	Pool   *pgxpool.Pool
	logger *zap.Logger
}

// txStarter is the part of pgxpool.Pool WithTx needs.
type txStarter interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}

// NewConnection creates a new database connection
func NewConnection(ctx context.Context, config Config, logger *zap.Logger) (*Connection, error) {
	poolConfig, err := pgxpool.ParseConfig(config.URL("postgres"))
	if err != nil {
		return nil, fmt.Errorf("failed to parse database config: %w", err)
	}

	poolConfig.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		if config.StatementTimeout <= 0 {
			return nil
		}
		stmt := fmt.Sprintf("SET statement_timeout = %d", config.StatementTimeout.Milliseconds())
		if _, err := conn.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("failed to set statement timeout: %w", err)
		}
		return nil
	}

	poolConfig.MaxConns = config.MaxConns
	poolConfig.MinConns = config.MinConns
	poolConfig.MaxConnLifetime = time.Minute * 30
	poolConfig.MaxConnIdleTime = time.Minute * 5
	poolConfig.HealthCheckPeriod = time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	logger.Info("connected to database",
		zap.String("host", config.Host),
		zap.Int("port", config.Port),
		zap.String("database", config.DBName),
		zap.Int32("max_conns", config.MaxConns))

	return &Connection{Pool: pool, logger: logger}, nil
}

// Close closes the database connection pool
func (c *Connection) Close() {
	if c.Pool != nil {
		c.Pool.Close()
	}
}

// WithTx executes a function within a database transaction
func (c *Connection) WithTx(ctx context.Context, fn func(pgx.Tx) error) error {
	return withTx(ctx, c.Pool, c.logger, fn)
}

func withTx(ctx context.Context, db txStarter, logger *zap.Logger, fn func(pgx.Tx) error) error {
	tx, err := db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	defer func() {
		if p := recover(); p != nil {
			if err := tx.Rollback(ctx); err != nil {
				logger.Error("failed to rollback transaction", zap.Error(err), zap.Any("panic", p))
			}
			panic(p)
		}
	}()

	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(ctx); rbErr != nil {
			logger.Error("failed to rollback transaction", zap.Error(rbErr), zap.NamedError("cause", err))
			return fmt.Errorf("transaction error: %v, rollback error: %v", err, rbErr)
		}
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	return nil
}

// DefaultConfig returns a default database configuration
func DefaultConfig() Config {
	return Config{
		Host:             "localhost",
		Port:             5432,
		User:             "postgres",
		Password:         "admin",
		DBName:           "gist",
		SSLMode:          "disable",
		MaxConns:         5,
		MinConns:         1,
		StatementTimeout: 30 * time.Second,
	}
}
