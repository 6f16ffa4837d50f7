// Package postgres implements the persistence contracts on PostgreSQL
// via pgx, with environment-prefixed table names so dev, test and prod
// can share one database.
package postgres

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"codeloom/internal/domain/repositories"
)

// RepositoryConfig holds the shared wiring for repository
// implementations.
type RepositoryConfig struct {
	Pool   *pgxpool.Pool
	Tables *TableNames
	Logger *slog.Logger
}

// TableNames holds the prefixed table names.
type TableNames struct {
	Conversations string
	Messages      string
	Attachments   string
	Changes       string
}

// NewTableNames creates table names with the given environment prefix.
// The prefix is interpolated before the SQL reaches the database, so
// each environment gets its own statements.
func NewTableNames(prefix string) *TableNames {
	return &TableNames{
		Conversations: fmt.Sprintf("%sconversations", prefix),
		Messages:      fmt.Sprintf("%smessages", prefix),
		Attachments:   fmt.Sprintf("%sattachments", prefix),
		Changes:       fmt.Sprintf("%schanges", prefix),
	}
}

// CreateConnectionPool creates a pgx connection pool.
//
// Port 6543 is the transaction-pooling PgBouncer port on hosted
// Postgres offerings; it does not support prepared statements, so when
// it is detected the pool switches to QueryExecModeCacheDescribe, which
// keeps the extended protocol (needed for JSONB encoding of
// map[string]any) without creating server-side prepared statements. An
// explicit default_query_exec_mode in the connection string takes
// precedence.
func CreateConnectionPool(ctx context.Context, databaseURL string) (*pgxpool.Pool, error) {
	config, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse connection string: %w", err)
	}

	config.MaxConns = 25
	config.MinConns = 5

	if config.ConnConfig.Port == 6543 && config.ConnConfig.DefaultQueryExecMode == pgx.QueryExecModeCacheStatement {
		config.ConnConfig.DefaultQueryExecMode = pgx.QueryExecModeCacheDescribe
		slog.Debug("auto-configured cache_describe mode for PgBouncer compatibility", "port", 6543)
	}

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	return pool, nil
}

// GetExecutor returns the transaction bound to the context when one is
// present, the pool otherwise, so repositories transparently join
// enclosing transactions.
func GetExecutor(ctx context.Context, pool *pgxpool.Pool) repositories.DBTX {
	if tx := repositories.GetTx(ctx); tx != nil {
		return tx
	}
	return pool
}
