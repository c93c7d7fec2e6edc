package db

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"log"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// schemaSQL is compiled into the binary at build time so schema init works
// inside the runtime image without shipping the .sql file alongside it.
//
//go:embed schema.sql
var schemaSQL string

// ErrNotFound is returned by point reads when no row matches.
var ErrNotFound = errors.New("not found")

type Store struct {
	pool *pgxpool.Pool
}

// Connect initializes the connection pool to PostgreSQL using pgx.
func Connect(ctx context.Context, connStr string) (*Store, error) {
	pool, err := pgxpool.New(ctx, connStr)
	if err != nil {
		return nil, fmt.Errorf("unable to connect to database: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping failed: %w", err)
	}
	log.Println("Successfully connected to PostgreSQL for telemetry engine")
	return &Store{pool: pool}, nil
}

// Close gracefully closes the connection pool.
func (s *Store) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
}

// InitSchema executes the embedded schema.sql DDL statements.
func (s *Store) InitSchema(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schemaSQL); err != nil {
		return fmt.Errorf("failed to execute schema migrations: %w", err)
	}
	log.Println("Telemetry schema initialized")
	return nil
}

// Pool exposes the connection pool for subsystems that batch their own work.
func (s *Store) Pool() *pgxpool.Pool {
	return s.pool
}

func noRows(err error) bool {
	return errors.Is(err, pgx.ErrNoRows)
}

// uniqueViolation reports whether err is a unique-constraint violation on the
// named constraint or index.
func uniqueViolation(err error, constraint string) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505" && pgErr.ConstraintName == constraint
}
