package sqlbase

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
)

// Store combines the SQL repositories over one connection pool.
type Store struct {
	*ExecutionRepository
	*PaperRepository

	db *sql.DB
}

// NewStore runs the migrations and wires the repositories.
func NewStore(ctx context.Context, logger *slog.Logger, db *sql.DB, dialect Dialect, migrations map[int]string) (*Store, error) {
	migrationManager := NewMigrationManager(logger, db, dialect, migrations)

	if err := migrationManager.RunMigrations(ctx); err != nil {
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return &Store{
		ExecutionRepository: NewExecutionRepository(db, dialect, logger),
		PaperRepository:     NewPaperRepository(db, dialect, logger),
		db:                  db,
	}, nil
}

// DB exposes the underlying pool.
func (s *Store) DB() *sql.DB {
	return s.db
}

// Close closes the database connection.
func (s *Store) Close(_ context.Context) error {
	if s.db != nil {
		if err := s.db.Close(); err != nil {
			return fmt.Errorf("failed to close database connection: %w", err)
		}
	}

	return nil
}

// HealthCheck verifies the database connection is healthy.
func (s *Store) HealthCheck(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return fmt.Errorf("failed to ping database: %w", err)
	}

	return nil
}
