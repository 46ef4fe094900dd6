// Package cmd provides common initialization functions for command-line applications.
package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/dukex/paperdigest/pkg/persistence"
	"github.com/dukex/paperdigest/pkg/persistence/file"
	"github.com/dukex/paperdigest/pkg/persistence/memory"
	"github.com/dukex/paperdigest/pkg/persistence/postgresql"
	"github.com/dukex/paperdigest/pkg/persistence/sqlite"
)

var supportedPersistenceProviders = []string{"postgres", "postgresql", "sqlite", "file", "memory"}

// NewPersistence opens the store named by the URL scheme:
// postgres://..., sqlite://path/to/file.db (sqlite://:memory:), file://data/dir
// or memory://.
func NewPersistence(ctx context.Context, logger *slog.Logger, databaseURL string) (persistence.Persistence, error) {
	provider, rest, err := parsePersistenceProvider(databaseURL)
	if err != nil {
		return nil, err
	}

	switch provider {
	case "postgres", "postgresql":
		return postgresql.NewPersistence(ctx, logger, databaseURL)
	case "sqlite":
		return sqlite.NewPersistence(ctx, logger, rest)
	case "file":
		store, err := file.NewPersistence(rest)
		if err != nil {
			return nil, err
		}

		return store, nil
	default:
		return memory.NewPersistence(), nil
	}
}

func parsePersistenceProvider(databaseURL string) (string, string, error) {
	provider, rest, found := strings.Cut(databaseURL, "://")
	if !found {
		return "", "", fmt.Errorf("database url %q has no scheme; expected one of %s",
			databaseURL, strings.Join(supportedPersistenceProviders, ", "))
	}

	for _, supported := range supportedPersistenceProviders {
		if provider == supported {
			return provider, rest, nil
		}
	}

	return "", "", fmt.Errorf("unsupported persistence provider %q", provider)
}
