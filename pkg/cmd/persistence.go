package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/dukex/flowdef/pkg/history"
	"github.com/dukex/flowdef/pkg/persistence"
	"github.com/dukex/flowdef/pkg/persistence/file"
	"github.com/dukex/flowdef/pkg/persistence/postgresql"
)

var supportedPersistenceProviders = []string{"file", "postgres", "postgresql"}

// NewPersistence opens the store named by databaseURL. postgres:// and postgresql:// URLs select
// PostgreSQL; anything else is a file:// directory.
func NewPersistence(ctx context.Context, logger *slog.Logger, databaseURL string) (persistence.Persistence, error) {
	switch parsePersistenceProvider(databaseURL) {
	case "postgres", "postgresql":
		p, err := postgresql.NewPersistence(ctx, logger, databaseURL)
		if err != nil {
			return nil, fmt.Errorf("failed to open postgres persistence: %w", err)
		}

		return p, nil
	default:
		return file.NewPersistence(databaseURL), nil
	}
}

// NewHistory reads run history from the same database as the definitions when it is PostgreSQL.
// Other stores have no run history.
func NewHistory(p persistence.Persistence, logger *slog.Logger) history.Source {
	if pg, ok := p.(*postgresql.Persistence); ok {
		return history.NewPostgres(pg.DB(), logger)
	}

	return history.NewStatic()
}

func parsePersistenceProvider(databaseURL string) string {
	parts := strings.Split(databaseURL, "://")

	provider := parts[0]
	for _, supported := range supportedPersistenceProviders {
		if provider == supported {
			return provider
		}
	}

	return "file"
}
