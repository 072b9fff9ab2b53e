package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/dukex/aide/pkg/persistence"
	"github.com/dukex/aide/pkg/persistence/file"
	"github.com/dukex/aide/pkg/persistence/postgresql"
	"github.com/dukex/aide/pkg/persistence/redis"
)

const ClaimsMemory = "memory"

var supportedPersistenceProviders = []string{"file", "postgres", "postgresql"}

// NewPersistence opens the store named by databaseURL. Anything that is not
// a postgres URL is a directory for the file store.
func NewPersistence(ctx context.Context, logger *slog.Logger, databaseURL string) (persistence.Persistence, error) {
	switch parsePersistenceProvider(databaseURL) {
	case "postgres", "postgresql":
		return postgresql.NewPersistence(ctx, logger, databaseURL)
	default:
		return file.NewPersistence(strings.TrimPrefix(databaseURL, "file://")), nil
	}
}

func parsePersistenceProvider(databaseURL string) string {
	parts := strings.Split(databaseURL, "://")
	if len(parts) < 2 {
		return "file"
	}

	provider := parts[0]
	for _, supported := range supportedPersistenceProviders {
		if provider == supported {
			return provider
		}
	}

	return "file"
}

// NewClaimStore opens the run claim store. claimsURL is a redis:// URL,
// "postgres" to share the postgres store, or "memory" for a single process.
func NewClaimStore(claimsURL string, store persistence.Persistence, logger *slog.Logger) (persistence.ClaimStore, error) {
	switch {
	case claimsURL == "" || claimsURL == ClaimsMemory:
		return file.NewClaimStore(), nil
	case strings.HasPrefix(claimsURL, "redis://"), strings.HasPrefix(claimsURL, "rediss://"):
		return redis.NewClaimStoreFromURL(claimsURL, "aide:")
	case claimsURL == "postgres" || parsePersistenceProvider(claimsURL) != "file":
		pg, ok := store.(*postgresql.Persistence)
		if !ok {
			return nil, fmt.Errorf("postgres claims need a postgres DATABASE_URL")
		}

		return postgresql.NewClaimStore(pg.DB(), logger), nil
	default:
		return nil, fmt.Errorf("unsupported claims store: %s", claimsURL)
	}
}
