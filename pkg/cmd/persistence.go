package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/dukex/sortie/pkg/persistence"
	"github.com/dukex/sortie/pkg/persistence/file"
	"github.com/dukex/sortie/pkg/persistence/postgresql"
)

var ErrUnsupportedProvider = errors.New("unsupported provider")

// NewPersistence selects the store from the URL scheme. Paths without a
// scheme are treated as file stores.
func NewPersistence(ctx context.Context, logger *slog.Logger, databaseURL string) (persistence.Persistence, error) {
	switch parsePersistenceProvider(databaseURL) {
	case "file":
		return file.NewPersistence(databaseURL), nil
	case "postgres", "postgresql":
		store, err := postgresql.NewPersistence(ctx, logger, databaseURL)
		if err != nil {
			return nil, fmt.Errorf("failed to open postgres store: %w", err)
		}

		return store, nil
	default:
		return nil, fmt.Errorf("%w: database %q", ErrUnsupportedProvider, databaseURL)
	}
}

func parsePersistenceProvider(databaseURL string) string {
	provider, _, found := strings.Cut(databaseURL, "://")
	if !found {
		return "file"
	}

	return provider
}
