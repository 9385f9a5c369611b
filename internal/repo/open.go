package repo

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/miradorstack/mirador-incident/internal/config"
)

// Open selects the Store once at startup. With driver "auto" an unreachable SQLite
// database degrades to the in-memory store; an explicit "sqlite" driver fails instead.
func Open(ctx context.Context, cfg config.StoreConfig, logger *slog.Logger) (Store, error) {
	if logger == nil {
		logger = slog.Default()
	}
	driver := strings.ToLower(strings.TrimSpace(cfg.Driver))

	switch driver {
	case "memory":
		logger.Info("using in-memory store")
		return NewMemoryStore(), nil
	case "sqlite", "auto", "":
	default:
		return nil, fmt.Errorf("unknown store driver %q", cfg.Driver)
	}

	pingCtx := ctx
	if cfg.PingTimeout > 0 {
		var cancel context.CancelFunc
		pingCtx, cancel = context.WithTimeout(ctx, cfg.PingTimeout)
		defer cancel()
	}

	store, err := NewSQLiteStore(pingCtx, cfg.SQLitePath)
	if err != nil {
		if driver == "sqlite" {
			return nil, fmt.Errorf("open sqlite store: %w", err)
		}
		logger.Warn("sqlite store unreachable, falling back to in-memory store", "path", cfg.SQLitePath, "error", err)
		return NewMemoryStore(), nil
	}
	logger.Info("using sqlite store", "path", cfg.SQLitePath)
	return store, nil
}
