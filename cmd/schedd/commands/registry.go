package commands

import (
	"database/sql"
	"fmt"

	"go.uber.org/zap"

	"github.com/t77yq/schedd/internal/config"
	"github.com/t77yq/schedd/internal/executor"
	"github.com/t77yq/schedd/internal/handler"
)

// buildRegistry wires every configured executor. db_query registers only
// when a DSN is configured; container_run only when enabled and the Docker
// daemon is reachable.
func buildRegistry(cfg *config.Config, logger *zap.Logger) (*executor.Registry, func(), error) {
	registry := executor.NewRegistry(logger)
	registry.Register("shell_command", handler.NewShellCommandHandler(logger))
	registry.Register("http_request", handler.NewHTTPRequestHandler(logger))
	registry.Register("file_cleanup", handler.NewFileCleanupHandler(logger, cfg.Handlers.FileCleanupBaseDir))

	cleanup := func() {}

	if dsn := cfg.Handlers.DBQueryDSN; dsn != "" {
		db, err := sql.Open("sqlite3", dsn)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to open db_query database: %w", err)
		}
		registry.Register("db_query", handler.NewDBQueryHandler(db, logger))
		cleanup = func() { db.Close() }
	}

	if cfg.Handlers.ContainerEnabled {
		containerHandler, err := handler.NewContainerRunHandler(logger)
		if err != nil {
			logger.Warn("Docker unavailable, container_run executor disabled", zap.Error(err))
		} else {
			registry.Register("container_run", containerHandler)
		}
	}

	return registry, cleanup, nil
}
