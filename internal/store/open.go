package store

import (
	"log/slog"

	"github.com/invoicator-app/invoicator/internal/common"
)

// Open picks the backend from the configured driver.
func Open(cfg common.DatabaseConfig, logger *slog.Logger) (Store, error) {
	switch cfg.Driver {
	case "postgres":
		return NewPostgres(cfg.DSN, cfg.MaxConns, cfg.MaxConnLifetime, logger)
	default:
		return NewSQLite(cfg.DSN, logger)
	}
}
