package services

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"chathistory/config"

	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
)

const pingTimeout = 5 * time.Second

// OpenDatabase returns a handle for the configured backend. No connection is
// made here; each request acquires its own.
func OpenDatabase(cfg config.Config) (*sql.DB, error) {
	if cfg.DBDriver == config.DriverSQLite {
		if err := os.MkdirAll(filepath.Dir(cfg.DBPath), 0o755); err != nil {
			return nil, fmt.Errorf("create db dir: %w", err)
		}
	}

	db, err := sql.Open(cfg.DBDriver, cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", cfg.DBDriver, err)
	}
	return db, nil
}

// CheckDatabase pings the backend once at startup. A failure is only logged
// since the backend may come up after the server does.
func CheckDatabase(ctx context.Context, db *sql.DB, logger *slog.Logger) bool {
	ctx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		logger.Warn("database not reachable at startup", append([]any{"error", err}, dbErrorAttrs(err)...)...)
		return false
	}
	logger.Info("database reachable")
	return true
}

// EnsureSchema creates the chat_history table when it does not exist.
func EnsureSchema(ctx context.Context, db *sql.DB, driver string) error {
	q, err := queriesFor(driver)
	if err != nil {
		return err
	}
	if _, err := db.ExecContext(ctx, q.createTable); err != nil {
		return fmt.Errorf("failed to create %s table: %w", tableChatHistory, err)
	}
	return nil
}
