package cli

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/runnerr0/procedura/internal/config"
	"github.com/runnerr0/procedura/internal/log"
	"github.com/runnerr0/procedura/internal/protocol"
	"github.com/runnerr0/procedura/internal/storage"
	"github.com/runnerr0/procedura/internal/transport"
)

// requester is the part of the transport client the commands use.
type requester interface {
	Send(ctx context.Context, req protocol.Request) (protocol.Response, error)
	Watch(fn func(protocol.Request)) (func(), error)
}

// loadConfig reads --config, falling back to the default location and
// then to built-in defaults.
func loadConfig(globals *GlobalFlags) *config.Config {
	var cfg *config.Config
	var err error
	if globals != nil && globals.Config != "" {
		cfg, err = config.Load(globals.Config)
	} else {
		cfg, err = config.LoadOrCreate()
	}
	if err != nil {
		return config.DefaultConfig()
	}
	return cfg
}

// resolveDBPath determines the SQLite database file path.
// Priority: --db-path flag > config file > default config.
func resolveDBPath(globals *GlobalFlags) (string, error) {
	if globals != nil && globals.DBPath != "" {
		return globals.DBPath, nil
	}
	return loadConfig(globals).DBPath()
}

// openStore opens the local database, runs migrations, and returns a
// ready-to-use store and the underlying *sql.DB.
func openStore(globals *GlobalFlags) (*storage.SQLiteStore, *sql.DB, error) {
	dbPath, err := resolveDBPath(globals)
	if err != nil {
		return nil, nil, err
	}

	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, nil, fmt.Errorf("create database directory: %w", err)
	}

	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, nil, fmt.Errorf("open database: %w", err)
	}

	runner := storage.NewMigrationRunner(db)
	if err := runner.Run(); err != nil {
		db.Close()
		return nil, nil, fmt.Errorf("run migrations: %w", err)
	}

	store, err := storage.NewSQLiteStore(db)
	if err != nil {
		db.Close()
		return nil, nil, fmt.Errorf("create store: %w", err)
	}

	return store, db, nil
}

// dialService connects to the running background service. The returned
// function closes the connection.
func dialService(globals *GlobalFlags) (*transport.Client, func(), error) {
	cfg := loadConfig(globals)
	logger := log.Discard()
	if globals != nil && globals.Verbose {
		logger = log.NewLogger(cfg.Logging, os.Stderr)
	}
	tcfg := cfg.Transport
	tcfg.MaxReconnects = 0
	conn, err := transport.Connect(tcfg, logger)
	if err != nil {
		return nil, nil, fmt.Errorf("service not reachable (is `procedura serve` running?): %w", err)
	}
	return transport.NewClient(conn), conn.Close, nil
}

// serviceFor returns the injected requester or dials the service.
func serviceFor(injected requester, globals *GlobalFlags) (requester, func(), error) {
	if injected != nil {
		return injected, func() {}, nil
	}
	client, closeFn, err := dialService(globals)
	if err != nil {
		return nil, nil, err
	}
	return client, closeFn, nil
}

// call sends req and turns a failed response into an error.
func call(ctx context.Context, svc requester, req protocol.Request) (protocol.Response, error) {
	resp, err := svc.Send(ctx, req)
	if err != nil {
		return protocol.Response{}, err
	}
	if !resp.Success {
		return resp, fmt.Errorf("%s", resp.Error)
	}
	return resp, nil
}

// parseDuration parses a human-friendly duration string like "30d", "7d", "24h", "2w".
func parseDuration(s string) (time.Duration, error) {
	if s == "" {
		return 0, fmt.Errorf("invalid duration: empty string")
	}

	if len(s) < 2 {
		return 0, fmt.Errorf("invalid duration: %q", s)
	}

	suffix := s[len(s)-1]
	numStr := s[:len(s)-1]

	n, err := strconv.Atoi(numStr)
	if err != nil {
		return 0, fmt.Errorf("invalid duration: %q", s)
	}

	switch suffix {
	case 'd':
		return time.Duration(n) * 24 * time.Hour, nil
	case 'h':
		return time.Duration(n) * time.Hour, nil
	case 'w':
		return time.Duration(n) * 7 * 24 * time.Hour, nil
	case 'm':
		return time.Duration(n) * time.Minute, nil
	default:
		return 0, fmt.Errorf("invalid duration: %q (use d, h, w, or m suffix)", s)
	}
}

// formatDurationHuman formats a duration into a human-readable string like "30 days".
func formatDurationHuman(d time.Duration) string {
	days := int(d.Hours() / 24)
	if days > 0 {
		if days == 1 {
			return "1 day"
		}
		return fmt.Sprintf("%d days", days)
	}
	hours := int(d.Hours())
	if hours > 0 {
		if hours == 1 {
			return "1 hour"
		}
		return fmt.Sprintf("%d hours", hours)
	}
	return d.String()
}
