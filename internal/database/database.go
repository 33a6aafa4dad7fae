package database

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	_ "github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog"
)

type DB struct {
	*sql.DB
	path   string
	logger *zerolog.Logger
}

// NewDB opens the sqlite ledger at path and creates the schema. Write
// transactions start IMMEDIATE so the overlap check and the insert of a
// booking cannot interleave with another writer, even across processes.
func NewDB(path string, logger *zerolog.Logger) (*DB, error) {
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}

	memory := path == ":memory:"
	if !memory {
		dir := filepath.Dir(path)
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", dsn(path))
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if memory {
		// every connection to :memory: is a separate database
		db.SetMaxOpenConns(1)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if err := createTables(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}

	logger.Info().Str("path", path).Msg("database initialized")
	return &DB{DB: db, path: path, logger: logger}, nil
}

func dsn(path string) string {
	params := "_busy_timeout=5000&_txlock=immediate&_foreign_keys=on"
	if path != ":memory:" {
		params += "&_journal_mode=WAL"
	}
	sep := "?"
	if strings.Contains(path, "?") {
		sep = "&"
	}
	return path + sep + params
}

func createTables(db *sql.DB) error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS lots (
            id INTEGER PRIMARY KEY,
            name TEXT NOT NULL,
            address TEXT NOT NULL DEFAULT '',
            pincode TEXT NOT NULL DEFAULT '',
            price_per_hour TEXT NOT NULL,
            created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
            updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
        )`,
		`CREATE TABLE IF NOT EXISTS spots (
            lot_id INTEGER NOT NULL REFERENCES lots(id) ON DELETE CASCADE,
            spot_number INTEGER NOT NULL,
            created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
            PRIMARY KEY (lot_id, spot_number)
        )`,
		// spot reference is a relation only, so no foreign key
		`CREATE TABLE IF NOT EXISTS bookings (
            id INTEGER PRIMARY KEY AUTOINCREMENT,
            lot_id INTEGER NOT NULL,
            spot_number INTEGER NOT NULL,
            requester_id TEXT NOT NULL,
            vehicle_ref TEXT NOT NULL,
            entry_ns INTEGER NOT NULL,
            exit_ns INTEGER NOT NULL,
            hourly_rate TEXT NOT NULL,
            total_cost INTEGER NOT NULL,
            status TEXT NOT NULL DEFAULT 'active',
            created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
            updated_at DATETIME DEFAULT CURRENT_TIMESTAMP,
            version INTEGER NOT NULL DEFAULT 1,
            CHECK (entry_ns < exit_ns)
        )`,

		`CREATE INDEX IF NOT EXISTS idx_bookings_spot ON bookings(lot_id, spot_number, status)`,
		`CREATE INDEX IF NOT EXISTS idx_bookings_requester ON bookings(requester_id)`,
		`CREATE INDEX IF NOT EXISTS idx_bookings_status_exit ON bookings(status, exit_ns)`,
	}

	for _, query := range queries {
		if _, err := db.Exec(query); err != nil {
			return fmt.Errorf("error executing query %s: %w", query, err)
		}
	}
	return nil
}

// Path returns the file the database was opened from.
func (db *DB) Path() string {
	return db.path
}

// Ready reports whether the database answers queries.
func (db *DB) Ready(ctx context.Context) error {
	return db.PingContext(ctx)
}
