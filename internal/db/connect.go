// Package db opens and migrates Conductor's durable store.
package db

import (
	"fmt"
	"os"
	"path/filepath"

	"gorm.io/driver/mysql"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// Open connects to the store described by driver. "sqlite" (the default)
// takes a file path and runs in WAL mode so producer reads never block on
// the single writer. "mysql" takes a DSN and exists for deployments that
// already run a MySQL-compatible server.
func Open(driver, source string) (*gorm.DB, error) {
	switch driver {
	case "", "sqlite":
		return OpenSQLite(source)
	case "mysql":
		return OpenMySQL(source)
	default:
		return nil, fmt.Errorf("db: unknown driver %q", driver)
	}
}

// OpenSQLite opens (creating if needed) a SQLite database at path with WAL
// journaling and busy timeout set.
func OpenSQLite(path string) (*gorm.DB, error) {
	if path == "" {
		return nil, fmt.Errorf("db: sqlite path is required")
	}
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("db: create data dir: %w", err)
		}
	}
	dsn := path + "?_journal_mode=WAL&_busy_timeout=5000"
	gdb, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("db: open sqlite %s: %w", path, err)
	}
	// One writer at a time: the store has a single-writer discipline, and a
	// connection pool >1 on SQLite just trades lock errors for latency.
	sqlDB, err := gdb.DB()
	if err != nil {
		return nil, fmt.Errorf("db: unwrap sqlite handle: %w", err)
	}
	sqlDB.SetMaxOpenConns(1)
	return gdb, nil
}

// OpenMySQL opens a GORM connection to a MySQL-compatible server.
func OpenMySQL(dsn string) (*gorm.DB, error) {
	if dsn == "" {
		return nil, fmt.Errorf("db: mysql dsn is required")
	}
	gdb, err := gorm.Open(mysql.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("db: open mysql: %w", err)
	}
	return gdb, nil
}
