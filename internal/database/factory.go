package database

import (
	"fmt"
	"os"
	"path/filepath"

	"romdl/internal/config"
	"romdl/internal/romdl"
)

// DatabaseFile is the SQLite file name inside the configured data dir.
const DatabaseFile = "romdl.db"

// NewStoreFromConfig creates a SQLiteStore based on the database config type.
func NewStoreFromConfig(cfg config.DatabaseConfig, clock romdl.Clock) (*SQLiteStore, error) {
	switch cfg.Type {
	case "sqlite":
		if cfg.DataDir == "" {
			return nil, fmt.Errorf("data_dir required for sqlite database")
		}
		if err := os.MkdirAll(cfg.DataDir, 0755); err != nil {
			return nil, fmt.Errorf("creating data dir: %w", err)
		}
		return NewSQLiteStore(filepath.Join(cfg.DataDir, DatabaseFile), clock)
	case "memory":
		return NewSQLiteStore(":memory:", clock)
	default:
		return nil, fmt.Errorf("unknown database type: %s", cfg.Type)
	}
}
