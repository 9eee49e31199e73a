package database

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"romdl/internal/database/migrations"
	"romdl/internal/romdl"

	_ "github.com/mattn/go-sqlite3" // SQLite driver
)

// SQLiteStore keeps preferences, folder grants and download history in
// SQLite. It implements romdl.KVStore and romdl.HistoryRecorder.
type SQLiteStore struct {
	db    *sql.DB
	path  string
	clock romdl.Clock
}

// NewSQLiteStore opens the database at path and migrates it to the latest
// schema. path can be a file path or ":memory:".
func NewSQLiteStore(path string, clock romdl.Clock) (*SQLiteStore, error) {
	db, err := OpenConnection(path)
	if err != nil {
		return nil, err
	}
	if _, err := migrations.Up(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrating database: %w", err)
	}
	return NewSQLiteStoreFromDB(db, path, clock), nil
}

// NewSQLiteStoreFromDB wraps an existing, already migrated connection.
func NewSQLiteStoreFromDB(db *sql.DB, path string, clock romdl.Clock) *SQLiteStore {
	if clock == nil {
		clock = romdl.RealClock{}
	}
	return &SQLiteStore{db: db, path: path, clock: clock}
}

// OpenConnection opens and configures a SQLite database connection with appropriate PRAGMAs.
// path can be a file path or ":memory:" for in-memory database.
func OpenConnection(path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Each connection to :memory: opens its own empty database.
	if path == ":memory:" {
		db.SetMaxOpenConns(1)
	}

	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}
	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to set busy timeout: %w", err)
	}

	return db, nil
}

// DB returns the underlying connection.
func (s *SQLiteStore) DB() *sql.DB {
	return s.db
}

// Path returns the database path the store was opened with.
func (s *SQLiteStore) Path() string {
	return s.path
}

// CheckMigrations verifies the schema is clean and at the latest migration.
func (s *SQLiteStore) CheckMigrations() error {
	st, err := s.SchemaState()
	if err != nil {
		return err
	}
	return st.Check()
}

// SchemaState reports the database's position in the migration history.
func (s *SQLiteStore) SchemaState() (migrations.State, error) {
	return migrations.Inspect(s.db)
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Settings

func (s *SQLiteStore) Get(key string) (string, bool, error) {
	var value string
	err := s.db.QueryRow("SELECT value FROM settings WHERE key = ?", key).Scan(&value)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", false, nil
		}
		return "", false, fmt.Errorf("reading setting %s: %w", key, err)
	}
	return value, true, nil
}

func (s *SQLiteStore) Set(key, value string) error {
	_, err := s.db.Exec(`
		INSERT INTO settings (key, value, updated_at) VALUES (?, ?, ?)
		ON CONFLICT (key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		key, value, s.clock.Now().UTC())
	if err != nil {
		return fmt.Errorf("writing setting %s: %w", key, err)
	}
	return nil
}

func (s *SQLiteStore) Remove(key string) error {
	if _, err := s.db.Exec("DELETE FROM settings WHERE key = ?", key); err != nil {
		return fmt.Errorf("removing setting %s: %w", key, err)
	}
	return nil
}

// Keys returns every stored setting key in sorted order.
func (s *SQLiteStore) Keys() ([]string, error) {
	rows, err := s.db.Query("SELECT key FROM settings ORDER BY key")
	if err != nil {
		return nil, fmt.Errorf("listing settings: %w", err)
	}
	defer rows.Close()

	var keys []string
	for rows.Next() {
		var k string
		if err := rows.Scan(&k); err != nil {
			return nil, fmt.Errorf("scanning setting: %w", err)
		}
		keys = append(keys, k)
	}
	return keys, rows.Err()
}

// Download history

func (s *SQLiteStore) RecordDownload(e romdl.HistoryEntry) error {
	var started sql.NullTime
	if !e.StartedAt.IsZero() {
		started = sql.NullTime{Time: e.StartedAt.UTC(), Valid: true}
	}
	var errMsg sql.NullString
	if e.Error != "" {
		errMsg = sql.NullString{String: e.Error, Valid: true}
	}
	finished := e.FinishedAt
	if finished.IsZero() {
		finished = s.clock.Now()
	}

	_, err := s.db.Exec(`
		INSERT INTO download_history
			(download_id, rom_id, file_name, folder_key, status, error, bytes, started_at, finished_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.DownloadID, e.RomID, e.FileName, e.FolderKey, string(e.Status), errMsg, e.Bytes, started, finished.UTC())
	if err != nil {
		return fmt.Errorf("recording download %s: %w", e.DownloadID, err)
	}
	return nil
}

// History returns the most recent entries, newest first. A non-positive
// limit returns everything.
func (s *SQLiteStore) History(limit int) ([]romdl.HistoryEntry, error) {
	query := `
		SELECT download_id, rom_id, file_name, folder_key, status, error, bytes, started_at, finished_at
		FROM download_history
		ORDER BY finished_at DESC, id DESC`
	args := []any{}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying download history: %w", err)
	}
	defer rows.Close()

	var entries []romdl.HistoryEntry
	for rows.Next() {
		var (
			e       romdl.HistoryEntry
			status  string
			errMsg  sql.NullString
			started sql.NullTime
		)
		if err := rows.Scan(&e.DownloadID, &e.RomID, &e.FileName, &e.FolderKey, &status, &errMsg, &e.Bytes, &started, &e.FinishedAt); err != nil {
			return nil, fmt.Errorf("scanning download history: %w", err)
		}
		e.Status = romdl.Status(status)
		e.Error = errMsg.String
		if started.Valid {
			e.StartedAt = started.Time
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// PruneHistory deletes entries that finished before cutoff and returns how
// many were removed.
func (s *SQLiteStore) PruneHistory(cutoff time.Time) (int64, error) {
	res, err := s.db.Exec("DELETE FROM download_history WHERE finished_at < ?", cutoff.UTC())
	if err != nil {
		return 0, fmt.Errorf("pruning download history: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("pruning download history: %w", err)
	}
	return n, nil
}

var (
	_ romdl.KVStore         = (*SQLiteStore)(nil)
	_ romdl.HistoryRecorder = (*SQLiteStore)(nil)
)
