// Package migrations holds the embedded schema history for the romdl
// database and applies it with golang-migrate.
package migrations

import (
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"io/fs"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source"
	"github.com/golang-migrate/migrate/v4/source/iofs"
)

//go:embed files/*.sql
var files embed.FS

var (
	ErrUnversioned = errors.New("database has no schema version")
	ErrDirty       = errors.New("database schema is dirty")
	ErrBehind      = errors.New("database schema is behind")
	ErrAhead       = errors.New("database schema is newer than this binary")
)

// State is where a database sits in the embedded schema history.
// Version 0 means no migration has been applied.
type State struct {
	Version uint
	Latest  uint
	Dirty   bool
}

// Check returns nil when the database is clean and at Latest.
func (s State) Check() error {
	switch {
	case s.Version == 0:
		return ErrUnversioned
	case s.Dirty:
		return fmt.Errorf("%w at version %d", ErrDirty, s.Version)
	case s.Version < s.Latest:
		return fmt.Errorf("%w: at version %d, latest is %d", ErrBehind, s.Version, s.Latest)
	case s.Version > s.Latest:
		return fmt.Errorf("%w: at version %d, binary knows %d", ErrAhead, s.Version, s.Latest)
	}
	return nil
}

// Latest returns the highest version among the embedded migration files.
func Latest() (uint, error) {
	entries, err := fs.ReadDir(files, "files")
	if err != nil {
		return 0, fmt.Errorf("reading migrations: %w", err)
	}
	var latest uint
	for _, e := range entries {
		m, err := source.Parse(e.Name())
		if err != nil {
			return 0, fmt.Errorf("parsing migration %s: %w", e.Name(), err)
		}
		latest = max(latest, m.Version)
	}
	if latest == 0 {
		return 0, errors.New("no migrations embedded")
	}
	return latest, nil
}

// Inspect reads the schema state of db without changing it.
func Inspect(db *sql.DB) (State, error) {
	m, err := open(db)
	if err != nil {
		return State{}, err
	}
	return stateOf(m)
}

// Up applies pending migrations and returns the resulting state. The
// returned error is non-nil if the database did not end at Latest.
func Up(db *sql.DB) (State, error) {
	m, err := open(db)
	if err != nil {
		return State{}, err
	}
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		st, _ := stateOf(m)
		return st, fmt.Errorf("migrating: %w", err)
	}
	st, err := stateOf(m)
	if err != nil {
		return st, err
	}
	return st, st.Check()
}

// open wraps db in a migrate instance. The instance is never closed:
// closing it would close db, which belongs to the caller.
func open(db *sql.DB) (*migrate.Migrate, error) {
	src, err := iofs.New(files, "files")
	if err != nil {
		return nil, fmt.Errorf("loading migrations: %w", err)
	}
	driver, err := sqlite3.WithInstance(db, &sqlite3.Config{})
	if err != nil {
		src.Close()
		return nil, fmt.Errorf("preparing sqlite driver: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", src, "sqlite3", driver)
	if err != nil {
		src.Close()
		return nil, fmt.Errorf("preparing migrator: %w", err)
	}
	return m, nil
}

func stateOf(m *migrate.Migrate) (State, error) {
	latest, err := Latest()
	if err != nil {
		return State{}, err
	}
	version, dirty, err := m.Version()
	if errors.Is(err, migrate.ErrNilVersion) {
		return State{Latest: latest}, nil
	}
	if err != nil {
		return State{}, fmt.Errorf("reading schema version: %w", err)
	}
	return State{Version: version, Latest: latest, Dirty: dirty}, nil
}
