package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	_ "github.com/mattn/go-sqlite3"
)

const (
	DriverPostgres = "pgx"
	DriverSQLite   = "sqlite3"

	pingTimeout = 12 * time.Second
)

// Store is the single database handle of one run. It is constructed by the
// entry point and passed to everything that reads or writes.
type Store struct {
	db     *sql.DB
	driver string
	now    func() time.Time
}

func New(db *sql.DB, driver string) *Store {
	return &Store{db: db, driver: driver, now: time.Now}
}

// Open connects with driver (pgx or sqlite3; empty means detect from url) and
// pings the database.
func Open(ctx context.Context, driver, url string) (*Store, error) {
	url = strings.TrimSpace(url)
	if url == "" {
		return nil, errors.New("store: database url is empty")
	}
	if driver == "" {
		driver = DetectDriver(url)
	}

	switch driver {
	case DriverSQLite:
		if path := sqlitePath(url); path != "" {
			if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
				return nil, fmt.Errorf("store: creating DB dir: %w", err)
			}
		}
	case DriverPostgres:
	default:
		return nil, fmt.Errorf("store: unsupported driver %q", driver)
	}

	db, err := sql.Open(driver, url)
	if err != nil {
		return nil, fmt.Errorf("store: opening DB: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("store: ping: %w", err)
	}

	if driver == DriverSQLite {
		if err := configureSQLiteConnection(db); err != nil {
			db.Close()
			return nil, err
		}
	} else {
		db.SetMaxOpenConns(4)
		db.SetMaxIdleConns(2)
	}
	return New(db, driver), nil
}

// DetectDriver guesses the driver from the shape of the url.
func DetectDriver(url string) string {
	lower := strings.ToLower(strings.TrimSpace(url))
	switch {
	case strings.HasPrefix(lower, "postgres://"), strings.HasPrefix(lower, "postgresql://"), strings.Contains(lower, "host="):
		return DriverPostgres
	case strings.HasPrefix(lower, "file:"), strings.Contains(lower, ":memory:"),
		strings.HasSuffix(lower, ".db"), strings.HasSuffix(lower, ".sqlite"), strings.HasSuffix(lower, ".sqlite3"):
		return DriverSQLite
	default:
		return DriverPostgres
	}
}

func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *Store) DB() *sql.DB {
	return s.db
}

func (s *Store) Driver() string {
	return s.driver
}

func configureSQLiteConnection(db *sql.DB) error {
	if _, err := db.Exec(`PRAGMA journal_mode = WAL;`); err != nil {
		return fmt.Errorf("store: set journal_mode WAL: %w", err)
	}
	if _, err := db.Exec(`PRAGMA busy_timeout = 5000;`); err != nil {
		return fmt.Errorf("store: set busy_timeout: %w", err)
	}
	db.SetMaxOpenConns(1)
	return nil
}

func sqlitePath(url string) string {
	path := strings.TrimPrefix(url, "file:")
	if i := strings.Index(path, "?"); i >= 0 {
		path = path[:i]
	}
	if path == "" || strings.Contains(path, ":memory:") {
		return ""
	}
	return path
}

func nullString(value string) sql.NullString {
	if strings.TrimSpace(value) == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: value, Valid: true}
}

func nullFloat(value *float64) sql.NullFloat64 {
	if value == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *value, Valid: true}
}

func nullTime(value time.Time) sql.NullTime {
	if value.IsZero() {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: value.UTC(), Valid: true}
}

func nullJSON(raw []byte) sql.NullString {
	if len(raw) == 0 {
		return sql.NullString{}
	}
	return sql.NullString{String: string(raw), Valid: true}
}

func floatPtr(v sql.NullFloat64) *float64 {
	if !v.Valid {
		return nil
	}
	f := v.Float64
	return &f
}

func timeOf(v sql.NullTime) time.Time {
	if !v.Valid {
		return time.Time{}
	}
	return v.Time.UTC()
}

func dateOnly(value time.Time) time.Time {
	if value.IsZero() {
		return value
	}
	value = value.UTC()
	return time.Date(value.Year(), value.Month(), value.Day(), 0, 0, 0, 0, time.UTC)
}

// where accumulates positional conditions; placeholders are numbered in the
// order they are added so both drivers bind them the same way.
type where struct {
	clauses []string
	args    []any
}

func (w *where) add(format string, value any) {
	w.args = append(w.args, value)
	w.clauses = append(w.clauses, fmt.Sprintf(format, fmt.Sprintf("$%d", len(w.args))))
}

func (w *where) String() string {
	if len(w.clauses) == 0 {
		return ""
	}
	return " WHERE " + strings.Join(w.clauses, " AND ")
}
