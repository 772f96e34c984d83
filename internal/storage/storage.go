// Package storage provides SQL persistence for jackpots, prediction snapshots,
// calibration curves, thresholds, league weights, tickets and tasks. SQLite is
// the embedded default; PostgreSQL is supported for shared deployments.
package storage

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"
)

const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// Storage wraps a SQL database for all persistence operations.
type Storage struct {
	db     *sql.DB
	driver string
	now    func() time.Time
}

// New opens or creates the database. For sqlite an empty dsn defaults to
// $TMPDIR/jackpotengine/data.db; postgres requires a dsn.
func New(driver, dsn string) (*Storage, error) {
	if driver == "" {
		driver = DriverSQLite
	}
	switch driver {
	case DriverSQLite:
		if dsn == "" {
			dsn = filepath.Join(os.TempDir(), "jackpotengine", "data.db")
		}
		if dsn != ":memory:" {
			if err := os.MkdirAll(filepath.Dir(dsn), 0o755); err != nil {
				return nil, fmt.Errorf("failed to create data directory: %w", err)
			}
		}
	case DriverPostgres:
		if dsn == "" {
			return nil, fmt.Errorf("postgres storage requires a dsn")
		}
	default:
		return nil, fmt.Errorf("unsupported storage driver %q", driver)
	}

	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if driver == DriverSQLite {
		db.SetMaxOpenConns(1) // single writer; WAL allows concurrent readers
		if _, err := db.Exec(`PRAGMA journal_mode=WAL`); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to set WAL mode: %w", err)
		}
		if _, err := db.Exec(`PRAGMA foreign_keys=ON`); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
		}
	}
	s := &Storage{db: db, driver: driver, now: time.Now}
	if err := s.createTables(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}
	return s, nil
}

// Close closes the underlying database connection.
func (s *Storage) Close() error {
	return s.db.Close()
}

// Ping checks that the database is reachable.
func (s *Storage) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Driver returns the configured driver name.
func (s *Storage) Driver() string {
	return s.driver
}

func (s *Storage) createTables() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS jackpots (
			id          TEXT PRIMARY KEY,
			name        TEXT NOT NULL,
			created_at  BIGINT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS fixtures (
			jackpot_id  TEXT NOT NULL REFERENCES jackpots(id) ON DELETE CASCADE,
			id          TEXT NOT NULL,
			position    INTEGER NOT NULL,
			league      TEXT NOT NULL,
			home_team   TEXT NOT NULL,
			away_team   TEXT NOT NULL,
			odds_home   DOUBLE PRECISION NOT NULL,
			odds_draw   DOUBLE PRECISION NOT NULL,
			odds_away   DOUBLE PRECISION NOT NULL,
			prob_home   DOUBLE PRECISION NOT NULL,
			prob_draw   DOUBLE PRECISION NOT NULL,
			prob_away   DOUBLE PRECISION NOT NULL,
			xg_diff     DOUBLE PRECISION,
			kickoff     BIGINT NOT NULL DEFAULT 0,
			PRIMARY KEY (jackpot_id, id)
		)`,
		`CREATE TABLE IF NOT EXISTS fixture_results (
			jackpot_id  TEXT NOT NULL,
			fixture_id  TEXT NOT NULL,
			result      TEXT NOT NULL,
			recorded_at BIGINT NOT NULL,
			PRIMARY KEY (jackpot_id, fixture_id)
		)`,
		`CREATE TABLE IF NOT EXISTS prediction_snapshots (
			jackpot_id    TEXT NOT NULL,
			fixture_id    TEXT NOT NULL,
			model_version TEXT NOT NULL,
			league        TEXT NOT NULL,
			prob_home     DOUBLE PRECISION NOT NULL,
			prob_draw     DOUBLE PRECISION NOT NULL,
			prob_away     DOUBLE PRECISION NOT NULL,
			result        TEXT NOT NULL DEFAULT '',
			created_at    BIGINT NOT NULL,
			PRIMARY KEY (jackpot_id, fixture_id, model_version)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_snapshots_scope ON prediction_snapshots(model_version, league)`,
		`CREATE TABLE IF NOT EXISTS calibration_curves (
			id            TEXT PRIMARY KEY,
			scope_key     TEXT NOT NULL,
			outcome       TEXT NOT NULL,
			league        TEXT NOT NULL,
			model_version TEXT NOT NULL,
			points        TEXT NOT NULL,
			samples_used  INTEGER NOT NULL,
			active        INTEGER NOT NULL DEFAULT 0,
			created_at    BIGINT NOT NULL,
			valid_from    BIGINT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_curves_scope ON calibration_curves(model_version, league, active)`,
		`CREATE TABLE IF NOT EXISTS calibration_active (
			scope_key   TEXT PRIMARY KEY,
			curve_id    TEXT NOT NULL REFERENCES calibration_curves(id),
			updated_at  BIGINT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS thresholds (
			id             TEXT PRIMARY KEY,
			profile        TEXT NOT NULL,
			theta          DOUBLE PRECISION NOT NULL,
			k              INTEGER NOT NULL,
			window_start   BIGINT NOT NULL,
			window_end     BIGINT NOT NULL,
			samples_used   INTEGER NOT NULL,
			accuracy       DOUBLE PRECISION NOT NULL,
			effective_from BIGINT NOT NULL,
			is_current     INTEGER NOT NULL DEFAULT 0
		)`,
		`CREATE INDEX IF NOT EXISTS idx_thresholds_profile ON thresholds(profile, is_current)`,
		`CREATE TABLE IF NOT EXISTS league_weights (
			version     TEXT PRIMARY KEY,
			profile     TEXT NOT NULL,
			weights     TEXT NOT NULL,
			created_at  BIGINT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS tickets (
			id                   TEXT PRIMARY KEY,
			jackpot_id           TEXT NOT NULL,
			set_key              TEXT NOT NULL,
			name                 TEXT NOT NULL DEFAULT '',
			fixture_ids          TEXT NOT NULL,
			picks                TEXT NOT NULL,
			combined_odds        DOUBLE PRECISION NOT NULL,
			combined_probability DOUBLE PRECISION NOT NULL,
			uds                  DOUBLE PRECISION,
			contradictions       INTEGER NOT NULL,
			accepted             INTEGER NOT NULL,
			hit                  INTEGER,
			created_at           BIGINT NOT NULL,
			settled_at           BIGINT NOT NULL DEFAULT 0
		)`,
		`CREATE INDEX IF NOT EXISTS idx_tickets_name ON tickets(name)`,
		`CREATE INDEX IF NOT EXISTS idx_tickets_jackpot ON tickets(jackpot_id)`,
		`CREATE TABLE IF NOT EXISTS tasks (
			id          TEXT PRIMARY KEY,
			kind        TEXT NOT NULL,
			state       TEXT NOT NULL,
			progress    DOUBLE PRECISION NOT NULL,
			phase       TEXT NOT NULL DEFAULT '',
			error       TEXT NOT NULL DEFAULT '',
			result      TEXT NOT NULL DEFAULT '',
			created_at  BIGINT NOT NULL,
			updated_at  BIGINT NOT NULL
		)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}

// rebind rewrites ? placeholders to $n for postgres.
func (s *Storage) rebind(query string) string {
	if s.driver != DriverPostgres {
		return query
	}
	var b strings.Builder
	b.Grow(len(query) + 16)
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func (s *Storage) exec(ctx context.Context, q execer, query string, args ...any) (sql.Result, error) {
	return q.ExecContext(ctx, s.rebind(query), args...)
}

func (s *Storage) query(ctx context.Context, q execer, query string, args ...any) (*sql.Rows, error) {
	return q.QueryContext(ctx, s.rebind(query), args...)
}

func (s *Storage) queryRow(ctx context.Context, q execer, query string, args ...any) *sql.Row {
	return q.QueryRowContext(ctx, s.rebind(query), args...)
}

// execer is satisfied by *sql.DB and *sql.Tx.
type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// nanos stores the zero time as 0.
func nanos(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixNano()
}

func fromNanos(n int64) time.Time {
	if n == 0 {
		return time.Time{}
	}
	return time.Unix(0, n)
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
