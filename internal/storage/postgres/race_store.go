// Package postgres provides the Postgres-backed race result store.
package postgres

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"sync"
	"time"

	"cloud.google.com/go/civil"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/JakeFAU/hkjc-results-crawler/internal/crawler"
)

// DefaultTable is the table used when none is configured.
const DefaultTable = "race_results"

var validTableName = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// copyColumns is the column order used by BulkInsert.
var copyColumns = []string{
	"race_date",
	"race_no",
	"place",
	"horse_no",
	"horse_name",
	"jockey",
	"trainer",
	"declared_weight",
	"actual_weight",
	"draw",
	"winning_margin",
	"running_positions",
	"finish_time",
	"win_odds",
}

// Config controls the Postgres connection pool used for race results.
type Config struct {
	DSN             string
	Table           string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
}

type pool interface {
	Exec(context.Context, string, ...any) (pgconn.CommandTag, error)
	Query(context.Context, string, ...any) (pgx.Rows, error)
	QueryRow(context.Context, string, ...any) pgx.Row
	CopyFrom(context.Context, pgx.Identifier, []string, pgx.CopyFromSource) (int64, error)
	Ping(context.Context) error
	Close()
}

// RaceStore persists race results in Postgres.
type RaceStore struct {
	pool  pool
	table string

	// writeMu keeps a single writer at a time.
	writeMu sync.Mutex
}

var (
	_ crawler.RaceStore  = (*RaceStore)(nil)
	_ crawler.RaceReader = (*RaceStore)(nil)
)

// NewRaceStore connects to Postgres using the provided config.
func NewRaceStore(ctx context.Context, cfg Config) (*RaceStore, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("db.dsn is required")
	}
	table, err := tableName(cfg.Table)
	if err != nil {
		return nil, err
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	p, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return &RaceStore{pool: p, table: table}, nil
}

// NewRaceStoreWithPool constructs a store from an existing pool (primarily for testing).
func NewRaceStoreWithPool(p pool, table string) (*RaceStore, error) {
	if p == nil {
		return nil, fmt.Errorf("pool is required")
	}
	name, err := tableName(table)
	if err != nil {
		return nil, err
	}
	return &RaceStore{pool: p, table: name}, nil
}

func tableName(table string) (string, error) {
	if table == "" {
		table = DefaultTable
	}
	if !validTableName.MatchString(table) {
		return "", fmt.Errorf("invalid table name %q", table)
	}
	return table, nil
}

// Close releases the underlying pool resources.
func (s *RaceStore) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

// EnsureSchema creates the results table and its race index when absent.
// Existing tables are never altered.
func (s *RaceStore) EnsureSchema(ctx context.Context) error {
	createTable := fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS %s (
	id BIGSERIAL PRIMARY KEY,
	race_date DATE NOT NULL,
	race_no INTEGER NOT NULL,
	place TEXT NOT NULL DEFAULT '',
	horse_no TEXT NOT NULL DEFAULT '',
	horse_name TEXT NOT NULL DEFAULT '',
	jockey TEXT NOT NULL DEFAULT '',
	trainer TEXT NOT NULL DEFAULT '',
	declared_weight INTEGER NOT NULL DEFAULT 0,
	actual_weight INTEGER NOT NULL DEFAULT 0,
	draw INTEGER NOT NULL DEFAULT 0,
	winning_margin TEXT NOT NULL DEFAULT '',
	running_positions TEXT NOT NULL DEFAULT '',
	finish_time TEXT NOT NULL DEFAULT '',
	win_odds DOUBLE PRECISION NOT NULL DEFAULT 0
)`, s.table)
	if _, err := s.pool.Exec(ctx, createTable); err != nil {
		return fmt.Errorf("create race table: %w", err)
	}
	createIndex := fmt.Sprintf(
		`CREATE INDEX IF NOT EXISTS %s_race_idx ON %s (race_date, race_no)`, s.table, s.table)
	if _, err := s.pool.Exec(ctx, createIndex); err != nil {
		return fmt.Errorf("create race index: %w", err)
	}
	return nil
}

// IsRecorded reports whether any row exists for the race.
func (s *RaceStore) IsRecorded(ctx context.Context, date civil.Date, raceNo int) (bool, error) {
	query := fmt.Sprintf(
		`SELECT EXISTS (SELECT 1 FROM %s WHERE race_date = $1 AND race_no = $2)`, s.table)
	var exists bool
	if err := s.pool.QueryRow(ctx, query, dateValue(date), raceNo).Scan(&exists); err != nil {
		return false, fmt.Errorf("check race recorded: %w", err)
	}
	return exists, nil
}

// BulkInsert copies every record into the table in one round trip. There is
// no conflict handling: callers check IsRecorded first.
func (s *RaceStore) BulkInsert(ctx context.Context, records []crawler.RaceRecord) error {
	if len(records) == 0 {
		return nil
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	src := pgx.CopyFromSlice(len(records), func(i int) ([]any, error) {
		r := records[i]
		return []any{
			dateValue(r.Date),
			r.RaceNo,
			r.Place,
			r.HorseNo,
			r.HorseName,
			r.Jockey,
			r.Trainer,
			r.DeclaredWeight,
			r.ActualWeight,
			r.Draw,
			r.WinningMargin,
			r.RunningPositions,
			r.FinishTime,
			r.WinOdds,
		}, nil
	})
	n, err := s.pool.CopyFrom(ctx, pgx.Identifier{s.table}, copyColumns, src)
	if err != nil {
		return fmt.Errorf("copy race results: %w", err)
	}
	if int(n) != len(records) {
		return fmt.Errorf("copy race results: wrote %d of %d rows", n, len(records))
	}
	return nil
}

// ListRaces returns every row sorted by date, then race number.
func (s *RaceStore) ListRaces(ctx context.Context) ([]crawler.RaceRecord, error) {
	query := fmt.Sprintf(`SELECT %s FROM %s ORDER BY race_date, race_no, id`, selectColumns(), s.table)
	return s.query(ctx, query)
}

// ListRacesByDate returns the rows of one date, optionally limited to one race.
func (s *RaceStore) ListRacesByDate(ctx context.Context, date civil.Date, raceNo *int) ([]crawler.RaceRecord, error) {
	if raceNo == nil {
		query := fmt.Sprintf(
			`SELECT %s FROM %s WHERE race_date = $1 ORDER BY race_no, id`, selectColumns(), s.table)
		return s.query(ctx, query, dateValue(date))
	}
	query := fmt.Sprintf(
		`SELECT %s FROM %s WHERE race_date = $1 AND race_no = $2 ORDER BY id`, selectColumns(), s.table)
	return s.query(ctx, query, dateValue(date), *raceNo)
}

// Ping checks connectivity.
func (s *RaceStore) Ping(ctx context.Context) error {
	if err := s.pool.Ping(ctx); err != nil {
		return fmt.Errorf("ping postgres: %w", err)
	}
	return nil
}

func (s *RaceStore) query(ctx context.Context, query string, args ...any) ([]crawler.RaceRecord, error) {
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query race results: %w", err)
	}
	defer rows.Close()

	var out []crawler.RaceRecord
	for rows.Next() {
		var (
			r    crawler.RaceRecord
			date time.Time
		)
		if err := rows.Scan(
			&date,
			&r.RaceNo,
			&r.Place,
			&r.HorseNo,
			&r.HorseName,
			&r.Jockey,
			&r.Trainer,
			&r.DeclaredWeight,
			&r.ActualWeight,
			&r.Draw,
			&r.WinningMargin,
			&r.RunningPositions,
			&r.FinishTime,
			&r.WinOdds,
		); err != nil {
			return nil, fmt.Errorf("scan race result: %w", err)
		}
		r.Date = civil.DateOf(date)
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate race results: %w", err)
	}
	return out, nil
}

func selectColumns() string {
	return strings.Join(copyColumns, ", ")
}

// dateValue maps a calendar date onto the midnight-UTC time pgx encodes as DATE.
func dateValue(d civil.Date) time.Time {
	return d.In(time.UTC)
}
