package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
	"github.com/sirupsen/logrus"

	"github.com/platinummonkey/hubcap/pkg/observability"
	"github.com/platinummonkey/hubcap/pkg/repository"
)

// Supported database drivers.
const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite3"
)

// ErrUnsupportedDriver is returned for a driver other than DriverPostgres or DriverSQLite.
var ErrUnsupportedDriver = errors.New("unsupported audit driver")

const postgresSchema = `
	CREATE TABLE IF NOT EXISTS hubcap_inspections (
		id BIGSERIAL PRIMARY KEY,
		generation_id VARCHAR(36),
		kind VARCHAR(100) NOT NULL,
		source TEXT NOT NULL,
		status VARCHAR(20) NOT NULL,
		records INTEGER NOT NULL,
		skipped INTEGER NOT NULL,
		failures INTEGER NOT NULL,
		error_message TEXT,
		duration_ms BIGINT NOT NULL,
		inspected_at TIMESTAMP WITH TIME ZONE NOT NULL,
		details JSONB
	);

	CREATE INDEX IF NOT EXISTS idx_hubcap_inspections_source ON hubcap_inspections(kind, source);
	CREATE INDEX IF NOT EXISTS idx_hubcap_inspections_inspected_at ON hubcap_inspections(inspected_at DESC);
`

const sqliteSchema = `
	CREATE TABLE IF NOT EXISTS hubcap_inspections (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		generation_id TEXT,
		kind TEXT NOT NULL,
		source TEXT NOT NULL,
		status TEXT NOT NULL,
		records INTEGER NOT NULL,
		skipped INTEGER NOT NULL,
		failures INTEGER NOT NULL,
		error_message TEXT,
		duration_ms INTEGER NOT NULL,
		inspected_at TIMESTAMP NOT NULL,
		details TEXT
	);

	CREATE INDEX IF NOT EXISTS idx_hubcap_inspections_source ON hubcap_inspections(kind, source);
	CREATE INDEX IF NOT EXISTS idx_hubcap_inspections_inspected_at ON hubcap_inspections(inspected_at DESC);
`

// Store records inspections in a SQL database.
type Store struct {
	db     *sql.DB
	driver string
	log    logrus.FieldLogger
}

// Open connects to the database and prepares the inspections table.
func Open(ctx context.Context, driver, dsn string, log logrus.FieldLogger) (*Store, error) {
	if driver != DriverPostgres && driver != DriverSQLite {
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedDriver, driver)
	}
	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s database: %w", driver, err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to %s database: %w", driver, err)
	}
	store, err := NewStore(ctx, db, driver, log)
	if err != nil {
		db.Close()
		return nil, err
	}
	return store, nil
}

// NewStore uses an open database. driver selects the SQL dialect.
func NewStore(ctx context.Context, db *sql.DB, driver string, log logrus.FieldLogger) (*Store, error) {
	if db == nil {
		return nil, fmt.Errorf("database connection is required")
	}
	schema := postgresSchema
	switch driver {
	case DriverPostgres:
	case DriverSQLite:
		schema = sqliteSchema
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedDriver, driver)
	}

	s := &Store{
		db:     db,
		driver: driver,
		log:    observability.OrDefault(log).WithField("component", "audit"),
	}
	if _, err := db.ExecContext(ctx, schema); err != nil {
		return nil, fmt.Errorf("failed to ensure hubcap_inspections table: %w", err)
	}
	return s, nil
}

// placeholder returns the n-th (1-based) bind parameter of the dialect.
func (s *Store) placeholder(n int) string {
	if s.driver == DriverPostgres {
		return fmt.Sprintf("$%d", n)
	}
	return "?"
}

// InspectionFinished records ev. Failures to record are logged, never returned.
func (s *Store) InspectionFinished(ctx context.Context, ev repository.Event) {
	if err := s.Record(ctx, EntryFromEvent(ev)); err != nil {
		s.log.WithError(err).WithField("source", ev.Source).Warn("Failed to record inspection")
	}
}

// Record inserts e and sets its ID.
func (s *Store) Record(ctx context.Context, e *Entry) error {
	var details sql.NullString
	if e.Details != nil {
		data, err := json.Marshal(e.Details)
		if err != nil {
			return fmt.Errorf("failed to marshal details: %w", err)
		}
		details = sql.NullString{String: string(data), Valid: true}
	}

	ph := make([]string, 11)
	for i := range ph {
		ph[i] = s.placeholder(i + 1)
	}
	query := fmt.Sprintf(`
		INSERT INTO hubcap_inspections (
			generation_id, kind, source, status,
			records, skipped, failures,
			error_message, duration_ms, inspected_at, details
		) VALUES (%s) RETURNING id`, strings.Join(ph, ", "))

	err := s.db.QueryRowContext(ctx, query,
		nullString(e.GenerationID), e.Kind, e.Source, string(e.Status),
		e.Records, e.Skipped, e.Failures,
		nullString(e.Error), e.Duration.Milliseconds(), e.InspectedAt.UTC(), details,
	).Scan(&e.ID)
	if err != nil {
		return fmt.Errorf("failed to insert inspection: %w", err)
	}
	return nil
}

// Search returns the entries matching filter, newest first.
func (s *Store) Search(ctx context.Context, filter Filter) ([]*Entry, error) {
	query := `
		SELECT
			id, generation_id, kind, source, status,
			records, skipped, failures,
			error_message, duration_ms, inspected_at, details
		FROM hubcap_inspections
		WHERE 1=1`

	var args []any
	add := func(clause string, arg any) {
		args = append(args, arg)
		query += fmt.Sprintf(" AND %s %s", clause, s.placeholder(len(args)))
	}
	if filter.Kind != "" {
		add("kind =", filter.Kind)
	}
	if filter.Source != "" {
		add("source =", filter.Source)
	}
	if filter.Status != "" {
		add("status =", string(filter.Status))
	}
	if filter.Since != nil {
		add("inspected_at >=", filter.Since.UTC())
	}

	limit := filter.Limit
	if limit <= 0 {
		limit = DefaultLimit
	}
	args = append(args, limit)
	query += fmt.Sprintf(" ORDER BY id DESC LIMIT %s", s.placeholder(len(args)))

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to search inspections: %w", err)
	}
	defer rows.Close()

	entries := []*Entry{}
	for rows.Next() {
		var (
			e          Entry
			generation sql.NullString
			status     string
			errMsg     sql.NullString
			durationMS int64
			details    sql.NullString
		)
		if err := rows.Scan(
			&e.ID, &generation, &e.Kind, &e.Source, &status,
			&e.Records, &e.Skipped, &e.Failures,
			&errMsg, &durationMS, &e.InspectedAt, &details,
		); err != nil {
			return nil, fmt.Errorf("failed to scan inspection: %w", err)
		}
		e.GenerationID = generation.String
		e.Status = Status(status)
		e.Error = errMsg.String
		e.Duration = time.Duration(durationMS) * time.Millisecond
		e.InspectedAt = e.InspectedAt.UTC()
		if details.Valid && details.String != "" {
			e.Details = &Details{}
			if err := json.Unmarshal([]byte(details.String), e.Details); err != nil {
				return nil, fmt.Errorf("failed to unmarshal details of inspection %d: %w", e.ID, err)
			}
		}
		entries = append(entries, &e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read inspections: %w", err)
	}
	return entries, nil
}

// Cleanup removes entries inspected more than retention ago and returns how many were removed.
func (s *Store) Cleanup(ctx context.Context, retention time.Duration) (int64, error) {
	cutoff := time.Now().Add(-retention).UTC()
	result, err := s.db.ExecContext(ctx,
		"DELETE FROM hubcap_inspections WHERE inspected_at < "+s.placeholder(1), cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to clean up inspections: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, err
	}
	if n > 0 {
		s.log.WithField("removed", n).Info("Removed old inspections")
	}
	return n, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
