package dataset

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	// SQLite driver registered as "sqlite".
	_ "modernc.org/sqlite"
)

// Read queries shared by the SQL-backed sources.
const (
	observationsQuery = `SELECT area_type, area_code, area_name, date, metric, payload
FROM time_series`

	placesQuery = `SELECT postcode,
       COALESCE(lsoa, ''), COALESCE(lsoa_name, ''),
       COALESCE(msoa, ''), COALESCE(msoa_name, ''),
       COALESCE(ltla, ''), COALESCE(ltla_name, ''),
       COALESCE(utla, ''), COALESCE(utla_name, ''),
       COALESCE(region, ''), COALESCE(region_name, ''),
       COALESCE(nation, ''), COALESCE(nation_name, ''),
       COALESCE(nhs_trust, ''), COALESCE(nhs_trust_name, ''),
       COALESCE(nhs_region, ''), COALESCE(nhs_region_name, ''),
       COALESCE(longitude, 0), COALESCE(latitude, 0)
FROM postcode_lookup`

	releaseQuery = `SELECT timestamp FROM release_reference WHERE released ORDER BY timestamp DESC LIMIT 1`

	pingQuery = `SELECT 1 FROM time_series LIMIT 1`
)

// SQLiteSchema creates the tables read by SQLSource.
const SQLiteSchema = `
CREATE TABLE IF NOT EXISTS time_series (
    area_type TEXT NOT NULL,
    area_code TEXT NOT NULL,
    area_name TEXT NOT NULL,
    date      TEXT NOT NULL,
    metric    TEXT NOT NULL,
    payload   TEXT
);
CREATE INDEX IF NOT EXISTS time_series_area ON time_series (area_type, area_code, date);
CREATE TABLE IF NOT EXISTS postcode_lookup (
    postcode        TEXT PRIMARY KEY,
    lsoa            TEXT, lsoa_name       TEXT,
    msoa            TEXT, msoa_name       TEXT,
    ltla            TEXT, ltla_name       TEXT,
    utla            TEXT, utla_name       TEXT,
    region          TEXT, region_name     TEXT,
    nation          TEXT, nation_name     TEXT,
    nhs_trust       TEXT, nhs_trust_name  TEXT,
    nhs_region      TEXT, nhs_region_name TEXT,
    longitude       REAL,
    latitude        REAL
);
CREATE TABLE IF NOT EXISTS release_reference (
    timestamp TEXT NOT NULL,
    released  INTEGER NOT NULL DEFAULT 0
);
`

var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999Z07:00",
	"2006-01-02 15:04:05.999999999",
	DateLayout,
}

func parseTimestamp(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized timestamp %q", s)
}

// rowIterator is the part of *sql.Rows and pgx.Rows the loaders need.
type rowIterator interface {
	Next() bool
	Err() error
}

func drain(ctx context.Context, rows rowIterator, each func() error) error {
	n := 0
	for rows.Next() {
		if n%ctxCheckInterval == 0 {
			if err := ctx.Err(); err != nil {
				return err
			}
		}
		n++
		if err := each(); err != nil {
			return err
		}
	}
	return rows.Err()
}

func placeDest(p *Place) []any {
	return []any{
		&p.Postcode,
		&p.Lsoa, &p.LsoaName,
		&p.Msoa, &p.MsoaName,
		&p.Ltla, &p.LtlaName,
		&p.Utla, &p.UtlaName,
		&p.Region, &p.RegionName,
		&p.Nation, &p.NationName,
		&p.NhsTrust, &p.NhsTrustName,
		&p.NhsRegion, &p.NhsRegionName,
		&p.Longitude, &p.Latitude,
	}
}

// SQLSource loads snapshots through database/sql. It is used with the
// pure-Go SQLite driver.
type SQLSource struct {
	db     *sql.DB
	path   string
	schema *Schema
	logger *zap.Logger
}

// OpenSQLite opens the SQLite database file at path read-only.
func OpenSQLite(path string, schema *Schema, logger *zap.Logger) (*SQLSource, error) {
	dsn := path
	if !strings.HasPrefix(path, "file:") {
		dsn = "file:" + path + "?mode=ro&_pragma=busy_timeout(5000)"
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", path, err)
	}

	src := NewSQLSource(db, schema, logger)
	src.path = path
	return src, nil
}

// NewSQLSource wraps an open database handle.
func NewSQLSource(db *sql.DB, schema *Schema, logger *zap.Logger) *SQLSource {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SQLSource{db: db, schema: schema, logger: logger}
}

// Path is the database file, empty when the source wraps a handle.
func (s *SQLSource) Path() string { return s.path }

// Ping runs the ping query used by the health check.
func (s *SQLSource) Ping(ctx context.Context) error {
	var one int
	err := s.db.QueryRowContext(ctx, pingQuery).Scan(&one)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("ping: %w", err)
	}
	return nil
}

// Close releases the database handle.
func (s *SQLSource) Close() error {
	return s.db.Close()
}

// Load reads every table and builds a new snapshot.
func (s *SQLSource) Load(ctx context.Context) (*Snapshot, error) {
	start := time.Now()

	var raw string
	if err := s.db.QueryRowContext(ctx, releaseQuery).Scan(&raw); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNoRelease
		}
		return nil, fmt.Errorf("read release timestamp: %w", err)
	}
	released, err := parseTimestamp(raw)
	if err != nil {
		return nil, fmt.Errorf("read release timestamp: %w", err)
	}

	b := NewBuilder(s.schema)
	if err := s.loadObservations(ctx, b); err != nil {
		return nil, err
	}
	if err := s.loadPlaces(ctx, b); err != nil {
		return nil, err
	}

	snap := b.Build(released.Format(time.RFC3339Nano), released)
	s.logger.Info("dataset loaded",
		zap.String("source", "sqlite"),
		zap.String("version", snap.Version),
		zap.Int("records", snap.Len()),
		zap.Int("places", len(snap.Places())),
		zap.Any("skipped_metrics", b.Skipped()),
		zap.Duration("took", time.Since(start)),
	)

	return snap, nil
}

func (s *SQLSource) loadObservations(ctx context.Context, b *Builder) error {
	rows, err := s.db.QueryContext(ctx, observationsQuery)
	if err != nil {
		return fmt.Errorf("query time_series: %w", err)
	}
	defer rows.Close()

	var (
		o       Observation
		date    string
		payload sql.NullString
	)
	err = drain(ctx, rows, func() error {
		if err := rows.Scan(&o.AreaType, &o.AreaCode, &o.AreaName, &date, &o.Metric, &payload); err != nil {
			return fmt.Errorf("scan time_series: %w", err)
		}
		d, err := ParseDate(date)
		if err != nil {
			return fmt.Errorf("time_series date: %w", err)
		}
		o.Date = d
		o.Payload = nil
		if payload.Valid {
			o.Payload = []byte(payload.String)
		}
		return b.Add(o)
	})
	return err
}

func (s *SQLSource) loadPlaces(ctx context.Context, b *Builder) error {
	rows, err := s.db.QueryContext(ctx, placesQuery)
	if err != nil {
		return fmt.Errorf("query postcode_lookup: %w", err)
	}
	defer rows.Close()

	return drain(ctx, rows, func() error {
		var p Place
		if err := rows.Scan(placeDest(&p)...); err != nil {
			return fmt.Errorf("scan postcode_lookup: %w", err)
		}
		b.AddPlace(p)
		return nil
	})
}
