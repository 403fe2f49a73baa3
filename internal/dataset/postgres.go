package dataset

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

// PostgresSource loads snapshots from a Postgres database through a pgx pool.
// The tables match SQLiteSchema with DATE, JSONB and TIMESTAMPTZ column types.
type PostgresSource struct {
	pool   *pgxpool.Pool
	schema *Schema
	logger *zap.Logger
}

// OpenPostgres connects a pool to dsn and verifies it with a ping.
func OpenPostgres(ctx context.Context, dsn string, schema *Schema, logger *zap.Logger) (*PostgresSource, error) {
	config, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	connectCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	pool, err := pgxpool.NewWithConfig(connectCtx, config)
	if err != nil {
		return nil, fmt.Errorf("failed to create pool: %w", err)
	}

	if err := pool.Ping(connectCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	if logger == nil {
		logger = zap.NewNop()
	}
	return &PostgresSource{pool: pool, schema: schema, logger: logger}, nil
}

// Ping runs the ping query used by the health check.
func (s *PostgresSource) Ping(ctx context.Context) error {
	var one int
	err := s.pool.QueryRow(ctx, pingQuery).Scan(&one)
	if err != nil && !errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("ping: %w", err)
	}
	return nil
}

// Close releases the pool.
func (s *PostgresSource) Close() error {
	s.pool.Close()
	return nil
}

// Load reads every table and builds a new snapshot.
func (s *PostgresSource) Load(ctx context.Context) (*Snapshot, error) {
	start := time.Now()

	var released time.Time
	if err := s.pool.QueryRow(ctx, releaseQuery).Scan(&released); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNoRelease
		}
		return nil, fmt.Errorf("read release timestamp: %w", err)
	}

	b := NewBuilder(s.schema)

	rows, err := s.pool.Query(ctx, observationsQuery)
	if err != nil {
		return nil, fmt.Errorf("query time_series: %w", err)
	}
	var o Observation
	err = drain(ctx, rows, func() error {
		var payload []byte
		if err := rows.Scan(&o.AreaType, &o.AreaCode, &o.AreaName, &o.Date, &o.Metric, &payload); err != nil {
			return fmt.Errorf("scan time_series: %w", err)
		}
		o.Payload = payload
		return b.Add(o)
	})
	rows.Close()
	if err != nil {
		return nil, err
	}

	placeRows, err := s.pool.Query(ctx, placesQuery)
	if err != nil {
		return nil, fmt.Errorf("query postcode_lookup: %w", err)
	}
	err = drain(ctx, placeRows, func() error {
		var p Place
		if err := placeRows.Scan(placeDest(&p)...); err != nil {
			return fmt.Errorf("scan postcode_lookup: %w", err)
		}
		b.AddPlace(p)
		return nil
	})
	placeRows.Close()
	if err != nil {
		return nil, err
	}

	snap := b.Build(released.UTC().Format(time.RFC3339Nano), released)
	s.logger.Info("dataset loaded",
		zap.String("source", "postgres"),
		zap.String("version", snap.Version),
		zap.Int("records", snap.Len()),
		zap.Int("places", len(snap.Places())),
		zap.Any("skipped_metrics", b.Skipped()),
		zap.Duration("took", time.Since(start)),
	)

	return snap, nil
}
