package sinks

import (
	"context"
	"fmt"

	"github.com/fjlanasa/trainpos/api/v1/events"
	"github.com/fjlanasa/trainpos/config"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresSink copies each cycle's records into one table per route inside
// a single transaction.
type PostgresSink struct {
	dsn   string
	table pgx.Identifier
	pool  *pgxpool.Pool
}

func NewPostgresSink(route config.ID, cfg config.PostgresSinkConfig) *PostgresSink {
	return &PostgresSink{
		dsn:   cfg.DSN,
		table: pgx.Identifier{tableName(route, cfg.Table)},
	}
}

func (s *PostgresSink) Init(ctx context.Context) error {
	pool, err := pgxpool.New(ctx, s.dsn)
	if err != nil {
		return fmt.Errorf("postgres sink: connect: %w", err)
	}
	_, err = pool.Exec(ctx, fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
		vehicle_id text NOT NULL,
		journey_number integer NOT NULL,
		received_time double precision NOT NULL,
		modified_time double precision NOT NULL,
		measured_time double precision NOT NULL,
		sweref99tm_x double precision NOT NULL,
		sweref99tm_y double precision NOT NULL,
		wgs84_lon double precision NOT NULL,
		wgs84_lat double precision NOT NULL,
		bearing integer,
		speed integer
	)`, s.table.Sanitize()))
	if err != nil {
		pool.Close()
		return fmt.Errorf("postgres sink: create table %s: %w", s.table.Sanitize(), err)
	}
	s.pool = pool
	return nil
}

func (s *PostgresSink) Commit(ctx context.Context, records []events.Record) error {
	if len(records) == 0 {
		return nil
	}
	if s.pool == nil {
		return fmt.Errorf("postgres sink: not initialized")
	}
	return pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		n, err := tx.CopyFrom(ctx, s.table, Columns, pgx.CopyFromSlice(len(records), func(i int) ([]any, error) {
			return row(records[i]), nil
		}))
		if err != nil {
			return fmt.Errorf("postgres sink: copy: %w", err)
		}
		if int(n) != len(records) {
			return fmt.Errorf("postgres sink: copied %d of %d records", n, len(records))
		}
		return nil
	})
}

func (s *PostgresSink) Close() error {
	if s.pool != nil {
		s.pool.Close()
	}
	return nil
}
