package sinks

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/fjlanasa/trainpos/api/v1/events"
	"github.com/fjlanasa/trainpos/config"
	_ "modernc.org/sqlite"
)

// SQLiteSink writes one database file per route, with times stored as
// REAL epoch seconds.
type SQLiteSink struct {
	path  string
	table string
	db    *sql.DB
}

func NewSQLiteSink(cfg config.SQLiteSinkConfig) *SQLiteSink {
	table := cfg.Table
	if table == "" {
		table = config.DefaultTable
	}
	return &SQLiteSink{path: cfg.Path, table: table}
}

func (s *SQLiteSink) Init(ctx context.Context) error {
	if dir := filepath.Dir(s.path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("sqlite sink: create directory: %w", err)
		}
	}
	db, err := sql.Open("sqlite", s.path)
	if err != nil {
		return fmt.Errorf("sqlite sink: open %s: %w", s.path, err)
	}
	db.SetMaxOpenConns(1)

	_, err = db.ExecContext(ctx, fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
		vehicle_id TEXT NOT NULL,
		journey_number INTEGER NOT NULL,
		received_time REAL NOT NULL,
		modified_time REAL NOT NULL,
		measured_time REAL NOT NULL,
		sweref99tm_x REAL NOT NULL,
		sweref99tm_y REAL NOT NULL,
		wgs84_lon REAL NOT NULL,
		wgs84_lat REAL NOT NULL,
		bearing INTEGER,
		speed INTEGER
	)`, quoteIdent(s.table)))
	if err != nil {
		db.Close()
		return fmt.Errorf("sqlite sink: create table: %w", err)
	}
	s.db = db
	return nil
}

func (s *SQLiteSink) Commit(ctx context.Context, records []events.Record) (err error) {
	if len(records) == 0 {
		return nil
	}
	if s.db == nil {
		return fmt.Errorf("sqlite sink: not initialized")
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("sqlite sink: begin: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(Columns)), ", ")
	stmt, err := tx.PrepareContext(ctx, fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)",
		quoteIdent(s.table), strings.Join(Columns, ", "), placeholders))
	if err != nil {
		return fmt.Errorf("sqlite sink: prepare: %w", err)
	}
	defer stmt.Close()

	for _, record := range records {
		if _, err = stmt.ExecContext(ctx, row(record)...); err != nil {
			return fmt.Errorf("sqlite sink: insert: %w", err)
		}
	}
	if err = tx.Commit(); err != nil {
		return fmt.Errorf("sqlite sink: commit: %w", err)
	}
	return nil
}

func (s *SQLiteSink) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}
