// SPDX-License-Identifier: GPL-3.0-or-later

// Copyright (c) 2025 Spruce Health

// Package store persists interview state in SQLite. Every method that the
// call flow uses to change state is a single conditional statement or a short
// transaction, so concurrent callbacks for the same attempt cannot undo each
// other's writes.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite" // pure Go driver

	"github.com/sprucehealth/audiointerview/clock"
)

var (
	ErrNotFound = errors.New("not found")
	// ErrConflict is returned when a compare-and-set lost a race.
	ErrConflict = errors.New("conflicting update")
)

// Config defines SQLite operational parameters.
type Config struct {
	BusyTimeout  time.Duration
	MaxOpenConns int
}

func DefaultConfig() Config {
	return Config{
		BusyTimeout:  5 * time.Second,
		MaxOpenConns: 4,
	}
}

// Open initializes a connection pool with WAL, busy timeout and foreign keys
// applied to every connection.
func Open(dbPath string, cfg Config) (*sql.DB, error) {
	if cfg.MaxOpenConns <= 0 {
		cfg.MaxOpenConns = DefaultConfig().MaxOpenConns
	}
	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(%d)&_pragma=synchronous(NORMAL)&_pragma=foreign_keys(ON)&_txlock=immediate",
		dbPath, cfg.BusyTimeout.Milliseconds())

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("sqlite: open failed: %w", err)
	}
	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxOpenConns)
	db.SetConnMaxLifetime(time.Hour)

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlite: ping failed: %w", err)
	}
	return db, nil
}

// SQLite implements the persistence primitives used by the call flow.
type SQLite struct {
	db    *sql.DB
	clock clock.Clock
}

type Option func(*SQLite)

// WithClock sets the clock used for created_at/updated_at bookkeeping.
func WithClock(c clock.Clock) Option {
	return func(s *SQLite) {
		s.clock = c
	}
}

// New wraps an open database. Call Migrate before use.
func New(db *sql.DB, opts ...Option) *SQLite {
	s := &SQLite{db: db, clock: clock.NewAutoClock()}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// OpenSQLite opens dbPath and brings its schema up to date.
func OpenSQLite(ctx context.Context, dbPath string, cfg Config, opts ...Option) (*SQLite, error) {
	db, err := Open(dbPath, cfg)
	if err != nil {
		return nil, err
	}
	s := New(db, opts...)
	if err := s.Migrate(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("store: migration failed: %w", err)
	}
	return s, nil
}

func (s *SQLite) Close() error {
	return s.db.Close()
}

// Ping checks that the database is reachable.
func (s *SQLite) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *SQLite) now() string {
	return formatTime(s.clock.Now())
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(v string) (time.Time, error) {
	return time.Parse(time.RFC3339Nano, v)
}

func parseNullTime(v sql.NullString) (*time.Time, error) {
	if !v.Valid || v.String == "" {
		return nil, nil
	}
	t, err := parseTime(v.String)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func nullString(v string) sql.NullString {
	return sql.NullString{String: v, Valid: v != ""}
}

func affected(res sql.Result) (int64, error) {
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("rows affected: %w", err)
	}
	return n, nil
}
