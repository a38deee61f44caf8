// Package sqlite implements domain.Store on a local SQLite file.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"aichat/internal/domain"
)

var _ domain.Store = (*Store)(nil)

// Store is a domain.Store backed by SQLite. All access goes through a single
// connection, so writes are serialized by database/sql.
type Store struct {
	db     *sql.DB
	logger *slog.Logger
	now    func() time.Time
}

// Open opens (or creates) the database at path and migrates it. Use
// ":memory:" for a throwaway database.
func Open(path string, logger *slog.Logger) (*Store, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
			return nil, fmt.Errorf("%w: create database directory: %w", domain.ErrPersistence, err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("%w: open db: %w", domain.ErrPersistence, err)
	}

	// SQLite allows one writer; a single connection also keeps ":memory:"
	// databases alive for the life of the Store.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA foreign_keys=ON",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("%w: pragma: %w", domain.ErrPersistence, err)
		}
	}

	if err := migrate(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("%w: migrate: %w", domain.ErrPersistence, err)
	}

	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Store{
		db:     db,
		logger: logger,
		now:    func() time.Time { return time.Now().UTC() },
	}, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// persistErr marks a database failure as a persistence error.
func persistErr(op string, err error) error {
	return fmt.Errorf("%s: %w: %w", op, domain.ErrPersistence, err)
}

func notFound(op, kind, id string) error {
	return fmt.Errorf("%s: %s %q: %w", op, kind, id, domain.ErrNotFound)
}

// withTx runs fn in a transaction. fn's error is returned unchanged; failures
// to begin or commit are persistence errors.
func (s *Store) withTx(ctx context.Context, op string, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return persistErr(op, err)
	}
	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil && !errors.Is(rbErr, sql.ErrTxDone) {
			s.logger.Warn("rollback failed", "op", op, "error", rbErr)
		}
		return err
	}
	if err := tx.Commit(); err != nil {
		return persistErr(op, err)
	}
	return nil
}

// Timestamps are stored as Unix nanoseconds so that ORDER BY is chronological.
func toNanos(t time.Time) int64 { return t.UnixNano() }

func fromNanos(n int64) time.Time { return time.Unix(0, n).UTC() }

type rowScanner interface {
	Scan(dest ...any) error
}

// queryer is satisfied by *sql.DB and *sql.Tx.
type queryer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func exists(ctx context.Context, q queryer, query string, args ...any) (bool, error) {
	var one int
	err := q.QueryRowContext(ctx, query, args...).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	return err == nil, err
}
