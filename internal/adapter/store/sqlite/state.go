package sqlite

import (
	"context"
	"database/sql"
	"errors"
)

// LoadState returns the value saved under key, or an error wrapping
// domain.ErrNotFound.
func (s *Store) LoadState(ctx context.Context, key string) ([]byte, error) {
	const op = "sqlite.LoadState"
	var v []byte
	err := s.db.QueryRowContext(ctx, "SELECT value FROM app_state WHERE key = ?", key).Scan(&v)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, notFound(op, "state", key)
	}
	if err != nil {
		return nil, persistErr(op, err)
	}
	return v, nil
}

func (s *Store) SaveState(ctx context.Context, key string, value []byte) error {
	const op = "sqlite.SaveState"
	if value == nil {
		value = []byte{}
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO app_state (key, value, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		key, value, toNanos(s.now()),
	)
	if err != nil {
		return persistErr(op, err)
	}
	return nil
}
