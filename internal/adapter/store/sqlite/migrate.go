package sqlite

import (
	"database/sql"
	"fmt"
)

// schemaVersion is stored in PRAGMA user_version.
const schemaVersion = 1

var migrations = map[int]string{
	1: `
		CREATE TABLE IF NOT EXISTS conversations (
			id              TEXT PRIMARY KEY,
			name            TEXT NOT NULL,
			created_at      INTEGER NOT NULL,
			updated_at      INTEGER NOT NULL,
			model           TEXT NOT NULL DEFAULT '',
			provider        TEXT NOT NULL DEFAULT '',
			message_count   INTEGER NOT NULL DEFAULT 0,
			last_message_at INTEGER
		);

		CREATE TABLE IF NOT EXISTS messages (
			id              TEXT PRIMARY KEY,
			conversation_id TEXT NOT NULL REFERENCES conversations(id) ON DELETE CASCADE,
			role            TEXT NOT NULL,
			content         TEXT NOT NULL DEFAULT '',
			loading         INTEGER NOT NULL DEFAULT 0,
			images          TEXT NOT NULL DEFAULT '',
			ts              INTEGER NOT NULL,
			model           TEXT NOT NULL DEFAULT '',
			provider        TEXT NOT NULL DEFAULT '',
			error           TEXT NOT NULL DEFAULT '',
			seq             INTEGER NOT NULL DEFAULT 0
		);

		CREATE INDEX IF NOT EXISTS idx_messages_conversation ON messages(conversation_id, ts);

		CREATE TABLE IF NOT EXISTS app_state (
			key        TEXT PRIMARY KEY,
			value      BLOB NOT NULL,
			updated_at INTEGER NOT NULL
		);
	`,
}

func migrate(db *sql.DB) error {
	var current int
	if err := db.QueryRow("PRAGMA user_version").Scan(&current); err != nil {
		return fmt.Errorf("read schema version: %w", err)
	}
	if current > schemaVersion {
		return fmt.Errorf("database schema version %d is newer than supported version %d", current, schemaVersion)
	}
	for v := current + 1; v <= schemaVersion; v++ {
		tx, err := db.Begin()
		if err != nil {
			return err
		}
		if _, err := tx.Exec(migrations[v]); err != nil {
			tx.Rollback()
			return fmt.Errorf("apply schema version %d: %w", v, err)
		}
		// PRAGMA does not accept bound parameters.
		if _, err := tx.Exec(fmt.Sprintf("PRAGMA user_version = %d", v)); err != nil {
			tx.Rollback()
			return fmt.Errorf("set schema version %d: %w", v, err)
		}
		if err := tx.Commit(); err != nil {
			return err
		}
	}
	return nil
}
