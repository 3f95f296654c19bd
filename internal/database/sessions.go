package database

import (
	"database/sql"
	"errors"
	"fmt"
)

// LoadSession returns the persisted session blob for a credential key,
// or (nil, nil) when no blob is stored.
func (db *DB) LoadSession(key string) ([]byte, error) {
	var blob []byte
	err := db.conn.QueryRow(
		"SELECT blob FROM sessions WHERE credential_key = ?", key,
	).Scan(&blob)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("loading session: %w", err)
	}
	return blob, nil
}

// SaveSession stores or replaces the session blob for a credential key.
func (db *DB) SaveSession(key string, blob []byte) error {
	_, err := db.conn.Exec(
		`INSERT INTO sessions (credential_key, blob, saved_at)
		VALUES (?, ?, datetime('now'))
		ON CONFLICT(credential_key) DO UPDATE SET
			blob = excluded.blob,
			saved_at = excluded.saved_at`,
		key, blob,
	)
	if err != nil {
		return fmt.Errorf("saving session: %w", err)
	}
	return nil
}

// DeleteSession removes the persisted blob for a credential key.
// Deleting a missing row is not an error.
func (db *DB) DeleteSession(key string) error {
	if _, err := db.conn.Exec(
		"DELETE FROM sessions WHERE credential_key = ?", key,
	); err != nil {
		return fmt.Errorf("deleting session: %w", err)
	}
	return nil
}
