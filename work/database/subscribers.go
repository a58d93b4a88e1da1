package database

import (
	"database/sql"
	"fmt"

	"kptv-panel/work/types"
)

// GetSubscriberByUsername retrieves a single subscriber record regardless of
// status; the verifier decides what disabled or expired records mean.
// Returns (nil, nil) when no such user exists.
func (db *DB) GetSubscriberByUsername(username string) (*types.Subscriber, error) {
	row := db.QueryRow(`
		SELECT id, username, password_hash, status, notes, created_at, expires_at
		FROM subscribers
		WHERE username = ?
	`, username)

	sub, err := scanSubscriber(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get subscriber: %w", err)
	}
	return sub, nil
}

// ListSubscribers returns all subscriber records ordered by username.
func (db *DB) ListSubscribers() ([]types.Subscriber, error) {
	rows, err := db.Query(`
		SELECT id, username, password_hash, status, notes, created_at, expires_at
		FROM subscribers
		ORDER BY username
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to list subscribers: %w", err)
	}
	defer rows.Close()

	var subs []types.Subscriber
	for rows.Next() {
		sub, err := scanSubscriber(rows)
		if err != nil {
			continue
		}
		subs = append(subs, *sub)
	}
	return subs, rows.Err()
}

// ListActiveSubscribers returns only active records, used when regenerating
// the htpasswd handoff file.
func (db *DB) ListActiveSubscribers() ([]types.Subscriber, error) {
	rows, err := db.Query(`
		SELECT id, username, password_hash, status, notes, created_at, expires_at
		FROM subscribers
		WHERE status = ?
		ORDER BY username
	`, types.StatusActive)
	if err != nil {
		return nil, fmt.Errorf("failed to list active subscribers: %w", err)
	}
	defer rows.Close()

	var subs []types.Subscriber
	for rows.Next() {
		sub, err := scanSubscriber(rows)
		if err != nil {
			continue
		}
		subs = append(subs, *sub)
	}
	return subs, rows.Err()
}

// SaveSubscriber inserts or updates a subscriber keyed by username.
func (db *DB) SaveSubscriber(sub *types.Subscriber) (int64, error) {
	result, err := db.Exec(`
		INSERT INTO subscribers (username, password_hash, status, notes, expires_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(username) DO UPDATE SET
			password_hash = excluded.password_hash,
			status = excluded.status,
			notes = excluded.notes,
			expires_at = excluded.expires_at
	`, sub.Username, sub.PasswordHash, sub.Status, sub.Notes, sub.ExpiresAt)
	if err != nil {
		return 0, fmt.Errorf("failed to save subscriber: %w", err)
	}
	return result.LastInsertId()
}

// DeleteSubscriber removes a subscriber record entirely.
func (db *DB) DeleteSubscriber(id int64) error {
	_, err := db.Exec("DELETE FROM subscribers WHERE id = ?", id)
	return err
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSubscriber(row rowScanner) (*types.Subscriber, error) {
	var sub types.Subscriber
	var expires sql.NullTime
	err := row.Scan(&sub.ID, &sub.Username, &sub.PasswordHash, &sub.Status,
		&sub.Notes, &sub.CreatedAt, &expires)
	if err != nil {
		return nil, err
	}
	if expires.Valid {
		t := expires.Time
		sub.ExpiresAt = &t
	}
	return &sub, nil
}
