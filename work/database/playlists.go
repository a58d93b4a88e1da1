package database

import (
	"fmt"

	"kptv-panel/work/types"
)

// LoadActivePlaylists returns the active playlist sources in insertion order.
// This order is the merge precedence: the first source wins on duplicate
// stream URLs.
func (db *DB) LoadActivePlaylists() ([]types.PlaylistSource, error) {
	rows, err := db.Query(`
		SELECT id, name, url, username, password, status, notes,
		       filter_include, filter_exclude, created_at
		FROM playlists
		WHERE status = ?
		ORDER BY id
	`, types.StatusActive)
	if err != nil {
		return nil, fmt.Errorf("failed to load playlists: %w", err)
	}
	defer rows.Close()
	return collectPlaylists(rows)
}

// ListPlaylists returns every playlist source regardless of status.
func (db *DB) ListPlaylists() ([]types.PlaylistSource, error) {
	rows, err := db.Query(`
		SELECT id, name, url, username, password, status, notes,
		       filter_include, filter_exclude, created_at
		FROM playlists
		ORDER BY id
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to list playlists: %w", err)
	}
	defer rows.Close()
	return collectPlaylists(rows)
}

// SavePlaylist inserts or updates a playlist source keyed by URL.
func (db *DB) SavePlaylist(src *types.PlaylistSource) (int64, error) {
	result, err := db.Exec(`
		INSERT INTO playlists (name, url, username, password, status, notes,
		                       filter_include, filter_exclude, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(url) DO UPDATE SET
			name = excluded.name,
			username = excluded.username,
			password = excluded.password,
			status = excluded.status,
			notes = excluded.notes,
			filter_include = excluded.filter_include,
			filter_exclude = excluded.filter_exclude,
			updated_at = CURRENT_TIMESTAMP
	`, src.Name, src.URL, src.Username, src.Password, src.Status, src.Notes,
		src.FilterInclude, src.FilterExclude)
	if err != nil {
		return 0, fmt.Errorf("failed to save playlist: %w", err)
	}
	return result.LastInsertId()
}

// DeletePlaylist marks a playlist source as disabled rather than removing the
// row, so its notes and history stay inspectable.
func (db *DB) DeletePlaylist(id int64) error {
	_, err := db.Exec(`
		UPDATE playlists SET status = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ?
	`, types.StatusDisabled, id)
	return err
}

type playlistRows interface {
	Next() bool
	Scan(dest ...any) error
	Err() error
}

func collectPlaylists(rows playlistRows) ([]types.PlaylistSource, error) {
	var sources []types.PlaylistSource
	for rows.Next() {
		var src types.PlaylistSource
		err := rows.Scan(&src.ID, &src.Name, &src.URL, &src.Username,
			&src.Password, &src.Status, &src.Notes,
			&src.FilterInclude, &src.FilterExclude, &src.CreatedAt)
		if err != nil {
			continue
		}
		sources = append(sources, src)
	}
	return sources, rows.Err()
}
