package database

import (
	"fmt"

	"kptv-panel/work/types"
)

// LoadActiveProxies returns the active proxy endpoints in insertion order.
// Selection policy is applied in memory by the proxypool package; keeping the
// query order stable keeps selection deterministic.
func (db *DB) LoadActiveProxies() ([]types.ProxyEndpoint, error) {
	rows, err := db.Query(`
		SELECT id, host, port, username, password, protocol, country_code, status
		FROM proxies
		WHERE status = ?
		ORDER BY id
	`, types.StatusActive)
	if err != nil {
		return nil, fmt.Errorf("failed to load proxies: %w", err)
	}
	defer rows.Close()

	var endpoints []types.ProxyEndpoint
	for rows.Next() {
		var p types.ProxyEndpoint
		err := rows.Scan(&p.ID, &p.Host, &p.Port, &p.Username, &p.Password,
			&p.Protocol, &p.CountryCode, &p.Status)
		if err != nil {
			continue
		}
		endpoints = append(endpoints, p)
	}
	return endpoints, rows.Err()
}

// ListProxies returns every pool entry regardless of status.
func (db *DB) ListProxies() ([]types.ProxyEndpoint, error) {
	rows, err := db.Query(`
		SELECT id, host, port, username, password, protocol, country_code, status
		FROM proxies
		ORDER BY id
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to list proxies: %w", err)
	}
	defer rows.Close()

	var endpoints []types.ProxyEndpoint
	for rows.Next() {
		var p types.ProxyEndpoint
		err := rows.Scan(&p.ID, &p.Host, &p.Port, &p.Username, &p.Password,
			&p.Protocol, &p.CountryCode, &p.Status)
		if err != nil {
			continue
		}
		endpoints = append(endpoints, p)
	}
	return endpoints, rows.Err()
}

// ReplaceProxies swaps the whole pool for a fresh set inside one transaction.
// The upstream provider rotates endpoints daily, so a wholesale replace is
// simpler and safer than diffing.
func (db *DB) ReplaceProxies(endpoints []types.ProxyEndpoint) error {
	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	if _, err := tx.Exec("DELETE FROM proxies"); err != nil {
		tx.Rollback()
		return fmt.Errorf("failed to clear proxy pool: %w", err)
	}

	stmt, err := tx.Prepare(`
		INSERT INTO proxies (host, port, username, password, protocol, country_code, status, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, CURRENT_TIMESTAMP)
	`)
	if err != nil {
		tx.Rollback()
		return fmt.Errorf("failed to prepare insert: %w", err)
	}
	defer stmt.Close()

	for i := range endpoints {
		p := &endpoints[i]
		status := p.Status
		if status == "" {
			status = types.StatusActive
		}
		if _, err := stmt.Exec(p.Host, p.Port, p.Username, p.Password, p.Protocol, p.CountryCode, status); err != nil {
			tx.Rollback()
			return fmt.Errorf("failed to insert proxy %s:%d: %w", p.Host, p.Port, err)
		}
	}

	return tx.Commit()
}

// SetProxyStatus flips a single endpoint between active and disabled.
func (db *DB) SetProxyStatus(id int64, status string) error {
	_, err := db.Exec(`
		UPDATE proxies SET status = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ?
	`, status, id)
	return err
}

// CountActiveProxies reports the current usable pool size.
func (db *DB) CountActiveProxies() (int, error) {
	var n int
	err := db.QueryRow("SELECT COUNT(*) FROM proxies WHERE status = ?", types.StatusActive).Scan(&n)
	return n, err
}
