package storage

import (
	"database/sql"
	"fmt"
	"time"
)

// LeaseEventQuery represents query parameters for lease events
type LeaseEventQuery struct {
	Limit  int
	Offset int
	Since  *time.Time
	Token  string
	Op     string
	Result string // rigerr code, "" for all
}

// JournalStats represents journal statistics
type JournalStats struct {
	TotalLeaseEvents    int       `json:"total_lease_events"`
	TotalTransmissions  int       `json:"total_transmissions"`
	StoredLeaseEvents   int       `json:"stored_lease_events"`
	StoredTransmissions int       `json:"stored_transmissions"`
	BusyRejections      int       `json:"busy_rejections"`
	LastCleanup         time.Time `json:"last_cleanup"`
}

// GetLeaseEvents retrieves lease events newest first
func (js *JournalStore) GetLeaseEvents(query LeaseEventQuery) ([]LeaseEvent, error) {
	var args []interface{}

	sqlQuery := `
		SELECT id, timestamp, op, token, result, error
		FROM lease_events
		WHERE 1=1
	`

	if query.Since != nil {
		sqlQuery += " AND timestamp >= ?"
		args = append(args, query.Since.UTC())
	}
	if query.Token != "" {
		sqlQuery += " AND token = ?"
		args = append(args, query.Token)
	}
	if query.Op != "" {
		sqlQuery += " AND op = ?"
		args = append(args, query.Op)
	}
	if query.Result != "" {
		sqlQuery += " AND result = ?"
		args = append(args, query.Result)
	}

	sqlQuery += " ORDER BY id DESC"

	if query.Limit > 0 {
		sqlQuery += " LIMIT ?"
		args = append(args, query.Limit)

		if query.Offset > 0 {
			sqlQuery += " OFFSET ?"
			args = append(args, query.Offset)
		}
	}

	rows, err := js.db.Query(sqlQuery, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query lease events: %w", err)
	}
	defer rows.Close()

	var events []LeaseEvent
	for rows.Next() {
		var ev LeaseEvent
		if err := rows.Scan(&ev.ID, &ev.Timestamp, &ev.Op, &ev.Token, &ev.Result, &ev.Error); err != nil {
			return nil, fmt.Errorf("failed to scan lease event: %w", err)
		}
		events = append(events, ev)
	}

	return events, rows.Err()
}

// RecentLeaseEvents retrieves the most recent lease events
func (js *JournalStore) RecentLeaseEvents(limit int) ([]LeaseEvent, error) {
	return js.GetLeaseEvents(LeaseEventQuery{Limit: limit})
}

// RecentTransmissions retrieves the most recent keyer submissions
func (js *JournalStore) RecentTransmissions(limit int) ([]Transmission, error) {
	query := `
		SELECT id, timestamp, text, accepted, rejected, status, vfo, frequency
		FROM transmissions
		ORDER BY id DESC
	`
	var args []interface{}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := js.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query transmissions: %w", err)
	}
	defer rows.Close()

	var out []Transmission
	for rows.Next() {
		var t Transmission
		err := rows.Scan(&t.ID, &t.Timestamp, &t.Text, &t.Accepted, &t.Rejected,
			&t.Status, &t.VFO, &t.Frequency)
		if err != nil {
			return nil, fmt.Errorf("failed to scan transmission: %w", err)
		}
		out = append(out, t)
	}

	return out, rows.Err()
}

// GetStats returns journal statistics
func (js *JournalStore) GetStats() (*JournalStats, error) {
	var stats JournalStats
	var lastCleanup sql.NullTime

	err := js.db.QueryRow(`
		SELECT total_lease_events, total_transmissions, last_cleanup
		FROM journal_stats WHERE id = 1
	`).Scan(&stats.TotalLeaseEvents, &stats.TotalTransmissions, &lastCleanup)
	if err != nil {
		return nil, fmt.Errorf("failed to get journal stats: %w", err)
	}
	if lastCleanup.Valid {
		stats.LastCleanup = lastCleanup.Time
	}

	if err := js.db.QueryRow("SELECT COUNT(*) FROM lease_events").Scan(&stats.StoredLeaseEvents); err != nil {
		return nil, fmt.Errorf("failed to count lease events: %w", err)
	}
	if err := js.db.QueryRow("SELECT COUNT(*) FROM transmissions").Scan(&stats.StoredTransmissions); err != nil {
		return nil, fmt.Errorf("failed to count transmissions: %w", err)
	}
	if err := js.db.QueryRow("SELECT COUNT(*) FROM lease_events WHERE result = 'EBUSY'").Scan(&stats.BusyRejections); err != nil {
		return nil, fmt.Errorf("failed to count busy rejections: %w", err)
	}

	return &stats, nil
}

// GetLeaseEventCount returns the number of stored lease events
func (js *JournalStore) GetLeaseEventCount() (int, error) {
	var count int
	err := js.db.QueryRow("SELECT COUNT(*) FROM lease_events").Scan(&count)
	return count, err
}
