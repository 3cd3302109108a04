package storage

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// DB wraps the SQLite database connection
type DB struct {
	conn *sql.DB
}

// Open creates a new database connection and runs migrations
func Open(path string) (*DB, error) {
	// synchronous=FULL so an acknowledged counter write survives power loss
	conn, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000&_synchronous=FULL")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := conn.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	if err := RunMigrations(conn); err != nil {
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return &DB{conn: conn}, nil
}

// Close closes the database connection
func (db *DB) Close() error {
	return db.conn.Close()
}

// --- Key/value ---

// Read returns the value stored under key; ok is false when absent
func (db *DB) Read(key string) (uint32, bool, error) {
	var v int64
	err := db.conn.QueryRow("SELECT value FROM kv WHERE key = ?", key).Scan(&v)
	if err == sql.ErrNoRows {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("failed to read %s: %w", key, err)
	}
	return uint32(v), true, nil
}

// Write stores value under key
func (db *DB) Write(key string, value uint32) error {
	_, err := db.conn.Exec(`
		INSERT INTO kv (key, value, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at
	`, key, int64(value), time.Now())
	if err != nil {
		return fmt.Errorf("failed to write %s: %w", key, err)
	}
	return nil
}

// --- Door snapshot ---

// SaveDoorSnapshot stores the last known door state as JSON
func (db *DB) SaveDoorSnapshot(state interface{}) error {
	data, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("failed to marshal door snapshot: %w", err)
	}
	_, err = db.conn.Exec(`
		INSERT INTO door_snapshot (id, state, updated_at) VALUES (1, ?, ?)
		ON CONFLICT(id) DO UPDATE SET state = excluded.state, updated_at = excluded.updated_at
	`, string(data), time.Now())
	if err != nil {
		return fmt.Errorf("failed to save door snapshot: %w", err)
	}
	return nil
}

// LoadDoorSnapshot decodes the last saved door state into out; ok is false when none was saved
func (db *DB) LoadDoorSnapshot(out interface{}) (bool, error) {
	var data string
	err := db.conn.QueryRow("SELECT state FROM door_snapshot WHERE id = 1").Scan(&data)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to load door snapshot: %w", err)
	}
	if err := json.Unmarshal([]byte(data), out); err != nil {
		return false, fmt.Errorf("failed to decode door snapshot: %w", err)
	}
	return true, nil
}

// --- Event Log ---

// LogEvent records an event in the log
func (db *DB) LogEvent(source EventSource, eventType EventType, message string, details interface{}) error {
	var detailsJSON []byte
	if details != nil {
		var err error
		detailsJSON, err = json.Marshal(details)
		if err != nil {
			return fmt.Errorf("failed to marshal event details: %w", err)
		}
	}

	_, err := db.conn.Exec(
		"INSERT INTO event_log (timestamp, source, event_type, message, details) VALUES (?, ?, ?, ?, ?)",
		time.Now(), source, eventType, message, detailsJSON,
	)
	if err != nil {
		return fmt.Errorf("failed to log event: %w", err)
	}

	return nil
}

// GetEventLogs retrieves events with optional filtering
func (db *DB) GetEventLogs(filter EventLogFilter) ([]EventLog, error) {
	query := "SELECT id, timestamp, source, event_type, message, details FROM event_log WHERE 1=1"
	args := []interface{}{}

	if filter.Source != nil {
		query += " AND source = ?"
		args = append(args, *filter.Source)
	}
	if filter.EventType != nil {
		query += " AND event_type = ?"
		args = append(args, *filter.EventType)
	}
	if filter.Since != nil {
		query += " AND timestamp >= ?"
		args = append(args, *filter.Since)
	}

	query += " ORDER BY id DESC"

	if filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", filter.Limit)
	}
	if filter.Offset > 0 {
		if filter.Limit <= 0 {
			query += " LIMIT -1"
		}
		query += fmt.Sprintf(" OFFSET %d", filter.Offset)
	}

	rows, err := db.conn.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query event logs: %w", err)
	}
	defer rows.Close()

	var logs []EventLog
	for rows.Next() {
		var entry EventLog
		var details sql.NullString
		if err := rows.Scan(&entry.ID, &entry.Timestamp, &entry.Source, &entry.EventType, &entry.Message, &details); err != nil {
			return nil, fmt.Errorf("failed to scan event log: %w", err)
		}
		if details.Valid && details.String != "" {
			entry.Details = json.RawMessage(details.String)
		}
		logs = append(logs, entry)
	}

	return logs, rows.Err()
}

// PruneEventLogs removes old event logs
func (db *DB) PruneEventLogs(olderThan time.Time) (int64, error) {
	result, err := db.conn.Exec("DELETE FROM event_log WHERE timestamp < ?", olderThan)
	if err != nil {
		return 0, fmt.Errorf("failed to prune event logs: %w", err)
	}

	return result.RowsAffected()
}
