package monitor

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	_ "modernc.org/sqlite"
)

const logStoreSchema = `
CREATE TABLE IF NOT EXISTS request_logs (
	id        TEXT PRIMARY KEY,
	timestamp INTEGER NOT NULL,
	data      TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_request_logs_timestamp ON request_logs (timestamp DESC);
`

// SQLiteLogStore is a file-backed LogStore, kept in its own database
// separate from the account pool's store so the request feed can grow
// and get pruned independently. Grounded on modules/proxy_db.rs, which
// keeps request logs in their own proxy_logs.db for the same reason.
type SQLiteLogStore struct {
	db *sql.DB
}

// OpenSQLiteLogStore opens (creating if needed) a sqlite database at path.
func OpenSQLiteLogStore(path string) (*SQLiteLogStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("monitor: open log store: %w", err)
	}
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(logStoreSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("monitor: create log schema: %w", err)
	}
	return &SQLiteLogStore{db: db}, nil
}

func (s *SQLiteLogStore) AppendLog(ctx context.Context, log RequestLog) error {
	data, err := json.Marshal(log)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO request_logs (id, timestamp, data) VALUES (?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET data = excluded.data
	`, log.ID, log.TimestampMs, string(data))
	return err
}

func (s *SQLiteLogStore) ListLogs(ctx context.Context, limit int) ([]RequestLog, error) {
	if limit <= 0 {
		limit = 200
	}
	rows, err := s.db.QueryContext(ctx, `SELECT data FROM request_logs ORDER BY timestamp DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]RequestLog, 0, limit)
	for rows.Next() {
		var data string
		if err := rows.Scan(&data); err != nil {
			return nil, err
		}
		var log RequestLog
		if err := json.Unmarshal([]byte(data), &log); err != nil {
			return nil, err
		}
		out = append(out, log)
	}
	return out, rows.Err()
}

func (s *SQLiteLogStore) ClearLogs(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM request_logs`)
	return err
}

func (s *SQLiteLogStore) PruneLogs(ctx context.Context, olderThanMs int64) (int, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM request_logs WHERE timestamp < ?`, olderThanMs)
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	return int(n), err
}

func (s *SQLiteLogStore) Close() error {
	return s.db.Close()
}
