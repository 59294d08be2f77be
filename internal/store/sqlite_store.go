// SQLite-backed KVStore, for single-process deployments that want
// persistence across restarts without standing up Redis. Uses
// modernc.org/sqlite, a CGO-free driver, for Windows-friendly builds.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	_ "modernc.org/sqlite"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS accounts (
	email    TEXT PRIMARY KEY,
	position INTEGER NOT NULL,
	data     TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS tokens (
	email TEXT PRIMARY KEY,
	data  TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS quotas (
	email TEXT PRIMARY KEY,
	data  TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS rate_limits (
	email    TEXT NOT NULL,
	model_id TEXT NOT NULL,
	data     TEXT NOT NULL,
	PRIMARY KEY (email, model_id)
);
CREATE TABLE IF NOT EXISTS kv (
	key   TEXT PRIMARY KEY,
	value TEXT NOT NULL
);
`

// SQLiteStore is a file-backed KVStore.
type SQLiteStore struct {
	db *sql.DB
}

// OpenSQLiteStore opens (creating if needed) a sqlite database at path.
func OpenSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("store: open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1) // modernc.org/sqlite serializes writers anyway
	if _, err := db.Exec(sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("store: create schema: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) ListAccounts(ctx context.Context) ([]*Account, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT data FROM accounts ORDER BY position ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*Account
	for rows.Next() {
		var data string
		if err := rows.Scan(&data); err != nil {
			return nil, err
		}
		var acc Account
		if err := json.Unmarshal([]byte(data), &acc); err != nil {
			return nil, err
		}
		out = append(out, &acc)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) GetAccount(ctx context.Context, email string) (*Account, error) {
	var data string
	err := s.db.QueryRowContext(ctx, `SELECT data FROM accounts WHERE email = ?`, email).Scan(&data)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var acc Account
	if err := json.Unmarshal([]byte(data), &acc); err != nil {
		return nil, err
	}
	return &acc, nil
}

func (s *SQLiteStore) PutAccount(ctx context.Context, acc *Account) error {
	if acc == nil || acc.Email == "" {
		return fmt.Errorf("store: account email is required")
	}
	data, err := json.Marshal(acc)
	if err != nil {
		return err
	}
	var maxPos sql.NullInt64
	if err := s.db.QueryRowContext(ctx, `SELECT MAX(position) FROM accounts`).Scan(&maxPos); err != nil {
		return err
	}
	nextPos := maxPos.Int64 + 1
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO accounts (email, position, data) VALUES (?, ?, ?)
		ON CONFLICT(email) DO UPDATE SET data = excluded.data
	`, acc.Email, nextPos, string(data))
	return err
}

func (s *SQLiteStore) DeleteAccount(ctx context.Context, email string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if _, err := tx.ExecContext(ctx, `DELETE FROM accounts WHERE email = ?`, email); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM tokens WHERE email = ?`, email); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM quotas WHERE email = ?`, email); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM rate_limits WHERE email = ?`, email); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *SQLiteStore) Reorder(ctx context.Context, emails []string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	for i, email := range emails {
		if _, err := tx.ExecContext(ctx, `UPDATE accounts SET position = ? WHERE email = ?`, i, email); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func (s *SQLiteStore) GetToken(ctx context.Context, email string) (*TokenRecord, error) {
	var data string
	err := s.db.QueryRowContext(ctx, `SELECT data FROM tokens WHERE email = ?`, email).Scan(&data)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var tok TokenRecord
	if err := json.Unmarshal([]byte(data), &tok); err != nil {
		return nil, err
	}
	return &tok, nil
}

func (s *SQLiteStore) PutToken(ctx context.Context, email string, tok *TokenRecord) error {
	data, err := json.Marshal(tok)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO tokens (email, data) VALUES (?, ?)
		ON CONFLICT(email) DO UPDATE SET data = excluded.data
	`, email, string(data))
	return err
}

func (s *SQLiteStore) ClearToken(ctx context.Context, email string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM tokens WHERE email = ?`, email)
	return err
}

func (s *SQLiteStore) GetQuota(ctx context.Context, email string) (*QuotaSnapshot, error) {
	var data string
	err := s.db.QueryRowContext(ctx, `SELECT data FROM quotas WHERE email = ?`, email).Scan(&data)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var q QuotaSnapshot
	if err := json.Unmarshal([]byte(data), &q); err != nil {
		return nil, err
	}
	return &q, nil
}

func (s *SQLiteStore) PutQuota(ctx context.Context, email string, q *QuotaSnapshot) error {
	data, err := json.Marshal(q)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO quotas (email, data) VALUES (?, ?)
		ON CONFLICT(email) DO UPDATE SET data = excluded.data
	`, email, string(data))
	return err
}

func (s *SQLiteStore) GetRateLimit(ctx context.Context, email, modelID string) (*RateLimitState, error) {
	var data string
	err := s.db.QueryRowContext(ctx, `SELECT data FROM rate_limits WHERE email = ? AND model_id = ?`, email, modelID).Scan(&data)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var rl RateLimitState
	if err := json.Unmarshal([]byte(data), &rl); err != nil {
		return nil, err
	}
	return &rl, nil
}

func (s *SQLiteStore) PutRateLimit(ctx context.Context, email, modelID string, rl *RateLimitState) error {
	data, err := json.Marshal(rl)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO rate_limits (email, model_id, data) VALUES (?, ?, ?)
		ON CONFLICT(email, model_id) DO UPDATE SET data = excluded.data
	`, email, modelID, string(data))
	return err
}

func (s *SQLiteStore) ClearRateLimits(ctx context.Context, email string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM rate_limits WHERE email = ?`, email)
	return err
}

func (s *SQLiteStore) Current(ctx context.Context) (string, error) {
	var value string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM kv WHERE key = 'current_account'`).Scan(&value)
	if err == sql.ErrNoRows {
		return "", nil
	}
	return value, err
}

func (s *SQLiteStore) SetCurrent(ctx context.Context, email string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO kv (key, value) VALUES ('current_account', ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value
	`, email)
	return err
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
