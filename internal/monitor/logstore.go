package monitor

import "context"

// LogStore is the append-only persistence contract for the request
// log: every LogRequest call pushes here in the background so history
// survives a restart, and GetLogs reads through it first, falling back
// to the in-memory ring buffer only when no store is configured or the
// read fails. SQLiteLogStore is the only implementation; it lives in
// its own database file whichever backend holds the account pool (C4).
type LogStore interface {
	AppendLog(ctx context.Context, log RequestLog) error
	ListLogs(ctx context.Context, limit int) ([]RequestLog, error)
	ClearLogs(ctx context.Context) error
	PruneLogs(ctx context.Context, olderThanMs int64) (int, error)
}
