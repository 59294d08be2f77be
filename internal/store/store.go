// Package store defines the account-pool persistence contract (C4)
// and the data types shared by the scheduler, upstream clients, and
// admin endpoints. Three backends implement KVStore: an in-memory map
// used when no persistence is configured, a file-backed SQLite store,
// and a Redis-backed store for multi-process deployments. All speak the
// same interface so the scheduler never knows which one it's talking to.
package store

import "context"

// Account is a configured upstream identity: either an OAuth-backed
// Google account or a manually supplied API key.
type Account struct {
	Email        string `json:"email"`
	Source       string `json:"source"` // "oauth" or "manual"
	Enabled      bool   `json:"enabled"`
	RefreshToken string `json:"refreshToken,omitempty"`
	APIKey       string `json:"apiKey,omitempty"`
	ProjectID    string `json:"projectId,omitempty"`

	IsInvalid     bool   `json:"isInvalid"`
	InvalidReason string `json:"invalidReason,omitempty"`
	InvalidAtMs   int64  `json:"invalidAt,omitempty"`
	LastUsedMs    int64  `json:"lastUsed,omitempty"`
}

// TokenRecord is a cached OAuth access token for an account.
type TokenRecord struct {
	AccessToken string
	ExtractedAtMs int64
}

// QuotaSnapshot is the most recently observed per-model remaining
// quota fraction for an account, refreshed opportunistically from
// upstream response headers.
type QuotaSnapshot struct {
	Models      map[string]ModelQuota
	CheckedAtMs int64
}

// ModelQuota is the remaining-quota fraction for one model.
type ModelQuota struct {
	RemainingFraction float64
	ResetTime         string
}

// RateLimitState tracks a per-account, per-model cooldown window.
type RateLimitState struct {
	IsRateLimited bool
	ResetAtMs     int64
	ActualResetMs int64
}

// KVStore is the persistence contract the scheduler and admin
// endpoints use to read and mutate the account pool. Implementations
// must be safe for concurrent use.
type KVStore interface {
	ListAccounts(ctx context.Context) ([]*Account, error)
	GetAccount(ctx context.Context, email string) (*Account, error)
	PutAccount(ctx context.Context, acc *Account) error
	DeleteAccount(ctx context.Context, email string) error

	// Reorder persists a new iteration order for round-robin-style
	// strategies; implementations that don't care about order may
	// no-op.
	Reorder(ctx context.Context, emails []string) error

	GetToken(ctx context.Context, email string) (*TokenRecord, error)
	PutToken(ctx context.Context, email string, tok *TokenRecord) error
	ClearToken(ctx context.Context, email string) error

	GetQuota(ctx context.Context, email string) (*QuotaSnapshot, error)
	PutQuota(ctx context.Context, email string, q *QuotaSnapshot) error

	GetRateLimit(ctx context.Context, email, modelID string) (*RateLimitState, error)
	PutRateLimit(ctx context.Context, email, modelID string, rl *RateLimitState) error
	ClearRateLimits(ctx context.Context, email string) error

	// Current returns the sticky-strategy "last used" account email, if any.
	Current(ctx context.Context) (string, error)
	SetCurrent(ctx context.Context, email string) error

	Close() error
}
