package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/kestrelmux/antigravity-relay/internal/logging"
	"github.com/kestrelmux/antigravity-relay/internal/oauth"
	"github.com/kestrelmux/antigravity-relay/internal/store"
)

const (
	tokenCacheTTL       = 5 * time.Minute
	storedTokenFreshFor = 5 * time.Minute
)

type memoryTokenEntry struct {
	token     string
	expiresAt time.Time
}

// Credentials resolves a usable access token for an account: an
// in-process cache first, then the store's persisted token cache,
// then a fresh OAuth refresh (or the account's static API key for
// manually configured accounts). Grounded on the teacher's five-step
// GetAccessToken algorithm.
type Credentials struct {
	kv store.KVStore

	mu    sync.RWMutex
	cache map[string]*memoryTokenEntry
}

// NewCredentials creates a Credentials resolver backed by kv.
func NewCredentials(kv store.KVStore) *Credentials {
	return &Credentials{kv: kv, cache: make(map[string]*memoryTokenEntry)}
}

// GetAccessToken returns a bearer token usable for acc's upstream calls.
func (c *Credentials) GetAccessToken(ctx context.Context, acc *store.Account) (string, error) {
	if acc == nil {
		return "", fmt.Errorf("credentials: account is nil")
	}

	if tok, ok := c.fromMemory(acc.Email); ok {
		return tok, nil
	}

	if c.kv != nil {
		if rec, err := c.kv.GetToken(ctx, acc.Email); err == nil && rec != nil && rec.AccessToken != "" {
			if time.Since(time.UnixMilli(rec.ExtractedAtMs)) < storedTokenFreshFor {
				c.toMemory(acc.Email, rec.AccessToken)
				return rec.AccessToken, nil
			}
		}
	}

	token, err := c.refresh(ctx, acc)
	if err != nil {
		return "", err
	}

	c.toMemory(acc.Email, token)
	if c.kv != nil {
		_ = c.kv.PutToken(ctx, acc.Email, &store.TokenRecord{AccessToken: token, ExtractedAtMs: time.Now().UnixMilli()})
	}
	return token, nil
}

func (c *Credentials) refresh(ctx context.Context, acc *store.Account) (string, error) {
	switch acc.Source {
	case "oauth":
		if acc.RefreshToken == "" {
			return "", fmt.Errorf("credentials: no refresh token for %s", acc.Email)
		}
		logging.Debugf("[Credentials] refreshing OAuth token for %s", acc.Email)
		result, err := oauth.RefreshAccessToken(ctx, acc.RefreshToken)
		if err != nil {
			logging.Errorf("[Credentials] refresh failed for %s: %v", acc.Email, err)
			return "", err
		}
		return result.AccessToken, nil
	case "manual":
		if acc.APIKey == "" {
			return "", fmt.Errorf("credentials: no api key for manual account %s", acc.Email)
		}
		return acc.APIKey, nil
	default:
		return "", fmt.Errorf("credentials: unknown account source %q", acc.Source)
	}
}

func (c *Credentials) fromMemory(email string) (string, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.cache[email]
	if !ok || time.Now().After(e.expiresAt) {
		return "", false
	}
	return e.token, true
}

func (c *Credentials) toMemory(email, token string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cache[email] = &memoryTokenEntry{token: token, expiresAt: time.Now().Add(tokenCacheTTL)}
}

// ClearCache drops every cached token (e.g. on a forced reauth).
func (c *Credentials) ClearCache() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cache = make(map[string]*memoryTokenEntry)
}

// ClearCacheForAccount drops one account's cached token.
func (c *Credentials) ClearCacheForAccount(ctx context.Context, email string) {
	c.mu.Lock()
	delete(c.cache, email)
	c.mu.Unlock()
	if c.kv != nil {
		_ = c.kv.ClearToken(ctx, email)
	}
}
