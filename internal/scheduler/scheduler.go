// Package scheduler implements C5: account selection across the
// three dispatch modes (CacheFirst, Balance, PerformanceFirst),
// shared cooldown tracking, and the GetToken access-token resolution
// path that backs every outbound call.
package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/kestrelmux/antigravity-relay/internal/config"
	"github.com/kestrelmux/antigravity-relay/internal/logging"
	"github.com/kestrelmux/antigravity-relay/internal/store"
)

// SelectOptions carries the caller's sticky-index hint and a save
// callback invoked whenever the strategy mutates selection state that
// should be persisted (e.g. a new LastUsed timestamp).
type SelectOptions struct {
	CurrentIndex int
	SessionID    string
	OnSave       func()
}

// SelectionResult is what a strategy hands back: either a usable
// account, or a wait duration the caller should honor before retrying.
type SelectionResult struct {
	Account *store.Account
	Index   int
	WaitMs  int64
}

// Strategy is the per-dispatch-mode account selection policy.
type Strategy interface {
	SelectAccount(ctx context.Context, accounts []*store.Account, modelID string, opts SelectOptions) *SelectionResult
	OnSuccess(acc *store.Account, modelID string)
	OnRateLimit(acc *store.Account, modelID string)
	OnFailure(acc *store.Account, modelID string)
}

// accountWithIndex pairs an account with its position in the pool
// slice, since strategies need the original index for sticky cursors.
type accountWithIndex struct {
	account *store.Account
	index   int
}

// WeightConfig scales each signal in the Balance strategy's scoring formula.
type WeightConfig struct {
	Health, Tokens, Quota, LRU float64
}

// DefaultWeights matches the upstream hybrid strategy's tuning:
// score = Health*2 + (Tokens/Max*100)*5 + Quota*3 + LRU_seconds*0.1
func DefaultWeights() WeightConfig {
	return WeightConfig{Health: 2.0, Tokens: 5.0, Quota: 3.0, LRU: 0.1}
}

// cooldown is the runtime-only (non-persisted) per-account cooldown
// window set when an account is bound to a conversation family it
// cannot currently serve (spec 4.5's AccountBinding suspension).
type cooldownTracker struct {
	mu    sync.Mutex
	until map[string]time.Time
	why   map[string]string
}

func newCooldownTracker() *cooldownTracker {
	return &cooldownTracker{until: make(map[string]time.Time), why: make(map[string]string)}
}

func (c *cooldownTracker) set(email string, d time.Duration, reason string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.until[email] = time.Now().Add(d)
	c.why[email] = reason
}

func (c *cooldownTracker) active(email string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	t, ok := c.until[email]
	if !ok {
		return false
	}
	if time.Now().After(t) {
		delete(c.until, email)
		delete(c.why, email)
		return false
	}
	return true
}

// Scheduler owns the account pool's store handle, the shared cooldown
// tracker, and the active Strategy for each dispatch mode, switching
// between them as config.DispatchMode changes.
type Scheduler struct {
	store    store.KVStore
	cfg      *config.Config
	cooldown *cooldownTracker

	mu         sync.RWMutex
	strategies map[config.DispatchMode]Strategy
}

// New builds a Scheduler with one strategy instance per dispatch mode,
// all sharing the same underlying store.
func New(kv store.KVStore, cfg *config.Config) *Scheduler {
	cooldown := newCooldownTracker()
	isUsable := func(ctx context.Context, acc *store.Account, modelID string) bool {
		return defaultIsUsable(ctx, kv, cooldown, acc, modelID)
	}
	return &Scheduler{
		store:    kv,
		cfg:      cfg,
		cooldown: cooldown,
		strategies: map[config.DispatchMode]Strategy{
			config.CacheFirst:       newCacheFirstStrategy(isUsable, kv),
			config.Balance:          newBalanceStrategy(isUsable, kv),
			config.PerformanceFirst: newPerformanceFirstStrategy(isUsable),
		},
	}
}

// defaultIsUsable is the shared eligibility gate every strategy
// applies before its own scoring/ordering logic: the account must be
// enabled, valid, not cooling down, and not rate-limited for modelID.
func defaultIsUsable(ctx context.Context, kv store.KVStore, cd *cooldownTracker, acc *store.Account, modelID string) bool {
	if acc == nil || acc.IsInvalid || !acc.Enabled {
		return false
	}
	if cd.active(acc.Email) {
		return false
	}
	if modelID == "" {
		return true
	}
	rl, err := kv.GetRateLimit(ctx, acc.Email, modelID)
	if err != nil || rl == nil {
		return true
	}
	if rl.IsRateLimited && rl.ResetAtMs > 0 && time.Now().Before(time.UnixMilli(rl.ResetAtMs)) {
		return false
	}
	return true
}

// activeStrategy returns the Strategy for the currently configured dispatch mode.
func (s *Scheduler) activeStrategy() Strategy {
	snap := s.cfg.Snapshot()
	s.mu.RLock()
	defer s.mu.RUnlock()
	if strat, ok := s.strategies[snap.DispatchMode]; ok {
		return strat
	}
	return s.strategies[config.DefaultDispatchMode]
}

// Select chooses an account for modelID, honoring the active dispatch
// mode and persisting the account's new LastUsed timestamp via the
// store if one is selected.
func (s *Scheduler) Select(ctx context.Context, modelID string, opts SelectOptions) (*SelectionResult, error) {
	accounts, err := s.store.ListAccounts(ctx)
	if err != nil {
		return nil, fmt.Errorf("scheduler: list accounts: %w", err)
	}
	opts.OnSave = func() {}
	result := s.activeStrategy().SelectAccount(ctx, accounts, modelID, opts)
	if result.Account != nil {
		result.Account.LastUsedMs = time.Now().UnixMilli()
		if err := s.store.PutAccount(ctx, result.Account); err != nil {
			logging.Warnf("scheduler: failed to persist LastUsed for %s: %v", result.Account.Email, err)
		}
		_ = s.store.SetCurrent(ctx, result.Account.Email)
	}
	return result, nil
}

// OnSuccess, OnRateLimit and OnFailure forward outcome signals to the
// currently active strategy's tracking state.
func (s *Scheduler) OnSuccess(acc *store.Account, modelID string) { s.activeStrategy().OnSuccess(acc, modelID) }
func (s *Scheduler) OnRateLimit(acc *store.Account, modelID string) {
	s.activeStrategy().OnRateLimit(acc, modelID)
}
func (s *Scheduler) OnFailure(acc *store.Account, modelID string) { s.activeStrategy().OnFailure(acc, modelID) }

// Cooldown suspends an account from selection for d, recording why
// (spec 4.5: e.g. "broken tool loop", "family mismatch").
func (s *Scheduler) Cooldown(email string, d time.Duration, reason string) {
	s.cooldown.set(email, d, reason)
}
