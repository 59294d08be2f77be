package scheduler

import (
	"context"
	"time"

	"github.com/kestrelmux/antigravity-relay/internal/logging"
	"github.com/kestrelmux/antigravity-relay/internal/store"
)

type isUsableFunc func(ctx context.Context, acc *store.Account, modelID string) bool

const maxWaitForStickyAccount = 2 * time.Minute

// cacheFirstStrategy keeps using the same account until it becomes
// unavailable, maximizing prompt-cache reuse at the cost of some
// throughput. Grounded on the teacher's sticky strategy.
type cacheFirstStrategy struct {
	isUsable isUsableFunc
	kv       store.KVStore
}

func newCacheFirstStrategy(isUsable isUsableFunc, kv store.KVStore) *cacheFirstStrategy {
	return &cacheFirstStrategy{isUsable: isUsable, kv: kv}
}

func (s *cacheFirstStrategy) SelectAccount(ctx context.Context, accounts []*store.Account, modelID string, opts SelectOptions) *SelectionResult {
	if len(accounts) == 0 {
		return &SelectionResult{Index: opts.CurrentIndex}
	}
	index := opts.CurrentIndex
	if index < 0 || index >= len(accounts) {
		index = 0
	}
	current := accounts[index]

	if s.isUsable(ctx, current, modelID) {
		return &SelectionResult{Account: current, Index: index}
	}

	if usable := s.firstUsableFrom(ctx, accounts, index, modelID); usable != nil {
		logging.Infof("[CacheFirst] failover from %s to %s", current.Email, usable.account.Email)
		return &SelectionResult{Account: usable.account, Index: usable.index}
	}

	// No other account is usable right now. If the sticky account is
	// merely rate-limited and will reset soon, wait for it rather than
	// giving up the cache continuity it provides.
	if wait, ok := s.waitForCurrent(ctx, current, modelID); ok {
		return &SelectionResult{Index: index, WaitMs: wait}
	}
	return &SelectionResult{Index: index}
}

func (s *cacheFirstStrategy) firstUsableFrom(ctx context.Context, accounts []*store.Account, from int, modelID string) *accountWithIndex {
	for i := 1; i <= len(accounts); i++ {
		idx := (from + i) % len(accounts)
		if s.isUsable(ctx, accounts[idx], modelID) {
			return &accountWithIndex{account: accounts[idx], index: idx}
		}
	}
	return nil
}

// waitForCurrent returns the wait in milliseconds until the sticky
// account's rate limit resets, if that reset falls within
// maxWaitForStickyAccount; otherwise ok is false and the caller should
// fail over to another account instead of waiting.
func (s *cacheFirstStrategy) waitForCurrent(ctx context.Context, acc *store.Account, modelID string) (int64, bool) {
	if acc == nil || acc.IsInvalid || !acc.Enabled || modelID == "" || s.kv == nil {
		return 0, false
	}
	rl, err := s.kv.GetRateLimit(ctx, acc.Email, modelID)
	if err != nil || rl == nil || !rl.IsRateLimited || rl.ResetAtMs == 0 {
		return 0, false
	}
	waitMs := rl.ResetAtMs - time.Now().UnixMilli()
	if waitMs > 0 && waitMs <= maxWaitForStickyAccount.Milliseconds() {
		return waitMs, true
	}
	return 0, false
}

// CacheFirst doesn't track per-account health; outcomes are no-ops.
func (s *cacheFirstStrategy) OnSuccess(*store.Account, string)   {}
func (s *cacheFirstStrategy) OnRateLimit(*store.Account, string) {}
func (s *cacheFirstStrategy) OnFailure(*store.Account, string)   {}
