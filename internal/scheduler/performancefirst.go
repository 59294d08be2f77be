package scheduler

import (
	"context"
	"sync"

	"github.com/kestrelmux/antigravity-relay/internal/logging"
	"github.com/kestrelmux/antigravity-relay/internal/store"
)

// performanceFirstStrategy rotates to the next usable account on
// every request, trading cache continuity for maximum concurrency
// across the pool. Grounded on the teacher's round-robin strategy.
type performanceFirstStrategy struct {
	isUsable isUsableFunc

	mu     sync.Mutex
	cursor int
}

func newPerformanceFirstStrategy(isUsable isUsableFunc) *performanceFirstStrategy {
	return &performanceFirstStrategy{isUsable: isUsable}
}

func (s *performanceFirstStrategy) SelectAccount(ctx context.Context, accounts []*store.Account, modelID string, opts SelectOptions) *SelectionResult {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(accounts) == 0 {
		return &SelectionResult{Index: 0}
	}
	if s.cursor >= len(accounts) {
		s.cursor = 0
	}

	start := (s.cursor + 1) % len(accounts)
	for i := 0; i < len(accounts); i++ {
		idx := (start + i) % len(accounts)
		acc := accounts[idx]
		if s.isUsable(ctx, acc, modelID) {
			s.cursor = idx
			logging.Infof("[PerformanceFirst] using account: %s (%d/%d)", acc.Email, idx+1, len(accounts))
			return &SelectionResult{Account: acc, Index: idx}
		}
	}
	return &SelectionResult{Index: s.cursor}
}

// PerformanceFirst doesn't track per-account health; outcomes are no-ops.
func (s *performanceFirstStrategy) OnSuccess(*store.Account, string)   {}
func (s *performanceFirstStrategy) OnRateLimit(*store.Account, string) {}
func (s *performanceFirstStrategy) OnFailure(*store.Account, string)   {}
