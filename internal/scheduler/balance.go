package scheduler

import (
	"context"
	"sort"
	"time"

	"github.com/kestrelmux/antigravity-relay/internal/config"
	"github.com/kestrelmux/antigravity-relay/internal/logging"
	"github.com/kestrelmux/antigravity-relay/internal/store"
)

var bgCtx = context.Background()

// fallbackLevel records how much of the normal eligibility gate a
// selection had to bypass to find any candidate at all.
type fallbackLevel string

const (
	fallbackNormal     fallbackLevel = "normal"
	fallbackQuota      fallbackLevel = "quota"     // bypassed quota-critical check
	fallbackEmergency  fallbackLevel = "emergency" // bypassed health check too
	fallbackLastResort fallbackLevel = "lastResort" // bypassed token bucket too
)

// balanceStrategy scores every usable account on health, token
// availability, quota headroom, and LRU freshness, and picks the
// highest scorer. When no account clears the full filter set it
// progressively relaxes quota, then health, then token-bucket checks
// so the pool degrades gracefully instead of failing outright.
// Grounded on the teacher's hybrid strategy.
type balanceStrategy struct {
	isUsable isUsableFunc
	kv       store.KVStore

	health   *HealthTracker
	tokens   *TokenBucketTracker
	quota    *QuotaTracker
	weights  WeightConfig
	bindings *bindingMap
}

func newBalanceStrategy(isUsable isUsableFunc, kv store.KVStore) *balanceStrategy {
	return &balanceStrategy{
		isUsable: isUsable,
		kv:       kv,
		health:   NewHealthTracker(defaultHealthConfig()),
		tokens:   NewTokenBucketTracker(defaultTokenBucketConfig()),
		quota:    NewQuotaTracker(defaultQuotaConfig()),
		weights:  DefaultWeights(),
		bindings: newBindingMap(),
	}
}

type scored struct {
	acc   *store.Account
	index int
	score float64
}

func (s *balanceStrategy) SelectAccount(ctx context.Context, accounts []*store.Account, modelID string, opts SelectOptions) *SelectionResult {
	if len(accounts) == 0 {
		return &SelectionResult{}
	}

	candidates, level := s.candidates(ctx, accounts, modelID)
	if len(candidates) == 0 {
		reason, waitMs := s.diagnose(ctx, accounts, modelID)
		logging.Warnf("[Balance] no candidates available: %s", reason)
		return &SelectionResult{WaitMs: waitMs}
	}

	family := config.GetModelFamily(modelID)
	if boundEmail, ok := s.bindings.lookup(opts.SessionID, family); ok {
		if bound := findCandidate(candidates, boundEmail); bound != nil {
			if level != fallbackLastResort {
				s.tokens.Consume(bound.account.Email)
			}
			logging.Infof("[Balance] using bound account: %s (session=%s)", bound.account.Email, opts.SessionID)
			s.bindings.bind(opts.SessionID, bound.account.Email, family)
			return &SelectionResult{Account: bound.account, Index: bound.index}
		}
	}

	scoredCandidates := make([]scored, 0, len(candidates))
	for _, c := range candidates {
		scoredCandidates = append(scoredCandidates, scored{acc: c.account, index: c.index, score: s.score(c.account, modelID)})
	}
	sort.Slice(scoredCandidates, func(i, j int) bool { return scoredCandidates[i].score > scoredCandidates[j].score })

	best := scoredCandidates[0]
	if level != fallbackLastResort {
		s.tokens.Consume(best.acc.Email)
	}

	var waitMs int64
	switch level {
	case fallbackLastResort:
		waitMs = 500
	case fallbackEmergency:
		waitMs = 250
	}

	suffix := ""
	if level != fallbackNormal {
		suffix = " fallback=" + string(level)
	}
	logging.Infof("[Balance] using account: %s (%d/%d, score=%.1f)%s", best.acc.Email, best.index+1, len(accounts), best.score, suffix)

	s.bindings.bind(opts.SessionID, best.acc.Email, family)

	return &SelectionResult{Account: best.acc, Index: best.index, WaitMs: waitMs}
}

// findCandidate returns the candidate matching email, or nil.
func findCandidate(candidates []accountWithIndex, email string) *accountWithIndex {
	for i := range candidates {
		if candidates[i].account.Email == email {
			return &candidates[i]
		}
	}
	return nil
}

func (s *balanceStrategy) candidates(ctx context.Context, accounts []*store.Account, modelID string) ([]accountWithIndex, fallbackLevel) {
	full := s.filter(ctx, accounts, modelID, true, true, true)
	if len(full) > 0 {
		return full, fallbackNormal
	}
	quotaBypassed := s.filter(ctx, accounts, modelID, true, true, false)
	if len(quotaBypassed) > 0 {
		logging.Warnf("[Balance] all accounts have critical quota, bypassing quota check")
		return quotaBypassed, fallbackQuota
	}
	healthBypassed := s.filter(ctx, accounts, modelID, true, false, false)
	if len(healthBypassed) > 0 {
		logging.Warnf("[Balance] all accounts unhealthy, bypassing health check")
		return healthBypassed, fallbackEmergency
	}
	anyUsable := s.filter(ctx, accounts, modelID, false, false, false)
	if len(anyUsable) > 0 {
		logging.Warnf("[Balance] all accounts exhausted, bypassing token bucket check")
		return anyUsable, fallbackLastResort
	}
	return nil, fallbackNormal
}

// filter applies the base eligibility gate plus the three optional
// signal checks (token bucket, health, quota), each individually
// toggleable so candidates() can relax them one at a time.
func (s *balanceStrategy) filter(ctx context.Context, accounts []*store.Account, modelID string, checkTokens, checkHealth, checkQuota bool) []accountWithIndex {
	out := make([]accountWithIndex, 0)
	for i, acc := range accounts {
		if !s.isUsable(ctx, acc, modelID) {
			continue
		}
		if checkHealth && !s.health.IsUsable(acc.Email) {
			continue
		}
		if checkTokens && !s.tokens.HasTokens(acc.Email) {
			continue
		}
		if checkQuota {
			q := s.quotaSnapshot(acc.Email)
			if s.quota.IsCritical(q, modelID, nil) {
				continue
			}
		}
		out = append(out, accountWithIndex{account: acc, index: i})
	}
	return out
}

func (s *balanceStrategy) quotaSnapshot(email string) *store.QuotaSnapshot {
	if s.kv == nil {
		return nil
	}
	q, err := s.kv.GetQuota(bgCtx, email)
	if err != nil {
		return nil
	}
	return q
}

func (s *balanceStrategy) score(acc *store.Account, modelID string) float64 {
	healthComponent := s.health.GetScore(acc.Email) * s.weights.Health

	tokens := s.tokens.GetTokens(acc.Email)
	maxTokens := s.tokens.GetMaxTokens()
	tokenComponent := (tokens / maxTokens * 100) * s.weights.Tokens

	quotaComponent := s.quota.Score(s.quotaSnapshot(acc.Email), modelID) * s.weights.Quota

	elapsed := time.Now().UnixMilli() - acc.LastUsedMs
	if elapsed > 3600_000 {
		elapsed = 3600_000
	}
	lruComponent := (float64(elapsed) / 1000) * s.weights.LRU

	return healthComponent + tokenComponent + quotaComponent + lruComponent
}

func (s *balanceStrategy) diagnose(ctx context.Context, accounts []*store.Account, modelID string) (string, int64) {
	var noTokens []string
	for _, acc := range accounts {
		if s.isUsable(ctx, acc, modelID) && s.health.IsUsable(acc.Email) && !s.tokens.HasTokens(acc.Email) {
			noTokens = append(noTokens, acc.Email)
		}
	}
	if len(noTokens) > 0 {
		return "all usable accounts exhausted their token bucket", s.tokens.MinTimeUntilToken(noTokens)
	}
	return "no account in the pool is currently usable", 0
}

func (s *balanceStrategy) OnSuccess(acc *store.Account, modelID string) {
	if acc != nil {
		s.health.RecordSuccess(acc.Email)
	}
}

func (s *balanceStrategy) OnRateLimit(acc *store.Account, modelID string) {
	if acc != nil {
		s.health.RecordRateLimit(acc.Email)
	}
}

func (s *balanceStrategy) OnFailure(acc *store.Account, modelID string) {
	if acc != nil {
		s.health.RecordFailure(acc.Email)
		s.tokens.Refund(acc.Email)
	}
}
