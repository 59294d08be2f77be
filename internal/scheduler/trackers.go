package scheduler

import (
	"math"
	"sync"
	"time"

	"github.com/kestrelmux/antigravity-relay/internal/store"
)

// HealthConfig tunes the health-score tracker's reward/penalty curve.
type HealthConfig struct {
	Initial          float64
	SuccessReward    float64
	RateLimitPenalty float64
	FailurePenalty   float64
	RecoveryPerHour  float64
	MinUsable        float64
	MaxScore         float64
}

func defaultHealthConfig() HealthConfig {
	return HealthConfig{
		Initial: 70, SuccessReward: 1, RateLimitPenalty: -10, FailurePenalty: -20,
		RecoveryPerHour: 10, MinUsable: 50, MaxScore: 100,
	}
}

type healthRecord struct {
	score               float64
	lastUpdated         time.Time
	consecutiveFailures int
}

// HealthTracker scores accounts up on success, down on failure/rate
// limit, and passively recovers a score over time so a temporarily
// unhealthy account becomes eligible again without manual reset.
type HealthTracker struct {
	mu     sync.RWMutex
	scores map[string]*healthRecord
	cfg    HealthConfig
}

// NewHealthTracker creates a tracker with the given config.
func NewHealthTracker(cfg HealthConfig) *HealthTracker {
	return &HealthTracker{scores: make(map[string]*healthRecord), cfg: cfg}
}

func (t *HealthTracker) getScoreLocked(email string) float64 {
	r, ok := t.scores[email]
	if !ok {
		return t.cfg.Initial
	}
	recovered := r.score + time.Since(r.lastUpdated).Hours()*t.cfg.RecoveryPerHour
	if recovered > t.cfg.MaxScore {
		return t.cfg.MaxScore
	}
	return recovered
}

// GetScore returns the account's health score with passive recovery applied.
func (t *HealthTracker) GetScore(email string) float64 {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.getScoreLocked(email)
}

// IsUsable reports whether the account's score meets the usable floor.
func (t *HealthTracker) IsUsable(email string) bool {
	return t.GetScore(email) >= t.cfg.MinUsable
}

func (t *HealthTracker) adjust(email string, delta float64, resetFailures bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	cur := t.getScoreLocked(email)
	next := cur + delta
	if next > t.cfg.MaxScore {
		next = t.cfg.MaxScore
	}
	if next < 0 {
		next = 0
	}
	failures := 0
	if !resetFailures {
		if r, ok := t.scores[email]; ok {
			failures = r.consecutiveFailures + 1
		} else {
			failures = 1
		}
	}
	t.scores[email] = &healthRecord{score: next, lastUpdated: time.Now(), consecutiveFailures: failures}
}

func (t *HealthTracker) RecordSuccess(email string)   { t.adjust(email, t.cfg.SuccessReward, true) }
func (t *HealthTracker) RecordRateLimit(email string) { t.adjust(email, t.cfg.RateLimitPenalty, false) }
func (t *HealthTracker) RecordFailure(email string)   { t.adjust(email, t.cfg.FailurePenalty, false) }

// TokenBucketConfig tunes the client-side rate limiter.
type TokenBucketConfig struct {
	MaxTokens       float64
	TokensPerMinute float64
	InitialTokens   float64
}

func defaultTokenBucketConfig() TokenBucketConfig {
	return TokenBucketConfig{MaxTokens: 50, TokensPerMinute: 6, InitialTokens: 50}
}

type bucket struct {
	tokens      float64
	lastUpdated time.Time
}

// TokenBucketTracker implements a per-account token bucket so a single
// account can't monopolize the pool's concurrency even when healthy.
type TokenBucketTracker struct {
	mu      sync.RWMutex
	buckets map[string]*bucket
	cfg     TokenBucketConfig
}

// NewTokenBucketTracker creates a tracker with the given config.
func NewTokenBucketTracker(cfg TokenBucketConfig) *TokenBucketTracker {
	return &TokenBucketTracker{buckets: make(map[string]*bucket), cfg: cfg}
}

func (t *TokenBucketTracker) tokensLocked(email string) float64 {
	b, ok := t.buckets[email]
	if !ok {
		return t.cfg.InitialTokens
	}
	regenerated := time.Since(b.lastUpdated).Minutes() * t.cfg.TokensPerMinute
	cur := b.tokens + regenerated
	if cur > t.cfg.MaxTokens {
		return t.cfg.MaxTokens
	}
	return cur
}

func (t *TokenBucketTracker) GetTokens(email string) float64 {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.tokensLocked(email)
}

func (t *TokenBucketTracker) GetMaxTokens() float64 { return t.cfg.MaxTokens }

func (t *TokenBucketTracker) HasTokens(email string) bool { return t.GetTokens(email) >= 1 }

func (t *TokenBucketTracker) Consume(email string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	cur := t.tokensLocked(email)
	if cur < 1 {
		return false
	}
	t.buckets[email] = &bucket{tokens: cur - 1, lastUpdated: time.Now()}
	return true
}

func (t *TokenBucketTracker) Refund(email string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	cur := t.tokensLocked(email)
	next := cur + 1
	if next > t.cfg.MaxTokens {
		next = t.cfg.MaxTokens
	}
	t.buckets[email] = &bucket{tokens: next, lastUpdated: time.Now()}
}

// TimeUntilNextToken returns the wait, in milliseconds, until email has
// at least one token.
func (t *TokenBucketTracker) TimeUntilNextToken(email string) int64 {
	cur := t.GetTokens(email)
	if cur >= 1 {
		return 0
	}
	minutesNeeded := (1 - cur) / t.cfg.TokensPerMinute
	return int64(math.Ceil(minutesNeeded * 60 * 1000))
}

// MinTimeUntilToken returns the smallest per-account wait across emails.
func (t *TokenBucketTracker) MinTimeUntilToken(emails []string) int64 {
	if len(emails) == 0 {
		return 0
	}
	min := int64(math.MaxInt64)
	for _, e := range emails {
		w := t.TimeUntilNextToken(e)
		if w == 0 {
			return 0
		}
		if w < min {
			min = w
		}
	}
	if min == int64(math.MaxInt64) {
		return 0
	}
	return min
}

// QuotaConfig tunes how quota snapshots gate and score accounts.
type QuotaConfig struct {
	LowThreshold      float64
	CriticalThreshold float64
	StaleAfter        time.Duration
	UnknownScore      float64
}

func defaultQuotaConfig() QuotaConfig {
	return QuotaConfig{LowThreshold: 0.10, CriticalThreshold: 0.05, StaleAfter: 5 * time.Minute, UnknownScore: 50}
}

// QuotaTracker reads quota snapshots to gate and score account selection.
type QuotaTracker struct{ cfg QuotaConfig }

func NewQuotaTracker(cfg QuotaConfig) *QuotaTracker { return &QuotaTracker{cfg: cfg} }

func fraction(q *store.QuotaSnapshot, modelID string) float64 {
	if q == nil || q.Models == nil {
		return -1
	}
	m, ok := q.Models[modelID]
	if !ok {
		return -1
	}
	return m.RemainingFraction
}

func (t *QuotaTracker) isFresh(q *store.QuotaSnapshot) bool {
	if q == nil || q.CheckedAtMs == 0 {
		return false
	}
	return time.Since(time.UnixMilli(q.CheckedAtMs)) < t.cfg.StaleAfter
}

// IsCritical reports whether fresh quota data shows the account at or
// below threshold (falling back to the tracker's default critical
// threshold when override is nil or non-positive).
func (t *QuotaTracker) IsCritical(q *store.QuotaSnapshot, modelID string, override *float64) bool {
	f := fraction(q, modelID)
	if f < 0 || !t.isFresh(q) {
		return false
	}
	threshold := t.cfg.CriticalThreshold
	if override != nil && *override > 0 {
		threshold = *override
	}
	return f <= threshold
}

// Score returns a 0-100 score, penalizing stale data and defaulting to
// a neutral midpoint when quota is unknown.
func (t *QuotaTracker) Score(q *store.QuotaSnapshot, modelID string) float64 {
	f := fraction(q, modelID)
	if f < 0 {
		return t.cfg.UnknownScore
	}
	score := f * 100
	if !t.isFresh(q) {
		score *= 0.9
	}
	return score
}
