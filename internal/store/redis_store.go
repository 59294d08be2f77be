package store

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// Redis key prefixes, grounded in the hash-per-account layout the
// earlier Node.js-derived storage layer used.
const (
	prefixAccounts     = "antigravity:accounts:"
	prefixAccountIndex = "antigravity:accounts:index"
	prefixAccountOrder = "antigravity:accounts:order"
	prefixTokens       = "antigravity:tokens:"
	prefixQuotas       = "antigravity:quotas:"
	prefixRateLimits   = "antigravity:ratelimits:"
	prefixCurrent      = "antigravity:current"
)

// RedisStore is a Redis-backed KVStore for multi-process deployments.
type RedisStore struct {
	rdb *redis.Client
}

// NewRedisStore wraps an existing *redis.Client.
func NewRedisStore(rdb *redis.Client) *RedisStore {
	return &RedisStore{rdb: rdb}
}

func (s *RedisStore) ListAccounts(ctx context.Context) ([]*Account, error) {
	emails, err := s.rdb.LRange(ctx, prefixAccountOrder, 0, -1).Result()
	if err != nil && err != redis.Nil {
		return nil, err
	}
	out := make([]*Account, 0, len(emails))
	for _, email := range emails {
		acc, err := s.GetAccount(ctx, email)
		if err != nil || acc == nil {
			continue
		}
		out = append(out, acc)
	}
	return out, nil
}

func (s *RedisStore) GetAccount(ctx context.Context, email string) (*Account, error) {
	data, err := s.rdb.Get(ctx, prefixAccounts+email).Result()
	if err == redis.Nil {
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

func (s *RedisStore) PutAccount(ctx context.Context, acc *Account) error {
	if acc == nil || acc.Email == "" {
		return fmt.Errorf("store: account email is required")
	}
	data, err := json.Marshal(acc)
	if err != nil {
		return err
	}
	pipe := s.rdb.TxPipeline()
	pipe.Set(ctx, prefixAccounts+acc.Email, data, 0)
	pipe.SAdd(ctx, prefixAccountIndex, acc.Email)
	// Appended unconditionally; dedupeOrder below drops a repeated email.
	pipe.RPush(ctx, prefixAccountOrder, acc.Email)
	_, err = pipe.Exec(ctx)
	if err != nil {
		return err
	}
	return s.dedupeOrder(ctx)
}

// dedupeOrder collapses duplicate RPush entries introduced by repeated
// PutAccount calls for the same email, keeping first-seen order.
func (s *RedisStore) dedupeOrder(ctx context.Context) error {
	all, err := s.rdb.LRange(ctx, prefixAccountOrder, 0, -1).Result()
	if err != nil {
		return err
	}
	seen := make(map[string]bool, len(all))
	deduped := make([]string, 0, len(all))
	for _, e := range all {
		if seen[e] {
			continue
		}
		seen[e] = true
		deduped = append(deduped, e)
	}
	if len(deduped) == len(all) {
		return nil
	}
	pipe := s.rdb.TxPipeline()
	pipe.Del(ctx, prefixAccountOrder)
	if len(deduped) > 0 {
		args := make([]interface{}, len(deduped))
		for i, e := range deduped {
			args[i] = e
		}
		pipe.RPush(ctx, prefixAccountOrder, args...)
	}
	_, err = pipe.Exec(ctx)
	return err
}

func (s *RedisStore) DeleteAccount(ctx context.Context, email string) error {
	pipe := s.rdb.TxPipeline()
	pipe.Del(ctx, prefixAccounts+email)
	pipe.SRem(ctx, prefixAccountIndex, email)
	pipe.LRem(ctx, prefixAccountOrder, 0, email)
	pipe.Del(ctx, prefixTokens+email)
	pipe.Del(ctx, prefixQuotas+email)
	_, err := pipe.Exec(ctx)
	return err
}

func (s *RedisStore) Reorder(ctx context.Context, emails []string) error {
	pipe := s.rdb.TxPipeline()
	pipe.Del(ctx, prefixAccountOrder)
	if len(emails) > 0 {
		args := make([]interface{}, len(emails))
		for i, e := range emails {
			args[i] = e
		}
		pipe.RPush(ctx, prefixAccountOrder, args...)
	}
	_, err := pipe.Exec(ctx)
	return err
}

func (s *RedisStore) GetToken(ctx context.Context, email string) (*TokenRecord, error) {
	data, err := s.rdb.Get(ctx, prefixTokens+email).Result()
	if err == redis.Nil {
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

func (s *RedisStore) PutToken(ctx context.Context, email string, tok *TokenRecord) error {
	data, err := json.Marshal(tok)
	if err != nil {
		return err
	}
	return s.rdb.Set(ctx, prefixTokens+email, data, 0).Err()
}

func (s *RedisStore) ClearToken(ctx context.Context, email string) error {
	return s.rdb.Del(ctx, prefixTokens+email).Err()
}

func (s *RedisStore) GetQuota(ctx context.Context, email string) (*QuotaSnapshot, error) {
	data, err := s.rdb.Get(ctx, prefixQuotas+email).Result()
	if err == redis.Nil {
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

func (s *RedisStore) PutQuota(ctx context.Context, email string, q *QuotaSnapshot) error {
	data, err := json.Marshal(q)
	if err != nil {
		return err
	}
	return s.rdb.Set(ctx, prefixQuotas+email, data, 0).Err()
}

func (s *RedisStore) GetRateLimit(ctx context.Context, email, modelID string) (*RateLimitState, error) {
	data, err := s.rdb.Get(ctx, prefixRateLimits+email+":"+modelID).Result()
	if err == redis.Nil {
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

func (s *RedisStore) PutRateLimit(ctx context.Context, email, modelID string, rl *RateLimitState) error {
	data, err := json.Marshal(rl)
	if err != nil {
		return err
	}
	return s.rdb.Set(ctx, prefixRateLimits+email+":"+modelID, data, 0).Err()
}

func (s *RedisStore) ClearRateLimits(ctx context.Context, email string) error {
	keys, err := s.rdb.Keys(ctx, prefixRateLimits+email+":*").Result()
	if err != nil {
		return err
	}
	if len(keys) == 0 {
		return nil
	}
	return s.rdb.Del(ctx, keys...).Err()
}

func (s *RedisStore) Current(ctx context.Context) (string, error) {
	val, err := s.rdb.Get(ctx, prefixCurrent).Result()
	if err == redis.Nil {
		return "", nil
	}
	return val, err
}

func (s *RedisStore) SetCurrent(ctx context.Context, email string) error {
	return s.rdb.Set(ctx, prefixCurrent, email, 0).Err()
}

func (s *RedisStore) Close() error {
	return s.rdb.Close()
}
