// Package signature implements the dual-layer thoughtSignature cache
// (C1): a tool_use_id -> signature map for restoring Gemini tool-call
// signatures Claude Code strips, and a signature -> model-family map
// for judging whether a cached thinking signature is still valid for
// a given target family. Entries expire after a fixed TTL; eviction
// sweeps happen lazily when a map grows past a size threshold rather
// than on a ticker, per the upstream cache this is grounded on.
package signature

import (
	"sync"
	"time"

	"github.com/kestrelmux/antigravity-relay/internal/config"
)

const evictionThreshold = 1000

type entry struct {
	value     string
	timestamp time.Time
}

func (e *entry) expired(ttl time.Duration) bool {
	return time.Since(e.timestamp) > ttl
}

// Cache is the in-memory signature store, and the only one: there is
// no Redis-backed layer, since the cache is read on every mapper call
// and must not round-trip the network.
type Cache struct {
	mu  sync.Mutex
	ttl time.Duration

	toolSignatures map[string]*entry // tool_use_id -> signature
	families       map[string]*entry // signature -> model family

	// mostRecent is the singleton "most-recent-thought-signature" slot:
	// used to recover a usable signature when the tool_use_id cache
	// can no longer be matched (e.g. after a history rewrite). A new
	// value replaces the current one only if it is strictly longer,
	// since partial/incremental signatures stream in before the
	// complete one and a shorter later value is never an improvement.
	latestMu   sync.Mutex
	mostRecent string
}

// New creates a Cache with the spec's default 2h TTL.
func New() *Cache {
	return &Cache{
		ttl:            time.Duration(config.GeminiSignatureCacheTTLMs) * time.Millisecond,
		toolSignatures: make(map[string]*entry),
		families:       make(map[string]*entry),
	}
}

// CacheToolSignature stores a thoughtSignature keyed by tool_use_id.
// Signatures shorter than MinSignatureLength are rejected as Claude
// Code's own pass-through marker text rather than a real Gemini
// signature.
func (c *Cache) CacheToolSignature(toolUseID, sig string) {
	if toolUseID == "" || len(sig) < config.MinSignatureLength {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.toolSignatures[toolUseID] = &entry{value: sig, timestamp: time.Now()}
	c.evictLocked(c.toolSignatures)
}

// GetToolSignature returns the signature cached for a tool_use_id, or "".
func (c *Cache) GetToolSignature(toolUseID string) string {
	if toolUseID == "" {
		return ""
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.toolSignatures[toolUseID]
	if !ok {
		return ""
	}
	if e.expired(c.ttl) {
		delete(c.toolSignatures, toolUseID)
		return ""
	}
	return e.value
}

// CacheSignatureFamily records which model family produced a thinking
// signature, so it can later be judged valid/invalid for a different
// target family. Signatures shorter than MinSignatureLength are
// rejected as Claude Code's own pass-through marker text rather than a
// real Gemini signature.
func (c *Cache) CacheSignatureFamily(sig, family string) {
	if sig == "" || len(sig) < config.MinSignatureLength {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.families[sig] = &entry{value: family, timestamp: time.Now()}
	c.evictLocked(c.families)
}

// GetSignatureFamily returns the model family that produced sig, or "".
func (c *Cache) GetSignatureFamily(sig string) string {
	if sig == "" {
		return ""
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.families[sig]
	if !ok {
		return ""
	}
	if e.expired(c.ttl) {
		delete(c.families, sig)
		return ""
	}
	return e.value
}

// evictLocked sweeps expired entries once a map exceeds the threshold.
// Caller must hold c.mu.
func (c *Cache) evictLocked(m map[string]*entry) {
	if len(m) <= evictionThreshold {
		return
	}
	for k, e := range m {
		if e.expired(c.ttl) {
			delete(m, k)
		}
	}
}

// StoreThoughtSignature records sig in the most-recent-thought-signature
// slot, replacing the current value only if sig is strictly longer.
func (c *Cache) StoreThoughtSignature(sig string) {
	if len(sig) < config.MinSignatureLength {
		return
	}
	c.latestMu.Lock()
	defer c.latestMu.Unlock()
	if len(sig) > len(c.mostRecent) {
		c.mostRecent = sig
	}
}

// MostRecentThoughtSignature returns the longest signature seen so far
// by StoreThoughtSignature, or "" if none has been stored yet.
func (c *Cache) MostRecentThoughtSignature() string {
	c.latestMu.Lock()
	defer c.latestMu.Unlock()
	return c.mostRecent
}

// Clear resets the thinking-signature-family layer only; the
// tool-signature map and the most-recent slot keep their entries.
func (c *Cache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.families = make(map[string]*entry)
}

var (
	global     *Cache
	globalOnce sync.Once
)

// Global returns the process-wide signature cache, creating it on first use.
func Global() *Cache {
	globalOnce.Do(func() { global = New() })
	return global
}
