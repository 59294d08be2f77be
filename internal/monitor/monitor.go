// Package monitor keeps a bounded in-memory log of recent proxied
// requests plus running success/error counters and an hourly
// per-model usage history, for the admin dashboard's live feed.
// Disabled by default: logging a request is a no-op until SetEnabled
// is called, so the ring buffer never fills on a relay nobody is
// watching. Grounded on the teacher's ProxyMonitor (request ring
// buffer, stats, enabled flag, event emission) and its UsageStats
// module (family/model hourly breakdown).
package monitor

import (
	"context"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/kestrelmux/antigravity-relay/internal/logging"
)

// RequestLog is one proxied request, newest-first in the ring buffer.
type RequestLog struct {
	ID           string `json:"id"`
	TimestampMs  int64  `json:"timestamp"`
	Method       string `json:"method"`
	URL          string `json:"url"`
	Status       int    `json:"status"`
	DurationMs   int64  `json:"duration"`
	Model        string `json:"model,omitempty"`
	MappedModel  string `json:"mappedModel,omitempty"`
	AccountEmail string `json:"accountEmail,omitempty"`
	Error        string `json:"error,omitempty"`
	RequestBody  string `json:"requestBody,omitempty"`
	ResponseBody string `json:"responseBody,omitempty"`
	InputTokens  int    `json:"inputTokens,omitempty"`
	OutputTokens int    `json:"outputTokens,omitempty"`
}

// Stats are running totals since the last Clear.
type Stats struct {
	TotalRequests uint64 `json:"totalRequests"`
	SuccessCount  uint64 `json:"successCount"`
	ErrorCount    uint64 `json:"errorCount"`
}

type familyBucket struct {
	subtotal int
	models   map[string]int
}

type hourBucket struct {
	total    int
	families map[string]*familyBucket
}

// Monitor is the live request feed and usage history for the admin UI.
type Monitor struct {
	enabled atomic.Bool

	mu      sync.RWMutex
	logs    []RequestLog
	maxLogs int
	stats   Stats

	logStore LogStore

	subMu     sync.Mutex
	subs      map[int]chan RequestLog
	nextSubID int

	histMu  sync.Mutex
	history map[string]*hourBucket
}

// New creates a Monitor holding up to maxLogs recent requests, disabled
// until SetEnabled(true) is called.
func New(maxLogs int) *Monitor {
	if maxLogs <= 0 {
		maxLogs = 200
	}
	return &Monitor{
		maxLogs: maxLogs,
		subs:    make(map[int]chan RequestLog),
		history: make(map[string]*hourBucket),
	}
}

// SetLogStore attaches a persistence backend for the request log.
// Without one, LogRequest/GetLogs operate purely in memory.
func (m *Monitor) SetLogStore(ls LogStore) { m.logStore = ls }

// SetEnabled toggles whether LogRequest records anything.
func (m *Monitor) SetEnabled(enabled bool) { m.enabled.Store(enabled) }

// IsEnabled reports the current enabled state.
func (m *Monitor) IsEnabled() bool { return m.enabled.Load() }

// LogRequest records a completed request: stats, ring buffer, hourly
// usage history, and a best-effort broadcast to live subscribers. A
// no-op while disabled.
func (m *Monitor) LogRequest(log RequestLog) {
	if !m.IsEnabled() {
		return
	}
	if log.ID == "" {
		log.ID = uuid.New().String()
	}
	if log.TimestampMs == 0 {
		log.TimestampMs = time.Now().UnixMilli()
	}

	m.mu.Lock()
	m.stats.TotalRequests++
	if log.Status >= 200 && log.Status < 400 {
		m.stats.SuccessCount++
	} else {
		m.stats.ErrorCount++
	}
	m.logs = append([]RequestLog{log}, m.logs...)
	if len(m.logs) > m.maxLogs {
		m.logs = m.logs[:m.maxLogs]
	}
	m.mu.Unlock()

	m.track(log)
	m.persist(log)
	m.broadcast(log)
}

// persist spawns a best-effort save of log to the configured LogStore,
// mirroring the Rust monitor's fire-and-forget tokio::spawn(save_log).
// A no-op when no store is attached.
func (m *Monitor) persist(log RequestLog) {
	if m.logStore == nil {
		return
	}
	go func() {
		if err := m.logStore.AppendLog(context.Background(), log); err != nil {
			logging.Warnf("[monitor] failed to persist request log %s: %v", log.ID, err)
		}
	}()
}

func (m *Monitor) broadcast(log RequestLog) {
	m.subMu.Lock()
	defer m.subMu.Unlock()
	for _, ch := range m.subs {
		select {
		case ch <- log:
		default:
		}
	}
}

// Subscribe registers a channel that receives every log from this
// point forward; the returned func unsubscribes and closes the
// channel. Callers must keep draining it or risk missed events (sends
// are best-effort and drop rather than block).
func (m *Monitor) Subscribe() (<-chan RequestLog, func()) {
	m.subMu.Lock()
	defer m.subMu.Unlock()
	id := m.nextSubID
	m.nextSubID++
	ch := make(chan RequestLog, 32)
	m.subs[id] = ch
	return ch, func() {
		m.subMu.Lock()
		defer m.subMu.Unlock()
		if _, ok := m.subs[id]; ok {
			delete(m.subs, id)
			close(ch)
		}
	}
}

// GetLogs returns up to limit of the most recent logs, preferring the
// persistent store (which holds the full history) and falling back to
// the in-memory ring buffer when no store is attached or the read fails.
func (m *Monitor) GetLogs(limit int) []RequestLog {
	if m.logStore != nil {
		logs, err := m.logStore.ListLogs(context.Background(), limit)
		if err == nil {
			return logs
		}
		logging.Warnf("[monitor] failed to read logs from store, falling back to memory: %v", err)
	}

	m.mu.RLock()
	defer m.mu.RUnlock()
	if limit <= 0 || limit > len(m.logs) {
		limit = len(m.logs)
	}
	out := make([]RequestLog, limit)
	copy(out, m.logs[:limit])
	return out
}

// GetStats returns the current running totals.
func (m *Monitor) GetStats() Stats {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.stats
}

// Clear empties the ring buffer, the persisted log store, and resets
// stats; usage history is left intact since it backs a longer-lived
// dashboard chart.
func (m *Monitor) Clear() {
	m.mu.Lock()
	m.logs = nil
	m.stats = Stats{}
	m.mu.Unlock()

	if m.logStore != nil {
		if err := m.logStore.ClearLogs(context.Background()); err != nil {
			logging.Warnf("[monitor] failed to clear persisted logs: %v", err)
		}
	}
}

// GetFamily extracts the model family ("claude", "gemini", "other")
// from a model id.
func GetFamily(modelID string) string {
	lower := strings.ToLower(modelID)
	switch {
	case strings.Contains(lower, "claude"):
		return "claude"
	case strings.Contains(lower, "gemini"):
		return "gemini"
	default:
		return "other"
	}
}

// GetShortName strips the family prefix from a model id, e.g.
// "claude-opus-4-5" -> "opus-4-5".
func GetShortName(modelID, family string) string {
	if family == "other" {
		return modelID
	}
	prefix := family + "-"
	if strings.HasPrefix(strings.ToLower(modelID), prefix) {
		return modelID[len(prefix):]
	}
	return modelID
}

func hourKey(t time.Time) string { return t.UTC().Format("2006-01-02T15") }

// track folds one request into its hour's family/model breakdown,
// preferring the mapped (upstream) model name since that reflects
// what was actually billed against the account pool.
func (m *Monitor) track(log RequestLog) {
	modelID := log.MappedModel
	if modelID == "" {
		modelID = log.Model
	}
	if modelID == "" {
		return
	}
	family := GetFamily(modelID)
	short := GetShortName(modelID, family)

	key := hourKey(time.UnixMilli(log.TimestampMs))
	m.histMu.Lock()
	defer m.histMu.Unlock()
	hb, ok := m.history[key]
	if !ok {
		hb = &hourBucket{families: make(map[string]*familyBucket)}
		m.history[key] = hb
	}
	hb.total++
	fb, ok := hb.families[family]
	if !ok {
		fb = &familyBucket{models: make(map[string]int)}
		hb.families[family] = fb
	}
	fb.subtotal++
	fb.models[short]++
}

// PruneHistory drops hourly buckets older than olderThan, returning
// the number of buckets removed. Intended to run on an hourly ticker.
func (m *Monitor) PruneHistory(olderThan time.Duration) int {
	cutoff := time.Now().Add(-olderThan)
	m.histMu.Lock()
	defer m.histMu.Unlock()
	removed := 0
	for key := range m.history {
		t, err := time.Parse("2006-01-02T15", key)
		if err != nil || t.Before(cutoff) {
			delete(m.history, key)
			removed++
		}
	}
	return removed
}

// History returns the full usage history in the nested
// family/model-counted shape the admin dashboard expects, keyed by
// ISO hour timestamp and sorted chronologically.
func (m *Monitor) History() map[string]interface{} {
	m.histMu.Lock()
	snapshot := make(map[string]*hourBucket, len(m.history))
	for k, v := range m.history {
		snapshot[k] = v
	}
	m.histMu.Unlock()

	keys := make([]string, 0, len(snapshot))
	for k := range snapshot {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	out := make(map[string]interface{}, len(keys))
	for _, key := range keys {
		t, err := time.Parse("2006-01-02T15", key)
		if err != nil {
			continue
		}
		isoKey := t.Format("2006-01-02T15:04:05.000Z")
		hb := snapshot[key]

		hourData := make(map[string]interface{}, len(hb.families)+1)
		hourData["_total"] = hb.total
		for family, fb := range hb.families {
			familyData := make(map[string]interface{}, len(fb.models)+1)
			familyData["_subtotal"] = fb.subtotal
			for model, count := range fb.models {
				familyData[model] = count
			}
			hourData[family] = familyData
		}
		out[isoKey] = hourData
	}
	return out
}
