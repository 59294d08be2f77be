package monitor

import (
	"context"
	"time"

	"github.com/kestrelmux/antigravity-relay/internal/logging"
)

const historyRetention = 30 * 24 * time.Hour

// pruneOnce drops usage-history buckets and persisted request logs
// older than historyRetention, logging only when something was removed.
func (m *Monitor) pruneOnce(ctx context.Context) {
	if n := m.PruneHistory(historyRetention); n > 0 {
		logging.Debugf("[monitor] pruned %d stale usage buckets", n)
	}
	if m.logStore != nil {
		cutoff := time.Now().Add(-historyRetention).UnixMilli()
		n, err := m.logStore.PruneLogs(ctx, cutoff)
		if err != nil {
			logging.Warnf("[monitor] failed to prune persisted logs: %v", err)
		} else if n > 0 {
			logging.Debugf("[monitor] pruned %d stale request logs (>30 days)", n)
		}
	}
}

// RunBackgroundPrune runs an immediate cleanup of usage history and
// persisted request logs older than 30 days, then repeats it hourly
// until ctx is canceled. Grounded on the teacher's UsageStats
// backgroundPrune ticker and ProxyMonitor::new's startup
// cleanup_old_logs(30) call.
func (m *Monitor) RunBackgroundPrune(ctx context.Context) {
	m.pruneOnce(ctx)

	ticker := time.NewTicker(1 * time.Hour)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.pruneOnce(ctx)
		}
	}
}
