package monitor

import "testing"

func TestLogRequestNoopWhenDisabled(t *testing.T) {
	m := New(10)
	m.LogRequest(RequestLog{Method: "POST", URL: "/v1/messages", Status: 200})

	if stats := m.GetStats(); stats.TotalRequests != 0 {
		t.Fatalf("disabled monitor should not record requests, got %+v", stats)
	}
	if logs := m.GetLogs(10); len(logs) != 0 {
		t.Fatalf("disabled monitor should have no logs, got %d", len(logs))
	}
}

func TestLogRequestTracksStats(t *testing.T) {
	m := New(10)
	m.SetEnabled(true)

	m.LogRequest(RequestLog{Method: "POST", Status: 200})
	m.LogRequest(RequestLog{Method: "POST", Status: 500})
	m.LogRequest(RequestLog{Method: "POST", Status: 429})

	stats := m.GetStats()
	if stats.TotalRequests != 3 {
		t.Fatalf("total = %d, want 3", stats.TotalRequests)
	}
	if stats.SuccessCount != 1 {
		t.Fatalf("success = %d, want 1", stats.SuccessCount)
	}
	if stats.ErrorCount != 2 {
		t.Fatalf("error = %d, want 2", stats.ErrorCount)
	}
}

func TestLogRequestRingBufferCaps(t *testing.T) {
	m := New(2)
	m.SetEnabled(true)

	m.LogRequest(RequestLog{ID: "first", Status: 200})
	m.LogRequest(RequestLog{ID: "second", Status: 200})
	m.LogRequest(RequestLog{ID: "third", Status: 200})

	logs := m.GetLogs(10)
	if len(logs) != 2 {
		t.Fatalf("log count = %d, want 2 (capped)", len(logs))
	}
	if logs[0].ID != "third" || logs[1].ID != "second" {
		t.Fatalf("unexpected order: %+v", logs)
	}
}

func TestClearResetsLogsAndStats(t *testing.T) {
	m := New(10)
	m.SetEnabled(true)
	m.LogRequest(RequestLog{Status: 200})

	m.Clear()

	if stats := m.GetStats(); stats.TotalRequests != 0 {
		t.Fatalf("stats not reset: %+v", stats)
	}
	if logs := m.GetLogs(10); len(logs) != 0 {
		t.Fatalf("logs not reset: %d entries", len(logs))
	}
}

func TestSubscribeReceivesBroadcast(t *testing.T) {
	m := New(10)
	m.SetEnabled(true)

	ch, unsubscribe := m.Subscribe()
	defer unsubscribe()

	m.LogRequest(RequestLog{ID: "abc", Status: 200})

	select {
	case log := <-ch:
		if log.ID != "abc" {
			t.Fatalf("id = %q, want abc", log.ID)
		}
	default:
		t.Fatal("expected a buffered broadcast, got none")
	}
}

func TestGetFamilyAndShortName(t *testing.T) {
	tests := []struct {
		model, family, short string
	}{
		{"claude-opus-4-5", "claude", "opus-4-5"},
		{"gemini-2.5-pro", "gemini", "2.5-pro"},
		{"gpt-4o", "other", "gpt-4o"},
	}

	for _, tt := range tests {
		if got := GetFamily(tt.model); got != tt.family {
			t.Errorf("GetFamily(%q) = %q, want %q", tt.model, got, tt.family)
		}
		if got := GetShortName(tt.model, tt.family); got != tt.short {
			t.Errorf("GetShortName(%q, %q) = %q, want %q", tt.model, tt.family, got, tt.short)
		}
	}
}

func TestHistoryAggregatesByHourAndFamily(t *testing.T) {
	m := New(10)
	m.SetEnabled(true)

	now := int64(1700000000000)
	m.LogRequest(RequestLog{MappedModel: "claude-opus-4-5", TimestampMs: now, Status: 200})
	m.LogRequest(RequestLog{MappedModel: "claude-sonnet-4-5", TimestampMs: now, Status: 200})
	m.LogRequest(RequestLog{MappedModel: "gemini-2.5-pro", TimestampMs: now, Status: 200})

	history := m.History()
	if len(history) != 1 {
		t.Fatalf("expected a single hour bucket, got %d", len(history))
	}

	for _, hourData := range history {
		data, ok := hourData.(map[string]interface{})
		if !ok {
			t.Fatalf("unexpected hour data shape: %#v", hourData)
		}
		if data["_total"] != 3 {
			t.Fatalf("_total = %v, want 3", data["_total"])
		}
		claude, ok := data["claude"].(map[string]interface{})
		if !ok {
			t.Fatalf("missing claude family breakdown: %#v", data)
		}
		if claude["_subtotal"] != 2 {
			t.Fatalf("claude subtotal = %v, want 2", claude["_subtotal"])
		}
	}
}

func TestPruneHistoryRemovesOldBuckets(t *testing.T) {
	m := New(10)
	m.SetEnabled(true)

	old := int64(1577836800000) // 2020-01-01
	m.LogRequest(RequestLog{MappedModel: "claude-opus-4-5", TimestampMs: old, Status: 200})

	if removed := m.PruneHistory(historyRetention); removed != 1 {
		t.Fatalf("removed = %d, want 1", removed)
	}
	if len(m.History()) != 0 {
		t.Fatal("expected history to be empty after prune")
	}
}
