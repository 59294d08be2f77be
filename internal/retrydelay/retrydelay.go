// Package retrydelay parses upstream-supplied retry delays: a generic
// "duration string" accumulator (e.g. "1h16m0.667s" -> milliseconds)
// and a parser that pulls a retry delay out of a Google API error
// body, preferring a RetryInfo detail and falling back to a quota
// reset delay in the error's metadata.
package retrydelay

import (
	"encoding/json"
	"regexp"
	"strconv"
	"strings"
)

var durationTokenRe = regexp.MustCompile(`([\d.]+)\s*(ms|s|m|h)`)

// ParseDurationMs accumulates every "<number><unit>" token found
// anywhere in s and returns their sum in milliseconds. This is a
// generic accumulator, not a fixed "Nh Nm Ns" alternation: it matches
// whatever unit tokens appear, in any combination, and sums them all.
// Returns ok=false if no token matched.
func ParseDurationMs(s string) (int64, bool) {
	matches := durationTokenRe.FindAllStringSubmatch(s, -1)
	if len(matches) == 0 {
		return 0, false
	}
	var totalMs float64
	for _, m := range matches {
		n, err := strconv.ParseFloat(m[1], 64)
		if err != nil {
			continue
		}
		switch m[2] {
		case "ms":
			totalMs += n
		case "s":
			totalMs += n * 1000
		case "m":
			totalMs += n * 60 * 1000
		case "h":
			totalMs += n * 60 * 60 * 1000
		}
	}
	return int64(totalMs), true
}

type googleErrorBody struct {
	Error struct {
		Details []json.RawMessage `json:"details"`
	} `json:"error"`
}

// ParseRetryDelay extracts a retry delay in milliseconds from a Google
// API error response body. It first looks for a detail entry whose
// "@type" contains "RetryInfo" and reads its "retryDelay" string field
// (a duration string, e.g. "12.5s"); failing that, it looks for a
// "metadata.quotaResetDelay" field on any detail entry. Returns
// ok=false if neither is present or parseable.
func ParseRetryDelay(errorText string) (int64, bool) {
	var body googleErrorBody
	if err := json.Unmarshal([]byte(errorText), &body); err != nil {
		return 0, false
	}

	for _, raw := range body.Error.Details {
		var detail map[string]interface{}
		if err := json.Unmarshal(raw, &detail); err != nil {
			continue
		}
		typ, _ := detail["@type"].(string)
		if strings.Contains(typ, "RetryInfo") {
			if rd, ok := detail["retryDelay"].(string); ok {
				if ms, ok := ParseDurationMs(rd); ok {
					return ms, true
				}
			}
		}
	}

	for _, raw := range body.Error.Details {
		var detail map[string]interface{}
		if err := json.Unmarshal(raw, &detail); err != nil {
			continue
		}
		metadata, ok := detail["metadata"].(map[string]interface{})
		if !ok {
			continue
		}
		if qrd, ok := metadata["quotaResetDelay"].(string); ok {
			if ms, ok := ParseDurationMs(qrd); ok {
				return ms, true
			}
		}
	}

	return 0, false
}
