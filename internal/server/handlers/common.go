package handlers

import (
	"context"
	"crypto/rand"
	"math/big"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/kestrelmux/antigravity-relay/internal/apperrors"
	"github.com/kestrelmux/antigravity-relay/internal/config"
	"github.com/kestrelmux/antigravity-relay/internal/logging"
	"github.com/kestrelmux/antigravity-relay/internal/monitor"
	"github.com/kestrelmux/antigravity-relay/internal/scheduler"
	"github.com/kestrelmux/antigravity-relay/internal/store"
	"github.com/kestrelmux/antigravity-relay/internal/upstream"
)

// deps bundles the shared dependencies every dialect handler needs,
// so each handler's constructor is a one-liner over this struct
// instead of repeating the same six fields four times.
type deps struct {
	cfg            *config.Config
	kv             store.KVStore
	scheduler      *scheduler.Scheduler
	credentials    *scheduler.Credentials
	upstreamClient *upstream.Client
	monitor        *monitor.Monitor
}

// projectIDFor returns acc's already-known project id, or the shared
// demo project as a synchronous fallback when nothing better is
// available. Grounded on streaming_handler.go's "projectID :=
// selectedAccount.ProjectID; if projectID == "" { projectID =
// config.DefaultProjectID }" pattern.
func projectIDFor(acc *store.Account) string {
	if acc.ProjectID != "" {
		return acc.ProjectID
	}
	return config.DefaultProjectID
}

var mockProjectAdjectives = []string{"useful", "bright", "swift", "calm", "bold"}
var mockProjectNouns = []string{"fuze", "wave", "spark", "flow", "core"}

const mockProjectIDChars = "abcdefghijklmnopqrstuvwxyz0123456789"

// generateMockProjectID synthesizes a project id shaped like a real
// Cloud Code one for accounts loadCodeAssist reports as ineligible,
// so the rest of the proxy never has to special-case a missing
// project id. Grounded on project_resolver.generate_mock_project_id.
func generateMockProjectID() string {
	adj := mockProjectAdjectives[randIndex(len(mockProjectAdjectives))]
	noun := mockProjectNouns[randIndex(len(mockProjectNouns))]
	suffix := make([]byte, 5)
	for i := range suffix {
		suffix[i] = mockProjectIDChars[randIndex(len(mockProjectIDChars))]
	}
	return adj + "-" + noun + "-" + string(suffix)
}

func randIndex(n int) int {
	max := big.NewInt(int64(n))
	i, err := rand.Int(rand.Reader, max)
	if err != nil {
		return 0
	}
	return int(i.Int64())
}

// resolveProjectID returns acc's project id, lazily fetching it via
// loadCodeAssist and persisting the result the first time an account
// is used without one, per spec 4.5's get_token step 4. An account
// loadCodeAssist reports as ineligible (no project bound yet) gets a
// synthesized mock id instead, also persisted so the choice is stable
// across calls.
func (d *deps) resolveProjectID(ctx context.Context, acc *store.Account, token string) string {
	if acc.ProjectID != "" {
		return acc.ProjectID
	}

	projectID, ok, err := d.upstreamClient.LoadCodeAssist(ctx, token)
	if err != nil {
		logging.Warnf("[handlers] loadCodeAssist failed for %s: %v", acc.Email, err)
		return config.DefaultProjectID
	}
	if !ok {
		projectID = generateMockProjectID()
		logging.Warnf("[handlers] account %s has no eligible Cloud Code project, using mock id %s", acc.Email, projectID)
	}

	acc.ProjectID = projectID
	if putErr := d.kv.PutAccount(ctx, acc); putErr != nil {
		logging.Warnf("[handlers] failed to persist project id for %s: %v", acc.Email, putErr)
	}
	return projectID
}

// stickyIndex looks up the account most recently marked "current" so
// CacheFirst can keep picking it across independent requests instead
// of always restarting from index 0.
func stickyIndex(ctx context.Context, kv store.KVStore, accounts []*store.Account) int {
	email, err := kv.Current(ctx)
	if err != nil || email == "" {
		return 0
	}
	for i, acc := range accounts {
		if acc.Email == email {
			return i
		}
	}
	return 0
}

// writeError renders any error (an *apperrors kind or a plain error)
// as the spec 6 wire shape with the matching HTTP status.
func writeError(c *gin.Context, err error) {
	c.AbortWithStatusJSON(apperrors.HTTPStatusFromError(err), apperrors.Body(err))
}

// logRequest records the completed call with the monitor; a no-op
// when monitoring is disabled (Monitor.LogRequest already
// short-circuits on that, this just fills in the common fields).
func (d *deps) logRequest(c *gin.Context, durationMs int64, status int, model, mappedModel, email, errMsg string, inputTokens, outputTokens int) {
	d.monitor.LogRequest(monitor.RequestLog{
		Method:       c.Request.Method,
		URL:          c.Request.URL.Path,
		Status:       status,
		DurationMs:   durationMs,
		Model:        model,
		MappedModel:  mappedModel,
		AccountEmail: email,
		Error:        errMsg,
		InputTokens:  inputTokens,
		OutputTokens: outputTokens,
	})
}

// httpStatusOrDefault maps a nil error to 200.
func httpStatusOrDefault(err error) int {
	if err == nil {
		return http.StatusOK
	}
	return apperrors.HTTPStatusFromError(err)
}

// selectAccount asks the scheduler for a usable account, honoring a
// bounded wait (spec 5: "cooldown waits bounded by max_wait_seconds,
// never fail, just fall through") before giving up with
// AccountUnavailable.
func (d *deps) selectAccount(ctx context.Context, modelID, sessionID string) (*store.Account, error) {
	accounts, err := d.kv.ListAccounts(ctx)
	if err != nil {
		return nil, apperrors.NewAccountUnavailable(false, "scheduler: list accounts: %v", err)
	}
	idx := stickyIndex(ctx, d.kv, accounts)
	maxWaitMs := int64(d.cfg.Snapshot().MaxWaitSeconds) * 1000
	if maxWaitMs <= 0 {
		maxWaitMs = int64(config.DefaultMaxWaitSeconds) * 1000
	}
	var waited int64

	for {
		result, err := d.scheduler.Select(ctx, modelID, scheduler.SelectOptions{CurrentIndex: idx, SessionID: sessionID})
		if err != nil {
			return nil, apperrors.NewAccountUnavailable(false, "scheduler: %v", err)
		}
		if result.Account != nil {
			return result.Account, nil
		}
		if result.WaitMs > 0 && waited+result.WaitMs <= maxWaitMs {
			select {
			case <-ctx.Done():
				return nil, apperrors.NewAccountUnavailable(false, "scheduler: %v", ctx.Err())
			case <-time.After(time.Duration(result.WaitMs) * time.Millisecond):
			}
			waited += result.WaitMs
			idx = result.Index
			continue
		}
		return nil, apperrors.NewAccountUnavailable(true, "no usable account for model %s", modelID)
	}
}

// getToken resolves an access token for acc, disabling the account
// and rebinding away from it (spec 7) when the refresh failure is a
// permanent invalid_grant rather than a transient hiccup.
func (d *deps) getToken(ctx context.Context, acc *store.Account) (string, error) {
	token, err := d.credentials.GetAccessToken(ctx, acc)
	if err != nil {
		if strings.Contains(strings.ToLower(err.Error()), "invalid_grant") {
			acc.IsInvalid = true
			acc.InvalidReason = "invalid_grant"
			acc.InvalidAtMs = time.Now().UnixMilli()
			if putErr := d.kv.PutAccount(ctx, acc); putErr != nil {
				logging.Warnf("[handlers] failed to disable invalid account %s: %v", acc.Email, putErr)
			}
			d.credentials.ClearCacheForAccount(ctx, acc.Email)
		}
		return "", apperrors.NewUnauthorized("credentials: %v", err)
	}
	return token, nil
}

// isAccountRetryable reports whether a failed call should be retried
// against a different account rather than surfaced to the client
// immediately.
func isAccountRetryable(err error) bool {
	switch e := err.(type) {
	case *apperrors.RateLimitedError:
		return true
	case *apperrors.UpstreamTransportError:
		return true
	case *apperrors.UpstreamStatusError:
		return e.StatusCode >= 500
	case *apperrors.UnauthorizedError:
		return true
	default:
		return false
	}
}

// withAccount runs try against successive accounts until it succeeds,
// hits a non-retryable error, or the pool is exhausted, reporting each
// outcome to the scheduler so its failover/cooldown bookkeeping stays
// accurate. Grounded on streaming_handler.go's streamWithRetry loop,
// generalized to every dialect instead of just the streaming Claude path.
func (d *deps) withAccount(ctx context.Context, modelID, sessionID string, try func(acc *store.Account, token string) error) (*store.Account, error) {
	tried := make(map[string]bool)
	for attempt := 0; attempt < config.MaxUpstreamRetries; attempt++ {
		acc, err := d.selectAccount(ctx, modelID, sessionID)
		if err != nil {
			return nil, err
		}
		if tried[acc.Email] {
			return nil, apperrors.NewAccountUnavailable(true, "no further usable account for model %s", modelID)
		}
		tried[acc.Email] = true

		token, err := d.getToken(ctx, acc)
		if err != nil {
			d.scheduler.OnFailure(acc, modelID)
			continue
		}

		callErr := try(acc, token)
		if callErr == nil {
			d.scheduler.OnSuccess(acc, modelID)
			return acc, nil
		}

		if rl, ok := callErr.(*apperrors.RateLimitedError); ok {
			d.scheduler.OnRateLimit(acc, modelID)
			_ = d.kv.PutRateLimit(ctx, acc.Email, modelID, &store.RateLimitState{
				IsRateLimited: true,
				ResetAtMs:     time.Now().Add(time.Duration(rl.RetryAfterMs) * time.Millisecond).UnixMilli(),
			})
			continue
		}
		if isAccountRetryable(callErr) {
			d.scheduler.OnFailure(acc, modelID)
			continue
		}
		return acc, callErr
	}
	return nil, apperrors.NewAccountUnavailable(true, "exhausted all accounts for model %s", modelID)
}
