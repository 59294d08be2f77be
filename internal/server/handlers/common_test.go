package handlers

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kestrelmux/antigravity-relay/internal/apperrors"
	"github.com/kestrelmux/antigravity-relay/internal/config"
	"github.com/kestrelmux/antigravity-relay/internal/monitor"
	"github.com/kestrelmux/antigravity-relay/internal/scheduler"
	"github.com/kestrelmux/antigravity-relay/internal/store"
)

func newTestDeps(t *testing.T, accounts ...*store.Account) (*deps, store.KVStore) {
	t.Helper()
	kv := store.NewMemoryStore()
	ctx := context.Background()
	for _, acc := range accounts {
		require.NoError(t, kv.PutAccount(ctx, acc))
	}
	cfg := config.Default()
	return &deps{
		cfg:         cfg,
		kv:          kv,
		scheduler:   scheduler.New(kv, cfg),
		credentials: scheduler.NewCredentials(kv),
		monitor:     monitor.New(10),
	}, kv
}

func manualAccount(email, apiKey string) *store.Account {
	return &store.Account{Email: email, Source: "manual", Enabled: true, APIKey: apiKey}
}

func TestSelectAccountReturnsEnabledAccount(t *testing.T) {
	d, _ := newTestDeps(t, manualAccount("a@example.com", "key-a"))
	acc, err := d.selectAccount(context.Background(), "gemini-2.5-pro", "session-1")
	require.NoError(t, err)
	assert.Equal(t, "a@example.com", acc.Email)
}

func TestSelectAccountErrorsWhenPoolEmpty(t *testing.T) {
	d, _ := newTestDeps(t)
	_, err := d.selectAccount(context.Background(), "gemini-2.5-pro", "session-1")
	assert.Error(t, err)
	assert.True(t, apperrors.HTTPStatusFromError(err) >= 400)
}

func TestGetTokenReturnsManualAPIKey(t *testing.T) {
	d, _ := newTestDeps(t, manualAccount("a@example.com", "key-a"))
	token, err := d.getToken(context.Background(), manualAccount("a@example.com", "key-a"))
	require.NoError(t, err)
	assert.Equal(t, "key-a", token)
}

func TestGetTokenReturnsErrorWhenRefreshFails(t *testing.T) {
	d, kv := newTestDeps(t)
	acc := &store.Account{Email: "oauth@example.com", Source: "oauth", Enabled: true, RefreshToken: "bad-token"}
	require.NoError(t, kv.PutAccount(context.Background(), acc))

	_, err := d.getToken(context.Background(), acc)
	assert.Error(t, err)
}

func TestWithAccountSucceedsOnFirstTry(t *testing.T) {
	d, _ := newTestDeps(t, manualAccount("a@example.com", "key-a"))
	calls := 0
	acc, err := d.withAccount(context.Background(), "gemini-2.5-pro", "session-1", func(acc *store.Account, token string) error {
		calls++
		assert.Equal(t, "key-a", token)
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, "a@example.com", acc.Email)
	assert.Equal(t, 1, calls)
}

func TestWithAccountFailsOverToSecondAccount(t *testing.T) {
	d, _ := newTestDeps(t, manualAccount("a@example.com", "key-a"), manualAccount("b@example.com", "key-b"))
	seen := map[string]bool{}
	acc, err := d.withAccount(context.Background(), "gemini-2.5-pro", "session-1", func(acc *store.Account, token string) error {
		seen[acc.Email] = true
		if acc.Email == "a@example.com" {
			return apperrors.NewUpstreamTransport("simulated network failure")
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, "b@example.com", acc.Email)
	assert.True(t, seen["a@example.com"])
	assert.True(t, seen["b@example.com"])
}

func TestWithAccountReturnsNonRetryableErrorImmediately(t *testing.T) {
	d, _ := newTestDeps(t, manualAccount("a@example.com", "key-a"))
	calls := 0
	_, err := d.withAccount(context.Background(), "gemini-2.5-pro", "session-1", func(acc *store.Account, token string) error {
		calls++
		return apperrors.NewInvalidRequest("malformed request body")
	})
	assert.Error(t, err)
	assert.Equal(t, 1, calls)
}

func TestIsAccountRetryable(t *testing.T) {
	assert.True(t, isAccountRetryable(apperrors.NewUpstreamTransport("boom")))
	assert.True(t, isAccountRetryable(apperrors.NewUpstreamStatus(502, "", "bad gateway")))
	assert.False(t, isAccountRetryable(apperrors.NewUpstreamStatus(400, "", "bad request")))
	assert.False(t, isAccountRetryable(apperrors.NewInvalidRequest("nope")))
}

func TestProjectIDForFallsBackToDefault(t *testing.T) {
	assert.Equal(t, config.DefaultProjectID, projectIDFor(&store.Account{}))
	assert.Equal(t, "my-project", projectIDFor(&store.Account{ProjectID: "my-project"}))
}

func TestStickyIndexFindsCurrentAccount(t *testing.T) {
	ctx := context.Background()
	kv := store.NewMemoryStore()
	accounts := []*store.Account{manualAccount("a@example.com", "k"), manualAccount("b@example.com", "k")}
	require.NoError(t, kv.SetCurrent(ctx, "b@example.com"))
	assert.Equal(t, 1, stickyIndex(ctx, kv, accounts))
}

func TestStickyIndexDefaultsToZeroWhenUnset(t *testing.T) {
	ctx := context.Background()
	kv := store.NewMemoryStore()
	accounts := []*store.Account{manualAccount("a@example.com", "k")}
	assert.Equal(t, 0, stickyIndex(ctx, kv, accounts))
}
