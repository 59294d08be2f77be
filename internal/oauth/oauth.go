// Package oauth refreshes Google OAuth access tokens for accounts in
// the pool. Each account's refresh token is a composite string
// ("refreshToken|projectId|managedProjectId") carrying the project id
// alongside the credential, since Antigravity accounts are
// project-scoped.
package oauth

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"

	"github.com/kestrelmux/antigravity-relay/internal/config"
)

const (
	clientIDEnv     = "ANTIGRAVITY_OAUTH_CLIENT_ID"
	clientSecretEnv = "ANTIGRAVITY_OAUTH_CLIENT_SECRET"
)

// RefreshParts are the components of a composite refresh token.
type RefreshParts struct {
	RefreshToken     string
	ProjectID        string
	ManagedProjectID string
}

// ParseRefreshParts splits a composite refresh token on "|".
func ParseRefreshParts(composite string) RefreshParts {
	parts := strings.Split(composite, "|")
	out := RefreshParts{}
	if len(parts) > 0 {
		out.RefreshToken = parts[0]
	}
	if len(parts) > 1 && parts[1] != "" {
		out.ProjectID = parts[1]
	}
	if len(parts) > 2 && parts[2] != "" {
		out.ManagedProjectID = parts[2]
	}
	return out
}

// RefreshResult is a freshly minted access token.
type RefreshResult struct {
	AccessToken string
	ExpiresIn   int
}

// clientCredentials reads the OAuth client id/secret from the
// ANTIGRAVITY_OAUTH_CLIENT_ID and ANTIGRAVITY_OAUTH_CLIENT_SECRET
// environment variables; no credentials are built in, so each is empty
// when its variable is unset.
func clientCredentials() (string, string) {
	return envOr(clientIDEnv, ""), envOr(clientSecretEnv, "")
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// RefreshAccessToken exchanges a composite refresh token for a fresh
// access token against Google's OAuth endpoint.
func RefreshAccessToken(ctx context.Context, compositeRefresh string) (*RefreshResult, error) {
	parts := ParseRefreshParts(compositeRefresh)
	if parts.RefreshToken == "" {
		return nil, fmt.Errorf("oauth: empty refresh token")
	}

	clientID, clientSecret := clientCredentials()
	data := url.Values{
		"client_id":     {clientID},
		"client_secret": {clientSecret},
		"refresh_token": {parts.RefreshToken},
		"grant_type":    {"refresh_token"},
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, config.OAuthTokenURL, strings.NewReader(data.Encode()))
	if err != nil {
		return nil, fmt.Errorf("oauth: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("oauth: refresh request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("oauth: read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("oauth: refresh failed (%d): %s", resp.StatusCode, string(body))
	}

	var result struct {
		AccessToken string `json:"access_token"`
		ExpiresIn   int    `json:"expires_in"`
	}
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, fmt.Errorf("oauth: parse response: %w", err)
	}
	return &RefreshResult{AccessToken: result.AccessToken, ExpiresIn: result.ExpiresIn}, nil
}
