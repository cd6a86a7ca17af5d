package providers

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"
)

const (
	// Google OAuth token endpoint
	googleOAuthURL = "https://oauth2.googleapis.com/token"

	// UserInfo endpoint
	googleUserInfoURL = "https://www.googleapis.com/oauth2/v2/userinfo"
)

// TokenResponse represents the OAuth token response from Google.
type TokenResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token,omitempty"`
	Scope        string `json:"scope,omitempty"`
	TokenType    string `json:"token_type"`
	IDToken      string `json:"id_token,omitempty"`
	Error        string `json:"error,omitempty"`
	ExpiresIn    int    `json:"expires_in"`
}

// CachedToken represents a cached access token with expiration.
type CachedToken struct {
	ExpiresAt   time.Time
	AccessToken string
}

// IsValid checks if the cached token is still valid.
func (t *CachedToken) IsValid() bool {
	if t == nil || t.AccessToken == "" {
		return false
	}
	// 5 minute buffer before expiration
	return time.Now().Add(5 * time.Minute).Before(t.ExpiresAt)
}

// tokenCache holds access tokens keyed by refresh token. Entries belong to
// exactly one account, so sharing the map between fetches is safe.
type tokenCache struct {
	tokens map[string]*CachedToken
	mu     sync.Mutex
}

func (c *tokenCache) get(refreshToken string) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := c.tokens[refreshToken]
	if !t.IsValid() {
		return "", false
	}
	return t.AccessToken, true
}

func (c *tokenCache) put(refreshToken string, resp *TokenResponse) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.tokens == nil {
		c.tokens = make(map[string]*CachedToken)
	}
	expires := time.Duration(resp.ExpiresIn) * time.Second
	if expires <= 0 {
		expires = time.Hour
	}
	c.tokens[refreshToken] = &CachedToken{
		AccessToken: resp.AccessToken,
		ExpiresAt:   time.Now().Add(expires),
	}
}

// refreshAccessToken exchanges a refresh token for a new access token.
// A rejected grant is reported as ErrUnauthorized.
func (g *Google) refreshAccessToken(ctx context.Context, refreshToken string) (*TokenResponse, error) {
	if refreshToken == "" {
		return nil, errors.New("refresh token is empty")
	}
	if g.clientID == "" {
		return nil, errors.New("google OAuth client is not configured")
	}

	data := url.Values{}
	data.Set("client_id", g.clientID)
	data.Set("client_secret", g.clientSecret)
	data.Set("refresh_token", refreshToken)
	data.Set("grant_type", "refresh_token")

	resp, err := g.req.do(ctx, googleTimeout, http.MethodPost, g.tokenURL, strings.NewReader(data.Encode()),
		map[string]string{"Content-Type": "application/x-www-form-urlencoded"})
	if err != nil {
		return nil, fmt.Errorf("token request failed: %w", err)
	}

	var tokenResp TokenResponse
	_ = resp.Decode(&tokenResp)

	switch {
	case resp.Status == http.StatusUnauthorized,
		resp.Status == http.StatusBadRequest && tokenResp.Error == "invalid_grant":
		return nil, unauthorized("google", "refresh token was rejected")
	case resp.Status != http.StatusOK:
		return nil, fmt.Errorf("token refresh failed (status %d): %s", resp.Status, string(resp.Body))
	case tokenResp.AccessToken == "":
		return nil, errors.New("token response has no access token")
	}
	return &tokenResp, nil
}

// accessToken returns a usable access token for the account, refreshing it
// when the cached one is missing or about to expire.
func (g *Google) accessToken(ctx context.Context, refreshToken, current string) (string, error) {
	if refreshToken == "" {
		if current == "" {
			return "", errors.New("account has no Google credentials")
		}
		return current, nil
	}
	if token, ok := g.tokens.get(refreshToken); ok {
		return token, nil
	}
	resp, err := g.refreshAccessToken(ctx, refreshToken)
	if err != nil {
		return "", err
	}
	g.tokens.put(refreshToken, resp)
	return resp.AccessToken, nil
}

// UserInfo represents user information from Google.
type UserInfo struct {
	ID            string `json:"id"`
	Email         string `json:"email"`
	Name          string `json:"name"`
	Picture       string `json:"picture"`
	VerifiedEmail bool   `json:"verified_email"`
}

// fetchUserInfo retrieves user information from Google.
func (g *Google) fetchUserInfo(ctx context.Context, accessToken string) (*UserInfo, error) {
	resp, err := g.req.get(ctx, googleTimeout, g.userInfoURL, map[string]string{
		"Authorization": "Bearer " + accessToken,
		"Accept":        "application/json",
	})
	if err != nil {
		return nil, fmt.Errorf("userinfo request failed: %w", err)
	}
	if resp.Status == http.StatusUnauthorized {
		return nil, unauthorized("google", "access token was rejected")
	}
	if resp.Status != http.StatusOK {
		return nil, fmt.Errorf("userinfo request failed (status %d): %s", resp.Status, string(resp.Body))
	}

	var info UserInfo
	if err := resp.Decode(&info); err != nil {
		return nil, err
	}
	return &info, nil
}
