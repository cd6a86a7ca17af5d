package providers

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"net/http"
	"strings"
	"time"
	"unicode"

	"github.com/j-veylop/limitwatch/internal/logger"
	"github.com/j-veylop/limitwatch/internal/models"
)

const (
	openAIClientID   = "app_EMoamEEZ73f0CkXaXp7hrann"
	openAITokenURL   = "https://auth.openai.com/oauth/token"
	chatGPTBackend   = "https://chatgpt.com/backend-api"
	openAITimeout    = 1500 * time.Millisecond
	openAILoginTime  = 10 * time.Second
	openAISource     = "OpenAI Codex"
	openAIFallbackID = "OpenAI User"
)

// OpenAI reports ChatGPT Codex plan usage windows and credits.
type OpenAI struct {
	req      requester
	baseURL  string
	tokenURL string
}

// NewOpenAI returns the OpenAI Codex provider.
func NewOpenAI(opts Options) *OpenAI {
	return &OpenAI{
		req:      requester{client: opts.client(), provider: "openai"},
		baseURL:  chatGPTBackend,
		tokenURL: openAITokenURL,
	}
}

func (o *OpenAI) Type() models.ProviderType { return models.ProviderOpenAI }
func (o *OpenAI) Name() string              { return "OpenAI Codex" }
func (o *OpenAI) PrimaryColor() string      { return ColorGreen }
func (o *OpenAI) ShortIndicator() string    { return "O" }

func (o *OpenAI) Color(models.QuotaRecord) string { return ColorGreen }

func (o *OpenAI) FilterQuotas(records []models.QuotaRecord, _ bool) []models.QuotaRecord {
	return records
}

func (o *OpenAI) SortKey(q models.QuotaRecord) SortKey {
	name := q.Label()
	family := 3
	switch {
	case strings.Contains(name, "Primary"):
		family = 0
	case strings.Contains(name, "Secondary"):
		family = 1
	case strings.Contains(name, "Credits"):
		family = 2
	}
	return SortKey{Family: family, Name: name}
}

func bearer(token string) map[string]string {
	return map[string]string{"Authorization": "Bearer " + token}
}

type openAITokens struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
}

// refresh exchanges the refresh token for a new token pair.
func (o *OpenAI) refresh(ctx context.Context, refreshToken string) (*openAITokens, error) {
	body, err := json.Marshal(map[string]string{
		"client_id":     openAIClientID,
		"grant_type":    "refresh_token",
		"refresh_token": refreshToken,
		"scope":         "openid profile email",
	})
	if err != nil {
		return nil, err
	}
	resp, err := o.req.do(ctx, openAILoginTime, http.MethodPost, o.tokenURL, bytes.NewReader(body),
		map[string]string{"Content-Type": "application/json"})
	if err != nil {
		return nil, fmt.Errorf("token refresh failed: %w", err)
	}
	if resp.Status != http.StatusOK {
		return nil, fmt.Errorf("token refresh failed (status %d)", resp.Status)
	}
	var tokens openAITokens
	if err := resp.Decode(&tokens); err != nil {
		return nil, err
	}
	if tokens.AccessToken == "" {
		return nil, errors.New("token response has no access token")
	}
	if tokens.RefreshToken == "" {
		tokens.RefreshToken = refreshToken
	}
	return &tokens, nil
}

// usage calls the usage endpoint, refreshing the access token once on 401.
// The account's tokens are updated in place after a refresh.
func (o *OpenAI) usage(ctx context.Context, account *models.Account) (*response, error) {
	resp, err := o.req.get(ctx, openAITimeout, o.baseURL+"/wham/usage", bearer(account.AccessToken))
	if err != nil {
		return nil, err
	}
	if resp.Status != http.StatusUnauthorized || account.RefreshToken == "" {
		return resp, nil
	}

	tokens, err := o.refresh(ctx, account.RefreshToken)
	if err != nil {
		logger.Debug("openai token refresh failed", "account", account.Email, "error", err)
		return resp, nil
	}
	account.AccessToken = tokens.AccessToken
	account.RefreshToken = tokens.RefreshToken
	return o.req.get(ctx, openAITimeout, o.baseURL+"/wham/usage", bearer(account.AccessToken))
}

func codexError(msg string) []models.QuotaRecord {
	return []models.QuotaRecord{models.ErrorRecord("OpenAI Codex", "Codex", openAISource, msg)}
}

// FetchQuotas reads the plan usage windows.
func (o *OpenAI) FetchQuotas(ctx context.Context, account *models.Account) ([]models.QuotaRecord, error) {
	if account.AccessToken == "" || !HasTime(ctx) {
		return nil, nil
	}

	resp, err := o.usage(ctx, account)
	switch {
	case errors.Is(err, errNoTime):
		return nil, nil
	case err != nil:
		return codexError(err.Error()), nil
	case resp.Status == http.StatusUnauthorized:
		return nil, unauthorized("openai", "Codex access token was rejected")
	case resp.Status != http.StatusOK:
		return codexError(fmt.Sprintf("HTTP %d", resp.Status)), nil
	}

	var data codexUsage
	if err := resp.Decode(&data); err != nil {
		return codexError(err.Error()), nil
	}
	return data.records(), nil
}

// Login validates the access token and resolves a readable identity from the
// profile endpoint or the token claims.
func (o *OpenAI) Login(ctx context.Context, account *models.Account) error {
	if account.AccessToken == "" {
		return errors.New("OpenAI access token is required")
	}
	resp, err := o.usage(ctx, account)
	if err != nil {
		return fmt.Errorf("OpenAI API request failed: %w", err)
	}
	if resp.Status != http.StatusOK {
		return fmt.Errorf("token validation failed: HTTP %d", resp.Status)
	}

	account.Type = models.ProviderOpenAI
	account.Services = []string{"OPENAI_CODEX"}
	account.Email = o.identity(ctx, account.AccessToken)
	return nil
}

func (o *OpenAI) identity(ctx context.Context, token string) string {
	if resp, err := o.req.get(ctx, openAILoginTime, o.baseURL+"/me", bearer(token)); err == nil && resp.OK() {
		var payload any
		if resp.Decode(&payload) == nil {
			if id := identityFromPayload(payload); id != "" {
				return id
			}
		}
	}
	if id := identityFromToken(token); id != "" {
		return id
	}
	return openAIFallbackID
}

var (
	identityKeys = []string{"email", "preferred_username", "username", "user_name", "login", "name", "nickname"}
	fallbackKeys = []string{"id", "sub"}
	opaquePrefix = []string{"google-oauth2", "auth0", "oauth", "samlp", "github", "microsoft"}
)

// identityFromPayload walks nested JSON for the first user-facing identity.
func identityFromPayload(payload any) string {
	var preferred, fallback []string
	stack := []any{payload}
	for len(stack) > 0 {
		cur := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		switch v := cur.(type) {
		case map[string]any:
			for _, k := range identityKeys {
				if s, ok := v[k].(string); ok {
					preferred = append(preferred, s)
				}
			}
			for _, k := range fallbackKeys {
				if s, ok := v[k].(string); ok {
					fallback = append(fallback, s)
				}
			}
			for _, nested := range v {
				switch nested.(type) {
				case map[string]any, []any:
					stack = append(stack, nested)
				}
			}
		case []any:
			stack = append(stack, v...)
		}
	}
	for _, s := range append(preferred, fallback...) {
		if usableIdentity(s) {
			return strings.TrimSpace(s)
		}
	}
	return ""
}

func usableIdentity(s string) bool {
	s = strings.TrimSpace(s)
	if s == "" {
		return false
	}
	switch strings.ToLower(s) {
	case "openai user", "unknown", "none", "null":
		return false
	}
	if prefix, _, ok := strings.Cut(s, "|"); ok {
		for _, p := range opaquePrefix {
			if strings.EqualFold(prefix, p) {
				return false
			}
		}
	}
	if len(s) >= 8 && strings.IndexFunc(s, func(r rune) bool { return !unicode.IsDigit(r) }) < 0 {
		return false
	}
	return true
}

func identityFromToken(token string) string {
	parts := strings.Split(token, ".")
	if len(parts) < 2 {
		return ""
	}
	raw, err := base64.RawURLEncoding.DecodeString(strings.TrimRight(parts[1], "="))
	if err != nil {
		return ""
	}
	var claims any
	if json.Unmarshal(raw, &claims) != nil {
		return ""
	}
	return identityFromPayload(claims)
}

// codexWindow is one rate-limit window of the usage response.
type codexWindow struct {
	ResetAt            any     `json:"reset_at"`
	UsedPercent        float64 `json:"used_percent"`
	LimitWindowSeconds float64 `json:"limit_window_seconds"`
}

type codexUsage struct {
	RateLimit *struct {
		Primary   *codexWindow `json:"primary_window"`
		Secondary *codexWindow `json:"secondary_window"`
	} `json:"rate_limit"`
	Credits *struct {
		Balance    float64 `json:"balance"`
		HasCredits bool    `json:"has_credits"`
		Unlimited  bool    `json:"unlimited"`
	} `json:"credits"`
	PlanType   string `json:"plan_type"`
	Additional []struct {
		Primary *codexWindow `json:"primary_window"`
		codexWindow
		Name string `json:"name"`
	} `json:"additional_rate_limits"`
}

func (u codexUsage) records() []models.QuotaRecord {
	plan := u.PlanType
	if plan == "" {
		plan = "unknown"
	}

	var out []models.QuotaRecord
	if u.RateLimit != nil {
		if u.RateLimit.Primary != nil {
			out = append(out, u.RateLimit.Primary.record(plan, "Primary"))
		}
		if u.RateLimit.Secondary != nil {
			out = append(out, u.RateLimit.Secondary.record(plan, "Secondary"))
		}
	}
	for _, extra := range u.Additional {
		name := extra.Name
		if name == "" {
			name = "Additional"
		}
		window := extra.codexWindow
		if extra.Primary != nil {
			window = *extra.Primary
		}
		out = append(out, window.record(plan, name))
	}

	if c := u.Credits; c != nil && c.HasCredits {
		remaining, used := 100.0, 0.0
		if !c.Unlimited {
			remaining = min(100, c.Balance)
			used = max(0, 100-c.Balance)
		}
		out = append(out, models.QuotaRecord{
			Name:         fmt.Sprintf("OpenAI Credits (%s)", plan),
			DisplayName:  "Credits",
			RemainingPct: models.Float(remaining),
			UsedPct:      models.Float(used),
			SourceType:   openAISource,
		})
	}

	if len(out) == 0 {
		out = append(out, models.QuotaRecord{
			Name:         fmt.Sprintf("OpenAI Codex (%s)", plan),
			DisplayName:  "Plan: " + capitalize(plan),
			RemainingPct: models.Float(100),
			UsedPct:      models.Float(0),
			Reset:        "No quota limits",
			SourceType:   openAISource,
		})
	}
	return out
}

func (w codexWindow) record(plan, label string) models.QuotaRecord {
	display := label
	if wl := windowLabel(w.LimitWindowSeconds); wl != "" {
		display = fmt.Sprintf("%s (%s)", label, wl)
	}
	return models.QuotaRecord{
		Name:         fmt.Sprintf("OpenAI Codex %s (%s)", label, plan),
		DisplayName:  display,
		RemainingPct: models.Float(max(0, min(100, 100-w.UsedPercent))),
		UsedPct:      models.Float(w.UsedPercent),
		Reset:        formatResetAt(w.ResetAt),
		SourceType:   openAISource,
	}
}

// windowLabel renders a window length as 5h, 7d, 1.5d or 30m.
func windowLabel(seconds float64) string {
	if seconds <= 0 {
		return ""
	}
	hours := seconds / 3600
	switch {
	case hours >= 24:
		return trimUnit(hours/24, "d")
	case hours >= 1:
		return trimUnit(hours, "h")
	default:
		return fmt.Sprintf("%.0fm", seconds/60)
	}
}

func trimUnit(v float64, unit string) string {
	if v == math.Trunc(v) {
		return fmt.Sprintf("%.0f%s", v, unit)
	}
	return fmt.Sprintf("%.1f%s", v, unit)
}

// formatResetAt normalizes an epoch number or ISO string to an ISO UTC
// timestamp. Unparseable values are returned as text.
func formatResetAt(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case float64:
		if t == 0 {
			return ""
		}
		sec, frac := math.Modf(t)
		return isoUTC(time.Unix(int64(sec), int64(frac*1e9)))
	case string:
		if t == "" {
			return ""
		}
		parsed, err := time.Parse(time.RFC3339, t)
		if err != nil {
			return t
		}
		return isoUTC(parsed)
	default:
		return fmt.Sprint(t)
	}
}

func capitalize(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + strings.ToLower(s[1:])
}
