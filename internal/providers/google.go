package providers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"maps"
	"net/http"
	"runtime"
	"slices"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/j-veylop/limitwatch/internal/logger"
	"github.com/j-veylop/limitwatch/internal/models"
)

const (
	googleBaseURL     = "https://cloudcode-pa.googleapis.com"
	googleTimeout     = 10 * time.Second
	googleStrategyKey = "googleProjectScope"

	googleServiceCLI = "CLI"
	googleServiceAG  = "AG"

	sourceGeminiCLI   = "Gemini CLI"
	sourceAntigravity = "Antigravity"
)

// Project scope variants for the Cloud Code quota calls.
const (
	scopeProject  = "project"
	scopeUnscoped = "unscoped"
)

// antigravityHeaders identify the request as coming from the Antigravity IDE.
var antigravityHeaders = map[string]string{
	"User-Agent":        "antigravity/1.15.8 linux/x64",
	"X-Goog-Api-Client": "google-cloud-sdk vscode/1.96.0",
	"Client-Metadata":   `{"ideType":"IDE_UNSPECIFIED","platform":"PLATFORM_UNSPECIFIED","pluginType":"GEMINI"}`,
}

// cliFamilies maps model id fragments to display families, most specific first.
var cliFamilies = []struct{ fragment, family string }{
	{"gemini-3-pro", "Gemini 3 Pro"},
	{"gemini-3-flash", "Gemini 3 Flash"},
	{"gemini-2.5-pro", "Gemini 2.5 Pro"},
	{"gemini-2.5-flash", "Gemini 2.5 Flash"},
	{"gemini-2.0-flash", "Gemini 2.0 Flash"},
	{"gemini-1.5-pro", "Gemini 1.5 Pro"},
	{"gemini-1.5-flash", "Gemini 1.5 Flash"},
}

// Google reads Gemini CLI and Antigravity model quotas from Cloud Code.
type Google struct {
	tokens       *tokenCache
	req          requester
	baseURL      string
	tokenURL     string
	userInfoURL  string
	clientID     string
	clientSecret string
}

// NewGoogle returns the Google provider.
func NewGoogle(opts Options) *Google {
	return &Google{
		req:          requester{client: opts.client(), provider: "google"},
		tokens:       &tokenCache{},
		baseURL:      googleBaseURL,
		tokenURL:     googleOAuthURL,
		userInfoURL:  googleUserInfoURL,
		clientID:     opts.GoogleClientID,
		clientSecret: opts.GoogleClientSecret,
	}
}

func (g *Google) Type() models.ProviderType { return models.ProviderGoogle }
func (g *Google) Name() string              { return "Google" }
func (g *Google) PrimaryColor() string      { return ColorCyan }
func (g *Google) ShortIndicator() string    { return "G" }

// Color distinguishes the two sub-sources.
func (g *Google) Color(q models.QuotaRecord) string {
	if googleSource(q) == sourceAntigravity {
		return ColorMagenta
	}
	return ColorCyan
}

func googleSource(q models.QuotaRecord) string {
	if q.SourceType != "" {
		return q.SourceType
	}
	if strings.HasSuffix(q.Label(), "(AG)") {
		return sourceAntigravity
	}
	return sourceGeminiCLI
}

func isPremiumFamily(name string) bool {
	return strings.Contains(name, "Gemini 3") ||
		strings.Contains(name, "Claude") ||
		strings.Contains(name, "Gemini Pro") ||
		strings.Contains(name, "Gemini Flash")
}

func isLegacyFamily(name string) bool {
	return strings.Contains(name, "1.5") || strings.Contains(name, "2.5")
}

// FilterQuotas hides Gemini 2.0 and, per sub-source, the legacy 1.5/2.5
// families once a premium family is present in that sub-source.
func (g *Google) FilterQuotas(records []models.QuotaRecord, showAll bool) []models.QuotaRecord {
	if showAll {
		return records
	}

	premium := make(map[string]bool)
	for _, q := range records {
		if isPremiumFamily(q.Label()) {
			premium[googleSource(q)] = true
		}
	}

	out := records[:0]
	for _, q := range records {
		name := q.Label()
		if strings.Contains(name, "2.0") {
			continue
		}
		if premium[googleSource(q)] && isLegacyFamily(name) {
			continue
		}
		out = append(out, q)
	}
	return out
}

// SortKey orders CLI before AG, then by family priority.
func (g *Google) SortKey(q models.QuotaRecord) SortKey {
	name := q.Label()
	source := 0
	if googleSource(q) == sourceAntigravity {
		source = 1
	}
	return SortKey{Source: source, Family: familyPriority(name), Name: name}
}

func familyPriority(name string) int {
	switch {
	case strings.Contains(name, "Gemini 2.0 Flash"):
		return 0
	case strings.Contains(name, "Gemini 2.5 Flash"):
		return 1
	case strings.Contains(name, "Gemini 2.5 Pro"):
		return 2
	case strings.Contains(name, "Gemini 3 Flash"), strings.Contains(name, "Gemini Flash"):
		return 3
	case strings.Contains(name, "Gemini 3 Pro"), strings.Contains(name, "Gemini Pro"):
		return 4
	case strings.Contains(name, "Claude"):
		return 5
	default:
		return 9
	}
}

// Login validates the account's refresh token and fills in the email.
func (g *Google) Login(ctx context.Context, account *models.Account) error {
	token, err := g.accessToken(ctx, account.RefreshToken, account.AccessToken)
	if err != nil {
		return fmt.Errorf("failed to get access token: %w", err)
	}
	info, err := g.fetchUserInfo(ctx, token)
	if err != nil {
		return err
	}
	if info.Email == "" {
		return errors.New("google account has no email")
	}
	account.Type = models.ProviderGoogle
	account.Email = info.Email
	return nil
}

// googleResult is one sub-source outcome.
type googleResult struct {
	err     error
	scope   string
	records []models.QuotaRecord
}

// FetchQuotas queries the enabled sub-sources concurrently.
func (g *Google) FetchQuotas(ctx context.Context, account *models.Account) ([]models.QuotaRecord, error) {
	if !HasTime(ctx) {
		return nil, nil
	}

	token, err := g.accessToken(ctx, account.RefreshToken, account.AccessToken)
	if err != nil {
		if errors.Is(err, ErrUnauthorized) {
			return nil, err
		}
		logger.Debug("google token unavailable", "account", account.Email, "error", err)
		return []models.QuotaRecord{models.ErrorRecord("Google", "Google", sourceGeminiCLI, "Could not get access token: "+err.Error())}, nil
	}

	project := account.Project()
	preferred := account.Strategies.Get(googleStrategyKey, scopeProject)

	var sources []string
	if account.HasService(googleServiceCLI) {
		sources = append(sources, googleServiceCLI)
	}
	if account.HasService(googleServiceAG) {
		sources = append(sources, googleServiceAG)
	}

	results := make([]googleResult, len(sources))
	var eg errgroup.Group
	for i, source := range sources {
		eg.Go(func() error {
			results[i] = g.fetchSource(ctx, source, token, project, preferred)
			return nil
		})
	}
	_ = eg.Wait()

	var records []models.QuotaRecord
	scope := ""
	for _, r := range results {
		if errors.Is(r.err, ErrUnauthorized) {
			return nil, r.err
		}
		if r.err != nil {
			logger.Debug("google source failed", "account", account.Email, "error", r.err)
			continue
		}
		records = append(records, r.records...)
		if r.scope == scopeUnscoped || scope == "" {
			scope = r.scope
		}
	}
	if scope != "" && project != "" {
		account.Strategies.Set(googleStrategyKey, scope)
	}
	return records, nil
}

func (g *Google) fetchSource(ctx context.Context, source, token, project, preferred string) googleResult {
	var strategies []Strategy[json.RawMessage]
	if project != "" {
		strategies = append(strategies, Strategy[json.RawMessage]{
			Name: scopeProject,
			Run: func(ctx context.Context) (json.RawMessage, error) {
				return g.post(ctx, source, token, project)
			},
		})
	}
	strategies = append(strategies, Strategy[json.RawMessage]{
		Name: scopeUnscoped,
		Run: func(ctx context.Context) (json.RawMessage, error) {
			return g.post(ctx, source, token, "")
		},
	})

	scope, body, err := FirstSuccessful(ctx, Preferred(strategies, preferred))
	if err != nil {
		return googleResult{err: err}
	}

	var records []models.QuotaRecord
	if source == googleServiceCLI {
		records, err = parseCLIQuotas(body)
	} else {
		records, err = parseAntigravityQuotas(body)
	}
	return googleResult{records: records, scope: scope, err: err}
}

func (g *Google) post(ctx context.Context, source, token, project string) (json.RawMessage, error) {
	body := "{}"
	if project != "" {
		b, err := json.Marshal(map[string]string{"project": project})
		if err != nil {
			return nil, err
		}
		body = string(b)
	}

	headers := map[string]string{
		"Authorization": "Bearer " + token,
		"Content-Type":  "application/json",
	}
	endpoint := g.baseURL + "/v1internal:retrieveUserQuota"
	if source == googleServiceAG {
		endpoint = g.baseURL + "/v1internal:fetchAvailableModels"
		for k, v := range antigravityHeaders {
			headers[k] = v
		}
	} else {
		headers["User-Agent"] = geminiCLIUserAgent()
	}

	resp, err := g.req.do(ctx, googleTimeout, http.MethodPost, endpoint, strings.NewReader(body), headers)
	if err != nil {
		return nil, err
	}
	if resp.Status == http.StatusUnauthorized {
		return nil, unauthorized("google", "access token may be expired")
	}
	if resp.Status != http.StatusOK {
		return nil, fmt.Errorf("%s quota request failed (status %d)", source, resp.Status)
	}
	return resp.Body, nil
}

func geminiCLIUserAgent() string {
	osName := runtime.GOOS
	if osName == "windows" {
		osName = "win32"
	}
	arch := "x64"
	if strings.HasPrefix(runtime.GOARCH, "arm") {
		arch = "arm64"
	}
	return fmt.Sprintf("GeminiCLI/1.0.0/gemini-2.5-pro (%s; %s)", osName, arch)
}

// familyQuota keeps the lowest remaining fraction seen for one family.
type familyQuota struct {
	family   string
	reset    string
	fraction float64
}

type familyGroups struct {
	byName map[string]*familyQuota
	order  []string
}

func (f *familyGroups) add(family string, fraction *float64, reset string) {
	frac := 1.0
	if fraction != nil {
		frac = *fraction
	}
	if reset == "" {
		reset = "Unknown"
	}
	if f.byName == nil {
		f.byName = make(map[string]*familyQuota)
	}
	cur, ok := f.byName[family]
	if !ok {
		f.order = append(f.order, family)
		f.byName[family] = &familyQuota{family: family, fraction: frac, reset: reset}
		return
	}
	if frac < cur.fraction {
		cur.fraction = frac
		cur.reset = reset
	}
}

func (f *familyGroups) records(suffix, source string) []models.QuotaRecord {
	out := make([]models.QuotaRecord, 0, len(f.order))
	for _, name := range f.order {
		q := f.byName[name]
		label := fmt.Sprintf("%s (%s)", q.family, suffix)
		out = append(out, models.QuotaRecord{
			Name:         label,
			DisplayName:  label,
			RemainingPct: models.Float(q.fraction * 100),
			Reset:        q.reset,
			SourceType:   source,
		})
	}
	return out
}

func parseCLIQuotas(body []byte) ([]models.QuotaRecord, error) {
	var data struct {
		Buckets []struct {
			RemainingFraction *float64 `json:"remainingFraction"`
			ModelID           string   `json:"modelId"`
			ResetTime         string   `json:"resetTime"`
		} `json:"buckets"`
	}
	if err := json.Unmarshal(body, &data); err != nil {
		return nil, fmt.Errorf("failed to parse CLI quota response: %w", err)
	}

	var groups familyGroups
	for _, b := range data.Buckets {
		for _, f := range cliFamilies {
			if strings.Contains(b.ModelID, f.fragment) {
				groups.add(f.family, b.RemainingFraction, b.ResetTime)
				break
			}
		}
	}
	return groups.records(googleServiceCLI, sourceGeminiCLI), nil
}

var (
	agInclude = []string{"gemini", "claude"}
	agExclude = []string{"tab_", "chat_", "image", "rev19"}
)

func containsAny(s string, needles []string) bool {
	for _, n := range needles {
		if strings.Contains(s, n) {
			return true
		}
	}
	return false
}

func antigravityFamily(displayName, id string) string {
	name, lid := strings.ToLower(displayName), strings.ToLower(id)
	has := func(label, slug string) bool {
		return strings.Contains(name, label) || strings.Contains(lid, slug)
	}
	switch {
	case has("claude", "claude"):
		return "Claude"
	case has("gemini 3 pro", "gemini-3-pro"):
		return "Gemini 3 Pro"
	case has("gemini 3 flash", "gemini-3-flash"):
		return "Gemini 3 Flash"
	case has("gemini 2.5 flash", "gemini-2.5-flash"):
		return "Gemini 2.5 Flash"
	case has("gemini 2.5 pro", "gemini-2.5-pro"):
		return "Gemini 2.5 Pro"
	default:
		return displayName
	}
}

func parseAntigravityQuotas(body []byte) ([]models.QuotaRecord, error) {
	var data struct {
		Models map[string]struct {
			QuotaInfo *struct {
				RemainingFraction *float64 `json:"remainingFraction"`
				ResetTime         string   `json:"resetTime"`
			} `json:"quotaInfo"`
			DisplayName string `json:"displayName"`
		} `json:"models"`
	}
	if err := json.Unmarshal(body, &data); err != nil {
		return nil, fmt.Errorf("failed to parse models response: %w", err)
	}

	var groups familyGroups
	for _, id := range slices.Sorted(maps.Keys(data.Models)) {
		m := data.Models[id]
		display := m.DisplayName
		if display == "" {
			display = id
		}
		name, lid := strings.ToLower(display), strings.ToLower(id)
		if !containsAny(name, agInclude) && !containsAny(lid, agInclude) {
			continue
		}
		if containsAny(name, agExclude) || containsAny(lid, agExclude) || m.QuotaInfo == nil {
			continue
		}
		groups.add(antigravityFamily(display, id), m.QuotaInfo.RemainingFraction, m.QuotaInfo.ResetTime)
	}
	return groups.records(googleServiceAG, sourceAntigravity), nil
}
