package providers

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strings"
	"sync"
	"testing"

	"github.com/j-veylop/limitwatch/internal/models"
)

const (
	gToken = "/token"
	gCLI   = "/v1internal:retrieveUserQuota"
	gAG    = "/v1internal:fetchAvailableModels"
)

const cliBody = `{"buckets":[
	{"modelId":"gemini-3-pro-preview","remainingFraction":0.8,"resetTime":"2026-02-19T22:00:00Z"},
	{"modelId":"gemini-3-pro-preview_vertex","remainingFraction":0.6,"resetTime":"2026-02-19T23:00:00Z"},
	{"modelId":"gemini-2.5-flash","remainingFraction":0.5},
	{"modelId":"unknown-model","remainingFraction":0.1}
]}`

const agBody = `{"models":{
	"claude-sonnet-4-5":{"displayName":"Claude Sonnet 4.5","quotaInfo":{"remainingFraction":0.4,"resetTime":"2026-02-20T00:00:00Z"}},
	"claude-opus":{"displayName":"Claude Opus","quotaInfo":{"remainingFraction":0.9}},
	"gemini-3-flash":{"displayName":"Gemini 3 Flash","quotaInfo":{"remainingFraction":1}},
	"tab_flash_lite":{"displayName":"Gemini Tab","quotaInfo":{"remainingFraction":0.2}},
	"gpt-oss":{"displayName":"GPT OSS","quotaInfo":{"remainingFraction":0.3}},
	"gemini-image":{"displayName":"Gemini Image","quotaInfo":{"remainingFraction":0.3}}
}}`

func newTestGoogle(r *router) *Google {
	return NewGoogle(Options{HTTPClient: r.client(), GoogleClientID: "cid", GoogleClientSecret: "secret"})
}

func TestGoogle_FetchQuotas(t *testing.T) {
	r := newRouter()
	r.handle(gToken, http.StatusOK, `{"access_token":"at","expires_in":3600}`)
	r.handle(gCLI, http.StatusOK, cliBody)
	r.handle(gAG, http.StatusOK, agBody)

	g := newTestGoogle(r)
	acc := &models.Account{Type: models.ProviderGoogle, Email: "me@example.com", RefreshToken: "rt"}

	records, err := g.FetchQuotas(context.Background(), acc)
	if err != nil {
		t.Fatalf("FetchQuotas() error = %v", err)
	}

	byName := make(map[string]models.QuotaRecord)
	for _, q := range records {
		byName[q.Name] = q
	}
	if len(byName) != 4 {
		t.Fatalf("got %d records: %+v", len(byName), records)
	}

	pro := byName["Gemini 3 Pro (CLI)"]
	if *pro.RemainingPct != 60 || pro.Reset != "2026-02-19T23:00:00Z" || pro.SourceType != sourceGeminiCLI {
		t.Errorf("Gemini 3 Pro (CLI) = %+v", pro)
	}
	if flash := byName["Gemini 2.5 Flash (CLI)"]; flash.Reset != "Unknown" {
		t.Errorf("missing reset should read Unknown, got %q", flash.Reset)
	}
	claude := byName["Claude (AG)"]
	if *claude.RemainingPct != 40 || claude.SourceType != sourceAntigravity {
		t.Errorf("Claude (AG) = %+v", claude)
	}
	if _, ok := byName["Gemini 3 Flash (AG)"]; !ok {
		t.Error("missing Gemini 3 Flash (AG)")
	}

	r.reset()
	if _, err := g.FetchQuotas(context.Background(), acc); err != nil {
		t.Fatal(err)
	}
	if r.count(gToken) != 0 {
		t.Error("cached access token should be reused")
	}
}

func TestGoogle_ProjectScopeFallback(t *testing.T) {
	var mu sync.Mutex
	var bodies []string
	r := newRouter()
	r.handle(gToken, http.StatusOK, `{"access_token":"at","expires_in":3600}`)
	r.handleFunc(gCLI, func(req *http.Request) *http.Response {
		b, _ := io.ReadAll(req.Body)
		mu.Lock()
		bodies = append(bodies, string(b))
		mu.Unlock()
		if strings.Contains(string(b), "project") {
			return jsonResponse(http.StatusForbidden, `{}`)
		}
		return jsonResponse(http.StatusOK, cliBody)
	})

	g := newTestGoogle(r)
	acc := &models.Account{RefreshToken: "rt", ProjectID: "proj-1", Services: []string{"CLI"}}

	records, err := g.FetchQuotas(context.Background(), acc)
	if err != nil {
		t.Fatal(err)
	}
	if len(records) == 0 {
		t.Fatal("expected records from the unscoped call")
	}
	if len(bodies) != 2 || bodies[1] != "{}" {
		t.Errorf("bodies = %v, want project then unscoped", bodies)
	}
	if got := acc.Strategies.Get(googleStrategyKey, ""); got != scopeUnscoped {
		t.Fatalf("strategy = %q, want unscoped", got)
	}

	bodies = nil
	if _, err := g.FetchQuotas(context.Background(), acc); err != nil {
		t.Fatal(err)
	}
	if len(bodies) != 1 || bodies[0] != "{}" {
		t.Errorf("second fetch bodies = %v, want a single unscoped call", bodies)
	}
	if r.count(gAG) != 0 {
		t.Error("AG should not be called when only CLI is enabled")
	}
}

func TestGoogle_Unauthorized(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
	}{
		{"invalid grant", http.StatusBadRequest, `{"error":"invalid_grant"}`},
		{"unauthorized", http.StatusUnauthorized, `{}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := newRouter()
			r.handle(gToken, tt.status, tt.body)
			_, err := newTestGoogle(r).FetchQuotas(context.Background(), &models.Account{RefreshToken: "rt"})
			if !errors.Is(err, ErrUnauthorized) {
				t.Errorf("error = %v, want ErrUnauthorized", err)
			}
		})
	}

	r := newRouter()
	r.handle(gToken, http.StatusOK, `{"access_token":"at"}`)
	r.handle(gCLI, http.StatusUnauthorized, `{}`)
	r.handle(gAG, http.StatusOK, agBody)
	_, err := newTestGoogle(r).FetchQuotas(context.Background(), &models.Account{RefreshToken: "rt"})
	if !errors.Is(err, ErrUnauthorized) {
		t.Errorf("quota 401: error = %v, want ErrUnauthorized", err)
	}
}

func TestGoogle_TokenServerErrorIsRecord(t *testing.T) {
	r := newRouter()
	r.handle(gToken, http.StatusInternalServerError, `boom`)

	records, err := newTestGoogle(r).FetchQuotas(context.Background(), &models.Account{RefreshToken: "rt"})
	if err != nil {
		t.Fatalf("error = %v, want nil", err)
	}
	if len(records) != 1 || !records[0].IsError {
		t.Errorf("records = %+v, want one error record", records)
	}
}

func TestGoogle_FilterQuotas(t *testing.T) {
	g := NewGoogle(Options{})
	cli, ag := sourceGeminiCLI, sourceAntigravity

	records := []models.QuotaRecord{
		{DisplayName: "Gemini Pro (CLI)", SourceType: cli},
		{DisplayName: "Gemini 2.0 Flash (CLI)", SourceType: cli},
		{DisplayName: "Gemini 1.5 Flash (CLI)", SourceType: cli},
		{DisplayName: "Claude (AG)", SourceType: ag},
		{DisplayName: "Gemini 2.5 Flash (AG)", SourceType: ag},
	}

	got := g.FilterQuotas(append([]models.QuotaRecord(nil), records...), false)
	names := make(map[string]bool)
	for _, q := range got {
		names[q.DisplayName] = true
	}
	if !names["Gemini Pro (CLI)"] || !names["Claude (AG)"] {
		t.Errorf("premium families removed: %v", names)
	}
	for _, hidden := range []string{"Gemini 2.0 Flash (CLI)", "Gemini 1.5 Flash (CLI)", "Gemini 2.5 Flash (AG)"} {
		if names[hidden] {
			t.Errorf("%q should be hidden", hidden)
		}
	}

	if all := g.FilterQuotas(append([]models.QuotaRecord(nil), records...), true); len(all) != len(records) {
		t.Errorf("showAll kept %d, want %d", len(all), len(records))
	}

	noPremium := []models.QuotaRecord{
		{DisplayName: "Gemini 1.5 Flash", SourceType: cli},
		{DisplayName: "Gemini 1.5 Pro", SourceType: ag},
	}
	if got := g.FilterQuotas(noPremium, false); len(got) != 2 {
		t.Errorf("without premium families legacy ones stay, got %d", len(got))
	}

	if got := g.FilterQuotas(nil, false); len(got) != 0 {
		t.Errorf("empty input returned %d", len(got))
	}
}

func TestGoogle_SortKey(t *testing.T) {
	g := NewGoogle(Options{})
	pro := g.SortKey(models.QuotaRecord{DisplayName: "Gemini Pro (CLI)", SourceType: sourceGeminiCLI})
	old := g.SortKey(models.QuotaRecord{DisplayName: "Gemini 2.0 Flash (CLI)", SourceType: sourceGeminiCLI})
	claude := g.SortKey(models.QuotaRecord{DisplayName: "Claude (AG)", SourceType: sourceAntigravity})

	if pro.Source != 0 || old.Source != 0 || claude.Source != 1 {
		t.Errorf("sources = %d %d %d", pro.Source, old.Source, claude.Source)
	}
	if old.Family != 0 || pro.Family != 4 || claude.Family != 5 {
		t.Errorf("families = %d %d %d", old.Family, pro.Family, claude.Family)
	}
	for _, tt := range []struct {
		name string
		want int
	}{
		{"Gemini 3 Flash (CLI)", 3},
		{"Gemini 3 Pro (CLI)", 4},
		{"Gemini 1.5 Flash (CLI)", 9},
		{"Gemini 1.5 Pro (CLI)", 9},
	} {
		if got := g.SortKey(models.QuotaRecord{DisplayName: tt.name}).Family; got != tt.want {
			t.Errorf("family(%q) = %d, want %d", tt.name, got, tt.want)
		}
	}

	if g.Color(models.QuotaRecord{SourceType: sourceAntigravity}) != ColorMagenta {
		t.Error("AG records should be magenta")
	}
	if g.Color(models.QuotaRecord{Name: "Gemini 3 Pro (CLI)"}) != ColorCyan {
		t.Error("CLI records should be cyan")
	}
}

func TestGoogle_Login(t *testing.T) {
	r := newRouter()
	r.handle(gToken, http.StatusOK, `{"access_token":"at"}`)
	r.handle("/oauth2/v2/userinfo", http.StatusOK, `{"email":"me@example.com"}`)

	acc := &models.Account{RefreshToken: "rt"}
	if err := newTestGoogle(r).Login(context.Background(), acc); err != nil {
		t.Fatal(err)
	}
	if acc.Email != "me@example.com" {
		t.Errorf("email = %q", acc.Email)
	}
}

func TestCachedToken_IsValid(t *testing.T) {
	var nilToken *CachedToken
	if nilToken.IsValid() {
		t.Error("nil token should be invalid")
	}
	if (&CachedToken{}).IsValid() {
		t.Error("empty token should be invalid")
	}
}
