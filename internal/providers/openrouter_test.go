package providers

import (
	"context"
	"errors"
	"net/http"
	"testing"

	"github.com/j-veylop/limitwatch/internal/models"
)

const (
	orCredits = "/api/v1/credits"
	orKey     = "/api/v1/auth/key"
)

func TestOpenRouter_StrategyCache(t *testing.T) {
	r := newRouter()
	r.handle(orCredits, http.StatusForbidden, `{"error":"management key required"}`)
	r.handle(orKey, http.StatusOK, `{"data":{"label":"dev","usage":2.5,"limit":10}}`)

	p := NewOpenRouter(Options{HTTPClient: r.client()})
	acc := &models.Account{Type: models.ProviderOpenRouter, APIKey: "sk-or"}

	records, err := p.FetchQuotas(context.Background(), acc)
	if err != nil {
		t.Fatalf("first fetch error = %v", err)
	}
	if len(records) != 1 || records[0].Name != "OpenRouter Key" {
		t.Fatalf("records = %+v", records)
	}
	if r.count(orCredits) != 1 || r.count(orKey) != 1 {
		t.Errorf("cold cache should try credits then key, calls: credits=%d key=%d", r.count(orCredits), r.count(orKey))
	}
	if got := acc.Strategies.Get(openRouterStrategyKey, ""); got != openRouterKey {
		t.Fatalf("strategy = %q, want key", got)
	}

	r.reset()
	if _, err := p.FetchQuotas(context.Background(), acc); err != nil {
		t.Fatal(err)
	}
	if r.first() != orKey {
		t.Errorf("second fetch should try key first, got %q", r.first())
	}
	if r.count(orCredits) != 0 {
		t.Error("second fetch should not call credits once key succeeded")
	}
}

func TestOpenRouter_CachedVariantFailsFallsBack(t *testing.T) {
	r := newRouter()
	r.handle(orCredits, http.StatusOK, `{"data":{"total_credits":20,"total_usage":5}}`)
	r.handle(orKey, http.StatusInternalServerError, ``)

	p := NewOpenRouter(Options{HTTPClient: r.client()})
	acc := &models.Account{APIKey: "sk-or", Strategies: models.StrategyState{openRouterStrategyKey: openRouterKey}}

	records, err := p.FetchQuotas(context.Background(), acc)
	if err != nil {
		t.Fatal(err)
	}
	if len(records) != 1 || records[0].DisplayName != "Credits: $15.00 remaining" {
		t.Fatalf("records = %+v", records)
	}
	if *records[0].RemainingPct != 75 {
		t.Errorf("remaining_pct = %v, want 75", *records[0].RemainingPct)
	}
	if got := acc.Strategies.Get(openRouterStrategyKey, ""); got != openRouterCredits {
		t.Errorf("strategy = %q, want credits", got)
	}
}

func TestOpenRouter_KeyWithoutLimit(t *testing.T) {
	r := newRouter()
	r.handle(orCredits, http.StatusUnauthorized, ``)
	r.handle(orKey, http.StatusOK, `{"data":{"name":"ci","usage":3.456,"limit":null}}`)

	records, err := NewOpenRouter(Options{HTTPClient: r.client()}).FetchQuotas(context.Background(), &models.Account{APIKey: "k"})
	if err != nil {
		t.Fatal(err)
	}
	if records[0].DisplayName != "ci: $3.46 spent" || *records[0].RemainingPct != 100 {
		t.Errorf("record = %q %v", records[0].DisplayName, *records[0].RemainingPct)
	}
}

func TestOpenRouter_Unauthorized(t *testing.T) {
	r := newRouter()
	r.handle(orCredits, http.StatusUnauthorized, ``)
	r.handle(orKey, http.StatusUnauthorized, ``)

	_, err := NewOpenRouter(Options{HTTPClient: r.client()}).FetchQuotas(context.Background(), &models.Account{APIKey: "k"})
	if !errors.Is(err, ErrUnauthorized) {
		t.Errorf("error = %v, want ErrUnauthorized", err)
	}
}

func TestOpenRouter_Color(t *testing.T) {
	p := NewOpenRouter(Options{})
	tests := []struct {
		pct  float64
		want string
	}{
		{80, ColorCyan},
		{50, ColorCyan},
		{30, ColorYellow},
		{5, ColorRed},
	}
	for _, tt := range tests {
		if got := p.Color(models.QuotaRecord{RemainingPct: models.Float(tt.pct)}); got != tt.want {
			t.Errorf("Color(%v) = %q, want %q", tt.pct, got, tt.want)
		}
	}
}

func TestOpenRouter_Login(t *testing.T) {
	r := newRouter()
	r.handle(orKey, http.StatusOK, `{"data":{"label":"sk-or-v1-abc...xyz"}}`)

	acc := &models.Account{APIKey: "  sk-or  "}
	if err := NewOpenRouter(Options{HTTPClient: r.client()}).Login(context.Background(), acc); err != nil {
		t.Fatal(err)
	}
	if acc.APIKey != "sk-or" || acc.Email != "sk-or-v1-abc...xyz" {
		t.Errorf("account = %+v", acc)
	}

	named := &models.Account{APIKey: "sk-or", Email: "work"}
	if err := NewOpenRouter(Options{HTTPClient: r.client()}).Login(context.Background(), named); err != nil {
		t.Fatal(err)
	}
	if named.Email != "work" {
		t.Errorf("explicit name overwritten: %q", named.Email)
	}
}
