package app

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/j-veylop/limitwatch/internal/models"
	"github.com/j-veylop/limitwatch/internal/providers"
	"github.com/j-veylop/limitwatch/internal/services/quota"
	"github.com/j-veylop/limitwatch/internal/ui/styles"
)

func TestMain(m *testing.M) {
	styles.DisableColor()
	os.Exit(m.Run())
}

type fakeProvider struct {
	fetch func(ctx context.Context, acc *models.Account) ([]models.QuotaRecord, error)
}

func (f *fakeProvider) Type() models.ProviderType { return models.ProviderChutes }
func (f *fakeProvider) Name() string              { return "Fake" }
func (f *fakeProvider) PrimaryColor() string      { return providers.ColorCyan }
func (f *fakeProvider) ShortIndicator() string    { return "F" }

func (f *fakeProvider) FetchQuotas(ctx context.Context, acc *models.Account) ([]models.QuotaRecord, error) {
	return f.fetch(ctx, acc)
}

func (f *fakeProvider) FilterQuotas(records []models.QuotaRecord, _ bool) []models.QuotaRecord {
	return records
}

func (f *fakeProvider) SortKey(q models.QuotaRecord) providers.SortKey {
	return providers.SortKey{Name: q.Name}
}

func (f *fakeProvider) Color(models.QuotaRecord) string { return providers.ColorCyan }

var renderNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func sampleResult() quota.Result {
	records := []models.QuotaRecord{
		{Name: "daily", DisplayName: "Daily", RemainingPct: models.Float(50)},
		{Name: "weekly", DisplayName: "Weekly", RemainingPct: models.Float(90)},
	}
	return quota.Result{
		Provider: &fakeProvider{},
		Account:  models.Account{Type: models.ProviderChutes, Email: "a@example.com", Alias: "work", Group: "team"},
		Quotas:   records,
		Display:  records,
	}
}

func TestRenderResults(t *testing.T) {
	out := RenderResults([]quota.Result{sampleResult()}, RenderOptions{Now: renderNow, Width: 120})

	for _, want := range []string{"📧 Fake: work (a@example.com|team)", "Daily", " 50.0%", "Weekly", " 90.0%"} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
}

func TestRenderResults_Query(t *testing.T) {
	out := RenderResults([]quota.Result{sampleResult()}, RenderOptions{Now: renderNow, Width: 120, Query: []string{"week"}})
	if strings.Contains(out, "Daily") || !strings.Contains(out, "Weekly") {
		t.Errorf("query not applied:\n%s", out)
	}
}

func TestRenderResults_Errors(t *testing.T) {
	res := sampleResult()
	res.Err = errors.New("boom")
	res.Quotas, res.Display = nil, nil

	out := RenderResults([]quota.Result{res}, RenderOptions{Now: renderNow, Width: 120})
	if !strings.Contains(out, "⚠️ boom") {
		t.Errorf("error not rendered:\n%s", out)
	}

	compact := RenderResults([]quota.Result{res}, RenderOptions{Now: renderNow, Width: 120, Compact: true})
	if strings.TrimSpace(compact) != "F work: Warning: boom" {
		t.Errorf("compact error = %q", compact)
	}
}

func TestRenderResults_Empty(t *testing.T) {
	res := sampleResult()
	res.Display = nil

	out := RenderResults([]quota.Result{res}, RenderOptions{Now: renderNow, Width: 120})
	if !strings.Contains(out, "--show-all") {
		t.Errorf("filtered hint missing:\n%s", out)
	}

	res.Quotas = nil
	out = RenderResults([]quota.Result{res}, RenderOptions{Now: renderNow, Width: 120})
	if !strings.Contains(out, "No active quota information found.") {
		t.Errorf("empty message missing:\n%s", out)
	}

	if got := RenderResults(nil, RenderOptions{}); !strings.Contains(got, "No accounts matched.") {
		t.Errorf("no results = %q", got)
	}
}

func TestRenderResults_Compact(t *testing.T) {
	out := RenderResults([]quota.Result{sampleResult()}, RenderOptions{Now: renderNow, Width: 100, Compact: true})
	lines := strings.Split(strings.TrimSpace(out), "\n")
	if len(lines) != 2 {
		t.Fatalf("lines = %d, want 2:\n%s", len(lines), out)
	}
	if !strings.HasPrefix(lines[0], "F work      : Daily ") {
		t.Errorf("line = %q", lines[0])
	}
}

func TestRenderResults_UnresolvedProvider(t *testing.T) {
	res := quota.Result{
		Account: models.Account{Type: "mystery", Email: "x@example.com"},
		Err:     providers.ErrUnknownProvider,
	}
	out := RenderResults([]quota.Result{res}, RenderOptions{Now: renderNow, Width: 120})
	if !strings.Contains(out, "📧 mystery: x@example.com") {
		t.Errorf("header = %q", out)
	}
}

func TestToJSON(t *testing.T) {
	failed := sampleResult()
	failed.Account = models.Account{Type: models.ProviderOpenAI, Email: "b@example.com"}
	failed.Err = errors.New("HTTP 500")
	failed.Quotas, failed.Display = nil, nil

	data, err := json.Marshal(ToJSON([]quota.Result{sampleResult(), failed}, []string{"daily"}))
	if err != nil {
		t.Fatal(err)
	}

	var got []map[string]any
	if err := json.Unmarshal(data, &got); err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 {
		t.Fatalf("items = %d, want 2", len(got))
	}

	if got[0]["email"] != "a@example.com" || got[0]["alias"] != "work" || got[0]["group"] != "team" || got[0]["provider"] != "chutes" {
		t.Errorf("first item = %v", got[0])
	}
	if q := got[0]["quotas"].([]any); len(q) != 1 {
		t.Errorf("quotas = %v, want only the query match", q)
	}
	if _, ok := got[0]["error"]; ok {
		t.Error("successful item should omit error")
	}

	if got[1]["error"] != "HTTP 500" || got[1]["provider"] != "openai" {
		t.Errorf("failed item = %v", got[1])
	}
	if q, ok := got[1]["quotas"].([]any); !ok || len(q) != 0 {
		t.Errorf("failed quotas = %v, want empty list", got[1]["quotas"])
	}
	if _, ok := got[1]["alias"]; ok {
		t.Error("empty alias should be omitted")
	}
}
