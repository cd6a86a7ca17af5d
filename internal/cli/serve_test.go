package cli

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/j-veylop/limitwatch/internal/config"
	"github.com/j-veylop/limitwatch/internal/models"
	"github.com/j-veylop/limitwatch/internal/providers"
	"github.com/j-veylop/limitwatch/internal/services"
	"github.com/j-veylop/limitwatch/internal/services/accounts"
)

type fakeProvider struct{}

func (fakeProvider) Type() models.ProviderType { return models.ProviderChutes }
func (fakeProvider) Name() string              { return "Fake" }
func (fakeProvider) PrimaryColor() string      { return providers.ColorCyan }
func (fakeProvider) ShortIndicator() string    { return "F" }

func (fakeProvider) FetchQuotas(_ context.Context, acc *models.Account) ([]models.QuotaRecord, error) {
	return []models.QuotaRecord{
		{Name: "daily", DisplayName: "Daily", RemainingPct: models.Float(50)},
		{Name: "weekly", DisplayName: "Weekly", RemainingPct: models.Float(90)},
	}, nil
}

func (fakeProvider) FilterQuotas(records []models.QuotaRecord, _ bool) []models.QuotaRecord {
	return records
}

func (fakeProvider) SortKey(q models.QuotaRecord) providers.SortKey {
	return providers.SortKey{Name: q.Name}
}

func (fakeProvider) Color(models.QuotaRecord) string { return providers.ColorCyan }

type silentNotifier struct{}

func (silentNotifier) Notify(string, string) error { return nil }

func newTestManager(t *testing.T) *services.Manager {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "accounts.json")
	data := `{"accounts": [{"type": "chutes", "email": "a@example.com", "apiKey": "k"}], "activeIndex": 0}`
	if err := os.WriteFile(path, []byte(data), 0o600); err != nil {
		t.Fatal(err)
	}
	cfg := &config.Config{
		Dir:            dir,
		AccountsPath:   path,
		AccountTimeout: time.Second,
		MaxWorkers:     1,
		AlertThreshold: 20,
	}
	mgr, err := services.NewManager(context.Background(), cfg, services.Options{
		Notifier:  silentNotifier{},
		Providers: []providers.Provider{fakeProvider{}},
		NoHistory: true,
	})
	if err != nil {
		t.Fatalf("NewManager() error = %v", err)
	}
	t.Cleanup(func() { _ = mgr.Close() })
	return mgr
}

func get(t *testing.T, srv *httptest.Server, path string) (int, string) {
	t.Helper()
	resp, err := http.Get(srv.URL + path)
	if err != nil {
		t.Fatalf("GET %s error = %v", path, err)
	}
	defer func() { _ = resp.Body.Close() }()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read %s body: %v", path, err)
	}
	return resp.StatusCode, string(body)
}

func TestRouter(t *testing.T) {
	mgr := newTestManager(t)
	srv := httptest.NewServer(newRouter(mgr, []string{"daily"}))
	defer srv.Close()

	if code, body := get(t, srv, "/healthz"); code != http.StatusOK || body != "ok\n" {
		t.Errorf("/healthz = %d %q", code, body)
	}

	if code, body := get(t, srv, "/status"); code != http.StatusServiceUnavailable || !strings.Contains(body, "no refresh") {
		t.Errorf("/status before refresh = %d %q", code, body)
	}

	mgr.Refresh(context.Background(), accounts.Selection{}, false)

	code, body := get(t, srv, "/status")
	if code != http.StatusOK {
		t.Fatalf("/status = %d %q", code, body)
	}
	var status statusResponse
	if err := json.Unmarshal([]byte(body), &status); err != nil {
		t.Fatalf("/status is not JSON: %v\n%s", err, body)
	}
	if status.RefreshedAt.IsZero() || status.Stats.Accounts != 1 {
		t.Errorf("status = %+v", status)
	}
	if len(status.Accounts) != 1 || len(status.Accounts[0].Quotas) != 1 || status.Accounts[0].Quotas[0].Name != "daily" {
		t.Errorf("accounts = %+v", status.Accounts)
	}

	code, body = get(t, srv, "/metrics")
	if code != http.StatusOK {
		t.Fatalf("/metrics = %d", code)
	}
	for _, want := range []string{"a@example.com", `path="/status"`} {
		if !strings.Contains(body, want) {
			t.Errorf("/metrics missing %q", want)
		}
	}
}
