package app

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/j-veylop/limitwatch/internal/config"
	"github.com/j-veylop/limitwatch/internal/models"
	"github.com/j-veylop/limitwatch/internal/providers"
	"github.com/j-veylop/limitwatch/internal/services"
	"github.com/j-veylop/limitwatch/internal/services/quota"
)

const testAccounts = `{
	"accounts": [
		{"type": "chutes", "email": "a@example.com", "apiKey": "k1"},
		{"type": "chutes", "email": "b@example.com", "apiKey": "k2"}
	],
	"activeIndex": 0
}`

type silentNotifier struct{}

func (silentNotifier) Notify(string, string) error { return nil }

func newTestModel(t *testing.T) *Model {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "accounts.json")
	if err := os.WriteFile(path, []byte(testAccounts), 0o600); err != nil {
		t.Fatal(err)
	}
	cfg := &config.Config{
		Dir:            dir,
		AccountsPath:   path,
		AccountTimeout: time.Second,
		MaxWorkers:     2,
		AlertThreshold: 20,
	}

	p := &fakeProvider{fetch: func(_ context.Context, acc *models.Account) ([]models.QuotaRecord, error) {
		return []models.QuotaRecord{{Name: "daily", DisplayName: "Daily", RemainingPct: models.Float(50)}}, nil
	}}
	mgr, err := services.NewManager(context.Background(), cfg, services.Options{
		Notifier:  silentNotifier{},
		Providers: []providers.Provider{p},
		NoHistory: true,
	})
	if err != nil {
		t.Fatalf("NewManager() error = %v", err)
	}
	t.Cleanup(func() { _ = mgr.Close() })

	m := NewModel(context.Background(), mgr, Options{Interval: time.Hour})
	m.now = func() time.Time { return renderNow }
	return m
}

func update(t *testing.T, m *Model, msg tea.Msg) tea.Cmd {
	t.Helper()
	next, cmd := m.Update(msg)
	if next.(*Model) != m {
		t.Fatal("Update returned a different model")
	}
	return cmd
}

func TestModel_Init(t *testing.T) {
	m := newTestModel(t)
	if m.Init() == nil {
		t.Fatal("Init returned nil command")
	}
	if !m.State().Refreshing || m.State().Total != 2 {
		t.Errorf("Init should start a refresh of 2 accounts, state = %+v", m.State())
	}
}

func TestModel_WindowSize(t *testing.T) {
	m := newTestModel(t)
	if got := m.View(); !strings.Contains(got, "Fetching quotas") {
		t.Errorf("view before size = %q, want spinner", got)
	}

	update(t, m, tea.WindowSizeMsg{Width: 100, Height: 40})
	if !m.ready || m.width != 100 || m.height != 40 {
		t.Fatalf("size not applied: ready=%v %dx%d", m.ready, m.width, m.height)
	}
	if m.viewport.Width != 100 || m.viewport.Height <= 0 || m.viewport.Height >= 40 {
		t.Errorf("viewport = %dx%d", m.viewport.Width, m.viewport.Height)
	}
}

func TestModel_Refresh(t *testing.T) {
	m := newTestModel(t)
	update(t, m, tea.WindowSizeMsg{Width: 120, Height: 40})

	cmd := m.startRefresh()
	if cmd == nil {
		t.Fatal("startRefresh returned nil")
	}
	if m.startRefresh() != nil {
		t.Error("a second refresh should not start while one is running")
	}

	done, ok := cmd().(RefreshDoneMsg)
	if !ok {
		t.Fatal("refresh command should return RefreshDoneMsg")
	}
	if len(done.Results) != 2 {
		t.Fatalf("results = %d, want 2", len(done.Results))
	}

	update(t, m, done)
	if m.State().Refreshing {
		t.Error("refresh should be finished")
	}

	view := m.View()
	for _, want := range []string{"a@example.com", "b@example.com", "Daily", "2 accounts"} {
		if !strings.Contains(view, want) {
			t.Errorf("view missing %q:\n%s", want, view)
		}
	}
}

func TestModel_Keys(t *testing.T) {
	m := newTestModel(t)
	update(t, m, tea.WindowSizeMsg{Width: 120, Height: 40})

	update(t, m, tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune{'c'}})
	if !m.opts.Compact {
		t.Error("c should toggle compact mode")
	}

	update(t, m, tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune{'?'}})
	if !m.showHelp || !m.help.ShowAll {
		t.Error("? should toggle full help")
	}

	if cmd := update(t, m, tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune{'r'}}); cmd == nil {
		t.Error("r should start a refresh")
	}

	cmd := update(t, m, tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune{'q'}})
	if cmd == nil {
		t.Fatal("q should return a command")
	}
	if _, ok := cmd().(tea.QuitMsg); !ok {
		t.Error("q should quit")
	}
	if _, open := <-m.events; open {
		t.Error("quitting should close the subscription")
	}
}

func TestModel_ServiceEvents(t *testing.T) {
	m := newTestModel(t)
	update(t, m, tea.WindowSizeMsg{Width: 120, Height: 40})

	update(t, m, services.AlertEvent{Kind: services.AlertLow, Account: "a@example.com", Quota: "Daily", Remaining: 12})
	notes := m.State().Notifications(renderNow)
	if len(notes) != 1 || notes[0].Type != NotificationWarning {
		t.Fatalf("notifications = %+v", notes)
	}
	if !strings.Contains(notes[0].Message, "Daily is at 12%") {
		t.Errorf("message = %q", notes[0].Message)
	}
	if !strings.Contains(m.View(), "[WARN]") {
		t.Error("view should show the alert")
	}

	update(t, m, services.RefreshedEvent{At: renderNow, Results: []quota.Result{sampleResult()}})
	if len(m.State().Results) != 1 {
		t.Errorf("external refresh not applied, results = %d", len(m.State().Results))
	}

	m.State().StartRefresh(2)
	update(t, m, services.FetchProgressEvent{Account: "a@example.com", Done: true})
	if m.State().Done != 1 {
		t.Errorf("Done = %d, want 1", m.State().Done)
	}
	if !strings.Contains(m.spinner.Label(), "(1/2)") {
		t.Errorf("spinner label = %q", m.spinner.Label())
	}
}
