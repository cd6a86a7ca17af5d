// Package services wires accounts, fetching, history, caching and alerts
// together for the command line and the watch TUI.
package services

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/gen2brain/beeep"

	"github.com/j-veylop/limitwatch/internal/cache"
	"github.com/j-veylop/limitwatch/internal/config"
	"github.com/j-veylop/limitwatch/internal/history"
	"github.com/j-veylop/limitwatch/internal/logger"
	"github.com/j-veylop/limitwatch/internal/metrics"
	"github.com/j-veylop/limitwatch/internal/models"
	"github.com/j-veylop/limitwatch/internal/providers"
	"github.com/j-veylop/limitwatch/internal/services/accounts"
	"github.com/j-veylop/limitwatch/internal/services/quota"
)

// Alert kinds.
const (
	AlertLow   = "low"
	AlertReset = "reset"
)

// resetJump is the rise in remaining percentage treated as a quota reset.
const resetJump = 20.0

type (
	// AccountsChangedEvent is emitted when the accounts file changes.
	AccountsChangedEvent struct {
		Accounts []models.Account
	}

	// FetchProgressEvent is emitted as individual account fetches start and end.
	FetchProgressEvent struct {
		Err      error
		Account  string
		Provider models.ProviderType
		Index    int
		Done     bool
	}

	// RefreshedEvent is emitted after every completed refresh.
	RefreshedEvent struct {
		At      time.Time
		Results []quota.Result
		Stats   quota.Stats
	}

	// AlertEvent is emitted when a quota crosses the alert threshold or resets.
	AlertEvent struct {
		Kind      string
		Account   string
		Quota     string
		Remaining float64
	}

	// ErrorEvent is emitted when an error occurs in any service.
	ErrorEvent struct {
		Service string
		Error   error
	}
)

// ServiceEvent is the interface implemented by all service events.
type ServiceEvent interface {
	isServiceEvent()
}

func (AccountsChangedEvent) isServiceEvent() {}
func (FetchProgressEvent) isServiceEvent()   {}
func (RefreshedEvent) isServiceEvent()       {}
func (AlertEvent) isServiceEvent()           {}
func (ErrorEvent) isServiceEvent()           {}

// Notifier delivers alerts to the user.
type Notifier interface {
	Notify(title, body string) error
}

type desktopNotifier struct{}

func (desktopNotifier) Notify(title, body string) error {
	return beeep.Notify(title, body, "")
}

// Options customizes a Manager. Zero values select the defaults derived from
// the configuration.
type Options struct {
	Cache     cache.Cache
	Metrics   *metrics.Metrics
	Notifier  Notifier
	Providers []providers.Provider
	NoHistory bool
}

// Manager orchestrates services and event routing.
type Manager struct {
	cfg         *config.Config
	accounts    *accounts.Service
	quota       *quota.Service
	history     *history.Service
	cache       cache.Cache
	metrics     *metrics.Metrics
	notifier    Notifier
	stopChan    chan struct{}
	previous    map[string]float64
	lastRefresh time.Time
	subscribers []chan<- ServiceEvent
	last        []quota.Result
	mu          sync.RWMutex
	refreshMu   sync.Mutex
	closeOnce   sync.Once
}

// NewManager creates a new service manager.
func NewManager(ctx context.Context, cfg *config.Config, opts Options) (*Manager, error) {
	m := &Manager{
		cfg:      cfg,
		cache:    opts.Cache,
		metrics:  opts.Metrics,
		notifier: opts.Notifier,
		stopChan: make(chan struct{}),
		previous: make(map[string]float64),
	}
	if m.notifier == nil {
		m.notifier = desktopNotifier{}
	}
	if m.metrics == nil {
		m.metrics = metrics.New()
	}

	var err error
	m.accounts, err = accounts.Open(cfg.AccountsPath)
	if err != nil {
		return nil, err
	}

	if m.cache == nil && cfg.CacheTTL > 0 {
		m.cache, err = cache.New(ctx, cfg.RedisURL)
		if err != nil {
			_ = m.accounts.Close()
			return nil, fmt.Errorf("failed to initialize cache: %w", err)
		}
	}

	if cfg.EnableHistory && !opts.NoHistory {
		m.history, err = history.Open(cfg.HistoryDBPath)
		if err != nil {
			logger.Warn("history disabled", "path", cfg.HistoryDBPath, "error", err)
			m.history = nil
		}
	}

	m.quota = quota.New(quota.Config{
		Providers: providers.Options{
			GoogleClientID:     cfg.GoogleClientID,
			GoogleClientSecret: cfg.GoogleClientSecret,
		},
		AccountTimeout: cfg.AccountTimeout,
		MaxWorkers:     cfg.MaxWorkers,
	})
	for _, p := range opts.Providers {
		m.quota.Register(p)
	}

	go m.routeEvents()

	return m, nil
}

// routeEvents routes events from individual services to subscribers.
func (m *Manager) routeEvents() {
	for {
		select {
		case event := <-m.accounts.Events():
			m.handleAccountEvent(event)

		case event := <-m.quota.Events():
			m.handleQuotaEvent(event)

		case <-m.stopChan:
			return
		}
	}
}

func (m *Manager) handleAccountEvent(event accounts.Event) {
	switch event.Type {
	case accounts.EventAccountsLoaded:
		return
	case accounts.EventError:
		m.broadcast(ErrorEvent{Service: "accounts", Error: event.Error})
	default:
		m.broadcast(AccountsChangedEvent{Accounts: m.accounts.GetAccounts()})
	}
}

func (m *Manager) handleQuotaEvent(event quota.Event) {
	m.broadcast(FetchProgressEvent{
		Err:      event.Error,
		Account:  event.AccountEmail,
		Provider: event.Provider,
		Index:    event.Index,
		Done:     event.Type != quota.EventFetching,
	})
}

// Refresh fetches every account passing sel. Results within the cache TTL are
// served from the cache; fresh results are recorded to history, their
// strategies persisted, and their levels published as metrics.
func (m *Manager) Refresh(ctx context.Context, sel accounts.Selection, showAll bool) []quota.Result {
	m.refreshMu.Lock()
	defer m.refreshMu.Unlock()

	accs := m.accounts.Filter(sel)
	results := make([]quota.Result, len(accs))

	var misses []models.Account
	var missIdx []int
	for i := range accs {
		if res, ok := m.cached(ctx, i, &accs[i], showAll); ok {
			results[i] = res
			continue
		}
		misses = append(misses, accs[i])
		missIdx = append(missIdx, i)
	}

	fetched := m.quota.FetchAll(ctx, misses, showAll)
	now := time.Now()
	for j, res := range fetched {
		res.Index = missIdx[j]
		results[res.Index] = res
		m.observe(ctx, &res, now)
	}

	if len(fetched) > 0 {
		updated := make([]models.Account, len(fetched))
		for j := range fetched {
			updated[j] = fetched[j].Account
		}
		if _, err := m.accounts.SaveStrategies(updated); err != nil {
			logger.Error("failed to persist strategies", "error", err)
			m.broadcast(ErrorEvent{Service: "accounts", Error: err})
		}
	}

	m.checkAlerts(results)
	m.metrics.ObserveRefresh(len(results), now)

	m.mu.Lock()
	m.last = results
	m.lastRefresh = now
	m.mu.Unlock()

	m.broadcast(RefreshedEvent{At: now, Results: results, Stats: quota.Summarize(results)})
	return results
}

// cachedQuotas is the cache payload for one account.
type cachedQuotas struct {
	FetchedAt time.Time            `json:"fetched_at"`
	Quotas    []models.QuotaRecord `json:"quotas"`
}

func cacheKey(acc *models.Account) string {
	t := acc.Type
	if t == "" {
		t = models.ProviderGoogle
	}
	return fmt.Sprintf("quotas:%s:%s", t, acc.Email)
}

func (m *Manager) cached(ctx context.Context, index int, acc *models.Account, showAll bool) (quota.Result, bool) {
	if m.cache == nil || m.cfg.CacheTTL <= 0 {
		return quota.Result{}, false
	}
	var entry cachedQuotas
	if !cache.GetJSON(ctx, m.cache, cacheKey(acc), &entry) {
		return quota.Result{}, false
	}
	p, err := m.quota.Provider(acc.Type)
	if err != nil {
		return quota.Result{}, false
	}
	logger.Debug("serving cached quotas", "account", acc.Name(), "fetched_at", entry.FetchedAt)
	return quota.Result{
		Provider: p,
		Account:  acc.Clone(),
		Quotas:   entry.Quotas,
		Display:  providers.Prepare(p, entry.Quotas, showAll),
		Index:    index,
		Cached:   true,
	}, true
}

// observe handles a freshly fetched result.
func (m *Manager) observe(ctx context.Context, res *quota.Result, now time.Time) {
	acc := &res.Account
	ptype := acc.Type
	if ptype == "" {
		ptype = models.ProviderGoogle
	}

	switch {
	case res.Unauthorized():
		m.metrics.ObserveFetch(ptype, metrics.ResultUnauthorized, res.Elapsed)
	case res.Err != nil:
		m.metrics.ObserveFetch(ptype, metrics.ResultError, res.Elapsed)
	default:
		m.metrics.ObserveFetch(ptype, metrics.ResultOK, res.Elapsed)
	}
	if res.Err != nil {
		return
	}

	m.metrics.SetQuotas(acc.Name(), ptype, res.Quotas)

	if m.cache != nil && m.cfg.CacheTTL > 0 {
		cache.SetJSON(ctx, m.cache, cacheKey(acc), cachedQuotas{FetchedAt: now, Quotas: res.Quotas}, m.cfg.CacheTTL)
	}
	if m.history != nil {
		m.history.Record(ctx, acc.Email, string(ptype), res.Quotas, now)
	}
}

// checkAlerts compares each quota with its level in the previous refresh and
// notifies when it drops below the threshold or jumps back up.
func (m *Manager) checkAlerts(results []quota.Result) {
	threshold := m.cfg.AlertThreshold

	for i := range results {
		res := &results[i]
		if res.Err != nil {
			continue
		}
		name := res.Account.Name()
		for _, q := range res.Quotas {
			if q.IsError || q.RemainingPct == nil {
				continue
			}
			pct := *q.RemainingPct
			key := cacheKey(&res.Account) + ":" + q.Name

			m.mu.Lock()
			prev, seen := m.previous[key]
			m.previous[key] = pct
			m.mu.Unlock()

			if !seen {
				continue
			}
			label := q.DisplayName
			if label == "" {
				label = q.Name
			}
			switch {
			case prev >= threshold && pct < threshold:
				m.alert(AlertEvent{Kind: AlertLow, Account: name, Quota: label, Remaining: pct},
					fmt.Sprintf("Low quota: %s", name),
					fmt.Sprintf("%s is at %.1f%% remaining", label, pct))
			case pct-prev > resetJump:
				m.alert(AlertEvent{Kind: AlertReset, Account: name, Quota: label, Remaining: pct},
					fmt.Sprintf("Quota reset: %s", name),
					fmt.Sprintf("%s is back to %.0f%%", label, pct))
			}
		}
	}
}

func (m *Manager) alert(event AlertEvent, title, body string) {
	logger.Info("quota alert", "kind", event.Kind, "account", event.Account, "quota", event.Quota, "remaining", event.Remaining)
	m.metrics.ObserveAlert(event.Kind)
	if err := m.notifier.Notify(title, body); err != nil {
		logger.Debug("desktop notification failed", "error", err)
	}
	m.broadcast(event)
}

// Run refreshes immediately and then every RefreshInterval until ctx is done
// or the manager is closed. Changes to the accounts file trigger an extra
// refresh when Watch has been started.
func (m *Manager) Run(ctx context.Context, sel accounts.Selection, showAll bool) {
	ticker := time.NewTicker(m.cfg.RefreshInterval)
	defer ticker.Stop()

	ch, _ := m.Subscribe()
	defer m.Unsubscribe(ch)

	m.Refresh(ctx, sel, showAll)

	for {
		select {
		case <-ticker.C:
			m.Refresh(ctx, sel, showAll)
		case event, ok := <-ch:
			if !ok {
				return
			}
			if _, changed := event.(AccountsChangedEvent); changed {
				m.Refresh(ctx, sel, showAll)
			}
		case <-ctx.Done():
			return
		case <-m.stopChan:
			return
		}
	}
}

// Watch starts watching the accounts file for external edits.
func (m *Manager) Watch() error {
	return m.accounts.Watch()
}

// broadcast sends an event to all subscribers.
func (m *Manager) broadcast(event ServiceEvent) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, sub := range m.subscribers {
		select {
		case sub <- event:
		default:
			// Subscriber channel full, skip
		}
	}
}

// Subscribe creates a channel for receiving service events.
// Returns a tea.Cmd that can be used in Bubble Tea's Init or Update.
func (m *Manager) Subscribe() (chan ServiceEvent, tea.Cmd) {
	ch := make(chan ServiceEvent, 50)

	m.mu.Lock()
	m.subscribers = append(m.subscribers, ch)
	m.mu.Unlock()

	return ch, WaitForEvent(ch)
}

// WaitForEvent returns a tea.Cmd for the next event on a channel.
func WaitForEvent(ch <-chan ServiceEvent) tea.Cmd {
	return func() tea.Msg {
		event, ok := <-ch
		if !ok {
			return nil
		}
		return event
	}
}

// Unsubscribe removes a subscriber channel.
func (m *Manager) Unsubscribe(ch chan ServiceEvent) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for i, sub := range m.subscribers {
		if sub == ch {
			m.subscribers = append(m.subscribers[:i], m.subscribers[i+1:]...)
			close(ch)
			break
		}
	}
}

// Latest returns the results of the most recent refresh and when it finished.
func (m *Manager) Latest() ([]quota.Result, time.Time) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.last, m.lastRefresh
}

// Accounts returns the accounts service.
func (m *Manager) Accounts() *accounts.Service {
	return m.accounts
}

// Quota returns the fetch orchestrator.
func (m *Manager) Quota() *quota.Service {
	return m.quota
}

// History returns the history service, or nil when history is disabled.
func (m *Manager) History() *history.Service {
	return m.history
}

// Metrics returns the metrics collectors.
func (m *Manager) Metrics() *metrics.Metrics {
	return m.metrics
}

// Close closes the manager and all its services.
func (m *Manager) Close() error {
	var errs []error
	m.closeOnce.Do(func() {
		close(m.stopChan)

		m.mu.Lock()
		for _, sub := range m.subscribers {
			close(sub)
		}
		m.subscribers = nil
		m.mu.Unlock()

		if err := m.accounts.Close(); err != nil {
			errs = append(errs, err)
		}
		if m.history != nil {
			if err := m.history.Close(); err != nil {
				errs = append(errs, err)
			}
		}
		if m.cache != nil {
			if err := m.cache.Close(); err != nil {
				errs = append(errs, err)
			}
		}
	})
	return errors.Join(errs...)
}
