// Package quota fans quota fetches out across accounts.
package quota

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/j-veylop/limitwatch/internal/logger"
	"github.com/j-veylop/limitwatch/internal/models"
	"github.com/j-veylop/limitwatch/internal/providers"
)

// Event represents a fetch lifecycle event.
type Event struct {
	Error        error
	AccountEmail string
	Provider     models.ProviderType
	Index        int
	Quotas       int
	Type         EventType
}

// EventType defines the type of fetch event.
type EventType int

const (
	// EventFetching indicates that a fetch for one account has started.
	EventFetching EventType = iota
	// EventFetched indicates that a fetch completed without an error.
	EventFetched
	// EventFetchError indicates that a fetch ended with an error.
	EventFetchError
)

// Config holds configuration for the fetch orchestrator.
type Config struct {
	Providers      providers.Options
	AccountTimeout time.Duration
	MaxWorkers     int
}

// DefaultConfig returns the default configuration.
func DefaultConfig() Config {
	return Config{
		AccountTimeout: 5 * time.Second,
		MaxWorkers:     10,
	}
}

// Result is the outcome of fetching one account. Account is the working copy
// the provider fetched with, carrying any updated strategies and tokens.
// Quotas holds the raw records; Display holds them filtered and sorted by the
// provider's visibility policy. Cached is set by callers that served the
// result without a fetch.
type Result struct {
	Err      error
	Provider providers.Provider
	Account  models.Account
	Quotas   []models.QuotaRecord
	Display  []models.QuotaRecord
	Index    int
	Elapsed  time.Duration
	Cached   bool
}

// OK reports whether the fetch finished without an error.
func (r *Result) OK() bool {
	return r.Err == nil
}

// Unauthorized reports whether the account's credential was rejected.
func (r *Result) Unauthorized() bool {
	return errors.Is(r.Err, providers.ErrUnauthorized)
}

// Visible returns the display records matching every query term.
func (r *Result) Visible(query []string) []models.QuotaRecord {
	if len(query) == 0 {
		return r.Display
	}
	var out []models.QuotaRecord
	for _, q := range r.Display {
		if MatchQuery(q, query) {
			out = append(out, q)
		}
	}
	return out
}

// MatchQuery reports whether every term appears, case-insensitively, in the
// record's name or display name.
func MatchQuery(q models.QuotaRecord, terms []string) bool {
	name := strings.ToLower(q.Name)
	display := strings.ToLower(q.DisplayName)
	for _, term := range terms {
		term = strings.ToLower(strings.TrimSpace(term))
		if term == "" {
			continue
		}
		if !strings.Contains(name, term) && !strings.Contains(display, term) {
			return false
		}
	}
	return true
}

// Service fetches quotas for many accounts with bounded concurrency.
type Service struct {
	providers map[models.ProviderType]providers.Provider
	eventChan chan Event
	config    Config
	mu        sync.Mutex
}

// New creates a new orchestrator.
func New(config Config) *Service {
	defaults := DefaultConfig()
	if config.AccountTimeout <= 0 {
		config.AccountTimeout = defaults.AccountTimeout
	}
	if config.MaxWorkers <= 0 {
		config.MaxWorkers = defaults.MaxWorkers
	}

	return &Service{
		providers: make(map[models.ProviderType]providers.Provider),
		eventChan: make(chan Event, 100),
		config:    config,
	}
}

// Events returns the event channel.
func (s *Service) Events() <-chan Event {
	return s.eventChan
}

// Register installs p as the provider for its account type, replacing the
// built-in one.
func (s *Service) Register(p providers.Provider) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.providers[p.Type()] = p
}

// Provider returns the provider handling accounts of type t. Providers are
// built once and shared, so caches such as the Google token cache survive
// between fetches.
func (s *Service) Provider(t models.ProviderType) (providers.Provider, error) {
	if t == "" {
		t = models.ProviderGoogle
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if p, ok := s.providers[t]; ok {
		return p, nil
	}
	p, err := providers.New(t, s.config.Providers)
	if err != nil {
		return nil, err
	}
	s.providers[t] = p
	return p, nil
}

// FetchAll fetches every account and returns exactly one result per account,
// in input order. At most min(len(accounts), MaxWorkers) fetches run at once
// and each gets its own AccountTimeout deadline. The input is not modified.
func (s *Service) FetchAll(ctx context.Context, accounts []models.Account, showAll bool) []Result {
	results := make([]Result, len(accounts))
	if len(accounts) == 0 {
		return results
	}

	sem := make(chan struct{}, min(len(accounts), s.config.MaxWorkers))
	var wg sync.WaitGroup

	for i := range accounts {
		acc := accounts[i].Clone()
		wg.Add(1)
		go func(i int) {
			defer wg.Done()

			// Acquire semaphore
			sem <- struct{}{}
			defer func() { <-sem }()

			results[i] = s.fetch(ctx, i, acc, showAll)
		}(i)
	}

	wg.Wait()
	return results
}

// Fetch fetches a single account under the per-account deadline.
func (s *Service) Fetch(ctx context.Context, account models.Account, showAll bool) Result {
	return s.fetch(ctx, 0, account.Clone(), showAll)
}

func (s *Service) fetch(ctx context.Context, index int, acc models.Account, showAll bool) (res Result) {
	start := time.Now()
	res = Result{Index: index, Account: acc}

	s.sendEvent(Event{Type: EventFetching, Index: index, AccountEmail: acc.Email, Provider: acc.Type})

	defer func() {
		if r := recover(); r != nil {
			res.Quotas, res.Display = nil, nil
			res.Err = fmt.Errorf("provider panicked: %v", r)
		}
		res.Elapsed = time.Since(start)
		s.finish(&res)
	}()

	p, err := s.Provider(acc.Type)
	if err != nil {
		res.Err = err
		return res
	}
	res.Provider = p

	ctx, cancel := context.WithTimeout(ctx, s.config.AccountTimeout)
	defer cancel()

	res.Quotas, res.Err = p.FetchQuotas(ctx, &res.Account)
	res.Display = providers.Prepare(p, res.Quotas, showAll)
	return res
}

func (s *Service) finish(res *Result) {
	event := Event{
		Type:         EventFetched,
		Index:        res.Index,
		AccountEmail: res.Account.Email,
		Provider:     res.Account.Type,
		Quotas:       len(res.Quotas),
	}
	if res.Err != nil {
		event.Type = EventFetchError
		event.Error = res.Err
		logger.Warn("quota fetch failed", "account", res.Account.Name(), "provider", res.Account.Type, "error", res.Err)
	} else {
		logger.Debug("quota fetch finished", "account", res.Account.Name(), "quotas", len(res.Quotas), "elapsed", res.Elapsed)
	}
	s.sendEvent(event)
}

// sendEvent sends an event to the event channel non-blocking.
func (s *Service) sendEvent(event Event) {
	select {
	case s.eventChan <- event:
	default:
		// Channel full, drop oldest
		select {
		case <-s.eventChan:
		default:
		}
		select {
		case s.eventChan <- event:
		default:
		}
	}
}

// Stats summarizes a batch of results.
type Stats struct {
	Accounts     int `json:"accounts"`
	Failed       int `json:"failed"`
	Unauthorized int `json:"unauthorized"`
	Quotas       int `json:"quotas"`
	ErrorRecords int `json:"error_records"`
}

// Summarize returns statistics about a batch of results.
func Summarize(results []Result) Stats {
	stats := Stats{Accounts: len(results)}
	for i := range results {
		r := &results[i]
		if r.Err != nil {
			stats.Failed++
			if r.Unauthorized() {
				stats.Unauthorized++
			}
		}
		for _, q := range r.Quotas {
			if q.IsError {
				stats.ErrorRecords++
			} else {
				stats.Quotas++
			}
		}
	}
	return stats
}
