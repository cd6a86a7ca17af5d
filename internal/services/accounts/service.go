// Package accounts provides account management with file watching and persistence.
package accounts

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/j-veylop/limitwatch/internal/logger"
	"github.com/j-veylop/limitwatch/internal/models"
)

// ErrNotFound is returned when no account matches an email or alias.
var ErrNotFound = errors.New("account not found")

// Event represents an account service event.
type Event struct {
	Error   error
	Account *models.Account
	Type    EventType
}

// EventType defines the type of account event.
type EventType int

const (
	// EventAccountsLoaded is sent once the file has been read.
	EventAccountsLoaded EventType = iota
	// EventAccountsChanged is sent after an external edit was reloaded.
	EventAccountsChanged
	// EventAccountAdded is sent after AddAccount.
	EventAccountAdded
	// EventAccountUpdated is sent after UpdateAccount.
	EventAccountUpdated
	// EventAccountDeleted is sent after DeleteAccount.
	EventAccountDeleted
	// EventError reports a watcher or reload failure.
	EventError
)

const debounceInterval = 100 * time.Millisecond

// Selection narrows the configured accounts. Account matches email or alias.
// Group is ignored when Account is set.
type Selection struct {
	Account  string
	Provider string
	Group    string
}

// Matches reports whether acc passes the selection.
func (sel Selection) Matches(acc *models.Account) bool {
	if sel.Account != "" && acc.Email != sel.Account && acc.Alias != sel.Account {
		return false
	}
	if sel.Provider != "" {
		t := acc.Type
		if t == "" {
			t = models.ProviderGoogle
		}
		if string(t) != sel.Provider {
			return false
		}
	}
	if sel.Group != "" && sel.Account == "" && acc.Group != sel.Group {
		return false
	}
	return true
}

// Service manages accounts with file watching and change notifications.
type Service struct {
	watcher       *fsnotify.Watcher
	debounceTimer *time.Timer
	eventChan     chan Event
	stopChan      chan struct{}
	filePath      string
	accounts      []models.Account
	written       []byte
	activeIndex   int
	mu            sync.RWMutex
	closeOnce     sync.Once
}

// Open loads the accounts file at filePath. A missing file yields an empty
// account list; it is created on the first save.
func Open(filePath string) (*Service, error) {
	s := &Service{
		filePath:  filePath,
		eventChan: make(chan Event, 100),
		stopChan:  make(chan struct{}),
	}

	if err := s.load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("failed to load accounts: %w", err)
	}

	s.sendEvent(Event{Type: EventAccountsLoaded})
	return s, nil
}

// Path returns the accounts file path.
func (s *Service) Path() string {
	return s.filePath
}

// Events returns the event channel for subscribing to account changes.
func (s *Service) Events() <-chan Event {
	return s.eventChan
}

// GetAccounts returns a deep copy of all accounts.
func (s *Service) GetAccounts() []models.Account {
	s.mu.RLock()
	defer s.mu.RUnlock()

	accounts := make([]models.Account, len(s.accounts))
	for i := range s.accounts {
		accounts[i] = s.accounts[i].Clone()
	}
	return accounts
}

// Filter returns copies of the accounts matching sel, in file order.
func (s *Service) Filter(sel Selection) []models.Account {
	var out []models.Account
	for _, acc := range s.GetAccounts() {
		if sel.Matches(&acc) {
			out = append(out, acc)
		}
	}
	return out
}

// Count returns the number of accounts.
func (s *Service) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.accounts)
}

// Find returns the account whose email or alias is name.
func (s *Service) Find(name string) (*models.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if i := s.indexLocked(name); i >= 0 {
		acc := s.accounts[i].Clone()
		return &acc, nil
	}
	return nil, fmt.Errorf("%w: %s", ErrNotFound, name)
}

// Active returns the active account, or nil when there are none.
func (s *Service) Active() *models.Account {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if len(s.accounts) == 0 {
		return nil
	}
	i := s.activeIndex
	if i < 0 || i >= len(s.accounts) {
		i = 0
	}
	acc := s.accounts[i].Clone()
	return &acc
}

// SetActive marks the account with the given email or alias as active.
func (s *Service) SetActive(name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	i := s.indexLocked(name)
	if i < 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	s.activeIndex = i
	return s.saveLocked()
}

// AddAccount appends an account. An account with the same type and email is
// replaced instead, keeping its alias and group unless new ones are given.
func (s *Service) AddAccount(account models.Account) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if account.Type == "" {
		account.Type = models.ProviderGoogle
	}

	prev := slices.Clone(s.accounts)
	if i := s.keyIndexLocked(account.Type, account.Email); i >= 0 {
		if account.Alias == "" {
			account.Alias = s.accounts[i].Alias
		}
		if account.Group == "" {
			account.Group = s.accounts[i].Group
		}
		s.accounts[i] = account
	} else {
		s.accounts = append(s.accounts, account)
	}

	if err := s.saveLocked(); err != nil {
		// Rollback
		s.accounts = prev
		return err
	}

	s.sendEvent(Event{Type: EventAccountAdded, Account: &account})
	return nil
}

// UpdateAccount replaces the account with the same type and email.
func (s *Service) UpdateAccount(account models.Account) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	i := s.keyIndexLocked(account.Type, account.Email)
	if i < 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, account.Email)
	}
	prev := s.accounts[i]
	s.accounts[i] = account

	if err := s.saveLocked(); err != nil {
		s.accounts[i] = prev
		return err
	}

	s.sendEvent(Event{Type: EventAccountUpdated, Account: &account})
	return nil
}

// DeleteAccount removes the account with the given email or alias.
func (s *Service) DeleteAccount(name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	idx := s.indexLocked(name)
	if idx < 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, name)
	}

	deleted := s.accounts[idx]
	prev := slices.Clone(s.accounts)
	prevActive := s.activeIndex

	s.accounts = slices.Delete(s.accounts, idx, idx+1)
	if s.activeIndex >= idx && s.activeIndex > 0 {
		s.activeIndex--
	}

	if err := s.saveLocked(); err != nil {
		s.accounts, s.activeIndex = prev, prevActive
		return err
	}

	s.sendEvent(Event{Type: EventAccountDeleted, Account: &deleted})
	return nil
}

// SaveStrategies copies the strategy state and refreshed tokens of fetched
// accounts back onto the stored ones and persists the file when anything
// changed. Accounts are matched by type and email.
func (s *Service) SaveStrategies(updated []models.Account) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	changed := false
	for i := range updated {
		u := &updated[i]
		j := s.keyIndexLocked(u.Type, u.Email)
		if j < 0 {
			continue
		}
		stored := &s.accounts[j]
		for key, variant := range u.Strategies {
			if stored.Strategies.Get(key, "") != variant {
				stored.Strategies.Set(key, variant)
				changed = true
			}
		}
		if u.AccessToken != stored.AccessToken {
			stored.AccessToken = u.AccessToken
			changed = true
		}
		if u.RefreshToken != "" && u.RefreshToken != stored.RefreshToken {
			stored.RefreshToken = u.RefreshToken
			changed = true
		}
	}

	if !changed {
		return false, nil
	}
	if err := s.saveLocked(); err != nil {
		return false, err
	}
	logger.Debug("persisted strategy state", "path", s.filePath)
	return true, nil
}

func (s *Service) indexLocked(name string) int {
	return slices.IndexFunc(s.accounts, func(a models.Account) bool {
		return a.Email == name || (a.Alias != "" && a.Alias == name)
	})
}

func (s *Service) keyIndexLocked(t models.ProviderType, email string) int {
	if t == "" {
		t = models.ProviderGoogle
	}
	return slices.IndexFunc(s.accounts, func(a models.Account) bool {
		return a.Type == t && a.Email == email
	})
}

// parseAccounts accepts the {accounts, activeIndex} layout and the legacy
// bare array.
func parseAccounts(data []byte) ([]models.Account, int, error) {
	var file models.AccountsFile
	if err := json.Unmarshal(data, &file); err == nil {
		if file.ActiveIndex < 0 || file.ActiveIndex >= len(file.Accounts) {
			file.ActiveIndex = 0
		}
		return file.Accounts, file.ActiveIndex, nil
	}

	var accounts []models.Account
	if err := json.Unmarshal(data, &accounts); err == nil {
		return accounts, 0, nil
	}

	return nil, 0, fmt.Errorf("failed to parse accounts file: invalid format")
}

func (s *Service) load() error {
	data, err := os.ReadFile(s.filePath)
	if err != nil {
		return err
	}
	return s.apply(data)
}

func (s *Service) apply(data []byte) error {
	accounts, active, err := parseAccounts(data)
	if err != nil {
		return err
	}

	s.mu.Lock()
	s.accounts = accounts
	s.activeIndex = active
	s.mu.Unlock()
	return nil
}

// saveLocked writes the accounts file atomically (must hold lock).
func (s *Service) saveLocked() error {
	file := models.AccountsFile{
		Accounts:    s.accounts,
		ActiveIndex: s.activeIndex,
	}
	if file.Accounts == nil {
		file.Accounts = []models.Account{}
	}

	data, err := json.MarshalIndent(file, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal accounts: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(s.filePath), 0o750); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	// Write to temp file first, then rename
	tmpFile := s.filePath + ".tmp"
	if err := os.WriteFile(tmpFile, data, 0o600); err != nil {
		return fmt.Errorf("failed to write temp file: %w", err)
	}

	if err := os.Rename(tmpFile, s.filePath); err != nil {
		if removeErr := os.Remove(tmpFile); removeErr != nil {
			logger.Error("failed to remove temp file", "error", removeErr)
		}
		return fmt.Errorf("failed to rename temp file: %w", err)
	}

	s.written = data
	return nil
}

// Watch starts reloading the file when it changes on disk.
func (s *Service) Watch() error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to start file watcher: %w", err)
	}

	// Watch the directory (to catch file creation/deletion)
	dir := filepath.Dir(s.filePath)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		_ = watcher.Close()
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	if err := watcher.Add(dir); err != nil {
		if closeErr := watcher.Close(); closeErr != nil {
			logger.Error("failed to close watcher", "error", closeErr)
		}
		return fmt.Errorf("failed to watch %s: %w", dir, err)
	}

	s.mu.Lock()
	s.watcher = watcher
	s.mu.Unlock()

	go s.watchLoop(watcher)
	return nil
}

// watchLoop handles file system events with debouncing.
func (s *Service) watchLoop(watcher *fsnotify.Watcher) {
	for {
		select {
		case event, ok := <-watcher.Events:
			if !ok {
				return
			}

			// Only care about our accounts file
			if filepath.Base(event.Name) != filepath.Base(s.filePath) {
				continue
			}

			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) != 0 {
				// Debounce rapid changes
				s.mu.Lock()
				if s.debounceTimer != nil {
					s.debounceTimer.Stop()
				}
				s.debounceTimer = time.AfterFunc(debounceInterval, s.handleFileChange)
				s.mu.Unlock()
			}

		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			s.sendEvent(Event{Type: EventError, Error: err})

		case <-s.stopChan:
			return
		}
	}
}

// handleFileChange reloads accounts from file after an external change.
// Our own writes are recognized by content and ignored.
func (s *Service) handleFileChange() {
	data, err := os.ReadFile(s.filePath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return
		}
		logger.Warn("failed to read accounts", "path", s.filePath, "error", err)
		s.sendEvent(Event{Type: EventError, Error: err})
		return
	}

	s.mu.RLock()
	own := bytes.Equal(data, s.written)
	s.mu.RUnlock()
	if own {
		return
	}

	if err := s.apply(data); err != nil {
		logger.Warn("failed to reload accounts", "path", s.filePath, "error", err)
		s.sendEvent(Event{Type: EventError, Error: err})
		return
	}
	s.sendEvent(Event{Type: EventAccountsChanged})
}

// sendEvent sends an event to the event channel non-blocking.
func (s *Service) sendEvent(event Event) {
	select {
	case s.eventChan <- event:
	default:
		// Channel full, drop oldest event
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

// Close stops the file watcher and cleans up resources.
func (s *Service) Close() error {
	var err error
	s.closeOnce.Do(func() {
		close(s.stopChan)

		s.mu.Lock()
		defer s.mu.Unlock()
		if s.debounceTimer != nil {
			s.debounceTimer.Stop()
		}
		if s.watcher != nil {
			err = s.watcher.Close()
		}
	})
	return err
}
