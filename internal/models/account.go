// Package models defines data structures and domain types.
package models

import (
	"encoding/json"
	"maps"
	"slices"
)

// ProviderType tags which remote service an account belongs to.
type ProviderType string

// Supported provider types, matching the "type" field of the accounts file.
const (
	ProviderGoogle     ProviderType = "google"
	ProviderChutes     ProviderType = "chutes"
	ProviderCopilot    ProviderType = "github_copilot"
	ProviderOpenAI     ProviderType = "openai"
	ProviderOpenRouter ProviderType = "openrouter"
)

// ProviderTypes lists every provider type in display order.
var ProviderTypes = []ProviderType{
	ProviderGoogle,
	ProviderChutes,
	ProviderCopilot,
	ProviderOpenAI,
	ProviderOpenRouter,
}

// Valid reports whether p is a known provider type.
func (p ProviderType) Valid() bool {
	return slices.Contains(ProviderTypes, p)
}

// StrategyState records, per strategy key, the fetch variant that last worked
// for an account. Entries are hints; providers still fall back on failure.
type StrategyState map[string]string

// Get returns the cached variant for key, or fallback when none is cached.
func (s StrategyState) Get(key, fallback string) string {
	if v, ok := s[key]; ok && v != "" {
		return v
	}
	return fallback
}

// Set stores variant as the preferred one for key.
func (s *StrategyState) Set(key, variant string) {
	if *s == nil {
		*s = make(StrategyState)
	}
	(*s)[key] = variant
}

// Account is one configured credential for one provider.
type Account struct {
	Strategies       StrategyState `json:"strategies,omitempty"`
	Type             ProviderType  `json:"type"`
	Email            string        `json:"email"`
	Alias            string        `json:"alias,omitempty"`
	Group            string        `json:"group,omitempty"`
	APIKey           string        `json:"apiKey,omitempty"`
	RefreshToken     string        `json:"refreshToken,omitempty"`
	AccessToken      string        `json:"accessToken,omitempty"`
	GitHubToken      string        `json:"githubToken,omitempty"`
	Organization     string        `json:"organization,omitempty"`
	ProjectID        string        `json:"projectId,omitempty"`
	ManagedProjectID string        `json:"managedProjectId,omitempty"`
	Services         []string      `json:"services,omitempty"`
}

// legacyStrategyKeys are strategy entries older files stored as top-level fields.
var legacyStrategyKeys = []string{"chutesQuotaStrategy"}

// UnmarshalJSON decodes an account and folds legacy top-level strategy fields
// into Strategies.
func (a *Account) UnmarshalJSON(data []byte) error {
	type plain Account
	var p plain
	if err := json.Unmarshal(data, &p); err != nil {
		return err
	}

	var extra map[string]json.RawMessage
	if err := json.Unmarshal(data, &extra); err != nil {
		return err
	}
	for _, key := range legacyStrategyKeys {
		raw, ok := extra[key]
		if !ok {
			continue
		}
		var v string
		if err := json.Unmarshal(raw, &v); err == nil && v != "" {
			if _, set := p.Strategies[key]; !set {
				p.Strategies.Set(key, v)
			}
		}
	}

	if p.Type == "" {
		p.Type = ProviderGoogle
	}
	*a = Account(p)
	return nil
}

// Name returns the alias when set, otherwise the email.
func (a *Account) Name() string {
	if a.Alias != "" {
		return a.Alias
	}
	return a.Email
}

// Project returns the explicit project id, falling back to the managed one.
func (a *Account) Project() string {
	if a.ProjectID != "" {
		return a.ProjectID
	}
	return a.ManagedProjectID
}

// HasService reports whether the account enables the named sub-service.
// Accounts without an explicit list enable every sub-service.
func (a *Account) HasService(name string) bool {
	if len(a.Services) == 0 {
		return true
	}
	return slices.Contains(a.Services, name)
}

// Clone returns a deep copy of the account.
func (a *Account) Clone() Account {
	clone := *a
	if a.Strategies != nil {
		clone.Strategies = make(StrategyState, len(a.Strategies))
		maps.Copy(clone.Strategies, a.Strategies)
	}
	if a.Services != nil {
		clone.Services = slices.Clone(a.Services)
	}
	return clone
}

// AccountsFile is the on-disk layout of accounts.json.
type AccountsFile struct {
	Accounts    []Account `json:"accounts"`
	ActiveIndex int       `json:"activeIndex"`
}
