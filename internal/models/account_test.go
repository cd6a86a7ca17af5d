package models

import (
	"encoding/json"
	"testing"
)

func TestStrategyState_GetSet(t *testing.T) {
	var s StrategyState

	if got := s.Get("chutesQuotaStrategy", "auto"); got != "auto" {
		t.Errorf("Get() on nil state = %q, want fallback", got)
	}

	s.Set("chutesQuotaStrategy", "full")
	if got := s.Get("chutesQuotaStrategy", "auto"); got != "full" {
		t.Errorf("Get() = %q, want %q", got, "full")
	}

	s.Set("chutesQuotaStrategy", "")
	if got := s.Get("chutesQuotaStrategy", "auto"); got != "auto" {
		t.Errorf("Get() with empty entry = %q, want fallback", got)
	}
}

func TestProviderType_Valid(t *testing.T) {
	for _, p := range ProviderTypes {
		if !p.Valid() {
			t.Errorf("%q should be valid", p)
		}
	}
	if ProviderType("myspace").Valid() {
		t.Error("unknown provider type should be invalid")
	}
}

func TestAccount_UnmarshalJSON(t *testing.T) {
	tests := []struct {
		name         string
		input        string
		wantType     ProviderType
		wantStrategy string
	}{
		{
			name:     "DefaultsToGoogle",
			input:    `{"email":"a@example.com","refreshToken":"rt"}`,
			wantType: ProviderGoogle,
		},
		{
			name:         "LegacyStrategyField",
			input:        `{"type":"chutes","email":"c","apiKey":"k","chutesQuotaStrategy":"fallback"}`,
			wantType:     ProviderChutes,
			wantStrategy: "fallback",
		},
		{
			name:         "StrategiesWinOverLegacy",
			input:        `{"type":"chutes","email":"c","chutesQuotaStrategy":"fallback","strategies":{"chutesQuotaStrategy":"full"}}`,
			wantType:     ProviderChutes,
			wantStrategy: "full",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var acc Account
			if err := json.Unmarshal([]byte(tt.input), &acc); err != nil {
				t.Fatalf("Unmarshal failed: %v", err)
			}
			if acc.Type != tt.wantType {
				t.Errorf("Type = %q, want %q", acc.Type, tt.wantType)
			}
			if got := acc.Strategies.Get("chutesQuotaStrategy", ""); got != tt.wantStrategy {
				t.Errorf("strategy = %q, want %q", got, tt.wantStrategy)
			}
		})
	}
}

func TestAccount_NameAndProject(t *testing.T) {
	acc := Account{Email: "a@example.com", ManagedProjectID: "managed-1"}
	if acc.Name() != "a@example.com" {
		t.Errorf("Name() = %q, want email", acc.Name())
	}
	if acc.Project() != "managed-1" {
		t.Errorf("Project() = %q, want managed project", acc.Project())
	}

	acc.Alias = "work"
	acc.ProjectID = "project-1"
	if acc.Name() != "work" {
		t.Errorf("Name() = %q, want alias", acc.Name())
	}
	if acc.Project() != "project-1" {
		t.Errorf("Project() = %q, want explicit project", acc.Project())
	}
}

func TestAccount_HasService(t *testing.T) {
	acc := Account{}
	if !acc.HasService("CLI") || !acc.HasService("AG") {
		t.Error("account without services should enable all")
	}

	acc.Services = []string{"AG"}
	if acc.HasService("CLI") {
		t.Error("CLI should be disabled")
	}
	if !acc.HasService("AG") {
		t.Error("AG should be enabled")
	}
}

func TestAccount_Clone(t *testing.T) {
	original := Account{
		Type:     ProviderChutes,
		Email:    "c@example.com",
		APIKey:   "key",
		Services: []string{"CHUTES"},
	}
	original.Strategies.Set("chutesQuotaStrategy", "full")

	clone := original.Clone()
	clone.Strategies.Set("chutesQuotaStrategy", "fallback")
	clone.Services[0] = "OTHER"

	if original.Strategies.Get("chutesQuotaStrategy", "") != "full" {
		t.Error("modifying clone strategies affected original")
	}
	if original.Services[0] != "CHUTES" {
		t.Error("modifying clone services affected original")
	}
	if clone.Email != original.Email || clone.APIKey != original.APIKey {
		t.Error("clone lost scalar fields")
	}
}

func TestAccountsFile_RoundTrip(t *testing.T) {
	input := `{"accounts":[{"type":"openrouter","email":"r","apiKey":"sk"}],"activeIndex":0}`

	var f AccountsFile
	if err := json.Unmarshal([]byte(input), &f); err != nil {
		t.Fatalf("Unmarshal failed: %v", err)
	}
	if len(f.Accounts) != 1 || f.Accounts[0].Type != ProviderOpenRouter {
		t.Fatalf("unexpected accounts: %+v", f.Accounts)
	}
}
