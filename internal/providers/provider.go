// Package providers implements the per-service quota integrations.
//
// Every provider translates one account's credentials into a normalized list of
// quota records. Ordinary remote failures never surface as errors: they become
// an empty list or a single is_error record. Only an authentication failure is
// returned to the caller, as ErrUnauthorized.
package providers

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"net/http"
	"slices"
	"strings"

	"github.com/j-veylop/limitwatch/internal/models"
)

var (
	// ErrUnauthorized reports a rejected or revoked credential.
	ErrUnauthorized = errors.New("unauthorized")
	// ErrUnknownProvider reports an account type with no compiled-in provider.
	ErrUnknownProvider = errors.New("unknown provider")
)

// Color names understood by the renderer.
const (
	ColorCyan    = "cyan"
	ColorMagenta = "magenta"
	ColorYellow  = "yellow"
	ColorGreen   = "green"
	ColorRed     = "red"
	ColorWhite   = "white"
	ColorBlue    = "blue"
)

// SortKey orders a provider's own records: source priority, then family
// priority, then name.
type SortKey struct {
	Name   string
	Source int
	Family int
}

// Compare returns -1, 0 or 1 like cmp.Compare.
func (k SortKey) Compare(o SortKey) int {
	switch {
	case k.Source != o.Source:
		return cmp.Compare(k.Source, o.Source)
	case k.Family != o.Family:
		return cmp.Compare(k.Family, o.Family)
	default:
		return strings.Compare(k.Name, o.Name)
	}
}

// Provider is the contract implemented once per remote service.
type Provider interface {
	// Type returns the account type tag handled by this provider.
	Type() models.ProviderType
	// Name returns the human provider name.
	Name() string
	// PrimaryColor is used for account headers.
	PrimaryColor() string
	// ShortIndicator is a one-letter tag for compact output.
	ShortIndicator() string
	// FetchQuotas fetches and normalizes quotas for one account. It may update
	// account.Strategies and, for token-refreshing providers, the account's
	// tokens. The only error it returns wraps ErrUnauthorized.
	FetchQuotas(ctx context.Context, account *models.Account) ([]models.QuotaRecord, error)
	// FilterQuotas applies the provider's visibility policy.
	FilterQuotas(records []models.QuotaRecord, showAll bool) []models.QuotaRecord
	// SortKey returns the ordering key of a record.
	SortKey(record models.QuotaRecord) SortKey
	// Color returns the bar color of a record.
	Color(record models.QuotaRecord) string
}

// Authenticator is implemented by providers whose login is a plain
// credential check. On success it fills in the account identity.
type Authenticator interface {
	Login(ctx context.Context, account *models.Account) error
}

// Options configures provider construction.
type Options struct {
	HTTPClient         *http.Client
	GoogleClientID     string
	GoogleClientSecret string
}

func (o Options) client() *http.Client {
	if o.HTTPClient != nil {
		return o.HTTPClient
	}
	return http.DefaultClient
}

// New returns the provider for the given account type.
func New(t models.ProviderType, opts Options) (Provider, error) {
	switch t {
	case models.ProviderGoogle, "":
		return NewGoogle(opts), nil
	case models.ProviderChutes:
		return NewChutes(opts), nil
	case models.ProviderOpenRouter:
		return NewOpenRouter(opts), nil
	case models.ProviderCopilot:
		return NewCopilot(opts), nil
	case models.ProviderOpenAI:
		return NewOpenAI(opts), nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownProvider, t)
	}
}

// Sort orders records in place by the provider's sort key.
func Sort(p Provider, records []models.QuotaRecord) {
	slices.SortStableFunc(records, func(a, b models.QuotaRecord) int {
		return p.SortKey(a).Compare(p.SortKey(b))
	})
}

// Prepare filters and sorts freshly fetched records for display.
func Prepare(p Provider, records []models.QuotaRecord, showAll bool) []models.QuotaRecord {
	out := p.FilterQuotas(slices.Clone(records), showAll)
	Sort(p, out)
	return out
}

func unauthorized(provider, msg string) error {
	return fmt.Errorf("%s: %w: %s", provider, ErrUnauthorized, msg)
}
