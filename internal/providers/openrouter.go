package providers

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/j-veylop/limitwatch/internal/models"
)

const (
	openRouterBaseURL     = "https://openrouter.ai/api/v1"
	openRouterTimeout     = 2 * time.Second
	openRouterLoginTime   = 10 * time.Second
	openRouterSource      = "OpenRouter"
	openRouterStrategyKey = "openrouterEndpoint"
)

// OpenRouter endpoint variants.
const (
	openRouterCredits = "credits"
	openRouterKey     = "key"
)

// errNotPermitted marks an endpoint the key is not allowed to call.
var errNotPermitted = errors.New("endpoint not permitted for this key")

// OpenRouter reports the credit balance of an OpenRouter key. Management keys
// can read the account-wide /credits endpoint; regular keys only /auth/key.
type OpenRouter struct {
	req     requester
	baseURL string
}

// NewOpenRouter returns the OpenRouter provider.
func NewOpenRouter(opts Options) *OpenRouter {
	return &OpenRouter{
		req:     requester{client: opts.client(), provider: "openrouter"},
		baseURL: openRouterBaseURL,
	}
}

func (o *OpenRouter) Type() models.ProviderType { return models.ProviderOpenRouter }
func (o *OpenRouter) Name() string              { return "OpenRouter" }
func (o *OpenRouter) PrimaryColor() string      { return ColorCyan }
func (o *OpenRouter) ShortIndicator() string    { return "R" }

func (o *OpenRouter) FilterQuotas(records []models.QuotaRecord, _ bool) []models.QuotaRecord {
	return records
}

func (o *OpenRouter) SortKey(q models.QuotaRecord) SortKey {
	return SortKey{Name: q.Name}
}

// Color grades the bar by the remaining share.
func (o *OpenRouter) Color(q models.QuotaRecord) string {
	pct, ok := q.Percent()
	if !ok {
		pct = 100
	}
	switch {
	case pct >= 50:
		return ColorCyan
	case pct >= 20:
		return ColorYellow
	default:
		return ColorRed
	}
}

func openRouterHeaders(apiKey string) map[string]string {
	return map[string]string{
		"Authorization": "Bearer " + apiKey,
		"Content-Type":  "application/json",
	}
}

// Login validates the key against /auth/key. The key label becomes the
// account identity unless the account already has an email set.
func (o *OpenRouter) Login(ctx context.Context, account *models.Account) error {
	account.APIKey = strings.TrimSpace(account.APIKey)
	if account.APIKey == "" {
		return errors.New("API key is required for OpenRouter login")
	}
	resp, err := o.req.get(ctx, openRouterLoginTime, o.baseURL+"/auth/key", openRouterHeaders(account.APIKey))
	if err != nil {
		return fmt.Errorf("failed to validate OpenRouter key: %w", err)
	}
	if resp.Status == http.StatusUnauthorized || resp.Status == http.StatusForbidden {
		return fmt.Errorf("invalid OpenRouter API key: %s", string(resp.Body))
	}
	if !resp.OK() {
		return fmt.Errorf("failed to validate OpenRouter key (status %d)", resp.Status)
	}

	var body struct {
		Data openRouterKeyInfo `json:"data"`
	}
	if err := resp.Decode(&body); err != nil {
		return err
	}

	account.Type = models.ProviderOpenRouter
	account.Services = []string{"OPENROUTER"}
	if strings.TrimSpace(account.Email) == "" {
		account.Email = body.Data.label("OpenRouter Key")
	}
	return nil
}

// FetchQuotas tries the preferred endpoint first and falls back to the other.
func (o *OpenRouter) FetchQuotas(ctx context.Context, account *models.Account) ([]models.QuotaRecord, error) {
	if account.APIKey == "" {
		return nil, nil
	}
	headers := openRouterHeaders(account.APIKey)

	strategies := Preferred([]Strategy[models.QuotaRecord]{
		{Name: openRouterCredits, Run: func(ctx context.Context) (models.QuotaRecord, error) {
			return o.fetchCredits(ctx, headers)
		}},
		{Name: openRouterKey, Run: func(ctx context.Context) (models.QuotaRecord, error) {
			return o.fetchKeyInfo(ctx, headers)
		}},
	}, account.Strategies.Get(openRouterStrategyKey, openRouterCredits))

	name, record, err := FirstSuccessful(ctx, strategies)
	if err != nil {
		if errors.Is(err, ErrUnauthorized) {
			return nil, err
		}
		return nil, nil
	}
	account.Strategies.Set(openRouterStrategyKey, name)
	return []models.QuotaRecord{record}, nil
}

func (o *OpenRouter) fetchCredits(ctx context.Context, headers map[string]string) (models.QuotaRecord, error) {
	resp, err := o.req.get(ctx, openRouterTimeout, o.baseURL+"/credits", headers)
	if err != nil {
		return models.QuotaRecord{}, err
	}
	if resp.Status == http.StatusUnauthorized || resp.Status == http.StatusForbidden {
		return models.QuotaRecord{}, errNotPermitted
	}
	if !resp.OK() {
		return models.QuotaRecord{}, fmt.Errorf("credits status %d", resp.Status)
	}

	var body struct {
		Data struct {
			TotalCredits float64 `json:"total_credits"`
			TotalUsage   float64 `json:"total_usage"`
		} `json:"data"`
	}
	if err := resp.Decode(&body); err != nil {
		return models.QuotaRecord{}, err
	}
	total, used := body.Data.TotalCredits, body.Data.TotalUsage
	remaining := max(0, total-used)
	return models.QuotaRecord{
		Name:         "OpenRouter Credits",
		DisplayName:  fmt.Sprintf("Credits: $%.2f remaining", remaining),
		RemainingPct: models.Float(creditPct(remaining, total)),
		Remaining:    models.Float(remaining),
		Limit:        models.Float(total),
		Used:         models.Float(used),
		SourceType:   openRouterSource,
		Endpoint:     "credits",
		HideProgress: true,
	}, nil
}

type openRouterKeyInfo struct {
	Limit *float64 `json:"limit"`
	Label string   `json:"label"`
	Name  string   `json:"name"`
	Usage float64  `json:"usage"`
}

func (k openRouterKeyInfo) label(fallback string) string {
	switch {
	case k.Label != "":
		return k.Label
	case k.Name != "":
		return k.Name
	default:
		return fallback
	}
}

func (o *OpenRouter) fetchKeyInfo(ctx context.Context, headers map[string]string) (models.QuotaRecord, error) {
	resp, err := o.req.get(ctx, openRouterTimeout, o.baseURL+"/auth/key", headers)
	if err != nil {
		return models.QuotaRecord{}, err
	}
	if resp.Status == http.StatusUnauthorized || resp.Status == http.StatusForbidden {
		return models.QuotaRecord{}, unauthorized("openrouter", "invalid OpenRouter API key")
	}
	if !resp.OK() {
		return models.QuotaRecord{}, fmt.Errorf("auth/key status %d", resp.Status)
	}

	var body struct {
		Data openRouterKeyInfo `json:"data"`
	}
	if err := resp.Decode(&body); err != nil {
		return models.QuotaRecord{}, err
	}
	info := body.Data
	label := info.label("Key")

	var remaining, limit, pct float64
	var display string
	if info.Limit != nil {
		limit = *info.Limit
		remaining = max(0, limit-info.Usage)
		pct = creditPct(remaining, limit)
		display = fmt.Sprintf("%s: $%.2f remaining", label, remaining)
	} else {
		pct = 100
		display = fmt.Sprintf("%s: $%.2f spent", label, info.Usage)
	}

	return models.QuotaRecord{
		Name:         "OpenRouter Key",
		DisplayName:  display,
		RemainingPct: models.Float(pct),
		Remaining:    models.Float(remaining),
		Limit:        models.Float(limit),
		Used:         models.Float(info.Usage),
		SourceType:   openRouterSource,
		Endpoint:     "auth/key",
		HideProgress: true,
	}, nil
}
