package providers

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/j-veylop/limitwatch/internal/logger"
	"github.com/j-veylop/limitwatch/internal/models"
)

const (
	chutesBaseURL     = "https://api.chutes.ai"
	chutesTimeout     = 1500 * time.Millisecond
	chutesLoginTime   = 10 * time.Second
	chutesSource      = "Chutes"
	chutesUsageLimit  = 4
	chutesStrategyKey = "chutesQuotaStrategy"
)

// Chutes quota strategies.
const (
	chutesAuto     = "auto"
	chutesFull     = "full"
	chutesFallback = "fallback"
)

// Chutes reads credit balance and daily quotas from the Chutes marketplace.
type Chutes struct {
	now     func() time.Time
	req     requester
	baseURL string
}

// NewChutes returns the Chutes provider.
func NewChutes(opts Options) *Chutes {
	return &Chutes{
		req:     requester{client: opts.client(), provider: "chutes"},
		baseURL: chutesBaseURL,
		now:     time.Now,
	}
}

func (c *Chutes) Type() models.ProviderType { return models.ProviderChutes }
func (c *Chutes) Name() string              { return "Chutes" }
func (c *Chutes) PrimaryColor() string      { return ColorYellow }
func (c *Chutes) ShortIndicator() string    { return "C" }

func (c *Chutes) Color(models.QuotaRecord) string { return ColorYellow }

func (c *Chutes) FilterQuotas(records []models.QuotaRecord, _ bool) []models.QuotaRecord {
	return records
}

func (c *Chutes) SortKey(q models.QuotaRecord) SortKey {
	switch {
	case contains(q.Name, "Credits"):
		return SortKey{Source: 0, Family: 0, Name: q.Name}
	case contains(q.Name, "Balance"):
		return SortKey{Source: 0, Family: 1, Name: q.Name}
	default:
		return SortKey{Source: 1, Family: 0, Name: q.Name}
	}
}

func chutesHeaders(apiKey string) map[string]string {
	return map[string]string{
		"Authorization": apiKey,
		"Content-Type":  "application/json",
	}
}

// Login validates the API key and fills in the account identity.
func (c *Chutes) Login(ctx context.Context, account *models.Account) error {
	if account.APIKey == "" {
		return errors.New("API key is required for Chutes login")
	}
	resp, err := c.req.get(ctx, chutesLoginTime, c.baseURL+"/users/me", chutesHeaders(account.APIKey))
	if err != nil {
		return fmt.Errorf("failed to authenticate with Chutes: %w", err)
	}
	if !resp.OK() {
		return fmt.Errorf("failed to authenticate with Chutes (status %d): %s", resp.Status, string(resp.Body))
	}

	var me struct {
		Email    string `json:"email"`
		Username string `json:"username"`
		ID       any    `json:"id"`
	}
	if err := resp.Decode(&me); err != nil {
		return err
	}

	account.Type = models.ProviderChutes
	account.Services = []string{"CHUTES"}
	switch {
	case me.Email != "":
		account.Email = me.Email
	case me.Username != "":
		account.Email = me.Username
	case me.ID != nil:
		account.Email = fmt.Sprint(me.ID)
	default:
		account.Email = "Chutes User"
	}
	return nil
}

// FetchQuotas reads the balance and the quota usage. In full mode the quota
// listing runs alongside the balance and the single fallback probe is used
// only when the listing is empty. Otherwise the fallback probe runs alongside
// the balance and the listing is tried only when the probe yields nothing.
func (c *Chutes) FetchQuotas(ctx context.Context, account *models.Account) ([]models.QuotaRecord, error) {
	if account.APIKey == "" || !HasTime(ctx) {
		return nil, nil
	}

	start := time.Now()
	headers := chutesHeaders(account.APIKey)
	reset := nextUTCMidnight(c.now())
	mode := account.Strategies.Get(chutesStrategyKey, chutesAuto)

	var (
		balance  *models.QuotaRecord
		fallback *models.QuotaRecord
		listing  []models.QuotaRecord
	)

	var g errgroup.Group
	g.Go(func() error {
		var err error
		balance, err = c.fetchBalance(ctx, headers)
		return err
	})
	if mode == chutesFull {
		g.Go(func() error {
			listing = c.fetchQuotaList(ctx, headers, reset)
			return nil
		})
	} else {
		g.Go(func() error {
			fallback = c.fetchFallback(ctx, headers, reset)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	switch {
	case mode == chutesFull && len(listing) == 0:
		fallback = c.fetchFallback(ctx, headers, reset)
	case mode != chutesFull && fallback == nil && HasTime(ctx):
		listing = c.fetchQuotaList(ctx, headers, reset)
	}

	var records []models.QuotaRecord
	if balance != nil {
		records = append(records, *balance)
	}
	switch {
	case len(listing) > 0:
		records = append(records, listing...)
		account.Strategies.Set(chutesStrategyKey, chutesFull)
	case fallback != nil:
		records = append(records, *fallback)
		account.Strategies.Set(chutesStrategyKey, chutesFallback)
	}

	logger.Debug("chutes fetch done", "account", account.Email, "mode", mode,
		"listing", len(listing), "fallback", fallback != nil, "balance", balance != nil,
		"elapsed", time.Since(start))
	return records, nil
}

func (c *Chutes) fetchBalance(ctx context.Context, headers map[string]string) (*models.QuotaRecord, error) {
	resp, err := c.req.get(ctx, chutesTimeout, c.baseURL+"/users/me", headers)
	if err != nil {
		return nil, nil
	}
	if resp.Status == http.StatusUnauthorized || resp.Status == http.StatusForbidden {
		return nil, unauthorized("chutes", "invalid Chutes API key")
	}
	if resp.Status != http.StatusOK {
		return nil, nil
	}

	var me struct {
		Balance float64 `json:"balance"`
	}
	if resp.Decode(&me) != nil || me.Balance <= 0 {
		return nil, nil
	}
	return &models.QuotaRecord{
		Name:         "Chutes Credits",
		DisplayName:  fmt.Sprintf("Credits: $%.2f", me.Balance),
		RemainingPct: models.Float(100),
		Reset:        "N/A",
		SourceType:   chutesSource,
		Endpoint:     "balance",
		HideProgress: true,
	}, nil
}

// chutesUsage is the body of /users/me/quota_usage/{id}.
type chutesUsage struct {
	ChuteID string   `json:"chute_id"`
	Quota   *float64 `json:"quota"`
	Limit   *float64 `json:"limit"`
	Used    float64  `json:"used"`
}

func (u chutesUsage) limit() float64 {
	if u.Quota != nil && *u.Quota != 0 {
		return *u.Quota
	}
	if u.Limit != nil {
		return *u.Limit
	}
	return 0
}

func (c *Chutes) fetchFallback(ctx context.Context, headers map[string]string, reset string) *models.QuotaRecord {
	resp, err := c.req.get(ctx, chutesTimeout, c.baseURL+"/users/me/quota_usage/me", headers)
	if err != nil || resp.Status != http.StatusOK {
		return nil
	}
	var usage chutesUsage
	if resp.Decode(&usage) != nil {
		return nil
	}
	id := usage.ChuteID
	if id == "" {
		id = "*"
	}
	return chutesQuota(id, usage.limit(), usage.Used, reset)
}

func (c *Chutes) fetchQuotaList(ctx context.Context, headers map[string]string, reset string) []models.QuotaRecord {
	resp, err := c.req.get(ctx, chutesTimeout, c.baseURL+"/users/me/quotas", headers)
	if err != nil || resp.Status != http.StatusOK {
		return nil
	}
	var entries []struct {
		ChuteID string `json:"chute_id"`
		ID      string `json:"id"`
	}
	if resp.Decode(&entries) != nil {
		return nil
	}

	usages := make([]*chutesUsage, len(entries))
	var g errgroup.Group
	g.SetLimit(chutesUsageLimit)
	for i, e := range entries {
		id := e.ChuteID
		if id == "" {
			id = e.ID
		}
		if id == "" {
			continue
		}
		g.Go(func() error {
			resp, err := c.req.get(ctx, chutesTimeout, c.baseURL+"/users/me/quota_usage/"+id, headers)
			if err != nil || resp.Status != http.StatusOK {
				return nil
			}
			var u chutesUsage
			if resp.Decode(&u) != nil {
				return nil
			}
			if u.ChuteID == "" {
				u.ChuteID = id
			}
			usages[i] = &u
			return nil
		})
	}
	_ = g.Wait()

	var records []models.QuotaRecord
	for _, u := range usages {
		if u == nil {
			continue
		}
		if q := chutesQuota(u.ChuteID, u.limit(), u.Used, reset); q != nil {
			records = append(records, *q)
		}
	}
	return records
}

// chutesQuota builds a quota record, or nil when the limit is not positive.
func chutesQuota(id string, limit, used float64, reset string) *models.QuotaRecord {
	if limit <= 0 {
		return nil
	}
	remaining := float64(int64(limit - used))
	display := fmt.Sprintf("Quota (%d/%d)", int64(remaining), int64(limit))
	if id != "*" {
		display = fmt.Sprintf("Quota: %s... (%d/%d)", truncate(id, 8), int64(remaining), int64(limit))
	}
	return &models.QuotaRecord{
		Name:         fmt.Sprintf("Chutes Quota (%s)", id),
		DisplayName:  display,
		RemainingPct: models.Float(max(0, (limit-used)/limit) * 100),
		Remaining:    models.Float(remaining),
		Limit:        models.Float(float64(int64(limit))),
		Used:         models.Float(float64(int64(used))),
		Reset:        reset,
		SourceType:   chutesSource,
	}
}

func nextUTCMidnight(now time.Time) string {
	y, m, d := now.UTC().Date()
	return time.Date(y, m, d+1, 0, 0, 0, 0, time.UTC).Format("2006-01-02T15:04:05Z")
}
