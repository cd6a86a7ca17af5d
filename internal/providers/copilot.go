package providers

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/j-veylop/limitwatch/internal/models"
)

const (
	githubAPIURL        = "https://api.github.com"
	copilotTimeout      = 10 * time.Second
	copilotSource       = "GitHub Copilot"
	copilotPersonal     = "GitHub Copilot Personal"
	copilotStrategyKey  = "copilotPersonalSource"
	githubAPIVersion    = "2022-11-28"
	copilotInternalVers = "2025-04-01"
)

// Personal quota sources.
const (
	copilotInternal = "internal"
	copilotBilling  = "billing"
)

// personalPlans are the Copilot plans billed to the user rather than an org.
var personalPlans = []string{"individual", "individual_pro", "pro", "pro+"}

// Copilot reports GitHub Copilot premium request and seat usage.
type Copilot struct {
	now     func() time.Time
	req     requester
	baseURL string
}

// NewCopilot returns the GitHub Copilot provider.
func NewCopilot(opts Options) *Copilot {
	return &Copilot{
		req:     requester{client: opts.client(), provider: "github_copilot"},
		baseURL: githubAPIURL,
		now:     time.Now,
	}
}

func (c *Copilot) Type() models.ProviderType { return models.ProviderCopilot }
func (c *Copilot) Name() string              { return "GitHub Copilot" }
func (c *Copilot) PrimaryColor() string      { return ColorWhite }
func (c *Copilot) ShortIndicator() string    { return "H" }

func (c *Copilot) Color(models.QuotaRecord) string { return ColorWhite }

func (c *Copilot) FilterQuotas(records []models.QuotaRecord, _ bool) []models.QuotaRecord {
	return records
}

// SortKey puts the personal record before organization records.
func (c *Copilot) SortKey(q models.QuotaRecord) SortKey {
	name := q.Label()
	family := 1
	if strings.Contains(name, "Personal") {
		family = 0
	}
	return SortKey{Family: family, Name: name}
}

func githubHeaders(token string) map[string]string {
	return map[string]string{
		"Authorization":        "Bearer " + token,
		"X-GitHub-Api-Version": githubAPIVersion,
		"Accept":               "application/vnd.github+json",
	}
}

// Login validates the GitHub token and uses the login as the account identity.
func (c *Copilot) Login(ctx context.Context, account *models.Account) error {
	if account.GitHubToken == "" {
		return errors.New("GitHub token is required for GitHub Copilot login")
	}
	call := c.newCall(account.GitHubToken)
	login, err := call.login(ctx)
	if err != nil {
		return fmt.Errorf("GitHub authentication failed: %w", err)
	}
	account.Type = models.ProviderCopilot
	account.Email = login
	account.Services = []string{"GITHUB_COPILOT"}
	return nil
}

// copilotInternalUser is the body of /copilot_internal/user.
type copilotInternalUser struct {
	QuotaSnapshots struct {
		Premium struct {
			PercentRemaining *float64 `json:"percent_remaining"`
			Entitlement      *float64 `json:"entitlement"`
			Remaining        *float64 `json:"remaining"`
		} `json:"premium_interactions"`
	} `json:"quota_snapshots"`
	CopilotPlan    string   `json:"copilot_plan"`
	QuotaResetDate string   `json:"quota_reset_date"`
	Organizations  []string `json:"organization_login_list"`
}

func (u *copilotInternalUser) reset() string {
	if u.QuotaResetDate != "" {
		return u.QuotaResetDate
	}
	return "Monthly"
}

func (u *copilotInternalUser) inOrg(org string) bool {
	return slices.ContainsFunc(u.Organizations, func(o string) bool {
		return strings.EqualFold(o, org)
	})
}

// lazy memoizes one lookup for the lifetime of a single fetch.
type lazy[T any] struct {
	v    T
	err  error
	once sync.Once
}

func (l *lazy[T]) get(fn func() (T, error)) (T, error) {
	l.once.Do(func() { l.v, l.err = fn() })
	return l.v, l.err
}

// copilotCall carries the per-fetch state. Lookups made by several fallback
// paths are fetched at most once per call.
type copilotCall struct {
	c        *Copilot
	headers  map[string]string
	token    string
	internal lazy[*copilotInternalUser]
	user     lazy[string]
}

func (c *Copilot) newCall(token string) *copilotCall {
	return &copilotCall{c: c, token: token, headers: githubHeaders(token)}
}

func (cc *copilotCall) internalUser(ctx context.Context) (*copilotInternalUser, error) {
	return cc.internal.get(func() (*copilotInternalUser, error) {
		headers := githubHeaders(cc.token)
		headers["Authorization"] = "token " + cc.token
		headers["X-GitHub-Api-Version"] = copilotInternalVers

		resp, err := cc.c.req.get(ctx, copilotTimeout, cc.c.baseURL+"/copilot_internal/user", headers)
		if err != nil {
			return nil, err
		}
		if resp.Status == http.StatusUnauthorized {
			return nil, unauthorized("github_copilot", "GitHub token was rejected")
		}
		if resp.Status != http.StatusOK {
			return nil, fmt.Errorf("copilot_internal/user status %d", resp.Status)
		}
		var u copilotInternalUser
		if err := resp.Decode(&u); err != nil {
			return nil, err
		}
		return &u, nil
	})
}

func (cc *copilotCall) login(ctx context.Context) (string, error) {
	return cc.user.get(func() (string, error) {
		resp, err := cc.c.req.get(ctx, copilotTimeout, cc.c.baseURL+"/user", cc.headers)
		if err != nil {
			return "", err
		}
		if resp.Status != http.StatusOK {
			return "", fmt.Errorf("user lookup failed (status %d)", resp.Status)
		}
		var u struct {
			Login string `json:"login"`
			Email string `json:"email"`
		}
		if err := resp.Decode(&u); err != nil {
			return "", err
		}
		switch {
		case u.Login != "":
			return u.Login, nil
		case u.Email != "":
			return u.Email, nil
		default:
			return "", errors.New("user lookup returned no login")
		}
	})
}

// FetchQuotas returns the personal record and, when an organization is
// configured, the organization record.
func (c *Copilot) FetchQuotas(ctx context.Context, account *models.Account) ([]models.QuotaRecord, error) {
	if account.GitHubToken == "" || !HasTime(ctx) {
		return nil, nil
	}
	call := c.newCall(account.GitHubToken)
	org := account.Organization

	strategies := Preferred([]Strategy[models.QuotaRecord]{
		{Name: copilotInternal, Run: func(ctx context.Context) (models.QuotaRecord, error) {
			return call.personalFromInternal(ctx, org)
		}},
		{Name: copilotBilling, Run: func(ctx context.Context) (models.QuotaRecord, error) {
			return call.personalFromBilling(ctx)
		}},
	}, account.Strategies.Get(copilotStrategyKey, copilotInternal))

	var records []models.QuotaRecord
	name, personal, err := FirstSuccessful(ctx, strategies)
	switch {
	case errors.Is(err, ErrUnauthorized):
		return nil, err
	case err == nil:
		account.Strategies.Set(copilotStrategyKey, name)
		records = append(records, personal)
	case org == "":
		records = append(records, models.QuotaRecord{
			Name:         copilotPersonal,
			DisplayName:  "Personal (Available)",
			RemainingPct: models.Float(100),
			Reset:        "Monthly",
			SourceType:   copilotSource,
		})
	}

	if org != "" && HasTime(ctx) {
		records = append(records, call.orgQuota(ctx, org))
	}
	return records, nil
}

var errNotPersonal = errors.New("copilot plan is not billed to the user")

func (cc *copilotCall) personalFromInternal(ctx context.Context, org string) (models.QuotaRecord, error) {
	u, err := cc.internalUser(ctx)
	if err != nil {
		return models.QuotaRecord{}, err
	}

	plan := strings.ToLower(u.CopilotPlan)
	if plan == "free" {
		return models.QuotaRecord{
			Name:         copilotPersonal,
			DisplayName:  "Personal",
			RemainingPct: models.Float(100),
			UsedPct:      models.Float(0),
			Reset:        u.reset(),
			SourceType:   copilotSource,
		}, nil
	}
	if plan != "" && !slices.Contains(personalPlans, plan) {
		return models.QuotaRecord{}, errNotPersonal
	}
	if plan == "" && org != "" && u.inOrg(org) {
		return models.QuotaRecord{}, errNotPersonal
	}

	premium := u.QuotaSnapshots.Premium
	if premium.PercentRemaining == nil {
		return models.QuotaRecord{}, errors.New("no premium interaction snapshot")
	}
	remaining := *premium.PercentRemaining
	q := models.QuotaRecord{
		Name:         copilotPersonal,
		DisplayName:  "Personal",
		RemainingPct: models.Float(remaining),
		UsedPct:      models.Float(max(0, min(100, 100-remaining))),
		Reset:        u.reset(),
		SourceType:   copilotSource,
		Limit:        premium.Entitlement,
		Remaining:    premium.Remaining,
	}
	if premium.Entitlement != nil && premium.Remaining != nil {
		q.Used = models.Float(*premium.Entitlement - *premium.Remaining)
	}
	return q, nil
}

// seatBilling is the body of the Copilot billing endpoints.
type seatBilling struct {
	SeatBreakdown struct {
		Total           float64 `json:"total"`
		ActiveThisCycle float64 `json:"active_this_cycle"`
	} `json:"seat_breakdown"`
}

func (cc *copilotCall) seatRecord(b seatBilling, name, display string) models.QuotaRecord {
	total, active := b.SeatBreakdown.Total, b.SeatBreakdown.ActiveThisCycle
	remainingPct, usedPct := 100.0, 0.0
	if total > 0 {
		remainingPct = (total - active) / total * 100
		usedPct = max(0, min(100, active/total*100))
	}
	return models.QuotaRecord{
		Name:         name,
		DisplayName:  display,
		RemainingPct: models.Float(remainingPct),
		UsedPct:      models.Float(usedPct),
		Remaining:    models.Float(total - active),
		Limit:        models.Float(total),
		Used:         models.Float(active),
		Reset:        nextMonthStart(cc.c.now()),
		SourceType:   copilotSource,
	}
}

func (cc *copilotCall) personalFromBilling(ctx context.Context) (models.QuotaRecord, error) {
	resp, err := cc.c.req.get(ctx, copilotTimeout, cc.c.baseURL+"/user/copilot/billing", cc.headers)
	if err != nil {
		return models.QuotaRecord{}, err
	}
	if resp.Status == http.StatusUnauthorized {
		return models.QuotaRecord{}, unauthorized("github_copilot", "GitHub token was rejected")
	}
	if resp.Status != http.StatusOK {
		return models.QuotaRecord{}, fmt.Errorf("user billing status %d", resp.Status)
	}
	var b seatBilling
	if err := resp.Decode(&b); err != nil {
		return models.QuotaRecord{}, err
	}
	return cc.seatRecord(b, copilotPersonal, "Personal"), nil
}

func orgRecordName(org string) string {
	return fmt.Sprintf("GitHub Copilot Org (%s)", org)
}

func (cc *copilotCall) orgQuota(ctx context.Context, org string) models.QuotaRecord {
	name := orgRecordName(org)
	resp, err := cc.c.req.get(ctx, copilotTimeout, cc.c.baseURL+"/orgs/"+url.PathEscape(org)+"/copilot/billing", cc.headers)
	if err != nil {
		return models.ErrorRecord(name, org, copilotSource, "Error fetching org quota: "+err.Error())
	}

	switch resp.Status {
	case http.StatusOK:
		var b seatBilling
		if err := resp.Decode(&b); err != nil {
			return models.ErrorRecord(name, org, copilotSource, "Error fetching org quota: "+err.Error())
		}
		return cc.seatRecord(b, name, org)
	case http.StatusNotFound, http.StatusForbidden:
		if q, ok := cc.memberQuota(ctx, org); ok {
			return q
		}
		if q, ok := cc.orgFromInternal(ctx, org); ok {
			return q
		}
		msg := "Copilot Business/Enterprise not found or disabled for this org"
		if resp.Status == http.StatusForbidden {
			msg = "Insufficient permissions (requires org owner or manage_billing:copilot scope)"
		}
		return models.ErrorRecord(name, org, copilotSource, msg)
	default:
		return models.ErrorRecord(name, org, copilotSource, fmt.Sprintf("Could not fetch org quota (HTTP %d)", resp.Status))
	}
}

// memberQuota checks the caller's own seat in the org, which members can
// read without billing permissions.
func (cc *copilotCall) memberQuota(ctx context.Context, org string) (models.QuotaRecord, bool) {
	login, err := cc.login(ctx)
	if err != nil {
		return models.QuotaRecord{}, false
	}
	resp, err := cc.c.req.get(ctx, copilotTimeout, cc.c.baseURL+"/orgs/"+url.PathEscape(org)+"/members/"+url.PathEscape(login)+"/copilot", cc.headers)
	if err != nil || resp.Status != http.StatusOK {
		return models.QuotaRecord{}, false
	}
	return models.QuotaRecord{
		Name:         orgRecordName(org),
		DisplayName:  org,
		RemainingPct: models.Float(100),
		Reset:        "Monthly",
		SourceType:   copilotSource,
	}, true
}

func (cc *copilotCall) orgFromInternal(ctx context.Context, org string) (models.QuotaRecord, bool) {
	u, err := cc.internalUser(ctx)
	if err != nil || !u.inOrg(org) {
		return models.QuotaRecord{}, false
	}
	remaining, used := 100.0, 0.0
	if p := u.QuotaSnapshots.Premium.PercentRemaining; p != nil {
		remaining = *p
		used = max(0, min(100, 100-remaining))
	}
	return models.QuotaRecord{
		Name:         orgRecordName(org),
		DisplayName:  org,
		RemainingPct: models.Float(remaining),
		UsedPct:      models.Float(used),
		Reset:        u.reset(),
		SourceType:   copilotSource,
	}, true
}

func nextMonthStart(now time.Time) string {
	y, m, _ := now.UTC().Date()
	return isoUTC(time.Date(y, m+1, 1, 0, 0, 0, 0, time.UTC))
}
