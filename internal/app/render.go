package app

import (
	"strings"
	"time"

	"github.com/j-veylop/limitwatch/internal/models"
	"github.com/j-veylop/limitwatch/internal/services/quota"
	"github.com/j-veylop/limitwatch/internal/ui/components"
	"github.com/j-veylop/limitwatch/internal/ui/styles"
)

// RenderOptions controls how fetch results are printed.
type RenderOptions struct {
	Now     time.Time
	Query   []string
	Width   int
	Compact bool
	ShowAll bool
}

// providerLabels returns the name, color and indicator of a result's
// provider, falling back to the raw account type when it was never resolved.
func providerLabels(res *quota.Result) (name, color, indicator string) {
	if res.Provider == nil {
		return string(res.Account.Type), "white", "?"
	}
	return res.Provider.Name(), res.Provider.PrimaryColor(), res.Provider.ShortIndicator()
}

// RenderResults renders results in the order given, one block per account or
// one line per quota in compact mode.
func RenderResults(results []quota.Result, opts RenderOptions) string {
	if opts.Now.IsZero() {
		opts.Now = time.Now()
	}
	if opts.Width <= 0 {
		opts.Width = 80
	}

	var lines []string
	for i := range results {
		if opts.Compact {
			lines = append(lines, renderCompact(&results[i], opts)...)
		} else {
			lines = append(lines, renderAccount(&results[i], opts)...)
		}
	}
	if len(lines) == 0 {
		return styles.WarningTextStyle.Render("No accounts matched.") + "\n"
	}
	return strings.Join(lines, "\n") + "\n"
}

func renderAccount(res *quota.Result, opts RenderOptions) []string {
	name, color, _ := providerLabels(res)
	acc := &res.Account
	lines := []string{
		styles.Foreground(color).Render(components.AccountHeader(name, acc.Email, acc.Alias, acc.Group)),
	}

	if res.Err != nil {
		return append(lines, "  "+styles.ErrorTextStyle.Render("⚠️ "+res.Err.Error()), "")
	}

	visible := res.Visible(opts.Query)
	if len(visible) == 0 {
		return append(lines, "  "+components.EmptyMessage(len(res.Quotas) > 0, opts.ShowAll), "")
	}
	for _, q := range visible {
		barColor := color
		if res.Provider != nil {
			barColor = res.Provider.Color(q)
		}
		lines = append(lines, "  "+components.QuotaLine(q, barColor, opts.Width-2, opts.Now))
	}
	return append(lines, "")
}

func renderCompact(res *quota.Result, opts RenderOptions) []string {
	_, color, indicator := providerLabels(res)
	account := res.Account.Name()

	if res.Err != nil {
		return []string{components.CompactError(indicator, color, account, res.Err)}
	}

	var lines []string
	for _, q := range res.Visible(opts.Query) {
		lines = append(lines, components.CompactLine(q, indicator, color, account, opts.Width, opts.Now))
	}
	return lines
}

// JSONResult is the machine-readable form of one account's result.
type JSONResult struct {
	Email    string               `json:"email"`
	Alias    string               `json:"alias,omitempty"`
	Group    string               `json:"group,omitempty"`
	Provider string               `json:"provider"`
	Error    string               `json:"error,omitempty"`
	Quotas   []models.QuotaRecord `json:"quotas"`
}

// ToJSON converts results for JSON output. Quotas are the visible records
// after the query filter.
func ToJSON(results []quota.Result, query []string) []JSONResult {
	out := make([]JSONResult, 0, len(results))
	for i := range results {
		res := &results[i]
		item := JSONResult{
			Email:    res.Account.Email,
			Alias:    res.Account.Alias,
			Group:    res.Account.Group,
			Provider: string(res.Account.Type),
			Quotas:   res.Visible(query),
		}
		if item.Quotas == nil {
			item.Quotas = []models.QuotaRecord{}
		}
		if res.Err != nil {
			item.Error = res.Err.Error()
		}
		out = append(out, item)
	}
	return out
}
