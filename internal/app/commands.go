package app

import (
	"context"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/j-veylop/limitwatch/internal/services"
	"github.com/j-veylop/limitwatch/internal/services/accounts"
)

const (
	// DefaultTickInterval is the polling interval when none is configured.
	DefaultTickInterval = 5 * time.Minute

	// DefaultNotificationDuration is how long informational notifications stay.
	DefaultNotificationDuration = 5 * time.Second

	// LongNotificationDuration is for alerts and errors.
	LongNotificationDuration = 15 * time.Second
)

// tickCmd returns a command that sends a TickMsg after the specified interval.
func tickCmd(interval time.Duration) tea.Cmd {
	return tea.Tick(interval, func(t time.Time) tea.Msg {
		return TickMsg{Time: t}
	})
}

// refreshCmd returns a command that runs one refresh through the manager.
func refreshCmd(ctx context.Context, mgr *services.Manager, sel accounts.Selection, showAll bool) tea.Cmd {
	return func() tea.Msg {
		results := mgr.Refresh(ctx, sel, showAll)
		return RefreshDoneMsg{At: time.Now(), Results: results}
	}
}

// clearNotificationCmd returns a command that removes a notification after a delay.
func clearNotificationCmd(id string, delay time.Duration) tea.Cmd {
	return tea.Tick(delay, func(_ time.Time) tea.Msg {
		return RemoveNotificationMsg{ID: id}
	})
}
