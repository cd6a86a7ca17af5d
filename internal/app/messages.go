package app

import (
	"time"

	"github.com/j-veylop/limitwatch/internal/services/quota"
)

// TickMsg is sent every refresh interval to trigger a poll.
type TickMsg struct {
	Time time.Time
}

// RefreshDoneMsg carries the results of a refresh started by the model.
type RefreshDoneMsg struct {
	At      time.Time
	Results []quota.Result
}

// RemoveNotificationMsg requests removal of a notification.
type RemoveNotificationMsg struct {
	ID string
}
