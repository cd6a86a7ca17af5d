// Package app provides the watch TUI and the shared result rendering.
package app

import (
	"strconv"
	"time"

	"github.com/j-veylop/limitwatch/internal/services/quota"
)

// NotificationType defines the type of notification.
type NotificationType int

const (
	// NotificationInfo represents an informational notification.
	NotificationInfo NotificationType = iota
	// NotificationWarning represents a warning notification.
	NotificationWarning
	// NotificationError represents an error notification.
	NotificationError
)

// maxNotifications is how many notifications are kept at once.
const maxNotifications = 5

// String returns the string representation of a NotificationType.
func (n NotificationType) String() string {
	switch n {
	case NotificationInfo:
		return "info"
	case NotificationWarning:
		return "warning"
	case NotificationError:
		return "error"
	default:
		return "unknown"
	}
}

// Notification represents a user-facing notification message.
type Notification struct {
	CreatedAt time.Time
	ID        string
	Message   string
	Duration  time.Duration
	Type      NotificationType
}

// IsExpired reports whether the notification has outlived its duration.
func (n *Notification) IsExpired(now time.Time) bool {
	if n.Duration <= 0 {
		return false
	}
	return now.Sub(n.CreatedAt) > n.Duration
}

// State is the watch view's data: the latest results and the notification
// queue. It is owned by the Bubble Tea update loop and not shared.
type State struct {
	LastRefresh   time.Time
	Results       []quota.Result
	Stats         quota.Stats
	notifications []Notification
	seq           int
	Total         int
	Done          int
	Refreshing    bool
}

// NewState returns an empty state.
func NewState() *State {
	return &State{}
}

// StartRefresh marks a refresh of total accounts as in flight.
func (s *State) StartRefresh(total int) {
	s.Refreshing = true
	s.Total = total
	s.Done = 0
}

// Progress records one finished account fetch.
func (s *State) Progress() {
	if s.Done < s.Total {
		s.Done++
	}
}

// SetResults stores a completed refresh.
func (s *State) SetResults(at time.Time, results []quota.Result) {
	s.Refreshing = false
	s.LastRefresh = at
	s.Results = results
	s.Stats = quota.Summarize(results)
}

// AddNotification queues a notification and returns its ID.
func (s *State) AddNotification(t NotificationType, message string, d time.Duration, now time.Time) string {
	s.seq++
	id := strconv.Itoa(s.seq)
	s.notifications = append(s.notifications, Notification{
		ID:        id,
		Type:      t,
		Message:   message,
		CreatedAt: now,
		Duration:  d,
	})
	if len(s.notifications) > maxNotifications {
		s.notifications = s.notifications[len(s.notifications)-maxNotifications:]
	}
	return id
}

// RemoveNotification removes a notification by ID.
func (s *State) RemoveNotification(id string) {
	for i, n := range s.notifications {
		if n.ID == id {
			s.notifications = append(s.notifications[:i], s.notifications[i+1:]...)
			return
		}
	}
}

// Notifications returns the notifications still active at now.
func (s *State) Notifications(now time.Time) []Notification {
	active := make([]Notification, 0, len(s.notifications))
	for _, n := range s.notifications {
		if !n.IsExpired(now) {
			active = append(active, n)
		}
	}
	return active
}
