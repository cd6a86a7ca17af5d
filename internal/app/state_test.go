package app

import (
	"errors"
	"testing"
	"time"

	"github.com/j-veylop/limitwatch/internal/services/quota"
)

func TestNotificationType_String(t *testing.T) {
	tests := []struct {
		n    NotificationType
		want string
	}{
		{NotificationInfo, "info"},
		{NotificationWarning, "warning"},
		{NotificationError, "error"},
		{NotificationType(99), "unknown"},
	}
	for _, tt := range tests {
		if got := tt.n.String(); got != tt.want {
			t.Errorf("String() = %q, want %q", got, tt.want)
		}
	}
}

func TestState_Notifications(t *testing.T) {
	s := NewState()
	now := time.Now()

	id := s.AddNotification(NotificationInfo, "short", time.Second, now)
	s.AddNotification(NotificationError, "sticky", 0, now)

	if got := s.Notifications(now); len(got) != 2 {
		t.Fatalf("Notifications = %d, want 2", len(got))
	}
	if got := s.Notifications(now.Add(2 * time.Second)); len(got) != 1 || got[0].Message != "sticky" {
		t.Errorf("after expiry = %v, want only sticky", got)
	}

	s.RemoveNotification(id)
	if got := s.Notifications(now); len(got) != 1 {
		t.Errorf("after remove = %d, want 1", len(got))
	}
}

func TestState_NotificationLimit(t *testing.T) {
	s := NewState()
	now := time.Now()
	for range maxNotifications + 3 {
		s.AddNotification(NotificationInfo, "n", 0, now)
	}
	got := s.Notifications(now)
	if len(got) != maxNotifications {
		t.Fatalf("Notifications = %d, want %d", len(got), maxNotifications)
	}
	if got[0].ID != "4" {
		t.Errorf("oldest kept ID = %s, want 4", got[0].ID)
	}
}

func TestState_Refresh(t *testing.T) {
	s := NewState()
	s.StartRefresh(2)
	if !s.Refreshing || s.Total != 2 || s.Done != 0 {
		t.Fatalf("StartRefresh state = %+v", s)
	}

	s.Progress()
	s.Progress()
	s.Progress()
	if s.Done != 2 {
		t.Errorf("Done = %d, want capped at 2", s.Done)
	}

	at := time.Now()
	s.SetResults(at, []quota.Result{{}, {Err: errors.New("x")}})
	if s.Refreshing {
		t.Error("SetResults should end the refresh")
	}
	if !s.LastRefresh.Equal(at) || s.Stats.Accounts != 2 || s.Stats.Failed != 1 {
		t.Errorf("state after SetResults = %+v", s.Stats)
	}
}
