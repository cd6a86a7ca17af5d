// Package projection estimates when a quota will run out from its recorded
// history.
package projection

import (
	"context"
	"math"
	"time"

	"github.com/j-veylop/limitwatch/internal/history"
	"github.com/j-veylop/limitwatch/internal/models"
)

const (
	lowConfThreshold = 6
	medConfThreshold = 24

	// sessionJump is the rise in remaining percentage that starts a new
	// session, i.e. the quota was reset between two samples.
	sessionJump = 5.0

	// maxDrop discards implausible drops between two samples.
	maxDrop = 50.0
)

// Status classifies a projection.
type Status int

// Projection statuses. Unknown means there is no consumption rate or reset
// time to compare against.
const (
	StatusUnknown Status = iota
	StatusSafe
	StatusWarning
	StatusCritical
)

func (s Status) String() string {
	switch s {
	case StatusSafe:
		return "safe"
	case StatusWarning:
		return "warning"
	case StatusCritical:
		return "critical"
	default:
		return "unknown"
	}
}

// Projection is the expected course of one quota until its reset.
type Projection struct {
	Reset             time.Time
	DepleteAt         time.Time
	Confidence        string
	Current           float64
	RatePerHour       float64
	HoursLeft         float64
	DataPoints        int
	Status            Status
	WillDepleteBefore bool
}

// SessionStart returns the index of the first point after the most recent
// reset.
func SessionStart(points []models.TimePoint) int {
	start := 0
	for i := 1; i < len(points); i++ {
		if points[i].RemainingPct > points[i-1].RemainingPct+sessionJump {
			start = i
		}
	}
	return start
}

// ConsumptionRate returns the percentage consumed per hour across points,
// which must be in ascending time order.
func ConsumptionRate(points []models.TimePoint) float64 {
	if len(points) < 2 {
		return 0
	}
	hours := points[len(points)-1].Timestamp.Sub(points[0].Timestamp).Hours()
	if hours <= 0 {
		return 0
	}

	consumed := 0.0
	for i := 1; i < len(points); i++ {
		if drop := points[i-1].RemainingPct - points[i].RemainingPct; drop > 0 && drop < maxDrop {
			consumed += drop
		}
	}
	return consumed / hours
}

func confidence(n int) string {
	switch {
	case n < lowConfThreshold:
		return "low"
	case n < medConfThreshold:
		return "medium"
	default:
		return "high"
	}
}

// Calculate projects the current session of points forward from now. A zero
// reset leaves the status unknown.
func Calculate(points []models.TimePoint, reset, now time.Time) Projection {
	session := points[SessionStart(points):]
	proj := Projection{
		Reset:      reset,
		DataPoints: len(session),
		Confidence: confidence(len(session)),
		HoursLeft:  math.Inf(1),
	}
	if len(session) == 0 {
		return proj
	}

	proj.Current = session[len(session)-1].RemainingPct
	proj.RatePerHour = ConsumptionRate(session)
	if proj.RatePerHour <= 0 {
		return proj
	}

	proj.HoursLeft = proj.Current / proj.RatePerHour
	proj.DepleteAt = now.Add(time.Duration(proj.HoursLeft * float64(time.Hour)))

	if reset.IsZero() {
		return proj
	}
	untilReset := max(0, reset.Sub(now).Hours())
	proj.WillDepleteBefore = proj.Current < proj.RatePerHour*untilReset
	switch {
	case !proj.WillDepleteBefore:
		proj.Status = StatusSafe
	case proj.HoursLeft < 1:
		proj.Status = StatusCritical
	default:
		proj.Status = StatusWarning
	}
	return proj
}

// Service projects quotas from the history store.
type Service struct {
	history *history.Service
	now     func() time.Time
}

// New creates a projection service reading from h.
func New(h *history.Service) *Service {
	return &Service{history: h, now: time.Now}
}

// Project loads the last week of one quota and projects it. ok is false when
// nothing has been recorded.
func (s *Service) Project(ctx context.Context, account, quota string, reset time.Time) (proj Projection, ok bool) {
	points := s.history.TimeSeries(ctx, quota, account, history.Range{Preset: "7d"})
	if len(points) == 0 {
		return Projection{}, false
	}
	return Calculate(points, reset, s.now()), true
}
