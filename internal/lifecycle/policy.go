package lifecycle

import "time"

// Label is the human-facing rendering of a case's state.
type Label string

const (
	LabelNewCase      Label = "NEW CASE"
	LabelTriaged      Label = "TRIAGED"
	LabelAssessed     Label = "ASSESSED"
	LabelInRehab      Label = "IN REHAB"
	LabelReturnToWork Label = "RETURN TO WORK"
	LabelClosed       Label = "CLOSED"
	LabelInProgress   Label = "IN PROGRESS"
)

// Labels lists every label in display order.
var Labels = []Label{
	LabelNewCase,
	LabelTriaged,
	LabelAssessed,
	LabelInRehab,
	LabelReturnToWork,
	LabelClosed,
	LabelInProgress,
}

// DefaultNewCaseWindow is how long a case without a stored status shows as NEW CASE.
const DefaultNewCaseWindow = 7 * 24 * time.Hour

var statusLabels = map[Status]Label{
	StatusNew:          LabelNewCase,
	StatusTriaged:      LabelTriaged,
	StatusAssessed:     LabelAssessed,
	StatusInRehab:      LabelInRehab,
	StatusReturnToWork: LabelReturnToWork,
	StatusClosed:       LabelClosed,
}

// LabelOf returns the direct label of a stored status.
func LabelOf(s Status) Label {
	if l, ok := statusLabels[s]; ok {
		return l
	}
	return LabelInProgress
}

type DisplayInput struct {
	Status          *Status
	IsActiveFlag    bool
	WithinDateRange bool
	// Age of the case record, only consulted when Status is nil.
	Age           time.Duration
	NewCaseWindow time.Duration
}

// DisplayStatus derives the label shown for a case. A stored status wins over
// dates, but a false active flag always renders an active-category status as
// CLOSED. Without a stored status the label falls back to record age and
// activity.
func DisplayStatus(in DisplayInput) Label {
	if in.Status != nil && in.Status.Valid() {
		s := *in.Status
		if !s.IsCompleted() && !in.IsActiveFlag {
			return LabelClosed
		}
		return LabelOf(s)
	}
	window := in.NewCaseWindow
	if window <= 0 {
		window = DefaultNewCaseWindow
	}
	active := in.IsActiveFlag && in.WithinDateRange
	switch {
	case active && in.Age < window:
		return LabelNewCase
	case active:
		return LabelInProgress
	default:
		return LabelClosed
	}
}

// IsCurrentlyActive reports whether a case exempts its worker today. The
// flag gates everything. An in_rehab case stays active past its end date;
// every other status needs today within [start, end] by calendar day.
func IsCurrentlyActive(status *Status, isActiveFlag bool, today, start time.Time, end *time.Time) bool {
	return currentlyActive(status, isActiveFlag, func() bool { return WithinDateRange(today, start, end) })
}

// IsActiveUndated is IsCurrentlyActive for a case whose start date cannot be
// read; no calendar day falls inside its range.
func IsActiveUndated(status *Status, isActiveFlag bool) bool {
	return currentlyActive(status, isActiveFlag, func() bool { return false })
}

func currentlyActive(status *Status, isActiveFlag bool, inRange func() bool) bool {
	if !isActiveFlag {
		return false
	}
	if status != nil && *status == StatusInRehab {
		return true
	}
	return inRange()
}

// WithinDateRange reports start <= today <= end by calendar day, each date
// read in its own location. A nil end is open-ended.
func WithinDateRange(today, start time.Time, end *time.Time) bool {
	d := Day(today)
	if d.Before(Day(start)) {
		return false
	}
	if end != nil && d.After(Day(*end)) {
		return false
	}
	return true
}

// Day returns t's calendar day, as seen in t's own location, at midnight UTC.
func Day(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// ParseDay parses a YYYY-MM-DD calendar date.
func ParseDay(raw string) (time.Time, error) {
	return time.ParseInLocation("2006-01-02", raw, time.UTC)
}
