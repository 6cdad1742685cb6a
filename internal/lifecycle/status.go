// Package lifecycle holds the case status model: the six-stage status set,
// the codec that embeds it in a case's notes field, and the policy that turns
// stored facts into a display label and an activity flag.
//
// Status progression:
//
//	new ──► triaged ──► assessed ──► in_rehab ──► return_to_work ──► closed
//	                        │                          ▲   │
//	                        └──────────────────────────┘   └──► in_rehab
//
// Every non-terminal status may also move straight to closed.
package lifecycle

import "fmt"

type Status string

const (
	StatusNew          Status = "new"
	StatusTriaged      Status = "triaged"
	StatusAssessed     Status = "assessed"
	StatusInRehab      Status = "in_rehab"
	StatusReturnToWork Status = "return_to_work"
	StatusClosed       Status = "closed"
)

// Statuses lists every status in progression order.
var Statuses = []Status{
	StatusNew,
	StatusTriaged,
	StatusAssessed,
	StatusInRehab,
	StatusReturnToWork,
	StatusClosed,
}

func (s Status) Valid() bool {
	switch s {
	case StatusNew, StatusTriaged, StatusAssessed, StatusInRehab, StatusReturnToWork, StatusClosed:
		return true
	}
	return false
}

// IsCompleted is true for the statuses reported as finished cases.
func (s Status) IsCompleted() bool {
	return s == StatusReturnToWork || s == StatusClosed
}

func (s Status) String() string { return string(s) }

// ParseStatus converts a raw string to a Status.
func ParseStatus(raw string) (Status, error) {
	s := Status(raw)
	if !s.Valid() {
		return "", fmt.Errorf("unknown case status %q", raw)
	}
	return s, nil
}

var transitions = map[Status][]Status{
	StatusNew:          {StatusTriaged, StatusClosed},
	StatusTriaged:      {StatusAssessed, StatusClosed},
	StatusAssessed:     {StatusInRehab, StatusReturnToWork, StatusClosed},
	StatusInRehab:      {StatusReturnToWork, StatusClosed},
	StatusReturnToWork: {StatusClosed, StatusInRehab},
	// closed is terminal
}

// InvalidTransitionError reports a status change the lifecycle does not allow.
type InvalidTransitionError struct {
	From Status
	To   Status
}

func (e InvalidTransitionError) Error() string {
	return fmt.Sprintf("invalid case status transition %s -> %s", e.From, e.To)
}

// CanAdvance returns an error unless from -> to is an allowed step.
func CanAdvance(from, to Status) error {
	if !to.Valid() {
		return fmt.Errorf("unknown case status %q", to)
	}
	for _, next := range transitions[from] {
		if next == to {
			return nil
		}
	}
	return InvalidTransitionError{From: from, To: to}
}
