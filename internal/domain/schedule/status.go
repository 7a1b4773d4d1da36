package schedule

import (
	"fmt"
	"strings"
)

// Status is the lifecycle state of a task instance.
type Status int

const (
	Scheduled Status = iota
	Done
	Missed
	Snoozed
	Rescheduled
)

var statusNames = [...]string{
	Scheduled:   "scheduled",
	Done:        "done",
	Missed:      "missed",
	Snoozed:     "snoozed",
	Rescheduled: "rescheduled",
}

// transitions is the complete set of legal moves. Missed -> Rescheduled
// names the lineage step: the Missed instance keeps its status and a new
// instance is created in Rescheduled.
var transitions = map[Status][]Status{
	Scheduled:   {Done, Missed, Snoozed},
	Rescheduled: {Done, Missed, Snoozed},
	Missed:      {Rescheduled},
}

func (s Status) String() string {
	if int(s) >= 0 && int(s) < len(statusNames) {
		return statusNames[s]
	}
	return fmt.Sprintf("status(%d)", int(s))
}

// ParseStatus parses a status name (case-insensitive).
func ParseStatus(name string) (Status, error) {
	for i, n := range statusNames {
		if strings.EqualFold(n, name) {
			return Status(i), nil
		}
	}
	return 0, fmt.Errorf("unknown status %q", name)
}

func (s Status) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

func (s *Status) UnmarshalText(b []byte) error {
	v, err := ParseStatus(string(b))
	if err != nil {
		return err
	}
	*s = v
	return nil
}

// Active reports whether the instance still expects to be worked on.
func (s Status) Active() bool {
	return s == Scheduled || s == Rescheduled
}

// CanTransition reports whether from -> to is legal.
func (s Status) CanTransition(to Status) bool {
	for _, allowed := range transitions[s] {
		if allowed == to {
			return true
		}
	}
	return false
}

// Origin records how an instance came to exist.
type Origin string

const (
	OriginGenerated   Origin = "generated"
	OriginRescheduled Origin = "rescheduled"
	OriginSnoozed     Origin = "snoozed"
	OriginDisplaced   Origin = "displaced"
)
