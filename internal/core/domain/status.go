package domain

import "errors"

// ErrInvalidTransition is returned when a status change is not in the
// transition table for its stage.
var ErrInvalidTransition = errors.New("invalid status transition")

// Status is the classification state of a record within one stage.
type Status string

const (
	StatusPending        Status = "pending"
	StatusProcessing     Status = "processing"
	StatusClassified     Status = "classified"
	StatusNoneClassified Status = "none_classified"
	StatusFailed         Status = "failed"
)

// Valid reports whether s is a member of the closed status set.
func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusProcessing, StatusClassified, StatusNoneClassified, StatusFailed:
		return true
	}
	return false
}

// Terminal reports whether s is a terminal outcome for a stage.
// Terminal states are final; failed records only re-enter the pending pool
// through an explicit operator reset.
func (s Status) Terminal() bool {
	switch s {
	case StatusClassified, StatusNoneClassified, StatusFailed:
		return true
	}
	return false
}

// transitions is the per-stage transition table. Both stages share the same
// machine: pending -> processing -> {classified, none_classified, failed}.
// processing -> pending is the stuck-claim sweep, failed -> pending is the
// operator reset.
var transitions = map[Status][]Status{
	StatusPending:    {StatusProcessing},
	StatusProcessing: {StatusClassified, StatusNoneClassified, StatusFailed, StatusPending},
	StatusFailed:     {StatusPending},
}

// CanTransition reports whether from -> to is an allowed status change.
func CanTransition(from, to Status) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}
