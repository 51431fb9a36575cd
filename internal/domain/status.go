package domain

import "fmt"

// Status is the lifecycle state of a stage or a whole wallet.
type Status string

// Stage and wallet statuses.
const (
	StatusDefault      Status = "default"
	StatusProcess      Status = "process"
	StatusGetPayload   Status = "get_payload"
	StatusCheckBalance Status = "check_balance"
	StatusDone         Status = "done"
	StatusError        Status = "error"
	StatusSkip         Status = "skip"
)

// AllStatuses lists every valid status.
var AllStatuses = []Status{
	StatusDefault,
	StatusProcess,
	StatusGetPayload,
	StatusCheckBalance,
	StatusDone,
	StatusError,
	StatusSkip,
}

// IsValid reports whether s is one of the known statuses.
func (s Status) IsValid() bool {
	switch s {
	case StatusDefault, StatusProcess, StatusGetPayload, StatusCheckBalance,
		StatusDone, StatusError, StatusSkip:
		return true
	}
	return false
}

// IsTerminal reports whether no further writes may happen after s.
func (s Status) IsTerminal() bool {
	return s == StatusDone || s == StatusSkip
}

// Resolved reports whether the confirmation engine has nothing left to do.
func (s Status) Resolved() bool {
	return s.IsTerminal() || s == StatusCheckBalance
}

// stageTransitions is the forward-only transition table for stages.
// Every non-terminal status may additionally move to error.
var stageTransitions = map[Status][]Status{
	StatusDefault:      {StatusGetPayload, StatusProcess, StatusSkip},
	StatusGetPayload:   {StatusProcess},
	StatusProcess:      {StatusCheckBalance},
	StatusCheckBalance: {StatusDone},
	StatusError:        {StatusGetPayload, StatusProcess, StatusSkip},
}

// CanTransitionTo reports whether a stage may move from s to next.
// Staying in the same non-terminal status is allowed.
func (s Status) CanTransitionTo(next Status) bool {
	if !next.IsValid() || s.IsTerminal() {
		return false
	}
	if s == next {
		return true
	}
	if next == StatusError {
		return true
	}
	for _, allowed := range stageTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// TransitionError reports a rejected status change.
type TransitionError struct {
	From Status
	To   Status
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("invalid status transition %s -> %s", e.From, e.To)
}
