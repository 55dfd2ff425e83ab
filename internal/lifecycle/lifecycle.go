// Package lifecycle holds the request status machine and the typed outcomes
// reported when a transition is refused.
package lifecycle

import "fmt"

// Status is the lifecycle state of a request.
type Status string

const (
	StatusPending   Status = "pending"
	StatusAnswered  Status = "answered"
	StatusDeclined  Status = "declined"
	StatusCancelled Status = "cancelled"
)

// Terminal reports whether no further transition is allowed out of s.
func (s Status) Terminal() bool {
	return s == StatusAnswered || s == StatusDeclined || s == StatusCancelled
}

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	return s == StatusPending || s.Terminal()
}

// Action is a transition requested by a client or the sweeper.
type Action string

const (
	ActionAnswer  Action = "answer"
	ActionDecline Action = "decline"
	ActionCancel  Action = "cancel"
)

// Target returns the terminal status an action moves a request to.
func (a Action) Target() (Status, error) {
	switch a {
	case ActionAnswer:
		return StatusAnswered, nil
	case ActionDecline:
		return StatusDeclined, nil
	case ActionCancel:
		return StatusCancelled, nil
	}
	return "", fmt.Errorf("unknown action %q", a)
}

// Record is the part of a request the state machine looks at.
type Record struct {
	Status     Status
	AnsweredBy string
}

// Check decides whether an action may be applied to a record whose status
// was read inside the same atomic operation that will perform the write.
// It returns the target status, or a *Failure describing why not.
func Check(current Record, a Action) (Status, error) {
	to, err := a.Target()
	if err != nil {
		return "", err
	}
	if current.Status != StatusPending {
		return "", Refused(current)
	}
	return to, nil
}

// Refused builds the failure reported to a caller that lost the race
// against whatever put the record into its current state.
func Refused(current Record) *Failure {
	switch current.Status {
	case StatusAnswered:
		return &Failure{Reason: ReasonAlreadyAnswered, Status: current.Status, By: current.AnsweredBy}
	case StatusDeclined:
		return &Failure{Reason: ReasonAlreadyDeclined, Status: current.Status}
	case StatusCancelled:
		return &Failure{Reason: ReasonAlreadyCancelled, Status: current.Status}
	default:
		return &Failure{Reason: ReasonNotPending, Status: current.Status}
	}
}
