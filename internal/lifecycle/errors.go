package lifecycle

import (
	"errors"
	"fmt"
)

// Reason classifies an expected, recoverable failure.
type Reason string

const (
	ReasonNotFound         Reason = "not_found"
	ReasonAlreadyAnswered  Reason = "already_answered"
	ReasonAlreadyDeclined  Reason = "already_declined"
	ReasonAlreadyCancelled Reason = "already_cancelled"
	ReasonNotPending       Reason = "not_pending"
	ReasonInvalidAnswer    Reason = "invalid_answer"
)

// Sentinels for errors.Is. A *Failure matches the sentinel for its Reason.
var (
	ErrNotFound         = errors.New("request not found")
	ErrAlreadyAnswered  = errors.New("request already answered")
	ErrAlreadyDeclined  = errors.New("request already declined")
	ErrAlreadyCancelled = errors.New("request already cancelled")
	ErrNotPending       = errors.New("request is not pending")
	ErrInvalidAnswer    = errors.New("invalid answer")
)

var sentinels = map[Reason]error{
	ReasonNotFound:         ErrNotFound,
	ReasonAlreadyAnswered:  ErrAlreadyAnswered,
	ReasonAlreadyDeclined:  ErrAlreadyDeclined,
	ReasonAlreadyCancelled: ErrAlreadyCancelled,
	ReasonNotPending:       ErrNotPending,
	ReasonInvalidAnswer:    ErrInvalidAnswer,
}

// Failure is the typed outcome returned when an answer, decline or cancel
// cannot be applied.
type Failure struct {
	Reason Reason
	// Status is the terminal status found on the record, when there was one.
	Status Status
	// By names the winning answerer for ReasonAlreadyAnswered, when known.
	By string
	// Detail carries the validation message for ReasonInvalidAnswer.
	Detail string
}

func (f *Failure) Error() string {
	switch f.Reason {
	case ReasonAlreadyAnswered:
		if f.By != "" {
			return fmt.Sprintf("already answered by %s", f.By)
		}
		return "already answered"
	case ReasonInvalidAnswer:
		if f.Detail != "" {
			return "invalid answer: " + f.Detail
		}
		return "invalid answer"
	}
	return sentinels[f.Reason].Error()
}

// Is lets errors.Is match a Failure against the package sentinels.
// Every race-loss reason also matches ErrNotPending.
func (f *Failure) Is(target error) bool {
	if s, ok := sentinels[f.Reason]; ok && s == target {
		return true
	}
	return target == ErrNotPending && f.RaceLost()
}

// RaceLost reports whether the failure means another party already moved
// the request out of pending.
func (f *Failure) RaceLost() bool {
	switch f.Reason {
	case ReasonAlreadyAnswered, ReasonAlreadyDeclined, ReasonAlreadyCancelled, ReasonNotPending:
		return true
	}
	return false
}

// NotFound returns the failure for a missing id.
func NotFound() *Failure {
	return &Failure{Reason: ReasonNotFound}
}

// Invalid returns the failure for an answer rejected before any write.
func Invalid(detail string) *Failure {
	return &Failure{Reason: ReasonInvalidAnswer, Detail: detail}
}

// AsFailure unwraps err into a *Failure.
func AsFailure(err error) (*Failure, bool) {
	var f *Failure
	if errors.As(err, &f) {
		return f, true
	}
	return nil, false
}
