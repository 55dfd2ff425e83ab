// Package events carries change notifications between processes that
// share one request database.
package events

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Subjects published by the request store.
const (
	SubjectPrefix = "rishvan.requests."
	SubjectAll    = SubjectPrefix + ">"
)

// Event types.
const (
	TypeInserted     = "input_request.inserted"
	TypeTransitioned = "input_request.transitioned"
)

// Subject returns the subject for one request.
func Subject(requestID string) string {
	return SubjectPrefix + requestID
}

// Event is a change notice. Receivers reload the request by id.
type Event struct {
	ID        string    `json:"id"`
	Type      string    `json:"type"`
	Source    string    `json:"source"`
	Timestamp time.Time `json:"timestamp"`
	RequestID string    `json:"request_id"`
}

// NewEvent creates an event with a fresh id and the current time.
func NewEvent(eventType, source, requestID string) *Event {
	return &Event{
		ID:        uuid.New().String(),
		Type:      eventType,
		Source:    source,
		Timestamp: time.Now().UTC(),
		RequestID: requestID,
	}
}

// Handler handles one event.
type Handler func(ctx context.Context, event *Event) error

// Subscription is an active subscription.
type Subscription interface {
	Unsubscribe() error
	IsValid() bool
}

// Bus publishes and subscribes to events.
type Bus interface {
	Publish(ctx context.Context, subject string, event *Event) error
	// Subscribe registers handler for subject. A trailing ">" token
	// matches one or more remaining tokens, "*" matches exactly one.
	Subscribe(subject string, handler Handler) (Subscription, error)
	Close()
	IsConnected() bool
}

// Matches reports whether subject is covered by pattern using NATS
// wildcard rules.
func Matches(pattern, subject string) bool {
	pt := strings.Split(pattern, ".")
	st := strings.Split(subject, ".")
	for i, tok := range pt {
		if tok == ">" {
			return len(st) > i
		}
		if i >= len(st) {
			return false
		}
		if tok != "*" && tok != st[i] {
			return false
		}
	}
	return len(pt) == len(st)
}
