// Package document is the boundary to the replicated collection of input
// requests. Every backend offers the same three things: read a record,
// apply a write only if the record's status is still what the caller read,
// and observe every change.
package document

import (
	"context"
	"errors"
	"time"

	"github.com/tejzpr/rishvan-input/internal/lifecycle"
	"github.com/tejzpr/rishvan-input/internal/request"
)

var (
	// ErrNotFound is returned when the id is absent.
	ErrNotFound = errors.New("document: request not found")
	// ErrConflict is returned by CompareAndTransition when the current
	// status differs from the expected one. The current record is returned
	// alongside it.
	ErrConflict = errors.New("document: status precondition failed")
	// ErrExists is returned when inserting an id that is already present.
	ErrExists = errors.New("document: request already exists")
)

// Transition is the write applied when the precondition holds.
type Transition struct {
	To         lifecycle.Status
	Response   *string
	AnsweredAt *int64
	AnsweredBy string
}

// Apply writes the transition onto r.
func (t Transition) Apply(r *request.InputRequest) {
	r.Status = t.To
	r.Response = t.Response
	r.AnsweredAt = t.AnsweredAt
	r.AnsweredBy = t.AnsweredBy
}

// ChangeKind says what happened to a record.
type ChangeKind string

const (
	ChangeInserted     ChangeKind = "inserted"
	ChangeTransitioned ChangeKind = "transitioned"
)

// Change is delivered to observers after every successful write.
type Change struct {
	Kind    ChangeKind            `json:"kind"`
	Request *request.InputRequest `json:"request"`
	At      time.Time             `json:"at"`
}

// changeMessage is what backends with an external change feed publish.
// Receivers reload the record by id.
type changeMessage struct {
	Kind ChangeKind `json:"kind"`
	ID   string     `json:"id"`
}

// Store is the replicated document of input requests.
type Store interface {
	// Get returns the current record or ErrNotFound.
	Get(ctx context.Context, id string) (*request.InputRequest, error)
	// Insert adds a new record.
	Insert(ctx context.Context, r *request.InputRequest) error
	// CompareAndTransition atomically reads the record for id and, only if
	// its status equals from, applies t. It returns the record as it is
	// after the call: updated on success, untouched with ErrConflict when
	// the precondition failed.
	CompareAndTransition(ctx context.Context, id string, from lifecycle.Status, t Transition) (*request.InputRequest, error)
	// List returns records with the given status, or all when status is "".
	List(ctx context.Context, status lifecycle.Status) ([]*request.InputRequest, error)
	// Observe registers fn for every subsequent change. The returned func
	// removes the observer.
	Observe(fn func(Change)) (cancel func())
}
