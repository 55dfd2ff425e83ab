// Package commit applies answer, decline and cancel to a request as one
// compare-and-transition against the document. Whoever moves a request out
// of pending first wins; everyone else gets a *lifecycle.Failure naming the
// state they lost to.
package commit

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/tejzpr/rishvan-input/internal/answer"
	"github.com/tejzpr/rishvan-input/internal/document"
	"github.com/tejzpr/rishvan-input/internal/lifecycle"
	"github.com/tejzpr/rishvan-input/internal/logger"
	"github.com/tejzpr/rishvan-input/internal/request"
)

// Anonymous is recorded when an answer carries no identity.
const Anonymous = "anonymous"

// Committer runs the commit protocol against a Store.
type Committer struct {
	store  document.Store
	now    func() time.Time
	logger *logger.Logger
}

// Option configures a Committer.
type Option func(*Committer)

// WithClock overrides the time source used for answeredAt.
func WithClock(now func() time.Time) Option {
	return func(c *Committer) { c.now = now }
}

// WithLogger sets the logger.
func WithLogger(l *logger.Logger) Option {
	return func(c *Committer) { c.logger = l }
}

// New creates a Committer.
func New(store document.Store, opts ...Option) *Committer {
	c := &Committer{store: store, now: time.Now, logger: logger.Nop()}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Store returns the document the committer writes to.
func (c *Committer) Store() document.Store {
	return c.store
}

// Answer commits an already formatted response.
func (c *Committer) Answer(ctx context.Context, id, response, by string) (*request.InputRequest, error) {
	if by == "" {
		by = Anonymous
	}
	at := c.now().UnixMilli()
	return c.apply(ctx, id, lifecycle.ActionAnswer, document.Transition{
		Response:   &response,
		AnsweredAt: &at,
		AnsweredBy: by,
	})
}

// Pending loads id and refuses it the way a commit would when it is no
// longer pending, so callers report a lost race before judging an answer.
func (c *Committer) Pending(ctx context.Context, id string) (*request.InputRequest, error) {
	r, err := c.store.Get(ctx, id)
	if errors.Is(err, document.ErrNotFound) {
		return nil, lifecycle.NotFound()
	}
	if err != nil {
		return nil, fmt.Errorf("load request %s: %w", id, err)
	}
	if r.Status != lifecycle.StatusPending {
		return r, lifecycle.Refused(r.Record())
	}
	return r, nil
}

// Submit validates and formats cand against the request's question and
// commits it. An invalid candidate fails with ReasonInvalidAnswer and the
// document is not written.
func (c *Committer) Submit(ctx context.Context, id string, cand answer.Candidate, by string) (*request.InputRequest, error) {
	r, err := c.Pending(ctx, id)
	if err != nil {
		return r, err
	}
	response, err := answer.Format(r.Question, cand)
	if err != nil {
		return nil, err
	}
	return c.Answer(ctx, id, response, by)
}

// Decline records that the human chose not to answer.
func (c *Committer) Decline(ctx context.Context, id string) (*request.InputRequest, error) {
	return c.apply(ctx, id, lifecycle.ActionDecline, document.Transition{})
}

// Cancel closes the request without an answer. Expiry uses the same path.
func (c *Committer) Cancel(ctx context.Context, id string) (*request.InputRequest, error) {
	return c.apply(ctx, id, lifecycle.ActionCancel, document.Transition{})
}

func (c *Committer) apply(ctx context.Context, id string, action lifecycle.Action, t document.Transition) (*request.InputRequest, error) {
	to, err := action.Target()
	if err != nil {
		return nil, err
	}
	t.To = to

	log := c.logger.WithRequestID(id)
	updated, err := c.store.CompareAndTransition(ctx, id, lifecycle.StatusPending, t)
	switch {
	case err == nil:
		log.Info("request committed", zap.String("status", string(to)), zap.String("answered_by", t.AnsweredBy))
		return updated, nil
	case errors.Is(err, document.ErrNotFound):
		return nil, lifecycle.NotFound()
	case errors.Is(err, document.ErrConflict):
		f := lifecycle.Refused(updated.Record())
		log.Debug("commit lost race", zap.String("action", string(action)), zap.String("reason", string(f.Reason)))
		return updated, f
	}
	return nil, fmt.Errorf("%s request %s: %w", action, id, err)
}
