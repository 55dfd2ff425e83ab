// Package sweeper cancels pending requests whose deadline has passed.
// Every process runs one; none is authoritative. Two sweepers expiring the
// same request is safe because the cancel goes through the commit race.
package sweeper

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/tejzpr/rishvan-input/internal/commit"
	"github.com/tejzpr/rishvan-input/internal/document"
	"github.com/tejzpr/rishvan-input/internal/lifecycle"
	"github.com/tejzpr/rishvan-input/internal/logger"
)

// DefaultInterval is the tick used while anything is pending.
const DefaultInterval = time.Second

// Sweeper periodically expires overdue requests.
type Sweeper struct {
	committer *commit.Committer
	store     document.Store
	interval  time.Duration
	now       func() time.Time
	logger    *logger.Logger
	wake      chan struct{}
}

// Option configures a Sweeper.
type Option func(*Sweeper)

// WithInterval sets the tick interval.
func WithInterval(d time.Duration) Option {
	return func(s *Sweeper) {
		if d > 0 {
			s.interval = d
		}
	}
}

// WithClock overrides the time source used to compute deadlines.
func WithClock(now func() time.Time) Option {
	return func(s *Sweeper) { s.now = now }
}

// WithLogger sets the logger.
func WithLogger(l *logger.Logger) Option {
	return func(s *Sweeper) { s.logger = l }
}

// New creates a Sweeper that cancels through c.
func New(c *commit.Committer, opts ...Option) *Sweeper {
	s := &Sweeper{
		committer: c,
		store:     c.Store(),
		interval:  DefaultInterval,
		now:       time.Now,
		logger:    logger.Nop(),
		wake:      make(chan struct{}, 1),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Wake asks for an immediate sweep, as when a viewer regains focus after
// its timers were throttled.
func (s *Sweeper) Wake() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

// Run sweeps until ctx is done. It ticks while requests are pending and
// idles otherwise; a newly inserted request or Wake restarts the tick.
func (s *Sweeper) Run(ctx context.Context) error {
	cancel := s.store.Observe(func(c document.Change) {
		if c.Kind == document.ChangeInserted {
			s.Wake()
		}
	})
	defer cancel()

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	ticking := true

	for {
		pending, err := s.sweep(ctx)
		if err != nil && ctx.Err() == nil {
			s.logger.Warn("sweep failed", zap.Error(err))
		}
		switch {
		case pending > 0 && !ticking:
			ticker.Reset(s.interval)
			ticking = true
		case pending == 0 && ticking && err == nil:
			ticker.Stop()
			ticking = false
		}

		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		case <-s.wake:
		}
	}
}

// Sweep runs one pass and returns how many requests this call cancelled.
func (s *Sweeper) Sweep(ctx context.Context) (int, error) {
	cancelled, _, err := s.pass(ctx)
	return cancelled, err
}

func (s *Sweeper) sweep(ctx context.Context) (int, error) {
	_, remaining, err := s.pass(ctx)
	return remaining, err
}

// pass cancels every overdue request and reports how many it cancelled and
// how many are still pending afterwards.
func (s *Sweeper) pass(ctx context.Context) (cancelled, remaining int, err error) {
	pending, err := s.store.List(ctx, lifecycle.StatusPending)
	if err != nil {
		return 0, 0, err
	}
	now := s.now()
	for _, r := range pending {
		if !r.Expired(now) {
			remaining++
			continue
		}
		_, cerr := s.committer.Cancel(ctx, r.ID)
		var f *lifecycle.Failure
		switch {
		case cerr == nil:
			cancelled++
			s.logger.Info("request expired", zap.String("request_id", r.ID), zap.Duration("ttl", r.TTL()))
		case errors.As(cerr, &f) && (f.RaceLost() || f.Reason == lifecycle.ReasonNotFound):
			s.logger.Debug("expiry already resolved", zap.String("request_id", r.ID), zap.String("reason", string(f.Reason)))
		default:
			err = errors.Join(err, cerr)
		}
	}
	return cancelled, remaining, err
}
