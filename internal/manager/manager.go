package manager

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/tejzpr/rishvan-input/internal/commit"
	"github.com/tejzpr/rishvan-input/internal/document"
	"github.com/tejzpr/rishvan-input/internal/lifecycle"
	"github.com/tejzpr/rishvan-input/internal/logger"
	"github.com/tejzpr/rishvan-input/internal/request"
)

// CreateOptions are the per-request settings supplied by the agent.
type CreateOptions struct {
	AppName string
	// SourceName overrides the manager's own, for requests relayed from
	// a secondary process.
	SourceName string
	// Timeout in seconds; nil uses the manager's default.
	Timeout   *int
	IsBlocker bool
}

// RequestManager creates requests on behalf of the agent and waits for
// them to reach a terminal status.
type RequestManager struct {
	store          document.Store
	committer      *commit.Committer
	sourceName     string
	defaultTimeout time.Duration
	now            func() time.Time
	logger         *logger.Logger
}

// Option configures a RequestManager.
type Option func(*RequestManager)

// WithDefaultTimeout sets the timeout stamped on requests that carry none.
func WithDefaultTimeout(d time.Duration) Option {
	return func(m *RequestManager) {
		if d > 0 {
			m.defaultTimeout = d
		}
	}
}

// WithClock overrides the time source used for createdAt.
func WithClock(now func() time.Time) Option {
	return func(m *RequestManager) { m.now = now }
}

// WithLogger sets the logger.
func WithLogger(l *logger.Logger) Option {
	return func(m *RequestManager) { m.logger = l }
}

// NewRequestManager creates a manager writing to c's store. sourceName
// identifies this process on every request it creates.
func NewRequestManager(c *commit.Committer, sourceName string, opts ...Option) *RequestManager {
	m := &RequestManager{
		store:          c.Store(),
		committer:      c,
		sourceName:     sourceName,
		defaultTimeout: request.DefaultTimeout,
		now:            time.Now,
		logger:         logger.Nop(),
	}
	for _, o := range opts {
		o(m)
	}
	return m
}

// Committer returns the committer the manager resolves requests through.
func (m *RequestManager) Committer() *commit.Committer {
	return m.committer
}

// SourceName identifies this process on the requests it creates.
func (m *RequestManager) SourceName() string {
	return m.sourceName
}

// CreateRequest inserts a new pending request for q.
func (m *RequestManager) CreateRequest(ctx context.Context, q request.Question, opts CreateOptions) (*request.InputRequest, error) {
	timeout := opts.Timeout
	if timeout == nil {
		timeout = request.Seconds(int(m.defaultTimeout / time.Second))
	}
	source := opts.SourceName
	if source == "" {
		source = m.sourceName
	}
	r := &request.InputRequest{
		ID:         uuid.NewString(),
		Question:   q.Normalize(),
		Status:     lifecycle.StatusPending,
		CreatedAt:  m.now().UnixMilli(),
		Timeout:    timeout,
		IsBlocker:  opts.IsBlocker,
		SourceName: source,
		AppName:    opts.AppName,
	}
	if err := r.Validate(); err != nil {
		return nil, err
	}
	if err := m.store.Insert(ctx, r); err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	m.logger.Info("request created",
		zap.String("request_id", r.ID),
		zap.String("type", string(r.Type)),
		zap.String("app_name", r.AppName),
		zap.Int("timeout", *r.Timeout),
	)
	return r, nil
}

// Wait blocks until request id is terminal and returns it. It returns
// ctx.Err() if ctx ends first; the request is left as it is.
func (m *RequestManager) Wait(ctx context.Context, id string) (*request.InputRequest, error) {
	done := make(chan *request.InputRequest, 1)
	cancel := m.store.Observe(func(c document.Change) {
		if c.Request.ID == id && c.Request.Status.Terminal() {
			select {
			case done <- c.Request:
			default:
			}
		}
	})
	defer cancel()

	// The request may have been resolved before the observer was in place.
	r, err := m.store.Get(ctx, id)
	if errors.Is(err, document.ErrNotFound) {
		return nil, lifecycle.NotFound()
	}
	if err != nil {
		return nil, err
	}
	if r.Status.Terminal() {
		return r, nil
	}

	select {
	case r := <-done:
		return r, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Ask creates a request and waits for its outcome. If ctx ends first the
// request is cancelled so no viewer keeps showing it.
func (m *RequestManager) Ask(ctx context.Context, q request.Question, opts CreateOptions) (*request.InputRequest, error) {
	r, err := m.CreateRequest(ctx, q, opts)
	if err != nil {
		return nil, err
	}
	final, err := m.Wait(ctx, r.ID)
	if err == nil {
		return final, nil
	}
	if ctx.Err() != nil {
		cctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if _, cerr := m.committer.Cancel(cctx, r.ID); cerr != nil && !errors.Is(cerr, lifecycle.ErrNotPending) {
			m.logger.Warn("failed to cancel abandoned request", zap.String("request_id", r.ID), zap.Error(cerr))
		}
	}
	return nil, err
}

// Pending lists requests still awaiting an answer, newest first.
func (m *RequestManager) Pending(ctx context.Context) ([]*request.InputRequest, error) {
	return m.store.List(ctx, lifecycle.StatusPending)
}
