package webserver

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/tejzpr/rishvan-input/internal/lifecycle"
	"github.com/tejzpr/rishvan-input/internal/logger"
	"github.com/tejzpr/rishvan-input/internal/manager"
	"github.com/tejzpr/rishvan-input/internal/request"
)

// RemoteClient lets a secondary process create requests on the primary
// server and poll them until they are resolved.
type RemoteClient struct {
	baseURL      string
	sourceName   string
	client       *http.Client
	pollInterval time.Duration
	logger       *logger.Logger
}

// NewRemoteClient creates a client for the server at baseURL. sourceName
// tags the requests it creates.
func NewRemoteClient(baseURL, sourceName string, log *logger.Logger) *RemoteClient {
	return &RemoteClient{
		baseURL:      baseURL,
		sourceName:   sourceName,
		client:       &http.Client{Timeout: 5 * time.Second},
		pollInterval: time.Second,
		logger:       log.WithFields(zap.String("component", "remote-client")),
	}
}

// Ask creates q on the primary and waits for its outcome. If ctx ends
// first the request is cancelled on the primary.
func (rc *RemoteClient) Ask(ctx context.Context, q request.Question, opts manager.CreateOptions) (*request.InputRequest, error) {
	source := opts.SourceName
	if source == "" {
		source = rc.sourceName
	}
	created, err := rc.CreateRequest(ctx, CreateRequestBody{
		SourceName: source,
		AppName:    opts.AppName,
		Question:   q,
		Timeout:    opts.Timeout,
		IsBlocker:  opts.IsBlocker,
	})
	if err != nil {
		return nil, err
	}

	p, err := rc.Wait(ctx, created.ID)
	if err != nil {
		if ctx.Err() != nil {
			cctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if cerr := rc.Cancel(cctx, created.ID); cerr != nil {
				rc.logger.Warn("failed to cancel abandoned request", zap.String("request_id", created.ID), zap.Error(cerr))
			}
		}
		return nil, err
	}
	created.Status = p.Status
	created.Response = p.Response
	created.AnsweredBy = p.AnsweredBy
	return created, nil
}

// CreateRequest sends a question to the primary server and returns the
// stored request.
func (rc *RemoteClient) CreateRequest(ctx context.Context, body CreateRequestBody) (*request.InputRequest, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, rc.baseURL+"/api/requests", bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := rc.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to reach primary server: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusCreated {
		var e errorBody
		_ = json.NewDecoder(resp.Body).Decode(&e)
		return nil, fmt.Errorf("primary server returned status %d: %s", resp.StatusCode, e.Error)
	}

	var created request.InputRequest
	if err := json.NewDecoder(resp.Body).Decode(&created); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}
	return &created, nil
}

// Wait polls until the request is terminal or ctx is done. Transient
// errors are retried on the next tick.
func (rc *RemoteClient) Wait(ctx context.Context, id string) (*PollResponse, error) {
	ticker := time.NewTicker(rc.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
			p, err := rc.poll(ctx, id)
			if err != nil {
				if f, ok := lifecycle.AsFailure(err); ok {
					return nil, f
				}
				continue
			}
			if p.Status.Terminal() {
				return p, nil
			}
		}
	}
}

// Cancel asks the primary to cancel id.
func (rc *RemoteClient) Cancel(ctx context.Context, id string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, fmt.Sprintf("%s/api/requests/%s/cancel", rc.baseURL, id), nil)
	if err != nil {
		return err
	}
	resp, err := rc.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusConflict {
		return fmt.Errorf("primary server returned status %d", resp.StatusCode)
	}
	return nil
}

func (rc *RemoteClient) poll(ctx context.Context, id string) (*PollResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fmt.Sprintf("%s/api/requests/%s/poll", rc.baseURL, id), nil)
	if err != nil {
		return nil, err
	}
	resp, err := rc.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, lifecycle.NotFound()
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("poll returned status %d", resp.StatusCode)
	}
	var p PollResponse
	if err := json.NewDecoder(resp.Body).Decode(&p); err != nil {
		return nil, err
	}
	return &p, nil
}
