package webserver

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/tejzpr/rishvan-input/internal/answer"
	"github.com/tejzpr/rishvan-input/internal/bundle"
	"github.com/tejzpr/rishvan-input/internal/document"
	"github.com/tejzpr/rishvan-input/internal/lifecycle"
	"github.com/tejzpr/rishvan-input/internal/manager"
	"github.com/tejzpr/rishvan-input/internal/request"
)

// CreateRequestBody is sent by a secondary process to create a request.
type CreateRequestBody struct {
	SourceName string           `json:"source_name"`
	AppName    string           `json:"app_name"`
	Question   request.Question `json:"question"`
	Timeout    *int             `json:"timeout,omitempty"`
	IsBlocker  bool             `json:"is_blocker,omitempty"`
}

// AnswerBody carries a candidate answer. Multi requests use Answers, one
// entry per sub-question in order.
type AnswerBody struct {
	answer.Wire
	Answers    []answer.Wire `json:"answers,omitempty"`
	AnsweredBy string        `json:"answered_by,omitempty"`
}

// Validation is the response of the validate endpoint.
type Validation struct {
	Submittable bool             `json:"submittable"`
	Reason      string           `json:"reason,omitempty"`
	Problems    []bundle.Problem `json:"problems,omitempty"`
}

// PollResponse is what a secondary polls for.
type PollResponse struct {
	ID         string           `json:"id"`
	Status     lifecycle.Status `json:"status"`
	Response   *string          `json:"response"`
	AnsweredBy string           `json:"answered_by,omitempty"`
}

type errorBody struct {
	Error      string           `json:"error"`
	Reason     lifecycle.Reason `json:"reason,omitempty"`
	Status     lifecycle.Status `json:"status,omitempty"`
	AnsweredBy string           `json:"answered_by,omitempty"`
}

func failureCode(f *lifecycle.Failure) int {
	switch {
	case f.Reason == lifecycle.ReasonNotFound:
		return http.StatusNotFound
	case f.Reason == lifecycle.ReasonInvalidAnswer:
		return http.StatusUnprocessableEntity
	case f.RaceLost():
		return http.StatusConflict
	}
	return http.StatusBadRequest
}

func (s *Server) respondError(c *gin.Context, err error) {
	if f, ok := lifecycle.AsFailure(err); ok {
		c.JSON(failureCode(f), errorBody{Error: f.Error(), Reason: f.Reason, Status: f.Status, AnsweredBy: f.By})
		return
	}
	s.logger.Error("request failed", zap.String("path", c.FullPath()), zap.Error(err))
	c.JSON(http.StatusInternalServerError, errorBody{Error: err.Error()})
}

func (s *Server) load(ctx context.Context, id string) (*request.InputRequest, error) {
	r, err := s.store.Get(ctx, id)
	if errors.Is(err, document.ErrNotFound) {
		return nil, lifecycle.NotFound()
	}
	return r, err
}

// coordinator builds a bundle coordinator for a multi request from body.
func (s *Server) coordinator(r *request.InputRequest, body AnswerBody) (*bundle.Coordinator, error) {
	b, err := bundle.New(s.committer, r)
	if err != nil {
		return nil, err
	}
	for i, w := range body.Answers {
		if err := b.Set(i, w.Candidate()); err != nil {
			return nil, lifecycle.Invalid(err.Error())
		}
	}
	return b, nil
}

// Submit routes an answer through the commit path.
func (s *Server) Submit(ctx context.Context, id string, body AnswerBody) (*request.InputRequest, error) {
	r, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if body.AnsweredBy == "" {
		body.AnsweredBy = s.cfg.Identity
	}
	if !r.IsBundle() {
		return s.committer.Submit(ctx, id, body.Candidate(), body.AnsweredBy)
	}
	if r.Status != lifecycle.StatusPending {
		return r, lifecycle.Refused(r.Record())
	}
	b, err := s.coordinator(r, body)
	if err != nil {
		return nil, err
	}
	return b.Submit(ctx, body.AnsweredBy)
}

// Validate runs the same predicate Submit uses, without writing.
func (s *Server) Validate(ctx context.Context, id string, body AnswerBody) (Validation, error) {
	r, err := s.load(ctx, id)
	if err != nil {
		return Validation{}, err
	}
	if !r.IsBundle() {
		res := answer.Submittable(r.Question, body.Candidate())
		return Validation{Submittable: res.Valid, Reason: res.Reason}, nil
	}
	b, err := s.coordinator(r, body)
	if err != nil {
		return Validation{}, err
	}
	problems := b.Problems()
	v := Validation{Submittable: len(problems) == 0, Problems: problems}
	if len(problems) > 0 {
		v.Reason = problems[0].Reason
	}
	return v, nil
}

func (s *Server) httpListRequests(c *gin.Context) {
	status := lifecycle.Status(c.Query("status"))
	if status != "" && !status.Valid() {
		c.JSON(http.StatusBadRequest, errorBody{Error: "unknown status " + string(status)})
		return
	}
	all, err := s.store.List(c.Request.Context(), status)
	if err != nil {
		s.respondError(c, err)
		return
	}
	source, app := c.Query("source_name"), c.Query("app_name")
	out := make([]*request.InputRequest, 0, len(all))
	for _, r := range all {
		if (source == "" || r.SourceName == source) && (app == "" || r.AppName == app) {
			out = append(out, r)
		}
	}
	c.JSON(http.StatusOK, out)
}

func (s *Server) httpCreateRequest(c *gin.Context) {
	var body CreateRequestBody
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, errorBody{Error: "invalid payload: " + err.Error()})
		return
	}
	r, err := s.manager.CreateRequest(c.Request.Context(), body.Question, manager.CreateOptions{
		AppName:    body.AppName,
		SourceName: body.SourceName,
		Timeout:    body.Timeout,
		IsBlocker:  body.IsBlocker,
	})
	if err != nil {
		c.JSON(http.StatusBadRequest, errorBody{Error: err.Error()})
		return
	}
	c.JSON(http.StatusCreated, r)
}

func (s *Server) httpGetRequest(c *gin.Context) {
	r, err := s.load(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, r)
}

func (s *Server) httpPollRequest(c *gin.Context) {
	r, err := s.load(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, PollResponse{ID: r.ID, Status: r.Status, Response: r.Response, AnsweredBy: r.AnsweredBy})
}

func (s *Server) httpValidate(c *gin.Context) {
	var body AnswerBody
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, errorBody{Error: "invalid payload: " + err.Error()})
		return
	}
	v, err := s.Validate(c.Request.Context(), c.Param("id"), body)
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, v)
}

func (s *Server) httpAnswer(c *gin.Context) {
	var body AnswerBody
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, errorBody{Error: "invalid payload: " + err.Error()})
		return
	}
	r, err := s.Submit(c.Request.Context(), c.Param("id"), body)
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, r)
}

func (s *Server) httpDecline(c *gin.Context) {
	r, err := s.committer.Decline(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, r)
}

func (s *Server) httpCancel(c *gin.Context) {
	r, err := s.committer.Cancel(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, r)
}
