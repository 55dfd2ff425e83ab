package handler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"go.uber.org/zap"

	"github.com/tejzpr/rishvan-input/internal/bundle"
	"github.com/tejzpr/rishvan-input/internal/inputtype"
	"github.com/tejzpr/rishvan-input/internal/lifecycle"
	"github.com/tejzpr/rishvan-input/internal/logger"
	"github.com/tejzpr/rishvan-input/internal/manager"
	"github.com/tejzpr/rishvan-input/internal/request"
)

const ToolName = "ask_human"

// Result texts for requests that ended without an answer.
const (
	DeclinedText  = "The user declined to answer."
	CancelledText = "The request expired without an answer."
)

// Asker creates a request and blocks until it is resolved. The local
// request manager and the remote client both satisfy it.
type Asker interface {
	Ask(ctx context.Context, q request.Question, opts manager.CreateOptions) (*request.InputRequest, error)
}

// AskHandler serves the ask_human tool.
type AskHandler struct {
	asker  Asker
	logger *logger.Logger
}

func NewAskHandler(asker Asker, log *logger.Logger) *AskHandler {
	return &AskHandler{
		asker:  asker,
		logger: log.WithFields(zap.String("component", "ask-handler")),
	}
}

// Register adds the ask_human tool to s.
func (h *AskHandler) Register(s *server.MCPServer) {
	s.AddTool(Tool(), h.Handle)
}

// Tool describes ask_human and its parameters.
func Tool() mcp.Tool {
	types := make([]string, 0, len(inputtype.All())+1)
	for _, t := range inputtype.All() {
		types = append(types, string(t))
	}
	types = append(types, request.DisplayDropdown)

	return mcp.NewTool(ToolName,
		mcp.WithDescription(
			"Ask a human for input and wait for the answer. "+
				"Use a typed question when the answer has a shape: choice for picking among options, "+
				"confirm for yes/no, number, email, date (YYYY-MM-DD), rating, or multi to ask several "+
				"questions that are answered together. Returns the human's answer as text.",
		),
		mcp.WithString("message",
			mcp.Required(),
			mcp.Description("The question to show the human"),
		),
		mcp.WithString("type",
			mcp.Description("Input type (default text)"),
			mcp.Enum(types...),
		),
		mcp.WithString("app_name",
			mcp.Description("The name of the application or project context"),
		),
		mcp.WithArray("options",
			mcp.Description("Choices for choice/dropdown. Either strings or objects with value, label and description"),
		),
		mcp.WithBoolean("multiSelect",
			mcp.Description("Allow several options to be selected (choice only)"),
		),
		mcp.WithString("display",
			mcp.Description("Set to dropdown to show a choice as a dropdown"),
		),
		mcp.WithString("min",
			mcp.Description("Lower bound: a number for number/rating, YYYY-MM-DD for date"),
		),
		mcp.WithString("max",
			mcp.Description("Upper bound: a number for number/rating, YYYY-MM-DD for date"),
		),
		mcp.WithString("format",
			mcp.Description("Number format: integer, decimal, currency or percent"),
		),
		mcp.WithString("domain",
			mcp.Description("Required email domain, e.g. example.com"),
		),
		mcp.WithString("style",
			mcp.Description("Rating style: stars, numeric or emoji"),
		),
		mcp.WithObject("labels",
			mcp.Description("Rating end labels: {\"low\": ..., \"high\": ...}"),
		),
		mcp.WithString("defaultValue",
			mcp.Description("Pre-filled answer"),
		),
		mcp.WithArray("questions",
			mcp.Description("Sub-questions for multi. Each takes the same fields as this tool plus an optional label"),
		),
		mcp.WithNumber("timeout",
			mcp.Description("Seconds to wait for an answer before the request expires"),
		),
		mcp.WithBoolean("is_blocker",
			mcp.Description("Whether the agent cannot proceed without the answer"),
		),
	)
}

type askParams struct {
	request.Question
	AppName   string   `json:"app_name"`
	Timeout   *float64 `json:"timeout"`
	IsBlocker bool     `json:"is_blocker"`
}

func parseParams(req mcp.CallToolRequest) (askParams, error) {
	var p askParams
	raw, err := json.Marshal(req.GetArguments())
	if err != nil {
		return p, fmt.Errorf("failed to read arguments: %w", err)
	}
	if err := json.Unmarshal(raw, &p); err != nil {
		return p, fmt.Errorf("invalid arguments: %w", err)
	}
	if strings.TrimSpace(p.Message) == "" {
		return p, errors.New("message is required")
	}
	return p, nil
}

func (p askParams) options() manager.CreateOptions {
	opts := manager.CreateOptions{AppName: p.AppName, IsBlocker: p.IsBlocker}
	if p.Timeout != nil {
		opts.Timeout = request.Seconds(int(*p.Timeout))
	}
	return opts
}

// Handle creates the request and blocks until a human resolves it or it
// expires.
func (h *AskHandler) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	p, err := parseParams(req)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	r, err := h.asker.Ask(ctx, p.Question, p.options())
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		h.logger.Warn("ask failed", zap.Error(err))
		return mcp.NewToolResultError(err.Error()), nil
	}
	h.logger.Info("request resolved",
		zap.String("request_id", r.ID),
		zap.String("status", string(r.Status)),
		zap.String("answered_by", r.AnsweredBy),
	)

	text, err := ResultText(r)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText(text), nil
}

// ResultText renders a terminal request for the agent.
func ResultText(r *request.InputRequest) (string, error) {
	switch r.Status {
	case lifecycle.StatusDeclined:
		return DeclinedText, nil
	case lifecycle.StatusCancelled:
		return CancelledText, nil
	case lifecycle.StatusAnswered:
	default:
		return "", fmt.Errorf("request %s is still %s", r.ID, r.Status)
	}

	response := ""
	if r.Response != nil {
		response = *r.Response
	}
	if !r.IsBundle() {
		return response, nil
	}

	answers, err := bundle.Decode(response)
	if err != nil {
		return "", err
	}
	var b strings.Builder
	for i, q := range r.Questions {
		if i >= len(answers) {
			break
		}
		if i > 0 {
			b.WriteByte('\n')
		}
		fmt.Fprintf(&b, "%s: %s", q.Title(), answers[i])
	}
	return b.String(), nil
}
