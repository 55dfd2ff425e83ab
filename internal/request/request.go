// Package request defines the replicated input-request record.
package request

import (
	"encoding/json"
	"strconv"
	"strings"
	"time"

	"github.com/tejzpr/rishvan-input/internal/inputtype"
	"github.com/tejzpr/rishvan-input/internal/lifecycle"
)

// DefaultTimeout applies when a record carries no timeout of its own.
const DefaultTimeout = 600 * time.Second

// Display modes for choice questions.
const (
	DisplayList     = ""
	DisplayDropdown = "dropdown"
)

// Option is one selectable value of a choice question.
type Option struct {
	Value       string `json:"value"`
	Label       string `json:"label,omitempty"`
	Description string `json:"description,omitempty"`
}

// UnmarshalJSON accepts either an object or a bare string, the latter
// meaning value and label are the same.
func (o *Option) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		*o = Option{Value: s, Label: s}
		return nil
	}
	type plain Option
	var p plain
	if err := json.Unmarshal(data, &p); err != nil {
		return err
	}
	if p.Value == "" {
		p.Value = p.Label
	}
	*o = Option(p)
	return nil
}

// DisplayLabel returns the label, falling back to the value.
func (o Option) DisplayLabel() string {
	if o.Label != "" {
		return o.Label
	}
	return o.Value
}

// Labels are the captions shown at the ends of a rating scale.
type Labels struct {
	Low  string `json:"low,omitempty"`
	High string `json:"high,omitempty"`
}

// Bound is a min/max constraint. Numbers and rating scales use it as a
// float, dates as YYYY-MM-DD. It accepts JSON numbers and strings.
type Bound string

func (b *Bound) UnmarshalJSON(data []byte) error {
	raw := strings.TrimSpace(string(data))
	if raw == "null" {
		*b = ""
		return nil
	}
	if strings.HasPrefix(raw, `"`) {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*b = Bound(strings.TrimSpace(s))
		return nil
	}
	*b = Bound(raw)
	return nil
}

func (b Bound) MarshalJSON() ([]byte, error) {
	if _, err := strconv.ParseFloat(string(b), 64); err == nil {
		return []byte(b), nil
	}
	return json.Marshal(string(b))
}

// IsSet reports whether the bound was given.
func (b Bound) IsSet() bool { return b != "" }

// Float parses the bound as a number.
func (b Bound) Float() (float64, error) {
	return strconv.ParseFloat(string(b), 64)
}

// FloatBound returns a numeric Bound.
func FloatBound(v float64) Bound {
	return Bound(strconv.FormatFloat(v, 'f', -1, 64))
}

// Question is one typed prompt. A request is a Question plus lifecycle
// fields; a multi request holds further Questions as sub-questions.
type Question struct {
	Type    inputtype.Type `json:"type"`
	Message string         `json:"message"`
	// Label is a short header used for sub-questions.
	Label string `json:"label,omitempty"`

	Options     []Option `json:"options,omitempty"`
	MultiSelect bool     `json:"multiSelect,omitempty"`
	Display     string   `json:"display,omitempty"`

	Min    Bound   `json:"min,omitempty"`
	Max    Bound   `json:"max,omitempty"`
	Format string  `json:"format,omitempty"`
	Domain string  `json:"domain,omitempty"`
	Style  string  `json:"style,omitempty"`
	Labels *Labels `json:"labels,omitempty"`

	DefaultValue string `json:"defaultValue,omitempty"`

	Questions []Question `json:"questions,omitempty"`
}

// Spec returns the registry entry for the question's type.
func (q Question) Spec() (inputtype.Spec, bool) {
	return inputtype.Lookup(q.Type)
}

// IsMultiSelect reports whether the question takes several values.
func (q Question) IsMultiSelect() bool {
	spec, ok := q.Spec()
	return ok && spec.AllowsMany(q.MultiSelect)
}

// IsBundle reports whether the question wraps sub-questions.
func (q Question) IsBundle() bool {
	spec, ok := q.Spec()
	return ok && spec.Bundle
}

// Title returns the label, falling back to the message.
func (q Question) Title() string {
	if q.Label != "" {
		return q.Label
	}
	return q.Message
}

// InputRequest is one replicated request record.
type InputRequest struct {
	ID string `json:"id"`
	Question

	Status    lifecycle.Status `json:"status"`
	CreatedAt int64            `json:"createdAt"`
	// Timeout is the time to live in seconds. Nil means DefaultTimeout.
	Timeout   *int `json:"timeout,omitempty"`
	IsBlocker bool `json:"isBlocker,omitempty"`

	// SourceName and AppName identify the requesting agent.
	SourceName string `json:"sourceName,omitempty"`
	AppName    string `json:"appName,omitempty"`

	Response   *string `json:"response"`
	AnsweredAt *int64  `json:"answeredAt,omitempty"`
	AnsweredBy string  `json:"answeredBy,omitempty"`
}

// TTL returns the effective time to live.
func (r *InputRequest) TTL() time.Duration {
	if r.Timeout == nil {
		return DefaultTimeout
	}
	return time.Duration(*r.Timeout) * time.Second
}

// Deadline is createdAt + timeout.
func (r *InputRequest) Deadline() time.Time {
	return time.UnixMilli(r.CreatedAt).Add(r.TTL())
}

// Remaining returns how long until the deadline; zero or negative once due.
func (r *InputRequest) Remaining(now time.Time) time.Duration {
	return r.Deadline().Sub(now)
}

// Expired reports whether a pending request is past its deadline.
func (r *InputRequest) Expired(now time.Time) bool {
	return r.Status == lifecycle.StatusPending && r.Remaining(now) <= 0
}

// Record projects the fields the state machine reads.
func (r *InputRequest) Record() lifecycle.Record {
	return lifecycle.Record{Status: r.Status, AnsweredBy: r.AnsweredBy}
}

// Clone returns a deep copy.
func (r *InputRequest) Clone() *InputRequest {
	if r == nil {
		return nil
	}
	c := *r
	c.Question = r.Question.clone()
	if r.Timeout != nil {
		v := *r.Timeout
		c.Timeout = &v
	}
	if r.Response != nil {
		v := *r.Response
		c.Response = &v
	}
	if r.AnsweredAt != nil {
		v := *r.AnsweredAt
		c.AnsweredAt = &v
	}
	return &c
}

func (q Question) clone() Question {
	c := q
	if q.Options != nil {
		c.Options = append([]Option(nil), q.Options...)
	}
	if q.Labels != nil {
		l := *q.Labels
		c.Labels = &l
	}
	if q.Questions != nil {
		c.Questions = make([]Question, len(q.Questions))
		for i, sub := range q.Questions {
			c.Questions[i] = sub.clone()
		}
	}
	return c
}

// Seconds is a convenience for building a Timeout.
func Seconds(n int) *int {
	return &n
}
