// Package answer decides whether a candidate answer is acceptable for a
// question and produces the canonical response string stored on commit.
//
// The same functions drive the presentation layer's submit affordance and
// the final check the commit path runs, so the two can never disagree.
package answer

import (
	"strings"

	"github.com/tejzpr/rishvan-input/internal/inputtype"
	"github.com/tejzpr/rishvan-input/internal/request"
)

// Candidate is the in-progress answer to one question.
type Candidate struct {
	// Value is the single selected or typed value.
	Value string
	// Values holds the selection of a multi-select choice.
	Values []string
	// Hatch is the escape hatch picked, if any.
	Hatch inputtype.Hatch
	// Text is the escape hatch's free text.
	Text string
}

// Wire is the JSON form of a Candidate. Escape hatches arrive as sentinel
// values inside value or values.
type Wire struct {
	Value     string   `json:"value,omitempty"`
	Values    []string `json:"values,omitempty"`
	OtherText string   `json:"other_text,omitempty"`
}

// Candidate converts the wire form, lifting any sentinel into Hatch.
func (w Wire) Candidate() Candidate {
	c := Candidate{Text: w.OtherText}
	if h := inputtype.HatchFromSentinel(w.Value); h != inputtype.HatchNone {
		c.Hatch = h
	} else {
		c.Value = w.Value
	}
	for _, v := range w.Values {
		if h := inputtype.HatchFromSentinel(v); h != inputtype.HatchNone {
			c.Hatch = h
			continue
		}
		c.Values = append(c.Values, v)
	}
	return c
}

// Wire converts back to the JSON form.
func (c Candidate) Wire() Wire {
	w := Wire{Value: c.Value, OtherText: c.Text}
	if len(c.Values) > 0 {
		w.Values = append([]string(nil), c.Values...)
	}
	if s := c.Hatch.Sentinel(); s != "" {
		if len(w.Values) > 0 {
			w.Values = append(w.Values, s)
		} else {
			w.Value = s
		}
	}
	return w
}

// FromDefault seeds a candidate from the question's defaultValue.
func FromDefault(q request.Question) Candidate {
	d := q.DefaultValue
	if d == "" {
		return Candidate{}
	}
	switch q.Type {
	case inputtype.Choice:
		if q.IsMultiSelect() {
			var c Candidate
			for _, part := range strings.Split(d, ",") {
				part = strings.TrimSpace(part)
				if part == "" {
					continue
				}
				if hasOption(q, part) {
					c.Values = append(c.Values, part)
				} else {
					c.Hatch, c.Text = inputtype.HatchOther, part
				}
			}
			return c
		}
		if hasOption(q, d) {
			return Candidate{Value: d}
		}
		return Candidate{Hatch: inputtype.HatchOther, Text: d}
	case inputtype.Confirm:
		switch v := strings.ToLower(strings.TrimSpace(d)); v {
		case confirmYes, confirmNo:
			return Candidate{Value: v}
		}
		return Candidate{}
	case inputtype.Rating:
		if strings.EqualFold(d, inputtype.NotApplicableResponse) {
			return Candidate{Hatch: inputtype.HatchNotApplicable}
		}
		return Candidate{Value: strings.TrimSpace(d)}
	}
	return Candidate{Value: d}
}

func hasOption(q request.Question, v string) bool {
	for _, o := range q.Options {
		if o.Value == v {
			return true
		}
	}
	return false
}
