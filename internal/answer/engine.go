package answer

import (
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/tejzpr/rishvan-input/internal/inputtype"
	"github.com/tejzpr/rishvan-input/internal/lifecycle"
	"github.com/tejzpr/rishvan-input/internal/request"
)

const (
	confirmYes = "yes"
	confirmNo  = "no"
)

var (
	emailRe = regexp.MustCompile(`^[^\s@]+@[^\s@]+\.[^\s@]+$`)
	dateRe  = regexp.MustCompile(`^\d{4}-\d{2}-\d{2}$`)
)

// Result is the outcome of a validity check.
type Result struct {
	Valid  bool   `json:"valid"`
	Reason string `json:"reason,omitempty"`
}

var accepted = Result{Valid: true}

func invalid(format string, args ...any) Result {
	return Result{Reason: fmt.Sprintf(format, args...)}
}

// Check reports whether c is an acceptable value for q. Emptiness is not
// judged here: an empty number, email or date is valid at this layer and
// required-ness is left to Submittable. Multi-select choice is the
// exception, where an empty selection is itself invalid.
func Check(q request.Question, c Candidate) Result {
	spec, found := q.Spec()
	if !found {
		return invalid("unknown input type %q", q.Type)
	}
	if spec.Bundle {
		return invalid("multi questions are answered per sub-question")
	}
	c = normalize(q, c)
	if !spec.AllowsMany(q.MultiSelect) && len(c.Values) > 0 {
		return invalid("Only one value may be given")
	}
	if !spec.Allows(c.Hatch) {
		return invalid("%s questions do not accept %q", q.Type, c.Hatch)
	}
	if c.Hatch.RequiresText() && strings.TrimSpace(c.Text) == "" {
		return invalid("Please specify your answer")
	}

	switch q.Type {
	case inputtype.Text, inputtype.Multiline:
		return accepted
	case inputtype.Number:
		return checkNumber(q, c.Value)
	case inputtype.Email:
		return checkEmail(q, c.Value)
	case inputtype.Date:
		return checkDate(q, c.Value)
	case inputtype.Choice:
		return checkChoice(q, c)
	case inputtype.Confirm:
		return checkConfirm(c)
	case inputtype.Rating:
		return checkRating(q, c)
	}
	return invalid("no validator for %q", q.Type)
}

// IsEmpty reports whether nothing has been entered or selected.
func IsEmpty(q request.Question, c Candidate) bool {
	if c.Hatch != inputtype.HatchNone {
		return false
	}
	c = normalize(q, c)
	if q.IsMultiSelect() {
		return len(c.Values) == 0
	}
	return strings.TrimSpace(c.Value) == "" && len(c.Values) == 0
}

// Submittable is the predicate for enabling submit: the candidate must be
// non-empty and pass Check.
func Submittable(q request.Question, c Candidate) Result {
	if IsEmpty(q, c) {
		if q.IsMultiSelect() {
			return invalid("Select at least one option")
		}
		return invalid("An answer is required")
	}
	return Check(q, c)
}

// Format returns the canonical response for c. It fails with an
// InvalidAnswer failure whenever Submittable would.
func Format(q request.Question, c Candidate) (string, error) {
	c = normalize(q, c)
	if r := Submittable(q, c); !r.Valid {
		return "", lifecycle.Invalid(r.Reason)
	}
	text := strings.TrimSpace(c.Text)

	switch q.Type {
	case inputtype.Text, inputtype.Multiline:
		return c.Value, nil
	case inputtype.Number, inputtype.Email, inputtype.Date:
		return strings.TrimSpace(c.Value), nil
	case inputtype.Choice:
		if q.IsMultiSelect() {
			parts := selectedInOptionOrder(q, c.Values)
			if c.Hatch == inputtype.HatchOther {
				parts = append(parts, text)
			}
			return strings.Join(parts, ", "), nil
		}
		if c.Hatch == inputtype.HatchOther {
			return text, nil
		}
		return c.Value, nil
	case inputtype.Confirm:
		if c.Hatch == inputtype.HatchExplain {
			return text, nil
		}
		return strings.ToLower(strings.TrimSpace(c.Value)), nil
	case inputtype.Rating:
		switch c.Hatch {
		case inputtype.HatchNotApplicable:
			return inputtype.NotApplicableResponse, nil
		case inputtype.HatchOther:
			return text, nil
		}
		n, _ := strconv.Atoi(strings.TrimSpace(c.Value))
		return strconv.Itoa(n), nil
	}
	return "", lifecycle.Invalid(fmt.Sprintf("no formatter for %q", q.Type))
}

// normalize puts every candidate into the shape its question reads: a
// multi-select reads Values only, so a stray Value joins them; a
// single-value type reads Value only, so a one-element Values becomes
// it. Anything else left in Values is rejected by Check.
func normalize(q request.Question, c Candidate) Candidate {
	if q.IsMultiSelect() {
		if c.Value != "" {
			c.Values = append(append([]string(nil), c.Values...), c.Value)
			c.Value = ""
		}
		return c
	}
	if c.Value == "" && len(c.Values) == 1 {
		c.Value, c.Values = c.Values[0], nil
	}
	return c
}

func checkNumber(q request.Question, raw string) Result {
	v := strings.TrimSpace(raw)
	if v == "" {
		return accepted
	}
	n, err := strconv.ParseFloat(v, 64)
	if err != nil || math.IsNaN(n) || math.IsInf(n, 0) {
		return invalid("Please enter a valid number")
	}
	if q.Format == request.FormatInteger && n != math.Trunc(n) {
		return invalid("Please enter a whole number")
	}
	if q.Min.IsSet() {
		if lo, err := q.Min.Float(); err == nil && n < lo {
			return invalid("Value is below the minimum of %s", q.Min)
		}
	}
	if q.Max.IsSet() {
		if hi, err := q.Max.Float(); err == nil && n > hi {
			return invalid("Value is above the maximum of %s", q.Max)
		}
	}
	return accepted
}

func checkEmail(q request.Question, raw string) Result {
	v := strings.TrimSpace(raw)
	if v == "" {
		return accepted
	}
	if !emailRe.MatchString(v) {
		return invalid("Please enter a valid email address")
	}
	if q.Domain != "" {
		want := strings.TrimPrefix(strings.TrimSpace(q.Domain), "@")
		got := v[strings.LastIndex(v, "@")+1:]
		if !strings.EqualFold(got, want) {
			return invalid("Email must be an @%s address", want)
		}
	}
	return accepted
}

func checkDate(q request.Question, raw string) Result {
	v := strings.TrimSpace(raw)
	if v == "" {
		return accepted
	}
	if !dateRe.MatchString(v) {
		return invalid("Please use the YYYY-MM-DD format")
	}
	d, err := time.Parse(request.DateLayout, v)
	if err != nil {
		return invalid("%s is not a real date", v)
	}
	if lo, err := request.ParseDateBound(q.Min); err == nil && !lo.IsZero() && d.Before(lo) {
		return invalid("Date must be on or after %s", q.Min)
	}
	if hi, err := request.ParseDateBound(q.Max); err == nil && !hi.IsZero() && d.After(hi) {
		return invalid("Date must be on or before %s", q.Max)
	}
	return accepted
}

func checkChoice(q request.Question, c Candidate) Result {
	if q.IsMultiSelect() {
		if len(c.Values) == 0 && c.Hatch == inputtype.HatchNone {
			return invalid("Select at least one option")
		}
		seen := make(map[string]bool, len(c.Values))
		for _, v := range c.Values {
			if !hasOption(q, v) {
				return invalid("%q is not one of the options", v)
			}
			if seen[v] {
				return invalid("%q is selected twice", v)
			}
			seen[v] = true
		}
		return accepted
	}
	if c.Hatch == inputtype.HatchOther {
		return accepted
	}
	if c.Value == "" {
		return accepted
	}
	if !hasOption(q, c.Value) {
		return invalid("%q is not one of the options", c.Value)
	}
	return accepted
}

func checkConfirm(c Candidate) Result {
	if c.Hatch == inputtype.HatchExplain {
		return accepted
	}
	switch strings.ToLower(strings.TrimSpace(c.Value)) {
	case "", confirmYes, confirmNo:
		return accepted
	}
	return invalid("Please answer yes or no")
}

func checkRating(q request.Question, c Candidate) Result {
	if c.Hatch != inputtype.HatchNone {
		return accepted
	}
	v := strings.TrimSpace(c.Value)
	if v == "" {
		return accepted
	}
	lo, hi, err := q.RatingScale()
	if err != nil {
		return invalid("%s", err.Error())
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return invalid("Please pick a whole number from %d to %d", lo, hi)
	}
	if n < lo || n > hi {
		return invalid("Rating must be between %d and %d", lo, hi)
	}
	return accepted
}

func selectedInOptionOrder(q request.Question, values []string) []string {
	picked := make(map[string]bool, len(values))
	for _, v := range values {
		picked[v] = true
	}
	out := make([]string, 0, len(values))
	for _, o := range q.Options {
		if picked[o.Value] {
			out = append(out, o.Value)
		}
	}
	return out
}
