package request

import (
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/tejzpr/rishvan-input/internal/inputtype"
)

// DateLayout is the only accepted date format.
const DateLayout = "2006-01-02"

// Default rating scale.
const (
	DefaultRatingMin = 1
	DefaultRatingMax = 5
)

// Number formats.
const (
	FormatInteger  = "integer"
	FormatDecimal  = "decimal"
	FormatCurrency = "currency"
	FormatPercent  = "percent"
)

// Rating styles.
const (
	StyleStars   = "stars"
	StyleNumeric = "numeric"
	StyleEmoji   = "emoji"
)

// Normalize canonicalises wire names: the type is lower-cased, an empty
// type means text, and "dropdown" becomes a choice shown as a dropdown.
// Unknown names are left for Validate to reject.
func (q Question) Normalize() Question {
	if strings.TrimSpace(string(q.Type)) == "" {
		q.Type = inputtype.Text
	} else if t, dropdown, err := inputtype.Parse(string(q.Type)); err == nil {
		q.Type = t
		if dropdown {
			q.Display = DisplayDropdown
		}
	}
	if len(q.Questions) > 0 {
		subs := make([]Question, len(q.Questions))
		for i, sub := range q.Questions {
			subs[i] = sub.Normalize()
		}
		q.Questions = subs
	}
	return q
}

// Validate checks that a new record is well formed before it is inserted.
func (r *InputRequest) Validate() error {
	if strings.TrimSpace(r.ID) == "" {
		return errors.New("id is required")
	}
	if r.Timeout != nil && *r.Timeout < 0 {
		return errors.New("timeout must not be negative")
	}
	return r.Question.Validate()
}

// Validate checks a question against the type registry.
func (q Question) Validate() error {
	return q.validate(false)
}

func (q Question) validate(nested bool) error {
	spec, ok := q.Spec()
	if !ok {
		return fmt.Errorf("unknown input type %q", q.Type)
	}
	if strings.TrimSpace(q.Message) == "" && strings.TrimSpace(q.Label) == "" {
		return errors.New("message is required")
	}
	if spec.Bundle {
		if nested {
			return errors.New("multi questions cannot be nested")
		}
		if len(q.Questions) == 0 {
			return errors.New("multi request needs at least one question")
		}
		for i, sub := range q.Questions {
			if err := sub.validate(true); err != nil {
				return fmt.Errorf("question %d: %w", i, err)
			}
		}
		return nil
	}
	if len(q.Questions) > 0 {
		return fmt.Errorf("%s question cannot hold sub-questions", q.Type)
	}
	if spec.HasField(inputtype.FieldOptions) {
		if err := validateOptions(q.Options); err != nil {
			return err
		}
	}
	switch spec.Bounds {
	case inputtype.BoundDate:
		if err := validateDateBounds(q.Min, q.Max); err != nil {
			return err
		}
	case inputtype.BoundNumber:
		if err := validateNumericBounds(q.Min, q.Max); err != nil {
			return err
		}
	case inputtype.BoundScale:
		lo, hi, err := q.RatingScale()
		if err != nil {
			return err
		}
		if lo >= hi {
			return errors.New("rating min must be below max")
		}
	}
	if spec.HasField(inputtype.FieldFormat) {
		switch q.Format {
		case "", FormatInteger, FormatDecimal, FormatCurrency, FormatPercent:
		default:
			return fmt.Errorf("unknown number format %q", q.Format)
		}
	}
	if spec.HasField(inputtype.FieldStyle) {
		switch q.Style {
		case "", StyleStars, StyleNumeric, StyleEmoji:
		default:
			return fmt.Errorf("unknown rating style %q", q.Style)
		}
	}
	return nil
}

func validateOptions(options []Option) error {
	if len(options) == 0 {
		return errors.New("choice question needs at least one option")
	}
	seen := make(map[string]bool, len(options))
	for i, o := range options {
		if strings.TrimSpace(o.Value) == "" {
			return fmt.Errorf("option %d has no value", i)
		}
		if inputtype.HatchFromSentinel(o.Value) != inputtype.HatchNone {
			return fmt.Errorf("option %d uses a reserved value", i)
		}
		if seen[o.Value] {
			return fmt.Errorf("duplicate option value %q", o.Value)
		}
		seen[o.Value] = true
	}
	return nil
}

func validateNumericBounds(min, max Bound) error {
	var lo, hi float64
	var err error
	if min.IsSet() {
		if lo, err = min.Float(); err != nil {
			return fmt.Errorf("min %q is not a number", min)
		}
	}
	if max.IsSet() {
		if hi, err = max.Float(); err != nil {
			return fmt.Errorf("max %q is not a number", max)
		}
	}
	if min.IsSet() && max.IsSet() && lo > hi {
		return errors.New("min must not exceed max")
	}
	return nil
}

func validateDateBounds(min, max Bound) error {
	lo, err := ParseDateBound(min)
	if err != nil {
		return err
	}
	hi, err := ParseDateBound(max)
	if err != nil {
		return err
	}
	if !lo.IsZero() && !hi.IsZero() && lo.After(hi) {
		return errors.New("min date must not be after max date")
	}
	return nil
}

// ParseDateBound parses a date bound; an unset bound is the zero time.
func ParseDateBound(b Bound) (time.Time, error) {
	if !b.IsSet() {
		return time.Time{}, nil
	}
	t, err := time.Parse(DateLayout, string(b))
	if err != nil {
		return time.Time{}, fmt.Errorf("date bound %q is not YYYY-MM-DD", b)
	}
	return t, nil
}

// RatingScale returns the integer bounds of a rating question.
func (q Question) RatingScale() (int, int, error) {
	lo, hi := DefaultRatingMin, DefaultRatingMax
	if q.Min.IsSet() {
		v, err := q.Min.Float()
		if err != nil || v != math.Trunc(v) {
			return 0, 0, fmt.Errorf("rating min %q must be an integer", q.Min)
		}
		lo = int(v)
	}
	if q.Max.IsSet() {
		v, err := q.Max.Float()
		if err != nil || v != math.Trunc(v) {
			return 0, 0, fmt.Errorf("rating max %q must be an integer", q.Max)
		}
		hi = int(v)
	}
	return lo, hi, nil
}
