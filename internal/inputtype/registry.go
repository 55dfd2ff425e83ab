// Package inputtype is the registry of question variants a request may carry.
// Every other package asks this table what a type supports instead of
// switching on type names itself.
package inputtype

import (
	"fmt"
	"strings"
)

// Type discriminates the question variants.
type Type string

const (
	Text      Type = "text"
	Multiline Type = "multiline"
	Choice    Type = "choice"
	Confirm   Type = "confirm"
	Number    Type = "number"
	Email     Type = "email"
	Date      Type = "date"
	Rating    Type = "rating"
	Multi     Type = "multi"
)

// Field names a type-specific constraint carried on a question.
type Field string

const (
	FieldOptions     Field = "options"
	FieldMultiSelect Field = "multiSelect"
	FieldDisplay     Field = "display"
	FieldMin         Field = "min"
	FieldMax         Field = "max"
	FieldFormat      Field = "format"
	FieldDomain      Field = "domain"
	FieldStyle       Field = "style"
	FieldLabels      Field = "labels"
	FieldQuestions   Field = "questions"
)

// BoundKind says how a type reads its min/max constraints.
type BoundKind int

const (
	BoundNone BoundKind = iota
	// BoundNumber bounds are floats.
	BoundNumber
	// BoundDate bounds are YYYY-MM-DD dates.
	BoundDate
	// BoundScale bounds are the integer ends of a scale, with defaults.
	BoundScale
)

// Spec describes one question variant.
type Spec struct {
	Type Type
	// Fields lists the constraints this type reads. Anything else is ignored.
	Fields []Field
	// Hatches lists the escape hatches this type offers, in display order.
	Hatches []Hatch
	// MultiValue is true when several values may be selected at once
	// (only when the request also sets multiSelect).
	MultiValue bool
	// Bounds is how min/max are interpreted, when the type reads them.
	Bounds BoundKind
	// Bundle is true for the wrapper type holding sub-questions.
	Bundle bool
}

// AllowsMany reports whether a question of this type with the given
// multiSelect flag takes several values.
func (s Spec) AllowsMany(multiSelect bool) bool {
	return s.MultiValue && multiSelect
}

// HasField reports whether the type reads the given constraint.
func (s Spec) HasField(f Field) bool {
	for _, have := range s.Fields {
		if have == f {
			return true
		}
	}
	return false
}

// Allows reports whether the type offers the given escape hatch.
func (s Spec) Allows(h Hatch) bool {
	if h == HatchNone {
		return true
	}
	for _, have := range s.Hatches {
		if have == h {
			return true
		}
	}
	return false
}

var registry = map[Type]Spec{
	Text:      {Type: Text},
	Multiline: {Type: Multiline},
	Choice: {
		Type:       Choice,
		Fields:     []Field{FieldOptions, FieldMultiSelect, FieldDisplay},
		Hatches:    []Hatch{HatchOther},
		MultiValue: true,
	},
	Confirm: {
		Type:    Confirm,
		Hatches: []Hatch{HatchExplain},
	},
	Number: {
		Type:   Number,
		Fields: []Field{FieldMin, FieldMax, FieldFormat},
		Bounds: BoundNumber,
	},
	Email: {
		Type:   Email,
		Fields: []Field{FieldDomain},
	},
	Date: {
		Type:   Date,
		Fields: []Field{FieldMin, FieldMax},
		Bounds: BoundDate,
	},
	Rating: {
		Type:    Rating,
		Fields:  []Field{FieldMin, FieldMax, FieldStyle, FieldLabels},
		Hatches: []Hatch{HatchNotApplicable, HatchOther},
		Bounds:  BoundScale,
	},
	Multi: {
		Type:   Multi,
		Fields: []Field{FieldQuestions},
		Bundle: true,
	},
}

// order is the stable listing order used by All.
var order = []Type{Text, Multiline, Choice, Confirm, Number, Email, Date, Rating, Multi}

// Lookup returns the spec for t.
func Lookup(t Type) (Spec, bool) {
	s, ok := registry[t]
	return s, ok
}

// MustLookup is Lookup for types already known to be valid.
func MustLookup(t Type) Spec {
	s, ok := registry[t]
	if !ok {
		panic(fmt.Sprintf("inputtype: unregistered type %q", t))
	}
	return s
}

// All returns every registered type.
func All() []Type {
	out := make([]Type, len(order))
	copy(out, order)
	return out
}

// Parse maps a wire name onto a Type. "dropdown" is a display mode of choice
// and parses as Choice with isDropdown set.
func Parse(name string) (t Type, isDropdown bool, err error) {
	n := Type(strings.ToLower(strings.TrimSpace(name)))
	if n == "dropdown" {
		return Choice, true, nil
	}
	if _, ok := registry[n]; !ok {
		return "", false, fmt.Errorf("unknown input type %q", name)
	}
	return n, false, nil
}
