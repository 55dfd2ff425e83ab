package inputtype

// Hatch is the escape-hatch state of a candidate answer. It is a third state
// next to "nothing selected" and "a regular value selected".
type Hatch int

const (
	HatchNone Hatch = iota
	// HatchOther replaces the structured value with free text.
	HatchOther
	// HatchNotApplicable is rating's "N/A"; it carries no text.
	HatchNotApplicable
	// HatchExplain is confirm's "explain"; it requires free text.
	HatchExplain
)

// Wire sentinels the presentation layer sends in place of a value.
const (
	SentinelOther         = "__other__"
	SentinelNotApplicable = "__na__"
	SentinelExplain       = "__explain__"
)

// NotApplicableResponse is the canonical response for HatchNotApplicable.
const NotApplicableResponse = "N/A"

// RequiresText reports whether picking h needs non-empty free text.
func (h Hatch) RequiresText() bool {
	return h == HatchOther || h == HatchExplain
}

func (h Hatch) String() string {
	switch h {
	case HatchOther:
		return "other"
	case HatchNotApplicable:
		return "n/a"
	case HatchExplain:
		return "explain"
	default:
		return "none"
	}
}

// Sentinel returns the wire sentinel for h, or "" for HatchNone.
func (h Hatch) Sentinel() string {
	switch h {
	case HatchOther:
		return SentinelOther
	case HatchNotApplicable:
		return SentinelNotApplicable
	case HatchExplain:
		return SentinelExplain
	default:
		return ""
	}
}

// HatchFromSentinel maps a wire value onto a Hatch. Values that are not
// sentinels map to HatchNone.
func HatchFromSentinel(v string) Hatch {
	switch v {
	case SentinelOther:
		return HatchOther
	case SentinelNotApplicable:
		return HatchNotApplicable
	case SentinelExplain:
		return HatchExplain
	default:
		return HatchNone
	}
}
