// Package classifier derives a user's behavior class and its downstream
// effects — reminder lead hours, message category, score delta — from
// attendance counters. Every function here is pure; behavior
// class is modeled as a tagged variant (Category) with table-driven
// mappings instead of hidden per-type dispatch.
package classifier

// Category is a user's behavior class.
type Category string

const (
	CategoryGood     Category = "Good"
	CategoryVeryGood Category = "VeryGood"
	CategoryAtRisk   Category = "AtRisk"
)

// MessageCategory names a pool in the message catalog.
type MessageCategory string

const (
	MessageDefaultNudge    MessageCategory = "default_nudge"
	MessagePositiveNudge   MessageCategory = "positive_nudge"
	MessageReEngagement    MessageCategory = "re_engagement"
)

// MinEventsForCategory is the attendance-event floor below which a user's
// category is not yet meaningful and stays at its current value (default
// Good) regardless of rate.
const MinEventsForCategory = 3

// Rate computes attendanceRate = 100*attended/(attended+missed), 0 if no
// events yet.
func Rate(attended, missed int) float64 {
	total := attended + missed
	if total == 0 {
		return 0
	}
	return 100 * float64(attended) / float64(total)
}

// Classify maps attendance counters to a Category. If total attendance
// events are below MinEventsForCategory, current is returned unchanged —
// the caller is expected to pass the user's existing category.
func Classify(attended, missed int, current Category) Category {
	total := attended + missed
	if total < MinEventsForCategory {
		return current
	}
	rate := Rate(attended, missed)
	switch {
	case rate >= 80:
		return CategoryVeryGood
	case rate >= 60:
		return CategoryGood
	default:
		return CategoryAtRisk
	}
}

// Plan returns the set of lead hours (before the appointment) at which a
// reminder should fire for the given category, in descending order.
func Plan(c Category) []int {
	switch c {
	case CategoryVeryGood:
		return []int{24}
	case CategoryAtRisk:
		return []int{48, 6, 1}
	default: // Good and unknown/default
		return []int{24, 2}
	}
}

// MessageCategoryFor returns the catalog category used for reminders sent
// to a user of the given class.
func MessageCategoryFor(c Category) MessageCategory {
	switch c {
	case CategoryVeryGood:
		return MessagePositiveNudge
	case CategoryAtRisk:
		return MessageReEngagement
	default:
		return MessageDefaultNudge
	}
}

// ScoreDelta returns the score adjustment for an attendance outcome.
// Missed deltas are clamped to never take score below zero by the caller.
func ScoreDelta(attended bool) int {
	if attended {
		return 10
	}
	return -5
}

// ApplyScore applies delta to score, clamping at zero.
func ApplyScore(score, delta int) int {
	result := score + delta
	if result < 0 {
		return 0
	}
	return result
}
