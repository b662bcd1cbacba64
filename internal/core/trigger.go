package core

import (
	"fmt"
	"time"

	"intake-chatbot/pkg"
)

// Trigger thresholds. A record matching any one condition requires the four
// deep-detail insight fields before the conversation may complete.
const (
	SeverityThreshold  = 7
	OnsetDaysThreshold = 5
)

// TriggerResult reports whether deeper detail collection is required and
// which condition(s) fired, for user-facing explanation.
type TriggerResult struct {
	Fires     bool
	Rationale []string
}

// EvaluateTrigger is a pure predicate over the extracted record: it fires
// when severity >= 7, when onset lies more than 5 days before today, or
// when the location is in the critical set. Unknown (nil) fields never
// fire on their own.
func EvaluateTrigger(meta pkg.RecordMetadata, today time.Time) TriggerResult {
	var reasons []string
	if meta.Severity != nil && *meta.Severity >= SeverityThreshold {
		reasons = append(reasons,
			fmt.Sprintf("severity %d is %d or higher", *meta.Severity, SeverityThreshold))
	}
	if meta.Onset != nil {
		if onset, err := time.Parse(onsetLayout, *meta.Onset); err == nil {
			days := daysBetween(onset, today)
			if days > OnsetDaysThreshold {
				reasons = append(reasons,
					fmt.Sprintf("onset %s is %d days ago, more than %d", *meta.Onset, days, OnsetDaysThreshold))
			}
		}
	}
	if meta.Location != nil && pkg.CriticalLocation(*meta.Location) {
		reasons = append(reasons,
			fmt.Sprintf("location %s requires detailed assessment", *meta.Location))
	}
	return TriggerResult{Fires: len(reasons) > 0, Rationale: reasons}
}

// daysBetween counts whole calendar days from a to b, ignoring clock time.
func daysBetween(a, b time.Time) int {
	ad := time.Date(a.Year(), a.Month(), a.Day(), 0, 0, 0, 0, time.UTC)
	bd := time.Date(b.Year(), b.Month(), b.Day(), 0, 0, 0, 0, time.UTC)
	return int(bd.Sub(ad) / (24 * time.Hour))
}
