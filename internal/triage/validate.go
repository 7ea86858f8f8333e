package triage

import (
	"fmt"

	"github.com/reliefnet/beacon/internal/keyword"
)

const (
	// ConfidenceThreshold is the minimum model confidence considered
	// trustworthy.
	ConfidenceThreshold = 0.6

	// ManualReviewConfidence is the floor below which a human must look at
	// the case regardless of anything else.
	ManualReviewConfidence = 0.5
)

// ValidationResult is the output of the validation engine.
type ValidationResult struct {
	HasKeywords         bool
	HasCriticalKeywords bool
	HasHighKeywords     bool
	MeetsThreshold      bool
	ManualReview        bool
	AdjustedUrgency     Urgency
	Warnings            []string
}

// Flags reduces the result to the persisted validation record.
func (r ValidationResult) Flags() *Validation {
	return &Validation{
		HasKeywords:    r.HasKeywords,
		MeetsThreshold: r.MeetsThreshold,
		ManualReview:   r.ManualReview,
	}
}

// Validate cross-checks an AI analysis against the raw text it was derived
// from. The model is a probabilistic classifier and is never the sole
// arbiter of life-safety urgency: a deterministic keyword check provides a
// conservative floor that can raise urgency but never lower it. Pure
// function of its inputs, no side effects.
func Validate(a *Analysis, rawText string) ValidationResult {
	r := ValidationResult{
		HasCriticalKeywords: keyword.HasCritical(rawText),
		HasHighKeywords:     keyword.HasHigh(rawText),
		MeetsThreshold:      a.Confidence >= ConfidenceThreshold,
		AdjustedUrgency:     a.Urgency,
	}
	r.HasKeywords = r.HasCriticalKeywords || r.HasHighKeywords

	// Override rule, highest priority: critical keywords force LOW/MEDIUM
	// up to CRITICAL. Escalation only, never a downgrade.
	if r.HasCriticalKeywords && (a.Urgency == UrgencyLow || a.Urgency == UrgencyMedium) {
		r.AdjustedUrgency = UrgencyCritical
		r.ManualReview = true
		r.Warnings = append(r.Warnings,
			fmt.Sprintf("urgency escalated from %s to %s: critical keywords present", a.Urgency, UrgencyCritical))
	}

	// Low-confidence rule, independent of the override.
	if a.Confidence < ManualReviewConfidence {
		r.ManualReview = true
	}

	// Unknown-event rule.
	if a.EventType == "" || a.EventType == EventTypeUnknown {
		r.ManualReview = true
	}

	if !r.MeetsThreshold {
		r.Warnings = append(r.Warnings,
			fmt.Sprintf("confidence %.2f below threshold %.2f", a.Confidence, ConfidenceThreshold))
	}
	// Cross-check on the override rule. Fires for HIGH analyses with
	// critical keywords, which the override deliberately leaves alone.
	if r.HasCriticalKeywords && r.AdjustedUrgency != UrgencyCritical {
		r.Warnings = append(r.Warnings,
			fmt.Sprintf("critical keywords present but urgency is %s", r.AdjustedUrgency))
	}
	if a.EventType == "" || a.EventType == EventTypeUnknown {
		r.Warnings = append(r.Warnings, "event type missing or unknown")
	}
	if len(a.Needs) == 0 {
		r.Warnings = append(r.Warnings, "needs list is empty")
	}

	return r
}
