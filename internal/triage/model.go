package triage

import (
	"fmt"
	"time"

	"github.com/reliefnet/beacon/internal/report"
)

// Status tracks where a case is in its lifecycle.
type Status string

const (
	// StatusPending means created, pipeline not yet started.
	StatusPending Status = "pending"

	// StatusProcessing means the pipeline is running.
	StatusProcessing Status = "processing"

	// StatusProcessed means the pipeline finished and the case carries a
	// validated urgency. Rescuer actions are allowed from here.
	StatusProcessed Status = "processed"

	// StatusFailed means the pipeline finished with errors. Terminal unless
	// an operator explicitly retries.
	StatusFailed Status = "failed"

	// StatusAssigned means a rescuer has taken the case.
	StatusAssigned Status = "assigned"

	// StatusResolved means the case is closed. Terminal.
	StatusResolved Status = "resolved"
)

// Valid reports whether s is one of the defined lifecycle states.
func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusProcessing, StatusProcessed, StatusFailed, StatusAssigned, StatusResolved:
		return true
	}
	return false
}

// Terminal reports whether the pipeline can never re-enter this state on its
// own. Failed cases can only be re-run by an explicit operator retry.
func (s Status) Terminal() bool {
	return s == StatusFailed || s == StatusResolved
}

// Urgency is the triage severity of a case. Once the validation engine has
// adjusted it, the adjusted value is the urgency of record.
type Urgency string

const (
	UrgencyCritical Urgency = "CRITICAL"
	UrgencyHigh     Urgency = "HIGH"
	UrgencyMedium   Urgency = "MEDIUM"
	UrgencyLow      Urgency = "LOW"
)

// Valid reports whether u is one of the defined urgency levels.
func (u Urgency) Valid() bool {
	switch u {
	case UrgencyCritical, UrgencyHigh, UrgencyMedium, UrgencyLow:
		return true
	}
	return false
}

// EventTypeUnknown is the sentinel event type for analyses the model could
// not classify. It always forces manual review.
const EventTypeUnknown = "Unknown"

// Analysis is the structured emergency assessment extracted from the
// transcript. Urgency holds the validated value once the pipeline completes.
type Analysis struct {
	Urgency      Urgency  `json:"urgency"`
	Summary      string   `json:"summary"`
	EventType    string   `json:"event_type"`
	InjuryStatus string   `json:"injury_status,omitempty"`
	RiskFactors  []string `json:"risk_factors,omitempty"`
	Needs        []string `json:"needs,omitempty"`
	Confidence   float64  `json:"confidence"`

	// Degraded marks the conservative fallback record produced when the
	// analysis service failed or returned an unparseable response.
	Degraded bool `json:"degraded,omitempty"`
}

// Validation carries the flags derived by the validation engine.
type Validation struct {
	HasKeywords    bool `json:"has_keywords"`
	MeetsThreshold bool `json:"meets_threshold"`
	ManualReview   bool `json:"manual_review"`
}

// Case is one distress report and everything the pipeline derived from it.
type Case struct {
	ID        string          `json:"id"`
	SessionID string          `json:"session_id"`
	Kind      report.Kind     `json:"kind"`
	Location  report.Location `json:"location"`

	// Original payload, exactly one populated depending on Kind.
	AudioRef string `json:"audio_ref,omitempty"`
	Message  string `json:"message,omitempty"`
	ImageRef string `json:"image_ref,omitempty"`

	// Transcript is set before analysis ever runs: copied from Message for
	// text reports, produced by the transcription adapter for voice.
	Transcript string `json:"transcript,omitempty"`

	Analysis   *Analysis   `json:"analysis,omitempty"`
	Validation *Validation `json:"validation,omitempty"`

	Status           Status   `json:"status"`
	ProcessingErrors []string `json:"processing_errors,omitempty"`

	ReceivedAt  time.Time `json:"received_at"`
	ProcessedAt time.Time `json:"processed_at,omitzero"`
	AssignedAt  time.Time `json:"assigned_at,omitzero"`
	ResolvedAt  time.Time `json:"resolved_at,omitzero"`

	AssigneeID      string `json:"assignee_id,omitempty"`
	ResolutionNotes string `json:"resolution_notes,omitempty"`
}

// ReportContext is the metadata handed to the analysis adapter alongside the
// transcript.
type ReportContext struct {
	ReceivedAt time.Time
	Location   report.Location
}

// TransitionError rejects a rescuer action that is not allowed from the
// case's current state.
type TransitionError struct {
	From Status
	To   Status
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("cannot transition case from %s to %s", e.From, e.To)
}
