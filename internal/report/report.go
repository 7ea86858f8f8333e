// Package report defines the inbound distress report types accepted at intake
// and the validation applied before any case is created.
package report

import (
	"fmt"
	"strings"
	"time"
)

// Kind identifies the payload type of a distress report. It is fixed at
// intake and immutable for the life of the case.
type Kind string

const (
	KindVoice Kind = "voice"
	KindText  Kind = "text"
	KindPhoto Kind = "photo"
)

// Valid reports whether k is one of the defined report kinds.
func (k Kind) Valid() bool {
	switch k {
	case KindVoice, KindText, KindPhoto:
		return true
	}
	return false
}

// Location is the reporter's position at capture time.
type Location struct {
	Lat        float64   `json:"lat"`
	Lon        float64   `json:"lon"`
	AccuracyM  float64   `json:"accuracy_m,omitempty"`
	CapturedAt time.Time `json:"captured_at,omitempty"`
}

// Validate checks coordinate ranges.
func (l Location) Validate() error {
	if l.Lat < -90 || l.Lat > 90 {
		return &ValidationError{Field: "location.lat", Reason: fmt.Sprintf("latitude %v out of range [-90,90]", l.Lat)}
	}
	if l.Lon < -180 || l.Lon > 180 {
		return &ValidationError{Field: "location.lon", Reason: fmt.Sprintf("longitude %v out of range [-180,180]", l.Lon)}
	}
	return nil
}

// Voice is a voice distress report referencing an uploaded audio artifact.
type Voice struct {
	SessionID string   `json:"session_id"`
	Location  Location `json:"location"`
	AudioRef  string   `json:"audio_ref"`
	// Language is an optional hint for the transcription service.
	// Empty means the service default (currently English).
	Language string `json:"language,omitempty"`
}

// Validate checks required fields and coordinate ranges.
func (v *Voice) Validate() error {
	if strings.TrimSpace(v.SessionID) == "" {
		return &ValidationError{Field: "session_id", Reason: "session identifier is required"}
	}
	if strings.TrimSpace(v.AudioRef) == "" {
		return &ValidationError{Field: "audio_ref", Reason: "audio reference is required"}
	}
	return v.Location.Validate()
}

// Text is a plain-text distress report.
type Text struct {
	SessionID string   `json:"session_id"`
	Location  Location `json:"location"`
	Message   string   `json:"message"`
}

// Validate checks required fields and coordinate ranges.
func (t *Text) Validate() error {
	if strings.TrimSpace(t.SessionID) == "" {
		return &ValidationError{Field: "session_id", Reason: "session identifier is required"}
	}
	if strings.TrimSpace(t.Message) == "" {
		return &ValidationError{Field: "message", Reason: "message is required"}
	}
	return t.Location.Validate()
}

// ValidationError rejects malformed intake input. It is surfaced
// synchronously to the caller; no case is created when it fires.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}
