package triage

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound reports that no case exists for the given ID.
var ErrNotFound = errors.New("case not found")

// Countable fields for Store.CountBy.
const (
	CountByStatus  = "status"
	CountByUrgency = "urgency"
)

// Filter narrows a Store.List call. Zero values mean "any".
type Filter struct {
	Status    Status
	Urgency   Urgency
	SessionID string
	Limit     int
	Offset    int
}

// Patch is a partial update applied to a case. Nil fields are left untouched.
// AppendError appends to the processing error log rather than replacing it.
type Patch struct {
	Status          *Status
	Transcript      *string
	Analysis        *Analysis
	Validation      *Validation
	AppendError     *string
	ProcessedAt     *time.Time
	AssigneeID      *string
	AssignedAt      *time.Time
	ResolutionNotes *string
	ResolvedAt      *time.Time
}

// Store is the persistence interface for cases.
type Store interface {
	Create(ctx context.Context, c *Case) error
	Get(ctx context.Context, id string) (*Case, bool, error)
	Update(ctx context.Context, id string, p Patch) (*Case, bool, error)
	List(ctx context.Context, f Filter) ([]*Case, error)
	CountBy(ctx context.Context, field string) (map[string]int, error)
}

// Transcriber converts an uploaded audio artifact into text.
// Validate checks the artifact preconditions (exists, size, container)
// without invoking the transcription service, so intake can reject bad
// uploads before a case is created.
type Transcriber interface {
	Validate(ctx context.Context, audioRef string) error
	Transcribe(ctx context.Context, audioRef, language string) (string, error)
}

// Analyzer extracts a structured emergency assessment from free text. It
// returns an error only for upstream authentication faults; every other
// failure mode yields a conservative degraded Analysis and a nil error.
type Analyzer interface {
	Analyze(ctx context.Context, text string, rc ReportContext) (*Analysis, error)
}

// Notifier pushes a processed or failed case to an external channel.
type Notifier interface {
	Send(ctx context.Context, c *Case) error
}
