// Package analyze turns free-text distress reports into structured emergency
// assessments via an LLM provider. It is agnostic to report kind: the same
// path serves plain-text messages and voice transcripts.
package analyze

import (
	"context"
	"errors"
	"fmt"

	"github.com/linnemanlabs/go-core/log"

	"github.com/reliefnet/beacon/internal/triage"
)

// ErrUnauthorized marks an upstream authentication fault. Unlike every other
// failure mode it must propagate: silently degrading on a bad credential
// would mask a misconfiguration affecting every case, which is worse than a
// visible outage.
var ErrUnauthorized = errors.New("analysis provider unauthorized")

// ResponseTokens caps a single structured extraction.
const ResponseTokens = 1024

// Provider is the interface for any LLM backend able to serve a single
// system+user completion.
type Provider interface {
	Complete(ctx context.Context, req *Request) (*Response, error)
}

// Request is the input to the LLM provider.
type Request struct {
	System    string
	Prompt    string
	MaxTokens int
}

// Response is the provider's completion plus token accounting.
type Response struct {
	Text         string
	InputTokens  int
	OutputTokens int
}

// Analyzer implements triage.Analyzer on top of a Provider.
type Analyzer struct {
	provider Provider
	logger   log.Logger
}

// New creates an analysis adapter.
func New(provider Provider, logger log.Logger) *Analyzer {
	if logger == nil {
		logger = log.Nop()
	}
	return &Analyzer{provider: provider, logger: logger}
}

// Analyze extracts a structured assessment from text. On any failure other
// than an authentication fault - upstream error, timeout, unparseable
// output - it returns the conservative degraded record with a nil error, so
// a flaky model can never silently drop a distress report.
func (a *Analyzer) Analyze(ctx context.Context, text string, rc triage.ReportContext) (*triage.Analysis, error) {
	resp, err := a.provider.Complete(ctx, &Request{
		System:    systemPrompt,
		Prompt:    buildPrompt(text, rc),
		MaxTokens: ResponseTokens,
	})
	if err != nil {
		if errors.Is(err, ErrUnauthorized) {
			return nil, err
		}
		a.logger.Warn(ctx, "analysis call failed, returning degraded result", "error", err)
		return Degraded(), nil
	}

	result, err := parseAnalysis(resp.Text)
	if err != nil {
		a.logger.Warn(ctx, "analysis output unparseable, returning degraded result",
			"error", err, "output_chars", len(resp.Text))
		return Degraded(), nil
	}

	a.logger.Info(ctx, "analysis complete",
		"urgency", result.Urgency,
		"event_type", result.EventType,
		"confidence", result.Confidence,
		"input_tokens", resp.InputTokens,
		"output_tokens", resp.OutputTokens,
	)
	return result, nil
}

// Degraded is the fail-safe assessment: HIGH rather than MEDIUM or LOW, so
// an analysis outage errs toward rescuer attention instead of away from it.
func Degraded() *triage.Analysis {
	return &triage.Analysis{
		Urgency:    triage.UrgencyHigh,
		Summary:    "Automated analysis failed; report requires manual assessment.",
		EventType:  triage.EventTypeUnknown,
		Needs:      []string{"Manual review required"},
		Confidence: 0.0,
		Degraded:   true,
	}
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

func validateShape(a *triage.Analysis) error {
	if !a.Urgency.Valid() {
		return fmt.Errorf("invalid urgency %q", a.Urgency)
	}
	if a.Summary == "" {
		return errors.New("missing summary")
	}
	return nil
}
