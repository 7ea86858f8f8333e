package triage

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/linnemanlabs/go-core/log"
	"github.com/oklog/ulid/v2"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/reliefnet/beacon/internal/report"
)

var tracer = otel.Tracer("github.com/reliefnet/beacon/internal/triage")

const (
	// DefaultConcurrency bounds in-flight pipeline runs.
	DefaultConcurrency = 8

	// DefaultStageTimeout bounds each external adapter call.
	DefaultStageTimeout = 60 * time.Second
)

// Options tune the service. Zero values take the defaults above.
type Options struct {
	Concurrency  int
	StageTimeout time.Duration
}

// Service owns the case lifecycle: intake, pipeline dispatch, and rescuer
// actions. One pipeline run mutates one case at a time; rescuer updates only
// apply after the run reaches a terminal state.
type Service struct {
	store       Store
	transcriber Transcriber
	analyzer    Analyzer
	notifier    Notifier
	logger      log.Logger
	metrics     *Metrics

	stageTimeout time.Duration
	sem          chan struct{}
	wg           sync.WaitGroup
}

// NewService creates a triage service. notifier and metrics may be nil.
func NewService(store Store, transcriber Transcriber, analyzer Analyzer, logger log.Logger, metrics *Metrics, notifier Notifier, opts Options) *Service {
	if logger == nil {
		logger = log.Nop()
	}
	if opts.Concurrency <= 0 {
		opts.Concurrency = DefaultConcurrency
	}
	if opts.StageTimeout <= 0 {
		opts.StageTimeout = DefaultStageTimeout
	}
	return &Service{
		store:        store,
		transcriber:  transcriber,
		analyzer:     analyzer,
		notifier:     notifier,
		logger:       logger,
		metrics:      metrics,
		stageTimeout: opts.StageTimeout,
		sem:          make(chan struct{}, opts.Concurrency),
	}
}

// IntakeVoice validates and persists a voice report, then runs the pipeline
// asynchronously. The case ID is returned immediately with the case already
// in processing state; the caller never waits on transcription latency.
func (s *Service) IntakeVoice(ctx context.Context, in *report.Voice) (string, error) {
	if err := in.Validate(); err != nil {
		s.countIntake(report.KindVoice, "rejected")
		return "", err
	}
	// Preflight the artifact so oversized or missing uploads are rejected
	// before a case exists.
	if err := s.transcriber.Validate(ctx, in.AudioRef); err != nil {
		s.countIntake(report.KindVoice, "rejected")
		return "", &report.ValidationError{Field: "audio_ref", Reason: err.Error()}
	}

	c := &Case{
		ID:         ulid.Make().String(),
		SessionID:  in.SessionID,
		Kind:       report.KindVoice,
		Location:   in.Location,
		AudioRef:   in.AudioRef,
		Status:     StatusProcessing,
		ReceivedAt: time.Now().UTC(),
	}
	if err := s.store.Create(ctx, c); err != nil {
		s.countIntake(report.KindVoice, "error")
		return "", fmt.Errorf("create case: %w", err)
	}
	s.countIntake(report.KindVoice, "accepted")

	// Decouple the pipeline from the intake request. WithoutCancel keeps
	// trace context but survives the HTTP request ending.
	s.dispatch(context.WithoutCancel(ctx), c.ID, in.Language)
	return c.ID, nil
}

// IntakeText validates and persists a text report and runs the pipeline
// before returning: with no transcription stage there is no adapter latency
// worth hiding, so the caller gets a fully triaged case ID back.
func (s *Service) IntakeText(ctx context.Context, in *report.Text) (string, error) {
	if err := in.Validate(); err != nil {
		s.countIntake(report.KindText, "rejected")
		return "", err
	}

	c := &Case{
		ID:         ulid.Make().String(),
		SessionID:  in.SessionID,
		Kind:       report.KindText,
		Location:   in.Location,
		Message:    in.Message,
		Transcript: in.Message,
		Status:     StatusProcessing,
		ReceivedAt: time.Now().UTC(),
	}
	if err := s.store.Create(ctx, c); err != nil {
		s.countIntake(report.KindText, "error")
		return "", fmt.Errorf("create case: %w", err)
	}
	s.countIntake(report.KindText, "accepted")

	// Synchronous, but detached from request cancellation: a client
	// disconnect mid-run must not strand the case without a terminal write.
	s.runPipeline(context.WithoutCancel(ctx), c.ID, "")
	return c.ID, nil
}

// Get retrieves a case by ID.
func (s *Service) Get(ctx context.Context, id string) (*Case, bool, error) {
	return s.store.Get(ctx, id)
}

// List returns cases matching the filter, newest first.
func (s *Service) List(ctx context.Context, f Filter) ([]*Case, error) {
	return s.store.List(ctx, f)
}

// Stats returns case counts grouped by lifecycle state and by urgency.
func (s *Service) Stats(ctx context.Context) (byStatus, byUrgency map[string]int, err error) {
	byStatus, err = s.store.CountBy(ctx, CountByStatus)
	if err != nil {
		return nil, nil, err
	}
	byUrgency, err = s.store.CountBy(ctx, CountByUrgency)
	if err != nil {
		return nil, nil, err
	}
	return byStatus, byUrgency, nil
}

// Assign hands a processed case to a rescuer. Idempotent: re-assigning an
// already assigned case updates the assignee.
func (s *Service) Assign(ctx context.Context, id, assigneeID string) (*Case, error) {
	c, ok, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrNotFound
	}
	if c.Status != StatusProcessed && c.Status != StatusAssigned {
		return nil, &TransitionError{From: c.Status, To: StatusAssigned}
	}

	status := StatusAssigned
	p := Patch{Status: &status, AssigneeID: &assigneeID}
	if c.AssignedAt.IsZero() {
		now := time.Now().UTC()
		p.AssignedAt = &now
	}
	updated, _, err := s.store.Update(ctx, id, p)
	return updated, err
}

// Resolve closes a case with free-text notes. Allowed from assigned or,
// for cases resolved without a formal assignment, from processed.
func (s *Service) Resolve(ctx context.Context, id, notes string) (*Case, error) {
	c, ok, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrNotFound
	}
	if c.Status != StatusAssigned && c.Status != StatusProcessed {
		return nil, &TransitionError{From: c.Status, To: StatusResolved}
	}

	status := StatusResolved
	now := time.Now().UTC()
	updated, _, err := s.store.Update(ctx, id, Patch{
		Status:          &status,
		ResolutionNotes: &notes,
		ResolvedAt:      &now,
	})
	return updated, err
}

// Retry re-runs the pipeline for a failed case. This is an explicit operator
// action; the pipeline itself never re-enters processing on its own.
func (s *Service) Retry(ctx context.Context, id string) (*Case, error) {
	c, ok, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrNotFound
	}
	if c.Status != StatusFailed {
		return nil, &TransitionError{From: c.Status, To: StatusProcessing}
	}

	status := StatusProcessing
	updated, _, err := s.store.Update(ctx, id, Patch{Status: &status})
	if err != nil {
		return nil, err
	}
	s.dispatch(context.WithoutCancel(ctx), id, "")
	return updated, nil
}

// Drain blocks until in-flight pipeline runs finish or ctx expires.
func (s *Service) Drain(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Service) dispatch(ctx context.Context, id, language string) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.sem <- struct{}{}
		defer func() { <-s.sem }()
		s.runPipeline(ctx, id, language)
	}()
}

// runPipeline executes the per-case state machine: transcription (voice
// only), analysis, validation. The failure boundary guarantees every entry
// into processing reaches a terminal state even if a stage panics; a single
// case's failure never escapes to other in-flight pipelines.
func (s *Service) runPipeline(ctx context.Context, id, language string) {
	start := time.Now()
	L := s.logger.With("case_id", id)

	ctx, span := tracer.Start(ctx, "pipeline.run", trace.WithAttributes(
		attribute.String("beacon.case_id", id),
	))
	defer span.End()

	terminal := false
	defer func() {
		if r := recover(); r != nil {
			L.Error(ctx, fmt.Errorf("pipeline panic: %v", r), "pipeline panicked")
			if !terminal {
				s.fail(ctx, L, id, start, fmt.Sprintf("internal error: %v", r))
			}
		}
	}()

	c, ok, err := s.store.Get(ctx, id)
	if err != nil || !ok {
		L.Error(ctx, err, "failed to fetch case for pipeline")
		return
	}

	// Stage 1: transcription, voice path only. The transcript is fully
	// persisted before analysis ever starts; analysis operates on text,
	// never on raw audio.
	if c.Kind == report.KindVoice && c.Transcript == "" {
		stageStart := time.Now()
		tctx, cancel := context.WithTimeout(ctx, s.stageTimeout)
		tctx, tspan := tracer.Start(tctx, "pipeline.transcribe", trace.WithAttributes(
			attribute.String("beacon.audio_ref", c.AudioRef),
		))
		text, err := s.transcriber.Transcribe(tctx, c.AudioRef, language)
		endStageSpan(tspan, err)
		cancel()
		s.observeStage("transcribe", stageStart)
		if err != nil {
			terminal = true
			s.fail(ctx, L, id, start, fmt.Sprintf("transcription failed: %v", err))
			return
		}

		if _, _, err := s.store.Update(ctx, id, Patch{Transcript: &text}); err != nil {
			terminal = true
			s.fail(ctx, L, id, start, fmt.Sprintf("persist transcript: %v", err))
			return
		}
		c.Transcript = text
		L.Info(ctx, "transcript persisted", "chars", len(text))
	}

	// Stage 2: structured analysis. The adapter degrades internally on
	// transient faults, so an error here is an upstream auth fault and
	// terminal for this case.
	stageStart := time.Now()
	actx, cancel := context.WithTimeout(ctx, s.stageTimeout)
	actx, aspan := tracer.Start(actx, "pipeline.analyze")
	analysis, err := s.analyzer.Analyze(actx, c.Transcript, ReportContext{
		ReceivedAt: c.ReceivedAt,
		Location:   c.Location,
	})
	endStageSpan(aspan, err)
	cancel()
	s.observeStage("analyze", stageStart)
	if err != nil {
		terminal = true
		s.fail(ctx, L, id, start, fmt.Sprintf("analysis failed: %v", err))
		return
	}

	// Stage 3: validation. Synchronous and pure. The adjusted urgency
	// becomes the urgency of record; a case is never queryable in
	// processed state with a raw, unvalidated urgency.
	rawUrgency := analysis.Urgency
	vr := Validate(analysis, c.Transcript)
	analysis.Urgency = vr.AdjustedUrgency
	span.SetAttributes(
		attribute.String("beacon.urgency", string(analysis.Urgency)),
		attribute.Bool("beacon.manual_review", vr.ManualReview),
	)

	terminal = true
	status := StatusProcessed
	now := time.Now().UTC()
	updated, _, err := s.store.Update(ctx, id, Patch{
		Status:      &status,
		Analysis:    analysis,
		Validation:  vr.Flags(),
		ProcessedAt: &now,
	})
	if err != nil {
		L.Error(ctx, err, "failed to persist processed case")
		return
	}

	if s.metrics != nil {
		s.metrics.PipelinesTotal.WithLabelValues(string(StatusProcessed)).Inc()
		s.metrics.PipelineDuration.WithLabelValues(string(StatusProcessed)).Observe(time.Since(start).Seconds())
		s.metrics.ProcessedUrgency.WithLabelValues(string(analysis.Urgency)).Inc()
		if vr.AdjustedUrgency != rawUrgency {
			s.metrics.KeywordOverrides.Inc()
		}
		if vr.ManualReview {
			s.metrics.ManualReviews.Inc()
		}
		if analysis.Degraded {
			s.metrics.DegradedAnalyses.Inc()
		}
	}

	L.Info(ctx, "case processed",
		"urgency", analysis.Urgency,
		"manual_review", vr.ManualReview,
		"degraded", analysis.Degraded,
		"duration", time.Since(start).Seconds(),
	)

	s.notify(ctx, L, updated)
}

// fail performs the guaranteed terminal write for a broken pipeline run.
func (s *Service) fail(ctx context.Context, L log.Logger, id string, start time.Time, msg string) {
	status := StatusFailed
	updated, _, err := s.store.Update(ctx, id, Patch{Status: &status, AppendError: &msg})
	if err != nil {
		L.Error(ctx, err, "failed to persist failed case", "cause", msg)
		return
	}
	if s.metrics != nil {
		s.metrics.PipelinesTotal.WithLabelValues(string(StatusFailed)).Inc()
		s.metrics.PipelineDuration.WithLabelValues(string(StatusFailed)).Observe(time.Since(start).Seconds())
	}
	L.Warn(ctx, "case failed", "cause", msg)
	s.notify(ctx, L, updated)
}

// notify pushes failed cases and processed cases that demand attention
// (critical urgency or manual review) to the configured notifier.
func (s *Service) notify(ctx context.Context, L log.Logger, c *Case) {
	if s.notifier == nil || c == nil {
		return
	}
	switch {
	case c.Status == StatusFailed:
	case c.Status == StatusProcessed && c.Analysis != nil && c.Analysis.Urgency == UrgencyCritical:
	case c.Status == StatusProcessed && c.Validation != nil && c.Validation.ManualReview:
	default:
		return
	}
	if err := s.notifier.Send(ctx, c); err != nil {
		L.Warn(ctx, "notification failed", "error", err)
	}
}

func endStageSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}

func (s *Service) countIntake(kind report.Kind, result string) {
	if s.metrics != nil {
		s.metrics.IntakesTotal.WithLabelValues(string(kind), result).Inc()
	}
}
