// Package caseapi exposes the HTTP surface: report intake for the mobile
// client and case operations for the rescuer dashboard.
package caseapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/linnemanlabs/go-core/log"
	"github.com/linnemanlabs/go-core/xerrors"

	"github.com/reliefnet/beacon/internal/report"
	"github.com/reliefnet/beacon/internal/triage"
)

// CaseService defines the business operations caseapi needs.
type CaseService interface {
	IntakeVoice(ctx context.Context, in *report.Voice) (string, error)
	IntakeText(ctx context.Context, in *report.Text) (string, error)
	Get(ctx context.Context, id string) (*triage.Case, bool, error)
	List(ctx context.Context, f triage.Filter) ([]*triage.Case, error)
	Stats(ctx context.Context) (byStatus, byUrgency map[string]int, err error)
	Assign(ctx context.Context, id, assigneeID string) (*triage.Case, error)
	Resolve(ctx context.Context, id, notes string) (*triage.Case, error)
	Retry(ctx context.Context, id string) (*triage.Case, error)
}

// API holds dependencies for HTTP handlers.
type API struct {
	logger log.Logger
	svc    CaseService
}

// New creates a new API handler.
func New(logger log.Logger, svc CaseService) *API {
	if logger == nil {
		logger = log.Nop()
	}
	if svc == nil {
		panic(xerrors.New("case service is required"))
	}
	return &API{
		logger: logger,
		svc:    svc,
	}
}

// RegisterRoutes attaches API endpoints to the router. rescuerAuth guards
// the dashboard operations; pass nil to leave them open (dev mode).
func (a *API) RegisterRoutes(r chi.Router, rescuerAuth func(http.Handler) http.Handler) {
	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/reports/voice", a.handleIntakeVoice)
		r.Post("/reports/text", a.handleIntakeText)

		r.Group(func(r chi.Router) {
			if rescuerAuth != nil {
				r.Use(rescuerAuth)
			}
			r.Get("/cases", a.handleListCases)
			r.Get("/cases/{id}", a.handleGetCase)
			r.Post("/cases/{id}/assign", a.handleAssign)
			r.Post("/cases/{id}/resolve", a.handleResolve)
			r.Post("/cases/{id}/retry", a.handleRetry)
			r.Get("/stats", a.handleStats)
		})
	})
}

func (a *API) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError maps domain errors onto HTTP statuses without leaking
// internals for unexpected failures.
func (a *API) writeError(w http.ResponseWriter, r *http.Request, err error) {
	var verr *report.ValidationError
	var terr *triage.TransitionError
	switch {
	case errors.As(err, &verr):
		a.writeJSON(w, http.StatusBadRequest, map[string]string{"error": verr.Error()})
	case errors.As(err, &terr):
		a.writeJSON(w, http.StatusConflict, map[string]string{"error": terr.Error()})
	case errors.Is(err, triage.ErrNotFound):
		a.writeJSON(w, http.StatusNotFound, map[string]string{"error": "case not found"})
	default:
		a.logger.Error(r.Context(), err, "request failed", "path", r.URL.Path)
		a.writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal error"})
	}
}
