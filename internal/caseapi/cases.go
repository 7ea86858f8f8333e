package caseapi

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/reliefnet/beacon/internal/triage"
)

const maxListLimit = 200

func (a *API) handleGetCase(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	span := trace.SpanFromContext(r.Context())
	span.SetAttributes(attribute.String("beacon.case_id", id))

	c, ok, err := a.svc.Get(r.Context(), id)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	if !ok {
		a.writeError(w, r, triage.ErrNotFound)
		return
	}

	span.SetAttributes(attribute.String("beacon.case_status", string(c.Status)))
	a.writeJSON(w, http.StatusOK, c)
}

func (a *API) handleListCases(w http.ResponseWriter, r *http.Request) {
	f, err := parseFilter(r)
	if err != nil {
		a.writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}

	cases, err := a.svc.List(r.Context(), f)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	if cases == nil {
		cases = []*triage.Case{}
	}
	a.writeJSON(w, http.StatusOK, map[string]any{"cases": cases, "count": len(cases)})
}

func (a *API) handleAssign(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var body struct {
		AssigneeID string `json:"assignee_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.AssigneeID == "" {
		a.writeJSON(w, http.StatusBadRequest, map[string]string{"error": "assignee_id is required"})
		return
	}

	c, err := a.svc.Assign(r.Context(), id, body.AssigneeID)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	a.logger.Info(r.Context(), "case assigned", "case_id", id, "assignee_id", body.AssigneeID)
	a.writeJSON(w, http.StatusOK, c)
}

func (a *API) handleResolve(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var body struct {
		Notes string `json:"notes"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		a.writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid payload"})
		return
	}

	c, err := a.svc.Resolve(r.Context(), id, body.Notes)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	a.logger.Info(r.Context(), "case resolved", "case_id", id)
	a.writeJSON(w, http.StatusOK, c)
}

func (a *API) handleRetry(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	c, err := a.svc.Retry(r.Context(), id)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	a.logger.Info(r.Context(), "case retry requested", "case_id", id)
	a.writeJSON(w, http.StatusAccepted, c)
}

func (a *API) handleStats(w http.ResponseWriter, r *http.Request) {
	byStatus, byUrgency, err := a.svc.Stats(r.Context())
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	a.writeJSON(w, http.StatusOK, map[string]any{
		"by_status":  byStatus,
		"by_urgency": byUrgency,
	})
}

func parseFilter(r *http.Request) (triage.Filter, error) {
	q := r.URL.Query()
	f := triage.Filter{
		Status:    triage.Status(q.Get("status")),
		Urgency:   triage.Urgency(q.Get("urgency")),
		SessionID: q.Get("session_id"),
		Limit:     50,
	}
	if f.Status != "" && !f.Status.Valid() {
		return f, &queryError{"unknown status " + strconv.Quote(string(f.Status))}
	}
	if f.Urgency != "" && !f.Urgency.Valid() {
		return f, &queryError{"unknown urgency " + strconv.Quote(string(f.Urgency))}
	}
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 || n > maxListLimit {
			return f, &queryError{"limit must be an integer in [1," + strconv.Itoa(maxListLimit) + "]"}
		}
		f.Limit = n
	}
	if v := q.Get("offset"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return f, &queryError{"offset must be a non-negative integer"}
		}
		f.Offset = n
	}
	return f, nil
}

type queryError struct{ msg string }

func (e *queryError) Error() string { return e.msg }
