package caseapi

import (
	"encoding/json"
	"net/http"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/reliefnet/beacon/internal/report"
)

func (a *API) handleIntakeVoice(w http.ResponseWriter, r *http.Request) {
	var in report.Voice
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		a.writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid payload"})
		return
	}

	span := trace.SpanFromContext(r.Context())
	span.SetAttributes(attribute.String("beacon.session_id", in.SessionID))

	id, err := a.svc.IntakeVoice(r.Context(), &in)
	if err != nil {
		a.writeError(w, r, err)
		return
	}

	span.SetAttributes(attribute.String("beacon.case_id", id))
	a.logger.Info(r.Context(), "voice report accepted", "case_id", id, "session_id", in.SessionID)

	// 202: the pipeline is still running when this response goes out.
	a.writeJSON(w, http.StatusAccepted, map[string]string{"case_id": id})
}

func (a *API) handleIntakeText(w http.ResponseWriter, r *http.Request) {
	var in report.Text
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		a.writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid payload"})
		return
	}

	span := trace.SpanFromContext(r.Context())
	span.SetAttributes(attribute.String("beacon.session_id", in.SessionID))

	id, err := a.svc.IntakeText(r.Context(), &in)
	if err != nil {
		a.writeError(w, r, err)
		return
	}

	span.SetAttributes(attribute.String("beacon.case_id", id))
	a.logger.Info(r.Context(), "text report processed", "case_id", id, "session_id", in.SessionID)

	a.writeJSON(w, http.StatusOK, map[string]string{"case_id": id})
}
