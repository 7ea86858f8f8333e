package caseapi

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/linnemanlabs/go-core/log"

	"github.com/reliefnet/beacon/internal/triage"
	"github.com/reliefnet/beacon/internal/triage/memstore"
)

type stubTranscriber struct {
	text string
	err  error
}

func (s *stubTranscriber) Validate(context.Context, string) error { return s.err }
func (s *stubTranscriber) Transcribe(context.Context, string, string) (string, error) {
	return s.text, s.err
}

type stubAnalyzer struct{ analysis triage.Analysis }

func (s *stubAnalyzer) Analyze(context.Context, string, triage.ReportContext) (*triage.Analysis, error) {
	cp := s.analysis
	return &cp, nil
}

func newTestRouter(t *testing.T) (chi.Router, *triage.Service) {
	t.Helper()
	svc := triage.NewService(
		memstore.New(),
		&stubTranscriber{text: "send a boat, the house is flooded"},
		&stubAnalyzer{analysis: triage.Analysis{
			Urgency:    triage.UrgencyHigh,
			Summary:    "Household flooded, occupants need evacuation",
			EventType:  "Flood",
			Confidence: 0.9,
		}},
		nil, nil, nil,
		triage.Options{Concurrency: 1, StageTimeout: time.Second},
	)
	api := New(nil, svc)
	r := chi.NewRouter()
	api.RegisterRoutes(r, nil)
	return r, svc
}

func doJSON(t *testing.T, r chi.Router, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder, v any) {
	t.Helper()
	if err := json.Unmarshal(rec.Body.Bytes(), v); err != nil {
		t.Fatalf("decode response %q: %v", rec.Body.String(), err)
	}
}

func TestNew_NilLogger(t *testing.T) {
	t.Parallel()

	svc := triage.NewService(memstore.New(), &stubTranscriber{}, &stubAnalyzer{}, nil, nil, nil, triage.Options{})
	api := New(nil, svc)
	if api == nil {
		t.Fatal("New(nil, svc) returned nil API")
	}
	if api.logger == nil {
		t.Fatal("New(nil, svc) left logger nil; expected Nop logger")
	}
}

func TestNew_WithLogger(t *testing.T) {
	t.Parallel()

	svc := triage.NewService(memstore.New(), &stubTranscriber{}, &stubAnalyzer{}, nil, nil, nil, triage.Options{})
	api := New(log.Nop(), svc)
	if api == nil || api.logger == nil {
		t.Fatal("New(logger, svc) returned incomplete API")
	}
}

func TestNew_NilService_Panics(t *testing.T) {
	t.Parallel()

	defer func() {
		if r := recover(); r == nil {
			t.Fatal("New(nil, nil) did not panic; expected panic for nil service")
		}
	}()
	New(nil, nil)
}

func TestIntakeText_RoundTrip(t *testing.T) {
	t.Parallel()

	r, _ := newTestRouter(t)

	rec := doJSON(t, r, http.MethodPost, "/api/v1/reports/text",
		`{"session_id":"s-1","location":{"lat":12.9,"lon":77.6},"message":"house is flooded"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("intake = %d, body %s", rec.Code, rec.Body.String())
	}
	var out map[string]string
	decodeBody(t, rec, &out)
	id := out["case_id"]
	if id == "" {
		t.Fatal("no case_id in response")
	}

	rec = doJSON(t, r, http.MethodGet, "/api/v1/cases/"+id, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("get case = %d", rec.Code)
	}
	var c triage.Case
	decodeBody(t, rec, &c)
	if c.Status != triage.StatusProcessed {
		t.Errorf("Status = %s, want processed", c.Status)
	}
	if c.Analysis == nil || c.Analysis.Urgency != triage.UrgencyHigh {
		t.Errorf("Analysis = %+v", c.Analysis)
	}
}

func TestIntakeVoice_Accepted(t *testing.T) {
	t.Parallel()

	r, svc := newTestRouter(t)

	rec := doJSON(t, r, http.MethodPost, "/api/v1/reports/voice",
		`{"session_id":"s-2","location":{"lat":0,"lon":0},"audio_ref":"s-2/report.mp3"}`)
	if rec.Code != http.StatusAccepted {
		t.Fatalf("intake = %d, want 202, body %s", rec.Code, rec.Body.String())
	}
	var out map[string]string
	decodeBody(t, rec, &out)
	if out["case_id"] == "" {
		t.Fatal("no case_id in response")
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := svc.Drain(ctx); err != nil {
		t.Fatalf("Drain: %v", err)
	}
}

func TestIntake_BadInput(t *testing.T) {
	t.Parallel()

	r, _ := newTestRouter(t)

	tests := []struct {
		name string
		path string
		body string
	}{
		{"malformed json", "/api/v1/reports/text", `{bad`},
		{"missing message", "/api/v1/reports/text", `{"session_id":"s"}`},
		{"latitude out of range", "/api/v1/reports/text", `{"session_id":"s","message":"hi","location":{"lat":95,"lon":0}}`},
		{"missing audio ref", "/api/v1/reports/voice", `{"session_id":"s"}`},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			rec := doJSON(t, r, http.MethodPost, tc.path, tc.body)
			if rec.Code != http.StatusBadRequest {
				t.Errorf("status = %d, want 400, body %s", rec.Code, rec.Body.String())
			}
		})
	}
}

func TestGetCase_NotFound(t *testing.T) {
	t.Parallel()

	r, _ := newTestRouter(t)
	rec := doJSON(t, r, http.MethodGet, "/api/v1/cases/01ZZZZZZZZZZZZZZZZZZZZZZZZ", "")
	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", rec.Code)
	}
}

func TestListCases_FilterAndValidation(t *testing.T) {
	t.Parallel()

	r, _ := newTestRouter(t)

	for _, msg := range []string{"flooded basement", "water in the kitchen"} {
		rec := doJSON(t, r, http.MethodPost, "/api/v1/reports/text",
			`{"session_id":"list-sess","message":"`+msg+`"}`)
		if rec.Code != http.StatusOK {
			t.Fatalf("intake = %d", rec.Code)
		}
	}

	rec := doJSON(t, r, http.MethodGet, "/api/v1/cases?status=processed&session_id=list-sess", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("list = %d", rec.Code)
	}
	var out struct {
		Cases []*triage.Case `json:"cases"`
		Count int            `json:"count"`
	}
	decodeBody(t, rec, &out)
	if out.Count != 2 {
		t.Errorf("count = %d, want 2", out.Count)
	}

	for _, query := range []string{"status=bogus", "urgency=EXTREME", "limit=0", "limit=9999", "offset=-1"} {
		rec := doJSON(t, r, http.MethodGet, "/api/v1/cases?"+query, "")
		if rec.Code != http.StatusBadRequest {
			t.Errorf("list?%s = %d, want 400", query, rec.Code)
		}
	}
}

func TestAssignResolveRetry(t *testing.T) {
	t.Parallel()

	r, _ := newTestRouter(t)

	rec := doJSON(t, r, http.MethodPost, "/api/v1/reports/text",
		`{"session_id":"s","message":"bridge washed out"}`)
	var out map[string]string
	decodeBody(t, rec, &out)
	id := out["case_id"]

	rec = doJSON(t, r, http.MethodPost, "/api/v1/cases/"+id+"/assign", `{"assignee_id":"rescuer-3"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("assign = %d, body %s", rec.Code, rec.Body.String())
	}
	var c triage.Case
	decodeBody(t, rec, &c)
	if c.Status != triage.StatusAssigned || c.AssigneeID != "rescuer-3" {
		t.Fatalf("after assign: %+v", c)
	}

	rec = doJSON(t, r, http.MethodPost, "/api/v1/cases/"+id+"/assign", `{}`)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("assign without assignee_id = %d, want 400", rec.Code)
	}

	rec = doJSON(t, r, http.MethodPost, "/api/v1/cases/"+id+"/resolve", `{"notes":"temporary crossing installed"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("resolve = %d", rec.Code)
	}

	// Resolved cases reject further transitions with a conflict.
	rec = doJSON(t, r, http.MethodPost, "/api/v1/cases/"+id+"/assign", `{"assignee_id":"rescuer-4"}`)
	if rec.Code != http.StatusConflict {
		t.Errorf("assign on resolved = %d, want 409", rec.Code)
	}
	rec = doJSON(t, r, http.MethodPost, "/api/v1/cases/"+id+"/retry", "")
	if rec.Code != http.StatusConflict {
		t.Errorf("retry on resolved = %d, want 409", rec.Code)
	}
}

func TestStats(t *testing.T) {
	t.Parallel()

	r, _ := newTestRouter(t)

	rec := doJSON(t, r, http.MethodPost, "/api/v1/reports/text",
		`{"session_id":"s","message":"need supplies dropped off"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("intake = %d", rec.Code)
	}

	rec = doJSON(t, r, http.MethodGet, "/api/v1/stats", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("stats = %d", rec.Code)
	}
	var out struct {
		ByStatus  map[string]int `json:"by_status"`
		ByUrgency map[string]int `json:"by_urgency"`
	}
	decodeBody(t, rec, &out)
	if out.ByStatus[string(triage.StatusProcessed)] != 1 {
		t.Errorf("by_status = %v", out.ByStatus)
	}
}

func TestRescuerAuth_GuardsDashboardOnly(t *testing.T) {
	t.Parallel()

	svc := triage.NewService(memstore.New(), &stubTranscriber{}, &stubAnalyzer{analysis: triage.Analysis{
		Urgency: triage.UrgencyLow, Summary: "ok", EventType: "Other", Confidence: 0.9,
	}}, nil, nil, nil, triage.Options{})
	api := New(nil, svc)
	r := chi.NewRouter()
	deny := func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusUnauthorized)
		})
	}
	api.RegisterRoutes(r, deny)

	// Intake stays open for reporters in the field.
	rec := doJSON(t, r, http.MethodPost, "/api/v1/reports/text",
		`{"session_id":"s","message":"checking in"}`)
	if rec.Code != http.StatusOK {
		t.Errorf("intake behind auth = %d, want 200", rec.Code)
	}

	rec = doJSON(t, r, http.MethodGet, "/api/v1/cases", "")
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("list without auth = %d, want 401", rec.Code)
	}
}
