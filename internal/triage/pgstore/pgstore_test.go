package pgstore_test

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/reliefnet/beacon/internal/postgres"
	"github.com/reliefnet/beacon/internal/report"
	"github.com/reliefnet/beacon/internal/triage"
	"github.com/reliefnet/beacon/internal/triage/pgstore"
)

func openStore(t *testing.T) *pgstore.Store {
	t.Helper()
	dsn := os.Getenv("BEACON_TEST_DATABASE_URL")
	if dsn == "" {
		t.Skip("BEACON_TEST_DATABASE_URL not set, skipping integration test")
	}
	ctx := context.Background()
	pool, err := postgres.NewPool(ctx, dsn)
	if err != nil {
		t.Fatalf("postgres.NewPool: %v", err)
	}
	s, err := pgstore.New(ctx, pool)
	if err != nil {
		t.Fatalf("pgstore.New: %v", err)
	}
	t.Cleanup(s.Close)
	return s
}

func newCase(id string) *triage.Case {
	now := time.Now().Truncate(time.Microsecond).UTC()
	return &triage.Case{
		ID:         id,
		SessionID:  "sess-" + id,
		Kind:       report.KindVoice,
		Location:   report.Location{Lat: 12.97, Lon: 77.59, AccuracyM: 8.5},
		AudioRef:   "sess/" + id + ".mp3",
		Status:     triage.StatusProcessing,
		ReceivedAt: now,
	}
}

func TestCreateAndGet(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()

	c := newCase("test-create-001")
	if err := s.Create(ctx, c); err != nil {
		t.Fatalf("Create: %v", err)
	}

	got, ok, err := s.Get(ctx, c.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if !ok {
		t.Fatal("Get returned ok=false, want true")
	}
	if got.SessionID != c.SessionID {
		t.Errorf("SessionID = %q, want %q", got.SessionID, c.SessionID)
	}
	if got.Kind != report.KindVoice {
		t.Errorf("Kind = %q, want voice", got.Kind)
	}
	if got.Status != triage.StatusProcessing {
		t.Errorf("Status = %q, want processing", got.Status)
	}
	if got.Location.Lat != c.Location.Lat || got.Location.Lon != c.Location.Lon {
		t.Errorf("Location = %+v, want %+v", got.Location, c.Location)
	}
	if !got.ReceivedAt.Equal(c.ReceivedAt) {
		t.Errorf("ReceivedAt = %v, want %v", got.ReceivedAt, c.ReceivedAt)
	}
	if got.Analysis != nil {
		t.Errorf("Analysis = %+v, want nil", got.Analysis)
	}
}

func TestGetMissing(t *testing.T) {
	s := openStore(t)

	_, ok, err := s.Get(context.Background(), "does-not-exist")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if ok {
		t.Error("Get returned ok=true for missing case")
	}
}

func TestUpdate(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()

	c := newCase("test-update-001")
	if err := s.Create(ctx, c); err != nil {
		t.Fatalf("Create: %v", err)
	}

	transcript := "trapped under rubble, send help"
	status := triage.StatusProcessed
	processedAt := time.Now().Truncate(time.Microsecond).UTC()
	analysis := &triage.Analysis{
		Urgency:    triage.UrgencyCritical,
		Summary:    "Person trapped under structural collapse",
		EventType:  "Earthquake",
		Confidence: 0.87,
		Needs:      []string{"Search and rescue", "Medical"},
	}
	validation := &triage.Validation{HasKeywords: true, MeetsThreshold: true}

	got, ok, err := s.Update(ctx, c.ID, triage.Patch{
		Status:      &status,
		Transcript:  &transcript,
		Analysis:    analysis,
		Validation:  validation,
		ProcessedAt: &processedAt,
	})
	if err != nil {
		t.Fatalf("Update: %v", err)
	}
	if !ok {
		t.Fatal("Update returned ok=false, want true")
	}
	if got.Status != triage.StatusProcessed {
		t.Errorf("Status = %q, want processed", got.Status)
	}
	if got.Transcript != transcript {
		t.Errorf("Transcript = %q", got.Transcript)
	}
	if got.Analysis == nil || got.Analysis.Urgency != triage.UrgencyCritical {
		t.Errorf("Analysis = %+v, want CRITICAL", got.Analysis)
	}
	if got.Validation == nil || !got.Validation.HasKeywords {
		t.Errorf("Validation = %+v, want HasKeywords", got.Validation)
	}
	if !got.ProcessedAt.Equal(processedAt) {
		t.Errorf("ProcessedAt = %v, want %v", got.ProcessedAt, processedAt)
	}
	// Untouched fields survive a partial update.
	if got.AudioRef != c.AudioRef {
		t.Errorf("AudioRef = %q, want %q", got.AudioRef, c.AudioRef)
	}
}

func TestUpdateAppendsErrors(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()

	c := newCase("test-errors-001")
	if err := s.Create(ctx, c); err != nil {
		t.Fatalf("Create: %v", err)
	}

	first := "transcription failed: service_error"
	second := "analysis failed: service_error"
	for _, msg := range []string{first, second} {
		m := msg
		if _, _, err := s.Update(ctx, c.ID, triage.Patch{AppendError: &m}); err != nil {
			t.Fatalf("Update: %v", err)
		}
	}

	got, _, err := s.Get(ctx, c.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if len(got.ProcessingErrors) != 2 || got.ProcessingErrors[0] != first || got.ProcessingErrors[1] != second {
		t.Errorf("ProcessingErrors = %v", got.ProcessingErrors)
	}
}

func TestUpdateMissing(t *testing.T) {
	s := openStore(t)

	status := triage.StatusFailed
	_, ok, err := s.Update(context.Background(), "does-not-exist", triage.Patch{Status: &status})
	if err != nil {
		t.Fatalf("Update: %v", err)
	}
	if ok {
		t.Error("Update returned ok=true for missing case")
	}
}

func TestListAndCountBy(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()

	base := time.Now().Truncate(time.Microsecond).UTC()
	for i, id := range []string{"test-list-001", "test-list-002", "test-list-003"} {
		c := newCase(id)
		c.SessionID = "test-list-session"
		c.ReceivedAt = base.Add(time.Duration(i) * time.Second)
		if err := s.Create(ctx, c); err != nil {
			t.Fatalf("Create %s: %v", id, err)
		}
	}

	got, err := s.List(ctx, triage.Filter{SessionID: "test-list-session"})
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("List returned %d cases, want 3", len(got))
	}
	if got[0].ID != "test-list-003" {
		t.Errorf("first case = %s, want newest (test-list-003)", got[0].ID)
	}

	page, err := s.List(ctx, triage.Filter{SessionID: "test-list-session", Limit: 1, Offset: 1})
	if err != nil {
		t.Fatalf("List paged: %v", err)
	}
	if len(page) != 1 || page[0].ID != "test-list-002" {
		t.Errorf("paged list = %v", page)
	}

	counts, err := s.CountBy(ctx, triage.CountByStatus)
	if err != nil {
		t.Fatalf("CountBy: %v", err)
	}
	if counts[string(triage.StatusProcessing)] < 3 {
		t.Errorf("processing count = %d, want >= 3", counts[string(triage.StatusProcessing)])
	}
}
