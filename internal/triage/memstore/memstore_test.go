package memstore

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/reliefnet/beacon/internal/report"
	"github.com/reliefnet/beacon/internal/triage"
)

func newCase(id string, status triage.Status) *triage.Case {
	return &triage.Case{
		ID:         id,
		SessionID:  "s-1",
		Kind:       report.KindText,
		Status:     status,
		ReceivedAt: time.Now().UTC(),
	}
}

func TestStore_CreateAndGet(t *testing.T) {
	t.Parallel()

	s := New()
	ctx := context.Background()
	if err := s.Create(ctx, newCase("c-1", triage.StatusProcessing)); err != nil {
		t.Fatalf("Create: %v", err)
	}

	got, ok, err := s.Get(ctx, "c-1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if !ok {
		t.Fatal("expected case to be found")
	}
	if got.ID != "c-1" {
		t.Errorf("ID = %q, want %q", got.ID, "c-1")
	}
	if got.Status != triage.StatusProcessing {
		t.Errorf("Status = %q, want %q", got.Status, triage.StatusProcessing)
	}
}

func TestStore_CreateDuplicate(t *testing.T) {
	t.Parallel()

	s := New()
	ctx := context.Background()
	if err := s.Create(ctx, newCase("c-1", triage.StatusProcessing)); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := s.Create(ctx, newCase("c-1", triage.StatusProcessing)); err == nil {
		t.Error("expected error creating duplicate ID")
	}
}

func TestStore_GetMissing(t *testing.T) {
	t.Parallel()

	s := New()
	_, ok, err := s.Get(context.Background(), "nonexistent")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if ok {
		t.Fatal("expected ok=false for missing ID")
	}
}

func TestStore_GetReturnsCopy(t *testing.T) {
	t.Parallel()

	s := New()
	ctx := context.Background()
	c := newCase("c-1", triage.StatusProcessed)
	c.Analysis = &triage.Analysis{Urgency: triage.UrgencyHigh, Needs: []string{"Water"}}
	if err := s.Create(ctx, c); err != nil {
		t.Fatalf("Create: %v", err)
	}

	got, _, _ := s.Get(ctx, "c-1")
	got.Analysis.Urgency = triage.UrgencyLow
	got.Analysis.Needs[0] = "mutated"

	again, _, _ := s.Get(ctx, "c-1")
	if again.Analysis.Urgency != triage.UrgencyHigh {
		t.Errorf("Urgency = %q, want %q (store leaked mutable state)", again.Analysis.Urgency, triage.UrgencyHigh)
	}
	if again.Analysis.Needs[0] != "Water" {
		t.Errorf("Needs[0] = %q, want %q", again.Analysis.Needs[0], "Water")
	}
}

func TestStore_UpdatePartial(t *testing.T) {
	t.Parallel()

	s := New()
	ctx := context.Background()
	if err := s.Create(ctx, newCase("c-1", triage.StatusProcessing)); err != nil {
		t.Fatalf("Create: %v", err)
	}

	transcript := "trapped under rubble"
	got, ok, err := s.Update(ctx, "c-1", triage.Patch{Transcript: &transcript})
	if err != nil {
		t.Fatalf("Update: %v", err)
	}
	if !ok {
		t.Fatal("expected ok=true")
	}
	if got.Transcript != transcript {
		t.Errorf("Transcript = %q, want %q", got.Transcript, transcript)
	}
	if got.Status != triage.StatusProcessing {
		t.Errorf("Status = %q, want untouched %q", got.Status, triage.StatusProcessing)
	}

	status := triage.StatusFailed
	msg := "transcription failed: boom"
	got, _, err = s.Update(ctx, "c-1", triage.Patch{Status: &status, AppendError: &msg})
	if err != nil {
		t.Fatalf("Update: %v", err)
	}
	if got.Status != triage.StatusFailed {
		t.Errorf("Status = %q, want %q", got.Status, triage.StatusFailed)
	}
	if len(got.ProcessingErrors) != 1 || got.ProcessingErrors[0] != msg {
		t.Errorf("ProcessingErrors = %v, want [%q]", got.ProcessingErrors, msg)
	}
	if got.Transcript != transcript {
		t.Errorf("Transcript = %q, want preserved %q", got.Transcript, transcript)
	}
}

func TestStore_UpdateMissing(t *testing.T) {
	t.Parallel()

	s := New()
	status := triage.StatusFailed
	_, ok, err := s.Update(context.Background(), "nope", triage.Patch{Status: &status})
	if err != nil {
		t.Fatalf("Update: %v", err)
	}
	if ok {
		t.Fatal("expected ok=false for missing ID")
	}
}

func TestStore_ListFilterAndOrder(t *testing.T) {
	t.Parallel()

	s := New()
	ctx := context.Background()
	base := time.Now().UTC()
	for i := 0; i < 5; i++ {
		c := newCase(fmt.Sprintf("c-%d", i), triage.StatusProcessed)
		c.ReceivedAt = base.Add(time.Duration(i) * time.Minute)
		if i%2 == 0 {
			c.Status = triage.StatusFailed
		}
		if err := s.Create(ctx, c); err != nil {
			t.Fatalf("Create: %v", err)
		}
	}

	failed, err := s.List(ctx, triage.Filter{Status: triage.StatusFailed})
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(failed) != 3 {
		t.Fatalf("len(failed) = %d, want 3", len(failed))
	}
	for i := 1; i < len(failed); i++ {
		if failed[i].ReceivedAt.After(failed[i-1].ReceivedAt) {
			t.Error("expected newest-first ordering")
		}
	}

	page, err := s.List(ctx, triage.Filter{Limit: 2, Offset: 1})
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(page) != 2 {
		t.Fatalf("len(page) = %d, want 2", len(page))
	}
	if page[0].ID != "c-3" {
		t.Errorf("page[0].ID = %q, want c-3", page[0].ID)
	}
}

func TestStore_ListByUrgency(t *testing.T) {
	t.Parallel()

	s := New()
	ctx := context.Background()
	critical := newCase("c-crit", triage.StatusProcessed)
	critical.Analysis = &triage.Analysis{Urgency: triage.UrgencyCritical}
	low := newCase("c-low", triage.StatusProcessed)
	low.Analysis = &triage.Analysis{Urgency: triage.UrgencyLow}
	pending := newCase("c-none", triage.StatusProcessing)
	for _, c := range []*triage.Case{critical, low, pending} {
		if err := s.Create(ctx, c); err != nil {
			t.Fatalf("Create: %v", err)
		}
	}

	got, err := s.List(ctx, triage.Filter{Urgency: triage.UrgencyCritical})
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(got) != 1 || got[0].ID != "c-crit" {
		t.Errorf("List(urgency=CRITICAL) = %v, want [c-crit]", got)
	}
}

func TestStore_CountBy(t *testing.T) {
	t.Parallel()

	s := New()
	ctx := context.Background()
	a := newCase("c-1", triage.StatusProcessed)
	a.Analysis = &triage.Analysis{Urgency: triage.UrgencyCritical}
	b := newCase("c-2", triage.StatusProcessed)
	b.Analysis = &triage.Analysis{Urgency: triage.UrgencyCritical}
	c := newCase("c-3", triage.StatusFailed)
	for _, cs := range []*triage.Case{a, b, c} {
		if err := s.Create(ctx, cs); err != nil {
			t.Fatalf("Create: %v", err)
		}
	}

	byStatus, err := s.CountBy(ctx, triage.CountByStatus)
	if err != nil {
		t.Fatalf("CountBy(status): %v", err)
	}
	if byStatus[string(triage.StatusProcessed)] != 2 || byStatus[string(triage.StatusFailed)] != 1 {
		t.Errorf("byStatus = %v", byStatus)
	}

	byUrgency, err := s.CountBy(ctx, triage.CountByUrgency)
	if err != nil {
		t.Fatalf("CountBy(urgency): %v", err)
	}
	if byUrgency[string(triage.UrgencyCritical)] != 2 {
		t.Errorf("byUrgency = %v", byUrgency)
	}

	if _, err := s.CountBy(ctx, "bogus"); err == nil {
		t.Error("expected error for unknown count field")
	}
}

func TestStore_ConcurrentAccess(t *testing.T) {
	t.Parallel()

	s := New()
	ctx := context.Background()
	if err := s.Create(ctx, newCase("c-1", triage.StatusProcessing)); err != nil {
		t.Fatalf("Create: %v", err)
	}

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			msg := fmt.Sprintf("err-%d", i)
			if _, _, err := s.Update(ctx, "c-1", triage.Patch{AppendError: &msg}); err != nil {
				t.Errorf("Update: %v", err)
			}
			if _, _, err := s.Get(ctx, "c-1"); err != nil {
				t.Errorf("Get: %v", err)
			}
		}(i)
	}
	wg.Wait()

	got, _, _ := s.Get(ctx, "c-1")
	if len(got.ProcessingErrors) != 20 {
		t.Errorf("len(ProcessingErrors) = %d, want 20", len(got.ProcessingErrors))
	}
}
