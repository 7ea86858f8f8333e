// Package memstore provides an in-memory implementation of triage.Store.
// Suitable for dev and testing; cases do not survive a restart.
package memstore

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/reliefnet/beacon/internal/triage"
)

// Store holds cases in memory.
type Store struct {
	mu    sync.RWMutex
	cases map[string]*triage.Case
}

// New initializes a new in-memory Store.
func New() *Store {
	return &Store{cases: make(map[string]*triage.Case)}
}

// Create stores a copy of the case. Fails if the ID already exists.
func (s *Store) Create(_ context.Context, c *triage.Case) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.cases[c.ID]; ok {
		return fmt.Errorf("case %s already exists", c.ID)
	}
	s.cases[c.ID] = copyCase(c)
	return nil
}

// Get retrieves a case by ID. Returns a copy.
func (s *Store) Get(_ context.Context, id string) (*triage.Case, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.cases[id]
	if !ok {
		return nil, false, nil
	}
	return copyCase(c), true, nil
}

// Update applies a partial update and returns a copy of the updated case.
func (s *Store) Update(_ context.Context, id string, p triage.Patch) (*triage.Case, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.cases[id]
	if !ok {
		return nil, false, nil
	}

	if p.Status != nil {
		c.Status = *p.Status
	}
	if p.Transcript != nil {
		c.Transcript = *p.Transcript
	}
	if p.Analysis != nil {
		cp := *p.Analysis
		c.Analysis = &cp
	}
	if p.Validation != nil {
		cp := *p.Validation
		c.Validation = &cp
	}
	if p.AppendError != nil {
		c.ProcessingErrors = append(c.ProcessingErrors, *p.AppendError)
	}
	if p.ProcessedAt != nil {
		c.ProcessedAt = *p.ProcessedAt
	}
	if p.AssigneeID != nil {
		c.AssigneeID = *p.AssigneeID
	}
	if p.AssignedAt != nil {
		c.AssignedAt = *p.AssignedAt
	}
	if p.ResolutionNotes != nil {
		c.ResolutionNotes = *p.ResolutionNotes
	}
	if p.ResolvedAt != nil {
		c.ResolvedAt = *p.ResolvedAt
	}

	return copyCase(c), true, nil
}

// List returns copies of cases matching the filter, newest first.
func (s *Store) List(_ context.Context, f triage.Filter) ([]*triage.Case, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*triage.Case
	for _, c := range s.cases {
		if f.Status != "" && c.Status != f.Status {
			continue
		}
		if f.Urgency != "" && (c.Analysis == nil || c.Analysis.Urgency != f.Urgency) {
			continue
		}
		if f.SessionID != "" && c.SessionID != f.SessionID {
			continue
		}
		out = append(out, copyCase(c))
	}

	sort.Slice(out, func(i, j int) bool {
		return out[i].ReceivedAt.After(out[j].ReceivedAt)
	})

	if f.Offset > 0 {
		if f.Offset >= len(out) {
			return nil, nil
		}
		out = out[f.Offset:]
	}
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}

// CountBy aggregates case counts by status or by validated urgency.
func (s *Store) CountBy(_ context.Context, field string) (map[string]int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	counts := make(map[string]int)
	switch field {
	case triage.CountByStatus:
		for _, c := range s.cases {
			counts[string(c.Status)]++
		}
	case triage.CountByUrgency:
		for _, c := range s.cases {
			if c.Analysis != nil {
				counts[string(c.Analysis.Urgency)]++
			}
		}
	default:
		return nil, fmt.Errorf("unknown count field %q", field)
	}
	return counts, nil
}

// copyCase deep-copies the case so callers never share mutable state with
// the store.
func copyCase(c *triage.Case) *triage.Case {
	cp := *c
	if c.Analysis != nil {
		a := *c.Analysis
		a.RiskFactors = append([]string(nil), c.Analysis.RiskFactors...)
		a.Needs = append([]string(nil), c.Analysis.Needs...)
		cp.Analysis = &a
	}
	if c.Validation != nil {
		v := *c.Validation
		cp.Validation = &v
	}
	cp.ProcessingErrors = append([]string(nil), c.ProcessingErrors...)
	return &cp
}
