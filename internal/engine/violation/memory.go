package violation

import (
	"context"
	"sort"
	"sync"

	"github.com/google/uuid"

	"github.com/complyscan/complyscan/pkg/errors"
)

// MemoryStore is an in-memory violation store used in tests and library
// embedding. The open-pair index gives InsertIfAbsent its atomic
// insert-if-absent semantics under one mutex.
type MemoryStore struct {
	mu        sync.Mutex
	byID      map[uuid.UUID]*Violation
	openPairs map[pairKey]uuid.UUID
	order     []uuid.UUID
}

type pairKey struct {
	ruleID   string
	recordID string
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		byID:      make(map[uuid.UUID]*Violation),
		openPairs: make(map[pairKey]uuid.UUID),
	}
}

func (s *MemoryStore) InsertIfAbsent(ctx context.Context, v *Violation) (bool, *Violation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := pairKey{ruleID: v.RuleID, recordID: v.RecordID}
	if id, ok := s.openPairs[key]; ok {
		existing := s.byID[id]
		existing.LastSeen = v.LastSeen
		existing.ReconfirmCount++
		return false, copyOf(existing), nil
	}

	stored := copyOf(v)
	s.byID[stored.ID] = stored
	s.openPairs[key] = stored.ID
	s.order = append(s.order, stored.ID)
	return true, copyOf(stored), nil
}

func (s *MemoryStore) Get(ctx context.Context, id uuid.UUID) (*Violation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	v, ok := s.byID[id]
	if !ok {
		return nil, errors.NotFound("violation %s not found", id)
	}
	return copyOf(v), nil
}

func (s *MemoryStore) Update(ctx context.Context, v *Violation) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored, ok := s.byID[v.ID]
	if !ok {
		return errors.NotFound("violation %s not found", v.ID)
	}

	key := pairKey{ruleID: stored.RuleID, recordID: stored.RecordID}
	*stored = *copyOf(v)
	if stored.Status.Open() {
		s.openPairs[key] = stored.ID
	} else {
		delete(s.openPairs, key)
	}
	return nil
}

func (s *MemoryStore) List(ctx context.Context, filter Filter) ([]*Violation, int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var all []*Violation
	for _, id := range s.order {
		v := s.byID[id]
		if filter.Severity != "" && v.Severity != filter.Severity {
			continue
		}
		if filter.Status != "" && v.Status != filter.Status {
			continue
		}
		if filter.Table != "" && v.Table != filter.Table {
			continue
		}
		if filter.RuleID != "" && v.RuleID != filter.RuleID {
			continue
		}
		all = append(all, copyOf(v))
	}

	// Highest risk first, matching the reporting order downstream.
	sort.SliceStable(all, func(i, j int) bool {
		return all[i].RiskScore > all[j].RiskScore
	})

	total := len(all)
	if filter.Limit > 0 && len(all) > filter.Limit {
		all = all[:filter.Limit]
	}
	return all, total, nil
}

func copyOf(v *Violation) *Violation {
	out := *v
	out.History = append([]Transition(nil), v.History...)
	out.Explanation.DataPoints = append([]string(nil), v.Explanation.DataPoints...)
	out.Explanation.Evidence = append([]string(nil), v.Explanation.Evidence...)
	out.Explanation.Remediation = append([]string(nil), v.Explanation.Remediation...)
	return &out
}
