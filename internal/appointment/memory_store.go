package appointment

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryStore is a process-local Store for tests and single-node runs.
// Creation is serialized per owner; reads share a RWMutex.
type MemoryStore struct {
	clock  Clock
	owners *keyedMutex

	mu      sync.RWMutex
	records map[uuid.UUID]*Appointment
	order   []uuid.UUID
	events  []EventLog
}

func NewMemoryStore(clock Clock) *MemoryStore {
	if clock == nil {
		clock = SystemClock
	}
	return &MemoryStore{
		clock:   clock,
		owners:  newKeyedMutex(),
		records: make(map[uuid.UUID]*Appointment),
	}
}

func (s *MemoryStore) CreateIfNoConflict(ctx context.Context, d Draft, window time.Duration) (*Appointment, error) {
	unlock, err := s.owners.lock(ctx, d.OwnerID)
	if err != nil {
		return nil, fmt.Errorf("%w: acquire owner lock: %v", ErrStorage, err)
	}
	defer unlock()

	candidates, err := s.ListActiveForOwner(ctx, d.OwnerID, d.AppointmentDateTime.Add(-window), d.AppointmentDateTime.Add(window))
	if err != nil {
		return nil, err
	}
	appt := resolveDraft(d, FindConflict(candidates, d.OwnerID, d.AppointmentDateTime, window), window)

	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.clock.Now()
	appt.CreatedAt = now
	appt.UpdatedAt = now
	s.records[appt.ID] = &appt
	s.order = append(s.order, appt.ID)

	out := appt
	return &out, nil
}

func (s *MemoryStore) Update(ctx context.Context, id uuid.UUID, fn UpdateFunc) (*Appointment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.records[id]
	if !ok {
		return nil, ErrAppointmentNotFound
	}
	m, err := fn(*rec)
	if err != nil {
		return nil, err
	}
	if m != nil {
		rec.Status = m.Status
		rec.CancellationReason = m.CancellationReason
		rec.UpdatedAt = s.clock.Now()
	}
	out := *rec
	return &out, nil
}

func (s *MemoryStore) GetByID(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.records[id]
	if !ok {
		return nil, ErrAppointmentNotFound
	}
	out := *rec
	return &out, nil
}

func (s *MemoryStore) ListActiveForOwner(ctx context.Context, ownerID uuid.UUID, from, to time.Time) ([]Appointment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []Appointment
	for _, id := range s.order {
		rec := s.records[id]
		if rec.OwnerID != ownerID || !rec.Status.Active() {
			continue
		}
		if rec.AppointmentDateTime.Before(from) || rec.AppointmentDateTime.After(to) {
			continue
		}
		result = append(result, *rec)
	}
	return result, nil
}

func (s *MemoryStore) List(ctx context.Context, f ListFilter) ([]Appointment, error) {
	s.mu.RLock()
	result := make([]Appointment, 0, len(s.order))
	for _, id := range s.order {
		rec := s.records[id]
		if f.StudentID != nil && rec.StudentID != *f.StudentID {
			continue
		}
		if f.OwnerID != nil && rec.OwnerID != *f.OwnerID {
			continue
		}
		result = append(result, *rec)
	}
	s.mu.RUnlock()

	// ties on visit time list the newer request first
	sort.SliceStable(result, func(i, j int) bool {
		if result[i].AppointmentDateTime.Equal(result[j].AppointmentDateTime) {
			return result[i].CreatedAt.After(result[j].CreatedAt)
		}
		return result[i].AppointmentDateTime.After(result[j].AppointmentDateTime)
	})

	return paginate(result, f.Limit, f.Offset), nil
}

func (s *MemoryStore) InsertEvent(ctx context.Context, ev EventLog) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	ev.ID = int64(len(s.events) + 1)
	if ev.CreatedAt.IsZero() {
		ev.CreatedAt = s.clock.Now()
	}
	s.events = append(s.events, ev)
	return nil
}

// Events returns a copy of the event log.
func (s *MemoryStore) Events() []EventLog {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]EventLog, len(s.events))
	copy(out, s.events)
	return out
}

func paginate(items []Appointment, limit, offset int) []Appointment {
	if offset > 0 {
		if offset >= len(items) {
			return []Appointment{}
		}
		items = items[offset:]
	}
	if limit > 0 && limit < len(items) {
		items = items[:limit]
	}
	return items
}
