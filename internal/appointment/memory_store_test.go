package appointment

import (
	"context"
	"errors"
	"math/rand"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
)

// Random concurrent creations against two owners must never leave two active
// visits of one owner closer than the window.
func TestMemoryStore_NoDoubleBooking(t *testing.T) {
	store := NewMemoryStore(newFixedClock(testNow))
	owners := []uuid.UUID{uuid.New(), uuid.New()}
	rng := rand.New(rand.NewSource(42))

	drafts := make([]Draft, 200)
	for i := range drafts {
		drafts[i] = Draft{
			PropertyID:          uuid.New(),
			StudentID:           uuid.New(),
			OwnerID:             owners[rng.Intn(len(owners))],
			AppointmentDateTime: testNow.Add(time.Duration(rng.Intn(3*24*60)) * time.Minute),
		}
	}

	var wg sync.WaitGroup
	for _, d := range drafts {
		wg.Add(1)
		go func(d Draft) {
			defer wg.Done()
			if _, err := store.CreateIfNoConflict(context.Background(), d, DefaultConflictWindow); err != nil {
				t.Errorf("create: %v", err)
			}
		}(d)
	}
	wg.Wait()

	all, err := store.List(context.Background(), ListFilter{})
	if err != nil {
		t.Fatal(err)
	}
	if len(all) != len(drafts) {
		t.Fatalf("every draft must be stored, got %d of %d", len(all), len(drafts))
	}

	for _, owner := range owners {
		var active []Appointment
		for _, a := range all {
			if a.OwnerID == owner && a.Status.Active() {
				active = append(active, a)
			}
		}
		for i := range active {
			for j := i + 1; j < len(active); j++ {
				d := active[i].AppointmentDateTime.Sub(active[j].AppointmentDateTime)
				if d < 0 {
					d = -d
				}
				if d <= DefaultConflictWindow {
					t.Fatalf("owner %s double-booked: %s and %s", owner, active[i].AppointmentDateTime, active[j].AppointmentDateTime)
				}
			}
		}
	}
}

func TestMemoryStore_UpdateKeepsIdentity(t *testing.T) {
	clock := newFixedClock(testNow)
	store := NewMemoryStore(clock)
	ctx := context.Background()

	created, err := store.CreateIfNoConflict(ctx, Draft{
		PropertyID:          uuid.New(),
		StudentID:           uuid.New(),
		OwnerID:             uuid.New(),
		AppointmentDateTime: testNow.Add(time.Hour),
	}, DefaultConflictWindow)
	if err != nil {
		t.Fatal(err)
	}

	clock.Advance(time.Minute)
	updated, err := store.Update(ctx, created.ID, func(cur Appointment) (*Mutation, error) {
		return &Mutation{Status: StatusConfirmed}, nil
	})
	if err != nil {
		t.Fatal(err)
	}
	if updated.ID != created.ID || updated.StudentID != created.StudentID || updated.OwnerID != created.OwnerID || updated.PropertyID != created.PropertyID {
		t.Fatal("update must not touch identity fields")
	}
	if !updated.UpdatedAt.After(created.UpdatedAt) || !updated.CreatedAt.Equal(created.CreatedAt) {
		t.Fatalf("timestamps: created=%s updated=%s", updated.CreatedAt, updated.UpdatedAt)
	}

	errRefused := errors.New("refused")
	if _, err := store.Update(ctx, created.ID, func(Appointment) (*Mutation, error) { return nil, errRefused }); !errors.Is(err, errRefused) {
		t.Fatalf("expected fn error to pass through, got %v", err)
	}
	if _, err := store.Update(ctx, uuid.New(), func(Appointment) (*Mutation, error) { return nil, nil }); !errors.Is(err, ErrAppointmentNotFound) {
		t.Fatalf("expected ErrAppointmentNotFound, got %v", err)
	}

	// returned records are copies
	updated.Status = StatusCompleted
	stored, _ := store.GetByID(ctx, created.ID)
	if stored.Status != StatusConfirmed {
		t.Fatal("caller mutation leaked into the store")
	}
}

func TestPaginate(t *testing.T) {
	items := make([]Appointment, 5)
	tests := []struct {
		limit, offset, want int
	}{
		{0, 0, 5},
		{2, 0, 2},
		{2, 4, 1},
		{0, 5, 0},
		{10, 7, 0},
	}
	for _, tt := range tests {
		if got := len(paginate(items, tt.limit, tt.offset)); got != tt.want {
			t.Errorf("paginate(limit=%d, offset=%d) = %d items, want %d", tt.limit, tt.offset, got, tt.want)
		}
	}
}
