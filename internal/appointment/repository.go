package appointment

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// UpdateFunc decides the write for the current record. Returning a nil
// mutation leaves the record untouched.
type UpdateFunc func(cur Appointment) (*Mutation, error)

// Store contains all persistence needed by the service.
type Store interface {
	// CreateIfNoConflict checks for a conflict and inserts the draft as one
	// serializable step per owner. A conflicting draft is still inserted, as
	// cancelled with a system-authored reason.
	CreateIfNoConflict(ctx context.Context, d Draft, window time.Duration) (*Appointment, error)

	// Update reads the record, calls fn and applies its mutation atomically
	// with respect to other updates of the same record.
	Update(ctx context.Context, id uuid.UUID, fn UpdateFunc) (*Appointment, error)

	GetByID(ctx context.Context, id uuid.UUID) (*Appointment, error)
	// ListActiveForOwner returns active appointments of the owner with a visit
	// time in [from, to], in creation order.
	ListActiveForOwner(ctx context.Context, ownerID uuid.UUID, from, to time.Time) ([]Appointment, error)
	// List orders by visit time descending.
	List(ctx context.Context, f ListFilter) ([]Appointment, error)

	InsertEvent(ctx context.Context, ev EventLog) error
}

// PropertyDirectory is the external property catalogue.
type PropertyDirectory interface {
	// GetProperty returns ErrPropertyNotFound when the property does not exist.
	GetProperty(ctx context.Context, id uuid.UUID) (*Property, error)
}

// Notifier delivers a message through the external messaging service and
// returns the id it assigned.
type Notifier interface {
	Notify(ctx context.Context, n Notification) (string, error)
}

// Locker guards the per-owner creation critical section across processes.
type Locker interface {
	WithOwnerLock(ctx context.Context, ownerID uuid.UUID, fn func(ctx context.Context) error) error
}
