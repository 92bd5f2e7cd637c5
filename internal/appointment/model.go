package appointment

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

type AppointmentStatus string

const (
	StatusPending   AppointmentStatus = "pending"
	StatusConfirmed AppointmentStatus = "confirmed"
	StatusCancelled AppointmentStatus = "cancelled"
	StatusCompleted AppointmentStatus = "completed"
)

// ParseStatus accepts only the four lifecycle states.
func ParseStatus(s string) (AppointmentStatus, error) {
	switch st := AppointmentStatus(s); st {
	case StatusPending, StatusConfirmed, StatusCancelled, StatusCompleted:
		return st, nil
	default:
		return "", fmt.Errorf("%w: unknown status %q", ErrValidation, s)
	}
}

// Active reports whether the appointment still holds its slot.
func (s AppointmentStatus) Active() bool {
	return s != StatusCancelled
}

func (s AppointmentStatus) Terminal() bool {
	return s == StatusCancelled || s == StatusCompleted
}

type Role string

const (
	RoleStudent Role = "student"
	RoleOwner   Role = "owner"
	RoleAdmin   Role = "admin"
)

func ParseRole(s string) (Role, error) {
	switch r := Role(s); r {
	case RoleStudent, RoleOwner, RoleAdmin:
		return r, nil
	default:
		return "", fmt.Errorf("%w: unknown role %q", ErrForbidden, s)
	}
}

// Actor is the caller as resolved by the identity service.
type Actor struct {
	ID   uuid.UUID
	Role Role
}

type Appointment struct {
	ID                  uuid.UUID
	PropertyID          uuid.UUID
	StudentID           uuid.UUID
	OwnerID             uuid.UUID
	AppointmentDateTime time.Time
	Status              AppointmentStatus
	Message             *string
	CancellationReason  *string
	CreatedAt           time.Time
	UpdatedAt           time.Time
}

// Draft is a creation request that already passed validation and property lookup.
type Draft struct {
	PropertyID          uuid.UUID
	StudentID           uuid.UUID
	OwnerID             uuid.UUID
	AppointmentDateTime time.Time
	Message             *string
}

// Mutation is the only shape of write Update accepts. Identity fields are not part of it.
type Mutation struct {
	Status             AppointmentStatus
	CancellationReason *string
}

type Property struct {
	ID        uuid.UUID
	OwnerID   uuid.UUID
	Available bool
}

// Notification is what the messaging service receives on an owner-side cancellation.
type Notification struct {
	AppointmentID       uuid.UUID
	PropertyID          uuid.UUID
	StudentID           uuid.UUID
	OwnerID             uuid.UUID
	AppointmentDateTime time.Time
	Summary             string
	Reason              string
}

type EventLog struct {
	ID            int64
	EventType     string
	AppointmentID *uuid.UUID
	Payload       []byte
	CreatedAt     time.Time
}

type ListFilter struct {
	StudentID *uuid.UUID
	OwnerID   *uuid.UUID
	Limit     int
	Offset    int
}

// Availability is the answer to a booking pre-check.
type Availability struct {
	PropertyID uuid.UUID
	OwnerID    uuid.UUID
	At         time.Time
	Conflict   *Appointment
}

func (a Availability) Available() bool {
	return a.Conflict == nil
}

func strPtr(s string) *string {
	return &s
}
