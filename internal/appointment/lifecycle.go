package appointment

import (
	"fmt"
	"strings"
	"time"
)

// transition is the outcome of applying the guard table to one request.
type transition struct {
	mutation *Mutation // nil means no write
	notify   bool
}

type transitionRequest struct {
	actor  Actor
	to     AppointmentStatus
	reason string
	now    time.Time
	// completeAfterVisitOnly rejects completion before the visit time.
	completeAfterVisitOnly bool
}

type relation int

const (
	relationNone relation = iota
	relationStudent
	relationOwnerSide
)

func relationOf(actor Actor, appt Appointment) relation {
	switch {
	case actor.Role == RoleAdmin:
		return relationOwnerSide
	case actor.Role == RoleOwner && actor.ID == appt.OwnerID:
		return relationOwnerSide
	case actor.Role == RoleStudent && actor.ID == appt.StudentID:
		return relationStudent
	default:
		return relationNone
	}
}

// CanView reports whether actor may read appt.
func CanView(actor Actor, appt Appointment) bool {
	return relationOf(actor, appt) != relationNone
}

// decideTransition is the single place the status state machine lives.
// It is called with the current record while the store holds it for update.
func decideTransition(cur Appointment, req transitionRequest) (transition, error) {
	rel := relationOf(req.actor, cur)
	if rel == relationNone {
		return transition{}, fmt.Errorf("%w: actor is not a party to appointment %s", ErrForbidden, cur.ID)
	}

	// Repeating the current state is a no-op for anyone allowed to reach it.
	if cur.Status == req.to {
		if req.to == StatusCancelled {
			return transition{}, nil
		}
		if rel != relationOwnerSide {
			return transition{}, fmt.Errorf("%w: only the owner or an admin may set status %s", ErrForbidden, req.to)
		}
		if req.to == StatusPending {
			return transition{}, fmt.Errorf("%w: appointment is already pending", ErrInvalidTransition)
		}
		return transition{}, nil
	}

	switch req.to {
	case StatusConfirmed:
		if rel != relationOwnerSide {
			return transition{}, fmt.Errorf("%w: only the owner or an admin may confirm", ErrForbidden)
		}
		if cur.Status != StatusPending {
			return transition{}, fmt.Errorf("%w: cannot confirm a %s appointment", ErrInvalidTransition, cur.Status)
		}
		return transition{mutation: &Mutation{Status: StatusConfirmed}}, nil

	case StatusCancelled:
		if cur.Status != StatusPending && cur.Status != StatusConfirmed {
			return transition{}, fmt.Errorf("%w: cannot cancel a %s appointment", ErrInvalidTransition, cur.Status)
		}
		if rel == relationStudent {
			return transition{mutation: &Mutation{Status: StatusCancelled}}, nil
		}
		reason := strings.TrimSpace(req.reason)
		if reason == "" {
			return transition{}, fmt.Errorf("%w: cancellation_reason is required when the owner or an admin cancels", ErrValidation)
		}
		return transition{
			mutation: &Mutation{Status: StatusCancelled, CancellationReason: strPtr(reason)},
			notify:   true,
		}, nil

	case StatusCompleted:
		if rel != relationOwnerSide {
			return transition{}, fmt.Errorf("%w: only the owner or an admin may complete", ErrForbidden)
		}
		if cur.Status != StatusConfirmed {
			return transition{}, fmt.Errorf("%w: cannot complete a %s appointment", ErrInvalidTransition, cur.Status)
		}
		if req.completeAfterVisitOnly && req.now.Before(cur.AppointmentDateTime) {
			return transition{}, fmt.Errorf("%w: visit at %s has not happened yet", ErrInvalidTransition, cur.AppointmentDateTime.Format(time.RFC3339))
		}
		return transition{mutation: &Mutation{Status: StatusCompleted}}, nil

	case StatusPending:
		if rel == relationStudent {
			return transition{}, fmt.Errorf("%w: students may only cancel", ErrForbidden)
		}
		return transition{}, fmt.Errorf("%w: appointments cannot return to pending", ErrInvalidTransition)
	}

	return transition{}, fmt.Errorf("%w: unknown status %q", ErrValidation, req.to)
}
