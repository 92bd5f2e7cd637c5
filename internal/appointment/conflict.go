package appointment

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

const DefaultConflictWindow = 2 * time.Hour

// FindConflict returns the earliest-created active appointment of ownerID whose
// visit time lies in [proposed-window, proposed+window], or nil.
// Candidates are expected in creation order; on equal CreatedAt the earlier
// element wins.
func FindConflict(candidates []Appointment, ownerID uuid.UUID, proposed time.Time, window time.Duration) *Appointment {
	from := proposed.Add(-window)
	to := proposed.Add(window)

	var found *Appointment
	for i := range candidates {
		c := &candidates[i]
		if c.OwnerID != ownerID || !c.Status.Active() {
			continue
		}
		if c.AppointmentDateTime.Before(from) || c.AppointmentDateTime.After(to) {
			continue
		}
		if found == nil || c.CreatedAt.Before(found.CreatedAt) {
			found = c
		}
	}
	if found == nil {
		return nil
	}
	conflict := *found
	return &conflict
}

// conflictReason is the system-authored reason stored on a soft-rejected request.
func conflictReason(conflict *Appointment, window time.Duration) string {
	return fmt.Sprintf(
		"The requested time slot is unavailable: the owner already has a visit scheduled at %s, within %s of the requested time.",
		conflict.AppointmentDateTime.UTC().Format(time.RFC3339),
		window,
	)
}

// resolveDraft turns a draft into the record to insert given the conflict check result.
func resolveDraft(d Draft, conflict *Appointment, window time.Duration) Appointment {
	appt := Appointment{
		ID:                  uuid.New(),
		PropertyID:          d.PropertyID,
		StudentID:           d.StudentID,
		OwnerID:             d.OwnerID,
		AppointmentDateTime: d.AppointmentDateTime,
		Status:              StatusPending,
		Message:             d.Message,
	}
	if conflict != nil {
		appt.Status = StatusCancelled
		appt.CancellationReason = strPtr(conflictReason(conflict, window))
	}
	return appt
}
