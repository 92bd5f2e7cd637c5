package api

import (
	"time"

	"github.com/google/uuid"

	"github.com/hackgods/property-visit-scheduling/internal/appointment"
)

type CreateAppointmentRequest struct {
	PropertyID          string `json:"property_id" validate:"required,uuid"`
	AppointmentDateTime string `json:"appointment_date_time" validate:"required,datetime=2006-01-02T15:04:05Z07:00"`
	Message             string `json:"message" validate:"max=2000"`
}

type UpdateStatusRequest struct {
	Status             string `json:"status" validate:"required,oneof=pending confirmed cancelled completed"`
	CancellationReason string `json:"cancellation_reason" validate:"max=1000"`
}

type AppointmentResponse struct {
	ID                  uuid.UUID `json:"id"`
	PropertyID          uuid.UUID `json:"property_id"`
	StudentID           uuid.UUID `json:"student_id"`
	OwnerID             uuid.UUID `json:"owner_id"`
	AppointmentDateTime time.Time `json:"appointment_date_time"`
	Status              string    `json:"status"`
	Message             *string   `json:"message,omitempty"`
	CancellationReason  *string   `json:"cancellation_reason,omitempty"`
	CreatedAt           time.Time `json:"created_at"`
	UpdatedAt           time.Time `json:"updated_at"`
}

type ListAppointmentsResponse struct {
	Appointments []AppointmentResponse `json:"appointments"`
	Limit        int                   `json:"limit,omitempty"`
	Offset       int                   `json:"offset,omitempty"`
}

// ConflictResponse describes a blocking visit without naming who booked it.
type ConflictResponse struct {
	AppointmentDateTime time.Time `json:"appointment_date_time"`
	Status              string    `json:"status"`
}

type AvailabilityResponse struct {
	PropertyID uuid.UUID         `json:"property_id"`
	At         time.Time         `json:"at"`
	Available  bool              `json:"available"`
	Conflict   *ConflictResponse `json:"conflict,omitempty"`
}

type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

func toAppointmentResponse(a *appointment.Appointment) AppointmentResponse {
	return AppointmentResponse{
		ID:                  a.ID,
		PropertyID:          a.PropertyID,
		StudentID:           a.StudentID,
		OwnerID:             a.OwnerID,
		AppointmentDateTime: a.AppointmentDateTime,
		Status:              string(a.Status),
		Message:             a.Message,
		CancellationReason:  a.CancellationReason,
		CreatedAt:           a.CreatedAt,
		UpdatedAt:           a.UpdatedAt,
	}
}
