package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/hackgods/property-visit-scheduling/internal/appointment"
)

const (
	maxBodyBytes = 1 << 20
	maxPageSize  = 500
)

// AppointmentService is the part of appointment.Service the handlers use.
type AppointmentService interface {
	CreateAppointment(ctx context.Context, actor appointment.Actor, req appointment.CreateRequest) (*appointment.Appointment, error)
	UpdateStatus(ctx context.Context, actor appointment.Actor, id uuid.UUID, to appointment.AppointmentStatus, reason string) (*appointment.Appointment, error)
	ListAppointments(ctx context.Context, actor appointment.Actor, limit, offset int) ([]appointment.Appointment, error)
	GetAppointment(ctx context.Context, actor appointment.Actor, id uuid.UUID) (*appointment.Appointment, error)
	CheckAvailability(ctx context.Context, propertyID uuid.UUID, at time.Time) (*appointment.Availability, error)
}

func newValidator() *validator.Validate {
	v := validator.New()
	// report json names in validation errors
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

func decodeBody(w http.ResponseWriter, r *http.Request, v *validator.Validate, dst any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
		return false
	}
	if err := v.Struct(dst); err != nil {
		writeError(w, http.StatusBadRequest, "validation_error", validationDetails(err))
		return false
	}
	return true
}

func pathUUID(w http.ResponseWriter, r *http.Request, param string) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, param))
	if err != nil {
		writeError(w, http.StatusBadRequest, "validation_error", param+" must be a valid UUID")
		return uuid.Nil, false
	}
	return id, true
}

func mustActor(r *http.Request) appointment.Actor {
	actor, _ := ActorFromContext(r.Context())
	return actor
}

func createAppointmentHandler(svc AppointmentService, v *validator.Validate, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req CreateAppointmentRequest
		if !decodeBody(w, r, v, &req) {
			return
		}

		// both already checked by the validator
		propertyID, _ := uuid.Parse(req.PropertyID)
		at, _ := time.Parse(time.RFC3339, req.AppointmentDateTime)

		appt, err := svc.CreateAppointment(r.Context(), mustActor(r), appointment.CreateRequest{
			PropertyID:          propertyID,
			AppointmentDateTime: at,
			Message:             req.Message,
		})
		if err != nil {
			writeServiceError(w, logger, err)
			return
		}

		writeJSON(w, http.StatusCreated, toAppointmentResponse(appt))
	}
}

func updateStatusHandler(svc AppointmentService, v *validator.Validate, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := pathUUID(w, r, "id")
		if !ok {
			return
		}

		var req UpdateStatusRequest
		if !decodeBody(w, r, v, &req) {
			return
		}

		appt, err := svc.UpdateStatus(r.Context(), mustActor(r), id, appointment.AppointmentStatus(req.Status), req.CancellationReason)
		if err != nil {
			writeServiceError(w, logger, err)
			return
		}

		writeJSON(w, http.StatusOK, toAppointmentResponse(appt))
	}
}

func listAppointmentsHandler(svc AppointmentService, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		limit, ok := queryInt(w, r, "limit", 0, maxPageSize)
		if !ok {
			return
		}
		offset, ok := queryInt(w, r, "offset", 0, -1)
		if !ok {
			return
		}

		items, err := svc.ListAppointments(r.Context(), mustActor(r), limit, offset)
		if err != nil {
			writeServiceError(w, logger, err)
			return
		}

		resp := ListAppointmentsResponse{
			Appointments: make([]AppointmentResponse, 0, len(items)),
			Limit:        limit,
			Offset:       offset,
		}
		for i := range items {
			resp.Appointments = append(resp.Appointments, toAppointmentResponse(&items[i]))
		}
		writeJSON(w, http.StatusOK, resp)
	}
}

func getAppointmentHandler(svc AppointmentService, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := pathUUID(w, r, "id")
		if !ok {
			return
		}

		appt, err := svc.GetAppointment(r.Context(), mustActor(r), id)
		if err != nil {
			writeServiceError(w, logger, err)
			return
		}

		writeJSON(w, http.StatusOK, toAppointmentResponse(appt))
	}
}

func availabilityHandler(svc AppointmentService, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		propertyID, ok := pathUUID(w, r, "id")
		if !ok {
			return
		}
		at, err := time.Parse(time.RFC3339, r.URL.Query().Get("at"))
		if err != nil {
			writeError(w, http.StatusBadRequest, "validation_error", "at must be an RFC3339 timestamp")
			return
		}

		av, err := svc.CheckAvailability(r.Context(), propertyID, at)
		if err != nil {
			writeServiceError(w, logger, err)
			return
		}

		resp := AvailabilityResponse{
			PropertyID: av.PropertyID,
			At:         av.At,
			Available:  av.Available(),
		}
		if av.Conflict != nil {
			resp.Conflict = &ConflictResponse{
				AppointmentDateTime: av.Conflict.AppointmentDateTime,
				Status:              string(av.Conflict.Status),
			}
		}
		writeJSON(w, http.StatusOK, resp)
	}
}

// queryInt reads an optional non-negative integer parameter; upper < 0 means unbounded.
func queryInt(w http.ResponseWriter, r *http.Request, name string, def, upper int) (int, bool) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def, true
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 || (upper >= 0 && n > upper) {
		msg := name + " must be a non-negative integer"
		if upper >= 0 {
			msg += " up to " + strconv.Itoa(upper)
		}
		writeError(w, http.StatusBadRequest, "validation_error", msg)
		return 0, false
	}
	return n, true
}
