package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-playground/validator/v10"

	"github.com/hackgods/property-visit-scheduling/internal/appointment"
	redisclient "github.com/hackgods/property-visit-scheduling/internal/redis"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, kind, details string) {
	writeJSON(w, status, ErrorResponse{Error: kind, Details: details})
}

// writeServiceError maps a service error to its status code and kind.
func writeServiceError(w http.ResponseWriter, logger *slog.Logger, err error) {
	switch {
	case errors.Is(err, appointment.ErrValidation):
		writeError(w, http.StatusBadRequest, "validation_error", err.Error())
	case errors.Is(err, appointment.ErrInvalidTimeRange):
		writeError(w, http.StatusUnprocessableEntity, "invalid_time_range", err.Error())
	case errors.Is(err, appointment.ErrPropertyNotFound):
		writeError(w, http.StatusNotFound, "property_not_found", err.Error())
	case errors.Is(err, appointment.ErrPropertyUnavailable):
		writeError(w, http.StatusConflict, "property_unavailable", err.Error())
	case errors.Is(err, appointment.ErrForbidden):
		writeError(w, http.StatusForbidden, "forbidden", err.Error())
	case errors.Is(err, appointment.ErrAppointmentNotFound):
		writeError(w, http.StatusNotFound, "appointment_not_found", err.Error())
	case errors.Is(err, appointment.ErrInvalidTransition):
		writeError(w, http.StatusConflict, "invalid_transition", err.Error())
	case errors.Is(err, redisclient.ErrLockNotAcquired):
		w.Header().Set("Retry-After", "1")
		writeError(w, http.StatusServiceUnavailable, "owner_busy", "the owner's calendar is being updated, please retry shortly")
	case errors.Is(err, appointment.ErrStorage):
		logger.Error("storage failure", "err", err)
		writeError(w, http.StatusInternalServerError, "storage_error", "the request could not be completed")
	default:
		logger.Error("unhandled error", "err", err)
		writeError(w, http.StatusInternalServerError, "internal_error", "the request could not be completed")
	}
}

// validationDetails flattens validator errors into one line.
func validationDetails(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return err.Error()
	}
	fe := verrs[0]
	msg := fe.Field() + " failed " + fe.Tag()
	if fe.Param() != "" {
		msg += "=" + fe.Param()
	}
	if len(verrs) > 1 {
		msg += " (and more)"
	}
	return msg
}
