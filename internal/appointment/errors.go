package appointment

import "errors"

// Every error returned by Service wraps exactly one of these.
var (
	ErrValidation          = errors.New("validation error")
	ErrInvalidTimeRange    = errors.New("appointment time out of range")
	ErrPropertyNotFound    = errors.New("property not found")
	ErrPropertyUnavailable = errors.New("property is not available for visits")
	ErrForbidden           = errors.New("forbidden")
	ErrAppointmentNotFound = errors.New("appointment not found")
	ErrInvalidTransition   = errors.New("invalid status transition")
	ErrStorage             = errors.New("storage error")
)

// IsDomainError reports whether err is one of the kinds above other than ErrStorage.
func IsDomainError(err error) bool {
	for _, kind := range []error{
		ErrValidation,
		ErrInvalidTimeRange,
		ErrPropertyNotFound,
		ErrPropertyUnavailable,
		ErrForbidden,
		ErrAppointmentNotFound,
		ErrInvalidTransition,
	} {
		if errors.Is(err, kind) {
			return true
		}
	}
	return false
}
