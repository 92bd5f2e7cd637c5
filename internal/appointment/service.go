package appointment

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/hackgods/property-visit-scheduling/internal/config"
)

const (
	EventAppointmentRequested = "APPOINTMENT_REQUESTED"
	EventAppointmentRejected  = "APPOINTMENT_REJECTED"
	EventAppointmentConfirmed = "APPOINTMENT_CONFIRMED"
	EventAppointmentCancelled = "APPOINTMENT_CANCELLED"
	EventAppointmentCompleted = "APPOINTMENT_COMPLETED"
)

var tracer = otel.Tracer("github.com/hackgods/property-visit-scheduling/internal/appointment")

type Service struct {
	store      Store
	properties PropertyDirectory
	notifier   Notifier
	locker     Locker
	clock      Clock
	logger     *slog.Logger

	window                 time.Duration
	horizon                time.Duration
	notifyTimeout          time.Duration
	completeAfterVisitOnly bool

	inflight sync.WaitGroup
}

type Option func(*Service)

func WithClock(c Clock) Option {
	return func(s *Service) { s.clock = c }
}

func WithLogger(l *slog.Logger) Option {
	return func(s *Service) { s.logger = l }
}

// WithLocker adds a cross-process owner lock around creation. The store's own
// per-owner serialization still applies inside it.
func WithLocker(l Locker) Option {
	return func(s *Service) { s.locker = l }
}

func NewService(store Store, properties PropertyDirectory, notifier Notifier, cfg config.Config, opts ...Option) *Service {
	s := &Service{
		store:                  store,
		properties:             properties,
		notifier:               notifier,
		clock:                  SystemClock,
		logger:                 slog.Default(),
		window:                 cfg.ConflictWindow,
		horizon:                cfg.BookingHorizon,
		notifyTimeout:          cfg.NotifyTimeout,
		completeAfterVisitOnly: cfg.CompleteAfterVisitOnly,
	}
	if s.window <= 0 {
		s.window = DefaultConflictWindow
	}
	if s.horizon <= 0 {
		s.horizon = 30 * 24 * time.Hour
	}
	if s.notifyTimeout <= 0 {
		s.notifyTimeout = 5 * time.Second
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

type CreateRequest struct {
	PropertyID          uuid.UUID
	AppointmentDateTime time.Time
	Message             string
}

// CreateAppointment books a visit for a student. A request that collides with
// another active visit of the same owner is stored as cancelled, not refused.
func (s *Service) CreateAppointment(ctx context.Context, actor Actor, req CreateRequest) (_ *Appointment, err error) {
	ctx, span := tracer.Start(ctx, "appointment.Create", trace.WithAttributes(
		attribute.String("property.id", req.PropertyID.String()),
	))
	defer endSpan(span, &err)

	if actor.Role != RoleStudent {
		return nil, fmt.Errorf("%w: only students may request a visit", ErrForbidden)
	}
	if req.PropertyID == uuid.Nil {
		return nil, fmt.Errorf("%w: property_id is required", ErrValidation)
	}
	if req.AppointmentDateTime.IsZero() {
		return nil, fmt.Errorf("%w: appointment_date_time is required", ErrValidation)
	}

	at, err := s.checkRange(req.AppointmentDateTime)
	if err != nil {
		return nil, err
	}

	prop, err := s.lookupProperty(ctx, req.PropertyID)
	if err != nil {
		return nil, err
	}
	if !prop.Available {
		return nil, fmt.Errorf("%w: property %s", ErrPropertyUnavailable, prop.ID)
	}

	draft := Draft{
		PropertyID:          prop.ID,
		StudentID:           actor.ID,
		OwnerID:             prop.OwnerID,
		AppointmentDateTime: at,
	}
	if msg := strings.TrimSpace(req.Message); msg != "" {
		draft.Message = strPtr(msg)
	}

	var created *Appointment
	create := func(lockCtx context.Context) error {
		appt, err := s.store.CreateIfNoConflict(lockCtx, draft, s.window)
		if err != nil {
			return err
		}
		created = appt
		return nil
	}

	if s.locker != nil {
		err = s.locker.WithOwnerLock(ctx, prop.OwnerID, create)
	} else {
		err = create(ctx)
	}
	if err != nil {
		if IsDomainError(err) || errors.Is(err, ErrStorage) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: create appointment: %w", ErrStorage, err)
	}

	eventType := EventAppointmentRequested
	if created.Status == StatusCancelled {
		eventType = EventAppointmentRejected
		s.logger.Info("visit request soft-rejected",
			"appointment_id", created.ID,
			"owner_id", created.OwnerID,
			"appointment_date_time", created.AppointmentDateTime,
		)
	}
	span.SetAttributes(attribute.String("appointment.status", string(created.Status)))
	s.logEvent(ctx, created.ID, eventType, map[string]any{
		"property_id":           created.PropertyID.String(),
		"student_id":            created.StudentID.String(),
		"owner_id":              created.OwnerID.String(),
		"appointment_date_time": created.AppointmentDateTime,
	})

	return created, nil
}

// UpdateStatus applies one lifecycle transition. The guard table is evaluated
// against the stored status inside the store's update, so racing updates
// cannot both win.
func (s *Service) UpdateStatus(ctx context.Context, actor Actor, id uuid.UUID, to AppointmentStatus, reason string) (_ *Appointment, err error) {
	ctx, span := tracer.Start(ctx, "appointment.UpdateStatus", trace.WithAttributes(
		attribute.String("appointment.id", id.String()),
		attribute.String("appointment.target_status", string(to)),
	))
	defer endSpan(span, &err)

	if _, err := ParseStatus(string(to)); err != nil {
		return nil, err
	}

	var decided transition
	updated, err := s.store.Update(ctx, id, func(cur Appointment) (*Mutation, error) {
		t, err := decideTransition(cur, transitionRequest{
			actor:                  actor,
			to:                     to,
			reason:                 reason,
			now:                    s.clock.Now(),
			completeAfterVisitOnly: s.completeAfterVisitOnly,
		})
		if err != nil {
			return nil, err
		}
		decided = t
		return t.mutation, nil
	})
	if err != nil {
		return nil, err
	}

	if decided.mutation == nil {
		return updated, nil
	}

	s.logEvent(ctx, updated.ID, statusEvent(updated.Status), map[string]any{
		"actor_id":   actor.ID.String(),
		"actor_role": string(actor.Role),
		"reason":     updated.CancellationReason,
	})

	if decided.notify {
		s.dispatchNotification(ctx, *updated)
	}

	return updated, nil
}

// ListAppointments returns what the actor may see, newest visit first.
func (s *Service) ListAppointments(ctx context.Context, actor Actor, limit, offset int) ([]Appointment, error) {
	f := ListFilter{Limit: limit, Offset: offset}
	switch actor.Role {
	case RoleStudent:
		f.StudentID = &actor.ID
	case RoleOwner:
		f.OwnerID = &actor.ID
	case RoleAdmin:
	default:
		return nil, fmt.Errorf("%w: unknown role %q", ErrForbidden, actor.Role)
	}

	appointments, err := s.store.List(ctx, f)
	if err != nil {
		return nil, err
	}
	return appointments, nil
}

func (s *Service) GetAppointment(ctx context.Context, actor Actor, id uuid.UUID) (*Appointment, error) {
	appt, err := s.store.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if !CanView(actor, *appt) {
		return nil, fmt.Errorf("%w: appointment %s", ErrForbidden, id)
	}
	return appt, nil
}

// CheckAvailability runs the conflict check for a prospective visit without
// writing anything.
func (s *Service) CheckAvailability(ctx context.Context, propertyID uuid.UUID, at time.Time) (*Availability, error) {
	if propertyID == uuid.Nil || at.IsZero() {
		return nil, fmt.Errorf("%w: property id and time are required", ErrValidation)
	}
	proposed, err := s.checkRange(at)
	if err != nil {
		return nil, err
	}
	prop, err := s.lookupProperty(ctx, propertyID)
	if err != nil {
		return nil, err
	}

	conflict, err := s.conflictAt(ctx, prop.OwnerID, proposed)
	if err != nil {
		return nil, err
	}
	return &Availability{PropertyID: prop.ID, OwnerID: prop.OwnerID, At: proposed, Conflict: conflict}, nil
}

// FindConflict returns the earliest-created active appointment of the owner
// within the conflict window of proposed, or nil.
func (s *Service) FindConflict(ctx context.Context, ownerID uuid.UUID, proposed time.Time) (*Appointment, error) {
	proposed, err := s.checkRange(proposed)
	if err != nil {
		return nil, err
	}
	return s.conflictAt(ctx, ownerID, proposed)
}

// conflictAt expects proposed to have passed checkRange already.
func (s *Service) conflictAt(ctx context.Context, ownerID uuid.UUID, proposed time.Time) (*Appointment, error) {
	candidates, err := s.store.ListActiveForOwner(ctx, ownerID, proposed.Add(-s.window), proposed.Add(s.window))
	if err != nil {
		return nil, err
	}
	return FindConflict(candidates, ownerID, proposed, s.window), nil
}

// Wait blocks until all in-flight notifications have finished.
func (s *Service) Wait() {
	s.inflight.Wait()
}

// checkRange enforces [now, now+horizon] on the requested instant and returns
// it at minute precision. A time in the current minute rounds up so the
// stored visit never precedes now.
func (s *Service) checkRange(t time.Time) (time.Time, error) {
	now := s.clock.Now()
	t = t.UTC()
	if t.Before(now) {
		return time.Time{}, fmt.Errorf("%w: %s is in the past", ErrInvalidTimeRange, t.Format(time.RFC3339))
	}
	limit := now.Add(s.horizon)
	if t.After(limit) {
		return time.Time{}, fmt.Errorf("%w: %s is more than %s ahead", ErrInvalidTimeRange, t.Format(time.RFC3339), s.horizon)
	}

	at := t.Truncate(time.Minute)
	if at.Before(now) {
		at = at.Add(time.Minute)
	}
	if at.After(limit) {
		return time.Time{}, fmt.Errorf("%w: no whole minute between now and %s", ErrInvalidTimeRange, t.Format(time.RFC3339))
	}
	return at, nil
}

func (s *Service) lookupProperty(ctx context.Context, id uuid.UUID) (*Property, error) {
	prop, err := s.properties.GetProperty(ctx, id)
	if err != nil {
		if errors.Is(err, ErrPropertyNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrPropertyNotFound, id)
		}
		return nil, fmt.Errorf("%w: load property: %w", ErrStorage, err)
	}
	return prop, nil
}

// dispatchNotification runs detached from the request and from any lock.
func (s *Service) dispatchNotification(ctx context.Context, appt Appointment) {
	n := Notification{
		AppointmentID:       appt.ID,
		PropertyID:          appt.PropertyID,
		StudentID:           appt.StudentID,
		OwnerID:             appt.OwnerID,
		AppointmentDateTime: appt.AppointmentDateTime,
		Summary: fmt.Sprintf("Your visit of property %s on %s has been cancelled.",
			appt.PropertyID, appt.AppointmentDateTime.UTC().Format("2006-01-02 15:04 MST")),
	}
	if appt.CancellationReason != nil {
		n.Reason = *appt.CancellationReason
	}

	notifyCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.notifyTimeout)
	s.inflight.Add(1)
	go func() {
		defer s.inflight.Done()
		defer cancel()

		id, err := s.notifier.Notify(notifyCtx, n)
		if err != nil {
			s.logger.Warn("cancellation notification failed",
				"appointment_id", appt.ID,
				"student_id", appt.StudentID,
				"err", err,
			)
			return
		}
		s.logger.Info("cancellation notification sent",
			"appointment_id", appt.ID,
			"notification_id", id,
		)
	}()
}

func (s *Service) logEvent(ctx context.Context, appointmentID uuid.UUID, eventType string, payload map[string]any) {
	data, err := json.Marshal(payload)
	if err != nil {
		s.logger.Warn("failed to marshal event payload", "event_type", eventType, "err", err)
		data = nil
	}

	apptID := appointmentID

	ev := EventLog{
		EventType:     eventType,
		AppointmentID: &apptID,
		Payload:       data,
		CreatedAt:     s.clock.Now(),
	}

	if err := s.store.InsertEvent(ctx, ev); err != nil {
		s.logger.Error("failed to insert event log", "event_type", eventType, "appointment_id", appointmentID, "err", err)
	}
}

func statusEvent(st AppointmentStatus) string {
	switch st {
	case StatusConfirmed:
		return EventAppointmentConfirmed
	case StatusCancelled:
		return EventAppointmentCancelled
	case StatusCompleted:
		return EventAppointmentCompleted
	default:
		return "APPOINTMENT_" + strings.ToUpper(string(st))
	}
}

func endSpan(span trace.Span, errp *error) {
	if errp != nil && *errp != nil {
		span.RecordError(*errp)
		span.SetStatus(codes.Error, (*errp).Error())
	}
	span.End()
}
