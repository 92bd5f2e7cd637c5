package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/golang-jwt/jwt/v4"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/hackgods/property-visit-scheduling/internal/appointment"
	"github.com/hackgods/property-visit-scheduling/internal/config"
	redisclient "github.com/hackgods/property-visit-scheduling/internal/redis"
)

var testNow = time.Date(2030, 1, 10, 9, 0, 0, 0, time.UTC)

type fixedClock struct{ t time.Time }

func (c fixedClock) Now() time.Time { return c.t }

type fakeDirectory map[uuid.UUID]appointment.Property

func (d fakeDirectory) GetProperty(_ context.Context, id uuid.UUID) (*appointment.Property, error) {
	p, ok := d[id]
	if !ok {
		return nil, appointment.ErrPropertyNotFound
	}
	return &p, nil
}

type recordingNotifier struct {
	mu   sync.Mutex
	sent []appointment.Notification
}

func (n *recordingNotifier) Notify(_ context.Context, msg appointment.Notification) (string, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sent = append(n.sent, msg)
	return fmt.Sprintf("n-%d", len(n.sent)), nil
}

func (n *recordingNotifier) count() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.sent)
}

type fixture struct {
	handler  http.Handler
	svc      *appointment.Service
	notifier *recordingNotifier

	owner    appointment.Actor
	student  appointment.Actor
	other    appointment.Actor
	property uuid.UUID
	rented   uuid.UUID
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	f := &fixture{
		notifier: &recordingNotifier{},
		owner:    appointment.Actor{ID: uuid.New(), Role: appointment.RoleOwner},
		student:  appointment.Actor{ID: uuid.New(), Role: appointment.RoleStudent},
		other:    appointment.Actor{ID: uuid.New(), Role: appointment.RoleStudent},
		property: uuid.New(),
		rented:   uuid.New(),
	}
	dir := fakeDirectory{
		f.property: {ID: f.property, OwnerID: f.owner.ID, Available: true},
		f.rented:   {ID: f.rented, OwnerID: f.owner.ID, Available: false},
	}
	clock := fixedClock{t: testNow}

	f.svc = appointment.NewService(
		appointment.NewMemoryStore(clock),
		dir,
		f.notifier,
		config.Config{},
		appointment.WithClock(clock),
		appointment.WithLogger(discardLogger()),
	)
	f.handler = NewRouter(RouterConfig{
		Service: f.svc,
		Auth:    HeaderAuthenticator{},
		Logger:  discardLogger(),
	})
	return f
}

func (f *fixture) do(t *testing.T, actor *appointment.Actor, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var r io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		r = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, r)
	if actor != nil {
		req.Header.Set(UserIDHeader, actor.ID.String())
		req.Header.Set(UserRoleHeader, string(actor.Role))
	}
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.NewDecoder(rec.Body).Decode(&v); err != nil {
		t.Fatalf("decode response %q: %v", rec.Body.String(), err)
	}
	return v
}

func (f *fixture) book(t *testing.T, actor appointment.Actor, at time.Time) AppointmentResponse {
	t.Helper()
	rec := f.do(t, &actor, http.MethodPost, "/appointments", map[string]string{
		"property_id":           f.property.String(),
		"appointment_date_time": at.Format(time.RFC3339),
		"message":               "Is the flat furnished?",
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
	}
	return decode[AppointmentResponse](t, rec)
}

func TestCreateAppointment(t *testing.T) {
	f := newFixture(t)
	at := testNow.Add(48 * time.Hour)

	got := f.book(t, f.student, at)
	if got.Status != "pending" {
		t.Fatalf("expected pending, got %s", got.Status)
	}
	if got.OwnerID != f.owner.ID || got.StudentID != f.student.ID {
		t.Fatalf("wrong parties: %+v", got)
	}
	if got.Message == nil || *got.Message != "Is the flat furnished?" {
		t.Fatalf("message not stored: %v", got.Message)
	}

	// overlapping request is stored, but cancelled with a system reason
	clash := f.book(t, f.other, at.Add(90*time.Minute))
	if clash.Status != "cancelled" {
		t.Fatalf("expected soft rejection, got %s", clash.Status)
	}
	if clash.CancellationReason == nil || !strings.Contains(*clash.CancellationReason, "unavailable") {
		t.Fatalf("expected system reason, got %v", clash.CancellationReason)
	}
}

func TestCreateAppointment_Errors(t *testing.T) {
	f := newFixture(t)
	future := testNow.Add(24 * time.Hour).Format(time.RFC3339)

	tests := []struct {
		name   string
		actor  *appointment.Actor
		body   map[string]string
		status int
		kind   string
	}{
		{
			name:   "no identity",
			body:   map[string]string{"property_id": f.property.String(), "appointment_date_time": future},
			status: http.StatusUnauthorized,
			kind:   "unauthenticated",
		},
		{
			name:   "owner cannot request",
			actor:  &f.owner,
			body:   map[string]string{"property_id": f.property.String(), "appointment_date_time": future},
			status: http.StatusForbidden,
			kind:   "forbidden",
		},
		{
			name:   "missing property",
			actor:  &f.student,
			body:   map[string]string{"appointment_date_time": future},
			status: http.StatusBadRequest,
			kind:   "validation_error",
		},
		{
			name:   "malformed time",
			actor:  &f.student,
			body:   map[string]string{"property_id": f.property.String(), "appointment_date_time": "tomorrow"},
			status: http.StatusBadRequest,
			kind:   "validation_error",
		},
		{
			name:   "past time",
			actor:  &f.student,
			body:   map[string]string{"property_id": f.property.String(), "appointment_date_time": testNow.Add(-time.Hour).Format(time.RFC3339)},
			status: http.StatusUnprocessableEntity,
			kind:   "invalid_time_range",
		},
		{
			name:   "beyond horizon",
			actor:  &f.student,
			body:   map[string]string{"property_id": f.property.String(), "appointment_date_time": testNow.Add(31 * 24 * time.Hour).Format(time.RFC3339)},
			status: http.StatusUnprocessableEntity,
			kind:   "invalid_time_range",
		},
		{
			name:   "unknown property",
			actor:  &f.student,
			body:   map[string]string{"property_id": uuid.NewString(), "appointment_date_time": future},
			status: http.StatusNotFound,
			kind:   "property_not_found",
		},
		{
			name:   "unavailable property",
			actor:  &f.student,
			body:   map[string]string{"property_id": f.rented.String(), "appointment_date_time": future},
			status: http.StatusConflict,
			kind:   "property_unavailable",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := f.do(t, tt.actor, http.MethodPost, "/appointments", tt.body)
			if rec.Code != tt.status {
				t.Fatalf("expected %d, got %d: %s", tt.status, rec.Code, rec.Body.String())
			}
			if got := decode[ErrorResponse](t, rec); got.Error != tt.kind {
				t.Fatalf("expected kind %s, got %+v", tt.kind, got)
			}
		})
	}
}

func TestCreateAppointment_ValidationNamesJSONField(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, &f.student, http.MethodPost, "/appointments", map[string]string{
		"property_id":           "not-a-uuid",
		"appointment_date_time": testNow.Add(time.Hour).Format(time.RFC3339),
	})
	got := decode[ErrorResponse](t, rec)
	if !strings.Contains(got.Details, "property_id") {
		t.Fatalf("details should name the json field, got %q", got.Details)
	}
}

func TestUpdateStatus_OwnerCancelNotifies(t *testing.T) {
	f := newFixture(t)
	appt := f.book(t, f.student, testNow.Add(48*time.Hour))
	path := "/appointments/" + appt.ID.String() + "/status"

	rec := f.do(t, &f.owner, http.MethodPatch, path, map[string]string{"status": "cancelled"})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("owner cancel without reason: expected 400, got %d", rec.Code)
	}

	rec = f.do(t, &f.owner, http.MethodPatch, path, map[string]string{
		"status":              "cancelled",
		"cancellation_reason": "Property was rented",
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	got := decode[AppointmentResponse](t, rec)
	if got.Status != "cancelled" || got.CancellationReason == nil || *got.CancellationReason != "Property was rented" {
		t.Fatalf("unexpected record: %+v", got)
	}

	f.svc.Wait()
	if f.notifier.count() != 1 {
		t.Fatalf("expected one notification, got %d", f.notifier.count())
	}

	// repeating the cancel is a no-op and sends nothing new
	rec = f.do(t, &f.owner, http.MethodPatch, path, map[string]string{
		"status":              "cancelled",
		"cancellation_reason": "again",
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 on repeated cancel, got %d", rec.Code)
	}
	f.svc.Wait()
	if f.notifier.count() != 1 {
		t.Fatalf("expected still one notification, got %d", f.notifier.count())
	}
}

func TestUpdateStatus_Errors(t *testing.T) {
	f := newFixture(t)
	appt := f.book(t, f.student, testNow.Add(48*time.Hour))
	path := "/appointments/" + appt.ID.String() + "/status"

	tests := []struct {
		name   string
		actor  appointment.Actor
		path   string
		body   map[string]string
		status int
		kind   string
	}{
		{"student cannot confirm", f.student, path, map[string]string{"status": "confirmed"}, http.StatusForbidden, "forbidden"},
		{"stranger cannot cancel", f.other, path, map[string]string{"status": "cancelled"}, http.StatusForbidden, "forbidden"},
		{"cannot complete pending", f.owner, path, map[string]string{"status": "completed"}, http.StatusConflict, "invalid_transition"},
		{"unknown status", f.owner, path, map[string]string{"status": "archived"}, http.StatusBadRequest, "validation_error"},
		{"unknown appointment", f.owner, "/appointments/" + uuid.NewString() + "/status", map[string]string{"status": "confirmed"}, http.StatusNotFound, "appointment_not_found"},
		{"bad id", f.owner, "/appointments/xyz/status", map[string]string{"status": "confirmed"}, http.StatusBadRequest, "validation_error"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := f.do(t, &tt.actor, http.MethodPatch, tt.path, tt.body)
			if rec.Code != tt.status {
				t.Fatalf("expected %d, got %d: %s", tt.status, rec.Code, rec.Body.String())
			}
			if got := decode[ErrorResponse](t, rec); got.Error != tt.kind {
				t.Fatalf("expected kind %s, got %+v", tt.kind, got)
			}
		})
	}
}

func TestListAndGetAppointments(t *testing.T) {
	f := newFixture(t)
	first := f.book(t, f.student, testNow.Add(24*time.Hour))
	second := f.book(t, f.student, testNow.Add(72*time.Hour))
	theirs := f.book(t, f.other, testNow.Add(120*time.Hour))

	rec := f.do(t, &f.student, http.MethodGet, "/appointments", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	list := decode[ListAppointmentsResponse](t, rec)
	if len(list.Appointments) != 2 {
		t.Fatalf("student should see 2, got %d", len(list.Appointments))
	}
	if list.Appointments[0].ID != second.ID || list.Appointments[1].ID != first.ID {
		t.Fatal("expected latest visit first")
	}

	rec = f.do(t, &f.owner, http.MethodGet, "/appointments?limit=1&offset=0", nil)
	list = decode[ListAppointmentsResponse](t, rec)
	if len(list.Appointments) != 1 || list.Appointments[0].ID != theirs.ID {
		t.Fatalf("owner page 1 should hold the latest visit, got %+v", list.Appointments)
	}

	if rec := f.do(t, &f.owner, http.MethodGet, "/appointments?limit=-1", nil); rec.Code != http.StatusBadRequest {
		t.Fatalf("negative limit: expected 400, got %d", rec.Code)
	}

	if rec := f.do(t, &f.student, http.MethodGet, "/appointments/"+first.ID.String(), nil); rec.Code != http.StatusOK {
		t.Fatalf("own appointment: expected 200, got %d", rec.Code)
	}
	if rec := f.do(t, &f.other, http.MethodGet, "/appointments/"+first.ID.String(), nil); rec.Code != http.StatusForbidden {
		t.Fatalf("someone else's appointment: expected 403, got %d", rec.Code)
	}
}

func TestAvailability(t *testing.T) {
	f := newFixture(t)
	at := testNow.Add(48 * time.Hour)
	f.book(t, f.student, at)

	path := fmt.Sprintf("/properties/%s/availability?at=%s", f.property, at.Add(time.Hour).Format(time.RFC3339))
	rec := f.do(t, &f.other, http.MethodGet, path, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if strings.Contains(rec.Body.String(), f.student.ID.String()) {
		t.Fatal("availability must not reveal who booked the conflicting visit")
	}
	got := decode[AvailabilityResponse](t, rec)
	if got.Available || got.Conflict == nil || !got.Conflict.AppointmentDateTime.Equal(at) {
		t.Fatalf("expected conflict at %s, got %+v", at, got)
	}

	path = fmt.Sprintf("/properties/%s/availability?at=%s", f.property, at.Add(3*time.Hour).Format(time.RFC3339))
	got = decode[AvailabilityResponse](t, f.do(t, &f.other, http.MethodGet, path, nil))
	if !got.Available {
		t.Fatalf("expected free slot, got %+v", got)
	}

	path = fmt.Sprintf("/properties/%s/availability", f.property)
	if rec := f.do(t, &f.other, http.MethodGet, path, nil); rec.Code != http.StatusBadRequest {
		t.Fatalf("missing at: expected 400, got %d", rec.Code)
	}
}

func TestJWTAuthenticator(t *testing.T) {
	auth := NewJWTAuthenticator("s3cret")
	actor := appointment.Actor{ID: uuid.New(), Role: appointment.RoleOwner}

	valid, err := auth.SignToken(actor, jwt.RegisteredClaims{ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour))})
	if err != nil {
		t.Fatalf("SignToken: %v", err)
	}
	expired, _ := auth.SignToken(actor, jwt.RegisteredClaims{ExpiresAt: jwt.NewNumericDate(time.Now().Add(-time.Hour))})
	foreign, _ := NewJWTAuthenticator("other").SignToken(actor, jwt.RegisteredClaims{})
	unsigned, _ := jwt.NewWithClaims(jwt.SigningMethodNone, Claims{Role: "admin", RegisteredClaims: jwt.RegisteredClaims{Subject: actor.ID.String()}}).
		SignedString(jwt.UnsafeAllowNoneSignatureType)

	tests := []struct {
		name    string
		header  string
		wantErr bool
	}{
		{"valid", "Bearer " + valid, false},
		{"missing", "", true},
		{"not bearer", "Basic abc", true},
		{"expired", "Bearer " + expired, true},
		{"wrong secret", "Bearer " + foreign, true},
		{"alg none", "Bearer " + unsigned, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			got, err := auth.Authenticate(req)
			if (err != nil) != tt.wantErr {
				t.Fatalf("Authenticate() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil && !errors.Is(err, ErrUnauthenticated) {
				t.Fatalf("expected ErrUnauthenticated, got %v", err)
			}
			if err == nil && got != actor {
				t.Fatalf("expected %+v, got %+v", actor, got)
			}
		})
	}
}

func TestHeaderAuthenticator_RejectsUnknownRole(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(UserIDHeader, uuid.NewString())
	req.Header.Set(UserRoleHeader, "landlord")

	if _, err := (HeaderAuthenticator{}).Authenticate(req); !errors.Is(err, ErrUnauthenticated) {
		t.Fatalf("expected ErrUnauthenticated, got %v", err)
	}
}

func TestWriteServiceError(t *testing.T) {
	tests := []struct {
		err    error
		status int
		kind   string
	}{
		{fmt.Errorf("%w: x", appointment.ErrValidation), http.StatusBadRequest, "validation_error"},
		{fmt.Errorf("%w: x", appointment.ErrInvalidTransition), http.StatusConflict, "invalid_transition"},
		{fmt.Errorf("%w: create: %w", appointment.ErrStorage, redisclient.ErrLockNotAcquired), http.StatusServiceUnavailable, "owner_busy"},
		{fmt.Errorf("%w: boom", appointment.ErrStorage), http.StatusInternalServerError, "storage_error"},
		{errors.New("boom"), http.StatusInternalServerError, "internal_error"},
	}
	for _, tt := range tests {
		rec := httptest.NewRecorder()
		writeServiceError(rec, discardLogger(), tt.err)
		if rec.Code != tt.status {
			t.Errorf("%v: expected %d, got %d", tt.err, tt.status, rec.Code)
		}
		if got := decode[ErrorResponse](t, rec); got.Error != tt.kind {
			t.Errorf("%v: expected %s, got %s", tt.err, tt.kind, got.Error)
		}
	}
}

func TestReadiness(t *testing.T) {
	ok := func(context.Context) error { return nil }
	down := func(context.Context) error { return errors.New("down") }

	tests := []struct {
		name     string
		required map[string]Check
		optional map[string]Check
		status   int
		want     string
	}{
		{"all up", map[string]Check{"postgres": ok}, map[string]Check{"redis": ok}, http.StatusOK, "ok"},
		{"optional down", map[string]Check{"postgres": ok}, map[string]Check{"redis": down}, http.StatusOK, "degraded"},
		{"required down", map[string]Check{"postgres": down}, map[string]Check{"redis": ok}, http.StatusServiceUnavailable, "error"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			NewHealthHandler(tt.required, tt.optional, "test", "v0").Readiness(rec, httptest.NewRequest(http.MethodGet, "/health/ready", nil))
			if rec.Code != tt.status {
				t.Fatalf("expected %d, got %d", tt.status, rec.Code)
			}
			if got := decode[ReadinessResponse](t, rec); got.Status != tt.want {
				t.Fatalf("expected %s, got %s", tt.want, got.Status)
			}
		})
	}
}

func TestRateLimiter(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	f := newFixture(t)
	f.handler = NewRouter(RouterConfig{
		Service:     f.svc,
		Auth:        HeaderAuthenticator{},
		Logger:      discardLogger(),
		RateLimiter: NewRateLimiter(rdb, 1, time.Minute, discardLogger()),
	})

	f.book(t, f.student, testNow.Add(24*time.Hour))

	rec := f.do(t, &f.student, http.MethodPost, "/appointments", map[string]string{
		"property_id":           f.property.String(),
		"appointment_date_time": testNow.Add(96 * time.Hour).Format(time.RFC3339),
	})
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", rec.Code)
	}

	// a different actor has its own budget
	f.book(t, f.other, testNow.Add(200*time.Hour))
}
