package appointment

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const appointmentColumns = `id, property_id, student_id, owner_id, appointment_date_time, status,
		message, cancellation_reason, created_at, updated_at`

type PgStore struct {
	pool         *pgxpool.Pool
	readAttempts uint
}

// NewPgStore returns a Postgres Store. Reads are attempted up to readAttempts times.
func NewPgStore(pool *pgxpool.Pool, readAttempts int) *PgStore {
	if readAttempts < 1 {
		readAttempts = 1
	}
	return &PgStore{pool: pool, readAttempts: uint(readAttempts)}
}

// Helpers

func scanAppointment(row pgx.Row) (*Appointment, error) {
	var a Appointment

	err := row.Scan(
		&a.ID,
		&a.PropertyID,
		&a.StudentID,
		&a.OwnerID,
		&a.AppointmentDateTime,
		&a.Status,
		&a.Message,
		&a.CancellationReason,
		&a.CreatedAt,
		&a.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrAppointmentNotFound
		}
		return nil, err
	}

	return &a, nil
}

func collectAppointments(rows pgx.Rows) ([]Appointment, error) {
	defer rows.Close()

	var result []Appointment
	for rows.Next() {
		a, err := scanAppointment(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *a)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

func storageErr(op string, err error) error {
	if err == nil || IsDomainError(err) {
		return err
	}
	return fmt.Errorf("%w: %s: %w", ErrStorage, op, err)
}

// retryRead retries transient failures of an idempotent read. Domain errors stop it.
func retryRead[T any](ctx context.Context, attempts uint, op func() (T, error)) (T, error) {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 50 * time.Millisecond
	b.MaxInterval = 500 * time.Millisecond

	return backoff.Retry(ctx, func() (T, error) {
		v, err := op()
		if err != nil && IsDomainError(err) {
			return v, backoff.Permanent(err)
		}
		return v, err
	}, backoff.WithBackOff(b), backoff.WithMaxTries(attempts))
}

// Interface methods

func (s *PgStore) CreateIfNoConflict(ctx context.Context, d Draft, window time.Duration) (*Appointment, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, storageErr("begin create", err)
	}
	defer tx.Rollback(ctx)

	// Serializes creations per owner until commit; other owners hash to other keys.
	if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtextextended($1, 0))`, d.OwnerID.String()); err != nil {
		return nil, storageErr("lock owner", err)
	}

	rows, err := tx.Query(ctx, `
		SELECT `+appointmentColumns+`
		FROM visit_appointments
		WHERE owner_id = $1
		  AND status <> 'cancelled'
		  AND appointment_date_time BETWEEN $2 AND $3
		ORDER BY created_at, id
	`, d.OwnerID, d.AppointmentDateTime.Add(-window), d.AppointmentDateTime.Add(window))
	if err != nil {
		return nil, storageErr("query owner appointments", err)
	}
	candidates, err := collectAppointments(rows)
	if err != nil {
		return nil, storageErr("scan owner appointments", err)
	}

	appt := resolveDraft(d, FindConflict(candidates, d.OwnerID, d.AppointmentDateTime, window), window)

	// clock_timestamp keeps created_at in commit order under the owner lock; now() would not.
	row := tx.QueryRow(ctx, `
		INSERT INTO visit_appointments
			(id, property_id, student_id, owner_id, appointment_date_time, status, message, cancellation_reason, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, clock_timestamp(), clock_timestamp())
		RETURNING `+appointmentColumns,
		appt.ID, appt.PropertyID, appt.StudentID, appt.OwnerID, appt.AppointmentDateTime,
		appt.Status, appt.Message, appt.CancellationReason)
	created, err := scanAppointment(row)
	if err != nil {
		return nil, storageErr("insert appointment", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, storageErr("commit create", err)
	}
	return created, nil
}

func (s *PgStore) Update(ctx context.Context, id uuid.UUID, fn UpdateFunc) (*Appointment, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, storageErr("begin update", err)
	}
	defer tx.Rollback(ctx)

	cur, err := scanAppointment(tx.QueryRow(ctx, `
		SELECT `+appointmentColumns+`
		FROM visit_appointments
		WHERE id = $1
		FOR UPDATE
	`, id))
	if err != nil {
		return nil, storageErr("load appointment for update", err)
	}

	m, err := fn(*cur)
	if err != nil {
		return nil, err
	}
	if m == nil {
		return cur, nil
	}

	updated, err := scanAppointment(tx.QueryRow(ctx, `
		UPDATE visit_appointments
		SET status = $2,
		    cancellation_reason = $3,
		    updated_at = clock_timestamp()
		WHERE id = $1
		RETURNING `+appointmentColumns,
		id, m.Status, m.CancellationReason))
	if err != nil {
		return nil, storageErr("update appointment", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, storageErr("commit update", err)
	}
	return updated, nil
}

func (s *PgStore) GetByID(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	a, err := retryRead(ctx, s.readAttempts, func() (*Appointment, error) {
		return scanAppointment(s.pool.QueryRow(ctx, `
			SELECT `+appointmentColumns+`
			FROM visit_appointments
			WHERE id = $1
		`, id))
	})
	return a, storageErr("get appointment", err)
}

func (s *PgStore) ListActiveForOwner(ctx context.Context, ownerID uuid.UUID, from, to time.Time) ([]Appointment, error) {
	result, err := retryRead(ctx, s.readAttempts, func() ([]Appointment, error) {
		rows, err := s.pool.Query(ctx, `
			SELECT `+appointmentColumns+`
			FROM visit_appointments
			WHERE owner_id = $1
			  AND status <> 'cancelled'
			  AND appointment_date_time BETWEEN $2 AND $3
			ORDER BY created_at, id
		`, ownerID, from, to)
		if err != nil {
			return nil, err
		}
		return collectAppointments(rows)
	})
	return result, storageErr("list owner appointments", err)
}

func (s *PgStore) List(ctx context.Context, f ListFilter) ([]Appointment, error) {
	var limit any
	if f.Limit > 0 {
		limit = f.Limit
	}
	offset := f.Offset
	if offset < 0 {
		offset = 0
	}

	result, err := retryRead(ctx, s.readAttempts, func() ([]Appointment, error) {
		rows, err := s.pool.Query(ctx, `
			SELECT `+appointmentColumns+`
			FROM visit_appointments
			WHERE ($1::uuid IS NULL OR student_id = $1)
			  AND ($2::uuid IS NULL OR owner_id = $2)
			ORDER BY appointment_date_time DESC, created_at DESC
			LIMIT $3 OFFSET $4
		`, f.StudentID, f.OwnerID, limit, offset)
		if err != nil {
			return nil, err
		}
		return collectAppointments(rows)
	})
	if err != nil {
		return nil, storageErr("list appointments", err)
	}
	if result == nil {
		result = []Appointment{}
	}
	return result, nil
}

func (s *PgStore) InsertEvent(ctx context.Context, ev EventLog) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO appointment_events (event_type, appointment_id, payload, created_at)
		VALUES ($1, $2, $3, COALESCE($4, now()))
	`, ev.EventType, ev.AppointmentID, ev.Payload, nullableTime(ev.CreatedAt))
	if err != nil {
		return fmt.Errorf("insert event log: %w", err)
	}

	return nil
}

func nullableTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}
