package property

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/hackgods/property-visit-scheduling/internal/appointment"
)

// PgDirectory reads the property catalogue table shared with the listing service.
type PgDirectory struct {
	pool *pgxpool.Pool
}

func NewPgDirectory(pool *pgxpool.Pool) *PgDirectory {
	return &PgDirectory{pool: pool}
}

func (d *PgDirectory) GetProperty(ctx context.Context, id uuid.UUID) (*appointment.Property, error) {
	p := appointment.Property{ID: id}
	err := d.pool.QueryRow(ctx, `
		SELECT owner_id, is_available
		FROM properties
		WHERE id = $1
	`, id).Scan(&p.OwnerID, &p.Available)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, appointment.ErrPropertyNotFound
		}
		return nil, fmt.Errorf("query property: %w", err)
	}
	return &p, nil
}

// SetAvailability flips whether new visits may be requested for the property.
func (d *PgDirectory) SetAvailability(ctx context.Context, id uuid.UUID, available bool) error {
	tag, err := d.pool.Exec(ctx, `
		UPDATE properties
		SET is_available = $2, updated_at = now()
		WHERE id = $1
	`, id, available)
	if err != nil {
		return fmt.Errorf("update property availability: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return appointment.ErrPropertyNotFound
	}
	return nil
}
