package property

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/hackgods/property-visit-scheduling/internal/appointment"
)

type cachedProperty struct {
	OwnerID   uuid.UUID `json:"owner_id"`
	Available bool      `json:"is_available"`
}

// CachedDirectory is a read-through Redis cache in front of another directory.
// Cache failures fall back to the origin; misses for unknown ids are not cached.
type CachedDirectory struct {
	origin appointment.PropertyDirectory
	rdb    *redis.Client
	ttl    time.Duration
	logger *slog.Logger
}

func NewCachedDirectory(origin appointment.PropertyDirectory, rdb *redis.Client, ttl time.Duration, logger *slog.Logger) *CachedDirectory {
	if logger == nil {
		logger = slog.Default()
	}
	return &CachedDirectory{origin: origin, rdb: rdb, ttl: ttl, logger: logger}
}

func cacheKey(id uuid.UUID) string {
	return fmt.Sprintf("property:%s", id.String())
}

func (c *CachedDirectory) GetProperty(ctx context.Context, id uuid.UUID) (*appointment.Property, error) {
	raw, err := c.rdb.Get(ctx, cacheKey(id)).Bytes()
	switch {
	case err == nil:
		var cp cachedProperty
		if jsonErr := json.Unmarshal(raw, &cp); jsonErr == nil {
			return &appointment.Property{ID: id, OwnerID: cp.OwnerID, Available: cp.Available}, nil
		}
		c.logger.Warn("discarding malformed property cache entry", "property_id", id)
	case !errors.Is(err, redis.Nil):
		c.logger.Warn("property cache read failed", "property_id", id, "err", err)
	}

	p, err := c.origin.GetProperty(ctx, id)
	if err != nil {
		return nil, err
	}

	data, err := json.Marshal(cachedProperty{OwnerID: p.OwnerID, Available: p.Available})
	if err == nil {
		if err := c.rdb.Set(ctx, cacheKey(id), data, c.ttl).Err(); err != nil {
			c.logger.Warn("property cache write failed", "property_id", id, "err", err)
		}
	}
	return p, nil
}

// AvailabilityWriter is a directory that can change a property's bookable flag.
type AvailabilityWriter interface {
	SetAvailability(ctx context.Context, id uuid.UUID, available bool) error
}

var errReadOnlyOrigin = errors.New("property directory does not support availability updates")

// SetAvailability writes through to the origin and evicts the cached entry so
// the next lookup sees the new flag.
func (c *CachedDirectory) SetAvailability(ctx context.Context, id uuid.UUID, available bool) error {
	w, ok := c.origin.(AvailabilityWriter)
	if !ok {
		return errReadOnlyOrigin
	}
	if err := w.SetAvailability(ctx, id, available); err != nil {
		return err
	}
	if err := c.Invalidate(ctx, id); err != nil {
		return fmt.Errorf("evict property %s: %w", id, err)
	}
	return nil
}

// Invalidate drops the cached entry. Writers outside this service must call it
// or accept staleness up to the TTL.
func (c *CachedDirectory) Invalidate(ctx context.Context, id uuid.UUID) error {
	return c.rdb.Del(ctx, cacheKey(id)).Err()
}
