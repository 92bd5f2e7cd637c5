package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/urfave/cli/v2"

	"github.com/hackgods/property-visit-scheduling/internal/db"
	"github.com/hackgods/property-visit-scheduling/internal/property"
	redisclient "github.com/hackgods/property-visit-scheduling/internal/redis"
)

func availabilityCommand() *cli.Command {
	return &cli.Command{
		Name:  "availability",
		Usage: "Mark a property bookable or not and evict its cached lookup.",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "property", Required: true, Usage: "property id (UUID)"},
			&cli.BoolFlag{Name: "available", Value: true, Usage: "--available=false stops new visit requests"},
			&cli.StringFlag{Name: "redis-addr", EnvVars: []string{"REDIS_ADDR"}, Usage: "evict the API's property cache here; empty skips eviction"},
			&cli.StringFlag{Name: "redis-username", EnvVars: []string{"REDIS_USERNAME"}},
			&cli.StringFlag{Name: "redis-password", EnvVars: []string{"REDIS_PASSWORD"}},
		},
		Action: func(c *cli.Context) error {
			logger := newLogger(c)
			dsn := c.String("postgres-dsn")
			if dsn == "" {
				return errors.New("POSTGRES_DSN is required")
			}
			id, err := uuid.Parse(c.String("property"))
			if err != nil {
				return fmt.Errorf("invalid --property: %w", err)
			}

			ctx, cancel := context.WithTimeout(c.Context, 10*time.Second)
			defer cancel()

			pool, err := db.ConnectPostgres(ctx, dsn)
			if err != nil {
				return err
			}
			defer pool.Close()

			var dir property.AvailabilityWriter = property.NewPgDirectory(pool)
			if addr := c.String("redis-addr"); addr != "" {
				rdb, err := redisclient.NewRedisClient(addr, c.String("redis-username"), c.String("redis-password"))
				if err != nil {
					return err
				}
				defer rdb.Close()
				// ttl is irrelevant for eviction
				dir = property.NewCachedDirectory(property.NewPgDirectory(pool), rdb, time.Minute, logger)
			}

			if err := dir.SetAvailability(ctx, id, c.Bool("available")); err != nil {
				return fmt.Errorf("set availability of %s: %w", id, err)
			}
			logger.Info("property availability updated", "property_id", id, "available", c.Bool("available"))
			return nil
		},
	}
}
