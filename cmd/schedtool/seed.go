package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/brianvoe/gofakeit/v7"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/urfave/cli/v2"

	"github.com/hackgods/property-visit-scheduling/internal/db"
)

const seedBatchSize = 500

func seedCommand() *cli.Command {
	return &cli.Command{
		Name:  "seed",
		Usage: "Create fake owners, students and properties for local runs.",
		Flags: []cli.Flag{
			&cli.IntFlag{Name: "owners", Value: 100},
			&cli.IntFlag{Name: "students", Value: 2000},
			&cli.IntFlag{Name: "properties-per-owner", Value: 3},
			&cli.Float64Flag{Name: "unavailable-ratio", Value: 0.1, Usage: "share of properties marked unavailable"},
		},
		Action: func(c *cli.Context) error {
			logger := newLogger(c)
			dsn := c.String("postgres-dsn")
			if dsn == "" {
				return errors.New("POSTGRES_DSN is required")
			}

			ctx, cancel := context.WithTimeout(c.Context, 10*time.Second)
			pool, err := db.ConnectPostgres(ctx, dsn)
			cancel()
			if err != nil {
				return err
			}
			defer pool.Close()

			if err := db.Migrate(c.Context, pool); err != nil {
				return err
			}

			gofakeit.Seed(time.Now().UnixNano())

			owners, err := seedUsers(c.Context, pool, logger, "owner", c.Int("owners"))
			if err != nil {
				return fmt.Errorf("seed owners: %w", err)
			}
			if _, err := seedUsers(c.Context, pool, logger, "student", c.Int("students")); err != nil {
				return fmt.Errorf("seed students: %w", err)
			}
			if _, err := seedUsers(c.Context, pool, logger, "admin", 1); err != nil {
				return fmt.Errorf("seed admin: %w", err)
			}
			if err := seedProperties(c.Context, pool, logger, owners, c.Int("properties-per-owner"), c.Float64("unavailable-ratio")); err != nil {
				return fmt.Errorf("seed properties: %w", err)
			}

			logger.Info("seed complete")
			return nil
		},
	}
}

func seedUsers(ctx context.Context, pool *pgxpool.Pool, logger *slog.Logger, role string, count int) ([]uuid.UUID, error) {
	logger.Info("seeding users", "role", role, "count", count)

	ids := make([]uuid.UUID, 0, count)
	for offset := 0; offset < count; offset += seedBatchSize {
		end := min(offset+seedBatchSize, count)

		tx, err := pool.Begin(ctx)
		if err != nil {
			return nil, err
		}

		for i := offset; i < end; i++ {
			id := uuid.New()
			_, err := tx.Exec(ctx, `
				INSERT INTO users (id, name, email, role, created_at, updated_at)
				VALUES ($1, $2, $3, $4, now(), now())
			`, id, gofakeit.Name(), gofakeit.Email(), role)
			if err != nil {
				_ = tx.Rollback(ctx)
				return nil, err
			}
			ids = append(ids, id)
		}

		if err := tx.Commit(ctx); err != nil {
			return nil, err
		}
		logger.Info("users seeded", "role", role, "done", end, "total", count)
	}
	return ids, nil
}

func seedProperties(ctx context.Context, pool *pgxpool.Pool, logger *slog.Logger, owners []uuid.UUID, perOwner int, unavailableRatio float64) error {
	logger.Info("seeding properties", "owners", len(owners), "per_owner", perOwner)

	kinds := []string{"Studio", "Room in shared flat", "One-bedroom flat", "Two-bedroom flat", "Loft"}

	tx, err := pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	for _, owner := range owners {
		for i := 0; i < perOwner; i++ {
			title := fmt.Sprintf("%s near %s, %s",
				kinds[gofakeit.Number(0, len(kinds)-1)], gofakeit.Street(), gofakeit.City())
			available := gofakeit.Float64Range(0, 1) >= unavailableRatio

			_, err := tx.Exec(ctx, `
				INSERT INTO properties (id, owner_id, title, is_available, created_at, updated_at)
				VALUES ($1, $2, $3, $4, now(), now())
			`, uuid.New(), owner, title, available)
			if err != nil {
				return err
			}
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return err
	}

	logger.Info("properties seeded")
	return nil
}
