package main

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v4"
	"github.com/google/uuid"
	"github.com/urfave/cli/v2"

	"github.com/hackgods/property-visit-scheduling/internal/api"
	"github.com/hackgods/property-visit-scheduling/internal/appointment"
)

func tokenCommand() *cli.Command {
	return &cli.Command{
		Name:  "token",
		Usage: "Mint a bearer token for AUTH_MODE=jwt deployments.",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "user", Required: true, Usage: "user id (UUID)"},
			&cli.StringFlag{Name: "role", Value: "student", Usage: "student, owner or admin"},
			&cli.DurationFlag{Name: "ttl", Value: time.Hour},
			&cli.StringFlag{Name: "jwt-secret", EnvVars: []string{"JWT_SECRET"}, Required: true},
		},
		Action: func(c *cli.Context) error {
			id, err := uuid.Parse(c.String("user"))
			if err != nil {
				return fmt.Errorf("invalid --user: %w", err)
			}
			role, err := appointment.ParseRole(c.String("role"))
			if err != nil {
				return err
			}

			now := time.Now()
			tok, err := api.NewJWTAuthenticator(c.String("jwt-secret")).SignToken(
				appointment.Actor{ID: id, Role: role},
				jwt.RegisteredClaims{
					IssuedAt:  jwt.NewNumericDate(now),
					ExpiresAt: jwt.NewNumericDate(now.Add(c.Duration("ttl"))),
				},
			)
			if err != nil {
				return err
			}
			fmt.Println(tok)
			return nil
		},
	}
}
