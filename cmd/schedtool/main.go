package main

import (
	"log/slog"
	"os"

	"github.com/joho/godotenv"
	"github.com/urfave/cli/v2"

	"github.com/hackgods/property-visit-scheduling/internal/logging"
)

func main() {
	_ = godotenv.Load()

	app := &cli.App{
		Name:  "schedtool",
		Usage: "Operator tooling for the property visit scheduler.",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "postgres-dsn", EnvVars: []string{"POSTGRES_DSN"}, Usage: "Postgres connection string"},
			&cli.StringFlag{Name: "log-level", EnvVars: []string{"LOG_LEVEL"}, Value: "info"},
		},
		Commands: []*cli.Command{
			seedCommand(),
			simulateCommand(),
			tokenCommand(),
			availabilityCommand(),
		},
	}

	if err := app.Run(os.Args); err != nil {
		slog.Error("schedtool failed", "err", err)
		os.Exit(1)
	}
}

func newLogger(c *cli.Context) *slog.Logger {
	return logging.NewLogger("schedtool", c.String("log-level"))
}
