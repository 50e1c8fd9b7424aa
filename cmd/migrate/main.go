package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/urfave/cli/v2"

	"github.com/vladislavdragonenkov/dms/internal/storage/postgres"
)

const defaultTimeout = 30 * time.Second

var errMissingDSN = errors.New("DMS_POSTGRES_DSN (or --dsn) is required")

func newApp(out io.Writer) *cli.App {
	stepsFlag := func(value int, usage string) *cli.IntFlag {
		return &cli.IntFlag{Name: "steps", Value: value, Usage: usage}
	}
	return &cli.App{
		Name:      "migrate",
		Usage:     "управление схемой PostgreSQL delivery service",
		Writer:    out,
		ErrWriter: out,
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "dsn", EnvVars: []string{"DMS_POSTGRES_DSN"}, Usage: "PostgreSQL DSN"},
			&cli.DurationFlag{Name: "timeout", Value: defaultTimeout, Usage: "общий таймаут операции"},
		},
		Commands: []*cli.Command{
			{
				Name:  "up",
				Usage: "применить миграции",
				Flags: []cli.Flag{stepsFlag(0, "сколько миграций применить (0 = все)")},
				Action: func(c *cli.Context) error {
					return withStore(c, func(ctx context.Context, store *postgres.Store) error {
						if err := store.MigrateUp(ctx, c.Int("steps")); err != nil {
							return fmt.Errorf("migrate up: %w", err)
						}
						return printSummary(ctx, c.App.Writer, store, "migrate up ok")
					})
				},
			},
			{
				Name:  "down",
				Usage: "откатить миграции",
				Flags: []cli.Flag{stepsFlag(1, "сколько миграций откатить")},
				Action: func(c *cli.Context) error {
					steps := c.Int("steps")
					if steps <= 0 {
						steps = 1
					}
					return withStore(c, func(ctx context.Context, store *postgres.Store) error {
						if err := store.MigrateDown(ctx, steps); err != nil {
							return fmt.Errorf("migrate down: %w", err)
						}
						return printSummary(ctx, c.App.Writer, store, "migrate down ok")
					})
				},
			},
			{
				Name:  "status",
				Usage: "показать применённые миграции",
				Action: func(c *cli.Context) error {
					return withStore(c, func(ctx context.Context, store *postgres.Store) error {
						infos, err := store.Migrations(ctx)
						if err != nil {
							return fmt.Errorf("list migrations: %w", err)
						}
						for _, info := range infos {
							state := "pending"
							if info.Applied {
								state = "applied " + info.AppliedAt.UTC().Format(time.RFC3339)
							}
							fmt.Fprintf(c.App.Writer, "%04d %-32s %s\n", info.Version, info.Name, state)
						}
						return printSummary(ctx, c.App.Writer, store, "migration status")
					})
				},
			},
		},
	}
}

func withStore(c *cli.Context, fn func(ctx context.Context, store *postgres.Store) error) error {
	dsn := strings.TrimSpace(c.String("dsn"))
	if dsn == "" {
		return errMissingDSN
	}
	ctx, cancel := context.WithTimeout(c.Context, c.Duration("timeout"))
	defer cancel()

	store, err := postgres.Open(ctx, dsn, postgres.WithLogger(log.WithField("component", "migrate")))
	if err != nil {
		return fmt.Errorf("open postgres store: %w", err)
	}
	defer store.Close()
	return fn(ctx, store)
}

func printSummary(ctx context.Context, out io.Writer, store *postgres.Store, prefix string) error {
	version, count, err := store.MigrationStatus(ctx)
	if err != nil {
		return fmt.Errorf("migration status: %w", err)
	}
	fmt.Fprintf(out, "%s: version=%d applied=%d\n", prefix, version, count)
	return nil
}

func main() {
	if err := newApp(os.Stdout).Run(os.Args); err != nil {
		log.WithError(err).Fatal("migrate failed")
	}
}
