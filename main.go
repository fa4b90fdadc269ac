package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"raffler/cmd"
	"raffler/config"
	"raffler/database"

	log "github.com/sirupsen/logrus"
	cli "gopkg.in/urfave/cli.v1"
)

func main() {
	app := cli.NewApp()
	app.Name = "raffler"
	app.Usage = "Verifiable random raffle service"
	app.Version = "0.1.0"
	app.Writer = os.Stdout
	app.Before = func(c *cli.Context) error {
		level, err := log.ParseLevel(config.Get().LogLevel)
		if err != nil {
			return fmt.Errorf("invalid log level: %w", err)
		}
		log.SetLevel(level)
		return nil
	}
	app.Action = runCommand
	app.Commands = []cli.Command{
		{
			Name:   "run",
			Usage:  "Run the raffle service, keeper and HTTP API",
			Action: runCommand,
		},
		{
			Name:  "migrate",
			Usage: "Manage database migrations",
			Subcommands: []cli.Command{
				{
					Name:   "up",
					Usage:  "Apply all pending migrations",
					Action: migrateUp,
				},
				{
					Name:      "down",
					Usage:     "Roll back migrations",
					ArgsUsage: "[steps]",
					Action:    migrateDown,
				},
				{
					Name:   "status",
					Usage:  "Show the current migration version",
					Action: migrateStatus,
				},
			},
		},
		{
			Name:  "fund",
			Usage: "Credit a holding account",
			Flags: []cli.Flag{
				cli.StringFlag{
					Name:  "address",
					Usage: "Account address (0x-prefixed)",
				},
				cli.StringFlag{
					Name:  "amount",
					Usage: "Amount in wei as a decimal integer",
				},
			},
			Action: fund,
		},
		{
			Name:   "watch",
			Usage:  "Log raffle events published to NATS",
			Action: watch,
		},
	}

	if err := app.Run(os.Args); err != nil {
		log.WithError(err).Fatal("Application error")
	}
}

// signalContext is cancelled on SIGINT or SIGTERM
func signalContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	go func() {
		select {
		case <-sigChan:
			log.Info("Received shutdown signal, shutting down gracefully...")
			cancel()
		case <-ctx.Done():
		}
	}()

	return ctx, cancel
}

func runCommand(c *cli.Context) error {
	ctx, cancel := signalContext()
	defer cancel()
	return cmd.Run(ctx, config.Get())
}

func migrateUp(c *cli.Context) error {
	return database.MigrateUp(config.Get().GetDatabaseURL())
}

func migrateDown(c *cli.Context) error {
	steps := 1
	if c.NArg() > 0 {
		parsed, err := strconv.Atoi(c.Args().First())
		if err != nil {
			return fmt.Errorf("invalid steps value: %s", c.Args().First())
		}
		steps = parsed
	}
	return database.MigrateDown(config.Get().GetDatabaseURL(), steps)
}

func migrateStatus(c *cli.Context) error {
	status, err := database.MigrateStatus(config.Get().GetDatabaseURL())
	if err != nil {
		return err
	}
	fmt.Fprintf(c.App.Writer, "version: %d\ndirty: %t\napplied: %t\n", status.Version, status.Dirty, status.Applied)
	return nil
}

func fund(c *cli.Context) error {
	ctx, cancel := signalContext()
	defer cancel()
	return cmd.Fund(ctx, config.Get(), c.String("address"), c.String("amount"))
}

func watch(c *cli.Context) error {
	ctx, cancel := signalContext()
	defer cancel()
	return cmd.Watch(ctx, config.Get())
}
