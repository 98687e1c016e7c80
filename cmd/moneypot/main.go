package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"time"

	"github.com/arkade-os/moneypot/internal/config"
	"github.com/arkade-os/moneypot/internal/telemetry"
	"github.com/joho/godotenv"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/viper"
	"github.com/urfave/cli/v2"
)

var (
	Version string

	cfg          *config.Config
	otelShutdown func(context.Context) error
)

func main() {
	// Must happen before flags are parsed for env vars to be picked up.
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		fmt.Fprintf(os.Stderr, "error: failed to load .env file: %v\n", err)
		os.Exit(1)
	}

	app := cli.NewApp()
	app.Version = Version
	app.Name = "moneypot"
	app.Usage = "create, attempt and resolve money pots, sweep the expired ones"
	app.Flags = config.NewFlags()
	app.Commands = append(
		app.Commands,
		&demoCommand,
		&sweepCommand,
		&potsCommand,
		&potCommand,
		&attemptCommand,
		&createCommand,
		&tryCommand,
		&resolveCommand,
		&accountCommand,
	)
	app.Before = setup
	app.After = teardown

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, fmt.Errorf("error: %v", err))
		os.Exit(1)
	}
}

func setup(c *cli.Context) error {
	if err := config.LoadConfigFile(c, viper.GetViper()); err != nil {
		return err
	}

	var err error
	cfg, err = config.LoadConfig(c)
	if err != nil {
		return fmt.Errorf("invalid config: %s", err)
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %s", err)
	}

	log.SetLevel(log.Level(cfg.LogLevel))

	if cfg.OtelCollectorEndpoint != "" {
		otelShutdown, err = telemetry.InitOtelSDK(
			c.Context, cfg.OtelCollectorEndpoint, cfg.OtelPushInterval,
		)
		if err != nil {
			return err
		}
	}

	log.Debugf("moneypot config: %s", cfg)
	return nil
}

func teardown(_ *cli.Context) error {
	if cfg != nil {
		cfg.Close()
	}
	if otelShutdown != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := otelShutdown(ctx); err != nil {
			log.Errorf("failed to shutdown otel: %s", err)
		}
	}
	return nil
}
