package main

import (
	"context"
	"fmt"
	"os"

	"github.com/urfave/cli/v3"

	"github.com/samcharles93/spindle/internal/logger"
	"github.com/samcharles93/spindle/internal/telemetry"
	"github.com/samcharles93/spindle/internal/version"
)

func main() {
	app := &cli.Command{
		Name:  "spindle",
		Usage: "Chat completions server for small causal language models",
		Action: func(ctx context.Context, cmd *cli.Command) error {
			return cli.ShowAppHelp(cmd)
		},
		Commands: []*cli.Command{
			serveCmd(),
			generateCmd(),
			versionCmd(),
		},
	}

	if err := app.Run(context.Background(), os.Args); err != nil {
		_, _ = fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

var shutdownTelemetry telemetry.Shutdown

// setup runs as the Before hook of commands that load a model, once their
// own flags are parsed. It merges the config file, builds the logger and
// starts the trace exporter.
func setup(ctx context.Context, cmd *cli.Command) (context.Context, error) {
	fileConfig = LoadConfig()
	applyCommonConfig(cmd, fileConfig)

	log, err := newLogger(os.Stderr)
	if err != nil {
		return ctx, err
	}
	shutdownTelemetry, err = telemetry.Init(ctx, telemetry.Config{
		ServiceName:    "spindle",
		ServiceVersion: version.String(),
		Disable:        !telemetryEnabled,
		Logger:         log.Slog(),
	})
	if err != nil {
		return ctx, err
	}
	return logger.WithContext(ctx, log), nil
}

func teardown(ctx context.Context, cmd *cli.Command) error {
	if shutdownTelemetry == nil {
		return nil
	}
	return shutdownTelemetry(context.WithoutCancel(ctx))
}
