package main

import (
	"context"
	"net/http"
	"time"

	"github.com/labstack/echo/v5"
	"github.com/labstack/echo/v5/middleware"
	"github.com/urfave/cli/v3"

	"github.com/samcharles93/spindle/internal/api"
	"github.com/samcharles93/spindle/internal/inference"
	"github.com/samcharles93/spindle/internal/logger"
)

func serveCmd() *cli.Command {
	var (
		addr        string
		readTimeout time.Duration
	)

	flags := append(commonModelFlags(), samplingFlags()...)
	flags = append(flags, loggingFlags()...)
	flags = append(flags, telemetryFlags()...)
	flags = append(flags,
		&cli.StringFlag{
			Name:        "addr",
			Usage:       "listen address",
			Value:       "127.0.0.1:10100",
			Destination: &addr,
		},
		&cli.DurationFlag{
			Name:        "read-timeout",
			Usage:       "read header timeout",
			Value:       30 * time.Second,
			Destination: &readTimeout,
		},
	)

	return &cli.Command{
		Name:   "serve",
		Usage:  "Serve the chat completions API",
		Flags:  flags,
		Before: setup,
		After:  teardown,
		Action: func(ctx context.Context, cmd *cli.Command) error {
			log := logger.FromContext(ctx)
			applyServeConfig(cmd, fileConfig, &addr)

			m, err := loadModel()
			if err != nil {
				return err
			}
			log.Info("model loaded",
				"name", m.Name,
				"arch", m.Arch,
				"path", m.Path,
				"stop_ids", m.StopIDs,
			)

			service := inference.NewService(m)
			server := api.NewServer(service, api.Config{
				ModelName: modelName,
				Defaults:  samplingOptions(cmd, fileConfig),
				Logger:    log,
			})
			e := echo.New()
			e.Use(middleware.RequestLogger())
			e.Use(middleware.Recover())
			server.Register(e)
			log.Info("starting server", "address", addr)
			sc := echo.StartConfig{
				Address: addr,
				BeforeServeFunc: func(srv *http.Server) error {
					srv.ReadHeaderTimeout = readTimeout
					return nil
				},
			}
			return sc.Start(ctx, e)
		},
	}
}

func loadModel() (*inference.Model, error) {
	loader := inference.Loader{
		TokenizerJSONPath:   tokenizerJSONPath,
		TokenizerConfigPath: tokenizerConfig,
		ChatTemplatePath:    chatTemplate,
		Name:                modelName,
	}
	return loader.Load(modelPath)
}
