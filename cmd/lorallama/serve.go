package main

import (
	"context"
	"net/http"
	"time"

	"github.com/labstack/echo/v5"
	"github.com/labstack/echo/v5/middleware"
	"github.com/urfave/cli/v3"

	"github.com/samcharles93/lorallama/internal/api"
	"github.com/samcharles93/lorallama/internal/logger"
)

func serveCmd() *cli.Command {
	var (
		addr        string
		readTimeout time.Duration
		preload     bool
	)

	return &cli.Command{
		Name:  "serve",
		Usage: "Serve forward passes over HTTP",
		Flags: append(modelFlags(),
			&cli.StringFlag{
				Name:        "addr",
				Usage:       "listen address",
				Value:       "127.0.0.1:8080",
				Destination: &addr,
			},
			&cli.DurationFlag{
				Name:        "read-timeout",
				Usage:       "read header timeout",
				Value:       30 * time.Second,
				Destination: &readTimeout,
			},
			&cli.BoolFlag{
				Name:        "preload",
				Usage:       "load the default model before accepting requests",
				Destination: &preload,
			},
		),
		Action: func(ctx context.Context, c *cli.Command) error {
			log := logger.FromContext(ctx)
			applyServeConfig(c, cliConfigFrom(ctx), &addr)

			provider := api.NewCachedModelProvider(api.ProviderConfig{
				DefaultModelPath: modelPath,
				ModelsPath:       modelsPath,
				Logger:           log,
			})
			if preload {
				if _, err := provider.Model(ctx, ""); err != nil {
					return err
				}
			}
			e := newEcho(api.NewServer(provider, log), log)

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

// newEcho routes request logs through the CLI logger so they follow
// --log-format and --log-level.
func newEcho(server *api.Server, log logger.Logger) *echo.Echo {
	e := echo.New()
	e.Logger = log.Slog()
	e.Use(middleware.RequestLogger())
	e.Use(middleware.Recover())
	server.Register(e)
	return e
}
