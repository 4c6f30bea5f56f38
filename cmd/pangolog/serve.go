package main

import (
	"context"
	"net/http"
	"time"

	"github.com/labstack/echo/v5"
	"github.com/labstack/echo/v5/middleware"
	"github.com/urfave/cli/v3"

	"github.com/samcharles93/pangolog/internal/api"
	"github.com/samcharles93/pangolog/internal/logger"
)

func serveCmd() *cli.Command {
	var (
		dir         string
		addr        string
		readTimeout time.Duration
	)

	return &cli.Command{
		Name:  "serve",
		Usage: "Serve a directory of logs over HTTP (SSE and WebSocket frame streams)",
		Flags: append(readerFlags(),
			&cli.StringFlag{
				Name:        "dir",
				Usage:       "directory of logs (default: log_dir or .)",
				Value:       ".",
				Destination: &dir,
			},
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
		),
		Action: func(ctx context.Context, cmd *cli.Command) error {
			log := logger.FromContext(ctx)
			applyServeConfig(cmd, cfg, &dir, &addr)

			catalog := api.NewCatalog(dir, readerOptions(ctx), log)
			logs, err := catalog.Refresh()
			if err != nil {
				return err
			}
			server := api.NewServer(catalog, log)

			e := echo.New()
			e.Use(middleware.RequestLogger())
			e.Use(middleware.Recover())
			server.Register(e)

			log.Info("starting server", "address", addr, "dir", dir, "logs", len(logs))
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
