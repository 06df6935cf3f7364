package main

import (
	"context"
	"net/http"
	"time"

	"github.com/labstack/echo/v5"
	"github.com/labstack/echo/v5/middleware"
	"github.com/urfave/cli/v3"

	"github.com/samcharles93/strata/internal/api"
	"github.com/samcharles93/strata/internal/logger"
	"github.com/samcharles93/strata/internal/mempool"
)

func serveCmd() *cli.Command {
	var (
		addr        string
		readTimeout time.Duration
	)

	flags := append([]cli.Flag{}, deviceFlags()...)
	flags = append(flags, loggingFlags()...)
	flags = append(flags,
		&cli.StringFlag{
			Name:        "addr",
			Usage:       "listen address",
			Value:       "127.0.0.1:8080",
			Destination: &addr,
		},
		&cli.DurationFlag{
			Name:        "read-timeout",
			Usage:       "read timeout",
			Value:       30 * time.Second,
			Destination: &readTimeout,
		},
	)

	return &cli.Command{
		Name:  "serve",
		Usage: "Serve the diagnostics REST API",
		Flags: flags,
		Action: func(ctx context.Context, cmd *cli.Command) error {
			applyServeConfig(cmd, LoadConfig(), &addr)
			log := buildLogger()
			ctx = logger.WithContext(ctx, log)

			dev, err := openDevice()
			if err != nil {
				return err
			}
			defer func() { _ = dev.Close() }()

			return mempool.With(mempool.Config{Driver: dev.Driver(), Log: log}, func(*mempool.Pool) error {
				e := echo.New()
				e.Use(middleware.RequestLogger())
				e.Use(middleware.Recover())
				api.NewServer(dev, log).Register(e)
				log.Info("starting server", "address", addr, "backend", dev.Driver().Name())
				sc := echo.StartConfig{
					Address: addr,
					BeforeServeFunc: func(srv *http.Server) error {
						srv.ReadHeaderTimeout = readTimeout
						return nil
					},
				}
				return sc.Start(ctx, e)
			})
		},
	}
}
