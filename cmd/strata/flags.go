package main

import (
	"log/slog"
	"os"

	"github.com/urfave/cli/v3"

	"github.com/samcharles93/strata/internal/device"
	"github.com/samcharles93/strata/internal/logger"
)

var (
	backend   string
	deviceID  int64
	simBytes  int64
	maxBlocks int64
	seed      int64
	logLevel  string
	logFormat string
	debug     bool
)

func deviceFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:        "backend",
			Usage:       "execution backend (auto, sim, cuda)",
			Value:       device.Auto,
			Destination: &backend,
		},
		&cli.Int64Flag{
			Name:        "device",
			Usage:       "device ordinal",
			Value:       device.DefaultDevice,
			Destination: &deviceID,
		},
		&cli.Int64Flag{
			Name:        "sim-bytes",
			Usage:       "simulated device heap size in bytes (sim backend only)",
			Destination: &simBytes,
		},
		&cli.Int64Flag{
			Name:        "max-blocks",
			Usage:       "override the per-launch block cap",
			Destination: &maxBlocks,
		},
		&cli.Int64Flag{
			Name:        "seed",
			Usage:       "seed for device random state",
			Destination: &seed,
		},
	}
}

func loggingFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:        "log-level",
			Usage:       "log level (debug, info, warn, error)",
			Value:       "info",
			Destination: &logLevel,
		},
		&cli.StringFlag{
			Name:        "log-format",
			Usage:       "log format (pretty, json, text)",
			Value:       "pretty",
			Destination: &logFormat,
		},
		&cli.BoolFlag{
			Name:        "debug",
			Usage:       "enable debug logging (shorthand for --log-level=debug)",
			Destination: &debug,
		},
	}
}

func buildLogger() logger.Logger {
	level := logger.ParseLevel(logLevel)
	if debug {
		level = slog.LevelDebug
	}
	switch logFormat {
	case "json":
		return logger.JSON(os.Stderr, level)
	case "text":
		return logger.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	default:
		return logger.Pretty(os.Stderr, level)
	}
}

func openDevice() (*device.Context, error) {
	return device.Open(device.Config{
		Backend:   backend,
		ID:        int(deviceID),
		Seed:      seed,
		MaxBlocks: int(maxBlocks),
		SimBytes:  simBytes,
	})
}
