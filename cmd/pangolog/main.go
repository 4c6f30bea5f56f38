package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/urfave/cli/v3"

	"github.com/samcharles93/pangolog/internal/logger"
)

// Seams for tests.
var (
	stdin  io.Reader = os.Stdin
	stdout io.Writer = os.Stdout
	stderr io.Writer = os.Stderr
)

// cfg is loaded once by the root command before any subcommand runs.
var cfg Config

func newApp() *cli.Command {
	return &cli.Command{
		Name:  "pangolog",
		Usage: "Record, inspect and serve pango packet logs",
		Flags: loggingFlags(),
		Before: func(ctx context.Context, cmd *cli.Command) (context.Context, error) {
			loaded, cfgErr := LoadConfig()
			cfg = loaded
			applyLoggingConfig(cmd, cfg)

			level := logLevel
			if debug {
				level = "debug"
			}
			log, err := logger.Setup(stderr, logFormat, level)
			if err != nil {
				return ctx, err
			}
			if cfgErr != nil {
				log.Warn("ignoring config file", "path", configPath(), "error", cfgErr)
			}
			return logger.WithContext(ctx, log), nil
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			return cli.ShowAppHelp(cmd)
		},
		Commands: []*cli.Command{
			recordCmd(),
			infoCmd(),
			extractCmd(),
			dumpCmd(),
			digestCmd(),
			serveCmd(),
			versionCmd(),
		},
	}
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := newApp().Run(ctx, os.Args); err != nil {
		stop()
		_, _ = fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
