package main

import "github.com/urfave/cli/v3"

var (
	logLevel      string
	logFormat     string
	debug         bool
	strictSources bool
	bufferSize    int64
	resync        bool
)

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
			Usage:       "log format (auto, pretty, json, text)",
			Value:       "auto",
			Destination: &logFormat,
		},
		&cli.BoolFlag{
			Name:        "debug",
			Usage:       "enable debug logging (shorthand for --log-level=debug)",
			Destination: &debug,
		},
	}
}

func bufferFlag() cli.Flag {
	return &cli.Int64Flag{
		Name:        "buffer-size",
		Usage:       "i/o buffer size in bytes (0 = default)",
		Destination: &bufferSize,
	}
}

func readerFlags() []cli.Flag {
	return []cli.Flag{
		bufferFlag(),
		&cli.BoolFlag{
			Name:        "strict-sources",
			Usage:       "reject source records without _type_ or _uri_",
			Destination: &strictSources,
		},
		&cli.BoolFlag{
			Name:        "resync",
			Usage:       "skip to the next sync marker after an unknown packet instead of failing",
			Destination: &resync,
		},
	}
}
