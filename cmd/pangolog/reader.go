package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/urfave/cli/v3"

	"github.com/samcharles93/pangolog/internal/logger"
	"github.com/samcharles93/pangolog/pkg/pango"
)

func readerOptions(ctx context.Context) pango.ReaderOptions {
	return pango.ReaderOptions{
		BufferSize:    int(bufferSize),
		Logger:        logger.FromContext(ctx),
		StrictSources: strictSources,
	}
}

// openLog opens the single log named on the command line.
func openLog(ctx context.Context, cmd *cli.Command) (*pango.Reader, string, error) {
	if cmd.NArg() != 1 {
		return nil, "", fmt.Errorf("expected exactly one log file, got %d arguments", cmd.NArg())
	}
	applyReaderConfig(cmd, cfg)
	path := cmd.Args().First()
	r, err := pango.Open(path, readerOptions(ctx))
	if err != nil {
		return nil, "", err
	}
	return r, path, nil
}

// advance is Reader.Advance with optional recovery from unknown packets.
func advance(ctx context.Context, r *pango.Reader) (pango.SourceID, bool, error) {
	for {
		if err := ctx.Err(); err != nil {
			return 0, false, err
		}
		id, ok, err := r.Advance()
		if err == nil || !resync || !errors.Is(err, pango.ErrUnknownPacketType) {
			return id, ok, err
		}

		logger.FromContext(ctx).Warn("unknown packet, resynchronising", "error", err)
		if err := r.Resync(); err != nil {
			if errors.Is(err, pango.ErrNoSync) {
				logger.FromContext(ctx).Warn("no sync marker after unknown packet, stopping")
				return 0, false, nil
			}
			return 0, false, err
		}
	}
}

func formatBytes(b uint64) string {
	const (
		kb = 1024
		mb = 1024 * kb
		gb = 1024 * mb
	)
	switch {
	case b >= gb:
		return fmt.Sprintf("%.2f GiB", float64(b)/float64(gb))
	case b >= mb:
		return fmt.Sprintf("%.2f MiB", float64(b)/float64(mb))
	case b >= kb:
		return fmt.Sprintf("%.2f KiB", float64(b)/float64(kb))
	default:
		return fmt.Sprintf("%d B", b)
	}
}
