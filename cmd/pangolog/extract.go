package main

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/urfave/cli/v3"

	"github.com/samcharles93/pangolog/internal/logger"
	"github.com/samcharles93/pangolog/pkg/pango"
)

func extractCmd() *cli.Command {
	var (
		source int64
		out    string
	)

	return &cli.Command{
		Name:      "extract",
		Usage:     "Write the raw payloads of one source, concatenated",
		ArgsUsage: "<log>",
		Flags: append(readerFlags(),
			&cli.Int64Flag{
				Name:        "source",
				Aliases:     []string{"s"},
				Usage:       "source id",
				Required:    true,
				Destination: &source,
			},
			&cli.StringFlag{
				Name:        "out",
				Aliases:     []string{"o"},
				Usage:       "output path (- for stdout)",
				Value:       "-",
				Destination: &out,
			},
		),
		Action: func(ctx context.Context, cmd *cli.Command) error {
			if source < 0 {
				return fmt.Errorf("--source must be >= 0, got %d", source)
			}
			r, _, err := openLog(ctx, cmd)
			if err != nil {
				return err
			}
			defer func() { _ = r.Close() }()

			dst, closeOut, err := openOutput(out)
			if err != nil {
				return err
			}
			n, err := extractSource(ctx, r, pango.SourceID(source), dst)
			if cerr := closeOut(); err == nil {
				err = cerr
			}
			if err != nil {
				return err
			}
			logger.FromContext(ctx).Info("extracted", "source", source, "frames", n)
			return nil
		},
	}
}

// extractSource copies every frame body of src to dst.
func extractSource(ctx context.Context, r *pango.Reader, src pango.SourceID, dst io.Writer) (uint64, error) {
	seen := false
	r.RegisterSourceHeaderHandler(pango.SourceObserverFunc(func(id pango.SourceID, _ *pango.Source) {
		if id == src {
			seen = true
			_ = r.RegisterFrameHandler(id)
		}
	}))

	var frames uint64
	for {
		_, ok, err := advance(ctx, r)
		if err != nil {
			return frames, err
		}
		if !ok {
			break
		}
		if _, err := io.Copy(dst, r.FrameReader()); err != nil {
			return frames, err
		}
		frames++
	}
	if !seen {
		return 0, fmt.Errorf("%w: %d (log has %d sources)", pango.ErrInvalidSourceID, src, len(r.Sources()))
	}
	return frames, nil
}

// openOutput opens path for writing, with "-" meaning stdout.
func openOutput(path string) (io.Writer, func() error, error) {
	if path == "" || path == "-" {
		return stdout, func() error { return nil }, nil
	}
	f, err := os.Create(path)
	if err != nil {
		return nil, nil, err
	}
	return f, f.Close, nil
}
