package main

import (
	"bufio"
	"context"
	"fmt"
	"io"

	"github.com/urfave/cli/v3"

	"github.com/samcharles93/pangolog/internal/codec"
	"github.com/samcharles93/pangolog/pkg/pango"
)

func dumpCmd() *cli.Command {
	var (
		sources []int64
		format  string
		out     string
	)

	return &cli.Command{
		Name:      "dump",
		Usage:     "Decode frames into JSON lines or a CBOR sequence",
		ArgsUsage: "<log>",
		Flags: append(readerFlags(),
			&cli.Int64SliceFlag{
				Name:        "source",
				Aliases:     []string{"s"},
				Usage:       "source id to dump, may be repeated (default: all)",
				Destination: &sources,
			},
			&cli.StringFlag{
				Name:        "format",
				Aliases:     []string{"f"},
				Usage:       "output format (json, cbor)",
				Value:       "json",
				Destination: &format,
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
			f, err := codec.ParseFormat(format)
			if err != nil {
				return err
			}
			want := make(map[pango.SourceID]bool, len(sources))
			for _, s := range sources {
				if s < 0 {
					return fmt.Errorf("--source must be >= 0, got %d", s)
				}
				want[pango.SourceID(s)] = true
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
			err = dumpFrames(ctx, r, want, f, dst)
			if cerr := closeOut(); err == nil {
				err = cerr
			}
			return err
		},
	}
}

// dumpFrames writes one record per frame of the wanted sources, or of
// every source when want is empty. Sequence numbers start at 1 per source.
func dumpFrames(ctx context.Context, r *pango.Reader, want map[pango.SourceID]bool, f codec.Format, dst io.Writer) error {
	bw := bufio.NewWriter(dst)
	enc, err := codec.NewEncoder(bw, f)
	if err != nil {
		return err
	}

	r.RegisterSourceHeaderHandler(pango.SourceObserverFunc(func(id pango.SourceID, _ *pango.Source) {
		if len(want) == 0 || want[id] {
			_ = r.RegisterFrameHandler(id)
		}
	}))

	var seq []uint64
	for {
		id, ok, err := advance(ctx, r)
		if err != nil {
			return err
		}
		if !ok {
			break
		}
		for int(id) >= len(seq) {
			seq = append(seq, 0)
		}
		seq[id]++

		data, err := r.ReadFrame()
		if err != nil {
			return err
		}
		src, err := r.Source(id)
		if err != nil {
			return err
		}
		rec, err := codec.NewRecord(r.Registry(), src, seq[id], data)
		if err != nil {
			return fmt.Errorf("source %d frame %d: %w", id, seq[id], err)
		}
		if err := enc.Encode(rec); err != nil {
			return err
		}
	}

	for id := range want {
		if int(id) >= len(r.Sources()) {
			return fmt.Errorf("%w: %d (log has %d sources)", pango.ErrInvalidSourceID, id, len(r.Sources()))
		}
	}
	return bw.Flush()
}
