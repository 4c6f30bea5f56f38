package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/urfave/cli/v3"

	"github.com/samcharles93/pangolog/pkg/pango"
)

type sourceCount struct {
	frames uint64
	bytes  uint64
}

func infoCmd() *cli.Command {
	var showTypes bool

	return &cli.Command{
		Name:      "info",
		Usage:     "Print the header, sources and stats of a log",
		ArgsUsage: "<log>",
		Flags: append(readerFlags(),
			&cli.BoolFlag{
				Name:        "types",
				Usage:       "list the named types of every source",
				Destination: &showTypes,
			},
		),
		Action: func(ctx context.Context, cmd *cli.Command) error {
			r, path, err := openLog(ctx, cmd)
			if err != nil {
				return err
			}
			defer func() { _ = r.Close() }()

			var counts []sourceCount
			r.RegisterSourceHeaderHandler(pango.SourceObserverFunc(func(id pango.SourceID, _ *pango.Source) {
				_ = r.RegisterFrameHandler(id)
			}))
			for {
				id, ok, err := advance(ctx, r)
				if err != nil {
					return err
				}
				if !ok {
					break
				}
				for int(id) >= len(counts) {
					counts = append(counts, sourceCount{})
				}
				counts[id].frames++
				counts[id].bytes += r.FrameLen()
			}

			hdr := r.Header()
			fmt.Fprintf(stdout, "File:         %s\n", path)
			fmt.Fprintf(stdout, "Version:      %s\n", hdr.Version)
			fmt.Fprintf(stdout, "Created:      %s\n", hdr.DateCreated)
			fmt.Fprintf(stdout, "Endian:       %s\n", hdr.Endian)
			if hdr.LogID != "" {
				fmt.Fprintf(stdout, "Log ID:       %s\n", hdr.LogID)
			}
			fmt.Fprintf(stdout, "Compression:  %s\n", r.Compression())
			if r.Truncated() {
				fmt.Fprintf(stdout, "Truncated:    yes\n")
			}

			sources := r.Sources()
			fmt.Fprintf(stdout, "\nSources (%d):\n", len(sources))
			for _, src := range sources {
				var c sourceCount
				if int(src.ID) < len(counts) {
					c = counts[src.ID]
				}
				fmt.Fprintf(stdout, "  [%d] %-16s %s\n", src.ID, src.Type, src.URI)
				fmt.Fprintf(stdout, "      frame:  %s\n", frameTypeString(r.Registry(), src))
				fmt.Fprintf(stdout, "      frames: %d (%s)\n", c.frames, formatBytes(c.bytes))
				if len(src.Header) > 0 && string(src.Header) != "{}" {
					fmt.Fprintf(stdout, "      header: %s\n", src.Header)
				}
			}

			if stats, ok := r.Stats(); ok {
				fmt.Fprintf(stdout, "\nStats:\n")
				fmt.Fprintf(stdout, "  sources:       %d\n", stats.NumSources)
				fmt.Fprintf(stdout, "  bytes written: %s\n", formatBytes(uint64(stats.BytesWritten)))
			} else {
				fmt.Fprintf(stdout, "\nStats:        missing (log not closed)\n")
			}

			if showTypes {
				fmt.Fprintf(stdout, "\nTypes:\n")
				seen := make(map[string]bool)
				for _, src := range sources {
					ns := src.Namespace()
					if seen[ns] {
						continue
					}
					seen[ns] = true
					for _, name := range r.Registry().Names(ns) {
						id, err := r.Registry().GetTypeID(name)
						if err != nil {
							continue
						}
						t, err := r.Registry().Type(id)
						if err != nil {
							continue
						}
						fmt.Fprintf(stdout, "  %-40s %s\n", strings.TrimPrefix(name, ns), t)
					}
				}
			}
			return nil
		},
	}
}

func frameTypeString(reg *pango.Registry, src *pango.Source) string {
	t, err := reg.Type(src.FrameType)
	if err != nil {
		return "unknown"
	}
	return t.String()
}
