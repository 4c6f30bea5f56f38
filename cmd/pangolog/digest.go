package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/urfave/cli/v3"

	"github.com/samcharles93/pangolog/internal/digest"
)

func digestCmd() *cli.Command {
	return &cli.Command{
		Name:      "digest",
		Usage:     "Print per-source frame counts and BLAKE3 digests",
		ArgsUsage: "<log> [<log>...]",
		Flags:     readerFlags(),
		Action: func(ctx context.Context, cmd *cli.Command) error {
			if cmd.NArg() == 0 {
				return errors.New("expected at least one log file")
			}
			applyReaderConfig(cmd, cfg)

			for i, path := range cmd.Args().Slice() {
				sums, err := digest.File(ctx, path, readerOptions(ctx))
				if err != nil {
					return fmt.Errorf("%s: %w", path, err)
				}
				if cmd.NArg() > 1 {
					if i > 0 {
						fmt.Fprintln(stdout)
					}
					fmt.Fprintf(stdout, "%s:\n", path)
				}
				for _, s := range sums {
					fmt.Fprintf(stdout, "%-4d %-16s %8d frames %12s  %s\n", s.ID, s.Type, s.Frames, formatBytes(s.Bytes), s.Sum)
				}
			}
			return nil
		},
	}
}
