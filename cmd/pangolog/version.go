package main

import (
	"context"
	"fmt"

	"github.com/urfave/cli/v3"

	"github.com/samcharles93/pangolog/internal/version"
	"github.com/samcharles93/pangolog/pkg/pango"
)

func versionCmd() *cli.Command {
	return &cli.Command{
		Name:  "version",
		Usage: "Print version information",
		Action: func(ctx context.Context, cmd *cli.Command) error {
			info := version.Resolve()
			fmt.Fprintf(stdout, "version:    %s\n", info.Version)
			if info.Commit != "" {
				commit := info.Commit
				if info.Modified {
					commit += " (modified)"
				}
				fmt.Fprintf(stdout, "commit:     %s\n", commit)
			}
			if info.BuildTime != "" {
				fmt.Fprintf(stdout, "build time: %s\n", info.BuildTime)
			}
			fmt.Fprintf(stdout, "format:     %s %s\n", pango.Magic, pango.Endian)
			return nil
		},
	}
}
