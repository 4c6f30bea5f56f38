package main

import (
	"bufio"
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/tidwall/jsonc"
	"github.com/urfave/cli/v3"

	"github.com/samcharles93/pangolog/internal/logger"
	"github.com/samcharles93/pangolog/pkg/pango"
)

// maxLineBytes bounds one stdin line, and so one recorded frame.
const maxLineBytes = 16 << 20

func recordCmd() *cli.Command {
	var (
		out          string
		sourceType   string
		uri          string
		frameSchema  string
		headerFile   string
		auxTypesFile string
		compress     string
		syncEvery    int64
		hexLines     bool
	)

	return &cli.Command{
		Name:      "record",
		Usage:     "Record stdin lines as frames of a single source",
		UsageText: "some-producer | pangolog record --out run.pango --type log",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:        "out",
				Aliases:     []string{"o"},
				Usage:       "output log path (default: <log_dir>/<timestamp>.pango)",
				Destination: &out,
			},
			&cli.StringFlag{
				Name:        "type",
				Usage:       "source type",
				Value:       "log",
				Destination: &sourceType,
			},
			&cli.StringFlag{
				Name:        "uri",
				Usage:       "source uri",
				Value:       "stdin://",
				Destination: &uri,
			},
			&cli.StringFlag{
				Name:        "frame-schema",
				Usage:       "file with the frame schema (JSON or JSONC)",
				Destination: &frameSchema,
			},
			&cli.StringFlag{
				Name:        "header",
				Usage:       "file with the source header (JSON or JSONC)",
				Destination: &headerFile,
			},
			&cli.StringFlag{
				Name:        "aux-types",
				Usage:       "file with named types the frame schema references (JSON or JSONC)",
				Destination: &auxTypesFile,
			},
			&cli.StringFlag{
				Name:        "compress",
				Usage:       "stream compression (none, zstd, lz4)",
				Destination: &compress,
			},
			&cli.Int64Flag{
				Name:        "sync-every",
				Usage:       "write a sync marker and flush every N frames (0 = never)",
				Destination: &syncEvery,
			},
			&cli.BoolFlag{
				Name:        "hex",
				Usage:       "lines are hex encoded binary frames",
				Destination: &hexLines,
			},
			bufferFlag(),
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			log := logger.FromContext(ctx)
			applyRecordConfig(cmd, cfg, &compress)

			comp, err := pango.ParseCompression(compress)
			if err != nil {
				return err
			}
			if syncEvery < 0 {
				return fmt.Errorf("--sync-every must be >= 0, got %d", syncEvery)
			}

			schema, err := readSchemaFile(frameSchema, `"string"`)
			if err != nil {
				return err
			}
			header, err := readSchemaFile(headerFile, `{}`)
			if err != nil {
				return err
			}
			auxTypes, err := readSchemaFile(auxTypesFile, `{}`)
			if err != nil {
				return err
			}

			if out == "" {
				if cfg.LogDir == "" {
					return errors.New("--out is required when log_dir is not configured")
				}
				if err := os.MkdirAll(cfg.LogDir, 0o755); err != nil {
					return fmt.Errorf("create log dir: %w", err)
				}
				out = filepath.Join(cfg.LogDir, defaultLogName(time.Now(), comp))
			}

			w, err := pango.Create(out, pango.WriterOptions{
				BufferSize:  int(bufferSize),
				Compression: comp,
				Logger:      log,
			})
			if err != nil {
				return err
			}
			defer func() { _ = w.Close() }()

			id, err := w.AddSource(sourceType, uri, schema, header, auxTypes)
			if err != nil {
				return err
			}

			log.Info("recording", "path", out, "type", sourceType, "uri", uri, "compression", comp.String())
			n, err := recordLines(ctx, w, id, stdin, hexLines, syncEvery)
			if err != nil {
				return err
			}
			if err := w.Close(); err != nil {
				return err
			}
			log.Info("recording finished", "path", out, "frames", n, "bytes", w.BytesWritten())
			return nil
		},
	}
}

// readSchemaFile returns the JSON held in path, or def when path is empty.
// JSONC comments and trailing commas are stripped.
func readSchemaFile(path, def string) (string, error) {
	if path == "" {
		return def, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	return string(jsonc.ToJSON(data)), nil
}

func defaultLogName(now time.Time, comp pango.Compression) string {
	name := now.Format("20060102-150405") + ".pango"
	switch comp {
	case pango.CompressionZstd:
		name += ".zst"
	case pango.CompressionLZ4:
		name += ".lz4"
	}
	return name
}

type scannedLine struct {
	data []byte
	err  error
}

// recordLines writes each line of r as one frame of id until r is
// exhausted or ctx is cancelled. Stdin reads cannot be interrupted, so
// lines are scanned on their own goroutine.
func recordLines(ctx context.Context, w *pango.Writer, id pango.SourceID, r io.Reader, hexLines bool, syncEvery int64) (uint64, error) {
	lines := make(chan scannedLine)
	done := make(chan struct{})
	defer close(done)

	go func() {
		defer close(lines)
		sc := bufio.NewScanner(r)
		sc.Buffer(make([]byte, 64<<10), maxLineBytes)
		for sc.Scan() {
			line := append([]byte(nil), sc.Bytes()...)
			select {
			case lines <- scannedLine{data: line}:
			case <-done:
				return
			}
		}
		if err := sc.Err(); err != nil {
			select {
			case lines <- scannedLine{err: err}:
			case <-done:
			}
		}
	}()

	var frames uint64
	for {
		var (
			line scannedLine
			ok   bool
		)
		select {
		case <-ctx.Done():
			logger.FromContext(ctx).Info("interrupted, closing log")
			return frames, nil
		case line, ok = <-lines:
		}
		if !ok {
			return frames, nil
		}
		if line.err != nil {
			return frames, fmt.Errorf("read input: %w", line.err)
		}

		data := line.data
		if hexLines {
			decoded, err := hex.DecodeString(strings.TrimSpace(string(data)))
			if err != nil {
				return frames, fmt.Errorf("line %d: %w", frames+1, err)
			}
			data = decoded
		}
		if err := w.WriteSourceFrame(id, data); err != nil {
			return frames, fmt.Errorf("line %d: %w", frames+1, err)
		}
		frames++

		if syncEvery > 0 && frames%uint64(syncEvery) == 0 {
			if err := w.WriteSync(); err != nil {
				return frames, err
			}
			if err := w.Flush(); err != nil {
				return frames, err
			}
		}
	}
}
