package main

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/urfave/cli/v3"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	t.Setenv(envConfigPath, path)
	return path
}

func TestLoadConfig(t *testing.T) {
	t.Run("fields", func(t *testing.T) {
		writeConfig(t, `
log_dir: /var/log/pango
log_level: debug
log_format: json
compression: zstd
buffer_size: 4096
strict_sources: true
server_address: 0.0.0.0:9000
`)
		cfg, err := LoadConfig()
		if err != nil {
			t.Fatalf("LoadConfig: %v", err)
		}
		if cfg.LogDir != "/var/log/pango" || cfg.LogLevel != "debug" || cfg.LogFormat != "json" {
			t.Fatalf("unexpected config: %+v", cfg)
		}
		if cfg.Compression != "zstd" || cfg.ServerAddress != "0.0.0.0:9000" {
			t.Fatalf("unexpected config: %+v", cfg)
		}
		if cfg.BufferSize == nil || *cfg.BufferSize != 4096 {
			t.Fatalf("buffer_size = %v, want 4096", cfg.BufferSize)
		}
		if cfg.StrictSources == nil || !*cfg.StrictSources {
			t.Fatalf("strict_sources = %v, want true", cfg.StrictSources)
		}
	})

	t.Run("missing file", func(t *testing.T) {
		t.Setenv(envConfigPath, filepath.Join(t.TempDir(), "absent.yaml"))
		cfg, err := LoadConfig()
		if err != nil {
			t.Fatalf("LoadConfig: %v", err)
		}
		if cfg != (Config{}) {
			t.Fatalf("expected zero config, got %+v", cfg)
		}
	})

	t.Run("invalid yaml", func(t *testing.T) {
		writeConfig(t, "log_dir: [unterminated\n")
		if _, err := LoadConfig(); err == nil {
			t.Fatal("expected an error for invalid yaml")
		}
	})
}

func TestApplyServeConfigRespectsFlags(t *testing.T) {
	size := int64(1 << 20)
	strict := true
	cfg := Config{
		LogDir:        "/srv/logs",
		ServerAddress: ":9000",
		BufferSize:    &size,
		StrictSources: &strict,
	}

	var dir, addr string
	cmd := &cli.Command{
		Name: "serve",
		Flags: append(readerFlags(),
			&cli.StringFlag{Name: "dir", Value: ".", Destination: &dir},
			&cli.StringFlag{Name: "addr", Value: "127.0.0.1:8080", Destination: &addr},
		),
		Action: func(ctx context.Context, cmd *cli.Command) error {
			applyServeConfig(cmd, cfg, &dir, &addr)
			return nil
		},
	}
	if err := cmd.Run(context.Background(), []string{"serve", "--addr", "localhost:1234"}); err != nil {
		t.Fatalf("run: %v", err)
	}

	if dir != "/srv/logs" {
		t.Errorf("dir = %q, want config value", dir)
	}
	if addr != "localhost:1234" {
		t.Errorf("addr = %q, want flag value", addr)
	}
	if bufferSize != size {
		t.Errorf("bufferSize = %d, want %d", bufferSize, size)
	}
	if !strictSources {
		t.Error("strictSources not applied from config")
	}
}
