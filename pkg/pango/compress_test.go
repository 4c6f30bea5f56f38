package pango

import (
	"bytes"
	"path/filepath"
	"testing"
)

func TestCompressedRoundTrip(t *testing.T) {
	t.Parallel()

	for _, c := range []Compression{CompressionZstd, CompressionLZ4} {
		t.Run(c.String(), func(t *testing.T) {
			t.Parallel()

			data := writeImuLog(t, WriterOptions{Compression: c})
			if bytes.HasPrefix(data, []byte(Magic)) {
				t.Fatal("compressed log starts with the plain magic")
			}

			r := openBytes(t, data, ReaderOptions{})
			if r.Compression() != c {
				t.Fatalf("Compression() = %s, want %s", r.Compression(), c)
			}
			register(t, r, 0, 1)
			equalFrames(t, drain(t, r), []frame{
				{0, string(imuFrame(1, 2, 3))},
				{1, "hello"},
				{0, string(imuFrame(4, 5, 6))},
				{1, "goodbye world"},
			})
			if st, ok := r.Stats(); !ok || st.BytesWritten != 42 {
				t.Fatalf("stats %+v, %v", st, ok)
			}
		})
	}
}

func TestFlushMakesFramesVisible(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "tail.pango")
	w, err := Create(path, WriterOptions{})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	id := addSource(t, w, "log", "stdout://", `"string"`)
	writeFrame(t, w, id, []byte("flushed"))
	if err := w.Flush(); err != nil {
		t.Fatalf("Flush: %v", err)
	}

	// A reader tailing the file sees everything up to the flush.
	r, err := Open(path, ReaderOptions{})
	if err != nil {
		t.Fatalf("Open while writing: %v", err)
	}
	register(t, r, id)
	if _, ok, err := r.Advance(); !ok || err != nil {
		t.Fatalf("Advance = %v, %v", ok, err)
	}
	got, err := r.ReadFrame()
	if err != nil || string(got) != "flushed" {
		t.Fatalf("ReadFrame = %q, %v", got, err)
	}
	_ = r.Close()

	if err := w.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
}

func TestParseCompression(t *testing.T) {
	t.Parallel()

	for name, want := range map[string]Compression{"": CompressionNone, "none": CompressionNone, "zstd": CompressionZstd, "lz4": CompressionLZ4} {
		got, err := ParseCompression(name)
		if err != nil || got != want {
			t.Fatalf("ParseCompression(%q) = %s, %v", name, got, err)
		}
	}
	if _, err := ParseCompression("gzip"); err == nil {
		t.Fatal("ParseCompression(gzip) succeeded")
	}
}
