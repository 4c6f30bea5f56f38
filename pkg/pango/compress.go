package pango

import (
	"bufio"
	"bytes"
	"fmt"
	"io"

	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
)

// Compression selects how the whole byte stream is wrapped on disk. The
// packet layout inside is unaffected, and readers detect the wrapping from
// its frame magic.
type Compression uint8

const (
	CompressionNone Compression = 0

	// CompressionZstd favours ratio. Good for text-like frames and logs.
	CompressionZstd Compression = 1

	// CompressionLZ4 favours speed. Good for high-rate sensor frames.
	CompressionLZ4 Compression = 2
)

var (
	zstdMagic = []byte{0x28, 0xb5, 0x2f, 0xfd}
	lz4Magic  = []byte{0x04, 0x22, 0x4d, 0x18}
)

func (c Compression) String() string {
	switch c {
	case CompressionNone:
		return "none"
	case CompressionZstd:
		return "zstd"
	case CompressionLZ4:
		return "lz4"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(c))
	}
}

// ParseCompression parses the name returned by Compression.String. The
// empty string means none.
func ParseCompression(name string) (Compression, error) {
	switch name {
	case "", "none":
		return CompressionNone, nil
	case "zstd":
		return CompressionZstd, nil
	case "lz4":
		return CompressionLZ4, nil
	default:
		return 0, fmt.Errorf("unknown compression: %q", name)
	}
}

// nopWriteCloser is the uncompressed sink; closing it leaves w open.
type nopWriteCloser struct{ io.Writer }

func (nopWriteCloser) Close() error { return nil }

// compressWriter wraps w so that bytes written are compressed with c.
// Closing the result flushes the compressor but does not close w.
func compressWriter(w io.Writer, c Compression) (io.WriteCloser, error) {
	switch c {
	case CompressionNone:
		return nopWriteCloser{w}, nil
	case CompressionZstd:
		enc, err := zstd.NewWriter(w, zstd.WithEncoderLevel(zstd.SpeedDefault))
		if err != nil {
			return nil, fmt.Errorf("zstd writer: %w", err)
		}
		return enc, nil
	case CompressionLZ4:
		return lz4.NewWriter(w), nil
	default:
		return nil, fmt.Errorf("unsupported compression: %s", c)
	}
}

// decompressReader inspects the first bytes of br and, if they carry a
// zstd or lz4 frame magic, returns a reader over the decompressed stream.
// The returned release func frees decoder resources.
func decompressReader(br *bufio.Reader) (io.Reader, Compression, func(), error) {
	head, err := br.Peek(len(zstdMagic))
	if err != nil {
		// Too short to be compressed; let magic validation report it.
		return br, CompressionNone, func() {}, nil
	}

	switch {
	case bytes.Equal(head, zstdMagic):
		dec, err := zstd.NewReader(br)
		if err != nil {
			return nil, 0, nil, fmt.Errorf("zstd reader: %w", err)
		}
		return dec, CompressionZstd, dec.Close, nil
	case bytes.Equal(head, lz4Magic):
		return lz4.NewReader(br), CompressionLZ4, func() {}, nil
	default:
		return br, CompressionNone, func() {}, nil
	}
}
