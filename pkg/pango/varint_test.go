package pango

import (
	"bufio"
	"bytes"
	"errors"
	"io"
	"math"
	"testing"
)

func TestCompressedUnsignedIntRoundTrip(t *testing.T) {
	t.Parallel()

	values := []uint64{
		0, 1, 127, 128, 255, 300, 16383, 16384,
		math.MaxUint32, math.MaxUint32 + 1, math.MaxUint64 - 1, math.MaxUint64,
	}

	var buf bytes.Buffer
	for _, v := range values {
		if err := WriteCompressedUnsignedInt(&buf, v); err != nil {
			t.Fatalf("write %d: %v", v, err)
		}
	}

	r := bufio.NewReader(&buf)
	for _, want := range values {
		got, err := ReadCompressedUnsignedInt(r)
		if err != nil {
			t.Fatalf("read %d: %v", want, err)
		}
		if got != want {
			t.Fatalf("round trip: got %d want %d", got, want)
		}
	}
	if _, err := ReadCompressedUnsignedInt(r); !errors.Is(err, io.EOF) {
		t.Fatalf("expected io.EOF after last value, got %v", err)
	}
}

func TestCompressedUnsignedIntWidth(t *testing.T) {
	t.Parallel()

	cases := []struct {
		n    uint64
		want int
	}{
		{0, 1},
		{127, 1},
		{128, 2},
		{16383, 2},
		{16384, 3},
		{math.MaxUint64, MaxCompressedIntLen},
	}
	for _, tc := range cases {
		var buf bytes.Buffer
		if err := WriteCompressedUnsignedInt(&buf, tc.n); err != nil {
			t.Fatalf("write %d: %v", tc.n, err)
		}
		if buf.Len() != tc.want {
			t.Fatalf("encoded width of %d: got %d want %d", tc.n, buf.Len(), tc.want)
		}
		if got := CompressedUnsignedIntLen(tc.n); got != tc.want {
			t.Fatalf("CompressedUnsignedIntLen(%d): got %d want %d", tc.n, got, tc.want)
		}
		if got := AppendCompressedUnsignedInt(nil, tc.n); !bytes.Equal(got, buf.Bytes()) {
			t.Fatalf("append encoding of %d: got %x want %x", tc.n, got, buf.Bytes())
		}
	}
}

func TestCompressedUnsignedIntLittleGroupOrder(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	if err := WriteCompressedUnsignedInt(&buf, 300); err != nil {
		t.Fatalf("write: %v", err)
	}
	if got := buf.Bytes(); !bytes.Equal(got, []byte{0xac, 0x02}) {
		t.Fatalf("encoding of 300: got %x want ac02", got)
	}
}

func TestCompressedUnsignedIntTruncated(t *testing.T) {
	t.Parallel()

	r := bufio.NewReader(bytes.NewReader([]byte{0x80, 0x80}))
	if _, err := ReadCompressedUnsignedInt(r); !errors.Is(err, io.ErrUnexpectedEOF) {
		t.Fatalf("expected io.ErrUnexpectedEOF, got %v", err)
	}
}

func TestCompressedUnsignedIntOverflow(t *testing.T) {
	t.Parallel()

	raw := bytes.Repeat([]byte{0xff}, MaxCompressedIntLen+1)
	r := bufio.NewReader(bytes.NewReader(raw))
	if _, err := ReadCompressedUnsignedInt(r); !errors.Is(err, ErrCorruptInteger) {
		t.Fatalf("expected ErrCorruptInteger, got %v", err)
	}
}
