package pango

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

// MaxCompressedIntLen is the widest encoding of a uint64.
const MaxCompressedIntLen = binary.MaxVarintLen64

// WriteCompressedUnsignedInt writes n seven bits at a time, least
// significant group first. Every byte except the last has its high bit set.
func WriteCompressedUnsignedInt(w io.ByteWriter, n uint64) error {
	for n >= 0x80 {
		if err := w.WriteByte(byte(n) | 0x80); err != nil {
			return err
		}
		n >>= 7
	}
	return w.WriteByte(byte(n))
}

// ReadCompressedUnsignedInt reads back a value written by
// WriteCompressedUnsignedInt. A stream that ends inside an encoding returns
// io.ErrUnexpectedEOF; a stream that ends before the first byte returns io.EOF.
func ReadCompressedUnsignedInt(r io.ByteReader) (uint64, error) {
	v, err := binary.ReadUvarint(r)
	if err == nil {
		return v, nil
	}
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return 0, err
	}
	return 0, fmt.Errorf("%w: %v", ErrCorruptInteger, err)
}

// CompressedUnsignedIntLen reports how many bytes n occupies once encoded.
func CompressedUnsignedIntLen(n uint64) int {
	size := 1
	for n >= 0x80 {
		n >>= 7
		size++
	}
	return size
}

// AppendCompressedUnsignedInt appends the encoding of n to dst.
func AppendCompressedUnsignedInt(dst []byte, n uint64) []byte {
	return binary.AppendUvarint(dst, n)
}
