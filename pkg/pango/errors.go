package pango

import "errors"

var (
	ErrIO                = errors.New("pango: i/o error")
	ErrBadMagic          = errors.New("pango: unrecognised or corrupted file header")
	ErrMalformedMetadata = errors.New("pango: malformed metadata")
	ErrFrameSizeMismatch = errors.New("pango: frame size does not match fixed-size type")
	ErrUnknownType       = errors.New("pango: unknown type")
	ErrUnknownPacketType = errors.New("pango: unknown packet type")
	ErrInvalidSourceID   = errors.New("pango: invalid source id")
	ErrCorruptInteger    = errors.New("pango: corrupt compressed integer")
	ErrWriterClosed      = errors.New("pango: writer already closed")
	ErrNoFrame           = errors.New("pango: reader is not positioned at a frame")
	ErrNoSync            = errors.New("pango: no sync marker found")
)
