package pango

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"math"
	"os"

	"github.com/samcharles93/pangolog/internal/logger"
)

// MaxFrameBytes bounds the frame length ReadFrame will allocate for.
// Larger frames can still be consumed through FrameReader.
const MaxFrameBytes = 1 << 31

// ReaderOptions configures a Reader. The zero value is usable.
type ReaderOptions struct {
	// BufferSize is the size of the read buffer in bytes.
	BufferSize int

	Logger logger.Logger

	// StrictSources rejects source records that lack a type or URI instead
	// of logging a warning and keeping them with empty fields.
	StrictSources bool

	// Registry receives the types declared by sources. A fresh registry is
	// used when nil.
	Registry *Registry
}

// Reader demultiplexes a log. It keeps exactly one tag of lookahead and
// never buffers frame payloads: frames of sources nobody registered for are
// discarded by length without being copied.
//
// A Reader is not safe for concurrent use. Observers may call
// RegisterFrameHandler for the source they are told about, which takes
// effect before its first frame; they must not advance the Reader.
type Reader struct {
	file    *os.File // nil unless the reader opened it
	release func()
	br      *bufio.Reader

	compression Compression
	registry    *Registry
	sources     []*Source
	observers   []SourceObserver

	header FileHeader
	stats  *Stats

	next Tag

	// Frame the reader is stopped at, if any.
	inFrame   bool
	frameSrc  SourceID
	frameLen  uint64
	frameLeft uint64

	truncated bool
	err       error // sticky fatal error
	strict    bool
	log       logger.Logger
}

// Open opens the log at path, which may be zstd or lz4 compressed.
func Open(path string, opts ReaderOptions) (*Reader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("%w: open %s: %v", ErrIO, path, err)
	}
	r, err := NewReader(f, opts)
	if err != nil {
		_ = f.Close()
		return nil, err
	}
	r.file = f
	return r, nil
}

// NewReader validates the magic, reads the file header and every source
// registered before the first frame. The caller keeps ownership of src.
func NewReader(src io.Reader, opts ReaderOptions) (*Reader, error) {
	bufSize := opts.BufferSize
	if bufSize <= 0 {
		bufSize = defaultBufferSize
	}
	log := opts.Logger
	if log == nil {
		log = logger.Discard()
	}
	registry := opts.Registry
	if registry == nil {
		registry = NewRegistry()
	}

	raw := bufio.NewReaderSize(src, bufSize)
	stream, comp, release, err := decompressReader(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrIO, err)
	}
	br := raw
	if comp != CompressionNone {
		br = bufio.NewReaderSize(stream, bufSize)
	}

	r := &Reader{
		release:     release,
		br:          br,
		compression: comp,
		registry:    registry,
		strict:      opts.StrictSources,
		log:         log,
	}

	if err := r.readPreamble(); err != nil {
		r.release()
		return nil, err
	}
	return r, nil
}

func (r *Reader) readPreamble() error {
	var magic [len(Magic)]byte
	if _, err := io.ReadFull(r.br, magic[:]); err != nil || string(magic[:]) != Magic {
		return ErrBadMagic
	}

	var tag Tag
	if _, err := io.ReadFull(r.br, tag[:]); err != nil {
		return fmt.Errorf("%w: missing file header: %v", ErrMalformedMetadata, err)
	}
	if tag != TagHeader {
		return fmt.Errorf("%w: expected %s packet after magic, found %q", ErrMalformedMetadata, TagHeader, tag[:])
	}
	if err := r.readHeaderPacket(); err != nil {
		if errors.Is(err, io.ErrUnexpectedEOF) {
			return fmt.Errorf("%w: file header: %w", ErrMalformedMetadata, err)
		}
		return err
	}

	if err := r.readTag(); err != nil {
		return err
	}
	for r.next == TagAddSource {
		if err := r.readSourcePacket(); err != nil {
			if errors.Is(err, io.ErrUnexpectedEOF) {
				r.endTruncated(err)
				return nil
			}
			return err
		}
		if err := r.readTag(); err != nil {
			return err
		}
	}
	return nil
}

// Advance processes packets until it reaches a frame of a registered
// source. It returns that source's id and true, with the reader positioned
// at the first byte of the frame body; FrameLen reports its size. At the
// end of the stream it returns false and a nil error.
//
// Any part of the previous frame left unread is skipped first.
func (r *Reader) Advance() (SourceID, bool, error) {
	if r.err != nil {
		return 0, false, r.err
	}
	if err := r.finishFrame(); err != nil {
		return 0, false, err
	}

	for {
		var err error
		switch r.next {
		case TagHeader:
			err = r.readHeaderPacket()
		case TagAddSource:
			err = r.readSourcePacket()
		case TagStats:
			err = r.readStatsPacket()
		case TagSync:
		case TagSourceFrame:
			var id SourceID
			id, err = r.readFrameHeader()
			if err == nil {
				if r.sources[id].registered {
					r.inFrame = true
					return id, true, nil
				}
				err = r.discard(r.frameLeft)
			}
		case TagEnd:
			return 0, false, nil
		default:
			return 0, false, fmt.Errorf("%w: %q", ErrUnknownPacketType, r.next[:])
		}

		if err != nil {
			if errors.Is(err, io.ErrUnexpectedEOF) {
				r.endTruncated(err)
				return 0, false, nil
			}
			// The packet is partly consumed, so the stream position is lost.
			r.err = err
			return 0, false, err
		}
		if err := r.readTag(); err != nil {
			return 0, false, err
		}
	}
}

// NextFrame advances to the next frame of src, skipping frames of every
// other source. It reports false once the stream is exhausted. src must be
// registered, otherwise its frames are skipped like any other.
func (r *Reader) NextFrame(src SourceID) (bool, error) {
	for {
		id, ok, err := r.Advance()
		if err != nil || !ok {
			return false, err
		}
		if id == src {
			return true, nil
		}
		// Another registered source; step over its body.
		if err := r.finishFrame(); err != nil {
			return false, err
		}
	}
}

// FrameSource returns the source of the frame the reader is stopped at.
func (r *Reader) FrameSource() (SourceID, bool) {
	return r.frameSrc, r.inFrame
}

// FrameLen returns the payload size of the frame the reader is stopped at.
func (r *Reader) FrameLen() uint64 {
	if !r.inFrame {
		return 0
	}
	return r.frameLen
}

// ReadFrame reads the body of the frame the reader is stopped at.
func (r *Reader) ReadFrame() ([]byte, error) {
	if !r.inFrame {
		return nil, ErrNoFrame
	}
	if r.frameLeft > MaxFrameBytes {
		return nil, fmt.Errorf("%w: frame of %d bytes exceeds %d, use FrameReader", ErrIO, r.frameLeft, MaxFrameBytes)
	}
	buf := make([]byte, r.frameLeft)
	if _, err := io.ReadFull(r.FrameReader(), buf); err != nil {
		return nil, err
	}
	return buf, nil
}

// FrameReader returns a reader over the unread part of the current frame
// body. It reports io.EOF at the end of the frame.
func (r *Reader) FrameReader() io.Reader {
	return frameBody{r}
}

type frameBody struct{ r *Reader }

func (b frameBody) Read(p []byte) (int, error) {
	r := b.r
	if !r.inFrame || r.frameLeft == 0 {
		return 0, io.EOF
	}
	if uint64(len(p)) > r.frameLeft {
		p = p[:r.frameLeft]
	}
	n, err := r.br.Read(p)
	r.frameLeft -= uint64(n)
	if err != nil {
		if errors.Is(err, io.EOF) {
			err = io.ErrUnexpectedEOF
		}
		src := r.frameSrc
		r.endTruncated(err)
		return n, fmt.Errorf("%w: frame of source %d: %w", ErrIO, src, err)
	}
	return n, nil
}

// RegisterFrameHandler requests delivery of frames of src from the next
// call to Advance onwards.
func (r *Reader) RegisterFrameHandler(src SourceID) error {
	s, err := r.Source(src)
	if err != nil {
		return err
	}
	s.registered = true
	return nil
}

// UnregisterFrameHandler stops delivery of frames of src.
func (r *Reader) UnregisterFrameHandler(src SourceID) error {
	s, err := r.Source(src)
	if err != nil {
		return err
	}
	s.registered = false
	return nil
}

// RegisterSourceHeaderHandler subscribes obs to source discovery. Sources
// already known are replayed in id order before this call returns.
func (r *Reader) RegisterSourceHeaderHandler(obs SourceObserver) {
	r.observers = append(r.observers, obs)
	for _, s := range r.sources {
		obs.NewSource(s.ID, s)
	}
}

// Sources returns every source discovered so far, in id order.
func (r *Reader) Sources() []*Source {
	out := make([]*Source, len(r.sources))
	copy(out, r.sources)
	return out
}

// Source returns the source with the given id.
func (r *Reader) Source(id SourceID) (*Source, error) {
	if int(id) >= len(r.sources) {
		return nil, fmt.Errorf("%w: %d (have %d sources)", ErrInvalidSourceID, id, len(r.sources))
	}
	return r.sources[id], nil
}

// Header returns the most recent file header packet.
func (r *Reader) Header() FileHeader {
	return r.header
}

// Stats returns the closing stats packet once it has been read.
func (r *Reader) Stats() (Stats, bool) {
	if r.stats == nil {
		return Stats{}, false
	}
	return *r.stats, true
}

// Registry returns the registry holding the types of every source.
func (r *Reader) Registry() *Registry {
	return r.registry
}

// Compression reports how the underlying stream was compressed.
func (r *Reader) Compression() Compression {
	return r.compression
}

// Truncated reports whether the stream ended inside a packet rather than
// on a packet boundary.
func (r *Reader) Truncated() bool {
	return r.truncated
}

// Resync scans forward byte by byte for a run of sync tags and resumes at
// the tag following it. It is the recovery path after ErrUnknownPacketType.
func (r *Reader) Resync() error {
	r.inFrame = false
	r.frameLeft = 0

	run := bytes.Repeat(TagSync[:], SyncRunLength)
	window := make([]byte, 0, len(run))
	var skipped int64

	for {
		c, err := r.br.ReadByte()
		if err != nil {
			r.next = TagEnd
			if errors.Is(err, io.EOF) {
				return fmt.Errorf("%w after %d bytes", ErrNoSync, skipped)
			}
			r.err = fmt.Errorf("%w: %v", ErrIO, err)
			return r.err
		}
		skipped++

		if len(window) == len(run) {
			copy(window, window[1:])
			window = window[:len(run)-1]
		}
		window = append(window, c)
		if bytes.Equal(window, run) {
			break
		}
	}

	r.log.Warn("resynchronised", "skipped_bytes", skipped-int64(len(run)))
	return r.readTag()
}

// Close releases the decompressor and, when the reader opened it, the file.
func (r *Reader) Close() error {
	if r.release != nil {
		r.release()
		r.release = nil
	}
	if r.file == nil {
		return nil
	}
	err := r.file.Close()
	r.file = nil
	return err
}

// finishFrame skips whatever the caller left unread of the current frame
// and loads the next tag.
func (r *Reader) finishFrame() error {
	if !r.inFrame {
		return nil
	}
	r.inFrame = false
	if err := r.discard(r.frameLeft); err != nil {
		if errors.Is(err, io.ErrUnexpectedEOF) {
			r.endTruncated(err)
			return nil
		}
		return err
	}
	return r.readTag()
}

func (r *Reader) readTag() error {
	_, err := io.ReadFull(r.br, r.next[:])
	switch {
	case err == nil:
		return nil
	case errors.Is(err, io.EOF):
		r.next = TagEnd
		return nil
	case errors.Is(err, io.ErrUnexpectedEOF):
		r.endTruncated(err)
		return nil
	default:
		r.next = TagEnd
		r.err = fmt.Errorf("%w: read tag: %v", ErrIO, err)
		return r.err
	}
}

func (r *Reader) readFrameHeader() (SourceID, error) {
	id, err := r.readUint()
	if err != nil {
		return 0, err
	}
	if id >= uint64(len(r.sources)) {
		return 0, fmt.Errorf("%w: frame references source %d (have %d sources)", ErrInvalidSourceID, id, len(r.sources))
	}
	src := r.sources[id]

	size := src.frameSize
	if !src.frameFixed {
		if size, err = r.readUint(); err != nil {
			return 0, err
		}
	}
	r.frameSrc = SourceID(id)
	r.frameLen = size
	r.frameLeft = size
	return r.frameSrc, nil
}

// readUint reads a compressed integer inside a packet, where running out of
// bytes always means truncation.
func (r *Reader) readUint() (uint64, error) {
	v, err := ReadCompressedUnsignedInt(r.br)
	if errors.Is(err, io.EOF) {
		return 0, io.ErrUnexpectedEOF
	}
	return v, err
}

func (r *Reader) discard(n uint64) error {
	for n > 0 {
		chunk := n
		if chunk > math.MaxInt32 {
			chunk = math.MaxInt32
		}
		got, err := r.br.Discard(int(chunk))
		n -= uint64(got)
		if err != nil {
			if errors.Is(err, io.EOF) {
				return io.ErrUnexpectedEOF
			}
			return fmt.Errorf("%w: skip frame: %v", ErrIO, err)
		}
	}
	r.frameLeft = 0
	return nil
}

func (r *Reader) endTruncated(cause error) {
	r.truncated = true
	r.inFrame = false
	r.frameLeft = 0
	r.next = TagEnd
	r.log.Warn("log truncated", "error", cause)
}

func (r *Reader) readHeaderPacket() error {
	var h FileHeader
	if _, err := decodeRecord(r.br, &h); err != nil {
		return err
	}
	r.header = h
	r.log.Debug("file header", "version", h.Version, "date_created", h.DateCreated, "endian", h.Endian, "log_id", h.LogID)
	return nil
}

func (r *Reader) readStatsPacket() error {
	var s Stats
	if _, err := decodeRecord(r.br, &s); err != nil {
		return err
	}
	r.stats = &s
	r.log.Debug("stats", "num_sources", s.NumSources, "bytes_written", s.BytesWritten)
	return nil
}

func (r *Reader) readSourcePacket() error {
	id := SourceID(len(r.sources))

	var rec sourceRecord
	raw, err := decodeRecord(r.br, &rec)
	if err != nil {
		return err
	}
	if rec.Type == nil || rec.URI == nil {
		if r.strict {
			return fmt.Errorf("%w: source %d lacks %s or %s", ErrMalformedMetadata, id, fieldType, fieldURI)
		}
		r.log.Warn("missing required fields for source", "id", id, "record", string(raw))
	}

	src := &Source{
		ID:         id,
		Header:     rec.Header,
		TypedAux:   rec.TypedAux,
		TypedFrame: rec.TypedFrame,
	}
	if rec.Type != nil {
		src.Type = *rec.Type
	}
	if rec.URI != nil {
		src.URI = *rec.URI
	}

	if len(rec.TypedFrame) == 0 {
		return fmt.Errorf("%w: source %d lacks %s", ErrMalformedMetadata, id, fieldTypedFrame)
	}
	aux := []byte(rec.TypedAux)
	if !isJSONObject(aux) {
		aux = []byte("{}")
	}
	frameType, err := r.registry.DefineSource(src.Namespace(), aux, rec.TypedFrame)
	if err != nil {
		return fmt.Errorf("source %d: %w", id, err)
	}
	src.bindFrameType(frameType)

	r.sources = append(r.sources, src)
	r.log.Debug("source", "id", id, "type", src.Type, "uri", src.URI, "frame_type", frameType.String())

	for _, obs := range r.observers {
		obs.NewSource(id, src)
	}
	return nil
}
