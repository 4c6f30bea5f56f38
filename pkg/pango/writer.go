package pango

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/samcharles93/pangolog/internal/logger"
	"github.com/samcharles93/pangolog/internal/version"
)

const (
	defaultBufferSize = 64 << 10

	// dateCreatedLayout matches the timestamp format of existing logs.
	dateCreatedLayout = "2006-01-02 15:04:05"
)

// WriterOptions configures a Writer. The zero value is usable.
type WriterOptions struct {
	// BufferSize is the size of the write buffer in bytes.
	BufferSize int

	// Compression wraps the whole output stream.
	Compression Compression

	// Registry is shared with other writers when set. Source ids are still
	// assigned per writer.
	Registry *Registry

	Logger logger.Logger

	// Now stamps the file header. Defaults to time.Now.
	Now func() time.Time

	// Version is recorded in the file header. Defaults to the build version.
	Version string
}

// Writer appends packets to a log. Close must be called exactly once to
// write the closing stats packet; it is safe to defer Close and also call
// it explicitly.
type Writer struct {
	mu sync.Mutex

	file *os.File // nil unless the writer opened it
	comp io.WriteCloser
	bw   *bufio.Writer

	registry     *Registry
	sources      []Source
	bytesWritten uint64
	header       FileHeader

	closed bool
	err    error // sticky i/o error

	log logger.Logger
}

// Create opens path for writing, truncating any existing log, and takes an
// exclusive lock on it for the lifetime of the writer.
func Create(path string, opts WriterOptions) (*Writer, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("%w: create %s: %v", ErrIO, path, err)
	}
	if err := lockFile(f); err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("%w: lock %s: %v", ErrIO, path, err)
	}

	cleanup := func(err error) (*Writer, error) {
		_ = unlockFile(f)
		_ = f.Close()
		return nil, err
	}

	if err := f.Truncate(0); err != nil {
		return cleanup(fmt.Errorf("%w: truncate %s: %v", ErrIO, path, err))
	}

	w, err := newWriter(f, opts)
	if err != nil {
		return cleanup(err)
	}
	w.file = f
	return w, nil
}

// NewWriter starts a log on sink. The caller keeps ownership of sink;
// Close flushes everything written but does not close it.
func NewWriter(sink io.Writer, opts WriterOptions) (*Writer, error) {
	if sink == nil {
		return nil, errors.New("pango: nil sink")
	}
	return newWriter(sink, opts)
}

func newWriter(sink io.Writer, opts WriterOptions) (*Writer, error) {
	comp, err := compressWriter(sink, opts.Compression)
	if err != nil {
		return nil, err
	}

	bufSize := opts.BufferSize
	if bufSize <= 0 {
		bufSize = defaultBufferSize
	}
	registry := opts.Registry
	if registry == nil {
		registry = NewRegistry()
	}
	log := opts.Logger
	if log == nil {
		log = logger.Discard()
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	ver := opts.Version
	if ver == "" {
		ver = version.String()
	}

	w := &Writer{
		comp:     comp,
		bw:       bufio.NewWriterSize(comp, bufSize),
		registry: registry,
		log:      log,
		header: FileHeader{
			Version:     ver,
			DateCreated: now().Format(dateCreatedLayout),
			Endian:      Endian,
			LogID:       uuid.NewString(),
		},
	}

	if err := w.writeHeader(); err != nil {
		_ = comp.Close()
		return nil, err
	}
	w.log.Debug("log opened", "log_id", w.header.LogID, "compression", opts.Compression.String())
	return w, nil
}

func (w *Writer) writeHeader() error {
	if _, err := w.bw.WriteString(Magic); err != nil {
		return w.fail(err)
	}
	record, err := encodeRecord(w.header)
	if err != nil {
		return err
	}
	if err := w.writeTag(TagHeader); err != nil {
		return err
	}
	return w.write(record)
}

// Header returns the file header written at construction.
func (w *Writer) Header() FileHeader {
	return w.header
}

// Registry returns the type registry used by the writer.
func (w *Writer) Registry() *Registry {
	return w.registry
}

// AddSource registers a new source and returns its id. frameSchema is the
// JSON schema of every frame, header is free-form JSON metadata and
// auxTypes is a JSON object of named types frameSchema may reference.
func (w *Writer) AddSource(sourceType, uri, frameSchema, header, auxTypes string) (SourceID, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if err := w.usable(); err != nil {
		return 0, err
	}

	headerRaw, err := compactJSON("frame header", []byte(header))
	if err != nil {
		return 0, err
	}
	auxRaw, err := compactJSON("frame types", []byte(auxTypes))
	if err != nil {
		return 0, err
	}
	frameRaw, err := compactJSON("frame definition", []byte(frameSchema))
	if err != nil {
		return 0, err
	}
	if !isJSONObject(auxRaw) {
		return 0, fmt.Errorf("%w: frame types must be a JSON object", ErrMalformedMetadata)
	}

	frameType, err := w.registry.DefineSource(Namespace(sourceType), auxRaw, frameRaw)
	if err != nil {
		return 0, err
	}

	record, err := encodeRecord(sourceRecord{
		Type:       &sourceType,
		URI:        &uri,
		Header:     headerRaw,
		TypedAux:   auxRaw,
		TypedFrame: frameRaw,
	})
	if err != nil {
		return 0, err
	}
	if err := w.writeTag(TagAddSource); err != nil {
		return 0, err
	}
	if err := w.write(record); err != nil {
		return 0, err
	}

	id := SourceID(len(w.sources))
	src := Source{
		ID:         id,
		Type:       sourceType,
		URI:        uri,
		Header:     headerRaw,
		TypedAux:   auxRaw,
		TypedFrame: frameRaw,
	}
	src.bindFrameType(frameType)
	w.sources = append(w.sources, src)

	w.log.Debug("source added", "id", id, "type", sourceType, "uri", uri, "frame_type", frameType.String())
	return id, nil
}

// WriteSourceFrame appends one frame of source id. Frames of fixed-size
// types must be exactly the declared size; the check happens before any
// byte is written, so a rejected frame leaves the stream intact.
func (w *Writer) WriteSourceFrame(id SourceID, data []byte) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if err := w.usable(); err != nil {
		return err
	}
	if int(id) >= len(w.sources) {
		return fmt.Errorf("%w: %d (have %d sources)", ErrInvalidSourceID, id, len(w.sources))
	}
	src := &w.sources[id]
	if src.frameFixed && uint64(len(data)) != src.frameSize {
		return fmt.Errorf("%w: source %d expects %d bytes, got %d", ErrFrameSizeMismatch, id, src.frameSize, len(data))
	}

	if err := w.writeTag(TagSourceFrame); err != nil {
		return err
	}
	if err := w.writeUint(uint64(id)); err != nil {
		return err
	}
	if !src.frameFixed {
		if err := w.writeUint(uint64(len(data))); err != nil {
			return err
		}
	}
	if err := w.write(data); err != nil {
		return err
	}
	w.bytesWritten += uint64(len(data))
	return nil
}

// WriteSync writes a run of sync tags a reader can use to find its place
// again after corruption.
func (w *Writer) WriteSync() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if err := w.usable(); err != nil {
		return err
	}
	for range SyncRunLength {
		if err := w.writeTag(TagSync); err != nil {
			return err
		}
	}
	return nil
}

// Flush pushes buffered packets through to the sink, including any
// compressor state, so a concurrent tail of the file sees whole packets.
func (w *Writer) Flush() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if err := w.usable(); err != nil {
		return err
	}
	if err := w.bw.Flush(); err != nil {
		return w.fail(err)
	}
	if f, ok := w.comp.(interface{ Flush() error }); ok {
		if err := f.Flush(); err != nil {
			return w.fail(err)
		}
	}
	return nil
}

// NumSources reports how many sources have been added.
func (w *Writer) NumSources() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.sources)
}

// BytesWritten reports the total frame payload bytes written so far.
func (w *Writer) BytesWritten() uint64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.bytesWritten
}

// Close writes the stats packet, flushes and releases the sink. Only the
// first call has any effect.
func (w *Writer) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return nil
	}
	w.closed = true

	var errs []error
	if w.err == nil {
		if err := w.writeStats(); err != nil {
			errs = append(errs, err)
		} else if err := w.bw.Flush(); err != nil {
			errs = append(errs, w.fail(err))
		}
	}
	if err := w.comp.Close(); err != nil {
		errs = append(errs, fmt.Errorf("%w: close compressor: %v", ErrIO, err))
	}
	if w.file != nil {
		if err := w.file.Sync(); err != nil && w.err == nil {
			errs = append(errs, fmt.Errorf("%w: sync: %v", ErrIO, err))
		}
		_ = unlockFile(w.file)
		if err := w.file.Close(); err != nil {
			errs = append(errs, fmt.Errorf("%w: close: %v", ErrIO, err))
		}
		w.file = nil
	}

	w.log.Debug("log closed", "sources", len(w.sources), "bytes_written", w.bytesWritten)
	return errors.Join(errs...)
}

func (w *Writer) writeStats() error {
	record, err := encodeRecord(Stats{
		NumSources:   int64(len(w.sources)),
		BytesWritten: int64(w.bytesWritten),
	})
	if err != nil {
		return err
	}
	if err := w.writeTag(TagStats); err != nil {
		return err
	}
	return w.write(record)
}

func (w *Writer) usable() error {
	if w.closed {
		return ErrWriterClosed
	}
	return w.err
}

func (w *Writer) writeTag(t Tag) error {
	return w.write(t[:])
}

func (w *Writer) writeUint(n uint64) error {
	if err := WriteCompressedUnsignedInt(w.bw, n); err != nil {
		return w.fail(err)
	}
	return nil
}

func (w *Writer) write(p []byte) error {
	if _, err := w.bw.Write(p); err != nil {
		return w.fail(err)
	}
	return nil
}

// fail poisons the writer: once the sink has rejected bytes the stream
// position is unknown, so nothing more may be appended.
func (w *Writer) fail(err error) error {
	if w.err == nil {
		w.err = fmt.Errorf("%w: %v", ErrIO, err)
		w.log.Error("log write failed", "error", err)
	}
	return w.err
}
