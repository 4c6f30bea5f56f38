// Package digest computes per-source BLAKE3 digests of a pango log. Two
// logs with the same frames per source digest identically, whatever the
// interleaving, compression or header timestamps.
package digest

import (
	"context"
	"encoding/hex"
	"fmt"
	"io"

	"github.com/zeebo/blake3"

	"github.com/samcharles93/pangolog/pkg/pango"
)

// Sum is a 32-byte BLAKE3 digest.
type Sum [32]byte

func (s Sum) String() string {
	return hex.EncodeToString(s[:])
}

// frameDomainKey keys the hash so frame digests cannot collide with plain
// BLAKE3 hashes of the same bytes.
var frameDomainKey = [32]byte{
	'p', 'a', 'n', 'g', 'o', 'l', 'o', 'g', '.', 'f', 'r', 'a', 'm', 'e', 's',
}

// Summary describes the frames of one source.
type Summary struct {
	ID     pango.SourceID
	Type   string
	URI    string
	Frames uint64
	Bytes  uint64
	Sum    Sum
}

type sourceHash struct {
	h      *blake3.Hasher
	frames uint64
	bytes  uint64
}

// Sources consumes the rest of r and digests every source, including
// sources that appear mid-stream. Each frame contributes its length, as a
// compressed integer, followed by its payload, so frame boundaries are
// part of the digest. The context is checked between frames.
func Sources(ctx context.Context, r *pango.Reader) ([]Summary, error) {
	var hashes []*sourceHash
	var regErr error
	r.RegisterSourceHeaderHandler(pango.SourceObserverFunc(func(id pango.SourceID, _ *pango.Source) {
		for int(id) >= len(hashes) {
			hashes = append(hashes, nil)
		}
		h, err := blake3.NewKeyed(frameDomainKey[:])
		if err != nil {
			panic("digest: BLAKE3 keyed hash initialization failed: " + err.Error())
		}
		hashes[id] = &sourceHash{h: h}
		if err := r.RegisterFrameHandler(id); err != nil && regErr == nil {
			regErr = err
		}
	}))

	var lenBuf [pango.MaxCompressedIntLen]byte
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if regErr != nil {
			return nil, regErr
		}
		id, ok, err := r.Advance()
		if err != nil {
			return nil, err
		}
		if !ok {
			break
		}

		sh := hashes[id]
		n := r.FrameLen()
		_, _ = sh.h.Write(pango.AppendCompressedUnsignedInt(lenBuf[:0], n))
		copied, err := io.Copy(sh.h, r.FrameReader())
		if err != nil {
			return nil, fmt.Errorf("digest source %d: %w", id, err)
		}
		sh.frames++
		sh.bytes += uint64(copied)
	}

	sources := r.Sources()
	out := make([]Summary, len(sources))
	for i, src := range sources {
		out[i] = Summary{ID: src.ID, Type: src.Type, URI: src.URI}
		if i < len(hashes) && hashes[i] != nil {
			sh := hashes[i]
			out[i].Frames = sh.frames
			out[i].Bytes = sh.bytes
			copy(out[i].Sum[:], sh.h.Sum(nil))
		}
	}
	return out, nil
}

// File opens the log at path and digests it.
func File(ctx context.Context, path string, opts pango.ReaderOptions) ([]Summary, error) {
	r, err := pango.Open(path, opts)
	if err != nil {
		return nil, err
	}
	defer r.Close()
	return Sources(ctx, r)
}
