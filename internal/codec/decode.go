package codec

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"

	"github.com/samcharles93/pangolog/pkg/pango"
)

// ErrOpaque is returned by Decode for layouts whose byte encoding the
// format does not define, such as structs with a string member.
var ErrOpaque = errors.New("codec: frame layout is opaque")

// Decode interprets a frame payload through its type. Fixed-size types are
// decoded little-endian member by member. A dynamic string or bytes frame
// is the whole payload, and a dynamic sequence of a fixed-size element is
// split evenly. Anything else reports ErrOpaque.
func Decode(reg *pango.Registry, id pango.TypeID, data []byte) (any, error) {
	t, err := reg.Type(id)
	if err != nil {
		return nil, err
	}

	if t.IsFixedSize() {
		if uint64(len(data)) != t.SizeBytes {
			return nil, fmt.Errorf("%w: %s has %d bytes", pango.ErrFrameSizeMismatch, t.Name, len(data))
		}
		v, _, err := decodeFixed(reg, t, data)
		return v, err
	}

	switch {
	case t.Kind == pango.KindPrimitive && t.Name == "string":
		return string(data), nil
	case t.Kind == pango.KindPrimitive && t.Name == "bytes":
		return data, nil
	case t.Kind == pango.KindArray && t.Count == 0:
		elem, err := reg.Type(t.Elem)
		if err != nil {
			return nil, err
		}
		if !elem.IsFixedSize() || elem.SizeBytes == 0 {
			return nil, ErrOpaque
		}
		if uint64(len(data))%elem.SizeBytes != 0 {
			return nil, fmt.Errorf("%w: %d bytes is not a whole number of %s", pango.ErrFrameSizeMismatch, len(data), elem.Name)
		}
		out := make([]any, 0, uint64(len(data))/elem.SizeBytes)
		for len(data) > 0 {
			v, n, err := decodeFixed(reg, elem, data)
			if err != nil {
				return nil, err
			}
			out = append(out, v)
			data = data[n:]
		}
		return out, nil
	default:
		return nil, ErrOpaque
	}
}

// decodeFixed decodes one value of the fixed-size type t from the front of
// data and returns it with the number of bytes consumed.
func decodeFixed(reg *pango.Registry, t *pango.Type, data []byte) (any, int, error) {
	size := int(t.SizeBytes)
	if len(data) < size {
		return nil, 0, fmt.Errorf("%w: %s needs %d bytes, have %d", pango.ErrFrameSizeMismatch, t.Name, size, len(data))
	}
	le := binary.LittleEndian

	switch t.Kind {
	case pango.KindPrimitive:
		var v any
		switch t.Name {
		case "bool":
			v = data[0] != 0
		case "char":
			v = string(data[:1])
		case "int8":
			v = int8(data[0])
		case "uint8":
			v = data[0]
		case "int16":
			v = int16(le.Uint16(data))
		case "uint16":
			v = le.Uint16(data)
		case "int32":
			v = int32(le.Uint32(data))
		case "uint32":
			v = le.Uint32(data)
		case "int64":
			v = int64(le.Uint64(data))
		case "uint64":
			v = le.Uint64(data)
		case "float32":
			v = math.Float32frombits(le.Uint32(data))
		case "float64":
			v = math.Float64frombits(le.Uint64(data))
		default:
			return nil, 0, fmt.Errorf("%w: primitive %s", ErrOpaque, t.Name)
		}
		return v, size, nil

	case pango.KindStruct:
		out := make(map[string]any, len(t.Fields))
		off := 0
		for _, f := range t.Fields {
			ft, err := reg.Type(f.Type)
			if err != nil {
				return nil, 0, err
			}
			v, n, err := decodeFixed(reg, ft, data[off:])
			if err != nil {
				return nil, 0, fmt.Errorf("field %s: %w", f.Name, err)
			}
			out[f.Name] = v
			off += n
		}
		return out, size, nil

	case pango.KindArray:
		elem, err := reg.Type(t.Elem)
		if err != nil {
			return nil, 0, err
		}
		out := make([]any, 0, t.Count)
		off := 0
		for range t.Count {
			v, n, err := decodeFixed(reg, elem, data[off:])
			if err != nil {
				return nil, 0, err
			}
			out = append(out, v)
			off += n
		}
		return out, size, nil

	default:
		return nil, 0, fmt.Errorf("%w: kind %s", ErrOpaque, t.Kind)
	}
}

// NewRecord builds the export record for the frame data of src, decoding
// it when its layout allows.
func NewRecord(reg *pango.Registry, src *pango.Source, seq uint64, data []byte) (*Record, error) {
	rec := &Record{
		Source: uint32(src.ID),
		Type:   src.Type,
		Seq:    seq,
		Size:   uint64(len(data)),
	}
	v, err := Decode(reg, src.FrameType, data)
	switch {
	case err == nil:
		rec.Value = v
	case errors.Is(err, ErrOpaque):
		rec.Raw = data
	default:
		return nil, err
	}
	return rec, nil
}
