// Package codec turns frames read from a pango log into self-describing
// records for export, as JSON lines or as a CBOR sequence.
package codec

import (
	"fmt"
	"io"
	"math"

	"github.com/fxamacker/cbor/v2"
	"github.com/goccy/go-json"
)

type Format uint8

const (
	FormatJSON Format = iota
	FormatCBOR
)

func (f Format) String() string {
	switch f {
	case FormatJSON:
		return "json"
	case FormatCBOR:
		return "cbor"
	default:
		return fmt.Sprintf("format(%d)", uint8(f))
	}
}

// ParseFormat accepts the names returned by Format.String.
func ParseFormat(name string) (Format, error) {
	switch name {
	case "", "json", "jsonl":
		return FormatJSON, nil
	case "cbor":
		return FormatCBOR, nil
	default:
		return 0, fmt.Errorf("unknown export format %q (want json or cbor)", name)
	}
}

// Record is one exported frame. Value holds the frame decoded through its
// type when that is possible; Raw holds the payload otherwise.
type Record struct {
	Source uint32 `json:"source"`
	Type   string `json:"type"`
	Seq    uint64 `json:"seq"`
	Size   uint64 `json:"size"`
	Value  any    `json:"value,omitempty"`
	Raw    []byte `json:"raw,omitempty"`
}

// Encoder writes records to a stream.
type Encoder interface {
	Encode(rec *Record) error
}

// NewEncoder returns an encoder writing f to w.
func NewEncoder(w io.Writer, f Format) (Encoder, error) {
	switch f {
	case FormatJSON:
		return &jsonEncoder{enc: json.NewEncoder(w)}, nil
	case FormatCBOR:
		return &cborEncoder{enc: encMode.NewEncoder(w)}, nil
	default:
		return nil, fmt.Errorf("unsupported export format %s", f)
	}
}

// jsonEncoder writes one compact JSON object per line.
type jsonEncoder struct {
	enc *json.Encoder
}

func (e *jsonEncoder) Encode(rec *Record) error {
	out := *rec
	out.Value = jsonSafe(rec.Value)
	if err := e.enc.Encode(&out); err != nil {
		return fmt.Errorf("encode frame %d of source %d: %w", rec.Seq, rec.Source, err)
	}
	return nil
}

// jsonSafe replaces floats JSON cannot represent with their names.
func jsonSafe(v any) any {
	switch x := v.(type) {
	case float32:
		return jsonSafeFloat(float64(x), v)
	case float64:
		return jsonSafeFloat(x, v)
	case map[string]any:
		out := make(map[string]any, len(x))
		for k, e := range x {
			out[k] = jsonSafe(e)
		}
		return out
	case []any:
		out := make([]any, len(x))
		for i, e := range x {
			out[i] = jsonSafe(e)
		}
		return out
	default:
		return v
	}
}

func jsonSafeFloat(f float64, orig any) any {
	switch {
	case math.IsNaN(f):
		return "NaN"
	case math.IsInf(f, 1):
		return "+Inf"
	case math.IsInf(f, -1):
		return "-Inf"
	default:
		return orig
	}
}

// encMode uses Core Deterministic Encoding so identical frames export to
// identical bytes.
var encMode cbor.EncMode

func init() {
	var err error
	encMode, err = cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic("codec: CBOR encoder initialization failed: " + err.Error())
	}
}

// cborEncoder writes a CBOR sequence (RFC 8742), one map per frame.
type cborEncoder struct {
	enc *cbor.Encoder
}

func (e *cborEncoder) Encode(rec *Record) error {
	if err := e.enc.Encode(rec); err != nil {
		return fmt.Errorf("encode frame %d of source %d: %w", rec.Seq, rec.Source, err)
	}
	return nil
}

// MarshalJSON encodes rec as a single compact JSON object, the same form
// the JSON lines encoder writes.
func MarshalJSON(rec *Record) ([]byte, error) {
	out := *rec
	out.Value = jsonSafe(rec.Value)
	return json.Marshal(&out)
}
