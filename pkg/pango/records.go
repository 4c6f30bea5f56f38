package pango

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"

	"github.com/goccy/go-json"
)

// Source record field names.
const (
	fieldType       = "_type_"
	fieldURI        = "_uri_"
	fieldHeader     = "header"
	fieldTypedAux   = "typed_aux"
	fieldTypedFrame = "typed_frame"
)

// maxMetadataBytes bounds a single JSON packet.
const maxMetadataBytes = 64 << 20

// FileHeader is the payload of a HDR packet.
type FileHeader struct {
	Version     string `json:"version"`
	DateCreated string `json:"date_created"`
	Endian      string `json:"endian"`
	LogID       string `json:"log_id,omitempty"`
}

// Stats is the payload of the closing STA packet.
type Stats struct {
	NumSources   int64 `json:"num_sources"`
	BytesWritten int64 `json:"bytes_written"`
}

// sourceRecord is the payload of a SRC packet. Type and URI are pointers
// so a reader can tell a missing field from an empty one.
type sourceRecord struct {
	Type       *string         `json:"_type_"`
	URI        *string         `json:"_uri_"`
	Header     json.RawMessage `json:"header,omitempty"`
	TypedAux   json.RawMessage `json:"typed_aux,omitempty"`
	TypedFrame json.RawMessage `json:"typed_frame,omitempty"`
}

// compactJSON validates text as a single JSON value and returns its compact
// form. Compact JSON never contains a raw newline, so it is safe to
// terminate packets with one.
func compactJSON(what string, text []byte) (json.RawMessage, error) {
	trimmed := bytes.TrimSpace(text)
	if len(trimmed) == 0 {
		return nil, fmt.Errorf("%w: %s: empty document", ErrMalformedMetadata, what)
	}
	if !json.Valid(trimmed) {
		return nil, fmt.Errorf("%w: %s: invalid JSON", ErrMalformedMetadata, what)
	}
	var buf bytes.Buffer
	if err := json.Compact(&buf, trimmed); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrMalformedMetadata, what, err)
	}
	return json.RawMessage(buf.Bytes()), nil
}

func isJSONObject(raw []byte) bool {
	trimmed := bytes.TrimLeft(raw, " \t\r\n")
	return len(trimmed) > 0 && trimmed[0] == '{'
}

// encodeRecord marshals v compactly and appends the packet delimiter.
func encodeRecord(v any) ([]byte, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedMetadata, err)
	}
	return append(data, '\n'), nil
}

// readRecord reads one JSON object from br, stopping on its closing brace,
// then consumes the newline delimiter if present. Bytes after the object
// are never read ahead, because frame data follows immediately.
func readRecord(br *bufio.Reader) ([]byte, error) {
	var (
		buf      []byte
		depth    int
		inString bool
		escaped  bool
	)

	for {
		c, err := br.ReadByte()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil, io.ErrUnexpectedEOF
			}
			return nil, fmt.Errorf("%w: %v", ErrIO, err)
		}

		if depth == 0 {
			switch c {
			case ' ', '\t', '\r', '\n':
				continue
			case '{':
			default:
				return nil, fmt.Errorf("%w: expected JSON object, found %q", ErrMalformedMetadata, c)
			}
		}

		buf = append(buf, c)
		if len(buf) > maxMetadataBytes {
			return nil, fmt.Errorf("%w: metadata block exceeds %d bytes", ErrMalformedMetadata, maxMetadataBytes)
		}

		switch {
		case inString && escaped:
			escaped = false
		case inString && c == '\\':
			escaped = true
		case inString && c == '"':
			inString = false
		case inString:
		case c == '"':
			inString = true
		case c == '{' || c == '[':
			depth++
		case c == '}' || c == ']':
			depth--
		}

		if depth == 0 {
			break
		}
	}

	// Consume the delimiter. Files written by other producers may omit it.
	c, err := br.ReadByte()
	if err == nil && c != '\n' {
		_ = br.UnreadByte()
	}
	return buf, nil
}

// decodeRecord reads a JSON packet from br into v.
func decodeRecord(br *bufio.Reader, v any) ([]byte, error) {
	raw, err := readRecord(br)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedMetadata, err)
	}
	return raw, nil
}
