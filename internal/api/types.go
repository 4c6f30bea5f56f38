package api

import (
	"time"

	"github.com/goccy/go-json"
)

// LogInfo describes one log in the catalog.
type LogInfo struct {
	ID          string    `json:"id"`
	File        string    `json:"file"`
	Version     string    `json:"version"`
	DateCreated string    `json:"date_created"`
	Endian      string    `json:"endian"`
	Compression string    `json:"compression"`
	SizeBytes   int64     `json:"size_bytes"`
	ModTime     time.Time `json:"mod_time"`

	path string
}

// SourceInfo is the API view of a pango source.
type SourceInfo struct {
	ID             uint32          `json:"id"`
	Type           string          `json:"type"`
	URI            string          `json:"uri"`
	Header         json.RawMessage `json:"header,omitempty"`
	TypedAux       json.RawMessage `json:"typed_aux,omitempty"`
	TypedFrame     json.RawMessage `json:"typed_frame"`
	FrameType      string          `json:"frame_type"`
	FixedFrameSize *uint64         `json:"fixed_frame_size,omitempty"`
}

type StatsInfo struct {
	NumSources   int64 `json:"num_sources"`
	BytesWritten int64 `json:"bytes_written"`
}

// LogDetail is the response of the sources endpoint. It is built by
// reading the whole log, so it includes sources added mid-stream.
type LogDetail struct {
	Log       LogInfo      `json:"log"`
	Sources   []SourceInfo `json:"sources"`
	Stats     *StatsInfo   `json:"stats"`
	Truncated bool         `json:"truncated"`
}

type ListResponse[T any] struct {
	Object string `json:"object"`
	Data   []T    `json:"data"`
}

type ErrorBody struct {
	Message string `json:"message"`
	Type    string `json:"type"`
}

// StreamEnd is the payload of the final SSE event of a frame stream.
type StreamEnd struct {
	Frames    uint64 `json:"frames"`
	LastSeq   uint64 `json:"last_seq"`
	Truncated bool   `json:"truncated"`
}
