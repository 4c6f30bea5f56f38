package api

import (
	"fmt"
	"io"

	"github.com/goccy/go-json"
	"github.com/labstack/echo/v5"

	"github.com/samcharles93/pangolog/internal/codec"
)

// SSEStreamWriter writes frame records as server-sent events. Each frame
// event carries its sequence number as the event id, so a reconnecting
// client resumes with Last-Event-ID or ?starting_after=.
type SSEStreamWriter struct {
	w             io.Writer
	flusher       func()
	startingAfter uint64
}

func NewSSEStreamWriter(c *echo.Context) (*SSEStreamWriter, error) {
	res := c.Response()
	flusher, ok := res.(interface{ Flush() })
	if !ok {
		return nil, fmt.Errorf("streaming unsupported")
	}

	res.Header().Set(echo.HeaderContentType, "text/event-stream")
	res.Header().Set("Cache-Control", "no-cache")
	res.Header().Set("Connection", "keep-alive")

	startingAfter := parseUintParam(c.QueryParam("starting_after"))
	if last := parseUintParam(c.Request().Header.Get("Last-Event-ID")); last > startingAfter {
		startingAfter = last
	}

	return &SSEStreamWriter{
		w:             res,
		flusher:       flusher.Flush,
		startingAfter: startingAfter,
	}, nil
}

// StartingAfter is the last sequence number the client already has.
func (s *SSEStreamWriter) StartingAfter() uint64 {
	return s.startingAfter
}

func (s *SSEStreamWriter) Frame(rec *codec.Record) error {
	b, err := codec.MarshalJSON(rec)
	if err != nil {
		return err
	}
	if _, err := fmt.Fprintf(s.w, "id: %d\nevent: frame\ndata: %s\n\n", rec.Seq, b); err != nil {
		return err
	}
	s.flush()
	return nil
}

func (s *SSEStreamWriter) End(end StreamEnd) error {
	return s.send("end", end)
}

func (s *SSEStreamWriter) Failed(err error) error {
	return s.send("error", ErrorBody{Message: err.Error(), Type: "stream_error"})
}

func (s *SSEStreamWriter) send(event string, payload any) error {
	b, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	if _, err := fmt.Fprintf(s.w, "event: %s\ndata: %s\n\n", event, b); err != nil {
		return err
	}
	s.flush()
	return nil
}

func (s *SSEStreamWriter) flush() {
	if s.flusher != nil {
		s.flusher()
	}
}
