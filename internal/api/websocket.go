package api

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v5"

	"github.com/samcharles93/pangolog/internal/codec"
)

const wsWriteTimeout = 10 * time.Second

// checkOrigin accepts requests without an Origin header and requests
// whose origin is the host being served.
func (s *Server) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	for _, expected := range []string{"http://" + r.Host, "https://" + r.Host} {
		if origin == expected {
			return true
		}
	}
	s.log.Warn("rejected websocket origin", "origin", origin, "host", r.Host)
	return false
}

// handleWebSocket sends one binary message per frame of the source, or
// one JSON text message per frame with ?format=json, and closes the
// connection normally at the end of the log.
func (s *Server) handleWebSocket(c *echo.Context) error {
	src, err := sourceParam(c)
	if err != nil {
		return writeBadRequest(c, err.Error())
	}
	cur, err := s.openSource(c.Param("id"), src)
	if err != nil {
		return writeLogError(c, err)
	}
	defer cur.Close()

	asJSON := c.QueryParam("format") == "json"
	startingAfter := parseUintParam(c.QueryParam("starting_after"))

	conn, err := s.upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		// Upgrade has already replied to the client.
		s.log.Warn("websocket upgrade failed", "error", err)
		return nil
	}
	defer func() {
		if err := conn.Close(); err != nil {
			s.log.Debug("websocket close", "error", err)
		}
	}()

	ctx := c.Request().Context()
	for {
		data, ok, err := cur.next(ctx)
		if err != nil {
			s.closeWith(conn, websocket.CloseInternalServerErr, err.Error())
			return nil
		}
		if !ok {
			break
		}
		if cur.seq <= startingAfter {
			continue
		}

		_ = conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
		if asJSON {
			err = s.writeJSONFrame(conn, cur, data)
		} else {
			err = conn.WriteMessage(websocket.BinaryMessage, data)
		}
		if err != nil {
			s.log.Debug("websocket client gone", "error", err)
			return nil
		}
	}

	reason := "end of log"
	if cur.r.Truncated() {
		reason = "end of truncated log"
	}
	s.closeWith(conn, websocket.CloseNormalClosure, reason)
	return nil
}

func (s *Server) writeJSONFrame(conn *websocket.Conn, cur *frameCursor, data []byte) error {
	rec, err := cur.record(data)
	if err != nil {
		return err
	}
	b, err := codec.MarshalJSON(rec)
	if err != nil {
		return err
	}
	return conn.WriteMessage(websocket.TextMessage, b)
}

// maxCloseReason keeps close frames within the 125-byte control payload.
const maxCloseReason = 123

func (s *Server) closeWith(conn *websocket.Conn, code int, reason string) {
	if len(reason) > maxCloseReason {
		reason = reason[:maxCloseReason]
	}
	msg := websocket.FormatCloseMessage(code, reason)
	if err := conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(wsWriteTimeout)); err != nil {
		s.log.Debug("websocket close frame", "error", err)
	}
}
