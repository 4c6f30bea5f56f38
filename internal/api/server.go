// Package api serves a read-only HTTP view of a directory of pango logs:
// listing logs and their sources, and streaming the frames of one source
// over server-sent events or a WebSocket.
package api

import (
	"context"
	"errors"
	"net/http"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v5"

	"github.com/samcharles93/pangolog/internal/codec"
	"github.com/samcharles93/pangolog/internal/logger"
	"github.com/samcharles93/pangolog/internal/webui"
	"github.com/samcharles93/pangolog/pkg/pango"
)

type Server struct {
	catalog  *Catalog
	log      logger.Logger
	upgrader websocket.Upgrader
	static   http.Handler
}

func NewServer(catalog *Catalog, log logger.Logger) *Server {
	if log == nil {
		log = logger.Discard()
	}
	s := &Server{
		catalog: catalog,
		log:     log,
		static:  http.FileServer(webui.StaticFS()),
	}
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 64 << 10,
		CheckOrigin:     s.checkOrigin,
	}
	return s
}

func (s *Server) Register(e *echo.Echo) {
	e.GET("/v1/logs", s.handleListLogs)
	e.GET("/v1/logs/:id", s.handleGetLog)
	e.GET("/v1/logs/:id/sources", s.handleListSources)
	e.GET("/v1/logs/:id/sources/:src/frames", s.handleStreamFrames)
	e.GET("/v1/logs/:id/sources/:src/ws", s.handleWebSocket)
	e.GET("/", s.handleIndex)
}

// handleIndex serves the embedded log browser.
func (s *Server) handleIndex(c *echo.Context) error {
	s.static.ServeHTTP(c.Response(), c.Request())
	return nil
}

func (s *Server) handleListLogs(c *echo.Context) error {
	logs, err := s.catalog.Refresh()
	if err != nil {
		return writeError(c, http.StatusInternalServerError, "server_error", err.Error())
	}
	return c.JSON(http.StatusOK, ListResponse[LogInfo]{Object: "list", Data: logs})
}

func (s *Server) handleGetLog(c *echo.Context) error {
	info, err := s.catalog.Get(c.Param("id"))
	if err != nil {
		return writeLogError(c, err)
	}
	return c.JSON(http.StatusOK, info)
}

func (s *Server) handleListSources(c *echo.Context) error {
	detail, err := s.catalog.Describe(c.Param("id"))
	if err != nil {
		return writeLogError(c, err)
	}
	return c.JSON(http.StatusOK, detail)
}

// frameCursor delivers the frames of one source of one log, numbered from 1.
type frameCursor struct {
	r      *pango.Reader
	src    pango.SourceID
	seq    uint64
	source *pango.Source
}

// openSource opens the log and arranges delivery of src, which may be
// declared anywhere in the log. Unknown sources report ErrInvalidSourceID
// before anything is streamed.
func (s *Server) openSource(id string, src pango.SourceID) (*frameCursor, error) {
	r, _, err := s.catalog.Open(id)
	if err != nil {
		return nil, err
	}

	if int(src) >= len(r.Sources()) {
		detail, err := s.catalog.Describe(id)
		if err != nil {
			_ = r.Close()
			return nil, err
		}
		if int(src) >= len(detail.Sources) {
			_ = r.Close()
			return nil, pango.ErrInvalidSourceID
		}
	}

	cur := &frameCursor{r: r, src: src}
	r.RegisterSourceHeaderHandler(pango.SourceObserverFunc(func(id pango.SourceID, source *pango.Source) {
		if id == src {
			cur.source = source
			_ = r.RegisterFrameHandler(id)
		}
	}))
	return cur, nil
}

// next advances to the next frame and returns its payload.
func (f *frameCursor) next(ctx context.Context) ([]byte, bool, error) {
	if err := ctx.Err(); err != nil {
		return nil, false, err
	}
	ok, err := f.r.NextFrame(f.src)
	if err != nil || !ok {
		return nil, false, err
	}
	data, err := f.r.ReadFrame()
	if err != nil {
		return nil, false, err
	}
	f.seq++
	return data, true, nil
}

func (f *frameCursor) record(data []byte) (*codec.Record, error) {
	return codec.NewRecord(f.r.Registry(), f.source, f.seq, data)
}

func (f *frameCursor) Close() error {
	return f.r.Close()
}

func (s *Server) handleStreamFrames(c *echo.Context) error {
	src, err := sourceParam(c)
	if err != nil {
		return writeBadRequest(c, err.Error())
	}
	cur, err := s.openSource(c.Param("id"), src)
	if err != nil {
		return writeLogError(c, err)
	}
	defer cur.Close()

	sw, err := NewSSEStreamWriter(c)
	if err != nil {
		return writeError(c, http.StatusInternalServerError, "server_error", err.Error())
	}
	limit := parseUintParam(c.QueryParam("limit"))
	ctx := c.Request().Context()

	var sent uint64
	for limit == 0 || sent < limit {
		data, ok, err := cur.next(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return nil
			}
			s.log.Warn("frame stream failed", "log", c.Param("id"), "source", src, "error", err)
			return sw.Failed(err)
		}
		if !ok {
			break
		}
		if cur.seq <= sw.StartingAfter() {
			continue
		}
		rec, err := cur.record(data)
		if err != nil {
			return sw.Failed(err)
		}
		if err := sw.Frame(rec); err != nil {
			return err
		}
		sent++
	}
	return sw.End(StreamEnd{Frames: sent, LastSeq: cur.seq, Truncated: cur.r.Truncated()})
}
