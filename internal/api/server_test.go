package api

import (
	"encoding/binary"
	"math"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/goccy/go-json"
	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v5"

	"github.com/samcharles93/pangolog/pkg/pango"
)

func imuFrame(x, y, z float32) []byte {
	b := make([]byte, 12)
	binary.LittleEndian.PutUint32(b[0:], math.Float32bits(x))
	binary.LittleEndian.PutUint32(b[4:], math.Float32bits(y))
	binary.LittleEndian.PutUint32(b[8:], math.Float32bits(z))
	return b
}

// writeTestLog writes an imu source up front and a log source declared
// after the first frame.
func writeTestLog(t *testing.T, path string, c pango.Compression) string {
	t.Helper()
	w, err := pango.Create(path, pango.WriterOptions{Compression: c})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	imu, err := w.AddSource("imu", "sensor://imu0", `{"x":"float32","y":"float32","z":"float32"}`, `{"rate_hz":100}`, `{}`)
	if err != nil {
		t.Fatalf("AddSource imu: %v", err)
	}
	if err := w.WriteSourceFrame(imu, imuFrame(1, 2, 3)); err != nil {
		t.Fatalf("WriteSourceFrame: %v", err)
	}
	logSrc, err := w.AddSource("log", "stdout://", `"string"`, `{}`, `{}`)
	if err != nil {
		t.Fatalf("AddSource log: %v", err)
	}
	for _, msg := range []string{"hello", "goodbye world"} {
		if err := w.WriteSourceFrame(logSrc, []byte(msg)); err != nil {
			t.Fatalf("WriteSourceFrame: %v", err)
		}
	}
	if err := w.WriteSourceFrame(imu, imuFrame(4, 5, 6)); err != nil {
		t.Fatalf("WriteSourceFrame: %v", err)
	}
	id := w.Header().LogID
	if err := w.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	return id
}

func newTestEcho(t *testing.T) (*echo.Echo, string) {
	t.Helper()
	dir := t.TempDir()
	id := writeTestLog(t, filepath.Join(dir, "run.pango"), pango.CompressionNone)
	if err := os.WriteFile(filepath.Join(dir, "broken.pango"), []byte("not a log"), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("ignored"), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	server := NewServer(NewCatalog(dir, pango.ReaderOptions{}, nil), nil)
	e := echo.New()
	server.Register(e)
	return e, id
}

func doGet(t *testing.T, e *echo.Echo, path string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec
}

func TestListLogs(t *testing.T) {
	t.Parallel()

	e, id := newTestEcho(t)
	rec := doGet(t, e, "/v1/logs")
	if rec.Code != http.StatusOK {
		t.Fatalf("status: got %d body=%s", rec.Code, rec.Body.String())
	}

	var list ListResponse[LogInfo]
	if err := json.Unmarshal(rec.Body.Bytes(), &list); err != nil {
		t.Fatalf("decode list: %v", err)
	}
	if len(list.Data) != 1 {
		t.Fatalf("expected one readable log, got %+v", list.Data)
	}
	got := list.Data[0]
	if got.ID != id || got.File != "run.pango" || got.Compression != "none" || got.Endian != pango.Endian {
		t.Fatalf("unexpected log info: %+v", got)
	}

	rec = doGet(t, e, "/v1/logs/"+id)
	if rec.Code != http.StatusOK {
		t.Fatalf("get status: got %d body=%s", rec.Code, rec.Body.String())
	}
}

func TestUnknownLog(t *testing.T) {
	t.Parallel()

	e, _ := newTestEcho(t)
	for _, path := range []string{"/v1/logs/nope", "/v1/logs/nope/sources", "/v1/logs/nope/sources/0/frames"} {
		rec := doGet(t, e, path)
		if rec.Code != http.StatusNotFound {
			t.Fatalf("%s: expected 404, got %d body=%s", path, rec.Code, rec.Body.String())
		}
		if !strings.Contains(rec.Body.String(), "not_found_error") {
			t.Fatalf("%s: unexpected error body: %s", path, rec.Body.String())
		}
	}
}

func TestListSources(t *testing.T) {
	t.Parallel()

	e, id := newTestEcho(t)
	rec := doGet(t, e, "/v1/logs/"+id+"/sources")
	if rec.Code != http.StatusOK {
		t.Fatalf("status: got %d body=%s", rec.Code, rec.Body.String())
	}

	var detail LogDetail
	if err := json.Unmarshal(rec.Body.Bytes(), &detail); err != nil {
		t.Fatalf("decode sources: %v", err)
	}
	if len(detail.Sources) != 2 {
		t.Fatalf("expected 2 sources including the mid-stream one, got %d", len(detail.Sources))
	}
	imu, logSrc := detail.Sources[0], detail.Sources[1]
	if imu.FixedFrameSize == nil || *imu.FixedFrameSize != 12 {
		t.Fatalf("imu fixed size: %+v", imu.FixedFrameSize)
	}
	if string(imu.Header) != `{"rate_hz":100}` {
		t.Fatalf("imu header %s", imu.Header)
	}
	if logSrc.Type != "log" || logSrc.FixedFrameSize != nil {
		t.Fatalf("log source: %+v", logSrc)
	}
	if detail.Stats == nil || detail.Stats.NumSources != 2 || detail.Stats.BytesWritten != 42 {
		t.Fatalf("stats: %+v", detail.Stats)
	}
	if detail.Truncated {
		t.Fatal("complete log reported truncated")
	}
}

type sseEvent struct {
	id    string
	event string
	data  string
}

func parseSSE(body string) []sseEvent {
	var out []sseEvent
	for _, block := range strings.Split(strings.TrimSpace(body), "\n\n") {
		var ev sseEvent
		for _, line := range strings.Split(block, "\n") {
			switch {
			case strings.HasPrefix(line, "id: "):
				ev.id = strings.TrimPrefix(line, "id: ")
			case strings.HasPrefix(line, "event: "):
				ev.event = strings.TrimPrefix(line, "event: ")
			case strings.HasPrefix(line, "data: "):
				ev.data = strings.TrimPrefix(line, "data: ")
			}
		}
		out = append(out, ev)
	}
	return out
}

func TestStreamFrames(t *testing.T) {
	t.Parallel()

	e, id := newTestEcho(t)
	rec := doGet(t, e, "/v1/logs/"+id+"/sources/1/frames")
	if rec.Code != http.StatusOK {
		t.Fatalf("status: got %d body=%s", rec.Code, rec.Body.String())
	}
	if ct := rec.Header().Get(echo.HeaderContentType); ct != "text/event-stream" {
		t.Fatalf("content type %q", ct)
	}

	events := parseSSE(rec.Body.String())
	if len(events) != 3 {
		t.Fatalf("expected 2 frames and an end event, got %+v", events)
	}
	if events[0].event != "frame" || events[0].id != "1" || !strings.Contains(events[0].data, `"value":"hello"`) {
		t.Fatalf("first event %+v", events[0])
	}
	if !strings.Contains(events[1].data, `"value":"goodbye world"`) {
		t.Fatalf("second event %+v", events[1])
	}
	if events[2].event != "end" || !strings.Contains(events[2].data, `"frames":2`) {
		t.Fatalf("end event %+v", events[2])
	}
}

func TestStreamFramesDecodesStructs(t *testing.T) {
	t.Parallel()

	e, id := newTestEcho(t)
	events := parseSSE(doGet(t, e, "/v1/logs/"+id+"/sources/0/frames").Body.String())
	if len(events) != 3 {
		t.Fatalf("expected 2 imu frames and an end event, got %+v", events)
	}

	var frame struct {
		Seq   uint64             `json:"seq"`
		Size  uint64             `json:"size"`
		Value map[string]float64 `json:"value"`
	}
	if err := json.Unmarshal([]byte(events[1].data), &frame); err != nil {
		t.Fatalf("decode frame: %v", err)
	}
	if frame.Seq != 2 || frame.Size != 12 || frame.Value["z"] != 6 {
		t.Fatalf("imu frame %+v", frame)
	}
}

func TestStreamFramesResumeAndLimit(t *testing.T) {
	t.Parallel()

	e, id := newTestEcho(t)
	events := parseSSE(doGet(t, e, "/v1/logs/"+id+"/sources/1/frames?starting_after=1").Body.String())
	if len(events) != 2 || !strings.Contains(events[0].data, "goodbye world") {
		t.Fatalf("resume: %+v", events)
	}
	if !strings.Contains(events[1].data, `"last_seq":2`) {
		t.Fatalf("resume end: %+v", events[1])
	}

	req := httptest.NewRequest(http.MethodGet, "/v1/logs/"+id+"/sources/1/frames", nil)
	req.Header.Set("Last-Event-ID", "2")
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	events = parseSSE(rec.Body.String())
	if len(events) != 1 || events[0].event != "end" {
		t.Fatalf("Last-Event-ID resume: %+v", events)
	}

	events = parseSSE(doGet(t, e, "/v1/logs/"+id+"/sources/1/frames?limit=1").Body.String())
	if len(events) != 2 || events[0].id != "1" || !strings.Contains(events[1].data, `"frames":1`) {
		t.Fatalf("limit: %+v", events)
	}
}

func TestStreamFramesBadSource(t *testing.T) {
	t.Parallel()

	e, id := newTestEcho(t)
	if rec := doGet(t, e, "/v1/logs/"+id+"/sources/7/frames"); rec.Code != http.StatusNotFound {
		t.Fatalf("unknown source: got %d body=%s", rec.Code, rec.Body.String())
	}
	if rec := doGet(t, e, "/v1/logs/"+id+"/sources/abc/frames"); rec.Code != http.StatusBadRequest {
		t.Fatalf("bad source id: got %d body=%s", rec.Code, rec.Body.String())
	}
}

func dialFrames(t *testing.T, srv *httptest.Server, path string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + path
	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial %s: %v", path, err)
	}
	if resp.Body != nil {
		_ = resp.Body.Close()
	}
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func TestWebSocketFrames(t *testing.T) {
	t.Parallel()

	e, id := newTestEcho(t)
	srv := httptest.NewServer(e)
	defer srv.Close()

	conn := dialFrames(t, srv, "/v1/logs/"+id+"/sources/0/ws")
	var frames [][]byte
	for {
		mt, data, err := conn.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure) {
				t.Fatalf("expected normal closure, got %v", err)
			}
			break
		}
		if mt != websocket.BinaryMessage {
			t.Fatalf("message type %d", mt)
		}
		frames = append(frames, data)
	}
	if len(frames) != 2 || string(frames[1]) != string(imuFrame(4, 5, 6)) {
		t.Fatalf("received %d frames", len(frames))
	}
}

func TestWebSocketJSONFrames(t *testing.T) {
	t.Parallel()

	e, id := newTestEcho(t)
	srv := httptest.NewServer(e)
	defer srv.Close()

	conn := dialFrames(t, srv, "/v1/logs/"+id+"/sources/1/ws?format=json&starting_after=1")
	mt, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("ReadMessage: %v", err)
	}
	if mt != websocket.TextMessage || !strings.Contains(string(data), `"value":"goodbye world"`) {
		t.Fatalf("message %d %s", mt, data)
	}
	if _, _, err := conn.ReadMessage(); !websocket.IsCloseError(err, websocket.CloseNormalClosure) {
		t.Fatalf("expected normal closure, got %v", err)
	}
}

func TestCompressedLogsInCatalog(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	zid := writeTestLog(t, filepath.Join(dir, "a.pango.zst"), pango.CompressionZstd)
	lid := writeTestLog(t, filepath.Join(dir, "b.pango.lz4"), pango.CompressionLZ4)

	cat := NewCatalog(dir, pango.ReaderOptions{}, nil)
	logs, err := cat.Refresh()
	if err != nil {
		t.Fatalf("Refresh: %v", err)
	}
	if len(logs) != 2 {
		t.Fatalf("expected 2 logs, got %+v", logs)
	}
	for id, want := range map[string]string{zid: "zstd", lid: "lz4"} {
		info, err := cat.Get(id)
		if err != nil {
			t.Fatalf("Get(%s): %v", id, err)
		}
		if info.Compression != want {
			t.Fatalf("%s compression %s, want %s", info.File, info.Compression, want)
		}
		detail, err := cat.Describe(id)
		if err != nil {
			t.Fatalf("Describe(%s): %v", id, err)
		}
		if len(detail.Sources) != 2 {
			t.Fatalf("%s: %d sources", info.File, len(detail.Sources))
		}
	}
}

func TestIndexPage(t *testing.T) {
	t.Parallel()

	e, _ := newTestEcho(t)
	rec := doGet(t, e, "/")
	if rec.Code != http.StatusOK {
		t.Fatalf("status: got %d", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); !strings.HasPrefix(ct, "text/html") {
		t.Fatalf("content type: got %q", ct)
	}
	if !strings.Contains(rec.Body.String(), "/v1/logs") {
		t.Fatal("index page does not reference the API")
	}
}
