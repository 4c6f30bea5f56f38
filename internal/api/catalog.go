package api

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/samcharles93/pangolog/internal/logger"
	"github.com/samcharles93/pangolog/pkg/pango"
)

var ErrLogNotFound = errors.New("log not found")

// LogExtensions are the file suffixes the catalog treats as logs.
var LogExtensions = []string{".pango", ".pango.zst", ".pango.lz4"}

// Catalog indexes the logs in one directory by log id. Logs whose header
// carries no id are indexed by file name.
type Catalog struct {
	dir  string
	opts pango.ReaderOptions
	log  logger.Logger

	mu   sync.Mutex
	logs map[string]LogInfo
}

func NewCatalog(dir string, opts pango.ReaderOptions, log logger.Logger) *Catalog {
	if log == nil {
		log = logger.Discard()
	}
	if opts.Logger == nil {
		opts.Logger = log
	}
	return &Catalog{
		dir:  dir,
		opts: opts,
		log:  log,
		logs: make(map[string]LogInfo),
	}
}

func (c *Catalog) Dir() string {
	return c.dir
}

// Refresh rescans the directory. Files that fail to open as logs are
// skipped with a warning.
func (c *Catalog) Refresh() ([]LogInfo, error) {
	entries, err := os.ReadDir(c.dir)
	if err != nil {
		return nil, fmt.Errorf("scan %s: %w", c.dir, err)
	}

	logs := make(map[string]LogInfo)
	for _, e := range entries {
		if !e.Type().IsRegular() || !IsLogFile(e.Name()) {
			continue
		}
		info, err := c.inspect(e)
		if err != nil {
			c.log.Warn("skipping unreadable log", "file", e.Name(), "error", err)
			continue
		}
		if prev, dup := logs[info.ID]; dup {
			c.log.Warn("duplicate log id", "id", info.ID, "file", info.File, "kept", prev.File)
			continue
		}
		logs[info.ID] = info
	}

	c.mu.Lock()
	c.logs = logs
	c.mu.Unlock()

	out := make([]LogInfo, 0, len(logs))
	for _, info := range logs {
		out = append(out, info)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].DateCreated != out[j].DateCreated {
			return out[i].DateCreated < out[j].DateCreated
		}
		return out[i].File < out[j].File
	})
	return out, nil
}

// Get looks a log up by id, rescanning once if it is not yet known.
func (c *Catalog) Get(id string) (LogInfo, error) {
	c.mu.Lock()
	info, ok := c.logs[id]
	c.mu.Unlock()
	if ok {
		return info, nil
	}

	if _, err := c.Refresh(); err != nil {
		return LogInfo{}, err
	}
	c.mu.Lock()
	info, ok = c.logs[id]
	c.mu.Unlock()
	if !ok {
		return LogInfo{}, fmt.Errorf("%w: %s", ErrLogNotFound, id)
	}
	return info, nil
}

// Open returns a fresh reader over the log with the given id.
func (c *Catalog) Open(id string) (*pango.Reader, LogInfo, error) {
	info, err := c.Get(id)
	if err != nil {
		return nil, LogInfo{}, err
	}
	r, err := pango.Open(info.path, c.opts)
	if err != nil {
		return nil, LogInfo{}, err
	}
	return r, info, nil
}

// Describe reads the whole log to list every source and the closing stats.
func (c *Catalog) Describe(id string) (*LogDetail, error) {
	r, info, err := c.Open(id)
	if err != nil {
		return nil, err
	}
	defer r.Close()

	for {
		_, ok, err := r.Advance()
		if err != nil {
			return nil, err
		}
		if !ok {
			break
		}
	}

	detail := &LogDetail{
		Log:       info,
		Sources:   []SourceInfo{},
		Truncated: r.Truncated(),
	}
	for _, src := range r.Sources() {
		detail.Sources = append(detail.Sources, sourceInfo(r.Registry(), src))
	}
	if st, ok := r.Stats(); ok {
		detail.Stats = &StatsInfo{NumSources: st.NumSources, BytesWritten: st.BytesWritten}
	}
	return detail, nil
}

func (c *Catalog) inspect(e os.DirEntry) (LogInfo, error) {
	path := filepath.Join(c.dir, e.Name())
	fi, err := e.Info()
	if err != nil {
		return LogInfo{}, err
	}
	r, err := pango.Open(path, c.opts)
	if err != nil {
		return LogInfo{}, err
	}
	defer r.Close()

	h := r.Header()
	id := h.LogID
	if id == "" {
		id = e.Name()
	}
	return LogInfo{
		ID:          id,
		File:        e.Name(),
		Version:     h.Version,
		DateCreated: h.DateCreated,
		Endian:      h.Endian,
		Compression: r.Compression().String(),
		SizeBytes:   fi.Size(),
		ModTime:     fi.ModTime().UTC(),
		path:        path,
	}, nil
}

func IsLogFile(name string) bool {
	for _, ext := range LogExtensions {
		if strings.HasSuffix(name, ext) {
			return true
		}
	}
	return false
}

func sourceInfo(reg *pango.Registry, src *pango.Source) SourceInfo {
	info := SourceInfo{
		ID:         uint32(src.ID),
		Type:       src.Type,
		URI:        src.URI,
		Header:     src.Header,
		TypedAux:   src.TypedAux,
		TypedFrame: src.TypedFrame,
	}
	if t, err := reg.Type(src.FrameType); err == nil {
		info.FrameType = t.String()
	}
	if size, fixed := src.FixedFrameSize(); fixed {
		info.FixedFrameSize = &size
	}
	return info
}
