package fartiles

import (
	"context"
	"fmt"
	"net/http"
	"regexp"
	"strconv"
	"sync"
	"time"

	"go.uber.org/zap"
)

// DefaultCacheControl is sent with tile responses. Archives are
// immutable, so clients may cache tiles for as long as they like.
const DefaultCacheControl = "public, max-age=31536000, immutable"

var (
	tilePathPattern     = regexp.MustCompile(`^/([-A-Za-z0-9_.]+)/(\d+)/(\d+)/(\d+)\.pbf$`)
	metadataPathPattern = regexp.MustCompile(`^/([-A-Za-z0-9_.]+)/metadata\.json$`)
	summaryPathPattern  = regexp.MustCompile(`^/([-A-Za-z0-9_.]+)/summary\.json$`)
)

func parseTilePath(path string) (string, uint8, uint32, uint32, bool) {
	res := tilePathPattern.FindStringSubmatch(path)
	if res == nil {
		return "", 0, 0, 0, false
	}
	z, err := strconv.ParseUint(res[2], 10, 8)
	if err != nil {
		return "", 0, 0, 0, false
	}
	x, err := strconv.ParseUint(res[3], 10, 32)
	if err != nil {
		return "", 0, 0, 0, false
	}
	y, err := strconv.ParseUint(res[4], 10, 32)
	if err != nil {
		return "", 0, 0, 0, false
	}
	return res[1], uint8(z), uint32(x), uint32(y), true
}

type archive struct {
	reader  *Reader
	summary []byte
}

// Server maps tile-address paths onto Reader lookups for a set of named
// archives. It is an http middleware: paths it does not recognize fall
// through to the next handler so it can be mounted alongside others.
type Server struct {
	logger       *zap.Logger
	cacheControl string
	metrics      *serverMetrics

	mu       sync.RWMutex
	archives map[string]*archive
}

// NewServer returns an empty Server; register archives with AddArchive
// or OpenArchive before serving.
func NewServer(logger *zap.Logger) *Server {
	return &Server{
		logger:       logger,
		cacheControl: DefaultCacheControl,
		metrics:      newServerMetrics(),
		archives:     make(map[string]*archive),
	}
}

// AddArchive registers an opened Reader under a URL name. summary may
// be nil when the archive has no sidecar.
func (s *Server) AddArchive(name string, reader *Reader, summary []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.archives[name] = &archive{reader: reader, summary: summary}
}

// OpenArchive opens the archive at path, loads its summary sidecar when
// one exists next to it, and registers both under name.
func (s *Server) OpenArchive(ctx context.Context, name string, path string) error {
	reader, err := OpenReader(ctx, path)
	if err != nil {
		return err
	}
	// validate eagerly so a bad path fails at startup, not per-request
	if _, err := reader.GetHeader(ctx); err != nil {
		reader.Close()
		return fmt.Errorf("archive %s: %w", name, err)
	}

	summary, err := readSummarySidecar(path)
	if err != nil {
		s.logger.Warn("no summary sidecar", zap.String("archive", name), zap.Error(err))
		summary = nil
	}

	s.AddArchive(name, reader, summary)
	return nil
}

// Close closes every registered reader.
func (s *Server) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	var firstErr error
	for _, a := range s.archives {
		if err := a.reader.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func (s *Server) archiveFor(name string) (*archive, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.archives[name]
	return a, ok
}

// Middleware returns a handler serving tile, metadata and summary paths
// and delegating everything else to next.
func (s *Server) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		path := r.URL.Path

		var status int
		switch {
		case tilePathPattern.MatchString(path):
			status = s.serveTile(w, r)
		case metadataPathPattern.MatchString(path):
			status = s.serveMetadata(w, r)
		case summaryPathPattern.MatchString(path):
			status = s.serveSummary(w, r)
		default:
			next.ServeHTTP(w, r)
			return
		}

		s.metrics.observe(path, status, time.Since(start))
		s.logger.Debug("response",
			zap.String("path", path),
			zap.Int("status", status),
			zap.Duration("duration", time.Since(start)))
	})
}

func (s *Server) serveTile(w http.ResponseWriter, r *http.Request) int {
	name, z, x, y, ok := parseTilePath(r.URL.Path)
	if !ok {
		http.Error(w, "bad tile path", http.StatusBadRequest)
		return http.StatusBadRequest
	}
	a, ok := s.archiveFor(name)
	if !ok {
		http.Error(w, "archive not found", http.StatusNotFound)
		return http.StatusNotFound
	}

	data, found, err := a.reader.GetTile(r.Context(), z, x, y)
	if err != nil {
		s.logger.Error("tile lookup failed",
			zap.String("archive", name),
			zap.Uint8("z", z), zap.Uint32("x", x), zap.Uint32("y", y),
			zap.Error(err))
		http.Error(w, "internal error", http.StatusInternalServerError)
		return http.StatusInternalServerError
	}
	if !found {
		// valid coordinate, no data: distinct from a malformed request
		w.WriteHeader(http.StatusNoContent)
		return http.StatusNoContent
	}

	w.Header().Set("Content-Type", "application/x-protobuf")
	w.Header().Set("Content-Length", strconv.Itoa(len(data)))
	w.Header().Set("Cache-Control", s.cacheControl)
	w.Write(data)
	return http.StatusOK
}

func (s *Server) serveMetadata(w http.ResponseWriter, r *http.Request) int {
	name := metadataPathPattern.FindStringSubmatch(r.URL.Path)[1]
	a, ok := s.archiveFor(name)
	if !ok {
		http.Error(w, "archive not found", http.StatusNotFound)
		return http.StatusNotFound
	}

	data, err := a.reader.GetMetadata(r.Context())
	if err != nil {
		s.logger.Error("metadata fetch failed", zap.String("archive", name), zap.Error(err))
		http.Error(w, "internal error", http.StatusInternalServerError)
		return http.StatusInternalServerError
	}
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Content-Length", strconv.Itoa(len(data)))
	w.Write(data)
	return http.StatusOK
}

func (s *Server) serveSummary(w http.ResponseWriter, r *http.Request) int {
	name := summaryPathPattern.FindStringSubmatch(r.URL.Path)[1]
	a, ok := s.archiveFor(name)
	if !ok {
		http.Error(w, "archive not found", http.StatusNotFound)
		return http.StatusNotFound
	}
	if a.summary == nil {
		http.Error(w, "no summary for archive", http.StatusNotFound)
		return http.StatusNotFound
	}
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Content-Length", strconv.Itoa(len(a.summary)))
	w.Write(a.summary)
	return http.StatusOK
}
