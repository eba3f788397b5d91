package web

import (
	"context"
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"io"
	"io/fs"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/corey/kwtag/internal/adapters/socket"
	"github.com/corey/kwtag/internal/ports"
)

// maxBody bounds request bodies for scan and tag.
const maxBody = 16 << 20

// Server serves the dashboard, the JSON API and Prometheus metrics over HTTP.
type Server struct {
	queries  socket.AppQueries
	gatherer prometheus.Gatherer
	log      zerolog.Logger
	listener net.Listener
	httpSrv  *http.Server
	port     int
	started  time.Time
	stopOnce sync.Once

	portFilePath string // .kwtag/http.port
}

// NewServer creates an HTTP server. gatherer may be nil to disable /metrics.
// The portFilePath is where the bound port is written for discovery.
func NewServer(queries socket.AppQueries, gatherer prometheus.Gatherer, portFilePath string, log zerolog.Logger) *Server {
	return &Server{
		queries:      queries,
		gatherer:     gatherer,
		log:          log,
		portFilePath: portFilePath,
	}
}

// DefaultPort computes a directory-specific port: 19000 + (hash(abs_path) % 1000).
func DefaultPort(root string) int {
	abs, err := filepath.Abs(root)
	if err != nil {
		abs = root
	}
	h := sha256.Sum256([]byte(abs))
	// Use first 4 bytes as uint32
	n := uint32(h[0])<<24 | uint32(h[1])<<16 | uint32(h[2])<<8 | uint32(h[3])
	return 19000 + int(n%1000)
}

// Start begins listening on addr (host:port). Writes the bound port to the
// port file.
func (s *Server) Start(addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", addr, err)
	}
	s.listener = ln
	s.port = ln.Addr().(*net.TCPAddr).Port
	s.started = time.Now()

	s.httpSrv = &http.Server{Handler: s.routes(), ReadHeaderTimeout: 5 * time.Second}

	if s.portFilePath != "" {
		if err := os.WriteFile(s.portFilePath, []byte(fmt.Sprintf("%d", s.port)), 0644); err != nil {
			s.log.Warn().Err(err).Msg("write port file")
		}
	}

	go s.httpSrv.Serve(ln)
	s.log.Info().Str("addr", ln.Addr().String()).Msg("http server listening")
	return nil
}

func (s *Server) routes() http.Handler {
	mux := http.NewServeMux()
	static, _ := fs.Sub(staticFS, "static")
	mux.Handle("GET /", http.FileServerFS(static))
	mux.HandleFunc("GET /api/health", s.handleHealth)
	mux.HandleFunc("GET /api/stats", s.handleStats)
	mux.HandleFunc("POST /api/scan", s.handleScan)
	mux.HandleFunc("POST /api/tag", s.handleTag)
	mux.HandleFunc("POST /api/reload", s.handleReload)
	if s.gatherer != nil {
		mux.Handle("GET /metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))
	}
	return mux
}

// Stop gracefully shuts down the HTTP server. Idempotent.
func (s *Server) Stop() {
	s.stopOnce.Do(func() {
		if s.httpSrv != nil {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			s.httpSrv.Shutdown(ctx)
		}
		if s.portFilePath != "" {
			os.Remove(s.portFilePath)
		}
	})
}

// Port returns the bound port number.
func (s *Server) Port() int {
	return s.port
}

// URL returns the dashboard URL.
func (s *Server) URL() string {
	return fmt.Sprintf("http://localhost:%d", s.port)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	result := s.queries.Health()
	result.Status = "ok"
	if !s.started.IsZero() {
		result.Uptime = time.Since(s.started).Round(time.Second).String()
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.queries.Stats())
}

// handleScan scans the raw request body. ?stage= picks the matcher and
// ?first=1 stops at the first match.
func (s *Server) handleScan(w http.ResponseWriter, r *http.Request) {
	data, err := io.ReadAll(io.LimitReader(r.Body, maxBody))
	if err != nil {
		writeError(w, http.StatusBadRequest, "read body")
		return
	}
	params := socket.ScanParams{
		Data:      data,
		Stage:     r.URL.Query().Get("stage"),
		FirstOnly: r.URL.Query().Get("first") == "1",
	}
	result, err := s.queries.Scan(params)
	if err != nil {
		writeError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleTag(w http.ResponseWriter, r *http.Request) {
	var rec ports.Record
	if err := json.NewDecoder(io.LimitReader(r.Body, maxBody)).Decode(&rec); err != nil {
		writeError(w, http.StatusBadRequest, "invalid record JSON")
		return
	}
	passed, err := s.queries.Tag(&rec)
	if err != nil {
		writeError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, socket.TagResult{Record: rec, Passed: passed})
}

func (s *Server) handleReload(w http.ResponseWriter, r *http.Request) {
	result, err := s.queries.Reload(r.URL.Query().Get("name"))
	if err != nil {
		writeError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
