package socket

import (
	"bufio"
	"encoding/json"
	"fmt"
	"net"
	"os"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/corey/kwtag/internal/ports"
)

// AppQueries is the daemon surface the server exposes.
// Thread safety is the implementor's responsibility.
type AppQueries interface {
	Scan(params ScanParams) (ScanResult, error)
	Tag(rec *ports.Record) (bool, error)
	Stats() StatsResult
	Reload(name string) (ReloadResult, error)
	Health() HealthResult
}

// Server is the daemon that listens on a Unix socket and serves requests.
type Server struct {
	queries  AppQueries
	log      zerolog.Logger
	listener net.Listener
	sockPath string
	started  time.Time

	done         chan struct{}
	shutdownCh   chan struct{} // closed when a remote shutdown request is received
	shutdownOnce sync.Once
	stopOnce     sync.Once
	wg           sync.WaitGroup
}

// NewServer creates a daemon server backed by queries.
func NewServer(queries AppQueries, sockPath string, log zerolog.Logger) *Server {
	return &Server{
		queries:    queries,
		log:        log,
		sockPath:   sockPath,
		done:       make(chan struct{}),
		shutdownCh: make(chan struct{}),
	}
}

// Start begins listening on the Unix socket. It handles stale sockets by
// attempting a connection first: if the connection fails, the stale socket
// is removed before binding.
func (s *Server) Start() error {
	if _, err := os.Stat(s.sockPath); err == nil {
		conn, err := net.DialTimeout("unix", s.sockPath, 500*time.Millisecond)
		if err == nil {
			conn.Close()
			return fmt.Errorf("daemon already running at %s", s.sockPath)
		}
		os.Remove(s.sockPath)
	}

	ln, err := net.Listen("unix", s.sockPath)
	if err != nil {
		return fmt.Errorf("listen: %w", err)
	}
	s.listener = ln
	s.started = time.Now()

	s.wg.Add(1)
	go s.acceptLoop()

	s.log.Info().Str("socket", s.sockPath).Msg("socket server listening")
	return nil
}

// Stop gracefully shuts down the server, closing the listener and removing the socket file.
// Idempotent: safe to call after a remote shutdown and again on a signal.
func (s *Server) Stop() error {
	s.stopOnce.Do(func() {
		close(s.done)
		if s.listener != nil {
			s.listener.Close()
			s.wg.Wait()
			os.Remove(s.sockPath)
		}
	})
	return nil
}

// ShutdownCh returns a channel that is closed when a remote shutdown request
// is received. The daemon's main goroutine should select on this alongside
// OS signals so the process actually exits after a remote stop.
func (s *Server) ShutdownCh() <-chan struct{} {
	return s.shutdownCh
}

// Addr returns the socket path the server is listening on.
func (s *Server) Addr() string {
	return s.sockPath
}

// Uptime returns how long the server has been listening.
func (s *Server) Uptime() time.Duration {
	if s.started.IsZero() {
		return 0
	}
	return time.Since(s.started)
}

func (s *Server) acceptLoop() {
	defer s.wg.Done()
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			select {
			case <-s.done:
				return
			default:
				continue
			}
		}
		s.wg.Add(1)
		go s.handleConn(conn)
	}
}

func (s *Server) handleConn(conn net.Conn) {
	defer s.wg.Done()
	defer conn.Close()

	// Unblock the scanner when the server stops.
	closed := make(chan struct{})
	defer close(closed)
	go func() {
		select {
		case <-s.done:
			conn.SetReadDeadline(time.Now())
		case <-closed:
		}
	}()

	scanner := bufio.NewScanner(conn)
	scanner.Buffer(make([]byte, 1024*1024), 16*1024*1024) // 16MB max message

	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}

		var req Request
		if err := json.Unmarshal(line, &req); err != nil {
			s.writeResponse(conn, Response{Error: "invalid request JSON"})
			continue
		}

		resp := s.handleRequest(req)
		s.writeResponse(conn, resp)

		if req.Method == MethodShutdown {
			s.shutdownOnce.Do(func() { close(s.shutdownCh) })
			return
		}
	}
}

func (s *Server) handleRequest(req Request) Response {
	switch req.Method {
	case MethodScan:
		return s.handleScan(req)
	case MethodTag:
		return s.handleTag(req)
	case MethodHealth:
		return s.handleHealth(req)
	case MethodStats:
		return Response{ID: req.ID, Result: s.queries.Stats()}
	case MethodReload:
		return s.handleReload(req)
	case MethodShutdown:
		return Response{ID: req.ID, Result: struct{}{}}
	default:
		return Response{ID: req.ID, Error: fmt.Sprintf("unknown method: %s", req.Method)}
	}
}

func (s *Server) handleScan(req Request) Response {
	var params ScanParams
	if err := remarshal(req.Params, &params); err != nil {
		return Response{ID: req.ID, Error: "invalid scan params"}
	}

	result, err := s.queries.Scan(params)
	if err != nil {
		return Response{ID: req.ID, Error: err.Error()}
	}
	return Response{ID: req.ID, Result: result}
}

func (s *Server) handleTag(req Request) Response {
	var params TagParams
	if err := remarshal(req.Params, &params); err != nil {
		return Response{ID: req.ID, Error: "invalid tag params"}
	}

	rec := params.Record
	passed, err := s.queries.Tag(&rec)
	if err != nil {
		return Response{ID: req.ID, Error: err.Error()}
	}
	return Response{ID: req.ID, Result: TagResult{Record: rec, Passed: passed}}
}

func (s *Server) handleHealth(req Request) Response {
	result := s.queries.Health()
	result.Status = "ok"
	result.Uptime = s.Uptime().Round(time.Second).String()
	return Response{ID: req.ID, Result: result}
}

func (s *Server) handleReload(req Request) Response {
	var params ReloadParams
	if req.Params != nil {
		if err := remarshal(req.Params, &params); err != nil {
			return Response{ID: req.ID, Error: "invalid reload params"}
		}
	}

	result, err := s.queries.Reload(params.Name)
	if err != nil {
		s.log.Warn().Err(err).Str("dictionary", params.Name).Msg("reload failed")
		return Response{ID: req.ID, Error: err.Error()}
	}
	return Response{ID: req.ID, Result: result}
}

func (s *Server) writeResponse(conn net.Conn, resp Response) {
	data, err := json.Marshal(resp)
	if err != nil {
		s.log.Error().Err(err).Str("id", resp.ID).Msg("marshal response")
		return
	}
	data = append(data, '\n')
	conn.Write(data)
}
