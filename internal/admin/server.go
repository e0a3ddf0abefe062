// Package admin serves the operator HTTP endpoints of a running script
// server: health, status, metrics, runtime log level and pprof.
package admin

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	netpprof "net/http/pprof"
	"sync"
	"time"

	"github.com/julienschmidt/httprouter"

	"github.com/codefionn/scriptserve/internal/consts"
	"github.com/codefionn/scriptserve/internal/logger"
	"github.com/codefionn/scriptserve/internal/payload"
	"github.com/codefionn/scriptserve/internal/socketserver"
)

// Target is the script server the admin endpoints report on
type Target interface {
	IsRunning() bool
	Addr() net.Addr
	Format() payload.Format
	EngineName() string
	ActiveConnections() int
	Sessions() []socketserver.SessionInfo
	SetLogLevel(level logger.Level)
}

// Status is the body of GET /status
type Status struct {
	Running           bool                       `json:"running"`
	Address           string                     `json:"address"`
	Format            string                     `json:"format"`
	Engine            string                     `json:"engine"`
	ActiveConnections int                        `json:"active_connections"`
	LogLevel          string                     `json:"log_level"`
	Uptime            string                     `json:"uptime"`
	Sessions          []socketserver.SessionInfo `json:"sessions"`
}

type logLevelRequest struct {
	Level string `json:"level"`
}

// Server is the admin HTTP server
type Server struct {
	target  Target
	metrics http.Handler
	router  *httprouter.Router
	started time.Time
	log     *logger.Logger

	mu       sync.Mutex
	server   *http.Server
	listener net.Listener
	done     chan struct{}
}

// NewServer creates an admin server for target. metrics serves GET
// /metrics; nil disables the endpoint.
func NewServer(target Target, metrics http.Handler) *Server {
	s := &Server{
		target:  target,
		metrics: metrics,
		router:  httprouter.New(),
		started: time.Now(),
		log:     logger.Global().WithPrefix("admin"),
	}

	s.setupRoutes()
	return s
}

// setupRoutes configures all HTTP routes
func (s *Server) setupRoutes() {
	s.router.GET("/health", s.handleHealth)
	s.router.GET("/status", s.handleStatus)
	s.router.PUT("/loglevel", s.handleLogLevel)

	if s.metrics != nil {
		s.router.Handler(http.MethodGet, "/metrics", s.metrics)
	}

	s.router.GET("/debug/pprof/*item", handlePprof)
}

// Handler returns the router serving every admin endpoint
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start listens on addr and serves in the background
func (s *Server) Start(addr string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.server != nil {
		return fmt.Errorf("admin server already started")
	}

	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}

	s.listener = listener
	s.done = make(chan struct{})
	s.server = &http.Server{
		Handler:           s.router,
		ReadHeaderTimeout: consts.Timeout10Seconds,
		ErrorLog:          logger.StdLogger(s.log, slog.LevelError),
	}

	go func() {
		defer close(s.done)
		if err := s.server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log.Error("Admin server failed: %v", err)
		}
	}()

	s.log.Info("Admin server listening on %s", listener.Addr())
	return nil
}

// Addr returns the bound address, nil before Start
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// Stop gracefully stops the HTTP server
func (s *Server) Stop(ctx context.Context) error {
	s.mu.Lock()
	server, done := s.server, s.done
	s.mu.Unlock()

	if server == nil {
		return nil
	}

	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, consts.Timeout5Seconds)
		defer cancel()
	}

	err := server.Shutdown(ctx)
	<-done
	return err
}

// handleHealth returns health status
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	status, code := "ok", http.StatusOK
	if !s.target.IsRunning() {
		status, code = "stopped", http.StatusServiceUnavailable
	}
	writeJSON(w, code, map[string]string{
		"status": status,
		"time":   time.Now().Format(time.RFC3339),
	})
}

// handleStatus reports the server state
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	address := ""
	if addr := s.target.Addr(); addr != nil {
		address = addr.String()
	}

	writeJSON(w, http.StatusOK, Status{
		Running:           s.target.IsRunning(),
		Address:           address,
		Format:            string(s.target.Format()),
		Engine:            s.target.EngineName(),
		ActiveConnections: s.target.ActiveConnections(),
		LogLevel:          logger.Global().GetLevel().String(),
		Uptime:            time.Since(s.started).Round(time.Second).String(),
		Sessions:          s.target.Sessions(),
	})
}

// handleLogLevel changes the process-wide log level
func (s *Server) handleLogLevel(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	var req logLevelRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, consts.BufferSize4KB)).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	level, err := logger.LookupLevel(req.Level)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	s.target.SetLogLevel(level)
	writeJSON(w, http.StatusOK, map[string]string{"level": level.String()})
}

// handlePprof serves the runtime profiles under /debug/pprof/
func handlePprof(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	switch ps.ByName("item") {
	case "/cmdline":
		netpprof.Cmdline(w, r)
	case "/profile":
		netpprof.Profile(w, r)
	case "/symbol":
		netpprof.Symbol(w, r)
	case "/trace":
		netpprof.Trace(w, r)
	default:
		netpprof.Index(w, r)
	}
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}
