package socketserver

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/net/netutil"

	"github.com/codefionn/scriptserve/internal/consts"
	"github.com/codefionn/scriptserve/internal/engine"
	"github.com/codefionn/scriptserve/internal/logger"
	"github.com/codefionn/scriptserve/internal/metrics"
	"github.com/codefionn/scriptserve/internal/payload"
)

// acceptRetryDelay is the pause after an accept error that is neither a
// closed listener nor a timeout
const acceptRetryDelay = 50 * time.Millisecond

// Options configures a Server
type Options struct {
	// Address is the TCP listen address, host:port
	Address string
	// Serializer encodes every outcome; defaults to payload.JSON
	Serializer payload.Serializer
	// Executor runs the scripts; required
	Executor *engine.Executor
	// PollInterval bounds every read; defaults to consts.PollInterval
	PollInterval time.Duration
	// MaxScriptSize limits a request body; defaults to consts.MaxScriptSize
	MaxScriptSize int
	// MaxConnections caps concurrent connections; 0 means no limit
	MaxConnections int
	// Metrics receives server metrics; may be nil
	Metrics *metrics.Collector
	// Spawner runs connection workers; defaults to a GoroutineSpawner
	Spawner Spawner
}

// DefaultAddress is the listen address used when none is configured
func DefaultAddress() string {
	return net.JoinHostPort(consts.DefaultHost, strconv.Itoa(consts.DefaultPort))
}

// Server accepts TCP connections and serves each on its own worker
type Server struct {
	opts     Options
	hub      *Hub
	listener net.Listener

	// stopped is written once by Shutdown and read by every worker
	stopped atomic.Bool

	// Control
	mu         sync.Mutex
	started    bool
	running    bool
	stopOnce   sync.Once
	acceptDone chan struct{}
	releaseCtx func() bool
}

// NewServer creates a server. Nothing is bound until Start.
func NewServer(opts Options) (*Server, error) {
	if opts.Executor == nil {
		return nil, fmt.Errorf("executor is required")
	}
	if opts.Address == "" {
		opts.Address = DefaultAddress()
	}
	if opts.Serializer == nil {
		opts.Serializer = payload.JSON{}
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = consts.PollInterval
	}
	if opts.MaxScriptSize <= 0 {
		opts.MaxScriptSize = consts.MaxScriptSize
	}
	if opts.MaxConnections < 0 {
		return nil, fmt.Errorf("max connections must not be negative: %d", opts.MaxConnections)
	}
	if opts.Spawner == nil {
		opts.Spawner = NewGoroutineSpawner()
	}

	return &Server{
		opts:       opts,
		hub:        NewHub(),
		acceptDone: make(chan struct{}),
	}, nil
}

// Start binds the listen address and begins accepting in the background.
// Canceling ctx shuts the server down.
func (s *Server) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started {
		return fmt.Errorf("server has already been started")
	}
	if s.stopped.Load() {
		return fmt.Errorf("server has been shut down")
	}

	var lc net.ListenConfig
	listener, err := lc.Listen(ctx, "tcp", s.opts.Address)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.opts.Address, err)
	}
	if s.opts.MaxConnections > 0 {
		listener = netutil.LimitListener(listener, s.opts.MaxConnections)
	}

	s.listener = listener
	s.started = true
	s.running = true
	s.releaseCtx = context.AfterFunc(ctx, func() {
		logger.Info("Context canceled, shutting down")
		if err := s.Shutdown(); err != nil {
			logger.Error("Shutdown failed: %v", err)
		}
	})

	go s.acceptLoop(context.WithoutCancel(ctx))

	limit := "unlimited"
	if s.opts.MaxConnections > 0 {
		limit = strconv.Itoa(s.opts.MaxConnections)
	}
	logger.Info("Script server started on %s (format: %s, engine: %s, max connections: %s)",
		listener.Addr(), s.opts.Serializer.Format(), s.EngineName(), limit)

	return nil
}

// Shutdown stops the server. The stop flag is raised before the listener
// is closed. Live connections are not closed: a worker finishes the request
// it is serving and exits at its next read.
func (s *Server) Shutdown() error {
	var err error
	s.stopOnce.Do(func() {
		logger.Info("Stopping script server...")

		s.stopped.Store(true)

		s.mu.Lock()
		listener := s.listener
		s.running = false
		s.mu.Unlock()

		if listener != nil {
			if closeErr := listener.Close(); closeErr != nil && !isClosedError(closeErr) {
				err = fmt.Errorf("failed to close listener: %w", closeErr)
			}
		}

		logger.Info("Script server stopped accepting (live connections: %d)", s.hub.Count())
	})
	return err
}

// Wait blocks until the accept loop and every connection worker have
// returned. It returns immediately if the server was never started.
func (s *Server) Wait() {
	s.mu.Lock()
	started := s.started
	s.mu.Unlock()
	if !started {
		return
	}

	<-s.acceptDone
	s.opts.Spawner.Wait()
	if s.releaseCtx != nil {
		s.releaseCtx()
	}
}

// CloseConnections closes every live connection without waiting for the
// requests they are serving
func (s *Server) CloseConnections() {
	s.hub.CloseAll()
}

// acceptLoop accepts incoming connections
func (s *Server) acceptLoop(ctx context.Context) {
	defer close(s.acceptDone)

	for {
		conn, err := s.listener.Accept()
		if err != nil {
			if s.stopped.Load() || isClosedError(err) {
				logger.Info("Listener closed, exiting accept loop")
				return
			}

			s.opts.Metrics.AcceptFailed()
			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() {
				continue
			}
			logger.Error("Error accepting connection: %v", err)
			time.Sleep(acceptRetryDelay)
			continue
		}

		if s.stopped.Load() {
			logger.Info("Server stopping, rejecting connection from %s", conn.RemoteAddr())
			conn.Close()
			continue
		}

		handler := NewHandler(conn, HandlerOptions{
			Serializer:    s.opts.Serializer,
			Executor:      s.opts.Executor,
			PollInterval:  s.opts.PollInterval,
			MaxScriptSize: s.opts.MaxScriptSize,
			Metrics:       s.opts.Metrics,
			Stopped:       s.stopped.Load,
		})
		s.hub.Register(handler)
		s.opts.Metrics.ConnectionOpened()

		s.opts.Spawner.Spawn(func() {
			defer s.opts.Metrics.ConnectionClosed()
			defer s.hub.Unregister(handler)
			handler.Serve(ctx)
		})

		logger.Info("New connection accepted: %s from %s (total: %d)", handler.ID, conn.RemoteAddr(), s.hub.Count())
	}
}

// SetLogLevel adjusts the process-wide logging verbosity
func (s *Server) SetLogLevel(level logger.Level) {
	logger.SetLevel(level)
	logger.Info("Log level set to %s", level)
}

// Addr returns the bound listen address, nil before Start
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// ActiveConnections returns the number of live connections
func (s *Server) ActiveConnections() int {
	return s.hub.Count()
}

// Sessions lists the live connections
func (s *Server) Sessions() []SessionInfo {
	return s.hub.Sessions()
}

// Format returns the payload format of every response
func (s *Server) Format() payload.Format {
	return s.opts.Serializer.Format()
}

// EngineName returns the name of the script engine
func (s *Server) EngineName() string {
	if e := s.opts.Executor.Engine(); e != nil {
		return e.Name()
	}
	return ""
}

// IsRunning returns whether the server is accepting connections
func (s *Server) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// Stopped returns whether Shutdown has been called
func (s *Server) Stopped() bool {
	return s.stopped.Load()
}

// isClosedError checks if an error indicates a closed listener
func isClosedError(err error) bool {
	return errors.Is(err, net.ErrClosed)
}
