package socketserver

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/google/uuid"

	"github.com/codefionn/scriptserve/internal/engine"
	"github.com/codefionn/scriptserve/internal/frame"
	"github.com/codefionn/scriptserve/internal/logger"
	"github.com/codefionn/scriptserve/internal/metrics"
	"github.com/codefionn/scriptserve/internal/outcome"
	"github.com/codefionn/scriptserve/internal/payload"
)

// SerializeFailurePrefix starts the message of an outcome replacing one
// whose result could not be serialized
const SerializeFailurePrefix = "Serialize result failed: "

type state int

const (
	stateAwaitFrame state = iota
	stateExecuting
	stateResponding
	stateClosed
)

func (s state) String() string {
	switch s {
	case stateAwaitFrame:
		return "AWAIT_FRAME"
	case stateExecuting:
		return "EXECUTING"
	case stateResponding:
		return "RESPONDING"
	case stateClosed:
		return "CLOSED"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// HandlerOptions configures a Handler
type HandlerOptions struct {
	Serializer    payload.Serializer
	Executor      *engine.Executor
	PollInterval  time.Duration
	MaxScriptSize int
	Metrics       *metrics.Collector
	// Stopped reports whether the server is shutting down. Nil means never.
	Stopped func() bool
}

// Handler serves the requests of one connection, strictly in arrival order
type Handler struct {
	ID string

	conn       net.Conn
	reader     *frame.Reader
	serializer payload.Serializer
	executor   *engine.Executor
	metrics    *metrics.Collector
	stopped    func() bool
	log        *logger.Logger

	closeOnce sync.Once
	served    atomic.Int64
}

// NewHandler creates a handler for conn
func NewHandler(conn net.Conn, opts HandlerOptions) *Handler {
	id := uuid.NewString()
	stopped := opts.Stopped
	if stopped == nil {
		stopped = func() bool { return false }
	}

	var readerOpts []frame.Option
	if opts.PollInterval > 0 {
		readerOpts = append(readerOpts, frame.WithPollInterval(opts.PollInterval))
	}
	if opts.MaxScriptSize > 0 {
		readerOpts = append(readerOpts, frame.WithMaxScriptSize(opts.MaxScriptSize))
	}

	return &Handler{
		ID:         id,
		conn:       conn,
		reader:     frame.NewReader(conn, readerOpts...),
		serializer: opts.Serializer,
		executor:   opts.Executor,
		metrics:    opts.Metrics,
		stopped:    stopped,
		log:        logger.Global().WithPrefix("conn " + id[:8]),
	}
}

// Served returns the number of responses written so far. It is safe to
// call while the handler is serving.
func (h *Handler) Served() int64 {
	return h.served.Load()
}

// Serve runs the connection state machine until the client exits, the
// connection fails or the server stops. The connection is closed on return.
func (h *Handler) Serve(ctx context.Context) {
	defer h.Close()

	h.log.Info("Serving %s", h.conn.RemoteAddr())

	var (
		st  = stateAwaitFrame
		req frame.Request
		out outcome.Outcome
	)
	for {
		switch st {
		case stateAwaitFrame:
			st, req = h.awaitFrame()
		case stateExecuting:
			out = h.execute(ctx, req)
			st = stateResponding
		case stateResponding:
			if err := h.respond(out); err != nil {
				h.log.Error("Failed to write response: %v", err)
				st = stateClosed
				continue
			}
			h.served.Add(1)
			st = stateAwaitFrame
		case stateClosed:
			h.log.Info("Connection closed after %d responses", h.served.Load())
			return
		}
	}
}

func (h *Handler) awaitFrame() (state, frame.Request) {
	if h.stopped() {
		h.log.Debug("Server stopping, leaving %s", stateAwaitFrame)
		return stateClosed, frame.Request{}
	}

	req, err := h.reader.Next(h.stopped)
	if err != nil {
		switch {
		case errors.Is(err, io.EOF):
			h.log.Info("Client disconnected (EOF)")
		case errors.Is(err, net.ErrClosed):
			h.log.Info("Connection closed")
		default:
			h.log.Error("Error reading from client: %v", err)
		}
		return stateClosed, frame.Request{}
	}

	switch req.Kind {
	case frame.Exit:
		h.log.Info("Client exit")
		return stateClosed, frame.Request{}
	case frame.NoFrame:
		return stateAwaitFrame, frame.Request{}
	}

	if h.stopped() {
		h.log.Warn("Server stopping, discarding received script")
		h.metrics.ObserveExecution(h.engineName(), metrics.StatusDiscarded, 0)
		return stateClosed, frame.Request{}
	}
	return stateExecuting, req
}

func (h *Handler) execute(ctx context.Context, req frame.Request) outcome.Outcome {
	name := h.engineName()

	if req.Oversize {
		limit := h.reader.MaxScriptSize()
		h.log.Warn("Script exceeds %d bytes, not executed", limit)
		h.metrics.ObserveExecution(name, metrics.StatusOversize, 0)
		return outcome.Failed("%sscript exceeds the maximum size of %d bytes", engine.FailurePrefix, limit)
	}

	h.log.Info("Received script (%d bytes, digest %016x)", len(req.Body), xxhash.Sum64String(req.Body))
	if h.log.Enabled(logger.LevelDebug) {
		h.log.Debug("Script:\n%s", req.Body)
	}
	h.metrics.ObserveScript(len(req.Body))

	start := time.Now()
	out := h.executor.Execute(ctx, req.Body)
	elapsed := time.Since(start)

	status := metrics.StatusSuccess
	if !out.Success {
		status = metrics.StatusFailure
	}
	h.metrics.ObserveExecution(name, status, elapsed)
	h.log.Debug("Executed in %s: success=%t msg=%q", elapsed, out.Success, out.Message)

	return out
}

// respond serializes out and writes the response frame. A result that has
// no representation in the wire format is replaced by a failure outcome.
func (h *Handler) respond(out outcome.Outcome) error {
	data, err := h.serializer.Marshal(out)
	if err != nil {
		h.log.Warn("Failed to serialize result: %v", err)
		h.metrics.SerializeFailed(string(h.serializer.Format()))

		data, err = h.serializer.Marshal(outcome.Failed("%s%v", SerializeFailurePrefix, err))
		if err != nil {
			return fmt.Errorf("serialize failure outcome: %w", err)
		}
	}
	return frame.Write(h.conn, data)
}

func (h *Handler) engineName() string {
	if h.executor == nil || h.executor.Engine() == nil {
		return "unknown"
	}
	return h.executor.Engine().Name()
}

// Close closes the connection. It is safe to call more than once.
func (h *Handler) Close() {
	h.closeOnce.Do(func() {
		if err := h.conn.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
			h.log.Debug("Error closing connection: %v", err)
		}
	})
}
