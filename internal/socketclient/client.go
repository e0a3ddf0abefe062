package socketclient

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/codefionn/scriptserve/internal/consts"
	"github.com/codefionn/scriptserve/internal/frame"
	"github.com/codefionn/scriptserve/internal/payload"
)

var (
	// ErrClosed is returned when using a client after Close
	ErrClosed = errors.New("client is closed")
	// ErrScriptTooLarge is returned for a script above the size limit
	ErrScriptTooLarge = errors.New("script too large")
)

// ConnectionState represents the current state of the connection
type ConnectionState int

const (
	// StateConnected indicates the client can send requests
	StateConnected ConnectionState = iota
	// StateBroken indicates a transport failure; the client must be closed
	StateBroken
	// StateClosed indicates the client has been closed
	StateClosed
)

func (s ConnectionState) String() string {
	switch s {
	case StateConnected:
		return "connected"
	case StateBroken:
		return "broken"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// RemoteError is a failed outcome reported by the server
type RemoteError struct {
	Message string
}

func (e *RemoteError) Error() string {
	return e.Message
}

// Options holds client configuration
type Options struct {
	// Format is the payload format the server responds with
	Format payload.Format
	// ConnectTimeout bounds the dial
	ConnectTimeout time.Duration
	// RequestTimeout bounds one request when ctx has no deadline; zero
	// means no bound
	RequestTimeout time.Duration
	// WriteTimeout bounds writing a request
	WriteTimeout time.Duration
	// MaxScriptSize rejects larger scripts before sending
	MaxScriptSize int
}

// DefaultOptions returns the default configuration
func DefaultOptions() Options {
	return Options{
		Format:         payload.FormatJSON,
		ConnectTimeout: consts.Timeout10Seconds,
		RequestTimeout: 0,
		WriteTimeout:   consts.Timeout10Seconds,
		MaxScriptSize:  consts.MaxScriptSize,
	}
}

// Client sends scripts to a script server over one connection. Requests
// are serialized: one request is in flight at a time.
type Client struct {
	opts       Options
	serializer payload.Serializer

	conn net.Conn
	r    *bufio.Reader

	mu    sync.Mutex
	state atomic.Int32 // ConnectionState
}

// Dial connects to the server at addr
func Dial(ctx context.Context, addr string, opts Options) (*Client, error) {
	defaults := DefaultOptions()
	if opts.Format == "" {
		opts.Format = defaults.Format
	}
	if opts.ConnectTimeout <= 0 {
		opts.ConnectTimeout = defaults.ConnectTimeout
	}
	if opts.WriteTimeout <= 0 {
		opts.WriteTimeout = defaults.WriteTimeout
	}
	if opts.MaxScriptSize <= 0 {
		opts.MaxScriptSize = defaults.MaxScriptSize
	}

	serializer, err := payload.ForFormat(opts.Format)
	if err != nil {
		return nil, err
	}

	dialer := net.Dialer{Timeout: opts.ConnectTimeout}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to %s: %w", addr, err)
	}

	c := &Client{
		opts:       opts,
		serializer: serializer,
		conn:       conn,
		r:          bufio.NewReaderSize(conn, consts.BufferSize64KB),
	}
	c.state.Store(int32(StateConnected))
	return c, nil
}

// State returns the current connection state
func (c *Client) State() ConnectionState {
	return ConnectionState(c.state.Load())
}

// Serializer returns the serializer used to decode responses
func (c *Client) Serializer() payload.Serializer {
	return c.serializer
}

// Exec sends script and returns the decoded response payload. A failed
// script is not an error: inspect Document.Success. An error means the
// request could not be completed; after a transport error the client is
// unusable.
func (c *Client) Exec(ctx context.Context, script string) (payload.Document, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch c.State() {
	case StateClosed:
		return payload.Document{}, ErrClosed
	case StateBroken:
		return payload.Document{}, errors.New("connection is broken")
	}

	if len(script) > c.opts.MaxScriptSize {
		return payload.Document{}, fmt.Errorf("%w: %d bytes exceeds the limit of %d", ErrScriptTooLarge, len(script), c.opts.MaxScriptSize)
	}

	data, err := c.roundTrip(ctx, frame.Encode(script))
	if err != nil {
		c.state.Store(int32(StateBroken))
		if ctxErr := ctx.Err(); ctxErr != nil {
			return payload.Document{}, fmt.Errorf("exec canceled: %w", ctxErr)
		}
		if dl, ok := ctx.Deadline(); ok && !time.Now().Before(dl) {
			return payload.Document{}, fmt.Errorf("exec canceled: %w", context.DeadlineExceeded)
		}
		return payload.Document{}, err
	}

	doc, err := c.serializer.Unmarshal(data)
	if err != nil {
		return payload.Document{}, fmt.Errorf("failed to decode response: %w", err)
	}
	return doc, nil
}

// ExecValue sends script and returns its decoded result. A failed script
// is reported as a *RemoteError.
func (c *Client) ExecValue(ctx context.Context, script string) (any, error) {
	doc, err := c.Exec(ctx, script)
	if err != nil {
		return nil, err
	}
	if !doc.Success {
		return nil, &RemoteError{Message: doc.Msg}
	}
	return c.serializer.DecodeResult(doc)
}

func (c *Client) roundTrip(ctx context.Context, request []byte) ([]byte, error) {
	if err := c.conn.SetWriteDeadline(time.Now().Add(c.opts.WriteTimeout)); err != nil {
		return nil, fmt.Errorf("failed to set write deadline: %w", err)
	}
	if _, err := c.conn.Write(request); err != nil {
		return nil, fmt.Errorf("failed to send script: %w", err)
	}

	deadline, ok := ctx.Deadline()
	if !ok && c.opts.RequestTimeout > 0 {
		deadline = time.Now().Add(c.opts.RequestTimeout)
	}
	if err := c.conn.SetReadDeadline(deadline); err != nil {
		return nil, fmt.Errorf("failed to set read deadline: %w", err)
	}

	stop := context.AfterFunc(ctx, func() {
		c.conn.SetReadDeadline(time.Now())
	})
	defer stop()

	data, err := frame.ReadResponseFunc(c.r, c.serializer.Complete)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	return data, nil
}

// Close ends the session with an exit command and closes the connection.
// It is safe to call more than once.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	prev := ConnectionState(c.state.Swap(int32(StateClosed)))
	if prev == StateClosed {
		return nil
	}

	var exitErr error
	if prev == StateConnected {
		if err := c.conn.SetWriteDeadline(time.Now().Add(c.opts.WriteTimeout)); err == nil {
			exitErr = frame.WriteExit(c.conn)
		}
	}
	if err := c.conn.Close(); err != nil {
		return fmt.Errorf("failed to close connection: %w", err)
	}
	if exitErr != nil {
		return fmt.Errorf("failed to send exit: %w", exitErr)
	}
	return nil
}

// Probe checks that a script server is listening at addr by connecting and
// ending the session right away
func Probe(ctx context.Context, addr string) error {
	c, err := Dial(ctx, addr, Options{ConnectTimeout: consts.Timeout5Seconds})
	if err != nil {
		return err
	}
	return c.Close()
}
