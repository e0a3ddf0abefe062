package frame

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"strings"
	"time"

	"github.com/codefionn/scriptserve/internal/consts"
)

// Source is a byte stream that supports read deadlines, such as net.Conn
type Source interface {
	io.Reader
	SetReadDeadline(t time.Time) error
}

// Option configures a Reader
type Option func(*Reader)

// WithPollInterval sets how long a single read waits for data
func WithPollInterval(d time.Duration) Option {
	return func(r *Reader) {
		if d >= consts.MinPollInterval {
			r.poll = d
		}
	}
}

// WithMaxScriptSize sets the largest body returned in a Request
func WithMaxScriptSize(n int) Option {
	return func(r *Reader) {
		if n > 0 {
			r.maxSize = n
		}
	}
}

// Reader decodes requests from a Source. Each read waits at most one poll
// interval, so callers regain control regularly and can observe a stop
// signal between attempts.
type Reader struct {
	src     Source
	br      *bufio.Reader
	pending []byte
	poll    time.Duration
	maxSize int
}

// NewReader creates a Reader over src
func NewReader(src Source, opts ...Option) *Reader {
	r := &Reader{
		src:     src,
		br:      bufio.NewReaderSize(src, consts.BufferSize64KB),
		poll:    consts.PollInterval,
		maxSize: consts.MaxScriptSize,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// MaxScriptSize returns the body size limit
func (r *Reader) MaxScriptSize() int {
	return r.maxSize
}

// Next reads the next request.
//
// If no complete line arrives within one poll interval, or the line is not
// a begin mark, Next returns a NoFrame request; the line is dropped. Once a
// begin mark is seen, Next keeps reading body lines until the end mark,
// consulting stopped before every poll. If stopped reports true the
// partially read frame is abandoned and NoFrame is returned.
//
// Any read error other than a poll timeout, io.EOF included, is returned.
func (r *Reader) Next(stopped func() bool) (Request, error) {
	line, ok, err := r.readLine()
	if err != nil {
		return Request{}, err
	}
	if !ok {
		return Request{Kind: NoFrame}, nil
	}

	switch string(bytes.TrimSpace(line)) {
	case ExitCommand:
		return Request{Kind: Exit}, nil
	case BeginMark:
	default:
		return Request{Kind: NoFrame}, nil
	}

	var (
		lines    []string
		size     int
		oversize bool
	)
	for {
		if stopped != nil && stopped() {
			return Request{Kind: NoFrame}, nil
		}

		line, ok, err := r.readLine()
		if err != nil {
			return Request{}, fmt.Errorf("read script body: %w", err)
		}
		if !ok {
			continue
		}
		if string(bytes.TrimSpace(line)) == EndMark {
			break
		}
		if oversize {
			continue
		}

		text := trimLineBreak(line)
		size += len(text) + 1
		if size > r.maxSize+1 {
			oversize = true
			lines = nil
			continue
		}
		lines = append(lines, text)
	}

	if oversize {
		return Request{Kind: Script, Oversize: true}, nil
	}
	return Request{Kind: Script, Body: strings.Join(lines, "\n")}, nil
}

// readLine returns one complete line including its terminator. ok is false
// when no complete line arrived within the poll interval; bytes read so far
// are kept for the next call.
func (r *Reader) readLine() (line []byte, ok bool, err error) {
	if err := r.src.SetReadDeadline(time.Now().Add(r.poll)); err != nil {
		return nil, false, fmt.Errorf("set read deadline: %w", err)
	}

	chunk, err := r.br.ReadSlice('\n')
	r.pending = append(r.pending, chunk...)

	switch {
	case err == nil:
		line, r.pending = r.pending, nil
		return line, true, nil
	case errors.Is(err, bufio.ErrBufferFull):
		if len(r.pending) > r.maxSize+len(LineBreak) {
			return nil, false, fmt.Errorf("%w: more than %d bytes", ErrLineTooLong, r.maxSize)
		}
		return nil, false, nil
	case isTimeout(err):
		return nil, false, nil
	case errors.Is(err, io.EOF) && len(r.pending) > 0:
		// final line without terminator; EOF surfaces on the next read
		line, r.pending = r.pending, nil
		return line, true, nil
	default:
		return nil, false, err
	}
}

func trimLineBreak(line []byte) string {
	line = bytes.TrimSuffix(line, []byte("\n"))
	line = bytes.TrimSuffix(line, []byte("\r"))
	return string(line)
}

func isTimeout(err error) bool {
	if errors.Is(err, os.ErrDeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}
