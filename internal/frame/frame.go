// Package frame implements the line-oriented envelope used on the wire.
//
// A request is a begin mark line, zero or more script lines and an end
// mark line:
//
//	#!{\r\n
//	a = 2\r\n
//	_result_ = a * 3\r\n
//	#!}\r\n
//
// A line reading #!exit in place of a begin mark ends the session. A
// response wraps exactly one payload in the same marks.
//
// Sentinels are compared after trimming surrounding whitespace, so both
// \n and \r\n terminated lines are accepted.
package frame

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
)

// Wire sentinels
const (
	BeginMark   = "#!{"
	EndMark     = "#!}"
	ExitCommand = "#!exit"
	LineBreak   = "\r\n"
)

var (
	// ErrLineTooLong is returned when a single line exceeds the size limit
	ErrLineTooLong = errors.New("frame line too long")
	// ErrNoResponse is returned when a stream ends before a complete response frame
	ErrNoResponse = errors.New("incomplete response frame")
)

var (
	beginLine = []byte(BeginMark + LineBreak)
	endLine   = []byte(LineBreak + EndMark + LineBreak)
	exitLine  = []byte(ExitCommand + LineBreak)
)

// Kind classifies what Reader.Next produced
type Kind int

const (
	// NoFrame means no request is available yet; poll again
	NoFrame Kind = iota
	// Script means a complete request body was read
	Script
	// Exit means the peer asked to end the session
	Exit
)

func (k Kind) String() string {
	switch k {
	case NoFrame:
		return "no-frame"
	case Script:
		return "script"
	case Exit:
		return "exit"
	default:
		return "unknown"
	}
}

// Request is one decoded request
type Request struct {
	Kind Kind
	// Body is the script, lines joined with \n
	Body string
	// Oversize is set when the body exceeded the size limit; Body is then empty
	Oversize bool
}

// Write writes payload wrapped in a response frame. The begin mark, the
// payload and the end mark are written with three separate writes.
func Write(w io.Writer, payload []byte) error {
	if _, err := w.Write(beginLine); err != nil {
		return fmt.Errorf("write begin mark: %w", err)
	}
	if _, err := w.Write(payload); err != nil {
		return fmt.Errorf("write payload: %w", err)
	}
	if _, err := w.Write(endLine); err != nil {
		return fmt.Errorf("write end mark: %w", err)
	}
	return nil
}

// Encode returns script wrapped in a request frame
func Encode(script string) []byte {
	buf := make([]byte, 0, len(beginLine)+len(script)+len(endLine))
	buf = append(buf, beginLine...)
	buf = append(buf, script...)
	buf = append(buf, endLine...)
	return buf
}

// WriteExit writes the exit command
func WriteExit(w io.Writer) error {
	_, err := w.Write(exitLine)
	return err
}

// ReadResponse reads one response frame and returns its payload. Lines
// before the begin mark are skipped. The payload ends at the first
// \r\n#!}\r\n sequence, so binary payloads containing newlines survive but
// a payload containing that exact sequence is cut short. Use
// ReadResponseFunc for payloads that may contain it.
func ReadResponse(r *bufio.Reader) ([]byte, error) {
	return ReadResponseFunc(r, nil)
}

// ReadResponseFunc is ReadResponse with a completeness check: an end mark
// only ends the frame when complete accepts the bytes before it as a whole
// payload. Otherwise the end mark is kept as payload data and reading
// continues. A nil complete accepts the first end mark.
func ReadResponseFunc(r *bufio.Reader, complete func([]byte) bool) ([]byte, error) {
	for {
		line, err := r.ReadBytes('\n')
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrNoResponse, err)
		}
		if string(bytes.TrimSpace(line)) == BeginMark {
			break
		}
	}

	var buf []byte
	for {
		chunk, err := r.ReadBytes('\n')
		buf = append(buf, chunk...)
		if bytes.HasSuffix(buf, endLine) {
			payload := buf[:len(buf)-len(endLine)]
			if complete == nil || complete(payload) {
				return payload, nil
			}
		}
		// end mark directly after the begin mark
		if bytes.Equal(buf, endLine[len(LineBreak):]) {
			return []byte{}, nil
		}
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrNoResponse, err)
		}
	}
}
