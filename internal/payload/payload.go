// Package payload serializes an execution outcome into the body of a
// response frame.
//
// Two interchangeable formats exist. FormatJSON (format "A") renders an
// indented JSON document whose result field is a string holding the JSON
// encoding of the value. FormatCBOR (format "B") renders a CBOR map whose
// result field is a byte string holding the CBOR encoding of the value,
// which can represent every value shape an engine produces.
//
// Both documents carry the keys success, msg and result, in that order.
package payload

import (
	"errors"
	"fmt"
	"strings"

	"github.com/codefionn/scriptserve/internal/consts"
	"github.com/codefionn/scriptserve/internal/outcome"
)

const maxDepth = consts.MaxValueDepth

// Format names a payload encoding
type Format string

const (
	// FormatJSON is the text format ("A")
	FormatJSON Format = "json"
	// FormatCBOR is the binary format ("B")
	FormatCBOR Format = "cbor"
)

var (
	// ErrUnknownFormat is returned for a format name that is not supported
	ErrUnknownFormat = errors.New("unknown payload format")
	// ErrUnsupportedValue is returned when a result value cannot be
	// represented in the chosen format
	ErrUnsupportedValue = errors.New("unsupported result value")
)

// Document is a decoded payload. Result holds the still-encoded result
// value; use Serializer.DecodeResult to decode it.
type Document struct {
	Success bool
	Msg     string
	Result  []byte
}

// Serializer encodes outcomes into payloads and decodes them back
type Serializer interface {
	// Format reports the encoding produced by this serializer
	Format() Format
	// Marshal encodes o. An error means o.Result has no representation in
	// this format.
	Marshal(o outcome.Outcome) ([]byte, error)
	// Unmarshal decodes a payload produced by Marshal
	Unmarshal(data []byte) (Document, error)
	// DecodeResult decodes the result value carried by doc
	DecodeResult(doc Document) (any, error)
	// Complete reports whether data is one whole payload, so a reader can
	// tell an end mark inside a payload from the one closing it
	Complete(data []byte) bool
}

// ParseFormat parses a format name. "A" and "B" are accepted as aliases.
func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "json", "a":
		return FormatJSON, nil
	case "cbor", "b":
		return FormatCBOR, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownFormat, s)
	}
}

// ForFormat returns the serializer for f
func ForFormat(f Format) (Serializer, error) {
	switch f {
	case FormatJSON:
		return JSON{}, nil
	case FormatCBOR:
		return CBOR{}, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownFormat, string(f))
	}
}

// Lookup parses a format name and returns its serializer
func Lookup(name string) (Serializer, error) {
	f, err := ParseFormat(name)
	if err != nil {
		return nil, err
	}
	return ForFormat(f)
}

func unsupported(kind string) error {
	return fmt.Errorf("%w: object of type %s is not serializable", ErrUnsupportedValue, kind)
}
