package payload

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"math/big"

	"github.com/fxamacker/cbor/v2"

	"github.com/codefionn/scriptserve/internal/outcome"
)

// CBOR tags used for value shapes without a native CBOR type
const (
	// TagSet marks a set (registered tag 258, "mathematical finite set")
	TagSet = 258
	// TagObject marks an opaque object as [type, repr] (registered tag 27)
	TagObject = 27
)

var (
	cborEnc cbor.EncMode
	cborDec cbor.DecMode
)

func init() {
	var err error
	cborEnc, err = cbor.EncOptions{
		Sort:          cbor.SortNone,
		BigIntConvert: cbor.BigIntConvertShortest,
	}.EncMode()
	if err != nil {
		panic(fmt.Sprintf("payload: cbor encoding mode: %v", err))
	}
	cborDec, err = cbor.DecOptions{
		MaxNestedLevels: maxDepth + 8,
	}.DecMode()
	if err != nil {
		panic(fmt.Sprintf("payload: cbor decoding mode: %v", err))
	}
}

// CBOR is the binary payload format
type CBOR struct{}

type cborDocument struct {
	Success bool   `cbor:"success"`
	Msg     string `cbor:"msg"`
	Result  []byte `cbor:"result"`
}

// Format implements Serializer
func (CBOR) Format() Format { return FormatCBOR }

// Marshal implements Serializer
func (CBOR) Marshal(o outcome.Outcome) ([]byte, error) {
	tree, err := toCBOR(o.Result, 0)
	if err != nil {
		return nil, err
	}
	result, err := cborEnc.Marshal(tree)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnsupportedValue, err)
	}

	data, err := cborEnc.Marshal(cborDocument{Success: o.Success, Msg: o.Message, Result: result})
	if err != nil {
		return nil, fmt.Errorf("encode cbor document: %w", err)
	}
	return data, nil
}

// Unmarshal implements Serializer
func (CBOR) Unmarshal(data []byte) (Document, error) {
	var doc cborDocument
	if err := cborDec.Unmarshal(data, &doc); err != nil {
		return Document{}, fmt.Errorf("decode cbor document: %w", err)
	}
	return Document{Success: doc.Success, Msg: doc.Msg, Result: doc.Result}, nil
}

// Complete implements Serializer
func (CBOR) Complete(data []byte) bool {
	return cborDec.Wellformed(data) == nil
}

// DecodeResult implements Serializer. Sets and opaque objects come back as
// outcome.Set and outcome.Opaque; maps with string keys as map[string]any,
// other maps as outcome.Map in encoded order.
func (CBOR) DecodeResult(doc Document) (any, error) {
	if len(doc.Result) == 0 {
		return outcome.NoValue, nil
	}

	v, rest, err := decodeCBORItem(doc.Result, 0)
	if err != nil {
		return nil, fmt.Errorf("decode cbor result: %w", err)
	}
	if len(rest) > 0 {
		return nil, fmt.Errorf("decode cbor result: %d trailing bytes", len(rest))
	}
	return v, nil
}

func toCBOR(v any, depth int) (any, error) {
	if depth > maxDepth {
		return nil, fmt.Errorf("%w: nesting deeper than %d", ErrUnsupportedValue, maxDepth)
	}

	switch t := v.(type) {
	case nil, bool, int64, float64, string, []byte:
		return t, nil
	case *big.Int:
		return *t, nil
	case []any:
		return toCBORSlice(t, depth)
	case outcome.Tuple:
		return toCBORSlice(t, depth)
	case outcome.Set:
		items, err := toCBORSlice(t, depth)
		if err != nil {
			return nil, err
		}
		return cbor.Tag{Number: TagSet, Content: items}, nil
	case outcome.Map:
		m := make(orderedMap, 0, len(t))
		for _, e := range t {
			k, err := toCBOR(e.Key, depth+1)
			if err != nil {
				return nil, err
			}
			val, err := toCBOR(e.Value, depth+1)
			if err != nil {
				return nil, err
			}
			m = append(m, outcome.Entry{Key: k, Value: val})
		}
		return m, nil
	case outcome.Opaque:
		return cbor.Tag{Number: TagObject, Content: []any{t.Type, t.Repr}}, nil
	default:
		return nil, unsupported(fmt.Sprintf("%T", v))
	}
}

func toCBORSlice(items []any, depth int) ([]any, error) {
	out := make([]any, len(items))
	for i, item := range items {
		converted, err := toCBOR(item, depth+1)
		if err != nil {
			return nil, err
		}
		out[i] = converted
	}
	return out, nil
}

// orderedMap encodes as a CBOR map keeping entry order and key shapes
type orderedMap []outcome.Entry

func (m orderedMap) MarshalCBOR() ([]byte, error) {
	buf := appendHead(nil, 5, uint64(len(m)))
	for _, e := range m {
		k, err := cborEnc.Marshal(e.Key)
		if err != nil {
			return nil, err
		}
		v, err := cborEnc.Marshal(e.Value)
		if err != nil {
			return nil, err
		}
		buf = append(buf, k...)
		buf = append(buf, v...)
	}
	return buf, nil
}

func appendHead(b []byte, major byte, n uint64) []byte {
	m := major << 5
	switch {
	case n < 24:
		return append(b, m|byte(n))
	case n <= math.MaxUint8:
		return append(b, m|24, byte(n))
	case n <= math.MaxUint16:
		return binary.BigEndian.AppendUint16(append(b, m|25), uint16(n))
	case n <= math.MaxUint32:
		return binary.BigEndian.AppendUint32(append(b, m|26), uint32(n))
	default:
		return binary.BigEndian.AppendUint64(append(b, m|27), n)
	}
}

// decodeCBORItem decodes the first item of data and returns the remaining
// bytes. Arrays, maps and the set and object tags are walked here so map
// keys of any shape survive; everything else goes through cborDec.
func decodeCBORItem(data []byte, depth int) (any, []byte, error) {
	if depth > maxDepth {
		return nil, nil, fmt.Errorf("nesting deeper than %d", maxDepth)
	}
	if len(data) == 0 {
		return nil, nil, io.ErrUnexpectedEOF
	}

	switch major := data[0] >> 5; major {
	case cborMajorArray:
		n, rest, err := readCBORHead(data)
		if err != nil {
			return nil, nil, err
		}
		items := make([]any, 0, min(n, uint64(len(rest))))
		for i := uint64(0); i < n; i++ {
			var item any
			item, rest, err = decodeCBORItem(rest, depth+1)
			if err != nil {
				return nil, nil, err
			}
			items = append(items, item)
		}
		return items, rest, nil

	case cborMajorMap:
		n, rest, err := readCBORHead(data)
		if err != nil {
			return nil, nil, err
		}
		entries := make(outcome.Map, 0, min(n, uint64(len(rest))))
		allStrings := true
		for i := uint64(0); i < n; i++ {
			var key, val any
			if key, rest, err = decodeCBORItem(rest, depth+1); err != nil {
				return nil, nil, err
			}
			if val, rest, err = decodeCBORItem(rest, depth+1); err != nil {
				return nil, nil, err
			}
			if _, ok := key.(string); !ok {
				allStrings = false
			}
			entries = append(entries, outcome.Entry{Key: key, Value: val})
		}
		if !allStrings {
			return entries, rest, nil
		}
		m := make(map[string]any, len(entries))
		for _, e := range entries {
			m[e.Key.(string)] = e.Value
		}
		return m, rest, nil

	case cborMajorTag:
		number, content, err := readCBORHead(data)
		if err != nil {
			return nil, nil, err
		}
		switch number {
		case TagSet:
			items, rest, err := decodeCBORItem(content, depth+1)
			if err != nil {
				return nil, nil, err
			}
			list, ok := items.([]any)
			if !ok {
				return nil, nil, fmt.Errorf("set tag content is %T, not an array", items)
			}
			return outcome.Set(list), rest, nil
		case TagObject:
			parts, rest, err := decodeCBORItem(content, depth+1)
			if err != nil {
				return nil, nil, err
			}
			list, ok := parts.([]any)
			if !ok || len(list) != 2 {
				return nil, nil, fmt.Errorf("object tag content is not a [type, repr] pair")
			}
			typ, _ := list[0].(string)
			repr, _ := list[1].(string)
			return outcome.Opaque{Type: typ, Repr: repr}, rest, nil
		}
	}

	var v any
	rest, err := cborDec.UnmarshalFirst(data, &v)
	if err != nil {
		return nil, nil, err
	}
	return fromCBOR(v), rest, nil
}

// CBOR major types walked by decodeCBORItem
const (
	cborMajorArray = 4
	cborMajorMap   = 5
	cborMajorTag   = 6
)

// readCBORHead reads a definite-length head and returns its argument and
// the bytes after it
func readCBORHead(data []byte) (uint64, []byte, error) {
	info := data[0] & 0x1f
	switch {
	case info < 24:
		return uint64(info), data[1:], nil
	case info == 24 && len(data) >= 2:
		return uint64(data[1]), data[2:], nil
	case info == 25 && len(data) >= 3:
		return uint64(binary.BigEndian.Uint16(data[1:3])), data[3:], nil
	case info == 26 && len(data) >= 5:
		return uint64(binary.BigEndian.Uint32(data[1:5])), data[5:], nil
	case info == 27 && len(data) >= 9:
		return binary.BigEndian.Uint64(data[1:9]), data[9:], nil
	case info == 31:
		return 0, nil, errors.New("indefinite-length items are not supported")
	default:
		return 0, nil, io.ErrUnexpectedEOF
	}
}

func fromCBOR(v any) any {
	switch t := v.(type) {
	case uint64:
		if t <= math.MaxInt64 {
			return int64(t)
		}
		return new(big.Int).SetUint64(t)
	case big.Int:
		return &t
	default:
		return v
	}
}
