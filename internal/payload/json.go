package payload

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math/big"
	"strconv"

	"github.com/codefionn/scriptserve/internal/outcome"
)

// JSON is the text payload format
type JSON struct{}

type jsonDocument struct {
	Success bool   `json:"success"`
	Msg     string `json:"msg"`
	Result  string `json:"result"`
}

// Format implements Serializer
func (JSON) Format() Format { return FormatJSON }

// Marshal implements Serializer
func (JSON) Marshal(o outcome.Outcome) ([]byte, error) {
	var buf bytes.Buffer
	if err := writeJSONValue(&buf, o.Result, 0); err != nil {
		return nil, err
	}

	doc := jsonDocument{Success: o.Success, Msg: o.Message, Result: buf.String()}
	data, err := json.MarshalIndent(doc, "", "    ")
	if err != nil {
		return nil, fmt.Errorf("encode json document: %w", err)
	}
	return data, nil
}

// Unmarshal implements Serializer
func (JSON) Unmarshal(data []byte) (Document, error) {
	var doc jsonDocument
	if err := json.Unmarshal(data, &doc); err != nil {
		return Document{}, fmt.Errorf("decode json document: %w", err)
	}
	return Document{Success: doc.Success, Msg: doc.Msg, Result: []byte(doc.Result)}, nil
}

// Complete implements Serializer
func (JSON) Complete(data []byte) bool {
	return json.Valid(data)
}

// DecodeResult implements Serializer. Integers decode as int64 when they
// fit, other numbers as float64, objects as map[string]any.
func (JSON) DecodeResult(doc Document) (any, error) {
	if len(bytes.TrimSpace(doc.Result)) == 0 {
		return outcome.NoValue, nil
	}

	dec := json.NewDecoder(bytes.NewReader(doc.Result))
	dec.UseNumber()

	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, fmt.Errorf("decode json result: %w", err)
	}
	return normalizeJSON(v), nil
}

func normalizeJSON(v any) any {
	switch t := v.(type) {
	case json.Number:
		if i, err := t.Int64(); err == nil {
			return i
		}
		if b, ok := new(big.Int).SetString(t.String(), 10); ok {
			return b
		}
		f, _ := t.Float64()
		return f
	case []any:
		for i := range t {
			t[i] = normalizeJSON(t[i])
		}
		return t
	case map[string]any:
		for k := range t {
			t[k] = normalizeJSON(t[k])
		}
		return t
	default:
		return v
	}
}

func writeJSONValue(buf *bytes.Buffer, v any, depth int) error {
	if depth > maxDepth {
		return fmt.Errorf("%w: nesting deeper than %d", ErrUnsupportedValue, maxDepth)
	}

	switch t := v.(type) {
	case nil:
		buf.WriteString("null")
	case bool:
		buf.WriteString(strconv.FormatBool(t))
	case int64:
		buf.WriteString(strconv.FormatInt(t, 10))
	case *big.Int:
		buf.WriteString(t.String())
	case float64, string:
		data, err := json.Marshal(t)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrUnsupportedValue, err)
		}
		buf.Write(data)
	case []any:
		return writeJSONArray(buf, t, depth)
	case outcome.Tuple:
		return writeJSONArray(buf, t, depth)
	case outcome.Map:
		buf.WriteByte('{')
		for i, e := range t {
			if i > 0 {
				buf.WriteByte(',')
			}
			key, err := jsonKey(e.Key)
			if err != nil {
				return err
			}
			keyData, _ := json.Marshal(key)
			buf.Write(keyData)
			buf.WriteByte(':')
			if err := writeJSONValue(buf, e.Value, depth+1); err != nil {
				return err
			}
		}
		buf.WriteByte('}')
	case []byte:
		return unsupported("bytes")
	case outcome.Set:
		return unsupported("set")
	case outcome.Opaque:
		return unsupported(t.Type)
	default:
		return unsupported(fmt.Sprintf("%T", v))
	}
	return nil
}

func writeJSONArray(buf *bytes.Buffer, items []any, depth int) error {
	buf.WriteByte('[')
	for i, item := range items {
		if i > 0 {
			buf.WriteByte(',')
		}
		if err := writeJSONValue(buf, item, depth+1); err != nil {
			return err
		}
	}
	buf.WriteByte(']')
	return nil
}

// jsonKey renders a map key the way a JSON object needs it. Scalar keys are
// stringified; composite keys are rejected.
func jsonKey(k any) (string, error) {
	switch t := k.(type) {
	case string:
		return t, nil
	case nil:
		return "null", nil
	case bool:
		return strconv.FormatBool(t), nil
	case int64:
		return strconv.FormatInt(t, 10), nil
	case *big.Int:
		return t.String(), nil
	case float64:
		return strconv.FormatFloat(t, 'g', -1, 64), nil
	default:
		return "", fmt.Errorf("%w: keys must be str, int, float, bool or None, not %T", ErrUnsupportedValue, k)
	}
}
