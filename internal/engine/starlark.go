package engine

import (
	"context"
	"fmt"
	"sort"

	starjson "go.starlark.net/lib/json"
	starmath "go.starlark.net/lib/math"
	startime "go.starlark.net/lib/time"
	"go.starlark.net/resolve"
	"go.starlark.net/starlark"
	"go.starlark.net/starlarkstruct"

	"github.com/codefionn/scriptserve/internal/consts"
	"github.com/codefionn/scriptserve/internal/logger"
	"github.com/codefionn/scriptserve/internal/outcome"
)

// StarlarkName identifies the Starlark engine
const StarlarkName = "starlark"

func init() {
	// Scripts are plain top-level programs: allow reassignment and control
	// flow at module level, set literals and recursion.
	resolve.AllowGlobalReassign = true
	resolve.AllowSet = true
	resolve.AllowRecursion = true
}

// Starlark evaluates scripts written in Starlark, a Python dialect.
// Scripts can use the math, json, time and struct builtins.
type Starlark struct {
	predeclared starlark.StringDict
}

// NewStarlark creates a Starlark engine
func NewStarlark() *Starlark {
	predeclared := starlark.StringDict{
		"math":   starmath.Module,
		"json":   starjson.Module,
		"time":   startime.Module,
		"struct": starlark.NewBuiltin("struct", starlarkstruct.Make),
	}
	predeclared.Freeze()
	return &Starlark{predeclared: predeclared}
}

// Name implements Engine
func (s *Starlark) Name() string { return StarlarkName }

// Run implements Engine
func (s *Starlark) Run(ctx context.Context, script string) (any, error) {
	thread := &starlark.Thread{
		Name: "script",
		Print: func(_ *starlark.Thread, msg string) {
			logger.Debug("script print: %s", msg)
		},
	}
	stop := context.AfterFunc(ctx, func() {
		thread.Cancel(context.Cause(ctx).Error())
	})
	defer stop()

	predeclared := make(starlark.StringDict, len(s.predeclared)+1)
	for name, value := range s.predeclared {
		predeclared[name] = value
	}
	// Scripts read None until a top-level assignment shadows it
	predeclared[outcome.ResultName] = starlark.None

	globals, err := starlark.ExecFile(thread, "<script>", script, predeclared)
	if err != nil {
		return nil, &ScriptError{Engine: StarlarkName, Err: err}
	}

	value, ok := globals[outcome.ResultName]
	if !ok {
		return outcome.NoValue, nil
	}
	return fromStarlark(value, 0)
}

func fromStarlark(v starlark.Value, depth int) (any, error) {
	if depth > consts.MaxValueDepth {
		return nil, &ConversionError{Reason: fmt.Sprintf("nesting deeper than %d", consts.MaxValueDepth)}
	}

	switch t := v.(type) {
	case starlark.NoneType:
		return outcome.NoValue, nil
	case starlark.Bool:
		return bool(t), nil
	case starlark.Int:
		if i, ok := t.Int64(); ok {
			return i, nil
		}
		return t.BigInt(), nil
	case starlark.Float:
		return float64(t), nil
	case starlark.String:
		return string(t), nil
	case starlark.Bytes:
		return []byte(t), nil
	case *starlark.List:
		items := make([]any, t.Len())
		for i := range items {
			item, err := fromStarlark(t.Index(i), depth+1)
			if err != nil {
				return nil, err
			}
			items[i] = item
		}
		return items, nil
	case starlark.Tuple:
		items := make(outcome.Tuple, len(t))
		for i, elem := range t {
			item, err := fromStarlark(elem, depth+1)
			if err != nil {
				return nil, err
			}
			items[i] = item
		}
		return items, nil
	case *starlark.Set:
		items := make(outcome.Set, 0, t.Len())
		iter := t.Iterate()
		defer iter.Done()
		var elem starlark.Value
		for iter.Next(&elem) {
			item, err := fromStarlark(elem, depth+1)
			if err != nil {
				return nil, err
			}
			items = append(items, item)
		}
		return items, nil
	case *starlark.Dict:
		m := make(outcome.Map, 0, t.Len())
		for _, kv := range t.Items() {
			key, err := fromStarlark(kv[0], depth+1)
			if err != nil {
				return nil, err
			}
			val, err := fromStarlark(kv[1], depth+1)
			if err != nil {
				return nil, err
			}
			m = append(m, outcome.Entry{Key: key, Value: val})
		}
		return m, nil
	case *starlarkstruct.Struct:
		names := t.AttrNames()
		sort.Strings(names)
		m := make(outcome.Map, 0, len(names))
		for _, name := range names {
			attr, err := t.Attr(name)
			if err != nil {
				return nil, err
			}
			val, err := fromStarlark(attr, depth+1)
			if err != nil {
				return nil, err
			}
			m = append(m, outcome.Entry{Key: name, Value: val})
		}
		return m, nil
	default:
		return outcome.Opaque{Type: v.Type(), Repr: v.String()}, nil
	}
}
