package engine

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"

	lua "github.com/yuin/gopher-lua"

	"github.com/codefionn/scriptserve/internal/consts"
	"github.com/codefionn/scriptserve/internal/outcome"
)

// LuaName identifies the Lua engine
const LuaName = "lua"

// Lua evaluates scripts written in Lua 5.1. Only the base, package, table,
// string, math and coroutine libraries are opened.
type Lua struct{}

// NewLua creates a Lua engine
func NewLua() *Lua {
	return &Lua{}
}

// Name implements Engine
func (l *Lua) Name() string { return LuaName }

var luaLibs = []struct {
	name string
	open lua.LGFunction
}{
	{lua.LoadLibName, lua.OpenPackage},
	{lua.BaseLibName, lua.OpenBase},
	{lua.TabLibName, lua.OpenTable},
	{lua.StringLibName, lua.OpenString},
	{lua.MathLibName, lua.OpenMath},
	{lua.CoroutineLibName, lua.OpenCoroutine},
}

// Run implements Engine
func (l *Lua) Run(ctx context.Context, script string) (any, error) {
	L := lua.NewState(lua.Options{SkipOpenLibs: true})
	defer L.Close()

	for _, lib := range luaLibs {
		if err := L.CallByParam(lua.P{
			Fn:      L.NewFunction(lib.open),
			NRet:    0,
			Protect: true,
		}, lua.LString(lib.name)); err != nil {
			return nil, fmt.Errorf("open lua library %s: %w", lib.name, err)
		}
	}

	L.SetContext(ctx)
	L.SetGlobal(outcome.ResultName, lua.LNil)

	if err := L.DoString(script); err != nil {
		var apiErr *lua.ApiError
		if errors.As(err, &apiErr) && apiErr.Object != nil {
			err = errors.New(apiErr.Object.String())
		}
		return nil, &ScriptError{Engine: LuaName, Err: err}
	}

	return fromLua(L.GetGlobal(outcome.ResultName), 0)
}

func fromLua(v lua.LValue, depth int) (any, error) {
	if depth > consts.MaxValueDepth {
		return nil, &ConversionError{Reason: fmt.Sprintf("nesting deeper than %d", consts.MaxValueDepth)}
	}

	switch t := v.(type) {
	case *lua.LNilType:
		return outcome.NoValue, nil
	case lua.LBool:
		return bool(t), nil
	case lua.LNumber:
		f := float64(t)
		if f == math.Trunc(f) && f >= math.MinInt64 && f < math.MaxInt64 {
			return int64(f), nil
		}
		return f, nil
	case lua.LString:
		return string(t), nil
	case *lua.LTable:
		return fromLuaTable(t, depth)
	default:
		return outcome.Opaque{Type: v.Type().String(), Repr: v.String()}, nil
	}
}

// fromLuaTable converts a table with keys 1..n into a list and any other
// table into a map ordered by key.
func fromLuaTable(t *lua.LTable, depth int) (any, error) {
	var keys []lua.LValue
	t.ForEach(func(k, _ lua.LValue) {
		keys = append(keys, k)
	})

	if isLuaSequence(keys) {
		n := len(keys)
		items := make([]any, n)
		for i := 1; i <= n; i++ {
			item, err := fromLua(t.RawGetInt(i), depth+1)
			if err != nil {
				return nil, err
			}
			items[i-1] = item
		}
		return items, nil
	}

	sort.SliceStable(keys, func(i, j int) bool {
		return luaKeyLess(keys[i], keys[j])
	})
	m := make(outcome.Map, 0, len(keys))
	for _, k := range keys {
		key, err := fromLua(k, depth+1)
		if err != nil {
			return nil, err
		}
		val, err := fromLua(t.RawGet(k), depth+1)
		if err != nil {
			return nil, err
		}
		m = append(m, outcome.Entry{Key: key, Value: val})
	}
	return m, nil
}

// isLuaSequence reports whether keys are exactly the integers 1..len(keys)
func isLuaSequence(keys []lua.LValue) bool {
	for _, k := range keys {
		n, ok := k.(lua.LNumber)
		if !ok {
			return false
		}
		f := float64(n)
		if f != math.Trunc(f) || f < 1 || f > float64(len(keys)) {
			return false
		}
	}
	return true
}

// luaKeyLess orders numbers before strings before everything else
func luaKeyLess(a, b lua.LValue) bool {
	ra, rb := luaKeyRank(a), luaKeyRank(b)
	if ra != rb {
		return ra < rb
	}
	switch av := a.(type) {
	case lua.LNumber:
		return av < b.(lua.LNumber)
	case lua.LString:
		return av < b.(lua.LString)
	default:
		return a.String() < b.String()
	}
}

func luaKeyRank(v lua.LValue) int {
	switch v.(type) {
	case lua.LNumber:
		return 0
	case lua.LString:
		return 1
	default:
		return 2
	}
}
