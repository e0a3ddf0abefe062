// Package engine runs request scripts and harvests their result binding.
//
// An Engine evaluates one script in a namespace of its own and returns the
// value bound to outcome.ResultName, converted to the portable shapes of
// package outcome. The Executor wraps an Engine and turns every failure,
// panics included, into an outcome.
package engine

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
)

// ErrUnknownEngine is returned by New for an unsupported engine name
var ErrUnknownEngine = errors.New("unknown engine")

// Engine evaluates scripts.
//
// Contract:
//   - every Run uses a fresh namespace; nothing bound by one run is visible to another
//   - the result binding starts out unset, which yields outcome.NoValue
//   - implementations must be safe for concurrent use
//   - Run should stop early when ctx is canceled
type Engine interface {
	// Name returns the engine identifier, e.g. "starlark"
	Name() string
	// Run evaluates script and returns the portable result value
	Run(ctx context.Context, script string) (any, error)
}

// ScriptError is a failure raised while evaluating a script
type ScriptError struct {
	Engine string
	Err    error
}

func (e *ScriptError) Error() string {
	return e.Err.Error()
}

func (e *ScriptError) Unwrap() error {
	return e.Err
}

// ConversionError is returned when a result value cannot be converted
// into a portable shape
type ConversionError struct {
	Reason string
}

func (e *ConversionError) Error() string {
	return "cannot convert result: " + e.Reason
}

type factory func() Engine

var registry = map[string]factory{
	StarlarkName: func() Engine { return NewStarlark() },
	LuaName:      func() Engine { return NewLua() },
}

// Default is the engine used when none is configured
const Default = StarlarkName

// New returns the engine registered under name
func New(name string) (Engine, error) {
	name = strings.ToLower(strings.TrimSpace(name))
	if name == "" {
		name = Default
	}
	f, ok := registry[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q (available: %s)", ErrUnknownEngine, name, strings.Join(Names(), ", "))
	}
	return f(), nil
}

// Names lists the registered engine names
func Names() []string {
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
