package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/codefionn/scriptserve/internal/logger"
	"github.com/codefionn/scriptserve/internal/outcome"
)

// FailurePrefix starts the message of every failed outcome
const FailurePrefix = "Execute script failed: "

// ExecutorOption configures an Executor
type ExecutorOption func(*Executor)

// WithTimeout bounds every run. Zero disables the bound.
func WithTimeout(d time.Duration) ExecutorOption {
	return func(x *Executor) {
		if d > 0 {
			x.timeout = d
		}
	}
}

// Executor runs scripts on an Engine and always produces an outcome
type Executor struct {
	engine  Engine
	timeout time.Duration
}

// NewExecutor creates an Executor for e
func NewExecutor(e Engine, opts ...ExecutorOption) *Executor {
	x := &Executor{engine: e}
	for _, opt := range opts {
		opt(x)
	}
	return x
}

// Engine returns the wrapped engine
func (x *Executor) Engine() Engine {
	return x.engine
}

// Timeout returns the per-run bound, zero when unbounded
func (x *Executor) Timeout() time.Duration {
	return x.timeout
}

// Execute runs script. It never returns an error and never panics: any
// failure is reported through the outcome.
func (x *Executor) Execute(ctx context.Context, script string) (out outcome.Outcome) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error("Exec script panicked: %v", r)
			out = outcome.Failed("%spanic: %v", FailurePrefix, r)
		}
	}()

	if x.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, x.timeout)
		defer cancel()
	}

	result, err := x.engine.Run(ctx, script)
	if err != nil {
		logger.Error("Exec script failed: %v", err)
		return outcome.Failed("%s%s", FailurePrefix, describe(err))
	}
	return outcome.Succeeded(result)
}

func describe(err error) string {
	if msg := err.Error(); msg != "" {
		return msg
	}
	return fmt.Sprintf("%T", err)
}
