// Package middleware intercepts command dispatch with ordered before and after
// hooks.
//
// Before hooks nest: each one decides whether to call next, and the innermost
// next is the terminal handler. After hooks do not nest: once the terminal
// handler returns or a before hook short-circuits, every after hook runs on the
// result in declaration order.
package middleware

import (
	"context"
	"fmt"

	apperrors "github.com/louisbranch/eventcore/internal/platform/errors"
	"github.com/louisbranch/eventcore/internal/services/dispatch/domain/command"
)

// Result is the outcome of a dispatch.
type Result struct {
	Value any
	Err   error
}

// OK reports whether the dispatch succeeded.
func (r Result) OK() bool { return r.Err == nil }

// Failed builds an error result.
func Failed(err error) Result { return Result{Err: err} }

// Context describes the dispatch target to middleware.
type Context struct {
	AggregateType string
	AggregateID   string
	Resource      string
	Metadata      map[string]any
}

// Handler continues dispatch.
type Handler func(ctx context.Context, cmd command.Command, mctx Context) Result

// Middleware intercepts dispatch.
type Middleware interface {
	BeforeDispatch(ctx context.Context, cmd command.Command, mctx Context, next Handler) Result
	AfterDispatch(ctx context.Context, res Result, cmd command.Command, mctx Context) Result
}

// Config holds the application-wide middleware list. It is built once at
// startup and read-only afterwards.
type Config struct {
	Global []Middleware
}

// For returns the effective chain for one command.
func (c Config) For(resource, cmd []Middleware) []Middleware {
	return Effective(c.Global, resource, cmd)
}

// Effective concatenates global, resource and command middleware, preserving
// each list's order.
func Effective(global, resource, cmd []Middleware) []Middleware {
	chain := make([]Middleware, 0, len(global)+len(resource)+len(cmd))
	chain = append(chain, global...)
	chain = append(chain, resource...)
	chain = append(chain, cmd...)
	return chain
}

// Apply runs cmd through chain and terminal. Panics raised by middleware or
// the terminal handler become dispatch errors.
func Apply(ctx context.Context, cmd command.Command, mctx Context, chain []Middleware, terminal Handler) Result {
	if terminal == nil {
		terminal = func(context.Context, command.Command, Context) Result {
			return Failed(apperrors.Dispatch("no handler configured", apperrors.WithContext("command", cmd.Name)))
		}
	}
	res := runBefore(ctx, cmd, mctx, chain, terminal)
	for _, m := range chain {
		res = runAfter(ctx, m, res, cmd, mctx)
	}
	return res
}

func runBefore(ctx context.Context, cmd command.Command, mctx Context, chain []Middleware, terminal Handler) (res Result) {
	defer func() {
		if r := recover(); r != nil {
			res = Failed(panicError("before_dispatch", cmd, r))
		}
	}()
	return build(chain, terminal)(ctx, cmd, mctx)
}

func runAfter(ctx context.Context, m Middleware, res Result, cmd command.Command, mctx Context) (out Result) {
	defer func() {
		if r := recover(); r != nil {
			out = Failed(panicError("after_dispatch", cmd, r))
		}
	}()
	return m.AfterDispatch(ctx, res, cmd, mctx)
}

// build nests the chain so chain[0] is entered first.
func build(chain []Middleware, terminal Handler) Handler {
	next := terminal
	for i := len(chain) - 1; i >= 0; i-- {
		m, inner := chain[i], next
		next = func(ctx context.Context, cmd command.Command, mctx Context) Result {
			return m.BeforeDispatch(ctx, cmd, mctx, inner)
		}
	}
	return next
}

func panicError(stage string, cmd command.Command, recovered any) *apperrors.Error {
	return apperrors.Dispatch(
		fmt.Sprintf("middleware panic: %v", recovered),
		apperrors.WithContext("stage", stage),
		apperrors.WithContext("command", cmd.Name),
	)
}
