// Package transaction runs dispatch work inside a resource's atomic unit.
package transaction

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	apperrors "github.com/louisbranch/eventcore/internal/platform/errors"
)

// IsolationLevel names a transaction isolation level.
type IsolationLevel string

const (
	ReadUncommitted IsolationLevel = "read_uncommitted"
	ReadCommitted   IsolationLevel = "read_committed"
	RepeatableRead  IsolationLevel = "repeatable_read"
	Serializable    IsolationLevel = "serializable"
)

// ParseIsolationLevel accepts the snake_case level names. An empty value
// means the resource default.
func ParseIsolationLevel(value string) (IsolationLevel, error) {
	level := IsolationLevel(strings.ToLower(strings.TrimSpace(value)))
	switch level {
	case "", ReadUncommitted, ReadCommitted, RepeatableRead, Serializable:
		return level, nil
	default:
		return "", fmt.Errorf("unknown isolation level %q", value)
	}
}

// Options tune one transaction. Zero values use the resource defaults.
type Options struct {
	Timeout   time.Duration
	Isolation IsolationLevel
}

// Func is the unit of work run inside a transaction.
type Func func(ctx context.Context) (any, error)

// Resource is a store able to run work atomically. Transaction must commit
// when fn returns a nil error and roll back otherwise.
type Resource interface {
	SupportsTransactions() bool
	Transaction(ctx context.Context, fn Func, opts Options) (any, error)
}

// Run executes fn inside res. It fails fast with a command error when res
// cannot run transactions, converts panics and raw errors into dispatch
// errors, and reports an expired Timeout as a dispatch error.
func Run(ctx context.Context, res Resource, fn Func, opts Options) (any, error) {
	if res == nil {
		return nil, apperrors.Command("Transactional resource is required")
	}
	if !res.SupportsTransactions() {
		return nil, apperrors.Command("Resource does not support transactions")
	}
	if fn == nil {
		return nil, apperrors.Command("Transaction function is required")
	}
	if ctx == nil {
		ctx = context.Background()
	}
	if opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.Timeout)
		defer cancel()
	}

	result, err := invoke(ctx, res, fn, opts)
	if err == nil {
		return result, nil
	}
	if errors.Is(err, context.DeadlineExceeded) || (opts.Timeout > 0 && errors.Is(ctx.Err(), context.DeadlineExceeded)) {
		return nil, apperrors.Dispatch("transaction timed out",
			apperrors.WithContext("timeout", opts.Timeout.String()),
			apperrors.WithCause(err),
		)
	}
	return nil, normalize(err)
}

func invoke(ctx context.Context, res Resource, fn Func, opts Options) (result any, err error) {
	defer func() {
		if r := recover(); r != nil {
			result, err = nil, apperrors.Dispatch(fmt.Sprintf("transaction panic: %v", r))
		}
	}()
	return res.Transaction(ctx, func(ctx context.Context) (out any, fnErr error) {
		defer func() {
			// Surface the panic as an error so the resource rolls back.
			if r := recover(); r != nil {
				out, fnErr = nil, apperrors.Dispatch(fmt.Sprintf("transaction panic: %v", r))
			}
		}()
		return fn(ctx)
	}, opts)
}

// normalize keeps domain errors and wraps anything else as a dispatch error.
func normalize(err error) error {
	var step *StepError
	if errors.As(err, &step) {
		return step
	}
	var list apperrors.List
	if errors.As(err, &list) {
		return list
	}
	var domain *apperrors.Error
	if errors.As(err, &domain) {
		return domain
	}
	return apperrors.Dispatch(err.Error(), apperrors.WithCause(err))
}

// StepError reports which named step of a multi-step transaction failed.
type StepError struct {
	Step    string
	Err     error
	Partial map[string]any // results of the steps that ran before Step
}

func (e *StepError) Error() string {
	return fmt.Sprintf("step %s: %v", e.Step, e.Err)
}

func (e *StepError) Unwrap() error { return e.Err }

type txKey struct{}

// WithTx stores a resource-specific transaction handle in ctx so stores can
// join it.
func WithTx(ctx context.Context, tx any) context.Context {
	return context.WithValue(ctx, txKey{}, tx)
}

// TxFromContext returns the handle stored by WithTx.
func TxFromContext(ctx context.Context) (any, bool) {
	if ctx == nil {
		return nil, false
	}
	tx := ctx.Value(txKey{})
	return tx, tx != nil
}
