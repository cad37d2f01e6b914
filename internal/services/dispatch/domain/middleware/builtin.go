package middleware

import (
	"context"
	"log"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	apperrors "github.com/louisbranch/eventcore/internal/platform/errors"
	"github.com/louisbranch/eventcore/internal/services/dispatch/domain/command"
)

// Funcs adapts plain functions to Middleware. A nil Before calls next; a nil
// After passes the result through.
type Funcs struct {
	Before func(ctx context.Context, cmd command.Command, mctx Context, next Handler) Result
	After  func(ctx context.Context, res Result, cmd command.Command, mctx Context) Result
}

func (f Funcs) BeforeDispatch(ctx context.Context, cmd command.Command, mctx Context, next Handler) Result {
	if f.Before == nil {
		return next(ctx, cmd, mctx)
	}
	return f.Before(ctx, cmd, mctx, next)
}

func (f Funcs) AfterDispatch(ctx context.Context, res Result, cmd command.Command, mctx Context) Result {
	if f.After == nil {
		return res
	}
	return f.After(ctx, res, cmd, mctx)
}

// Logging logs each dispatch and its outcome.
type Logging struct {
	Logger *log.Logger // defaults to the standard logger
}

func (l Logging) BeforeDispatch(ctx context.Context, cmd command.Command, mctx Context, next Handler) Result {
	l.printf("dispatch %s/%s %s", mctx.AggregateType, mctx.AggregateID, cmd.Name)
	return next(ctx, cmd, mctx)
}

func (l Logging) AfterDispatch(_ context.Context, res Result, cmd command.Command, mctx Context) Result {
	if res.Err != nil {
		l.printf("dispatch %s/%s %s failed: %v", mctx.AggregateType, mctx.AggregateID, cmd.Name, res.Err)
		return res
	}
	l.printf("dispatch %s/%s %s ok", mctx.AggregateType, mctx.AggregateID, cmd.Name)
	return res
}

func (l Logging) printf(format string, args ...any) {
	if l.Logger != nil {
		l.Logger.Printf(format, args...)
		return
	}
	log.Printf(format, args...)
}

const tracerName = "github.com/louisbranch/eventcore/dispatch"

// Tracing opens one span per dispatch around the rest of the chain.
type Tracing struct {
	Tracer trace.Tracer // defaults to the global provider's tracer
}

func (t Tracing) BeforeDispatch(ctx context.Context, cmd command.Command, mctx Context, next Handler) Result {
	tracer := t.Tracer
	if tracer == nil {
		tracer = otel.Tracer(tracerName)
	}
	ctx, span := tracer.Start(ctx, "dispatch "+cmd.Name, trace.WithAttributes(
		attribute.String("eventcore.aggregate_type", mctx.AggregateType),
		attribute.String("eventcore.aggregate_id", mctx.AggregateID),
		attribute.String("eventcore.command", cmd.Name),
		attribute.String("eventcore.action", cmd.Action),
	))
	defer span.End()

	res := next(ctx, cmd, mctx)
	if res.Err != nil {
		span.RecordError(res.Err)
		span.SetStatus(codes.Error, res.Err.Error())
	}
	return res
}

func (Tracing) AfterDispatch(_ context.Context, res Result, _ command.Command, _ Context) Result {
	return res
}

// RequireMetadata short-circuits dispatch when any key is missing from the
// middleware context metadata.
type RequireMetadata struct {
	Keys []string
}

func (r RequireMetadata) BeforeDispatch(ctx context.Context, cmd command.Command, mctx Context, next Handler) Result {
	var missing []string
	for _, key := range r.Keys {
		if value, ok := mctx.Metadata[key]; !ok || value == nil {
			missing = append(missing, key)
		}
	}
	if len(missing) > 0 {
		return Failed(apperrors.Command("Missing metadata",
			apperrors.WithField(strings.Join(missing, ",")),
			apperrors.WithContext("command", cmd.Name),
		))
	}
	return next(ctx, cmd, mctx)
}

func (RequireMetadata) AfterDispatch(_ context.Context, res Result, _ command.Command, _ Context) Result {
	return res
}
