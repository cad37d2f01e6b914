// Package errors provides the structured error shape shared by every stage of
// command dispatch, plus normalization from heterogeneous failure values.
package errors

import (
	"errors"
	"fmt"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
	"google.golang.org/genproto/googleapis/rpc/errdetails"
	"google.golang.org/grpc/status"
)

// Domain is the error domain reported in gRPC error details.
const Domain = "github.com/louisbranch/eventcore"

// Error is the domain error type with structured metadata.
type Error struct {
	Kind    Kind           // Failure category
	Message string         // Human-readable message
	Path    []string       // Structural location, outermost first
	Field   string         // Offending field
	Value   any            // Offending value
	Context map[string]any // Diagnostic metadata
	Cause   error          // Wrapped underlying error
}

// Error implements the error interface.
func (e *Error) Error() string {
	return Format(e)
}

// Unwrap returns the underlying cause for error chain traversal.
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is reports whether target matches this error by kind, and by message when
// the target carries one.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok || t == nil {
		return false
	}
	if e.Kind != t.Kind {
		return false
	}
	return t.Message == "" || t.Message == e.Message
}

// HasValue reports whether an offending value was recorded.
func (e *Error) HasValue() bool {
	return e != nil && e.Value != nil
}

// Option configures optional error attributes.
type Option func(*Error)

// WithField records the offending field.
func WithField(field string) Option {
	return func(e *Error) { e.Field = field }
}

// WithValue records the offending value.
func WithValue(value any) Option {
	return func(e *Error) { e.Value = value }
}

// WithPath records the structural location of the failure.
func WithPath(path ...string) Option {
	return func(e *Error) { e.Path = append([]string(nil), path...) }
}

// WithContext adds one diagnostic entry.
func WithContext(key string, value any) Option {
	return func(e *Error) {
		if e.Context == nil {
			e.Context = make(map[string]any)
		}
		e.Context[key] = value
	}
}

// WithContextMap merges diagnostic entries.
func WithContextMap(values map[string]any) Option {
	return func(e *Error) {
		if len(values) == 0 {
			return
		}
		if e.Context == nil {
			e.Context = make(map[string]any, len(values))
		}
		for key, value := range values {
			e.Context[key] = value
		}
	}
}

// WithCause wraps an underlying error.
func WithCause(cause error) Option {
	return func(e *Error) { e.Cause = cause }
}

// New creates a domain error of the given kind.
func New(kind Kind, message string, opts ...Option) *Error {
	e := &Error{Kind: kind, Message: message}
	for _, opt := range opts {
		if opt != nil {
			opt(e)
		}
	}
	return e
}

// Validation creates a validation error.
func Validation(message string, opts ...Option) *Error {
	return New(KindValidation, message, opts...)
}

// Transformation creates a transformation error.
func Transformation(message string, opts ...Option) *Error {
	return New(KindTransformation, message, opts...)
}

// Command creates a command error.
func Command(message string, opts ...Option) *Error {
	return New(KindCommand, message, opts...)
}

// Aggregate creates an aggregate error.
func Aggregate(message string, opts ...Option) *Error {
	return New(KindAggregate, message, opts...)
}

// Dispatch creates a dispatch error.
func Dispatch(message string, opts ...Option) *Error {
	return New(KindDispatch, message, opts...)
}

// Action creates an action error.
func Action(message string, opts ...Option) *Error {
	return New(KindAction, message, opts...)
}

// Projection creates a projection error.
func Projection(message string, opts ...Option) *Error {
	return New(KindProjection, message, opts...)
}

var kindTitle = cases.Title(language.English)

// Format renders an error as a single line:
// "<Kind>: <message> (field: <f>, value: <v>)", omitting absent segments.
func Format(e *Error) string {
	if e == nil {
		return ""
	}
	var b strings.Builder
	b.WriteString(kindTitle.String(string(e.Kind)))
	b.WriteString(": ")
	b.WriteString(e.Message)

	var details []string
	if e.Field != "" {
		details = append(details, "field: "+e.Field)
	}
	if e.HasValue() {
		details = append(details, fmt.Sprintf("value: %v", e.Value))
	}
	if len(details) > 0 {
		b.WriteString(" (")
		b.WriteString(strings.Join(details, ", "))
		b.WriteString(")")
	}
	return b.String()
}

// List is an ordered collection of domain errors returned as one failure.
type List []*Error

// Error implements the error interface.
func (l List) Error() string {
	lines := make([]string, 0, len(l))
	for _, e := range l {
		lines = append(lines, Format(e))
	}
	return strings.Join(lines, "; ")
}

// Messages returns the formatted line of every error in order.
func (l List) Messages() []string {
	lines := make([]string, 0, len(l))
	for _, e := range l {
		lines = append(lines, Format(e))
	}
	return lines
}

// Err returns the list as an error, or nil when it is empty.
func (l List) Err() error {
	if len(l) == 0 {
		return nil
	}
	return l
}

// Normalize converts any failure value into a flat list of domain errors.
//
// Already-normalized errors pass through unchanged, lists are flattened, plain
// strings become validation errors, error values and maps carrying a
// "message" key become action errors, and anything else becomes a validation
// error describing the unrecognized value. A nil input yields an empty list.
func Normalize(raw any) List {
	switch typed := raw.(type) {
	case nil:
		return nil
	case *Error:
		if typed == nil {
			return nil
		}
		return List{typed}
	case Error:
		return List{&typed}
	case List:
		return flatten(len(typed), func(i int) any { return typed[i] })
	case []*Error:
		return flatten(len(typed), func(i int) any { return typed[i] })
	case []error:
		return flatten(len(typed), func(i int) any { return typed[i] })
	case []any:
		return flatten(len(typed), func(i int) any { return typed[i] })
	case string:
		return List{Validation(typed)}
	case map[string]any:
		if message, ok := typed["message"]; ok {
			return List{fromMessageMap(fmt.Sprint(message), typed)}
		}
	case map[string]string:
		if message, ok := typed["message"]; ok {
			converted := make(map[string]any, len(typed))
			for key, value := range typed {
				converted[key] = value
			}
			return List{fromMessageMap(message, converted)}
		}
	case error:
		return normalizeError(typed)
	}
	return List{Validation(fmt.Sprintf("unknown error: %#v", raw))}
}

// FromResult extracts the domain errors of a call outcome: none for success,
// a flattened normalized list for any failure.
func FromResult(err error) List {
	if err == nil {
		return nil
	}
	return Normalize(err)
}

func flatten(n int, at func(int) any) List {
	var out List
	for i := 0; i < n; i++ {
		out = append(out, Normalize(at(i))...)
	}
	return out
}

func normalizeError(err error) List {
	if joined, ok := err.(interface{ Unwrap() []error }); ok {
		return Normalize(joined.Unwrap())
	}
	var list List
	if errors.As(err, &list) {
		return Normalize(list)
	}
	var domain *Error
	if errors.As(err, &domain) && domain != nil {
		if domain == err {
			return List{domain}
		}
		// Keep the outer wrapping text visible without losing the domain shape.
		wrapped := *domain
		wrapped.Context = cloneContext(domain.Context)
		if wrapped.Context == nil {
			wrapped.Context = make(map[string]any, 1)
		}
		wrapped.Context["wrapped"] = err.Error()
		return List{&wrapped}
	}
	return List{Action(err.Error(), WithCause(err))}
}

func fromMessageMap(message string, values map[string]any) *Error {
	e := Action(message)
	for key, value := range values {
		switch key {
		case "message":
		case "field":
			e.Field = fmt.Sprint(value)
		case "value":
			e.Value = value
		default:
			WithContext(key, value)(e)
		}
	}
	return e
}

func cloneContext(values map[string]any) map[string]any {
	if values == nil {
		return nil
	}
	cloned := make(map[string]any, len(values))
	for key, value := range values {
		cloned[key] = value
	}
	return cloned
}

// ToGRPCStatus converts the error to a gRPC status with errdetails.
// The status message contains the formatted error for logging.
// The LocalizedMessage contains the caller-facing message.
func (e *Error) ToGRPCStatus(locale string, userMessage string) error {
	grpcCode := e.Kind.GRPCCode()
	st := status.New(grpcCode, Format(e))

	st, err := st.WithDetails(
		&errdetails.ErrorInfo{
			Reason:   e.Kind.Reason(),
			Domain:   Domain,
			Metadata: e.metadata(),
		},
		&errdetails.LocalizedMessage{
			Locale:  locale,
			Message: userMessage,
		},
	)
	if err != nil {
		return status.New(grpcCode, Format(e)).Err()
	}
	return st.Err()
}

// ToGRPCStatus converts a list to one gRPC status. The first error decides
// the status code; field-bearing errors become field violations.
func (l List) ToGRPCStatus() error {
	if len(l) == 0 {
		return nil
	}
	first := l[0]
	st := status.New(first.Kind.GRPCCode(), l.Error())

	violations := make([]*errdetails.BadRequest_FieldViolation, 0, len(l))
	for _, e := range l {
		if e.Field == "" {
			continue
		}
		violations = append(violations, &errdetails.BadRequest_FieldViolation{
			Field:       e.Field,
			Description: e.Message,
		})
	}
	if len(violations) == 0 {
		return first.ToGRPCStatus("", first.Message)
	}
	detailed, err := st.WithDetails(&errdetails.BadRequest{FieldViolations: violations})
	if err != nil {
		return st.Err()
	}
	return detailed.Err()
}

func (e *Error) metadata() map[string]string {
	out := make(map[string]string, len(e.Context)+2)
	for key, value := range e.Context {
		out[key] = fmt.Sprint(value)
	}
	if e.Field != "" {
		out["field"] = e.Field
	}
	if e.HasValue() {
		out["value"] = fmt.Sprint(e.Value)
	}
	if len(e.Path) > 0 {
		out["path"] = strings.Join(e.Path, ".")
	}
	return out
}
