package errors

import (
	"strings"

	"google.golang.org/grpc/codes"
)

// Kind is the machine-readable failure category of a domain error.
type Kind string

const (
	// KindValidation marks a parameter or rule check failure.
	KindValidation Kind = "validation"
	// KindTransformation marks a failing parameter transformation.
	KindTransformation Kind = "transformation"
	// KindCommand marks an invalid command or command configuration.
	KindCommand Kind = "command"
	// KindAggregate marks an aggregate invariant violation.
	KindAggregate Kind = "aggregate"
	// KindDispatch marks an infrastructure failure while dispatching.
	KindDispatch Kind = "dispatch"
	// KindAction marks a failure reported by the action collaborator.
	KindAction Kind = "action"
	// KindProjection marks a read-model update failure.
	KindProjection Kind = "projection"
)

// Kinds lists every known kind in declaration order.
func Kinds() []Kind {
	return []Kind{
		KindValidation,
		KindTransformation,
		KindCommand,
		KindAggregate,
		KindDispatch,
		KindAction,
		KindProjection,
	}
}

// Valid reports whether k is a known kind.
func (k Kind) Valid() bool {
	for _, known := range Kinds() {
		if k == known {
			return true
		}
	}
	return false
}

// Reason returns the upper-case reason string used in error details.
func (k Kind) Reason() string {
	if !k.Valid() {
		return "UNKNOWN_ERROR"
	}
	return strings.ToUpper(string(k)) + "_ERROR"
}

// GRPCCode maps domain kinds to gRPC status codes.
func (k Kind) GRPCCode() codes.Code {
	switch k {
	// InvalidArgument - bad input that never reached the action
	case KindValidation, KindTransformation:
		return codes.InvalidArgument

	// FailedPrecondition - command or aggregate state disallows the operation
	case KindCommand, KindAggregate:
		return codes.FailedPrecondition

	// Aborted - the action collaborator refused or failed the operation
	case KindAction:
		return codes.Aborted

	// Unavailable - transactional or dispatch infrastructure failed
	case KindDispatch:
		return codes.Unavailable

	default:
		return codes.Internal
	}
}
