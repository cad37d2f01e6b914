// Package mapper turns a command into an action invocation: parameter
// mapping, transformation, pre-processing, validation, dispatch by action type
// and post-processing, with every failure reported as a domain error.
package mapper

import (
	"context"
	"errors"
	"fmt"

	apperrors "github.com/louisbranch/eventcore/internal/platform/errors"
	"github.com/louisbranch/eventcore/internal/services/dispatch/domain/command"
	"github.com/louisbranch/eventcore/internal/services/dispatch/domain/param"
	"github.com/louisbranch/eventcore/internal/services/dispatch/domain/transaction"
	"github.com/louisbranch/eventcore/internal/services/dispatch/domain/transform"
	"github.com/louisbranch/eventcore/internal/services/dispatch/domain/validate"
)

var (
	// ErrRecordNotFound is returned by RecordLookup when no record matches.
	ErrRecordNotFound = errors.New("record not found")
	// ErrActionInvokerRequired indicates a mapper without an action invoker.
	ErrActionInvokerRequired = errors.New("action invoker is required")
)

// ActionContext is passed to collaborators alongside the parameters.
type ActionContext struct {
	Command    command.Command
	ActionType command.ActionType
	Record     any // existing record for update, destroy and read
	Metadata   map[string]any
}

// ActionInvoker performs the domain operation behind an action name.
type ActionInvoker interface {
	Invoke(ctx context.Context, resource, action string, params param.Map, actx ActionContext) (any, error)
}

// RecordLookup finds an existing record by identity. It returns
// ErrRecordNotFound when nothing matches.
type RecordLookup interface {
	FindByIdentity(ctx context.Context, resource, identityField string, identity any, actx ActionContext) (any, error)
}

// Mapping is the base parameter mapping. At most one form should be set; when
// several are, Rename runs first, then Func, then WithCommand.
type Mapping struct {
	Rename      map[string]string // fields not listed keep their names
	Func        func(param.Map) (param.Map, error)
	WithCommand func(param.Map, command.Command) (param.Map, error)
}

// Options configure one mapping.
type Options struct {
	ActionType         command.ActionType // empty infers from the action name
	Mapping            Mapping
	Transforms         []transform.Spec
	PreProcess         func(param.Map, command.Command) (param.Map, error)
	Validations        []validate.Rule
	PostProcess        func(any, command.Command) (any, error)
	InTransaction      bool
	Transaction        transaction.Resource
	TransactionOptions transaction.Options
	Metadata           map[string]any
}

// Mapper maps commands to actions.
type Mapper struct {
	Actions ActionInvoker
	Records RecordLookup
}

// New creates a mapper. records may be nil when no command needs a lookup.
func New(actions ActionInvoker, records RecordLookup) *Mapper {
	return &Mapper{Actions: actions, Records: records}
}

// MapToAction runs the full mapping sequence for cmd against resource and
// action. With InTransaction set the sequence runs inside opts.Transaction.
func (m *Mapper) MapToAction(ctx context.Context, cmd command.Command, resource, action string, opts Options) (any, error) {
	if opts.InTransaction {
		return transaction.Run(ctx, opts.Transaction, func(ctx context.Context) (any, error) {
			return m.run(ctx, cmd, resource, action, opts)
		}, opts.TransactionOptions)
	}
	return m.run(ctx, cmd, resource, action, opts)
}

// TransactionalMapToAction runs MapToAction for the command's own action
// inside opts.Transaction, regardless of InTransaction.
func (m *Mapper) TransactionalMapToAction(ctx context.Context, cmd command.Command, resource string, opts Options) (any, error) {
	opts.InTransaction = true
	return m.MapToAction(ctx, cmd, resource, cmd.Action, opts)
}

func (m *Mapper) run(ctx context.Context, cmd command.Command, resource, action string, opts Options) (any, error) {
	if m == nil || m.Actions == nil {
		return nil, apperrors.Dispatch(ErrActionInvokerRequired.Error())
	}

	actionType := opts.ActionType
	if actionType == "" {
		actionType = command.InferActionType(action)
	}
	if !actionType.Valid() {
		return nil, apperrors.Command("Invalid action type", apperrors.WithValue(string(actionType)))
	}

	params, err := applyMapping(cmd, opts.Mapping)
	if err != nil {
		return nil, err
	}
	params, err = applyTransforms(params, opts.Transforms)
	if err != nil {
		return nil, err
	}
	params, err = preProcess(params, cmd, opts.PreProcess)
	if err != nil {
		return nil, err
	}
	if failures := validate.Check(params, opts.Validations); failures != nil {
		return nil, failures
	}

	actx := ActionContext{Command: cmd, ActionType: actionType, Metadata: opts.Metadata}
	result, err := m.dispatch(ctx, cmd, resource, action, params, actx)
	if err != nil {
		return nil, err
	}
	return postProcess(result, cmd, opts.PostProcess)
}

func (m *Mapper) dispatch(ctx context.Context, cmd command.Command, resource, action string, params param.Map, actx ActionContext) (any, error) {
	if actx.ActionType.RequiresIdentity() {
		identity, ok := params.Get(cmd.IdentityField)
		if cmd.IdentityField == "" || !ok || identity == nil || identity == "" {
			return nil, apperrors.Command("Missing identity field",
				apperrors.WithField(cmd.IdentityField),
				apperrors.WithContext("command", cmd.Name),
			)
		}
		record, err := m.lookup(ctx, resource, cmd.IdentityField, identity, actx)
		if err != nil {
			return nil, err
		}
		actx.Record = record
	}
	return m.invoke(ctx, resource, action, params, actx)
}

func (m *Mapper) lookup(ctx context.Context, resource, field string, identity any, actx ActionContext) (record any, err error) {
	if m.Records == nil {
		return nil, apperrors.Dispatch("record lookup is required", apperrors.WithContext("resource", resource))
	}
	defer func() {
		if r := recover(); r != nil {
			record, err = nil, apperrors.Action(fmt.Sprintf("record lookup failed: %v", r))
		}
	}()
	record, err = m.Records.FindByIdentity(ctx, resource, field, identity, actx)
	if errors.Is(err, ErrRecordNotFound) || (err == nil && record == nil) {
		return nil, apperrors.Action("Record not found",
			apperrors.WithField(field),
			apperrors.WithValue(identity),
			apperrors.WithContext("resource", resource),
		)
	}
	if err != nil {
		return nil, normalized(err)
	}
	return record, nil
}

func (m *Mapper) invoke(ctx context.Context, resource, action string, params param.Map, actx ActionContext) (result any, err error) {
	defer func() {
		if r := recover(); r != nil {
			result, err = nil, apperrors.Action(fmt.Sprintf("action %s failed: %v", action, r),
				apperrors.WithContext("resource", resource),
			)
		}
	}()
	result, err = m.Actions.Invoke(ctx, resource, action, params, actx)
	if err != nil {
		return nil, normalized(err)
	}
	return result, nil
}

// normalized returns a single error as *apperrors.Error and several as a List.
func normalized(err error) error {
	list := apperrors.Normalize(err)
	if len(list) == 1 {
		return list[0]
	}
	return list
}

func applyMapping(cmd command.Command, mapping Mapping) (params param.Map, err error) {
	params = cmd.Params()
	defer func() {
		if r := recover(); r != nil {
			params, err = nil, transformationError(fmt.Sprintf("parameter mapping failed: %v", r), cmd.Values, "mapping")
		}
	}()
	if len(mapping.Rename) > 0 {
		renamed := make(param.Map, len(params))
		for key, value := range params {
			if to, ok := mapping.Rename[key]; ok {
				key = to
			}
			renamed[key] = value
		}
		params = renamed
	}
	if mapping.Func != nil {
		if params, err = mapping.Func(params); err != nil {
			return nil, transformationError(fmt.Sprintf("parameter mapping failed: %v", err), cmd.Values, "mapping")
		}
	}
	if mapping.WithCommand != nil {
		if params, err = mapping.WithCommand(params, cmd); err != nil {
			return nil, transformationError(fmt.Sprintf("parameter mapping failed: %v", err), cmd.Values, "mapping")
		}
	}
	if params == nil {
		params = param.Map{}
	}
	return params, nil
}

func applyTransforms(params param.Map, specs []transform.Spec) (out param.Map, err error) {
	if len(specs) == 0 {
		return params, nil
	}
	current := params
	for i, spec := range specs {
		next, stepErr := transformStep(current, spec)
		if stepErr != nil {
			return nil, transformationError(
				fmt.Sprintf("transform %s failed: %v", spec, stepErr),
				current,
				spec.String(),
				apperrors.WithContext("step", i),
				apperrors.WithField(spec.Field),
			)
		}
		current = next
	}
	return current, nil
}

func transformStep(params param.Map, spec transform.Spec) (out param.Map, err error) {
	defer func() {
		if r := recover(); r != nil {
			out, err = nil, fmt.Errorf("%v", r)
		}
	}()
	out, err = transform.Apply(params, []transform.Spec{spec})
	var stepErr *transform.StepError
	if errors.As(err, &stepErr) {
		err = stepErr.Err
	}
	return out, err
}

func transformationError(message string, params param.Map, spec string, opts ...apperrors.Option) *apperrors.Error {
	opts = append(opts,
		apperrors.WithContext("params", map[string]any(params.Clone())),
		apperrors.WithContext("spec", spec),
	)
	return apperrors.Transformation(message, opts...)
}

func preProcess(params param.Map, cmd command.Command, fn func(param.Map, command.Command) (param.Map, error)) (out param.Map, err error) {
	if fn == nil {
		return params, nil
	}
	defer func() {
		if r := recover(); r != nil {
			out, err = nil, apperrors.Command(fmt.Sprintf("pre-processing failed: %v", r), apperrors.WithContext("command", cmd.Name))
		}
	}()
	out, err = fn(params.Clone(), cmd)
	if err != nil {
		return nil, apperrors.Command(fmt.Sprintf("pre-processing failed: %v", err),
			apperrors.WithContext("command", cmd.Name),
			apperrors.WithCause(err),
		)
	}
	if out == nil {
		out = param.Map{}
	}
	return out, nil
}

func postProcess(result any, cmd command.Command, fn func(any, command.Command) (any, error)) (out any, err error) {
	if fn == nil {
		return result, nil
	}
	defer func() {
		if r := recover(); r != nil {
			out, err = nil, apperrors.Command(fmt.Sprintf("post-processing failed: %v", r), apperrors.WithContext("command", cmd.Name))
		}
	}()
	out, err = fn(result, cmd)
	if err != nil {
		return nil, apperrors.Command(fmt.Sprintf("post-processing failed: %v", err),
			apperrors.WithContext("command", cmd.Name),
			apperrors.WithCause(err),
		)
	}
	return out, nil
}
