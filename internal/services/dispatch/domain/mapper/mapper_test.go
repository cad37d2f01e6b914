package mapper

import (
	"context"
	"errors"
	"reflect"
	"strings"
	"testing"

	apperrors "github.com/louisbranch/eventcore/internal/platform/errors"
	"github.com/louisbranch/eventcore/internal/services/dispatch/domain/command"
	"github.com/louisbranch/eventcore/internal/services/dispatch/domain/param"
	"github.com/louisbranch/eventcore/internal/services/dispatch/domain/transaction"
	"github.com/louisbranch/eventcore/internal/services/dispatch/domain/transform"
	"github.com/louisbranch/eventcore/internal/services/dispatch/domain/validate"
)

type invocation struct {
	resource string
	action   string
	params   param.Map
	actx     ActionContext
}

type fakeActions struct {
	calls  []invocation
	result any
	err    error
	panic  any
}

func (f *fakeActions) Invoke(_ context.Context, resource, action string, params param.Map, actx ActionContext) (any, error) {
	f.calls = append(f.calls, invocation{resource: resource, action: action, params: params, actx: actx})
	if f.panic != nil {
		panic(f.panic)
	}
	if f.err != nil {
		return nil, f.err
	}
	if f.result != nil {
		return f.result, nil
	}
	return map[string]any(params), nil
}

type fakeRecords struct {
	records map[any]any
	lookups int
	err     error
}

func (f *fakeRecords) FindByIdentity(_ context.Context, _, _ string, identity any, _ ActionContext) (any, error) {
	f.lookups++
	if f.err != nil {
		return nil, f.err
	}
	record, ok := f.records[identity]
	if !ok {
		return nil, ErrRecordNotFound
	}
	return record, nil
}

func downcase(value any) (any, error) {
	return strings.ToLower(value.(string)), nil
}

func userCommand(values map[string]any) command.Command {
	return command.Command{
		Name:          "register_user",
		Fields:        []string{"id", "name", "email"},
		Values:        values,
		IdentityField: "id",
		Action:        "create_user",
	}
}

var userOptions = Options{
	Transforms:  []transform.Spec{transform.Map("name", "full_name"), transform.Transform("email", downcase)},
	Validations: []validate.Rule{validate.MinLength("full_name", 2)},
}

func TestMapToActionTransformsValidatesAndCreates(t *testing.T) {
	actions := &fakeActions{}
	m := New(actions, nil)
	cmd := userCommand(map[string]any{"id": "123", "name": "john", "email": "JOHN@X.COM"})

	if _, err := m.MapToAction(context.Background(), cmd, "users", "create_user", userOptions); err != nil {
		t.Fatalf("map to action: %v", err)
	}
	if len(actions.calls) != 1 {
		t.Fatalf("calls = %d, want 1", len(actions.calls))
	}
	want := param.Map{"id": "123", "full_name": "john", "email": "john@x.com"}
	if !reflect.DeepEqual(actions.calls[0].params, want) {
		t.Fatalf("params = %v, want %v", actions.calls[0].params, want)
	}
	if actions.calls[0].actx.ActionType != command.ActionCreate {
		t.Fatalf("action type = %q", actions.calls[0].actx.ActionType)
	}
	if cmd.Values["name"] != "john" {
		t.Fatal("expected command values to stay untouched")
	}
}

func TestMapToActionValidationFailureSkipsAction(t *testing.T) {
	actions := &fakeActions{}
	opts := userOptions
	opts.Validations = append([]validate.Rule{}, validate.Format("email", "@"))
	cmd := userCommand(map[string]any{"id": "123", "name": "john", "email": "not-an-email"})

	_, err := New(actions, nil).MapToAction(context.Background(), cmd, "users", "create_user", opts)
	var list apperrors.List
	if !errors.As(err, &list) || len(list) != 1 {
		t.Fatalf("err = %v, want one validation error", err)
	}
	if list[0].Kind != apperrors.KindValidation || list[0].Field != "email" {
		t.Fatalf("error = %+v", list[0])
	}
	if len(actions.calls) != 0 {
		t.Fatal("expected action to be skipped")
	}
}

func TestMissingIdentityNeverLooksUp(t *testing.T) {
	for _, action := range []string{"update_user", "destroy_user", "delete_user", "read_user", "get_user"} {
		t.Run(action, func(t *testing.T) {
			actions := &fakeActions{}
			records := &fakeRecords{}
			cmd := userCommand(map[string]any{"name": "john"})

			_, err := New(actions, records).MapToAction(context.Background(), cmd, "users", action, Options{})
			var domain *apperrors.Error
			if !errors.As(err, &domain) || domain.Kind != apperrors.KindCommand || !strings.Contains(domain.Message, "Missing identity field") {
				t.Fatalf("err = %v", err)
			}
			if records.lookups != 0 || len(actions.calls) != 0 {
				t.Fatalf("lookups = %d, calls = %d", records.lookups, len(actions.calls))
			}
		})
	}
}

func TestUpdateLooksUpRecord(t *testing.T) {
	actions := &fakeActions{result: "updated"}
	records := &fakeRecords{records: map[any]any{"123": "existing"}}
	cmd := userCommand(map[string]any{"id": "123", "email": "a@b"})

	got, err := New(actions, records).MapToAction(context.Background(), cmd, "users", "update_user", Options{})
	if err != nil || got != "updated" {
		t.Fatalf("MapToAction() = %v, %v", got, err)
	}
	if actions.calls[0].actx.Record != "existing" || actions.calls[0].actx.ActionType != command.ActionUpdate {
		t.Fatalf("action context = %+v", actions.calls[0].actx)
	}
}

func TestRecordNotFound(t *testing.T) {
	actions := &fakeActions{}
	cmd := userCommand(map[string]any{"id": "missing"})

	_, err := New(actions, &fakeRecords{}).MapToAction(context.Background(), cmd, "users", "destroy_user", Options{})
	if !errors.Is(err, &apperrors.Error{Kind: apperrors.KindAction, Message: "Record not found"}) {
		t.Fatalf("err = %v", err)
	}
	if len(actions.calls) != 0 {
		t.Fatal("expected action to be skipped")
	}
}

func TestLookupErrorIsNormalized(t *testing.T) {
	cmd := userCommand(map[string]any{"id": "1"})
	_, err := New(&fakeActions{}, &fakeRecords{err: errors.New("db down")}).MapToAction(context.Background(), cmd, "users", "read_user", Options{})
	if !errors.Is(err, &apperrors.Error{Kind: apperrors.KindAction, Message: "db down"}) {
		t.Fatalf("err = %v", err)
	}
}

func TestExplicitActionTypeOverridesInference(t *testing.T) {
	actions := &fakeActions{}
	cmd := userCommand(map[string]any{})
	_, err := New(actions, nil).MapToAction(context.Background(), cmd, "users", "create_user", Options{ActionType: command.ActionCustom})
	if err != nil {
		t.Fatalf("map to action: %v", err)
	}
	if actions.calls[0].actx.ActionType != command.ActionCustom {
		t.Fatalf("action type = %q", actions.calls[0].actx.ActionType)
	}
}

func TestActionFailuresAreNormalized(t *testing.T) {
	tests := []struct {
		name string
		fake *fakeActions
		kind apperrors.Kind
	}{
		{"raw error", &fakeActions{err: errors.New("insufficient funds")}, apperrors.KindAction},
		{"domain error", &fakeActions{err: apperrors.Aggregate("frozen")}, apperrors.KindAggregate},
		{"panic", &fakeActions{panic: "nil map"}, apperrors.KindAction},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New(tt.fake, nil).MapToAction(context.Background(), userCommand(nil), "accounts", "deposit", Options{})
			var domain *apperrors.Error
			if !errors.As(err, &domain) || domain.Kind != tt.kind {
				t.Fatalf("err = %v, want %s", err, tt.kind)
			}
		})
	}

	multi := &fakeActions{err: errors.Join(errors.New("a"), errors.New("b"))}
	_, err := New(multi, nil).MapToAction(context.Background(), userCommand(nil), "accounts", "deposit", Options{})
	var list apperrors.List
	if !errors.As(err, &list) || len(list) != 2 {
		t.Fatalf("err = %v, want two errors", err)
	}
}

func TestParameterMapping(t *testing.T) {
	cmd := userCommand(map[string]any{"id": "1", "name": "ana", "email": "e"})
	tests := []struct {
		name    string
		mapping Mapping
		want    param.Map
	}{
		{"default", Mapping{}, param.Map{"id": "1", "name": "ana", "email": "e"}},
		{"rename", Mapping{Rename: map[string]string{"name": "full_name"}}, param.Map{"id": "1", "full_name": "ana", "email": "e"}},
		{"func", Mapping{Func: func(p param.Map) (param.Map, error) { return p.Only("id"), nil }}, param.Map{"id": "1"}},
		{"with command", Mapping{WithCommand: func(p param.Map, c command.Command) (param.Map, error) {
			return param.Map{"cmd": c.Name}, nil
		}}, param.Map{"cmd": "register_user"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			actions := &fakeActions{}
			if _, err := New(actions, nil).MapToAction(context.Background(), cmd, "users", "create_user", Options{Mapping: tt.mapping}); err != nil {
				t.Fatalf("map to action: %v", err)
			}
			if !reflect.DeepEqual(actions.calls[0].params, tt.want) {
				t.Fatalf("params = %v, want %v", actions.calls[0].params, tt.want)
			}
		})
	}
}

func TestTransformFaultBecomesTransformationError(t *testing.T) {
	actions := &fakeActions{}
	opts := Options{Transforms: []transform.Spec{
		transform.Compute("total", func(param.Map) (any, error) { panic("divide by zero") }),
	}}
	_, err := New(actions, nil).MapToAction(context.Background(), userCommand(map[string]any{"id": "1"}), "users", "create_user", opts)
	var domain *apperrors.Error
	if !errors.As(err, &domain) || domain.Kind != apperrors.KindTransformation {
		t.Fatalf("err = %v", err)
	}
	if domain.Context["spec"] != "compute(total)" {
		t.Fatalf("spec context = %v", domain.Context["spec"])
	}
	if params, ok := domain.Context["params"].(map[string]any); !ok || params["id"] != "1" {
		t.Fatalf("params context = %v", domain.Context["params"])
	}
	if len(actions.calls) != 0 {
		t.Fatal("expected action to be skipped")
	}
}

func TestHookFaultsBecomeCommandErrors(t *testing.T) {
	tests := []struct {
		name string
		opts Options
	}{
		{"pre panic", Options{PreProcess: func(param.Map, command.Command) (param.Map, error) { panic("x") }}},
		{"pre error", Options{PreProcess: func(param.Map, command.Command) (param.Map, error) { return nil, errors.New("x") }}},
		{"post panic", Options{PostProcess: func(any, command.Command) (any, error) { panic("x") }}},
		{"post error", Options{PostProcess: func(any, command.Command) (any, error) { return nil, errors.New("x") }}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New(&fakeActions{}, nil).MapToAction(context.Background(), userCommand(nil), "users", "create_user", tt.opts)
			if !errors.Is(err, &apperrors.Error{Kind: apperrors.KindCommand}) {
				t.Fatalf("err = %v, want command error", err)
			}
		})
	}
}

func TestHooksRunInOrder(t *testing.T) {
	actions := &fakeActions{result: "raw"}
	opts := Options{
		PreProcess: func(p param.Map, _ command.Command) (param.Map, error) {
			p["pre"] = true
			return p, nil
		},
		Validations: []validate.Rule{validate.Required("pre")},
		PostProcess: func(result any, _ command.Command) (any, error) {
			return result.(string) + "+post", nil
		},
	}
	got, err := New(actions, nil).MapToAction(context.Background(), userCommand(nil), "users", "create_user", opts)
	if err != nil || got != "raw+post" {
		t.Fatalf("MapToAction() = %v, %v", got, err)
	}
	if actions.calls[0].params["pre"] != true {
		t.Fatal("expected pre-processed params to reach the action")
	}
}

type fakeTx struct {
	supports bool
	runs     int
	failed   int
}

func (f *fakeTx) SupportsTransactions() bool { return f.supports }

func (f *fakeTx) Transaction(ctx context.Context, fn transaction.Func, _ transaction.Options) (any, error) {
	f.runs++
	out, err := fn(ctx)
	if err != nil {
		f.failed++
	}
	return out, err
}

func TestInTransaction(t *testing.T) {
	tx := &fakeTx{supports: true}
	actions := &fakeActions{result: "ok"}
	got, err := New(actions, nil).MapToAction(context.Background(), userCommand(nil), "users", "create_user", Options{InTransaction: true, Transaction: tx})
	if err != nil || got != "ok" || tx.runs != 1 {
		t.Fatalf("MapToAction() = %v, %v (runs %d)", got, err, tx.runs)
	}
}

func TestInTransactionRejectsUnsupportedResource(t *testing.T) {
	actions := &fakeActions{}
	_, err := New(actions, nil).TransactionalMapToAction(context.Background(), userCommand(nil), "users", Options{Transaction: &fakeTx{}})
	if !errors.Is(err, &apperrors.Error{Kind: apperrors.KindCommand}) {
		t.Fatalf("err = %v, want command error", err)
	}
	if len(actions.calls) != 0 {
		t.Fatal("expected no untransacted run")
	}
}

func TestTransactionalMapToActionUsesCommandAction(t *testing.T) {
	actions := &fakeActions{}
	tx := &fakeTx{supports: true}
	if _, err := New(actions, nil).TransactionalMapToAction(context.Background(), userCommand(nil), "users", Options{Transaction: tx}); err != nil {
		t.Fatalf("transactional map: %v", err)
	}
	if actions.calls[0].action != "create_user" || tx.runs != 1 {
		t.Fatalf("action = %q, runs = %d", actions.calls[0].action, tx.runs)
	}
}

func TestMissingInvoker(t *testing.T) {
	_, err := New(nil, nil).MapToAction(context.Background(), userCommand(nil), "users", "create_user", Options{})
	if !errors.Is(err, &apperrors.Error{Kind: apperrors.KindDispatch}) {
		t.Fatalf("err = %v", err)
	}
}
