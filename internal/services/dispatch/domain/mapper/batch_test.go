package mapper

import (
	"context"
	"errors"
	"testing"

	apperrors "github.com/louisbranch/eventcore/internal/platform/errors"
	"github.com/louisbranch/eventcore/internal/services/dispatch/domain/command"
	"github.com/louisbranch/eventcore/internal/services/dispatch/domain/param"
	"github.com/louisbranch/eventcore/internal/services/dispatch/domain/transaction"
)

type scriptedActions struct {
	fail map[string]error
}

func (s scriptedActions) Invoke(_ context.Context, _, action string, params param.Map, _ ActionContext) (any, error) {
	if err := s.fail[action]; err != nil {
		return nil, err
	}
	return action + ":" + params["id"].(string), nil
}

func transferSteps() []Step {
	return []Step{
		{Name: "withdraw", Command: command.Command{Name: "withdraw", Values: map[string]any{"id": "a"}, Action: "withdraw"}},
		{Name: "deposit", Command: command.Command{Name: "deposit", Values: map[string]any{"id": "b"}, Action: "deposit"}},
	}
}

func TestExecuteCommandsReturnsResultsByStep(t *testing.T) {
	tx := &fakeTx{supports: true}
	got, err := New(scriptedActions{}, nil).ExecuteCommands(context.Background(), tx, transferSteps(), transaction.Options{})
	if err != nil {
		t.Fatalf("execute commands: %v", err)
	}
	if got["withdraw"] != "withdraw:a" || got["deposit"] != "deposit:b" {
		t.Fatalf("results = %v", got)
	}
	if tx.runs != 1 {
		t.Fatalf("runs = %d, want one transaction", tx.runs)
	}
}

func TestExecuteCommandsReportsFailedStep(t *testing.T) {
	tx := &fakeTx{supports: true}
	actions := scriptedActions{fail: map[string]error{"deposit": errors.New("account closed")}}

	_, err := New(actions, nil).ExecuteCommands(context.Background(), tx, transferSteps(), transaction.Options{})
	var stepErr *transaction.StepError
	if !errors.As(err, &stepErr) {
		t.Fatalf("err = %v, want StepError", err)
	}
	if stepErr.Step != "deposit" || stepErr.Partial["withdraw"] != "withdraw:a" {
		t.Fatalf("step error = %+v", stepErr)
	}
	if !errors.Is(err, &apperrors.Error{Kind: apperrors.KindAction, Message: "account closed"}) {
		t.Fatalf("cause = %v", stepErr.Err)
	}
	if tx.failed != 1 {
		t.Fatal("expected transaction rollback")
	}
}

func TestExecuteCommandsRequiresTransactions(t *testing.T) {
	_, err := New(scriptedActions{}, nil).ExecuteCommands(context.Background(), &fakeTx{}, transferSteps(), transaction.Options{})
	if !errors.Is(err, &apperrors.Error{Kind: apperrors.KindCommand}) {
		t.Fatalf("err = %v, want command error", err)
	}
}

func TestExecuteCommandsRejectsBadStepNames(t *testing.T) {
	steps := transferSteps()
	steps[1].Name = "withdraw"
	if _, err := New(scriptedActions{}, nil).ExecuteCommands(context.Background(), &fakeTx{supports: true}, steps, transaction.Options{}); err == nil {
		t.Fatal("expected duplicate step error")
	}
	steps[1].Name = " "
	if _, err := New(scriptedActions{}, nil).ExecuteCommands(context.Background(), &fakeTx{supports: true}, steps, transaction.Options{}); err == nil {
		t.Fatal("expected blank step error")
	}
}
