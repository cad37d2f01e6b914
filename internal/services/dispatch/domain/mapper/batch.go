package mapper

import (
	"context"
	"strings"

	apperrors "github.com/louisbranch/eventcore/internal/platform/errors"
	"github.com/louisbranch/eventcore/internal/services/dispatch/domain/command"
	"github.com/louisbranch/eventcore/internal/services/dispatch/domain/transaction"
)

// Step is one named mapper invocation of a batch.
type Step struct {
	Name     string
	Command  command.Command
	Resource string
	Action   string // defaults to the command's action
	Options  Options
}

// ExecuteCommands runs steps in order inside one transaction on res. Results
// are keyed by step name. When a step fails the transaction rolls back and the
// error is a *transaction.StepError naming the step, with the results of the
// steps that ran before it.
func (m *Mapper) ExecuteCommands(ctx context.Context, res transaction.Resource, steps []Step, opts transaction.Options) (map[string]any, error) {
	seen := make(map[string]struct{}, len(steps))
	for _, step := range steps {
		name := strings.TrimSpace(step.Name)
		if name == "" {
			return nil, apperrors.Command("Step name is required")
		}
		if _, dup := seen[name]; dup {
			return nil, apperrors.Command("Duplicate step name", apperrors.WithValue(name))
		}
		seen[name] = struct{}{}
	}

	out, err := transaction.Run(ctx, res, func(ctx context.Context) (any, error) {
		results := make(map[string]any, len(steps))
		for _, step := range steps {
			action := step.Action
			if action == "" {
				action = step.Command.Action
			}
			stepOpts := step.Options
			stepOpts.InTransaction = false
			result, err := m.run(ctx, step.Command, step.Resource, action, stepOpts)
			if err != nil {
				partial := make(map[string]any, len(results))
				for key, value := range results {
					partial[key] = value
				}
				return nil, &transaction.StepError{Step: step.Name, Err: err, Partial: partial}
			}
			results[step.Name] = result
		}
		return results, nil
	}, opts)
	if err != nil {
		return nil, err
	}
	results, _ := out.(map[string]any)
	return results, nil
}
