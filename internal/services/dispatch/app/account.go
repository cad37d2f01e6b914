package app

import (
	"context"
	"fmt"

	apperrors "github.com/louisbranch/eventcore/internal/platform/errors"
	"github.com/louisbranch/eventcore/internal/services/dispatch/domain/aggregate"
	"github.com/louisbranch/eventcore/internal/services/dispatch/domain/event"
	"github.com/louisbranch/eventcore/internal/services/dispatch/domain/mapper"
	"github.com/louisbranch/eventcore/internal/services/dispatch/domain/middleware"
	"github.com/louisbranch/eventcore/internal/services/dispatch/domain/param"
	"github.com/louisbranch/eventcore/internal/services/dispatch/domain/script"
	"github.com/louisbranch/eventcore/internal/services/dispatch/domain/transform"
	"github.com/louisbranch/eventcore/internal/services/dispatch/domain/validate"
	"github.com/louisbranch/eventcore/internal/services/dispatch/resource/memory"
)

// AccountType is the aggregate type of the bundled account aggregate.
const AccountType = "account"

// AccountResource is the resource account actions run against.
const AccountResource = "accounts"

const accountRules = `
function positive_amount(v)
  if type(v) ~= "number" then
    return false, "must be a number"
  end
  if v <= 0 then
    return false, "must be positive"
  end
  return true
end

function display_name(p)
  local owner = p.owner or ""
  if p.currency then
    return owner .. " (" .. p.currency .. ")"
  end
  return owner
end
`

// AccountDefinition declares the account aggregate.
func AccountDefinition() (aggregate.Definition, error) {
	rules, err := script.Compile("account_rules", accountRules)
	if err != nil {
		return aggregate.Definition{}, err
	}

	return aggregate.Definition{
		Type:          AccountType,
		IdentityField: "id",
		Resource:      AccountResource,
		Fields:        []string{"owner", "email", "currency", "balance", "status"},
		Events: []event.Definition{
			{Name: "account_opened", Fields: []string{"id", "owner", "email", "currency", "status"}},
			{Name: "funds_deposited", Fields: []string{"id", "amount"}},
			{Name: "funds_withdrawn", Fields: []string{"id", "amount"}},
			{Name: "account_closed", Fields: []string{"id"}},
		},
		Commands: []aggregate.CommandDefinition{
			{
				Name:   "open_account",
				Fields: []string{"id", "owner", "email", "currency", "status"},
				Action: "create_account",
				Event:  "account_opened",
				Options: mapper.Options{
					Transforms: []transform.Spec{
						transform.Default("currency", "USD"),
						transform.Default("status", "open"),
						transform.Cast("status", transform.CastSymbol),
						transform.Compute("display_name", rules.Compute("display_name")),
					},
					Validations: []validate.Rule{
						validate.Required("owner"),
						validate.MinLength("owner", 2),
						validate.MaxLength("owner", 80),
						validate.Tag("email", "email"),
						validate.OneOf("currency", "USD", "EUR", "GBP"),
					},
				},
			},
			{
				Name:   "deposit",
				Fields: []string{"id", "amount"},
				Event:  "funds_deposited",
				Options: mapper.Options{
					Transforms: []transform.Spec{transform.Cast("amount", transform.CastInteger)},
					Validations: []validate.Rule{
						validate.Required("amount"),
						validate.Type("amount", validate.TypeInteger),
						validate.Custom("amount", rules.Validator("positive_amount")),
					},
				},
			},
			{
				Name:   "withdraw",
				Fields: []string{"id", "amount"},
				Event:  "funds_withdrawn",
				Options: mapper.Options{
					Transforms: []transform.Spec{transform.Cast("amount", transform.CastInteger)},
					Validations: []validate.Rule{
						validate.Required("amount"),
						validate.Type("amount", validate.TypeInteger),
						validate.Min("amount", 1),
					},
				},
			},
			{
				Name:   "close_account",
				Fields: []string{"id"},
				Action: "update_account",
				Event:  "account_closed",
				Options: mapper.Options{
					Mapping: mapper.Mapping{Func: func(params param.Map) (param.Map, error) {
						params["status"] = "closed"
						return params, nil
					}},
				},
				Middleware: []middleware.Middleware{
					middleware.RequireMetadata{Keys: []string{"reason"}},
				},
			},
		},
		Folds: map[string]aggregate.FoldFunc{
			"funds_deposited": func(state aggregate.State, evt event.Event) (aggregate.State, error) {
				return adjustBalance(state, evt, 1)
			},
			"funds_withdrawn": func(state aggregate.State, evt event.Event) (aggregate.State, error) {
				return adjustBalance(state, evt, -1)
			},
			"account_closed": func(state aggregate.State, evt event.Event) (aggregate.State, error) {
				state.Values["status"] = "closed"
				return state, nil
			},
		},
	}, nil
}

func adjustBalance(state aggregate.State, evt event.Event, sign int) (aggregate.State, error) {
	amount, ok := integer(evt.Values["amount"])
	if !ok {
		return state, fmt.Errorf("amount %v is not an integer", evt.Values["amount"])
	}
	balance, _ := integer(state.Values["balance"])
	state.Values["balance"] = balance + sign*amount
	return state, nil
}

// RegisterAccountActions installs the account actions on the resource store.
func RegisterAccountActions(store *memory.Store) {
	store.Register(AccountResource, "deposit", func(_ context.Context, s *memory.Store, params param.Map, _ mapper.ActionContext) (any, error) {
		return moveFunds(s, params, 1)
	})
	store.Register(AccountResource, "withdraw", func(_ context.Context, s *memory.Store, params param.Map, _ mapper.ActionContext) (any, error) {
		return moveFunds(s, params, -1)
	})
}

func moveFunds(s *memory.Store, params param.Map, sign int) (any, error) {
	identity := fmt.Sprint(params["id"])
	record, ok := s.Get(AccountResource, identity)
	if !ok {
		return nil, apperrors.Action("Record not found", apperrors.WithField("id"), apperrors.WithValue(identity))
	}
	if record["status"] == "closed" {
		return nil, apperrors.Action("account is closed", apperrors.WithField("id"), apperrors.WithValue(identity))
	}
	amount, ok := integer(params["amount"])
	if !ok {
		return nil, apperrors.Action("amount must be an integer", apperrors.WithField("amount"), apperrors.WithValue(params["amount"]))
	}
	balance, _ := integer(record["balance"])
	next := balance + sign*amount
	if next < 0 {
		return nil, apperrors.Action("insufficient funds",
			apperrors.WithField("amount"),
			apperrors.WithValue(amount),
			apperrors.WithContext("balance", balance),
		)
	}
	record["balance"] = next
	s.Put(AccountResource, identity, record)
	return record, nil
}

func integer(value any) (int, bool) {
	n, ok := transform.CastInteger.Coerce(value)
	if !ok {
		return 0, false
	}
	return n.(int), true
}
