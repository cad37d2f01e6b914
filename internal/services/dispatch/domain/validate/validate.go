// Package validate checks command parameters against an ordered list of
// field rules, collecting one error per failing rule.
package validate

import (
	"fmt"
	"math"
	"reflect"
	"regexp"
	"time"
	"unicode/utf8"

	playground "github.com/go-playground/validator/v10"

	apperrors "github.com/louisbranch/eventcore/internal/platform/errors"
	"github.com/louisbranch/eventcore/internal/services/dispatch/domain/param"
)

const failedCustom = "failed custom validation"

// Check evaluates every rule in order. Rules on absent or nil fields are
// skipped unless the rule is Required. The result is nil when all rules pass.
func Check(params param.Map, rules []Rule) apperrors.List {
	var failures apperrors.List
	for _, rule := range rules {
		if e := checkOne(params, rule); e != nil {
			failures = append(failures, e)
		}
	}
	return failures
}

// Validate is Check returned as an error.
func Validate(params param.Map, rules []Rule) error {
	return Check(params, rules).Err()
}

func checkOne(params param.Map, rule Rule) *apperrors.Error {
	value, present := params[rule.Field]
	if !present || value == nil {
		if rule.Kind == KindRequired {
			return failure(rule, "is required", nil)
		}
		return nil
	}

	message, ok := evaluate(rule, value)
	if ok {
		return nil
	}
	return failure(rule, message, value)
}

func failure(rule Rule, message string, value any) *apperrors.Error {
	if rule.Message != "" {
		message = rule.Message
	}
	opts := []apperrors.Option{
		apperrors.WithField(rule.Field),
		apperrors.WithContext("rule", string(rule.Kind)),
	}
	if value != nil {
		opts = append(opts, apperrors.WithValue(value))
	}
	return apperrors.Validation(message, opts...)
}

func evaluate(rule Rule, value any) (string, bool) {
	switch rule.Kind {
	case KindRequired:
		return "", true

	case KindType:
		return fmt.Sprintf("must be of type %s", rule.Type), hasType(value, rule.Type)

	case KindFormat:
		s, ok := value.(string)
		if !ok || rule.Pattern == nil {
			return "has invalid format", false
		}
		return "has invalid format", rule.Pattern.MatchString(s)

	case KindMin:
		n, ok := toNumber(value)
		if !ok {
			return "must be a number", false
		}
		return fmt.Sprintf("must be greater than or equal to %v", rule.Bound), n >= rule.Bound

	case KindMax:
		n, ok := toNumber(value)
		if !ok {
			return "must be a number", false
		}
		return fmt.Sprintf("must be less than or equal to %v", rule.Bound), n <= rule.Bound

	case KindMinLength, KindMaxLength:
		s, ok := stringValue(value)
		if !ok {
			return "must be a string", false
		}
		length := utf8.RuneCountInString(s)
		if rule.Kind == KindMinLength {
			return fmt.Sprintf("should be at least %d character(s)", rule.Size), length >= rule.Size
		}
		return fmt.Sprintf("should be at most %d character(s)", rule.Size), length <= rule.Size

	case KindMinItems, KindMaxItems:
		size, ok := collectionSize(value)
		if !ok {
			return "must be a collection", false
		}
		if rule.Kind == KindMinItems {
			return fmt.Sprintf("should have at least %d item(s)", rule.Size), size >= rule.Size
		}
		return fmt.Sprintf("should have at most %d item(s)", rule.Size), size <= rule.Size

	case KindOneOf:
		return fmt.Sprintf("must be one of %v", rule.Options), contains(rule.Options, value)

	case KindSubsetOf:
		items, ok := elements(value)
		if !ok {
			return "must be a collection", false
		}
		for _, item := range items {
			if !contains(rule.Options, item) {
				return fmt.Sprintf("must be a subset of %v", rule.Options), false
			}
		}
		return "", true

	case KindCustom:
		return runCustom(rule, value)

	case KindTag:
		return runTag(rule, value)

	default:
		return fmt.Sprintf("unknown validation rule %q", rule.Kind), false
	}
}

func runCustom(rule Rule, value any) (message string, ok bool) {
	defer func() {
		if recover() != nil {
			message, ok = failedCustom, false
		}
	}()
	switch {
	case rule.Custom != nil:
		if err := rule.Custom(value); err != nil {
			if err.Error() == "" {
				return failedCustom, false
			}
			return err.Error(), false
		}
		return "", true
	case rule.Predicate != nil:
		return failedCustom, rule.Predicate(value)
	default:
		return failedCustom, false
	}
}

func runTag(rule Rule, value any) (message string, ok bool) {
	message = fmt.Sprintf("failed %s validation", rule.Tag)
	defer func() {
		// The playground validator panics on undefined tags.
		if recover() != nil {
			message, ok = fmt.Sprintf("unknown validation tag %q", rule.Tag), false
		}
	}()
	return message, tags.Var(value, rule.Tag) == nil
}

func hasType(value any, typ ValueType) bool {
	switch typ {
	case TypeString:
		_, ok := value.(string)
		return ok
	case TypeInteger:
		switch v := value.(type) {
		case int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64:
			return true
		case float64:
			return v == math.Trunc(v) && v >= math.MinInt && v < -math.MinInt
		}
		return false
	case TypeFloat:
		switch value.(type) {
		case float32, float64:
			return true
		}
		return false
	case TypeNumber:
		_, ok := toNumber(value)
		return ok
	case TypeBoolean:
		_, ok := value.(bool)
		return ok
	case TypeList:
		kind := reflect.ValueOf(value).Kind()
		return kind == reflect.Slice || kind == reflect.Array
	case TypeMap:
		return reflect.ValueOf(value).Kind() == reflect.Map
	case TypeSymbol:
		_, ok := value.(param.Symbol)
		return ok
	case TypeDateTime:
		_, ok := value.(time.Time)
		return ok
	default:
		return false
	}
}

func toNumber(value any) (float64, bool) {
	switch v := value.(type) {
	case int:
		return float64(v), true
	case int8:
		return float64(v), true
	case int16:
		return float64(v), true
	case int32:
		return float64(v), true
	case int64:
		return float64(v), true
	case uint:
		return float64(v), true
	case uint8:
		return float64(v), true
	case uint16:
		return float64(v), true
	case uint32:
		return float64(v), true
	case uint64:
		return float64(v), true
	case float32:
		return float64(v), true
	case float64:
		return v, !math.IsNaN(v)
	default:
		return 0, false
	}
}

func stringValue(value any) (string, bool) {
	switch v := value.(type) {
	case string:
		return v, true
	case param.Symbol:
		return string(v), true
	default:
		return "", false
	}
}

func collectionSize(value any) (int, bool) {
	rv := reflect.ValueOf(value)
	switch rv.Kind() {
	case reflect.Slice, reflect.Array, reflect.Map:
		return rv.Len(), true
	default:
		return 0, false
	}
}

func elements(value any) ([]any, bool) {
	rv := reflect.ValueOf(value)
	if rv.Kind() != reflect.Slice && rv.Kind() != reflect.Array {
		return nil, false
	}
	items := make([]any, rv.Len())
	for i := range items {
		items[i] = rv.Index(i).Interface()
	}
	return items, true
}

func contains(options []any, value any) bool {
	for _, option := range options {
		if equal(option, value) {
			return true
		}
	}
	return false
}

// equal treats numbers of different Go types as equal when their values match.
func equal(a, b any) bool {
	if an, ok := toNumber(a); ok {
		if bn, ok := toNumber(b); ok {
			return an == bn
		}
		return false
	}
	if as, ok := stringValue(a); ok {
		if bs, ok := stringValue(b); ok {
			return as == bs
		}
		return false
	}
	return reflect.DeepEqual(a, b)
}

// entityID matches identifiers minted by platform/id.
var entityID = regexp.MustCompile(`^[a-z2-7]{26}$`)

var tags = newTagValidator()

func newTagValidator() *playground.Validate {
	v := playground.New()
	_ = v.RegisterValidation("entity_id", func(fl playground.FieldLevel) bool {
		return entityID.MatchString(fl.Field().String())
	})
	return v
}
