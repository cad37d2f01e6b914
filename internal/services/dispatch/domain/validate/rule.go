package validate

import (
	"fmt"
	"regexp"
)

// Kind tags a validation rule.
type Kind string

const (
	KindType      Kind = "type"
	KindFormat    Kind = "format"
	KindMin       Kind = "min"
	KindMax       Kind = "max"
	KindMinLength Kind = "min_length"
	KindMaxLength Kind = "max_length"
	KindMinItems  Kind = "min_items"
	KindMaxItems  Kind = "max_items"
	KindOneOf     Kind = "one_of"
	KindSubsetOf  Kind = "subset_of"
	KindCustom    Kind = "custom"
	KindRequired  Kind = "required"
	KindTag       Kind = "tag"
)

// ValueType names the expected type of a type rule.
type ValueType string

const (
	TypeString   ValueType = "string"
	TypeInteger  ValueType = "integer"
	TypeFloat    ValueType = "float"
	TypeNumber   ValueType = "number"
	TypeBoolean  ValueType = "boolean"
	TypeList     ValueType = "list"
	TypeMap      ValueType = "map"
	TypeSymbol   ValueType = "symbol"
	TypeDateTime ValueType = "datetime"
)

// Rule is one field check. Only the attributes relevant to Kind are set.
type Rule struct {
	Kind      Kind
	Field     string
	Type      ValueType
	Pattern   *regexp.Regexp
	Bound     float64
	Size      int
	Options   []any
	Custom    func(any) error
	Predicate func(any) bool
	Tag       string
	Message   string // overrides the default failure message
}

// WithMessage returns a copy of r reporting message on failure.
func (r Rule) WithMessage(message string) Rule {
	r.Message = message
	return r
}

func (r Rule) String() string {
	return fmt.Sprintf("%s(%s)", r.Kind, r.Field)
}

// Type checks the value's type.
func Type(field string, typ ValueType) Rule {
	return Rule{Kind: KindType, Field: field, Type: typ}
}

// Format checks a string against pattern. It panics on an invalid pattern,
// like regexp.MustCompile, since rules are declared at startup.
func Format(field, pattern string) Rule {
	return FormatRegexp(field, regexp.MustCompile(pattern))
}

// FormatRegexp checks a string against a compiled pattern.
func FormatRegexp(field string, pattern *regexp.Regexp) Rule {
	return Rule{Kind: KindFormat, Field: field, Pattern: pattern}
}

// Min checks a numeric lower bound.
func Min(field string, bound float64) Rule {
	return Rule{Kind: KindMin, Field: field, Bound: bound}
}

// Max checks a numeric upper bound.
func Max(field string, bound float64) Rule {
	return Rule{Kind: KindMax, Field: field, Bound: bound}
}

// MinLength checks a string's minimum character count.
func MinLength(field string, n int) Rule {
	return Rule{Kind: KindMinLength, Field: field, Size: n}
}

// MaxLength checks a string's maximum character count.
func MaxLength(field string, n int) Rule {
	return Rule{Kind: KindMaxLength, Field: field, Size: n}
}

// MinItems checks a collection's minimum size.
func MinItems(field string, n int) Rule {
	return Rule{Kind: KindMinItems, Field: field, Size: n}
}

// MaxItems checks a collection's maximum size.
func MaxItems(field string, n int) Rule {
	return Rule{Kind: KindMaxItems, Field: field, Size: n}
}

// OneOf checks membership in options.
func OneOf(field string, options ...any) Rule {
	return Rule{Kind: KindOneOf, Field: field, Options: options}
}

// SubsetOf checks that every element of a collection is in options.
func SubsetOf(field string, options ...any) Rule {
	return Rule{Kind: KindSubsetOf, Field: field, Options: options}
}

// Custom runs fn; a non-nil error fails with the error's message.
func Custom(field string, fn func(any) error) Rule {
	return Rule{Kind: KindCustom, Field: field, Custom: fn}
}

// Predicate runs fn; false fails the check.
func Predicate(field string, fn func(any) bool) Rule {
	return Rule{Kind: KindCustom, Field: field, Predicate: fn}
}

// Required fails when the field is absent or nil.
func Required(field string) Rule {
	return Rule{Kind: KindRequired, Field: field}
}

// Tag checks the value with a go-playground/validator tag such as "email".
func Tag(field, tag string) Rule {
	return Rule{Kind: KindTag, Field: field, Tag: tag}
}
