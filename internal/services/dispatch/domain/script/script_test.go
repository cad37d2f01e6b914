package script

import (
	"errors"
	"strings"
	"testing"

	"github.com/louisbranch/eventcore/internal/services/dispatch/domain/param"
	"github.com/louisbranch/eventcore/internal/services/dispatch/domain/transform"
	"github.com/louisbranch/eventcore/internal/services/dispatch/domain/validate"
)

const rules = `
function positive(v)
  if type(v) ~= "number" then
    return false, "must be a number"
  end
  return v > 0
end

function even(v)
  return v % 2 == 0
end

function full_name(p)
  return p.first .. " " .. p.last
end

function tags(p)
  local out = {}
  for i, t in ipairs(p.tags) do
    out[i] = string.upper(t)
  end
  return out
end

function explode()
  error("kaboom")
end
`

func mustCompile(t *testing.T) *Script {
	t.Helper()
	s, err := Compile("rules", rules)
	if err != nil {
		t.Fatalf("compile: %v", err)
	}
	return s
}

func TestCompileRejectsSyntaxErrors(t *testing.T) {
	if _, err := Compile("broken", "function ("); err == nil {
		t.Fatal("expected syntax error")
	}
}

func TestValidator(t *testing.T) {
	s := mustCompile(t)
	positive := s.Validator("positive")

	if err := positive(3); err != nil {
		t.Fatalf("positive(3) = %v, want nil", err)
	}
	if err := positive(-1); err == nil || err.Error() != "rejected by positive" {
		t.Fatalf("positive(-1) = %v, want rejected by positive", err)
	}
	if err := positive("x"); err == nil || err.Error() != "must be a number" {
		t.Fatalf("positive(x) = %v, want must be a number", err)
	}
}

func TestValidatorAsRule(t *testing.T) {
	s := mustCompile(t)
	failures := validate.Check(param.Map{"count": 3}, []validate.Rule{validate.Custom("count", s.Validator("even"))})
	if len(failures) != 1 || failures[0].Field != "count" {
		t.Fatalf("failures = %v, want one count failure", failures)
	}
}

func TestComputeAsTransform(t *testing.T) {
	s := mustCompile(t)
	out, err := transform.Apply(param.Map{"first": "Ada", "last": "Lovelace"}, []transform.Spec{
		transform.Compute("name", s.Compute("full_name")),
	})
	if err != nil {
		t.Fatalf("apply: %v", err)
	}
	if out["name"] != "Ada Lovelace" {
		t.Fatalf("name = %v, want Ada Lovelace", out["name"])
	}
}

func TestCallConvertsTables(t *testing.T) {
	s := mustCompile(t)
	got, err := s.Call("tags", map[string]any{"tags": []any{"a", "b"}})
	if err != nil {
		t.Fatalf("call: %v", err)
	}
	list, ok := got.([]any)
	if !ok || len(list) != 2 || list[0] != "A" || list[1] != "B" {
		t.Fatalf("tags = %#v, want [A B]", got)
	}
}

func TestCallErrors(t *testing.T) {
	s := mustCompile(t)
	if _, err := s.Call("missing"); !errors.Is(err, ErrFunctionNotFound) {
		t.Fatalf("err = %v, want ErrFunctionNotFound", err)
	}
	_, err := s.Call("explode")
	if err == nil || !strings.Contains(err.Error(), "kaboom") {
		t.Fatalf("err = %v, want kaboom", err)
	}
	if got, err := s.Call("even", 4); err != nil || got != true {
		t.Fatalf("even(4) = %v, %v; want true after a failed call", got, err)
	}
}
