// Package script evaluates Lua-defined rules for validations and compute
// transforms.
//
// A script is compiled once and its global functions are called by name.
// Calls on one Script are serialized; compile one Script per hot rule set if
// contention matters.
package script

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/Shopify/go-lua"
	"github.com/louisbranch/eventcore/internal/services/dispatch/domain/param"
)

// ErrFunctionNotFound indicates a call to a global that is not a function.
var ErrFunctionNotFound = errors.New("script function not found")

// Script is a compiled Lua chunk.
type Script struct {
	name  string
	mu    sync.Mutex
	state *lua.State
}

// Compile loads and runs source so its global functions can be called.
func Compile(name, source string) (*Script, error) {
	state := lua.NewState()
	lua.OpenLibraries(state)
	if err := lua.LoadString(state, source); err != nil {
		return nil, fmt.Errorf("load script %s: %w", name, err)
	}
	if err := state.ProtectedCall(0, 0, 0); err != nil {
		return nil, fmt.Errorf("run script %s: %w", name, err)
	}
	return &Script{name: name, state: state}, nil
}

// Name returns the script name given to Compile.
func (s *Script) Name() string { return s.name }

// Call invokes the global function fn with args and returns its first
// result converted to Go.
func (s *Script) Call(fn string, args ...any) (any, error) {
	results, err := s.call(fn, 1, args...)
	if err != nil {
		return nil, err
	}
	return results[0], nil
}

func (s *Script) call(fn string, nresults int, args ...any) ([]any, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	l := s.state
	top := l.Top()
	defer l.SetTop(top)

	l.Global(fn)
	if !l.IsFunction(-1) {
		return nil, fmt.Errorf("%s: %w: %s", s.name, ErrFunctionNotFound, fn)
	}
	for _, arg := range args {
		push(l, arg)
	}
	if err := l.ProtectedCall(len(args), nresults, 0); err != nil {
		return nil, fmt.Errorf("%s.%s: %w", s.name, fn, err)
	}
	results := make([]any, nresults)
	for i := 0; i < nresults; i++ {
		results[i] = toGo(l, top+1+i)
	}
	return results, nil
}

// Validator returns a custom validation backed by fn. fn receives the value
// and returns true to accept it, or false and an optional message.
func (s *Script) Validator(fn string) func(any) error {
	return func(value any) error {
		results, err := s.call(fn, 2, value)
		if err != nil {
			return err
		}
		if ok, _ := results[0].(bool); ok {
			return nil
		}
		if message, ok := results[1].(string); ok && strings.TrimSpace(message) != "" {
			return errors.New(message)
		}
		return fmt.Errorf("rejected by %s", fn)
	}
}

// Compute returns a compute transform backed by fn. fn receives the
// parameters as a table and returns the computed value.
func (s *Script) Compute(fn string) func(param.Map) (any, error) {
	return func(params param.Map) (any, error) {
		return s.Call(fn, map[string]any(params))
	}
}

func push(l *lua.State, value any) {
	switch v := value.(type) {
	case nil:
		l.PushNil()
	case string:
		l.PushString(v)
	case param.Symbol:
		l.PushString(string(v))
	case bool:
		l.PushBoolean(v)
	case int:
		l.PushInteger(v)
	case int32:
		l.PushInteger(int(v))
	case int64:
		l.PushInteger(int(v))
	case uint64:
		l.PushNumber(float64(v))
	case float32:
		l.PushNumber(float64(v))
	case float64:
		l.PushNumber(v)
	case time.Time:
		l.PushString(v.UTC().Format(time.RFC3339Nano))
	case []any:
		l.CreateTable(len(v), 0)
		for i, item := range v {
			push(l, item)
			l.RawSetInt(-2, i+1)
		}
	case []string:
		l.CreateTable(len(v), 0)
		for i, item := range v {
			l.PushString(item)
			l.RawSetInt(-2, i+1)
		}
	case param.Map:
		push(l, map[string]any(v))
	case map[string]any:
		keys := make([]string, 0, len(v))
		for key := range v {
			keys = append(keys, key)
		}
		sort.Strings(keys)
		l.CreateTable(0, len(v))
		for _, key := range keys {
			push(l, v[key])
			l.SetField(-2, key)
		}
	default:
		l.PushString(fmt.Sprint(v))
	}
}

func toGo(l *lua.State, index int) any {
	switch l.TypeOf(index) {
	case lua.TypeString:
		value, _ := l.ToString(index)
		return value
	case lua.TypeNumber:
		value, _ := l.ToNumber(index)
		if math.Mod(value, 1) == 0 && math.Abs(value) < 1<<53 {
			return int(value)
		}
		return value
	case lua.TypeBoolean:
		return l.ToBoolean(index)
	case lua.TypeTable:
		return tableToGo(l, index)
	default:
		return nil
	}
}

// tableToGo converts sequences to []any and everything else to a map keyed
// by string keys.
func tableToGo(l *lua.State, index int) any {
	index = l.AbsIndex(index)
	isArray := true
	maxIndex, count := 0, 0
	l.PushNil()
	for l.Next(index) {
		if isArray {
			if idx, ok := l.ToInteger(-2); ok && l.TypeOf(-2) == lua.TypeNumber && idx > 0 {
				count++
				if idx > maxIndex {
					maxIndex = idx
				}
			} else {
				isArray = false
			}
		}
		l.Pop(1)
	}
	if isArray && count > 0 && maxIndex == count {
		out := make([]any, 0, maxIndex)
		for i := 1; i <= maxIndex; i++ {
			l.RawGetInt(index, i)
			out = append(out, toGo(l, -1))
			l.Pop(1)
		}
		return out
	}

	out := map[string]any{}
	l.PushNil()
	for l.Next(index) {
		if l.TypeOf(-2) == lua.TypeString {
			key, _ := l.ToString(-2)
			out[key] = toGo(l, -1)
		}
		l.Pop(1)
	}
	return out
}
