// Copyright 2025 The Loom Authors
// SPDX-License-Identifier: Apache-2.0

// Package expr evaluates the restricted template language used by workflow
// node configs: {{expr}} substrings in string leaves, where expr is a CEL
// expression over the step context variables input, steps and env. The CEL
// environment exposes nothing else, so tenant-supplied expressions can never
// reach host state.
package expr

import (
	"fmt"
	"reflect"
	"strings"
	"sync"
	"time"

	"github.com/google/cel-go/cel"
)

// Evaluator compiles and runs context expressions. Compiled programs are
// cached per expression; safe for concurrent use.
type Evaluator struct {
	env *cel.Env

	mu       sync.RWMutex
	programs map[string]cel.Program
}

var anyType = reflect.TypeOf((*any)(nil)).Elem()

// NewEvaluator constructs the sandboxed CEL environment.
func NewEvaluator() (*Evaluator, error) {
	env, err := cel.NewEnv(
		cel.Variable("input", cel.DynType),
		cel.Variable("steps", cel.MapType(cel.StringType, cel.DynType)),
		cel.Variable("env", cel.MapType(cel.StringType, cel.StringType)),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to build expression environment: %w", err)
	}
	return &Evaluator{
		env:      env,
		programs: make(map[string]cel.Program),
	}, nil
}

// Evaluate compiles and runs a single expression against the given variable
// bindings, returning the native Go value.
func (e *Evaluator) Evaluate(expression string, vars map[string]any) (any, error) {
	prg, err := e.program(expression)
	if err != nil {
		return nil, err
	}
	out, _, err := prg.Eval(vars)
	if err != nil {
		return nil, fmt.Errorf("expression %q failed: %w", expression, err)
	}
	native, err := out.ConvertToNative(anyType)
	if err != nil {
		return nil, fmt.Errorf("expression %q produced an unconvertible value: %w", expression, err)
	}
	return native, nil
}

// EvaluateBool runs a condition expression. Any evaluation failure or
// non-boolean result yields false; the caller logs, it is not an error.
func (e *Evaluator) EvaluateBool(expression string, vars map[string]any) (bool, error) {
	value, err := e.Evaluate(expression, vars)
	if err != nil {
		return false, err
	}
	b, ok := value.(bool)
	if !ok {
		return false, fmt.Errorf("expression %q evaluated to %T, not bool", expression, value)
	}
	return b, nil
}

// Interpolate replaces every {{expr}} substring. The reserved form {{now}}
// resolves to the current UTC instant in RFC 3339. Failed evaluations become
// the empty string.
func (e *Evaluator) Interpolate(s string, vars map[string]any) string {
	result, mixed := e.render(s, vars)
	if mixed {
		return result.(string)
	}
	return stringify(result)
}

// RenderValue evaluates a string that may be a standalone expression. A
// string consisting of exactly one {{expr}} returns the expression's native
// value; anything else interpolates to a string.
func (e *Evaluator) RenderValue(s string, vars map[string]any) any {
	result, _ := e.render(s, vars)
	return result
}

// RenderTemplate walks an arbitrary JSON-shaped structure and renders every
// string leaf. Standalone expressions keep their native type.
func (e *Evaluator) RenderTemplate(data any, vars map[string]any) any {
	switch v := data.(type) {
	case string:
		return e.RenderValue(v, vars)
	case map[string]any:
		result := make(map[string]any, len(v))
		for key, value := range v {
			result[key] = e.RenderTemplate(value, vars)
		}
		return result
	case []any:
		result := make([]any, 0, len(v))
		for _, item := range v {
			result = append(result, e.RenderTemplate(item, vars))
		}
		return result
	default:
		return v
	}
}

// render evaluates the template string. The bool reports interpolation mode
// (true when the result is a built string rather than a native value).
func (e *Evaluator) render(s string, vars map[string]any) (any, bool) {
	matches := findExpressions(s)
	if len(matches) == 0 {
		return s, true
	}

	// Standalone expression: return the native value.
	if len(matches) == 1 && strings.TrimSpace(s) == matches[0].full {
		return e.evaluateTemplateExpr(matches[0].inner, vars), false
	}

	rendered := s
	for _, match := range matches {
		value := e.evaluateTemplateExpr(match.inner, vars)
		rendered = strings.Replace(rendered, match.full, stringify(value), 1)
	}
	return rendered, true
}

// evaluateTemplateExpr handles the reserved {{now}} form and maps evaluation
// failures to nil (rendered as the empty string).
func (e *Evaluator) evaluateTemplateExpr(inner string, vars map[string]any) any {
	if strings.TrimSpace(inner) == "now" {
		return time.Now().UTC().Format(time.RFC3339)
	}
	value, err := e.Evaluate(inner, vars)
	if err != nil {
		return nil
	}
	return value
}

func (e *Evaluator) program(expression string) (cel.Program, error) {
	e.mu.RLock()
	prg, ok := e.programs[expression]
	e.mu.RUnlock()
	if ok {
		return prg, nil
	}

	ast, issues := e.env.Compile(expression)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("expression %q does not compile: %w", expression, issues.Err())
	}
	prg, err := e.env.Program(ast)
	if err != nil {
		return nil, fmt.Errorf("expression %q does not compile: %w", expression, err)
	}

	e.mu.Lock()
	e.programs[expression] = prg
	e.mu.Unlock()
	return prg, nil
}

type exprMatch struct {
	full  string
	inner string
}

// findExpressions locates all {{...}} markers in a string.
func findExpressions(s string) []exprMatch {
	var matches []exprMatch
	i := 0
	for i < len(s) {
		start := strings.Index(s[i:], "{{")
		if start == -1 {
			break
		}
		start += i
		end := strings.Index(s[start+2:], "}}")
		if end == -1 {
			break
		}
		end += start + 2
		matches = append(matches, exprMatch{
			full:  s[start : end+2],
			inner: s[start+2 : end],
		})
		i = end + 2
	}
	return matches
}

// stringify converts an evaluated value for interpolation into a string.
func stringify(value any) string {
	switch v := value.(type) {
	case nil:
		return ""
	case string:
		return v
	case bool:
		return fmt.Sprintf("%t", v)
	case int64:
		return fmt.Sprintf("%d", v)
	case uint64:
		return fmt.Sprintf("%d", v)
	case float64:
		return fmt.Sprintf("%g", v)
	default:
		return fmt.Sprintf("%v", v)
	}
}
