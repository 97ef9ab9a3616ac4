/* Copyright 2026 Comcast Cable Communications Management, LLC
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 * http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package graph

import (
	"context"
)

var (
	// DefaultInterpreters will be used in Source.Compile if given
	// nil interpreters.  Interpreter packages register themselves
	// here from init().
	DefaultInterpreters = make(map[string]Interpreter)

	// DefaultInterpreter is the interpreter name used when a
	// Source doesn't name one.
	DefaultInterpreter = "goja"
)

// Evaluation is the result of executing some code.
type Evaluation struct {
	// Value is whatever the code returned.
	Value interface{}

	// Emitted holds messages the code asked to emit.
	Emitted []interface{}
}

// AddEmitted adds the given thing to the list of emitted messages.
func (e *Evaluation) AddEmitted(x interface{}) {
	e.Emitted = append(e.Emitted, x)
}

// Interpreter can optionally compile and execute code for conditions
// and scripts.
type Interpreter interface {
	// Compile can make something that helps when Exec()ing the
	// code later.
	Compile(ctx context.Context, code interface{}) (interface{}, error)

	// Exec executes the code with the given variables in scope.
	// The result of previous Compile() might be provided.
	//
	// Exec must not modify vars.
	Exec(ctx context.Context, vars map[string]interface{}, props map[string]interface{}, code interface{}, compiled interface{}) (*Evaluation, error)
}

// Action is compiled code ready to run.
type Action interface {
	Exec(ctx context.Context, vars map[string]interface{}, props map[string]interface{}) (*Evaluation, error)
}

// FuncAction wraps a Go function as an Action.
type FuncAction func(ctx context.Context, vars map[string]interface{}, props map[string]interface{}) (*Evaluation, error)

// Exec runs the given action.
func (f FuncAction) Exec(ctx context.Context, vars map[string]interface{}, props map[string]interface{}) (*Evaluation, error) {
	if f == nil {
		return &Evaluation{}, nil
	}
	return f(ctx, vars, props)
}

// Source can be compiled to an Action.
type Source struct {
	Interpreter string      `json:"interpreter,omitempty" yaml:",omitempty"`
	Source      interface{} `json:"source" yaml:"source"`
}

// Copy makes a shallow copy.
func (s *Source) Copy() *Source {
	if s == nil {
		return nil
	}
	return &Source{
		Interpreter: s.Interpreter,
		Source:      s.Source,
	}
}

// Expression makes a Source that evaluates a single expression with
// the default interpreter.
func Expression(expr string) *Source {
	return &Source{
		Source: "return (" + expr + ");",
	}
}

// Compile attempts to compile the Source into an Action using the
// given interpreters, which defaults to DefaultInterpreters.
func (s *Source) Compile(ctx context.Context, interpreters map[string]Interpreter) (Action, error) {
	if interpreters == nil {
		interpreters = DefaultInterpreters
	}

	name := s.Interpreter
	if name == "" {
		name = DefaultInterpreter
	}

	interpreter, have := interpreters[name]
	if !have {
		return nil, InterpreterNotFound
	}

	x, err := interpreter.Compile(ctx, s.Source)
	if err != nil {
		return nil, err
	}

	return FuncAction(func(ctx context.Context, vars map[string]interface{}, props map[string]interface{}) (*Evaluation, error) {
		return interpreter.Exec(ctx, vars, props, s.Source, x)
	}), nil
}

// Truthy follows the usual scripting notion of truth: false, nil,
// zero, and the empty string are false.
func Truthy(x interface{}) bool {
	switch vv := x.(type) {
	case nil:
		return false
	case bool:
		return vv
	case string:
		return vv != ""
	case int:
		return vv != 0
	case int64:
		return vv != 0
	case float64:
		return vv != 0
	default:
		return true
	}
}
