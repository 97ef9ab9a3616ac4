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

// Package noop provides an interpreter that runs nothing.  Useful for
// tests that exercise graph structure without code.
package noop

import (
	"context"
	"log/slog"

	"github.com/Comcast/pvm/graph"
)

func init() {
	graph.DefaultInterpreters["noop"] = NewInterpreter()
}

// Interpreter is a graph.Interpreter whose code always evaluates to
// the source itself (so a condition whose source is true is true).
type Interpreter struct {
	// Silent, if false, makes each call log a warning.
	Silent bool

	Logger *slog.Logger
}

func NewInterpreter() *Interpreter {
	return &Interpreter{Silent: true}
}

func (i *Interpreter) warn(msg string) {
	if i.Silent {
		return
	}
	l := i.Logger
	if l == nil {
		l = slog.Default()
	}
	l.Warn(msg)
}

func (i *Interpreter) Compile(ctx context.Context, code interface{}) (interface{}, error) {
	i.warn("using the noop interpreter for compilation")
	return nil, nil
}

func (i *Interpreter) Exec(ctx context.Context, vars, props map[string]interface{}, code interface{}, compiled interface{}) (*graph.Evaluation, error) {
	i.warn("using the noop interpreter for execution")
	return &graph.Evaluation{Value: code}, nil
}
