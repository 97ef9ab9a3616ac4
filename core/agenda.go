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

package core

import (
	"github.com/Comcast/pvm/graph"
)

// OpKind names an interpretation step.
type OpKind int

const (
	// ContinueExecution runs the behavior of the execution's
	// current activity.
	ContinueExecution OpKind = iota

	// TakeTransition moves the execution along one transition, or
	// forks it along several.
	TakeTransition

	// EndExecution ends the execution and resolves what that means
	// for its parent: a join, the end of a scope, or the end of the
	// instance.
	EndExecution
)

func (k OpKind) String() string {
	switch k {
	case ContinueExecution:
		return "continue"
	case TakeTransition:
		return "take"
	case EndExecution:
		return "end"
	default:
		return "unknown"
	}
}

// Operation is one pending interpretation step.  Operations are never
// persisted and never outlive a unit of work.
type Operation struct {
	Kind        OpKind
	ExecutionID string

	// Transitions for TakeTransition.
	Transitions []*graph.Transition

	// SkipAsync makes ContinueExecution run the behavior even if
	// the activity is asynchronous.  Set when the continuation
	// comes from an async-continuation job.
	SkipAsync bool
}

// Agenda is a FIFO of operations: steps planned earlier run before
// their consequences.
type Agenda struct {
	ops []Operation
}

// Plan appends an operation.
func (a *Agenda) Plan(op Operation) {
	a.ops = append(a.ops, op)
}

// Next pops the oldest operation.
func (a *Agenda) Next() (Operation, bool) {
	if len(a.ops) == 0 {
		return Operation{}, false
	}
	op := a.ops[0]
	a.ops[0] = Operation{}
	a.ops = a.ops[1:]
	return op, true
}

// Reset drops every pending operation.
func (a *Agenda) Reset() {
	a.ops = nil
}

// Len returns the number of pending operations.
func (a *Agenda) Len() int {
	return len(a.ops)
}
