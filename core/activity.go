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
	"context"
	"log/slog"
	"time"

	"github.com/Comcast/pvm/graph"
	"github.com/Comcast/pvm/storage"
)

// ActivityExecution is what a Behavior sees: one execution at one
// activity.
//
// A behavior makes at most one planning call (TakeTransition, Leave,
// End, Join, EnterScope, ...).  The plan takes effect only if the
// behavior returns nil.
type ActivityExecution struct {
	in  *Interpreter
	e   *Execution
	def *graph.Definition
	act *graph.Activity

	decision func(ctx context.Context) error
	planner  string
}

// Execution returns a copy of the execution's current state.
func (ax *ActivityExecution) Execution() storage.Execution {
	return ax.e.Record()
}

// Activity returns the current activity.
func (ax *ActivityExecution) Activity() *graph.Activity {
	return ax.act
}

// Definition returns the running definition.
func (ax *ActivityExecution) Definition() *graph.Definition {
	return ax.def
}

// Concurrent reports whether the execution is one branch of a fork.
func (ax *ActivityExecution) Concurrent() bool {
	return ax.e.Concurrent
}

// Outgoing returns the transitions leaving the activity.
func (ax *ActivityExecution) Outgoing() []*graph.Transition {
	return ax.def.Outgoing(ax.act.ID)
}

// Incoming returns the transitions entering the activity.
func (ax *ActivityExecution) Incoming() []*graph.Transition {
	return ax.def.Incoming(ax.act.ID)
}

// Variable reads a variable visible from the execution.
func (ax *ActivityExecution) Variable(name string) (interface{}, bool) {
	return ax.in.Tree.Variable(ax.e, name)
}

// Variables returns every variable visible from the execution.
func (ax *ActivityExecution) Variables() map[string]interface{} {
	return ax.in.Tree.Variables(ax.e)
}

// SetVariable writes a variable (see Tree.SetVariable).
func (ax *ActivityExecution) SetVariable(name string, value interface{}) error {
	return ax.in.setVariable(ax.e, name, value)
}

// Evaluate runs a transition's condition.  Unconditional transitions
// evaluate to true.
func (ax *ActivityExecution) Evaluate(ctx context.Context, t *graph.Transition) (bool, error) {
	return ax.in.evaluate(ctx, ax.e, t)
}

// Exec runs compiled code with the execution's variables.  Emitted
// messages become events.
func (ax *ActivityExecution) Exec(ctx context.Context, action graph.Action) (*graph.Evaluation, error) {
	return ax.in.exec(ctx, ax.e, action)
}

// Emit adds an event about this execution.
func (ax *ActivityExecution) Emit(typ string, data interface{}) {
	ax.in.emit(typ, ax.e, ax.act.ID, "", data)
}

// Now returns the interpreter's clock.
func (ax *ActivityExecution) Now() time.Time {
	return ax.in.now()
}

// Logger returns a logger with the execution's ids attached.
func (ax *ActivityExecution) Logger() *slog.Logger {
	return ax.in.logger().With("exec", ax.e.ID, "activity", ax.act.ID)
}

func (ax *ActivityExecution) plan(name string, f func(ctx context.Context) error) error {
	if ax.decision != nil {
		return &StateError{ax.e.ID, name, "already planned " + ax.planner}
	}
	ax.decision = f
	ax.planner = name
	return nil
}

// TakeTransition plans taking the transition with the given id,
// which must leave the activity.
func (ax *ActivityExecution) TakeTransition(id string) error {
	t, err := ax.def.Transition(id)
	if err != nil {
		return err
	}
	if t.Source != ax.act.ID {
		return &graph.UnknownTransition{Definition: ax.def.ID(), Transition: id}
	}
	return ax.TakeTransitions([]*graph.Transition{t})
}

// TakeTransitions plans taking the given transitions.  More than one
// transition forks the execution.  None ends it.
func (ax *ActivityExecution) TakeTransitions(ts []*graph.Transition) error {
	return ax.plan("take", func(ctx context.Context) error {
		ax.in.agenda.Plan(Operation{Kind: TakeTransition, ExecutionID: ax.e.ID, Transitions: ts})
		return nil
	})
}

// TakeDefaultTransition plans taking the activity's default
// transition, or its only outgoing transition.  An activity without
// outgoing transitions ends the execution.
func (ax *ActivityExecution) TakeDefaultTransition() error {
	var out []*graph.Transition
	for _, t := range ax.Outgoing() {
		if !ax.act.Exceptional(t.ID) {
			out = append(out, t)
		}
	}
	switch {
	case ax.act.Default != "":
		return ax.TakeTransition(ax.act.Default)
	case len(out) == 0:
		return ax.End()
	case len(out) == 1:
		return ax.TakeTransitions(out)
	default:
		return &NoMatchingTransition{ax.def.ID(), ax.act.ID}
	}
}

// Leave plans taking every outgoing transition whose condition holds
// (unconditional transitions always hold).  If there are outgoing
// transitions but none holds, the default transition is taken.
func (ax *ActivityExecution) Leave(ctx context.Context) error {
	ts, err := ax.in.leaving(ctx, ax.e, ax.def, ax.act)
	if err != nil {
		return err
	}
	return ax.TakeTransitions(ts)
}

// Choose plans an exclusive choice: the first transition (in
// declaration order) whose condition holds, else the default, else
// a *NoMatchingTransition.
func (ax *ActivityExecution) Choose(ctx context.Context) error {
	for _, t := range ax.Outgoing() {
		if t.ID == ax.act.Default || ax.act.Exceptional(t.ID) {
			continue
		}
		ok, err := ax.Evaluate(ctx, t)
		if err != nil {
			return err
		}
		if ok {
			return ax.TakeTransitions([]*graph.Transition{t})
		}
	}
	if ax.act.Default != "" {
		return ax.TakeTransition(ax.act.Default)
	}
	return &NoMatchingTransition{ax.def.ID(), ax.act.ID}
}

// Regular returns the outgoing transitions that aren't exceptional.
func (ax *ActivityExecution) Regular() []*graph.Transition {
	var ts []*graph.Transition
	for _, t := range ax.Outgoing() {
		if !ax.act.Exceptional(t.ID) {
			ts = append(ts, t)
		}
	}
	return ts
}

// Fork plans taking all of the given transitions at once.  Each
// transition gets its own concurrent child execution.
func (ax *ActivityExecution) Fork(ts []*graph.Transition) error {
	return ax.TakeTransitions(ts)
}

// End plans ending the execution.
func (ax *ActivityExecution) End() error {
	return ax.plan("end", func(ctx context.Context) error {
		ax.in.agenda.Plan(Operation{Kind: EndExecution, ExecutionID: ax.e.ID})
		return nil
	})
}

// Join plans arriving at a join.  The branch ends here; when every
// sibling branch has ended, the parent continues from this activity.
// A non-concurrent execution just takes the regular transitions.
func (ax *ActivityExecution) Join(ctx context.Context) error {
	if !ax.e.Concurrent {
		return ax.TakeTransitions(ax.Regular())
	}
	return ax.End()
}

// EnterScope plans entering a scope: a child scope execution starts
// at the given activity, and this execution waits for it to end.
func (ax *ActivityExecution) EnterScope(start string) error {
	if _, err := ax.def.Activity(start); err != nil {
		return err
	}
	return ax.plan("enter scope", func(ctx context.Context) error {
		child, err := ax.in.Tree.CreateChild(ax.e, false)
		if err != nil {
			return err
		}
		child.ActivityID = start
		ax.e.Active = false
		ax.in.agenda.Plan(Operation{Kind: ContinueExecution, ExecutionID: child.ID})
		return nil
	})
}

// ScheduleTimer creates a timer job for this execution at this
// activity.  When the job fires, the behavior receives a "timer"
// Signal.
func (ax *ActivityExecution) ScheduleTimer(t *graph.Timer) storage.Job {
	return ax.in.createJob(ax.e, ax.act, storage.JobTimer, t.Next(ax.in.now()), "")
}
