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
	"errors"
	"log/slog"
	"time"

	"github.com/Comcast/pvm/events"
	"github.com/Comcast/pvm/graph"
	"github.com/Comcast/pvm/storage"
)

// DefaultJobRetries is used when neither the Interpreter nor the
// activity says how many times a job may be attempted.
var DefaultJobRetries = 3

// Definitions resolves definition ids.  *graph.Repository is one.
type Definitions interface {
	Get(id string) (*graph.Definition, bool)
}

// Interpreter drives executions through a definition for one unit of
// work.
//
// Interpretation is single-threaded and runs to completion: the
// exported entry points plan an operation and then Run the agenda
// until it's empty.  An activity that needs to wait simply plans
// nothing.
type Interpreter struct {
	Tree        *Tree
	Jobs        *JobLedger
	Definitions Definitions
	Behaviors   Behaviors

	// Emit receives events in the order they happen.  Optional.
	Emit func(events.Event)

	// Now is the clock.  Defaults to time.Now.
	Now func() time.Time

	Logger  *slog.Logger
	Control *Control

	// JobRetries is the number of attempts a new job gets unless
	// its activity says otherwise.
	JobRetries int

	// Props are passed to interpreters along with the execution's
	// own properties.
	Props map[string]interface{}

	agenda Agenda
	steps  int
}

func (in *Interpreter) now() time.Time {
	if in.Now == nil {
		return time.Now().UTC()
	}
	return in.Now()
}

func (in *Interpreter) logger() *slog.Logger {
	if in.Logger == nil {
		return slog.Default()
	}
	return in.Logger
}

func (in *Interpreter) emit(typ string, e *Execution, activity, transition string, data interface{}) {
	if in.Emit == nil {
		return
	}
	in.Emit(events.Event{
		Type:         typ,
		InstanceID:   e.InstanceID,
		ExecutionID:  e.ID,
		DefinitionID: e.DefinitionID,
		ActivityID:   activity,
		TransitionID: transition,
		At:           in.now(),
		Data:         data,
	})
}

func (in *Interpreter) definition(e *Execution) (*graph.Definition, error) {
	d, have := in.Definitions.Get(e.DefinitionID)
	if !have {
		return nil, &UnknownDefinition{e.DefinitionID}
	}
	return d, nil
}

func (in *Interpreter) resolve(e *Execution) (*graph.Definition, *graph.Activity, error) {
	d, err := in.definition(e)
	if err != nil {
		return nil, nil, err
	}
	a, err := d.Activity(e.ActivityID)
	if err != nil {
		return nil, nil, err
	}
	return d, a, nil
}

// Start creates a new instance and runs it until it waits or ends.
func (in *Interpreter) Start(ctx context.Context, d *graph.Definition, businessKey string, vars map[string]interface{}) (*Execution, error) {
	if !d.Compiled() {
		return nil, &graph.NotCompiled{Definition: d.ID()}
	}
	root, err := in.Tree.CreateRoot(d, businessKey, vars)
	if err != nil {
		return nil, err
	}
	in.logger().Info("instance started", "instance", root.ID, "def", root.DefinitionID)
	in.emit(events.InstanceStarted, root, "", "", nil)
	in.agenda.Plan(Operation{Kind: ContinueExecution, ExecutionID: root.ID})
	return root, in.Run(ctx)
}

// movable checks that an execution can be moved by an external
// trigger.
func movable(e *Execution, op string) error {
	switch {
	case e.deleted:
		return &StateError{e.ID, op, "deleted"}
	case e.Ended:
		return &StateError{e.ID, op, "ended"}
	case e.Suspended:
		return &SuspendedError{e.ID}
	}
	return nil
}

// waiting checks that an execution is a live token waiting at an
// activity.
func waiting(e *Execution, op string) error {
	if err := movable(e, op); err != nil {
		return err
	}
	if !e.Active {
		return &StateError{e.ID, op, "not waiting at an activity"}
	}
	return nil
}

// Signal delivers a signal to a waiting execution and runs the
// consequences.
func (in *Interpreter) Signal(ctx context.Context, executionID string, sig *Signal) error {
	e, err := in.Tree.Load(ctx, executionID)
	if err != nil {
		return err
	}
	if err = waiting(e, "signal"); err != nil {
		return err
	}
	if err = in.signal(ctx, e, sig); err != nil {
		return err
	}
	return in.Run(ctx)
}

func (in *Interpreter) signal(ctx context.Context, e *Execution, sig *Signal) error {
	if sig == nil {
		sig = &Signal{}
	}
	d, a, err := in.resolve(e)
	if err != nil {
		return err
	}
	for k, v := range sig.Vars {
		if err := in.setVariable(e, k, v); err != nil {
			return err
		}
	}
	b, have := in.Behaviors[a.Kind]
	if !have {
		return &UnknownBehavior{a.ID, a.Kind}
	}
	ax := in.activityExecution(e, d, a)
	if s, is := b.(Signaller); is {
		err = s.Signal(ctx, ax, sig)
	} else if sig.Transition != "" {
		err = ax.TakeTransition(sig.Transition)
	} else {
		err = ax.Leave(ctx)
	}
	return in.settle(ctx, ax, err)
}

// Fire runs a timer job: either a timeout (the job names a
// transition) or a "timer" Signal to the activity's behavior.
func (in *Interpreter) Fire(ctx context.Context, job storage.Job) error {
	e, err := in.Tree.Load(ctx, job.ExecutionID)
	if err != nil {
		return err
	}
	if err = movable(e, "fire timer"); err != nil {
		return err
	}
	if e.ActivityID != job.ActivityID {
		return &StateError{e.ID, "fire timer", "no longer at activity " + job.ActivityID}
	}
	if job.Transition == "" {
		if err = waiting(e, "fire timer"); err != nil {
			return err
		}
		if err = in.signal(ctx, e, &Signal{Name: "timer"}); err != nil {
			return err
		}
		return in.Run(ctx)
	}

	d, err := in.definition(e)
	if err != nil {
		return err
	}
	t, err := d.Transition(job.Transition)
	if err != nil {
		return err
	}
	if err = in.Tree.DeleteChildren(ctx, e, "timeout"); err != nil {
		return err
	}
	e.Active = true
	in.agenda.Plan(Operation{Kind: TakeTransition, ExecutionID: e.ID, Transitions: []*graph.Transition{t}})
	return in.Run(ctx)
}

// ContinueAsync runs the behavior that an async-continuation job
// deferred.
func (in *Interpreter) ContinueAsync(ctx context.Context, job storage.Job) error {
	e, err := in.Tree.Load(ctx, job.ExecutionID)
	if err != nil {
		return err
	}
	if err = waiting(e, "continue"); err != nil {
		return err
	}
	if e.ActivityID != job.ActivityID {
		return &StateError{e.ID, "continue", "no longer at activity " + job.ActivityID}
	}
	in.agenda.Plan(Operation{Kind: ContinueExecution, ExecutionID: e.ID, SkipAsync: true})
	return in.Run(ctx)
}

// Cancel deletes an instance and all of its jobs.
func (in *Interpreter) Cancel(ctx context.Context, instanceID, reason string) error {
	root, err := in.Tree.Load(ctx, instanceID)
	if err != nil {
		return err
	}
	if !root.IsRoot() {
		return &StateError{root.ID, "cancel", "not an instance"}
	}
	if err = in.Tree.Delete(ctx, root, reason); err != nil {
		return err
	}
	in.logger().Info("instance cancelled", "instance", instanceID, "reason", reason)
	in.emit(events.InstanceCancelled, root, "", "", reason)
	return nil
}

// SetSuspended suspends or resumes every execution of an instance.
func (in *Interpreter) SetSuspended(ctx context.Context, instanceID string, suspended bool) error {
	root, err := in.Tree.Load(ctx, instanceID)
	if err != nil {
		return err
	}
	if root.Ended {
		return &StateError{root.ID, "suspend", "ended"}
	}
	if root.Suspended == suspended {
		return nil
	}
	for _, e := range in.Tree.Instance(instanceID) {
		e.Suspended = suspended
	}
	typ := events.InstanceResumed
	if suspended {
		typ = events.InstanceSuspended
	}
	in.emit(typ, root, "", "", nil)
	return nil
}

// SetVariable sets a variable as seen from an execution.
func (in *Interpreter) SetVariable(ctx context.Context, executionID, name string, value interface{}) error {
	e, err := in.Tree.Load(ctx, executionID)
	if err != nil {
		return err
	}
	return in.setVariable(e, name, value)
}

func (in *Interpreter) setVariable(e *Execution, name string, value interface{}) error {
	if err := in.Tree.SetVariable(e, name, value); err != nil {
		return err
	}
	in.emit(events.VariableSet, e, e.ActivityID, "", map[string]interface{}{name: value})
	return nil
}

// Run drains the agenda.  If a step fails, the operations still
// pending are dropped.
func (in *Interpreter) Run(ctx context.Context) (err error) {
	defer func() {
		if err != nil {
			in.agenda.Reset()
		}
	}()
	c := in.Control
	if c == nil {
		c = DefaultControl
	}
	for {
		op, ok := in.agenda.Next()
		if !ok {
			return nil
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		in.steps++
		if 0 < c.Limit && c.Limit < in.steps {
			return &LimitExceeded{c.Limit}
		}

		e, have := in.Tree.executions[op.ExecutionID]
		if !have || e.deleted {
			// Cancelled by an earlier step.
			in.logger().Debug("dropping operation", "op", op.Kind, "exec", op.ExecutionID)
			continue
		}
		for name, b := range c.Breakpoints {
			if b(op, e) {
				return &BreakpointReached{name, e.ID}
			}
		}

		in.logger().Debug("step", "op", op.Kind, "exec", e.ID, "activity", e.ActivityID)

		switch op.Kind {
		case ContinueExecution:
			err = in.continueExecution(ctx, e, op.SkipAsync)
		case TakeTransition:
			err = in.takeTransitions(ctx, e, op.Transitions)
		case EndExecution:
			err = in.endExecution(ctx, e)
		}
		if err != nil {
			return err
		}
	}
}

func (in *Interpreter) activityExecution(e *Execution, d *graph.Definition, a *graph.Activity) *ActivityExecution {
	return &ActivityExecution{
		in:  in,
		e:   e,
		def: d,
		act: a,
	}
}

// isScopeFor reports whether e is the scope execution created for its
// parent at a scope activity.
func (in *Interpreter) isScopeFor(e *Execution, a *graph.Activity) bool {
	if !a.Scope || a.Kind == graph.KindSubprocess || e.Concurrent || !e.Scope {
		return false
	}
	p := in.Tree.Parent(e)
	return p != nil && p.ActivityID == e.ActivityID
}

func (in *Interpreter) continueExecution(ctx context.Context, e *Execution, skipAsync bool) error {
	d, a, err := in.resolve(e)
	if err != nil {
		return err
	}

	if a.Async && !skipAsync {
		j := in.createJob(e, a, storage.JobAsyncContinuation, time.Time{}, "")
		in.logger().Debug("continuing asynchronously", "exec", e.ID, "activity", a.ID, "job", j.ID)
		return nil
	}

	if a.Scope && a.Kind != graph.KindSubprocess && !in.isScopeFor(e, a) {
		child, err := in.Tree.CreateChild(e, false)
		if err != nil {
			return err
		}
		e.Active = false
		in.agenda.Plan(Operation{Kind: ContinueExecution, ExecutionID: child.ID, SkipAsync: true})
		return nil
	}

	in.emit(events.ActivityEntered, e, a.ID, "", nil)

	if a.Timer != nil && a.Timer.Transition != "" && a.Kind != graph.KindTimer {
		in.createJob(e, a, storage.JobTimer, a.Timer.Next(in.now()), a.Timer.Transition)
	}

	b, have := in.Behaviors[a.Kind]
	if !have {
		return &UnknownBehavior{a.ID, a.Kind}
	}
	ax := in.activityExecution(e, d, a)
	return in.settle(ctx, ax, b.Execute(ctx, ax))
}

// settle applies a behavior's plan, or turns a business fault into a
// transition if something catches it.
func (in *Interpreter) settle(ctx context.Context, ax *ActivityExecution, err error) error {
	if err == nil {
		if ax.decision == nil {
			return nil
		}
		return ax.decision(ctx)
	}
	var be *BusinessError
	if !errors.As(err, &be) {
		return err
	}
	return in.catch(ctx, ax.e, ax.def, be)
}

func (in *Interpreter) catch(ctx context.Context, e *Execution, d *graph.Definition, be *BusinessError) error {
	for x := e; x != nil; x = in.Tree.Parent(x) {
		a, err := d.Activity(x.ActivityID)
		if err != nil {
			continue
		}
		id, have := a.Catches[be.Code]
		if !have {
			continue
		}
		t, err := d.Transition(id)
		if err != nil {
			return err
		}
		if err = in.Tree.DeleteChildren(ctx, x, "fault "+be.Code); err != nil {
			return err
		}
		x.Active = true
		in.logger().Info("fault caught", "exec", x.ID, "activity", a.ID, "code", be.Code)
		in.emit(events.FaultCaught, x, a.ID, t.ID, map[string]interface{}{
			"code":    be.Code,
			"message": be.Message,
		})
		in.agenda.Plan(Operation{Kind: TakeTransition, ExecutionID: x.ID, Transitions: []*graph.Transition{t}})
		return nil
	}
	return be
}

func (in *Interpreter) takeTransitions(ctx context.Context, e *Execution, ts []*graph.Transition) error {
	_, a, err := in.resolve(e)
	if err != nil {
		return err
	}

	in.emit(events.ActivityLeft, e, a.ID, "", nil)
	if err = in.Jobs.RemoveForActivity(ctx, e.ID, a.ID); err != nil {
		return err
	}

	if in.isScopeFor(e, a) {
		p := in.Tree.Parent(e)
		if err = in.Tree.Delete(ctx, e, "scope left"); err != nil {
			return err
		}
		if err = in.Jobs.RemoveForActivity(ctx, p.ID, a.ID); err != nil {
			return err
		}
		e = p
	}

	switch len(ts) {
	case 0:
		in.agenda.Plan(Operation{Kind: EndExecution, ExecutionID: e.ID})
	case 1:
		t := ts[0]
		in.emit(events.TransitionTaken, e, a.ID, t.ID, nil)
		e.ActivityID = t.Target
		e.Active = true
		in.agenda.Plan(Operation{Kind: ContinueExecution, ExecutionID: e.ID})
	default:
		e.Active = false
		for _, t := range ts {
			child, err := in.Tree.CreateChild(e, true)
			if err != nil {
				return err
			}
			child.ActivityID = t.Target
			in.emit(events.TransitionTaken, child, a.ID, t.ID, nil)
			in.agenda.Plan(Operation{Kind: ContinueExecution, ExecutionID: child.ID})
		}
	}
	return nil
}

func (in *Interpreter) endExecution(ctx context.Context, e *Execution) error {
	if err := in.Jobs.RemoveForExecution(ctx, e.ID); err != nil {
		return err
	}

	if e.IsRoot() {
		if err := in.Tree.DeleteChildren(ctx, e, "instance ended"); err != nil {
			return err
		}
		if _, err := in.Tree.End(e); err != nil {
			return err
		}
		in.logger().Info("instance ended", "instance", e.ID, "def", e.DefinitionID)
		in.emit(events.InstanceEnded, e, e.ActivityID, "", nil)
		return nil
	}

	p := in.Tree.Parent(e)
	if p == nil {
		return &StateError{e.ID, "end", "parent missing"}
	}

	if !e.Concurrent {
		// The end of a scope: the parent carries on from its
		// activity.
		if err := in.Tree.Delete(ctx, e, "scope ended"); err != nil {
			return err
		}
		d, a, err := in.resolve(p)
		if err != nil {
			return err
		}
		p.Active = true
		ts, err := in.leaving(ctx, p, d, a)
		if err != nil {
			return err
		}
		in.agenda.Plan(Operation{Kind: TakeTransition, ExecutionID: p.ID, Transitions: ts})
		return nil
	}

	done, err := in.Tree.End(e)
	if err != nil || done == nil {
		// Siblings are still running.
		return err
	}

	d, err := in.definition(p)
	if err != nil {
		return err
	}
	var join string
	siblings := in.Tree.Children(p)
	for _, c := range siblings {
		if a, err := d.Activity(c.ActivityID); err == nil && a.Kind == graph.KindParallel {
			join = a.ID
			break
		}
	}
	for _, c := range siblings {
		if err := in.Tree.Delete(ctx, c, "joined"); err != nil {
			return err
		}
	}
	if join == "" {
		in.agenda.Plan(Operation{Kind: EndExecution, ExecutionID: p.ID})
		return nil
	}
	p.ActivityID = join
	p.Active = true
	in.agenda.Plan(Operation{Kind: TakeTransition, ExecutionID: p.ID, Transitions: d.Outgoing(join)})
	return nil
}

// leaving returns the transitions an execution takes when it leaves
// an activity without an explicit choice.
func (in *Interpreter) leaving(ctx context.Context, e *Execution, d *graph.Definition, a *graph.Activity) ([]*graph.Transition, error) {
	out := d.Outgoing(a.ID)
	var acc []*graph.Transition
	for _, t := range out {
		if t.ID == a.Default || a.Exceptional(t.ID) {
			continue
		}
		ok, err := in.evaluate(ctx, e, t)
		if err != nil {
			return nil, err
		}
		if ok {
			acc = append(acc, t)
		}
	}
	if len(acc) == 0 && a.Default != "" {
		t, err := d.Transition(a.Default)
		if err != nil {
			return nil, err
		}
		acc = append(acc, t)
	}
	if len(acc) == 0 && a.Default == "" && hasUsual(a, out) {
		return nil, &NoMatchingTransition{d.ID(), a.ID}
	}
	return acc, nil
}

func hasUsual(a *graph.Activity, ts []*graph.Transition) bool {
	for _, t := range ts {
		if !a.Exceptional(t.ID) {
			return true
		}
	}
	return false
}

func (in *Interpreter) props(e *Execution) map[string]interface{} {
	ps := make(map[string]interface{}, len(in.Props)+6)
	for k, v := range in.Props {
		ps[k] = v
	}
	ps["executionId"] = e.ID
	ps["instanceId"] = e.InstanceID
	ps["definitionId"] = e.DefinitionID
	ps["activityId"] = e.ActivityID
	ps["businessKey"] = in.Tree.Root(e).BusinessKey
	ps["now"] = in.now().Format(time.RFC3339Nano)
	return ps
}

func (in *Interpreter) exec(ctx context.Context, e *Execution, action graph.Action) (*graph.Evaluation, error) {
	ev, err := action.Exec(ctx, in.Tree.Variables(e), in.props(e))
	if err != nil {
		return nil, err
	}
	if ev == nil {
		ev = &graph.Evaluation{}
	}
	for _, x := range ev.Emitted {
		in.emit(events.MessageEmitted, e, e.ActivityID, "", x)
	}
	return ev, nil
}

func (in *Interpreter) evaluate(ctx context.Context, e *Execution, t *graph.Transition) (bool, error) {
	if !t.Conditional() {
		return true, nil
	}
	ev, err := in.exec(ctx, e, t.Condition)
	if err != nil {
		return false, err
	}
	return graph.Truthy(ev.Value), nil
}

func (in *Interpreter) createJob(e *Execution, a *graph.Activity, typ storage.JobType, due time.Time, transition string) storage.Job {
	retries := in.JobRetries
	if 0 < a.Retries {
		retries = a.Retries
	}
	if retries <= 0 {
		retries = DefaultJobRetries
	}
	return in.Jobs.Create(storage.Job{
		Type:         typ,
		ExecutionID:  e.ID,
		InstanceID:   e.InstanceID,
		ActivityID:   a.ID,
		DefinitionID: e.DefinitionID,
		Transition:   transition,
		DueAt:        due,
		Retries:      retries,
	}, in.now())
}
