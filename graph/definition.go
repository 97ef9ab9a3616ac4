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
	"fmt"
	"time"

	"github.com/gorhill/cronexpr"
)

// Behavior kinds understood by the standard behaviors.
const (
	KindStart      = "start"
	KindEnd        = "end"
	KindErrorEnd   = "errorEnd"
	KindTask       = "task"
	KindScript     = "script"
	KindUserTask   = "userTask"
	KindReceive    = "receive"
	KindExclusive  = "exclusive"
	KindParallel   = "parallel"
	KindTimer      = "timer"
	KindSubprocess = "subprocess"
)

// Definition is a process graph: activities and the transitions
// between them.
type Definition struct {
	// Name is the generic name for this process.  Something like
	// "order-fulfillment".
	Name string `json:"name" yaml:"name"`

	// Version is the version of this process.  Something like
	// "1.2".
	Version string `json:"version,omitempty" yaml:",omitempty"`

	// Doc is general documentation about how this process works.
	Doc string `json:"doc,omitempty" yaml:",omitempty"`

	// Activities maps activity ids to activities.
	Activities map[string]*Activity `json:"activities" yaml:"activities"`

	// Transitions in declaration order.  The order matters:
	// exclusive choices consider conditions in this order, and
	// forks create branches in this order.
	Transitions []*Transition `json:"transitions" yaml:"transitions"`

	// Initial is the id of the start activity.
	Initial string `json:"initial" yaml:"initial"`

	// Schedule is an optional cron expression.  A deployed
	// definition with a schedule starts a new instance each time
	// the schedule fires.
	Schedule string `json:"schedule,omitempty" yaml:",omitempty"`

	compiled    bool
	transitions map[string]*Transition
	outgoing    map[string][]*Transition
	incoming    map[string][]*Transition
	schedule    *cronexpr.Expression
}

// ID returns name:version.
func (d *Definition) ID() string {
	return d.Name + ":" + d.Version
}

// Compiled reports whether Compile has succeeded.
func (d *Definition) Compiled() bool {
	return d.compiled
}

// Activity finds an activity by id.
func (d *Definition) Activity(id string) (*Activity, error) {
	a, have := d.Activities[id]
	if !have || a == nil {
		return nil, &UnknownActivity{d.ID(), id}
	}
	return a, nil
}

// Transition finds a transition by id.
func (d *Definition) Transition(id string) (*Transition, error) {
	t, have := d.transitions[id]
	if !have {
		return nil, &UnknownTransition{d.ID(), id}
	}
	return t, nil
}

// Outgoing returns the transitions leaving the given activity in
// declaration order.
func (d *Definition) Outgoing(activity string) []*Transition {
	return d.outgoing[activity]
}

// Incoming returns the transitions entering the given activity in
// declaration order.
func (d *Definition) Incoming(activity string) []*Transition {
	return d.incoming[activity]
}

// NextScheduled returns the next time after the given time that the
// definition's Schedule fires.  The zero time means there is no
// schedule.
func (d *Definition) NextScheduled(after time.Time) time.Time {
	if d.schedule == nil {
		return time.Time{}
	}
	return d.schedule.Next(after)
}

// Activity is a node in the process graph.
type Activity struct {
	// ID is the activity's key in Definition.Activities.  Set by
	// Compile.
	ID string `json:"-" yaml:"-"`

	// Kind selects the behavior.
	Kind string `json:"kind" yaml:"kind"`

	// In is the id of the enclosing subprocess activity (if any).
	In string `json:"in,omitempty" yaml:",omitempty"`

	// Scope makes an execution entering this activity create a
	// child scope execution, which owns its own variables.
	// Subprocesses are always scopes.
	Scope bool `json:"scope,omitempty" yaml:",omitempty"`

	// Async makes the activity's behavior run later, from a job,
	// rather than in the command that reached the activity.
	Async bool `json:"async,omitempty" yaml:",omitempty"`

	// Default is the id of the transition an exclusive choice
	// takes when no condition holds.
	Default string `json:"default,omitempty" yaml:",omitempty"`

	// Start is the first inner activity of a subprocess.
	Start string `json:"start,omitempty" yaml:",omitempty"`

	// ScriptSource is code run by script tasks.
	ScriptSource *Source `json:"script,omitempty" yaml:"script,omitempty"`
	Script       Action  `json:"-" yaml:"-"`

	// Pattern is matched against signal messages by receive
	// activities.
	Pattern interface{} `json:"pattern,omitempty" yaml:",omitempty"`

	// Timer configures timer activities and timeouts on wait
	// activities.
	Timer *Timer `json:"timer,omitempty" yaml:",omitempty"`

	// Catches maps business fault codes to the ids of transitions
	// (leaving this activity) to take when such a fault is raised
	// here or anywhere inside this activity's scope.
	Catches map[string]string `json:"catches,omitempty" yaml:",omitempty"`

	// Retries overrides the job retry count for jobs created at
	// this activity.  Zero means the configured default.
	Retries int `json:"retries,omitempty" yaml:",omitempty"`

	// Props are behavior-specific settings.
	Props map[string]interface{} `json:"props,omitempty" yaml:",omitempty"`

	Doc string `json:"doc,omitempty" yaml:",omitempty"`
}

// Prop returns the string value of a property (if any).
func (a *Activity) Prop(name string) string {
	s, _ := a.Props[name].(string)
	return s
}

// Exceptional reports whether the transition is only taken when a
// fault is caught or a timeout fires at this activity.
func (a *Activity) Exceptional(transition string) bool {
	if a.Timer != nil && a.Timer.Transition == transition && a.Kind != KindTimer {
		return true
	}
	for _, t := range a.Catches {
		if t == transition {
			return true
		}
	}
	return false
}

// Timer is a delay or a recurring schedule.
//
// On a timer activity, the timer fires the activity.  On any other
// activity, the timer is a timeout: when it fires while the execution
// is still waiting at the activity, Transition is taken.
type Timer struct {
	// Duration is something time.ParseDuration understands.
	Duration string `json:"duration,omitempty" yaml:",omitempty"`

	// Cycle is a cron expression.
	Cycle string `json:"cycle,omitempty" yaml:",omitempty"`

	// Transition is the timeout transition.
	Transition string `json:"transition,omitempty" yaml:",omitempty"`

	duration time.Duration
	cycle    *cronexpr.Expression
}

// Next returns when the timer fires if started at the given time.
func (t *Timer) Next(from time.Time) time.Time {
	if t.cycle != nil {
		return t.cycle.Next(from)
	}
	return from.Add(t.duration)
}

func (t *Timer) compile() error {
	switch {
	case t.Cycle != "":
		c, err := cronexpr.Parse(t.Cycle)
		if err != nil {
			return err
		}
		t.cycle = c
	case t.Duration != "":
		d, err := time.ParseDuration(t.Duration)
		if err != nil {
			return err
		}
		t.duration = d
	default:
		return fmt.Errorf("timer needs a duration or a cycle")
	}
	return nil
}

// Transition is an edge in the process graph.
type Transition struct {
	// ID defaults to "source->target".
	ID     string `json:"id,omitempty" yaml:",omitempty"`
	Source string `json:"source" yaml:"source"`
	Target string `json:"target" yaml:"target"`

	// When is shorthand for a ConditionSource that's a single
	// expression in the default interpreter.
	When string `json:"when,omitempty" yaml:",omitempty"`

	ConditionSource *Source `json:"condition,omitempty" yaml:"condition,omitempty"`
	Condition       Action  `json:"-" yaml:"-"`

	// Index is the declaration order.  Set by Compile.
	Index int `json:"-" yaml:"-"`

	Doc string `json:"doc,omitempty" yaml:",omitempty"`
}

// Conditional reports whether the transition has a condition.
func (t *Transition) Conditional() bool {
	return t.Condition != nil
}

// Compile checks the structure of the definition and compiles all
// code (scripts and conditions) using the given interpreters (which
// defaults to DefaultInterpreters).
//
// If force is false, already compiled code is left alone.
func (d *Definition) Compile(ctx context.Context, interpreters map[string]Interpreter, force bool) error {
	bad := func(activity, format string, args ...interface{}) error {
		return &BadDefinition{
			Definition: d.ID(),
			Activity:   activity,
			Problem:    fmt.Sprintf(format, args...),
		}
	}

	if d.Name == "" {
		return bad("", "no name")
	}
	if len(d.Activities) == 0 {
		return bad("", "no activities")
	}

	for id, a := range d.Activities {
		if a == nil {
			return bad(id, "empty activity")
		}
		a.ID = id
		if a.Kind == "" {
			a.Kind = KindTask
		}
		if a.Kind == KindSubprocess {
			a.Scope = true
		}
		if a.In != "" {
			p, have := d.Activities[a.In]
			if !have || p == nil || p.Kind != KindSubprocess {
				return bad(id, "enclosing activity %q isn't a subprocess", a.In)
			}
		}
		if a.ScriptSource != nil && (force || a.Script == nil) {
			action, err := a.ScriptSource.Compile(ctx, interpreters)
			if err != nil {
				return bad(id, "script: %s", err)
			}
			a.Script = action
		}
		if a.Timer != nil {
			if err := a.Timer.compile(); err != nil {
				return bad(id, "timer: %s", err)
			}
		}
	}

	if _, err := d.Activity(d.Initial); err != nil {
		return err
	}

	d.transitions = make(map[string]*Transition, len(d.Transitions))
	d.outgoing = make(map[string][]*Transition)
	d.incoming = make(map[string][]*Transition)

	for i, t := range d.Transitions {
		if t == nil {
			return bad("", "empty transition at %d", i)
		}
		if _, err := d.Activity(t.Source); err != nil {
			return err
		}
		if _, err := d.Activity(t.Target); err != nil {
			return err
		}
		if t.ID == "" {
			t.ID = t.Source + "->" + t.Target
		}
		if _, have := d.transitions[t.ID]; have {
			return bad(t.Source, "duplicate transition %q", t.ID)
		}
		t.Index = i
		if t.ConditionSource == nil && t.When != "" {
			t.ConditionSource = Expression(t.When)
		}
		if t.ConditionSource != nil && (force || t.Condition == nil) {
			action, err := t.ConditionSource.Compile(ctx, interpreters)
			if err != nil {
				return bad(t.Source, "condition on %q: %s", t.ID, err)
			}
			t.Condition = action
		}
		d.transitions[t.ID] = t
		d.outgoing[t.Source] = append(d.outgoing[t.Source], t)
		d.incoming[t.Target] = append(d.incoming[t.Target], t)
	}

	for id, a := range d.Activities {
		if err := d.checkRefs(a); err != nil {
			return err
		}
		if a.Kind == KindSubprocess {
			s, err := d.Activity(a.Start)
			if err != nil {
				return bad(id, "subprocess start: %s", err)
			}
			if s.In != id {
				return bad(id, "subprocess start %q isn't inside the subprocess", a.Start)
			}
		}
	}

	d.schedule = nil
	if d.Schedule != "" {
		c, err := cronexpr.Parse(d.Schedule)
		if err != nil {
			return bad("", "schedule: %s", err)
		}
		d.schedule = c
	}

	d.compiled = true

	return nil
}

// checkRefs verifies that transitions named by an activity leave that
// activity.
func (d *Definition) checkRefs(a *Activity) error {
	leaves := func(id string) error {
		t, err := d.Transition(id)
		if err != nil {
			return err
		}
		if t.Source != a.ID {
			return &BadDefinition{d.ID(), a.ID, fmt.Sprintf("transition %q doesn't leave the activity", id)}
		}
		return nil
	}
	if a.Default != "" {
		if err := leaves(a.Default); err != nil {
			return err
		}
	}
	if a.Timer != nil && a.Timer.Transition != "" {
		if err := leaves(a.Timer.Transition); err != nil {
			return err
		}
	}
	for _, id := range a.Catches {
		if err := leaves(id); err != nil {
			return err
		}
	}
	return nil
}
