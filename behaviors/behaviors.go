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

// Package behaviors provides the standard activity kinds.
//
// Each kind is a small core.Behavior registered by name.  Standard()
// returns the full set, which an engine can copy and extend with its
// own kinds.
package behaviors

import (
	"context"
	"fmt"

	"github.com/Comcast/pvm/core"
	"github.com/Comcast/pvm/graph"
	"github.com/Comcast/pvm/match"
)

// Standard returns a fresh map of the standard behaviors.
func Standard() core.Behaviors {
	return core.Behaviors{
		graph.KindStart:      Pass{},
		graph.KindTask:       Pass{},
		graph.KindEnd:        End{},
		graph.KindErrorEnd:   ErrorEnd{},
		graph.KindScript:     Script{},
		graph.KindUserTask:   Wait{},
		graph.KindReceive:    &Receive{Matcher: match.DefaultMatcher},
		graph.KindExclusive:  Exclusive{},
		graph.KindParallel:   Parallel{},
		graph.KindTimer:      Timer{},
		graph.KindSubprocess: Subprocess{},
	}
}

// Pass leaves the activity immediately, taking every outgoing
// transition whose condition holds.
type Pass struct{}

func (Pass) Execute(ctx context.Context, ax *core.ActivityExecution) error {
	return ax.Leave(ctx)
}

// End ends the execution.  At the top level, that ends the instance.
type End struct{}

func (End) Execute(ctx context.Context, ax *core.ActivityExecution) error {
	return ax.End()
}

// ErrorEnd raises the business fault named by the activity's "code"
// property.
type ErrorEnd struct{}

func (ErrorEnd) Execute(ctx context.Context, ax *core.ActivityExecution) error {
	a := ax.Activity()
	code := a.Prop("code")
	if code == "" {
		code = a.ID
	}
	return &core.BusinessError{
		Code:    code,
		Message: a.Prop("message"),
	}
}

// Script runs the activity's script and then leaves.
//
// If the script returns an object, each of its properties is set as a
// variable.
type Script struct{}

func (Script) Execute(ctx context.Context, ax *core.ActivityExecution) error {
	a := ax.Activity()
	if a.Script != nil {
		ev, err := ax.Exec(ctx, a.Script)
		if err != nil {
			return err
		}
		if err = setAll(ax, ev.Value); err != nil {
			return err
		}
	}
	return ax.Leave(ctx)
}

func setAll(ax *core.ActivityExecution, x interface{}) error {
	switch vv := x.(type) {
	case nil:
		return nil
	case map[string]interface{}:
		for k, v := range vv {
			if err := ax.SetVariable(k, v); err != nil {
				return err
			}
		}
		return nil
	default:
		return fmt.Errorf("script returned a %T, not an object", x)
	}
}

// Wait does nothing, so the execution waits at the activity until
// it's signalled.  Human tasks work this way.
type Wait struct{}

func (Wait) Execute(ctx context.Context, ax *core.ActivityExecution) error {
	ax.Logger().Debug("waiting")
	return nil
}

// Exclusive takes the first outgoing transition (in declaration
// order) whose condition holds, else the activity's default.
type Exclusive struct{}

func (Exclusive) Execute(ctx context.Context, ax *core.ActivityExecution) error {
	return ax.Choose(ctx)
}

// Parallel forks when it has one incoming transition and joins when
// it has several.
//
// A join waits for all concurrent siblings.  The last one to arrive
// continues (as the parent execution) along the outgoing transitions,
// which may fork again.
type Parallel struct{}

func (Parallel) Execute(ctx context.Context, ax *core.ActivityExecution) error {
	if 1 < len(ax.Incoming()) {
		return ax.Join(ctx)
	}
	return ax.Fork(ax.Regular())
}

// Timer schedules a timer job and waits for it.  When the job fires,
// the execution leaves the activity.
type Timer struct{}

func (Timer) Execute(ctx context.Context, ax *core.ActivityExecution) error {
	a := ax.Activity()
	if a.Timer == nil {
		return &graph.BadDefinition{
			Definition: ax.Definition().ID(),
			Activity:   a.ID,
			Problem:    "timer activity without a timer",
		}
	}
	j := ax.ScheduleTimer(a.Timer)
	ax.Logger().Debug("timer scheduled", "job", j.ID, "due", j.DueAt)
	return nil
}

// Subprocess enters its own scope at its start activity.  When the
// inner execution ends, the subprocess leaves.
type Subprocess struct{}

func (Subprocess) Execute(ctx context.Context, ax *core.ActivityExecution) error {
	return ax.EnterScope(ax.Activity().Start)
}
