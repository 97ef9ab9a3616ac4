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
)

// Behavior is what an activity does when an execution arrives.
//
// Execute plans what happens next through the ActivityExecution:
// take a transition, fork, join, end, or enter a scope.  Returning
// without planning anything suspends the execution at the activity
// until a later command (a signal or a job) moves it.
//
// Behaviors never mutate the tree directly.
type Behavior interface {
	Execute(ctx context.Context, ax *ActivityExecution) error
}

// Signaller is implemented by behaviors that react to signals while
// an execution waits at their activity.  Behaviors that don't
// implement Signaller leave the activity on any signal.
type Signaller interface {
	Signal(ctx context.Context, ax *ActivityExecution, sig *Signal) error
}

// Signal is an external nudge to a waiting execution: a completed
// human task, a message, or a timer.
type Signal struct {
	// Name is informational ("complete", "message", "timer", ...).
	Name string `json:"name,omitempty"`

	// Payload is the message (if any).
	Payload interface{} `json:"payload,omitempty"`

	// Transition, if not empty, selects the transition to take.
	Transition string `json:"transition,omitempty"`

	// Vars are set on the execution before the behavior sees the
	// signal.
	Vars map[string]interface{} `json:"vars,omitempty"`
}

// BehaviorFunc adapts a function to a Behavior.
type BehaviorFunc func(ctx context.Context, ax *ActivityExecution) error

func (f BehaviorFunc) Execute(ctx context.Context, ax *ActivityExecution) error {
	return f(ctx, ax)
}

// Behaviors maps activity kinds to behaviors.
type Behaviors map[string]Behavior

// Copy makes a shallow copy, which can then be extended.
func (bs Behaviors) Copy() Behaviors {
	acc := make(Behaviors, len(bs))
	for k, b := range bs {
		acc[k] = b
	}
	return acc
}
