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

package behaviors

import (
	"context"
	"fmt"

	"github.com/Comcast/pvm/core"
	"github.com/Comcast/pvm/match"
)

// Uncorrelated is returned when a signal's payload doesn't match a
// receive activity's pattern.
type Uncorrelated struct {
	Activity string
	Payload  interface{}
}

func (e *Uncorrelated) Error() string {
	return fmt.Sprintf("message %v doesn't match the pattern at activity '%s'", e.Payload, e.Activity)
}

// Receive waits for a message.
//
// When the activity has a pattern, a signal's payload must match it.
// The pattern's variables are bound against the current variables, so
// a pattern like {"order":"?order"} only accepts a message for the
// order this instance is about once ?order is known.  New bindings
// become variables (without the "?").
type Receive struct {
	Matcher *match.Matcher
}

func (r *Receive) Execute(ctx context.Context, ax *core.ActivityExecution) error {
	return nil
}

func (r *Receive) Signal(ctx context.Context, ax *core.ActivityExecution, sig *core.Signal) error {
	a := ax.Activity()
	if a.Pattern != nil {
		vars := ax.Variables()
		bss, err := r.matcher().Match(a.Pattern, sig.Payload, questioned(vars))
		if err != nil {
			return err
		}
		if len(bss) == 0 {
			return &Uncorrelated{a.ID, sig.Payload}
		}
		for k, v := range bss[0].Unquestioned() {
			if _, had := vars[k]; had {
				continue
			}
			if err := ax.SetVariable(k, v); err != nil {
				return err
			}
		}
	}
	if sig.Transition != "" {
		return ax.TakeTransition(sig.Transition)
	}
	return ax.Leave(ctx)
}

func (r *Receive) matcher() *match.Matcher {
	if r.Matcher == nil {
		return match.DefaultMatcher
	}
	return r.Matcher
}

// questioned turns variables into pattern bindings.
func questioned(vars map[string]interface{}) match.Bindings {
	bs := make(match.Bindings, len(vars))
	for k, v := range vars {
		bs["?"+k] = v
	}
	return bs
}
