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
	"fmt"
	"sort"
)

// Problem is something Analyze found questionable.  Problems aren't
// necessarily errors: a definition with problems still compiles.
type Problem struct {
	Activity string `json:"activity,omitempty"`
	Message  string `json:"message"`
}

func (p Problem) String() string {
	if p.Activity == "" {
		return p.Message
	}
	return p.Activity + ": " + p.Message
}

// Analyze looks for questionable structure in a compiled definition.
//
// Problems are returned sorted by activity.
func Analyze(d *Definition) ([]Problem, error) {
	if !d.compiled {
		return nil, &NotCompiled{d.ID()}
	}

	var ps []Problem
	add := func(activity, format string, args ...interface{}) {
		ps = append(ps, Problem{activity, fmt.Sprintf(format, args...)})
	}

	reached := d.reachable()
	for id, a := range d.Activities {
		if !reached[id] {
			add(id, "unreachable")
		}

		out := d.Outgoing(id)
		switch a.Kind {
		case KindExclusive:
			conditional := 0
			for _, t := range out {
				if t.Conditional() {
					conditional++
				}
			}
			if 1 < len(out) && conditional == 0 {
				add(id, "exclusive choice without conditions always takes %q", out[0].ID)
			}
			if 0 < conditional && a.Default == "" {
				add(id, "exclusive choice has no default transition")
			}
		case KindEnd, KindErrorEnd:
			if 0 < len(out) {
				add(id, "end activity has %d outgoing transitions", len(out))
			}
		case KindReceive:
			if a.Pattern == nil {
				add(id, "receive activity without a pattern accepts any message")
			}
		case KindTimer:
			if a.Timer == nil {
				add(id, "timer activity without a timer")
			}
		}

		if a.Kind == KindParallel {
			for _, t := range out {
				if t.Conditional() {
					add(id, "condition on %q is ignored by a parallel fork", t.ID)
				}
			}
		}

		if a.Kind == KindStart && 0 < len(d.Incoming(id)) {
			add(id, "start activity has incoming transitions")
		}
	}

	sort.SliceStable(ps, func(i, j int) bool {
		return ps[i].Activity < ps[j].Activity
	})

	return ps, nil
}

// reachable walks the graph from the initial activity.  Entering a
// subprocess reaches its start activity.
func (d *Definition) reachable() map[string]bool {
	seen := make(map[string]bool, len(d.Activities))
	var walk func(id string)
	walk = func(id string) {
		if seen[id] {
			return
		}
		seen[id] = true
		if a, have := d.Activities[id]; have && a.Kind == KindSubprocess && a.Start != "" {
			walk(a.Start)
		}
		for _, t := range d.Outgoing(id) {
			walk(t.Target)
		}
	}
	walk(d.Initial)
	return seen
}
