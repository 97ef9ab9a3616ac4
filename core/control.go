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

// DefaultControl will be used by an Interpreter if its Control is
// nil.
var DefaultControl = &Control{
	Limit: 1000,
}

// Control influences how an Interpreter runs.
type Control struct {
	// Limit is the maximum number of operations that one unit of
	// work can run.  Runaway loops in a definition hit this limit
	// and roll back.
	Limit int

	// Breakpoints are checked before each operation.  When one
	// returns true, Run stops with a *BreakpointReached and the command
	// rolls back.  Useful for debugging definitions.
	Breakpoints map[string]Breakpoint
}

// Breakpoint is an Operation predicate.
type Breakpoint func(op Operation, e *Execution) bool

// Copy makes a copy of the Control.
func (c *Control) Copy() *Control {
	bs := make(map[string]Breakpoint, len(c.Breakpoints))
	for id, b := range c.Breakpoints {
		bs[id] = b
	}
	return &Control{
		Limit:       c.Limit,
		Breakpoints: bs,
	}
}
