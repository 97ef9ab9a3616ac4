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

// These errors are user errors, not internal errors.

import (
	"errors"
	"fmt"
)

// InterpreterNotFound occurs when a Source names an interpreter that
// isn't in the given map of interpreters.
var InterpreterNotFound = errors.New("interpreter not found")

// NotCompiled occurs when a Definition is used before it has been
// Compile()ed.
type NotCompiled struct {
	Definition string
}

func (e *NotCompiled) Error() string {
	return `definition "` + e.Definition + `" not compiled`
}

// UnknownActivity occurs when a reference to an activity doesn't
// resolve.
type UnknownActivity struct {
	Definition string
	Activity   string
}

func (e *UnknownActivity) Error() string {
	return `activity "` + e.Activity + `" not found in definition "` + e.Definition + `"`
}

// UnknownTransition occurs when a reference to a transition doesn't
// resolve.
type UnknownTransition struct {
	Definition string
	Transition string
}

func (e *UnknownTransition) Error() string {
	return `transition "` + e.Transition + `" not found in definition "` + e.Definition + `"`
}

// BadDefinition reports a structural problem found by Compile.
type BadDefinition struct {
	Definition string
	Activity   string
	Problem    string
}

func (e *BadDefinition) Error() string {
	if e.Activity == "" {
		return fmt.Sprintf(`definition "%s": %s`, e.Definition, e.Problem)
	}
	return fmt.Sprintf(`definition "%s" activity "%s": %s`, e.Definition, e.Activity, e.Problem)
}
