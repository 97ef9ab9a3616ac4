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

// Package interpreters assembles the standard interpreter map.
package interpreters

import (
	"github.com/Comcast/pvm/graph"
	"github.com/Comcast/pvm/interpreters/goja"
	"github.com/Comcast/pvm/interpreters/noop"
)

// Standard returns a fresh map of the standard interpreters.
func Standard() map[string]graph.Interpreter {
	is := make(map[string]graph.Interpreter)

	g := goja.NewInterpreter()
	is["goja"] = g
	is["ecmascript"] = g
	is["ecmascript-5.1"] = g

	is["noop"] = noop.NewInterpreter()

	return is
}
