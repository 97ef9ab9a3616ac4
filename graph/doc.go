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

// Package graph holds compiled process definitions.
//
// A Definition is a set of Activities connected by Transitions.  Each
// Activity has a behavior kind (see package behaviors), and each
// Transition may carry a condition written in a pluggable expression
// language (see package interpreters).  A Definition is mutable until
// Compile is called and should be treated as immutable afterwards:
// running instances share a single compiled Definition.
//
// Definitions are usually written in YAML:
//
//	name: order
//	version: "1"
//	initial: start
//	activities:
//	  start: {kind: start}
//	  check: {kind: exclusive, default: small}
//	  big: {kind: userTask}
//	  small: {kind: task}
//	  end: {kind: end}
//	transitions:
//	  - {source: start, target: check}
//	  - {id: big, source: check, target: big, when: "x > 10"}
//	  - {id: small, source: check, target: small}
//	  - {source: big, target: end}
//	  - {source: small, target: end}
package graph
