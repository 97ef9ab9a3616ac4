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
	"errors"
	"fmt"
	"strconv"

	"github.com/Comcast/pvm/graph"
	"github.com/Comcast/pvm/storage"
)

// UnknownDefinition occurs when a definition id isn't deployed.
type UnknownDefinition struct {
	ID string
}

func (e *UnknownDefinition) Error() string {
	return `definition "` + e.ID + `" not deployed`
}

// UnknownExecution occurs when an execution id doesn't resolve.
type UnknownExecution struct {
	ID string
}

func (e *UnknownExecution) Error() string {
	return `execution "` + e.ID + `" not found`
}

// UnknownBehavior occurs when an activity's kind has no behavior.
type UnknownBehavior struct {
	Activity string
	Kind     string
}

func (e *UnknownBehavior) Error() string {
	return `no behavior for kind "` + e.Kind + `" at activity "` + e.Activity + `"`
}

// StateError occurs when an operation finds an execution in the wrong
// state: deleted, ended, or not where the operation expected it.
//
// A StateError indicates a caller bug or a lost race.  It is never
// retried by the command layer.
type StateError struct {
	ExecutionID string
	Op          string
	Problem     string
}

func (e *StateError) Error() string {
	return fmt.Sprintf(`%s on execution "%s": %s`, e.Op, e.ExecutionID, e.Problem)
}

// SuspendedError occurs when a suspended execution is asked to move.
type SuspendedError struct {
	ExecutionID string
}

func (e *SuspendedError) Error() string {
	return `execution "` + e.ExecutionID + `" is suspended`
}

// NoMatchingTransition occurs when no transition can be taken out of
// an activity that needs one.
type NoMatchingTransition struct {
	Definition string
	Activity   string
}

func (e *NoMatchingTransition) Error() string {
	return `no transition out of activity "` + e.Activity + `" in definition "` + e.Definition + `"`
}

// BusinessError is a fault raised on purpose by a behavior or a
// script.  An activity (or an enclosing scope's activity) that
// catches the Code turns the fault into a transition.  Uncaught
// business errors roll the command back like any other error.
type BusinessError struct {
	Code    string
	Message string
}

func (e *BusinessError) Error() string {
	if e.Message == "" {
		return `business fault "` + e.Code + `"`
	}
	return `business fault "` + e.Code + `": ` + e.Message
}

// LimitExceeded occurs when one unit of work plans more operations
// than Control.Limit allows.
type LimitExceeded struct {
	Limit int
}

func (e *LimitExceeded) Error() string {
	return "interpretation exceeded " + strconv.Itoa(e.Limit) + " operations"
}

// IsRetryable reports whether re-running the failed command could
// succeed.  Caller errors, state errors, and transition-resolution
// errors are never retryable.  Optimistic conflicts always are.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if storage.IsConflict(err) {
		return true
	}
	var (
		ud *UnknownDefinition
		ue *UnknownExecution
		ub *UnknownBehavior
		se *StateError
		nm *NoMatchingTransition
		ut *graph.UnknownTransition
		ua *graph.UnknownActivity
		nf *storage.NotFoundError
		le *LimitExceeded
	)
	switch {
	case errors.As(err, &ud), errors.As(err, &ue), errors.As(err, &ub),
		errors.As(err, &se), errors.As(err, &nm), errors.As(err, &ut),
		errors.As(err, &ua), errors.As(err, &nf), errors.As(err, &le):
		return false
	}
	return true
}

// BreakpointReached occurs when a Control breakpoint fires.
type BreakpointReached struct {
	Breakpoint  string
	ExecutionID string
}

func (e *BreakpointReached) Error() string {
	return `breakpoint "` + e.Breakpoint + `" reached at execution "` + e.ExecutionID + `"`
}
