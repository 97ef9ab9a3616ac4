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

package command

import (
	"context"
	"time"

	"github.com/Comcast/pvm/core"
	"github.com/Comcast/pvm/events"
	"github.com/Comcast/pvm/storage"
)

type ctxKey struct{}

// Context is the state of one unit of work: the loaded executions,
// job changes, and events, all of which are discarded on rollback.
type Context struct {
	Store storage.Store
	Tree  *core.Tree
	Jobs  *core.JobLedger

	Events events.Buffer

	x           *Executor
	depth       int
	batch       storage.Batch
	ops         storage.Batch
	observers   []Observer
	interpreter *core.Interpreter
}

// Observer is told how a unit of work ended.
type Observer func(err error)

func newContext(x *Executor) *Context {
	jobs := core.NewJobLedger(x.Store)
	return &Context{
		Store: x.Store,
		Tree:  core.NewTree(x.Store, jobs),
		Jobs:  jobs,
		x:     x,
	}
}

// FromContext returns the active command Context, if any.
func FromContext(ctx context.Context) *Context {
	cc, _ := ctx.Value(ctxKey{}).(*Context)
	return cc
}

// WithContext returns a ctx carrying the command Context.
func WithContext(ctx context.Context, cc *Context) context.Context {
	return context.WithValue(ctx, ctxKey{}, cc)
}

// Interpreter returns the unit of work's Interpreter, which shares the
// Context's Tree and job ledger.
func (cc *Context) Interpreter() *core.Interpreter {
	if cc.interpreter == nil {
		x := cc.x
		cc.interpreter = &core.Interpreter{
			Tree:        cc.Tree,
			Jobs:        cc.Jobs,
			Definitions: x.Definitions,
			Behaviors:   x.Behaviors,
			Emit:        cc.Events.Add,
			Now:         x.now,
			Logger:      x.logger(),
			Control:     x.Control,
			JobRetries:  x.JobRetries,
			Props:       x.Props,
		}
	}
	return cc.interpreter
}

// Do adds an arbitrary operation to the unit of work's batch.  An
// operation on an entity the Tree or the job ledger also changes fails
// the unit of work with a *storage.DuplicateOperationError.
func (cc *Context) Do(op storage.Operation) {
	cc.ops = append(cc.ops, op)
}

// Observe registers a function to call when the unit of work commits
// or rolls back.
func (cc *Context) Observe(o Observer) {
	cc.observers = append(cc.observers, o)
}

// Nested reports whether the current Command runs inside another.
func (cc *Context) Nested() bool {
	return 0 < cc.depth
}

// Now is the executor's clock.
func (cc *Context) Now() time.Time {
	return cc.x.now()
}
