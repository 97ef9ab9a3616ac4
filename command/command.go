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

// Package command runs Commands through a fixed stack of
// interceptors that gives each Command a unit of work.
//
// The stack, outermost first:
//
//	LogInterceptor          debug timing
//	ContextInterceptor      finds or makes the *Context
//	TransactionInterceptor  commit or roll back the unit of work
//	FlushInterceptor        buffered changes -> storage.Batch, listeners
//	the Command itself
//
// A Command that executes another Command with the ctx it was given
// joins the running unit of work: nothing commits until the outermost
// Command returns.
package command

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/Comcast/pvm/core"
	"github.com/Comcast/pvm/events"
	"github.com/Comcast/pvm/storage"
)

// Command is a unit of work against the engine's state.
type Command interface {
	Execute(ctx context.Context, cc *Context) (interface{}, error)
}

// Func adapts a function to a Command.
type Func func(ctx context.Context, cc *Context) (interface{}, error)

func (f Func) Execute(ctx context.Context, cc *Context) (interface{}, error) {
	return f(ctx, cc)
}

// Named is implemented by Commands that want a nicer name in logs.
type Named interface {
	CommandName() string
}

func nameOf(cmd Command) string {
	if n, is := cmd.(Named); is {
		return n.CommandName()
	}
	return fmt.Sprintf("%T", cmd)
}

// Next invokes the rest of the stack.
type Next func(ctx context.Context, cmd Command) (interface{}, error)

// Interceptor is one layer of the stack.
type Interceptor interface {
	Intercept(ctx context.Context, cmd Command, next Next) (interface{}, error)
}

// Executor runs Commands.
type Executor struct {
	Store       storage.Store
	Definitions core.Definitions
	Behaviors   core.Behaviors

	// Listeners see a unit of work's events before it commits.
	// A Listener error rolls back the unit of work.
	Listeners events.Listeners

	// Publishers see a unit of work's events after it commits.
	Publishers events.Publishers

	Logger     *slog.Logger
	Now        func() time.Time
	Control    *core.Control
	JobRetries int
	Props      map[string]interface{}
}

func (x *Executor) logger() *slog.Logger {
	if x.Logger == nil {
		return slog.Default()
	}
	return x.Logger
}

func (x *Executor) now() time.Time {
	if x.Now == nil {
		return time.Now().UTC()
	}
	return x.Now()
}

func (x *Executor) interceptors() []Interceptor {
	return []Interceptor{
		&LogInterceptor{x},
		&ContextInterceptor{x},
		&TransactionInterceptor{x},
		&FlushInterceptor{x},
	}
}

// Execute runs the Command through the stack.
func (x *Executor) Execute(ctx context.Context, cmd Command) (interface{}, error) {
	is := x.interceptors()
	var next Next
	next = func(ctx context.Context, cmd Command) (interface{}, error) {
		cc := FromContext(ctx)
		if cc == nil {
			return nil, fmt.Errorf("command %s has no command context", nameOf(cmd))
		}
		return cmd.Execute(ctx, cc)
	}
	for i := len(is) - 1; 0 <= i; i-- {
		in, inner := is[i], next
		next = func(ctx context.Context, cmd Command) (interface{}, error) {
			return in.Intercept(ctx, cmd, inner)
		}
	}
	return next(ctx, cmd)
}
