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

	"github.com/Comcast/pvm/events"
	"github.com/Comcast/pvm/internal/slogx"
)

// LogInterceptor logs each Command and how long it took.
type LogInterceptor struct {
	x *Executor
}

func (i *LogInterceptor) Intercept(ctx context.Context, cmd Command, next Next) (interface{}, error) {
	then := time.Now()
	r, err := next(ctx, cmd)
	l := i.x.logger()
	if err != nil {
		l.DebugContext(ctx, "command failed", "cmd", nameOf(cmd), "elapsed", time.Since(then), slogx.Error(err))
	} else {
		l.DebugContext(ctx, "command done", "cmd", nameOf(cmd), "elapsed", time.Since(then))
	}
	return r, err
}

// ContextInterceptor joins the active command Context, if there is
// one, or else starts a new one.
type ContextInterceptor struct {
	x *Executor
}

func (i *ContextInterceptor) Intercept(ctx context.Context, cmd Command, next Next) (interface{}, error) {
	if cc := FromContext(ctx); cc != nil && cc.x == i.x {
		cc.depth++
		defer func() { cc.depth-- }()
		return next(ctx, cmd)
	}
	return next(WithContext(ctx, newContext(i.x)), cmd)
}

// TransactionInterceptor commits the outermost Command's unit of work
// when the Command succeeds and discards it otherwise.
//
// After a commit, events go to the Executor's Publishers.  Their
// errors come back as a *events.PublishError, but the commit stands.
type TransactionInterceptor struct {
	x *Executor
}

func (i *TransactionInterceptor) Intercept(ctx context.Context, cmd Command, next Next) (interface{}, error) {
	cc := FromContext(ctx)
	if cc.Nested() {
		return next(ctx, cmd)
	}

	r, err := next(ctx, cmd)
	if err == nil {
		err = i.x.Store.Persist(ctx, cc.batch)
	}
	for _, o := range cc.observers {
		o(err)
	}
	if err != nil {
		i.x.logger().DebugContext(ctx, "rolled back", "cmd", nameOf(cmd), slogx.Error(err))
		return nil, err
	}

	if es := cc.Events.Events(); 0 < len(es) && 0 < len(i.x.Publishers) {
		if err := i.x.Publishers.Publish(ctx, es); err != nil {
			i.x.logger().WarnContext(ctx, "publishing", "cmd", nameOf(cmd), slogx.Error(err))
			return r, &events.PublishError{Err: err}
		}
	}
	return r, nil
}

// FlushInterceptor turns the outermost Command's buffered changes into
// a storage.Batch and shows its events to the Listeners.
type FlushInterceptor struct {
	x *Executor
}

func (i *FlushInterceptor) Intercept(ctx context.Context, cmd Command, next Next) (interface{}, error) {
	cc := FromContext(ctx)
	r, err := next(ctx, cmd)
	if err != nil || cc.Nested() {
		return r, err
	}

	b := cc.Tree.Flush()
	b = append(b, cc.Jobs.Flush()...)
	b = append(b, cc.ops...)
	if err := b.Validate(); err != nil {
		return nil, err
	}
	cc.batch = b

	if es := cc.Events.Events(); 0 < len(es) && 0 < len(i.x.Listeners) {
		if err := i.x.Listeners.Listen(ctx, es); err != nil {
			return nil, err
		}
	}
	return r, nil
}
