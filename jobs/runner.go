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

package jobs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/Comcast/pvm/command"
	"github.com/Comcast/pvm/core"
	"github.com/Comcast/pvm/events"
	"github.com/Comcast/pvm/internal/slogx"
	"github.com/Comcast/pvm/storage"
)

// Gone means a locked job was removed or relocked by someone else
// before it could run.  Nothing is left to do.
type Gone struct {
	JobID   string
	Problem string
}

func (e *Gone) Error() string {
	return fmt.Sprintf("job '%s' %s", e.JobID, e.Problem)
}

// UnknownJobType occurs when no handler serves a job's type.
type UnknownJobType struct {
	Type storage.JobType
}

func (e *UnknownJobType) Error() string {
	return fmt.Sprintf("no handler for job type '%s'", e.Type)
}

// Runner executes locked jobs, each in its own command.
type Runner struct {
	Executor *command.Executor
	Config   Config
	Handlers map[storage.JobType]Handler
	Logger   *slog.Logger
}

func (r *Runner) logger() *slog.Logger {
	if r.Logger == nil {
		return slog.Default()
	}
	return r.Logger
}

// Execute runs the job's handler.  If that fails, a second command
// records the failure on the job.  Job failures aren't returned; only
// cancellation of ctx is.
func (r *Runner) Execute(ctx context.Context, j storage.Job) error {
	_, err := r.Executor.Execute(ctx, &runJob{r, j})

	var (
		pe   *events.PublishError
		gone *Gone
	)
	switch {
	case err == nil:
		return nil
	case errors.As(err, &pe):
		// Committed.
		return nil
	case errors.As(err, &gone):
		r.logger().DebugContext(ctx, "skipping job", slogx.Job(j.ID), slogx.Error(err))
		return nil
	case ctx.Err() != nil:
		return ctx.Err()
	}

	if ferr := r.fail(ctx, j, err); ferr != nil {
		var pe *events.PublishError
		if !errors.As(ferr, &pe) {
			r.logger().ErrorContext(ctx, "recording job failure", slogx.Job(j.ID), slogx.Error(ferr))
		}
	}
	return ctx.Err()
}

// current loads the job and checks that it's still locked by this
// owner at the revision the acquirer saw.
func (r *Runner) current(ctx context.Context, cc *command.Context, j storage.Job) (storage.Job, error) {
	cur, have, err := cc.Store.LoadJob(ctx, j.ID)
	if err != nil {
		return cur, err
	}
	if !have {
		return cur, &Gone{j.ID, "was removed"}
	}
	if cur.LockOwner != r.Config.Owner || cur.Revision != j.Revision {
		return cur, &Gone{j.ID, "was locked by " + cur.LockOwner}
	}
	cc.Jobs.Track(cur)
	return cur, nil
}

type runJob struct {
	r   *Runner
	job storage.Job
}

func (c *runJob) CommandName() string { return "job:" + string(c.job.Type) }

func (c *runJob) Execute(ctx context.Context, cc *command.Context) (interface{}, error) {
	cur, err := c.r.current(ctx, cc, c.job)
	if err != nil {
		return nil, err
	}
	h, have := c.r.Handlers[cur.Type]
	if !have {
		return nil, &UnknownJobType{cur.Type}
	}
	cc.Observe(func(err error) {
		if err == nil {
			c.r.logger().DebugContext(ctx, "job done", slogx.Job(cur.ID), "type", string(cur.Type))
		}
	})
	next, err := h.Handle(ctx, cc, cur)
	if err != nil {
		return nil, err
	}
	if next.IsZero() {
		cc.Jobs.Remove(cur)
		return nil, nil
	}
	cur.DueAt = next
	cur.LockOwner = ""
	cur.LockExpiresAt = time.Time{}
	cur.Exception = ""
	cur.Retries = c.r.Config.MaxRetries
	return nil, cc.Jobs.Update(cur)
}

// fail records a failed attempt.
//
// A job for a suspended instance is pushed back without using up a
// retry.  Errors that can't succeed on a re-run kill the job at once.
func (r *Runner) fail(ctx context.Context, j storage.Job, cause error) error {
	_, err := r.Executor.Execute(ctx, command.Func(func(ctx context.Context, cc *command.Context) (interface{}, error) {
		cur, err := r.current(ctx, cc, j)
		if err != nil {
			var gone *Gone
			if errors.As(err, &gone) {
				return nil, nil
			}
			return nil, err
		}

		now := cc.Now()
		cur.LockOwner = ""
		cur.LockExpiresAt = time.Time{}

		var se *core.SuspendedError
		if errors.As(cause, &se) {
			cur.DueAt = now.Add(r.Config.backoff()(cause, 1))
			r.logger().InfoContext(ctx, "job postponed", slogx.Job(cur.ID), slogx.Instance(cur.InstanceID), "due", cur.DueAt)
			return nil, cc.Jobs.Update(cur)
		}

		cur.Exception = cause.Error()
		if core.IsRetryable(cause) {
			cur.Retries--
		} else {
			cur.Retries = 0
		}

		e := events.Event{
			InstanceID:   cur.InstanceID,
			ExecutionID:  cur.ExecutionID,
			DefinitionID: cur.DefinitionID,
			ActivityID:   cur.ActivityID,
			JobID:        cur.ID,
			At:           now,
			Data: map[string]interface{}{
				"exception": cur.Exception,
				"retries":   cur.Retries,
			},
		}

		if cur.Retries <= 0 {
			cur.Retries = 0
			cur.Dead = true
			e.Type = events.JobDead
			r.logger().ErrorContext(ctx, "job dead", slogx.Job(cur.ID), slogx.Instance(cur.InstanceID), slogx.Error(cause))
		} else {
			failures := r.Config.MaxRetries - cur.Retries
			if failures < 1 {
				failures = 1
			}
			cur.DueAt = now.Add(r.Config.backoff()(cause, uint(failures)))
			e.Type = events.JobFailed
			r.logger().WarnContext(ctx, "job failed", slogx.Job(cur.ID), "retries", cur.Retries, "due", cur.DueAt, slogx.Error(cause))
		}
		cc.Events.Add(e)
		return nil, cc.Jobs.Update(cur)
	}))
	return err
}
