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
	"time"

	"github.com/Comcast/pvm/command"
	"github.com/Comcast/pvm/storage"
)

// Handler does a job's work inside the job's command.
//
// A zero next time means the job is done and is removed.  Otherwise
// the job is rescheduled to run again at next.
type Handler interface {
	Handle(ctx context.Context, cc *command.Context, j storage.Job) (next time.Time, err error)
}

// HandlerFunc adapts a function to a Handler.
type HandlerFunc func(ctx context.Context, cc *command.Context, j storage.Job) (time.Time, error)

func (f HandlerFunc) Handle(ctx context.Context, cc *command.Context, j storage.Job) (time.Time, error) {
	return f(ctx, cc, j)
}

// StandardHandlers returns a fresh map of the handlers for the
// standard job types.
func StandardHandlers() map[storage.JobType]Handler {
	return map[storage.JobType]Handler{
		storage.JobTimer:             HandlerFunc(FireTimer),
		storage.JobAsyncContinuation: HandlerFunc(ContinueAsync),
		storage.JobTimerStart:        HandlerFunc(StartOnSchedule),
	}
}

// FireTimer fires a timer activity or a timeout.
func FireTimer(ctx context.Context, cc *command.Context, j storage.Job) (time.Time, error) {
	return time.Time{}, cc.Interpreter().Fire(ctx, j)
}

// ContinueAsync runs the behavior of an async activity.
func ContinueAsync(ctx context.Context, cc *command.Context, j storage.Job) (time.Time, error) {
	return time.Time{}, cc.Interpreter().ContinueAsync(ctx, j)
}

// StartOnSchedule starts an instance of the job's definition and
// reschedules the job at the definition's next scheduled time.
func StartOnSchedule(ctx context.Context, cc *command.Context, j storage.Job) (time.Time, error) {
	d, err := cc.Definition(j.DefinitionID)
	if err != nil {
		return time.Time{}, err
	}
	if _, err = cc.Interpreter().Start(ctx, d, "", nil); err != nil {
		return time.Time{}, err
	}
	from := cc.Now()
	if from.Before(j.DueAt) {
		from = j.DueAt
	}
	return d.NextScheduled(from), nil
}
