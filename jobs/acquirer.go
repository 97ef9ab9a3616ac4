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
	"log/slog"
	"time"

	"github.com/Comcast/pvm/internal/slogx"
	"github.com/Comcast/pvm/storage"

	"github.com/dogmatiq/linger"
)

// Acquirer locks due jobs for its owner.
//
// Several Acquirers (in one process or many) can work the same store:
// the store's compare-and-set on each job's lease makes sure only one
// of them gets a given job.
type Acquirer struct {
	Store  storage.Store
	Config Config
	Now    func() time.Time
	Logger *slog.Logger

	// Capacity, if set, caps the number of jobs one cycle locks.
	Capacity func() int
}

func (a *Acquirer) now() time.Time {
	if a.Now == nil {
		return time.Now().UTC()
	}
	return a.Now()
}

func (a *Acquirer) logger() *slog.Logger {
	if a.Logger == nil {
		return slog.Default()
	}
	return a.Logger
}

func (a *Acquirer) limit() int {
	n := a.Config.BatchSize
	if a.Capacity != nil {
		if c := a.Capacity(); c < n {
			n = c
		}
	}
	return n
}

// Cycle locks up to BatchSize acquirable jobs (fewer if Capacity says
// so) and returns them as locked.  A job some other acquirer got first
// is skipped.
func (a *Acquirer) Cycle(ctx context.Context) ([]storage.Job, error) {
	limit := a.limit()
	if limit <= 0 {
		return nil, nil
	}
	now := a.now()
	js, err := a.Store.QueryJobs(ctx, storage.JobQuery{
		AcquirableAt: now,
		Partition:    a.Config.Partition,
		Partitions:   a.Config.Partitions,
		Limit:        limit,
	})
	if err != nil {
		return nil, err
	}

	acc := make([]storage.Job, 0, len(js))
	for _, j := range js {
		locked, ok, err := a.Store.LockJob(ctx, storage.JobLock{
			ID:             j.ID,
			ExpectedOwner:  j.LockOwner,
			ExpectedExpiry: j.LockExpiresAt,
			Owner:          a.Config.Owner,
			Until:          now.Add(a.Config.Lease),
			At:             now,
		})
		if err != nil {
			return acc, err
		}
		if !ok {
			a.logger().DebugContext(ctx, "lost job", slogx.Job(j.ID))
			continue
		}
		acc = append(acc, locked)
	}
	if 0 < len(acc) {
		a.logger().InfoContext(ctx, "acquired jobs", "n", len(acc))
	}
	return acc, nil
}

// Run runs cycles until ctx is done, handing every non-empty batch to
// deliver.  It waits for the configured interval after a cycle that
// didn't fill a batch.  Cycle and deliver errors are logged.
func (a *Acquirer) Run(ctx context.Context, deliver func(context.Context, []storage.Job) error) error {
	for {
		js, err := a.Cycle(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			a.logger().WarnContext(ctx, "job cycle", slogx.Error(err))
		}
		if 0 < len(js) {
			if err := deliver(ctx, js); err != nil {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				a.logger().WarnContext(ctx, "job delivery", slogx.Error(err))
			}
		}
		if len(js) < a.Config.BatchSize {
			if err := linger.Sleep(ctx, a.Config.Interval); err != nil {
				return err
			}
		}
	}
}
