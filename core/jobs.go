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
	"context"
	"time"

	"github.com/Comcast/pvm/storage"

	"github.com/google/uuid"
)

// JobLedger tracks job creations, updates, and removals for one unit
// of work.
type JobLedger struct {
	store storage.Store

	jobs    map[string]*trackedJob
	order   []string
	queried map[string]bool

	// NewID makes job ids.  Defaults to uuid.NewString.
	NewID func() string
}

type trackedJob struct {
	job       storage.Job
	persisted bool
	removed   bool
	changed   bool
}

// NewJobLedger makes an empty ledger.
func NewJobLedger(store storage.Store) *JobLedger {
	return &JobLedger{
		store:   store,
		jobs:    make(map[string]*trackedJob),
		queried: make(map[string]bool),
		NewID:   uuid.NewString,
	}
}

func (l *JobLedger) track(j storage.Job, persisted bool) *trackedJob {
	if tj, have := l.jobs[j.ID]; have {
		return tj
	}
	tj := &trackedJob{job: j, persisted: persisted}
	l.jobs[j.ID] = tj
	l.order = append(l.order, j.ID)
	return tj
}

// Create adds a new job.  An empty ID is filled in.
func (l *JobLedger) Create(j storage.Job, now time.Time) storage.Job {
	if j.ID == "" {
		j.ID = l.NewID()
	}
	if j.CreatedAt.IsZero() {
		j.CreatedAt = now
	}
	j.Revision = 0
	tj := l.track(j, false)
	tj.changed = true
	return j
}

// Track adds a job that's already persisted (for example, a job that
// a worker has locked).  The job's Revision must be the persisted
// revision.
func (l *JobLedger) Track(j storage.Job) {
	l.track(j, true)
}

// Update replaces a tracked job's row.
func (l *JobLedger) Update(j storage.Job) error {
	tj, have := l.jobs[j.ID]
	if !have || tj.removed {
		return &storage.NotFoundError{Kind: "job", ID: j.ID}
	}
	j.Revision = tj.job.Revision
	tj.job = j
	tj.changed = true
	return nil
}

// Remove removes a job.  Removing a job twice is fine.
func (l *JobLedger) Remove(j storage.Job) {
	tj := l.track(j, true)
	tj.removed = true
}

// Get returns a tracked job.
func (l *JobLedger) Get(id string) (storage.Job, bool) {
	tj, have := l.jobs[id]
	if !have || tj.removed {
		return storage.Job{}, false
	}
	return tj.job, true
}

func (l *JobLedger) load(ctx context.Context, executionID string) error {
	if l.queried[executionID] {
		return nil
	}
	js, err := l.store.QueryJobs(ctx, storage.JobQuery{ExecutionID: executionID})
	if err != nil {
		return err
	}
	for _, j := range js {
		l.track(j, true)
	}
	l.queried[executionID] = true
	return nil
}

// ForExecution returns the live jobs of an execution.
func (l *JobLedger) ForExecution(ctx context.Context, executionID string) ([]storage.Job, error) {
	if err := l.load(ctx, executionID); err != nil {
		return nil, err
	}
	var acc []storage.Job
	for _, id := range l.order {
		tj := l.jobs[id]
		if tj.job.ExecutionID == executionID && !tj.removed {
			acc = append(acc, tj.job)
		}
	}
	return acc, nil
}

// RemoveForExecution removes every job of an execution.
func (l *JobLedger) RemoveForExecution(ctx context.Context, executionID string) error {
	js, err := l.ForExecution(ctx, executionID)
	if err != nil {
		return err
	}
	for _, j := range js {
		l.Remove(j)
	}
	return nil
}

// RemoveForActivity removes the jobs an execution created at an
// activity, such as timeouts.
func (l *JobLedger) RemoveForActivity(ctx context.Context, executionID, activityID string) error {
	js, err := l.ForExecution(ctx, executionID)
	if err != nil {
		return err
	}
	for _, j := range js {
		if j.ActivityID == activityID {
			l.Remove(j)
		}
	}
	return nil
}

// Flush returns the operations that persist the ledger's changes.
func (l *JobLedger) Flush() storage.Batch {
	var b storage.Batch
	for _, id := range l.order {
		tj := l.jobs[id]
		switch {
		case tj.removed && tj.persisted:
			b = append(b, storage.RemoveJob{Job: tj.job})
		case tj.removed:
		case tj.changed:
			b = append(b, storage.SaveJob{Job: tj.job})
		}
	}
	return b
}
