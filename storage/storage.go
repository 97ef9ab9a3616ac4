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

// Package storage defines the entity-storage contract used by the
// process runtime.
//
// The contract covers two kinds of rows, Executions and Jobs.  Every
// row carries a Revision that is checked on every write, so two units
// of work racing on the same row are detected when the second one
// commits.  Job acquisition uses a separate compare-and-set on the
// lock fields (see Store.LockJob).
package storage

import (
	"context"
	"hash/fnv"
	"time"
)

// Execution is the persisted form of one token of control in a
// process instance.
type Execution struct {
	// ID is the execution's identifier.
	ID string `json:"id"`

	// InstanceID is the id of the root execution of the instance.
	// The root's InstanceID is its own ID.
	InstanceID string `json:"instance"`

	// ParentID is the id of the parent execution.  Empty for the
	// root.
	ParentID string `json:"parent,omitempty"`

	// DefinitionID identifies the deployed definition that this
	// execution is running.
	DefinitionID string `json:"def"`

	// ActivityID is the current activity (if any).
	ActivityID string `json:"activity,omitempty"`

	Active     bool `json:"active,omitempty"`
	Concurrent bool `json:"concurrent,omitempty"`
	Scope      bool `json:"scope,omitempty"`
	Suspended  bool `json:"suspended,omitempty"`
	Ended      bool `json:"ended,omitempty"`

	// Variables is the local variable namespace.  Only scope
	// executions own variables.
	Variables map[string]interface{} `json:"vars,omitempty"`

	BusinessKey string `json:"key,omitempty"`

	// Revision is the revision of the row as currently persisted.
	// Zero means the row has never been persisted.
	Revision uint64 `json:"rev"`
}

// IsRoot returns true if the execution has no parent.
func (e Execution) IsRoot() bool {
	return e.ParentID == ""
}

// JobType says what a job does when it runs.
type JobType string

const (
	// JobTimer fires a timer activity or a timeout transition.
	JobTimer JobType = "timer"

	// JobAsyncContinuation continues an execution at its current
	// activity.
	JobAsyncContinuation JobType = "async-continuation"

	// JobTimerStart starts a new instance of a definition.
	JobTimerStart JobType = "timer-start"
)

// Job is a persisted record of deferred work.
type Job struct {
	ID   string  `json:"id"`
	Type JobType `json:"type"`

	ExecutionID  string `json:"exec,omitempty"`
	InstanceID   string `json:"instance,omitempty"`
	ActivityID   string `json:"activity,omitempty"`
	DefinitionID string `json:"def,omitempty"`

	// Transition, if not empty, is the transition a timer job
	// takes when it fires.
	Transition string `json:"transition,omitempty"`

	// DueAt is when the job becomes eligible.  The zero value
	// means "now".
	DueAt time.Time `json:"due,omitempty"`

	// LockOwner and LockExpiresAt form the job's lease.  A zero
	// LockExpiresAt means the job is unlocked.
	LockOwner     string    `json:"owner,omitempty"`
	LockExpiresAt time.Time `json:"lockExpires,omitempty"`

	// Retries is the number of attempts remaining.
	Retries int `json:"retries"`

	// Exception records the reason for the most recent failure.
	Exception string `json:"exception,omitempty"`

	// Dead is set once the job has exhausted its retries.
	Dead bool `json:"dead,omitempty"`

	// Recurrence is an optional cron expression.  A successful
	// run of a recurring job schedules its successor.
	Recurrence string `json:"recurrence,omitempty"`

	CreatedAt time.Time `json:"created"`

	Revision uint64 `json:"rev"`
}

// Locked reports whether the job holds an unexpired lease at the
// given time.
func (j Job) Locked(at time.Time) bool {
	return !j.LockExpiresAt.IsZero() && j.LockExpiresAt.After(at)
}

// Due reports whether the job's due time has passed.
func (j Job) Due(at time.Time) bool {
	return j.DueAt.IsZero() || !j.DueAt.After(at)
}

// Acquirable reports whether the job may be locked at the given time.
// Dead jobs and jobs without retries are never acquirable.
func (j Job) Acquirable(at time.Time) bool {
	if j.Dead || j.Retries <= 0 {
		return false
	}
	return j.Due(at) && !j.Locked(at)
}

// JobQuery selects jobs.  Zero-valued fields do not constrain the
// result.
type JobQuery struct {
	ExecutionID  string
	InstanceID   string
	ActivityID   string
	DefinitionID string
	Type         JobType

	// DeadOnly selects only dead jobs.
	DeadOnly bool

	// AcquirableAt, if not zero, selects only jobs that are
	// acquirable at that time.
	AcquirableAt time.Time

	// Partitions, if greater than one, restricts the result to
	// jobs whose id hashes into Partition.
	Partition  int
	Partitions int

	// Limit caps the number of results.  Zero means no limit.
	Limit int
}

// Matches reports whether the given job satisfies the query.
func (q JobQuery) Matches(j Job) bool {
	switch {
	case q.ExecutionID != "" && j.ExecutionID != q.ExecutionID:
		return false
	case q.InstanceID != "" && j.InstanceID != q.InstanceID:
		return false
	case q.ActivityID != "" && j.ActivityID != q.ActivityID:
		return false
	case q.DefinitionID != "" && j.DefinitionID != q.DefinitionID:
		return false
	case q.Type != "" && j.Type != q.Type:
		return false
	case q.DeadOnly && !j.Dead:
		return false
	case !q.AcquirableAt.IsZero() && !j.Acquirable(q.AcquirableAt):
		return false
	case q.Partitions > 1 && PartitionOf(j.ID, q.Partitions) != q.Partition:
		return false
	}
	return true
}

// PartitionOf maps a job id to one of n partitions.
func PartitionOf(id string, n int) int {
	if n <= 1 {
		return 0
	}
	h := fnv.New32a()
	h.Write([]byte(id))
	return int(h.Sum32() % uint32(n))
}

// InstanceQuery selects root executions.
type InstanceQuery struct {
	DefinitionID string
	BusinessKey  string

	// IncludeEnded also returns instances whose root has ended.
	IncludeEnded bool

	Limit int
}

// Matches reports whether the given root execution satisfies the
// query.
func (q InstanceQuery) Matches(e Execution) bool {
	switch {
	case !e.IsRoot():
		return false
	case q.DefinitionID != "" && e.DefinitionID != q.DefinitionID:
		return false
	case q.BusinessKey != "" && e.BusinessKey != q.BusinessKey:
		return false
	case !q.IncludeEnded && e.Ended:
		return false
	}
	return true
}

// JobLock is a compare-and-set request on a job's lock fields.
//
// The lock succeeds only if the job's current (LockOwner,
// LockExpiresAt) equal (ExpectedOwner, ExpectedExpiry) and the job is
// acquirable at At.
type JobLock struct {
	ID string

	ExpectedOwner  string
	ExpectedExpiry time.Time

	Owner string
	Until time.Time
	At    time.Time
}

// Persister commits batches of operations atomically.
type Persister interface {
	// Persist commits a batch of operations atomically.
	//
	// If any one of the operations causes an optimistic
	// concurrency conflict the entire batch is aborted and a
	// *ConflictError is returned.
	Persist(context.Context, Batch) error
}

// Store is the entity-storage contract.
type Store interface {
	Persister

	// LoadExecution returns the execution with the given id.
	LoadExecution(ctx context.Context, id string) (Execution, bool, error)

	// LoadInstance returns every execution of the given instance.
	// The root comes first; the remaining order is unspecified.
	LoadInstance(ctx context.Context, instanceID string) ([]Execution, error)

	// QueryInstances returns root executions.
	QueryInstances(ctx context.Context, q InstanceQuery) ([]Execution, error)

	// LoadJob returns the job with the given id.
	LoadJob(ctx context.Context, id string) (Job, bool, error)

	// QueryJobs returns jobs ordered by due time, then id.
	QueryJobs(ctx context.Context, q JobQuery) ([]Job, error)

	// LockJob atomically sets a job's lease.  It returns false
	// without an error when the compare-and-set fails or the job
	// no longer exists.  The returned Job carries the new
	// revision.
	LockJob(ctx context.Context, l JobLock) (Job, bool, error)

	Close() error
}

// CopyVariables makes a deep-enough copy of a variable map.  Nested
// maps and slices are copied; other values are shared.
func CopyVariables(vs map[string]interface{}) map[string]interface{} {
	if vs == nil {
		return nil
	}
	acc := make(map[string]interface{}, len(vs))
	for k, v := range vs {
		acc[k] = copyValue(v)
	}
	return acc
}

func copyValue(x interface{}) interface{} {
	switch vv := x.(type) {
	case map[string]interface{}:
		return CopyVariables(vv)
	case []interface{}:
		acc := make([]interface{}, len(vv))
		for i, y := range vv {
			acc[i] = copyValue(y)
		}
		return acc
	default:
		return x
	}
}

// CanLock reports whether the compare-and-set described by l succeeds
// against the job's current row.
func CanLock(j Job, l JobLock) bool {
	if j.LockOwner != l.ExpectedOwner || !j.LockExpiresAt.Equal(l.ExpectedExpiry) {
		return false
	}
	return j.Acquirable(l.At)
}
