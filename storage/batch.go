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

package storage

import (
	"context"
	"fmt"
)

// Batch is a set of operations that are committed to the store
// atomically using a Persister.
type Batch []Operation

// DuplicateOperationError occurs when a batch has more than one
// operation for the same entity.
type DuplicateOperationError struct {
	Entity string
}

func (e *DuplicateOperationError) Error() string {
	return fmt.Sprintf(
		"batch contains multiple operations for the same entity (%s)",
		e.Entity,
	)
}

// Validate returns a *DuplicateOperationError if the batch contains
// any operations that operate on the same entity.
func (b Batch) Validate() error {
	seen := make(map[string]struct{}, len(b))
	for _, op := range b {
		k := op.entityKey()
		if _, have := seen[k]; have {
			return &DuplicateOperationError{k}
		}
		seen[k] = struct{}{}
	}
	return nil
}

// MustValidate panics if Validate fails.
func (b Batch) MustValidate() {
	if err := b.Validate(); err != nil {
		panic(err.Error())
	}
}

// AcceptVisitor visits every operation in order, stopping at the
// first error.
func (b Batch) AcceptVisitor(ctx context.Context, v OperationVisitor) error {
	for _, op := range b {
		if err := op.AcceptVisitor(ctx, v); err != nil {
			return err
		}
	}
	return nil
}

// Operation is a persistence operation that can be performed as part
// of an atomic batch.
type Operation interface {
	// AcceptVisitor calls the appropriate visit method on the
	// given visitor.
	AcceptVisitor(context.Context, OperationVisitor) error

	entityKey() string
}

// SaveExecution creates or updates an execution.
//
// Execution.Revision must be the revision of the execution as
// currently persisted (zero to create it), otherwise an optimistic
// concurrency conflict occurs and the entire batch is rejected.
type SaveExecution struct {
	Execution Execution
}

// RemoveExecution removes an execution.
//
// Execution.Revision must be the revision of the execution as
// currently persisted.
type RemoveExecution struct {
	Execution Execution
}

// SaveJob creates or updates a job.
//
// Job.Revision must be the revision of the job as currently persisted
// (zero to create it).
type SaveJob struct {
	Job Job
}

// RemoveJob removes a job.
//
// Job.Revision must be the revision of the job as currently
// persisted.
type RemoveJob struct {
	Job Job
}

// OperationVisitor visits operations.
type OperationVisitor interface {
	VisitSaveExecution(context.Context, SaveExecution) error
	VisitRemoveExecution(context.Context, RemoveExecution) error
	VisitSaveJob(context.Context, SaveJob) error
	VisitRemoveJob(context.Context, RemoveJob) error
}

// AcceptVisitor calls v.VisitSaveExecution().
func (op SaveExecution) AcceptVisitor(ctx context.Context, v OperationVisitor) error {
	return v.VisitSaveExecution(ctx, op)
}

// AcceptVisitor calls v.VisitRemoveExecution().
func (op RemoveExecution) AcceptVisitor(ctx context.Context, v OperationVisitor) error {
	return v.VisitRemoveExecution(ctx, op)
}

// AcceptVisitor calls v.VisitSaveJob().
func (op SaveJob) AcceptVisitor(ctx context.Context, v OperationVisitor) error {
	return v.VisitSaveJob(ctx, op)
}

// AcceptVisitor calls v.VisitRemoveJob().
func (op RemoveJob) AcceptVisitor(ctx context.Context, v OperationVisitor) error {
	return v.VisitRemoveJob(ctx, op)
}

func (op SaveExecution) entityKey() string   { return "execution:" + op.Execution.ID }
func (op RemoveExecution) entityKey() string { return "execution:" + op.Execution.ID }
func (op SaveJob) entityKey() string         { return "job:" + op.Job.ID }
func (op RemoveJob) entityKey() string       { return "job:" + op.Job.ID }
