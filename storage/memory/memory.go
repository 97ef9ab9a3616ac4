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

// Package memory is an in-memory implementation of storage.Store.
//
// It is mostly useful for tests and for the pvm command's dry runs.
package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/Comcast/pvm/storage"
)

// Store is an in-memory storage.Store.
type Store struct {
	sync.Mutex

	executions map[string]storage.Execution
	jobs       map[string]storage.Job
	closed     bool
}

// NewStore makes an empty Store.
func NewStore() *Store {
	return &Store{
		executions: make(map[string]storage.Execution),
		jobs:       make(map[string]storage.Job),
	}
}

func copyExecution(e storage.Execution) storage.Execution {
	e.Variables = storage.CopyVariables(e.Variables)
	return e
}

func (s *Store) LoadExecution(ctx context.Context, id string) (storage.Execution, bool, error) {
	s.Lock()
	defer s.Unlock()
	if s.closed {
		return storage.Execution{}, false, storage.ErrClosed
	}
	e, have := s.executions[id]
	if !have {
		return storage.Execution{}, false, nil
	}
	return copyExecution(e), true, nil
}

func (s *Store) LoadInstance(ctx context.Context, instanceID string) ([]storage.Execution, error) {
	s.Lock()
	defer s.Unlock()
	if s.closed {
		return nil, storage.ErrClosed
	}
	var acc []storage.Execution
	for _, e := range s.executions {
		if e.InstanceID == instanceID {
			acc = append(acc, copyExecution(e))
		}
	}
	sortInstance(acc)
	return acc, nil
}

// sortInstance puts the root first and orders the rest by id.
func sortInstance(es []storage.Execution) {
	sort.Slice(es, func(i, j int) bool {
		if es[i].IsRoot() != es[j].IsRoot() {
			return es[i].IsRoot()
		}
		return es[i].ID < es[j].ID
	})
}

func (s *Store) QueryInstances(ctx context.Context, q storage.InstanceQuery) ([]storage.Execution, error) {
	s.Lock()
	defer s.Unlock()
	if s.closed {
		return nil, storage.ErrClosed
	}
	var acc []storage.Execution
	for _, e := range s.executions {
		if q.Matches(e) {
			acc = append(acc, copyExecution(e))
		}
	}
	sort.Slice(acc, func(i, j int) bool { return acc[i].ID < acc[j].ID })
	if 0 < q.Limit && q.Limit < len(acc) {
		acc = acc[:q.Limit]
	}
	return acc, nil
}

func (s *Store) LoadJob(ctx context.Context, id string) (storage.Job, bool, error) {
	s.Lock()
	defer s.Unlock()
	if s.closed {
		return storage.Job{}, false, storage.ErrClosed
	}
	j, have := s.jobs[id]
	return j, have, nil
}

func (s *Store) QueryJobs(ctx context.Context, q storage.JobQuery) ([]storage.Job, error) {
	s.Lock()
	defer s.Unlock()
	if s.closed {
		return nil, storage.ErrClosed
	}
	var acc []storage.Job
	for _, j := range s.jobs {
		if q.Matches(j) {
			acc = append(acc, j)
		}
	}
	sort.Slice(acc, func(i, j int) bool {
		a, b := acc[i], acc[j]
		if !a.DueAt.Equal(b.DueAt) {
			return a.DueAt.Before(b.DueAt)
		}
		return a.ID < b.ID
	})
	if 0 < q.Limit && q.Limit < len(acc) {
		acc = acc[:q.Limit]
	}
	return acc, nil
}

func (s *Store) LockJob(ctx context.Context, l storage.JobLock) (storage.Job, bool, error) {
	s.Lock()
	defer s.Unlock()
	if s.closed {
		return storage.Job{}, false, storage.ErrClosed
	}
	j, have := s.jobs[l.ID]
	if !have || !storage.CanLock(j, l) {
		return storage.Job{}, false, nil
	}
	j.LockOwner = l.Owner
	j.LockExpiresAt = l.Until
	j.Revision++
	s.jobs[j.ID] = j
	return j, true, nil
}

// Persist validates every operation against the current rows and
// then applies them all, or none.
func (s *Store) Persist(ctx context.Context, b storage.Batch) error {
	b.MustValidate()

	s.Lock()
	defer s.Unlock()
	if s.closed {
		return storage.ErrClosed
	}

	if err := b.AcceptVisitor(ctx, &validator{s}); err != nil {
		return err
	}
	return b.AcceptVisitor(ctx, &committer{s})
}

func (s *Store) Close() error {
	s.Lock()
	s.closed = true
	s.Unlock()
	return nil
}

type validator struct {
	s *Store
}

func (v *validator) VisitSaveExecution(ctx context.Context, op storage.SaveExecution) error {
	if v.s.executions[op.Execution.ID].Revision != op.Execution.Revision {
		return &storage.ConflictError{Cause: op}
	}
	return nil
}

func (v *validator) VisitRemoveExecution(ctx context.Context, op storage.RemoveExecution) error {
	x, have := v.s.executions[op.Execution.ID]
	if !have || x.Revision != op.Execution.Revision {
		return &storage.ConflictError{Cause: op}
	}
	return nil
}

func (v *validator) VisitSaveJob(ctx context.Context, op storage.SaveJob) error {
	if v.s.jobs[op.Job.ID].Revision != op.Job.Revision {
		return &storage.ConflictError{Cause: op}
	}
	return nil
}

func (v *validator) VisitRemoveJob(ctx context.Context, op storage.RemoveJob) error {
	x, have := v.s.jobs[op.Job.ID]
	if !have || x.Revision != op.Job.Revision {
		return &storage.ConflictError{Cause: op}
	}
	return nil
}

type committer struct {
	s *Store
}

func (c *committer) VisitSaveExecution(ctx context.Context, op storage.SaveExecution) error {
	e := copyExecution(op.Execution)
	e.Revision++
	c.s.executions[e.ID] = e
	return nil
}

func (c *committer) VisitRemoveExecution(ctx context.Context, op storage.RemoveExecution) error {
	delete(c.s.executions, op.Execution.ID)
	return nil
}

func (c *committer) VisitSaveJob(ctx context.Context, op storage.SaveJob) error {
	j := op.Job
	j.Revision++
	c.s.jobs[j.ID] = j
	return nil
}

func (c *committer) VisitRemoveJob(ctx context.Context, op storage.RemoveJob) error {
	delete(c.s.jobs, op.Job.ID)
	return nil
}
