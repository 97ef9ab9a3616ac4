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

// Package storagetest is a conformance suite for storage.Store
// implementations.
package storagetest

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/Comcast/pvm/storage"

	"github.com/google/go-cmp/cmp"
)

// Run runs the suite.  The given function must return a new, empty,
// open Store.
func Run(t *testing.T, open func(t *testing.T) storage.Store) {
	tests := []struct {
		name string
		f    func(*testing.T, storage.Store)
	}{
		{"executions", testExecutions},
		{"conflicts", testConflicts},
		{"rollback", testRollback},
		{"jobs-order", testJobsOrder},
		{"lock", testLock},
		{"concurrent-lock", testConcurrentLock},
		{"instances", testInstances},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			s := open(t)
			defer s.Close()
			tc.f(t, s)
		})
	}
}

var t0 = time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

func persist(t *testing.T, s storage.Store, ops ...storage.Operation) {
	t.Helper()
	if err := s.Persist(context.Background(), storage.Batch(ops)); err != nil {
		t.Fatal(err)
	}
}

func testExecutions(t *testing.T, s storage.Store) {
	ctx := context.Background()
	root := storage.Execution{
		ID:           "r",
		InstanceID:   "r",
		DefinitionID: "d:1",
		ActivityID:   "a",
		Active:       true,
		Scope:        true,
		Variables:    map[string]interface{}{"x": 1.0},
	}
	child := storage.Execution{
		ID:           "c",
		InstanceID:   "r",
		ParentID:     "r",
		DefinitionID: "d:1",
		Concurrent:   true,
	}
	persist(t, s, storage.SaveExecution{Execution: root}, storage.SaveExecution{Execution: child})

	got, have, err := s.LoadExecution(ctx, "r")
	if err != nil {
		t.Fatal(err)
	}
	if !have {
		t.Fatal("root not found")
	}
	root.Revision = 1
	if diff := cmp.Diff(root, got); diff != "" {
		t.Fatal(diff)
	}

	es, err := s.LoadInstance(ctx, "r")
	if err != nil {
		t.Fatal(err)
	}
	if len(es) != 2 || es[0].ID != "r" {
		t.Fatalf("bad instance %#v", es)
	}

	child.Revision = 1
	persist(t, s, storage.RemoveExecution{Execution: child})
	if _, have, _ = s.LoadExecution(ctx, "c"); have {
		t.Fatal("child not removed")
	}
	if es, _ = s.LoadInstance(ctx, "r"); len(es) != 1 {
		t.Fatalf("expected 1 execution, got %d", len(es))
	}
}

func testConflicts(t *testing.T, s storage.Store) {
	e := storage.Execution{ID: "e", InstanceID: "e"}
	persist(t, s, storage.SaveExecution{Execution: e})

	// Stale revision.
	err := s.Persist(context.Background(), storage.Batch{storage.SaveExecution{Execution: e}})
	if !storage.IsConflict(err) {
		t.Fatalf("expected conflict, got %v", err)
	}

	j := storage.Job{ID: "j", Retries: 1}
	err = s.Persist(context.Background(), storage.Batch{storage.RemoveJob{Job: j}})
	if !storage.IsConflict(err) {
		t.Fatalf("expected conflict removing a missing job, got %v", err)
	}
}

func testRollback(t *testing.T, s storage.Store) {
	ctx := context.Background()
	persist(t, s, storage.SaveExecution{Execution: storage.Execution{ID: "old", InstanceID: "old"}})

	err := s.Persist(ctx, storage.Batch{
		storage.SaveExecution{Execution: storage.Execution{ID: "new", InstanceID: "new"}},
		storage.SaveJob{Job: storage.Job{ID: "j", Retries: 3}},
		// Conflicts since "old" is at revision 1.
		storage.SaveExecution{Execution: storage.Execution{ID: "old", InstanceID: "old"}},
	})
	if !storage.IsConflict(err) {
		t.Fatalf("expected conflict, got %v", err)
	}
	if _, have, _ := s.LoadExecution(ctx, "new"); have {
		t.Fatal("partial batch persisted an execution")
	}
	if _, have, _ := s.LoadJob(ctx, "j"); have {
		t.Fatal("partial batch persisted a job")
	}
}

func testJobsOrder(t *testing.T, s storage.Store) {
	ctx := context.Background()
	persist(t, s,
		storage.SaveJob{Job: storage.Job{ID: "late", Retries: 1, DueAt: t0.Add(time.Hour)}},
		storage.SaveJob{Job: storage.Job{ID: "now", Retries: 1}},
		storage.SaveJob{Job: storage.Job{ID: "soon", Retries: 1, DueAt: t0}},
		storage.SaveJob{Job: storage.Job{ID: "dead", Retries: 0, Dead: true}},
	)

	js, err := s.QueryJobs(ctx, storage.JobQuery{AcquirableAt: t0})
	if err != nil {
		t.Fatal(err)
	}
	var ids []string
	for _, j := range js {
		ids = append(ids, j.ID)
	}
	if diff := cmp.Diff([]string{"now", "soon"}, ids); diff != "" {
		t.Fatal(diff)
	}

	js, err = s.QueryJobs(ctx, storage.JobQuery{DeadOnly: true})
	if err != nil {
		t.Fatal(err)
	}
	if len(js) != 1 || js[0].ID != "dead" {
		t.Fatalf("bad dead jobs %#v", js)
	}

	js, _ = s.QueryJobs(ctx, storage.JobQuery{Limit: 2})
	if len(js) != 2 {
		t.Fatalf("limit ignored: %d", len(js))
	}

	// Moving a job's due time moves it in the order.
	late, _, _ := s.LoadJob(ctx, "late")
	late.DueAt = time.Time{}
	persist(t, s, storage.SaveJob{Job: late})
	if js, _ = s.QueryJobs(ctx, storage.JobQuery{AcquirableAt: t0}); len(js) != 3 {
		t.Fatalf("expected 3 acquirable, got %d", len(js))
	}
}

func testLock(t *testing.T, s storage.Store) {
	ctx := context.Background()
	persist(t, s, storage.SaveJob{Job: storage.Job{ID: "j", Retries: 1}})

	l := storage.JobLock{ID: "j", Owner: "w1", Until: t0.Add(time.Minute), At: t0}
	j, ok, err := s.LockJob(ctx, l)
	if err != nil {
		t.Fatal(err)
	}
	if !ok {
		t.Fatal("lock failed")
	}
	if j.LockOwner != "w1" || j.Revision != 2 {
		t.Fatalf("bad locked job %#v", j)
	}

	// Same expectation again loses.
	l.Owner = "w2"
	if _, ok, _ = s.LockJob(ctx, l); ok {
		t.Fatal("second lock succeeded")
	}

	// After expiry, a worker that has seen the current lease wins.
	l.ExpectedOwner = j.LockOwner
	l.ExpectedExpiry = j.LockExpiresAt
	l.At = t0.Add(2 * time.Minute)
	l.Until = l.At.Add(time.Minute)
	if j, ok, _ = s.LockJob(ctx, l); !ok || j.LockOwner != "w2" {
		t.Fatalf("expired lease not reacquired: %v %#v", ok, j)
	}

	if _, ok, _ = s.LockJob(ctx, storage.JobLock{ID: "missing", Owner: "w", At: t0}); ok {
		t.Fatal("locked a missing job")
	}
}

func testConcurrentLock(t *testing.T, s storage.Store) {
	ctx := context.Background()
	const jobs, workers = 20, 4
	for i := 0; i < jobs; i++ {
		persist(t, s, storage.SaveJob{Job: storage.Job{ID: string(rune('a' + i)), Retries: 1}})
	}

	var (
		mu  sync.Mutex
		won = make(map[string]string)
		wg  sync.WaitGroup
	)
	for w := 0; w < workers; w++ {
		owner := string(rune('A' + w))
		wg.Add(1)
		go func() {
			defer wg.Done()
			js, err := s.QueryJobs(ctx, storage.JobQuery{AcquirableAt: t0})
			if err != nil {
				t.Error(err)
				return
			}
			for _, j := range js {
				l := storage.JobLock{
					ID:             j.ID,
					ExpectedOwner:  j.LockOwner,
					ExpectedExpiry: j.LockExpiresAt,
					Owner:          owner,
					Until:          t0.Add(time.Minute),
					At:             t0,
				}
				if _, ok, err := s.LockJob(ctx, l); err != nil {
					t.Error(err)
				} else if ok {
					mu.Lock()
					if prev, have := won[j.ID]; have {
						t.Errorf("job %s locked by %s and %s", j.ID, prev, owner)
					}
					won[j.ID] = owner
					mu.Unlock()
				}
			}
		}()
	}
	wg.Wait()

	if len(won) != jobs {
		t.Fatalf("expected %d locked jobs, got %d", jobs, len(won))
	}
}

func testInstances(t *testing.T, s storage.Store) {
	persist(t, s,
		storage.SaveExecution{Execution: storage.Execution{ID: "a", InstanceID: "a", DefinitionID: "d:1", BusinessKey: "k1"}},
		storage.SaveExecution{Execution: storage.Execution{ID: "b", InstanceID: "b", DefinitionID: "d:1", Ended: true}},
		storage.SaveExecution{Execution: storage.Execution{ID: "c", InstanceID: "c", DefinitionID: "e:1"}},
		storage.SaveExecution{Execution: storage.Execution{ID: "a1", InstanceID: "a", ParentID: "a", DefinitionID: "d:1"}},
	)
	es, err := s.QueryInstances(context.Background(), storage.InstanceQuery{DefinitionID: "d:1"})
	if err != nil {
		t.Fatal(err)
	}
	if len(es) != 1 || es[0].ID != "a" {
		t.Fatalf("bad instances %#v", es)
	}
	es, _ = s.QueryInstances(context.Background(), storage.InstanceQuery{DefinitionID: "d:1", IncludeEnded: true})
	if len(es) != 2 {
		t.Fatalf("expected 2 instances, got %d", len(es))
	}
	es, _ = s.QueryInstances(context.Background(), storage.InstanceQuery{BusinessKey: "k1"})
	if len(es) != 1 {
		t.Fatalf("expected 1 instance by key, got %d", len(es))
	}
}
