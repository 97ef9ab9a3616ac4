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
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/Comcast/pvm/graph"
	"github.com/Comcast/pvm/storage"
	"github.com/Comcast/pvm/storage/memory"

	"github.com/google/go-cmp/cmp"
)

func counter(prefix string) func() string {
	n := 0
	return func() string {
		n++
		return fmt.Sprintf("%s%d", prefix, n)
	}
}

func testTree(t *testing.T) (*Tree, *JobLedger, storage.Store) {
	store := memory.NewStore()
	jobs := NewJobLedger(store)
	jobs.NewID = counter("j")
	tree := NewTree(store, jobs)
	tree.NewID = counter("e")
	return tree, jobs, store
}

func testDef() *graph.Definition {
	return &graph.Definition{Name: "d", Version: "1", Initial: "a"}
}

func TestTreeVariables(t *testing.T) {
	tree, _, _ := testTree(t)
	root, err := tree.CreateRoot(testDef(), "bk", map[string]interface{}{"x": 1})
	if err != nil {
		t.Fatal(err)
	}
	scope, _ := tree.CreateChild(root, false)
	branch, _ := tree.CreateChild(scope, true)

	// Existing names are updated where they live.
	if err = tree.SetVariable(branch, "x", 2); err != nil {
		t.Fatal(err)
	}
	// New names land in the nearest scope.
	if err = tree.SetVariable(branch, "y", "local"); err != nil {
		t.Fatal(err)
	}

	if diff := cmp.Diff(map[string]interface{}{"x": 2.0}, root.Variables); diff != "" {
		t.Fatal(diff)
	}
	if diff := cmp.Diff(map[string]interface{}{"y": "local"}, scope.Variables); diff != "" {
		t.Fatal(diff)
	}
	if 0 < len(branch.Variables) {
		t.Fatal(branch.Variables)
	}
	want := map[string]interface{}{"x": 2.0, "y": "local"}
	if diff := cmp.Diff(want, tree.Variables(branch)); diff != "" {
		t.Fatal(diff)
	}
	if _, have := tree.Variable(root, "y"); have {
		t.Fatal("root sees a scoped variable")
	}
}

func TestTreeEndLastChild(t *testing.T) {
	tree, _, _ := testTree(t)
	root, _ := tree.CreateRoot(testDef(), "", nil)
	a, _ := tree.CreateChild(root, true)
	b, _ := tree.CreateChild(root, true)

	p, err := tree.End(a)
	if err != nil || p != nil {
		t.Fatal(p, err)
	}
	if p, err = tree.End(b); err != nil || p != root {
		t.Fatal(p, err)
	}

	_, err = tree.End(b)
	var se *StateError
	if !errors.As(err, &se) {
		t.Fatalf("ending twice: %v", err)
	}
}

func TestTreeDeleteCascades(t *testing.T) {
	tree, jobs, _ := testTree(t)
	ctx := context.Background()
	root, _ := tree.CreateRoot(testDef(), "", nil)
	child, _ := tree.CreateChild(root, false)
	grandchild, _ := tree.CreateChild(child, true)
	jobs.Create(storage.Job{ExecutionID: grandchild.ID, InstanceID: root.ID}, time.Now())

	if err := tree.Delete(ctx, child, "testing"); err != nil {
		t.Fatal(err)
	}
	if !grandchild.Deleted() || !child.Deleted() || root.Deleted() {
		t.Fatal("bad cascade")
	}
	if js, _ := jobs.ForExecution(ctx, grandchild.ID); len(js) != 0 {
		t.Fatal(js)
	}
	if cs := tree.Children(root); len(cs) != 0 {
		t.Fatal(cs)
	}
	if _, err := tree.CreateChild(child, false); err == nil {
		t.Fatal("created a child of a deleted execution")
	}
	// Never persisted, so nothing to flush but the root.
	if diff := cmp.Diff(1, len(tree.Flush())); diff != "" {
		t.Fatal(diff)
	}
}

func TestTreeFlushAndReload(t *testing.T) {
	tree, jobs, store := testTree(t)
	ctx := context.Background()
	root, _ := tree.CreateRoot(testDef(), "bk", nil)
	child, _ := tree.CreateChild(root, true)
	jobs.Create(storage.Job{ExecutionID: child.ID, InstanceID: root.ID, ActivityID: "a", Retries: 1}, time.Now())

	b := append(tree.Flush(), jobs.Flush()...)
	if len(b) != 3 {
		t.Fatalf("batch: %#v", b)
	}
	if err := store.Persist(ctx, b); err != nil {
		t.Fatal(err)
	}

	// A fresh unit of work.
	jobs = NewJobLedger(store)
	tree = NewTree(store, jobs)
	c, err := tree.Load(ctx, child.ID)
	if err != nil {
		t.Fatal(err)
	}
	if tree.Root(c).BusinessKey != "bk" {
		t.Fatal("root not loaded")
	}
	if 0 < len(tree.Flush()) {
		t.Fatal("unchanged executions flushed")
	}

	if err = jobs.RemoveForActivity(ctx, c.ID, "a"); err != nil {
		t.Fatal(err)
	}
	if err = tree.Delete(ctx, c, "testing"); err != nil {
		t.Fatal(err)
	}
	b = append(tree.Flush(), jobs.Flush()...)
	if len(b) != 2 {
		t.Fatalf("batch: %#v", b)
	}
	if err = store.Persist(ctx, b); err != nil {
		t.Fatal(err)
	}
	es, _ := store.LoadInstance(ctx, root.ID)
	if len(es) != 1 {
		t.Fatal(es)
	}
}

func TestAgendaFIFO(t *testing.T) {
	var a Agenda
	a.Plan(Operation{Kind: ContinueExecution, ExecutionID: "1"})
	a.Plan(Operation{Kind: EndExecution, ExecutionID: "2"})
	if a.Len() != 2 {
		t.Fatal(a.Len())
	}
	for _, want := range []string{"1", "2"} {
		op, ok := a.Next()
		if !ok || op.ExecutionID != want {
			t.Fatal(op, ok)
		}
	}
	if _, ok := a.Next(); ok {
		t.Fatal("agenda not empty")
	}
}

func TestJobLedgerUpdate(t *testing.T) {
	_, jobs, _ := testTree(t)
	if err := jobs.Update(storage.Job{ID: "nope"}); err == nil {
		t.Fatal("updated an unknown job")
	}
	j := jobs.Create(storage.Job{ExecutionID: "e"}, time.Now())
	j.Retries = 7
	if err := jobs.Update(j); err != nil {
		t.Fatal(err)
	}
	got, have := jobs.Get(j.ID)
	if !have || got.Retries != 7 {
		t.Fatal(got, have)
	}
	jobs.Remove(j)
	jobs.Remove(j)
	if _, have = jobs.Get(j.ID); have {
		t.Fatal("removed job still there")
	}
	if b := jobs.Flush(); len(b) != 0 {
		t.Fatalf("flushed %#v", b)
	}
}
