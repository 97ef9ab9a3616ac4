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
	"reflect"

	"github.com/Comcast/pvm/graph"
	"github.com/Comcast/pvm/storage"

	"github.com/google/uuid"
)

// Execution is one token of control in a running instance.
//
// Executions are owned by a Tree.  Parents and children refer to each
// other by id only; the Tree resolves those ids.
type Execution struct {
	storage.Execution

	deleted  bool
	snapshot *storage.Execution
}

// Record returns a copy of the execution's persisted form.
func (e *Execution) Record() storage.Execution {
	r := e.Execution
	r.Variables = storage.CopyVariables(e.Variables)
	return r
}

// Deleted reports whether the execution has been deleted in this unit
// of work.
func (e *Execution) Deleted() bool {
	return e.deleted
}

// Waiting reports whether the execution is a live token sitting at
// an activity.
func (e *Execution) Waiting() bool {
	return e.Active && !e.Ended && !e.deleted
}

// Tree is the arena holding the executions that one unit of work has
// loaded or created.
//
// A Tree is not safe for concurrent use.  It lives for one unit of
// work; its mutations reach the store via Flush.
type Tree struct {
	store storage.Store
	jobs  *JobLedger

	executions map[string]*Execution
	order      []string
	instances  map[string]bool

	// NewID makes execution ids.  Defaults to uuid.NewString.
	NewID func() string
}

// NewTree makes a Tree.  The JobLedger receives job removals caused by
// deletes.
func NewTree(store storage.Store, jobs *JobLedger) *Tree {
	return &Tree{
		store:      store,
		jobs:       jobs,
		executions: make(map[string]*Execution),
		instances:  make(map[string]bool),
		NewID:      uuid.NewString,
	}
}

func (t *Tree) add(e *Execution) {
	t.executions[e.ID] = e
	t.order = append(t.order, e.ID)
}

// CreateRoot creates the root execution of a new instance at the
// definition's initial activity.
func (t *Tree) CreateRoot(d *graph.Definition, businessKey string, vars map[string]interface{}) (*Execution, error) {
	id := t.NewID()
	vs := make(map[string]interface{}, len(vars))
	for k, v := range vars {
		x, err := graph.Canonicalize(v)
		if err != nil {
			return nil, err
		}
		vs[k] = x
	}
	e := &Execution{
		Execution: storage.Execution{
			ID:           id,
			InstanceID:   id,
			DefinitionID: d.ID(),
			ActivityID:   d.Initial,
			Active:       true,
			Scope:        true,
			Variables:    vs,
			BusinessKey:  businessKey,
		},
	}
	t.add(e)
	t.instances[id] = true
	return e, nil
}

// CreateChild creates a child of the given execution.  Concurrent
// children are branches of a fork; others are scopes.
func (t *Tree) CreateChild(parent *Execution, concurrent bool) (*Execution, error) {
	if err := t.check(parent, "create child"); err != nil {
		return nil, err
	}
	e := &Execution{
		Execution: storage.Execution{
			ID:           t.NewID(),
			InstanceID:   parent.InstanceID,
			ParentID:     parent.ID,
			DefinitionID: parent.DefinitionID,
			ActivityID:   parent.ActivityID,
			Active:       true,
			Concurrent:   concurrent,
			Scope:        !concurrent,
			Suspended:    parent.Suspended,
		},
	}
	t.add(e)
	return e, nil
}

func (t *Tree) check(e *Execution, op string) error {
	switch {
	case e == nil:
		return &StateError{Op: op, Problem: "no execution"}
	case e.deleted:
		return &StateError{e.ID, op, "deleted"}
	case e.Ended:
		return &StateError{e.ID, op, "ended"}
	}
	return nil
}

// Load returns the execution with the given id, loading its whole
// instance if necessary.
func (t *Tree) Load(ctx context.Context, id string) (*Execution, error) {
	if e, have := t.executions[id]; have {
		if e.deleted {
			return nil, &StateError{id, "load", "deleted"}
		}
		return e, nil
	}
	r, have, err := t.store.LoadExecution(ctx, id)
	if err != nil {
		return nil, err
	}
	if !have {
		return nil, &UnknownExecution{id}
	}
	if err = t.LoadInstance(ctx, r.InstanceID); err != nil {
		return nil, err
	}
	e, have := t.executions[id]
	if !have {
		return nil, &UnknownExecution{id}
	}
	return e, nil
}

// LoadInstance loads every execution of an instance into the arena.
// Executions already in the arena are left alone.
func (t *Tree) LoadInstance(ctx context.Context, instanceID string) error {
	if t.instances[instanceID] {
		return nil
	}
	rs, err := t.store.LoadInstance(ctx, instanceID)
	if err != nil {
		return err
	}
	if len(rs) == 0 {
		return &UnknownExecution{instanceID}
	}
	for _, r := range rs {
		if _, have := t.executions[r.ID]; have {
			continue
		}
		snap := r
		snap.Variables = storage.CopyVariables(r.Variables)
		t.add(&Execution{Execution: r, snapshot: &snap})
	}
	t.instances[instanceID] = true
	return nil
}

// Root returns the root of the given execution's instance.
func (t *Tree) Root(e *Execution) *Execution {
	return t.executions[e.InstanceID]
}

// Parent returns the parent (nil for the root).
func (t *Tree) Parent(e *Execution) *Execution {
	if e.ParentID == "" {
		return nil
	}
	return t.executions[e.ParentID]
}

// Children returns the live children in creation order.
func (t *Tree) Children(e *Execution) []*Execution {
	var acc []*Execution
	for _, id := range t.order {
		c := t.executions[id]
		if c.ParentID == e.ID && !c.deleted {
			acc = append(acc, c)
		}
	}
	return acc
}

// Instance returns the live executions of an instance in creation
// order, root first.
func (t *Tree) Instance(instanceID string) []*Execution {
	var acc []*Execution
	for _, id := range t.order {
		e := t.executions[id]
		if e.InstanceID == instanceID && !e.deleted {
			acc = append(acc, e)
		}
	}
	return acc
}

// End marks the execution inactive and ended.  If that leaves its
// parent with no unfinished children, End returns the parent, which
// the caller should end in turn.
func (t *Tree) End(e *Execution) (*Execution, error) {
	if err := t.check(e, "end"); err != nil {
		return nil, err
	}
	e.Active = false
	e.Ended = true
	p := t.Parent(e)
	if p == nil {
		return nil, nil
	}
	for _, c := range t.Children(p) {
		if !c.Ended {
			return nil, nil
		}
	}
	return p, nil
}

// Delete removes an execution and its descendants, children first.
// Their jobs are removed from the JobLedger in the same unit of work.
func (t *Tree) Delete(ctx context.Context, e *Execution, reason string) error {
	if e == nil || e.deleted {
		return &StateError{Op: "delete", ExecutionID: idOf(e), Problem: "already deleted"}
	}
	for _, c := range t.Children(e) {
		if err := t.Delete(ctx, c, reason); err != nil {
			return err
		}
	}
	if t.jobs != nil {
		if err := t.jobs.RemoveForExecution(ctx, e.ID); err != nil {
			return err
		}
	}
	e.Active = false
	e.deleted = true
	return nil
}

// DeleteChildren deletes every descendant of the execution.
func (t *Tree) DeleteChildren(ctx context.Context, e *Execution, reason string) error {
	for _, c := range t.Children(e) {
		if err := t.Delete(ctx, c, reason); err != nil {
			return err
		}
	}
	return nil
}

func idOf(e *Execution) string {
	if e == nil {
		return ""
	}
	return e.ID
}

// Variable reads a variable, walking from the execution up through
// its ancestors.
func (t *Tree) Variable(e *Execution, name string) (interface{}, bool) {
	for x := e; x != nil; x = t.Parent(x) {
		if v, have := x.Variables[name]; have {
			return v, true
		}
	}
	return nil, false
}

// Variables returns the merged view: nearer scopes shadow farther
// ones.
func (t *Tree) Variables(e *Execution) map[string]interface{} {
	var chain []*Execution
	for x := e; x != nil; x = t.Parent(x) {
		chain = append(chain, x)
	}
	acc := make(map[string]interface{})
	for i := len(chain) - 1; 0 <= i; i-- {
		for k, v := range chain[i].Variables {
			acc[k] = v
		}
	}
	return acc
}

// SetVariable writes a variable into the nearest ancestor (or the
// execution itself) that already declares it.  Otherwise the variable
// is created on the nearest scope, since only scopes own variables.
func (t *Tree) SetVariable(e *Execution, name string, value interface{}) error {
	if err := t.check(e, "set variable"); err != nil {
		return err
	}
	v, err := graph.Canonicalize(value)
	if err != nil {
		return err
	}
	var scope *Execution
	for x := e; x != nil; x = t.Parent(x) {
		if _, have := x.Variables[name]; have {
			x.Variables[name] = v
			return nil
		}
		if scope == nil && x.Scope {
			scope = x
		}
	}
	if scope == nil {
		scope = e
	}
	if scope.Variables == nil {
		scope.Variables = make(map[string]interface{})
	}
	scope.Variables[name] = v
	return nil
}

// Flush returns the operations that persist the arena's changes.
func (t *Tree) Flush() storage.Batch {
	var b storage.Batch
	for _, id := range t.order {
		e := t.executions[id]
		switch {
		case e.deleted && e.snapshot != nil:
			b = append(b, storage.RemoveExecution{Execution: *e.snapshot})
		case e.deleted:
		case e.snapshot == nil || !reflect.DeepEqual(e.Execution, *e.snapshot):
			b = append(b, storage.SaveExecution{Execution: e.Record()})
		}
	}
	return b
}
