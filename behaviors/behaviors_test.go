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

package behaviors_test

import (
	"context"
	"errors"
	"testing"

	"github.com/Comcast/pvm/behaviors"
	"github.com/Comcast/pvm/core"
	"github.com/Comcast/pvm/engine"
	"github.com/Comcast/pvm/graph"
	"github.com/Comcast/pvm/storage"
	"github.com/Comcast/pvm/util/testutil"

	"github.com/google/go-cmp/cmp"
)

func newEngine(t *testing.T, srcs ...string) *engine.Engine {
	e, err := engine.New(engine.WithLogger(testutil.Logger(t)))
	if err != nil {
		t.Fatal(err)
	}
	for _, src := range srcs {
		if _, err = e.DeployYAML(context.Background(), []byte(src)); err != nil {
			t.Fatal(err)
		}
	}
	return e
}

func TestStandardCoversEveryKind(t *testing.T) {
	bs := behaviors.Standard()
	kinds := []string{
		graph.KindStart, graph.KindEnd, graph.KindErrorEnd, graph.KindTask,
		graph.KindScript, graph.KindUserTask, graph.KindReceive,
		graph.KindExclusive, graph.KindParallel, graph.KindTimer,
		graph.KindSubprocess,
	}
	for _, k := range kinds {
		if _, have := bs[k]; !have {
			t.Errorf("no behavior for %s", k)
		}
	}
	if _, is := bs[graph.KindReceive].(core.Signaller); !is {
		t.Error("receive doesn't take signals")
	}
}

func TestErrorEnd(t *testing.T) {
	e := newEngine(t, `
name: fail
initial: start
activities:
  start: {kind: start}
  coded: {kind: errorEnd, props: {code: E42, message: "no stock"}}
transitions:
  - {source: start, target: coded}
`, `
name: plain
initial: start
activities:
  start: {kind: start}
  oops: {kind: errorEnd}
transitions:
  - {source: start, target: oops}
`)
	ctx := context.Background()

	tests := map[string]core.BusinessError{
		"fail:":  {Code: "E42", Message: "no stock"},
		"plain:": {Code: "oops"},
	}
	for def, want := range tests {
		_, err := e.Start(ctx, def, "", nil)
		var be *core.BusinessError
		if !errors.As(err, &be) {
			t.Fatalf("%s: %v", def, err)
		}
		if *be != want {
			t.Fatalf("%s: %#v", def, be)
		}
	}

	// Nothing committed.
	es, err := e.Instances(ctx, storage.InstanceQuery{IncludeEnded: true})
	if err != nil {
		t.Fatal(err)
	}
	if len(es) != 0 {
		t.Fatalf("%#v", es)
	}
}

func TestScriptMustReturnObject(t *testing.T) {
	e := newEngine(t, `
name: s
initial: a
activities:
  a: {kind: script, script: {source: "return 3;"}}
`)
	if _, err := e.Start(context.Background(), "s", "", nil); err == nil {
		t.Fatal("expected error")
	}
}

func TestReceiveCorrelates(t *testing.T) {
	ctx := context.Background()
	e := newEngine(t, `
name: shipping
initial: start
activities:
  start: {kind: start}
  shipped: {kind: receive, pattern: {order: "?order", status: "?status"}}
  end: {kind: end}
transitions:
  - {source: start, target: shipped}
  - {source: shipped, target: end}
`)
	root, err := e.Start(ctx, "shipping", "", map[string]interface{}{"order": "o1"})
	if err != nil {
		t.Fatal(err)
	}

	err = e.Signal(ctx, root.ID, &core.Signal{
		Name:    "message",
		Payload: map[string]interface{}{"order": "o2", "status": "lost"},
	})
	var u *behaviors.Uncorrelated
	if !errors.As(err, &u) || u.Activity != "shipped" {
		t.Fatalf("expected Uncorrelated, got %v", err)
	}

	if err = e.Signal(ctx, root.ID, &core.Signal{
		Name:    "message",
		Payload: map[string]interface{}{"order": "o1", "status": "shipped"},
	}); err != nil {
		t.Fatal(err)
	}
	vs, err := e.Variables(ctx, root.ID)
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff(map[string]interface{}{"order": "o1", "status": "shipped"}, vs); diff != "" {
		t.Fatal(diff)
	}
}

func TestParallelForkJoin(t *testing.T) {
	ctx := context.Background()
	e := newEngine(t, `
name: par
initial: start
activities:
  start: {kind: start}
  fork: {kind: parallel}
  a: {kind: script, script: {source: "return {a: 1};"}}
  b: {kind: script, script: {source: "return {b: 2};"}}
  c: {kind: script, script: {source: "return {c: 3};"}}
  join: {kind: parallel}
  end: {kind: end}
transitions:
  - {source: start, target: fork}
  - {source: fork, target: a}
  - {source: fork, target: b}
  - {source: fork, target: c}
  - {source: a, target: join}
  - {source: b, target: join}
  - {source: c, target: join}
  - {source: join, target: end}
`)
	root, err := e.Start(ctx, "par", "", nil)
	if err != nil {
		t.Fatal(err)
	}
	es, err := e.Instance(ctx, root.InstanceID)
	if err != nil {
		t.Fatal(err)
	}
	if len(es) != 1 || !es[0].Ended {
		t.Fatalf("%#v", es)
	}
	want := map[string]interface{}{"a": 1.0, "b": 2.0, "c": 3.0}
	if diff := cmp.Diff(want, es[0].Variables); diff != "" {
		t.Fatal(diff)
	}
}

func TestTimerWithoutTimer(t *testing.T) {
	e := newEngine(t, `
name: t
initial: a
activities:
  a: {kind: timer}
`)
	_, err := e.Start(context.Background(), "t", "", nil)
	var bd *graph.BadDefinition
	if !errors.As(err, &bd) {
		t.Fatalf("expected BadDefinition, got %v", err)
	}
}
