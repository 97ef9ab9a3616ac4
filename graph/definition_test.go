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

package graph_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/Comcast/pvm/graph"

	"github.com/google/go-cmp/cmp"

	_ "github.com/Comcast/pvm/interpreters/goja"
)

const orderDef = `
name: order
version: "1"
initial: start
schedule: "30 2 * * *"
activities:
  start: {kind: start}
  check: {kind: exclusive, default: small}
  big:
    kind: userTask
    timer: {duration: 2h, transition: escalate}
  small: {}
  boss: {kind: userTask}
  end: {kind: end}
transitions:
  - {source: start, target: check}
  - {id: big, source: check, target: big, when: "amount > 10"}
  - {id: small, source: check, target: small}
  - {source: big, target: end}
  - {id: escalate, source: big, target: boss}
  - {source: boss, target: end}
  - {source: small, target: end}
`

func compile(t *testing.T, src string) *graph.Definition {
	t.Helper()
	d, err := graph.ParseYAML([]byte(src))
	if err != nil {
		t.Fatal(err)
	}
	if err = d.Compile(context.Background(), nil, false); err != nil {
		t.Fatal(err)
	}
	return d
}

func ids(ts []*graph.Transition) []string {
	var acc []string
	for _, t := range ts {
		acc = append(acc, t.ID)
	}
	return acc
}

func TestCompile(t *testing.T) {
	d := compile(t, orderDef)

	if d.ID() != "order:1" || !d.Compiled() {
		t.Fatal(d.ID(), d.Compiled())
	}
	if diff := cmp.Diff([]string{"big", "small"}, ids(d.Outgoing("check"))); diff != "" {
		t.Fatal(diff)
	}
	if diff := cmp.Diff([]string{"big->end", "boss->end", "small->end"}, ids(d.Incoming("end"))); diff != "" {
		t.Fatal(diff)
	}

	a, err := d.Activity("small")
	if err != nil {
		t.Fatal(err)
	}
	if a.ID != "small" || a.Kind != graph.KindTask {
		t.Fatalf("%#v", a)
	}

	tr, err := d.Transition("big")
	if err != nil {
		t.Fatal(err)
	}
	if !tr.Conditional() || tr.Index != 1 {
		t.Fatalf("%#v", tr)
	}
	ev, err := tr.Condition.Exec(context.Background(), map[string]interface{}{"amount": 12.0}, nil)
	if err != nil {
		t.Fatal(err)
	}
	if ev.Value != true {
		t.Fatal(ev.Value)
	}

	var ua *graph.UnknownActivity
	if _, err = d.Activity("nope"); !errors.As(err, &ua) {
		t.Fatal(err)
	}
	var ut *graph.UnknownTransition
	if _, err = d.Transition("nope"); !errors.As(err, &ut) {
		t.Fatal(err)
	}
}

func TestExceptional(t *testing.T) {
	d := compile(t, orderDef)
	big, _ := d.Activity("big")
	if !big.Exceptional("escalate") {
		t.Fatal("timeout transition should be exceptional")
	}
	if big.Exceptional("big->end") {
		t.Fatal("ordinary transition isn't exceptional")
	}

	d = compile(t, `
name: catching
initial: sub
activities:
  sub: {kind: subprocess, start: work, catches: {credit: oops}}
  work: {in: sub}
  fix: {}
  done: {kind: end}
  tick: {kind: timer, timer: {duration: 1m, transition: "tick->done"}}
transitions:
  - {source: sub, target: done}
  - {id: oops, source: sub, target: fix}
  - {source: fix, target: done}
  - {source: tick, target: done}
`)
	sub, _ := d.Activity("sub")
	if !sub.Exceptional("oops") || sub.Exceptional("sub->done") {
		t.Fatal("catch transitions are exceptional")
	}
	tick, _ := d.Activity("tick")
	if tick.Exceptional("tick->done") {
		t.Fatal("a timer activity's own transition isn't exceptional")
	}
}

func TestCompileErrors(t *testing.T) {
	tests := []struct {
		name string
		src  string
	}{
		{"no name", `{initial: a, activities: {a: {}}}`},
		{"no activities", `{name: x, initial: a}`},
		{"bad initial", `{name: x, initial: b, activities: {a: {}}}`},
		{"bad target", `{name: x, initial: a, activities: {a: {}}, transitions: [{source: a, target: b}]}`},
		{"duplicate", `{name: x, initial: a, activities: {a: {}, b: {}}, transitions: [{source: a, target: b}, {source: a, target: b}]}`},
		{"in non-subprocess", `{name: x, initial: a, activities: {a: {}, b: {in: a}}}`},
		{"subprocess start outside", `{name: x, initial: a, activities: {a: {kind: subprocess, start: b}, b: {}}}`},
		{"bad timer", `{name: x, initial: a, activities: {a: {kind: timer, timer: {duration: soon}}}}`},
		{"empty timer", `{name: x, initial: a, activities: {a: {kind: timer, timer: {}}}}`},
		{"bad schedule", `{name: x, initial: a, schedule: "whenever", activities: {a: {}}}`},
		{"default elsewhere", `{name: x, initial: a, activities: {a: {default: "b->a"}, b: {}}, transitions: [{source: b, target: a}]}`},
		{"bad condition", `{name: x, initial: a, activities: {a: {}, b: {}}, transitions: [{source: a, target: b, when: "(("}]}`},
		{"unknown interpreter", `{name: x, initial: a, activities: {a: {kind: script, script: {interpreter: cobol, source: "x"}}}}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d, err := graph.ParseYAML([]byte(tt.src))
			if err != nil {
				t.Fatal(err)
			}
			if err = d.Compile(context.Background(), nil, false); err == nil {
				t.Fatal("expected an error")
			}
			if d.Compiled() {
				t.Fatal("compiled anyway")
			}
		})
	}
}

func TestTimerNext(t *testing.T) {
	d := compile(t, `
name: timers
initial: a
activities:
  a: {kind: timer, timer: {duration: 90s}}
  b: {kind: timer, timer: {cycle: "0 12 * * *"}}
`)
	from := time.Date(2026, 3, 4, 5, 6, 7, 0, time.UTC)
	a, _ := d.Activity("a")
	if got := a.Timer.Next(from); !got.Equal(from.Add(90 * time.Second)) {
		t.Fatal(got)
	}
	b, _ := d.Activity("b")
	if got := b.Timer.Next(from); !got.Equal(time.Date(2026, 3, 4, 12, 0, 0, 0, time.UTC)) {
		t.Fatal(got)
	}
}

func TestNextScheduled(t *testing.T) {
	from := time.Date(2026, 3, 4, 5, 6, 7, 0, time.UTC)
	d := compile(t, orderDef)
	if got := d.NextScheduled(from); !got.Equal(time.Date(2026, 3, 5, 2, 30, 0, 0, time.UTC)) {
		t.Fatal(got)
	}
	d = compile(t, `{name: x, initial: a, activities: {a: {}}}`)
	if got := d.NextScheduled(from); !got.IsZero() {
		t.Fatal(got)
	}
}

func TestParseJSONMatchesYAML(t *testing.T) {
	y, err := graph.ParseYAML([]byte(`
name: r
initial: a
activities:
  a: {kind: receive, pattern: {order: {id: "?id"}}}
`))
	if err != nil {
		t.Fatal(err)
	}
	j, err := graph.ParseJSON([]byte(`{"name":"r","initial":"a","activities":{"a":{"kind":"receive","pattern":{"order":{"id":"?id"}}}}}`))
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff(y.Activities["a"].Pattern, j.Activities["a"].Pattern); diff != "" {
		t.Fatal(diff)
	}
	if _, is := y.Activities["a"].Pattern.(map[string]interface{}); !is {
		t.Fatalf("%T", y.Activities["a"].Pattern)
	}
}

func TestReadFile(t *testing.T) {
	dir := t.TempDir()
	filename := filepath.Join(dir, "order.yaml")
	if err := os.WriteFile(filename, []byte(orderDef), 0644); err != nil {
		t.Fatal(err)
	}
	d, err := graph.ReadFile(context.Background(), filename, nil)
	if err != nil {
		t.Fatal(err)
	}
	if !d.Compiled() {
		t.Fatal("not compiled")
	}
	if _, err = graph.ReadFile(context.Background(), filepath.Join(dir, "nope.yaml"), nil); err == nil {
		t.Fatal("expected error")
	}
}

func TestAnalyze(t *testing.T) {
	d, err := graph.ParseYAML([]byte(`
name: questionable
initial: start
activities:
  start: {kind: start}
  fork: {kind: parallel}
  choose: {kind: exclusive}
  a: {}
  b: {}
  orphan: {}
  end: {kind: end}
transitions:
  - {source: start, target: fork}
  - {source: fork, target: choose, when: "x"}
  - {source: fork, target: b}
  - {source: choose, target: a, when: "y"}
  - {source: choose, target: end}
  - {source: a, target: end}
  - {source: b, target: end}
  - {source: end, target: a}
`))
	if err != nil {
		t.Fatal(err)
	}
	if _, err = graph.Analyze(d); err == nil {
		t.Fatal("expected NotCompiled")
	}
	if err = d.Compile(context.Background(), nil, false); err != nil {
		t.Fatal(err)
	}
	ps, err := graph.Analyze(d)
	if err != nil {
		t.Fatal(err)
	}
	var got []string
	for _, p := range ps {
		got = append(got, p.String())
	}
	want := []string{
		"choose: exclusive choice has no default transition",
		`end: end activity has 1 outgoing transitions`,
		`fork: condition on "fork->choose" is ignored by a parallel fork`,
		"orphan: unreachable",
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatal(diff)
	}
}
