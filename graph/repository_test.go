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
	"errors"
	"sync"
	"testing"

	"github.com/Comcast/pvm/graph"

	"github.com/google/go-cmp/cmp"
)

func version(t *testing.T, v string) *graph.Definition {
	return compile(t, `{name: doc, version: "`+v+`", initial: a, activities: {a: {}}}`)
}

func TestRepository(t *testing.T) {
	r := graph.NewRepository()

	d, err := graph.ParseYAML([]byte(`{name: doc, initial: a, activities: {a: {}}}`))
	if err != nil {
		t.Fatal(err)
	}
	var nc *graph.NotCompiled
	if err = r.Deploy(d); !errors.As(err, &nc) {
		t.Fatal(err)
	}

	v1, v2 := version(t, "1"), version(t, "2")
	for _, d := range []*graph.Definition{v1, v2} {
		if err := r.Deploy(d); err != nil {
			t.Fatal(err)
		}
	}
	if got, _ := r.Latest("doc"); got != v2 {
		t.Fatal(got.ID())
	}
	if got, have := r.Get("doc:1"); !have || got != v1 {
		t.Fatal(have)
	}
	if _, have := r.Get("doc:3"); have {
		t.Fatal("doc:3")
	}

	// Redeploying replaces without adding a version.
	again := version(t, "1")
	if err := r.Deploy(again); err != nil {
		t.Fatal(err)
	}
	if got, _ := r.Get("doc:1"); got != again {
		t.Fatal("not replaced")
	}
	if diff := cmp.Diff([]string{"1", "2"}, r.Versions("doc")); diff != "" {
		t.Fatal(diff)
	}

	var listed []string
	for _, d := range r.List() {
		listed = append(listed, d.ID())
	}
	if diff := cmp.Diff([]string{"doc:1", "doc:2"}, listed); diff != "" {
		t.Fatal(diff)
	}
}

func TestRepositoryConcurrentDeploy(t *testing.T) {
	r := graph.NewRepository()
	ds := []*graph.Definition{version(t, "1"), version(t, "2"), version(t, "3")}
	var wg sync.WaitGroup
	for i := 0; i < 30; i++ {
		wg.Add(1)
		go func(d *graph.Definition) {
			defer wg.Done()
			if err := r.Deploy(d); err != nil {
				t.Error(err)
			}
			r.Latest("doc")
		}(ds[i%len(ds)])
	}
	wg.Wait()
	if n := len(r.Versions("doc")); n != 3 {
		t.Fatal(n)
	}
}

func TestCanonicalize(t *testing.T) {
	type point struct {
		X int `json:"x"`
	}
	got, err := graph.Canonicalize(map[string]interface{}{
		"n":  3,
		"ps": []point{{1}},
	})
	if err != nil {
		t.Fatal(err)
	}
	want := map[string]interface{}{
		"n":  3.0,
		"ps": []interface{}{map[string]interface{}{"x": 1.0}},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatal(diff)
	}
	if _, err = graph.Canonicalize(func() {}); err == nil {
		t.Fatal("expected error")
	}
}

func TestTruthy(t *testing.T) {
	for _, x := range []interface{}{true, "x", 1, int64(1), 0.5, []interface{}{}} {
		if !graph.Truthy(x) {
			t.Errorf("%#v should be truthy", x)
		}
	}
	for _, x := range []interface{}{nil, false, "", 0, int64(0), 0.0} {
		if graph.Truthy(x) {
			t.Errorf("%#v should be falsy", x)
		}
	}
}

func TestExpression(t *testing.T) {
	s := graph.Expression("a + 1")
	if s.Source != "return (a + 1);" || s.Interpreter != "" {
		t.Fatalf("%#v", s)
	}
	if c := s.Copy(); c == s || c.Source != s.Source {
		t.Fatal("bad copy")
	}
	var nilSource *graph.Source
	if nilSource.Copy() != nil {
		t.Fatal("nil copy")
	}
}
