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

package goja

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/Comcast/pvm/core"
	"github.com/Comcast/pvm/graph"

	"github.com/google/go-cmp/cmp"
)

func exec(t *testing.T, i *Interpreter, code interface{}, vars, props map[string]interface{}) (*graph.Evaluation, error) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	compiled, err := i.Compile(ctx, code)
	if err != nil {
		t.Fatal(err)
	}
	return i.Exec(ctx, vars, props, code, compiled)
}

func TestActionsSimple(t *testing.T) {
	ev, err := exec(t, NewInterpreter(), `return {likes:"chips"};`, nil, nil)
	if err != nil {
		t.Fatal(err)
	}
	want := map[string]interface{}{"likes": "chips"}
	if diff := cmp.Diff(want, ev.Value); diff != "" {
		t.Fatal(diff)
	}
}

func TestActionsVars(t *testing.T) {
	vars := map[string]interface{}{
		"amount": 120,
		"order":  map[string]interface{}{"id": "o1"},
	}
	ev, err := exec(t, NewInterpreter(), `return amount > 100 && order.id == _.vars.order.id;`, vars, nil)
	if err != nil {
		t.Fatal(err)
	}
	if ev.Value != true {
		t.Fatalf("got %#v", ev.Value)
	}
	if vars["amount"] != 120 {
		t.Fatal("vars modified")
	}
}

func TestActionsProps(t *testing.T) {
	props := map[string]interface{}{
		"instanceId": "simpsons",
	}
	ev, err := exec(t, NewInterpreter(), `return {id:_.props.instanceId};`, nil, props)
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff(map[string]interface{}{"id": "simpsons"}, ev.Value); diff != "" {
		t.Fatal(diff)
	}
}

func TestActionsEmit(t *testing.T) {
	ev, err := exec(t, NewInterpreter(), `_.out({to:"homer"}); _.out("doh"); return null;`, nil, nil)
	if err != nil {
		t.Fatal(err)
	}
	want := []interface{}{map[string]interface{}{"to": "homer"}, "doh"}
	if diff := cmp.Diff(want, ev.Emitted); diff != "" {
		t.Fatal(diff)
	}
}

func TestActionsTimeout(t *testing.T) {
	i := NewInterpreter()
	i.Testing = true
	code := `for (;;) { sleep(10); }`

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	compiled, err := i.Compile(ctx, code)
	if err != nil {
		t.Fatal(err)
	}
	if _, err = i.Exec(ctx, nil, nil, code, compiled); err != Interrupted {
		t.Fatalf("wanted Interrupted, not %v", err)
	}
}

func TestActionsError(t *testing.T) {
	if _, err := exec(t, NewInterpreter(), `return nope.nope;`, nil, nil); err == nil {
		t.Fatal("should have complained")
	}
}

func TestActionsRaise(t *testing.T) {
	_, err := exec(t, NewInterpreter(), `_.raise("credit", "no money"); return 1;`, nil, nil)
	var be *core.BusinessError
	if !errors.As(err, &be) {
		t.Fatalf("wanted a BusinessError, not %#v", err)
	}
	if be.Code != "credit" || be.Message != "no money" {
		t.Fatal(be)
	}
}

func TestActionsRaiseCaught(t *testing.T) {
	code := `try { _.raise("credit", ""); } catch (e) { return "caught"; }`
	ev, err := exec(t, NewInterpreter(), code, nil, nil)
	if err != nil {
		t.Fatal(err)
	}
	if ev.Value != "caught" {
		t.Fatalf("got %#v", ev.Value)
	}
}

func TestActionsCronNextGood(t *testing.T) {
	ev, err := exec(t, NewInterpreter(), `return _.cronNext("* * * * *");`, nil, nil)
	if err != nil {
		t.Fatal(err)
	}
	s, is := ev.Value.(string)
	if !is {
		t.Fatalf("%#v is a %T", ev.Value, ev.Value)
	}
	if _, err := time.Parse(time.RFC3339Nano, s); err != nil {
		t.Fatal(err)
	}
}

func TestActionsCronNextBad(t *testing.T) {
	if _, err := exec(t, NewInterpreter(), `return _.cronNext("bad cron");`, nil, nil); err == nil {
		t.Fatal("should have complained")
	}
}

func TestActionsMatch(t *testing.T) {
	code := `return _.match({"order":"?id"}, {"order":"o1","x":1});`
	ev, err := exec(t, NewInterpreter(), code, nil, nil)
	if err != nil {
		t.Fatal(err)
	}
	want := []interface{}{map[string]interface{}{"?id": "o1"}}
	if diff := cmp.Diff(want, ev.Value); diff != "" {
		t.Fatal(diff)
	}
}

func TestActionsRequireMap(t *testing.T) {
	i := NewInterpreter()
	i.LibraryProvider = MakeMapLibraryProvider(map[string]string{
		"here": `function bar() { return "queso"; }`,
	})
	code := map[string]interface{}{
		"requires": []interface{}{"here"},
		"code":     `return bar();`,
	}
	ev, err := exec(t, i, code, nil, nil)
	if err != nil {
		t.Fatal(err)
	}
	if ev.Value != "queso" {
		t.Fatalf("got %#v", ev.Value)
	}
}

func TestActionsRequireFile(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "lib.js"), []byte(`function twice(x) { return 2*x; }`), 0644); err != nil {
		t.Fatal(err)
	}
	i := NewInterpreter()
	i.LibraryProvider = MakeFileLibraryProvider(dir)

	code := map[string]interface{}{
		"requires": "file://lib.js",
		"code":     `return twice(21);`,
	}
	ev, err := exec(t, i, code, nil, nil)
	if err != nil {
		t.Fatal(err)
	}
	if ev.Value != 42.0 {
		t.Fatalf("got %#v", ev.Value)
	}

	if _, err = i.ProvideLibrary(context.Background(), "file://../etc/passwd"); err == nil {
		t.Fatal("should have protested")
	}
}

func TestActionsLibraryCompileError(t *testing.T) {
	i := NewInterpreter()
	i.LibraryProvider = MakeMapLibraryProvider(map[string]string{
		"bad": `function foo() this won't compile { return 0; }`,
	})
	code := map[string]interface{}{
		"requires": "bad",
		"code":     `return foo();`,
	}
	if _, err := i.Compile(context.Background(), code); err == nil {
		t.Fatal("should have failed")
	}
}

func TestDefaultInterpreterRegistered(t *testing.T) {
	if _, have := graph.DefaultInterpreters["goja"]; !have {
		t.Fatal("goja isn't registered")
	}
}

func BenchmarkPrecompile(b *testing.B) {
	ctx := context.Background()
	i := NewInterpreter()
	code := `var n = 0; for (var j = 0; j < 100; j++) { n += j; } return n;`
	compiled, err := i.Compile(ctx, code)
	if err != nil {
		b.Fatal(err)
	}
	for n := 0; n < b.N; n++ {
		if _, err := i.Exec(ctx, nil, nil, code, compiled); err != nil {
			b.Fatal(err)
		}
	}
}
