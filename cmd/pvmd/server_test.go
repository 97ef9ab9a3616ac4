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

package main

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/Comcast/pvm/engine"
	"github.com/Comcast/pvm/events"
	"github.com/Comcast/pvm/storage"
	"github.com/Comcast/pvm/util/testutil"

	json "github.com/goccy/go-json"
	"github.com/google/go-cmp/cmp"
	"github.com/gorilla/websocket"
)

const reviewDef = `
name: review
version: "1"
initial: start
activities:
  start: {kind: start}
  approve: {kind: userTask}
  end: {kind: end}
transitions:
  - {source: start, target: approve}
  - {source: approve, target: end}
`

func newServer(t *testing.T) *httptest.Server {
	hub := &events.Hub{Logger: testutil.Logger(t)}
	e, err := engine.New(engine.WithLogger(testutil.Logger(t)), engine.WithPublisher(hub))
	if err != nil {
		t.Fatal(err)
	}
	s := &Server{Engine: e, Hub: hub, Logger: testutil.Logger(t)}
	ts := httptest.NewServer(s.Handler())
	t.Cleanup(func() {
		ts.Close()
		e.Close()
	})
	return ts
}

func call(t *testing.T, ts *httptest.Server, method, path, body string, wantCode int, out interface{}) {
	t.Helper()
	req, err := http.NewRequest(method, ts.URL+path, strings.NewReader(body))
	if err != nil {
		t.Fatal(err)
	}
	resp, err := ts.Client().Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	bs, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != wantCode {
		t.Fatalf("%s %s: %d %s", method, path, resp.StatusCode, bs)
	}
	if out != nil {
		if err := json.Unmarshal(bs, out); err != nil {
			t.Fatalf("%s: %v", bs, err)
		}
	}
}

func TestHTTPLifecycle(t *testing.T) {
	ts := newServer(t)

	var deployed map[string]interface{}
	call(t, ts, "POST", "/definitions", reviewDef, http.StatusCreated, &deployed)
	if deployed["id"] != "review:1" {
		t.Fatal(deployed)
	}

	var ids []string
	call(t, ts, "GET", "/definitions", "", http.StatusOK, &ids)
	if diff := cmp.Diff([]string{"review:1"}, ids); diff != "" {
		t.Fatal(diff)
	}

	var root storage.Execution
	call(t, ts, "POST", "/instances", `{"definition":"review","businessKey":"d1","vars":{"n":1}}`, http.StatusCreated, &root)
	if root.DefinitionID != "review:1" {
		t.Fatalf("%#v", root)
	}

	call(t, ts, "PUT", "/executions/"+root.ID+"/variables/note", `"hi"`, http.StatusNoContent, nil)
	call(t, ts, "POST", "/executions/"+root.ID+"/signal", `{"name":"complete","vars":{"ok":true}}`, http.StatusNoContent, nil)

	var vs map[string]interface{}
	call(t, ts, "GET", "/executions/"+root.ID+"/variables", "", http.StatusOK, &vs)
	want := map[string]interface{}{"n": 1.0, "note": "hi", "ok": true}
	if diff := cmp.Diff(want, vs); diff != "" {
		t.Fatal(diff)
	}

	var es []storage.Execution
	call(t, ts, "GET", "/instances?key=d1&ended=true", "", http.StatusOK, &es)
	if len(es) != 1 || !es[0].Ended {
		t.Fatalf("%#v", es)
	}
}

func TestHTTPErrors(t *testing.T) {
	ts := newServer(t)
	call(t, ts, "POST", "/definitions", reviewDef, http.StatusCreated, nil)

	call(t, ts, "POST", "/instances", `{"definition":"nope"}`, http.StatusNotFound, nil)
	call(t, ts, "GET", "/instances/nope", "", http.StatusNotFound, nil)
	call(t, ts, "POST", "/executions/nope/signal", `{}`, http.StatusNotFound, nil)
	call(t, ts, "POST", "/instances", `{bad`, http.StatusBadRequest, nil)
	call(t, ts, "POST", "/definitions", "name: broken\nversion: \"1\"\ninitial: nowhere\n", http.StatusBadRequest, nil)
	call(t, ts, "POST", "/jobs/nope/retry", "", http.StatusNotFound, nil)

	var root storage.Execution
	call(t, ts, "POST", "/instances", `{"definition":"review:1"}`, http.StatusCreated, &root)
	call(t, ts, "POST", "/instances/"+root.InstanceID+"/suspend", "", http.StatusNoContent, nil)
	call(t, ts, "POST", "/executions/"+root.ID+"/signal", `{}`, http.StatusConflict, nil)
	call(t, ts, "POST", "/instances/"+root.InstanceID+"/resume", "", http.StatusNoContent, nil)
	call(t, ts, "DELETE", "/instances/"+root.InstanceID+"?reason=test", "", http.StatusNoContent, nil)
	call(t, ts, "GET", "/instances/"+root.InstanceID, "", http.StatusNotFound, nil)

	var js []storage.Job
	call(t, ts, "GET", "/jobs?dead=true", "", http.StatusOK, &js)
	if len(js) != 0 {
		t.Fatal(js)
	}
}

func TestEventStream(t *testing.T) {
	ts := newServer(t)
	call(t, ts, "POST", "/definitions", reviewDef, http.StatusCreated, nil)

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/events"
	c, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatal(err)
	}
	defer c.Close()

	// The subscription is registered after the upgrade; give the
	// handler a moment.
	deadline := time.Now().Add(2 * time.Second)
	var root storage.Execution
	for {
		call(t, ts, "POST", "/instances", `{"definition":"review:1"}`, http.StatusCreated, &root)
		c.SetReadDeadline(time.Now().Add(200 * time.Millisecond))
		_, msg, err := c.ReadMessage()
		if err == nil {
			var e events.Event
			if err = json.Unmarshal(msg, &e); err != nil {
				t.Fatal(err)
			}
			if e.Type != events.InstanceStarted {
				t.Fatal(e.Type)
			}
			return
		}
		if time.Now().After(deadline) {
			t.Fatal("no events")
		}
		// A read timeout breaks the connection; reconnect.
		c.Close()
		if c, _, err = websocket.DefaultDialer.Dial(url, nil); err != nil {
			t.Fatal(err)
		}
	}
}

func TestStatus(t *testing.T) {
	if got := status(context.Canceled); got != http.StatusInternalServerError {
		t.Fatal(got)
	}
	if got := status(&storage.ConflictError{}); got != http.StatusConflict {
		t.Fatal(got)
	}
	if got := status(&storage.NotFoundError{}); got != http.StatusNotFound {
		t.Fatal(got)
	}
}
