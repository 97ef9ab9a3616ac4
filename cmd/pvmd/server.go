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
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/Comcast/pvm/behaviors"
	"github.com/Comcast/pvm/core"
	"github.com/Comcast/pvm/engine"
	"github.com/Comcast/pvm/events"
	"github.com/Comcast/pvm/graph"
	"github.com/Comcast/pvm/internal/slogx"
	"github.com/Comcast/pvm/storage"

	json "github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

// Server is the daemon's HTTP surface: commands, queries, and a
// websocket event stream.
type Server struct {
	Engine *engine.Engine
	Hub    *events.Hub
	Logger *slog.Logger

	// Buffer is each websocket subscriber's event buffer.
	Buffer int

	upgrader websocket.Upgrader
}

// Handler routes requests.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /definitions", s.listDefinitions)
	mux.HandleFunc("POST /definitions", s.deploy)
	mux.HandleFunc("GET /instances", s.listInstances)
	mux.HandleFunc("POST /instances", s.start)
	mux.HandleFunc("GET /instances/{id}", s.instance)
	mux.HandleFunc("DELETE /instances/{id}", s.cancel)
	mux.HandleFunc("POST /instances/{id}/suspend", s.suspend)
	mux.HandleFunc("POST /instances/{id}/resume", s.resume)
	mux.HandleFunc("POST /executions/{id}/signal", s.signal)
	mux.HandleFunc("GET /executions/{id}/variables", s.variables)
	mux.HandleFunc("PUT /executions/{id}/variables/{name}", s.setVariable)
	mux.HandleFunc("GET /jobs", s.listJobs)
	mux.HandleFunc("POST /jobs/{id}/retry", s.retryJob)
	mux.HandleFunc("GET /events", s.events)
	return mux
}

func (s *Server) logger() *slog.Logger {
	if s.Logger == nil {
		return slog.Default()
	}
	return s.Logger
}

// status maps an error to an HTTP status.
func status(err error) int {
	var (
		ud  *core.UnknownDefinition
		ue  *core.UnknownExecution
		nf  *storage.NotFoundError
		se  *core.StateError
		su  *core.SuspendedError
		ce  *storage.ConflictError
		bd  *graph.BadDefinition
		nc  *graph.NotCompiled
		unc *behaviors.Uncorrelated
		nm  *core.NoMatchingTransition
	)
	switch {
	case errors.As(err, &ud), errors.As(err, &ue), errors.As(err, &nf):
		return http.StatusNotFound
	case errors.As(err, &se), errors.As(err, &su), errors.As(err, &ce):
		return http.StatusConflict
	case errors.As(err, &bd), errors.As(err, &nc):
		return http.StatusBadRequest
	case errors.As(err, &unc), errors.As(err, &nm):
		return http.StatusUnprocessableEntity
	}
	return http.StatusInternalServerError
}

func (s *Server) fail(w http.ResponseWriter, r *http.Request, code int, err error) {
	if code == http.StatusInternalServerError {
		s.logger().ErrorContext(r.Context(), "request failed", "path", r.URL.Path, slogx.Error(err))
	}
	s.reply(w, code, map[string]interface{}{"error": err.Error()})
}

func (s *Server) reply(w http.ResponseWriter, code int, x interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if x == nil {
		return
	}
	if err := json.NewEncoder(w).Encode(x); err != nil {
		s.logger().Warn("write", slogx.Error(err))
	}
}

func (s *Server) respond(w http.ResponseWriter, r *http.Request, x interface{}, err error) {
	if err != nil {
		s.fail(w, r, status(err), err)
		return
	}
	if x == nil {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	s.reply(w, http.StatusOK, x)
}

func decode(r *http.Request, x interface{}) error {
	bs, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil {
		return err
	}
	if len(bs) == 0 {
		return nil
	}
	return json.Unmarshal(bs, x)
}

func (s *Server) listDefinitions(w http.ResponseWriter, r *http.Request) {
	ids := []string{}
	for _, d := range s.Engine.Definitions().List() {
		ids = append(ids, d.ID())
	}
	s.respond(w, r, ids, nil)
}

func (s *Server) deploy(w http.ResponseWriter, r *http.Request) {
	bs, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil {
		s.fail(w, r, http.StatusBadRequest, err)
		return
	}
	parse := graph.ParseYAML
	if r.Header.Get("Content-Type") == "application/json" {
		parse = graph.ParseJSON
	}
	d, err := parse(bs)
	if err != nil {
		s.fail(w, r, http.StatusBadRequest, err)
		return
	}
	if err = s.Engine.Deploy(r.Context(), d); err != nil {
		s.respond(w, r, nil, err)
		return
	}
	s.reply(w, http.StatusCreated, map[string]interface{}{"id": d.ID()})
}

type startRequest struct {
	Definition  string                 `json:"definition"`
	BusinessKey string                 `json:"businessKey,omitempty"`
	Vars        map[string]interface{} `json:"vars,omitempty"`
}

func (s *Server) start(w http.ResponseWriter, r *http.Request) {
	var req startRequest
	if err := decode(r, &req); err != nil {
		s.fail(w, r, http.StatusBadRequest, err)
		return
	}
	root, err := s.Engine.Start(r.Context(), req.Definition, req.BusinessKey, req.Vars)
	if err != nil {
		s.respond(w, r, nil, err)
		return
	}
	s.reply(w, http.StatusCreated, root)
}

func (s *Server) listInstances(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	iq := storage.InstanceQuery{
		DefinitionID: q.Get("def"),
		BusinessKey:  q.Get("key"),
		IncludeEnded: q.Get("ended") == "true",
	}
	if n, err := strconv.Atoi(q.Get("limit")); err == nil {
		iq.Limit = n
	}
	es, err := s.Engine.Instances(r.Context(), iq)
	if es == nil {
		es = []storage.Execution{}
	}
	s.respond(w, r, es, err)
}

func (s *Server) instance(w http.ResponseWriter, r *http.Request) {
	es, err := s.Engine.Instance(r.Context(), r.PathValue("id"))
	s.respond(w, r, es, err)
}

func (s *Server) cancel(w http.ResponseWriter, r *http.Request) {
	reason := r.URL.Query().Get("reason")
	if reason == "" {
		reason = "cancelled"
	}
	s.respond(w, r, nil, s.Engine.Cancel(r.Context(), r.PathValue("id"), reason))
}

func (s *Server) suspend(w http.ResponseWriter, r *http.Request) {
	s.respond(w, r, nil, s.Engine.Suspend(r.Context(), r.PathValue("id")))
}

func (s *Server) resume(w http.ResponseWriter, r *http.Request) {
	s.respond(w, r, nil, s.Engine.Resume(r.Context(), r.PathValue("id")))
}

func (s *Server) signal(w http.ResponseWriter, r *http.Request) {
	sig := &core.Signal{}
	if err := decode(r, sig); err != nil {
		s.fail(w, r, http.StatusBadRequest, err)
		return
	}
	s.respond(w, r, nil, s.Engine.Signal(r.Context(), r.PathValue("id"), sig))
}

func (s *Server) variables(w http.ResponseWriter, r *http.Request) {
	vs, err := s.Engine.Variables(r.Context(), r.PathValue("id"))
	s.respond(w, r, vs, err)
}

func (s *Server) setVariable(w http.ResponseWriter, r *http.Request) {
	var x interface{}
	if err := decode(r, &x); err != nil {
		s.fail(w, r, http.StatusBadRequest, err)
		return
	}
	s.respond(w, r, nil, s.Engine.SetVariable(r.Context(), r.PathValue("id"), r.PathValue("name"), x))
}

func (s *Server) listJobs(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	jq := storage.JobQuery{
		InstanceID: q.Get("instance"),
		Type:       storage.JobType(q.Get("type")),
		DeadOnly:   q.Get("dead") == "true",
	}
	js, err := s.Engine.Jobs(r.Context(), jq)
	if js == nil {
		js = []storage.Job{}
	}
	s.respond(w, r, js, err)
}

func (s *Server) retryJob(w http.ResponseWriter, r *http.Request) {
	n, _ := strconv.Atoi(r.URL.Query().Get("retries"))
	s.respond(w, r, nil, s.Engine.RetryJob(r.Context(), r.PathValue("id"), n))
}

// events streams committed events to a websocket client.  The
// "instance" query parameter, if given, filters by instance.
func (s *Server) events(w http.ResponseWriter, r *http.Request) {
	c, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger().Warn("upgrade", slogx.Error(err))
		return
	}
	defer c.Close()

	instance := r.URL.Query().Get("instance")
	id := uuid.NewString()
	buffer := s.Buffer
	if buffer <= 0 {
		buffer = 64
	}
	es, unsubscribe := s.Hub.Subscribe(id, buffer)
	defer unsubscribe()

	s.logger().Info("subscriber connected", "subscriber", id, "remote", r.RemoteAddr)

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	// Reads only notice the client going away.
	go func() {
		defer cancel()
		for {
			if _, _, err := c.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			s.logger().Info("subscriber gone", "subscriber", id)
			return
		case e, ok := <-es:
			if !ok {
				return
			}
			if instance != "" && e.InstanceID != instance {
				continue
			}
			js, err := json.Marshal(e)
			if err != nil {
				s.logger().Warn("marshal event", slogx.Error(err))
				continue
			}
			if err = c.WriteMessage(websocket.TextMessage, js); err != nil {
				s.logger().Info("write", "subscriber", id, slogx.Error(err))
				return
			}
		}
	}
}
