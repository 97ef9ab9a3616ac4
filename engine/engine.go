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

// Package engine is the public face of the process virtual machine.
//
// An Engine holds deployed definitions and runs commands against a
// store:
//
//	e, err := engine.New(engine.WithStore(store))
//	d, err := e.DeployYAML(ctx, src)
//	root, err := e.Start(ctx, d.ID(), "order-42", vars)
//	err = e.Signal(ctx, root.ID, &core.Signal{Name: "approved"})
//
// Timers and async continuations run on a jobs.Worker (see
// Engine.Worker).
package engine

import (
	"context"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/Comcast/pvm/behaviors"
	"github.com/Comcast/pvm/command"
	"github.com/Comcast/pvm/core"
	"github.com/Comcast/pvm/events"
	"github.com/Comcast/pvm/graph"
	"github.com/Comcast/pvm/interpreters"
	"github.com/Comcast/pvm/jobs"
	"github.com/Comcast/pvm/storage"
	"github.com/Comcast/pvm/storage/memory"

	"go.uber.org/multierr"
)

// DefaultRetries is the number of attempts a command gets when it
// hits optimistic conflicts.
var DefaultRetries = 3

// Engine deploys definitions and runs instances.
type Engine struct {
	store        storage.Store
	logger       *slog.Logger
	interpreters map[string]graph.Interpreter
	behaviors    core.Behaviors
	jobConfig    jobs.Config
	listeners    events.Listeners
	publishers   events.Publishers
	now          func() time.Time
	control      *core.Control
	retries      int

	repo *graph.Repository
	x    *command.Executor
}

// New makes an Engine.
func New(opts ...Option) (*Engine, error) {
	e := &Engine{
		jobConfig: jobs.DefaultConfig(),
		retries:   DefaultRetries,
		repo:      graph.NewRepository(),
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.store == nil {
		e.store = memory.NewStore()
	}
	if e.logger == nil {
		e.logger = slog.Default()
	}
	if e.interpreters == nil {
		e.interpreters = interpreters.Standard()
	}
	if e.behaviors == nil {
		e.behaviors = behaviors.Standard()
	}
	if e.now == nil {
		e.now = func() time.Time { return time.Now().UTC() }
	}
	if err := e.jobConfig.Validate(); err != nil {
		return nil, err
	}

	e.x = &command.Executor{
		Store:       e.store,
		Definitions: e.repo,
		Behaviors:   e.behaviors,
		Listeners:   e.listeners,
		Publishers:  e.publishers,
		Logger:      e.logger,
		Now:         e.now,
		Control:     e.control,
		JobRetries:  e.jobConfig.MaxRetries,
	}
	return e, nil
}

// Executor returns the command executor, for running custom Commands.
func (e *Engine) Executor() *command.Executor {
	return e.x
}

// Definitions returns the repository of deployed definitions.
func (e *Engine) Definitions() *graph.Repository {
	return e.repo
}

// Worker makes a job worker for this engine.
func (e *Engine) Worker() (*jobs.Worker, error) {
	return jobs.NewWorker(e.x, e.jobConfig, e.logger)
}

func (e *Engine) execute(ctx context.Context, cmd command.Command) (interface{}, error) {
	return command.Retrying(ctx, e.x, cmd, e.retries, nil)
}

// Deploy compiles (if needed) and deploys a definition.
//
// A definition with a Schedule gets a timer-start job, replacing the
// timer-start jobs of earlier versions.
func (e *Engine) Deploy(ctx context.Context, d *graph.Definition) error {
	if !d.Compiled() {
		if err := d.Compile(ctx, e.interpreters, false); err != nil {
			return err
		}
	}
	if err := e.repo.Deploy(d); err != nil {
		return err
	}
	e.logger.InfoContext(ctx, "deployed", "def", d.ID())

	_, err := e.execute(ctx, command.Func(func(ctx context.Context, cc *command.Context) (interface{}, error) {
		return nil, e.schedule(ctx, cc, d)
	}))
	return err
}

func (e *Engine) schedule(ctx context.Context, cc *command.Context, d *graph.Definition) error {
	js, err := cc.Store.QueryJobs(ctx, storage.JobQuery{Type: storage.JobTimerStart})
	if err != nil {
		return err
	}
	have := false
	for _, j := range js {
		if !strings.HasPrefix(j.DefinitionID, d.Name+":") {
			continue
		}
		if j.DefinitionID == d.ID() && j.Recurrence == d.Schedule {
			have = true
			continue
		}
		cc.Jobs.Remove(j)
	}
	if have || d.Schedule == "" {
		return nil
	}
	cc.Jobs.Create(storage.Job{
		Type:         storage.JobTimerStart,
		DefinitionID: d.ID(),
		DueAt:        d.NextScheduled(cc.Now()),
		Recurrence:   d.Schedule,
		Retries:      e.jobConfig.MaxRetries,
	}, cc.Now())
	return nil
}

// DeployYAML parses, compiles, and deploys a definition.
func (e *Engine) DeployYAML(ctx context.Context, src []byte) (*graph.Definition, error) {
	d, err := graph.ParseYAML(src)
	if err != nil {
		return nil, err
	}
	if err = e.Deploy(ctx, d); err != nil {
		return nil, err
	}
	return d, nil
}

// Start starts an instance of the definition with the given id
// (name:version), or the latest version if the id is just a name.
func (e *Engine) Start(ctx context.Context, definition, businessKey string, vars map[string]interface{}) (storage.Execution, error) {
	id := definition
	if !strings.Contains(id, ":") {
		d, have := e.repo.Latest(id)
		if !have {
			return storage.Execution{}, &core.UnknownDefinition{ID: id}
		}
		id = d.ID()
	}
	r, err := e.x.Execute(ctx, &command.StartInstance{
		DefinitionID: id,
		BusinessKey:  businessKey,
		Vars:         vars,
	})
	if r == nil {
		return storage.Execution{}, err
	}
	return r.(storage.Execution), err
}

// Signal delivers a signal to a waiting execution.
func (e *Engine) Signal(ctx context.Context, executionID string, sig *core.Signal) error {
	_, err := e.execute(ctx, &command.Signal{ExecutionID: executionID, Signal: sig})
	return err
}

// SetVariable sets a variable as seen from an execution.
func (e *Engine) SetVariable(ctx context.Context, executionID, name string, value interface{}) error {
	_, err := e.execute(ctx, &command.SetVariable{ExecutionID: executionID, Name: name, Value: value})
	return err
}

// Variables returns the variables visible from an execution.
func (e *Engine) Variables(ctx context.Context, executionID string) (map[string]interface{}, error) {
	r, err := e.x.Execute(ctx, command.Func(func(ctx context.Context, cc *command.Context) (interface{}, error) {
		x, err := cc.Tree.Load(ctx, executionID)
		if err != nil {
			return nil, err
		}
		return cc.Tree.Variables(x), nil
	}))
	if err != nil {
		return nil, err
	}
	return r.(map[string]interface{}), nil
}

// Cancel deletes an instance and its jobs.
func (e *Engine) Cancel(ctx context.Context, instanceID, reason string) error {
	_, err := e.execute(ctx, &command.Cancel{InstanceID: instanceID, Reason: reason})
	return err
}

// Suspend stops an instance from reacting to signals and jobs.
func (e *Engine) Suspend(ctx context.Context, instanceID string) error {
	_, err := e.execute(ctx, &command.SetSuspended{InstanceID: instanceID, Suspended: true})
	return err
}

// Resume undoes Suspend.
func (e *Engine) Resume(ctx context.Context, instanceID string) error {
	_, err := e.execute(ctx, &command.SetSuspended{InstanceID: instanceID})
	return err
}

// Instance returns the persisted executions of an instance, root
// first.
func (e *Engine) Instance(ctx context.Context, instanceID string) ([]storage.Execution, error) {
	es, err := e.store.LoadInstance(ctx, instanceID)
	if err != nil {
		return nil, err
	}
	if len(es) == 0 {
		return nil, &core.UnknownExecution{ID: instanceID}
	}
	return es, nil
}

// Instances returns root executions.
func (e *Engine) Instances(ctx context.Context, q storage.InstanceQuery) ([]storage.Execution, error) {
	return e.store.QueryInstances(ctx, q)
}

// Jobs returns jobs.
func (e *Engine) Jobs(ctx context.Context, q storage.JobQuery) ([]storage.Job, error) {
	return e.store.QueryJobs(ctx, q)
}

// DeadJobs returns the jobs that ran out of retries.
func (e *Engine) DeadJobs(ctx context.Context) ([]storage.Job, error) {
	return e.store.QueryJobs(ctx, storage.JobQuery{DeadOnly: true})
}

// RetryJob revives a dead (or failing) job with the given number of
// retries (or the configured number if retries isn't positive).
func (e *Engine) RetryJob(ctx context.Context, id string, retries int) error {
	if retries <= 0 {
		retries = e.jobConfig.MaxRetries
	}
	_, err := e.execute(ctx, command.Func(func(ctx context.Context, cc *command.Context) (interface{}, error) {
		j, have, err := cc.Store.LoadJob(ctx, id)
		if err != nil {
			return nil, err
		}
		if !have {
			return nil, &storage.NotFoundError{Kind: "job", ID: id}
		}
		j.Dead = false
		j.Retries = retries
		j.Exception = ""
		j.DueAt = cc.Now()
		j.LockOwner = ""
		j.LockExpiresAt = time.Time{}
		cc.Do(storage.SaveJob{Job: j})
		return nil, nil
	}))
	return err
}

// Close closes the store and any publishers that are io.Closers.
func (e *Engine) Close() error {
	var err error
	for _, p := range e.publishers {
		if c, is := p.(io.Closer); is {
			err = multierr.Append(err, c.Close())
		}
	}
	return multierr.Append(err, e.store.Close())
}
