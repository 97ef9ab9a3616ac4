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

package command

import (
	"context"

	"github.com/Comcast/pvm/core"
	"github.com/Comcast/pvm/graph"
	"github.com/Comcast/pvm/storage"
)

// StartInstance starts a new instance of a definition.  The result is
// the root storage.Execution as of the end of the command.
type StartInstance struct {
	DefinitionID string
	BusinessKey  string
	Vars         map[string]interface{}
}

func (c *StartInstance) CommandName() string { return "start" }

func (c *StartInstance) Execute(ctx context.Context, cc *Context) (interface{}, error) {
	d, err := cc.Definition(c.DefinitionID)
	if err != nil {
		return nil, err
	}
	root, err := cc.Interpreter().Start(ctx, d, c.BusinessKey, c.Vars)
	if err != nil {
		return nil, err
	}
	return root.Record(), nil
}

// Signal delivers a signal to a waiting execution.
type Signal struct {
	ExecutionID string
	Signal      *core.Signal
}

func (c *Signal) CommandName() string { return "signal" }

func (c *Signal) Execute(ctx context.Context, cc *Context) (interface{}, error) {
	return nil, cc.Interpreter().Signal(ctx, c.ExecutionID, c.Signal)
}

// SetVariable sets a variable as seen from an execution.
type SetVariable struct {
	ExecutionID string
	Name        string
	Value       interface{}
}

func (c *SetVariable) CommandName() string { return "set-variable" }

func (c *SetVariable) Execute(ctx context.Context, cc *Context) (interface{}, error) {
	return nil, cc.Interpreter().SetVariable(ctx, c.ExecutionID, c.Name, c.Value)
}

// Cancel deletes an instance.
type Cancel struct {
	InstanceID string
	Reason     string
}

func (c *Cancel) CommandName() string { return "cancel" }

func (c *Cancel) Execute(ctx context.Context, cc *Context) (interface{}, error) {
	return nil, cc.Interpreter().Cancel(ctx, c.InstanceID, c.Reason)
}

// SetSuspended suspends or resumes an instance.
type SetSuspended struct {
	InstanceID string
	Suspended  bool
}

func (c *SetSuspended) CommandName() string {
	if c.Suspended {
		return "suspend"
	}
	return "resume"
}

func (c *SetSuspended) Execute(ctx context.Context, cc *Context) (interface{}, error) {
	return nil, cc.Interpreter().SetSuspended(ctx, c.InstanceID, c.Suspended)
}

// Definition returns a deployed definition or an *UnknownDefinition.
func (cc *Context) Definition(id string) (*graph.Definition, error) {
	d, have := cc.x.Definitions.Get(id)
	if !have {
		return nil, &core.UnknownDefinition{ID: id}
	}
	return d, nil
}

// Instance returns the current state of an instance's executions.
func (cc *Context) Instance(ctx context.Context, instanceID string) ([]storage.Execution, error) {
	if err := cc.Tree.LoadInstance(ctx, instanceID); err != nil {
		return nil, err
	}
	es := cc.Tree.Instance(instanceID)
	acc := make([]storage.Execution, len(es))
	for i, e := range es {
		acc[i] = e.Record()
	}
	return acc, nil
}
